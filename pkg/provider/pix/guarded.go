package pix

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/amirasaad/pixflow/pkg/circuitbreaker"
	"github.com/amirasaad/pixflow/pkg/domain"
	"github.com/amirasaad/pixflow/pkg/metrics"
	"golang.org/x/time/rate"
)

// GuardConfig configures NewGuarded. Zero values disable the matching guard.
type GuardConfig struct {
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
	Breaker       *circuitbreaker.Breaker
	Logger        *slog.Logger
}

// guarded wraps a Gateway with a per-call deadline, a token bucket and a
// circuit breaker. Only transient failures count against the breaker.
type guarded struct {
	next    Gateway
	timeout time.Duration
	limiter *rate.Limiter
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger
}

// NewGuarded returns next protected by the configured guards.
func NewGuarded(next Gateway, cfg GuardConfig) Gateway {
	g := &guarded{
		next:    next,
		timeout: cfg.Timeout,
		breaker: cfg.Breaker,
		logger:  cfg.Logger,
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	g.logger = g.logger.With("component", "pix-gateway-guard")
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return g
}

func call[T any](ctx context.Context, g *guarded, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if g.breaker != nil {
		if err := g.breaker.Allow(); err != nil {
			metrics.GatewayRequestsTotal.WithLabelValues(op, "rejected").Inc()
			g.logger.Warn("gateway call rejected", "operation", op, "error", err)
			return zero, &GatewayError{Op: op, Message: "circuit open", Transient: true, Err: err}
		}
	}
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			metrics.GatewayRequestsTotal.WithLabelValues(op, "rate_limited").Inc()
			return zero, &GatewayError{Op: op, Message: "rate limit wait", Transient: true, Err: err}
		}
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := fn(ctx)
	metrics.GatewayRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, domain.ErrGatewayUnavailable) {
		err = &GatewayError{Op: op, Message: "timeout", Transient: true, Err: err}
	}
	g.record(op, err)
	return res, err
}

func (g *guarded) record(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.GatewayRequestsTotal.WithLabelValues(op, outcome).Inc()
	if g.breaker == nil {
		return
	}
	if err != nil && IsTransient(err) {
		g.breaker.Failure()
	} else {
		g.breaker.Success()
	}
	metrics.GatewayBreakerState.Set(float64(g.breaker.State()))
}

func (g *guarded) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	return call(ctx, g, "create_charge", func(ctx context.Context) (*Charge, error) {
		return g.next.CreateCharge(ctx, req)
	})
}

func (g *guarded) GetCharge(ctx context.Context, txid string) (*ChargeStatus, error) {
	return call(ctx, g, "get_charge", func(ctx context.Context) (*ChargeStatus, error) {
		return g.next.GetCharge(ctx, txid)
	})
}

func (g *guarded) ListCharges(ctx context.Context, params ListChargesParams) ([]ChargeStatus, error) {
	return call(ctx, g, "list_charges", func(ctx context.Context) ([]ChargeStatus, error) {
		return g.next.ListCharges(ctx, params)
	})
}

func (g *guarded) CancelCharge(ctx context.Context, txid string) (*ChargeStatus, error) {
	return call(ctx, g, "cancel_charge", func(ctx context.Context) (*ChargeStatus, error) {
		return g.next.CancelCharge(ctx, txid)
	})
}

func (g *guarded) GetTransfer(ctx context.Context, id string) (*Transfer, error) {
	return call(ctx, g, "get_transfer", func(ctx context.Context) (*Transfer, error) {
		return g.next.GetTransfer(ctx, id)
	})
}

func (g *guarded) ListReceived(ctx context.Context, params ListReceivedParams) ([]ReceivedPix, error) {
	return call(ctx, g, "list_received", func(ctx context.Context) ([]ReceivedPix, error) {
		return g.next.ListReceived(ctx, params)
	})
}

func (g *guarded) SendTransfer(ctx context.Context, req TransferRequest) (*Transfer, error) {
	return call(ctx, g, "send_transfer", func(ctx context.Context) (*Transfer, error) {
		return g.next.SendTransfer(ctx, req)
	})
}

func (g *guarded) RefundTransaction(ctx context.Context, req RefundRequest) (*Refund, error) {
	return call(ctx, g, "refund", func(ctx context.Context) (*Refund, error) {
		return g.next.RefundTransaction(ctx, req)
	})
}

func (g *guarded) GenerateQRCode(ctx context.Context, txid string) (*QRCode, error) {
	return call(ctx, g, "qrcode", func(ctx context.Context) (*QRCode, error) {
		return g.next.GenerateQRCode(ctx, txid)
	})
}

func (g *guarded) HealthCheck(ctx context.Context) error {
	_, err := call(ctx, g, "health", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.next.HealthCheck(ctx)
	})
	return err
}
