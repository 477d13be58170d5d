// Package pixsvc reconciles local Pix transactions with the payment gateway.
//
// Three writers touch a record: charge creation, webhook delivery and the
// scheduled sync/expiry sweeps. They arrive in any order and may repeat, so
// every status change goes through the store's conditional update and a lost
// race is treated as success.
package pixsvc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/amirasaad/pixflow/pkg/domain"
	"github.com/amirasaad/pixflow/pkg/domain/pix"
	"github.com/amirasaad/pixflow/pkg/eventbus"
	provider "github.com/amirasaad/pixflow/pkg/provider/pix"
	repo "github.com/amirasaad/pixflow/pkg/repository/pix"
)

// Config tunes the service. Zero values fall back to the defaults.
type Config struct {
	ChargeTTL           time.Duration
	SyncBatch           int
	ExpireBatch         int
	ExpireMaxIterations int
	// ItemTimeout bounds the gateway lookup and update of one sync item.
	// Items run detached from the caller's cancellation.
	ItemTimeout time.Duration
	// PixKey is the receiving key used when a charge does not name one.
	PixKey string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ChargeTTL:           time.Hour,
		SyncBatch:           100,
		ExpireBatch:         100,
		ExpireMaxIterations: 50,
		ItemTimeout:         30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ChargeTTL <= 0 {
		c.ChargeTTL = d.ChargeTTL
	}
	if c.SyncBatch <= 0 {
		c.SyncBatch = d.SyncBatch
	}
	if c.ExpireBatch <= 0 {
		c.ExpireBatch = d.ExpireBatch
	}
	if c.ExpireMaxIterations <= 0 {
		c.ExpireMaxIterations = d.ExpireMaxIterations
	}
	if c.ItemTimeout <= 0 {
		c.ItemTimeout = d.ItemTimeout
	}
	return c
}

// Service is the reconciliation engine.
type Service struct {
	repo      repo.Repository
	gateway   provider.Gateway
	bus       eventbus.Bus
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
	newTxid   func() string
	simulated bool
}

// Option customises a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTxidGenerator replaces pix.NewTxid.
func WithTxidGenerator(gen func() string) Option {
	return func(s *Service) { s.newTxid = gen }
}

// WithSimulated tags every record this service creates as simulated.
func WithSimulated() Option {
	return func(s *Service) { s.simulated = true }
}

// simulator is implemented by test-mode gateways.
type simulator interface {
	Simulated() bool
}

// New creates a Service. A nil bus discards events.
func New(
	r repo.Repository,
	gw provider.Gateway,
	bus eventbus.Bus,
	logger *slog.Logger,
	cfg Config,
	opts ...Option,
) *Service {
	if bus == nil {
		bus = eventbus.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		repo:    r,
		gateway: gw,
		bus:     bus,
		cfg:     cfg.withDefaults(),
		logger:  logger.With("component", "pix-service"),
		now:     func() time.Time { return time.Now().UTC() },
		newTxid: pix.NewTxid,
	}
	if sim, ok := gw.(simulator); ok && sim.Simulated() {
		s.simulated = true
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// gatewayFailure classifies a gateway error. Transient failures keep
// unwrapping to domain.ErrGatewayUnavailable; anything else is a refusal
// that retrying will not fix.
func gatewayFailure(err error) error {
	if provider.IsTransient(err) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrGatewayRejected, err)
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.cfg }

func (s *Service) origin() pix.Origin {
	if s.simulated {
		return pix.OriginSimulated
	}
	return pix.OriginGateway
}

func (s *Service) emit(ctx context.Context, event eventbus.Event) {
	if err := s.bus.Emit(ctx, event); err != nil {
		s.logger.Warn("failed to emit event", "type", event.Type(), "error", err)
	}
}

// EventRegistry lists the events this service emits, for transports that
// must decode them.
func EventRegistry() eventbus.Registry {
	return eventbus.Registry{
		pix.EventTypeStatusChanged: func() eventbus.Event { return &pix.StatusChanged{} },
		pix.EventTypeChargeCreated: func() eventbus.Event { return &pix.ChargeCreated{} },
	}
}
