// Package webhook receives gateway push notifications and forwards them to
// the reconciliation service.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/amirasaad/pixflow/pkg/config"
	"github.com/amirasaad/pixflow/pkg/domain"
	"github.com/amirasaad/pixflow/pkg/domain/pix"
	"github.com/amirasaad/pixflow/pkg/metrics"
	pixsvc "github.com/amirasaad/pixflow/pkg/service/pix"
	"github.com/amirasaad/pixflow/webapi/common"
	"github.com/gofiber/fiber/v2"
)

const (
	Path = "/api/v1/webhooks/pix"

	TokenHeader = "X-Webhook-Token"

	outcomeUnknownTxid = "unknown_txid"
	outcomeSkipped     = "skipped"
)

// Processor applies one notification.
type Processor interface {
	ProcessWebhook(ctx context.Context, n pixsvc.Notification) (pixsvc.Outcome, error)
}

// Routes registers the webhook and the alias the gateway calls after
// appending "/pix" to the registered URL.
func Routes(app fiber.Router, svc Processor, cfg *config.Webhook, logger *slog.Logger) {
	h := Handler(svc, cfg, logger)
	app.Post(Path, h)
	app.Post(Path+"/pix", h)
}

// Handler validates a delivery and applies every notification in it.
// Well-formed deliveries are acknowledged with 200 even when the txid or the
// status is unknown; only structural problems get a 400.
func Handler(svc Processor, cfg *config.Webhook, logger *slog.Logger) fiber.Handler {
	if cfg == nil {
		cfg = &config.Webhook{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "pix-webhook")
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return func(c *fiber.Ctx) error {
		if !authorized(c, cfg) {
			metrics.WebhookRequestsTotal.WithLabelValues("unauthorized").Inc()
			logger.Warn("webhook rejected: bad credentials", "ip", c.IP())
			return common.ProblemDetailsJSON(c, "Unauthorized", domain.ErrUnauthorized, fiber.StatusUnauthorized)
		}

		raw := append([]byte(nil), c.Body()...)
		notes, err := decode(raw)
		if err != nil {
			metrics.WebhookRequestsTotal.WithLabelValues("invalid").Inc()
			logger.Warn("webhook rejected: invalid payload", "error", err, "body", truncate(raw, 512))
			return common.ProblemDetailsJSON(c, "Invalid webhook payload", err, fiber.StatusBadRequest)
		}
		if len(notes) == 0 {
			metrics.WebhookRequestsTotal.WithLabelValues("ping").Inc()
			logger.Info("webhook ping acknowledged")
			return c.JSON(Response{Results: []Result{}})
		}

		ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
		defer cancel()

		resp := Response{Received: len(notes), Results: make([]Result, 0, len(notes))}
		for _, n := range notes {
			if n.Txid == "" {
				logger.Info("webhook payment without txid ignored", "end_to_end_id", n.EndToEndID)
				resp.Results = append(resp.Results, Result{Outcome: outcomeSkipped})
				continue
			}
			outcome, err := svc.ProcessWebhook(ctx, n)
			switch {
			case errors.Is(err, domain.ErrNotFound):
				resp.Results = append(resp.Results, Result{Txid: n.Txid, Outcome: outcomeUnknownTxid})
			case err != nil:
				metrics.WebhookRequestsTotal.WithLabelValues("error").Inc()
				logger.Error("webhook processing failed", "txid", n.Txid, "error", err)
				if errors.Is(err, context.DeadlineExceeded) {
					err = fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
				}
				return common.ProblemDetailsJSON(c, "Webhook processing failed", err)
			default:
				resp.Results = append(resp.Results, Result{Txid: n.Txid, Outcome: string(outcome)})
			}
		}
		metrics.WebhookRequestsTotal.WithLabelValues("processed").Inc()
		return c.JSON(resp)
	}
}

func authorized(c *fiber.Ctx, cfg *config.Webhook) bool {
	if cfg.Token != "" && !equal(c.Get(TokenHeader), cfg.Token) {
		return false
	}
	if cfg.HMAC != "" && !equal(c.Query("hmac"), cfg.HMAC) {
		return false
	}
	return true
}

func equal(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// decode accepts the flat notification, the {"pix": [...]} envelope and the
// gateway's registration ping, which yields no notifications.
func decode(raw []byte) ([]pixsvc.Notification, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, domain.NewValidationError("body", err.Error())
	}

	if env.Pix != nil {
		out := make([]pixsvc.Notification, 0, len(env.Pix))
		for i, p := range env.Pix {
			if err := common.ValidateStruct(p); err != nil {
				return nil, domain.NewValidationError(fmt.Sprintf("pix[%d]", i), err.Error())
			}
			n, err := entryNotification(p)
			if err != nil {
				return nil, domain.NewValidationError(fmt.Sprintf("pix[%d]", i), err.Error())
			}
			out = append(out, n)
		}
		return out, nil
	}

	if env.Evento != "" && env.Txid == "" {
		return nil, nil
	}

	req := env.NotificationRequest
	if err := common.ValidateStruct(req); err != nil {
		return nil, domain.NewValidationError("body", err.Error())
	}
	cents, err := req.Valor.Cents()
	if err != nil {
		return nil, domain.NewValidationError("valor", err.Error())
	}
	at, err := parseTime(req.Horario)
	if err != nil {
		return nil, domain.NewValidationError("horario", err.Error())
	}
	return []pixsvc.Notification{{
		Txid:       req.Txid,
		Status:     req.Status,
		EndToEndID: req.EndToEndID,
		Amount:     cents,
		PaidAt:     &at,
		Raw:        raw,
	}}, nil
}

func entryNotification(p PixEntry) (pixsvc.Notification, error) {
	cents, err := p.Valor.Cents()
	if err != nil {
		return pixsvc.Notification{}, err
	}
	at, err := parseTime(p.Horario)
	if err != nil {
		return pixsvc.Notification{}, err
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return pixsvc.Notification{}, err
	}
	return pixsvc.Notification{
		Txid:       p.Txid,
		Status:     pix.ExternalConcluded,
		EndToEndID: p.EndToEndID,
		Amount:     cents,
		PaidAt:     &at,
		Raw:        raw,
	}, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
