// Package pix holds the event bus handlers for Pix lifecycle events.
package pix

import (
	"context"
	"log/slog"

	"github.com/amirasaad/pixflow/pkg/domain/pix"
	"github.com/amirasaad/pixflow/pkg/eventbus"
)

// TransitionKey identifies one applied transition. A record reaches each
// status at most once, so the pair is unique.
func TransitionKey(e eventbus.Event) string {
	sc, ok := e.(*pix.StatusChanged)
	if !ok {
		return ""
	}
	return sc.TransactionID.String() + ":" + string(sc.To)
}

// ChargeKey identifies a created charge.
func ChargeKey(e eventbus.Event) string {
	cc, ok := e.(*pix.ChargeCreated)
	if !ok {
		return ""
	}
	return cc.TransactionID.String()
}

// HandleStatusChanged writes the audit line for an applied transition.
func HandleStatusChanged(logger *slog.Logger) eventbus.HandlerFunc {
	return func(_ context.Context, e eventbus.Event) error {
		sc, ok := e.(*pix.StatusChanged)
		if !ok {
			logger.Error("Skipping unexpected event type", "event_type", e.Type())
			return nil
		}
		logger.Info("Pix transaction transitioned",
			"transaction_id", sc.TransactionID,
			"txid", sc.Txid,
			"owner_id", sc.OwnerID,
			"from", sc.From,
			"to", sc.To,
			"source", sc.Source,
			"amount", sc.Amount,
			"occurred_at", sc.OccurredAt,
		)
		return nil
	}
}

// HandleChargeCreated writes the audit line for a new charge.
func HandleChargeCreated(logger *slog.Logger) eventbus.HandlerFunc {
	return func(_ context.Context, e eventbus.Event) error {
		cc, ok := e.(*pix.ChargeCreated)
		if !ok {
			logger.Error("Skipping unexpected event type", "event_type", e.Type())
			return nil
		}
		logger.Info("Pix charge created",
			"transaction_id", cc.TransactionID,
			"txid", cc.Txid,
			"owner_id", cc.OwnerID,
			"amount", cc.Amount,
			"expires_at", cc.ExpiresAt,
		)
		return nil
	}
}

// Register subscribes the audit handlers to bus, deduplicating redeliveries.
func Register(bus eventbus.Bus, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "pix-audit")
	tracker := NewIdempotencyTracker()
	bus.Register(pix.EventTypeStatusChanged, WithIdempotency(
		HandleStatusChanged(logger), tracker, TransitionKey, "pix.HandleStatusChanged", logger))
	bus.Register(pix.EventTypeChargeCreated, WithIdempotency(
		HandleChargeCreated(logger), tracker, ChargeKey, "pix.HandleChargeCreated", logger))
}
