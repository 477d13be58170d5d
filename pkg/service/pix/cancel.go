package pixsvc

import (
	"context"
	"fmt"

	"github.com/amirasaad/pixflow/pkg/domain/pix"
	repo "github.com/amirasaad/pixflow/pkg/repository/pix"
	"github.com/google/uuid"
)

// CancelCharge withdraws an open charge at the gateway and moves the record
// PENDING -> CANCELLED. Like a refund it is a user action, so a charge that is
// no longer pending is reported rather than ignored.
func (s *Service) CancelCharge(ctx context.Context, id uuid.UUID, ownerID string) (*pix.Transaction, error) {
	tx, err := s.GetTransaction(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	if err := tx.Cancellable(); err != nil {
		return nil, err
	}

	removed, err := s.gateway.CancelCharge(ctx, tx.Txid)
	if err != nil {
		s.logger.Error("gateway cancel failed", "txid", tx.Txid, "error", err)
		return nil, gatewayFailure(err)
	}

	applied, err := s.repo.ConditionalUpdateStatus(ctx, tx.ID, pix.StatusPending, pix.StatusCancelled,
		repo.Changes{GatewayRaw: removed.Raw})
	if err != nil {
		return nil, fmt.Errorf("record cancellation %s: %w", tx.Txid, err)
	}
	if !applied {
		current, err := s.repo.FindByID(ctx, tx.ID)
		if err != nil {
			return nil, err
		}
		if current.Status == pix.StatusCancelled {
			return current, nil
		}
		s.logger.Error("charge removed at gateway but record changed concurrently",
			"txid", tx.Txid, "status", current.Status)
		return nil, &pix.TransitionError{From: current.Status, To: pix.StatusCancelled, Reason: "charge is not pending"}
	}

	s.transitioned(ctx, tx, pix.StatusPending, pix.StatusCancelled, pix.SourceCancel)
	tx.Status = pix.StatusCancelled
	tx.GatewayRaw = removed.Raw
	tx.UpdatedAt = s.now()
	return tx, nil
}
