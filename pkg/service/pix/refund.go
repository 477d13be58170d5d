package pixsvc

import (
	"context"
	"fmt"
	"strings"

	"github.com/amirasaad/pixflow/pkg/domain"
	"github.com/amirasaad/pixflow/pkg/domain/pix"
	provider "github.com/amirasaad/pixflow/pkg/provider/pix"
	repo "github.com/amirasaad/pixflow/pkg/repository/pix"
	"github.com/google/uuid"
)

// RefundInput refunds a paid charge. A zero Amount refunds the full value.
type RefundInput struct {
	TransactionID uuid.UUID
	Amount        int64
	Description   string
	// OwnerID, when set, must own the transaction.
	OwnerID string
}

// RefundCharge refunds a PAID charge through the gateway and moves it to
// REFUNDED. Unlike reconciliation, a refund from any other state is an error.
func (s *Service) RefundCharge(ctx context.Context, in RefundInput) (*pix.Transaction, error) {
	tx, err := s.GetTransaction(ctx, in.TransactionID, in.OwnerID)
	if err != nil {
		return nil, err
	}
	if err := tx.Refundable(); err != nil {
		return nil, err
	}

	amount := in.Amount
	if amount == 0 {
		amount = tx.Amount
	}
	if amount < 0 || amount > tx.Amount {
		return nil, domain.NewValidationError("amount", "must be positive and not exceed the paid amount")
	}

	endToEndID, err := s.endToEndID(ctx, tx)
	if err != nil {
		return nil, err
	}

	refundID := RefundID(tx)
	refund, err := s.gateway.RefundTransaction(ctx, provider.RefundRequest{
		EndToEndID:  endToEndID,
		RefundID:    refundID,
		Amount:      amount,
		Description: strings.TrimSpace(in.Description),
	})
	if err != nil {
		s.logger.Error("gateway refund failed", "txid", tx.Txid, "error", err)
		return nil, gatewayFailure(err)
	}

	ref := refund.RtrID
	if ref == "" {
		ref = refund.ID
	}
	if ref == "" {
		ref = refundID
	}
	changes := repo.Changes{RefundRef: ref, GatewayRaw: refund.Raw}
	if tx.EndToEndID == "" {
		changes.EndToEndID = endToEndID
	}
	applied, err := s.repo.ConditionalUpdateStatus(ctx, tx.ID, pix.StatusPaid, pix.StatusRefunded, changes)
	if err != nil {
		return nil, fmt.Errorf("record refund %s: %w", ref, err)
	}
	if !applied {
		current, err := s.repo.FindByID(ctx, tx.ID)
		if err != nil {
			return nil, err
		}
		// A concurrent call sent the same refund id, which the gateway
		// collapsed into this refund.
		if current.Status == pix.StatusRefunded && current.RefundRef == ref {
			return current, nil
		}
		s.logger.Error("refund accepted by gateway but record changed concurrently",
			"txid", tx.Txid, "refund_ref", ref, "status", current.Status)
		return nil, &pix.TransitionError{From: current.Status, To: pix.StatusRefunded, Reason: "already refunded"}
	}

	s.transitioned(ctx, tx, pix.StatusPaid, pix.StatusRefunded, pix.SourceRefund)
	tx.Status = pix.StatusRefunded
	tx.RefundRef = ref
	tx.EndToEndID = endToEndID
	tx.UpdatedAt = s.now()
	return tx, nil
}

// RefundID is the gateway refund id for tx. It is fixed per record so
// concurrent or retried refunds of one charge address the same refund.
func RefundID(tx *pix.Transaction) string {
	return strings.ReplaceAll(tx.ID.String(), "-", "")
}

// endToEndID returns the payment id a refund is addressed to. Records settled
// by a notification that carried none are looked up at the gateway.
func (s *Service) endToEndID(ctx context.Context, tx *pix.Transaction) (string, error) {
	if tx.EndToEndID != "" {
		return tx.EndToEndID, nil
	}
	status, err := s.gateway.GetCharge(ctx, tx.Txid)
	if err != nil {
		s.logger.Error("end-to-end id lookup failed", "txid", tx.Txid, "error", err)
		return "", gatewayFailure(err)
	}
	if status.EndToEndID == "" {
		return "", &pix.TransitionError{From: tx.Status, To: pix.StatusRefunded, Reason: "missing end-to-end id"}
	}
	return status.EndToEndID, nil
}
