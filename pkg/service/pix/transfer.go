package pixsvc

import (
	"context"
	"fmt"
	"strings"

	"github.com/amirasaad/pixflow/pkg/domain"
	"github.com/amirasaad/pixflow/pkg/domain/pix"
	provider "github.com/amirasaad/pixflow/pkg/provider/pix"
	"github.com/google/uuid"
)

// SendInput is an outgoing transfer to a Pix key. Amount is in cents.
type SendInput struct {
	Amount      int64
	PayeeKey    string
	Description string
	Payee       *pix.Party
	OwnerID     string
	SubjectID   string
}

// SendTransfer sends money and records the transfer as a SEND. The record
// starts in the status the gateway answered with, PENDING while the transfer
// is still processing; Sync settles it later.
func (s *Service) SendTransfer(ctx context.Context, in SendInput) (*pix.Transaction, error) {
	if in.Amount <= 0 {
		return nil, domain.NewValidationError("amount", "must be positive")
	}
	payee := strings.TrimSpace(in.PayeeKey)
	if payee == "" {
		return nil, domain.NewValidationError("payeeKey", "is required")
	}

	id := s.newTxid()
	transfer, err := s.gateway.SendTransfer(ctx, provider.TransferRequest{
		ID:          id,
		Amount:      in.Amount,
		PayerKey:    s.cfg.PixKey,
		PayeeKey:    payee,
		Description: in.Description,
	})
	if err != nil {
		s.logger.Error("gateway transfer failed", "id", id, "error", err)
		return nil, gatewayFailure(err)
	}

	status := pix.StatusPending
	if es := pix.MapExternalStatusFor(pix.TypeSend, transfer.Status); es.Known {
		status = es.Status
	} else if transfer.Status != "" {
		s.logger.Warn("unknown transfer status, keeping pending", "id", id, "status", transfer.Status)
	}

	now := s.now()
	tx := &pix.Transaction{
		ID:              uuid.New(),
		Txid:            transfer.ID,
		Type:            pix.TypeSend,
		Status:          status,
		Amount:          in.Amount,
		CounterpartyKey: payee,
		Description:     in.Description,
		Payee:           in.Payee,
		EndToEndID:      transfer.EndToEndID,
		OwnerID:         in.OwnerID,
		SubjectID:       in.SubjectID,
		GatewayRaw:      transfer.Raw,
		Origin:          s.origin(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if tx.Txid == "" {
		tx.Txid = id
	}
	if status == pix.StatusPaid {
		tx.PaidAt = &now
	}
	if err := s.repo.Create(ctx, tx); err != nil {
		return nil, fmt.Errorf("persist transfer %s: %w", tx.Txid, err)
	}
	s.logger.Info("transfer sent", "id", tx.ID, "txid", tx.Txid, "amount", tx.Amount, "status", transfer.Status)
	return tx, nil
}
