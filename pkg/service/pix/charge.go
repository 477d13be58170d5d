package pixsvc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/amirasaad/pixflow/pkg/domain"
	"github.com/amirasaad/pixflow/pkg/domain/pix"
	"github.com/amirasaad/pixflow/pkg/metrics"
	provider "github.com/amirasaad/pixflow/pkg/provider/pix"
)

// CreateChargeInput describes a new incoming charge. Amount is in cents.
type CreateChargeInput struct {
	// Txid is optional; one is generated when empty.
	Txid        string
	Amount      int64
	Key         string
	Description string
	Payer       *pix.Party
	OwnerID     string
	SubjectID   string
}

// CreateCharge asks the gateway for a charge and persists it as PENDING.
// Gateway failures never produce a local record.
func (s *Service) CreateCharge(ctx context.Context, in CreateChargeInput) (*pix.Transaction, error) {
	if in.Amount <= 0 {
		return nil, domain.NewValidationError("amount", "must be positive")
	}
	key := strings.TrimSpace(in.Key)
	if key == "" {
		key = s.cfg.PixKey
	}
	if key == "" {
		return nil, domain.NewValidationError("key", "is required")
	}

	txid := in.Txid
	if txid == "" {
		txid = s.newTxid()
	} else if !pix.ValidTxid(txid) {
		return nil, domain.NewValidationError("txid", "must be 26 to 35 alphanumeric characters")
	}

	tx, err := s.createCharge(ctx, txid, key, in)
	if !errors.Is(err, domain.ErrDuplicateTxid) || in.Txid != "" {
		return tx, err
	}

	s.logger.Warn("txid collision, retrying with a new txid", "txid", txid)
	return s.createCharge(ctx, s.newTxid(), key, in)
}

func (s *Service) createCharge(ctx context.Context, txid, key string, in CreateChargeInput) (*pix.Transaction, error) {
	req := provider.ChargeRequest{
		Txid:        txid,
		Amount:      in.Amount,
		Key:         key,
		Description: in.Description,
		Expiration:  s.cfg.ChargeTTL,
	}
	if in.Payer != nil {
		req.Debtor = &provider.Debtor{Name: in.Payer.Name, TaxID: in.Payer.TaxID}
	}

	charge, err := s.gateway.CreateCharge(ctx, req)
	if err != nil {
		s.logger.Error("gateway rejected charge", "txid", txid, "error", err)
		return nil, gatewayFailure(err)
	}
	if charge.Txid != "" {
		txid = charge.Txid
	}

	tx, err := pix.NewCharge(txid, in.Amount, key, s.now(), s.cfg.ChargeTTL)
	if err != nil {
		return nil, err
	}
	tx.Description = in.Description
	tx.Payer = in.Payer
	tx.OwnerID = in.OwnerID
	tx.SubjectID = in.SubjectID
	tx.QRPayload = charge.QRPayload
	tx.QRImageRef = charge.QRImageRef
	tx.GatewayRaw = charge.Raw
	tx.Origin = s.origin()

	if err := s.repo.Create(ctx, tx); err != nil {
		return nil, fmt.Errorf("persist charge %s: %w", txid, err)
	}

	metrics.ChargesCreatedTotal.Inc()
	s.logger.Info("charge created", "id", tx.ID, "txid", tx.Txid, "amount", tx.Amount, "origin", tx.Origin)
	s.emit(ctx, &pix.ChargeCreated{
		TransactionID: tx.ID,
		Txid:          tx.Txid,
		OwnerID:       tx.OwnerID,
		Amount:        tx.Amount,
		ExpiresAt:     tx.ExpiresAt,
		OccurredAt:    tx.CreatedAt,
	})
	return tx, nil
}
