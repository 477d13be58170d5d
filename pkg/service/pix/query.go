package pixsvc

import (
	"context"
	"time"

	"github.com/amirasaad/pixflow/pkg/domain"
	"github.com/amirasaad/pixflow/pkg/domain/pix"
	"github.com/amirasaad/pixflow/pkg/metrics"
	provider "github.com/amirasaad/pixflow/pkg/provider/pix"
	repo "github.com/amirasaad/pixflow/pkg/repository/pix"
	"github.com/google/uuid"
)

// GetTransaction loads a record. A non-empty ownerID must own it; otherwise
// the record is reported as missing.
func (s *Service) GetTransaction(ctx context.Context, id uuid.UUID, ownerID string) (*pix.Transaction, error) {
	tx, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !tx.OwnedBy(ownerID) {
		return nil, domain.ErrNotFound
	}
	return tx, nil
}

// GetByTxid loads a record by gateway txid with the same ownership rule.
func (s *Service) GetByTxid(ctx context.Context, txid, ownerID string) (*pix.Transaction, error) {
	tx, err := s.repo.FindByTxid(ctx, txid)
	if err != nil {
		return nil, err
	}
	if !tx.OwnedBy(ownerID) {
		return nil, domain.ErrNotFound
	}
	return tx, nil
}

// List pages through the ledger.
func (s *Service) List(ctx context.Context, f repo.Filter) ([]*pix.Transaction, int64, error) {
	return s.repo.FindWithFilters(ctx, f)
}

// Stats aggregates per status, for one owner when ownerID is set.
func (s *Service) Stats(ctx context.Context, ownerID string) (*repo.Stats, error) {
	return s.repo.Stats(ctx, ownerID)
}

// QRCode returns the stored QR for a charge, asking the gateway when the
// record has none.
func (s *Service) QRCode(ctx context.Context, id uuid.UUID, ownerID string) (*provider.QRCode, error) {
	tx, err := s.GetTransaction(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	if tx.Type != pix.TypeCharge {
		return nil, domain.NewValidationError("id", "transaction is not a charge")
	}
	if tx.QRPayload != "" {
		return &provider.QRCode{Payload: tx.QRPayload, ImageRef: tx.QRImageRef}, nil
	}
	return s.gateway.GenerateQRCode(ctx, tx.Txid)
}

// GatewayStatus is the answer of a health probe.
type GatewayStatus struct {
	Online    bool      `json:"online"`
	Simulated bool      `json:"simulated"`
	CheckedAt time.Time `json:"checkedAt"`
	Error     string    `json:"error,omitempty"`
}

// HealthCheck probes the gateway.
func (s *Service) HealthCheck(ctx context.Context) GatewayStatus {
	st := GatewayStatus{Simulated: s.simulated, CheckedAt: s.now()}
	if err := s.gateway.HealthCheck(ctx); err != nil {
		st.Error = err.Error()
		metrics.GatewayOnline.Set(0)
		return st
	}
	st.Online = true
	metrics.GatewayOnline.Set(1)
	return st
}

// GatewayCharge returns the gateway's live view of a local charge.
func (s *Service) GatewayCharge(ctx context.Context, id uuid.UUID, ownerID string) (*provider.ChargeStatus, error) {
	tx, err := s.GetTransaction(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	if tx.Type != pix.TypeCharge {
		return nil, domain.NewValidationError("id", "transaction is not a charge")
	}
	cs, err := s.gateway.GetCharge(ctx, tx.Txid)
	if err != nil {
		return nil, gatewayFailure(err)
	}
	return cs, nil
}

// maxGatewayWindow bounds gateway listings; the gateway rejects wider ranges.
const maxGatewayWindow = 31 * 24 * time.Hour

func (s *Service) window(start, end time.Time) (time.Time, time.Time, error) {
	if end.IsZero() {
		end = s.now()
	}
	if start.IsZero() {
		start = end.Add(-24 * time.Hour)
	}
	if !start.Before(end) {
		return start, end, domain.NewValidationError("startDate", "must be before endDate")
	}
	if end.Sub(start) > maxGatewayWindow {
		return start, end, domain.NewValidationError("startDate", "window must not exceed 31 days")
	}
	return start, end, nil
}

// GatewayCharges lists charges as the gateway sees them. Zero bounds default
// to the last 24 hours.
func (s *Service) GatewayCharges(ctx context.Context, params provider.ListChargesParams) ([]provider.ChargeStatus, error) {
	var err error
	if params.Start, params.End, err = s.window(params.Start, params.End); err != nil {
		return nil, err
	}
	list, err := s.gateway.ListCharges(ctx, params)
	if err != nil {
		return nil, gatewayFailure(err)
	}
	return list, nil
}

// ReceivedPix lists payments credited to the account, with the same window
// defaults as GatewayCharges.
func (s *Service) ReceivedPix(ctx context.Context, params provider.ListReceivedParams) ([]provider.ReceivedPix, error) {
	var err error
	if params.Start, params.End, err = s.window(params.Start, params.End); err != nil {
		return nil, err
	}
	list, err := s.gateway.ListReceived(ctx, params)
	if err != nil {
		return nil, gatewayFailure(err)
	}
	return list, nil
}
