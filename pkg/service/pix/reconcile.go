package pixsvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/amirasaad/pixflow/pkg/domain"
	"github.com/amirasaad/pixflow/pkg/domain/pix"
	"github.com/amirasaad/pixflow/pkg/metrics"
	repo "github.com/amirasaad/pixflow/pkg/repository/pix"
)

// Notification is one status report pushed by the gateway.
type Notification struct {
	Txid       string
	Status     string
	EndToEndID string
	// Amount in cents, zero when the payload carried none.
	Amount int64
	PaidAt *time.Time
	Raw    json.RawMessage
}

// Outcome tells what a status report did to the local record.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeNoop      Outcome = "noop"
	OutcomeUnknown   Outcome = "unknown_status"
)

// ProcessWebhook applies a gateway notification. Unknown txids return
// domain.ErrNotFound; everything else that is well formed succeeds, including
// repeated, late and unknown-status deliveries.
func (s *Service) ProcessWebhook(ctx context.Context, n Notification) (Outcome, error) {
	tx, err := s.repo.FindByTxid(ctx, n.Txid)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("webhook for unknown txid", "txid", n.Txid, "status", n.Status)
		}
		return "", err
	}
	if n.Amount > 0 && n.Amount != tx.Amount {
		s.logger.Warn("webhook amount differs from charge", "txid", n.Txid, "expected", tx.Amount, "got", n.Amount)
	}
	return s.reconcile(ctx, tx, report{
		status:     n.Status,
		endToEndID: n.EndToEndID,
		paidAt:     n.PaidAt,
		raw:        n.Raw,
	}, pix.SourceWebhook)
}

type report struct {
	status     string
	endToEndID string
	paidAt     *time.Time
	raw        json.RawMessage
}

// reconcile moves tx to the status the gateway reported when the lifecycle
// allows it. Both webhook and sync land here.
func (s *Service) reconcile(ctx context.Context, tx *pix.Transaction, r report, source string) (Outcome, error) {
	next, err := pix.ParseExternalStatusFor(tx.Type, r.status)
	if err != nil {
		metrics.UnknownExternalStatusTotal.WithLabelValues(source).Inc()
		s.logger.Warn("unknown external status", "txid", tx.Txid, "status", r.status, "source", source)
		return OutcomeUnknown, nil
	}
	if next == tx.Status {
		return OutcomeUnchanged, nil
	}
	if !pix.CanTransition(tx.Status, next) {
		metrics.TransitionNoopsTotal.WithLabelValues(source).Inc()
		s.logger.Info("ignoring transition not allowed by lifecycle",
			"txid", tx.Txid, "from", tx.Status, "to", next, "source", source)
		return OutcomeNoop, nil
	}

	changes := repo.Changes{EndToEndID: r.endToEndID, GatewayRaw: r.raw}
	if next == pix.StatusPaid {
		paidAt := s.now()
		if r.paidAt != nil {
			paidAt = r.paidAt.UTC()
		}
		changes.PaidAt = &paidAt
	}

	applied, err := s.repo.ConditionalUpdateStatus(ctx, tx.ID, tx.Status, next, changes)
	if err != nil {
		return "", fmt.Errorf("update %s to %s: %w", tx.Txid, next, err)
	}
	if !applied {
		metrics.TransitionNoopsTotal.WithLabelValues(source).Inc()
		s.logger.Info("record moved by another writer", "txid", tx.Txid, "expected", tx.Status, "to", next, "source", source)
		return OutcomeNoop, nil
	}

	s.transitioned(ctx, tx, tx.Status, next, source)
	return OutcomeApplied, nil
}

func (s *Service) transitioned(ctx context.Context, tx *pix.Transaction, from, to pix.Status, source string) {
	metrics.TransitionsTotal.WithLabelValues(string(from), string(to), source).Inc()
	s.logger.Info("status changed", "id", tx.ID, "txid", tx.Txid, "from", from, "to", to, "source", source)
	s.emit(ctx, &pix.StatusChanged{
		TransactionID: tx.ID,
		Txid:          tx.Txid,
		OwnerID:       tx.OwnerID,
		From:          from,
		To:            to,
		Source:        source,
		Amount:        tx.Amount,
		OccurredAt:    s.now(),
	})
}

// SyncResult counts one sync run.
type SyncResult struct {
	Attempted int `json:"attempted"`
	Updated   int `json:"updated"`
	Failed    int `json:"failed"`
}

// Sync polls the gateway for pending charges and transfers and applies what
// it reports. Per-record failures are logged and counted; only a failed
// lookup of the batch itself or cancellation aborts the run. Cancellation is
// checked between records so an in-flight lookup and its update complete.
func (s *Service) Sync(ctx context.Context) (SyncResult, error) {
	var res SyncResult
	pending, err := s.repo.FindPendingForSync(ctx, s.cfg.SyncBatch)
	if err != nil {
		return res, fmt.Errorf("load pending records: %w", err)
	}

	for _, tx := range pending {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Attempted++

		outcome, err := s.syncOne(ctx, tx)
		switch {
		case err != nil:
			res.Failed++
			metrics.SyncRecordsTotal.WithLabelValues("failed").Inc()
		case outcome == OutcomeApplied:
			res.Updated++
			metrics.SyncRecordsTotal.WithLabelValues("updated").Inc()
		default:
			metrics.SyncRecordsTotal.WithLabelValues(string(outcome)).Inc()
		}
	}

	s.logger.Info("sync finished", "attempted", res.Attempted, "updated", res.Updated, "failed", res.Failed)
	return res, nil
}

func (s *Service) syncOne(parent context.Context, tx *pix.Transaction) (Outcome, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.cfg.ItemTimeout)
	defer cancel()

	r, err := s.lookup(ctx, tx)
	if err != nil {
		s.logger.Warn("sync: gateway lookup failed", "txid", tx.Txid, "type", tx.Type, "error", err)
		return "", err
	}
	outcome, err := s.reconcile(ctx, tx, r, pix.SourceSync)
	if err != nil {
		s.logger.Warn("sync: update failed", "txid", tx.Txid, "error", err)
	}
	return outcome, err
}

// lookup asks the gateway for the current state of tx.
func (s *Service) lookup(ctx context.Context, tx *pix.Transaction) (report, error) {
	if tx.Type == pix.TypeSend {
		t, err := s.gateway.GetTransfer(ctx, tx.Txid)
		if err != nil {
			return report{}, err
		}
		return report{status: t.Status, endToEndID: t.EndToEndID, raw: t.Raw}, nil
	}
	status, err := s.gateway.GetCharge(ctx, tx.Txid)
	if err != nil {
		return report{}, err
	}
	return report{
		status:     status.Status,
		endToEndID: status.EndToEndID,
		paidAt:     status.PaidAt,
		raw:        status.Raw,
	}, nil
}

// MarkExpired drains overdue PENDING charges in bounded batches until a batch
// comes back empty or the iteration cap is reached. Every expired record is
// announced with a StatusChanged event.
func (s *Service) MarkExpired(ctx context.Context) (int64, error) {
	var total int64
	for i := 0; i < s.cfg.ExpireMaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		expired, err := s.repo.MarkExpiredBatch(ctx, s.now(), s.cfg.ExpireBatch)
		if err != nil {
			return total, fmt.Errorf("expire batch: %w", err)
		}
		for _, e := range expired {
			s.transitioned(ctx, &pix.Transaction{ID: e.ID, Txid: e.Txid, OwnerID: e.OwnerID, Amount: e.Amount},
				pix.StatusPending, pix.StatusExpired, pix.SourceExpiry)
		}
		total += int64(len(expired))
		metrics.ExpiredTotal.Add(float64(len(expired)))
		if len(expired) == 0 {
			break
		}
		if i == s.cfg.ExpireMaxIterations-1 {
			s.logger.Warn("expiry sweep hit iteration cap", "iterations", s.cfg.ExpireMaxIterations, "expired", total)
		}
	}
	if total > 0 {
		s.logger.Info("expired pending charges", "count", total)
	}
	return total, nil
}
