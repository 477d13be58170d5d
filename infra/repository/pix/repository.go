package pixrepo

import (
	"context"
	"strings"
	"time"

	"github.com/amirasaad/pixflow/pkg/domain/pix"
	repo "github.com/amirasaad/pixflow/pkg/repository/pix"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const markExpiredSQL = `UPDATE pix_transactions
SET status = ?, updated_at = ?
WHERE status = ? AND id IN (
	SELECT id FROM pix_transactions
	WHERE status = ? AND expires_at IS NOT NULL AND expires_at < ?
	ORDER BY expires_at
	LIMIT ?
	FOR UPDATE SKIP LOCKED
)
RETURNING id, txid, owner_id, amount`

type repository struct {
	db *gorm.DB
}

// New creates a Pix transaction repository backed by the provided *gorm.DB.
func New(db *gorm.DB) repo.Repository {
	return &repository{db: db}
}

// Create implements pix.Repository.
func (r *repository) Create(ctx context.Context, tx *pix.Transaction) error {
	m, err := toModel(tx)
	if err != nil {
		return err
	}
	return WrapError(func() error {
		return r.db.WithContext(ctx).Create(m).Error
	})
}

// FindByID implements pix.Repository.
func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*pix.Transaction, error) {
	return r.first(ctx, "id = ?", id)
}

// FindByTxid implements pix.Repository.
func (r *repository) FindByTxid(ctx context.Context, txid string) (*pix.Transaction, error) {
	return r.first(ctx, "txid = ?", txid)
}

// FindByEndToEndID implements pix.Repository.
func (r *repository) FindByEndToEndID(ctx context.Context, e2eID string) (*pix.Transaction, error) {
	return r.first(ctx, "end_to_end_id = ?", e2eID)
}

func (r *repository) first(ctx context.Context, query string, arg any) (*pix.Transaction, error) {
	var m Transaction
	if err := WrapError(func() error {
		return r.db.WithContext(ctx).Where(query, arg).First(&m).Error
	}); err != nil {
		return nil, err
	}
	return toDomain(&m), nil
}

// FindWithFilters implements pix.Repository.
func (r *repository) FindWithFilters(
	ctx context.Context,
	f repo.Filter,
) ([]*pix.Transaction, int64, error) {
	var total int64
	if err := WrapError(func() error {
		return applyFilter(r.db.WithContext(ctx).Model(&Transaction{}), f).Count(&total).Error
	}); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	var rows []Transaction
	if err := WrapError(func() error {
		return applyFilter(r.db.WithContext(ctx), f).
			Order("created_at DESC").
			Limit(limit).
			Offset(f.Offset).
			Find(&rows).Error
	}); err != nil {
		return nil, 0, err
	}

	result := make([]*pix.Transaction, 0, len(rows))
	for i := range rows {
		result = append(result, toDomain(&rows[i]))
	}
	return result, total, nil
}

func applyFilter(q *gorm.DB, f repo.Filter) *gorm.DB {
	if f.OwnerID != "" {
		q = q.Where("owner_id = ?", f.OwnerID)
	}
	if f.SubjectID != "" {
		q = q.Where("subject_id = ?", f.SubjectID)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, 0, len(f.Statuses))
		for _, st := range f.Statuses {
			statuses = append(statuses, string(st))
		}
		q = q.Where("status IN ?", statuses)
	}
	if len(f.Types) > 0 {
		types := make([]string, 0, len(f.Types))
		for _, t := range f.Types {
			types = append(types, string(t))
		}
		q = q.Where("type IN ?", types)
	}
	if f.StartDate != nil {
		q = q.Where("created_at >= ?", *f.StartDate)
	}
	if f.EndDate != nil {
		q = q.Where("created_at <= ?", *f.EndDate)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		like := "%" + s + "%"
		q = q.Where(
			"(description ILIKE ? OR counterparty_key ILIKE ? OR payer->>'name' ILIKE ?)",
			like, like, like,
		)
	}
	return q
}

// ConditionalUpdateStatus implements pix.Repository.
func (r *repository) ConditionalUpdateStatus(
	ctx context.Context,
	id uuid.UUID,
	expected, next pix.Status,
	changes repo.Changes,
) (bool, error) {
	updates := map[string]any{
		"status":     string(next),
		"updated_at": time.Now().UTC(),
	}
	if changes.PaidAt != nil {
		updates["paid_at"] = *changes.PaidAt
	}
	if changes.EndToEndID != "" {
		updates["end_to_end_id"] = changes.EndToEndID
	}
	if changes.RefundRef != "" {
		updates["refund_ref"] = changes.RefundRef
	}
	if len(changes.GatewayRaw) > 0 {
		updates["gateway_raw"] = string(changes.GatewayRaw)
	}

	var affected int64
	err := WrapError(func() error {
		res := r.db.WithContext(ctx).
			Model(&Transaction{}).
			Where("id = ? AND status = ?", id, string(expected)).
			Updates(updates)
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

type expiredRow struct {
	ID      uuid.UUID
	Txid    string
	OwnerID string
	Amount  int64
}

// MarkExpiredBatch implements pix.Repository.
func (r *repository) MarkExpiredBatch(ctx context.Context, now time.Time, limit int) ([]repo.Expired, error) {
	var rows []expiredRow
	if err := WrapError(func() error {
		return r.db.WithContext(ctx).Raw(
			markExpiredSQL,
			string(pix.StatusExpired), now,
			string(pix.StatusPending),
			string(pix.StatusPending), now,
			limit,
		).Scan(&rows).Error
	}); err != nil {
		return nil, err
	}
	expired := make([]repo.Expired, 0, len(rows))
	for _, row := range rows {
		expired = append(expired, repo.Expired(row))
	}
	return expired, nil
}

type statusRow struct {
	Status string
	Count  int64
	Total  int64
}

// Stats implements pix.Repository.
func (r *repository) Stats(ctx context.Context, ownerID string) (*repo.Stats, error) {
	q := r.db.WithContext(ctx).Model(&Transaction{})
	if ownerID != "" {
		q = q.Where("owner_id = ?", ownerID)
	}
	var rows []statusRow
	if err := WrapError(func() error {
		return q.Select("status, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS total").
			Group("status").
			Scan(&rows).Error
	}); err != nil {
		return nil, err
	}

	stats := &repo.Stats{ByStatus: make(map[pix.Status]repo.StatusStats, len(pix.AllStatuses()))}
	for _, s := range pix.AllStatuses() {
		stats.ByStatus[s] = repo.StatusStats{}
	}
	for _, row := range rows {
		stats.ByStatus[pix.Status(row.Status)] = repo.StatusStats{Count: row.Count, TotalAmount: row.Total}
		stats.Count += row.Count
		stats.TotalAmount += row.Total
	}
	return stats, nil
}

// FindPendingForSync implements pix.Repository.
func (r *repository) FindPendingForSync(ctx context.Context, limit int) ([]*pix.Transaction, error) {
	var rows []Transaction
	if err := WrapError(func() error {
		return r.db.WithContext(ctx).
			Where("status = ? AND type IN ? AND origin = ?",
				string(pix.StatusPending),
				[]string{string(pix.TypeCharge), string(pix.TypeSend)},
				string(pix.OriginGateway)).
			Order("created_at ASC").
			Limit(limit).
			Find(&rows).Error
	}); err != nil {
		return nil, err
	}
	result := make([]*pix.Transaction, 0, len(rows))
	for i := range rows {
		result = append(result, toDomain(&rows[i]))
	}
	return result, nil
}
