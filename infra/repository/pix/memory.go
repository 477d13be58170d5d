package pixrepo

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/amirasaad/pixflow/pkg/domain"
	"github.com/amirasaad/pixflow/pkg/domain/pix"
	repo "github.com/amirasaad/pixflow/pkg/repository/pix"
	"github.com/google/uuid"
)

// MemoryRepository is an in-process repository. Every method holds a single
// mutex so conditional updates are atomic in the same way as the SQL ones.
type MemoryRepository struct {
	mu     sync.Mutex
	byID   map[uuid.UUID]*pix.Transaction
	byTxid map[string]uuid.UUID
	now    func() time.Time
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryRepository {
	return &MemoryRepository{
		byID:   make(map[uuid.UUID]*pix.Transaction),
		byTxid: make(map[string]uuid.UUID),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

var _ repo.Repository = (*MemoryRepository)(nil)

func clone(tx *pix.Transaction) *pix.Transaction {
	c := *tx
	if tx.Payer != nil {
		p := *tx.Payer
		c.Payer = &p
	}
	if tx.Payee != nil {
		p := *tx.Payee
		c.Payee = &p
	}
	if tx.PaidAt != nil {
		t := *tx.PaidAt
		c.PaidAt = &t
	}
	if tx.ExpiresAt != nil {
		t := *tx.ExpiresAt
		c.ExpiresAt = &t
	}
	c.GatewayRaw = slices.Clone(tx.GatewayRaw)
	return &c
}

// Create implements pix.Repository.
func (m *MemoryRepository) Create(ctx context.Context, tx *pix.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byTxid[tx.Txid]; ok {
		return domain.ErrDuplicateTxid
	}
	if _, ok := m.byID[tx.ID]; ok {
		return domain.ErrAlreadyExists
	}
	stored := clone(tx)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = m.now()
	}
	stored.UpdatedAt = stored.CreatedAt
	m.byID[tx.ID] = stored
	m.byTxid[tx.Txid] = tx.ID
	return nil
}

// FindByID implements pix.Repository.
func (m *MemoryRepository) FindByID(ctx context.Context, id uuid.UUID) (*pix.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clone(tx), nil
}

// FindByTxid implements pix.Repository.
func (m *MemoryRepository) FindByTxid(ctx context.Context, txid string) (*pix.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byTxid[txid]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clone(m.byID[id]), nil
}

// FindByEndToEndID implements pix.Repository.
func (m *MemoryRepository) FindByEndToEndID(ctx context.Context, e2eID string) (*pix.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range m.byID {
		if e2eID != "" && tx.EndToEndID == e2eID {
			return clone(tx), nil
		}
	}
	return nil, domain.ErrNotFound
}

func matches(tx *pix.Transaction, f repo.Filter) bool {
	if f.OwnerID != "" && tx.OwnerID != f.OwnerID {
		return false
	}
	if f.SubjectID != "" && tx.SubjectID != f.SubjectID {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, tx.Status) {
		return false
	}
	if len(f.Types) > 0 && !slices.Contains(f.Types, tx.Type) {
		return false
	}
	if f.StartDate != nil && tx.CreatedAt.Before(*f.StartDate) {
		return false
	}
	if f.EndDate != nil && tx.CreatedAt.After(*f.EndDate) {
		return false
	}
	if s := strings.ToLower(strings.TrimSpace(f.Search)); s != "" {
		payer := ""
		if tx.Payer != nil {
			payer = tx.Payer.Name
		}
		if !strings.Contains(strings.ToLower(tx.Description), s) &&
			!strings.Contains(strings.ToLower(tx.CounterpartyKey), s) &&
			!strings.Contains(strings.ToLower(payer), s) {
			return false
		}
	}
	return true
}

// FindWithFilters implements pix.Repository.
func (m *MemoryRepository) FindWithFilters(
	ctx context.Context,
	f repo.Filter,
) ([]*pix.Transaction, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*pix.Transaction
	for _, tx := range m.byID {
		if matches(tx, f) {
			all = append(all, tx)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := int64(len(all))
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	start := min(f.Offset, len(all))
	end := min(start+limit, len(all))
	page := make([]*pix.Transaction, 0, end-start)
	for _, tx := range all[start:end] {
		page = append(page, clone(tx))
	}
	return page, total, nil
}

// ConditionalUpdateStatus implements pix.Repository.
func (m *MemoryRepository) ConditionalUpdateStatus(
	ctx context.Context,
	id uuid.UUID,
	expected, next pix.Status,
	changes repo.Changes,
) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.byID[id]
	if !ok || tx.Status != expected {
		return false, nil
	}
	tx.Status = next
	if changes.PaidAt != nil {
		t := *changes.PaidAt
		tx.PaidAt = &t
	}
	if changes.EndToEndID != "" {
		tx.EndToEndID = changes.EndToEndID
	}
	if changes.RefundRef != "" {
		tx.RefundRef = changes.RefundRef
	}
	if len(changes.GatewayRaw) > 0 {
		tx.GatewayRaw = slices.Clone(changes.GatewayRaw)
	}
	tx.UpdatedAt = m.now()
	return true, nil
}

// MarkExpiredBatch implements pix.Repository.
func (m *MemoryRepository) MarkExpiredBatch(ctx context.Context, now time.Time, limit int) ([]repo.Expired, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*pix.Transaction
	for _, tx := range m.byID {
		if tx.Expired(now) {
			due = append(due, tx)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ExpiresAt.Before(*due[j].ExpiresAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	expired := make([]repo.Expired, 0, len(due))
	for _, tx := range due {
		tx.Status = pix.StatusExpired
		tx.UpdatedAt = now
		expired = append(expired, repo.Expired{ID: tx.ID, Txid: tx.Txid, OwnerID: tx.OwnerID, Amount: tx.Amount})
	}
	return expired, nil
}

// Stats implements pix.Repository.
func (m *MemoryRepository) Stats(ctx context.Context, ownerID string) (*repo.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &repo.Stats{ByStatus: make(map[pix.Status]repo.StatusStats)}
	for _, s := range pix.AllStatuses() {
		stats.ByStatus[s] = repo.StatusStats{}
	}
	for _, tx := range m.byID {
		if ownerID != "" && tx.OwnerID != ownerID {
			continue
		}
		b := stats.ByStatus[tx.Status]
		b.Count++
		b.TotalAmount += tx.Amount
		stats.ByStatus[tx.Status] = b
		stats.Count++
		stats.TotalAmount += tx.Amount
	}
	return stats, nil
}

// FindPendingForSync implements pix.Repository.
func (m *MemoryRepository) FindPendingForSync(ctx context.Context, limit int) ([]*pix.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pending []*pix.Transaction
	for _, tx := range m.byID {
		if tx.Status == pix.StatusPending && (tx.Type == pix.TypeCharge || tx.Type == pix.TypeSend) && tx.Origin == pix.OriginGateway {
			pending = append(pending, tx)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	out := make([]*pix.Transaction, 0, len(pending))
	for _, tx := range pending {
		out = append(out, clone(tx))
	}
	return out, nil
}
