package pix

import (
	"context"
	"encoding/json"
	"time"

	"github.com/amirasaad/pixflow/pkg/domain/pix"
	"github.com/google/uuid"
)

// Filter narrows FindWithFilters. Zero values mean "any".
type Filter struct {
	OwnerID   string
	SubjectID string
	Statuses  []pix.Status
	Types     []pix.Type
	StartDate *time.Time
	EndDate   *time.Time
	// Search matches description, counterparty key and payer name, case-insensitively.
	Search string
	Limit  int
	Offset int
}

// Changes are the mutable fields written together with a status change.
// Nil or empty fields are left untouched.
type Changes struct {
	PaidAt     *time.Time
	EndToEndID string
	RefundRef  string
	GatewayRaw json.RawMessage
}

// Expired identifies a record moved to EXPIRED by MarkExpiredBatch.
type Expired struct {
	ID      uuid.UUID
	Txid    string
	OwnerID string
	Amount  int64
}

// StatusStats aggregates one status bucket.
type StatusStats struct {
	Count       int64 `json:"count"`
	TotalAmount int64 `json:"totalAmount"`
}

// Stats aggregates transactions per status.
type Stats struct {
	ByStatus    map[pix.Status]StatusStats `json:"byStatus"`
	Count       int64                      `json:"count"`
	TotalAmount int64                      `json:"totalAmount"`
}

// Repository persists Pix transactions. Status changes only happen through
// ConditionalUpdateStatus and MarkExpiredBatch so concurrent writers cannot
// overwrite each other.
type Repository interface {
	// Create inserts a new transaction. Returns domain.ErrDuplicateTxid on txid collision.
	Create(ctx context.Context, tx *pix.Transaction) error

	// FindByID returns domain.ErrNotFound when missing.
	FindByID(ctx context.Context, id uuid.UUID) (*pix.Transaction, error)

	// FindByTxid returns domain.ErrNotFound when missing.
	FindByTxid(ctx context.Context, txid string) (*pix.Transaction, error)

	// FindByEndToEndID returns domain.ErrNotFound when missing.
	FindByEndToEndID(ctx context.Context, e2eID string) (*pix.Transaction, error)

	// FindWithFilters returns one page, newest first, and the total match count.
	FindWithFilters(ctx context.Context, f Filter) ([]*pix.Transaction, int64, error)

	// ConditionalUpdateStatus moves id from expected to next in a single
	// conditional write. It reports false when the stored status was no longer expected.
	ConditionalUpdateStatus(
		ctx context.Context,
		id uuid.UUID,
		expected, next pix.Status,
		changes Changes,
	) (bool, error)

	// MarkExpiredBatch expires up to limit PENDING records whose expiry is
	// before now and returns the records it moved.
	MarkExpiredBatch(ctx context.Context, now time.Time, limit int) ([]Expired, error)

	// Stats aggregates counts and amounts per status, optionally for one owner.
	Stats(ctx context.Context, ownerID string) (*Stats, error)

	// FindPendingForSync returns PENDING gateway charges and transfers, oldest first.
	FindPendingForSync(ctx context.Context, limit int) ([]*pix.Transaction, error)
}
