// Package pix holds the Pix transaction record and its lifecycle rules.
package pix

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/amirasaad/pixflow/pkg/domain"
	"github.com/google/uuid"
)

// Party identifies a payer or payee.
type Party struct {
	Name    string `json:"name,omitempty"`
	TaxID   string `json:"taxId,omitempty"`
	Email   string `json:"email,omitempty"`
	Account string `json:"account,omitempty"`
}

// Transaction is the local record of one Pix charge, transfer or refund.
type Transaction struct {
	ID              uuid.UUID
	Txid            string
	Type            Type
	Status          Status
	Amount          int64
	CounterpartyKey string
	Description     string
	Payer           *Party
	Payee           *Party
	QRPayload       string
	QRImageRef      string
	PaidAt          *time.Time
	ExpiresAt       *time.Time
	EndToEndID      string
	RefundRef       string
	OwnerID         string
	SubjectID       string
	GatewayRaw      json.RawMessage
	Origin          Origin
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewCharge builds a PENDING charge record. Amount is in cents.
func NewCharge(txid string, amount int64, key string, now time.Time, ttl time.Duration) (*Transaction, error) {
	if amount <= 0 {
		return nil, domain.NewValidationError("amount", "must be positive")
	}
	if strings.TrimSpace(key) == "" {
		return nil, domain.NewValidationError("counterpartyKey", "is required")
	}
	if !ValidTxid(txid) {
		return nil, domain.NewValidationError("txid", "must be 26 to 35 alphanumeric characters")
	}
	expires := now.Add(ttl)
	return &Transaction{
		ID:              uuid.New(),
		Txid:            txid,
		Type:            TypeCharge,
		Status:          StatusPending,
		Amount:          amount,
		CounterpartyKey: key,
		ExpiresAt:       &expires,
		Origin:          OriginGateway,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// Expired reports whether a pending record is past its expiry at now.
func (t *Transaction) Expired(now time.Time) bool {
	return t.Status == StatusPending && t.ExpiresAt != nil && t.ExpiresAt.Before(now)
}

// Refundable returns nil when the record may be refunded.
func (t *Transaction) Refundable() error {
	if t.Type == TypeSend {
		return &TransitionError{From: t.Status, To: StatusRefunded, Reason: "outgoing transfers cannot be refunded"}
	}
	if t.Status == StatusRefunded || t.RefundRef != "" {
		return &TransitionError{From: t.Status, To: StatusRefunded, Reason: "already refunded"}
	}
	if t.Status != StatusPaid {
		return &TransitionError{From: t.Status, To: StatusRefunded, Reason: "transaction is not paid"}
	}
	return nil
}

// Cancellable returns nil when the record is an open charge.
func (t *Transaction) Cancellable() error {
	if t.Type != TypeCharge {
		return &TransitionError{From: t.Status, To: StatusCancelled, Reason: "only charges can be cancelled"}
	}
	if t.Status != StatusPending {
		return &TransitionError{From: t.Status, To: StatusCancelled, Reason: "charge is not pending"}
	}
	return nil
}

// OwnedBy reports whether ownerID may see the record. An empty ownerID means no caller identity.
func (t *Transaction) OwnedBy(ownerID string) bool {
	return ownerID == "" || t.OwnerID == "" || t.OwnerID == ownerID
}

// TransitionError describes a rejected explicit transition.
type TransitionError struct {
	From   Status
	To     Status
	Reason string
}

func (e *TransitionError) Error() string {
	return "cannot move from " + string(e.From) + " to " + string(e.To) + ": " + e.Reason
}

// Unwrap lets errors.Is match domain.ErrInvalidStateTransition.
func (e *TransitionError) Unwrap() error {
	return domain.ErrInvalidStateTransition
}
