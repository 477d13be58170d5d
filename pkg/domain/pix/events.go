package pix

import (
	"time"

	"github.com/google/uuid"
)

// Event type names published on the event bus.
const (
	EventTypeStatusChanged = "Pix.StatusChanged"
	EventTypeChargeCreated = "Pix.ChargeCreated"
)

// Transition sources.
const (
	SourceWebhook = "webhook"
	SourceSync    = "sync"
	SourceExpiry  = "expiry"
	SourceRefund  = "refund"
	SourceCancel  = "cancel"
)

// StatusChanged is emitted after a conditional status update was applied.
type StatusChanged struct {
	TransactionID uuid.UUID `json:"transactionId"`
	Txid          string    `json:"txid"`
	OwnerID       string    `json:"ownerId,omitempty"`
	From          Status    `json:"from"`
	To            Status    `json:"to"`
	Source        string    `json:"source"`
	Amount        int64     `json:"amount"`
	OccurredAt    time.Time `json:"occurredAt"`
}

func (e *StatusChanged) Type() string { return EventTypeStatusChanged }

// ChargeCreated is emitted when a new charge has been persisted.
type ChargeCreated struct {
	TransactionID uuid.UUID  `json:"transactionId"`
	Txid          string     `json:"txid"`
	OwnerID       string     `json:"ownerId,omitempty"`
	Amount        int64      `json:"amount"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	OccurredAt    time.Time  `json:"occurredAt"`
}

func (e *ChargeCreated) Type() string { return EventTypeChargeCreated }
