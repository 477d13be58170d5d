package pix

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/amirasaad/pixflow/pkg/domain"
)

// Debtor is the payer identification sent with a charge.
type Debtor struct {
	Name  string
	TaxID string
}

// ChargeRequest asks the gateway for a new immediate charge. Amount is in cents.
type ChargeRequest struct {
	Txid        string
	Amount      int64
	Key         string
	Description string
	Debtor      *Debtor
	Expiration  time.Duration
}

// Charge is the gateway's answer to CreateCharge.
type Charge struct {
	Txid       string
	Status     string
	QRPayload  string
	QRImageRef string
	Raw        json.RawMessage
}

// ChargeStatus is the gateway view of one charge.
type ChargeStatus struct {
	Txid       string
	Status     string
	Amount     int64
	EndToEndID string
	PaidAt     *time.Time
	Raw        json.RawMessage
}

// ListChargesParams bounds ListCharges.
type ListChargesParams struct {
	Start  time.Time
	End    time.Time
	Status string
}

// ListReceivedParams bounds ListReceived. Txid narrows to one charge.
type ListReceivedParams struct {
	Start time.Time
	End   time.Time
	Txid  string
}

// ReceivedPix is one payment credited to the account.
type ReceivedPix struct {
	EndToEndID string
	Txid       string
	Amount     int64
	Key        string
	PayerInfo  string
	PaidAt     time.Time
	Raw        json.RawMessage
}

// TransferRequest sends money to a Pix key.
type TransferRequest struct {
	ID          string
	Amount      int64
	PayerKey    string
	PayeeKey    string
	Description string
}

// Transfer is the gateway's answer to SendTransfer.
type Transfer struct {
	ID         string
	EndToEndID string
	Status     string
	Raw        json.RawMessage
}

// RefundRequest refunds part or all of a settled payment.
type RefundRequest struct {
	EndToEndID  string
	RefundID    string
	Amount      int64
	Description string
}

// Refund is the gateway's answer to RefundTransaction.
type Refund struct {
	ID     string
	RtrID  string
	Status string
	Raw    json.RawMessage
}

// QRCode holds the copy-and-paste payload and a renderable image.
type QRCode struct {
	Payload  string
	ImageRef string
}

// GatewayError is returned by gateway adapters. Transient errors unwrap to
// domain.ErrGatewayUnavailable.
type GatewayError struct {
	Op         string
	StatusCode int
	Message    string
	Transient  bool
	Err        error
}

func (e *GatewayError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("pix gateway %s: status %d: %s", e.Op, e.StatusCode, msg)
	}
	return fmt.Sprintf("pix gateway %s: %s", e.Op, msg)
}

func (e *GatewayError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Transient {
		errs = append(errs, domain.ErrGatewayUnavailable)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// IsTransient reports whether err is worth retrying later.
func IsTransient(err error) bool {
	return errors.Is(err, domain.ErrGatewayUnavailable)
}
