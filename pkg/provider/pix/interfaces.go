package pix

import (
	"context"
)

// Gateway is the external Pix payment gateway.
type Gateway interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error)

	GetCharge(ctx context.Context, txid string) (*ChargeStatus, error)

	ListCharges(ctx context.Context, params ListChargesParams) ([]ChargeStatus, error)

	// CancelCharge withdraws an open charge so it can no longer be paid.
	CancelCharge(ctx context.Context, txid string) (*ChargeStatus, error)

	SendTransfer(ctx context.Context, req TransferRequest) (*Transfer, error)

	GetTransfer(ctx context.Context, id string) (*Transfer, error)

	// ListReceived returns Pix payments received in the window.
	ListReceived(ctx context.Context, params ListReceivedParams) ([]ReceivedPix, error)

	// RefundTransaction refunds a settled payment identified by its end-to-end id.
	RefundTransaction(ctx context.Context, req RefundRequest) (*Refund, error)

	GenerateQRCode(ctx context.Context, txid string) (*QRCode, error)

	// HealthCheck returns nil when the gateway answers.
	HealthCheck(ctx context.Context) error
}
