package mockpix

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/amirasaad/pixflow/pkg/domain"
	"github.com/amirasaad/pixflow/pkg/domain/pix"
	provider "github.com/amirasaad/pixflow/pkg/provider/pix"
)

type charge struct {
	req        provider.ChargeRequest
	status     string
	endToEndID string
	paidAt     *time.Time
}

// Gateway is an in-process Pix gateway for tests and local development.
// Charges stay ATIVA until Settle or SetStatus is called.
//
// When built with Simulated set, records created through it are tagged as
// simulated and skipped by reconciliation.
type Gateway struct {
	mu             sync.Mutex
	charges        map[string]*charge
	transfers      map[string]*provider.Transfer
	refunds        map[string]provider.Refund
	failures       map[string]error
	calls          map[string]int
	offline        bool
	simulated      bool
	transferStatus string
	seq            int
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithSimulated marks records produced through this gateway as simulated.
func WithSimulated() Option {
	return func(g *Gateway) { g.simulated = true }
}

// WithTransferStatus sets the status new transfers are answered with.
// The default is EM_PROCESSAMENTO.
func WithTransferStatus(status string) Option {
	return func(g *Gateway) { g.transferStatus = status }
}

// New creates an empty mock gateway.
func New(opts ...Option) *Gateway {
	g := &Gateway{
		charges:        make(map[string]*charge),
		transfers:      make(map[string]*provider.Transfer),
		refunds:        make(map[string]provider.Refund),
		failures:       make(map[string]error),
		calls:          make(map[string]int),
		transferStatus: pix.ExternalTransferProcessing,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

var _ provider.Gateway = (*Gateway)(nil)

// Simulated reports whether this gateway only simulates payments.
func (g *Gateway) Simulated() bool { return g.simulated }

// FailNext makes the next call to op return err. Op names match the method names.
func (g *Gateway) FailNext(op string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[op] = err
}

// SetOffline toggles HealthCheck failures.
func (g *Gateway) SetOffline(offline bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.offline = offline
}

// Settle marks a charge CONCLUIDA with the given end-to-end id.
func (g *Gateway) Settle(txid, endToEndID string, at time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.charges[txid]
	if !ok {
		c = &charge{}
		g.charges[txid] = c
	}
	c.status = pix.ExternalConcluded
	c.endToEndID = endToEndID
	c.paidAt = &at
}

// SetStatus overrides the raw status of a charge.
func (g *Gateway) SetStatus(txid, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.charges[txid]
	if !ok {
		c = &charge{}
		g.charges[txid] = c
	}
	c.status = status
}

// SetTransferStatus overrides the raw status of a transfer.
func (g *Gateway) SetTransferStatus(id, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.transfers[id]
	if !ok {
		t = &provider.Transfer{ID: id}
		g.transfers[id] = t
	}
	t.Status = status
}

// Calls returns how many times op was invoked.
func (g *Gateway) Calls(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

func (g *Gateway) enter(op string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls[op]++
	if err, ok := g.failures[op]; ok {
		delete(g.failures, op)
		return err
	}
	return nil
}

// CreateCharge implements pix.Gateway.
func (g *Gateway) CreateCharge(ctx context.Context, req provider.ChargeRequest) (*provider.Charge, error) {
	if err := g.enter("CreateCharge"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.charges[req.Txid] = &charge{req: req, status: pix.ExternalActive}
	payload := fmt.Sprintf("00020101021226mock%s5204000053039865802BR6304", req.Txid)
	raw, _ := json.Marshal(map[string]any{"txid": req.Txid, "status": pix.ExternalActive, "mock": true})
	return &provider.Charge{
		Txid:       req.Txid,
		Status:     pix.ExternalActive,
		QRPayload:  payload,
		QRImageRef: "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte(payload)),
		Raw:        raw,
	}, nil
}

// GetCharge implements pix.Gateway.
func (g *Gateway) GetCharge(ctx context.Context, txid string) (*provider.ChargeStatus, error) {
	if err := g.enter("GetCharge"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.charges[txid]
	if !ok {
		return nil, &provider.GatewayError{Op: "get_charge", StatusCode: 404, Message: "charge not found", Err: domain.ErrNotFound}
	}
	raw, _ := json.Marshal(map[string]any{"txid": txid, "status": c.status})
	return &provider.ChargeStatus{
		Txid:       txid,
		Status:     c.status,
		Amount:     c.req.Amount,
		EndToEndID: c.endToEndID,
		PaidAt:     c.paidAt,
		Raw:        raw,
	}, nil
}

// ListCharges implements pix.Gateway.
func (g *Gateway) ListCharges(ctx context.Context, params provider.ListChargesParams) ([]provider.ChargeStatus, error) {
	if err := g.enter("ListCharges"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]provider.ChargeStatus, 0, len(g.charges))
	for txid, c := range g.charges {
		if params.Status != "" && params.Status != c.status {
			continue
		}
		out = append(out, provider.ChargeStatus{Txid: txid, Status: c.status, Amount: c.req.Amount, EndToEndID: c.endToEndID})
	}
	return out, nil
}

// SendTransfer implements pix.Gateway.
func (g *Gateway) SendTransfer(ctx context.Context, req provider.TransferRequest) (*provider.Transfer, error) {
	if err := g.enter("SendTransfer"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	t := &provider.Transfer{
		ID:         req.ID,
		EndToEndID: fmt.Sprintf("E%031d", g.seq),
		Status:     g.transferStatus,
	}
	g.transfers[req.ID] = t
	out := *t
	return &out, nil
}

// GetTransfer implements pix.Gateway.
func (g *Gateway) GetTransfer(ctx context.Context, id string) (*provider.Transfer, error) {
	if err := g.enter("GetTransfer"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.transfers[id]
	if !ok {
		return nil, &provider.GatewayError{Op: "get_transfer", StatusCode: 404, Message: "transfer not found", Err: domain.ErrNotFound}
	}
	out := *t
	out.Raw, _ = json.Marshal(map[string]any{"idEnvio": id, "status": t.Status})
	return &out, nil
}

// CancelCharge implements pix.Gateway. Only ATIVA charges can be removed.
func (g *Gateway) CancelCharge(ctx context.Context, txid string) (*provider.ChargeStatus, error) {
	if err := g.enter("CancelCharge"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.charges[txid]
	if !ok {
		return nil, &provider.GatewayError{Op: "cancel_charge", StatusCode: 404, Message: "charge not found", Err: domain.ErrNotFound}
	}
	if c.status != pix.ExternalActive {
		return nil, &provider.GatewayError{Op: "cancel_charge", StatusCode: 400, Message: "charge is " + c.status}
	}
	c.status = pix.ExternalRemovedByPayee
	raw, _ := json.Marshal(map[string]any{"txid": txid, "status": c.status})
	return &provider.ChargeStatus{Txid: txid, Status: c.status, Amount: c.req.Amount, Raw: raw}, nil
}

// ListReceived implements pix.Gateway from the settled charges.
func (g *Gateway) ListReceived(ctx context.Context, params provider.ListReceivedParams) ([]provider.ReceivedPix, error) {
	if err := g.enter("ListReceived"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []provider.ReceivedPix
	for txid, c := range g.charges {
		if c.paidAt == nil || (params.Txid != "" && params.Txid != txid) {
			continue
		}
		if !params.Start.IsZero() && c.paidAt.Before(params.Start) {
			continue
		}
		if !params.End.IsZero() && c.paidAt.After(params.End) {
			continue
		}
		out = append(out, provider.ReceivedPix{
			EndToEndID: c.endToEndID,
			Txid:       txid,
			Amount:     c.req.Amount,
			Key:        c.req.Key,
			PaidAt:     *c.paidAt,
		})
	}
	return out, nil
}

// RefundTransaction implements pix.Gateway. Like the real gateway it is
// idempotent per refund id: repeating one returns the first answer.
func (g *Gateway) RefundTransaction(ctx context.Context, req provider.RefundRequest) (*provider.Refund, error) {
	if err := g.enter("RefundTransaction"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.refunds[req.RefundID]; ok {
		return &r, nil
	}
	g.seq++
	r := provider.Refund{
		ID:     req.RefundID,
		RtrID:  fmt.Sprintf("D%031d", g.seq),
		Status: "EM_PROCESSAMENTO",
	}
	g.refunds[req.RefundID] = r
	return &r, nil
}

// Refunds returns how many distinct refunds the gateway paid out.
func (g *Gateway) Refunds() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.refunds)
}

// GenerateQRCode implements pix.Gateway.
func (g *Gateway) GenerateQRCode(ctx context.Context, txid string) (*provider.QRCode, error) {
	if err := g.enter("GenerateQRCode"); err != nil {
		return nil, err
	}
	payload := fmt.Sprintf("00020101021226mock%s5204000053039865802BR6304", txid)
	return &provider.QRCode{
		Payload:  payload,
		ImageRef: "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte(payload)),
	}, nil
}

// HealthCheck implements pix.Gateway.
func (g *Gateway) HealthCheck(ctx context.Context) error {
	if err := g.enter("HealthCheck"); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.offline {
		return &provider.GatewayError{Op: "health", Message: "offline", Transient: true}
	}
	return nil
}
