package pixsvc_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/amirasaad/pixflow/infra/provider/mockpix"
	"github.com/amirasaad/pixflow/pkg/domain"
	"github.com/amirasaad/pixflow/pkg/domain/pix"
	provider "github.com/amirasaad/pixflow/pkg/provider/pix"
	pixsvc "github.com/amirasaad/pixflow/pkg/service/pix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paidCharge(t *testing.T, e *env, amount int64) *pix.Transaction {
	t.Helper()
	tx := e.charge(t, amount)
	_, err := e.svc.ProcessWebhook(context.Background(), pixsvc.Notification{
		Txid: tx.Txid, Status: "CONCLUIDA", EndToEndID: "E" + tx.Txid,
	})
	require.NoError(t, err)
	return tx
}

func TestRefundCharge_PaidBecomesRefunded(t *testing.T) {
	e := newEnv(t, pixsvc.Config{})
	tx := paidCharge(t, e, 1000)

	refunded, err := e.svc.RefundCharge(context.Background(), pixsvc.RefundInput{TransactionID: tx.ID, Description: "cancelada"})
	require.NoError(t, err)
	assert.Equal(t, pix.StatusRefunded, refunded.Status)
	assert.NotEmpty(t, refunded.RefundRef)

	stored, err := e.repo.FindByID(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, pix.StatusRefunded, stored.Status)
	assert.Equal(t, refunded.RefundRef, stored.RefundRef)

	changes := e.statusChanges()
	require.Len(t, changes, 2)
	assert.Equal(t, pix.SourceRefund, changes[1].Source)
	assert.Equal(t, 1, e.gw.Calls("RefundTransaction"))
}

func TestRefundCharge_RejectsWithReason(t *testing.T) {
	e := newEnv(t, pixsvc.Config{})
	ctx := context.Background()

	pending := e.charge(t, 1000)
	_, err := e.svc.RefundCharge(ctx, pixsvc.RefundInput{TransactionID: pending.ID})
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)
	var te *pix.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "transaction is not paid", te.Reason)

	paid := paidCharge(t, e, 1000)
	_, err = e.svc.RefundCharge(ctx, pixsvc.RefundInput{TransactionID: paid.ID})
	require.NoError(t, err)

	_, err = e.svc.RefundCharge(ctx, pixsvc.RefundInput{TransactionID: paid.ID})
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "already refunded", te.Reason)
	assert.Equal(t, 1, e.gw.Calls("RefundTransaction"), "rejected refunds never reach the gateway")
}

func TestRefundCharge_AmountBounds(t *testing.T) {
	e := newEnv(t, pixsvc.Config{})
	tx := paidCharge(t, e, 1000)

	_, err := e.svc.RefundCharge(context.Background(), pixsvc.RefundInput{TransactionID: tx.ID, Amount: 1001})
	require.ErrorIs(t, err, domain.ErrValidation)
	_, err = e.svc.RefundCharge(context.Background(), pixsvc.RefundInput{TransactionID: tx.ID, Amount: -5})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = e.svc.RefundCharge(context.Background(), pixsvc.RefundInput{TransactionID: tx.ID, Amount: 400})
	require.NoError(t, err)
}

func TestRefundCharge_GatewayFailureKeepsPaid(t *testing.T) {
	e := newEnv(t, pixsvc.Config{})
	tx := paidCharge(t, e, 1000)
	e.gw.FailNext("RefundTransaction", &provider.GatewayError{Op: "refund", StatusCode: 502, Transient: true})

	_, err := e.svc.RefundCharge(context.Background(), pixsvc.RefundInput{TransactionID: tx.ID})
	require.ErrorIs(t, err, domain.ErrGatewayUnavailable)

	stored, err := e.repo.FindByID(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, pix.StatusPaid, stored.Status)
	assert.Empty(t, stored.RefundRef)
}

func TestRefundCharge_LooksUpMissingEndToEndID(t *testing.T) {
	e := newEnv(t, pixsvc.Config{})
	ctx := context.Background()
	tx := e.charge(t, 1000)
	e.gw.Settle(tx.Txid, "E2E-FROM-GATEWAY", t0)

	_, err := e.svc.ProcessWebhook(ctx, pixsvc.Notification{Txid: tx.Txid, Status: "CONCLUIDA"})
	require.NoError(t, err)
	paid, err := e.repo.FindByID(ctx, tx.ID)
	require.NoError(t, err)
	require.Equal(t, pix.StatusPaid, paid.Status)
	require.Empty(t, paid.EndToEndID)

	refunded, err := e.svc.RefundCharge(ctx, pixsvc.RefundInput{TransactionID: tx.ID})
	require.NoError(t, err)
	assert.Equal(t, pix.StatusRefunded, refunded.Status)
	assert.Equal(t, "E2E-FROM-GATEWAY", refunded.EndToEndID)
	assert.Equal(t, 1, e.gw.Calls("GetCharge"))

	stored, err := e.repo.FindByID(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, pix.StatusRefunded, stored.Status)
	assert.Equal(t, "E2E-FROM-GATEWAY", stored.EndToEndID)
}

func TestRefundCharge_EndToEndLookupFailureKeepsPaid(t *testing.T) {
	e := newEnv(t, pixsvc.Config{})
	ctx := context.Background()
	tx := e.charge(t, 1000)
	_, err := e.svc.ProcessWebhook(ctx, pixsvc.Notification{Txid: tx.Txid, Status: "CONCLUIDA"})
	require.NoError(t, err)

	e.gw.FailNext("GetCharge", &provider.GatewayError{Op: "get_charge", StatusCode: 503, Transient: true})
	_, err = e.svc.RefundCharge(ctx, pixsvc.RefundInput{TransactionID: tx.ID})
	require.ErrorIs(t, err, domain.ErrGatewayUnavailable)

	// The gateway still reports no payment id for this charge.
	_, err = e.svc.RefundCharge(ctx, pixsvc.RefundInput{TransactionID: tx.ID})
	var te *pix.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "missing end-to-end id", te.Reason)

	assert.Zero(t, e.gw.Calls("RefundTransaction"))
	stored, err := e.repo.FindByID(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, pix.StatusPaid, stored.Status)
}

func TestRefundCharge_GatewayRefusalIsRejected(t *testing.T) {
	e := newEnv(t, pixsvc.Config{})
	tx := paidCharge(t, e, 1000)
	e.gw.FailNext("RefundTransaction", &provider.GatewayError{Op: "refund", StatusCode: 400, Message: "valor invalido"})

	_, err := e.svc.RefundCharge(context.Background(), pixsvc.RefundInput{TransactionID: tx.ID})
	require.ErrorIs(t, err, domain.ErrGatewayRejected)
	assert.NotErrorIs(t, err, domain.ErrGatewayUnavailable)

	stored, err := e.repo.FindByID(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, pix.StatusPaid, stored.Status)
}

func TestRefundCharge_OwnerMismatchIsNotFound(t *testing.T) {
	e := newEnv(t, pixsvc.Config{})
	tx, err := e.svc.CreateCharge(context.Background(), pixsvc.CreateChargeInput{Amount: 10, OwnerID: "alice"})
	require.NoError(t, err)

	_, err = e.svc.RefundCharge(context.Background(), pixsvc.RefundInput{TransactionID: tx.ID, OwnerID: "bob"})
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = e.svc.GetTransaction(context.Background(), tx.ID, "bob")
	require.ErrorIs(t, err, domain.ErrNotFound)
	got, err := e.svc.GetByTxid(context.Background(), tx.Txid, "alice")
	require.NoError(t, err)
	assert.Equal(t, tx.ID, got.ID)
}

func TestQRCodeAndHealth(t *testing.T) {
	e := newEnv(t, pixsvc.Config{})
	tx := e.charge(t, 10)

	qr, err := e.svc.QRCode(context.Background(), tx.ID, "")
	require.NoError(t, err)
	assert.Equal(t, tx.QRPayload, qr.Payload)
	assert.Zero(t, e.gw.Calls("GenerateQRCode"), "stored QR is served without a gateway call")

	st := e.svc.HealthCheck(context.Background())
	assert.True(t, st.Online)

	e.gw.SetOffline(true)
	st = e.svc.HealthCheck(context.Background())
	assert.False(t, st.Online)
	assert.NotEmpty(t, st.Error)
}

// slowRefunds holds every refund long enough for concurrent callers to overlap.
type slowRefunds struct {
	*mockpix.Gateway
	delay time.Duration
}

func (g slowRefunds) RefundTransaction(ctx context.Context, req provider.RefundRequest) (*provider.Refund, error) {
	time.Sleep(g.delay)
	return g.Gateway.RefundTransaction(ctx, req)
}

func TestRefundCharge_ConcurrentCallsPayOutOnce(t *testing.T) {
	e := newEnv(t, pixsvc.Config{})
	tx := paidCharge(t, e, 1000)
	svc := pixsvc.New(e.repo, slowRefunds{Gateway: e.gw, delay: 50 * time.Millisecond}, e.bus, quietLogger(),
		pixsvc.Config{PixKey: "receiver@example.com"}, pixsvc.WithClock(e.clock.Now))

	var wg sync.WaitGroup
	results := make([]*pix.Transaction, 2)
	errs := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = svc.RefundCharge(context.Background(), pixsvc.RefundInput{TransactionID: tx.ID})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, e.gw.Refunds(), "the gateway must pay the refund once")
	stored, err := e.repo.FindByID(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, pix.StatusRefunded, stored.Status)

	succeeded := 0
	for i := range 2 {
		if errs[i] != nil {
			require.ErrorIs(t, errs[i], domain.ErrInvalidStateTransition)
			continue
		}
		succeeded++
		assert.Equal(t, stored.RefundRef, results[i].RefundRef)
	}
	assert.GreaterOrEqual(t, succeeded, 1)
}

func TestRefundID_IsStablePerRecord(t *testing.T) {
	e := newEnv(t, pixsvc.Config{})
	tx := e.charge(t, 100)

	id := pixsvc.RefundID(tx)
	assert.Len(t, id, 32)
	assert.True(t, pix.ValidTxid(id))
	assert.Equal(t, id, pixsvc.RefundID(tx))
	assert.NotEqual(t, id, pixsvc.RefundID(e.charge(t, 100)))
}
