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

func TestProcessWebhook_ConcludedMarksPaid(t *testing.T) {
	e := newEnv(t, pixsvc.Config{})
	ctx := context.Background()
	tx := e.charge(t, 5000)
	paidAt := t0.Add(10 * time.Minute)

	outcome, err := e.svc.ProcessWebhook(ctx, pixsvc.Notification{
		Txid:       tx.Txid,
		Status:     "CONCLUIDA",
		EndToEndID: "E0000000020240301120000000000001",
		Amount:     5000,
		PaidAt:     &paidAt,
	})
	require.NoError(t, err)
	assert.Equal(t, pixsvc.OutcomeApplied, outcome)

	stored, err := e.repo.FindByID(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, pix.StatusPaid, stored.Status)
	assert.Equal(t, "E0000000020240301120000000000001", stored.EndToEndID)
	require.NotNil(t, stored.PaidAt)
	assert.True(t, stored.PaidAt.Equal(paidAt))

	changes := e.statusChanges()
	require.Len(t, changes, 1)
	assert.Equal(t, pix.StatusPending, changes[0].From)
	assert.Equal(t, pix.StatusPaid, changes[0].To)
	assert.Equal(t, pix.SourceWebhook, changes[0].Source)
}

func TestProcessWebhook_PaidAtDefaultsToNow(t *testing.T) {
	e := newEnv(t, pixsvc.Config{})
	tx := e.charge(t, 100)
	e.clock.Advance(3 * time.Minute)

	_, err := e.svc.ProcessWebhook(context.Background(), pixsvc.Notification{Txid: tx.Txid, Status: "concluida"})
	require.NoError(t, err)

	stored, err := e.repo.FindByID(context.Background(), tx.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.PaidAt)
	assert.Equal(t, t0.Add(3*time.Minute), *stored.PaidAt)
}

func TestProcessWebhook_StatusMapping(t *testing.T) {
	tests := []struct {
		external string
		want     pix.Status
		outcome  pixsvc.Outcome
	}{
		{"ATIVA", pix.StatusPending, pixsvc.OutcomeUnchanged},
		{"CONCLUIDA", pix.StatusPaid, pixsvc.OutcomeApplied},
		{"REMOVIDA_PELO_USUARIO_RECEBEDOR", pix.StatusCancelled, pixsvc.OutcomeApplied},
		{"REMOVIDA_PELO_PSP", pix.StatusFailed, pixsvc.OutcomeApplied},
		{"EM_PROCESSAMENTO", pix.StatusPending, pixsvc.OutcomeUnknown},
		{"", pix.StatusPending, pixsvc.OutcomeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.external, func(t *testing.T) {
			e := newEnv(t, pixsvc.Config{})
			tx := e.charge(t, 100)

			outcome, err := e.svc.ProcessWebhook(context.Background(), pixsvc.Notification{Txid: tx.Txid, Status: tt.external})
			require.NoError(t, err)
			assert.Equal(t, tt.outcome, outcome)

			stored, err := e.repo.FindByID(context.Background(), tx.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, stored.Status)
		})
	}
}

func TestProcessWebhook_UnknownTxid(t *testing.T) {
	e := newEnv(t, pixsvc.Config{})
	_, err := e.svc.ProcessWebhook(context.Background(), pixsvc.Notification{Txid: "nope", Status: "CONCLUIDA"})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestProcessWebhook_RedeliveryIsIdempotent(t *testing.T) {
	e := newEnv(t, pixsvc.Config{})
	tx := e.charge(t, 100)
	n := pixsvc.Notification{Txid: tx.Txid, Status: "CONCLUIDA", EndToEndID: "E1"}

	for range 3 {
		_, err := e.svc.ProcessWebhook(context.Background(), n)
		require.NoError(t, err)
	}
	assert.Len(t, e.statusChanges(), 1)
}

func TestProcessWebhook_LateDeliveryNeverRegresses(t *testing.T) {
	e := newEnv(t, pixsvc.Config{})
	ctx := context.Background()
	tx := e.charge(t, 100)

	e.clock.Advance(2 * time.Hour)
	n, err := e.svc.MarkExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	outcome, err := e.svc.ProcessWebhook(ctx, pixsvc.Notification{Txid: tx.Txid, Status: "CONCLUIDA"})
	require.NoError(t, err, "a late payment report after expiry is not an error")
	assert.Equal(t, pixsvc.OutcomeNoop, outcome)

	outcome, err = e.svc.ProcessWebhook(ctx, pixsvc.Notification{Txid: tx.Txid, Status: "ATIVA"})
	require.NoError(t, err)
	assert.Equal(t, pixsvc.OutcomeNoop, outcome)

	stored, err := e.repo.FindByID(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, pix.StatusExpired, stored.Status)
}

func TestProcessWebhook_PaidCannotBeCancelled(t *testing.T) {
	e := newEnv(t, pixsvc.Config{})
	tx := e.charge(t, 100)
	_, err := e.svc.ProcessWebhook(context.Background(), pixsvc.Notification{Txid: tx.Txid, Status: "CONCLUIDA"})
	require.NoError(t, err)

	outcome, err := e.svc.ProcessWebhook(context.Background(), pixsvc.Notification{Txid: tx.Txid, Status: "REMOVIDA_PELO_PSP"})
	require.NoError(t, err)
	assert.Equal(t, pixsvc.OutcomeNoop, outcome)
}

func TestWebhookAndSyncRace_SingleTransition(t *testing.T) {
	e := newEnv(t, pixsvc.Config{})
	ctx := context.Background()
	tx := e.charge(t, 100)
	e.gw.Settle(tx.Txid, "E42", t0.Add(time.Minute))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := e.svc.ProcessWebhook(ctx, pixsvc.Notification{Txid: tx.Txid, Status: "CONCLUIDA", EndToEndID: "E42"})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := e.svc.Sync(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored, err := e.repo.FindByID(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, pix.StatusPaid, stored.Status)
	assert.Len(t, e.statusChanges(), 1, "exactly one writer wins the PENDING to PAID transition")
}

func TestWebhookAndExpiryRace_TerminalStateWins(t *testing.T) {
	for i := 0; i < 20; i++ {
		e := newEnv(t, pixsvc.Config{})
		ctx := context.Background()
		tx := e.charge(t, 100)
		e.clock.Advance(2 * time.Hour)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := e.svc.ProcessWebhook(ctx, pixsvc.Notification{Txid: tx.Txid, Status: "CONCLUIDA"})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := e.svc.MarkExpired(ctx)
			assert.NoError(t, err)
		}()
		wg.Wait()

		stored, err := e.repo.FindByID(ctx, tx.ID)
		require.NoError(t, err)
		assert.Contains(t, []pix.Status{pix.StatusPaid, pix.StatusExpired}, stored.Status)
		if stored.Status == pix.StatusExpired {
			assert.Nil(t, stored.PaidAt, "an expired record never carries a payment")
		}
	}
}

func TestSync_CountsPerRecordOutcomes(t *testing.T) {
	e := newEnv(t, pixsvc.Config{})
	ctx := context.Background()

	failing := e.charge(t, 100)
	e.clock.Advance(time.Second)
	paid := e.charge(t, 200)
	e.clock.Advance(time.Second)
	cancelled := e.charge(t, 300)
	e.clock.Advance(time.Second)
	untouched := e.charge(t, 400)
	e.clock.Advance(time.Second)
	weird := e.charge(t, 500)

	e.gw.Settle(paid.Txid, "E2", t0)
	e.gw.SetStatus(cancelled.Txid, "REMOVIDA_PELO_USUARIO_RECEBEDOR")
	e.gw.SetStatus(weird.Txid, "DESCONHECIDO")
	e.gw.FailNext("GetCharge", &provider.GatewayError{Op: "get_charge", StatusCode: 500, Transient: true})

	res, err := e.svc.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, pixsvc.SyncResult{Attempted: 5, Updated: 2, Failed: 1}, res)

	for tx, want := range map[string]pix.Status{
		failing.Txid:   pix.StatusPending,
		paid.Txid:      pix.StatusPaid,
		cancelled.Txid: pix.StatusCancelled,
		untouched.Txid: pix.StatusPending,
		weird.Txid:     pix.StatusPending,
	} {
		stored, err := e.repo.FindByTxid(ctx, tx)
		require.NoError(t, err)
		assert.Equal(t, want, stored.Status, tx)
	}

	// The next run picks the failed record up again.
	res, err = e.svc.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempted)
	assert.Zero(t, res.Failed)
}

func TestSync_RespectsBatchAndCancellation(t *testing.T) {
	e := newEnv(t, pixsvc.Config{SyncBatch: 2})
	for range 5 {
		e.charge(t, 100)
		e.clock.Advance(time.Second)
	}

	res, err := e.svc.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempted)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.svc.Sync(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestMarkExpired_DrainsInBatches(t *testing.T) {
	e := newEnv(t, pixsvc.Config{ExpireBatch: 2})
	for range 5 {
		e.charge(t, 100)
	}
	e.clock.Advance(2 * time.Hour)
	e.charge(t, 1)

	n, err := e.svc.MarkExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	stats, err := e.svc.Stats(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.ByStatus[pix.StatusExpired].Count)
	assert.Equal(t, int64(1), stats.ByStatus[pix.StatusPending].Count)
}

func TestMarkExpired_StopsAtIterationCap(t *testing.T) {
	e := newEnv(t, pixsvc.Config{ExpireBatch: 2, ExpireMaxIterations: 2})
	for range 5 {
		e.charge(t, 100)
	}
	e.clock.Advance(2 * time.Hour)

	n, err := e.svc.MarkExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	n, err = e.svc.MarkExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "the next sweep finishes the backlog")
}

func TestLifecycle_PaidChargeSurvivesSyncAndExpiry(t *testing.T) {
	e := newEnv(t, pixsvc.Config{ChargeTTL: time.Hour})
	ctx := context.Background()

	tx := e.charge(t, 100)
	assert.Equal(t, pix.StatusPending, tx.Status)
	assert.Equal(t, int64(100), tx.Amount)
	assert.Nil(t, tx.PaidAt)

	paidAt := t0.Add(5 * time.Minute)
	outcome, err := e.svc.ProcessWebhook(ctx, pixsvc.Notification{Txid: tx.Txid, Status: "concluded", PaidAt: &paidAt})
	require.NoError(t, err)
	assert.Equal(t, pixsvc.OutcomeApplied, outcome)
	e.gw.Settle(tx.Txid, "E2E-LIFECYCLE", paidAt)

	res, err := e.svc.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, pixsvc.SyncResult{}, res, "paid charges are no longer pending")

	e.clock.Advance(2 * time.Hour)
	n, err := e.svc.MarkExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	stored, err := e.repo.FindByID(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, pix.StatusPaid, stored.Status)
	require.NotNil(t, stored.PaidAt)
	assert.True(t, stored.PaidAt.Equal(paidAt))
	assert.Len(t, e.statusChanges(), 1)
}

func TestSync_SettlesPendingTransfer(t *testing.T) {
	e := newEnv(t, pixsvc.Config{})
	ctx := context.Background()

	sent, err := e.svc.SendTransfer(ctx, pixsvc.SendInput{Amount: 900, PayeeKey: "payee@example.com"})
	require.NoError(t, err)
	require.Equal(t, pix.StatusPending, sent.Status)

	res, err := e.svc.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, pixsvc.SyncResult{Attempted: 1}, res, "still processing at the gateway")

	e.clock.Advance(time.Minute)
	e.gw.SetTransferStatus(sent.Txid, pix.ExternalTransferDone)
	res, err = e.svc.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, pixsvc.SyncResult{Attempted: 1, Updated: 1}, res)

	stored, err := e.repo.FindByID(ctx, sent.ID)
	require.NoError(t, err)
	assert.Equal(t, pix.StatusPaid, stored.Status)
	require.NotNil(t, stored.PaidAt)
	assert.Equal(t, t0.Add(time.Minute), *stored.PaidAt)

	changes := e.statusChanges()
	require.Len(t, changes, 1)
	assert.Equal(t, pix.SourceSync, changes[0].Source)
	assert.Equal(t, sent.ID, changes[0].TransactionID)
}

func TestSync_FailedTransferIsMarkedFailed(t *testing.T) {
	e := newEnv(t, pixsvc.Config{})
	ctx := context.Background()
	sent, err := e.svc.SendTransfer(ctx, pixsvc.SendInput{Amount: 900, PayeeKey: "payee@example.com"})
	require.NoError(t, err)

	e.gw.SetTransferStatus(sent.Txid, pix.ExternalTransferFailed)
	_, err = e.svc.Sync(ctx)
	require.NoError(t, err)

	stored, err := e.repo.FindByID(ctx, sent.ID)
	require.NoError(t, err)
	assert.Equal(t, pix.StatusFailed, stored.Status)
	assert.Nil(t, stored.PaidAt)
}

func TestMarkExpired_AnnouncesEachExpiry(t *testing.T) {
	e := newEnv(t, pixsvc.Config{ChargeTTL: time.Hour, ExpireBatch: 1})
	ctx := context.Background()
	first := e.charge(t, 100)
	second := e.charge(t, 200)
	paid := paidCharge(t, e, 300)
	e.clock.Advance(2 * time.Hour)

	n, err := e.svc.MarkExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	var expired []*pix.StatusChanged
	for _, sc := range e.statusChanges() {
		if sc.Source == pix.SourceExpiry {
			expired = append(expired, sc)
		}
	}
	require.Len(t, expired, 2)
	got := map[string]int64{}
	for _, sc := range expired {
		assert.Equal(t, pix.StatusPending, sc.From)
		assert.Equal(t, pix.StatusExpired, sc.To)
		got[sc.Txid] = sc.Amount
	}
	assert.Equal(t, map[string]int64{first.Txid: 100, second.Txid: 200}, got)
	assert.NotContains(t, got, paid.Txid)
}

// blockingLookup holds the first GetCharge until released.
type blockingLookup struct {
	*mockpix.Gateway
	entered chan string
	release chan struct{}
	once    sync.Once
}

func (g *blockingLookup) GetCharge(ctx context.Context, txid string) (*provider.ChargeStatus, error) {
	first := false
	g.once.Do(func() { first = true })
	if first {
		g.entered <- txid
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return g.Gateway.GetCharge(ctx, txid)
}

func TestSync_CancellationFinishesItemInFlight(t *testing.T) {
	e := newEnv(t, pixsvc.Config{})
	a := e.charge(t, 100)
	e.clock.Advance(time.Second)
	b := e.charge(t, 200)
	e.gw.Settle(a.Txid, "E2E-A", t0)
	e.gw.Settle(b.Txid, "E2E-B", t0)

	gw := &blockingLookup{Gateway: e.gw, entered: make(chan string, 1), release: make(chan struct{})}
	svc := pixsvc.New(e.repo, gw, e.bus, quietLogger(), pixsvc.Config{PixKey: "receiver@example.com"},
		pixsvc.WithClock(e.clock.Now))

	ctx, cancel := context.WithCancel(context.Background())
	type outcome struct {
		res pixsvc.SyncResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := svc.Sync(ctx)
		done <- outcome{res, err}
	}()

	inFlight := <-gw.entered
	cancel()
	close(gw.release)
	out := <-done

	require.ErrorIs(t, out.err, context.Canceled)
	assert.Equal(t, pixsvc.SyncResult{Attempted: 1, Updated: 1}, out.res)

	finished, err := e.repo.FindByTxid(context.Background(), inFlight)
	require.NoError(t, err)
	assert.Equal(t, pix.StatusPaid, finished.Status)

	other := b.Txid
	if inFlight == b.Txid {
		other = a.Txid
	}
	skipped, err := e.repo.FindByTxid(context.Background(), other)
	require.NoError(t, err)
	assert.Equal(t, pix.StatusPending, skipped.Status, "no new item starts after cancellation")
}
