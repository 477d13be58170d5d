package pixsvc_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	infraeventbus "github.com/amirasaad/pixflow/infra/eventbus"
	"github.com/amirasaad/pixflow/infra/provider/mockpix"
	pixrepo "github.com/amirasaad/pixflow/infra/repository/pix"
	"github.com/amirasaad/pixflow/pkg/domain/pix"
	pixsvc "github.com/amirasaad/pixflow/pkg/service/pix"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type txidSeq struct {
	mu   sync.Mutex
	ids  []string
	next int
}

// Next returns the queued ids in order, then generated ones.
func (s *txidSeq) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next < len(s.ids) {
		id := s.ids[s.next]
		s.next++
		return id
	}
	s.next++
	return fmt.Sprintf("gen%029d", s.next)
}

type env struct {
	svc   *pixsvc.Service
	repo  *pixrepo.MemoryRepository
	gw    *mockpix.Gateway
	bus   *infraeventbus.MemoryEventBus
	clock *clock
	txids *txidSeq
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEnv(t *testing.T, cfg pixsvc.Config, gwOpts ...mockpix.Option) *env {
	t.Helper()
	e := &env{
		repo:  pixrepo.NewMemory(),
		gw:    mockpix.New(gwOpts...),
		bus:   infraeventbus.NewWithMemory(quietLogger()),
		clock: &clock{now: t0},
		txids: &txidSeq{},
	}
	if cfg.PixKey == "" {
		cfg.PixKey = "receiver@example.com"
	}
	e.svc = pixsvc.New(e.repo, e.gw, e.bus, quietLogger(), cfg,
		pixsvc.WithClock(e.clock.Now),
		pixsvc.WithTxidGenerator(e.txids.Next),
	)
	return e
}

func (e *env) charge(t *testing.T, amount int64) *pix.Transaction {
	t.Helper()
	tx, err := e.svc.CreateCharge(context.Background(), pixsvc.CreateChargeInput{Amount: amount, Description: "consulta"})
	if err != nil {
		t.Fatalf("create charge: %v", err)
	}
	return tx
}

func (e *env) statusChanges() []*pix.StatusChanged {
	var out []*pix.StatusChanged
	for _, ev := range e.bus.Published() {
		if sc, ok := ev.(*pix.StatusChanged); ok {
			out = append(out, sc)
		}
	}
	return out
}
