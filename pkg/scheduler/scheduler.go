// Package scheduler runs the periodic reconciliation tasks: gateway sync,
// expiry sweep and gateway health check.
//
// A task never overlaps itself. Inside one process an atomic flag guards each
// task; across replicas an optional Locker does the same.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/amirasaad/pixflow/pkg/metrics"
	pixsvc "github.com/amirasaad/pixflow/pkg/service/pix"
	"golang.org/x/sync/errgroup"
)

const (
	TaskSync   = "sync"
	TaskExpire = "expire"
	TaskHealth = "health"
)

// ErrUnknownTask is returned by RunOnce for a name that is not scheduled.
var ErrUnknownTask = errors.New("unknown scheduler task")

// Reconciler is the part of the reconciliation service the scheduler drives.
type Reconciler interface {
	Sync(ctx context.Context) (pixsvc.SyncResult, error)
	MarkExpired(ctx context.Context) (int64, error)
	HealthCheck(ctx context.Context) pixsvc.GatewayStatus
}

// Locker grants a named lease. ok is false when another holder has it.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

// Config sets task intervals. Zero values fall back to the defaults.
type Config struct {
	SyncInterval   time.Duration
	ExpireInterval time.Duration
	HealthInterval time.Duration
	// LockTTL bounds how long a crashed replica can hold a task lease.
	LockTTL time.Duration
	// RunOnStart fires every task once before the first tick.
	RunOnStart bool
}

// DefaultConfig returns the production intervals.
func DefaultConfig() Config {
	return Config{
		SyncInterval:   5 * time.Minute,
		ExpireInterval: 60 * time.Minute,
		HealthInterval: 30 * time.Minute,
		LockTTL:        10 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SyncInterval <= 0 {
		c.SyncInterval = d.SyncInterval
	}
	if c.ExpireInterval <= 0 {
		c.ExpireInterval = d.ExpireInterval
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = d.HealthInterval
	}
	if c.LockTTL <= 0 {
		c.LockTTL = d.LockTTL
	}
	return c
}

type task struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) error
	running  atomic.Bool
	skipped  atomic.Int64
}

const (
	healthUnknown int32 = iota
	healthOnline
	healthOffline
)

// Scheduler owns the periodic tasks. It holds no global state; every
// dependency is passed to New.
type Scheduler struct {
	rec    Reconciler
	locker Locker
	cfg    Config
	logger *slog.Logger
	tasks  map[string]*task
	order  []string
	health atomic.Int32
}

// Option customises a Scheduler.
type Option func(*Scheduler)

// WithLocker coordinates tasks across replicas.
func WithLocker(l Locker) Option {
	return func(s *Scheduler) { s.locker = l }
}

// New builds a Scheduler for rec.
func New(rec Reconciler, logger *slog.Logger, cfg Config, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		rec:    rec,
		cfg:    cfg.withDefaults(),
		logger: logger.With("component", "scheduler"),
		tasks:  make(map[string]*task),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.add(TaskSync, s.cfg.SyncInterval, s.sync)
	s.add(TaskExpire, s.cfg.ExpireInterval, s.expire)
	s.add(TaskHealth, s.cfg.HealthInterval, s.checkHealth)
	return s
}

func (s *Scheduler) add(name string, interval time.Duration, run func(context.Context) error) {
	s.tasks[name] = &task{name: name, interval: interval, run: run}
	s.order = append(s.order, name)
}

// Run starts every task loop and blocks until ctx is cancelled. A run in
// progress finishes its current item; no new run starts after cancellation.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, name := range s.order {
		t := s.tasks[name]
		g.Go(func() error {
			s.loop(ctx, t)
			return nil
		})
	}
	s.logger.Info("scheduler started",
		"sync_interval", s.cfg.SyncInterval,
		"expire_interval", s.cfg.ExpireInterval,
		"health_interval", s.cfg.HealthInterval,
		"distributed_lock", s.locker != nil,
	)
	err := g.Wait()
	s.logger.Info("scheduler stopped")
	return err
}

func (s *Scheduler) loop(ctx context.Context, t *task) {
	if s.cfg.RunOnStart {
		s.fire(ctx, t)
	}
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(ctx, t)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, t *task) {
	if _, err := s.execute(ctx, t); err != nil && ctx.Err() == nil {
		s.logger.Error("scheduled task failed", "task", t.name, "error", err)
	}
}

// RunOnce runs the named task immediately under the same guards as a tick.
// ran is false when the task was skipped because a run was already active.
func (s *Scheduler) RunOnce(ctx context.Context, name string) (ran bool, err error) {
	t, ok := s.tasks[name]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownTask, name)
	}
	return s.execute(ctx, t)
}

// Skipped reports how many runs of the named task were dropped for overlap.
func (s *Scheduler) Skipped(name string) int64 {
	if t, ok := s.tasks[name]; ok {
		return t.skipped.Load()
	}
	return 0
}

func (s *Scheduler) execute(ctx context.Context, t *task) (bool, error) {
	if !t.running.CompareAndSwap(false, true) {
		s.skip(t, "previous run still active")
		return false, nil
	}
	defer t.running.Store(false)

	if s.locker != nil {
		release, ok, err := s.locker.TryLock(ctx, "scheduler:"+t.name, s.cfg.LockTTL)
		if err != nil {
			metrics.SchedulerRunsTotal.WithLabelValues(t.name, "error").Inc()
			return false, fmt.Errorf("acquire lock: %w", err)
		}
		if !ok {
			s.skip(t, "held by another replica")
			return false, nil
		}
		defer func() {
			// The run context may already be cancelled.
			relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := release(relCtx); err != nil {
				s.logger.Warn("failed to release task lock", "task", t.name, "error", err)
			}
		}()
	}

	start := time.Now()
	err := t.run(ctx)
	metrics.SchedulerRunDuration.WithLabelValues(t.name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SchedulerRunsTotal.WithLabelValues(t.name, "error").Inc()
		return true, err
	}
	metrics.SchedulerRunsTotal.WithLabelValues(t.name, "ok").Inc()
	return true, nil
}

func (s *Scheduler) skip(t *task, reason string) {
	t.skipped.Add(1)
	metrics.SchedulerRunsTotal.WithLabelValues(t.name, "skipped").Inc()
	s.logger.Info("skipping scheduled run", "task", t.name, "reason", reason)
}

func (s *Scheduler) sync(ctx context.Context) error {
	res, err := s.rec.Sync(ctx)
	if err != nil {
		return err
	}
	s.logger.Debug("sync run", "attempted", res.Attempted, "updated", res.Updated, "failed", res.Failed)
	return nil
}

func (s *Scheduler) expire(ctx context.Context) error {
	n, err := s.rec.MarkExpired(ctx)
	if err != nil {
		return err
	}
	s.logger.Debug("expiry run", "expired", n)
	return nil
}

func (s *Scheduler) checkHealth(ctx context.Context) error {
	st := s.rec.HealthCheck(ctx)
	next := healthOffline
	if st.Online {
		next = healthOnline
	}
	prev := s.health.Swap(next)
	if prev == next {
		return nil
	}
	switch {
	case next == healthOnline:
		s.logger.Info("pix gateway online", "simulated", st.Simulated)
	case prev == healthUnknown:
		s.logger.Warn("pix gateway offline", "error", st.Error)
	default:
		s.logger.Warn("pix gateway went offline", "error", st.Error)
	}
	return nil
}
