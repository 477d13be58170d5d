// Package app assembles the reconciliation service, the scheduler and the
// event handlers from already-initialised dependencies.
package app

import (
	"errors"
	"log/slog"

	"github.com/amirasaad/pixflow/pkg/config"
	"github.com/amirasaad/pixflow/pkg/eventbus"
	pixhandler "github.com/amirasaad/pixflow/pkg/handler/pix"
	provider "github.com/amirasaad/pixflow/pkg/provider/pix"
	repo "github.com/amirasaad/pixflow/pkg/repository/pix"
	"github.com/amirasaad/pixflow/pkg/scheduler"
	pixsvc "github.com/amirasaad/pixflow/pkg/service/pix"
)

// Deps holds the infrastructure the application runs on.
type Deps struct {
	Repo     repo.Repository
	Gateway  provider.Gateway
	EventBus eventbus.Bus
	// Locker is nil unless scheduler runs are coordinated across replicas.
	Locker scheduler.Locker
	// Simulated marks records created through a test-mode gateway.
	Simulated bool
	Logger    *slog.Logger
	// Closers run in reverse order on Close.
	Closers []func() error
}

// App is the wired application.
type App struct {
	Deps       *Deps
	Config     *config.App
	PixService *pixsvc.Service
	Scheduler  *scheduler.Scheduler
}

// New builds the service and scheduler and subscribes the event handlers.
func New(deps *Deps, cfg *config.App) *App {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	a := &App{Deps: deps, Config: cfg}
	a.setupEventBus()

	var opts []pixsvc.Option
	if deps.Simulated {
		opts = append(opts, pixsvc.WithSimulated())
	}
	a.PixService = pixsvc.New(deps.Repo, deps.Gateway, deps.EventBus, deps.Logger, serviceConfig(cfg), opts...)

	var schedOpts []scheduler.Option
	if deps.Locker != nil {
		schedOpts = append(schedOpts, scheduler.WithLocker(deps.Locker))
	}
	a.Scheduler = scheduler.New(a.PixService, deps.Logger, schedulerConfig(cfg), schedOpts...)
	return a
}

func (a *App) setupEventBus() {
	if a.Deps.EventBus == nil {
		return
	}
	pixhandler.Register(a.Deps.EventBus, a.Deps.Logger)
}

// Close releases the dependencies in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.Deps.Closers) - 1; i >= 0; i-- {
		if err := a.Deps.Closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.Deps.Closers = nil
	return errors.Join(errs...)
}

func serviceConfig(cfg *config.App) pixsvc.Config {
	var out pixsvc.Config
	if cfg == nil {
		return out
	}
	if cfg.Pix != nil {
		out.ChargeTTL = cfg.Pix.ChargeTTL
		out.SyncBatch = cfg.Pix.SyncBatch
		out.ExpireBatch = cfg.Pix.ExpireBatch
		out.ExpireMaxIterations = cfg.Pix.ExpireMaxIterations
	}
	if cfg.Gateway != nil {
		out.PixKey = cfg.Gateway.PixKey
	}
	return out
}

func schedulerConfig(cfg *config.App) scheduler.Config {
	if cfg == nil || cfg.Scheduler == nil {
		return scheduler.DefaultConfig()
	}
	return scheduler.Config{
		SyncInterval:   cfg.Scheduler.SyncInterval,
		ExpireInterval: cfg.Scheduler.ExpireInterval,
		HealthInterval: cfg.Scheduler.HealthInterval,
		LockTTL:        cfg.Scheduler.LockTTL,
		RunOnStart:     cfg.Scheduler.RunOnStart,
	}
}
