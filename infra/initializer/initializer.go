// Package initializer turns configuration into live dependencies: logger,
// database, gateway, event bus and scheduler lock.
package initializer

import (
	"context"
	"fmt"

	"github.com/amirasaad/pixflow/infra"
	"github.com/amirasaad/pixflow/infra/lock"
	pixrepo "github.com/amirasaad/pixflow/infra/repository/pix"
	"github.com/amirasaad/pixflow/pkg/app"
	"github.com/amirasaad/pixflow/pkg/config"
)

// InitializeDependencies connects every backing service named by cfg. On
// error, whatever was already opened is closed.
func InitializeDependencies(ctx context.Context, cfg *config.App) (deps *app.Deps, err error) {
	logger := SetupLogger(cfg.Log)
	deps = &app.Deps{Logger: logger}
	defer func() {
		if err != nil {
			for i := len(deps.Closers) - 1; i >= 0; i-- {
				_ = deps.Closers[i]()
			}
			deps = nil
		}
	}()

	db, err := infra.NewDBConnection(cfg.DB, cfg.Env)
	if err != nil {
		logger.Error("Failed to initialize database", "error", err)
		return deps, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return deps, err
	}
	deps.Closers = append(deps.Closers, sqlDB.Close)
	if cfg.DB.AutoMigrate {
		if err := infra.MigrateUp(sqlDB, logger); err != nil {
			return deps, err
		}
	}
	deps.Repo = pixrepo.New(db)

	deps.Gateway, deps.Simulated, err = initGateway(ctx, cfg.Gateway, logger)
	if err != nil {
		return deps, fmt.Errorf("failed to initialize pix gateway: %w", err)
	}

	bus, closer, err := initEventBus(cfg, logger)
	if err != nil {
		return deps, err
	}
	deps.EventBus = bus
	if closer != nil {
		deps.Closers = append(deps.Closers, closer.Close)
	}

	if cfg.Scheduler != nil && cfg.Scheduler.Enabled && cfg.Scheduler.DistributedLock {
		client, err := newRedisClient(cfg.Redis)
		if err != nil {
			return deps, fmt.Errorf("scheduler lock: %w", err)
		}
		deps.Closers = append(deps.Closers, client.Close)
		deps.Locker = lock.NewRedisLocker(client, cfg.Redis.KeyPrefix+"lock:", logger)
		logger.Info("Scheduler runs coordinated through Redis")
	}

	return deps, nil
}
