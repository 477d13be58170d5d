package webapi

import (
	"context"
	"fmt"
	"time"

	"github.com/amirasaad/pixflow/pkg/app"
	"golang.org/x/sync/errgroup"
)

// Serve runs the HTTP server and, when enabled, the scheduler until ctx is
// cancelled, then drains in-flight requests within the shutdown timeout.
func Serve(ctx context.Context, a *app.App) error {
	cfg := a.Config
	logger := a.Deps.Logger
	fiberApp := SetupApp(a)

	addr := ":8080"
	shutdownTimeout := 20 * time.Second
	if cfg.Server != nil {
		addr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		if cfg.Server.ShutdownTimeout > 0 {
			shutdownTimeout = cfg.Server.ShutdownTimeout
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting server", "env", cfg.Env, "address", addr)
		if err := fiberApp.Listen(addr); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if cfg.Scheduler == nil || cfg.Scheduler.Enabled {
		g.Go(func() error {
			return a.Scheduler.Run(ctx)
		})
	} else {
		logger.Info("Scheduler disabled")
	}
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down server", "timeout", shutdownTimeout)
		return fiberApp.ShutdownWithTimeout(shutdownTimeout)
	})
	return g.Wait()
}
