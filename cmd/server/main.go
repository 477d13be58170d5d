package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/amirasaad/pixflow/infra/initializer"
	"github.com/amirasaad/pixflow/pkg/app"
	"github.com/amirasaad/pixflow/pkg/config"
	"github.com/amirasaad/pixflow/webapi"
	log "github.com/charmbracelet/log"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.Load(".env")
	if err != nil {
		return fmt.Errorf("failed to load application configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := initializer.InitializeDependencies(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	a := app.New(deps, cfg)
	defer func() {
		if err := a.Close(); err != nil {
			deps.Logger.Warn("Failed to release dependencies", "error", err)
		}
	}()

	return webapi.Serve(ctx, a)
}
