package initializer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/amirasaad/pixflow/infra/provider/efipix"
	"github.com/amirasaad/pixflow/infra/provider/mockpix"
	"github.com/amirasaad/pixflow/pkg/circuitbreaker"
	"github.com/amirasaad/pixflow/pkg/config"
	provider "github.com/amirasaad/pixflow/pkg/provider/pix"
)

// initGateway builds the configured gateway behind the guard. simulated is
// true for the mock driver; the guard hides that from the service, so the
// caller passes it on explicitly.
func initGateway(ctx context.Context, cfg *config.Gateway, logger *slog.Logger) (gw provider.Gateway, simulated bool, err error) {
	if cfg == nil {
		return nil, false, fmt.Errorf("gateway: configuration is missing")
	}

	var inner provider.Gateway
	switch strings.ToLower(cfg.Driver) {
	case "efi":
		httpClient, err := efipix.NewHTTPClient(ctx, efipix.Config{
			BaseURL:      cfg.BaseURL,
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			CertFile:     cfg.CertFile,
			KeyFile:      cfg.KeyFile,
			PixKey:       cfg.PixKey,
			Timeout:      cfg.Timeout,
		})
		if err != nil {
			return nil, false, err
		}
		inner = efipix.New(cfg.BaseURL, cfg.PixKey, httpClient, logger)
		logger.Info("Using Efí Pix gateway", "base_url", cfg.BaseURL)
	case "mock":
		var opts []mockpix.Option
		if cfg.SimulateCharges {
			opts = append(opts, mockpix.WithSimulated())
			simulated = true
		}
		inner = mockpix.New(opts...)
		logger.Warn("Using mock Pix gateway; no real money moves", "simulated", simulated)
	default:
		return nil, false, fmt.Errorf("gateway: unsupported driver %q", cfg.Driver)
	}

	breakerLog := logger.With("component", "pix-gateway-breaker")
	breaker := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.BreakerFailures,
		OpenTimeout:      cfg.BreakerOpenFor,
		OnStateChange: func(from, to circuitbreaker.State) {
			if to == circuitbreaker.StateOpen {
				breakerLog.Warn("Gateway circuit opened", "from", from.String())
				return
			}
			breakerLog.Info("Gateway circuit changed", "from", from.String(), "to", to.String())
		},
	})
	gw = provider.NewGuarded(inner, provider.GuardConfig{
		Timeout:       cfg.Timeout,
		RatePerSecond: cfg.RatePerSecond,
		Burst:         cfg.Burst,
		Breaker:       breaker,
		Logger:        logger,
	})
	return gw, simulated, nil
}
