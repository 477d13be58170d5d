package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Load reads the first env file found among envFilePath (searching parent
// directories), falls back to ./.env, then processes the environment.
func Load(envFilePath ...string) (*App, error) {
	logger := slog.Default()

	loaded := false
	for _, path := range envFilePath {
		foundPath, ok := findUpwards(path)
		if !ok {
			logger.Debug("Environment file not found", "path", path)
			continue
		}
		if err := godotenv.Load(foundPath); err != nil {
			logger.Error("Failed to load environment file", "path", foundPath, "error", err)
			continue
		}
		logger.Info("Loaded environment file", "path", foundPath)
		loaded = true
		break
	}
	if !loaded {
		if err := godotenv.Load(); err != nil {
			logger.Debug("No .env file found in current directory")
		}
	}
	return loadFromEnv()
}

// findUpwards looks for name in the working directory and each parent, so
// tests in nested packages pick up the repository's env file.
func findUpwards(name string) (string, bool) {
	if name == "" {
		name = ".env"
	}
	if filepath.IsAbs(name) {
		_, err := os.Stat(name)
		return name, err == nil
	}
	dir, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

func loadFromEnv() (*App, error) {
	var cfg App
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	slog.Default().Info("App config loaded",
		"env", cfg.Env,
		"db", maskURL(cfg.DB.Url),
		"gateway_driver", cfg.Gateway.Driver,
		"gateway_url", cfg.Gateway.BaseURL,
		"gateway_client_id", maskValue(cfg.Gateway.ClientID),
		"gateway_client_secret", maskValue(cfg.Gateway.ClientSecret),
		"pix_key", maskValue(cfg.Gateway.PixKey),
		"event_bus", cfg.EventBus.Driver,
		"scheduler_enabled", cfg.Scheduler.Enabled,
		"sync_interval", cfg.Scheduler.SyncInterval,
		"expire_interval", cfg.Scheduler.ExpireInterval,
		"health_interval", cfg.Scheduler.HealthInterval,
		"auth_enabled", cfg.Auth.Jwt.Secret != "",
		"webhook_token_set", cfg.Webhook.Token != "",
	)
	return &cfg, nil
}

// Validate rejects combinations the process cannot start with.
func (a *App) Validate() error {
	var errs []error
	switch a.Gateway.Driver {
	case "efi":
		if a.Gateway.ClientID == "" || a.Gateway.ClientSecret == "" {
			errs = append(errs, errors.New("PIX_GATEWAY_CLIENT_ID and PIX_GATEWAY_CLIENT_SECRET are required for the efi driver"))
		}
	case "mock":
		if a.IsProduction() {
			errs = append(errs, errors.New("the mock Pix gateway cannot run in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown PIX_GATEWAY_DRIVER %q (want efi or mock)", a.Gateway.Driver))
	}
	switch a.EventBus.Driver {
	case "memory", "redis", "kafka":
	default:
		errs = append(errs, fmt.Errorf("unknown EVENT_BUS_DRIVER %q (want memory, redis or kafka)", a.EventBus.Driver))
	}
	if a.IsProduction() && a.Auth.Jwt.Secret == "" {
		errs = append(errs, errors.New("AUTH_JWT_SECRET is required in production"))
	}
	if a.Scheduler.DistributedLock && a.Redis.URL == "" {
		errs = append(errs, errors.New("SCHEDULER_DISTRIBUTED_LOCK needs REDIS_URL"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func maskValue(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 6 {
		return "****"
	}
	return key[:2] + "****" + key[len(key)-4:]
}

// maskURL hides the password of a connection URL.
func maskURL(raw string) string {
	at := strings.LastIndex(raw, "@")
	scheme := strings.Index(raw, "://")
	if at < 0 || scheme < 0 {
		return raw
	}
	creds := raw[scheme+3 : at]
	if colon := strings.Index(creds, ":"); colon >= 0 {
		return raw[:scheme+3] + creds[:colon] + ":****" + raw[at:]
	}
	return raw
}
