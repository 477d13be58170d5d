// Package webapi assembles the HTTP surface:
//   - webhook: gateway notifications
//   - pix: internal charge, query and operator API
//   - /health and /metrics
package webapi

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/amirasaad/pixflow/pkg/app"
	"github.com/amirasaad/pixflow/pkg/config"
	"github.com/amirasaad/pixflow/webapi/common"
	pixweb "github.com/amirasaad/pixflow/webapi/pix"
	"github.com/amirasaad/pixflow/webapi/webhook"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupApp builds the fiber application for a wired App.
func SetupApp(a *app.App) *fiber.App {
	cfg := a.Config
	fiberCfg := fiber.Config{
		AppName: "pixflow",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return common.ProblemDetailsJSON(c, "Internal Server Error", err)
		},
	}
	if cfg.Server != nil {
		fiberCfg.ReadTimeout = cfg.Server.ReadTimeout
		fiberCfg.WriteTimeout = cfg.Server.WriteTimeout
		fiberCfg.BodyLimit = cfg.Server.BodyLimit
	}
	fiberApp := fiber.New(fiberCfg)

	fiberApp.Use(recover.New())
	fiberApp.Use(logger.New(logger.Config{
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == "/health" || c.Path() == "/metrics"
		},
	}))

	// Probes and scrapes are not rate limited.
	fiberApp.Get("/health", health(a))
	fiberApp.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	if cfg.RateLimit != nil && cfg.RateLimit.MaxRequests > 0 {
		fiberApp.Use(limiter.New(limiter.Config{
			Max:        cfg.RateLimit.MaxRequests,
			Expiration: cfg.RateLimit.Window,
			// Gateway redeliveries must never be throttled.
			Next: func(c *fiber.Ctx) bool {
				return strings.HasPrefix(c.Path(), webhook.Path)
			},
			KeyGenerator: clientIP,
			LimitReached: func(c *fiber.Ctx) error {
				return common.ProblemDetailsJSON(
					c,
					"Too Many Requests",
					errors.New("rate limit exceeded"),
					fiber.StatusTooManyRequests,
				)
			},
		}))
	}

	webhook.Routes(fiberApp, a.PixService, cfg.Webhook, a.Deps.Logger)
	var jwtCfg *config.Jwt
	if cfg.Auth != nil {
		jwtCfg = cfg.Auth.Jwt
	}
	pixweb.Routes(fiberApp, a.PixService, jwtCfg, a.Deps.Logger)
	return fiberApp
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP.
func clientIP(c *fiber.Ctx) string {
	if forwardedFor := c.Get("X-Forwarded-For"); forwardedFor != "" {
		if i := strings.Index(forwardedFor, ","); i != -1 {
			return strings.TrimSpace(forwardedFor[:i])
		}
		return strings.TrimSpace(forwardedFor)
	}
	if realIP := c.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return c.IP()
}

// health reports liveness and the last gateway probe. It never fails the
// probe on a gateway outage; the service keeps accepting webhooks.
func health(a *app.App) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
		defer cancel()
		return c.JSON(fiber.Map{
			"status":  "ok",
			"gateway": a.PixService.HealthCheck(ctx),
		})
	}
}
