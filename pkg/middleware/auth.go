// Package middleware holds fiber middleware shared by the HTTP routes.
package middleware

import (
	"errors"

	"github.com/amirasaad/pixflow/pkg/config"
	"github.com/amirasaad/pixflow/pkg/domain"
	"github.com/amirasaad/pixflow/webapi/common"
	jwtware "github.com/gofiber/contrib/jwt"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const (
	userKey = "user"

	// DefaultOperatorRole is used when the config names no operator role.
	DefaultOperatorRole = "operator"
)

// JwtProtected verifies HS256 bearer tokens signed with cfg.Secret. With no
// secret configured the routes are open and OwnerID returns "".
func JwtProtected(cfg *config.Jwt) fiber.Handler {
	if cfg == nil || cfg.Secret == "" {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	return jwtware.New(jwtware.Config{
		SigningKey:   jwtware.SigningKey{JWTAlg: jwtware.HS256, Key: []byte(cfg.Secret)},
		ContextKey:   userKey,
		ErrorHandler: jwtError,
		SuccessHandler: func(c *fiber.Ctx) error {
			if cfg.Issuer != "" {
				iss, _ := token(c).Claims.GetIssuer()
				if iss != cfg.Issuer {
					return jwtError(c, errors.New("unexpected token issuer"))
				}
			}
			return c.Next()
		},
	})
}

func jwtError(c *fiber.Ctx, err error) error {
	if errors.Is(err, jwtware.ErrJWTMissingOrMalformed) {
		return common.ProblemDetailsJSON(c, "Bad Request", err, "Missing or malformed JWT", fiber.StatusBadRequest)
	}
	return common.ProblemDetailsJSON(c, "Unauthorized", err, "Invalid or expired JWT", fiber.StatusUnauthorized)
}

func token(c *fiber.Ctx) *jwt.Token {
	t, _ := c.Locals(userKey).(*jwt.Token)
	return t
}

// OwnerID returns the subject of the verified token, or "" on open routes.
func OwnerID(c *fiber.Ctx) string {
	t := token(c)
	if t == nil {
		return ""
	}
	sub, err := t.Claims.GetSubject()
	if err != nil {
		return ""
	}
	return sub
}

// RequireOperator admits only tokens carrying the operator role, in either a
// "role" string claim or a "roles" list. It must run after JwtProtected; like
// it, it lets everything through when no secret is configured.
func RequireOperator(cfg *config.Jwt) fiber.Handler {
	if cfg == nil || cfg.Secret == "" {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	role := cfg.OperatorRole
	if role == "" {
		role = DefaultOperatorRole
	}
	return func(c *fiber.Ctx) error {
		if !HasRole(c, role) {
			return common.ProblemDetailsJSON(c, "Forbidden",
				domain.ErrForbidden, "Operator role required", fiber.StatusForbidden)
		}
		return c.Next()
	}
}

// HasRole reports whether the verified token grants role.
func HasRole(c *fiber.Ctx, role string) bool {
	t := token(c)
	if t == nil {
		return false
	}
	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return false
	}
	if r, ok := claims["role"].(string); ok && r == role {
		return true
	}
	roles, _ := claims["roles"].([]any)
	for _, r := range roles {
		if s, ok := r.(string); ok && s == role {
			return true
		}
	}
	return false
}
