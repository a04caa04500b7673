// Package auth holds the fiber guards for staff and automation callers.
package auth

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	staffauth "github.com/missbott/backend/internal/auth"
)

const claimsKey = "claims"

type TokenValidator interface {
	ValidateToken(token string) (*staffauth.Claims, error)
}

// Staff requires a valid staff JWT from the Authorization header or, for
// websocket upgrades, the token query parameter.
func Staff(v TokenValidator, log *zap.Logger) fiber.Handler {
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		token := bearerToken(c.Get(fiber.HeaderAuthorization))
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Authentication credentials were not provided.",
			})
		}

		claims, err := v.ValidateToken(token)
		if err != nil {
			log.Debug("Rejected staff token", zap.String("path", c.Path()), zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token.",
			})
		}

		c.Locals(claimsKey, claims)
		return c.Next()
	}
}

// GetClaims returns the staff claims set by Staff.
func GetClaims(c *fiber.Ctx) (*staffauth.Claims, bool) {
	claims, ok := c.Locals(claimsKey).(*staffauth.Claims)
	return claims, ok
}

// SharedKey compares header against key in constant time. An empty key
// rejects every request.
func SharedKey(header, key string, log *zap.Logger) fiber.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	expected := []byte(key)

	return func(c *fiber.Ctx) error {
		provided := []byte(c.Get(header))
		if len(expected) == 0 || subtle.ConstantTimeCompare(provided, expected) != 1 {
			log.Warn("Unauthorized automation request",
				zap.String("ip", c.IP()),
				zap.String("path", c.Path()),
			)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized",
			})
		}
		return c.Next()
	}
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
