package middleware

import (
	"crypto/hmac"
	"strings"

	"github.com/gofiber/fiber/v3"
)

// actorLocal is the fiber.Locals key under which the request actor is stored.
const actorLocal = "actor"

// AdminTokenMiddleware guards mutating routes with a static bearer token.
// Comparison is constant-time so the token can't be probed byte by byte.
func AdminTokenMiddleware(token string) fiber.Handler {
	return func(c fiber.Ctx) error {
		var presented string

		authHeader := c.Get("Authorization")
		if authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
				presented = parts[1]
			}
		}

		if presented == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing authorization",
			})
		}

		if !hmac.Equal([]byte(presented), []byte(token)) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid token",
			})
		}

		c.Locals(actorLocal, "admin")
		return c.Next()
	}
}

// Actor returns the authenticated actor for a request, or "anonymous".
func Actor(c fiber.Ctx) string {
	if actor, ok := c.Locals(actorLocal).(string); ok && actor != "" {
		return actor
	}
	return "anonymous"
}
