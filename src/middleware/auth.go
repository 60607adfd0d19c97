package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/amank-23/go-trading-engine/src/auth"
)

// RequireAuth guards mutating routes with a bearer token. A nil service
// means auth is not configured and the guard is a pass-through, so the
// venue still runs open in demo setups.
func RequireAuth(service *auth.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if service == nil {
			return c.Next()
		}

		header := c.Get(fiber.HeaderAuthorization)
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing or malformed authorization header",
			})
		}

		claims, err := service.ValidateToken(parts[1])
		if err != nil {
			log.Warn().
				Err(err).
				Str("path", c.Path()).
				Str("ip", c.IP()).
				Msg("Rejected request with invalid token")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		c.Locals("client_id", claims.ClientID)
		return c.Next()
	}
}
