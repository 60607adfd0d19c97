package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/amank-23/go-trading-engine/src/auth"
	"github.com/amank-23/go-trading-engine/src/models"
)

type AuthHandler struct {
	Service *auth.Service // nil when auth is not configured
}

func NewAuthHandler(service *auth.Service) *AuthHandler {
	return &AuthHandler{Service: service}
}

// IssueToken exchanges API credentials for a bearer token.
func (h *AuthHandler) IssueToken(c *fiber.Ctx) error {
	if h.Service == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(models.ErrorResponse{
			Error: "Authentication is not configured",
		})
	}

	var creds auth.Credentials
	if err := c.BodyParser(&creds); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
			Error: "Invalid request: malformed JSON",
		})
	}

	token, err := h.Service.GenerateToken(creds)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			log.Warn().
				Str("api_key", creds.APIKey).
				Str("ip", c.IP()).
				Msg("Token request with invalid credentials")
			return c.Status(fiber.StatusUnauthorized).JSON(models.ErrorResponse{
				Error: err.Error(),
			})
		}
		log.Error().Err(err).Msg("Failed to issue token")
		return c.Status(fiber.StatusInternalServerError).JSON(models.ErrorResponse{
			Error: "Internal server error",
		})
	}

	log.Info().
		Str("api_key", creds.APIKey).
		Time("expiration", token.Expiration).
		Msg("Issued API token")
	return c.Status(fiber.StatusOK).JSON(token)
}
