package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/keyward/backend/internal/services"
	"github.com/keyward/backend/pkg/logger"
	"github.com/keyward/backend/pkg/utils"
)

// respondError translates a service error into the response envelope.
// Domain errors keep their stable code and hints; anything else is an
// internal error and the detail stays out of the response.
func respondError(c *fiber.Ctx, err error) error {
	if de, ok := services.AsDomainError(err); ok {
		return utils.ErrorWithCode(c, de.Status, de.Code, de.Detail, de.Hints)
	}

	logger.Error("internal_error", err, map[string]interface{}{
		"path":   c.Path(),
		"method": c.Method(),
	})
	return utils.Error(c, fiber.StatusInternalServerError, "internal server error")
}
