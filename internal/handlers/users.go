package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/keyward/backend/internal/middleware"
	"github.com/keyward/backend/internal/repository"
	"github.com/keyward/backend/internal/services"
	"github.com/keyward/backend/pkg/logger"
	"github.com/keyward/backend/pkg/utils"
)

type UsersHandler struct {
	Users repository.UserStore
}

func NewUsersHandler(users repository.UserStore) *UsersHandler {
	return &UsersHandler{Users: users}
}

func (h *UsersHandler) Me(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"user": user})
}

type updateMeRequest struct {
	DisplayName string `json:"displayName"`
}

func (h *UsersHandler) UpdateMe(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req updateMeRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if req.DisplayName == "" || len(req.DisplayName) > 255 {
		return respondError(c, services.NewValidationError("display name must be between 1 and 255 characters"))
	}

	user.DisplayName = req.DisplayName
	if err := h.Users.Update(c.Context(), user); err != nil {
		return respondError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"user": user})
}

// DeleteAccount removes the account and everything hanging off it:
// credentials, recovery codes and tokens, authenticator config, pending
// challenges.
func (h *UsersHandler) DeleteAccount(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	if err := h.Users.Delete(c.Context(), user.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return respondError(c, services.NewUserNotFound())
		}
		return respondError(c, err)
	}

	logger.Info("account_deleted", map[string]interface{}{
		"user_id": user.ID.String(),
	})
	return utils.Success(c, fiber.StatusOK, fiber.Map{"deleted": true})
}
