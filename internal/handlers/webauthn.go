package handlers

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/keyward/backend/internal/middleware"
	"github.com/keyward/backend/internal/services"
	"github.com/keyward/backend/pkg/utils"
)

// WebAuthnHandler exposes the passkey ceremonies and credential management.
// All ceremony policy lives in the service; the handler only shapes
// requests and responses.
type WebAuthnHandler struct {
	Ceremonies *services.CeremonyService
}

func NewWebAuthnHandler(ceremonies *services.CeremonyService) *WebAuthnHandler {
	return &WebAuthnHandler{Ceremonies: ceremonies}
}

type registerBeginRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

func (h *WebAuthnHandler) RegisterBegin(c *fiber.Ctx) error {
	var req registerBeginRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	options, err := h.Ceremonies.PrepareRegistration(c.Context(), req.Email, req.DisplayName)
	if err != nil {
		return respondError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"options": options})
}

type registerFinishRequest struct {
	Label    string          `json:"label"`
	Response json.RawMessage `json:"response"`
}

func (h *WebAuthnHandler) RegisterFinish(c *fiber.Ctx) error {
	var req registerFinishRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if len(req.Response) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "missing credential response")
	}

	user, cred, err := h.Ceremonies.CompleteRegistration(c.Context(), req.Response, req.Label)
	if err != nil {
		return respondError(c, err)
	}

	token, err := utils.GenerateToken(user)
	if err != nil {
		return respondError(c, err)
	}
	return utils.Success(c, fiber.StatusCreated, fiber.Map{
		"token":      token,
		"user":       user,
		"credential": cred,
	})
}

type loginBeginRequest struct {
	Email string `json:"email"`
}

func (h *WebAuthnHandler) LoginBegin(c *fiber.Ctx) error {
	var req loginBeginRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	// Re-authentication: a caller with a valid token gets an allow list for
	// their own account without resending the email.
	if req.Email == "" {
		if user := middleware.GetCurrentUser(c); user != nil {
			req.Email = user.Email
		}
	}

	options, err := h.Ceremonies.PrepareAuthentication(c.Context(), req.Email)
	if err != nil {
		return respondError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"options": options})
}

type loginFinishRequest struct {
	Response json.RawMessage `json:"response"`
}

func (h *WebAuthnHandler) LoginFinish(c *fiber.Ctx) error {
	var req loginFinishRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if len(req.Response) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "missing assertion response")
	}

	user, cred, err := h.Ceremonies.CompleteAuthentication(c.Context(), req.Response)
	if err != nil {
		return respondError(c, err)
	}

	token, err := utils.GenerateToken(user)
	if err != nil {
		return respondError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"token":      token,
		"user":       user,
		"credential": cred,
	})
}

func (h *WebAuthnHandler) ListCredentials(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	creds, err := h.Ceremonies.ListCredentials(c.Context(), user.ID)
	if err != nil {
		return respondError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"credentials": creds})
}

type renameCredentialRequest struct {
	Label string `json:"label"`
}

func (h *WebAuthnHandler) RenameCredential(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req renameCredentialRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	cred, err := h.Ceremonies.RenameCredential(c.Context(), user.ID, c.Params("id"), req.Label)
	if err != nil {
		return respondError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"credential": cred})
}

func (h *WebAuthnHandler) DeleteCredential(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	if err := h.Ceremonies.DeleteCredential(c.Context(), user.ID, c.Params("id")); err != nil {
		return respondError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"deleted": true})
}
