package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/keyward/backend/internal/middleware"
	"github.com/keyward/backend/internal/repository"
	"github.com/keyward/backend/internal/services"
	"github.com/keyward/backend/pkg/utils"
)

// RecoveryHandler exposes the account recovery surface: one-time codes,
// emailed tokens, and the authenticator-app factor. The login-shaped
// endpoints mask account existence: an unknown email answers exactly like a
// wrong code or token.
type RecoveryHandler struct {
	Recovery *services.RecoveryService
	Users    repository.UserStore
}

func NewRecoveryHandler(recovery *services.RecoveryService, users repository.UserStore) *RecoveryHandler {
	return &RecoveryHandler{Recovery: recovery, Users: users}
}

func (h *RecoveryHandler) GenerateCodes(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	codes, err := h.Recovery.GenerateCodes(c.Context(), user.ID)
	if err != nil {
		return respondError(c, err)
	}
	return utils.Success(c, fiber.StatusCreated, fiber.Map{
		"recoveryCodes": codes,
		"count":         len(codes),
	})
}

func (h *RecoveryHandler) CodeStatus(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	count, err := h.Recovery.CodeCount(c.Context(), user.ID)
	if err != nil {
		return respondError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"recoveryCodesRemaining": count})
}

type verifyCodeRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// VerifyCode is a login path: a valid email plus an unused recovery code
// yields a session token and burns the code.
func (h *RecoveryHandler) VerifyCode(c *fiber.Ctx) error {
	var req verifyCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	user, err := h.Users.GetByEmail(c.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return respondError(c, services.NewInvalidRecoveryCode())
		}
		return respondError(c, err)
	}

	if err := h.Recovery.VerifyCode(c.Context(), user.ID, req.Code); err != nil {
		return respondError(c, err)
	}

	token, err := utils.GenerateToken(user)
	if err != nil {
		return respondError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"token": token,
		"user":  user,
	})
}

type initiateEmailRequest struct {
	Email string `json:"email"`
}

// InitiateEmail requests a recovery email. The response is the same whether
// or not the address has an account.
func (h *RecoveryHandler) InitiateEmail(c *fiber.Ctx) error {
	var req initiateEmailRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	_, err := h.Recovery.InitiateEmailRecovery(c.Context(), req.Email)
	if err != nil {
		if de, ok := services.AsDomainError(err); ok && de.Code == services.CodeUserNotFound {
			return utils.Success(c, fiber.StatusAccepted, fiber.Map{
				"message": "if the account exists, a recovery email has been sent",
			})
		}
		return respondError(c, err)
	}
	return utils.Success(c, fiber.StatusAccepted, fiber.Map{
		"message": "if the account exists, a recovery email has been sent",
	})
}

type verifyEmailTokenRequest struct {
	Token string `json:"token"`
}

// VerifyEmailToken redeems an emailed token for a session token.
func (h *RecoveryHandler) VerifyEmailToken(c *fiber.Ctx) error {
	var req verifyEmailTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	userID, err := h.Recovery.VerifyEmailToken(c.Context(), req.Token)
	if err != nil {
		return respondError(c, err)
	}

	user, err := h.Users.GetByID(c.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return respondError(c, services.NewInvalidRecoveryToken())
		}
		return respondError(c, err)
	}

	token, err := utils.GenerateToken(user)
	if err != nil {
		return respondError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"token": token,
		"user":  user,
	})
}

func (h *RecoveryHandler) TOTPSetup(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	secret, url, err := h.Recovery.SetupTOTP(c.Context(), user.ID)
	if err != nil {
		return respondError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"secret": secret,
		"url":    url,
	})
}

type totpCodeRequest struct {
	Code string `json:"code"`
}

func (h *RecoveryHandler) TOTPConfirm(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req totpCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	if err := h.Recovery.ConfirmTOTP(c.Context(), user.ID, req.Code); err != nil {
		return respondError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"confirmed": true})
}

type totpVerifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// TOTPVerify is a login path backed by a confirmed authenticator app.
func (h *RecoveryHandler) TOTPVerify(c *fiber.Ctx) error {
	var req totpVerifyRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	user, err := h.Users.GetByEmail(c.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return respondError(c, services.NewValidationError("authenticator code did not match"))
		}
		return respondError(c, err)
	}

	if err := h.Recovery.VerifyTOTP(c.Context(), user.ID, req.Code); err != nil {
		return respondError(c, err)
	}

	token, err := utils.GenerateToken(user)
	if err != nil {
		return respondError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"token": token,
		"user":  user,
	})
}

func (h *RecoveryHandler) TOTPDisable(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	if err := h.Recovery.DisableTOTP(c.Context(), user.ID); err != nil {
		return respondError(c, err)
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"disabled": true})
}
