package services

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// Stable machine-readable error codes surfaced to transport adapters.
// Callers branch on these; the human fields may change, the codes must not.
const (
	CodeValidation           = "validation_error"
	CodeInvalidChallenge     = "invalid_challenge"
	CodeRegistrationFailed   = "registration_failed"
	CodeAuthenticationFailed = "authentication_failed"
	CodeCounterAnomaly       = "counter_anomaly"
	CodeCredentialNotFound   = "credential_not_found"
	CodeUserNotFound         = "user_not_found"
	CodeDuplicateUser        = "duplicate_user"
	CodeInvalidRecoveryCode  = "invalid_recovery_code"
	CodeInvalidRecoveryToken = "invalid_recovery_token"
	CodeRecoveryDisabled     = "recovery_disabled"
)

type DomainError struct {
	Code   string
	Title  string
	Status int
	Detail string
	Hints  []string
	Meta   map[string]interface{}
	cause  error
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return e.Code + ": " + e.Detail
	}
	return e.Code
}

func (e *DomainError) Unwrap() error {
	return e.cause
}

func AsDomainError(err error) (*DomainError, bool) {
	var de *DomainError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

func NewValidationError(detail string) *DomainError {
	return &DomainError{
		Code:   CodeValidation,
		Title:  "Invalid request",
		Status: fiber.StatusBadRequest,
		Detail: detail,
	}
}

func NewInvalidChallenge(detail string) *DomainError {
	return &DomainError{
		Code:   CodeInvalidChallenge,
		Title:  "Invalid challenge",
		Status: fiber.StatusBadRequest,
		Detail: detail,
	}
}

func NewRegistrationFailed(detail string, cause error) *DomainError {
	return &DomainError{
		Code:   CodeRegistrationFailed,
		Title:  "Passkey registration failed",
		Status: fiber.StatusBadRequest,
		Detail: detail,
		Hints: []string{
			"make sure the browser or platform supports WebAuthn",
			"the authenticator may already hold a passkey for this account",
			"retry the ceremony from the beginning; challenges are single-use",
		},
		cause: cause,
	}
}

func NewAuthenticationFailed(detail string, cause error) *DomainError {
	return &DomainError{
		Code:   CodeAuthenticationFailed,
		Title:  "Passkey authentication failed",
		Status: fiber.StatusUnauthorized,
		Detail: detail,
		Hints: []string{
			"retry the ceremony from the beginning; challenges are single-use",
			"the passkey may have been removed from this account",
		},
		cause: cause,
	}
}

// NewCounterAnomaly reports a possible cloned credential: the authenticator
// reported a signature count that did not advance past the stored one.
func NewCounterAnomaly(stored, reported uint32) *DomainError {
	return &DomainError{
		Code:   CodeCounterAnomaly,
		Title:  "Possible cloned passkey",
		Status: fiber.StatusUnauthorized,
		Detail: fmt.Sprintf("signature counter regressed (stored %d, reported %d)", stored, reported),
		Meta: map[string]interface{}{
			"storedSignCount":   stored,
			"reportedSignCount": reported,
		},
	}
}

// NewCredentialNotFound covers both a missing credential and one owned by a
// different user; the two cases are deliberately indistinguishable.
func NewCredentialNotFound() *DomainError {
	return &DomainError{
		Code:   CodeCredentialNotFound,
		Title:  "Passkey not found",
		Status: fiber.StatusNotFound,
		Detail: "passkey not found",
	}
}

func NewUserNotFound() *DomainError {
	return &DomainError{
		Code:   CodeUserNotFound,
		Title:  "Account not found",
		Status: fiber.StatusNotFound,
		Detail: "account not found",
	}
}

func NewDuplicateUser(detail string) *DomainError {
	return &DomainError{
		Code:   CodeDuplicateUser,
		Title:  "Account already exists",
		Status: fiber.StatusConflict,
		Detail: detail,
	}
}

func NewInvalidRecoveryCode() *DomainError {
	return &DomainError{
		Code:   CodeInvalidRecoveryCode,
		Title:  "Invalid recovery code",
		Status: fiber.StatusBadRequest,
		Detail: "invalid recovery code",
	}
}

func NewInvalidRecoveryToken() *DomainError {
	return &DomainError{
		Code:   CodeInvalidRecoveryToken,
		Title:  "Invalid recovery token",
		Status: fiber.StatusBadRequest,
		Detail: "invalid or expired recovery token",
	}
}

func NewRecoveryDisabled() *DomainError {
	return &DomainError{
		Code:   CodeRecoveryDisabled,
		Title:  "Email recovery disabled",
		Status: fiber.StatusConflict,
		Detail: "email recovery is not enabled on this deployment",
	}
}
