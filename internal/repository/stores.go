// Package repository holds the narrow storage contracts the orchestration
// services depend on, plus the gorm and redis implementations. Contract
// requirement: MarkCodeUsed and MarkTokenUsed must be conditional updates
// (used flag checked and set in one statement) so a code or token can only
// be redeemed once even under concurrent attempts.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/keyward/backend/internal/models"
)

var ErrNotFound = errors.New("record not found")

type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Update(ctx context.Context, user *models.User) error
	// Delete cascades credentials, recovery codes, recovery tokens, TOTP
	// config, and pending challenges.
	Delete(ctx context.Context, id uuid.UUID) error
}

type CredentialStore interface {
	Create(ctx context.Context, cred *models.WebAuthnCredential) error
	GetByCredentialID(ctx context.Context, credentialID string) (*models.WebAuthnCredential, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.WebAuthnCredential, error)
	CountByUser(ctx context.Context, userID uuid.UUID) (int64, error)
	UpdateSignCount(ctx context.Context, credentialID string, signCount uint32, lastUsedAt time.Time) error
	UpdateLabel(ctx context.Context, credentialID, label string) error
	Delete(ctx context.Context, credentialID string) error
}

type ChallengeStore interface {
	Create(ctx context.Context, challenge *models.Challenge) error
	GetByValue(ctx context.Context, value string) (*models.Challenge, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// DeleteExpired may be a no-op for backends with native expiry.
	DeleteExpired(ctx context.Context, now time.Time) error
}

type RecoveryStore interface {
	CreateCodes(ctx context.Context, codes []models.RecoveryCode) error
	ListUnusedCodes(ctx context.Context, userID uuid.UUID) ([]models.RecoveryCode, error)
	CountUnusedCodes(ctx context.Context, userID uuid.UUID) (int64, error)
	MarkCodeUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) error
	DeleteCodes(ctx context.Context, userID uuid.UUID) error

	CreateToken(ctx context.Context, token *models.RecoveryToken) error
	// GetActiveTokenByHash only returns tokens that are unused and unexpired.
	GetActiveTokenByHash(ctx context.Context, hash string, now time.Time) (*models.RecoveryToken, error)
	MarkTokenUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) error
	DeleteExpiredTokens(ctx context.Context, now time.Time) error

	GetTOTP(ctx context.Context, userID uuid.UUID) (*models.TOTPConfig, error)
	SaveTOTP(ctx context.Context, cfg *models.TOTPConfig) error
	DeleteTOTP(ctx context.Context, userID uuid.UUID) error
}
