package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/keyward/backend/internal/config"
	"github.com/keyward/backend/internal/models"
	"github.com/keyward/backend/internal/repository"
	"github.com/keyward/backend/pkg/logger"
	"github.com/keyward/backend/pkg/utils"
	"github.com/pquerna/otp/totp"
)

// codeAlphabet leaves out 0/O and 1/I/l, the characters people misread when
// typing a code off paper.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789"

// RecoveryService owns the account recovery paths: one-time codes, emailed
// tokens, and the optional authenticator-app factor. Codes and tokens are
// strictly single-use; the storage layer enforces that with conditional
// mark-used updates.
type RecoveryService struct {
	users  repository.UserStore
	store  repository.RecoveryStore
	mailer Mailer
	events *Events
	cfg    config.RecoveryConfig
	issuer string

	validate *validator.Validate
}

func NewRecoveryService(users repository.UserStore, store repository.RecoveryStore, mailer Mailer, events *Events, cfg config.RecoveryConfig, issuer string) *RecoveryService {
	return &RecoveryService{
		users:    users,
		store:    store,
		mailer:   mailer,
		events:   events,
		cfg:      cfg,
		issuer:   issuer,
		validate: validator.New(),
	}
}

// GenerateCodes mints a full fresh set of recovery codes, replacing whatever
// set existed before. The plaintexts are returned exactly once; only bcrypt
// hashes are stored.
func (s *RecoveryService) GenerateCodes(ctx context.Context, userID uuid.UUID) ([]string, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, NewUserNotFound()
		}
		return nil, err
	}

	if err := s.store.DeleteCodes(ctx, userID); err != nil {
		return nil, err
	}

	plaintexts := make([]string, 0, s.cfg.CodeCount)
	records := make([]models.RecoveryCode, 0, s.cfg.CodeCount)
	for i := 0; i < s.cfg.CodeCount; i++ {
		code, err := utils.RandomString(s.cfg.CodeLength, codeAlphabet)
		if err != nil {
			return nil, err
		}
		hash, err := utils.HashSecret(code)
		if err != nil {
			return nil, err
		}
		plaintexts = append(plaintexts, code)
		records = append(records, models.RecoveryCode{UserID: userID, CodeHash: hash})
	}
	if err := s.store.CreateCodes(ctx, records); err != nil {
		return nil, err
	}

	s.events.Emit(Event{
		Type:   EventRecoveryCodesRegenerated,
		UserID: &userID,
		Email:  user.Email,
		Fields: map[string]interface{}{"count": len(records)},
	})
	return plaintexts, nil
}

// VerifyCode redeems one recovery code. The code is compared against every
// unused hash; on a match it is marked used atomically, so two concurrent
// redemptions of the same code cannot both succeed.
func (s *RecoveryService) VerifyCode(ctx context.Context, userID uuid.UUID, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return NewInvalidRecoveryCode()
	}

	unused, err := s.store.ListUnusedCodes(ctx, userID)
	if err != nil {
		return err
	}

	for i := range unused {
		if !utils.CheckSecret(code, unused[i].CodeHash) {
			continue
		}
		if err := s.store.MarkCodeUsed(ctx, unused[i].ID, time.Now()); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				// Lost the race to a concurrent redemption.
				return NewInvalidRecoveryCode()
			}
			return err
		}
		s.events.Emit(Event{
			Type:   EventRecoveryCodeUsed,
			UserID: &userID,
			Fields: map[string]interface{}{"remaining": len(unused) - 1},
		})
		return nil
	}
	return NewInvalidRecoveryCode()
}

// CodeCount reports how many unused recovery codes the user has left.
func (s *RecoveryService) CodeCount(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.store.CountUnusedCodes(ctx, userID)
}

// InitiateEmailRecovery mints a single-use token, persists its hash, and
// mails the plaintext. An unknown email still burns comparable work before
// failing, and the transport layer masks the failure, so response timing and
// shape do not reveal whether an account exists.
func (s *RecoveryService) InitiateEmailRecovery(ctx context.Context, email string) (*models.RecoveryToken, error) {
	if !s.cfg.EmailEnabled {
		return nil, NewRecoveryDisabled()
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if err := s.validate.Var(email, "required,email"); err != nil {
		return nil, NewValidationError("a valid email address is required")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Equalize the work done on the known-email path.
			if _, hashErr := utils.HashSecret(email); hashErr != nil {
				logger.Warn("recovery_burn_hash_failed", map[string]interface{}{"error": hashErr.Error()})
			}
			return nil, NewUserNotFound()
		}
		return nil, err
	}

	plaintext, err := utils.RandomToken(32)
	if err != nil {
		return nil, err
	}
	token := &models.RecoveryToken{
		UserID:    user.ID,
		TokenHash: utils.HashToken(plaintext),
		ExpiresAt: time.Now().Add(s.cfg.TokenTTL),
	}
	if err := s.store.CreateToken(ctx, token); err != nil {
		return nil, err
	}

	// The token stays valid even if delivery fails; a retry mints a new one
	// and the old expires on its own.
	if err := s.mailer.SendRecoveryToken(user.Email, plaintext, user.ID); err != nil {
		logger.Error("recovery_email_send_failed", err, map[string]interface{}{"user_id": user.ID})
		return nil, err
	}

	s.events.Emit(Event{
		Type:   EventEmailRecoveryRequested,
		UserID: &user.ID,
		Email:  user.Email,
		Fields: map[string]interface{}{"expires_at": token.ExpiresAt},
	})
	return token, nil
}

// VerifyEmailToken redeems an emailed recovery token and returns the account
// it belongs to. Unknown, expired, and already-used tokens are
// indistinguishable to the caller.
func (s *RecoveryService) VerifyEmailToken(ctx context.Context, plaintext string) (uuid.UUID, error) {
	if !s.cfg.EmailEnabled {
		return uuid.Nil, NewRecoveryDisabled()
	}
	plaintext = strings.TrimSpace(plaintext)
	if plaintext == "" {
		return uuid.Nil, NewInvalidRecoveryToken()
	}

	hash := utils.HashToken(plaintext)
	token, err := s.store.GetActiveTokenByHash(ctx, hash, time.Now())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return uuid.Nil, NewInvalidRecoveryToken()
		}
		return uuid.Nil, err
	}
	// The lookup already matched on the hash; the constant-time recheck
	// keeps the comparison independent of how the store filters.
	if !utils.TokensEqual(hash, token.TokenHash) {
		return uuid.Nil, NewInvalidRecoveryToken()
	}
	if err := s.store.MarkTokenUsed(ctx, token.ID, time.Now()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return uuid.Nil, NewInvalidRecoveryToken()
		}
		return uuid.Nil, err
	}

	s.events.Emit(Event{
		Type:   EventEmailRecoveryCompleted,
		UserID: &token.UserID,
	})
	return token.UserID, nil
}

// PurgeExpiredTokens sweeps recovery tokens past their TTL.
func (s *RecoveryService) PurgeExpiredTokens(ctx context.Context) error {
	return s.store.DeleteExpiredTokens(ctx, time.Now())
}

// SetupTOTP stages an authenticator-app secret for the user. The secret is
// not trusted until ConfirmTOTP sees a valid code from it.
func (s *RecoveryService) SetupTOTP(ctx context.Context, userID uuid.UUID) (secret, otpauthURL string, err error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", "", NewUserNotFound()
		}
		return "", "", err
	}

	existing, err := s.store.GetTOTP(ctx, userID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return "", "", err
	}
	if existing != nil && existing.Confirmed {
		return "", "", NewValidationError("authenticator app is already enabled")
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: user.Email,
	})
	if err != nil {
		return "", "", err
	}

	cfg := &models.TOTPConfig{UserID: userID, Secret: key.Secret()}
	if existing != nil {
		// Restarting setup replaces the staged secret in place.
		existing.Secret = key.Secret()
		cfg = existing
	}
	if err := s.store.SaveTOTP(ctx, cfg); err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}

// ConfirmTOTP proves the user captured the staged secret and enables it.
func (s *RecoveryService) ConfirmTOTP(ctx context.Context, userID uuid.UUID, code string) error {
	cfg, err := s.store.GetTOTP(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return NewValidationError("authenticator app setup has not been started")
		}
		return err
	}
	if !totp.Validate(code, cfg.Secret) {
		return NewValidationError("authenticator code did not match")
	}

	now := time.Now()
	cfg.Confirmed = true
	cfg.ConfirmedAt = &now
	return s.store.SaveTOTP(ctx, cfg)
}

// VerifyTOTP checks a code against a confirmed authenticator-app secret.
func (s *RecoveryService) VerifyTOTP(ctx context.Context, userID uuid.UUID, code string) error {
	cfg, err := s.store.GetTOTP(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return NewValidationError("authenticator app is not configured")
		}
		return err
	}
	if !cfg.Confirmed {
		return NewValidationError("authenticator app is not confirmed")
	}
	if !totp.Validate(code, cfg.Secret) {
		return NewValidationError("authenticator code did not match")
	}
	return nil
}

func (s *RecoveryService) DisableTOTP(ctx context.Context, userID uuid.UUID) error {
	if err := s.store.DeleteTOTP(ctx, userID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	return nil
}
