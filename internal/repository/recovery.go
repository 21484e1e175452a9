package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/keyward/backend/internal/models"
	"gorm.io/gorm"
)

type GormRecoveryStore struct {
	db *gorm.DB
}

func NewRecoveryStore(db *gorm.DB) *GormRecoveryStore {
	return &GormRecoveryStore{db: db}
}

func (s *GormRecoveryStore) CreateCodes(ctx context.Context, codes []models.RecoveryCode) error {
	if len(codes) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(&codes).Error
}

func (s *GormRecoveryStore) ListUnusedCodes(ctx context.Context, userID uuid.UUID) ([]models.RecoveryCode, error) {
	var codes []models.RecoveryCode
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND used = ?", userID, false).
		Order("created_at ASC").
		Find(&codes).Error
	return codes, err
}

func (s *GormRecoveryStore) CountUnusedCodes(ctx context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.RecoveryCode{}).
		Where("user_id = ? AND used = ?", userID, false).
		Count(&count).Error
	return count, err
}

// MarkCodeUsed flips the used flag in a single conditional update so a code
// can only transition unused -> used once.
func (s *GormRecoveryStore) MarkCodeUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.RecoveryCode{}).
		Where("id = ? AND used = ?", id, false).
		Updates(map[string]interface{}{
			"used":    true,
			"used_at": usedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormRecoveryStore) DeleteCodes(ctx context.Context, userID uuid.UUID) error {
	return s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.RecoveryCode{}).Error
}

func (s *GormRecoveryStore) CreateToken(ctx context.Context, token *models.RecoveryToken) error {
	return s.db.WithContext(ctx).Create(token).Error
}

func (s *GormRecoveryStore) GetActiveTokenByHash(ctx context.Context, hash string, now time.Time) (*models.RecoveryToken, error) {
	var token models.RecoveryToken
	err := s.db.WithContext(ctx).
		Where("token_hash = ? AND used = ? AND expires_at > ?", hash, false, now).
		First(&token).Error
	if err != nil {
		return nil, translate(err)
	}
	return &token, nil
}

func (s *GormRecoveryStore) MarkTokenUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.RecoveryToken{}).
		Where("id = ? AND used = ?", id, false).
		Updates(map[string]interface{}{
			"used":    true,
			"used_at": usedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormRecoveryStore) DeleteExpiredTokens(ctx context.Context, now time.Time) error {
	return s.db.WithContext(ctx).Where("expires_at < ?", now).Delete(&models.RecoveryToken{}).Error
}

func (s *GormRecoveryStore) GetTOTP(ctx context.Context, userID uuid.UUID) (*models.TOTPConfig, error) {
	var cfg models.TOTPConfig
	if err := s.db.WithContext(ctx).First(&cfg, "user_id = ?", userID).Error; err != nil {
		return nil, translate(err)
	}
	return &cfg, nil
}

func (s *GormRecoveryStore) SaveTOTP(ctx context.Context, cfg *models.TOTPConfig) error {
	return s.db.WithContext(ctx).Save(cfg).Error
}

func (s *GormRecoveryStore) DeleteTOTP(ctx context.Context, userID uuid.UUID) error {
	return s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.TOTPConfig{}).Error
}

var (
	_ UserStore       = (*GormUserStore)(nil)
	_ CredentialStore = (*GormCredentialStore)(nil)
	_ ChallengeStore  = (*GormChallengeStore)(nil)
	_ RecoveryStore   = (*GormRecoveryStore)(nil)
)
