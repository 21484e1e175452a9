package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/keyward/backend/internal/models"
	"gorm.io/gorm"
)

type GormCredentialStore struct {
	db *gorm.DB
}

func NewCredentialStore(db *gorm.DB) *GormCredentialStore {
	return &GormCredentialStore{db: db}
}

func (s *GormCredentialStore) Create(ctx context.Context, cred *models.WebAuthnCredential) error {
	return s.db.WithContext(ctx).Create(cred).Error
}

func (s *GormCredentialStore) GetByCredentialID(ctx context.Context, credentialID string) (*models.WebAuthnCredential, error) {
	var cred models.WebAuthnCredential
	if err := s.db.WithContext(ctx).First(&cred, "credential_id = ?", credentialID).Error; err != nil {
		return nil, translate(err)
	}
	return &cred, nil
}

func (s *GormCredentialStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.WebAuthnCredential, error) {
	var creds []models.WebAuthnCredential
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&creds).Error
	return creds, err
}

func (s *GormCredentialStore) CountByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.WebAuthnCredential{}).
		Where("user_id = ?", userID).
		Count(&count).Error
	return count, err
}

func (s *GormCredentialStore) UpdateSignCount(ctx context.Context, credentialID string, signCount uint32, lastUsedAt time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.WebAuthnCredential{}).
		Where("credential_id = ?", credentialID).
		Updates(map[string]interface{}{
			"sign_count":   signCount,
			"last_used_at": lastUsedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormCredentialStore) UpdateLabel(ctx context.Context, credentialID, label string) error {
	result := s.db.WithContext(ctx).
		Model(&models.WebAuthnCredential{}).
		Where("credential_id = ?", credentialID).
		Update("label", label)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormCredentialStore) Delete(ctx context.Context, credentialID string) error {
	result := s.db.WithContext(ctx).
		Where("credential_id = ?", credentialID).
		Delete(&models.WebAuthnCredential{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
