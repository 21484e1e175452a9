package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/keyward/backend/internal/models"
	"gorm.io/gorm"
)

type GormChallengeStore struct {
	db *gorm.DB
}

func NewChallengeStore(db *gorm.DB) *GormChallengeStore {
	return &GormChallengeStore{db: db}
}

func (s *GormChallengeStore) Create(ctx context.Context, challenge *models.Challenge) error {
	return s.db.WithContext(ctx).Create(challenge).Error
}

func (s *GormChallengeStore) GetByValue(ctx context.Context, value string) (*models.Challenge, error) {
	var challenge models.Challenge
	if err := s.db.WithContext(ctx).First(&challenge, "value = ?", value).Error; err != nil {
		return nil, translate(err)
	}
	return &challenge, nil
}

func (s *GormChallengeStore) Delete(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Challenge{}).Error
}

func (s *GormChallengeStore) DeleteExpired(ctx context.Context, now time.Time) error {
	return s.db.WithContext(ctx).Where("expires_at < ?", now).Delete(&models.Challenge{}).Error
}
