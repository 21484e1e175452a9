package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/keyward/backend/internal/models"
	"github.com/redis/go-redis/v9"
)

// RedisChallengeStore keeps challenges in redis with the TTL applied
// natively, so expired challenges disappear without a sweep and consumption
// is an atomic delete.
type RedisChallengeStore struct {
	rdb *redis.Client
}

func NewRedisChallengeStore(rdb *redis.Client) *RedisChallengeStore {
	return &RedisChallengeStore{rdb: rdb}
}

func challengeValueKey(value string) string {
	return "challenge:value:" + value
}

func challengeIDKey(id uuid.UUID) string {
	return "challenge:id:" + id.String()
}

// redisChallenge carries every field explicitly; the model's own JSON tags
// hide the sensitive ones from API responses and cannot be reused here.
type redisChallenge struct {
	ID        uuid.UUID            `json:"id"`
	CreatedAt time.Time            `json:"createdAt"`
	Value     string               `json:"value"`
	Type      models.ChallengeType `json:"type"`
	UserID    *uuid.UUID           `json:"userID,omitempty"`
	Email     string               `json:"email,omitempty"`
	ExpiresAt time.Time            `json:"expiresAt"`
}

func (s *RedisChallengeStore) Create(ctx context.Context, challenge *models.Challenge) error {
	if challenge.ID == uuid.Nil {
		challenge.ID = uuid.New()
	}
	now := time.Now()
	if challenge.CreatedAt.IsZero() {
		challenge.CreatedAt = now
	}
	ttl := time.Until(challenge.ExpiresAt)
	if ttl <= 0 {
		return errors.New("challenge already expired")
	}

	payload, err := json.Marshal(redisChallenge{
		ID:        challenge.ID,
		CreatedAt: challenge.CreatedAt,
		Value:     challenge.Value,
		Type:      challenge.Type,
		UserID:    challenge.UserID,
		Email:     challenge.Email,
		ExpiresAt: challenge.ExpiresAt,
	})
	if err != nil {
		return err
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, challengeValueKey(challenge.Value), payload, ttl)
	pipe.Set(ctx, challengeIDKey(challenge.ID), challenge.Value, ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisChallengeStore) GetByValue(ctx context.Context, value string) (*models.Challenge, error) {
	raw, err := s.rdb.Get(ctx, challengeValueKey(value)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var record redisChallenge
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, err
	}
	challenge := &models.Challenge{
		Value:     record.Value,
		Type:      record.Type,
		UserID:    record.UserID,
		Email:     record.Email,
		ExpiresAt: record.ExpiresAt,
	}
	challenge.ID = record.ID
	challenge.CreatedAt = record.CreatedAt
	return challenge, nil
}

// Delete consumes both keys; GetDel on the id key makes concurrent retires
// settle on a single winner.
func (s *RedisChallengeStore) Delete(ctx context.Context, id uuid.UUID) error {
	value, err := s.rdb.GetDel(ctx, challengeIDKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.rdb.Del(ctx, challengeValueKey(value)).Err()
}

// DeleteExpired is a no-op: redis drops expired keys itself.
func (s *RedisChallengeStore) DeleteExpired(ctx context.Context, now time.Time) error {
	return nil
}

var _ ChallengeStore = (*RedisChallengeStore)(nil)
