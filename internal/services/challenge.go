package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/keyward/backend/internal/models"
	"github.com/keyward/backend/internal/repository"
	"github.com/keyward/backend/pkg/logger"
	"github.com/keyward/backend/pkg/utils"
)

// ChallengeService owns the lifecycle of ceremony challenges: issue, single
// verification, retirement. A challenge that has expired is removed the
// moment it is seen, so a slow client cannot replay it.
type ChallengeService struct {
	store repository.ChallengeStore
	ttl   time.Duration
}

func NewChallengeService(store repository.ChallengeStore, ttl time.Duration) *ChallengeService {
	return &ChallengeService{store: store, ttl: ttl}
}

// Issue creates and persists a fresh challenge bound to a ceremony type and,
// optionally, a known user.
func (s *ChallengeService) Issue(ctx context.Context, challengeType models.ChallengeType, userID *uuid.UUID, email string) (*models.Challenge, error) {
	value, err := utils.RandomChallenge()
	if err != nil {
		return nil, err
	}
	challenge := &models.Challenge{
		Value:     value,
		Type:      challengeType,
		UserID:    userID,
		Email:     email,
		ExpiresAt: time.Now().Add(s.ttl),
	}
	if err := s.store.Create(ctx, challenge); err != nil {
		return nil, err
	}
	return challenge, nil
}

// Record persists a challenge value minted elsewhere (the verifier mints its
// own during Begin calls) under the same lifecycle rules as Issue.
func (s *ChallengeService) Record(ctx context.Context, value string, challengeType models.ChallengeType, userID *uuid.UUID, email string) (*models.Challenge, error) {
	challenge := &models.Challenge{
		Value:     value,
		Type:      challengeType,
		UserID:    userID,
		Email:     email,
		ExpiresAt: time.Now().Add(s.ttl),
	}
	if err := s.store.Create(ctx, challenge); err != nil {
		return nil, err
	}
	return challenge, nil
}

// Verify extracts the challenge value from a raw client ceremony payload and
// returns the matching pending challenge of the expected type. The challenge
// is not consumed here; the caller retires it once the full ceremony
// succeeds.
func (s *ChallengeService) Verify(ctx context.Context, challengeType models.ChallengeType, payload []byte) (*models.Challenge, error) {
	value, err := challengeFromPayload(payload)
	if err != nil {
		return nil, NewInvalidChallenge("malformed client payload")
	}

	challenge, err := s.store.GetByValue(ctx, value)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, NewInvalidChallenge("unknown or already used challenge")
		}
		return nil, err
	}
	if challenge.Type != challengeType {
		return nil, NewInvalidChallenge("challenge issued for a different ceremony")
	}
	if time.Now().After(challenge.ExpiresAt) {
		if err := s.store.Delete(ctx, challenge.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
			logger.Warn("challenge_expiry_delete_failed", map[string]interface{}{
				"challenge_id": challenge.ID,
				"error":        err.Error(),
			})
		}
		return nil, NewInvalidChallenge("challenge expired")
	}
	return challenge, nil
}

// Retire removes a challenge after its ceremony completed. Retiring a
// challenge that is already gone is not an error.
func (s *ChallengeService) Retire(ctx context.Context, id uuid.UUID) error {
	if err := s.store.Delete(ctx, id); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	return nil
}

// PurgeExpired sweeps challenges that outlived their TTL without being used.
func (s *ChallengeService) PurgeExpired(ctx context.Context) error {
	return s.store.DeleteExpired(ctx, time.Now())
}

// challengeFromPayload digs the challenge value out of the clientDataJSON
// carried by an attestation or assertion response.
func challengeFromPayload(payload []byte) (string, error) {
	var envelope struct {
		Response struct {
			ClientDataJSON string `json:"clientDataJSON"`
		} `json:"response"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return "", err
	}
	if envelope.Response.ClientDataJSON == "" {
		return "", errors.New("missing clientDataJSON")
	}

	raw, err := base64.RawURLEncoding.DecodeString(envelope.Response.ClientDataJSON)
	if err != nil {
		// Some clients pad their base64url output.
		raw, err = base64.URLEncoding.DecodeString(envelope.Response.ClientDataJSON)
		if err != nil {
			return "", err
		}
	}

	var clientData struct {
		Challenge string `json:"challenge"`
	}
	if err := json.Unmarshal(raw, &clientData); err != nil {
		return "", err
	}
	if clientData.Challenge == "" {
		return "", errors.New("missing challenge in client data")
	}
	return clientData.Challenge, nil
}
