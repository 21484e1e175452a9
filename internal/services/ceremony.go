package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"github.com/keyward/backend/internal/models"
	"github.com/keyward/backend/internal/repository"
)

const defaultCredentialLabel = "Passkey"

// CeremonyService orchestrates the two-step WebAuthn ceremonies. It owns the
// policy around them (challenge lifecycle, counter anomaly detection,
// last-credential protection, ownership checks) and delegates the
// cryptographic verification to a CeremonyVerifier.
type CeremonyService struct {
	users       repository.UserStore
	credentials repository.CredentialStore
	challenges  *ChallengeService
	verifier    CeremonyVerifier
	events      *Events
	validate    *validator.Validate
}

func NewCeremonyService(users repository.UserStore, credentials repository.CredentialStore, challenges *ChallengeService, verifier CeremonyVerifier, events *Events) *CeremonyService {
	return &CeremonyService{
		users:       users,
		credentials: credentials,
		challenges:  challenges,
		verifier:    verifier,
		events:      events,
		validate:    validator.New(),
	}
}

// ceremonyUser adapts a stored user and their credentials to the shape the
// verifier expects. The WebAuthn user handle is the raw UUID bytes.
type ceremonyUser struct {
	user  *models.User
	creds []webauthn.Credential
}

func newCeremonyUser(user *models.User, stored []models.WebAuthnCredential) (*ceremonyUser, error) {
	creds := make([]webauthn.Credential, 0, len(stored))
	for i := range stored {
		cred, err := credentialFromModel(&stored[i])
		if err != nil {
			return nil, err
		}
		creds = append(creds, *cred)
	}
	return &ceremonyUser{user: user, creds: creds}, nil
}

func (u *ceremonyUser) WebAuthnID() []byte {
	id := u.user.ID
	return id[:]
}

func (u *ceremonyUser) WebAuthnName() string {
	return u.user.Email
}

func (u *ceremonyUser) WebAuthnDisplayName() string {
	return u.user.DisplayName
}

func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential {
	return u.creds
}

// transportHinted filters to credentials that carry transport hints. Only
// those go into exclusion and allow lists; hintless credentials are left for
// the client to discover on its own.
func transportHinted(creds []webauthn.Credential) []webauthn.Credential {
	var hinted []webauthn.Credential
	for _, cred := range creds {
		if len(cred.Transport) > 0 {
			hinted = append(hinted, cred)
		}
	}
	return hinted
}

func credentialFromModel(m *models.WebAuthnCredential) (*webauthn.Credential, error) {
	credentialID, err := base64.RawURLEncoding.DecodeString(m.CredentialID)
	if err != nil {
		return nil, err
	}
	publicKey, err := base64.RawURLEncoding.DecodeString(m.PublicKey)
	if err != nil {
		return nil, err
	}

	var transports []protocol.AuthenticatorTransport
	if m.Transports != "" {
		var names []string
		if err := json.Unmarshal([]byte(m.Transports), &names); err != nil {
			return nil, err
		}
		for _, name := range names {
			transports = append(transports, protocol.AuthenticatorTransport(name))
		}
	}

	return &webauthn.Credential{
		ID:              credentialID,
		PublicKey:       publicKey,
		AttestationType: m.AttestationType,
		Transport:       transports,
		Flags: webauthn.CredentialFlags{
			BackupEligible: m.BackupEligible,
			BackupState:    m.BackupState,
		},
		Authenticator: webauthn.Authenticator{
			AAGUID:    m.AAGUID,
			SignCount: m.SignCount,
		},
	}, nil
}

func modelFromCredential(userID uuid.UUID, cred *webauthn.Credential, label string) (*models.WebAuthnCredential, error) {
	names := make([]string, 0, len(cred.Transport))
	for _, transport := range cred.Transport {
		names = append(names, string(transport))
	}
	transports, err := json.Marshal(names)
	if err != nil {
		return nil, err
	}

	if label == "" {
		label = defaultCredentialLabel
	}

	return &models.WebAuthnCredential{
		UserID:          userID,
		CredentialID:    base64.RawURLEncoding.EncodeToString(cred.ID),
		PublicKey:       base64.RawURLEncoding.EncodeToString(cred.PublicKey),
		AttestationType: cred.AttestationType,
		AAGUID:          cred.Authenticator.AAGUID,
		SignCount:       cred.Authenticator.SignCount,
		Transports:      string(transports),
		Label:           label,
		BackupEligible:  cred.Flags.BackupEligible,
		BackupState:     cred.Flags.BackupState,
	}, nil
}

// PrepareRegistration starts a registration ceremony. An unknown email gets
// a fresh account; a known one adds another passkey to it, with existing
// credentials excluded so the authenticator refuses duplicates.
func (s *CeremonyService) PrepareRegistration(ctx context.Context, email, displayName string) (*protocol.CredentialCreation, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := s.validate.Var(email, "required,email"); err != nil {
		return nil, NewValidationError("a valid email address is required")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		if displayName == "" {
			displayName = email[:strings.Index(email, "@")]
		}
		user = &models.User{Email: email, DisplayName: displayName}
		if err := s.users.Create(ctx, user); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	stored, err := s.credentials.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	cu, err := newCeremonyUser(user, stored)
	if err != nil {
		return nil, err
	}

	creation, challenge, err := s.verifier.BeginRegistration(cu, transportHinted(cu.creds))
	if err != nil {
		return nil, NewRegistrationFailed("could not start registration", err)
	}
	if _, err := s.challenges.Record(ctx, challenge, models.ChallengeRegistration, &user.ID, user.Email); err != nil {
		return nil, err
	}

	s.emit(EventRegistrationStarted, &user.ID, user.Email, nil)
	return creation, nil
}

// CompleteRegistration verifies the attestation response against the pending
// challenge and persists the new credential. The challenge is retired only
// after the credential is stored.
func (s *CeremonyService) CompleteRegistration(ctx context.Context, payload []byte, label string) (*models.User, *models.WebAuthnCredential, error) {
	challenge, err := s.challenges.Verify(ctx, models.ChallengeRegistration, payload)
	if err != nil {
		return nil, nil, err
	}
	if challenge.UserID == nil {
		return nil, nil, NewInvalidChallenge("registration challenge has no account bound")
	}

	user, err := s.users.GetByID(ctx, *challenge.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, NewInvalidChallenge("account no longer exists")
		}
		return nil, nil, err
	}
	stored, err := s.credentials.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}
	cu, err := newCeremonyUser(user, stored)
	if err != nil {
		return nil, nil, err
	}

	verified, err := s.verifier.FinishRegistration(cu, challenge.Value, payload)
	if err != nil {
		s.emit(EventRegistrationFailed, &user.ID, user.Email, map[string]interface{}{"error": err.Error()})
		return nil, nil, NewRegistrationFailed("attestation verification failed", err)
	}

	cred, err := modelFromCredential(user.ID, verified, label)
	if err != nil {
		return nil, nil, err
	}
	if err := s.credentials.Create(ctx, cred); err != nil {
		s.emit(EventRegistrationFailed, &user.ID, user.Email, map[string]interface{}{"error": err.Error()})
		return nil, nil, NewRegistrationFailed("credential already registered", err)
	}
	if err := s.challenges.Retire(ctx, challenge.ID); err != nil {
		return nil, nil, err
	}

	s.emit(EventRegistrationSucceeded, &user.ID, user.Email, map[string]interface{}{
		"credential_id": cred.CredentialID,
	})
	return user, cred, nil
}

// PrepareAuthentication starts an authentication ceremony. Without an email,
// or for an email with nothing usable on file, it falls back to a
// discoverable (usernameless) ceremony, so the response never reveals
// whether an account exists.
func (s *CeremonyService) PrepareAuthentication(ctx context.Context, email string) (*protocol.CredentialAssertion, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	if email != "" {
		if err := s.validate.Var(email, "email"); err != nil {
			return nil, NewValidationError("email address is malformed")
		}
		user, err := s.users.GetByEmail(ctx, email)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		if user != nil {
			stored, err := s.credentials.ListByUser(ctx, user.ID)
			if err != nil {
				return nil, err
			}
			cu, err := newCeremonyUser(user, stored)
			if err != nil {
				return nil, err
			}
			// The allow list only ever names transport-hinted credentials.
			// Without any, the client picks from its own stored passkeys.
			if hinted := transportHinted(cu.creds); len(hinted) > 0 {
				cu.creds = hinted
				assertion, challenge, err := s.verifier.BeginLogin(cu)
				if err != nil {
					return nil, NewAuthenticationFailed("could not start authentication", err)
				}
				if _, err := s.challenges.Record(ctx, challenge, models.ChallengeAuthentication, &user.ID, user.Email); err != nil {
					return nil, err
				}
				s.emit(EventAuthenticationStarted, &user.ID, user.Email, nil)
				return assertion, nil
			}
		}
	}

	assertion, challenge, err := s.verifier.BeginDiscoverableLogin()
	if err != nil {
		return nil, NewAuthenticationFailed("could not start authentication", err)
	}
	if _, err := s.challenges.Record(ctx, challenge, models.ChallengeAuthentication, nil, email); err != nil {
		return nil, err
	}
	if email != "" {
		s.emit(EventAuthenticationStarted, nil, email, nil)
	}
	return assertion, nil
}

// CompleteAuthentication verifies the assertion response, enforces the
// signature counter rule, and records the new counter and last-use time.
func (s *CeremonyService) CompleteAuthentication(ctx context.Context, payload []byte) (*models.User, *models.WebAuthnCredential, error) {
	challenge, err := s.challenges.Verify(ctx, models.ChallengeAuthentication, payload)
	if err != nil {
		return nil, nil, err
	}

	credentialID, err := credentialIDFromPayload(payload)
	if err != nil {
		return nil, nil, NewValidationError("malformed assertion response")
	}

	cred, err := s.credentials.GetByCredentialID(ctx, credentialID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.emit(EventAuthenticationFailed, challenge.UserID, failureEmail(challenge.Email), map[string]interface{}{
				"reason": "credential not found",
			})
			return nil, nil, NewAuthenticationFailed("credential not found", nil)
		}
		return nil, nil, err
	}

	owner, err := s.users.GetByID(ctx, cred.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.emit(EventAuthenticationFailed, nil, failureEmail(challenge.Email), map[string]interface{}{
				"reason": "credential owner missing",
			})
			return nil, nil, NewAuthenticationFailed("credential not found", nil)
		}
		return nil, nil, err
	}
	if challenge.UserID != nil && *challenge.UserID != owner.ID {
		s.emit(EventAuthenticationFailed, &owner.ID, owner.Email, map[string]interface{}{
			"reason": "challenge bound to a different account",
		})
		return nil, nil, NewAuthenticationFailed("credential does not belong to this account", nil)
	}

	stored, err := s.credentials.ListByUser(ctx, owner.ID)
	if err != nil {
		return nil, nil, err
	}
	cu, err := newCeremonyUser(owner, stored)
	if err != nil {
		return nil, nil, err
	}

	var verified *webauthn.Credential
	if challenge.UserID != nil {
		verified, err = s.verifier.FinishLogin(cu, challenge.Value, payload)
	} else {
		verified, err = s.verifier.FinishDiscoverableLogin(cu, challenge.Value, payload)
	}
	if err != nil {
		s.emit(EventAuthenticationFailed, &owner.ID, owner.Email, map[string]interface{}{"error": err.Error()})
		return nil, nil, NewAuthenticationFailed("assertion verification failed", err)
	}

	// A regression to zero is how a cloned authenticator typically shows up,
	// so only the both-zero case is exempt.
	reported := verified.Authenticator.SignCount
	if (cred.SignCount > 0 || reported > 0) && reported <= cred.SignCount {
		s.emit(EventCounterAnomaly, &owner.ID, owner.Email, map[string]interface{}{
			"credential_id":       cred.CredentialID,
			"stored_sign_count":   cred.SignCount,
			"reported_sign_count": reported,
		})
		return nil, nil, NewCounterAnomaly(cred.SignCount, reported)
	}

	now := time.Now()
	if err := s.credentials.UpdateSignCount(ctx, cred.CredentialID, reported, now); err != nil {
		return nil, nil, err
	}
	cred.SignCount = reported
	cred.LastUsedAt = &now
	if err := s.challenges.Retire(ctx, challenge.ID); err != nil {
		return nil, nil, err
	}

	s.emit(EventAuthenticationSucceeded, &owner.ID, owner.Email, map[string]interface{}{
		"credential_id": cred.CredentialID,
	})
	return owner, cred, nil
}

func (s *CeremonyService) ListCredentials(ctx context.Context, userID uuid.UUID) ([]models.WebAuthnCredential, error) {
	return s.credentials.ListByUser(ctx, userID)
}

func (s *CeremonyService) RenameCredential(ctx context.Context, userID uuid.UUID, credentialID, label string) (*models.WebAuthnCredential, error) {
	label = strings.TrimSpace(label)
	if label == "" || len(label) > 255 {
		return nil, NewValidationError("label must be between 1 and 255 characters")
	}

	cred, err := s.credentialForOwner(ctx, userID, credentialID)
	if err != nil {
		return nil, err
	}
	if err := s.credentials.UpdateLabel(ctx, cred.CredentialID, label); err != nil {
		return nil, err
	}
	cred.Label = label
	return cred, nil
}

// DeleteCredential removes a passkey but refuses to remove the last one, so
// an account cannot be locked out of the passwordless path entirely.
func (s *CeremonyService) DeleteCredential(ctx context.Context, userID uuid.UUID, credentialID string) error {
	cred, err := s.credentialForOwner(ctx, userID, credentialID)
	if err != nil {
		return err
	}

	count, err := s.credentials.CountByUser(ctx, userID)
	if err != nil {
		return err
	}
	if count <= 1 {
		return NewValidationError("cannot delete the last passkey on the account")
	}

	if err := s.credentials.Delete(ctx, cred.CredentialID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return NewCredentialNotFound()
		}
		return err
	}

	s.emit(EventCredentialDeleted, &userID, "", map[string]interface{}{
		"credential_id": cred.CredentialID,
	})
	return nil
}

// credentialForOwner is the single place ownership is checked. A missing
// credential and one owned by someone else produce the same error.
func (s *CeremonyService) credentialForOwner(ctx context.Context, userID uuid.UUID, credentialID string) (*models.WebAuthnCredential, error) {
	cred, err := s.credentials.GetByCredentialID(ctx, credentialID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, NewCredentialNotFound()
		}
		return nil, err
	}
	if cred.UserID != userID {
		return nil, NewCredentialNotFound()
	}
	return cred, nil
}

func (s *CeremonyService) emit(eventType EventType, userID *uuid.UUID, email string, fields map[string]interface{}) {
	s.events.Emit(Event{Type: eventType, UserID: userID, Email: email, Fields: fields})
}

// failureEmail labels failure events for which no account could be resolved.
func failureEmail(email string) string {
	if email == "" {
		return "unknown"
	}
	return email
}

// credentialIDFromPayload pulls the credential identifier off the raw
// assertion response; rawId is preferred, id accepted.
func credentialIDFromPayload(payload []byte) (string, error) {
	var envelope struct {
		RawID string `json:"rawId"`
		ID    string `json:"id"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return "", err
	}
	if envelope.RawID != "" {
		return envelope.RawID, nil
	}
	if envelope.ID != "" {
		return envelope.ID, nil
	}
	return "", errors.New("missing credential id")
}
