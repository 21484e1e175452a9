package services

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"github.com/keyward/backend/internal/models"
	"github.com/keyward/backend/internal/repository"
	"github.com/keyward/backend/pkg/logger"
	"gorm.io/gorm"
)

var testSetupOnce sync.Once

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()

	testSetupOnce.Do(func() {
		logger.Init()
	})

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	err = db.AutoMigrate(
		&models.User{},
		&models.WebAuthnCredential{},
		&models.Challenge{},
		&models.RecoveryCode{},
		&models.RecoveryToken{},
		&models.TOTPConfig{},
	)
	if err != nil {
		t.Fatalf("failed automigrating models: %v", err)
	}

	return db
}

func createTestUser(t *testing.T, db *gorm.DB, email string) *models.User {
	t.Helper()

	user := &models.User{Email: email, DisplayName: "Test User"}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed creating test user: %v", err)
	}
	return user
}

// fakeVerifier stands in for the cryptographic ceremony math. It hands out a
// fixed challenge value and reports whatever sign count the test configures.
type fakeVerifier struct {
	challenge    string
	credentialID []byte
	signCount    uint32
	failFinish   bool
}

var errFakeVerify = errors.New("verification rejected")

func (f *fakeVerifier) credential() *webauthn.Credential {
	return &webauthn.Credential{
		ID:              f.credentialID,
		PublicKey:       []byte("test-public-key"),
		AttestationType: "none",
		Authenticator: webauthn.Authenticator{
			AAGUID:    []byte("test-aaguid-0000"),
			SignCount: f.signCount,
		},
	}
}

func (f *fakeVerifier) BeginRegistration(user webauthn.User, exclusions []webauthn.Credential) (*protocol.CredentialCreation, string, error) {
	return &protocol.CredentialCreation{}, f.challenge, nil
}

func (f *fakeVerifier) FinishRegistration(user webauthn.User, expectedChallenge string, response []byte) (*webauthn.Credential, error) {
	if f.failFinish {
		return nil, errFakeVerify
	}
	return f.credential(), nil
}

func (f *fakeVerifier) BeginLogin(user webauthn.User) (*protocol.CredentialAssertion, string, error) {
	return &protocol.CredentialAssertion{}, f.challenge, nil
}

func (f *fakeVerifier) BeginDiscoverableLogin() (*protocol.CredentialAssertion, string, error) {
	return &protocol.CredentialAssertion{}, f.challenge, nil
}

func (f *fakeVerifier) FinishLogin(user webauthn.User, expectedChallenge string, response []byte) (*webauthn.Credential, error) {
	if f.failFinish {
		return nil, errFakeVerify
	}
	return f.credential(), nil
}

func (f *fakeVerifier) FinishDiscoverableLogin(user webauthn.User, expectedChallenge string, response []byte) (*webauthn.Credential, error) {
	if f.failFinish {
		return nil, errFakeVerify
	}
	return f.credential(), nil
}

// ceremonyPayload builds the wire shape of an attestation or assertion
// response carrying the given challenge inside clientDataJSON.
func ceremonyPayload(t *testing.T, challenge string, credentialID []byte) []byte {
	t.Helper()

	clientData, err := json.Marshal(map[string]string{"challenge": challenge})
	if err != nil {
		t.Fatalf("failed marshaling client data: %v", err)
	}

	payload, err := json.Marshal(map[string]interface{}{
		"rawId": base64.RawURLEncoding.EncodeToString(credentialID),
		"response": map[string]string{
			"clientDataJSON": base64.RawURLEncoding.EncodeToString(clientData),
		},
	})
	if err != nil {
		t.Fatalf("failed marshaling ceremony payload: %v", err)
	}
	return payload
}

func newTestCeremonyService(t *testing.T, db *gorm.DB, fake *fakeVerifier) (*CeremonyService, *Events) {
	t.Helper()

	events := NewEvents()
	challenges := NewChallengeService(repository.NewChallengeStore(db), testChallengeTTL)
	svc := NewCeremonyService(
		repository.NewUserStore(db),
		repository.NewCredentialStore(db),
		challenges,
		fake,
		events,
	)
	return svc, events
}

func assertDomainCode(t *testing.T, err error, code string) {
	t.Helper()

	if err == nil {
		t.Fatalf("expected error with code %q, got nil", code)
	}
	de, ok := AsDomainError(err)
	if !ok {
		t.Fatalf("expected domain error with code %q, got %v", code, err)
	}
	if de.Code != code {
		t.Fatalf("expected code %q, got %q (%v)", code, de.Code, err)
	}
}

func ptr(id uuid.UUID) *uuid.UUID {
	return &id
}
