package handlers

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/keyward/backend/internal/config"
	"github.com/keyward/backend/internal/middleware"
	"github.com/keyward/backend/internal/models"
	"github.com/keyward/backend/internal/repository"
	"github.com/keyward/backend/internal/services"
	"github.com/keyward/backend/pkg/logger"
	"github.com/keyward/backend/pkg/utils"
	"gorm.io/gorm"
)

type testEnv struct {
	app    *fiber.App
	db     *gorm.DB
	fake   *fakeVerifier
	mailer *captureMailer
}

var testSetupOnce sync.Once

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	testSetupOnce.Do(func() {
		logger.Init()
		utils.ConfigureJWT("test-secret", 24)
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

	users := repository.NewUserStore(db)
	credentials := repository.NewCredentialStore(db)
	recoveryStore := repository.NewRecoveryStore(db)
	challengeStore := repository.NewChallengeStore(db)

	fake := &fakeVerifier{challenge: "test-challenge", credentialID: []byte("test-cred")}
	mailer := &captureMailer{}

	events := services.NewEvents()
	challenges := services.NewChallengeService(challengeStore, 5*time.Minute)
	ceremonies := services.NewCeremonyService(users, credentials, challenges, fake, events)
	recovery := services.NewRecoveryService(users, recoveryStore, mailer, events, config.RecoveryConfig{
		CodeCount:    8,
		CodeLength:   20,
		EmailEnabled: true,
		TokenTTL:     time.Hour,
	}, "Keyward")

	webauthnHandler := NewWebAuthnHandler(ceremonies)
	recoveryHandler := NewRecoveryHandler(recovery, users)
	usersHandler := NewUsersHandler(users)
	authMiddleware := middleware.NewAuthMiddleware(db)

	app := fiber.New(fiber.Config{BodyLimit: 1 * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS([]string{"http://localhost:3001"}))
	app.Use(middleware.RequestLogger())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")

	authRoutes := api.Group("/auth")
	authRoutes.Post("/register/begin", webauthnHandler.RegisterBegin)
	authRoutes.Post("/register/finish", webauthnHandler.RegisterFinish)
	authRoutes.Post("/login/begin", authMiddleware.OptionalAuth, webauthnHandler.LoginBegin)
	authRoutes.Post("/login/finish", webauthnHandler.LoginFinish)
	authRoutes.Get("/me", authMiddleware.RequireAuth, usersHandler.Me)
	authRoutes.Put("/me", authMiddleware.RequireAuth, usersHandler.UpdateMe)
	authRoutes.Delete("/me", authMiddleware.RequireAuth, usersHandler.DeleteAccount)

	credentialRoutes := api.Group("/credentials", authMiddleware.RequireAuth)
	credentialRoutes.Get("/", webauthnHandler.ListCredentials)
	credentialRoutes.Put("/:id", webauthnHandler.RenameCredential)
	credentialRoutes.Delete("/:id", webauthnHandler.DeleteCredential)

	recoveryRoutes := api.Group("/recovery")
	recoveryRoutes.Post("/codes", authMiddleware.RequireAuth, recoveryHandler.GenerateCodes)
	recoveryRoutes.Get("/codes", authMiddleware.RequireAuth, recoveryHandler.CodeStatus)
	recoveryRoutes.Post("/codes/verify", recoveryHandler.VerifyCode)
	recoveryRoutes.Post("/email", recoveryHandler.InitiateEmail)
	recoveryRoutes.Post("/email/verify", recoveryHandler.VerifyEmailToken)
	recoveryRoutes.Post("/totp/setup", authMiddleware.RequireAuth, recoveryHandler.TOTPSetup)
	recoveryRoutes.Post("/totp/confirm", authMiddleware.RequireAuth, recoveryHandler.TOTPConfirm)
	recoveryRoutes.Post("/totp/verify", recoveryHandler.TOTPVerify)
	recoveryRoutes.Delete("/totp", authMiddleware.RequireAuth, recoveryHandler.TOTPDisable)

	return &testEnv{app: app, db: db, fake: fake, mailer: mailer}
}

// fakeVerifier replaces the cryptographic ceremony math so handler tests can
// drive full ceremonies without an authenticator.
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

type captureMailer struct {
	to    string
	token string
}

func (m *captureMailer) SendRecoveryToken(to, token string, userID uuid.UUID) error {
	m.to = to
	m.token = token
	return nil
}

// ceremonyResponse builds the raw credential JSON a client would post back,
// carrying the expected challenge inside clientDataJSON.
func ceremonyResponse(t *testing.T, challenge string, credentialID []byte) json.RawMessage {
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
		t.Fatalf("failed marshaling ceremony response: %v", err)
	}
	return payload
}

func createTestUser(t *testing.T, db *gorm.DB, email string) (*models.User, string) {
	t.Helper()

	user := &models.User{Email: email, DisplayName: "Test User"}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed creating test user: %v", err)
	}

	token, err := utils.GenerateToken(user)
	if err != nil {
		t.Fatalf("failed generating auth token: %v", err)
	}
	return user, token
}

func seedCredential(t *testing.T, db *gorm.DB, user *models.User, rawID []byte, signCount uint32) *models.WebAuthnCredential {
	t.Helper()

	cred := &models.WebAuthnCredential{
		UserID:       user.ID,
		CredentialID: base64.RawURLEncoding.EncodeToString(rawID),
		PublicKey:    base64.RawURLEncoding.EncodeToString([]byte("test-public-key")),
		SignCount:    signCount,
		Label:        "Seeded",
	}
	if err := db.Create(cred).Error; err != nil {
		t.Fatalf("failed seeding credential: %v", err)
	}
	return cred
}

func authHeaders(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func performRequest(t *testing.T, app *fiber.App, method, path string, body io.Reader, headers map[string]string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := app.Test(req, int((10 * time.Second).Milliseconds()))
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}
	return resp
}

func performJSONRequest(t *testing.T, app *fiber.App, method, path string, payload any, headers map[string]string) *http.Response {
	t.Helper()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}

	requestHeaders := map[string]string{}
	for key, value := range headers {
		requestHeaders[key] = value
	}
	if payload != nil {
		requestHeaders["Content-Type"] = "application/json"
	}

	return performRequest(t, app, method, path, body, requestHeaders)
}

func decodeJSONMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed reading response body: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("failed decoding JSON response: %v body=%q", err, string(raw))
	}
	return payload
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Fatalf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

func assertErrorCode(t *testing.T, body map[string]any, expected string) {
	t.Helper()
	if success, _ := body["success"].(bool); success {
		t.Fatalf("expected success=false, got %+v", body)
	}
	if got, _ := body["code"].(string); got != expected {
		t.Fatalf("expected error code %q, got %q (%+v)", expected, got, body)
	}
}

func dataField(t *testing.T, body map[string]any, key string) any {
	t.Helper()
	data, ok := body["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected a data envelope, got %+v", body)
	}
	return data[key]
}
