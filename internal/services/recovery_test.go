package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/keyward/backend/internal/config"
	"github.com/keyward/backend/internal/models"
	"github.com/keyward/backend/internal/repository"
	"github.com/keyward/backend/pkg/utils"
	"github.com/pquerna/otp/totp"
	"gorm.io/gorm"
)

type captureMailer struct {
	to    string
	token string
	err   error
}

func (m *captureMailer) SendRecoveryToken(to, token string, userID uuid.UUID) error {
	if m.err != nil {
		return m.err
	}
	m.to = to
	m.token = token
	return nil
}

func testRecoveryConfig() config.RecoveryConfig {
	return config.RecoveryConfig{
		CodeCount:    8,
		CodeLength:   20,
		EmailEnabled: true,
		TokenTTL:     time.Hour,
	}
}

func newTestRecoveryService(t *testing.T, db *gorm.DB, mailer Mailer, cfg config.RecoveryConfig) (*RecoveryService, *Events) {
	t.Helper()

	events := NewEvents()
	svc := NewRecoveryService(
		repository.NewUserStore(db),
		repository.NewRecoveryStore(db),
		mailer,
		events,
		cfg,
		"Keyward",
	)
	return svc, events
}

func TestGenerateRecoveryCodes(t *testing.T) {
	db := setupDB(t)
	svc, events := newTestRecoveryService(t, db, &captureMailer{}, testRecoveryConfig())
	seen := collectEvents(events)
	ctx := context.Background()

	user := createTestUser(t, db, "alice@example.com")
	codes, err := svc.GenerateCodes(ctx, user.ID)
	if err != nil {
		t.Fatalf("failed generating codes: %v", err)
	}
	if len(codes) != 8 {
		t.Fatalf("expected 8 codes, got %d", len(codes))
	}

	unique := map[string]bool{}
	for _, code := range codes {
		if len(code) != 20 {
			t.Fatalf("expected 20-character codes, got %q", code)
		}
		if strings.ContainsAny(code, "0O1Il") {
			t.Fatalf("code %q contains an ambiguous character", code)
		}
		unique[code] = true
	}
	if len(unique) != len(codes) {
		t.Fatal("expected all codes to be distinct")
	}

	// Only hashes are persisted.
	var stored []models.RecoveryCode
	if err := db.Find(&stored, "user_id = ?", user.ID).Error; err != nil {
		t.Fatalf("failed loading stored codes: %v", err)
	}
	for _, record := range stored {
		for _, code := range codes {
			if record.CodeHash == code {
				t.Fatal("plaintext code found in storage")
			}
		}
	}

	if !hasEvent(*seen, EventRecoveryCodesRegenerated) {
		t.Fatalf("expected a regeneration event, got %+v", *seen)
	}
}

func TestVerifyRecoveryCodeOnce(t *testing.T) {
	db := setupDB(t)
	svc, events := newTestRecoveryService(t, db, &captureMailer{}, testRecoveryConfig())
	seen := collectEvents(events)
	ctx := context.Background()

	user := createTestUser(t, db, "bob@example.com")
	codes, err := svc.GenerateCodes(ctx, user.ID)
	if err != nil {
		t.Fatalf("failed generating codes: %v", err)
	}

	if err := svc.VerifyCode(ctx, user.ID, codes[0]); err != nil {
		t.Fatalf("first redemption must succeed, got %v", err)
	}
	err = svc.VerifyCode(ctx, user.ID, codes[0])
	assertDomainCode(t, err, CodeInvalidRecoveryCode)

	err = svc.VerifyCode(ctx, user.ID, "definitely-wrong-code")
	assertDomainCode(t, err, CodeInvalidRecoveryCode)

	remaining, err := svc.CodeCount(ctx, user.ID)
	if err != nil {
		t.Fatalf("failed counting codes: %v", err)
	}
	if remaining != 7 {
		t.Fatalf("expected 7 unused codes, got %d", remaining)
	}

	if !hasEvent(*seen, EventRecoveryCodeUsed) {
		t.Fatalf("expected a code-used event, got %+v", *seen)
	}
}

func TestRegenerationInvalidatesOldCodes(t *testing.T) {
	db := setupDB(t)
	svc, _ := newTestRecoveryService(t, db, &captureMailer{}, testRecoveryConfig())
	ctx := context.Background()

	user := createTestUser(t, db, "carol@example.com")
	oldCodes, err := svc.GenerateCodes(ctx, user.ID)
	if err != nil {
		t.Fatalf("failed generating codes: %v", err)
	}
	if _, err := svc.GenerateCodes(ctx, user.ID); err != nil {
		t.Fatalf("failed regenerating codes: %v", err)
	}

	err = svc.VerifyCode(ctx, user.ID, oldCodes[0])
	assertDomainCode(t, err, CodeInvalidRecoveryCode)

	remaining, err := svc.CodeCount(ctx, user.ID)
	if err != nil {
		t.Fatalf("failed counting codes: %v", err)
	}
	if remaining != 8 {
		t.Fatalf("expected a full fresh set of 8 codes, got %d", remaining)
	}
}

func TestEmailRecoveryFlow(t *testing.T) {
	db := setupDB(t)
	mailer := &captureMailer{}
	svc, events := newTestRecoveryService(t, db, mailer, testRecoveryConfig())
	seen := collectEvents(events)
	ctx := context.Background()

	user := createTestUser(t, db, "dave@example.com")
	token, err := svc.InitiateEmailRecovery(ctx, "Dave@Example.com")
	if err != nil {
		t.Fatalf("failed initiating recovery: %v", err)
	}
	if mailer.to != user.Email {
		t.Fatalf("expected mail to %q, got %q", user.Email, mailer.to)
	}
	if len(mailer.token) != 64 {
		t.Fatalf("expected a 64-character token, got %d characters", len(mailer.token))
	}
	if token.TokenHash != utils.HashToken(mailer.token) {
		t.Fatal("stored hash must be the deterministic hash of the mailed token")
	}

	userID, err := svc.VerifyEmailToken(ctx, mailer.token)
	if err != nil {
		t.Fatalf("failed verifying token: %v", err)
	}
	if userID != user.ID {
		t.Fatal("expected the recovering user's id back")
	}

	// Single use.
	_, err = svc.VerifyEmailToken(ctx, mailer.token)
	assertDomainCode(t, err, CodeInvalidRecoveryToken)

	if !hasEvent(*seen, EventEmailRecoveryRequested) || !hasEvent(*seen, EventEmailRecoveryCompleted) {
		t.Fatalf("expected request and completion events, got %+v", *seen)
	}
}

func TestEmailRecoveryUnknownEmail(t *testing.T) {
	db := setupDB(t)
	svc, _ := newTestRecoveryService(t, db, &captureMailer{}, testRecoveryConfig())

	_, err := svc.InitiateEmailRecovery(context.Background(), "ghost@example.com")
	assertDomainCode(t, err, CodeUserNotFound)
}

func TestEmailRecoveryExpiredToken(t *testing.T) {
	db := setupDB(t)
	mailer := &captureMailer{}
	cfg := testRecoveryConfig()
	cfg.TokenTTL = -time.Minute
	svc, _ := newTestRecoveryService(t, db, mailer, cfg)
	ctx := context.Background()

	createTestUser(t, db, "erin@example.com")
	if _, err := svc.InitiateEmailRecovery(ctx, "erin@example.com"); err != nil {
		t.Fatalf("failed initiating recovery: %v", err)
	}

	_, err := svc.VerifyEmailToken(ctx, mailer.token)
	assertDomainCode(t, err, CodeInvalidRecoveryToken)
}

func TestEmailRecoveryMailerFailureKeepsToken(t *testing.T) {
	db := setupDB(t)
	mailer := &captureMailer{err: errors.New("smtp unavailable")}
	svc, _ := newTestRecoveryService(t, db, mailer, testRecoveryConfig())
	ctx := context.Background()

	user := createTestUser(t, db, "frank@example.com")
	if _, err := svc.InitiateEmailRecovery(ctx, user.Email); err == nil {
		t.Fatal("expected the mailer failure to surface")
	}

	// The token record stays; it expires on its own.
	var count int64
	if err := db.Model(&models.RecoveryToken{}).Where("user_id = ?", user.ID).Count(&count).Error; err != nil {
		t.Fatalf("failed counting tokens: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected the token to persist, found %d", count)
	}
}

func TestEmailRecoveryDisabled(t *testing.T) {
	db := setupDB(t)
	cfg := testRecoveryConfig()
	cfg.EmailEnabled = false
	svc, _ := newTestRecoveryService(t, db, &captureMailer{}, cfg)
	ctx := context.Background()

	createTestUser(t, db, "grace@example.com")
	_, err := svc.InitiateEmailRecovery(ctx, "grace@example.com")
	assertDomainCode(t, err, CodeRecoveryDisabled)
	_, err = svc.VerifyEmailToken(ctx, "whatever")
	assertDomainCode(t, err, CodeRecoveryDisabled)
}

func TestTOTPLifecycle(t *testing.T) {
	db := setupDB(t)
	svc, _ := newTestRecoveryService(t, db, &captureMailer{}, testRecoveryConfig())
	ctx := context.Background()

	user := createTestUser(t, db, "heidi@example.com")
	secret, url, err := svc.SetupTOTP(ctx, user.ID)
	if err != nil {
		t.Fatalf("failed setting up totp: %v", err)
	}
	if secret == "" || url == "" {
		t.Fatal("expected a secret and provisioning url")
	}

	// Unconfirmed secrets are not usable for verification.
	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("failed generating totp code: %v", err)
	}
	if err := svc.VerifyTOTP(ctx, user.ID, code); err == nil {
		t.Fatal("expected verification to fail before confirmation")
	}

	if err := svc.ConfirmTOTP(ctx, user.ID, "000000"); err == nil {
		t.Fatal("expected confirmation with a wrong code to fail")
	}
	if err := svc.ConfirmTOTP(ctx, user.ID, code); err != nil {
		t.Fatalf("failed confirming totp: %v", err)
	}

	code, err = totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("failed generating totp code: %v", err)
	}
	if err := svc.VerifyTOTP(ctx, user.ID, code); err != nil {
		t.Fatalf("failed verifying confirmed totp: %v", err)
	}

	if err := svc.DisableTOTP(ctx, user.ID); err != nil {
		t.Fatalf("failed disabling totp: %v", err)
	}
	if err := svc.VerifyTOTP(ctx, user.ID, code); err == nil {
		t.Fatal("expected verification to fail after disable")
	}
}
