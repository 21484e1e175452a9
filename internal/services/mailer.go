package services

import (
	"fmt"
	"net/smtp"

	"github.com/google/uuid"
	"github.com/keyward/backend/internal/config"
)

// Mailer delivers the plaintext recovery token to the account owner. It is
// invoked synchronously during Initiate; a send failure fails the operation.
type Mailer interface {
	SendRecoveryToken(to, token string, userID uuid.UUID) error
}

type SMTPMailer struct {
	cfg         config.SMTPConfig
	frontendURL string
}

func NewSMTPMailer(cfg config.SMTPConfig, frontendURL string) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, frontendURL: frontendURL}
}

func (m *SMTPMailer) SendRecoveryToken(to, token string, userID uuid.UUID) error {
	subject := "Subject: Account recovery\n"
	body := fmt.Sprintf(
		"A recovery link was requested for your account.\n\n%s/recover?token=%s\n\nIf you did not request this, you can ignore this email.\n",
		m.frontendURL, token,
	)
	message := []byte(subject + "\n" + body)

	auth := smtp.PlainAuth("", m.cfg.From, m.cfg.Password, m.cfg.Host)
	return smtp.SendMail(m.cfg.Host+":"+m.cfg.Port, auth, m.cfg.From, []string{to}, message)
}
