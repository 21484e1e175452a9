package services

import (
	"bytes"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/keyward/backend/internal/config"
)

// CeremonyVerifier is the boundary to the cryptographic ceremony math. The
// orchestrator never parses attestations or checks signatures itself; it
// hands the client payload and the expected challenge value across this
// contract and stores what comes back.
type CeremonyVerifier interface {
	BeginRegistration(user webauthn.User, exclusions []webauthn.Credential) (*protocol.CredentialCreation, string, error)
	FinishRegistration(user webauthn.User, expectedChallenge string, response []byte) (*webauthn.Credential, error)
	BeginLogin(user webauthn.User) (*protocol.CredentialAssertion, string, error)
	BeginDiscoverableLogin() (*protocol.CredentialAssertion, string, error)
	FinishLogin(user webauthn.User, expectedChallenge string, response []byte) (*webauthn.Credential, error)
	FinishDiscoverableLogin(user webauthn.User, expectedChallenge string, response []byte) (*webauthn.Credential, error)
}

// WebAuthnVerifier implements the contract with go-webauthn. Ceremony state
// is not kept as library session blobs; only the challenge value survives
// between the two steps, and the session is rebuilt around it at finish.
type WebAuthnVerifier struct {
	wa               *webauthn.WebAuthn
	userVerification protocol.UserVerificationRequirement
}

func NewWebAuthnVerifier(cfg config.RelyingPartyConfig) (*WebAuthnVerifier, error) {
	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName:         cfg.DisplayName,
		RPID:                  cfg.ID,
		RPOrigins:             cfg.Origins,
		AttestationPreference: protocol.ConveyancePreference(cfg.Attestation),
		AuthenticatorSelection: protocol.AuthenticatorSelection{
			UserVerification: protocol.UserVerificationRequirement(cfg.UserVerification),
		},
		Timeouts: webauthn.TimeoutsConfig{
			Login: webauthn.TimeoutConfig{
				Enforce: true,
				Timeout: cfg.CeremonyTimeout,
			},
			Registration: webauthn.TimeoutConfig{
				Enforce: true,
				Timeout: cfg.CeremonyTimeout,
			},
		},
	})
	if err != nil {
		return nil, err
	}
	return &WebAuthnVerifier{
		wa:               wa,
		userVerification: protocol.UserVerificationRequirement(cfg.UserVerification),
	}, nil
}

func (v *WebAuthnVerifier) BeginRegistration(user webauthn.User, exclusions []webauthn.Credential) (*protocol.CredentialCreation, string, error) {
	var options []webauthn.RegistrationOption
	if len(exclusions) > 0 {
		options = append(options, webauthn.WithExclusions(webauthn.Credentials(exclusions).CredentialDescriptors()))
	}

	creation, session, err := v.wa.BeginRegistration(user, options...)
	if err != nil {
		return nil, "", err
	}
	return creation, session.Challenge, nil
}

func (v *WebAuthnVerifier) FinishRegistration(user webauthn.User, expectedChallenge string, response []byte) (*webauthn.Credential, error) {
	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(response))
	if err != nil {
		return nil, err
	}
	return v.wa.CreateCredential(user, v.session(expectedChallenge, user.WebAuthnID()), parsed)
}

func (v *WebAuthnVerifier) BeginLogin(user webauthn.User) (*protocol.CredentialAssertion, string, error) {
	assertion, session, err := v.wa.BeginLogin(user)
	if err != nil {
		return nil, "", err
	}
	return assertion, session.Challenge, nil
}

func (v *WebAuthnVerifier) BeginDiscoverableLogin() (*protocol.CredentialAssertion, string, error) {
	assertion, session, err := v.wa.BeginDiscoverableLogin()
	if err != nil {
		return nil, "", err
	}
	return assertion, session.Challenge, nil
}

func (v *WebAuthnVerifier) FinishLogin(user webauthn.User, expectedChallenge string, response []byte) (*webauthn.Credential, error) {
	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(response))
	if err != nil {
		return nil, err
	}
	return v.wa.ValidateLogin(user, v.session(expectedChallenge, user.WebAuthnID()), parsed)
}

func (v *WebAuthnVerifier) FinishDiscoverableLogin(user webauthn.User, expectedChallenge string, response []byte) (*webauthn.Credential, error) {
	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(response))
	if err != nil {
		return nil, err
	}
	handler := func(rawID, userHandle []byte) (webauthn.User, error) {
		return user, nil
	}
	return v.wa.ValidateDiscoverableLogin(handler, v.session(expectedChallenge, nil), parsed)
}

func (v *WebAuthnVerifier) session(challenge string, userID []byte) webauthn.SessionData {
	return webauthn.SessionData{
		Challenge:        challenge,
		UserID:           userID,
		UserVerification: v.userVerification,
	}
}

var _ CeremonyVerifier = (*WebAuthnVerifier)(nil)
