package models

import (
	"time"

	"github.com/google/uuid"
)

// WebAuthnCredential is one registered passkey. CredentialID and PublicKey
// are stored in the URL-safe encoding the client uses on the wire. SignCount
// is expected to increase monotonically; a regression on a credential that
// has ever reported a non-zero count indicates possible cloning.
type WebAuthnCredential struct {
	BaseModel
	UserID          uuid.UUID  `json:"userID" gorm:"type:uuid;not null;index"`
	CredentialID    string     `json:"credentialID" gorm:"type:varchar(1024);uniqueIndex;not null"`
	PublicKey       string     `json:"-" gorm:"type:text;not null"`
	AttestationType string     `json:"attestationType" gorm:"type:varchar(50)"`
	AAGUID          []byte     `json:"-" gorm:"type:bytea"`
	SignCount       uint32     `json:"signCount" gorm:"not null;default:0"`
	Transports      string     `json:"transports" gorm:"type:text"`
	Label           string     `json:"label" gorm:"type:varchar(255)"`
	BackupEligible  bool       `json:"backupEligible" gorm:"default:false"`
	BackupState     bool       `json:"backupState" gorm:"default:false"`
	LastUsedAt      *time.Time `json:"lastUsedAt,omitempty"`
	User            User       `json:"-" gorm:"foreignKey:UserID"`
}
