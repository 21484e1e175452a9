package models

import (
	"time"

	"github.com/google/uuid"
)

// RecoveryToken is a single-use email recovery token. TokenHash is a
// deterministic SHA-256 of the plaintext because redemption looks the record
// up by hash; the plaintext is only ever held by the email recipient.
type RecoveryToken struct {
	BaseModel
	UserID    uuid.UUID  `json:"userID" gorm:"type:uuid;not null;index"`
	TokenHash string     `json:"-" gorm:"type:varchar(64);uniqueIndex;not null"`
	ExpiresAt time.Time  `json:"expiresAt" gorm:"not null;index"`
	Used      bool       `json:"used" gorm:"not null;default:false"`
	UsedAt    *time.Time `json:"usedAt,omitempty"`
	User      User       `json:"-" gorm:"foreignKey:UserID"`
}
