package models

import (
	"time"

	"github.com/google/uuid"
)

type ChallengeType string

const (
	ChallengeRegistration   ChallengeType = "registration"
	ChallengeAuthentication ChallengeType = "authentication"
)

// Challenge is a single-use random value bound into a ceremony. Value is
// unique while the challenge is live and must never be matched twice; the
// record is deleted on successful verification or on expiry detection.
type Challenge struct {
	BaseModel
	Value     string        `json:"-" gorm:"type:varchar(255);uniqueIndex;not null"`
	Type      ChallengeType `json:"type" gorm:"type:varchar(20);not null"`
	UserID    *uuid.UUID    `json:"-" gorm:"type:uuid;index"`
	Email     string        `json:"-" gorm:"type:varchar(255)"`
	ExpiresAt time.Time     `json:"expiresAt" gorm:"not null;index"`
}
