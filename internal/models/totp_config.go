package models

import (
	"time"

	"github.com/google/uuid"
)

// TOTPConfig holds the authenticator-app recovery factor for a user. The
// secret is staged by setup and only trusted once a code has confirmed it.
type TOTPConfig struct {
	BaseModel
	UserID      uuid.UUID  `json:"userID" gorm:"type:uuid;uniqueIndex;not null"`
	Secret      string     `json:"-" gorm:"type:text;not null"`
	Confirmed   bool       `json:"confirmed" gorm:"not null;default:false"`
	ConfirmedAt *time.Time `json:"confirmedAt,omitempty"`
	User        User       `json:"-" gorm:"foreignKey:UserID"`
}
