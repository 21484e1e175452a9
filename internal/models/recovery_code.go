package models

import (
	"time"

	"github.com/google/uuid"
)

// RecoveryCode stores the bcrypt hash of one single-use recovery code.
// Regeneration replaces the whole set for a user; there is no top-up.
type RecoveryCode struct {
	BaseModel
	UserID   uuid.UUID  `json:"userID" gorm:"type:uuid;not null;index"`
	CodeHash string     `json:"-" gorm:"type:text;not null"`
	Used     bool       `json:"used" gorm:"not null;default:false"`
	UsedAt   *time.Time `json:"usedAt,omitempty"`
	User     User       `json:"-" gorm:"foreignKey:UserID"`
}
