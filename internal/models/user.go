package models

// User is the identity a passkey or recovery factor belongs to. There is no
// password: authentication is by credential or by a recovery path.
type User struct {
	BaseModel
	Email       string               `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	DisplayName string               `json:"displayName" gorm:"type:varchar(255);not null"`
	Credentials []WebAuthnCredential `json:"-" gorm:"foreignKey:UserID"`
}
