package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is the stored account behind an identity. Anonymous users have no email.
type User struct {
	ID                string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Email             *string   `gorm:"uniqueIndex" json:"email,omitempty"`
	PasswordHash      string    `json:"-"`
	IsAnonymous       bool      `gorm:"not null" json:"is_anonymous"`
	EmailVerified     bool      `gorm:"not null" json:"email_verified"`
	VerificationToken *string   `gorm:"uniqueIndex" json:"-"`
	Nickname          string    `gorm:"size:40" json:"nickname"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM.
func (User) TableName() string {
	return "users"
}

// BeforeCreate assigns the identifier.
func (u *User) BeforeCreate(_ *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// EmailAddress returns the email or an empty string for anonymous users.
func (u *User) EmailAddress() string {
	if u.Email == nil {
		return ""
	}
	return *u.Email
}

// Profile is the public view of a user.
type Profile struct {
	ID          string  `json:"id"`
	Nickname    string  `json:"nickname"`
	IsAnonymous bool    `json:"is_anonymous"`
	Posts       []*Post `json:"posts"`
}
