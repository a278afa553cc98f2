package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type User struct {
	ID           string       `json:"id" gorm:"primaryKey;size:36"`
	Username     string       `json:"username" gorm:"uniqueIndex;not null"`
	Email        string       `json:"email" gorm:"uniqueIndex;not null"`
	PasswordHash string       `json:"-" gorm:"not null"`
	Restaurants  []Restaurant `json:"restaurants,omitempty" gorm:"foreignKey:OwnerID"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// BeforeCreate assigns a UUID and canonicalizes the email.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	return nil
}
