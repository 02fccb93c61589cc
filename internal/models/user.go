package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is an account known to the development identity service.
// Production identities live in the managed identity provider and never touch this table.
type User struct {
	ID           string `gorm:"primaryKey" json:"id"`
	Email        string `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string `gorm:"type:text;not null" json:"-"`
}

// BeforeCreate is a GORM hook called before a record is created.
// It generates a new UUID for the user if the ID is not set yet.
func (u *User) BeforeCreate(tx *gorm.DB) (err error) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return
}
