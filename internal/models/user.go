package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is a tenant: one fleet owner account.
type User struct {
	ID                    uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Email                 string         `gorm:"not null;size:255;uniqueIndex" json:"email"`
	Password              string         `gorm:"not null" json:"-"`
	Name                  string         `gorm:"size:255" json:"name"`
	Role                  string         `gorm:"size:20;default:'user'" json:"role"`
	Confirmed             bool           `gorm:"not null;default:false" json:"confirmed"`
	ConfirmationTokenHash *string        `gorm:"size:64;uniqueIndex" json:"-"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
	DeletedAt             gorm.DeletedAt `gorm:"index" json:"-"`
}
