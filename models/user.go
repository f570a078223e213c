package models

import (
	"time"
)

// User is a registered account. Guides record the username as their creator.
type User struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	Username       string    `gorm:"size:20;not null;uniqueIndex" json:"username"`
	HashedPassword []byte    `gorm:"not null" json:"-"`
	RoleID         *uint     `gorm:"index" json:"role_id,omitempty"`
	Role           Role      `gorm:"foreignKey:RoleID;references:ID" json:"role"`
}

// IsAdmin reports whether the user's preloaded role is the administrator role.
func (u User) IsAdmin() bool {
	return u.Role.Name == RoleAdministrator
}
