package model

import (
	"time"

	"gorm.io/gorm"
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

type User struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	Username     string `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash string `gorm:"not null" json:"-"`
	Role         string `gorm:"default:'user'" json:"role"` // admin, user

	// SIP profile used to log the user's phone in to the signaling provider.
	SIPUsername string `json:"sip_username"`
	SIPPassword string `json:"-"`
	CallerID    string `json:"caller_id"`
	CallerName  string `json:"caller_name"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// HasSIPProfile reports whether every field needed to connect is set.
func (u *User) HasSIPProfile() bool {
	return u.SIPUsername != "" && u.SIPPassword != "" && u.CallerID != ""
}
