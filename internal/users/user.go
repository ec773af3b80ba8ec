package users

import (
	"strings"
	"time"
)

// User is a registered account. Rows are never hard-deleted; deactivation clears IsActive.
type User struct {
	ID           uint      `gorm:"column:id;primaryKey;autoIncrement"`
	Username     string    `gorm:"column:username;size:50;not null;index"`
	Email        string    `gorm:"column:email;size:100;not null;index"`
	PasswordHash string    `gorm:"column:password_hash;size:100;not null"`
	AvatarURL    *string   `gorm:"column:avatar_url;size:512"`
	IsActive     bool      `gorm:"column:is_active;not null;default:true;index"`
	CreatedAt    time.Time `gorm:"column:created_at;not null"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null"`
}

// TableName exposes the table backing user accounts.
func (User) TableName() string {
	return "users"
}

// Profile is the user projection handed to callers. It never includes the password hash.
type Profile struct {
	ID        uint      `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	AvatarURL *string   `json:"avatarUrl"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PublicProfile is the author projection attached to records.
type PublicProfile struct {
	Username  string  `json:"username"`
	AvatarURL *string `json:"avatarUrl"`
}

// Profile projects the account for callers.
func (u User) Profile() Profile {
	return Profile{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		AvatarURL: u.AvatarURL,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// Public projects the account for other users.
func (u User) Public() PublicProfile {
	return PublicProfile{Username: u.Username, AvatarURL: u.AvatarURL}
}

// NormalizeEmail lowercases and trims an email address for storage and lookup.
func NormalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
