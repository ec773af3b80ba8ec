package auth

import "time"

// Session is the storage-backed proof of login. A bearer token is honored only while its
// session row exists, has not expired, and belongs to an active user.
type Session struct {
	ID           uint      `gorm:"column:id;primaryKey;autoIncrement"`
	UserID       uint      `gorm:"column:user_id;not null;index"`
	SessionToken string    `gorm:"column:session_token;size:1024;not null;uniqueIndex"`
	ExpiresAt    time.Time `gorm:"column:expires_at;not null;index"`
	CreatedAt    time.Time `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Session) TableName() string {
	return "user_sessions"
}
