package models

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"
)

// sessionTokenBytes is the entropy of a session token before encoding.
const sessionTokenBytes = 32

// Session is the durable proof of an authenticated login.
type Session struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;index"`         // Owning user.
	User   *User  `gorm:"foreignKey:UserID"`      // Owning user row.
	Token  string `gorm:"column:session_token;type:text;not null;uniqueIndex"` // Opaque bearer token.

	UserAgent string `gorm:"type:text"` // Client user agent, if known.
	IPAddress string `gorm:"type:text"` // Client IP, if known.

	ExpiresAt      time.Time  `gorm:"not null;index"` // Hard expiry; the row is invalid afterwards.
	LastAccessedAt *time.Time // Updated best-effort on validation.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}

// TableName keeps the legacy table name.
func (Session) TableName() string {
	return "user_sessions"
}

// GenerateSessionToken returns a URL-safe base64 encoding of 32 random
// bytes. The alphabet survives cookie round-trips without escaping.
func GenerateSessionToken() (string, error) {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("models: generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
