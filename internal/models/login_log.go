package models

import "time"

// LoginLog records one login attempt, successful or not.
type LoginLog struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID   *uint64 `gorm:"index"`                    // Matched user, when one exists.
	Username string  `gorm:"type:text;not null;index"` // Attempted username, verbatim.

	Success       bool   `gorm:"not null"`  // Whether authentication succeeded.
	IPAddress     string `gorm:"type:text"` // Client IP, if known.
	UserAgent     string `gorm:"type:text"` // Client user agent, if known.
	FailureReason string `gorm:"type:text"` // Short failure cause for failed attempts.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Attempt timestamp.
}
