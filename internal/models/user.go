package models

import "time"

// User represents an end-user account stored in the database.
type User struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Username string `gorm:"type:text;not null;uniqueIndex"` // Unique login name.
	Email    string `gorm:"type:text;not null;uniqueIndex"` // Unique email address.
	Password string `gorm:"type:text;not null"`             // bcrypt hash; empty for guest/federated accounts.

	FullName  *string `gorm:"type:text"` // Display name.
	AvatarURL *string `gorm:"type:text"` // Avatar image URL.

	// No column defaults on the flags: a `default` tag makes gorm drop the
	// zero value from the INSERT, silently flipping Active:false to true.
	// Every create site sets the flags explicitly.
	Active bool `gorm:"not null"` // Whether the user can sign in.
	Admin  bool `gorm:"not null"` // Administrative privileges flag.
	Guest  bool `gorm:"not null"` // Guest/federated account flag.

	WxOpenID     *string `gorm:"type:text;uniqueIndex"` // WeChat openid for federated accounts.
	WxUnionID    *string `gorm:"type:text"`             // WeChat unionid when granted.
	WxSessionKey *string `gorm:"type:text"`             // Latest WeChat session key.

	LastLoginAt *time.Time // Most recent successful login.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// UserInfo is the public projection of a User returned to clients.
type UserInfo struct {
	ID        uint64  `json:"id"`
	Username  string  `json:"username"`
	Email     string  `json:"email"`
	FullName  *string `json:"full_name"`
	AvatarURL *string `json:"avatar_url"`
	Admin     bool    `json:"is_admin"`
	Guest     bool    `json:"is_guest"`
}

// NewUserInfo builds the public projection for a user row.
func NewUserInfo(user User) UserInfo {
	return UserInfo{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		FullName:  user.FullName,
		AvatarURL: user.AvatarURL,
		Admin:     user.Admin,
		Guest:     user.Guest,
	}
}
