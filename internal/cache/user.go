package cache

import (
	"context"
	"strconv"

	"github.com/rockettaro/taro-server/internal/models"
	log "github.com/sirupsen/logrus"
)

// CachedUser is the user projection stored alongside sessions. Only the
// fields that matter for request authorization are kept.
type CachedUser struct {
	ID        uint64  `json:"id"`
	Username  string  `json:"username"`
	Email     string  `json:"email"`
	FullName  *string `json:"full_name,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
	Active    bool    `json:"is_active"`
	Admin     bool    `json:"is_admin"`
	Guest     bool    `json:"is_guest"`
}

// NewCachedUser projects a user row into its cacheable form.
func NewCachedUser(user models.User) CachedUser {
	return CachedUser{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		FullName:  user.FullName,
		AvatarURL: user.AvatarURL,
		Active:    user.Active,
		Admin:     user.Admin,
		Guest:     user.Guest,
	}
}

// UserCache stores user projections and username lookups.
type UserCache struct {
	client *Client
}

// NewUserCache constructs a UserCache.
func NewUserCache(client *Client) *UserCache {
	return &UserCache{client: client}
}

// CacheUser writes the id-keyed user projection.
func (u *UserCache) CacheUser(ctx context.Context, user models.User) error {
	if u == nil {
		return nil
	}
	return u.client.SetJSON(ctx, UserKey(user.ID), NewCachedUser(user), TTLUserInfo)
}

// GetUser loads the id-keyed user projection.
func (u *UserCache) GetUser(ctx context.Context, userID uint64) (CachedUser, bool) {
	var cached CachedUser
	if u == nil || !u.client.GetJSON(ctx, UserKey(userID), &cached) {
		return CachedUser{}, false
	}
	return cached, true
}

// CacheUsernameMapping writes the username→id lookup entry.
func (u *UserCache) CacheUsernameMapping(ctx context.Context, username string, userID uint64) error {
	if u == nil {
		return nil
	}
	return u.client.SetJSON(ctx, UsernameKey(username), strconv.FormatUint(userID, 10), TTLUserInfo)
}

// GetUserIDByUsername resolves a username through the lookup entry.
func (u *UserCache) GetUserIDByUsername(ctx context.Context, username string) (uint64, bool) {
	var raw string
	if u == nil || !u.client.GetJSON(ctx, UsernameKey(username), &raw) {
		return 0, false
	}
	userID, errParse := strconv.ParseUint(raw, 10, 64)
	if errParse != nil {
		log.WithError(errParse).WithField("username", username).Warn("invalid id in username cache, treating as miss")
		return 0, false
	}
	return userID, true
}

// InvalidateUser removes the id-keyed user projection.
func (u *UserCache) InvalidateUser(ctx context.Context, userID uint64) error {
	if u == nil {
		return nil
	}
	return u.client.Delete(ctx, UserKey(userID))
}

// InvalidateUsername removes the username lookup entry.
func (u *UserCache) InvalidateUsername(ctx context.Context, username string) error {
	if u == nil {
		return nil
	}
	return u.client.Delete(ctx, UsernameKey(username))
}
