package cache

import (
	"strconv"
	"time"
)

// Namespace prefixes every key this application writes.
const Namespace = "taro"

// Cache TTLs. The session projection TTL matches the durable session
// validity; user lookups are kept short so profile edits converge quickly.
const (
	TTLUserSession   = 7 * 24 * time.Hour
	TTLUserInfo      = 30 * time.Minute
	TTLLoginFailures = 15 * time.Minute
)

// Key builds a namespaced cache key.
func Key(category, identifier string) string {
	return Namespace + ":" + category + ":" + identifier
}

// SessionTokenKey maps a session token to its cached session.
func SessionTokenKey(token string) string {
	return Key("session_token", token)
}

// SessionIDKey maps a session id to its cached session.
func SessionIDKey(id uint64) string {
	return Key("session", strconv.FormatUint(id, 10))
}

// UserSessionKey maps a session token to the combined user+session projection.
func UserSessionKey(token string) string {
	return Key("user_session", token)
}

// SessionAccessKey holds the last-accessed marker for a session token.
func SessionAccessKey(token string) string {
	return Key("session_access", token)
}

// UserKey maps a user id to the cached user projection.
func UserKey(id uint64) string {
	return Key("user", strconv.FormatUint(id, 10))
}

// UsernameKey maps a username to its user id.
func UsernameKey(username string) string {
	return Key("username", username)
}

// LoginFailuresKey holds the failed-login counter for a username.
func LoginFailuresKey(username string) string {
	return Key("login_failures", username)
}
