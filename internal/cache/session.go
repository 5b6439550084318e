package cache

import (
	"context"
	"time"

	"github.com/rockettaro/taro-server/internal/models"
	log "github.com/sirupsen/logrus"
)

// CachedSession is the session projection stored under token- and id-keyed
// entries. It is never a source of truth; the durable row always wins.
type CachedSession struct {
	ID        uint64    `json:"id"`
	UserID    uint64    `json:"user_id"`
	Token     string    `json:"session_token"`
	UserAgent string    `json:"user_agent,omitempty"`
	IPAddress string    `json:"ip_address,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// NewCachedSession projects a session row into its cacheable form.
func NewCachedSession(session models.Session) CachedSession {
	return CachedSession{
		ID:        session.ID,
		UserID:    session.UserID,
		Token:     session.Token,
		UserAgent: session.UserAgent,
		IPAddress: session.IPAddress,
		ExpiresAt: session.ExpiresAt,
		CreatedAt: session.CreatedAt,
	}
}

// CachedUserSession is the combined user+session projection keyed by token.
type CachedUserSession struct {
	User    CachedUser    `json:"user"`
	Session CachedSession `json:"session"`
}

// SessionCache stores session projections in the shared cache client.
type SessionCache struct {
	client *Client
}

// NewSessionCache constructs a SessionCache.
func NewSessionCache(client *Client) *SessionCache {
	return &SessionCache{client: client}
}

// CacheSession writes the token-keyed and id-keyed session entries.
func (s *SessionCache) CacheSession(ctx context.Context, session models.Session) error {
	if s == nil {
		return nil
	}
	cached := NewCachedSession(session)
	errToken := s.client.SetJSON(ctx, SessionTokenKey(session.Token), cached, TTLUserSession)
	errID := s.client.SetJSON(ctx, SessionIDKey(session.ID), cached, TTLUserSession)
	if errToken != nil {
		return errToken
	}
	return errID
}

// CacheUserSession writes the combined user+session projection.
func (s *SessionCache) CacheUserSession(ctx context.Context, user models.User, session models.Session) error {
	if s == nil {
		return nil
	}
	cached := CachedUserSession{
		User:    NewCachedUser(user),
		Session: NewCachedSession(session),
	}
	return s.client.SetJSON(ctx, UserSessionKey(session.Token), cached, TTLUserSession)
}

// GetSessionByToken loads the token-keyed session projection.
func (s *SessionCache) GetSessionByToken(ctx context.Context, token string) (CachedSession, bool) {
	var cached CachedSession
	if s == nil || !s.client.GetJSON(ctx, SessionTokenKey(token), &cached) {
		return CachedSession{}, false
	}
	return cached, true
}

// GetUserSessionByToken loads the combined user+session projection.
func (s *SessionCache) GetUserSessionByToken(ctx context.Context, token string) (CachedUserSession, bool) {
	var cached CachedUserSession
	if s == nil || !s.client.GetJSON(ctx, UserSessionKey(token), &cached) {
		return CachedUserSession{}, false
	}
	return cached, true
}

// InvalidateSession removes every cache entry derived from token. All
// deletions are attempted even when one fails; the first error is
// returned for logging only.
func (s *SessionCache) InvalidateSession(ctx context.Context, token string) error {
	if s == nil {
		return nil
	}
	var firstErr error
	if cached, ok := s.GetSessionByToken(ctx, token); ok {
		if errDel := s.client.Delete(ctx, SessionIDKey(cached.ID)); errDel != nil {
			firstErr = errDel
		}
	}
	if errDel := s.client.Delete(ctx, SessionTokenKey(token)); errDel != nil && firstErr == nil {
		firstErr = errDel
	}
	if errDel := s.client.Delete(ctx, UserSessionKey(token)); errDel != nil && firstErr == nil {
		firstErr = errDel
	}
	if errDel := s.client.Delete(ctx, SessionAccessKey(token)); errDel != nil && firstErr == nil {
		firstErr = errDel
	}
	return firstErr
}

// InvalidateUserSessions scans the combined projections and removes every
// cached session belonging to userID. Sessions that were never cached are
// left for the durable layer to revoke.
func (s *SessionCache) InvalidateUserSessions(ctx context.Context, userID uint64) int64 {
	if s == nil {
		return 0
	}
	var invalidated int64
	for _, key := range s.client.KeysByPattern(ctx, UserSessionKey("*")) {
		var cached CachedUserSession
		if !s.client.GetJSON(ctx, key, &cached) {
			continue
		}
		if cached.User.ID != userID {
			continue
		}
		if errDel := s.InvalidateSession(ctx, cached.Session.Token); errDel != nil {
			log.WithError(errDel).WithField("user_id", userID).Warn("partial session cache invalidation")
		}
		invalidated++
	}
	log.WithFields(log.Fields{"user_id": userID, "count": invalidated}).Debug("invalidated cached sessions for user")
	return invalidated
}

// UpdateSessionAccess refreshes the last-accessed marker for token.
func (s *SessionCache) UpdateSessionAccess(ctx context.Context, token string) error {
	if s == nil {
		return nil
	}
	return s.client.SetJSON(ctx, SessionAccessKey(token), time.Now().UTC().Unix(), TTLUserSession)
}

// GetSessionLastAccess loads the last-accessed marker for token.
func (s *SessionCache) GetSessionLastAccess(ctx context.Context, token string) (int64, bool) {
	var ts int64
	if s == nil || !s.client.GetJSON(ctx, SessionAccessKey(token), &ts) {
		return 0, false
	}
	return ts, true
}

// CleanupExpiredSessions drops cached sessions whose projection already
// expired, returning how many were removed.
func (s *SessionCache) CleanupExpiredSessions(ctx context.Context, now time.Time) int64 {
	if s == nil {
		return 0
	}
	var cleaned int64
	for _, key := range s.client.KeysByPattern(ctx, SessionTokenKey("*")) {
		var cached CachedSession
		if !s.client.GetJSON(ctx, key, &cached) {
			continue
		}
		if !cached.ExpiresAt.Before(now) {
			continue
		}
		if errDel := s.InvalidateSession(ctx, cached.Token); errDel != nil {
			log.WithError(errDel).Warn("partial expired-session cache cleanup")
		}
		cleaned++
	}
	return cleaned
}
