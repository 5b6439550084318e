// Package session owns the durable session lifecycle and its cache-first
// validation path.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rockettaro/taro-server/internal/cache"
	"github.com/rockettaro/taro-server/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Validity is the durable session lifetime. The client cookie is reissued
// on a shorter window; the two TTLs are independent on purpose.
const Validity = 7 * 24 * time.Hour

// accessTouchInterval throttles durable last-accessed writes; the cache
// marker absorbs validations in between.
const accessTouchInterval = time.Minute

// ErrNotFound indicates the token does not resolve to an unexpired session
// owned by an active user. Infrastructure failures are reported as
// distinct wrapped errors, never as ErrNotFound.
var ErrNotFound = errors.New("session: not found")

// Manager owns session create/validate/invalidate/sweep against the
// durable store, with the shared cache as a best-effort fast path.
type Manager struct {
	db       *gorm.DB
	sessions *cache.SessionCache
	users    *cache.UserCache
	nowFn    func() time.Time
}

// NewManager constructs a Manager.
func NewManager(db *gorm.DB, client *cache.Client) *Manager {
	return &Manager{
		db:       db,
		sessions: cache.NewSessionCache(client),
		users:    cache.NewUserCache(client),
		nowFn:    time.Now,
	}
}

// Create mints a new session for userID, persists it, and populates the
// cache best-effort. Only a storage failure is returned as an error.
func (m *Manager) Create(ctx context.Context, userID uint64, userAgent, ipAddress string) (models.Session, error) {
	if m == nil || m.db == nil {
		return models.Session{}, fmt.Errorf("session: manager not initialized")
	}
	token, errToken := models.GenerateSessionToken()
	if errToken != nil {
		return models.Session{}, errToken
	}

	now := m.nowFn().UTC()
	session := models.Session{
		UserID:    userID,
		Token:     token,
		UserAgent: userAgent,
		IPAddress: ipAddress,
		ExpiresAt: now.Add(Validity),
		CreatedAt: now,
	}
	if errCreate := m.db.WithContext(ctx).Create(&session).Error; errCreate != nil {
		return models.Session{}, fmt.Errorf("session: create: %w", errCreate)
	}

	if errCache := m.sessions.CacheSession(ctx, session); errCache != nil {
		log.WithError(errCache).Debug("session cache population skipped")
	}
	return session, nil
}

// Validate resolves token to its user and session. The cache is consulted
// first; a miss or any cache trouble falls back to the durable store, and
// a durable hit re-populates the cache. ErrNotFound means the credential
// is bad; any other error means the durable store failed.
func (m *Manager) Validate(ctx context.Context, token string) (models.User, models.Session, error) {
	if m == nil || m.db == nil {
		return models.User{}, models.Session{}, fmt.Errorf("session: manager not initialized")
	}
	now := m.nowFn().UTC()

	if cached, ok := m.sessions.GetUserSessionByToken(ctx, token); ok {
		if cached.Session.ExpiresAt.After(now) && cached.User.Active {
			m.touchAccessAsync(ctx, token)
			return userFromCache(cached.User), sessionFromCache(cached.Session), nil
		}
		// A stale projection is dropped so the durable answer wins.
		if errInvalidate := m.sessions.InvalidateSession(ctx, token); errInvalidate != nil {
			log.WithError(errInvalidate).Debug("stale session cache cleanup skipped")
		}
	}

	var session models.Session
	errFind := m.db.WithContext(ctx).
		Where("session_token = ? AND expires_at > ?", token, now).
		First(&session).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return models.User{}, models.Session{}, ErrNotFound
		}
		return models.User{}, models.Session{}, fmt.Errorf("session: lookup: %w", errFind)
	}

	var user models.User
	errUser := m.db.WithContext(ctx).
		Where("id = ? AND active = ?", session.UserID, true).
		First(&user).Error
	if errUser != nil {
		if errors.Is(errUser, gorm.ErrRecordNotFound) {
			return models.User{}, models.Session{}, ErrNotFound
		}
		return models.User{}, models.Session{}, fmt.Errorf("session: owner lookup: %w", errUser)
	}

	if ts, ok := m.sessions.GetSessionLastAccess(ctx, token); !ok || now.Unix()-ts >= int64(accessTouchInterval.Seconds()) {
		if errTouch := m.db.WithContext(ctx).Model(&models.Session{}).
			Where("id = ?", session.ID).
			Update("last_accessed_at", now).Error; errTouch != nil {
			log.WithError(errTouch).WithField("session_id", session.ID).Warn("last-accessed update skipped")
		}
		if errMark := m.sessions.UpdateSessionAccess(ctx, token); errMark != nil {
			log.WithError(errMark).Debug("session access marker refresh skipped")
		}
	}

	if errCache := m.sessions.CacheSession(ctx, session); errCache != nil {
		log.WithError(errCache).Debug("session cache repopulation skipped")
	}
	if errCache := m.sessions.CacheUserSession(ctx, user, session); errCache != nil {
		log.WithError(errCache).Debug("user session cache repopulation skipped")
	}
	return user, session, nil
}

// Invalidate destroys the session behind token: the durable row is
// deleted and every derived cache key is removed. Cache trouble is logged
// and never blocks logout.
func (m *Manager) Invalidate(ctx context.Context, token string) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("session: manager not initialized")
	}
	if errCache := m.sessions.InvalidateSession(ctx, token); errCache != nil {
		log.WithError(errCache).Warn("partial session cache invalidation on logout")
	}
	if errDelete := m.db.WithContext(ctx).
		Where("session_token = ?", token).
		Delete(&models.Session{}).Error; errDelete != nil {
		return fmt.Errorf("session: delete: %w", errDelete)
	}
	return nil
}

// InvalidateAllForUser drops every cached session belonging to userID
// along with the user's own projections. Sessions that were never cached
// stay valid at the durable layer; callers needing a hard revocation must
// also delete rows.
func (m *Manager) InvalidateAllForUser(ctx context.Context, userID uint64) int64 {
	if m == nil {
		return 0
	}
	if errUser := m.users.InvalidateUser(ctx, userID); errUser != nil {
		log.WithError(errUser).WithField("user_id", userID).Warn("user projection invalidation skipped")
	}
	return m.sessions.InvalidateUserSessions(ctx, userID)
}

// SweepExpired deletes every expired durable session row and reports how
// many were removed.
func (m *Manager) SweepExpired(ctx context.Context) (int64, error) {
	if m == nil || m.db == nil {
		return 0, fmt.Errorf("session: manager not initialized")
	}
	result := m.db.WithContext(ctx).
		Where("expires_at < ?", m.nowFn().UTC()).
		Delete(&models.Session{})
	if result.Error != nil {
		return 0, fmt.Errorf("session: sweep: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// RunSweeper periodically sweeps expired sessions until ctx is cancelled.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	if m == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			swept, errSweep := m.SweepExpired(ctx)
			if errSweep != nil {
				log.WithError(errSweep).Error("expired session sweep failed")
				continue
			}
			if swept > 0 {
				log.WithField("count", swept).Info("swept expired sessions")
			}
		}
	}
}

// touchAccessAsync refreshes the last-accessed marker off the request path.
func (m *Manager) touchAccessAsync(ctx context.Context, token string) {
	bg := context.WithoutCancel(ctx)
	go func() {
		if errTouch := m.sessions.UpdateSessionAccess(bg, token); errTouch != nil {
			log.WithError(errTouch).Debug("session access marker refresh skipped")
		}
	}()
}

func userFromCache(cached cache.CachedUser) models.User {
	return models.User{
		ID:        cached.ID,
		Username:  cached.Username,
		Email:     cached.Email,
		FullName:  cached.FullName,
		AvatarURL: cached.AvatarURL,
		Active:    cached.Active,
		Admin:     cached.Admin,
		Guest:     cached.Guest,
	}
}

func sessionFromCache(cached cache.CachedSession) models.Session {
	return models.Session{
		ID:        cached.ID,
		UserID:    cached.UserID,
		Token:     cached.Token,
		UserAgent: cached.UserAgent,
		IPAddress: cached.IPAddress,
		ExpiresAt: cached.ExpiresAt,
		CreatedAt: cached.CreatedAt,
	}
}
