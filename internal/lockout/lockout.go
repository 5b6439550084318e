// Package lockout tracks failed login attempts and decides account locks.
package lockout

import (
	"context"
	"fmt"

	"github.com/rockettaro/taro-server/internal/cache"
	log "github.com/sirupsen/logrus"
)

// MaxAttempts is the default lock threshold for login handlers.
const MaxAttempts = 5

// Tracker counts failed login attempts per identifier inside the shared
// cache. Identifiers are the attempted usernames verbatim; no user row
// needs to exist. A cache outage fails open: nobody gets locked out of
// their account because Redis is down.
type Tracker struct {
	client *cache.Client
}

// NewTracker constructs a Tracker.
func NewTracker(client *cache.Client) *Tracker {
	return &Tracker{client: client}
}

// RecordFailure increments the failure counter for identifier and re-arms
// its sliding TTL window. Returns the count after the increment.
func (t *Tracker) RecordFailure(ctx context.Context, identifier string) (int64, error) {
	if t == nil || t.client == nil {
		return 0, fmt.Errorf("lockout: not initialized")
	}
	key := cache.LoginFailuresKey(identifier)
	count, errIncr := t.client.Increment(ctx, key)
	if errIncr != nil {
		return 0, errIncr
	}
	// The window slides: each failure pushes the reset out again.
	if errExpire := t.client.Expire(ctx, key, cache.TTLLoginFailures); errExpire != nil {
		log.WithError(errExpire).WithField("identifier", identifier).Warn("failed to arm lockout window")
	}
	return count, nil
}

// Failures returns the current failure count for identifier.
func (t *Tracker) Failures(ctx context.Context, identifier string) int64 {
	if t == nil || t.client == nil {
		return 0
	}
	return t.client.GetInt64(ctx, cache.LoginFailuresKey(identifier))
}

// IsLocked reports whether identifier has reached maxAttempts failures
// inside the current window.
func (t *Tracker) IsLocked(ctx context.Context, identifier string, maxAttempts int64) bool {
	if maxAttempts <= 0 {
		return false
	}
	return t.Failures(ctx, identifier) >= maxAttempts
}

// Clear resets the failure counter; called after a successful login.
func (t *Tracker) Clear(ctx context.Context, identifier string) error {
	if t == nil || t.client == nil {
		return nil
	}
	return t.client.Delete(ctx, cache.LoginFailuresKey(identifier))
}
