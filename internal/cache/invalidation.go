package cache

import (
	"context"
	"fmt"
)

// requestKind enumerates the closed set of invalidation targets.
type requestKind int

const (
	kindUser requestKind = iota
	kindSession
	kindAllUserData
	kindAll
)

// Request names a set of derived cache entries to drop. Construct one with
// InvalidateUserRequest, InvalidateSessionRequest, InvalidateAllUserDataRequest,
// or InvalidateAllRequest; dispatch is by variant, never by string.
type Request struct {
	kind   requestKind
	userID uint64
	token  string
}

// InvalidateUserRequest targets one user's projection, username lookup, and
// cached sessions.
func InvalidateUserRequest(userID uint64, username string) Request {
	return Request{kind: kindUser, userID: userID, token: username}
}

// InvalidateSessionRequest targets every entry derived from one session token.
func InvalidateSessionRequest(token string) Request {
	return Request{kind: kindSession, token: token}
}

// InvalidateAllUserDataRequest targets all user projections and username lookups.
func InvalidateAllUserDataRequest() Request {
	return Request{kind: kindAllUserData}
}

// InvalidateAllRequest targets every key in the application namespace.
func InvalidateAllRequest() Request {
	return Request{kind: kindAll}
}

// Invalidator applies invalidation requests against the shared cache.
type Invalidator struct {
	client   *Client
	sessions *SessionCache
	users    *UserCache
}

// NewInvalidator constructs an Invalidator.
func NewInvalidator(client *Client, sessions *SessionCache, users *UserCache) *Invalidator {
	return &Invalidator{client: client, sessions: sessions, users: users}
}

// Apply executes one invalidation request and returns how many entries or
// entry groups were removed.
func (i *Invalidator) Apply(ctx context.Context, req Request) (int64, error) {
	if i == nil {
		return 0, fmt.Errorf("cache: invalidator not initialized")
	}
	switch req.kind {
	case kindUser:
		var removed int64
		if errDel := i.users.InvalidateUser(ctx, req.userID); errDel == nil {
			removed++
		}
		if req.token != "" {
			if errDel := i.users.InvalidateUsername(ctx, req.token); errDel == nil {
				removed++
			}
		}
		removed += i.sessions.InvalidateUserSessions(ctx, req.userID)
		return removed, nil
	case kindSession:
		if errDel := i.sessions.InvalidateSession(ctx, req.token); errDel != nil {
			return 0, errDel
		}
		return 1, nil
	case kindAllUserData:
		removed := i.client.DeletePattern(ctx, Key("user", "*"))
		removed += i.client.DeletePattern(ctx, Key("username", "*"))
		return removed, nil
	case kindAll:
		return i.client.DeletePattern(ctx, Namespace+":*"), nil
	default:
		return 0, fmt.Errorf("cache: unknown invalidation request")
	}
}
