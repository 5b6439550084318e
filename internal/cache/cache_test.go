package cache

import (
	"context"
	"testing"
	"time"

	"github.com/rockettaro/taro-server/internal/cache/cachetest"
	"github.com/rockettaro/taro-server/internal/models"
)

func testUser(id uint64, username string) models.User {
	return models.User{
		ID:       id,
		Username: username,
		Email:    username + "@example.com",
		Active:   true,
	}
}

func testSession(id, userID uint64, token string, expiresAt time.Time) models.Session {
	return models.Session{
		ID:        id,
		UserID:    userID,
		Token:     token,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}
}

func TestClientGetJSONMissAndError(t *testing.T) {
	fake := cachetest.New()
	client := NewWithCommands(fake)
	ctx := context.Background()

	var dest CachedUser
	if client.GetJSON(ctx, UserKey(1), &dest) {
		t.Fatalf("expected miss on empty cache")
	}

	fake.Failing = true
	if client.GetJSON(ctx, UserKey(1), &dest) {
		t.Fatalf("expected backend error to read as miss")
	}
}

func TestClientSetGetRoundTrip(t *testing.T) {
	client := NewWithCommands(cachetest.New())
	ctx := context.Background()

	user := NewCachedUser(testUser(7, "alice"))
	if errSet := client.SetJSON(ctx, UserKey(7), user, TTLUserInfo); errSet != nil {
		t.Fatalf("set: %v", errSet)
	}

	var got CachedUser
	if !client.GetJSON(ctx, UserKey(7), &got) {
		t.Fatalf("expected hit after set")
	}
	if got.Username != "alice" || got.ID != 7 {
		t.Fatalf("unexpected cached user: %+v", got)
	}
}

func TestClientTTLExpiry(t *testing.T) {
	fake := cachetest.New()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	fake.NowFn = func() time.Time { return now }
	client := NewWithCommands(fake)
	ctx := context.Background()

	if errSet := client.SetJSON(ctx, UserKey(1), NewCachedUser(testUser(1, "bob")), TTLUserInfo); errSet != nil {
		t.Fatalf("set: %v", errSet)
	}

	now = now.Add(TTLUserInfo + time.Second)
	var got CachedUser
	if client.GetJSON(ctx, UserKey(1), &got) {
		t.Fatalf("expected miss after TTL elapsed")
	}
}

func TestClientMutationsNeverPanicWhenDown(t *testing.T) {
	fake := cachetest.New()
	fake.Failing = true
	client := NewWithCommands(fake)
	ctx := context.Background()

	if errSet := client.SetJSON(ctx, "k", 1, time.Minute); errSet == nil {
		t.Fatalf("expected set error while backend down")
	}
	if errDel := client.Delete(ctx, "k"); errDel == nil {
		t.Fatalf("expected delete error while backend down")
	}
	if client.Exists(ctx, "k") {
		t.Fatalf("expected exists=false while backend down")
	}
	if got := client.GetInt64(ctx, "k"); got != 0 {
		t.Fatalf("expected zero counter while backend down, got %d", got)
	}
	if keys := client.KeysByPattern(ctx, "*"); keys != nil {
		t.Fatalf("expected no keys while backend down, got %v", keys)
	}
}

func TestSessionCacheRoundTripAndInvalidate(t *testing.T) {
	client := NewWithCommands(cachetest.New())
	sessions := NewSessionCache(client)
	ctx := context.Background()

	user := testUser(3, "carol")
	session := testSession(11, 3, "tok-3", time.Now().Add(time.Hour))

	if errCache := sessions.CacheSession(ctx, session); errCache != nil {
		t.Fatalf("cache session: %v", errCache)
	}
	if errCache := sessions.CacheUserSession(ctx, user, session); errCache != nil {
		t.Fatalf("cache user session: %v", errCache)
	}

	if _, ok := sessions.GetSessionByToken(ctx, "tok-3"); !ok {
		t.Fatalf("expected token-keyed hit")
	}
	combined, ok := sessions.GetUserSessionByToken(ctx, "tok-3")
	if !ok {
		t.Fatalf("expected combined hit")
	}
	if combined.User.ID != 3 || combined.Session.ID != 11 {
		t.Fatalf("unexpected combined projection: %+v", combined)
	}

	if errInvalidate := sessions.InvalidateSession(ctx, "tok-3"); errInvalidate != nil {
		t.Fatalf("invalidate: %v", errInvalidate)
	}
	if _, ok := sessions.GetSessionByToken(ctx, "tok-3"); ok {
		t.Fatalf("token key survived invalidation")
	}
	if _, ok := sessions.GetUserSessionByToken(ctx, "tok-3"); ok {
		t.Fatalf("combined key survived invalidation")
	}
	if client.Exists(ctx, SessionIDKey(11)) {
		t.Fatalf("id key survived invalidation")
	}
}

func TestInvalidateUserSessionsLeavesOtherUsers(t *testing.T) {
	client := NewWithCommands(cachetest.New())
	sessions := NewSessionCache(client)
	ctx := context.Background()

	alice := testUser(1, "alice")
	bob := testUser(2, "bob")
	expiry := time.Now().Add(time.Hour)

	for i, fixture := range []struct {
		user    models.User
		session models.Session
	}{
		{alice, testSession(101, 1, "a-1", expiry)},
		{alice, testSession(102, 1, "a-2", expiry)},
		{bob, testSession(201, 2, "b-1", expiry)},
	} {
		if errCache := sessions.CacheSession(ctx, fixture.session); errCache != nil {
			t.Fatalf("fixture %d: cache session: %v", i, errCache)
		}
		if errCache := sessions.CacheUserSession(ctx, fixture.user, fixture.session); errCache != nil {
			t.Fatalf("fixture %d: cache user session: %v", i, errCache)
		}
	}

	if removed := sessions.InvalidateUserSessions(ctx, 1); removed != 2 {
		t.Fatalf("expected 2 invalidated sessions, got %d", removed)
	}
	if _, ok := sessions.GetUserSessionByToken(ctx, "a-1"); ok {
		t.Fatalf("alice session a-1 survived")
	}
	if _, ok := sessions.GetUserSessionByToken(ctx, "a-2"); ok {
		t.Fatalf("alice session a-2 survived")
	}
	if _, ok := sessions.GetUserSessionByToken(ctx, "b-1"); !ok {
		t.Fatalf("bob session b-1 should be untouched")
	}
}

func TestCleanupExpiredSessions(t *testing.T) {
	client := NewWithCommands(cachetest.New())
	sessions := NewSessionCache(client)
	ctx := context.Background()
	now := time.Now().UTC()

	expired := testSession(1, 1, "old", now.Add(-time.Minute))
	live := testSession(2, 1, "new", now.Add(time.Hour))
	if errCache := sessions.CacheSession(ctx, expired); errCache != nil {
		t.Fatalf("cache expired: %v", errCache)
	}
	if errCache := sessions.CacheSession(ctx, live); errCache != nil {
		t.Fatalf("cache live: %v", errCache)
	}

	if cleaned := sessions.CleanupExpiredSessions(ctx, now); cleaned != 1 {
		t.Fatalf("expected 1 cleaned session, got %d", cleaned)
	}
	if _, ok := sessions.GetSessionByToken(ctx, "new"); !ok {
		t.Fatalf("live session removed by cleanup")
	}
}

func TestUserCacheUsernameMapping(t *testing.T) {
	client := NewWithCommands(cachetest.New())
	users := NewUserCache(client)
	ctx := context.Background()

	if errCache := users.CacheUsernameMapping(ctx, "dave", 9); errCache != nil {
		t.Fatalf("cache mapping: %v", errCache)
	}
	userID, ok := users.GetUserIDByUsername(ctx, "dave")
	if !ok || userID != 9 {
		t.Fatalf("expected id 9, got %d ok=%v", userID, ok)
	}

	if errInvalidate := users.InvalidateUsername(ctx, "dave"); errInvalidate != nil {
		t.Fatalf("invalidate: %v", errInvalidate)
	}
	if _, ok := users.GetUserIDByUsername(ctx, "dave"); ok {
		t.Fatalf("mapping survived invalidation")
	}
}

func TestInvalidatorVariants(t *testing.T) {
	client := NewWithCommands(cachetest.New())
	sessions := NewSessionCache(client)
	users := NewUserCache(client)
	invalidator := NewInvalidator(client, sessions, users)
	ctx := context.Background()

	user := testUser(5, "erin")
	session := testSession(50, 5, "e-1", time.Now().Add(time.Hour))
	if errCache := users.CacheUser(ctx, user); errCache != nil {
		t.Fatalf("cache user: %v", errCache)
	}
	if errCache := users.CacheUsernameMapping(ctx, "erin", 5); errCache != nil {
		t.Fatalf("cache mapping: %v", errCache)
	}
	if errCache := sessions.CacheSession(ctx, session); errCache != nil {
		t.Fatalf("cache session: %v", errCache)
	}
	if errCache := sessions.CacheUserSession(ctx, user, session); errCache != nil {
		t.Fatalf("cache user session: %v", errCache)
	}

	if _, errApply := invalidator.Apply(ctx, InvalidateUserRequest(5, "erin")); errApply != nil {
		t.Fatalf("apply user request: %v", errApply)
	}
	if _, ok := users.GetUser(ctx, 5); ok {
		t.Fatalf("user projection survived")
	}
	if _, ok := sessions.GetUserSessionByToken(ctx, "e-1"); ok {
		t.Fatalf("session projection survived")
	}

	if errSet := client.SetJSON(ctx, Key("user", "99"), NewCachedUser(testUser(99, "zed")), TTLUserInfo); errSet != nil {
		t.Fatalf("set: %v", errSet)
	}
	removed, errApply := invalidator.Apply(ctx, InvalidateAllRequest())
	if errApply != nil {
		t.Fatalf("apply all request: %v", errApply)
	}
	if removed == 0 {
		t.Fatalf("expected namespace flush to remove keys")
	}
}
