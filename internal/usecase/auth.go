// Package usecase orchestrates the login flows on top of the storage,
// cache, lockout, and session layers.
package usecase

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/rockettaro/taro-server/internal/auth"
	"github.com/rockettaro/taro-server/internal/cache"
	"github.com/rockettaro/taro-server/internal/lockout"
	"github.com/rockettaro/taro-server/internal/models"
	"github.com/rockettaro/taro-server/internal/session"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Login failure taxonomy. Handlers map these to client responses; the
// locked state is deliberately distinguishable from bad credentials.
var (
	ErrInvalidCredentials = errors.New("usecase: invalid username or password")
	ErrAccountLocked      = errors.New("usecase: account temporarily locked")
	ErrUsernameTaken      = errors.New("usecase: username already taken")
	ErrInvalidInput       = errors.New("usecase: invalid input")
)

// ValidationError carries the client-facing reason a registration was
// rejected. It matches ErrInvalidInput under errors.Is; handlers render
// the Reason, never the internal error string.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "usecase: invalid input: " + e.Reason
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// LoginInput carries the credentials of a password login attempt.
type LoginInput struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RegisterInput carries a registration request.
type RegisterInput struct {
	Username        string `json:"username" binding:"required"`
	Email           string `json:"email"`
	Password        string `json:"password" binding:"required"`
	ConfirmPassword string `json:"confirm_password" binding:"required"`
}

// LoginResult is the outcome shared by every successful login flow.
type LoginResult struct {
	User    models.UserInfo
	Session models.Session
}

// AuthService implements password login, registration, guest login, and
// logout.
type AuthService struct {
	db       *gorm.DB
	sessions *session.Manager
	caches   *cache.SessionCache
	users    *cache.UserCache
	lockouts *lockout.Tracker
	nowFn    func() time.Time
}

// NewAuthService constructs an AuthService.
func NewAuthService(db *gorm.DB, client *cache.Client, sessions *session.Manager) *AuthService {
	return &AuthService{
		db:       db,
		sessions: sessions,
		caches:   cache.NewSessionCache(client),
		users:    cache.NewUserCache(client),
		lockouts: lockout.NewTracker(client),
		nowFn:    time.Now,
	}
}

// Login authenticates the credentials and opens a session. The lockout
// gate runs before any credential work so a locked account costs no
// bcrypt time and leaks nothing about password validity.
func (s *AuthService) Login(ctx context.Context, input LoginInput, info auth.RequestInfo) (LoginResult, error) {
	if s == nil || s.db == nil {
		return LoginResult{}, fmt.Errorf("usecase: auth service not initialized")
	}

	if s.lockouts.IsLocked(ctx, input.Username, lockout.MaxAttempts) {
		log.WithField("username", input.Username).Warn("login rejected: account locked")
		s.writeLoginLog(ctx, nil, input.Username, false, info, "account locked")
		return LoginResult{}, ErrAccountLocked
	}

	var user models.User
	errFind := s.db.WithContext(ctx).
		Where("username = ? AND active = ?", input.Username, true).
		First(&user).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return LoginResult{}, s.failLogin(ctx, nil, input.Username, info, "unknown or inactive user")
		}
		return LoginResult{}, fmt.Errorf("usecase: user lookup: %w", errFind)
	}

	// Guest and federated rows carry an empty hash and can never pass
	// a password login.
	if user.Password == "" || bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(input.Password)) != nil {
		return LoginResult{}, s.failLogin(ctx, &user.ID, input.Username, info, "wrong password")
	}

	result, errOpen := s.openSession(ctx, user, info)
	if errOpen != nil {
		return LoginResult{}, errOpen
	}
	if errClear := s.lockouts.Clear(ctx, input.Username); errClear != nil {
		log.WithError(errClear).WithField("username", input.Username).Warn("failed to clear lockout counter")
	}
	return result, nil
}

// Register validates and creates a new account, then logs it in.
func (s *AuthService) Register(ctx context.Context, input RegisterInput, info auth.RequestInfo) (LoginResult, error) {
	if s == nil || s.db == nil {
		return LoginResult{}, fmt.Errorf("usecase: auth service not initialized")
	}
	if errValidate := validateRegistration(input); errValidate != nil {
		return LoginResult{}, errValidate
	}

	var existing int64
	errCount := s.db.WithContext(ctx).Model(&models.User{}).
		Where("username = ?", input.Username).
		Count(&existing).Error
	if errCount != nil {
		return LoginResult{}, fmt.Errorf("usecase: username check: %w", errCount)
	}
	if existing > 0 {
		return LoginResult{}, ErrUsernameTaken
	}

	hash, errHash := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if errHash != nil {
		return LoginResult{}, fmt.Errorf("usecase: hash password: %w", errHash)
	}

	email := input.Email
	if email == "" {
		email = input.Username + "@local.invalid"
	}
	user := models.User{
		Username: input.Username,
		Email:    email,
		Password: string(hash),
		Active:   true,
	}
	if errCreate := s.db.WithContext(ctx).Create(&user).Error; errCreate != nil {
		return LoginResult{}, fmt.Errorf("usecase: create user: %w", errCreate)
	}
	log.WithFields(log.Fields{"user_id": user.ID, "username": user.Username}).Info("user registered")

	return s.openSession(ctx, user, info)
}

// GuestLogin creates a throwaway guest account and logs it in.
func (s *AuthService) GuestLogin(ctx context.Context, info auth.RequestInfo) (LoginResult, error) {
	if s == nil || s.db == nil {
		return LoginResult{}, fmt.Errorf("usecase: auth service not initialized")
	}

	suffix, errSuffix := randomSuffix()
	if errSuffix != nil {
		return LoginResult{}, errSuffix
	}
	user := models.User{
		Username: "guest_" + suffix,
		Email:    suffix + "@guest.temp",
		Password: "",
		Active:   true,
		Guest:    true,
	}
	if errCreate := s.db.WithContext(ctx).Create(&user).Error; errCreate != nil {
		return LoginResult{}, fmt.Errorf("usecase: create guest user: %w", errCreate)
	}
	log.WithFields(log.Fields{"user_id": user.ID, "username": user.Username}).Info("guest user created")

	return s.openSession(ctx, user, info)
}

// Logout destroys the session behind token.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	if s == nil {
		return fmt.Errorf("usecase: auth service not initialized")
	}
	return s.sessions.Invalidate(ctx, token)
}

// openSession is the shared tail of every successful login flow: session
// create, cache population, last-login update, and the audit row.
func (s *AuthService) openSession(ctx context.Context, user models.User, info auth.RequestInfo) (LoginResult, error) {
	sess, errCreate := s.sessions.Create(ctx, user.ID, info.UserAgent, info.IPAddress)
	if errCreate != nil {
		return LoginResult{}, errCreate
	}

	populateLoginCaches(ctx, s.caches, s.users, user, sess)

	now := s.nowFn().UTC()
	if errTouch := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", user.ID).
		Update("last_login_at", now).Error; errTouch != nil {
		log.WithError(errTouch).WithField("user_id", user.ID).Warn("last-login update skipped")
	}

	s.writeLoginLog(ctx, &user.ID, user.Username, true, info, "")
	log.WithFields(log.Fields{"user_id": user.ID, "username": user.Username}).Info("login successful")

	return LoginResult{User: models.NewUserInfo(user), Session: sess}, nil
}

// failLogin records the failed attempt and returns the generic
// credentials error.
func (s *AuthService) failLogin(ctx context.Context, userID *uint64, username string, info auth.RequestInfo, reason string) error {
	if count, errRecord := s.lockouts.RecordFailure(ctx, username); errRecord != nil {
		log.WithError(errRecord).WithField("username", username).Warn("failed to record login failure")
	} else if count >= lockout.MaxAttempts {
		log.WithFields(log.Fields{"username": username, "failures": count}).Warn("account locked after repeated failures")
	}
	s.writeLoginLog(ctx, userID, username, false, info, reason)
	return ErrInvalidCredentials
}

// writeLoginLog appends an audit row best-effort.
func (s *AuthService) writeLoginLog(ctx context.Context, userID *uint64, username string, success bool, info auth.RequestInfo, reason string) {
	row := models.LoginLog{
		UserID:        userID,
		Username:      username,
		Success:       success,
		IPAddress:     info.IPAddress,
		UserAgent:     info.UserAgent,
		FailureReason: reason,
	}
	if errCreate := s.db.WithContext(ctx).Create(&row).Error; errCreate != nil {
		log.WithError(errCreate).WithField("username", username).Warn("login audit write skipped")
	}
}

// populateLoginCaches warms every projection a fresh login produces.
// All writes are fire-and-forget.
func populateLoginCaches(ctx context.Context, sessions *cache.SessionCache, users *cache.UserCache, user models.User, sess models.Session) {
	if errCache := users.CacheUser(ctx, user); errCache != nil {
		log.WithError(errCache).Debug("user cache population skipped")
	}
	if errCache := users.CacheUsernameMapping(ctx, user.Username, user.ID); errCache != nil {
		log.WithError(errCache).Debug("username mapping population skipped")
	}
	if errCache := sessions.CacheUserSession(ctx, user, sess); errCache != nil {
		log.WithError(errCache).Debug("user session cache population skipped")
	}
}

func validateRegistration(input RegisterInput) error {
	if len(input.Username) < 3 || len(input.Username) > 30 {
		return &ValidationError{Reason: "username must be 3-30 characters"}
	}
	if len(input.Password) < 6 || len(input.Password) > 30 {
		return &ValidationError{Reason: "password must be 6-30 characters"}
	}
	if input.Password != input.ConfirmPassword {
		return &ValidationError{Reason: "passwords do not match"}
	}
	return nil
}

func randomSuffix() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("usecase: generate guest suffix: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
