// Package handlers contains the gin handlers of the public API surface.
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rockettaro/taro-server/internal/auth"
	"github.com/rockettaro/taro-server/internal/models"
	"github.com/rockettaro/taro-server/internal/usecase"
	log "github.com/sirupsen/logrus"
)

// cookieMaxAge is the client-side lifetime of the session cookie. The
// durable session lives longer; returning clients get a fresh cookie on
// their next login.
const cookieMaxAge = 8 * time.Hour

// AuthHandler serves login, registration, guest login, logout, and the
// current-user endpoints.
type AuthHandler struct {
	service      *usecase.AuthService
	cookieSecure bool
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(service *usecase.AuthService, cookieSecure bool) *AuthHandler {
	return &AuthHandler{service: service, cookieSecure: cookieSecure}
}

// loginResponse is the payload returned by every successful login flow.
type loginResponse struct {
	User         models.UserInfo `json:"user"`
	SessionToken string          `json:"session_token"`
	ExpiresAt    time.Time       `json:"expires_at"`
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var body usecase.LoginInput
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	result, errLogin := h.service.Login(c.Request.Context(), body, auth.NewRequestInfo(c))
	if errLogin != nil {
		h.renderLoginError(c, errLogin)
		return
	}
	h.renderLoginSuccess(c, result)
}

// Register handles POST /api/auth/register.
func (h *AuthHandler) Register(c *gin.Context) {
	var body usecase.RegisterInput
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username, password and confirmation are required"})
		return
	}

	result, errRegister := h.service.Register(c.Request.Context(), body, auth.NewRequestInfo(c))
	if errRegister != nil {
		switch {
		case errors.Is(errRegister, usecase.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, gin.H{"error": validationReason(errRegister)})
		case errors.Is(errRegister, usecase.ErrUsernameTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "username already taken"})
		default:
			log.WithError(errRegister).Error("registration failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		}
		return
	}
	h.renderLoginSuccess(c, result)
}

// GuestLogin handles POST /api/auth/guest.
func (h *AuthHandler) GuestLogin(c *gin.Context) {
	result, errGuest := h.service.GuestLogin(c.Request.Context(), auth.NewRequestInfo(c))
	if errGuest != nil {
		log.WithError(errGuest).Error("guest login failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	h.renderLoginSuccess(c, result)
}

// Logout handles POST /api/auth/logout. It requires an authenticated
// identity and always clears the cookie.
func (h *AuthHandler) Logout(c *gin.Context) {
	sess, ok := auth.CurrentSession(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing session"})
		return
	}
	if errLogout := h.service.Logout(c.Request.Context(), sess.Token); errLogout != nil {
		log.WithError(errLogout).Error("logout failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	h.clearSessionCookie(c)
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Current handles GET /api/auth/current behind the required-identity
// middleware.
func (h *AuthHandler) Current(c *gin.Context) {
	user, ok := auth.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": models.NewUserInfo(user)})
}

// Status handles GET /api/auth/status behind the optional-identity
// middleware: the projection when logged in, null otherwise.
func (h *AuthHandler) Status(c *gin.Context) {
	if user, ok := auth.CurrentUser(c); ok {
		c.JSON(http.StatusOK, gin.H{"user": models.NewUserInfo(user)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": nil})
}

// validationReason extracts the client-facing text of a validation
// failure; internal error strings never reach the response body.
func validationReason(err error) string {
	var vErr *usecase.ValidationError
	if errors.As(err, &vErr) {
		return vErr.Reason
	}
	return "invalid registration input"
}

func (h *AuthHandler) renderLoginError(c *gin.Context, errLogin error) {
	switch {
	case errors.Is(errLogin, usecase.ErrAccountLocked):
		c.JSON(http.StatusLocked, gin.H{"error": "account temporarily locked, try again later"})
	case errors.Is(errLogin, usecase.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid username or password"})
	default:
		log.WithError(errLogin).Error("login failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func (h *AuthHandler) renderLoginSuccess(c *gin.Context, result usecase.LoginResult) {
	h.setSessionCookie(c, result.Session.Token)
	c.JSON(http.StatusOK, loginResponse{
		User:         result.User,
		SessionToken: result.Session.Token,
		ExpiresAt:    result.Session.ExpiresAt,
	})
}

func (h *AuthHandler) setSessionCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(auth.CookieName, token, int(cookieMaxAge.Seconds()), "/", "", h.cookieSecure, true)
}

func (h *AuthHandler) clearSessionCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(auth.CookieName, "", -1, "/", "", h.cookieSecure, true)
}
