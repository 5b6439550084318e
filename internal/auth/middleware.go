package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rockettaro/taro-server/internal/models"
	"github.com/rockettaro/taro-server/internal/session"
	log "github.com/sirupsen/logrus"
)

const (
	contextUserKey    = "authUser"
	contextSessionKey = "authSession"
)

// RequireUser validates the request's session token and loads the owning
// user into the request context. Missing and invalid credentials both end
// the request with 401; a storage failure ends it with 500 so a broken
// database never reads as a bad credential.
func RequireUser(manager *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := TokenFromRequest(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing session token"})
			return
		}

		user, sess, errValidate := manager.Validate(c.Request.Context(), token)
		if errValidate != nil {
			if errors.Is(errValidate, session.ErrNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired session"})
				return
			}
			log.WithError(errValidate).Error("session validation failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}

		c.Set(contextUserKey, user)
		c.Set(contextSessionKey, sess)
		c.Next()
	}
}

// OptionalUser loads the user when a valid session token is present and
// lets the request proceed anonymously otherwise. Optional resolution
// never fails the request: storage trouble is logged and collapses to
// the anonymous outcome.
func OptionalUser(manager *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := TokenFromRequest(c)
		if !ok {
			c.Next()
			return
		}

		user, sess, errValidate := manager.Validate(c.Request.Context(), token)
		if errValidate != nil {
			if !errors.Is(errValidate, session.ErrNotFound) {
				log.WithError(errValidate).Error("optional session resolution degraded to anonymous")
			}
			c.Next()
			return
		}

		c.Set(contextUserKey, user)
		c.Set(contextSessionKey, sess)
		c.Next()
	}
}

// RequireAdmin behaves like RequireUser and additionally rejects
// non-admin users with 403.
func RequireAdmin(manager *session.Manager) gin.HandlerFunc {
	requireUser := RequireUser(manager)
	return func(c *gin.Context) {
		requireUser(c)
		if c.IsAborted() {
			return
		}
		user, ok := CurrentUser(c)
		if !ok || !user.Admin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin access required"})
			return
		}
	}
}

// CurrentUser returns the authenticated user loaded by the middleware.
func CurrentUser(c *gin.Context) (models.User, bool) {
	value, exists := c.Get(contextUserKey)
	if !exists {
		return models.User{}, false
	}
	user, ok := value.(models.User)
	return user, ok
}

// CurrentSession returns the session loaded by the middleware.
func CurrentSession(c *gin.Context) (models.Session, bool) {
	value, exists := c.Get(contextSessionKey)
	if !exists {
		return models.Session{}, false
	}
	sess, ok := value.(models.Session)
	return sess, ok
}
