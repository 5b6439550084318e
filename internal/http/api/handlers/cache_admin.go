package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rockettaro/taro-server/internal/cache"
	log "github.com/sirupsen/logrus"
)

// CacheAdminHandler exposes cache operations to administrators.
type CacheAdminHandler struct {
	client      *cache.Client
	sessions    *cache.SessionCache
	invalidator *cache.Invalidator
}

// NewCacheAdminHandler constructs a CacheAdminHandler.
func NewCacheAdminHandler(client *cache.Client) *CacheAdminHandler {
	sessions := cache.NewSessionCache(client)
	users := cache.NewUserCache(client)
	return &CacheAdminHandler{
		client:      client,
		sessions:    sessions,
		invalidator: cache.NewInvalidator(client, sessions, users),
	}
}

// Health handles GET /api/admin/cache/health: backend reachability plus
// the current key count in the application namespace.
func (h *CacheAdminHandler) Health(c *gin.Context) {
	ctx := c.Request.Context()
	if errPing := h.client.Ping(ctx); errPing != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unreachable",
			"error":  errPing.Error(),
		})
		return
	}
	keys := h.client.KeysByPattern(ctx, cache.Namespace+":*")
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"keys":   len(keys),
	})
}

// invalidateRequest selects one invalidation scope. Exactly the scopes of
// the closed request type are accepted.
type invalidateRequest struct {
	Scope    string `json:"scope" binding:"required"`
	UserID   uint64 `json:"user_id"`
	Username string `json:"username"`
	Token    string `json:"token"`
}

// Invalidate handles POST /api/admin/cache/invalidate.
func (h *CacheAdminHandler) Invalidate(c *gin.Context) {
	var body invalidateRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scope is required"})
		return
	}

	var req cache.Request
	switch body.Scope {
	case "user":
		if body.UserID == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required for scope user"})
			return
		}
		req = cache.InvalidateUserRequest(body.UserID, body.Username)
	case "session":
		if body.Token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "token is required for scope session"})
			return
		}
		req = cache.InvalidateSessionRequest(body.Token)
	case "all_user_data":
		req = cache.InvalidateAllUserDataRequest()
	case "all":
		req = cache.InvalidateAllRequest()
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown scope"})
		return
	}

	removed, errApply := h.invalidator.Apply(c.Request.Context(), req)
	if errApply != nil {
		log.WithError(errApply).WithField("scope", body.Scope).Warn("cache invalidation incomplete")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cache invalidation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"invalidated": removed})
}

// Cleanup handles POST /api/admin/cache/cleanup: drops cached sessions
// whose projection already expired.
func (h *CacheAdminHandler) Cleanup(c *gin.Context) {
	cleaned := h.sessions.CleanupExpiredSessions(c.Request.Context(), time.Now().UTC())
	c.JSON(http.StatusOK, gin.H{"cleaned": cleaned})
}
