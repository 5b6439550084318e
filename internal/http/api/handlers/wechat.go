package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rockettaro/taro-server/internal/auth"
	"github.com/rockettaro/taro-server/internal/usecase"
	log "github.com/sirupsen/logrus"
)

// WeChatHandler serves the mini-program login endpoint.
type WeChatHandler struct {
	service      *usecase.WeChatService
	cookieSecure bool
}

// NewWeChatHandler constructs a WeChatHandler.
func NewWeChatHandler(service *usecase.WeChatService, cookieSecure bool) *WeChatHandler {
	return &WeChatHandler{service: service, cookieSecure: cookieSecure}
}

// Login handles POST /api/auth/wx-login. Authorization failures stay
// generic toward the client; details go to the log only.
func (h *WeChatHandler) Login(c *gin.Context) {
	var body usecase.WxLoginInput
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "login code is required"})
		return
	}

	result, errLogin := h.service.Login(c.Request.Context(), body, auth.NewRequestInfo(c))
	if errLogin != nil {
		if errors.Is(errLogin, usecase.ErrWeChatExchange) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "wechat authorization failed"})
			return
		}
		log.WithError(errLogin).Error("wechat login failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(auth.CookieName, result.Session.Token, int(cookieMaxAge.Seconds()), "/", "", h.cookieSecure, true)
	c.JSON(http.StatusOK, loginResponse{
		User:         result.User,
		SessionToken: result.Session.Token,
		ExpiresAt:    result.Session.ExpiresAt,
	})
}
