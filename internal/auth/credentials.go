// Package auth extracts session credentials from requests and guards
// routes behind them.
package auth

import (
	"net"
	"strings"

	"github.com/gin-gonic/gin"
)

// CookieName is the session cookie issued on login.
const CookieName = "session_token"

// TokenFromRequest pulls the session token from the request. The cookie
// wins over the Authorization header when both are present.
func TokenFromRequest(c *gin.Context) (string, bool) {
	if cookie, errCookie := c.Cookie(CookieName); errCookie == nil && cookie != "" {
		return cookie, true
	}
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", false
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == authHeader {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}

// RequestInfo captures the client attribution recorded on sessions and
// login audit rows.
type RequestInfo struct {
	IPAddress string
	UserAgent string
}

// NewRequestInfo resolves the client address and user agent. Proxy
// headers win over the socket address: X-Real-IP first, then the first
// hop of X-Forwarded-For.
func NewRequestInfo(c *gin.Context) RequestInfo {
	info := RequestInfo{UserAgent: c.GetHeader("User-Agent")}

	if realIP := strings.TrimSpace(c.GetHeader("X-Real-IP")); realIP != "" {
		info.IPAddress = realIP
		return info
	}
	if forwarded := c.GetHeader("X-Forwarded-For"); forwarded != "" {
		first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
		if first != "" {
			info.IPAddress = first
			return info
		}
	}
	host, _, errSplit := net.SplitHostPort(c.Request.RemoteAddr)
	if errSplit != nil {
		info.IPAddress = c.Request.RemoteAddr
		return info
	}
	info.IPAddress = host
	return info
}
