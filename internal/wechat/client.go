// Package wechat implements the WeChat mini-program login exchange and
// the user data verification that goes with it.
package wechat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rockettaro/taro-server/internal/config"
	log "github.com/sirupsen/logrus"
)

// defaultBaseURL is the WeChat API origin.
const defaultBaseURL = "https://api.weixin.qq.com"

// exchangeTimeout bounds the code2session round trip.
const exchangeTimeout = 10 * time.Second

// SessionResult is the outcome of a successful code exchange.
type SessionResult struct {
	OpenID     string `json:"openid"`
	SessionKey string `json:"session_key"`
	UnionID    string `json:"unionid,omitempty"`
}

// code2sessionResponse mirrors the WeChat API payload, including its
// in-band error channel.
type code2sessionResponse struct {
	OpenID     string `json:"openid"`
	SessionKey string `json:"session_key"`
	UnionID    string `json:"unionid"`
	ErrCode    int    `json:"errcode"`
	ErrMsg     string `json:"errmsg"`
}

// Client exchanges mini-program login codes against the WeChat API.
type Client struct {
	appID      string
	appSecret  string
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a Client from the configured credentials.
func NewClient(cfg config.WeChatConfig) *Client {
	return &Client{
		appID:     cfg.AppID,
		appSecret: cfg.AppSecret,
		baseURL:   defaultBaseURL,
		httpClient: &http.Client{
			Timeout: exchangeTimeout,
		},
	}
}

// AppID returns the configured mini-program app id.
func (c *Client) AppID() string {
	if c == nil {
		return ""
	}
	return c.appID
}

// CodeToSession exchanges a login code for the user's openid and session
// key. WeChat reports failures in-band with a non-zero errcode; those are
// returned as errors alongside transport failures.
func (c *Client) CodeToSession(ctx context.Context, jsCode string) (SessionResult, error) {
	if c == nil || c.appID == "" || c.appSecret == "" {
		return SessionResult{}, fmt.Errorf("wechat: client not configured")
	}
	if jsCode == "" {
		return SessionResult{}, fmt.Errorf("wechat: empty login code")
	}

	query := url.Values{}
	query.Set("appid", c.appID)
	query.Set("secret", c.appSecret)
	query.Set("js_code", jsCode)
	query.Set("grant_type", "authorization_code")
	endpoint := c.baseURL + "/sns/jscode2session?" + query.Encode()

	req, errReq := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if errReq != nil {
		return SessionResult{}, fmt.Errorf("wechat: build request: %w", errReq)
	}
	resp, errDo := c.httpClient.Do(req)
	if errDo != nil {
		return SessionResult{}, fmt.Errorf("wechat: code exchange: %w", errDo)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, errRead := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if errRead != nil {
		return SessionResult{}, fmt.Errorf("wechat: read response: %w", errRead)
	}
	if resp.StatusCode != http.StatusOK {
		return SessionResult{}, fmt.Errorf("wechat: code exchange status %d", resp.StatusCode)
	}

	var parsed code2sessionResponse
	if errDecode := json.Unmarshal(body, &parsed); errDecode != nil {
		return SessionResult{}, fmt.Errorf("wechat: decode response: %w", errDecode)
	}
	if parsed.ErrCode != 0 {
		log.WithFields(log.Fields{"errcode": parsed.ErrCode, "errmsg": parsed.ErrMsg}).Warn("wechat code exchange rejected")
		return SessionResult{}, fmt.Errorf("wechat: code exchange rejected: errcode %d", parsed.ErrCode)
	}
	if parsed.OpenID == "" || parsed.SessionKey == "" {
		return SessionResult{}, fmt.Errorf("wechat: incomplete exchange response")
	}

	return SessionResult{
		OpenID:     parsed.OpenID,
		SessionKey: parsed.SessionKey,
		UnionID:    parsed.UnionID,
	}, nil
}
