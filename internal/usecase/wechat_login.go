package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/rockettaro/taro-server/internal/auth"
	"github.com/rockettaro/taro-server/internal/cache"
	"github.com/rockettaro/taro-server/internal/models"
	"github.com/rockettaro/taro-server/internal/session"
	"github.com/rockettaro/taro-server/internal/wechat"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrWeChatExchange is returned when the code exchange with the WeChat
// API fails; the client-facing message stays generic.
var ErrWeChatExchange = errors.New("usecase: wechat authorization failed")

// wxUserAgent is recorded on sessions opened through the mini-program.
const wxUserAgent = "WeChat Mini Program"

// CodeExchanger is the slice of the WeChat client this flow needs.
type CodeExchanger interface {
	CodeToSession(ctx context.Context, jsCode string) (wechat.SessionResult, error)
	AppID() string
}

// WxLoginInput is the mini-program login payload. The code is mandatory;
// the four profile fields travel together or not at all.
type WxLoginInput struct {
	Code          string `json:"code" binding:"required"`
	EncryptedData string `json:"encrypted_data"`
	IV            string `json:"iv"`
	Signature     string `json:"signature"`
	RawData       string `json:"raw_data"`
}

// WeChatService implements the federated mini-program login.
type WeChatService struct {
	db        *gorm.DB
	sessions  *session.Manager
	caches    *cache.SessionCache
	users     *cache.UserCache
	exchanger CodeExchanger
}

// NewWeChatService constructs a WeChatService.
func NewWeChatService(db *gorm.DB, client *cache.Client, sessions *session.Manager, exchanger CodeExchanger) *WeChatService {
	return &WeChatService{
		db:        db,
		sessions:  sessions,
		caches:    cache.NewSessionCache(client),
		users:     cache.NewUserCache(client),
		exchanger: exchanger,
	}
}

// Login runs the federated flow: code exchange, find-or-create by openid,
// optional profile enrichment, then the normal session path. Enrichment
// failures never block the login itself.
func (s *WeChatService) Login(ctx context.Context, input WxLoginInput, info auth.RequestInfo) (LoginResult, error) {
	if s == nil || s.db == nil || s.exchanger == nil {
		return LoginResult{}, fmt.Errorf("usecase: wechat service not initialized")
	}

	exchange, errExchange := s.exchanger.CodeToSession(ctx, input.Code)
	if errExchange != nil {
		log.WithError(errExchange).Warn("wechat code exchange failed")
		return LoginResult{}, ErrWeChatExchange
	}

	user, errUser := s.findOrCreateUser(ctx, exchange)
	if errUser != nil {
		return LoginResult{}, errUser
	}

	if input.EncryptedData != "" && input.IV != "" && input.Signature != "" && input.RawData != "" {
		if errEnrich := s.enrichProfile(ctx, &user, input, exchange.SessionKey); errEnrich != nil {
			log.WithError(errEnrich).WithField("user_id", user.ID).Warn("wechat profile enrichment skipped")
		}
	}

	sess, errCreate := s.sessions.Create(ctx, user.ID, wxUserAgent, info.IPAddress)
	if errCreate != nil {
		return LoginResult{}, errCreate
	}
	populateLoginCaches(ctx, s.caches, s.users, user, sess)

	now := sess.CreatedAt
	if errTouch := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", user.ID).
		Update("last_login_at", now).Error; errTouch != nil {
		log.WithError(errTouch).WithField("user_id", user.ID).Warn("last-login update skipped")
	}

	row := models.LoginLog{
		UserID:    &user.ID,
		Username:  user.Username,
		Success:   true,
		IPAddress: info.IPAddress,
		UserAgent: wxUserAgent,
	}
	if errLog := s.db.WithContext(ctx).Create(&row).Error; errLog != nil {
		log.WithError(errLog).WithField("user_id", user.ID).Warn("login audit write skipped")
	}

	log.WithFields(log.Fields{"user_id": user.ID, "username": user.Username}).Info("wechat login successful")
	return LoginResult{User: models.NewUserInfo(user), Session: sess}, nil
}

// findOrCreateUser resolves the openid to an account, refreshing the
// stored session key on returning users and synthesizing an identity for
// first-time ones.
func (s *WeChatService) findOrCreateUser(ctx context.Context, exchange wechat.SessionResult) (models.User, error) {
	var user models.User
	errFind := s.db.WithContext(ctx).
		Where("wx_open_id = ?", exchange.OpenID).
		First(&user).Error
	if errFind == nil {
		updates := map[string]interface{}{"wx_session_key": exchange.SessionKey}
		if exchange.UnionID != "" && user.WxUnionID == nil {
			updates["wx_union_id"] = exchange.UnionID
			user.WxUnionID = &exchange.UnionID
		}
		if errUpdate := s.db.WithContext(ctx).Model(&models.User{}).
			Where("id = ?", user.ID).
			Updates(updates).Error; errUpdate != nil {
			log.WithError(errUpdate).WithField("user_id", user.ID).Warn("session key refresh skipped")
		}
		user.WxSessionKey = &exchange.SessionKey
		return user, nil
	}
	if !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return models.User{}, fmt.Errorf("usecase: openid lookup: %w", errFind)
	}

	user = models.User{
		Username:     "wx_" + prefix(exchange.OpenID, 8),
		Email:        prefix(exchange.OpenID, 10) + "@wx.temp",
		Password:     "",
		Active:       true,
		Guest:        true,
		WxOpenID:     &exchange.OpenID,
		WxSessionKey: &exchange.SessionKey,
	}
	if exchange.UnionID != "" {
		user.WxUnionID = &exchange.UnionID
	}
	if errCreate := s.db.WithContext(ctx).Create(&user).Error; errCreate != nil {
		return models.User{}, fmt.Errorf("usecase: create wechat user: %w", errCreate)
	}
	log.WithFields(log.Fields{"user_id": user.ID, "username": user.Username}).Info("wechat user created")
	return user, nil
}

// enrichProfile verifies and decrypts the signed profile payload and
// applies the nickname and avatar to the account. A watermark mismatch is
// logged but does not discard the profile.
func (s *WeChatService) enrichProfile(ctx context.Context, user *models.User, input WxLoginInput, sessionKey string) error {
	if !wechat.VerifySignature(input.RawData, sessionKey, input.Signature) {
		return fmt.Errorf("usecase: profile signature mismatch")
	}

	profile, errDecrypt := wechat.Decrypt(input.EncryptedData, sessionKey, input.IV)
	if errDecrypt != nil {
		return fmt.Errorf("usecase: profile decrypt: %w", errDecrypt)
	}
	if !wechat.VerifyWatermark(profile, s.exchanger.AppID()) {
		log.WithFields(log.Fields{
			"user_id":  user.ID,
			"got":      profile.Watermark.AppID,
			"expected": s.exchanger.AppID(),
		}).Warn("wechat watermark mismatch")
	}

	if errUpdate := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", user.ID).
		Updates(map[string]interface{}{
			"full_name":  profile.NickName,
			"avatar_url": profile.AvatarURL,
		}).Error; errUpdate != nil {
		return fmt.Errorf("usecase: apply profile: %w", errUpdate)
	}
	user.FullName = &profile.NickName
	user.AvatarURL = &profile.AvatarURL

	// Projections cached by earlier sessions still carry the old name and
	// avatar; drop them so the durable row wins.
	if invalidated := s.sessions.InvalidateAllForUser(ctx, user.ID); invalidated > 0 {
		log.WithFields(log.Fields{"user_id": user.ID, "count": invalidated}).Debug("dropped stale projections after profile update")
	}
	return nil
}

// prefix truncates s to at most n bytes; short openids are used whole.
func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
