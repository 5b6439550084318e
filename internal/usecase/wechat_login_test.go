package usecase

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rockettaro/taro-server/internal/cache"
	"github.com/rockettaro/taro-server/internal/cache/cachetest"
	"github.com/rockettaro/taro-server/internal/db"
	"github.com/rockettaro/taro-server/internal/models"
	"github.com/rockettaro/taro-server/internal/session"
	"github.com/rockettaro/taro-server/internal/wechat"
)

const wxTestSessionKey = "HyVFkGl5F5OQWJZZaNzBBg=="

type fakeExchanger struct {
	result wechat.SessionResult
	err    error
	calls  int
}

func (f *fakeExchanger) CodeToSession(_ context.Context, _ string) (wechat.SessionResult, error) {
	f.calls++
	return f.result, f.err
}

func (f *fakeExchanger) AppID() string {
	return "wx-test-app"
}

func newWxService(t *testing.T, exchanger *fakeExchanger) (*WeChatService, *AuthService) {
	t.Helper()
	conn, errOpen := db.Open(":memory:", 1)
	if errOpen != nil {
		t.Fatalf("open database: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	client := cache.NewWithCommands(cachetest.New())
	manager := session.NewManager(conn, client)
	return NewWeChatService(conn, client, manager, exchanger), NewAuthService(conn, client, manager)
}

func sealProfile(t *testing.T, info wechat.DecryptedUserInfo, iv string) string {
	t.Helper()
	payload, errMarshal := json.Marshal(info)
	if errMarshal != nil {
		t.Fatalf("marshal profile: %v", errMarshal)
	}
	key, _ := base64.StdEncoding.DecodeString(wxTestSessionKey)
	ivBytes, _ := base64.StdEncoding.DecodeString(iv)
	padding := aes.BlockSize - len(payload)%aes.BlockSize
	padded := append(append([]byte(nil), payload...), bytes.Repeat([]byte{byte(padding)}, padding)...)
	block, errCipher := aes.NewCipher(key)
	if errCipher != nil {
		t.Fatalf("new cipher: %v", errCipher)
	}
	sealed := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, ivBytes).CryptBlocks(sealed, padded)
	return base64.StdEncoding.EncodeToString(sealed)
}

func signRawData(rawData string) string {
	sum := sha1.Sum([]byte(rawData + wxTestSessionKey))
	return hex.EncodeToString(sum[:])
}

func TestWxLoginCreatesSynthesizedUser(t *testing.T) {
	exchanger := &fakeExchanger{result: wechat.SessionResult{
		OpenID:     "oGZUI0egBJY1zhBYw2KhdUfwVJJE",
		SessionKey: wxTestSessionKey,
		UnionID:    "union-1",
	}}
	service, _ := newWxService(t, exchanger)
	ctx := context.Background()

	result, errLogin := service.Login(ctx, WxLoginInput{Code: "code-1"}, testInfo())
	if errLogin != nil {
		t.Fatalf("wx login: %v", errLogin)
	}
	if result.User.Username != "wx_oGZUI0eg" {
		t.Fatalf("unexpected synthesized username %q", result.User.Username)
	}
	if result.User.Email != "oGZUI0egBJ@wx.temp" {
		t.Fatalf("unexpected synthesized email %q", result.User.Email)
	}
	if !result.User.Guest {
		t.Fatalf("wechat user must carry the guest flag")
	}

	var stored models.User
	if errFind := service.db.Where("id = ?", result.User.ID).First(&stored).Error; errFind != nil {
		t.Fatalf("reload user: %v", errFind)
	}
	if stored.Password != "" || stored.WxOpenID == nil || *stored.WxOpenID != "oGZUI0egBJY1zhBYw2KhdUfwVJJE" {
		t.Fatalf("unexpected stored user: %+v", stored)
	}
	if stored.WxUnionID == nil || *stored.WxUnionID != "union-1" {
		t.Fatalf("unionid not stored")
	}
	if _, _, errValidate := service.sessions.Validate(ctx, result.Session.Token); errValidate != nil {
		t.Fatalf("wx session does not validate: %v", errValidate)
	}
}

func TestWxLoginShortOpenIDUsedWhole(t *testing.T) {
	exchanger := &fakeExchanger{result: wechat.SessionResult{
		OpenID:     "abc",
		SessionKey: wxTestSessionKey,
	}}
	service, _ := newWxService(t, exchanger)

	result, errLogin := service.Login(context.Background(), WxLoginInput{Code: "code-1"}, testInfo())
	if errLogin != nil {
		t.Fatalf("wx login: %v", errLogin)
	}
	if result.User.Username != "wx_abc" || result.User.Email != "abc@wx.temp" {
		t.Fatalf("short openid not used whole: %+v", result.User)
	}
}

func TestWxLoginReusesExistingUser(t *testing.T) {
	exchanger := &fakeExchanger{result: wechat.SessionResult{
		OpenID:     "oGZUI0egBJY1zhBYw2KhdUfwVJJE",
		SessionKey: "b2xkLWtleS1yZXBsYWNlZC0wMQ==",
	}}
	service, _ := newWxService(t, exchanger)
	ctx := context.Background()

	first, errFirst := service.Login(ctx, WxLoginInput{Code: "code-1"}, testInfo())
	if errFirst != nil {
		t.Fatalf("first login: %v", errFirst)
	}

	exchanger.result.SessionKey = wxTestSessionKey
	second, errSecond := service.Login(ctx, WxLoginInput{Code: "code-2"}, testInfo())
	if errSecond != nil {
		t.Fatalf("second login: %v", errSecond)
	}
	if first.User.ID != second.User.ID {
		t.Fatalf("expected one account per openid, got %d and %d", first.User.ID, second.User.ID)
	}

	var count int64
	if errCount := service.db.Model(&models.User{}).Count(&count).Error; errCount != nil {
		t.Fatalf("count users: %v", errCount)
	}
	if count != 1 {
		t.Fatalf("expected exactly one user row, got %d", count)
	}
	var stored models.User
	if errFind := service.db.Where("id = ?", first.User.ID).First(&stored).Error; errFind != nil {
		t.Fatalf("reload user: %v", errFind)
	}
	if stored.WxSessionKey == nil || *stored.WxSessionKey != wxTestSessionKey {
		t.Fatalf("session key not refreshed: %+v", stored.WxSessionKey)
	}
}

func TestWxLoginExchangeFailure(t *testing.T) {
	exchanger := &fakeExchanger{err: errors.New("errcode 40029")}
	service, _ := newWxService(t, exchanger)

	if _, errLogin := service.Login(context.Background(), WxLoginInput{Code: "bad"}, testInfo()); !errors.Is(errLogin, ErrWeChatExchange) {
		t.Fatalf("expected exchange error, got %v", errLogin)
	}
}

func TestWxLoginEnrichmentAppliesProfile(t *testing.T) {
	exchanger := &fakeExchanger{result: wechat.SessionResult{
		OpenID:     "oGZUI0egBJY1zhBYw2KhdUfwVJJE",
		SessionKey: wxTestSessionKey,
	}}
	service, _ := newWxService(t, exchanger)
	ctx := context.Background()

	iv := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x24}, 16))
	rawData := `{"nickName":"Band","avatarUrl":"https://example.com/a.png"}`
	input := WxLoginInput{
		Code: "code-1",
		EncryptedData: sealProfile(t, wechat.DecryptedUserInfo{
			NickName:  "Band",
			AvatarURL: "https://example.com/a.png",
			Watermark: wechat.Watermark{AppID: "wx-test-app", Timestamp: 1477314187},
		}, iv),
		IV:        iv,
		RawData:   rawData,
		Signature: signRawData(rawData),
	}

	result, errLogin := service.Login(ctx, input, testInfo())
	if errLogin != nil {
		t.Fatalf("wx login: %v", errLogin)
	}
	if result.User.FullName == nil || *result.User.FullName != "Band" {
		t.Fatalf("nickname not applied: %+v", result.User)
	}
	if result.User.AvatarURL == nil || *result.User.AvatarURL != "https://example.com/a.png" {
		t.Fatalf("avatar not applied: %+v", result.User)
	}

	var stored models.User
	if errFind := service.db.Where("id = ?", result.User.ID).First(&stored).Error; errFind != nil {
		t.Fatalf("reload user: %v", errFind)
	}
	if stored.FullName == nil || *stored.FullName != "Band" {
		t.Fatalf("nickname not persisted")
	}
}

func TestWxLoginEnrichmentRefreshesEarlierSessions(t *testing.T) {
	exchanger := &fakeExchanger{result: wechat.SessionResult{
		OpenID:     "oGZUI0egBJY1zhBYw2KhdUfwVJJE",
		SessionKey: wxTestSessionKey,
	}}
	service, _ := newWxService(t, exchanger)
	ctx := context.Background()

	first, errFirst := service.Login(ctx, WxLoginInput{Code: "code-1"}, testInfo())
	if errFirst != nil {
		t.Fatalf("first login: %v", errFirst)
	}
	if first.User.FullName != nil {
		t.Fatalf("unexpected profile on first login: %+v", first.User)
	}

	iv := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x24}, 16))
	rawData := `{"nickName":"Band"}`
	input := WxLoginInput{
		Code: "code-2",
		EncryptedData: sealProfile(t, wechat.DecryptedUserInfo{
			NickName:  "Band",
			AvatarURL: "https://example.com/a.png",
			Watermark: wechat.Watermark{AppID: "wx-test-app", Timestamp: 1477314187},
		}, iv),
		IV:        iv,
		RawData:   rawData,
		Signature: signRawData(rawData),
	}
	if _, errSecond := service.Login(ctx, input, testInfo()); errSecond != nil {
		t.Fatalf("second login: %v", errSecond)
	}

	// The first session's cached projection predates the enrichment and
	// must not keep serving the old profile.
	user, _, errValidate := service.sessions.Validate(ctx, first.Session.Token)
	if errValidate != nil {
		t.Fatalf("validate first session: %v", errValidate)
	}
	if user.FullName == nil || *user.FullName != "Band" {
		t.Fatalf("earlier session served a stale profile: %v", user.FullName)
	}
	if user.AvatarURL == nil || *user.AvatarURL != "https://example.com/a.png" {
		t.Fatalf("earlier session served a stale avatar: %v", user.AvatarURL)
	}
}

func TestWxLoginBadSignatureStillLogsIn(t *testing.T) {
	exchanger := &fakeExchanger{result: wechat.SessionResult{
		OpenID:     "oGZUI0egBJY1zhBYw2KhdUfwVJJE",
		SessionKey: wxTestSessionKey,
	}}
	service, _ := newWxService(t, exchanger)
	ctx := context.Background()

	iv := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x24}, 16))
	input := WxLoginInput{
		Code: "code-1",
		EncryptedData: sealProfile(t, wechat.DecryptedUserInfo{
			NickName: "Band",
		}, iv),
		IV:        iv,
		RawData:   `{"nickName":"Band"}`,
		Signature: "0000000000000000000000000000000000000000",
	}

	result, errLogin := service.Login(ctx, input, testInfo())
	if errLogin != nil {
		t.Fatalf("login must survive enrichment failure: %v", errLogin)
	}
	if result.User.FullName != nil {
		t.Fatalf("profile must not apply on signature failure")
	}
}

func TestWxLoginForeignWatermarkStillApplies(t *testing.T) {
	exchanger := &fakeExchanger{result: wechat.SessionResult{
		OpenID:     "oGZUI0egBJY1zhBYw2KhdUfwVJJE",
		SessionKey: wxTestSessionKey,
	}}
	service, _ := newWxService(t, exchanger)
	ctx := context.Background()

	iv := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x24}, 16))
	rawData := `{"nickName":"Band"}`
	input := WxLoginInput{
		Code: "code-1",
		EncryptedData: sealProfile(t, wechat.DecryptedUserInfo{
			NickName:  "Band",
			AvatarURL: "https://example.com/a.png",
			Watermark: wechat.Watermark{AppID: "wx-other-app", Timestamp: 1},
		}, iv),
		IV:        iv,
		RawData:   rawData,
		Signature: signRawData(rawData),
	}

	result, errLogin := service.Login(ctx, input, testInfo())
	if errLogin != nil {
		t.Fatalf("login must survive watermark mismatch: %v", errLogin)
	}
	if result.User.FullName == nil || *result.User.FullName != "Band" {
		t.Fatalf("watermark mismatch must not discard the profile")
	}
}
