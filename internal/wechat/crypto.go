package wechat

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Decryption failures are split so callers can log the exact stage
// without ever echoing key material.
var (
	ErrInvalidSessionKey = errors.New("wechat: session key must decode to 16 bytes")
	ErrInvalidIV         = errors.New("wechat: iv must decode to 16 bytes")
	ErrInvalidCiphertext = errors.New("wechat: ciphertext is not valid AES-CBC input")
	ErrInvalidPadding    = errors.New("wechat: invalid ciphertext padding")
	ErrInvalidPlaintext  = errors.New("wechat: decrypted payload is not valid user data")
)

// Watermark binds decrypted user data to the issuing mini-program.
type Watermark struct {
	AppID     string `json:"appid"`
	Timestamp int64  `json:"timestamp"`
}

// DecryptedUserInfo is the full profile carried inside encryptedData.
type DecryptedUserInfo struct {
	OpenID    string    `json:"openId"`
	NickName  string    `json:"nickName"`
	Gender    int       `json:"gender"`
	Language  string    `json:"language"`
	City      string    `json:"city"`
	Province  string    `json:"province"`
	Country   string    `json:"country"`
	AvatarURL string    `json:"avatarUrl"`
	UnionID   string    `json:"unionId,omitempty"`
	Watermark Watermark `json:"watermark"`
}

// UserProfileInfo is the profile payload produced by wx.getUserProfile.
// It doubles as the shape of the signed rawData string.
type UserProfileInfo struct {
	NickName  string `json:"nickName"`
	AvatarURL string `json:"avatarUrl"`
	Gender    int    `json:"gender"`
	Language  string `json:"language"`
	City      string `json:"city"`
	Province  string `json:"province"`
	Country   string `json:"country"`
	IsDemote  bool   `json:"is_demote"`
}

// VerifySignature checks that signature is the SHA-1 of rawData
// concatenated with the session key. The hex comparison ignores case.
func VerifySignature(rawData, sessionKey, signature string) bool {
	sum := sha1.Sum([]byte(rawData + sessionKey))
	expected := hex.EncodeToString(sum[:])
	return strings.EqualFold(expected, signature)
}

// Decrypt unseals encryptedData with the session key and IV, both
// base64-encoded 16-byte values, and parses the resulting profile.
func Decrypt(encryptedData, sessionKey, iv string) (DecryptedUserInfo, error) {
	unpadded, errUnseal := unseal(encryptedData, sessionKey, iv)
	if errUnseal != nil {
		return DecryptedUserInfo{}, errUnseal
	}
	var info DecryptedUserInfo
	if errDecode := json.Unmarshal(unpadded, &info); errDecode != nil {
		return DecryptedUserInfo{}, fmt.Errorf("%w: %v", ErrInvalidPlaintext, errDecode)
	}
	return info, nil
}

// DecryptProfile unseals the wx.getUserProfile payload the same way
// Decrypt does but parses the narrower profile shape.
func DecryptProfile(encryptedData, sessionKey, iv string) (UserProfileInfo, error) {
	unpadded, errUnseal := unseal(encryptedData, sessionKey, iv)
	if errUnseal != nil {
		return UserProfileInfo{}, errUnseal
	}
	var profile UserProfileInfo
	if errDecode := json.Unmarshal(unpadded, &profile); errDecode != nil {
		return UserProfileInfo{}, fmt.Errorf("%w: %v", ErrInvalidPlaintext, errDecode)
	}
	return profile, nil
}

func unseal(encryptedData, sessionKey, iv string) ([]byte, error) {
	key, errKey := base64.StdEncoding.DecodeString(sessionKey)
	if errKey != nil || len(key) != aes.BlockSize {
		return nil, ErrInvalidSessionKey
	}
	ivBytes, errIV := base64.StdEncoding.DecodeString(iv)
	if errIV != nil || len(ivBytes) != aes.BlockSize {
		return nil, ErrInvalidIV
	}
	ciphertext, errData := base64.StdEncoding.DecodeString(encryptedData)
	if errData != nil {
		return nil, fmt.Errorf("%w: bad base64", ErrInvalidCiphertext)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidCiphertext, len(ciphertext))
	}

	block, errCipher := aes.NewCipher(key)
	if errCipher != nil {
		return nil, ErrInvalidSessionKey
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, ivBytes).CryptBlocks(plaintext, ciphertext)

	unpadded, errPad := stripPKCS7(plaintext)
	if errPad != nil {
		return nil, errPad
	}
	if !utf8.Valid(unpadded) {
		return nil, fmt.Errorf("%w: not utf-8", ErrInvalidPlaintext)
	}
	return unpadded, nil
}

// VerifyWatermark reports whether the decrypted payload was issued for
// appID.
func VerifyWatermark(info DecryptedUserInfo, appID string) bool {
	return info.Watermark.AppID == appID
}

func stripPKCS7(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrInvalidPadding
	}
	padding := int(data[len(data)-1])
	if padding < 1 || padding > aes.BlockSize || padding > len(data) {
		return nil, ErrInvalidPadding
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, ErrInvalidPadding
		}
	}
	return data[:len(data)-padding], nil
}
