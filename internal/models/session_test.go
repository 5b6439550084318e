package models

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestGenerateSessionTokenCookieSafe(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 64; i++ {
		token, errToken := GenerateSessionToken()
		if errToken != nil {
			t.Fatalf("generate token: %v", errToken)
		}
		// Cookie values must round-trip verbatim; +, / and = all get
		// percent-escaped on the wire.
		if strings.ContainsAny(token, "+/=") {
			t.Fatalf("token %q is not cookie-safe", token)
		}
		raw, errDecode := base64.RawURLEncoding.DecodeString(token)
		if errDecode != nil {
			t.Fatalf("decode token %q: %v", token, errDecode)
		}
		if len(raw) != 32 {
			t.Fatalf("expected 32 bytes of entropy, got %d", len(raw))
		}
		if seen[token] {
			t.Fatalf("duplicate token %q", token)
		}
		seen[token] = true
	}
}
