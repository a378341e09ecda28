package jwt

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateAndDecodeToken(t *testing.T) {
	tm := NewTokenManager("test-secret")

	token, err := tm.GenerateAccessToken("jti-1", "alice@example.com", map[string]any{
		"user_id": int64(42),
		"role":    "USER",
	}, time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := tm.DecodeToken(token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if got := GetSubjectFromToken(claims); got != "alice@example.com" {
		t.Fatalf("expected subject alice@example.com, got %q", got)
	}
	if got := GetPayloadInt64(claims, "user_id"); got != 42 {
		t.Fatalf("expected user_id 42, got %d", got)
	}
	if got := GetPayloadString(claims, "role"); got != "USER" {
		t.Fatalf("expected role USER, got %q", got)
	}
	if got, ok := claims["jti"].(string); !ok || got != "jti-1" {
		t.Fatalf("expected jti jti-1, got %v", claims["jti"])
	}
}

func TestDecodeTokenExpiryBoundary(t *testing.T) {
	tm := NewTokenManager("test-secret")

	token, err := tm.GenerateAccessToken("jti-2", "bob@example.com", nil, 2*time.Second)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if _, err := tm.DecodeToken(token); err != nil {
		t.Fatalf("expected token to validate ahead of expiry, got %v", err)
	}

	// Cross the expiry instant. Validation applies no leeway, so one second
	// past expiry must already be rejected.
	time.Sleep(3 * time.Second)

	if _, err := tm.DecodeToken(token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken just past expiry, got %v", err)
	}
}

func TestDecodeTokenRejectsTampered(t *testing.T) {
	tm := NewTokenManager("test-secret")

	token, err := tm.GenerateAccessToken("jti-3", "carol@example.com", nil, time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape: %q", token)
	}
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	if _, err := tm.DecodeToken(tampered); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for tampered token, got %v", err)
	}
}

func TestDecodeTokenRejectsWrongKey(t *testing.T) {
	issuer := NewTokenManager("issuer-secret")
	verifier := NewTokenManager("other-secret")

	token, err := issuer.GenerateAccessToken("jti-4", "dave@example.com", nil, time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if _, err := verifier.DecodeToken(token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for wrong key, got %v", err)
	}
}

func TestGenerateWithoutKey(t *testing.T) {
	tm := NewTokenManager("")
	if _, err := tm.GenerateAccessToken("jti-5", "eve@example.com", nil, time.Hour); err != ErrNeedSigningKey {
		t.Fatalf("expected ErrNeedSigningKey, got %v", err)
	}
}

func TestGetTokenExpiryTime(t *testing.T) {
	tm := NewTokenManager("test-secret")

	before := time.Now().Add(time.Hour).Add(-2 * time.Second)
	token, err := tm.GenerateAccessToken("jti-6", "frank@example.com", nil, time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	after := time.Now().Add(time.Hour).Add(2 * time.Second)

	exp, err := tm.GetTokenExpiryTime(token)
	if err != nil {
		t.Fatalf("expiry: %v", err)
	}
	if exp.Before(before) || exp.After(after) {
		t.Fatalf("expiry %v outside expected window [%v, %v]", exp, before, after)
	}
}
