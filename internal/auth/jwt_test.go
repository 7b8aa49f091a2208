package auth

import (
	"errors"
	"testing"
	"time"
)

func testConfig() *JWTConfig {
	return &JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "campusmesh",
		Audience: "campusmesh-relay",
		TTL:      time.Hour,
	}
}

func TestGenerateAndValidateToken(t *testing.T) {
	cfg := testConfig()

	token, err := GenerateToken(cfg, "u-42", "Dana")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	claims, err := ValidateToken(cfg, token)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}
	if claims.UserID != "u-42" || claims.Name != "Dana" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestValidateTokenRejectsWrongSecretAndAudience(t *testing.T) {
	cfg := testConfig()
	token, err := GenerateToken(cfg, "u-42", "Dana")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	other := testConfig()
	other.Secret = []byte("other")
	if _, err := ValidateToken(other, token); err == nil {
		t.Fatalf("expected signature error")
	}

	other = testConfig()
	other.Audience = "someone-else"
	if _, err := ValidateToken(other, token); err == nil {
		t.Fatalf("expected audience error")
	}
}

func TestValidateTokenExpired(t *testing.T) {
	cfg := testConfig()
	cfg.TTL = -time.Minute
	token, err := GenerateToken(cfg, "u-42", "Dana")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	if _, err := ValidateToken(cfg, token); err == nil {
		t.Fatalf("expected expired token error")
	}
}

func TestVerifier(t *testing.T) {
	cfg := testConfig()
	token, err := GenerateToken(cfg, "u-42", "Dana")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	optional := NewVerifier(cfg, false)
	if err := optional.Verify("", "anyone"); err != nil {
		t.Fatalf("optional verifier should accept empty token: %v", err)
	}
	if err := optional.Verify(token, "u-42"); err != nil {
		t.Fatalf("verify matching user: %v", err)
	}
	if err := optional.Verify(token, "u-7"); !errors.Is(err, ErrIdentityMismatch) {
		t.Fatalf("expected identity mismatch, got %v", err)
	}

	required := NewVerifier(cfg, true)
	if err := required.Verify("", "u-42"); err == nil {
		t.Fatalf("required verifier should reject empty token")
	}
}
