package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/learnonline/payments-backend/pkg/config"
	"github.com/learnonline/payments-backend/pkg/enums"
)

func newTestTokens(t *testing.T, now time.Time) *Tokens {
	t.Helper()
	tokens, err := NewTokens(config.JWTConfig{Secret: "secret", Issuer: "learnonline", ExpirationMinutes: 30, Leeway: 5 * time.Second})
	if err != nil {
		t.Fatalf("new tokens: %v", err)
	}
	tokens.now = func() time.Time { return now }
	return tokens
}

func TestMintThenVerify(t *testing.T) {
	now := time.Now().UTC()
	tokens := newTestTokens(t, now)
	userID := uuid.New()

	raw, err := tokens.Mint(Principal{UserID: userID, Role: enums.MemberRoleLearner, Email: " learner@example.com "})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	got, err := tokens.Verify(raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	want := Principal{UserID: userID, Role: enums.MemberRoleLearner, Email: "learner@example.com"}
	if got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}
	if got.IsAdmin() {
		t.Fatalf("learner reported as admin")
	}
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	tokens := newTestTokens(t, time.Now())
	raw, err := tokens.Mint(Principal{UserID: uuid.New(), Role: enums.MemberRoleAdmin})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := tokens.Verify(raw + "x"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestVerifyHonoursLeeway(t *testing.T) {
	minted := time.Now().UTC()
	tokens := newTestTokens(t, minted)
	raw, err := tokens.Mint(Principal{UserID: uuid.New(), Role: enums.MemberRoleLearner})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	tokens.now = func() time.Time { return minted.Add(30*time.Minute + 2*time.Second) }
	if _, err := tokens.Verify(raw); err != nil {
		t.Fatalf("token inside leeway should verify: %v", err)
	}

	tokens.now = func() time.Time { return minted.Add(31 * time.Minute) }
	if _, err := tokens.Verify(raw); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestVerifyRejectsForeignIssuer(t *testing.T) {
	now := time.Now()
	raw, err := newTestTokens(t, now).Mint(Principal{UserID: uuid.New(), Role: enums.MemberRoleLearner})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	other, err := NewTokens(config.JWTConfig{Secret: "secret", Issuer: "someone-else", ExpirationMinutes: 30})
	if err != nil {
		t.Fatalf("new tokens: %v", err)
	}
	if _, err := other.Verify(raw); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected issuer mismatch, got %v", err)
	}
}

func TestMintRejectsUnknownRole(t *testing.T) {
	if _, err := newTestTokens(t, time.Now()).Mint(Principal{UserID: uuid.New(), Role: "owner"}); err == nil {
		t.Fatal("expected invalid role error")
	}
}

func TestNewTokensValidatesConfig(t *testing.T) {
	cases := map[string]config.JWTConfig{
		"secret": {Issuer: "i", ExpirationMinutes: 1},
		"issuer": {Secret: "s", ExpirationMinutes: 1},
		"ttl":    {Secret: "s", Issuer: "i"},
		"leeway": {Secret: "s", Issuer: "i", ExpirationMinutes: 1, Leeway: -time.Second},
	}
	for name, cfg := range cases {
		if _, err := NewTokens(cfg); err == nil {
			t.Fatalf("%s: expected config error", name)
		}
	}
}
