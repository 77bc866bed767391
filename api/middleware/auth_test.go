package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/learnonline/payments-backend/pkg/auth"
	"github.com/learnonline/payments-backend/pkg/config"
	"github.com/learnonline/payments-backend/pkg/enums"
)

func testTokens(t *testing.T) *auth.Tokens {
	t.Helper()
	tokens, err := auth.NewTokens(config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 60})
	if err != nil {
		t.Fatalf("new tokens: %v", err)
	}
	return tokens
}

func mintTestToken(t *testing.T, tokens *auth.Tokens, p auth.Principal) string {
	t.Helper()
	raw, err := tokens.Mint(p)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return raw
}

func TestAuthRejectsMissingToken(t *testing.T) {
	handler := Auth(testTokens(t), nil)(okHandler())

	for _, header := range []string{"", "Bearer ", "bearer    "} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		if resp.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: expected 401 got %d", header, resp.Code)
		}
	}
}

func TestAuthRejectsInvalidToken(t *testing.T) {
	handler := Auth(testTokens(t), nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer invalid")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthStoresPrincipal(t *testing.T) {
	tokens := testTokens(t)
	want := auth.Principal{UserID: uuid.New(), Role: enums.MemberRoleLearner, Email: "learner@example.com"}

	var got auth.Principal
	handler := Auth(tokens, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	for _, scheme := range []string{"Bearer ", "BEARER ", ""} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", scheme+mintTestToken(t, tokens, want))
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)

		if resp.Code != http.StatusOK {
			t.Fatalf("scheme %q: expected 200 got %d", scheme, resp.Code)
		}
		if got != want {
			t.Fatalf("scheme %q: got %+v want %+v", scheme, got, want)
		}
	}
}
