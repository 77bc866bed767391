// Package auth verifies the HS256 access tokens presented by learners and
// admins.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/learnonline/payments-backend/pkg/config"
	"github.com/learnonline/payments-backend/pkg/enums"
)

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
)

// Principal is the caller identity carried by a verified token.
type Principal struct {
	UserID uuid.UUID
	Role   enums.MemberRole
	Email  string
}

// IsAdmin reports whether the principal may act on other users' payments.
func (p Principal) IsAdmin() bool {
	return p.Role == enums.MemberRoleAdmin
}

type claims struct {
	Role  enums.MemberRole `json:"role"`
	Email string           `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Tokens mints and verifies access tokens with one shared secret.
type Tokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
	parser *jwt.Parser
	now    func() time.Time
}

func NewTokens(cfg config.JWTConfig) (*Tokens, error) {
	secret := strings.TrimSpace(cfg.Secret)
	issuer := strings.TrimSpace(cfg.Issuer)
	switch {
	case secret == "":
		return nil, errors.New("jwt secret is required")
	case issuer == "":
		return nil, errors.New("jwt issuer is required")
	case cfg.ExpirationMinutes <= 0:
		return nil, errors.New("jwt expiration minutes must be positive")
	case cfg.Leeway < 0:
		return nil, errors.New("jwt leeway must not be negative")
	}
	t := &Tokens{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    time.Duration(cfg.ExpirationMinutes) * time.Minute,
		now:    time.Now,
	}
	t.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
		jwt.WithTimeFunc(func() time.Time { return t.now() }),
	)
	return t, nil
}

// Mint signs a token for p that expires after the configured TTL.
func (t *Tokens) Mint(p Principal) (string, error) {
	if p.UserID == uuid.Nil {
		return "", errors.New("user id is required")
	}
	if !p.Role.IsValid() {
		return "", fmt.Errorf("invalid member role %q", p.Role)
	}
	now := t.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role:  p.Role,
		Email: strings.TrimSpace(p.Email),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   p.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        uuid.NewString(),
		},
	})
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

// Verify checks signature, issuer and expiry and returns the caller. Every
// failure wraps ErrTokenExpired or ErrTokenInvalid.
func (t *Tokens) Verify(raw string) (Principal, error) {
	var c claims
	_, err := t.parser.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return t.secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return Principal{}, fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case err != nil:
		return Principal{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	userID, err := uuid.Parse(c.Subject)
	if err != nil || userID == uuid.Nil {
		return Principal{}, fmt.Errorf("%w: subject is not a user id", ErrTokenInvalid)
	}
	if !c.Role.IsValid() {
		return Principal{}, fmt.Errorf("%w: unknown role %q", ErrTokenInvalid, c.Role)
	}
	return Principal{UserID: userID, Role: c.Role, Email: c.Email}, nil
}
