// Package token issues and validates short-lived session tokens handed out
// by the login endpoint and presented on the push channel.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuerName = "duochat"

// ErrInvalidToken is returned for every validation failure.
var ErrInvalidToken = errors.New("invalid session token")

// Issuer signs and validates HS256 session tokens. A zero-secret Issuer is
// disabled: it issues nothing and accepts nothing, and callers skip
// enforcement.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer builds an Issuer. An empty secret yields a disabled issuer.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	var key []byte
	if trimmed := strings.TrimSpace(secret); trimmed != "" {
		key = []byte(trimmed)
	}
	return &Issuer{secret: key, ttl: ttl, now: time.Now}
}

// Enabled reports whether tokens are issued and enforced.
func (i *Issuer) Enabled() bool {
	return i != nil && len(i.secret) > 0
}

// Issue signs a token whose subject is username. Disabled issuers return an
// empty token and no error so login responses can simply omit the field.
func (i *Issuer) Issue(username string) (string, error) {
	if !i.Enabled() {
		return "", nil
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return "", fmt.Errorf("username is required")
	}

	now := i.now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   username,
		Issuer:    issuerName,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Validate parses a token and returns its subject username. Every failure,
// including a disabled issuer, maps to ErrInvalidToken.
func (i *Issuer) Validate(tokenString string) (string, error) {
	if !i.Enabled() {
		return "", ErrInvalidToken
	}
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return "", ErrInvalidToken
	}

	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuerName),
		jwt.WithTimeFunc(func() time.Time { return i.now().UTC() }),
	)
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return "", ErrInvalidToken
	}
	return subject, nil
}
