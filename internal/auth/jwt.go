// Package auth validates bearer tokens issued by the surrounding
// application. This service never issues tokens for real users; the admin
// claim inside a token is the issuer's authorization decision.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token validation errors.
var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrMissingSubject = errors.New("token has no subject")
)

// Claims are the claims this service understands.
type Claims struct {
	Admin bool `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator validates HMAC-signed tokens against a shared secret.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator creates a token authenticator.
func NewAuthenticator(secret string) (*Authenticator, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &Authenticator{secret: []byte(secret)}, nil
}

// ValidateToken parses and verifies a bearer token, returning the subject
// user id and the issuer's admin flag.
func (a *Authenticator) ValidateToken(_ context.Context, tokenString string) (string, bool, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return "", false, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", false, ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", false, ErrMissingSubject
	}

	return claims.Subject, claims.Admin, nil
}

// GenerateToken mints a token for the given user. Used by tests and local
// tooling; production tokens come from the surrounding application.
func (a *Authenticator) GenerateToken(userID string, admin bool, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Admin: admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}
