// Package auth verifies session tokens and resolves which tenant a caller acts for.
package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultCookieName is the session cookie read when no bearer header is sent.
const DefaultCookieName = "session"

// ErrUnauthenticated covers missing, malformed, expired and forged tokens.
var ErrUnauthenticated = errors.New("auth: unauthenticated")

// Claims is the session token payload. Subject carries the user id.
type Claims struct {
	Client string `json:"client,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the token subject.
func (c *Claims) UserID() string {
	return c.Subject
}

// Sessions mints and verifies HS256 session tokens.
type Sessions struct {
	secret     []byte
	cookieName string
	now        func() time.Time
}

func NewSessions(secret, cookieName string) *Sessions {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return &Sessions{secret: []byte(secret), cookieName: cookieName, now: time.Now}
}

// CookieName is the cookie FromRequest falls back to.
func (s *Sessions) CookieName() string {
	return s.cookieName
}

// Mint signs a token for userID valid for ttl. client may be empty.
func (s *Sessions) Mint(userID, client string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := Claims{
		Client: client,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// FromRequest reads the token from "Authorization: Bearer", then from the
// session cookie, and verifies it.
func (s *Sessions) FromRequest(r *http.Request) (*Claims, error) {
	if hdr := r.Header.Get("Authorization"); hdr != "" {
		if len(hdr) > 7 && strings.EqualFold(hdr[:7], "bearer ") {
			return s.Parse(strings.TrimSpace(hdr[7:]))
		}
	}
	if c, err := r.Cookie(s.cookieName); err == nil && c.Value != "" {
		return s.Parse(c.Value)
	}
	return nil, ErrUnauthenticated
}

// Parse verifies a raw token.
func (s *Sessions) Parse(raw string) (*Claims, error) {
	if len(s.secret) == 0 || raw == "" {
		return nil, ErrUnauthenticated
	}
	claims := &Claims{}
	tkn, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !tkn.Valid || claims.Subject == "" {
		return nil, ErrUnauthenticated
	}
	return claims, nil
}
