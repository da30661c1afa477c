// Package auth holds the credential primitives: access tokens, password
// hashes, the token revocation list, GitHub sign-in, and the HTTP
// middleware that turns a request into an authenticated user ID.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/xid"
)

const issuer = "student-support-portal"

// DefaultTokenTTL applies when the configured TTL is zero.
const DefaultTokenTTL = time.Hour

var (
	ErrTokenExpired = errors.New("auth: token expired")
	ErrTokenInvalid = errors.New("auth: invalid token")
)

// TokenService issues and parses HS256 access tokens. Every token carries
// a unique jti so it can be revoked individually on sign-out.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Token is a signed access token plus the two claims callers need
// without parsing it again.
type Token struct {
	Value     string
	ID        string
	ExpiresAt time.Time
}

// Claims is the validated content of a token.
type Claims struct {
	UserID    string
	TokenID   string
	ExpiresAt time.Time
}

func (s *TokenService) Issue(userID string) (*Token, error) {
	return s.IssueWithDuration(userID, s.ttl)
}

func (s *TokenService) IssueWithDuration(userID string, d time.Duration) (*Token, error) {
	now := s.now()
	id := xid.New().String()
	expires := now.Add(d)

	c := jwt.RegisteredClaims{
		ID:        id,
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
		Issuer:    issuer,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("auth: signing token: %w", err)
	}

	// NumericDate has second precision; report what the token really says
	return &Token{Value: signed, ID: id, ExpiresAt: c.ExpiresAt.Time}, nil
}

// Parse checks signature, issuer and expiry. It does not consult the
// revocation list.
func (s *TokenService) Parse(tokenStr string) (*Claims, error) {
	var c jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(
		tokenStr,
		&c,
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	if c.Subject == "" || c.ID == "" {
		return nil, fmt.Errorf("%w: missing subject or id", ErrTokenInvalid)
	}

	return &Claims{UserID: c.Subject, TokenID: c.ID, ExpiresAt: c.ExpiresAt.Time}, nil
}
