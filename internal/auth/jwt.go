package auth

import (
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const maxTokenLen = 8 * 1024

// JWTAuthenticator accepts HS256 tokens; the participant username is the
// "sub" claim. "exp" is required.
type JWTAuthenticator struct {
	secret []byte
	now    func() time.Time
}

func NewJWTAuthenticator(secret string) JWTAuthenticator {
	return JWTAuthenticator{secret: []byte(secret), now: time.Now}
}

func (a JWTAuthenticator) Authenticate(q url.Values) (string, error) {
	token := q.Get("token")
	if token == "" {
		return "", fmt.Errorf("%w: token", ErrMissingCredentials)
	}
	return a.Verify(token)
}

// Verify validates token and returns its subject.
func (a JWTAuthenticator) Verify(token string) (string, error) {
	if len(token) > maxTokenLen || len(a.secret) == 0 {
		return "", ErrInvalidCredentials
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	var claims jwt.RegisteredClaims
	if _, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	if !validUsername(claims.Subject) || claims.Subject == "" {
		return "", fmt.Errorf("%w: bad subject", ErrInvalidCredentials)
	}
	return claims.Subject, nil
}

// IssueToken signs an HS256 token for username, valid for ttl.
func IssueToken(secret, username string, now time.Time, ttl time.Duration) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
