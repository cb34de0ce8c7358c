// Package auth authenticates participants connecting to the relay. The
// credentials travel in the /ws query string, since browsers cannot set
// headers on a websocket handshake.
package auth

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/config"
)

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Authenticator resolves the participant identity from query parameters.
type Authenticator interface {
	Authenticate(q url.Values) (username string, err error)
}

func New(cfg config.Config) (Authenticator, error) {
	switch cfg.AuthMode {
	case config.AuthModeNone:
		return Anonymous{}, nil
	case config.AuthModePassword:
		return NewPasswordAuthenticator(cfg.Users), nil
	case config.AuthModeJWT:
		return NewJWTAuthenticator(cfg.JWTSecret), nil
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.AuthMode)
	}
}

// Anonymous trusts the username query parameter.
type Anonymous struct{}

func (Anonymous) Authenticate(q url.Values) (string, error) {
	return usernameFromQuery(q)
}

func usernameFromQuery(q url.Values) (string, error) {
	username := strings.TrimSpace(q.Get("username"))
	if username == "" {
		return "", fmt.Errorf("%w: username", ErrMissingCredentials)
	}
	if !validUsername(username) {
		return "", fmt.Errorf("%w: username %q", ErrInvalidCredentials, username)
	}
	return username, nil
}

// validUsername keeps identities printable and bounded; they are echoed to
// every other participant.
func validUsername(s string) bool {
	if len(s) > 64 {
		return false
	}
	for _, r := range s {
		if r < 0x21 || r == 0x7f {
			return false
		}
	}
	return true
}
