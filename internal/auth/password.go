package auth

import (
	"crypto/subtle"
	"fmt"
	"net/url"
)

// PasswordAuthenticator checks username/password against a static table.
type PasswordAuthenticator struct {
	users map[string]string
}

func NewPasswordAuthenticator(users map[string]string) PasswordAuthenticator {
	copied := make(map[string]string, len(users))
	for name, password := range users {
		copied[name] = password
	}
	return PasswordAuthenticator{users: copied}
}

func (a PasswordAuthenticator) Authenticate(q url.Values) (string, error) {
	username, err := usernameFromQuery(q)
	if err != nil {
		return "", err
	}
	password := q.Get("password")
	if password == "" {
		return "", fmt.Errorf("%w: password", ErrMissingCredentials)
	}
	expected, ok := a.users[username]
	// Compare even for unknown users so timing does not reveal which names exist.
	if !ok {
		expected = "\x00"
	}
	if subtle.ConstantTimeCompare([]byte(password), []byte(expected)) != 1 || !ok {
		return "", ErrInvalidCredentials
	}
	return username, nil
}
