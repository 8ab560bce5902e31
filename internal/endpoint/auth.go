package endpoint

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Authenticator verifies the bearer token carried on TARGET/ABORT requests.
// An empty signing key disables authentication entirely — read-only
// commands (CONTROL_STATE, TELEMETRY) never require one, matching the
// original socket's telemetry-is-cheap posture.
type Authenticator struct {
	key []byte
}

// NewAuthenticator returns an Authenticator for the given HMAC signing key.
// A nil/empty key disables verification.
func NewAuthenticator(key []byte) *Authenticator {
	return &Authenticator{key: key}
}

// Verify checks a bearer token from the request envelope. Returns nil if
// authentication is disabled or the token is valid.
func (a *Authenticator) Verify(token string) error {
	if len(a.key) == 0 {
		return nil
	}
	token = strings.TrimPrefix(token, "Bearer ")
	if token == "" {
		return fmt.Errorf("missing token")
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.key, nil
	})
	if err != nil {
		return fmt.Errorf("invalid token: %w", err)
	}
	if !parsed.Valid {
		return fmt.Errorf("invalid token")
	}
	return nil
}
