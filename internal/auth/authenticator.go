package auth

import (
	"errors"
	"strings"
)

var (
	ErrUnauthenticated = errors.New("invalid or expired token")
	ErrNotConfigured   = errors.New("authentication not configured")
)

// Identity is the authenticated end user behind a request.
type Identity struct {
	UserID string
	Email  string
	Name   string
}

// Authenticator tries the OIDC verifier first and falls back to HMAC-signed
// legacy tokens when a secret is configured. Either may be absent.
type Authenticator struct {
	verifier     TokenVerifier
	legacySecret string
}

func NewAuthenticator(verifier TokenVerifier, legacySecret string) *Authenticator {
	return &Authenticator{verifier: verifier, legacySecret: legacySecret}
}

func (a *Authenticator) Authenticate(token string) (*Identity, error) {
	if a.verifier == nil && a.legacySecret == "" {
		return nil, ErrNotConfigured
	}

	if a.verifier != nil {
		if claims, err := a.verifier.Validate(token); err == nil {
			if claims.UserID == "" {
				return nil, ErrUnauthenticated
			}
			return &Identity{UserID: claims.UserID, Email: claims.Email, Name: claims.Name}, nil
		}
	}

	if a.legacySecret != "" {
		if claims, err := ValidateLegacyToken(token, a.legacySecret); err == nil && claims.UserID != "" {
			return &Identity{UserID: claims.UserID, Email: claims.Email}, nil
		}
	}

	return nil, ErrUnauthenticated
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
