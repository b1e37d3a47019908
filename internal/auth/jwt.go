package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/xenitab/go-oidc-middleware/oidctoken"
	"github.com/xenitab/go-oidc-middleware/options"
)

// AccessTokenCookie carries the bearer token for browser clients.
const AccessTokenCookie = "access_token"

var (
	// ErrNoCredentials means the request carried no token at all.
	ErrNoCredentials = errors.New("authorization required")

	// ErrInvalidToken covers malformed, expired and badly signed tokens.
	// Callers never learn which.
	ErrInvalidToken = errors.New("invalid token")

	// ErrVerifierUnavailable means the verifier could not reach what it needs
	// (e.g. the remote key set) to reach a verdict.
	ErrVerifierUnavailable = errors.New("token verifier unavailable")
)

// Scheme names the token scheme that accepted a credential.
type Scheme string

const (
	SchemeLocal  Scheme = "local"
	SchemeRemote Scheme = "remote"
)

// Identity is what a verifier learns from a valid token.
//
// For the local scheme Subject is the internal user id; for the remote
// scheme it is the identity provider's "sub" claim.
type Identity struct {
	Subject string
	Email   string
	Role    string
	Scheme  Scheme
	Claims  map[string]any
}

// Verifier validates a raw token.
//
// Verify returns exactly one of: a non-nil Identity, an error wrapping
// ErrInvalidToken, or an error wrapping ErrVerifierUnavailable.
type Verifier interface {
	Verify(ctx context.Context, raw string) (*Identity, error)
}

var headerTokenStrings = [][]options.TokenStringOption{{}} // Default: Authorization: Bearer

// ExtractToken returns the bearer token from the Authorization header, or
// from the access_token cookie when no header is present.
func ExtractToken(headers http.Header, cookies []*http.Cookie) (string, error) {
	if headers.Get("Authorization") != "" {
		token, err := oidctoken.GetTokenString(headers.Get, headerTokenStrings)
		if err != nil {
			return "", ErrInvalidToken
		}
		if token = strings.TrimSpace(token); token != "" {
			return token, nil
		}
		return "", ErrInvalidToken
	}

	for _, cookie := range cookies {
		if cookie.Name != AccessTokenCookie {
			continue
		}
		if token := strings.TrimSpace(cookie.Value); token != "" {
			return token, nil
		}
	}

	return "", ErrNoCredentials
}

// ExtractTokenFromRequest is ExtractToken for an *http.Request.
func ExtractTokenFromRequest(r *http.Request) (string, error) {
	return ExtractToken(r.Header, r.Cookies())
}
