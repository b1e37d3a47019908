package iam

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/orbitplan/orbitapi/internal/auth"
	"github.com/orbitplan/orbitapi/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Authenticator validates credentials and returns the resolved Principal.
//
// Return values:
//   - (principal, nil): authentication successful
//   - (nil, auth.ErrNoCredentials): nothing to verify
//   - (nil, auth.ErrInvalidToken / ErrUnknownPrincipal / ErrIdentityConflict): rejected
//   - (nil, other error): infrastructure failure
type Authenticator interface {
	Authenticate(ctx context.Context, req AuthRequest) (*auth.Principal, error)
}

// AuthRequest wraps the HTTP data an authenticator may read.
type AuthRequest struct {
	// Headers contains HTTP headers (including Authorization)
	Headers http.Header

	// Cookies contains parsed cookies
	Cookies []*http.Cookie
}

// NewAuthRequest captures the credential carriers of r.
func NewAuthRequest(r *http.Request) AuthRequest {
	return AuthRequest{Headers: r.Header, Cookies: r.Cookies()}
}

// TokenAuthenticator verifies a bearer token (header first, then the
// access_token cookie) and resolves it to a user.
type TokenAuthenticator struct {
	verifier auth.Verifier
	resolver *PrincipalResolver
	metrics  *telemetry.AuthzMetrics
}

// NewTokenAuthenticator creates an authenticator over verifier.
func NewTokenAuthenticator(verifier auth.Verifier, resolver *PrincipalResolver, metrics *telemetry.AuthzMetrics) *TokenAuthenticator {
	return &TokenAuthenticator{verifier: verifier, resolver: resolver, metrics: metrics}
}

// Authenticate implements Authenticator.
func (a *TokenAuthenticator) Authenticate(ctx context.Context, req AuthRequest) (*auth.Principal, error) {
	raw, err := auth.ExtractToken(req.Headers, req.Cookies)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			a.metrics.RecordAuth(ctx, "unknown", "malformed_header")
		}
		return nil, err
	}

	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerIAM, "iam.Authenticate")
	defer span.End()

	identity, err := a.verifier.Verify(ctx, raw)
	if err != nil {
		log.Printf("WARNING: token rejected: %v", err)
		a.metrics.RecordAuth(ctx, "unknown", "invalid_token")
		telemetry.RecordError(span, err)
		return nil, auth.ErrInvalidToken
	}

	principal, err := a.resolver.Resolve(ctx, identity)
	if err != nil {
		reason := "resolve_failed"
		switch {
		case errors.Is(err, ErrUnknownPrincipal):
			reason = "unknown_principal"
		case errors.Is(err, ErrIdentityConflict):
			reason = "identity_conflict"
		}
		a.metrics.RecordAuth(ctx, string(identity.Scheme), reason)
		telemetry.RecordError(span, err)
		return nil, err
	}

	a.metrics.RecordAuth(ctx, string(identity.Scheme), "")
	span.SetAttributes(
		attribute.String(telemetry.AttrUserID, principal.UserID),
		attribute.String(telemetry.AttrScheme, string(principal.Scheme)),
	)
	return principal, nil
}
