package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultLocalTokenTTL is the lifetime of locally issued tokens.
const DefaultLocalTokenTTL = 30 * 24 * time.Hour

// LocalClaims is the payload of a locally issued token.
type LocalClaims struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// LocalVerifier issues and verifies HS256 tokens signed with a shared secret.
type LocalVerifier struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewLocalVerifier creates a verifier for the local scheme.
func NewLocalVerifier(secret string, ttl time.Duration) (*LocalVerifier, error) {
	if secret == "" {
		return nil, errors.New("local token secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultLocalTokenTTL
	}
	return &LocalVerifier{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue signs a token for the given user.
func (v *LocalVerifier) Issue(userID, email, role string) (string, error) {
	now := v.now()
	claims := LocalClaims{
		ID:    userID,
		Email: email,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign local token: %w", err)
	}
	return signed, nil
}

// Verify implements Verifier. Every failure is ErrInvalidToken; the local
// scheme has no external dependency that could be unavailable.
func (v *LocalVerifier) Verify(_ context.Context, raw string) (*Identity, error) {
	claims := &LocalClaims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("%w: missing id claim", ErrInvalidToken)
	}

	return &Identity{
		Subject: claims.ID,
		Email:   claims.Email,
		Role:    claims.Role,
		Scheme:  SchemeLocal,
		Claims: map[string]any{
			"id":    claims.ID,
			"email": claims.Email,
			"role":  claims.Role,
		},
	}, nil
}
