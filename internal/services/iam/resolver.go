package iam

import (
	"context"
	"errors"
	"fmt"

	"github.com/orbitplan/orbitapi/internal/auth"
	"github.com/orbitplan/orbitapi/internal/db/bunx"
	"github.com/orbitplan/orbitapi/internal/db/models"
	"github.com/orbitplan/orbitapi/internal/repository"
)

// PrincipalResolver maps a verified identity to a users row.
//
// Local tokens already carry the internal user id. Remote tokens carry the
// identity provider's subject, which is linked or provisioned on first sight.
// All reads run elevated: the resolver is part of the trust boundary that
// row-level security depends on.
type PrincipalResolver struct {
	users       repository.UserRepository
	trustedRole string
}

// NewPrincipalResolver creates a resolver. Users whose legacy role equals
// trustedRole are marked as trusted service principals.
func NewPrincipalResolver(users repository.UserRepository, trustedRole string) *PrincipalResolver {
	return &PrincipalResolver{users: users, trustedRole: trustedRole}
}

// Resolve returns the principal for id.
func (r *PrincipalResolver) Resolve(ctx context.Context, id *auth.Identity) (*auth.Principal, error) {
	if id == nil {
		return nil, auth.ErrInvalidToken
	}
	ctx = bunx.Elevated(ctx)

	var (
		user *models.User
		err  error
	)
	switch id.Scheme {
	case auth.SchemeLocal:
		user, err = r.users.GetByID(ctx, id.Subject)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPrincipal, id.Subject)
		}
	case auth.SchemeRemote:
		if id.Email == "" {
			return nil, fmt.Errorf("%w: remote token carries no email", auth.ErrInvalidToken)
		}
		user, err = r.users.Ensure(ctx, id.Subject, id.Email, auth.UsernameFromEmail(id.Email))
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: %s", ErrIdentityConflict, id.Email)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", auth.ErrInvalidToken, id.Scheme)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve principal: %w", err)
	}

	return &auth.Principal{
		UserID:  user.ID,
		Email:   user.Email,
		Role:    user.Role,
		Scheme:  id.Scheme,
		Trusted: r.trustedRole != "" && user.Role == r.trustedRole,
	}, nil
}
