package tenancy

import (
	"errors"
	"fmt"
)

var (
	// ErrLastOwner is returned when a change would leave an organization or
	// project without an owner.
	ErrLastOwner = errors.New("last owner")

	// ErrNotMember is returned when the acting user or the target user lacks
	// the membership an operation requires.
	ErrNotMember = errors.New("not a member")

	// ErrInvalidRole is returned for a role that does not exist in the scope.
	ErrInvalidRole = errors.New("invalid role")

	// ErrLimitExceeded is returned when a tenant quota is exhausted.
	ErrLimitExceeded = errors.New("limit exceeded")

	// ErrInsufficientRole is returned when the acting user tries to grant,
	// change or remove an owner role without holding it.
	ErrInsufficientRole = errors.New("insufficient role")

	// ErrInvalidInput is returned for malformed names or ids.
	ErrInvalidInput = errors.New("invalid input")
)

var (
	errLastOrganizationOwner = fmt.Errorf("%w: an organization must keep at least one owner", ErrLastOwner)
	errLastProjectOwner      = fmt.Errorf("%w: a project must keep at least one project_owner", ErrLastOwner)

	errOrganizationOwnerRequired = fmt.Errorf("%w: only an owner can grant, change or remove the owner role", ErrInsufficientRole)
	errProjectOwnerRequired      = fmt.Errorf("%w: only a project_owner can grant, change or remove the project_owner role", ErrInsufficientRole)
)
