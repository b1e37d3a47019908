package users

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/spf13/cobra"

	"github.com/orbitplan/orbitapi/internal/db/models"
	"github.com/orbitplan/orbitapi/internal/repository"
	"github.com/orbitplan/orbitapi/internal/services/tenancy"
)

var (
	emailFlag    string
	usernameFlag string
	orgNameFlag  string
	roleFlag     string
)

// CreateRequest describes a user provisioned from the command line.
type CreateRequest struct {
	Email    string
	Username string
	Role     string
	// OrgName, when set, creates an organization owned by the new user.
	OrgName string
}

// CreateResult reports what CreateUser provisioned.
type CreateResult struct {
	User         *models.User
	Organization *models.Organization
}

// CreateUser inserts an email-only user, who is linked to a remote subject on
// first remote sign-in, and optionally an organization they own.
func CreateUser(ctx context.Context, users repository.UserRepository, tenants *tenancy.Service, req CreateRequest) (*CreateResult, error) {
	addr, err := mail.ParseAddress(req.Email)
	if err != nil {
		return nil, fmt.Errorf("invalid email format: %w", err)
	}
	email := strings.ToLower(addr.Address)

	existing, err := users.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to check email uniqueness: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("user with email %q already exists", email)
	}

	username := req.Username
	if username == "" {
		username = email
	}
	role := req.Role
	if role == "" {
		role = "user"
	}

	user := &models.User{Email: email, Username: username, Role: role}
	if err := users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	result := &CreateResult{User: user}
	if req.OrgName != "" {
		org, err := tenants.CreateOrganization(ctx, user.ID, req.OrgName, "")
		if err != nil {
			return result, fmt.Errorf("user created but organization failed: %w", err)
		}
		result.Organization = org
	}
	return result, nil
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a user, optionally with an organization",
	RunE: func(cmd *cobra.Command, args []string) error {
		if emailFlag == "" {
			return fmt.Errorf("--email flag is required")
		}

		bundle, err := openBundle(cmd)
		if err != nil {
			return err
		}
		defer bundle.Close()

		result, err := CreateUser(context.Background(), bundle.Repos.Users, bundle.Tenancy, CreateRequest{
			Email:    emailFlag,
			Username: usernameFlag,
			Role:     roleFlag,
			OrgName:  orgNameFlag,
		})
		if err != nil {
			return err
		}

		fmt.Println("User created successfully!")
		fmt.Println("----------------------------------------")
		fmt.Printf("User ID: %s\n", result.User.ID)
		fmt.Printf("Email: %s\n", result.User.Email)
		fmt.Printf("Username: %s\n", result.User.Username)
		fmt.Printf("Role: %s\n", result.User.Role)
		if org := result.Organization; org != nil {
			fmt.Printf("Organization: %s (%s, owner)\n", org.Name, org.ID)
		}
		fmt.Println("----------------------------------------")
		return nil
	},
}
