package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/orbitplan/orbitapi/internal/repository"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a local-scheme token for development",
	Long: `Signs a local-scheme token for an existing user with JWT_SECRET.
The token is printed on stdout so it can be captured by scripts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if emailFlag == "" {
			return fmt.Errorf("--email flag is required")
		}

		bundle, err := openBundle(cmd)
		if err != nil {
			return err
		}
		defer bundle.Close()

		ctx := context.Background()
		user, err := bundle.Repos.Users.GetByEmail(ctx, strings.ToLower(emailFlag))
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("no user with email %q", emailFlag)
		}
		if err != nil {
			return fmt.Errorf("failed to look up user: %w", err)
		}

		token, err := bundle.IAM.IssueLocalToken(ctx, user.ID)
		if err != nil {
			return fmt.Errorf("failed to issue token: %w", err)
		}
		fmt.Println(token)
		return nil
	},
}
