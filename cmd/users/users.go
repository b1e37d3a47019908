package users

import (
	"github.com/spf13/cobra"

	"github.com/orbitplan/orbitapi/cmd/cmdutil"
)

// UsersCmd is the parent command for user management operations
var UsersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage users and development tokens",
	Long:  `Commands for provisioning users directly from the server and issuing local-scheme tokens.`,
}

func init() {
	createCmd.Flags().StringVar(&emailFlag, "email", "", "Email address of the user")
	createCmd.Flags().StringVar(&usernameFlag, "username", "", "Display name of the user (defaults to the email)")
	createCmd.Flags().StringVar(&orgNameFlag, "org-name", "", "Create an organization owned by the new user")
	createCmd.Flags().StringVar(&roleFlag, "role", "user", "Legacy global role (user, admin, service, ...)")

	tokenCmd.Flags().StringVar(&emailFlag, "email", "", "Email address of an existing user")

	UsersCmd.AddCommand(createCmd)
	UsersCmd.AddCommand(tokenCmd)
}

func openBundle(cmd *cobra.Command) (*cmdutil.Bundle, error) {
	cfg, err := cmdutil.LoadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return cmdutil.NewBundle(cfg, cmdutil.BundleOptions{})
}
