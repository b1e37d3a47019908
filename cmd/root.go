package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/orbitplan/orbitapi/cmd/cmdutil"
	"github.com/orbitplan/orbitapi/cmd/iam"
	"github.com/orbitplan/orbitapi/cmd/users"
	"github.com/orbitplan/orbitapi/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "orbitapi",
	Short: "Orbit API server for multi-tenant project management",
	Long: `Orbit API serves organizations, projects and memberships over HTTP.
Every tenant request is authenticated, resolved to an organization and
project context, authorized against the permission rules and executed in a
row-level security scoped transaction.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = cmdutil.LoadConfig(cmd)
		return err
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().String("db-url", "", "Database connection URL (env: DATABASE_URL)")
	rootCmd.PersistentFlags().String("server-addr", "", "Server bind address (env: SERVER_ADDR)")
	rootCmd.PersistentFlags().String("server-url", "", "Public base URL of the API (env: SERVER_URL)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging (env: DEBUG)")

	// Add subcommands
	rootCmd.AddCommand(iam.IamCmd)
	rootCmd.AddCommand(users.UsersCmd)
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
