package iam

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/orbitplan/orbitapi/cmd/cmdutil"
	iamsvc "github.com/orbitplan/orbitapi/internal/services/iam"
)

// IamCmd is the parent command for permission rule operations
var IamCmd = &cobra.Command{
	Use:   "iam",
	Short: "Manage permission rules",
	Long: `Commands for managing the (scope, role, action) permission rules.
Every mutation triggers a reload, which is broadcast to running API
replicas when REDIS_URL is configured.`,
}

func init() {
	IamCmd.AddCommand(seedCmd)
	IamCmd.AddCommand(listCmd)
	IamCmd.AddCommand(grantCmd)
	IamCmd.AddCommand(revokeCmd)
}

// openBundle loads configuration and the shared services for one command.
func openBundle(cmd *cobra.Command) (*cmdutil.Bundle, error) {
	cfg, err := cmdutil.LoadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return cmdutil.NewBundle(cfg, cmdutil.BundleOptions{})
}

// reload rebuilds the rule projection after a mutation so running replicas
// pick up the change without a restart.
func reload(ctx context.Context, bundle *cmdutil.Bundle) error {
	if err := bundle.IAM.ReloadPermissions(ctx, "cli"); err != nil {
		if errors.Is(err, iamsvc.ErrReloadNotBroadcast) {
			return fmt.Errorf("rules were written but running servers were not notified, send SIGHUP to each replica: %w", err)
		}
		return fmt.Errorf("rules were written but reload failed: %w", err)
	}
	fmt.Printf("Permission rules reloaded (version=%d)\n", bundle.IAM.PermissionSnapshot().Version)
	return nil
}
