package cmdutil

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/orbitplan/orbitapi/internal/config"
)

// LoadConfig reads the environment and applies any persistent flags the
// caller set explicitly on the command line.
func LoadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("db-url") {
		cfg.DatabaseURL, _ = flags.GetString("db-url")
	}
	if flags.Changed("server-addr") {
		cfg.ServerAddr, _ = flags.GetString("server-addr")
	}
	if flags.Changed("server-url") {
		cfg.ServerURL, _ = flags.GetString("server-url")
	}
	if flags.Changed("debug") {
		cfg.Debug, _ = flags.GetBool("debug")
	}
	return cfg, nil
}
