package iam

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/orbitplan/orbitapi/internal/auth"
)

var (
	scopeFlag  string
	roleFlag   string
	actionFlag string
)

// parseRuleFlags validates --scope, --role and --action together.
func parseRuleFlags() (auth.Rule, error) {
	if scopeFlag == "" || roleFlag == "" || actionFlag == "" {
		return auth.Rule{}, fmt.Errorf("--scope, --role and --action are required")
	}
	scope, err := auth.ParseScope(scopeFlag)
	if err != nil {
		return auth.Rule{}, err
	}
	role, err := auth.ParseRole(scope, roleFlag)
	if err != nil {
		return auth.Rule{}, err
	}
	return auth.Rule{Scope: scope, Role: role, Action: actionFlag}, nil
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List permission rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := openBundle(cmd)
		if err != nil {
			return err
		}
		defer bundle.Close()

		rows, err := bundle.Repos.Rules.List(context.Background())
		if err != nil {
			return fmt.Errorf("list permission rules: %w", err)
		}
		sort.Slice(rows, func(i, j int) bool {
			if rows[i].Scope != rows[j].Scope {
				return rows[i].Scope < rows[j].Scope
			}
			if rows[i].Role != rows[j].Role {
				return rows[i].Role < rows[j].Role
			}
			return rows[i].Action < rows[j].Action
		})

		if len(rows) == 0 {
			fmt.Println("No permission rules found")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SCOPE\tROLE\tACTION")
		for _, row := range rows {
			fmt.Fprintf(w, "%s\t%s\t%s\n", row.Scope, row.Role, row.Action)
		}
		return w.Flush()
	},
}

var grantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Grant an action to a role",
	RunE: func(cmd *cobra.Command, args []string) error {
		rule, err := parseRuleFlags()
		if err != nil {
			return err
		}

		bundle, err := openBundle(cmd)
		if err != nil {
			return err
		}
		defer bundle.Close()

		ctx := context.Background()
		added, err := bundle.Repos.Rules.Add(ctx, string(rule.Scope), string(rule.Role), rule.Action)
		if err != nil {
			return fmt.Errorf("grant %s/%s/%s: %w", rule.Scope, rule.Role, rule.Action, err)
		}
		if !added {
			fmt.Printf("  Rule %s/%s/%s already present, skipping\n", rule.Scope, rule.Role, rule.Action)
			return nil
		}
		fmt.Printf("✓ Granted '%s' to %s role '%s'\n", rule.Action, rule.Scope, rule.Role)
		return reload(ctx, bundle)
	},
}

var revokeCmd = &cobra.Command{
	Use:   "revoke",
	Short: "Revoke an action from a role",
	RunE: func(cmd *cobra.Command, args []string) error {
		rule, err := parseRuleFlags()
		if err != nil {
			return err
		}

		bundle, err := openBundle(cmd)
		if err != nil {
			return err
		}
		defer bundle.Close()

		ctx := context.Background()
		removed, err := bundle.Repos.Rules.Remove(ctx, string(rule.Scope), string(rule.Role), rule.Action)
		if err != nil {
			return fmt.Errorf("revoke %s/%s/%s: %w", rule.Scope, rule.Role, rule.Action, err)
		}
		if !removed {
			fmt.Printf("  Rule %s/%s/%s not present, nothing to revoke\n", rule.Scope, rule.Role, rule.Action)
			return nil
		}
		fmt.Printf("✓ Revoked '%s' from %s role '%s'\n", rule.Action, rule.Scope, rule.Role)
		return reload(ctx, bundle)
	},
}

func init() {
	for _, c := range []*cobra.Command{grantCmd, revokeCmd} {
		c.Flags().StringVar(&scopeFlag, "scope", "", "Rule scope (organization or project)")
		c.Flags().StringVar(&roleFlag, "role", "", "Role within the scope")
		c.Flags().StringVar(&actionFlag, "action", "", "Action to grant or revoke")
	}
}
