package iam

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/orbitplan/orbitapi/internal/auth"
	"github.com/orbitplan/orbitapi/internal/db/models"
)

var (
	seedFile    string
	seedReplace bool
)

// RuleFile is the YAML document accepted by "iam seed".
//
//	rules:
//	  - scope: organization
//	    role: owner
//	    actions: [organization.read, projects.create]
type RuleFile struct {
	Rules []RuleGrant `yaml:"rules"`
}

// RuleGrant lists the actions granted to one role within a scope.
type RuleGrant struct {
	Scope   string   `yaml:"scope"`
	Role    string   `yaml:"role"`
	Actions []string `yaml:"actions"`
}

// ParseRuleFile decodes and validates a rule file, expanding every grant into
// individual rules. Duplicate grants collapse into one rule.
func ParseRuleFile(r io.Reader) ([]auth.Rule, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file RuleFile
	if err := dec.Decode(&file); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("rule file is empty")
		}
		return nil, fmt.Errorf("decode rule file: %w", err)
	}

	seen := make(map[auth.Rule]struct{})
	var rules []auth.Rule
	for i, grant := range file.Rules {
		scope, err := auth.ParseScope(grant.Scope)
		if err != nil {
			return nil, fmt.Errorf("rules[%d]: %w", i, err)
		}
		role, err := auth.ParseRole(scope, grant.Role)
		if err != nil {
			return nil, fmt.Errorf("rules[%d]: %w", i, err)
		}
		if len(grant.Actions) == 0 {
			return nil, fmt.Errorf("rules[%d]: at least one action is required", i)
		}
		for _, action := range grant.Actions {
			if action == "" {
				return nil, fmt.Errorf("rules[%d]: empty action", i)
			}
			rule := auth.Rule{Scope: scope, Role: role, Action: action}
			if _, dup := seen[rule]; dup {
				continue
			}
			seen[rule] = struct{}{}
			rules = append(rules, rule)
		}
	}
	return rules, nil
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load permission rules from a YAML file",
	Long: `Adds the rules in --file to the rule table. With --replace the table is
swapped atomically for exactly the rules in the file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if seedFile == "" {
			return fmt.Errorf("--file flag is required")
		}

		f, err := os.Open(seedFile)
		if err != nil {
			return fmt.Errorf("open rule file: %w", err)
		}
		defer f.Close()

		rules, err := ParseRuleFile(f)
		if err != nil {
			return err
		}

		bundle, err := openBundle(cmd)
		if err != nil {
			return err
		}
		defer bundle.Close()

		ctx := context.Background()
		if seedReplace {
			rows := make([]models.PermissionRule, 0, len(rules))
			for _, rule := range rules {
				rows = append(rows, models.PermissionRule{
					Scope:  string(rule.Scope),
					Role:   string(rule.Role),
					Action: rule.Action,
				})
			}
			if err := bundle.Repos.Rules.ReplaceAll(ctx, rows); err != nil {
				return fmt.Errorf("replace permission rules: %w", err)
			}
			fmt.Printf("✓ Replaced permission rules with %d rule(s) from %s\n", len(rows), seedFile)
		} else {
			added := 0
			for _, rule := range rules {
				ok, err := bundle.Repos.Rules.Add(ctx, string(rule.Scope), string(rule.Role), rule.Action)
				if err != nil {
					return fmt.Errorf("add rule %s/%s/%s: %w", rule.Scope, rule.Role, rule.Action, err)
				}
				if ok {
					added++
				}
			}
			fmt.Printf("✓ Added %d new rule(s), %d already present\n", added, len(rules)-added)
		}

		return reload(ctx, bundle)
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedFile, "file", "", "YAML rule file to load")
	seedCmd.Flags().BoolVar(&seedReplace, "replace", false, "Replace the whole rule table instead of adding to it")
}
