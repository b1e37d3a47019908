package iam

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/casbin/casbin/v2"
	"github.com/orbitplan/orbitapi/internal/auth"
	"github.com/orbitplan/orbitapi/internal/auth/ruleadapter"
	"github.com/orbitplan/orbitapi/internal/repository"
	"github.com/orbitplan/orbitapi/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// PermissionSnapshot is an immutable projection of the permission_rules
// table: "scope:role" → set of actions.
type PermissionSnapshot struct {
	Rules    map[string]map[string]struct{}
	Version  int
	LoadedAt time.Time
}

func snapshotKey(scope auth.Scope, role auth.Role) string {
	return string(scope) + ":" + string(role)
}

// Actions returns the sorted actions granted to role at scope.
func (s *PermissionSnapshot) Actions(scope auth.Scope, role auth.Role) []string {
	if s == nil {
		return []string{}
	}
	set := s.Rules[snapshotKey(scope, role)]
	out := make([]string, 0, len(set))
	for action := range set {
		out = append(out, action)
	}
	slices.Sort(out)
	return out
}

// PermissionEngine answers (scope, role, action) questions.
//
// Rules are loaded once at construction and rebuilt wholesale by Reload.
// There is no automatic invalidation: a rule added or removed in storage
// stays invisible until Reload is called (SIGHUP, the admin endpoint, or a
// broadcast from another replica).
type PermissionEngine struct {
	mu       sync.Mutex // serializes Reload
	enforcer *casbin.SyncedEnforcer
	snapshot atomic.Pointer[PermissionSnapshot]

	orgs     repository.OrganizationRepository
	projects repository.ProjectRepository
	metrics  *telemetry.AuthzMetrics
}

// NewPermissionEngine loads the rule set from store. It fails if the initial
// load fails; the server must not start without rules.
func NewPermissionEngine(
	store ruleadapter.RuleStore,
	orgs repository.OrganizationRepository,
	projects repository.ProjectRepository,
	metrics *telemetry.AuthzMetrics,
) (*PermissionEngine, error) {
	enforcer, err := auth.InitEnforcer(store)
	if err != nil {
		return nil, err
	}
	e := &PermissionEngine{
		enforcer: enforcer,
		orgs:     orgs,
		projects: projects,
		metrics:  metrics,
	}
	e.rebuildSnapshot()
	return e, nil
}

// Snapshot returns the current rule projection. Never nil after construction.
func (e *PermissionEngine) Snapshot() *PermissionSnapshot {
	return e.snapshot.Load()
}

// Reload re-reads every rule from storage and swaps the projection.
// Readers see either the old or the new rule set, never a mix.
func (e *PermissionEngine) Reload(ctx context.Context, source string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, span := telemetry.StartSpan(ctx, telemetry.TracerIAM, "iam.ReloadPermissions",
		attribute.String("reload.source", source),
	)
	defer span.End()

	if err := e.enforcer.LoadPolicy(); err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("reload permission rules: %w", err)
	}
	snap := e.rebuildSnapshot()
	e.metrics.RecordReload(ctx, source)
	log.Printf("INFO: permission rules reloaded (version %d, source %s)", snap.Version, source)
	return nil
}

func (e *PermissionEngine) rebuildSnapshot() *PermissionSnapshot {
	rules := make(map[string]map[string]struct{})
	if assertion, ok := e.enforcer.GetModel()["p"]["p"]; ok {
		for _, line := range assertion.Policy {
			if len(line) < 3 {
				continue
			}
			key := line[0] + ":" + line[1]
			if rules[key] == nil {
				rules[key] = make(map[string]struct{})
			}
			rules[key][line[2]] = struct{}{}
		}
	}

	version := 1
	if prev := e.snapshot.Load(); prev != nil {
		version = prev.Version + 1
	}
	snap := &PermissionSnapshot{Rules: rules, Version: version, LoadedAt: time.Now()}
	e.snapshot.Store(snap)
	return snap
}

// HasPermission reports whether role at scope grants action. Enforcement
// errors deny.
func (e *PermissionEngine) HasPermission(scope auth.Scope, role auth.Role, action string) bool {
	if role == "" || action == "" {
		return false
	}
	allowed, err := e.enforcer.Enforce(string(scope), string(role), action)
	if err != nil {
		log.Printf("ERROR: permission check %s/%s/%s: %v", scope, role, action, err)
		return false
	}
	return allowed
}

// Actions returns the sorted actions role holds at scope.
func (e *PermissionEngine) Actions(scope auth.Scope, role auth.Role) []string {
	return e.Snapshot().Actions(scope, role)
}

// AuthorizeOrganization looks up userID's role in orgID from storage and
// checks action against it. Non-members are denied. The lookup runs on the
// request transaction when ctx carries one.
func (e *PermissionEngine) AuthorizeOrganization(ctx context.Context, userID, orgID, action string) error {
	member, err := e.orgs.GetMember(ctx, orgID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &DeniedError{Scope: auth.ScopeOrganization, Action: action}
		}
		return fmt.Errorf("lookup organization role: %w", err)
	}
	if !e.HasPermission(auth.ScopeOrganization, auth.Role(member.Role), action) {
		return &DeniedError{Scope: auth.ScopeOrganization, Action: action}
	}
	return nil
}

// AuthorizeProject is AuthorizeOrganization for a project membership.
func (e *PermissionEngine) AuthorizeProject(ctx context.Context, userID, projectID, action string) error {
	member, err := e.projects.GetMember(ctx, projectID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &DeniedError{Scope: auth.ScopeProject, Action: action}
		}
		return fmt.Errorf("lookup project role: %w", err)
	}
	if !e.HasPermission(auth.ScopeProject, auth.Role(member.Role), action) {
		return &DeniedError{Scope: auth.ScopeProject, Action: action}
	}
	return nil
}
