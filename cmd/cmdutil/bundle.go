package cmdutil

import (
	"fmt"
	"log"

	"github.com/uptrace/bun"

	"github.com/orbitplan/orbitapi/internal/auth"
	"github.com/orbitplan/orbitapi/internal/config"
	"github.com/orbitplan/orbitapi/internal/db/bunx"
	"github.com/orbitplan/orbitapi/internal/repository"
	"github.com/orbitplan/orbitapi/internal/services/iam"
	"github.com/orbitplan/orbitapi/internal/services/tenancy"
	"github.com/orbitplan/orbitapi/internal/telemetry"
)

// BundleOptions controls how commands construct the shared services.
type BundleOptions struct {
	// EnableRemote adds the remote verifier when a remote identity provider
	// is configured. CLI commands only issue local tokens and leave it off.
	EnableRemote bool

	AuthzMetrics *telemetry.AuthzMetrics
	DBMetrics    *telemetry.DatabaseMetrics
}

// Repositories groups the Bun-backed repositories over one connection.
type Repositories struct {
	Users    *repository.BunUserRepository
	Orgs     *repository.BunOrganizationRepository
	Projects *repository.BunProjectRepository
	Rules    *repository.BunPermissionRuleRepository
}

// Bundle carries the database connection with the services built on it so
// commands can reach repositories directly when necessary.
type Bundle struct {
	DB       *bun.DB
	Repos    Repositories
	IAM      iam.Service
	Tenancy  *tenancy.Service
	Verifier auth.Verifier
}

// Close releases the IAM service and the underlying database connection.
func (b *Bundle) Close() {
	if b == nil {
		return
	}
	if b.IAM != nil {
		if err := b.IAM.Close(); err != nil {
			log.Printf("WARNING: failed to close IAM service: %v", err)
		}
	}
	if b.DB != nil {
		bunx.Close(b.DB)
	}
}

// NewBundle centralizes service construction for every command.
// It connects to the database, wires repositories and verifiers, and loads
// the permission rules.
func NewBundle(cfg *config.Config, opts BundleOptions) (*Bundle, error) {
	db, err := bunx.NewDB(cfg.DatabaseURL, cfg.MaxDBConnections)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if opts.DBMetrics != nil {
		db.AddQueryHook(bunx.NewMetricsHook(opts.DBMetrics))
	}

	repos := Repositories{
		Users:    repository.NewBunUserRepository(db),
		Orgs:     repository.NewBunOrganizationRepository(db),
		Projects: repository.NewBunProjectRepository(db),
		Rules:    repository.NewBunPermissionRuleRepository(db),
	}

	local, err := auth.NewLocalVerifier(cfg.Auth.JWTSecret, cfg.Auth.LocalTokenTTL)
	if err != nil {
		bunx.Close(db)
		return nil, fmt.Errorf("failed to configure local verifier: %w", err)
	}

	verifiers := []auth.Verifier{}
	if remoteCfg := cfg.Auth.Remote; opts.EnableRemote && remoteCfg != nil {
		var keyOpts []auth.KeySetOption
		if remoteCfg.JWKSURL != "" {
			keyOpts = append(keyOpts, auth.WithJWKSURL(remoteCfg.JWKSURL))
		}
		keys := auth.NewKeySet(remoteCfg.Issuer(), remoteCfg.JWKSRefresh, keyOpts...)
		remote, err := auth.NewRemoteVerifier(keys, remoteCfg.Issuer(), remoteCfg.ClientID)
		if err != nil {
			bunx.Close(db)
			return nil, fmt.Errorf("failed to configure remote verifier: %w", err)
		}
		verifiers = append(verifiers, remote)
		log.Printf("Remote token scheme enabled (issuer=%s)", remoteCfg.Issuer())
	}
	verifiers = append(verifiers, local)
	verifier := auth.NewHybridVerifier(verifiers...)

	iamService, err := iam.NewIAMService(iam.IAMServiceDependencies{
		Users:              repos.Users,
		Orgs:               repos.Orgs,
		Projects:           repos.Projects,
		Rules:              repos.Rules,
		Verifier:           verifier,
		Local:              local,
		TrustedServiceRole: cfg.Auth.TrustedServiceRole,
		ImpersonatorRoles:  cfg.Auth.ImpersonatorRoles,
		ReloadRedisURL:     cfg.Reload.RedisURL,
		ReloadChannel:      cfg.Reload.Channel,
		Metrics:            opts.AuthzMetrics,
	})
	if err != nil {
		bunx.Close(db)
		return nil, fmt.Errorf("failed to create IAM service: %w", err)
	}

	return &Bundle{
		DB:       db,
		Repos:    repos,
		IAM:      iamService,
		Tenancy:  tenancy.NewService(db, repos.Users, repos.Orgs, repos.Projects),
		Verifier: verifier,
	}, nil
}
