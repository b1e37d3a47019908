package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/orbitplan/orbitapi/cmd/cmdutil"
	"github.com/orbitplan/orbitapi/internal/db/bunx"
	"github.com/orbitplan/orbitapi/internal/server"
	iamsvc "github.com/orbitplan/orbitapi/internal/services/iam"
	"github.com/orbitplan/orbitapi/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Orbit API server",
	Long:  `Starts the HTTP server with the tenant API, the admin endpoints and the permission reload listener.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		serverMetrics, err := telemetry.NewServerMetrics()
		if err != nil {
			return fmt.Errorf("create server metrics: %w", err)
		}
		dbMetrics, err := telemetry.NewDatabaseMetrics()
		if err != nil {
			return fmt.Errorf("create database metrics: %w", err)
		}
		authzMetrics, err := telemetry.NewAuthzMetrics()
		if err != nil {
			return fmt.Errorf("create authorization metrics: %w", err)
		}

		bundle, err := cmdutil.NewBundle(cfg, cmdutil.BundleOptions{
			EnableRemote: true,
			AuthzMetrics: authzMetrics,
			DBMetrics:    dbMetrics,
		})
		if err != nil {
			return err
		}
		defer bundle.Close()

		log.Printf("Connected to database")
		iamService := bundle.IAM
		snapshot := iamService.PermissionSnapshot()
		log.Printf("IAM service initialized (rules version=%d)", snapshot.Version)

		// Reloads announced by other replicas are applied until shutdown.
		listenerCtx, cancelListener := context.WithCancel(cmd.Context())
		defer cancelListener()
		go func() {
			if err := iamService.RunReloadListener(listenerCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("ERROR: Permission reload listener stopped: %v", err)
			}
		}()

		remoteEnabled := cfg.Auth.Remote != nil
		healthHandler := func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, `{"status":"ok","remote_auth_enabled":%t}`, remoteEnabled)
		}

		r := server.NewRouter(server.RouterOptions{
			IAMService:    iamService,
			Tenancy:       bundle.Tenancy,
			DB:            bundle.DB,
			Tagger:        bunx.NewTagger(bundle.DB),
			Cfg:           cfg,
			AuthzMetrics:  authzMetrics,
			ServerMetrics: serverMetrics,
			HealthHandler: healthHandler,
		})

		// Create HTTP server
		srv := &http.Server{
			Addr:         cfg.ServerAddr,
			Handler:      r,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		// Start server in goroutine
		serverErrors := make(chan error, 1)
		go func() {
			log.Printf("Starting server on %s", cfg.ServerAddr)
			log.Printf("Server URL: %s", cfg.ServerURL)
			serverErrors <- srv.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		// SIGHUP reloads the permission rules without a restart.
		reload := make(chan os.Signal, 1)
		signal.Notify(reload, syscall.SIGHUP)

		for {
			select {
			case err := <-serverErrors:
				return fmt.Errorf("server error: %w", err)

			case sig := <-reload:
				log.Printf("Received signal %v, reloading permission rules", sig)
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := iamService.ReloadPermissions(ctx, "sighup")
				if errors.Is(err, iamsvc.ErrReloadNotBroadcast) {
					log.Printf("WARNING: %v", err)
					err = nil
				}
				if err != nil {
					log.Printf("ERROR: Permission reload failed: %v", err)
				} else {
					snapshot := iamService.PermissionSnapshot()
					log.Printf("INFO: Permission reload complete via %v (version=%d)", sig, snapshot.Version)
				}
				cancel()

			case sig := <-shutdown:
				log.Printf("Received signal %v, shutting down gracefully", sig)
				cancelListener()

				// Graceful shutdown with timeout
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()

				if err := srv.Shutdown(ctx); err != nil {
					srv.Close()
					return fmt.Errorf("graceful shutdown failed: %w", err)
				}

				log.Printf("Server stopped")
				return nil
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
