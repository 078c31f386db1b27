package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/pauljones0/tender-watch/internal/config"
	"github.com/pauljones0/tender-watch/internal/logger"
	"github.com/pauljones0/tender-watch/internal/server"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// A missing .env is fine; the environment is used as is.
	_ = godotenv.Load()

	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	serve := newServeCmd()
	root := &cobra.Command{
		Use:           "tender-watch",
		Short:         "Collects, filters and deduplicates public tender announcements",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}
	root.AddCommand(serve, newRunCmd(), newPurgeCmd(), newSyncLinksCmd(), newMigrateCmd())
	return root
}

// loadConfig reads the environment and installs the process logger.
func loadConfig() (*config.Config, error) {
	slog.SetDefault(logger.New(logger.Config{
		Level:  os.Getenv("LOG_LEVEL"),
		Format: os.Getenv("LOG_FORMAT"),
	}))
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("critical error loading configuration: %w", err)
	}
	return cfg, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the operator HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			slog.Info("Starting tender-watch server...")
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := server.New(ctx, server.Deps{
				Scheduler: a.scheduler,
				Runner:    a.executor,
				Links:     a.links,
				Purger:    a.purger,
				AI:        a.aiStage,
				Store:     a.store,
			})
			httpServer := &http.Server{
				Addr:         ":" + cfg.Port,
				Handler:      srv.Handler(),
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 30 * time.Minute,
				IdleTimeout:  60 * time.Second,
			}

			a.scheduler.Start(ctx)

			errCh := make(chan error, 1)
			go func() {
				slog.Info("Listening on port", "port", cfg.Port)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case <-ctx.Done():
				slog.Info("Received signal, shutting down gracefully...")
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("failed to listen and serve: %w", err)
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("HTTP server shutdown error", "error", err)
			}
			if err := a.scheduler.Shutdown(shutdownCtx); err != nil {
				slog.Error("Scheduler shutdown error", "error", err)
			}
			slog.Info("Server stopped.")
			return nil
		},
	}
}

func newRunCmd() *cobra.Command {
	var sourceID string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one batch over every active source, or a single source",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if sourceID != "" {
					return printJSON(cmd, a.executor.ExecuteSource(ctx, sourceID))
				}
				summary, err := a.scheduler.RunAllNow(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, summary)
			})
		},
	}
	cmd.Flags().StringVar(&sourceID, "source", "", "execute only the source with this id")
	return cmd
}

func newPurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Deactivate expired offers once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := a.purger.Purge(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}
}

func newSyncLinksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-links",
		Short: "Reconcile the configured institution links into sources",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := a.links.Sync(ctx, true)
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.StorageBackend != config.BackendPostgres {
				return fmt.Errorf("migrate requires STORAGE_BACKEND=%s, have %s", config.BackendPostgres, cfg.StorageBackend)
			}
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			slog.Info("Migrations applied")
			return store.Close()
		},
	}
}

// withApp runs fn against a freshly wired app that is closed afterwards.
// SIGINT or SIGTERM cancels fn's context.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
