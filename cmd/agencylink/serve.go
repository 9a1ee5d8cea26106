package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/agencylink/internal/adapters/driven/auth"
	"github.com/custodia-labs/agencylink/internal/adapters/driving/http"
	"github.com/custodia-labs/agencylink/internal/core/ports/driven"
)

const stateCleanupInterval = 15 * time.Minute

func newServeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.loadConfig()
			if err := cfg.ValidateServe(); err != nil {
				return err
			}
			logger := cfg.Logger()
			slog.SetDefault(logger)
			logger.Info("agencylink starting", "version", version, "store", cfg.StoreBackend)

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			if cfg.AdminJWTSecret == "" {
				logger.Warn("ADMIN_JWT_SECRET not set, admin endpoints will reject every request")
			}

			go cleanupStates(ctx, a.stateStore, stateCleanupInterval, logger)

			server := http.NewServer(http.Config{
				Host:            "0.0.0.0",
				Port:            cfg.Port,
				Version:         version,
				AllowedOrigins:  cfg.AllowedOrigins,
				ReturnToAllowed: cfg.ReturnToAllowed,
				Logger:          logger,
			},
				a.install,
				a.discovery,
				auth.NewAdapter(cfg.AdminJWTSecret),
				a.store,
				a.lock,
			)
			return server.Start(ctx)
		},
	}
}

// cleanupStates purges expired install states until ctx is done.
func cleanupStates(ctx context.Context, store driven.OAuthStateStore, every time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.Cleanup(ctx); err != nil {
				logger.Warn("oauth state cleanup failed", "error", err)
			}
		}
	}
}
