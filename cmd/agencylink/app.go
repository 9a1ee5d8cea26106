package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/agencylink/internal/adapters/driven/memory"
	"github.com/custodia-labs/agencylink/internal/adapters/driven/mongodb"
	"github.com/custodia-labs/agencylink/internal/adapters/driven/platform"
	"github.com/custodia-labs/agencylink/internal/adapters/driven/postgres"
	redisadapter "github.com/custodia-labs/agencylink/internal/adapters/driven/redis"
	"github.com/custodia-labs/agencylink/internal/adapters/driven/sso"
	"github.com/custodia-labs/agencylink/internal/config"
	"github.com/custodia-labs/agencylink/internal/core/ports/driven"
	"github.com/custodia-labs/agencylink/internal/core/ports/driving"
	"github.com/custodia-labs/agencylink/internal/core/services"
	"github.com/custodia-labs/agencylink/internal/metrics"
)

// app holds the wired components shared by every command.
type app struct {
	logger *slog.Logger

	store      driven.TokenStore
	stateStore driven.OAuthStateStore
	lock       driven.DistributedLock
	platform   *platform.Client

	coordinator *services.RefreshCoordinator
	discovery   driving.DiscoveryService
	install     driving.InstallService

	closers []func(context.Context) error
}

// newApp connects the backends selected by cfg and builds the services.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{logger: logger}
	if err := a.wire(ctx, cfg); err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, cfg *config.Config) error {
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	encryptor, err := postgres.NewSecretEncryptorFromSecret(cfg.SecretKey)
	if err != nil {
		return fmt.Errorf("token encryption: %w", err)
	}

	// ===== Redis (optional) =====
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		redisClient = redis.NewClient(opts)
		a.closers = append(a.closers, func(context.Context) error { return redisClient.Close() })
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		a.logger.Info("redis connected")
	}

	// ===== Token store =====
	var pg *postgres.DB
	switch cfg.StoreBackend {
	case config.StorePostgres:
		pg, err = postgres.Connect(ctx, postgres.DefaultConfig(cfg.DatabaseURL))
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func(context.Context) error { return pg.Close() })
		if cfg.InitSchema {
			if err := pg.InitSchema(ctx); err != nil {
				return err
			}
		}
		a.store = postgres.NewInstallStore(pg.DB, encryptor)
		a.logger.Info("using postgres token store")

	case config.StoreMongo:
		client, err := mongodb.Connect(ctx, cfg.MongoURI)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, mongodb.Close)
		db := client.Database(cfg.MongoDatabase)
		if err := mongodb.EnsureIndexes(ctx, db); err != nil {
			return err
		}
		a.store = mongodb.NewInstallStore(db, encryptor)
		a.logger.Info("using mongodb token store")

	default:
		return fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	// ===== OAuth state and lock (Redis, then Postgres, then memory) =====
	switch {
	case redisClient != nil:
		a.stateStore = redisadapter.NewOAuthStateStore(redisClient)
		a.lock = redisadapter.NewLeaseLock(redisClient)
		a.logger.Info("using redis state store and lock")
	case pg != nil:
		a.stateStore = postgres.NewOAuthStateStore(pg.DB)
		a.lock = postgres.NewAdvisoryLock(pg)
		a.logger.Info("using postgres state store and advisory lock")
	default:
		a.stateStore = memory.NewOAuthStateStore(10 * time.Minute)
		a.lock = memory.NewLock()
		a.logger.Warn("no redis configured, install state and discovery lock are local to this instance")
	}

	// ===== Provider client =====
	a.platform, err = platform.NewClient(&platform.Config{
		APIBaseURL:   cfg.ProviderAPIURL,
		TokenURL:     cfg.ProviderTokenURL,
		APIVersion:   cfg.ProviderAPIVersion,
		ClientID:     cfg.OAuthClientID,
		ClientSecret: cfg.OAuthClientSecret,
		AppID:        cfg.OAuthAppID,
		IdentityPath: cfg.IdentityPath,
		Timeout:      cfg.ProviderTimeout,
	}, a.logger)
	if err != nil {
		return err
	}

	// ===== SSO decrypter (optional) =====
	var decrypter driven.UserContextDecrypter
	if cfg.SSOSharedSecret != "" {
		d, err := sso.NewDecrypter(cfg.SSOSharedSecret)
		if err != nil {
			return err
		}
		decrypter = d
	}

	// ===== Services =====
	a.coordinator = services.NewRefreshCoordinator(services.RefreshCoordinatorConfig{
		Store:    a.store,
		Platform: a.platform,
		Logger:   a.logger,
	})
	a.discovery = services.NewDiscoverer(services.DiscovererConfig{
		Store:       a.store,
		Platform:    a.platform,
		Coordinator: a.coordinator,
		Lock:        a.lock,
		Logger:      a.logger,
		Concurrency: cfg.DiscoveryConcurrency,
		PageSize:    cfg.DiscoveryPageSize,
		MaxPages:    cfg.DiscoveryMaxPages,
		LockTTL:     cfg.DiscoveryLockTTL,
	})
	a.install = services.NewInstallService(services.InstallServiceConfig{
		Store:        a.store,
		StateStore:   a.stateStore,
		Platform:     a.platform,
		Discovery:    a.discovery,
		Coordinator:  a.coordinator,
		Decrypter:    decrypter,
		Logger:       a.logger,
		BaseURL:      cfg.BaseURL,
		AuthorizeURL: cfg.OAuthAuthorizeURL,
		Scopes:       cfg.OAuthScopes,
	})
	return nil
}

// Close releases backends in reverse order of creation.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
