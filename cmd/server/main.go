package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mcoot/ratingledger/internal/api"
	"github.com/mcoot/ratingledger/internal/config"
	"github.com/mcoot/ratingledger/internal/factory"
	"github.com/mcoot/ratingledger/internal/seed"
	"github.com/mcoot/ratingledger/internal/services/account"
	"github.com/mcoot/ratingledger/internal/services/ledger"
	pgstorage "github.com/mcoot/ratingledger/internal/storage/postgres"
	redisstorage "github.com/mcoot/ratingledger/internal/storage/redis"
)

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := setupLogger(cfg)
	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(cfg config.Config, logger *slog.Logger) error {
	logger.Info("configuration loaded",
		slog.String("addr", cfg.Addr()),
		slog.String("storage_type", cfg.StorageType),
	)

	app, err := factory.New(factoryConfig(cfg, logger))
	if err != nil {
		return fmt.Errorf("create application: %w", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("failed to close storage", slog.String("error", err.Error()))
		}
	}()

	if cfg.SeedFile != "" {
		if err := applySeed(cfg.SeedFile, app, logger); err != nil {
			return fmt.Errorf("apply seed file: %w", err)
		}
	}

	// Create API router
	router := api.NewRouter(api.RouterConfig{
		Logger:         logger,
		AccountService: app.AccountService,
		LedgerEngine:   app.LedgerEngine,
	})

	// Create server
	serverConfig := api.DefaultServerConfig()
	serverConfig.Host = cfg.Host
	serverConfig.Port = cfg.Port
	server := api.NewServer(router, serverConfig, logger)

	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// Wait for shutdown or error
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		return server.Shutdown(context.Background())
	}
}

// factoryConfig maps server configuration onto the component configs
func factoryConfig(cfg config.Config, logger *slog.Logger) factory.Config {
	ledgerCfg := ledger.DefaultConfig()
	ledgerCfg.Timeout = cfg.LedgerTimeout
	ledgerCfg.MaxRetries = cfg.LedgerMaxRetries

	accountCfg := account.DefaultConfig()
	accountCfg.PageLimit = cfg.PageLimitPlayers
	accountCfg.Timeout = cfg.LedgerTimeout
	accountCfg.MaxRetries = cfg.LedgerMaxRetries
	if accountCfg.MaxPageLimit < accountCfg.PageLimit {
		accountCfg.MaxPageLimit = accountCfg.PageLimit
	}

	fc := factory.Config{
		Logger:        logger,
		StorageType:   cfg.StorageType,
		LedgerConfig:  ledgerCfg,
		AccountConfig: accountCfg,
	}

	switch cfg.StorageType {
	case factory.StorageTypeRedis:
		redisCfg := redisstorage.DefaultConfig()
		redisCfg.URL = cfg.RedisURL
		fc.RedisConfig = &redisCfg
	case factory.StorageTypePostgres:
		pgCfg := pgstorage.DefaultConfig()
		pgCfg.URL = cfg.DatabaseURL
		pgCfg.LockTimeout = cfg.LockTimeout
		fc.PostgresConfig = &pgCfg
	}

	return fc
}

func applySeed(path string, app *factory.App, logger *slog.Logger) error {
	f, err := seed.Load(path)
	if err != nil {
		return err
	}
	created, err := seed.Apply(context.Background(), app.AccountService, f, logger)
	if err != nil {
		return err
	}
	logger.Info("seed file applied", slog.String("path", path), slog.Int("created", created))
	return nil
}

func setupLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{}

	switch cfg.LogLevel {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	var h slog.Handler
	switch cfg.LogFormat {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}
