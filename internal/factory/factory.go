package factory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/mcoot/ratingledger/internal/dependencies/clock"
	"github.com/mcoot/ratingledger/internal/dependencies/random"
	"github.com/mcoot/ratingledger/internal/services/account"
	"github.com/mcoot/ratingledger/internal/services/credential"
	"github.com/mcoot/ratingledger/internal/services/ledger"
	"github.com/mcoot/ratingledger/internal/storage"
	"github.com/mcoot/ratingledger/internal/storage/memory"
	pgstorage "github.com/mcoot/ratingledger/internal/storage/postgres"
	redisstorage "github.com/mcoot/ratingledger/internal/storage/redis"
)

// Storage type constants
const (
	StorageTypeMemory   = "memory"
	StorageTypeRedis    = "redis"
	StorageTypePostgres = "postgres"
)

// connectTimeout bounds opening a storage backend
const connectTimeout = 10 * time.Second

// App contains all wired application components
type App struct {
	// Storage is opened by New and released by Close
	Storage storage.AccountStore

	// External dependencies
	Clock  clock.Clock
	Random random.Random

	// Services
	Credentials    *credential.Store
	LedgerEngine   *ledger.Engine
	AccountService *account.Service
}

// Config holds configuration for the application factory
type Config struct {
	// Logger is the application logger (optional)
	// If nil, a no-op logger is used
	Logger *slog.Logger
	// StorageType selects the storage backend ("memory", "redis" or "postgres")
	// If empty, defaults to "memory"
	StorageType string
	// RedisConfig holds Redis connection settings (required if StorageType is "redis")
	RedisConfig *redisstorage.Config
	// PostgresConfig holds PostgreSQL settings (required if StorageType is "postgres")
	PostgresConfig *pgstorage.Config
	// Component configs; zero values fall back to each package's defaults
	LedgerConfig     ledger.Config
	AccountConfig    account.Config
	CredentialParams credential.Params
}

// New creates a new application with all dependencies wired
func New(cfg Config) (*App, error) {
	// Use no-op logger if not provided
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	store, err := openStorage(cfg)
	if err != nil {
		return nil, err
	}

	ledgerCfg := cfg.LedgerConfig
	if ledgerCfg == (ledger.Config{}) {
		ledgerCfg = ledger.DefaultConfig()
	}
	accountCfg := cfg.AccountConfig
	if accountCfg == (account.Config{}) {
		accountCfg = account.DefaultConfig()
	}

	app := newWithDependencies(store, clock.New(), random.New(), cfg.CredentialParams, ledgerCfg, accountCfg, logger)
	logger.Info("application wired", slog.String("storage_type", storageType(cfg)))
	return app, nil
}

// Close releases the storage handle
func (a *App) Close() error {
	return a.Storage.Close()
}

func storageType(cfg Config) string {
	if cfg.StorageType == "" {
		return StorageTypeMemory
	}
	return cfg.StorageType
}

func openStorage(cfg Config) (storage.AccountStore, error) {
	switch storageType(cfg) {
	case StorageTypeMemory:
		return memory.New(), nil
	case StorageTypeRedis:
		if cfg.RedisConfig == nil {
			return nil, errors.New("RedisConfig required when StorageType is redis")
		}
		return redisstorage.New(*cfg.RedisConfig)
	case StorageTypePostgres:
		if cfg.PostgresConfig == nil {
			return nil, errors.New("PostgresConfig required when StorageType is postgres")
		}
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		return pgstorage.New(ctx, *cfg.PostgresConfig)
	default:
		return nil, errors.New("invalid StorageType: must be 'memory', 'redis' or 'postgres'")
	}
}

// newWithDependencies creates an App with the given dependencies (useful for testing)
func newWithDependencies(
	store storage.AccountStore,
	clk clock.Clock,
	rnd random.Random,
	params credential.Params,
	ledgerCfg ledger.Config,
	accountCfg account.Config,
	logger *slog.Logger,
) *App {
	credentials := credential.New(rnd, params)
	ledgerEngine := ledger.New(store, clk, rnd, ledgerCfg, logger)
	accountService := account.New(store, credentials, clk, rnd, accountCfg, logger)

	return &App{
		Storage:        store,
		Clock:          clk,
		Random:         rnd,
		Credentials:    credentials,
		LedgerEngine:   ledgerEngine,
		AccountService: accountService,
	}
}
