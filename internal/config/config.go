package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the server configuration, read from app.env and the environment.
// Environment variables win over the file.
type Config struct {
	Host string `mapstructure:"HOST"`
	Port int    `mapstructure:"PORT"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	StorageType string `mapstructure:"STORAGE_TYPE"`
	RedisURL    string `mapstructure:"REDIS_URL"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	LedgerTimeout    time.Duration `mapstructure:"LEDGER_TIMEOUT"`
	LedgerMaxRetries int           `mapstructure:"LEDGER_MAX_RETRIES"`
	LockTimeout      time.Duration `mapstructure:"LOCK_TIMEOUT"`

	PageLimitPlayers int `mapstructure:"PAGE_LIMIT_PLAYERS"`

	SeedFile string `mapstructure:"SEED_FILE"`
}

var defaults = map[string]any{
	"HOST":               "0.0.0.0",
	"PORT":               8080,
	"LOG_LEVEL":          "info",
	"LOG_FORMAT":         "json",
	"STORAGE_TYPE":       "memory",
	"REDIS_URL":          "",
	"DATABASE_URL":       "",
	"LEDGER_TIMEOUT":     "5s",
	"LEDGER_MAX_RETRIES": 3,
	"LOCK_TIMEOUT":       "2s",
	"PAGE_LIMIT_PLAYERS": 30,
	"SEED_FILE":          "",
}

// Load reads app.env from path if present, then overlays the environment
func Load(path string) (Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("app")
	v.SetConfigType("env")
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	// A missing file is fine; the environment alone can configure the server
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks combinations the defaults cannot catch
func (c Config) Validate() error {
	switch c.StorageType {
	case "memory":
	case "redis":
		if c.RedisURL == "" {
			return errors.New("REDIS_URL required when STORAGE_TYPE=redis")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL required when STORAGE_TYPE=postgres")
		}
	default:
		return fmt.Errorf("invalid STORAGE_TYPE %q: must be 'memory', 'redis' or 'postgres'", c.StorageType)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	if c.PageLimitPlayers <= 0 {
		return fmt.Errorf("invalid PAGE_LIMIT_PLAYERS %d", c.PageLimitPlayers)
	}
	return nil
}

// Addr returns the listen address
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
