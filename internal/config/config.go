// Package config loads service settings from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator"
	"github.com/joho/godotenv"

	"github.com/relves/hcsdid/pkg/keys"
)

// NetworkLocal selects the SQLite ledger instead of a Hedera network.
const NetworkLocal = "local"

// Config holds the settings shared by every command.
type Config struct {
	Network        string        `validate:"required,oneof=mainnet testnet previewnet local"`
	MirrorURL      string        `validate:"omitempty,url"`
	DataPath       string        `validate:"required"`
	LogLevel       slog.Level    `validate:"-"`
	OperatorKey    string        `validate:"omitempty,hexadecimal"`
	CacheSize      int           `validate:"gte=0"`
	CacheTTL       time.Duration `validate:"gte=0"`
	ResolveTimeout time.Duration `validate:"gt=0"`
	Port           string        `validate:"required,numeric"`
}

// Load reads files (".env" when none are given) if they exist, then the
// environment, and validates the result. Values already in the
// environment win over file values.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	cfg := &Config{
		Network:     getEnv("HCSDID_NETWORK", "testnet"),
		MirrorURL:   os.Getenv("HCSDID_MIRROR_URL"),
		DataPath:    getEnv("DATA_PATH", "./data"),
		OperatorKey: os.Getenv("HCSDID_OPERATOR_KEY"),
		Port:        getEnv("PORT", "8080"),
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		cfg.LogLevel = slog.LevelInfo
	}

	var err error
	if cfg.CacheSize, err = strconv.Atoi(getEnv("HCSDID_CACHE_SIZE", "1000")); err != nil {
		return nil, fmt.Errorf("invalid HCSDID_CACHE_SIZE: %w", err)
	}
	if cfg.CacheTTL, err = time.ParseDuration(getEnv("HCSDID_CACHE_TTL", "5m")); err != nil {
		return nil, fmt.Errorf("invalid HCSDID_CACHE_TTL: %w", err)
	}
	if cfg.ResolveTimeout, err = time.ParseDuration(getEnv("HCSDID_RESOLVE_TIMEOUT", "30s")); err != nil {
		return nil, fmt.Errorf("invalid HCSDID_RESOLVE_TIMEOUT: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// IsLocal reports whether commands should use the local ledger.
func (c *Config) IsLocal() bool {
	return c.Network == NetworkLocal
}

// Operator parses the operator key. It returns nil when none is set.
func (c *Config) Operator() (keys.PrivateKey, error) {
	if c.OperatorKey == "" {
		return nil, nil
	}
	return keys.ParsePrivateKey(c.OperatorKey)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
