package server

import (
	"log/slog"

	"github.com/relves/hcsdid/internal/storage"
	"github.com/relves/hcsdid/pkg/did"
	"github.com/relves/hcsdid/pkg/file"
)

// Config holds server configuration.
type Config struct {
	Resolver *did.Resolver
	Files    *file.Service
	// Ledger serves topic head queries. It is only set when running
	// against local storage.
	Ledger storage.TopicLedger
	Logger *slog.Logger
	// MaxBatch caps the number of DIDs in one batch resolution request.
	MaxBatch int
}

// Option configures the server.
type Option func(*Config)

// WithResolver sets the DID resolver.
func WithResolver(r *did.Resolver) Option {
	return func(c *Config) {
		c.Resolver = r
	}
}

// WithFileService sets the HCS-1 file service. Without it the file
// endpoint is not registered.
func WithFileService(s *file.Service) Option {
	return func(c *Config) {
		c.Files = s
	}
}

// WithLedger sets the local ledger used by the topic head endpoint.
func WithLedger(l storage.TopicLedger) Option {
	return func(c *Config) {
		c.Ledger = l
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithMaxBatch sets the batch resolution size limit.
func WithMaxBatch(n int) Option {
	return func(c *Config) {
		c.MaxBatch = n
	}
}

func applyOptions(opts ...Option) *Config {
	cfg := &Config{MaxBatch: defaultMaxBatch}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}
