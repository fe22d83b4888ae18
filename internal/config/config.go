package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/Priya8975/model-webhooks/internal/errs"
)

const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
	RedisURL    string `env:"REDIS_URL,required,notEmpty"`
	NumWorkers  int    `env:"NUM_WORKERS" envDefault:"50"`

	// Models are the watched "namespace.Model" names.
	Models         []string      `env:"WEBHOOK_MODELS" envSeparator:","`
	UseCache       bool          `env:"WEBHOOK_USE_CACHE" envDefault:"true"`
	CacheTTL       time.Duration `env:"WEBHOOK_CACHE_TTL" envDefault:"1m"`
	CacheBackend   string        `env:"WEBHOOK_CACHE_BACKEND" envDefault:"memory"`
	PayloadEncoder string        `env:"WEBHOOK_PAYLOAD_ENCODER" envDefault:"json"`
	StoreTimeout   time.Duration `env:"WEBHOOK_STORE_TIMEOUT" envDefault:"2s"`
	MaxRetries     int           `env:"WEBHOOK_MAX_RETRIES" envDefault:"5"`
	RateLimit      int           `env:"WEBHOOK_RATE_LIMIT" envDefault:"0"`
	StoreEvents    bool          `env:"WEBHOOK_STORE_EVENTS" envDefault:"true"`
}

// Load reads configuration from the environment, after merging a .env file
// from the working directory if one exists. Variables already set win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, errs.Configuration(fmt.Sprintf("parsing environment: %v", err), nil)
	}

	cfg.Models = normalizeModels(cfg.Models)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.CacheBackend {
	case CacheBackendMemory, CacheBackendRedis:
	default:
		return errs.Configuration(
			fmt.Sprintf("WEBHOOK_CACHE_BACKEND must be %q or %q", CacheBackendMemory, CacheBackendRedis),
			map[string]any{"value": c.CacheBackend},
		)
	}
	if c.NumWorkers <= 0 {
		return errs.Configuration("NUM_WORKERS must be positive", map[string]any{"value": c.NumWorkers})
	}
	if c.MaxRetries <= 0 {
		return errs.Configuration("WEBHOOK_MAX_RETRIES must be positive", map[string]any{"value": c.MaxRetries})
	}
	if c.CacheTTL <= 0 || c.StoreTimeout <= 0 {
		return errs.Configuration("cache TTL and store timeout must be positive", map[string]any{
			"cache_ttl":     c.CacheTTL.String(),
			"store_timeout": c.StoreTimeout.String(),
		})
	}
	return nil
}

// normalizeModels trims entries and drops blanks and duplicates. Shape is
// checked later, per entry, so one bad name does not block the rest.
func normalizeModels(models []string) []string {
	seen := make(map[string]struct{}, len(models))
	out := make([]string, 0, len(models))
	for _, m := range models {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}
