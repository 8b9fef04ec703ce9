package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/varoOP/stripcache/internal/domain"
)

const (
	EnvPrefix   = "STRIPCACHE"
	DatePattern = "{date}"
)

// SetDefaults registers every known key so that env overrides and Unmarshal see them.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("discord_webhook_url", "")

	v.SetDefault("store.backend", string(domain.StoreSQLite))
	v.SetDefault("store.sqlite_path", "./stripcache.db")
	v.SetDefault("store.postgres_dsn", "")
	v.SetDefault("store.redis_url", "redis://localhost:6379/0")
	v.SetDefault("store.pool_size", 19)
	v.SetDefault("store.timeout", 3*time.Second)

	v.SetDefault("cache.max_entries", 10000)

	v.SetDefault("source.url_template", "https://web.archive.org/web/2023/https://dilbert.com/strip/{date}")
	v.SetDefault("source.timeout", 10*time.Second)
	v.SetDefault("source.max_redirects", 3)
	v.SetDefault("source.max_retries", 2)
	v.SetDefault("source.retry_backoff", 500*time.Millisecond)
	v.SetDefault("source.rate_limit", 2.0)
	v.SetDefault("source.burst", 4)

	v.SetDefault("catalog.first_date", "1989-04-16")
	v.SetDefault("catalog.last_date", "2023-03-09")

	v.SetDefault("latest.refresh_interval", 6*time.Hour)
	v.SetDefault("latest.max_backtrack", 7)
	v.SetDefault("latest.probe_timeout", 2*time.Minute)

	v.SetDefault("resolver.random_attempts", 3)
	v.SetDefault("resolver.scrape_timeout", time.Minute)
}

// BindEnv makes STRIPCACHE_STORE_BACKEND and friends override nested keys.
// An empty variable still overrides, which is how catalog.last_date is cleared.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()
}

// Load reads configuration from the global viper instance:
// 1. Config file (config.yaml, optional)
// 2. Environment variables (STRIPCACHE_*)
// 3. Bound command line flags
func Load() (*domain.Config, error) {
	return LoadFrom(viper.GetViper())
}

func LoadFrom(v *viper.Viper) (*domain.Config, error) {
	cfg := &domain.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.Store.Backend = domain.StoreBackend(strings.ToLower(string(cfg.Store.Backend)))

	first, err := parseDate(v.GetString("catalog.first_date"))
	if err != nil {
		return nil, fmt.Errorf("invalid catalog.first_date: %w", err)
	}
	if first.IsZero() {
		return nil, fmt.Errorf("catalog.first_date is required")
	}
	cfg.Catalog.FirstDate = first

	last, err := parseDate(v.GetString("catalog.last_date"))
	if err != nil {
		return nil, fmt.Errorf("invalid catalog.last_date: %w", err)
	}
	cfg.Catalog.LastDate = last

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the cross-field constraints the decoder cannot express.
func Validate(cfg *domain.Config) error {
	switch cfg.Store.Backend {
	case domain.StoreSQLite:
		if cfg.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path is required for the sqlite backend")
		}
	case domain.StorePostgres:
		if cfg.Store.PostgresDSN == "" {
			return fmt.Errorf("store.postgres_dsn is required (set via config.yaml or STRIPCACHE_STORE_POSTGRES_DSN environment variable)")
		}
	case domain.StoreRedis:
		if cfg.Store.RedisURL == "" {
			return fmt.Errorf("store.redis_url is required for the redis backend")
		}
	case domain.StoreMemory:
	default:
		return fmt.Errorf("invalid store.backend: %s (must be 'sqlite', 'postgres', 'redis' or 'memory')", cfg.Store.Backend)
	}

	if cfg.Store.PoolSize <= 0 {
		return fmt.Errorf("store.pool_size must be positive")
	}
	if cfg.Store.Timeout <= 0 {
		return fmt.Errorf("store.timeout must be positive")
	}

	if !strings.Contains(cfg.Source.URLTemplate, DatePattern) {
		return fmt.Errorf("source.url_template must contain %s", DatePattern)
	}
	if cfg.Source.Timeout <= 0 {
		return fmt.Errorf("source.timeout must be positive")
	}
	if cfg.Source.MaxRedirects < 0 || cfg.Source.MaxRetries < 0 {
		return fmt.Errorf("source.max_redirects and source.max_retries must not be negative")
	}
	if cfg.Source.RateLimit <= 0 || cfg.Source.Burst <= 0 {
		return fmt.Errorf("source.rate_limit and source.burst must be positive")
	}

	if !cfg.Catalog.LastDate.IsZero() && cfg.Catalog.LastDate.Before(cfg.Catalog.FirstDate) {
		return fmt.Errorf("catalog.last_date is before catalog.first_date")
	}

	if cfg.Latest.RefreshInterval <= 0 {
		return fmt.Errorf("latest.refresh_interval must be positive")
	}
	if cfg.Latest.MaxBacktrack < 0 {
		return fmt.Errorf("latest.max_backtrack must not be negative")
	}
	if cfg.Latest.ProbeTimeout <= 0 {
		return fmt.Errorf("latest.probe_timeout must be positive")
	}
	if cfg.Resolver.RandomAttempts < 1 {
		return fmt.Errorf("resolver.random_attempts must be at least 1")
	}
	if cfg.Resolver.ScrapeTimeout <= 0 {
		return fmt.Errorf("resolver.scrape_timeout must be positive")
	}

	return nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return domain.ParseDate(s)
}
