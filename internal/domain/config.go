package domain

import "time"

type StoreBackend string

const (
	StoreSQLite   StoreBackend = "sqlite"
	StorePostgres StoreBackend = "postgres"
	StoreRedis    StoreBackend = "redis"
	StoreMemory   StoreBackend = "memory"
)

type Config struct {
	LogLevel          string         `mapstructure:"log_level"`
	LogFormat         string         `mapstructure:"log_format"`
	ListenAddr        string         `mapstructure:"listen_addr"`
	DiscordWebhookURL string         `mapstructure:"discord_webhook_url"`
	Store             StoreConfig    `mapstructure:"store"`
	Cache             CacheConfig    `mapstructure:"cache"`
	Source            SourceConfig   `mapstructure:"source"`
	Catalog           CatalogConfig  `mapstructure:"catalog"`
	Latest            LatestConfig   `mapstructure:"latest"`
	Resolver          ResolverConfig `mapstructure:"resolver"`
}

type StoreConfig struct {
	Backend     StoreBackend  `mapstructure:"backend"`
	SQLitePath  string        `mapstructure:"sqlite_path"`
	PostgresDSN string        `mapstructure:"postgres_dsn"`
	RedisURL    string        `mapstructure:"redis_url"`
	PoolSize    int           `mapstructure:"pool_size"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type CacheConfig struct {
	// MaxEntries <= 0 disables eviction.
	MaxEntries int `mapstructure:"max_entries"`
}

type SourceConfig struct {
	// URLTemplate must contain the {date} placeholder.
	URLTemplate  string        `mapstructure:"url_template"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRedirects int           `mapstructure:"max_redirects"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	RateLimit    float64       `mapstructure:"rate_limit"`
	Burst        int           `mapstructure:"burst"`
}

type CatalogConfig struct {
	FirstDate time.Time
	// LastDate caps revalidation for an archived source. Zero means no cap.
	LastDate time.Time
}

type LatestConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	MaxBacktrack    int           `mapstructure:"max_backtrack"`
	// ProbeTimeout bounds one shared revalidation independently of its callers.
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
}

type ResolverConfig struct {
	RandomAttempts int `mapstructure:"random_attempts"`
	// ScrapeTimeout bounds one shared scrape, retries included, independently of its callers.
	ScrapeTimeout time.Duration `mapstructure:"scrape_timeout"`
}
