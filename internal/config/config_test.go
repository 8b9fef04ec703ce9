package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/varoOP/stripcache/internal/domain"
)

func newViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(newViper())
	require.NoError(t, err)

	assert.Equal(t, domain.StoreSQLite, cfg.Store.Backend)
	assert.Equal(t, 19, cfg.Store.PoolSize)
	assert.Equal(t, 3*time.Second, cfg.Store.Timeout)
	assert.Equal(t, 10*time.Second, cfg.Source.Timeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Source.RetryBackoff)
	assert.Equal(t, 6*time.Hour, cfg.Latest.RefreshInterval)
	assert.Equal(t, 2*time.Minute, cfg.Latest.ProbeTimeout)
	assert.Equal(t, time.Minute, cfg.Resolver.ScrapeTimeout)
	assert.Equal(t, 10000, cfg.Cache.MaxEntries)
	assert.Equal(t, "1989-04-16", domain.FormatDate(cfg.Catalog.FirstDate))
	assert.Equal(t, "2023-03-09", domain.FormatDate(cfg.Catalog.LastDate))
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("STRIPCACHE_STORE_BACKEND", "Redis")
	t.Setenv("STRIPCACHE_STORE_TIMEOUT", "250ms")
	t.Setenv("STRIPCACHE_CATALOG_LAST_DATE", "")

	v := newViper()
	BindEnv(v)

	cfg, err := LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, domain.StoreRedis, cfg.Store.Backend)
	assert.Equal(t, 250*time.Millisecond, cfg.Store.Timeout)
	assert.True(t, cfg.Catalog.LastDate.IsZero())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
store:
  backend: memory
cache:
  max_entries: 5
source:
  url_template: http://localhost/strip/{date}
`), 0o600))

	v := newViper()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, domain.StoreMemory, cfg.Store.Backend)
	assert.Equal(t, 5, cfg.Cache.MaxEntries)
	assert.Equal(t, "http://localhost/strip/{date}", cfg.Source.URLTemplate)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value any
	}{
		{name: "backend", key: "store.backend", value: "mongo"},
		{name: "postgres without dsn", key: "store.backend", value: "postgres"},
		{name: "template", key: "source.url_template", value: "https://example.com/strip"},
		{name: "pool", key: "store.pool_size", value: 0},
		{name: "first date", key: "catalog.first_date", value: "16/04/1989"},
		{name: "last before first", key: "catalog.last_date", value: "1980-01-01"},
		{name: "random attempts", key: "resolver.random_attempts", value: 0},
		{name: "backtrack", key: "latest.max_backtrack", value: -1},
		{name: "probe timeout", key: "latest.probe_timeout", value: "0s"},
		{name: "scrape timeout", key: "resolver.scrape_timeout", value: "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newViper()
			v.Set(tt.key, tt.value)

			_, err := LoadFrom(v)
			assert.Error(t, err)
		})
	}
}
