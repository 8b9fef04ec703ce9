package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/varoOP/stripcache/internal/database"
	"github.com/varoOP/stripcache/internal/domain"
	"github.com/varoOP/stripcache/internal/resolver"
)

func day(s string) time.Time {
	t, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

// archive serves every date up to 2023-03-09 except 1999-06-01.
func archive(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		date := strings.TrimPrefix(r.URL.Path, "/strip/")
		if date == "1999-06-01" || date > "2023-03-09" {
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}
		fmt.Fprintf(w, `<span class="comic-title-name">%s</span><img class="img-comic" width="900" height="280" src="/img/%s.gif">`, date, date)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(sourceURL string) *domain.Config {
	return &domain.Config{
		ListenAddr: "127.0.0.1:0",
		Store:      domain.StoreConfig{Backend: domain.StoreMemory, Timeout: time.Second},
		Cache:      domain.CacheConfig{MaxEntries: 100},
		Source: domain.SourceConfig{
			URLTemplate:  sourceURL + "/strip/{date}",
			Timeout:      time.Second,
			MaxRedirects: 3,
			MaxRetries:   1,
			RetryBackoff: time.Millisecond,
			RateLimit:    1000,
			Burst:        100,
		},
		Catalog:  domain.CatalogConfig{FirstDate: day("1989-04-16"), LastDate: day("2023-03-09")},
		Latest:   domain.LatestConfig{RefreshInterval: time.Hour, MaxBacktrack: 7, ProbeTimeout: 10 * time.Second},
		Resolver: domain.ResolverConfig{RandomAttempts: 3, ScrapeTimeout: 10 * time.Second},
	}
}

func TestResolveEndToEnd(t *testing.T) {
	var hits atomic.Int32
	srv := archive(t, &hits)

	a := newApp(testConfig(srv.URL), zerolog.Nop(), database.NewMemoryRepo())
	defer a.Close()
	ctx := context.Background()

	view, err := a.Resolve(ctx, resolver.Request{Kind: resolver.KindLatest})
	require.NoError(t, err)
	assert.Equal(t, "2023-03-09", view.Date)
	assert.True(t, view.DisableRight)
	assert.Equal(t, srv.URL+"/img/2023-03-09.gif", view.ImageURL)

	// latest was warmed during revalidation
	before := hits.Load()
	_, err = a.Resolve(ctx, resolver.Request{Kind: resolver.KindDate, Date: day("2023-03-09")})
	require.NoError(t, err)
	assert.Equal(t, before, hits.Load())

	_, err = a.Resolve(ctx, resolver.Request{Kind: resolver.KindDate, Date: day("1999-06-01")})
	assert.ErrorIs(t, err, domain.ErrComicNotFound)

	_, err = a.Resolve(ctx, resolver.Request{Kind: resolver.KindDate, Date: day("2023-03-10")})
	assert.ErrorIs(t, err, domain.ErrNotYetPublished)

	latest, err := a.Latest(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, day("2023-03-09"), latest)
}

func TestImportPages(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2001-05-05.html"),
		[]byte(`<img class="img-comic" width="10" height="20" src="https://a/b.gif">`), 0o600))

	repo := database.NewMemoryRepo()
	a := newApp(testConfig("https://example.com"), zerolog.Nop(), repo)

	stats, err := a.ImportPages(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Imported)

	got, err := repo.Get(context.Background(), day("2001-05-05"))
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/strip/2001-05-05", got.Permalink)
}

func TestServeStopsOnCancel(t *testing.T) {
	var hits atomic.Int32
	srv := archive(t, &hits)

	a := newApp(testConfig(srv.URL), zerolog.Nop(), database.NewMemoryRepo())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	// the refresher revalidates once on start
	require.Eventually(t, func() bool { return hits.Load() > 0 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}
