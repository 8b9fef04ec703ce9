package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/varoOP/stripcache/internal/domain"
)

func day(s string) time.Time {
	t, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func comic(date string, lastUsed time.Time) *domain.Comic {
	return &domain.Comic{
		Date:      day(date),
		ImageURL:  "https://assets.example.com/strip/" + date + ".gif",
		Title:     "Strip " + date,
		Width:     900,
		Height:    280,
		Permalink: "https://example.com/strip/" + date,
		LastUsed:  lastUsed,
	}
}

// testCacheRepo runs the behaviour every backend must share.
func testCacheRepo(t *testing.T, repo domain.CacheRepo) {
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("empty", func(t *testing.T) {
		_, err := repo.Get(ctx, day("2000-01-01"))
		assert.ErrorIs(t, err, domain.ErrCacheMiss)

		n, err := repo.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		_, err = repo.OldestDate(ctx)
		assert.ErrorIs(t, err, domain.ErrCacheMiss)

		_, err = repo.GetLatest(ctx)
		assert.ErrorIs(t, err, domain.ErrCacheMiss)

		require.NoError(t, repo.Ping(ctx))
	})

	t.Run("upsert and get", func(t *testing.T) {
		want := comic("2000-01-01", base)
		require.NoError(t, repo.Upsert(ctx, want))

		got, err := repo.Get(ctx, day("2000-01-01"))
		require.NoError(t, err)
		assert.True(t, want.SameContent(got), "got %+v", got)
		assert.True(t, got.LastUsed.Equal(base), "last used %v", got.LastUsed)

		want.Title = ""
		require.NoError(t, repo.Upsert(ctx, want))
		got, err = repo.Get(ctx, day("2000-01-01"))
		require.NoError(t, err)
		assert.Empty(t, got.Title)

		n, err := repo.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("recency order", func(t *testing.T) {
		require.NoError(t, repo.Upsert(ctx, comic("2000-01-02", base.Add(time.Hour))))
		require.NoError(t, repo.Upsert(ctx, comic("1999-12-31", base.Add(time.Hour))))

		oldest, err := repo.OldestDate(ctx)
		require.NoError(t, err)
		assert.True(t, oldest.Equal(day("2000-01-01")), "oldest %v", oldest)

		require.NoError(t, repo.Touch(ctx, day("2000-01-01"), base.Add(2*time.Hour)))

		// equal recency falls back to the earlier date
		oldest, err = repo.OldestDate(ctx)
		require.NoError(t, err)
		assert.True(t, oldest.Equal(day("1999-12-31")), "oldest %v", oldest)

		got, err := repo.Get(ctx, day("2000-01-01"))
		require.NoError(t, err)
		assert.True(t, got.LastUsed.Equal(base.Add(2*time.Hour)))
	})

	t.Run("touch missing", func(t *testing.T) {
		require.NoError(t, repo.Touch(ctx, day("1990-01-01"), base))

		_, err := repo.Get(ctx, day("1990-01-01"))
		assert.ErrorIs(t, err, domain.ErrCacheMiss)

		n, err := repo.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, day("1999-12-31")))
		require.NoError(t, repo.Delete(ctx, day("1999-12-31")))

		_, err := repo.Get(ctx, day("1999-12-31"))
		assert.ErrorIs(t, err, domain.ErrCacheMiss)

		n, err := repo.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("latest", func(t *testing.T) {
		require.NoError(t, repo.StoreLatest(ctx, &domain.LatestDate{Date: day("2023-03-08"), LastCheck: base}))
		require.NoError(t, repo.StoreLatest(ctx, &domain.LatestDate{Date: day("2023-03-09"), LastCheck: base.Add(time.Minute)}))

		latest, err := repo.GetLatest(ctx)
		require.NoError(t, err)
		assert.True(t, latest.Date.Equal(day("2023-03-09")))
		assert.True(t, latest.LastCheck.Equal(base.Add(time.Minute)))
	})
}

func TestMemoryRepo(t *testing.T) {
	testCacheRepo(t, NewMemoryRepo())
}
