package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/varoOP/stripcache/internal/domain"
)

func newSQLiteRepo(t *testing.T) *CacheRepo {
	t.Helper()

	db, err := NewDB(filepath.Join(t.TempDir(), "stripcache.db"), 4, time.Second, zerolog.Nop())
	require.NoError(t, err)

	repo := NewCacheRepo(zerolog.Nop(), db)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteRepo(t *testing.T) {
	testCacheRepo(t, newSQLiteRepo(t))
}

func TestSQLiteMigrateIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stripcache.db")

	db, err := NewDB(path, 1, time.Second, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, NewCacheRepo(zerolog.Nop(), db).Upsert(context.Background(), comic("2000-01-01", time.Now())))
	require.NoError(t, db.Close())

	db, err = NewDB(path, 1, time.Second, zerolog.Nop())
	require.NoError(t, err)
	defer db.Close()

	var version int
	require.NoError(t, db.handler.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, len(sqliteMigrations), version)

	n, err := NewCacheRepo(zerolog.Nop(), db).Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteCanceledContextIsUnavailable(t *testing.T) {
	repo := newSQLiteRepo(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.Get(ctx, day("2000-01-01"))
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestOpenMemory(t *testing.T) {
	repo, err := Open(context.Background(), domain.StoreConfig{Backend: domain.StoreMemory}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &MemoryRepo{}, repo)

	_, err = Open(context.Background(), domain.StoreConfig{Backend: "mongo"}, zerolog.Nop())
	assert.Error(t, err)
}
