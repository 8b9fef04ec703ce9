package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/varoOP/stripcache/internal/domain"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DB represents the sqlite connection pool
type DB struct {
	handler  *sql.DB
	log      zerolog.Logger
	lock     sync.RWMutex
	squirrel sq.StatementBuilderType
	timeout  time.Duration
}

// NewDB opens the sqlite file at path and migrates it to the current schema
func NewDB(path string, poolSize int, timeout time.Duration, log zerolog.Logger) (*DB, error) {
	db := &DB{
		log:      log.With().Str("module", "database").Str("backend", "sqlite").Logger(),
		squirrel: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		timeout:  timeout,
	}

	var (
		err error
		DSN = path + "?_pragma=busy_timeout%3d1000&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	)

	db.handler, err = sql.Open("sqlite", DSN)
	if err != nil {
		return nil, errors.Wrap(err, "unable to connect to database")
	}

	db.handler.SetMaxOpenConns(poolSize)
	db.handler.SetMaxIdleConns(poolSize)

	if err := db.Migrate(); err != nil {
		db.handler.Close()
		return nil, errors.Wrap(err, "failed to migrate schema")
	}

	return db, nil
}

// Migrate handles database schema creation and migrations using versioning
func (db *DB) Migrate() error {
	db.lock.Lock()
	defer db.lock.Unlock()

	var version int
	if err := db.handler.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return errors.Wrap(err, "failed to query schema version")
	}

	if version == len(sqliteMigrations) {
		return nil
	} else if version > len(sqliteMigrations) {
		return errors.Errorf("database schema version (%d) is newer than supported (%d)", version, len(sqliteMigrations))
	}

	db.log.Info().Msgf("Beginning database schema upgrade from version %v to version: %v", version, len(sqliteMigrations))

	tx, err := db.handler.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if version == 0 {
		if _, err := tx.Exec(sqliteSchema); err != nil {
			return errors.Wrap(err, "failed to initialize schema")
		}
		db.log.Info().Msg("Created initial database schema")
	} else {
		for i := version; i < len(sqliteMigrations); i++ {
			if sqliteMigrations[i] == "" {
				continue
			}
			db.log.Info().Msgf("Upgrading database schema to version: %v", i+1)
			if _, err := tx.Exec(sqliteMigrations[i]); err != nil {
				return errors.Wrapf(err, "failed to execute migration #%v", i)
			}
		}
	}

	_, err = tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", len(sqliteMigrations)))
	if err != nil {
		return errors.Wrap(err, "failed to bump schema version")
	}

	db.log.Info().Msgf("Database schema upgraded to version: %v", len(sqliteMigrations))
	return tx.Commit()
}

// Close closes the database connection
func (db *DB) Close() error {
	if _, err := db.handler.Exec(`PRAGMA optimize;`); err != nil {
		return errors.Wrap(err, "query planner optimization")
	}

	return db.handler.Close()
}

// Ping checks if the database connection is alive
func (db *DB) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, db.timeout)
	defer cancel()

	if err := db.handler.PingContext(ctx); err != nil {
		return storeError(err, "ping failed")
	}
	return nil
}

// isSQLiteBusy reports a write lock that outlived busy_timeout.
func isSQLiteBusy(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code() & 0xff
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	return false
}

// Open connects the configured backend.
func Open(ctx context.Context, cfg domain.StoreConfig, log zerolog.Logger) (domain.CacheRepo, error) {
	switch cfg.Backend {
	case domain.StoreSQLite:
		db, err := NewDB(cfg.SQLitePath, cfg.PoolSize, cfg.Timeout, log)
		if err != nil {
			return nil, err
		}
		return NewCacheRepo(log, db), nil

	case domain.StorePostgres:
		return NewPostgresRepo(ctx, cfg, log)

	case domain.StoreRedis:
		return NewRedisRepo(ctx, cfg, log)

	case domain.StoreMemory:
		return NewMemoryRepo(), nil

	default:
		return nil, errors.Errorf("unsupported store backend %q", cfg.Backend)
	}
}
