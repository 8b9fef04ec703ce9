package database

import (
	"context"
	"embed"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/varoOP/stripcache/internal/domain"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

// PostgresRepo implements domain.CacheRepo on a pgx connection pool
type PostgresRepo struct {
	log      zerolog.Logger
	pool     *pgxpool.Pool
	squirrel sq.StatementBuilderType
	timeout  time.Duration
}

// NewPostgresRepo connects, migrates and returns the repository
func NewPostgresRepo(ctx context.Context, cfg domain.StoreConfig, log zerolog.Logger) (*PostgresRepo, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.PostgresDSN)
	if err != nil {
		return nil, errors.Wrap(err, "invalid postgres dsn")
	}
	poolConfig.MaxConns = int32(cfg.PoolSize)
	poolConfig.ConnConfig.ConnectTimeout = cfg.Timeout

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create pool")
	}

	r := &PostgresRepo{
		log:      log.With().Str("repo", "cache").Str("backend", "postgres").Logger(),
		pool:     pool,
		squirrel: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		timeout:  cfg.Timeout,
	}

	if err := r.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if err := RunPostgresMigrations(cfg.PostgresDSN); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

// RunPostgresMigrations runs all embedded SQL migrations.
func RunPostgresMigrations(dsn string) error {
	sourceDriver, err := iofs.New(postgresMigrations, "migrations/postgres")
	if err != nil {
		return errors.Wrap(err, "failed to create migration source")
	}

	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, dsn)
	if err != nil {
		return errors.Wrap(err, "failed to create migrator")
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "migration failed")
	}

	return nil
}

func (r *PostgresRepo) Get(ctx context.Context, date time.Time) (*domain.Comic, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	queryBuilder := r.squirrel.
		Select("date", "image_url", "title", "width", "height", "permalink", "last_used").
		From("comic_cache").
		Where(sq.Eq{"date": domain.TruncateDate(date)})

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "error building query")
	}

	r.log.Trace().Str("query", query).Interface("args", args).Msg("Get")

	var comic domain.Comic
	err = r.pool.QueryRow(ctx, query, args...).
		Scan(&comic.Date, &comic.ImageURL, &comic.Title, &comic.Width, &comic.Height, &comic.Permalink, &comic.LastUsed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrCacheMiss
	}
	if err != nil {
		return nil, storeError(err, "error executing query")
	}

	comic.Date = domain.TruncateDate(comic.Date)
	comic.LastUsed = comic.LastUsed.UTC()

	return &comic, nil
}

func (r *PostgresRepo) Upsert(ctx context.Context, comic *domain.Comic) error {
	queryBuilder := r.squirrel.
		Insert("comic_cache").
		Columns("date", "image_url", "title", "width", "height", "permalink", "last_used").
		Values(domain.TruncateDate(comic.Date), comic.ImageURL, comic.Title, comic.Width, comic.Height, comic.Permalink, comic.LastUsed.UTC()).
		Suffix(`ON CONFLICT (date) DO UPDATE SET
			image_url = EXCLUDED.image_url,
			title = EXCLUDED.title,
			width = EXCLUDED.width,
			height = EXCLUDED.height,
			permalink = EXCLUDED.permalink,
			last_used = EXCLUDED.last_used`)

	return r.exec(ctx, "Upsert", queryBuilder)
}

func (r *PostgresRepo) Touch(ctx context.Context, date time.Time, at time.Time) error {
	queryBuilder := r.squirrel.
		Update("comic_cache").
		Set("last_used", at.UTC()).
		Where(sq.Eq{"date": domain.TruncateDate(date)})

	return r.exec(ctx, "Touch", queryBuilder)
}

func (r *PostgresRepo) Delete(ctx context.Context, date time.Time) error {
	queryBuilder := r.squirrel.
		Delete("comic_cache").
		Where(sq.Eq{"date": domain.TruncateDate(date)})

	return r.exec(ctx, "Delete", queryBuilder)
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query, args, err := r.squirrel.Select("COUNT(*)").From("comic_cache").ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "error building query")
	}

	r.log.Trace().Str("query", query).Interface("args", args).Msg("Count")

	var n int
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, storeError(err, "error executing query")
	}

	return n, nil
}

func (r *PostgresRepo) OldestDate(ctx context.Context) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query, args, err := r.squirrel.
		Select("date").
		From("comic_cache").
		OrderBy("last_used ASC", "date ASC").
		Limit(1).
		ToSql()
	if err != nil {
		return time.Time{}, errors.Wrap(err, "error building query")
	}

	r.log.Trace().Str("query", query).Interface("args", args).Msg("OldestDate")

	var date time.Time
	err = r.pool.QueryRow(ctx, query, args...).Scan(&date)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, domain.ErrCacheMiss
	}
	if err != nil {
		return time.Time{}, storeError(err, "error executing query")
	}

	return domain.TruncateDate(date), nil
}

func (r *PostgresRepo) GetLatest(ctx context.Context) (*domain.LatestDate, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query, args, err := r.squirrel.
		Select("latest", "last_check").
		From("latest_date").
		Where(sq.Eq{"id": 1}).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "error building query")
	}

	r.log.Trace().Str("query", query).Interface("args", args).Msg("GetLatest")

	var latest domain.LatestDate
	err = r.pool.QueryRow(ctx, query, args...).Scan(&latest.Date, &latest.LastCheck)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrCacheMiss
	}
	if err != nil {
		return nil, storeError(err, "error executing query")
	}

	latest.Date = domain.TruncateDate(latest.Date)
	latest.LastCheck = latest.LastCheck.UTC()

	return &latest, nil
}

func (r *PostgresRepo) StoreLatest(ctx context.Context, latest *domain.LatestDate) error {
	queryBuilder := r.squirrel.
		Insert("latest_date").
		Columns("id", "latest", "last_check").
		Values(1, domain.TruncateDate(latest.Date), latest.LastCheck.UTC()).
		Suffix("ON CONFLICT (id) DO UPDATE SET latest = EXCLUDED.latest, last_check = EXCLUDED.last_check")

	return r.exec(ctx, "StoreLatest", queryBuilder)
}

func (r *PostgresRepo) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.pool.Ping(ctx); err != nil {
		return storeError(err, "failed to ping database")
	}
	return nil
}

func (r *PostgresRepo) Close() error {
	r.pool.Close()
	return nil
}

func (r *PostgresRepo) exec(ctx context.Context, op string, builder sq.Sqlizer) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query, args, err := builder.ToSql()
	if err != nil {
		return errors.Wrap(err, "error building query")
	}

	r.log.Trace().Str("query", query).Interface("args", args).Msg(op)

	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return storeError(err, "error executing query")
	}

	return nil
}
