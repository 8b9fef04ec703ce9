package database

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/varoOP/stripcache/internal/domain"
)

// CacheRepo implements domain.CacheRepo on sqlite
type CacheRepo struct {
	log zerolog.Logger
	db  *DB
}

// NewCacheRepo creates a new cache repository
func NewCacheRepo(log zerolog.Logger, db *DB) *CacheRepo {
	return &CacheRepo{
		log: log.With().Str("repo", "cache").Str("backend", "sqlite").Logger(),
		db:  db,
	}
}

// Get returns the cached comic for date
func (r *CacheRepo) Get(ctx context.Context, date time.Time) (*domain.Comic, error) {
	ctx, cancel := context.WithTimeout(ctx, r.db.timeout)
	defer cancel()

	queryBuilder := r.db.squirrel.
		Select("date", "image_url", "title", "width", "height", "permalink", "last_used").
		From("comic_cache").
		Where(sq.Eq{"date": domain.FormatDate(date)})

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "error building query")
	}

	r.log.Trace().Str("query", query).Interface("args", args).Msg("Get")

	var (
		comic    domain.Comic
		day      string
		lastUsed int64
	)

	err = r.db.handler.QueryRowContext(ctx, query, args...).
		Scan(&day, &comic.ImageURL, &comic.Title, &comic.Width, &comic.Height, &comic.Permalink, &lastUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrCacheMiss
	}
	if err != nil {
		return nil, storeError(err, "error executing query")
	}

	comic.Date, err = domain.ParseDate(day)
	if err != nil {
		return nil, errors.Wrapf(err, "corrupt cache row %q", day)
	}
	comic.LastUsed = time.Unix(0, lastUsed).UTC()

	return &comic, nil
}

// Upsert inserts or replaces a comic
func (r *CacheRepo) Upsert(ctx context.Context, comic *domain.Comic) error {
	ctx, cancel := context.WithTimeout(ctx, r.db.timeout)
	defer cancel()

	queryBuilder := r.db.squirrel.
		Replace("comic_cache").
		Columns("date", "image_url", "title", "width", "height", "permalink", "last_used").
		Values(domain.FormatDate(comic.Date), comic.ImageURL, comic.Title, comic.Width, comic.Height, comic.Permalink, comic.LastUsed.UnixNano())

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return errors.Wrap(err, "error building query")
	}

	r.log.Trace().Str("query", query).Interface("args", args).Msg("Upsert")

	if _, err := r.db.handler.ExecContext(ctx, query, args...); err != nil {
		return storeError(err, "error executing query")
	}

	return nil
}

// Touch refreshes last_used for an existing comic
func (r *CacheRepo) Touch(ctx context.Context, date time.Time, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, r.db.timeout)
	defer cancel()

	queryBuilder := r.db.squirrel.
		Update("comic_cache").
		Set("last_used", at.UnixNano()).
		Where(sq.Eq{"date": domain.FormatDate(date)})

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return errors.Wrap(err, "error building query")
	}

	r.log.Trace().Str("query", query).Interface("args", args).Msg("Touch")

	if _, err := r.db.handler.ExecContext(ctx, query, args...); err != nil {
		return storeError(err, "error executing query")
	}

	return nil
}

// Delete removes a comic from the cache
func (r *CacheRepo) Delete(ctx context.Context, date time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, r.db.timeout)
	defer cancel()

	queryBuilder := r.db.squirrel.
		Delete("comic_cache").
		Where(sq.Eq{"date": domain.FormatDate(date)})

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return errors.Wrap(err, "error building query")
	}

	r.log.Trace().Str("query", query).Interface("args", args).Msg("Delete")

	if _, err := r.db.handler.ExecContext(ctx, query, args...); err != nil {
		return storeError(err, "error executing query")
	}

	return nil
}

// Count returns the number of cached comics
func (r *CacheRepo) Count(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.db.timeout)
	defer cancel()

	query, args, err := r.db.squirrel.Select("COUNT(*)").From("comic_cache").ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "error building query")
	}

	r.log.Trace().Str("query", query).Interface("args", args).Msg("Count")

	var n int
	if err := r.db.handler.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, storeError(err, "error executing query")
	}

	return n, nil
}

// OldestDate returns the least recently used comic date
func (r *CacheRepo) OldestDate(ctx context.Context) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, r.db.timeout)
	defer cancel()

	queryBuilder := r.db.squirrel.
		Select("date").
		From("comic_cache").
		OrderBy("last_used ASC", "date ASC").
		Limit(1)

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return time.Time{}, errors.Wrap(err, "error building query")
	}

	r.log.Trace().Str("query", query).Interface("args", args).Msg("OldestDate")

	var day string
	err = r.db.handler.QueryRowContext(ctx, query, args...).Scan(&day)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, domain.ErrCacheMiss
	}
	if err != nil {
		return time.Time{}, storeError(err, "error executing query")
	}

	return domain.ParseDate(day)
}

// GetLatest returns the stored latest date record
func (r *CacheRepo) GetLatest(ctx context.Context) (*domain.LatestDate, error) {
	ctx, cancel := context.WithTimeout(ctx, r.db.timeout)
	defer cancel()

	queryBuilder := r.db.squirrel.
		Select("latest", "last_check").
		From("latest_date").
		Where(sq.Eq{"id": 1})

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "error building query")
	}

	r.log.Trace().Str("query", query).Interface("args", args).Msg("GetLatest")

	var (
		day       string
		lastCheck int64
	)

	err = r.db.handler.QueryRowContext(ctx, query, args...).Scan(&day, &lastCheck)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrCacheMiss
	}
	if err != nil {
		return nil, storeError(err, "error executing query")
	}

	date, err := domain.ParseDate(day)
	if err != nil {
		return nil, errors.Wrapf(err, "corrupt latest date %q", day)
	}

	return &domain.LatestDate{Date: date, LastCheck: time.Unix(0, lastCheck).UTC()}, nil
}

// StoreLatest replaces the latest date record
func (r *CacheRepo) StoreLatest(ctx context.Context, latest *domain.LatestDate) error {
	ctx, cancel := context.WithTimeout(ctx, r.db.timeout)
	defer cancel()

	queryBuilder := r.db.squirrel.
		Replace("latest_date").
		Columns("id", "latest", "last_check").
		Values(1, domain.FormatDate(latest.Date), latest.LastCheck.UnixNano())

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return errors.Wrap(err, "error building query")
	}

	r.log.Trace().Str("query", query).Interface("args", args).Msg("StoreLatest")

	if _, err := r.db.handler.ExecContext(ctx, query, args...); err != nil {
		return storeError(err, "error executing query")
	}

	return nil
}

func (r *CacheRepo) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func (r *CacheRepo) Close() error {
	return r.db.Close()
}
