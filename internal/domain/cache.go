package domain

import (
	"context"
	"time"
)

// CacheRepo is the persistent comic store. Implementations must be safe for
// concurrent use and bound every operation by the configured store timeout.
type CacheRepo interface {
	// Get returns ErrCacheMiss when the date has no record.
	Get(ctx context.Context, date time.Time) (*Comic, error)
	// Upsert inserts or replaces the record for comic.Date.
	Upsert(ctx context.Context, comic *Comic) error
	// Touch sets last_used for an existing record. Missing records are ignored.
	Touch(ctx context.Context, date time.Time, at time.Time) error
	Delete(ctx context.Context, date time.Time) error
	Count(ctx context.Context) (int, error)
	// OldestDate returns the least recently used date, ties broken by date.
	OldestDate(ctx context.Context) (time.Time, error)

	// GetLatest returns ErrCacheMiss when no latest date was ever stored.
	GetLatest(ctx context.Context) (*LatestDate, error)
	StoreLatest(ctx context.Context, latest *LatestDate) error

	Ping(ctx context.Context) error
	Close() error
}
