package database

import (
	"context"
	"sync"
	"time"

	"github.com/varoOP/stripcache/internal/domain"
)

// MemoryRepo is a process-local domain.CacheRepo for development and tests.
type MemoryRepo struct {
	mu     sync.RWMutex
	comics map[string]domain.Comic
	latest *domain.LatestDate
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{comics: make(map[string]domain.Comic)}
}

func (r *MemoryRepo) Get(ctx context.Context, date time.Time) (*domain.Comic, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.comics[domain.FormatDate(date)]
	if !ok {
		return nil, domain.ErrCacheMiss
	}
	return &c, nil
}

func (r *MemoryRepo) Upsert(ctx context.Context, comic *domain.Comic) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := *comic
	c.Date = domain.TruncateDate(c.Date)
	r.comics[domain.FormatDate(c.Date)] = c
	return nil
}

func (r *MemoryRepo) Touch(ctx context.Context, date time.Time, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := domain.FormatDate(date)
	if c, ok := r.comics[key]; ok {
		c.LastUsed = at
		r.comics[key] = c
	}
	return nil
}

func (r *MemoryRepo) Delete(ctx context.Context, date time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.comics, domain.FormatDate(date))
	return nil
}

func (r *MemoryRepo) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.comics), nil
}

func (r *MemoryRepo) OldestDate(ctx context.Context) (time.Time, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var oldest *domain.Comic
	for _, c := range r.comics {
		if oldest == nil ||
			c.LastUsed.Before(oldest.LastUsed) ||
			(c.LastUsed.Equal(oldest.LastUsed) && c.Date.Before(oldest.Date)) {
			c := c
			oldest = &c
		}
	}
	if oldest == nil {
		return time.Time{}, domain.ErrCacheMiss
	}
	return oldest.Date, nil
}

func (r *MemoryRepo) GetLatest(ctx context.Context) (*domain.LatestDate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.latest == nil {
		return nil, domain.ErrCacheMiss
	}
	l := *r.latest
	return &l, nil
}

func (r *MemoryRepo) StoreLatest(ctx context.Context, latest *domain.LatestDate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	l := *latest
	r.latest = &l
	return nil
}

func (r *MemoryRepo) Ping(ctx context.Context) error {
	return nil
}

func (r *MemoryRepo) Close() error {
	return nil
}
