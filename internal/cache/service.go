package cache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/varoOP/stripcache/internal/domain"
	"github.com/varoOP/stripcache/internal/metrics"
)

// Service is the read-through comic cache in front of a domain.CacheRepo.
type Service interface {
	// Get returns nil, nil on a miss. A hit refreshes the entry's recency.
	Get(ctx context.Context, date time.Time) (*domain.Comic, error)
	// Put stores comic and evicts the least recently used entry when the
	// cache grows past its row budget.
	Put(ctx context.Context, comic *domain.Comic) error
}

type service struct {
	log        zerolog.Logger
	repo       domain.CacheRepo
	maxEntries int
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewService(log zerolog.Logger, repo domain.CacheRepo, maxEntries int, m *metrics.Metrics) Service {
	return &service{
		log:        log.With().Str("module", "cache").Logger(),
		repo:       repo,
		maxEntries: maxEntries,
		metrics:    m,
		now:        time.Now,
	}
}

func (s *service) Get(ctx context.Context, date time.Time) (*domain.Comic, error) {
	comic, err := s.repo.Get(ctx, date)
	if errors.Is(err, domain.ErrCacheMiss) {
		s.metrics.CacheLookup("miss")
		return nil, nil
	}
	if err != nil {
		s.metrics.CacheLookup("error")
		return nil, errors.Wrapf(err, "failed to read %s from cache", domain.FormatDate(date))
	}

	s.metrics.CacheLookup("hit")

	now := s.now().UTC()
	if err := s.repo.Touch(ctx, date, now); err != nil {
		s.log.Warn().Err(err).Str("date", domain.FormatDate(date)).Msg("failed to refresh last used")
	} else {
		comic.LastUsed = now
	}

	return comic, nil
}

func (s *service) Put(ctx context.Context, comic *domain.Comic) error {
	record := *comic
	record.Date = domain.TruncateDate(record.Date)
	record.LastUsed = s.now().UTC()

	if err := s.repo.Upsert(ctx, &record); err != nil {
		return errors.Wrapf(err, "failed to cache %s", domain.FormatDate(record.Date))
	}

	return s.evict(ctx)
}

// evict removes at most one entry, keeping the count within one of the budget.
func (s *service) evict(ctx context.Context) error {
	if s.maxEntries <= 0 {
		return nil
	}

	n, err := s.repo.Count(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to count cache entries")
	}
	if n <= s.maxEntries {
		return nil
	}

	oldest, err := s.repo.OldestDate(ctx)
	if errors.Is(err, domain.ErrCacheMiss) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "failed to find eviction candidate")
	}

	if err := s.repo.Delete(ctx, oldest); err != nil {
		return errors.Wrapf(err, "failed to evict %s", domain.FormatDate(oldest))
	}

	s.metrics.Eviction()
	s.log.Debug().Str("date", domain.FormatDate(oldest)).Int("entries", n).Msg("evicted least recently used comic")

	return nil
}
