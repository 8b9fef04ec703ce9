package latest

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/varoOP/stripcache/internal/cache"
	"github.com/varoOP/stripcache/internal/domain"
	"github.com/varoOP/stripcache/internal/metrics"
	"github.com/varoOP/stripcache/internal/scraper"
	"golang.org/x/sync/singleflight"
)

var errBacktrackExhausted = errors.New("no strip found within the backtrack window")

// Service tracks the date of the newest published strip.
type Service interface {
	// Latest returns the stored date while it is fresh and revalidates it
	// against the source otherwise.
	Latest(ctx context.Context) (time.Time, error)
	// Refresh revalidates regardless of freshness.
	Refresh(ctx context.Context) (time.Time, error)
}

type service struct {
	log     zerolog.Logger
	repo    domain.CacheRepo
	scraper scraper.Service
	cache   cache.Service
	cfg     domain.LatestConfig
	catalog domain.CatalogConfig
	metrics *metrics.Metrics
	now     func() time.Time
	group   singleflight.Group
}

func NewService(log zerolog.Logger, repo domain.CacheRepo, scraper scraper.Service, cache cache.Service, cfg domain.LatestConfig, catalog domain.CatalogConfig, m *metrics.Metrics) Service {
	return &service{
		log:     log.With().Str("module", "latest").Logger(),
		repo:    repo,
		scraper: scraper,
		cache:   cache,
		cfg:     cfg,
		catalog: catalog,
		metrics: m,
		now:     time.Now,
	}
}

func (s *service) Latest(ctx context.Context) (time.Time, error) {
	stored := s.stored(ctx)
	if stored != nil && s.now().Sub(stored.LastCheck) < s.cfg.RefreshInterval {
		return stored.Date, nil
	}

	return s.revalidate(ctx, stored)
}

func (s *service) Refresh(ctx context.Context) (time.Time, error) {
	return s.revalidate(ctx, s.stored(ctx))
}

// stored returns the persisted record, treating read failures as absent.
func (s *service) stored(ctx context.Context) *domain.LatestDate {
	rec, err := s.repo.GetLatest(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrCacheMiss) {
			s.log.Warn().Err(err).Msg("failed to read latest date, revalidating")
		}
		return nil
	}
	return rec
}

// revalidate probes the source once for all concurrent callers and falls back
// to the stale date when the probe fails.
func (s *service) revalidate(ctx context.Context, stale *domain.LatestDate) (time.Time, error) {
	// the probe runs detached so a caller leaving early cannot fail the others
	ch := s.group.DoChan("latest", func() (interface{}, error) {
		probeCtx := context.WithoutCancel(ctx)
		cancel := context.CancelFunc(func() {})
		if s.cfg.ProbeTimeout > 0 {
			probeCtx, cancel = context.WithTimeout(probeCtx, s.cfg.ProbeTimeout)
		}
		defer cancel()
		return s.probe(probeCtx)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return time.Time{}, errors.Wrap(ctx.Err(), "gave up waiting for revalidation")
	case res = <-ch:
	}

	err := res.Err
	if err == nil {
		return res.Val.(time.Time), nil
	}

	if stale != nil {
		s.metrics.Revalidation("stale")
		s.log.Warn().Err(err).Str("latest", domain.FormatDate(stale.Date)).Msg("revalidation failed, serving stale latest date")
		return stale.Date, nil
	}

	s.metrics.Revalidation("failed")
	return time.Time{}, errors.Wrapf(domain.ErrLatestUnknown, "revalidation failed: %v", err)
}

// probe walks back from today until the source has a strip.
func (s *service) probe(ctx context.Context) (time.Time, error) {
	now := s.now().UTC()
	start := domain.TruncateDate(now)
	if !s.catalog.LastDate.IsZero() && start.After(s.catalog.LastDate) {
		start = s.catalog.LastDate
	}

	for i := 0; i <= s.cfg.MaxBacktrack; i++ {
		date := start.AddDate(0, 0, -i)
		if date.Before(s.catalog.FirstDate) {
			break
		}

		comic, err := s.scraper.Fetch(ctx, date)
		switch kind, _ := domain.ScrapeKind(err); {
		case err == nil:
			if err := s.cache.Put(ctx, comic); err != nil {
				s.log.Warn().Err(err).Str("date", domain.FormatDate(date)).Msg("failed to warm cache")
			}

		case kind == domain.ScrapeNotFound:
			continue

		case kind == domain.ScrapeMalformed:
			// a page exists for the date even if it no longer parses
			s.log.Warn().Err(err).Str("date", domain.FormatDate(date)).Msg("latest page is malformed")

		default:
			return time.Time{}, err
		}

		if err := s.repo.StoreLatest(ctx, &domain.LatestDate{Date: date, LastCheck: now}); err != nil {
			s.log.Warn().Err(err).Msg("failed to store latest date")
		}

		s.metrics.Revalidation("ok")
		s.log.Debug().Str("latest", domain.FormatDate(date)).Msg("latest date revalidated")
		return date, nil
	}

	return time.Time{}, errBacktrackExhausted
}
