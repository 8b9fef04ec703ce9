package resolver

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/varoOP/stripcache/internal/cache"
	"github.com/varoOP/stripcache/internal/domain"
	"github.com/varoOP/stripcache/internal/latest"
	"github.com/varoOP/stripcache/internal/metrics"
	"github.com/varoOP/stripcache/internal/scraper"
	"golang.org/x/sync/singleflight"
)

// Service turns a Request into a comic with its navigation bounds.
type Service interface {
	Resolve(ctx context.Context, req Request) (*domain.ComicView, error)
}

type Config struct {
	FirstDate      time.Time
	MaxRetries     int
	RetryBackoff   time.Duration
	RandomAttempts int
	// ScrapeTimeout bounds a shared scrape. Zero leaves it bounded only by
	// the source timeouts.
	ScrapeTimeout time.Duration
}

type service struct {
	log     zerolog.Logger
	cache   cache.Service
	scraper scraper.Service
	latest  latest.Service
	cfg     Config
	metrics *metrics.Metrics
	intn    func(n int) int
	group   singleflight.Group
}

func NewService(log zerolog.Logger, cache cache.Service, scraper scraper.Service, latest latest.Service, cfg Config, m *metrics.Metrics) Service {
	if cfg.RandomAttempts < 1 {
		cfg.RandomAttempts = 1
	}

	return &service{
		log:     log.With().Str("module", "resolver").Logger(),
		cache:   cache,
		scraper: scraper,
		latest:  latest,
		cfg:     cfg,
		metrics: m,
		intn:    rand.IntN,
	}
}

func (s *service) Resolve(ctx context.Context, req Request) (*domain.ComicView, error) {
	view, err := s.resolve(ctx, req)

	result := "ok"
	if err != nil {
		result = resultLabel(err)
		s.log.Debug().Err(err).Str("kind", req.Kind.String()).Msg("resolve failed")
	}
	s.metrics.Request(req.Kind.String(), result)

	return view, err
}

func (s *service) resolve(ctx context.Context, req Request) (*domain.ComicView, error) {
	newest, err := s.latest.Latest(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to determine latest comic")
	}

	switch req.Kind {
	case KindDate:
		return s.resolveDate(ctx, domain.TruncateDate(req.Date), newest)
	case KindLatest:
		return s.resolveDate(ctx, newest, newest)
	case KindFirst:
		return s.resolveDate(ctx, s.cfg.FirstDate, newest)
	case KindRelative:
		return s.resolveDate(ctx, domain.TruncateDate(req.Date).AddDate(0, 0, req.Delta), newest)
	case KindRandom:
		return s.resolveRandom(ctx, newest)
	default:
		return nil, errors.Wrapf(domain.ErrInvalidRequest, "unknown request kind %d", req.Kind)
	}
}

// resolveRandom samples [first, newest] and re-samples data gaps.
func (s *service) resolveRandom(ctx context.Context, newest time.Time) (*domain.ComicView, error) {
	span := domain.DaysBetween(s.cfg.FirstDate, newest)
	if span < 0 {
		return nil, errors.Wrap(domain.ErrComicNotFound, "latest comic precedes the first comic")
	}

	var lastErr error
	for i := 0; i < s.cfg.RandomAttempts; i++ {
		date := s.cfg.FirstDate.AddDate(0, 0, s.intn(span+1))

		view, err := s.resolveDate(ctx, date, newest)
		if err == nil {
			return view, nil
		}
		if !errors.Is(err, domain.ErrComicNotFound) {
			return nil, err
		}

		s.log.Debug().Str("date", domain.FormatDate(date)).Msg("random date has no comic, sampling again")
		lastErr = err
	}

	return nil, lastErr
}

func (s *service) resolveDate(ctx context.Context, date, newest time.Time) (*domain.ComicView, error) {
	if date.Before(s.cfg.FirstDate) {
		return nil, errors.Wrapf(domain.ErrComicNotFound, "%s is before the first comic", domain.FormatDate(date))
	}
	if date.After(newest) {
		return nil, errors.Wrapf(domain.ErrNotYetPublished, "%s is after the latest comic %s", domain.FormatDate(date), domain.FormatDate(newest))
	}

	comic, err := s.lookup(ctx, date)
	if err != nil {
		return nil, err
	}

	return domain.NewComicView(comic, s.cfg.FirstDate, newest), nil
}

// lookup serves from the cache and scrapes on a miss. A failing store is
// treated as a miss so the source can still answer.
func (s *service) lookup(ctx context.Context, date time.Time) (*domain.Comic, error) {
	comic, err := s.cache.Get(ctx, date)
	if err != nil {
		s.log.Warn().Err(err).Str("date", domain.FormatDate(date)).Msg("cache read failed, scraping instead")
	}
	if comic != nil {
		return comic, nil
	}

	// the flight outlives any single caller so one cancellation cannot fail the rest
	ch := s.group.DoChan(domain.FormatDate(date), func() (interface{}, error) {
		flightCtx, cancel := detach(ctx, s.cfg.ScrapeTimeout)
		defer cancel()
		return s.scrape(flightCtx, date)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, errors.Wrapf(ctx.Err(), "gave up waiting for %s", domain.FormatDate(date))
	case res = <-ch:
	}

	v, err := res.Val, res.Err
	if err != nil {
		if domain.IsScrapeKind(err, domain.ScrapeNotFound) {
			return nil, errors.Wrapf(domain.ErrComicNotFound, "no comic on %s: %v", domain.FormatDate(date), err)
		}
		return nil, err
	}

	shared := *v.(*domain.Comic)
	return &shared, nil
}

// scrape fetches date, retrying network failures with linear backoff, and
// caches the result.
func (s *service) scrape(ctx context.Context, date time.Time) (*domain.Comic, error) {
	for attempt := 0; ; attempt++ {
		comic, err := s.scraper.Fetch(ctx, date)
		if err == nil {
			if err := s.cache.Put(ctx, comic); err != nil {
				s.log.Warn().Err(err).Str("date", domain.FormatDate(date)).Msg("failed to cache comic")
			}
			return comic, nil
		}

		if !domain.IsScrapeKind(err, domain.ScrapeNetwork) || attempt >= s.cfg.MaxRetries {
			return nil, err
		}

		backoff := s.cfg.RetryBackoff * time.Duration(attempt+1)
		s.log.Debug().Err(err).Int("attempt", attempt+1).Dur("backoff", backoff).Msg("retrying scrape")

		select {
		case <-ctx.Done():
			return nil, err
		case <-time.After(backoff):
		}
	}
}

func detach(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrComicNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrNotYetPublished):
		return "not_published"
	case errors.Is(err, domain.ErrInvalidRequest):
		return "invalid"
	case errors.Is(err, domain.ErrLatestUnknown):
		return "latest_unknown"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
