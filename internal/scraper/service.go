package scraper

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gocolly/colly"
	"github.com/gocolly/colly/extensions"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/varoOP/stripcache/internal/domain"
	"github.com/varoOP/stripcache/internal/metrics"
	"golang.org/x/time/rate"
)

const (
	ctxResponse = "response"

	datePlaceholder = "{date}"
	driftTimeout    = 10 * time.Second
)

var (
	dateInPath          = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	errTooManyRedirects = errors.New("too many redirects")
)

// Service fetches strips from the upstream source.
type Service interface {
	// Fetch returns the strip for date or a *domain.ScrapeError.
	Fetch(ctx context.Context, date time.Time) (*domain.Comic, error)
}

type service struct {
	log      zerolog.Logger
	cfg      domain.SourceConfig
	pages    *colly.Collector
	images   *colly.Collector
	limiter  *rate.Limiter
	metrics  *metrics.Metrics
	notifier domain.NotificationService
}

func NewService(log zerolog.Logger, cfg domain.SourceConfig, m *metrics.Metrics, notifier domain.NotificationService) Service {
	s := &service{
		log:      log.With().Str("module", "scraper").Logger(),
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		metrics:  m,
		notifier: notifier,
	}

	s.pages = s.newCollector(s.pageRedirect)
	s.images = s.newCollector(s.imageRedirect)

	return s
}

// PageURL fills the source template for date.
func PageURL(template string, date time.Time) string {
	return strings.ReplaceAll(template, datePlaceholder, domain.FormatDate(date))
}

func (s *service) newCollector(redirect func(*http.Request, []*http.Request) error) *colly.Collector {
	c := colly.NewCollector(colly.AllowURLRevisit())

	extensions.RandomUserAgent(c)
	c.SetRequestTimeout(s.cfg.Timeout)
	c.RedirectHandler = redirect

	c.OnRequest(func(r *colly.Request) {
		s.log.Debug().Str("url", r.URL.String()).Msg("visiting")
	})

	c.OnResponse(func(r *colly.Response) {
		r.Ctx.Put(ctxResponse, r)
	})

	// colly reports every status above 202 here, with status 0 for transport failures
	c.OnError(func(r *colly.Response, err error) {
		r.Ctx.Put(ctxResponse, r)
	})

	return c
}

// pageRedirect stops at redirects that leave the requested date, which is how
// the source answers for days without a strip.
func (s *service) pageRedirect(req *http.Request, via []*http.Request) error {
	if len(via) > s.cfg.MaxRedirects {
		return errTooManyRedirects
	}

	if day := dateInPath.FindString(via[0].URL.Path); day != "" && !strings.Contains(req.URL.Path, day) {
		return http.ErrUseLastResponse
	}

	return nil
}

func (s *service) imageRedirect(req *http.Request, via []*http.Request) error {
	if len(via) > s.cfg.MaxRedirects {
		return errTooManyRedirects
	}
	return nil
}

func (s *service) Fetch(ctx context.Context, date time.Time) (*domain.Comic, error) {
	date = domain.TruncateDate(date)

	start := time.Now()
	comic, err := s.fetch(ctx, date)

	// a caller that went away says nothing about the source
	if err != nil && errors.Is(ctx.Err(), context.Canceled) {
		s.log.Debug().Str("date", domain.FormatDate(date)).Msg("scrape abandoned by caller")
		return nil, errors.Wrapf(ctx.Err(), "scrape %s abandoned", domain.FormatDate(date))
	}

	s.metrics.Scrape(err, time.Since(start))

	if err != nil {
		kind, _ := domain.ScrapeKind(err)
		s.log.Debug().Err(err).Str("date", domain.FormatDate(date)).Str("kind", kind.String()).Msg("scrape failed")

		if kind == domain.ScrapeMalformed {
			s.log.Error().Err(err).Str("date", domain.FormatDate(date)).Msg("source page could not be parsed")
			s.reportDrift(date, err)
		}
		return nil, err
	}

	return comic, nil
}

func (s *service) fetch(ctx context.Context, date time.Time) (*domain.Comic, error) {
	pageURL := PageURL(s.cfg.URLTemplate, date)

	resp, err := s.get(ctx, s.pages, pageURL)
	if err := classify(date, resp, err); err != nil {
		return nil, err
	}

	page, err := ParsePage(bytes.NewReader(resp.Body), resp.Request.URL)
	if err != nil {
		return nil, domain.NewScrapeError(domain.ScrapeMalformed, date, err)
	}

	if page.Width == 0 || page.Height == 0 {
		width, height, err := s.measure(ctx, date, page.ImageURL)
		if err != nil {
			return nil, err
		}
		page.Width, page.Height = width, height
	}

	return &domain.Comic{
		Date:      date,
		ImageURL:  page.ImageURL,
		Title:     page.Title,
		Width:     page.Width,
		Height:    page.Height,
		Permalink: pageURL,
	}, nil
}

// measure downloads the image when the page omits its dimensions.
func (s *service) measure(ctx context.Context, date time.Time, imageURL string) (int, int, error) {
	resp, err := s.get(ctx, s.images, imageURL)
	if err := classify(date, resp, err); err != nil {
		if domain.IsScrapeKind(err, domain.ScrapeNotFound) {
			return 0, 0, domain.NewScrapeError(domain.ScrapeMalformed, date, errors.Wrapf(err, "image %s", imageURL))
		}
		return 0, 0, err
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(resp.Body))
	if err != nil {
		return 0, 0, domain.NewScrapeError(domain.ScrapeMalformed, date, errors.Wrapf(err, "failed to decode image %s", imageURL))
	}

	return cfg.Width, cfg.Height, nil
}

// get runs one colly request, giving up when ctx is done.
func (s *service) get(ctx context.Context, c *colly.Collector, rawURL string) (*colly.Response, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	cctx := colly.NewContext()
	done := make(chan error, 1)
	go func() {
		done <- c.Request(http.MethodGet, rawURL, nil, cctx, nil)
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-done:
		resp, _ := cctx.GetAny(ctxResponse).(*colly.Response)
		return resp, err
	}
}

// classify maps a colly result to nil on a 2xx or a *domain.ScrapeError.
func classify(date time.Time, resp *colly.Response, err error) error {
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}

	switch {
	case errors.Is(err, errTooManyRedirects):
		return domain.NewScrapeError(domain.ScrapeNotFound, date, err)

	case status == 0:
		if err == nil {
			err = errors.New("no response")
		}
		return domain.NewScrapeError(domain.ScrapeNetwork, date, err)

	case status >= 200 && status < 300:
		return nil

	case status >= 300 && status < 400:
		location := ""
		if resp.Headers != nil {
			location = resp.Headers.Get("Location")
		}
		return domain.NewScrapeError(domain.ScrapeNotFound, date, fmt.Errorf("redirected to %q", location))

	case status == http.StatusTooManyRequests || status >= 500:
		return domain.NewScrapeError(domain.ScrapeNetwork, date, fmt.Errorf("source returned %d", status))

	default:
		return domain.NewScrapeError(domain.ScrapeNotFound, date, fmt.Errorf("source returned %d", status))
	}
}

func (s *service) reportDrift(date time.Time, cause error) {
	if s.notifier == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), driftTimeout)
		defer cancel()

		if err := s.notifier.SendDrift(ctx, date, cause); err != nil {
			s.log.Warn().Err(err).Msg("failed to send drift notification")
		}
	}()
}
