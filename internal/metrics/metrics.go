package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/varoOP/stripcache/internal/domain"
)

const namespace = "stripcache"

// Metrics holds the process counters. A nil *Metrics records nothing.
type Metrics struct {
	cacheLookups   *prometheus.CounterVec
	evictions      prometheus.Counter
	scrapes        *prometheus.CounterVec
	scrapeDuration prometheus.Histogram
	revalidations  *prometheus.CounterVec
	requests       *prometheus.CounterVec
}

// New creates the counters and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by result (hit, miss, error).",
		}, []string{"result"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Entries evicted to keep the cache under its row budget.",
		}),
		scrapes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scrapes_total",
			Help:      "Source fetches by outcome (ok, not_found, malformed, network).",
		}, []string{"outcome"}),
		scrapeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scrape_duration_seconds",
			Help:      "Time spent fetching and parsing one source page.",
			Buckets:   prometheus.DefBuckets,
		}),
		revalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "latest_revalidations_total",
			Help:      "Latest date revalidations by outcome (ok, stale, failed).",
		}, []string{"outcome"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolve_requests_total",
			Help:      "Comic resolutions by request kind and result.",
		}, []string{"kind", "result"}),
	}

	reg.MustRegister(m.cacheLookups, m.evictions, m.scrapes, m.scrapeDuration, m.revalidations, m.requests)
	return m
}

func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) Eviction() {
	if m == nil {
		return
	}
	m.evictions.Inc()
}

// Scrape records a source fetch. err is classified by its scrape kind.
func (m *Metrics) Scrape(err error, took time.Duration) {
	if m == nil {
		return
	}
	m.scrapes.WithLabelValues(ScrapeOutcome(err)).Inc()
	m.scrapeDuration.Observe(took.Seconds())
}

func (m *Metrics) Revalidation(outcome string) {
	if m == nil {
		return
	}
	m.revalidations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Request(kind, result string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(kind, result).Inc()
}

func ScrapeOutcome(err error) string {
	if err == nil {
		return "ok"
	}
	if kind, ok := domain.ScrapeKind(err); ok {
		return kind.String()
	}
	return "network"
}

var cacheEntriesDesc = prometheus.NewDesc(
	namespace+"_cache_entries",
	"Number of comics currently cached.",
	nil,
	nil,
)

// CacheCollector reads the cache size from the store on each scrape.
type CacheCollector struct {
	log     zerolog.Logger
	repo    domain.CacheRepo
	timeout time.Duration
}

func NewCacheCollector(log zerolog.Logger, repo domain.CacheRepo, timeout time.Duration) *CacheCollector {
	return &CacheCollector{
		log:     log.With().Str("module", "metrics").Logger(),
		repo:    repo,
		timeout: timeout,
	}
}

// Describe sends the metric descriptor to the channel.
func (c *CacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- cacheEntriesDesc
}

// Collect queries the store for its size and emits it as a gauge.
func (c *CacheCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	n, err := c.repo.Count(ctx)
	if err != nil {
		c.log.Error().Err(err).Msg("failed to collect cache size")
		return
	}

	ch <- prometheus.MustNewConstMetric(cacheEntriesDesc, prometheus.GaugeValue, float64(n))
}
