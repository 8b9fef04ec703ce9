package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/varoOP/stripcache/internal/cache"
	"github.com/varoOP/stripcache/internal/database"
	"github.com/varoOP/stripcache/internal/domain"
	"github.com/varoOP/stripcache/internal/latest"
	"github.com/varoOP/stripcache/internal/metrics"
	"github.com/varoOP/stripcache/internal/notification"
	"github.com/varoOP/stripcache/internal/resolver"
	"github.com/varoOP/stripcache/internal/scraper"
	"github.com/varoOP/stripcache/internal/server"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

// App represents the main application with all dependencies initialized
type App struct {
	log                 zerolog.Logger
	config              *domain.Config
	repo                domain.CacheRepo
	registry            *prometheus.Registry
	notificationService domain.NotificationService
	cacheService        cache.Service
	latestService       latest.Service
	resolverService     resolver.Service
}

// NewApp connects the store and builds every service on top of it
func NewApp(ctx context.Context, cfg *domain.Config, log zerolog.Logger) (*App, error) {
	repo, err := database.Open(ctx, cfg.Store, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Backend, err)
	}

	return newApp(cfg, log, repo), nil
}

func newApp(cfg *domain.Config, log zerolog.Logger, repo domain.CacheRepo) *App {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewCacheCollector(log, repo, cfg.Store.Timeout),
	)
	m := metrics.New(registry)

	notificationService := notification.NewService(log, cfg.DiscordWebhookURL)
	scraperService := scraper.NewService(log, cfg.Source, m, notificationService)
	cacheService := cache.NewService(log, repo, cfg.Cache.MaxEntries, m)
	latestService := latest.NewService(log, repo, scraperService, cacheService, cfg.Latest, cfg.Catalog, m)
	resolverService := resolver.NewService(log, cacheService, scraperService, latestService, resolver.Config{
		FirstDate:      cfg.Catalog.FirstDate,
		MaxRetries:     cfg.Source.MaxRetries,
		RetryBackoff:   cfg.Source.RetryBackoff,
		RandomAttempts: cfg.Resolver.RandomAttempts,
		ScrapeTimeout:  cfg.Resolver.ScrapeTimeout,
	}, m)

	return &App{
		log:                 log,
		config:              cfg,
		repo:                repo,
		registry:            registry,
		notificationService: notificationService,
		cacheService:        cacheService,
		latestService:       latestService,
		resolverService:     resolverService,
	}
}

// Serve runs the HTTP API and the latest date refresher until ctx is done
func (a *App) Serve(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			if notifyErr := a.notificationService.SendError(context.Background(), err); notifyErr != nil {
				a.log.Warn().Err(notifyErr).Msg("Failed to send error notification")
			}
		}
	}()

	srv := server.New(a.log, a.config.ListenAddr, a.resolverService, a.repo, a.registry)
	refresher := latest.NewRefresher(a.log, a.latestService, a.config.Latest.RefreshInterval)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(srv.Start)

	g.Go(func() error {
		return refresher.Start(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Resolve answers one comic request
func (a *App) Resolve(ctx context.Context, req resolver.Request) (*domain.ComicView, error) {
	return a.resolverService.Resolve(ctx, req)
}

// Latest returns the latest comic date, revalidating first when refresh is set
func (a *App) Latest(ctx context.Context, refresh bool) (time.Time, error) {
	if refresh {
		return a.latestService.Refresh(ctx)
	}
	return a.latestService.Latest(ctx)
}

// ImportPages seeds the cache from a directory of saved pages
func (a *App) ImportPages(ctx context.Context, dir string) (cache.ImportStats, error) {
	return cache.ImportPages(ctx, a.cacheService, dir, a.config.Source.URLTemplate, a.log)
}

func (a *App) Close() error {
	return a.repo.Close()
}
