package latest

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Refresher revalidates the latest date on a fixed interval so requests
// rarely pay for a revalidation themselves.
type Refresher struct {
	log      zerolog.Logger
	svc      Service
	interval time.Duration
}

func NewRefresher(log zerolog.Logger, svc Service, interval time.Duration) *Refresher {
	return &Refresher{
		log:      log.With().Str("module", "latest").Str("job", "refresher").Logger(),
		svc:      svc,
		interval: interval,
	}
}

// Start blocks until ctx is done.
func (r *Refresher) Start(ctx context.Context) error {
	r.log.Info().Dur("interval", r.interval).Msg("starting latest date refresher")

	r.run(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("stopping latest date refresher")
			return nil
		case <-ticker.C:
			r.run(ctx)
		}
	}
}

func (r *Refresher) run(ctx context.Context) {
	date, err := r.svc.Refresh(ctx)
	if err != nil {
		r.log.Error().Err(err).Msg("failed to refresh latest date")
		return
	}
	r.log.Debug().Time("latest", date).Msg("latest date refreshed")
}
