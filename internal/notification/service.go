package notification

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/varoOP/stripcache/internal/domain"
	"golang.org/x/time/rate"
)

// DriftInterval is the minimum time between two drift alerts.
const DriftInterval = time.Hour

// Service is a composite notification service that can send notifications
// through multiple channels
type Service struct {
	log     zerolog.Logger
	discord *DiscordService
	drift   *rate.Sometimes
}

// NewService creates a new notification service
func NewService(log zerolog.Logger, webhookURL string) domain.NotificationService {
	var discord *DiscordService
	if webhookURL != "" {
		discord = NewDiscordService(log, webhookURL)
	}

	return &Service{
		log:     log.With().Str("module", "notification").Logger(),
		discord: discord,
		drift:   &rate.Sometimes{First: 1, Interval: DriftInterval},
	}
}

// SendDrift forwards at most one drift alert per DriftInterval.
func (s *Service) SendDrift(ctx context.Context, date time.Time, cause error) error {
	if s.discord == nil {
		return nil
	}

	var err error
	sent := false
	s.drift.Do(func() {
		sent = true
		err = s.discord.SendDrift(ctx, date, cause)
	})

	if !sent {
		s.log.Debug().Time("date", date).Msg("drift alert throttled")
	}
	return err
}

// SendError sends error notifications through all configured channels
func (s *Service) SendError(ctx context.Context, err error) error {
	if s.discord != nil {
		if err := s.discord.SendError(ctx, err); err != nil {
			return err
		}
	}
	return nil
}
