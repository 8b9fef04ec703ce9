package domain

import (
	"context"
	"time"
)

// NotificationService defines the interface for notification services
type NotificationService interface {
	// SendDrift reports a page that no longer parses, usually a source layout change
	SendDrift(ctx context.Context, date time.Time, cause error) error

	// SendError sends an error notification with error details
	SendError(ctx context.Context, err error) error
}
