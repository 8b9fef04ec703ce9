package domain

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrCacheMiss is returned by a CacheRepo when no record exists for a key.
	ErrCacheMiss = errors.New("cache miss")
	// ErrStoreUnavailable covers pool exhaustion, timeouts and lost connections.
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrComicNotFound    = errors.New("comic not found")
	ErrNotYetPublished  = errors.New("comic not yet published")
	ErrLatestUnknown    = errors.New("latest comic date unknown")
	ErrInvalidRequest   = errors.New("invalid request")
)

type ScrapeErrorKind int

const (
	// ScrapeNotFound means the source has no strip for the date.
	ScrapeNotFound ScrapeErrorKind = iota + 1
	// ScrapeMalformed means a page was returned but could not be parsed.
	ScrapeMalformed
	// ScrapeNetwork covers transport failures, timeouts and server-side errors.
	ScrapeNetwork
)

func (k ScrapeErrorKind) String() string {
	switch k {
	case ScrapeNotFound:
		return "not_found"
	case ScrapeMalformed:
		return "malformed"
	case ScrapeNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// ScrapeError is the failure result of fetching a strip from the source.
type ScrapeError struct {
	Kind ScrapeErrorKind
	Date time.Time
	Err  error
}

func NewScrapeError(kind ScrapeErrorKind, date time.Time, err error) *ScrapeError {
	return &ScrapeError{Kind: kind, Date: date, Err: err}
}

func (e *ScrapeError) Error() string {
	msg := fmt.Sprintf("scrape %s: %s", FormatDate(e.Date), e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// ScrapeKind returns the kind of the first ScrapeError in err's chain.
func ScrapeKind(err error) (ScrapeErrorKind, bool) {
	var se *ScrapeError
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return 0, false
}

func IsScrapeKind(err error, kind ScrapeErrorKind) bool {
	k, ok := ScrapeKind(err)
	return ok && k == kind
}
