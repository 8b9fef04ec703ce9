package resolver

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/varoOP/stripcache/internal/domain"
)

type Kind int

const (
	KindDate Kind = iota
	KindLatest
	KindRandom
	KindFirst
	// KindRelative is Date shifted by Delta days.
	KindRelative
)

func (k Kind) String() string {
	switch k {
	case KindDate:
		return "date"
	case KindLatest:
		return "latest"
	case KindRandom:
		return "random"
	case KindFirst:
		return "first"
	case KindRelative:
		return "relative"
	default:
		return "unknown"
	}
}

type Request struct {
	Kind  Kind
	Date  time.Time
	Delta int
}

// ParseRequest reads "latest", "random", "first" or a YYYY-MM-DD date.
// A non-zero delta turns a date into a relative request.
func ParseRequest(s string, delta int) (Request, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "latest", "":
		return keyword(KindLatest, delta)
	case "random":
		return keyword(KindRandom, delta)
	case "first":
		return keyword(KindFirst, delta)
	}

	date, err := domain.ParseDate(strings.TrimSpace(s))
	if err != nil {
		return Request{}, err
	}

	if delta != 0 {
		return Request{Kind: KindRelative, Date: date, Delta: delta}, nil
	}
	return Request{Kind: KindDate, Date: date}, nil
}

func keyword(kind Kind, delta int) (Request, error) {
	if delta != 0 {
		return Request{}, errors.Wrapf(domain.ErrInvalidRequest, "delta is only valid with a date, not %s", kind)
	}
	return Request{Kind: kind}, nil
}
