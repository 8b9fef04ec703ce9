package domain

import (
	"math"
	"time"

	"github.com/pkg/errors"
)

// DateLayout is the canonical calendar-day form used in keys, URLs and responses.
const DateLayout = "2006-01-02"

// Comic is a single strip as stored in the cache.
type Comic struct {
	Date      time.Time `json:"date"`
	ImageURL  string    `json:"img_url"`
	Title     string    `json:"title,omitempty"`
	Width     int       `json:"img_width"`
	Height    int       `json:"img_height"`
	Permalink string    `json:"permalink"`
	LastUsed  time.Time `json:"last_used"`
}

// SameContent reports whether two records describe the same strip, ignoring recency.
func (c *Comic) SameContent(o *Comic) bool {
	if c == nil || o == nil {
		return c == o
	}

	return c.Date.Equal(o.Date) &&
		c.ImageURL == o.ImageURL &&
		c.Title == o.Title &&
		c.Width == o.Width &&
		c.Height == o.Height &&
		c.Permalink == o.Permalink
}

// LatestDate is the persisted knowledge about the newest published strip.
type LatestDate struct {
	Date      time.Time `json:"date"`
	LastCheck time.Time `json:"last_check"`
}

// ComicView is a resolved comic together with its navigation bounds.
type ComicView struct {
	Date         string `json:"date" yaml:"date"`
	ImageURL     string `json:"img_url" yaml:"img_url"`
	Title        string `json:"title,omitempty" yaml:"title,omitempty"`
	Width        int    `json:"img_width" yaml:"img_width"`
	Height       int    `json:"img_height" yaml:"img_height"`
	Permalink    string `json:"permalink" yaml:"permalink"`
	FirstDate    string `json:"first_date" yaml:"first_date"`
	LatestDate   string `json:"latest_date" yaml:"latest_date"`
	PreviousDate string `json:"previous_date" yaml:"previous_date"`
	NextDate     string `json:"next_date" yaml:"next_date"`
	DisableLeft  bool   `json:"disable_left_nav" yaml:"disable_left_nav"`
	DisableRight bool   `json:"disable_right_nav" yaml:"disable_right_nav"`
}

// NewComicView builds the navigation bounds for comic within [first, latest].
func NewComicView(c *Comic, first, latest time.Time) *ComicView {
	date := TruncateDate(c.Date)

	prev := date.AddDate(0, 0, -1)
	if prev.Before(first) {
		prev = first
	}

	next := date.AddDate(0, 0, 1)
	if next.After(latest) {
		next = latest
	}

	return &ComicView{
		Date:         FormatDate(date),
		ImageURL:     c.ImageURL,
		Title:        c.Title,
		Width:        c.Width,
		Height:       c.Height,
		Permalink:    c.Permalink,
		FirstDate:    FormatDate(first),
		LatestDate:   FormatDate(latest),
		PreviousDate: FormatDate(prev),
		NextDate:     FormatDate(next),
		DisableLeft:  !date.After(first),
		DisableRight: !date.Before(latest),
	}
}

// TruncateDate drops the time of day and normalizes to UTC.
func TruncateDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// ParseDate parses a YYYY-MM-DD string. Any other form is an invalid request.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(ErrInvalidRequest, "invalid date %q", s)
	}

	return t, nil
}

// DaysBetween returns the number of whole days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(math.Round(TruncateDate(b).Sub(TruncateDate(a)).Hours() / 24))
}
