package cache

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/varoOP/stripcache/internal/domain"
	"github.com/varoOP/stripcache/internal/scraper"
)

var pageFileRegex = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})\.html?$`)

// ImportStats summarizes an ImportPages run.
type ImportStats struct {
	Imported int
	Skipped  int
	Errors   int
}

// ImportPages seeds the cache from previously saved source pages named
// YYYY-MM-DD.html. Pages without image dimensions are skipped since measuring
// them needs the network.
func ImportPages(ctx context.Context, svc Service, dir, urlTemplate string, log zerolog.Logger) (ImportStats, error) {
	log = log.With().Str("module", "import").Logger()
	log.Info().Str("dir", dir).Msg("Starting page import")

	var stats ImportStats
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("error accessing file")
			stats.Errors++
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if info.IsDir() {
			return nil
		}

		m := pageFileRegex.FindStringSubmatch(strings.ToLower(info.Name()))
		if m == nil {
			stats.Skipped++
			return nil
		}

		date, err := domain.ParseDate(m[1])
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("invalid date in file name")
			stats.Skipped++
			return nil
		}

		permalink := scraper.PageURL(urlTemplate, date)
		base, err := url.Parse(permalink)
		if err != nil {
			return errors.Wrap(err, "invalid source url template")
		}

		file, err := os.Open(path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("failed to open file")
			stats.Errors++
			return nil
		}

		page, err := scraper.ParsePage(file, base)
		file.Close()
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("failed to parse page")
			stats.Skipped++
			return nil
		}

		if page.Width == 0 || page.Height == 0 {
			log.Debug().Str("path", path).Msg("page has no image dimensions, skipping")
			stats.Skipped++
			return nil
		}

		err = svc.Put(ctx, &domain.Comic{
			Date:      date,
			ImageURL:  page.ImageURL,
			Title:     page.Title,
			Width:     page.Width,
			Height:    page.Height,
			Permalink: permalink,
		})
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("failed to store comic")
			stats.Errors++
			return nil
		}

		stats.Imported++
		if stats.Imported%100 == 0 {
			log.Info().Int("imported", stats.Imported).Msg("Import progress")
		}

		return nil
	})
	if err != nil {
		return stats, errors.Wrap(err, "failed to walk page directory")
	}

	log.Info().
		Int("imported", stats.Imported).
		Int("skipped", stats.Skipped).
		Int("errors", stats.Errors).
		Msg("Page import complete")

	return stats, nil
}
