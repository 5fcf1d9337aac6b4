package adapter

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/TobiSchelling/MotionWatch/internal/apperrors"
	"github.com/TobiSchelling/MotionWatch/internal/motion"
	"github.com/TobiSchelling/MotionWatch/internal/source"
)

const (
	defaultFeedDaysBack = 30
	defaultFeedMaxItems = 50
	fixtureConfidence   = 0.5
)

// Feed reads RSS and Atom feeds.
//
// Options: days_back, max_items, language, fixture, fixture_fallback.
type Feed struct {
	client *http.Client
	logger *zap.Logger
	now    func() time.Time
}

// NewFeed creates the feed adapter.
func NewFeed(deps Deps) *Feed {
	deps = deps.withDefaults()
	return &Feed{client: deps.Client, logger: deps.Logger.Named("feed"), now: deps.Now}
}

func (f *Feed) Kind() source.Kind { return source.KindFeed }

// Fetch downloads and parses the feed. A configured fixture is read only
// after the network fetch failed and only when fixture_fallback is set.
func (f *Feed) Fetch(ctx context.Context, src source.Source, opts FetchOptions) ([]motion.RawRecord, error) {
	ctx, cancel := withBudget(ctx, opts)
	defer cancel()

	confidence := 1.0
	body, err := fetchBody(ctx, f.client, src.URL, "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")
	if err != nil {
		fixture := src.Options.String("fixture", "")
		if fixture == "" || !src.Options.Bool("fixture_fallback", false) || ctx.Err() != nil {
			return nil, err
		}
		data, ferr := os.ReadFile(fixture)
		if ferr != nil {
			return nil, fmt.Errorf("%w (fixture fallback: %v)", err, ferr)
		}
		f.logger.Warn("feed unreachable, using fixture",
			zap.String("source", src.ID),
			zap.String("fixture", fixture),
			zap.Error(err))
		body = data
		confidence = fixtureConfidence
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Parse("feed "+src.ID, err)
	}

	now := f.now()
	cutoff := now.AddDate(0, 0, -src.Options.Int("days_back", defaultFeedDaysBack))
	maxItems := src.Options.Int("max_items", defaultFeedMaxItems)
	lang := src.Options.String("language", feed.Language)
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}

	var records []motion.RawRecord
	for _, item := range feed.Items {
		if maxItems > 0 && len(records) >= maxItems {
			break
		}
		rec, ok := feedRecord(item, src, lang)
		if !ok {
			f.logger.Debug("skipping feed item without id or title", zap.String("source", src.ID))
			continue
		}
		if rec.PublishedAt != nil && rec.PublishedAt.Before(cutoff) {
			continue
		}
		rec.FetchedAt = now
		rec.Confidence = confidence
		records = append(records, rec)
	}
	return records, nil
}

func feedRecord(item *gofeed.Item, src source.Source, lang string) (motion.RawRecord, bool) {
	externalID := strings.TrimSpace(item.GUID)
	if externalID == "" {
		externalID = strings.TrimSpace(item.Link)
	}
	title := StripMarkup(item.Title)
	if externalID == "" || title == "" {
		return motion.RawRecord{}, false
	}

	var published *time.Time
	switch {
	case item.PublishedParsed != nil:
		t := item.PublishedParsed.UTC()
		published = &t
	case item.UpdatedParsed != nil:
		t := item.UpdatedParsed.UTC()
		published = &t
	}

	return motion.RawRecord{
		SourceID:    src.ID,
		ExternalID:  externalID,
		Title:       title,
		Summary:     StripMarkup(item.Description),
		Body:        StripMarkup(item.Content),
		SourceURL:   strings.TrimSpace(item.Link),
		PublishedAt: published,
		Language:    strings.ToLower(lang),
	}, true
}
