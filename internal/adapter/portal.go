package adapter

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/MotionWatch/internal/dedup"
	"github.com/TobiSchelling/MotionWatch/internal/motion"
	"github.com/TobiSchelling/MotionWatch/internal/relevance"
	"github.com/TobiSchelling/MotionWatch/internal/source"
)

const (
	defaultPortalTopN = 10
	scrapeConfidence  = 0.6
)

// Portal scrapes parliament portal pages for keyword-bearing links.
//
// Options: pages (defaults to the source url), top_n, language, keywords.
type Portal struct {
	client   *http.Client
	logger   *zap.Logger
	keywords []string
	now      func() time.Time
}

// NewPortal creates the portal adapter.
func NewPortal(deps Deps) *Portal {
	deps = deps.withDefaults()
	return &Portal{client: deps.Client, logger: deps.Logger.Named("portal"), keywords: deps.Keywords, now: deps.Now}
}

func (p *Portal) Kind() source.Kind { return source.KindPortal }

// Fetch skips unreachable pages and fails only when every page failed.
func (p *Portal) Fetch(ctx context.Context, src source.Source, opts FetchOptions) ([]motion.RawRecord, error) {
	ctx, cancel := withBudget(ctx, opts)
	defer cancel()

	pages := src.Options.Strings("pages")
	if len(pages) == 0 {
		pages = []string{src.URL}
	}
	lex := lexiconFor(src, p.keywords)
	topN := src.Options.Int("top_n", defaultPortalTopN)
	lang := strings.ToLower(src.Options.String("language", ""))
	now := p.now()

	var (
		records []motion.RawRecord
		errs    []error
		seen    = make(map[string]bool)
	)
	for _, page := range pages {
		links, err := scrapePage(ctx, p.client, page, lex, topN)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			errs = append(errs, err)
			p.logger.Warn("portal page failed", zap.String("source", src.ID), zap.String("page", page), zap.Error(err))
			continue
		}
		for _, l := range links {
			rec, ok := linkRecord(src.ID, l, lang, now, scrapeConfidence)
			if !ok || seen[rec.ExternalID] {
				continue
			}
			seen[rec.ExternalID] = true
			records = append(records, rec)
		}
	}
	if len(errs) == len(pages) {
		return nil, errors.Join(errs...)
	}
	return records, nil
}

func scrapePage(ctx context.Context, client *http.Client, page string, lex *relevance.Lexicon, topN int) ([]Link, error) {
	doc, err := fetchDocument(ctx, client, page)
	if err != nil {
		return nil, err
	}
	return ScoreLinks(doc, parseBase(page), lex, topN), nil
}

func linkRecord(sourceID string, l Link, lang string, now time.Time, confidence float64) (motion.RawRecord, bool) {
	key, ok := dedup.NormalizeURL(l.URL)
	if !ok {
		return motion.RawRecord{}, false
	}
	title := l.Text
	if title == "" {
		title = l.URL
	}
	return motion.RawRecord{
		SourceID:   sourceID,
		ExternalID: key,
		Title:      title,
		SourceURL:  l.URL,
		FetchedAt:  now,
		Language:   lang,
		Confidence: confidence,
	}, true
}

func parseBase(page string) *url.URL {
	u, err := url.Parse(page)
	if err != nil {
		return nil
	}
	return u
}
