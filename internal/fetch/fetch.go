// Package fetch fills in the body text of link-only records using
// readability extraction.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"go.uber.org/zap"

	"github.com/TobiSchelling/MotionWatch/internal/adapter"
	"github.com/TobiSchelling/MotionWatch/internal/apperrors"
	"github.com/TobiSchelling/MotionWatch/internal/dedup"
	"github.com/TobiSchelling/MotionWatch/internal/motion"
)

const (
	defaultTimeout = 15 * time.Second
	defaultMaxRun  = 50
	minTextLength  = 100
	maxPageBytes   = 8 << 20
)

// Result holds the results of an enrichment run.
type Result struct {
	Fetched int
	Skipped int
	Failed  int
}

// Options bounds an enrichment run.
type Options struct {
	MaxPerRun int
	Timeout   time.Duration
}

// ContentFetcher fetches body text via HTTP + readability extraction.
type ContentFetcher struct {
	client *http.Client
	opts   Options
	logger *zap.Logger
}

// NewContentFetcher creates a new content fetcher.
func NewContentFetcher(opts Options, logger *zap.Logger) *ContentFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxPerRun == 0 {
		opts.MaxPerRun = defaultMaxRun
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContentFetcher{
		opts:   opts,
		logger: logger.Named("fetch"),
		client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

// NeedsBody reports whether a record is link-only: no body text and an
// http(s) URL to read it from.
func NeedsBody(r motion.RawRecord) bool {
	return strings.TrimSpace(r.Body) == "" && r.Enriched == "" && !r.Scaffold && dedup.SafeURL(r.SourceURL)
}

// Enrich fills Enriched for link-only records in place. Body stays as the
// adapter delivered it. A domain that answered
// with an HTTP error is skipped for the rest of the run. Failures never drop
// a record.
func (f *ContentFetcher) Enrich(ctx context.Context, records []motion.RawRecord) *Result {
	result := &Result{}
	if f.opts.MaxPerRun < 0 {
		return result
	}
	failedDomains := make(map[string]struct{})

	for i := range records {
		rec := &records[i]
		if !NeedsBody(*rec) {
			continue
		}
		if ctx.Err() != nil || result.Fetched+result.Failed >= f.opts.MaxPerRun {
			result.Skipped++
			continue
		}

		domain := dedup.Domain(rec.SourceURL)
		if _, failed := failedDomains[domain]; failed {
			result.Skipped++
			continue
		}

		text, err := f.fetchText(ctx, rec.SourceURL)
		var statusErr *apperrors.HTTPStatusError
		switch {
		case errors.As(err, &statusErr):
			result.Failed++
			if domain != "" {
				failedDomains[domain] = struct{}{}
			}
			f.logger.Info("HTTP error, skipping remaining pages of domain",
				zap.String("url", rec.SourceURL),
				zap.String("domain", domain),
				zap.Int("status", statusErr.StatusCode))
		case err != nil:
			result.Failed++
			f.logger.Debug("fetch failed", zap.String("url", rec.SourceURL), zap.Error(err))
		case text == "":
			result.Failed++
			f.logger.Debug("no extractable content", zap.String("url", rec.SourceURL))
		default:
			rec.Enriched = text
			result.Fetched++
		}
	}

	f.logger.Info("content fetch complete",
		zap.Int("fetched", result.Fetched),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped))
	return result
}

func (f *ContentFetcher) fetchText(ctx context.Context, pageURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", adapter.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", &apperrors.HTTPStatusError{URL: pageURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", err
	}

	parsedURL, _ := url.Parse(pageURL)
	article, err := readability.FromReader(bytes.NewReader(body), parsedURL)
	if err != nil {
		return "", apperrors.Parse("readability", err)
	}

	text := strings.Join(strings.Fields(article.TextContent), " ")
	if len(text) > minTextLength {
		return text, nil
	}
	return "", nil
}
