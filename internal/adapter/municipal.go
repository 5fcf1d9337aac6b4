package adapter

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/MotionWatch/internal/apperrors"
	"github.com/TobiSchelling/MotionWatch/internal/dedup"
	"github.com/TobiSchelling/MotionWatch/internal/motion"
	"github.com/TobiSchelling/MotionWatch/internal/relevance"
	"github.com/TobiSchelling/MotionWatch/internal/source"
)

const (
	defaultMunicipalTopN        = 5
	defaultMunicipalConcurrency = 4
	municipalConfidence         = 0.5
	scaffoldConfidence          = 0.1
)

// Municipal walks a list of municipalities, each with candidate council
// pages tried in order. A municipality with no reachable page yields a
// single low-confidence scaffold record so coverage gaps stay visible.
//
// Options: municipalities [{name, language, urls}], top_n, concurrency, keywords.
type Municipal struct {
	client   *http.Client
	logger   *zap.Logger
	keywords []string
	now      func() time.Time
}

// NewMunicipal creates the municipal adapter.
func NewMunicipal(deps Deps) *Municipal {
	deps = deps.withDefaults()
	return &Municipal{client: deps.Client, logger: deps.Logger.Named("municipal"), keywords: deps.Keywords, now: deps.Now}
}

func (m *Municipal) Kind() source.Kind { return source.KindMunicipal }

type municipality struct {
	Name     string
	Language string
	URLs     []string
}

func municipalitiesOf(src source.Source) []municipality {
	var out []municipality
	for _, o := range src.Options.Maps("municipalities") {
		name := strings.TrimSpace(o.String("name", ""))
		if name == "" {
			continue
		}
		urls := o.Strings("urls")
		if u := o.String("url", ""); u != "" {
			urls = append([]string{u}, urls...)
		}
		out = append(out, municipality{
			Name:     name,
			Language: strings.ToLower(o.String("language", src.Options.String("language", ""))),
			URLs:     urls,
		})
	}
	return out
}

func (m *Municipal) Fetch(ctx context.Context, src source.Source, opts FetchOptions) ([]motion.RawRecord, error) {
	ctx, cancel := withBudget(ctx, opts)
	defer cancel()

	munis := municipalitiesOf(src)
	if len(munis) == 0 {
		return nil, apperrors.Validation("source %s: no municipalities configured", src.ID)
	}
	lex := lexiconFor(src, m.keywords)
	topN := src.Options.Int("top_n", defaultMunicipalTopN)
	now := m.now()

	results := make([][]motion.RawRecord, len(munis))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, src.Options.Int("concurrency", defaultMunicipalConcurrency)))
	for i, muni := range munis {
		g.Go(func() error {
			recs, err := m.fetchMunicipality(gctx, src, muni, lex, topN, now)
			if err != nil {
				return err
			}
			results[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var records []motion.RawRecord
	seen := make(map[string]bool)
	for _, recs := range results {
		for _, r := range recs {
			if seen[r.ExternalID] {
				continue
			}
			seen[r.ExternalID] = true
			records = append(records, r)
		}
	}
	return records, nil
}

// fetchMunicipality only returns an error when the run was cancelled.
func (m *Municipal) fetchMunicipality(ctx context.Context, src source.Source, muni municipality, lex *relevance.Lexicon, topN int, now time.Time) ([]motion.RawRecord, error) {
	for _, candidate := range muni.URLs {
		links, err := scrapePage(ctx, m.client, candidate, lex, topN)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			m.logger.Debug("municipal candidate failed",
				zap.String("municipality", muni.Name),
				zap.String("url", candidate),
				zap.Error(err))
			continue
		}
		records := make([]motion.RawRecord, 0, len(links))
		for _, l := range links {
			if rec, ok := linkRecord(src.ID, l, muni.Language, now, municipalConfidence); ok {
				records = append(records, rec)
			}
		}
		return records, nil
	}

	m.logger.Info("no reachable council page, emitting scaffold",
		zap.String("source", src.ID),
		zap.String("municipality", muni.Name))
	var first string
	if len(muni.URLs) > 0 {
		first = muni.URLs[0]
	}
	return []motion.RawRecord{{
		SourceID:   src.ID,
		ExternalID: "scaffold-" + slug(muni.Name),
		Title:      fmt.Sprintf("%s: no reachable council page", muni.Name),
		SourceURL:  first,
		FetchedAt:  now,
		Language:   muni.Language,
		Confidence: scaffoldConfidence,
		Scaffold:   true,
	}}, nil
}

func slug(name string) string {
	return strings.ReplaceAll(dedup.NormalizeTitle(name, ""), " ", "-")
}
