package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/MotionWatch/internal/dedup"
	"github.com/TobiSchelling/MotionWatch/internal/motion"
	"github.com/TobiSchelling/MotionWatch/internal/source"
)

var defaultRegistryLanguages = []string{"de", "fr", "it"}

// RegistryV2 queries a registry once per language and merges the rows of one
// affair into a single multilingual record.
//
// Options: languages, preference (display language order, defaults to
// languages) and everything RegistryV1 reads.
type RegistryV2 struct {
	v1     *RegistryV1
	logger *zap.Logger
}

// NewRegistryV2 creates the multi-language registry adapter on top of v1.
func NewRegistryV2(deps Deps, v1 *RegistryV1) *RegistryV2 {
	deps = deps.withDefaults()
	if v1 == nil {
		v1 = NewRegistryV1(deps)
	}
	return &RegistryV2{v1: v1, logger: deps.Logger.Named("registry_v2")}
}

func (a *RegistryV2) Kind() source.Kind { return source.KindRegistryV2 }

// Fetch fails only when every language failed.
func (a *RegistryV2) Fetch(ctx context.Context, src source.Source, opts FetchOptions) ([]motion.RawRecord, error) {
	ctx, cancel := withBudget(ctx, opts)
	defer cancel()

	langs := src.Options.Strings("languages")
	if len(langs) == 0 {
		langs = defaultRegistryLanguages
	}

	results := make([][]motion.RawRecord, len(langs))
	errs := make([]error, len(langs))
	var g errgroup.Group
	for i, lang := range langs {
		g.Go(func() error {
			recs, err := a.v1.fetchLanguage(ctx, src, lang)
			if err != nil {
				errs[i] = fmt.Errorf("language %s: %w", lang, err)
				return nil
			}
			results[i] = recs
			return nil
		})
	}
	_ = g.Wait()

	var all []motion.RawRecord
	failed := 0
	for i := range langs {
		if errs[i] != nil {
			failed++
			a.logger.Warn("registry language failed",
				zap.String("source", src.ID),
				zap.Error(errs[i]))
			continue
		}
		all = append(all, results[i]...)
	}
	if failed == len(langs) {
		return nil, errors.Join(errs...)
	}

	pref := dedup.Preference{Languages: src.Options.Strings("preference")}
	if len(pref.Languages) == 0 {
		pref.Languages = langs
	}
	return mergeRecords(all, pref), nil
}

// mergeRecords collapses per-language rows into one record per affair.
// Rows without a numeric affair id pass through unchanged.
func mergeRecords(records []motion.RawRecord, pref dedup.Preference) []motion.RawRecord {
	byKey := make(map[string]motion.RawRecord, len(records))
	variants := make([]motion.Variant, 0, len(records))
	for _, r := range records {
		byKey[variantKey(r.SourceID, r.ExternalID, r.Language)] = r
		updated := r.FetchedAt
		if r.PublishedAt != nil {
			updated = *r.PublishedAt
		}
		variants = append(variants, motion.Variant{
			SourceID:   r.SourceID,
			ExternalID: r.ExternalID,
			Language:   r.Language,
			Title:      r.Title,
			Summary:    r.Summary,
			Body:       r.Body,
			URL:        r.SourceURL,
			Confidence: r.Confidence,
			UpdatedAt:  updated,
		})
	}

	affairs, loose := dedup.MergeAffairs(variants, pref)
	out := make([]motion.RawRecord, 0, len(affairs)+len(loose))
	for _, af := range affairs {
		best := byKey[variantKey(af.Best.SourceID, af.Best.ExternalID, af.Best.Language)]
		rec := best
		rec.ExternalID = af.ID
		rec.AffairID = af.ID
		rec.Variants = af.All()
		out = append(out, rec)
	}
	for _, v := range loose {
		out = append(out, byKey[variantKey(v.SourceID, v.ExternalID, v.Language)])
	}
	return out
}

func variantKey(sourceID, externalID, lang string) string {
	return sourceID + "\x00" + externalID + "\x00" + strings.ToLower(lang)
}
