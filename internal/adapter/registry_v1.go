package adapter

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/MotionWatch/internal/apperrors"
	"github.com/TobiSchelling/MotionWatch/internal/motion"
	"github.com/TobiSchelling/MotionWatch/internal/source"
)

const (
	defaultRegistryDaysBack = 30
	defaultRegistryTop      = 200
)

// registryFields names the columns of a tabular registry. Every field can be
// overridden through "<name>_field" options.
type registryFields struct {
	ID, Title, Description, Text, Date, Language string
}

func fieldsFor(src source.Source) registryFields {
	o := src.Options
	return registryFields{
		ID:          o.String("id_field", "ID"),
		Title:       o.String("title_field", "Title"),
		Description: o.String("description_field", "Description"),
		Text:        o.String("text_field", "Text"),
		Date:        o.String("date_field", "SubmissionDate"),
		Language:    o.String("language_field", "Language"),
	}
}

// RegistryV1 reads an OData registry for a single language.
//
// Options: language, days_back, top, detail_url ({id}, {lang}), filter and
// the *_field column names.
type RegistryV1 struct {
	client *http.Client
	logger *zap.Logger
	now    func() time.Time
}

// NewRegistryV1 creates the single-language registry adapter.
func NewRegistryV1(deps Deps) *RegistryV1 {
	deps = deps.withDefaults()
	return &RegistryV1{client: deps.Client, logger: deps.Logger.Named("registry_v1"), now: deps.Now}
}

func (a *RegistryV1) Kind() source.Kind { return source.KindRegistryV1 }

func (a *RegistryV1) Fetch(ctx context.Context, src source.Source, opts FetchOptions) ([]motion.RawRecord, error) {
	ctx, cancel := withBudget(ctx, opts)
	defer cancel()
	return a.fetchLanguage(ctx, src, src.Options.String("language", "de"))
}

func (a *RegistryV1) fetchLanguage(ctx context.Context, src source.Source, lang string) ([]motion.RawRecord, error) {
	lang = strings.ToLower(strings.TrimSpace(lang))
	fields := fieldsFor(src)
	now := a.now()
	since := now.AddDate(0, 0, -src.Options.Int("days_back", defaultRegistryDaysBack))

	target, err := queryURL(src, fields, lang, since)
	if err != nil {
		return nil, err
	}
	body, err := fetchBody(ctx, a.client, target, "application/json")
	if err != nil {
		return nil, err
	}
	rows, err := decodeRows(body)
	if err != nil {
		return nil, fmt.Errorf("source %s (%s): %w", src.ID, lang, err)
	}

	detail := src.Options.String("detail_url", "")
	records := make([]motion.RawRecord, 0, len(rows))
	for _, r := range rows {
		id := r.str(fields.ID)
		title := StripMarkup(r.str(fields.Title))
		if id == "" || title == "" {
			a.logger.Debug("skipping registry row without id or title",
				zap.String("source", src.ID), zap.String("language", lang))
			continue
		}
		rowLang := strings.ToLower(r.str(fields.Language))
		if rowLang == "" {
			rowLang = lang
		}
		externalID := id + "-" + rowLang

		var published *time.Time
		if t, ok := ParseODataDate(r.str(fields.Date)); ok {
			published = &t
		}

		records = append(records, motion.RawRecord{
			SourceID:    src.ID,
			ExternalID:  externalID,
			AffairID:    motion.AffairID(externalID),
			Title:       title,
			Summary:     StripMarkup(r.str(fields.Description)),
			Body:        StripMarkup(r.str(fields.Text)),
			SourceURL:   expandDetailURL(detail, id, rowLang),
			PublishedAt: published,
			FetchedAt:   now,
			Language:    rowLang,
			Confidence:  1,
		})
	}
	return records, nil
}

func queryURL(src source.Source, fields registryFields, lang string, since time.Time) (string, error) {
	u, err := url.Parse(src.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", apperrors.Validation("source %s: invalid url %q", src.ID, src.URL)
	}

	filters := []string{
		fmt.Sprintf("%s eq '%s'", fields.Language, strings.ToUpper(lang)),
		fmt.Sprintf("%s ge datetime'%s'", fields.Date, since.UTC().Format("2006-01-02T15:04:05")),
	}
	if extra := src.Options.String("filter", ""); extra != "" {
		filters = append(filters, "("+extra+")")
	}

	q := u.Query()
	q.Set("$filter", strings.Join(filters, " and "))
	q.Set("$top", strconv.Itoa(src.Options.Int("top", defaultRegistryTop)))
	q.Set("$orderby", fields.Date+" desc")
	q.Set("$format", "json")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func expandDetailURL(template, id, lang string) string {
	if template == "" {
		return ""
	}
	return strings.NewReplacer("{id}", url.PathEscape(id), "{lang}", lang).Replace(template)
}
