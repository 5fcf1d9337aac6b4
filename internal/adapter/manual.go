package adapter

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/MotionWatch/internal/motion"
	"github.com/TobiSchelling/MotionWatch/internal/source"
)

// SubmissionReader lists manual submissions that have not been imported yet.
type SubmissionReader interface {
	PendingSubmissions(ctx context.Context) ([]motion.Submission, error)
}

// Manual turns manual submissions and statically configured entries into
// records. Static entries may replay an earlier decision through status and
// decided_at.
//
// Options: entries [{id, affair, title, summary, url, language, status, decided_at}].
type Manual struct {
	subs   SubmissionReader
	logger *zap.Logger
	now    func() time.Time
}

// NewManual creates the manual adapter. deps.Submissions may be nil.
func NewManual(deps Deps) *Manual {
	deps = deps.withDefaults()
	return &Manual{subs: deps.Submissions, logger: deps.Logger.Named("manual"), now: deps.Now}
}

func (m *Manual) Kind() source.Kind { return source.KindManual }

func (m *Manual) Fetch(ctx context.Context, src source.Source, _ FetchOptions) ([]motion.RawRecord, error) {
	now := m.now()
	var records []motion.RawRecord

	if m.subs != nil {
		subs, err := m.subs.PendingSubmissions(ctx)
		if err != nil {
			return nil, err
		}
		for _, s := range subs {
			title := strings.TrimSpace(s.Title)
			if title == "" {
				continue
			}
			created := s.CreatedAt.UTC()
			records = append(records, motion.RawRecord{
				SourceID:     src.ID,
				ExternalID:   "submission-" + strconv.FormatInt(s.ID, 10),
				Title:        title,
				Summary:      strings.TrimSpace(s.Summary),
				SourceURL:    strings.TrimSpace(s.URL),
				PublishedAt:  &created,
				FetchedAt:    now,
				Language:     strings.ToLower(s.Language),
				Confidence:   1,
				SubmissionID: s.ID,
			})
		}
	}

	for _, e := range src.Options.Maps("entries") {
		rec, ok := m.entryRecord(src.ID, e, now)
		if ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

func (m *Manual) entryRecord(sourceID string, e source.Options, now time.Time) (motion.RawRecord, bool) {
	id := strings.TrimSpace(e.String("id", ""))
	title := strings.TrimSpace(e.String("title", ""))
	if id == "" || title == "" {
		m.logger.Warn("skipping manual entry without id or title", zap.String("source", sourceID))
		return motion.RawRecord{}, false
	}
	rec := motion.RawRecord{
		SourceID:   sourceID,
		ExternalID: id,
		AffairID:   strings.TrimSpace(e.String("affair", "")),
		Title:      title,
		Summary:    strings.TrimSpace(e.String("summary", "")),
		SourceURL:  strings.TrimSpace(e.String("url", "")),
		FetchedAt:  now,
		Language:   strings.ToLower(e.String("language", "")),
		Confidence: 1,
	}
	if raw := e.String("status", ""); raw != "" {
		st, err := motion.ParseStatus(raw)
		if err != nil {
			m.logger.Warn("skipping manual entry", zap.String("id", id), zap.Error(err))
			return motion.RawRecord{}, false
		}
		rec.Status = st
		decided := now
		if t, ok := ParseODataDate(e.String("decided_at", "")); ok {
			decided = t
		}
		rec.DecidedAt = &decided
	}
	return rec, true
}
