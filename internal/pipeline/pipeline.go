// Package pipeline runs one batch pass: collect every enabled source, enrich
// link-only records, score them, store them and record the run.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/MotionWatch/internal/adapter"
	"github.com/TobiSchelling/MotionWatch/internal/collect"
	"github.com/TobiSchelling/MotionWatch/internal/database"
	"github.com/TobiSchelling/MotionWatch/internal/fetch"
	"github.com/TobiSchelling/MotionWatch/internal/motion"
	"github.com/TobiSchelling/MotionWatch/internal/relevance"
	"github.com/TobiSchelling/MotionWatch/internal/source"
)

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// StoreSummary counts what the store step did.
type StoreSummary struct {
	Created     int `json:"created"`
	NewVersions int `json:"newVersions"`
	Queued      int `json:"queued"`
	Rejected    int `json:"rejected"`
	Kept        int `json:"kept"`
	Unchanged   int `json:"unchanged"`
	Errors      int `json:"errors"`
}

// ItemError is a single record the store step could not persist.
type ItemError struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// Result holds the results of a full pipeline run.
type Result struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Steps      []StepResult
	Collect    *collect.Result
	Enrich     *fetch.Result
	Store      StoreSummary
	ItemErrors []ItemError
	Queued     []QueuedMotion
	Report     string
}

// QueuedMotion is a record that entered the review queue this run.
type QueuedMotion struct {
	ID      string
	Title   string
	URL     string
	Score   float64
	Matched []string
}

// Options configures a Pipeline.
type Options struct {
	Sources   *source.Registry
	Keywords  []string
	Threshold float64
	Collect   collect.Options
	Enrich    fetch.Options
}

// Pipeline orchestrates the batch pass.
type Pipeline struct {
	db        *database.DB
	collector *collect.Collector
	fetcher   *fetch.ContentFetcher
	lexicon   *relevance.Lexicon
	opts      Options
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a new pipeline over the adapter registry.
func New(db *database.DB, adapters *adapter.Registry, opts Options, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Threshold <= 0 {
		opts.Threshold = relevance.DefaultThreshold
	}
	if opts.Sources == nil {
		opts.Sources, _ = source.NewRegistry(nil)
	}
	return &Pipeline{
		db:        db,
		collector: collect.NewCollector(adapters, opts.Collect, logger.Named("collect")),
		fetcher:   fetch.NewContentFetcher(opts.Enrich, logger.Named("fetch")),
		lexicon:   relevance.NewLexicon(opts.Keywords),
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// Run executes one pass. Source and item failures are reported in the result;
// only store-level failures (registry sync, run bookkeeping) return an error.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	r := &Result{StartedAt: p.now().UTC()}

	p.logger.Info("Step 1/5: Syncing source registry...")
	all := p.opts.Sources.All()
	if err := p.db.SyncSources(ctx, all); err != nil {
		return nil, fmt.Errorf("syncing sources: %w", err)
	}
	enabled := p.opts.Sources.Enabled()
	r.Steps = append(r.Steps, StepResult{
		Name:    "Sources",
		Summary: fmt.Sprintf("%d enabled of %d configured", len(enabled), len(all)),
	})

	p.logger.Info("Step 2/5: Collecting records...", zap.Int("sources", len(enabled)))
	r.Collect = p.collector.Collect(ctx, enabled)
	r.Steps = append(r.Steps, StepResult{
		Name: "Collect",
		Summary: fmt.Sprintf("%d records from %d sources, %d failed",
			len(r.Collect.Records), len(r.Collect.Outcomes)-len(r.Collect.Failures), len(r.Collect.Failures)),
	})

	p.logger.Info("Step 3/5: Fetching record bodies...")
	r.Enrich = p.fetcher.Enrich(ctx, r.Collect.Records)
	r.Steps = append(r.Steps, StepResult{
		Name:    "Enrich",
		Summary: fmt.Sprintf("Fetched %d bodies, %d failed, %d skipped", r.Enrich.Fetched, r.Enrich.Failed, r.Enrich.Skipped),
	})

	p.logger.Info("Step 4/5: Scoring and storing...")
	p.store(ctx, r)
	r.Steps = append(r.Steps, StepResult{
		Name: "Store",
		Summary: fmt.Sprintf("%d new, %d new versions, %d queued, %d rejected, %d errors",
			r.Store.Created, r.Store.NewVersions, r.Store.Queued, r.Store.Rejected, r.Store.Errors),
	})

	p.logger.Info("Step 5/5: Writing run report...")
	r.FinishedAt = p.now().UTC()
	r.Report = BuildReport(r)
	manifest, err := json.Marshal(manifestOf(r))
	if err != nil {
		return nil, fmt.Errorf("encoding run manifest: %w", err)
	}
	run := &database.Run{
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
		Sources:     len(enabled),
		Failures:    len(r.Collect.Failures),
		Records:     len(r.Collect.Records),
		Created:     r.Store.Created,
		NewVersions: r.Store.NewVersions,
		Queued:      r.Store.Queued,
		Rejected:    r.Store.Rejected,
		Report:      r.Report,
		Manifest:    string(manifest),
	}
	// The run is recorded even when ctx was cancelled mid-pass.
	if err := p.db.InsertRun(context.WithoutCancel(ctx), run); err != nil {
		return nil, fmt.Errorf("recording run: %w", err)
	}
	r.RunID = run.ID
	r.Steps = append(r.Steps, StepResult{Name: "Report", Summary: "Run " + run.ID})

	p.logger.Info("run complete",
		zap.String("run_id", run.ID),
		zap.Int("records", run.Records),
		zap.Int("failures", run.Failures),
		zap.Int("queued", run.Queued))
	return r, nil
}

func (p *Pipeline) store(ctx context.Context, r *Result) {
	for _, rec := range r.Collect.Records {
		if ctx.Err() != nil {
			break
		}
		id := rec.ID()
		existing, err := p.db.StatusOf(ctx, id)
		if err != nil {
			p.itemError(r, id, err)
			continue
		}
		if rec.Enriched == "" {
			// Score against the last fetched article when this run's fetch failed.
			if rec.Enriched, err = p.db.EnrichedBodyOf(ctx, id); err != nil {
				p.itemError(r, id, err)
				continue
			}
		}
		score := p.lexicon.Score(rec.Text())
		decision := relevance.Assign(existing, score, p.opts.Threshold)

		res, err := p.db.UpsertMotion(ctx, database.ScoredRecord{
			Record:  rec,
			Score:   score.Score,
			Matched: score.Matched,
			Status:  decision.Status,
			Reason:  decision.Reason,
		})
		if err != nil {
			p.itemError(r, id, err)
			continue
		}

		switch {
		case res.Created:
			r.Store.Created++
		case !res.NewVersion && !res.StatusChanged:
			r.Store.Unchanged++
		}
		if res.NewVersion && !res.Created {
			r.Store.NewVersions++
		}
		if res.Kept {
			r.Store.Kept++
		}
		if res.StatusChanged {
			switch res.Status {
			case motion.StatusQueued:
				r.Store.Queued++
				r.Queued = append(r.Queued, QueuedMotion{
					ID: id, Title: rec.Title, URL: rec.SourceURL, Score: score.Score, Matched: score.Matched,
				})
			case motion.StatusRejected:
				r.Store.Rejected++
			}
		}

		if rec.SubmissionID != 0 {
			if err := p.db.MarkSubmissionImported(ctx, rec.SubmissionID); err != nil {
				p.logger.Warn("marking submission imported", zap.Int64("submission", rec.SubmissionID), zap.Error(err))
			}
		}
	}
}

func (p *Pipeline) itemError(r *Result, id string, err error) {
	r.Store.Errors++
	r.ItemErrors = append(r.ItemErrors, ItemError{ID: id, Reason: err.Error()})
	p.logger.Warn("record skipped", zap.String("id", id), zap.Error(err))
}

type manifest struct {
	Outcomes   []collect.Outcome `json:"outcomes"`
	Failures   []collect.Failure `json:"failures"`
	ItemErrors []ItemError       `json:"itemErrors"`
	Store      StoreSummary      `json:"store"`
}

func manifestOf(r *Result) manifest {
	m := manifest{
		Outcomes:   r.Collect.Outcomes,
		Failures:   r.Collect.Failures,
		ItemErrors: r.ItemErrors,
		Store:      r.Store,
	}
	if m.Outcomes == nil {
		m.Outcomes = []collect.Outcome{}
	}
	if m.Failures == nil {
		m.Failures = []collect.Failure{}
	}
	if m.ItemErrors == nil {
		m.ItemErrors = []ItemError{}
	}
	return m
}
