// Package collect runs every enabled source through its adapter with bounded
// concurrency, per-attempt timeouts and retries. A failing source never fails
// the run; it is reported in the result instead.
package collect

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/MotionWatch/internal/adapter"
	"github.com/TobiSchelling/MotionWatch/internal/apperrors"
	"github.com/TobiSchelling/MotionWatch/internal/motion"
	"github.com/TobiSchelling/MotionWatch/internal/retry"
	"github.com/TobiSchelling/MotionWatch/internal/source"
)

// DefaultConcurrency bounds the number of sources in flight.
const DefaultConcurrency = 4

// Options configures a Collector.
type Options struct {
	Concurrency   int
	GlobalTimeout time.Duration
	Defaults      retry.Policy
	KindOverrides map[source.Kind]source.Options
}

// Outcome summarizes one source of a run.
type Outcome struct {
	SourceID string        `json:"sourceId"`
	Kind     source.Kind   `json:"kind"`
	Records  int           `json:"records"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration"`
	Failed   bool          `json:"failed"`
}

// Failure describes a source that produced no records this run.
type Failure struct {
	SourceID  string        `json:"sourceId"`
	Kind      source.Kind   `json:"kind"`
	Class     string        `json:"class"`
	Reason    string        `json:"reason"`
	Attempts  int           `json:"attempts"`
	Duration  time.Duration `json:"duration"`
	Retryable bool          `json:"retryable"`
}

// Result holds the results of a collection run.
type Result struct {
	Records  []motion.RawRecord
	Outcomes []Outcome
	Failures []Failure
}

// Collector orchestrates record collection from all configured sources.
type Collector struct {
	adapters *adapter.Registry
	opts     Options
	logger   *zap.Logger

	// replaceable in tests
	wait func(ctx context.Context, d time.Duration) error
	rand func() float64
}

// NewCollector creates a collector over the given adapter registry.
func NewCollector(adapters *adapter.Registry, opts Options, logger *zap.Logger) *Collector {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Defaults == (retry.Policy{}) {
		opts.Defaults = retry.DefaultPolicy()
	}
	if opts.KindOverrides == nil {
		opts.KindOverrides = DefaultKindOverrides()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{adapters: adapters, opts: opts, logger: logger.Named("collect")}
}

// Collect runs all sources and returns records in source order.
func (c *Collector) Collect(ctx context.Context, sources []source.Source) *Result {
	runCtx := ctx
	if c.opts.GlobalTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.opts.GlobalTimeout)
		defer cancel()
	}

	type sourceResult struct {
		records []motion.RawRecord
		outcome Outcome
		failure *Failure
	}
	results := make([]sourceResult, len(sources))

	var g errgroup.Group
	g.SetLimit(c.opts.Concurrency)
	for i, src := range sources {
		g.Go(func() error {
			recs, out, fail := c.collectOne(runCtx, src)
			results[i] = sourceResult{records: recs, outcome: out, failure: fail}
			return nil
		})
	}
	_ = g.Wait()

	r := &Result{}
	for _, sr := range results {
		r.Records = append(r.Records, sr.records...)
		r.Outcomes = append(r.Outcomes, sr.outcome)
		if sr.failure != nil {
			r.Failures = append(r.Failures, *sr.failure)
		}
	}
	c.logger.Info("collection finished",
		zap.Int("sources", len(sources)),
		zap.Int("records", len(r.Records)),
		zap.Int("failures", len(r.Failures)))
	return r
}

func (c *Collector) collectOne(runCtx context.Context, src source.Source) (records []motion.RawRecord, out Outcome, fail *Failure) {
	start := time.Now()
	out = Outcome{SourceID: src.ID, Kind: src.Kind}
	log := c.logger.With(zap.String("source", src.ID), zap.String("kind", string(src.Kind)))

	finish := func(err error) {
		out.Duration = time.Since(start)
		if err == nil {
			out.Records = len(records)
			log.Info("source collected",
				zap.Int("records", out.Records),
				zap.Int("attempts", out.Attempts),
				zap.Duration("duration", out.Duration))
			return
		}
		records = nil
		out.Failed = true
		fail = &Failure{
			SourceID:  src.ID,
			Kind:      src.Kind,
			Class:     apperrors.Class(err),
			Reason:    err.Error(),
			Attempts:  out.Attempts,
			Duration:  out.Duration,
			Retryable: apperrors.IsRetryable(err),
		}
		log.Warn("source failed",
			zap.String("class", fail.Class),
			zap.Int("attempts", fail.Attempts),
			zap.Duration("duration", fail.Duration),
			zap.Error(err))
	}

	defer func() {
		if p := recover(); p != nil {
			finish(fmt.Errorf("adapter panic: %v", p))
		}
	}()

	a, err := c.adapters.Resolve(src.Kind)
	if err != nil {
		finish(err)
		return
	}

	policy := ResolvePolicy(c.opts.Defaults, c.opts.KindOverrides, src)
	r := retry.New(policy)
	if c.wait != nil {
		r.Wait = c.wait
	}
	if c.rand != nil {
		r.Rand = c.rand
	}
	r.OnRetry = func(attempt int, delay time.Duration, err error) {
		log.Info("retrying source",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))
	}

	records, out.Attempts, err = retry.Do(runCtx, r, func(ctx context.Context, _ int) ([]motion.RawRecord, error) {
		return fetchAttempt(ctx, a, src, policy.Timeout)
	})
	finish(err)
	return
}

// fetchAttempt runs one adapter call under its own timeout. A timeout of the
// attempt itself is reported as a deadline error so it stays retryable.
func fetchAttempt(ctx context.Context, a adapter.Adapter, src source.Source, timeout time.Duration) ([]motion.RawRecord, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	recs, err := a.Fetch(actx, src, adapter.FetchOptions{Timeout: timeout})
	if err != nil {
		if ctx.Err() == nil && actx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: attempt exceeded %s: %v", context.DeadlineExceeded, timeout, err)
		}
		return nil, err
	}
	for i := range recs {
		if recs[i].SourceID == "" {
			recs[i].SourceID = src.ID
		}
	}
	return recs, nil
}
