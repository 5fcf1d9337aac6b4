// Package scheduler triggers batch passes on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is one scheduled pass. ctx is cancelled when the scheduler stops.
type Job func(ctx context.Context)

// Scheduler runs a job on a cron spec. A run that is still going when the
// next one is due makes the scheduler skip that tick.
type Scheduler struct {
	cron     *cron.Cron
	entry    cron.EntryID
	location *time.Location
	logger   *zap.Logger

	mu  sync.Mutex
	ctx context.Context
	job Job
}

// New creates a scheduler. spec is a five-field cron expression or a
// descriptor such as "@every 6h" or "@daily"; timezone defaults to UTC.
func New(spec, timezone string, job Job, logger *zap.Logger) (*Scheduler, error) {
	if job == nil {
		return nil, errors.New("job must not be nil")
	}
	if strings.TrimSpace(spec) == "" {
		return nil, errors.New("empty schedule")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	cl := cronLogger{logger.Sugar()}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		location: loc,
		logger:   logger,
		ctx:      context.Background(),
		job:      job,
	}
	s.entry, err = s.cron.AddFunc(spec, s.fire)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	s.logger.Info("scheduled run starting")
	s.job(ctx)
	s.logger.Info("scheduled run finished", zap.Duration("duration", time.Since(start)), zap.Time("next", s.Next()))
}

// Run starts the schedule and blocks until ctx is done. It waits for a
// running job to return before it returns.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", zap.Time("next", s.Next()))
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}

// Next returns the next activation time, or the zero time before Run.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// Location returns the scheduler location.
func (s *Scheduler) Location() *time.Location {
	return s.location
}

// Validate reports whether spec parses as a schedule.
func Validate(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// cronLogger adapts zap to the cron logger interface.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
