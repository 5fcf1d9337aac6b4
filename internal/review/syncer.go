package review

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/MotionWatch/internal/apperrors"
	"github.com/TobiSchelling/MotionWatch/internal/retry"
)

// DefaultMaxSyncAttempts is used when no limit is configured.
const DefaultMaxSyncAttempts = 5

// DefaultSyncInterval is used by Run when no interval is given.
const DefaultSyncInterval = 30 * time.Second

// DecisionWriter delivers a decision to the server of record.
type DecisionWriter interface {
	PostDecision(ctx context.Context, d LocalDecision) error
}

// SyncResult summarizes one pass over the pending decisions.
type SyncResult struct {
	Synced    int
	LocalOnly int
	Pending   int
}

// Syncer pushes pending local decisions to the server in the background.
type Syncer struct {
	cache       *Cache
	writer      DecisionWriter
	retrier     *retry.Retrier
	maxAttempts int
	logger      *zap.Logger
}

// NewSyncer creates a syncer. Each pass retries a decision under policy;
// after maxAttempts failed deliveries the decision is marked local-only.
func NewSyncer(cache *Cache, writer DecisionWriter, policy retry.Policy, maxAttempts int, logger *zap.Logger) *Syncer {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxSyncAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{
		cache:       cache,
		writer:      writer,
		retrier:     retry.New(policy),
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// SyncOnce delivers every pending decision once.
func (s *Syncer) SyncOnce(ctx context.Context) (*SyncResult, error) {
	res := &SyncResult{}
	for _, d := range s.cache.Pending() {
		if err := ctx.Err(); err != nil {
			res.Pending += len(s.cache.Pending())
			return res, err
		}

		_, attempts, err := retry.Do(ctx, s.retrier, func(ctx context.Context, _ int) (struct{}, error) {
			return struct{}{}, s.writer.PostDecision(ctx, d)
		})
		d.Attempts += attempts

		switch {
		case err == nil:
			d.Sync, d.LastError = SyncServer, ""
			res.Synced++
			s.logger.Info("decision synced", zap.String("id", d.ID), zap.String("status", string(d.Status)))
		case ctx.Err() != nil:
			d.LastError = err.Error()
			res.Pending++
			if perr := s.cache.Put(d); perr != nil {
				return res, perr
			}
			return res, ctx.Err()
		case rejected(err) || d.Attempts >= s.maxAttempts:
			d.Sync, d.LastError = SyncLocalOnly, err.Error()
			res.LocalOnly++
			s.logger.Warn("decision kept local only",
				zap.String("id", d.ID), zap.Int("attempts", d.Attempts), zap.Error(err))
		default:
			d.LastError = err.Error()
			res.Pending++
			s.logger.Debug("decision sync deferred", zap.String("id", d.ID), zap.Error(err))
		}
		if err := s.cache.Put(d); err != nil {
			return res, err
		}
	}
	return res, nil
}

// rejected reports whether the server refused the decision outright.
func rejected(err error) bool {
	var statusErr *apperrors.HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= http.StatusBadRequest && statusErr.StatusCode < http.StatusInternalServerError && !statusErr.Retryable()
	}
	return apperrors.IsPermanent(err)
}

// Run syncs immediately and then every interval until ctx is done.
func (s *Syncer) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.SyncOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("decision sync failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// ItemFetcher reads the server's review items.
type ItemFetcher interface {
	FetchReviewItems(ctx context.Context, includeDecided bool, limit int) ([]Item, error)
}

// QueueView is the queue shown to a reviewer.
type QueueView struct {
	Items     []Item
	Stale     bool
	FetchedAt time.Time
	// FetchErr is the server error behind a stale view.
	FetchErr error
}

// LoadQueue fetches the server's items, merges local decisions and builds
// the queue. When the server is unreachable the last cached queue is used;
// an error is returned only when there is none.
func LoadQueue(ctx context.Context, fetcher ItemFetcher, cache *Cache, opts QueueOptions, now time.Time) (*QueueView, error) {
	view := &QueueView{FetchedAt: now}
	items, err := fetcher.FetchReviewItems(ctx, true, 0)
	if err != nil {
		snap, ok := cache.Queue()
		if !ok {
			return nil, err
		}
		items = snap.Items
		view.Stale, view.FetchedAt, view.FetchErr = true, snap.FetchedAt, err
	} else if err := cache.SetQueue(items, now); err != nil {
		return nil, err
	}

	rec := Reconcile(items, cache.Decisions())
	if rec.Confirmed > 0 {
		if err := cache.Put(rec.Decisions...); err != nil {
			return nil, err
		}
	}
	view.Items = BuildQueue(rec.Items, opts)
	return view, nil
}
