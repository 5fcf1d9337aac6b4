package review

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/MotionWatch/internal/apperrors"
	"github.com/TobiSchelling/MotionWatch/internal/motion"
	"github.com/TobiSchelling/MotionWatch/internal/retry"
)

type fakeWriter struct {
	mu    sync.Mutex
	calls map[string]int
	errs  map[string]error
}

func (w *fakeWriter) PostDecision(_ context.Context, d LocalDecision) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.calls == nil {
		w.calls = make(map[string]int)
	}
	w.calls[d.ID]++
	return w.errs[d.ID]
}

func newTestSyncer(t *testing.T, w DecisionWriter, retries, maxAttempts int) (*Syncer, *Cache) {
	t.Helper()
	c, err := LoadCache(filepath.Join(t.TempDir(), "cache.json"), nil)
	require.NoError(t, err)
	p := retry.DefaultPolicy()
	p.Retries = retries
	s := NewSyncer(c, w, p, maxAttempts, nil)
	s.retrier.Wait = func(context.Context, time.Duration) error { return nil }
	return s, c
}

func TestSyncerClassifiesOutcomes(t *testing.T) {
	w := &fakeWriter{errs: map[string]error{
		"s:bad":   &apperrors.HTTPStatusError{URL: "x", StatusCode: http.StatusBadRequest},
		"s:flaky": &apperrors.HTTPStatusError{URL: "x", StatusCode: http.StatusServiceUnavailable},
	}}
	s, c := newTestSyncer(t, w, 1, 3)
	for _, id := range []string{"s:ok", "s:bad", "s:flaky"} {
		_, err := c.Record(LocalDecision{ID: id, Status: motion.StatusApproved, DecidedAt: t0})
		require.NoError(t, err)
	}

	res, err := s.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &SyncResult{Synced: 1, LocalOnly: 1, Pending: 1}, res)

	ok, _ := c.Get("s:ok")
	assert.Equal(t, SyncServer, ok.Sync)
	bad, _ := c.Get("s:bad")
	assert.Equal(t, SyncLocalOnly, bad.Sync)
	assert.Equal(t, 1, w.calls["s:bad"], "4xx is not retried")
	flaky, _ := c.Get("s:flaky")
	assert.Equal(t, SyncPending, flaky.Sync)
	assert.Equal(t, 2, flaky.Attempts)
	assert.NotEmpty(t, flaky.LastError)

	res, err = s.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.LocalOnly, "attempt budget exhausted on the second pass")
	flaky, _ = c.Get("s:flaky")
	assert.Equal(t, SyncLocalOnly, flaky.Sync)
	assert.Equal(t, 4, flaky.Attempts)
}

func TestSyncerStopsOnCancel(t *testing.T) {
	w := &fakeWriter{}
	s, c := newTestSyncer(t, w, 0, 3)
	_, err := c.Record(LocalDecision{ID: "s:1", Status: motion.StatusApproved, DecidedAt: t0})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := s.SyncOnce(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.Pending)
	assert.Empty(t, w.calls)
}

func TestSyncerRunReturnsOnCancel(t *testing.T) {
	s, _ := newTestSyncer(t, &fakeWriter{}, 0, 3)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, s.Run(ctx, 10*time.Millisecond))
}

type fakeFetcher struct {
	items []Item
	err   error
}

func (f *fakeFetcher) FetchReviewItems(context.Context, bool, int) ([]Item, error) {
	return f.items, f.err
}

func TestLoadQueuePrefersStaleOverError(t *testing.T) {
	c, err := LoadCache(filepath.Join(t.TempDir(), "cache.json"), nil)
	require.NoError(t, err)

	down := &fakeFetcher{err: errors.New("connection refused")}
	_, err = LoadQueue(context.Background(), down, c, QueueOptions{}, t0)
	require.Error(t, err, "no cached queue yet")

	up := &fakeFetcher{items: []Item{{ID: "s:1", Title: "Motion", Status: motion.StatusQueued}}}
	view, err := LoadQueue(context.Background(), up, c, QueueOptions{}, t0)
	require.NoError(t, err)
	assert.False(t, view.Stale)
	assert.Len(t, view.Items, 1)

	_, err = c.Record(LocalDecision{ID: "s:1", Status: motion.StatusRejected, DecidedAt: t0.Add(time.Minute)})
	require.NoError(t, err)

	view, err = LoadQueue(context.Background(), down, c, QueueOptions{}, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, view.Stale)
	assert.True(t, view.FetchedAt.Equal(t0))
	assert.Empty(t, view.Items, "local rejection hides the item")

	view, err = LoadQueue(context.Background(), down, c, QueueOptions{IncludeDecided: true}, t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.Equal(t, SyncPending, view.Items[0].Sync)
}
