package collect

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/TobiSchelling/MotionWatch/internal/adapter"
	"github.com/TobiSchelling/MotionWatch/internal/apperrors"
	"github.com/TobiSchelling/MotionWatch/internal/motion"
	"github.com/TobiSchelling/MotionWatch/internal/retry"
	"github.com/TobiSchelling/MotionWatch/internal/source"
)

type fakeAdapter struct {
	kind  source.Kind
	fetch func(ctx context.Context, src source.Source) ([]motion.RawRecord, error)
}

func (f *fakeAdapter) Kind() source.Kind { return f.kind }

func (f *fakeAdapter) Fetch(ctx context.Context, src source.Source, _ adapter.FetchOptions) ([]motion.RawRecord, error) {
	return f.fetch(ctx, src)
}

func newTestCollector(opts Options, fetch func(ctx context.Context, src source.Source) ([]motion.RawRecord, error)) *Collector {
	reg := adapter.NewRegistry()
	reg.Register(&fakeAdapter{kind: source.KindFeed, fetch: fetch})
	if opts.Defaults == (retry.Policy{}) {
		opts.Defaults = retry.Policy{Timeout: time.Second, Retries: 2, Backoff: time.Millisecond, BackoffFactor: 2, BackoffMax: time.Millisecond}
	}
	c := NewCollector(reg, opts, zap.NewNop())
	c.wait = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return c
}

func feedSources(n int) []source.Source {
	out := make([]source.Source, n)
	for i := range out {
		out[i] = source.Source{ID: fmt.Sprintf("s%d", i), Kind: source.KindFeed, URL: "https://example.org", Enabled: true}
	}
	return out
}

func oneRecord(src source.Source) []motion.RawRecord {
	return []motion.RawRecord{{ExternalID: "x", Title: "t"}}
}

func TestCollectBoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	c := newTestCollector(Options{Concurrency: 3}, func(ctx context.Context, src source.Source) ([]motion.RawRecord, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		return oneRecord(src), nil
	})

	res := c.Collect(context.Background(), feedSources(10))
	assert.Len(t, res.Records, 10)
	assert.Empty(t, res.Failures)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.GreaterOrEqual(t, peak.Load(), int32(1))

	for i, r := range res.Records {
		assert.Equal(t, fmt.Sprintf("s%d", i), r.SourceID, "records keep source order and get the source id")
	}
}

func TestCollectIsolatesFailures(t *testing.T) {
	c := newTestCollector(Options{}, func(ctx context.Context, src source.Source) ([]motion.RawRecord, error) {
		switch src.ID {
		case "s1":
			return nil, apperrors.Parse("feed", errors.New("bad xml"))
		case "s2":
			panic("boom")
		}
		return oneRecord(src), nil
	})

	res := c.Collect(context.Background(), feedSources(4))
	assert.Len(t, res.Records, 2)
	require.Len(t, res.Failures, 2)
	require.Len(t, res.Outcomes, 4)

	parse := res.Failures[0]
	assert.Equal(t, "s1", parse.SourceID)
	assert.Equal(t, "parse", parse.Class)
	assert.Equal(t, 1, parse.Attempts, "parse errors are not retried")
	assert.False(t, parse.Retryable)

	assert.Equal(t, "s2", res.Failures[1].SourceID)
	assert.Contains(t, res.Failures[1].Reason, "panic")

	assert.True(t, res.Outcomes[1].Failed)
	assert.False(t, res.Outcomes[0].Failed)
	assert.Equal(t, 1, res.Outcomes[0].Records)
}

func TestCollectRetriesTransientErrors(t *testing.T) {
	var mu sync.Mutex
	calls := map[string]int{}
	c := newTestCollector(Options{}, func(ctx context.Context, src source.Source) ([]motion.RawRecord, error) {
		mu.Lock()
		calls[src.ID]++
		n := calls[src.ID]
		mu.Unlock()
		switch src.ID {
		case "s0":
			return nil, &apperrors.HTTPStatusError{URL: "u", StatusCode: http.StatusServiceUnavailable}
		case "s1":
			if n < 3 {
				return nil, &apperrors.HTTPStatusError{URL: "u", StatusCode: http.StatusTooManyRequests}
			}
		case "s2":
			return nil, &apperrors.HTTPStatusError{URL: "u", StatusCode: http.StatusNotFound}
		}
		return oneRecord(src), nil
	})

	res := c.Collect(context.Background(), feedSources(3))
	require.Len(t, res.Failures, 2)

	assert.Equal(t, "s0", res.Failures[0].SourceID)
	assert.Equal(t, 3, res.Failures[0].Attempts, "retries+1 attempts")
	assert.True(t, res.Failures[0].Retryable)
	assert.Equal(t, "transient", res.Failures[0].Class)

	assert.Equal(t, 3, res.Outcomes[1].Attempts)
	assert.False(t, res.Outcomes[1].Failed)

	assert.Equal(t, "s2", res.Failures[1].SourceID)
	assert.Equal(t, 1, res.Failures[1].Attempts)
	assert.Equal(t, "permanent", res.Failures[1].Class)
}

func TestCollectAttemptTimeoutIsRetried(t *testing.T) {
	c := newTestCollector(Options{}, func(ctx context.Context, src source.Source) ([]motion.RawRecord, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	src := feedSources(1)
	src[0].Options = source.Options{"timeout_ms": 20, "retries": 1}

	start := time.Now()
	res := c.Collect(context.Background(), src)
	require.Len(t, res.Failures, 1)
	f := res.Failures[0]
	assert.Equal(t, 2, f.Attempts)
	assert.True(t, f.Retryable)
	assert.Contains(t, f.Reason, "attempt exceeded 20ms")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCollectParentCancelStopsAttempts(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	c := newTestCollector(Options{}, func(ctx context.Context, src source.Source) ([]motion.RawRecord, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return nil, ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	res := c.Collect(ctx, feedSources(1))
	require.Len(t, res.Failures, 1)
	assert.Equal(t, 1, res.Failures[0].Attempts)
	assert.Equal(t, "canceled", res.Failures[0].Class)
	assert.False(t, res.Failures[0].Retryable)
}

func TestCollectGlobalTimeout(t *testing.T) {
	c := newTestCollector(Options{GlobalTimeout: 30 * time.Millisecond, Concurrency: 1}, func(ctx context.Context, src source.Source) ([]motion.RawRecord, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	start := time.Now()
	res := c.Collect(context.Background(), feedSources(3))
	assert.Len(t, res.Failures, 3)
	assert.Less(t, time.Since(start), 2*time.Second)
	for _, f := range res.Failures[1:] {
		assert.LessOrEqual(t, f.Attempts, 1, "queued sources give up once the run deadline passed")
	}
}

func TestCollectUnknownKind(t *testing.T) {
	c := newTestCollector(Options{}, func(ctx context.Context, src source.Source) ([]motion.RawRecord, error) {
		return oneRecord(src), nil
	})
	res := c.Collect(context.Background(), []source.Source{{ID: "p", Kind: source.KindPortal}})
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "no_adapter", res.Failures[0].Class)
	assert.Equal(t, 0, res.Failures[0].Attempts)
}

func TestResolvePolicyPrecedence(t *testing.T) {
	defaults := retry.DefaultPolicy()
	kinds := DefaultKindOverrides()

	feed := ResolvePolicy(defaults, kinds, source.Source{ID: "f", Kind: source.KindFeed})
	assert.Equal(t, defaults, feed)

	portal := ResolvePolicy(defaults, kinds, source.Source{ID: "p", Kind: source.KindPortal})
	assert.Equal(t, 45*time.Second, portal.Timeout)
	assert.Equal(t, 3, portal.Retries)
	assert.Equal(t, defaults.Backoff, portal.Backoff)

	custom := ResolvePolicy(defaults, kinds, source.Source{ID: "p", Kind: source.KindPortal, Options: source.Options{
		"timeout":        "5s",
		"backoff_ms":     500,
		"backoff_factor": 3.0,
		"backoff_max":    "4s",
		"retries":        0,
	}})
	assert.Equal(t, 5*time.Second, custom.Timeout)
	assert.Equal(t, 0, custom.Retries)
	assert.Equal(t, 500*time.Millisecond, custom.Backoff)
	assert.Equal(t, 3.0, custom.BackoffFactor)
	assert.Equal(t, 4*time.Second, custom.BackoffMax)

	ignored := ResolvePolicy(defaults, nil, source.Source{Options: source.Options{"retries": -1, "backoff_factor": 0.5}})
	assert.Equal(t, defaults.Retries, ignored.Retries)
	assert.Equal(t, defaults.BackoffFactor, ignored.BackoffFactor)
}
