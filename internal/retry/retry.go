package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/TobiSchelling/MotionWatch/internal/apperrors"
)

const (
	// MinDelay is the floor applied to every backoff delay.
	MinDelay = 250 * time.Millisecond
	// DefaultJitter is the multiplicative jitter band (±15%).
	DefaultJitter = 0.15
)

// Policy is the per-source execution policy. Attempts = Retries + 1.
type Policy struct {
	Timeout       time.Duration
	Retries       int
	Backoff       time.Duration
	BackoffFactor float64
	BackoffMax    time.Duration
	Jitter        float64
}

// DefaultPolicy returns the global defaults used before kind and source overrides.
func DefaultPolicy() Policy {
	return Policy{
		Timeout:       20 * time.Second,
		Retries:       2,
		Backoff:       time.Second,
		BackoffFactor: 2.0,
		BackoffMax:    15 * time.Second,
		Jitter:        DefaultJitter,
	}
}

// Delay returns the jittered delay before retry number attempt. r must return
// values in [0, 1). The result is capped at BackoffMax and floored at MinDelay.
func (p Policy) Delay(attempt int, r func() float64) time.Duration {
	d := float64(p.Backoff) * math.Pow(math.Max(p.BackoffFactor, 1), float64(attempt))
	if p.Jitter > 0 && r != nil {
		d *= 1 + p.Jitter*(r()*2-1)
	}
	if p.BackoffMax > 0 && d > float64(p.BackoffMax) {
		d = float64(p.BackoffMax)
	}
	if d < float64(MinDelay) {
		d = float64(MinDelay)
	}
	return time.Duration(d)
}

// MaxTotalDelay bounds the sum of all backoff delays for the policy, including
// the upper jitter band.
func (p Policy) MaxTotalDelay() time.Duration {
	var total time.Duration
	for i := 0; i < p.Retries; i++ {
		total += p.Delay(i, func() float64 { return math.Nextafter(1, 0) })
	}
	return total
}

// Retrier runs functions under a Policy. Rand and Wait are replaceable for tests.
type Retrier struct {
	Policy    Policy
	Rand      func() float64
	Wait      func(ctx context.Context, d time.Duration) error
	Retryable func(error) bool
	OnRetry   func(attempt int, delay time.Duration, err error)
}

// New creates a Retrier with the default classification and a cancellable sleep.
func New(p Policy) *Retrier {
	return &Retrier{
		Policy:    p,
		Rand:      rand.Float64,
		Wait:      Sleep,
		Retryable: apperrors.IsRetryable,
	}
}

// Do runs fn until it succeeds, returns a non-retryable error, exhausts the
// retry budget or ctx is done. fn receives the 0-based attempt number.
func Do[T any](ctx context.Context, r *Retrier, fn func(ctx context.Context, attempt int) (T, error)) (T, int, error) {
	var zero T
	retryable := r.Retryable
	if retryable == nil {
		retryable = apperrors.IsRetryable
	}
	wait := r.Wait
	if wait == nil {
		wait = Sleep
	}

	var lastErr error
	for attempt := 0; attempt <= r.Policy.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, attempt, lastErr
			}
			return zero, attempt, err
		}

		result, err := fn(ctx, attempt)
		if err == nil {
			return result, attempt + 1, nil
		}
		lastErr = err

		// A deadline on the parent context is not the attempt's fault.
		if ctx.Err() != nil || !retryable(err) || attempt == r.Policy.Retries {
			return zero, attempt + 1, err
		}

		delay := r.Policy.Delay(attempt, r.Rand)
		if r.OnRetry != nil {
			r.OnRetry(attempt+1, delay, err)
		}
		if werr := wait(ctx, delay); werr != nil {
			return zero, attempt + 1, lastErr
		}
	}
	return zero, r.Policy.Retries + 1, lastErr
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
