// Package adapter turns one configured source into raw motion records.
// Adapters never retry; the collection orchestrator owns timeouts and retries.
package adapter

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/MotionWatch/internal/apperrors"
	"github.com/TobiSchelling/MotionWatch/internal/motion"
	"github.com/TobiSchelling/MotionWatch/internal/source"
)

// FetchOptions carries the per-attempt budget.
type FetchOptions struct {
	Timeout time.Duration
}

// Adapter is a single source strategy.
type Adapter interface {
	Kind() source.Kind
	Fetch(ctx context.Context, src source.Source, opts FetchOptions) ([]motion.RawRecord, error)
}

// Registry maps source kinds to adapters.
type Registry struct {
	adapters map[source.Kind]Adapter
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: map[source.Kind]Adapter{}}
}

// Register adds or replaces the adapter for its kind.
func (r *Registry) Register(a Adapter) {
	if r.adapters == nil {
		r.adapters = map[source.Kind]Adapter{}
	}
	r.adapters[a.Kind()] = a
}

// Resolve returns the adapter for kind or ErrNoAdapter.
func (r *Registry) Resolve(kind source.Kind) (Adapter, error) {
	if a, ok := r.adapters[kind]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("%w: %s", apperrors.ErrNoAdapter, kind)
}

// Kinds lists the registered kinds in sorted order.
func (r *Registry) Kinds() []source.Kind {
	out := make([]source.Kind, 0, len(r.adapters))
	for k := range r.adapters {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Deps are the shared collaborators of the built-in adapters.
type Deps struct {
	Client      *http.Client
	Logger      *zap.Logger
	Keywords    []string
	Submissions SubmissionReader
	Now         func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Client == nil {
		d.Client = &http.Client{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// Default returns a registry with one adapter for every source kind.
func Default(deps Deps) *Registry {
	deps = deps.withDefaults()
	r := NewRegistry()
	r.Register(NewFeed(deps))
	v1 := NewRegistryV1(deps)
	r.Register(v1)
	r.Register(NewRegistryV2(deps, v1))
	r.Register(NewPortal(deps))
	r.Register(NewMunicipal(deps))
	r.Register(NewManual(deps))
	return r
}

func withBudget(ctx context.Context, opts FetchOptions) (context.Context, context.CancelFunc) {
	if opts.Timeout > 0 {
		return context.WithTimeout(ctx, opts.Timeout)
	}
	return context.WithCancel(ctx)
}
