package collect

import (
	"github.com/TobiSchelling/MotionWatch/internal/retry"
	"github.com/TobiSchelling/MotionWatch/internal/source"
)

// DefaultKindOverrides gives scraped sources longer timeouts and more retries.
func DefaultKindOverrides() map[source.Kind]source.Options {
	return map[source.Kind]source.Options{
		source.KindPortal:    {"timeout": "45s", "retries": 3},
		source.KindMunicipal: {"timeout": "60s", "retries": 3, "backoff": "2s"},
	}
}

// ResolvePolicy merges policies with precedence
// global defaults < kind overrides < per-source options.
func ResolvePolicy(defaults retry.Policy, kindOverrides map[source.Kind]source.Options, src source.Source) retry.Policy {
	p := applyOverrides(defaults, kindOverrides[src.Kind])
	return applyOverrides(p, src.Options)
}

func applyOverrides(p retry.Policy, o source.Options) retry.Policy {
	if len(o) == 0 {
		return p
	}
	p.Timeout = o.Duration("timeout", p.Timeout)
	p.Timeout = o.Duration("timeout_ms", p.Timeout)
	if n := o.Int("retries", p.Retries); n >= 0 {
		p.Retries = n
	}
	p.Backoff = o.Duration("backoff", p.Backoff)
	p.Backoff = o.Duration("backoff_ms", p.Backoff)
	if f := o.Float("backoff_factor", p.BackoffFactor); f >= 1 {
		p.BackoffFactor = f
	}
	p.BackoffMax = o.Duration("backoff_max", p.BackoffMax)
	p.BackoffMax = o.Duration("backoff_max_ms", p.BackoffMax)
	return p
}
