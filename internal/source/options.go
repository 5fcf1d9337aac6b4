package source

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Options is the adapter-specific key/value bag of a source. Values arrive in
// whatever shape YAML decoding produced, so accessors are lenient.
type Options map[string]any

// Clone returns a deep copy of the nested maps and lists YAML produces.
func (o Options) Clone() Options {
	if o == nil {
		return nil
	}
	out := make(Options, len(o))
	for k, v := range o {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(Options(t).Clone())
	case Options:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	}
	return v
}

// Has reports whether key is set.
func (o Options) Has(key string) bool {
	_, ok := o[key]
	return ok
}

// String returns a string option or def.
func (o Options) String(key, def string) string {
	v, ok := o[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case string:
		return t
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return fmt.Sprint(t)
	}
}

// Int returns an integer option or def.
func (o Options) Int(key string, def int) int {
	v, ok := o[key]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return n
		}
	}
	return def
}

// Float returns a float option or def.
func (o Options) Float(key string, def float64) float64 {
	v, ok := o[key]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return f
		}
	}
	return def
}

// Bool returns a boolean option or def.
func (o Options) Bool(key string, def bool) bool {
	v, ok := o[key]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(t)); err == nil {
			return b
		}
	}
	return def
}

// Strings returns a list option. A single string is split on commas.
func (o Options) Strings(key string) []string {
	v, ok := o[key]
	if !ok || v == nil {
		return nil
	}
	var out []string
	switch t := v.(type) {
	case []string:
		out = append(out, t...)
	case []any:
		for _, item := range t {
			if item != nil {
				out = append(out, fmt.Sprint(item))
			}
		}
	case string:
		for _, part := range strings.Split(t, ",") {
			out = append(out, part)
		}
	}
	cleaned := out[:0]
	for _, s := range out {
		if s = strings.TrimSpace(s); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	return cleaned
}

// Duration accepts Go duration strings ("20s") or integers. Keys ending in
// "_ms" are read as milliseconds when given as numbers.
func (o Options) Duration(key string, def time.Duration) time.Duration {
	v, ok := o[key]
	if !ok {
		return def
	}
	unit := time.Second
	if strings.HasSuffix(key, "_ms") {
		unit = time.Millisecond
	}
	switch t := v.(type) {
	case int:
		return time.Duration(t) * unit
	case int64:
		return time.Duration(t) * unit
	case float64:
		return time.Duration(t * float64(unit))
	case string:
		if d, err := time.ParseDuration(strings.TrimSpace(t)); err == nil {
			return d
		}
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return time.Duration(n) * unit
		}
	}
	return def
}

// Maps returns a list of nested option maps (e.g. municipality descriptors).
func (o Options) Maps(key string) []Options {
	v, ok := o[key]
	if !ok {
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []Options
	for _, item := range items {
		switch m := item.(type) {
		case map[string]any:
			out = append(out, Options(m))
		case Options:
			out = append(out, m)
		}
	}
	return out
}
