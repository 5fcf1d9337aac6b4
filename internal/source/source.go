package source

import (
	"fmt"
	"strings"

	"github.com/TobiSchelling/MotionWatch/internal/apperrors"
)

// Kind selects the adapter that reads a source.
type Kind string

const (
	KindFeed       Kind = "feed"
	KindRegistryV1 Kind = "registry_v1"
	KindRegistryV2 Kind = "registry_v2"
	KindPortal     Kind = "portal"
	KindMunicipal  Kind = "municipal"
	KindManual     Kind = "manual"
)

// Kinds returns every adapter kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindFeed, KindRegistryV1, KindRegistryV2, KindPortal, KindMunicipal, KindManual}
}

// ParseKind validates a kind string from configuration.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds() {
		if k == known {
			return k, nil
		}
	}
	return "", apperrors.Validation("unknown adapter kind %q", s)
}

// NeedsURL reports whether sources of this kind must declare a target URL.
func (k Kind) NeedsURL() bool {
	switch k {
	case KindMunicipal, KindManual:
		return false
	}
	return true
}

// Source is an immutable source descriptor loaded once per run.
type Source struct {
	ID      string  `yaml:"id" json:"id"`
	Label   string  `yaml:"label" json:"label"`
	Kind    Kind    `yaml:"adapter" json:"adapter"`
	URL     string  `yaml:"url" json:"url"`
	Enabled bool    `yaml:"enabled" json:"enabled"`
	Options Options `yaml:"options" json:"options,omitempty"`
}

// Name returns the label, falling back to the id.
func (s Source) Name() string {
	if s.Label != "" {
		return s.Label
	}
	return s.ID
}

// Validate checks a single descriptor.
func (s Source) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return apperrors.Validation("source without id")
	}
	if strings.Contains(s.ID, ":") {
		return apperrors.Validation("source %s: id must not contain ':'", s.ID)
	}
	if _, err := ParseKind(string(s.Kind)); err != nil {
		return fmt.Errorf("source %s: %w", s.ID, err)
	}
	if s.Kind.NeedsURL() && strings.TrimSpace(s.URL) == "" {
		if len(s.Options.Strings("pages")) == 0 {
			return apperrors.Validation("source %s: url is required for %s", s.ID, s.Kind)
		}
	}
	return nil
}

// Registry holds the configured sources in declaration order.
type Registry struct {
	sources []Source
	byID    map[string]int
}

// NewRegistry validates descriptors and rejects duplicate ids.
func NewRegistry(sources []Source) (*Registry, error) {
	r := &Registry{byID: make(map[string]int, len(sources))}
	for _, s := range sources {
		s.Kind = Kind(strings.ToLower(strings.TrimSpace(string(s.Kind))))
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.byID[s.ID]; dup {
			return nil, apperrors.Validation("duplicate source id %q", s.ID)
		}
		r.byID[s.ID] = len(r.sources)
		r.sources = append(r.sources, s.clone())
	}
	return r, nil
}

// All returns every source, enabled or not. Sources are copies; changing
// their Options does not affect the registry.
func (r *Registry) All() []Source {
	out := make([]Source, len(r.sources))
	for i, s := range r.sources {
		out[i] = s.clone()
	}
	return out
}

// Enabled returns the enabled sources in declaration order.
func (r *Registry) Enabled() []Source {
	var out []Source
	for _, s := range r.sources {
		if s.Enabled {
			out = append(out, s.clone())
		}
	}
	return out
}

// Get looks up a source by id.
func (r *Registry) Get(id string) (Source, bool) {
	i, ok := r.byID[id]
	if !ok {
		return Source{}, false
	}
	return r.sources[i].clone(), true
}

func (s Source) clone() Source {
	s.Options = s.Options.Clone()
	return s
}
