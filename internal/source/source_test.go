package source

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/TobiSchelling/MotionWatch/internal/apperrors"
)

func TestParseKind(t *testing.T) {
	for _, k := range Kinds() {
		got, err := ParseKind(string(k))
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}

	got, err := ParseKind(" Registry_V2 ")
	require.NoError(t, err)
	assert.Equal(t, KindRegistryV2, got)

	_, err = ParseKind("carrier-pigeon")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestRegistry(t *testing.T) {
	reg, err := NewRegistry([]Source{
		{ID: "parl-rss", Kind: KindFeed, URL: "https://example.org/rss", Enabled: true},
		{ID: "off", Kind: KindFeed, URL: "https://example.org/off", Enabled: false},
		{ID: "towns", Kind: KindMunicipal, Enabled: true},
	})
	require.NoError(t, err)

	enabled := reg.Enabled()
	require.Len(t, enabled, 2)
	assert.Equal(t, "parl-rss", enabled[0].ID)
	assert.Equal(t, "towns", enabled[1].ID)
	assert.Len(t, reg.All(), 3)

	s, ok := reg.Get("off")
	assert.True(t, ok)
	assert.False(t, s.Enabled)
}

func TestRegistryHandsOutCopies(t *testing.T) {
	opts := Options{
		"language": "de",
		"pages":    []any{"https://example.org/a"},
		"towns":    []any{map[string]any{"name": "Uster"}},
	}
	reg, err := NewRegistry([]Source{{ID: "portal", Kind: KindPortal, Enabled: true, Options: opts}})
	require.NoError(t, err)

	opts["language"] = "fr"

	s, _ := reg.Get("portal")
	s.Options["language"] = "it"
	s.Options["pages"].([]any)[0] = "https://evil.example"
	s.Options["towns"].([]any)[0].(map[string]any)["name"] = "changed"
	reg.All()[0].Options["extra"] = true
	reg.Enabled()[0].Options["language"] = "rm"

	got, _ := reg.Get("portal")
	assert.Equal(t, "de", got.Options.String("language", ""))
	assert.Equal(t, []string{"https://example.org/a"}, got.Options.Strings("pages"))
	assert.Equal(t, "Uster", got.Options.Maps("towns")[0].String("name", ""))
	assert.False(t, got.Options.Has("extra"))
}

func TestRegistryRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		sources []Source
	}{
		{"missing id", []Source{{Kind: KindFeed, URL: "https://x"}}},
		{"colon in id", []Source{{ID: "a:b", Kind: KindFeed, URL: "https://x"}}},
		{"unknown kind", []Source{{ID: "a", Kind: "ftp", URL: "https://x"}}},
		{"missing url", []Source{{ID: "a", Kind: KindRegistryV1}}},
		{"duplicate", []Source{{ID: "a", Kind: KindManual}, {ID: "a", Kind: KindManual}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.sources)
			assert.ErrorIs(t, err, apperrors.ErrValidation)
		})
	}
}

func TestPortalMayDeclarePagesInsteadOfURL(t *testing.T) {
	_, err := NewRegistry([]Source{{
		ID:      "portal",
		Kind:    KindPortal,
		Options: Options{"pages": []any{"https://a.example/list"}},
	}})
	assert.NoError(t, err)
}

func TestOptionsFromYAML(t *testing.T) {
	var src Source
	err := yaml.Unmarshal([]byte(`
id: v2
adapter: registry_v2
url: https://ws.example.org/odata
enabled: true
options:
  languages: [de, fr, it]
  days_back: 30
  threshold: 0.5
  fixture_fallback: "true"
  timeout: 45s
  backoff_ms: 500
  municipalities:
    - name: Bern
      urls: [https://bern.example/a, https://bern.example/b]
`), &src)
	require.NoError(t, err)

	assert.Equal(t, KindRegistryV2, src.Kind)
	assert.Equal(t, []string{"de", "fr", "it"}, src.Options.Strings("languages"))
	assert.Equal(t, 30, src.Options.Int("days_back", 7))
	assert.Equal(t, 7, src.Options.Int("missing", 7))
	assert.InDelta(t, 0.5, src.Options.Float("threshold", 0), 1e-9)
	assert.True(t, src.Options.Bool("fixture_fallback", false))
	assert.Equal(t, 45*time.Second, src.Options.Duration("timeout", 0))
	assert.Equal(t, 500*time.Millisecond, src.Options.Duration("backoff_ms", 0))

	towns := src.Options.Maps("municipalities")
	require.Len(t, towns, 1)
	assert.Equal(t, "Bern", towns[0].String("name", ""))
	assert.Equal(t, []string{"https://bern.example/a", "https://bern.example/b"}, towns[0].Strings("urls"))
}

func TestOptionsStringsFromCommaList(t *testing.T) {
	o := Options{"languages": "de, fr,,it"}
	assert.Equal(t, []string{"de", "fr", "it"}, o.Strings("languages"))
	assert.Nil(t, o.Strings("nope"))
}
