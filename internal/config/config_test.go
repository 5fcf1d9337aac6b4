package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/TobiSchelling/MotionWatch/internal/source"
)

func TestParseDefaultConfig(t *testing.T) {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		t.Fatalf("failed to parse default config: %v", err)
	}

	if len(cfg.Sources) == 0 {
		t.Fatal("expected sources to be populated")
	}
	reg, err := cfg.SourceRegistry()
	if err != nil {
		t.Fatalf("default sources should validate: %v", err)
	}
	seen := map[source.Kind]bool{}
	for _, s := range reg.All() {
		seen[s.Kind] = true
	}
	for _, k := range source.Kinds() {
		if k == source.KindRegistryV1 {
			continue
		}
		if !seen[k] {
			t.Errorf("expected an example source for %s", k)
		}
	}

	if cfg.Server.Port != 8000 {
		t.Errorf("expected port 8000, got %d", cfg.Server.Port)
	}
	if cfg.Collection.GlobalTimeout.Duration != 10*time.Minute {
		t.Errorf("expected global timeout 10m, got %s", cfg.Collection.GlobalTimeout)
	}
	if cfg.Schedule.Timezone != "Europe/Zurich" {
		t.Errorf("expected timezone Europe/Zurich, got %q", cfg.Schedule.Timezone)
	}
}

func TestParseMinimalConfig(t *testing.T) {
	data := []byte(`
relevance:
  threshold: 0.7
languages:
  preference: [FR, de]
server:
  port: 9000
`)
	cfg, err := parse(data)
	if err != nil {
		t.Fatalf("failed to parse minimal config: %v", err)
	}

	if cfg.Relevance.Threshold != 0.7 {
		t.Errorf("expected threshold 0.7, got %g", cfg.Relevance.Threshold)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	if got := cfg.Languages.Preference; len(got) != 2 || got[0] != "fr" {
		t.Errorf("expected lowercased preference [fr de], got %v", got)
	}
	// Defaults should still be set for unspecified fields
	if cfg.Review.MaxSyncAttempts != 5 {
		t.Errorf("expected default max_sync_attempts 5, got %d", cfg.Review.MaxSyncAttempts)
	}
	if cfg.Enrich.Timeout.Duration != 15*time.Second {
		t.Errorf("expected default enrich timeout, got %s", cfg.Enrich.Timeout)
	}
}

func TestParseRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"threshold":  "relevance:\n  threshold: 1.5\n",
		"duration":   "enrich:\n  timeout: soon\n",
		"not yaml":   "sources: [",
		"list value": "collection:\n  global_timeout: [1, 2]\n",
	}
	for name, data := range cases {
		if _, err := parse([]byte(data)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestDurationAcceptsSeconds(t *testing.T) {
	cfg, err := parse([]byte("review:\n  sync_interval: 45\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Review.SyncInterval.Duration != 45*time.Second {
		t.Errorf("expected 45s, got %s", cfg.Review.SyncInterval)
	}
}

func TestInvalidSourceRejected(t *testing.T) {
	cfg, err := parse([]byte(`
sources:
  - id: a
    adapter: feed
    url: https://a.example/rss
  - id: a
    adapter: manual
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := cfg.SourceRegistry(); err == nil {
		t.Error("expected duplicate source id to be rejected")
	}

	cfg.Sources = []source.Source{{ID: "x", Kind: "gopher"}}
	if _, err := cfg.SourceRegistry(); err == nil {
		t.Error("expected unknown adapter to be rejected")
	}
}

func TestRetryPolicyAndKindOverrides(t *testing.T) {
	cfg, err := parse([]byte(`
collection:
  defaults:
    timeout: 5s
    retries: 0
  kinds:
    portal:
      retries: 7
    feed:
      timeout: 3s
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	p := cfg.RetryPolicy()
	if p.Timeout != 5*time.Second || p.Retries != 0 {
		t.Errorf("unexpected policy %+v", p)
	}

	base := map[source.Kind]source.Options{source.KindPortal: {"timeout": "45s", "retries": 3}}
	kinds, err := cfg.KindOverrides(base)
	if err != nil {
		t.Fatalf("kind overrides: %v", err)
	}
	if got := kinds[source.KindPortal].Int("retries", -1); got != 7 {
		t.Errorf("expected portal retries 7, got %d", got)
	}
	if got := kinds[source.KindPortal].String("timeout", ""); got != "45s" {
		t.Errorf("expected portal timeout kept from base, got %q", got)
	}
	if got := kinds[source.KindFeed].String("timeout", ""); got != "3s" {
		t.Errorf("expected feed timeout 3s, got %q", got)
	}
	if got := base[source.KindPortal].Int("retries", -1); got != 3 {
		t.Errorf("base overrides must not be mutated, got %d", got)
	}

	cfg.Collection.Kinds = map[string]source.Options{"carrier-pigeon": {}}
	if _, err := cfg.KindOverrides(nil); err == nil {
		t.Error("expected unknown kind to be rejected")
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, DefaultConfigYAML, 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	t.Setenv(EnvDataDir, filepath.Join(dir, "data"))
	t.Setenv(EnvServerURL, "http://review.example:9000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if len(cfg.Sources) == 0 {
		t.Error("expected sources to be populated from file")
	}
	if cfg.GetDataDir() != filepath.Join(dir, "data") {
		t.Errorf("expected data dir from env, got %q", cfg.GetDataDir())
	}
	if cfg.Review.ServerURL != "http://review.example:9000" {
		t.Errorf("expected server url from env, got %q", cfg.Review.ServerURL)
	}
	if cfg.DBPath() != filepath.Join(dir, "data", "motionwatch.db") {
		t.Errorf("unexpected db path %q", cfg.DBPath())
	}
	if cfg.ReviewCachePath() != filepath.Join(dir, "data", "review-cache.json") {
		t.Errorf("unexpected cache path %q", cfg.ReviewCachePath())
	}
}

func TestResolveConfigPath(t *testing.T) {
	if _, err := ResolveConfigPath(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing explicit path")
	}

	path := filepath.Join(t.TempDir(), "explicit.yaml")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := ResolveConfigPath(path)
	if err != nil || got != path {
		t.Errorf("expected explicit path, got %q (%v)", got, err)
	}
}

func TestGetDataDir(t *testing.T) {
	cfg := &Config{}
	defaultDir := cfg.GetDataDir()
	if defaultDir == "" {
		t.Error("expected non-empty default data dir")
	}

	cfg.Output.DataDir = "/custom/path"
	if cfg.GetDataDir() != "/custom/path" {
		t.Errorf("expected '/custom/path', got %q", cfg.GetDataDir())
	}
}

func TestEnrichDisabled(t *testing.T) {
	cfg := &Config{Enrich: Enrich{Enabled: false, MaxPerRun: 10}}
	if cfg.EnrichMaxPerRun() != -1 {
		t.Errorf("disabled enrich should map to -1, got %d", cfg.EnrichMaxPerRun())
	}
	cfg.Enrich.Enabled = true
	if cfg.EnrichMaxPerRun() != 10 {
		t.Errorf("expected 10, got %d", cfg.EnrichMaxPerRun())
	}
}
