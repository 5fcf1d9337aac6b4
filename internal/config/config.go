package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/TobiSchelling/MotionWatch/internal/retry"
	"github.com/TobiSchelling/MotionWatch/internal/source"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

// Environment overrides applied after the file is parsed.
const (
	EnvDataDir   = "MOTIONWATCH_DATA_DIR"
	EnvServerURL = "MOTIONWATCH_SERVER_URL"
)

type Config struct {
	Sources    []source.Source `yaml:"sources"`
	Keywords   []string        `yaml:"keywords"`
	Relevance  Relevance       `yaml:"relevance"`
	Languages  Languages       `yaml:"languages"`
	Collection Collection      `yaml:"collection"`
	Enrich     Enrich          `yaml:"enrich"`
	Review     Review          `yaml:"review"`
	Schedule   Schedule        `yaml:"schedule"`
	Output     Output          `yaml:"output"`
	Server     Server          `yaml:"server"`
	Logging    Logging         `yaml:"logging"`
}

type Relevance struct {
	Threshold float64 `yaml:"threshold"`
}

// Languages orders the variants of one affair; the first available wins.
type Languages struct {
	Preference []string `yaml:"preference"`
}

type Collection struct {
	Concurrency   int                       `yaml:"concurrency"`
	GlobalTimeout Duration                  `yaml:"global_timeout"`
	Defaults      Policy                    `yaml:"defaults"`
	Kinds         map[string]source.Options `yaml:"kinds"`
}

// Policy is the YAML shape of the global retry policy.
type Policy struct {
	Timeout       Duration `yaml:"timeout"`
	Retries       int      `yaml:"retries"`
	Backoff       Duration `yaml:"backoff"`
	BackoffFactor float64  `yaml:"backoff_factor"`
	BackoffMax    Duration `yaml:"backoff_max"`
}

type Enrich struct {
	Enabled   bool     `yaml:"enabled"`
	MaxPerRun int      `yaml:"max_per_run"`
	Timeout   Duration `yaml:"timeout"`
}

type Review struct {
	ServerURL       string   `yaml:"server_url"`
	CachePath       string   `yaml:"cache_path"`
	Reviewer        string   `yaml:"reviewer"`
	MaxSyncAttempts int      `yaml:"max_sync_attempts"`
	SyncInterval    Duration `yaml:"sync_interval"`
}

type Schedule struct {
	Cron     string `yaml:"cron"`
	Timezone string `yaml:"timezone"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// Duration reads Go duration strings ("20s", "10m") or plain seconds.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	raw := strings.TrimSpace(value.Value)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	if n, err := strconv.Atoi(raw); err == nil {
		d.Duration = time.Duration(n) * time.Second
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q", value.Line, raw)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// ConfigDir returns the XDG config directory for motionwatch.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "motionwatch")
}

// DataDir returns the XDG data directory for motionwatch.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "motionwatch")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/motionwatch/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'motionwatch init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file, then applies environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv(os.LookupEnv)
	return cfg, nil
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	def := retry.DefaultPolicy()
	cfg := &Config{
		Relevance: Relevance{Threshold: 0.5},
		Languages: Languages{Preference: []string{"de", "fr", "it"}},
		Collection: Collection{
			Concurrency:   4,
			GlobalTimeout: Duration{10 * time.Minute},
			Defaults: Policy{
				Timeout:       Duration{def.Timeout},
				Retries:       def.Retries,
				Backoff:       Duration{def.Backoff},
				BackoffFactor: def.BackoffFactor,
				BackoffMax:    Duration{def.BackoffMax},
			},
		},
		Enrich: Enrich{Enabled: true, MaxPerRun: 50, Timeout: Duration{15 * time.Second}},
		Review: Review{
			ServerURL:       "http://127.0.0.1:8000",
			MaxSyncAttempts: 5,
			SyncInterval:    Duration{30 * time.Second},
		},
		Schedule: Schedule{Cron: "0 6 * * *", Timezone: "Europe/Zurich"},
		Server:   Server{Host: "127.0.0.1", Port: 8000},
		Logging:  Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Relevance.Threshold <= 0 || cfg.Relevance.Threshold > 1 {
		return nil, fmt.Errorf("parsing config: relevance.threshold must be in (0, 1], got %g", cfg.Relevance.Threshold)
	}
	for i, lang := range cfg.Languages.Preference {
		cfg.Languages.Preference[i] = strings.ToLower(strings.TrimSpace(lang))
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvDataDir); ok && v != "" {
		c.Output.DataDir = v
	}
	if v, ok := lookup(EnvServerURL); ok && v != "" {
		c.Review.ServerURL = v
	}
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// DBPath is the SQLite store inside the data directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.GetDataDir(), "motionwatch.db")
}

// ReviewCachePath is the reviewer's offline cache file.
func (c *Config) ReviewCachePath() string {
	if c.Review.CachePath != "" {
		return c.Review.CachePath
	}
	return filepath.Join(c.GetDataDir(), "review-cache.json")
}

// Addr is the listen address of the review server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// SourceRegistry validates the configured sources.
func (c *Config) SourceRegistry() (*source.Registry, error) {
	reg, err := source.NewRegistry(c.Sources)
	if err != nil {
		return nil, fmt.Errorf("config sources: %w", err)
	}
	return reg, nil
}

// RetryPolicy converts the configured defaults, keeping library defaults for
// anything left unset.
func (c *Config) RetryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	d := c.Collection.Defaults
	if d.Timeout.Duration > 0 {
		p.Timeout = d.Timeout.Duration
	}
	if d.Retries >= 0 {
		p.Retries = d.Retries
	}
	if d.Backoff.Duration > 0 {
		p.Backoff = d.Backoff.Duration
	}
	if d.BackoffFactor >= 1 {
		p.BackoffFactor = d.BackoffFactor
	}
	if d.BackoffMax.Duration > 0 {
		p.BackoffMax = d.BackoffMax.Duration
	}
	return p
}

// KindOverrides merges configured per-kind policy options over base. Unknown
// kinds are rejected.
func (c *Config) KindOverrides(base map[source.Kind]source.Options) (map[source.Kind]source.Options, error) {
	out := make(map[source.Kind]source.Options, len(base)+len(c.Collection.Kinds))
	for k, o := range base {
		out[k] = o
	}
	for name, o := range c.Collection.Kinds {
		kind, err := source.ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("collection.kinds: %w", err)
		}
		merged := source.Options{}
		for k, v := range out[kind] {
			merged[k] = v
		}
		for k, v := range o {
			merged[k] = v
		}
		out[kind] = merged
	}
	return out, nil
}

// EnrichMaxPerRun is the fetch budget; a disabled enricher maps to -1.
func (c *Config) EnrichMaxPerRun() int {
	if !c.Enrich.Enabled {
		return -1
	}
	return c.Enrich.MaxPerRun
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
