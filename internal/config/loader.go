package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up in the working directory.
const FileName = "reviewfactory.yaml"

// Load reads and parses a configuration from the given YAML file path,
// then applies environment overrides and defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyEnv(&cfg, os.LookupEnv)
	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault loads the first config found in ./reviewfactory.yaml or
// ~/.reviewfactory/config.yaml. Without either it returns the built-in
// defaults plus environment overrides.
func LoadDefault() (*Config, error) {
	path, ok := findDefault()
	if ok {
		return Load(path)
	}
	return Default(), nil
}

// Default returns the built-in configuration with environment overrides.
func Default() *Config {
	var cfg Config
	applyEnv(&cfg, os.LookupEnv)
	applyDefaults(&cfg)
	return &cfg
}

func findDefault() (string, bool) {
	candidates := []string{FileName}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".reviewfactory", "config.yaml"))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

// applyEnv overlays REVIEWFACTORY_* variables plus the conventional
// OPENAI_API_KEY and DATABASE_URL. Explicit REVIEWFACTORY_* values win.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && v != "" {
				*dst = v
				return
			}
		}
	}

	str(&cfg.Server.Addr, "REVIEWFACTORY_ADDR")
	str(&cfg.Server.RunTimeout, "REVIEWFACTORY_RUN_TIMEOUT")
	if v, ok := lookup("REVIEWFACTORY_MAX_CONCURRENT_RUNS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.MaxConcurrentRuns = n
		}
	}
	str(&cfg.Workspace.BaseDir, "REVIEWFACTORY_WORKSPACE_DIR")
	str(&cfg.Store.Dir, "REVIEWFACTORY_STORE_DIR")
	str(&cfg.Database.URL, "REVIEWFACTORY_DATABASE_URL", "DATABASE_URL")
	str(&cfg.LLM.APIKey, "REVIEWFACTORY_LLM_API_KEY", "OPENAI_API_KEY")
	str(&cfg.LLM.BaseURL, "REVIEWFACTORY_LLM_BASE_URL")
	str(&cfg.LLM.Model, "REVIEWFACTORY_LLM_MODEL")
	str(&cfg.Log.Level, "REVIEWFACTORY_LOG_LEVEL")
	str(&cfg.Log.Format, "REVIEWFACTORY_LOG_FORMAT")
}

func applyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.Addr == "" {
		s.Addr = ":8000"
	}
	if s.MaxConcurrentRuns == 0 {
		s.MaxConcurrentRuns = 4
	}
	if s.RunTimeout == "" {
		s.RunTimeout = "30m"
	}
	if s.ShutdownTimeout == "" {
		s.ShutdownTimeout = "30s"
	}

	if cfg.Workspace.Prefix == "" {
		cfg.Workspace.Prefix = "reviewfactory-"
	}
	if cfg.Workspace.SweepAfter == "" {
		cfg.Workspace.SweepAfter = "24h"
	}
	if cfg.Store.Dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Store.Dir = filepath.Join(home, ".reviewfactory", "runs")
		} else {
			cfg.Store.Dir = filepath.Join(os.TempDir(), "reviewfactory", "runs")
		}
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "openai"
	}
	if cfg.LLM.Timeout == "" {
		cfg.LLM.Timeout = "60s"
	}

	if cfg.Analysis.Resolver == "" {
		cfg.Analysis.Resolver = "concat"
	}
	if cfg.Analysis.MinComplexityRank == "" {
		cfg.Analysis.MinComplexityRank = "C"
	}

	if cfg.Clone.Timeout == "" {
		cfg.Clone.Timeout = "5m"
	}
	if cfg.Clone.ProbeAttempts == 0 {
		cfg.Clone.ProbeAttempts = 3
	}
	if cfg.Clone.ProbeDelay == "" {
		cfg.Clone.ProbeDelay = "1s"
	}
	if cfg.Clone.ProbeTimeout == "" {
		cfg.Clone.ProbeTimeout = "20s"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

// Duration parses a configured duration string; empty yields zero.
func Duration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// MustDuration is Duration for values Validate has already accepted.
func MustDuration(s string) time.Duration {
	d, err := Duration(s)
	if err != nil {
		return 0
	}
	return d
}

// IsEnabled reports whether the override leaves the tool on.
func (t Tool) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}
