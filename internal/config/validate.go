package config

import (
	"fmt"
	"time"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// knownTools are the analysis tools that accept overrides.
var knownTools = map[string]bool{
	"ruff":      true,
	"eslint":    true,
	"bandit":    true,
	"semgrep":   true,
	"npm-audit": true,
	"radon":     true,
}

var knownResolvers = map[string]bool{"concat": true, "dedupe": true}

var knownRanks = map[string]bool{"A": true, "B": true, "C": true, "D": true, "E": true, "F": true}

// Validate checks a Config for semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}
	duration := func(field, value string, required bool) {
		if value == "" {
			if required {
				add(field, "is required")
			}
			return
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			add(field, "invalid duration %q", value)
			return
		}
		if d <= 0 {
			add(field, "must be positive")
		}
	}

	if cfg.Server.Addr == "" {
		add("server.addr", "is required")
	}
	if cfg.Server.MaxConcurrentRuns < 1 {
		add("server.max_concurrent_runs", "must be at least 1")
	}
	duration("server.run_timeout", cfg.Server.RunTimeout, true)
	duration("server.shutdown_timeout", cfg.Server.ShutdownTimeout, false)

	duration("workspace.sweep_after", cfg.Workspace.SweepAfter, false)
	if cfg.Store.Dir == "" {
		add("store.dir", "is required")
	}

	if cfg.LLM.Provider != "openai" && cfg.LLM.Provider != "none" {
		add("llm.provider", "unrecognized provider %q", cfg.LLM.Provider)
	}
	duration("llm.timeout", cfg.LLM.Timeout, false)
	if cfg.LLM.MaxTokens < 0 {
		add("llm.max_tokens", "must not be negative")
	}

	if !knownResolvers[cfg.Analysis.Resolver] {
		add("analysis.resolver", "unrecognized resolver %q", cfg.Analysis.Resolver)
	}
	if !knownRanks[cfg.Analysis.MinComplexityRank] {
		add("analysis.min_complexity_rank", "must be one of A-F, got %q", cfg.Analysis.MinComplexityRank)
	}
	for name, t := range cfg.Analysis.Tools {
		prefix := "analysis.tools." + name
		if !knownTools[name] {
			add(prefix, "unknown tool %q", name)
			continue
		}
		duration(prefix+".timeout", t.Timeout, false)
	}

	duration("clone.timeout", cfg.Clone.Timeout, true)
	duration("clone.probe_delay", cfg.Clone.ProbeDelay, false)
	duration("clone.probe_timeout", cfg.Clone.ProbeTimeout, false)
	if cfg.Clone.ProbeAttempts < 1 {
		add("clone.probe_attempts", "must be at least 1")
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		add("log.level", "unrecognized level %q", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "json", "console":
	default:
		add("log.format", "unrecognized format %q", cfg.Log.Format)
	}

	return errs
}
