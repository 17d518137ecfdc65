package config

// Config is the top-level configuration parsed from reviewfactory.yaml.
type Config struct {
	Server    Server    `yaml:"server"`
	Workspace Workspace `yaml:"workspace"`
	Store     Store     `yaml:"store"`
	Database  Database  `yaml:"database"`
	LLM       LLM       `yaml:"llm"`
	Analysis  Analysis  `yaml:"analysis"`
	Clone     Clone     `yaml:"clone"`
	Log       Log       `yaml:"log"`
}

// Server configures the HTTP API and run scheduling.
type Server struct {
	Addr              string `yaml:"addr"`
	MaxConcurrentRuns int    `yaml:"max_concurrent_runs"`
	RunTimeout        string `yaml:"run_timeout"`
	ShutdownTimeout   string `yaml:"shutdown_timeout"`
}

// Workspace configures where checkouts live.
type Workspace struct {
	BaseDir string `yaml:"base_dir"`
	Prefix  string `yaml:"prefix"`
	// SweepAfter is the age past which leftover workspaces are removed at
	// startup. Empty disables the sweep.
	SweepAfter string `yaml:"sweep_after"`
}

// Store configures the on-disk run store.
type Store struct {
	Dir string `yaml:"dir"`
}

// Database configures the optional Postgres event log.
type Database struct {
	URL string `yaml:"url"`
}

// LLM configures the report explanation generator.
type LLM struct {
	Provider    string `yaml:"provider"`
	Model       string `yaml:"model"`
	BaseURL     string `yaml:"base_url"`
	APIKey      string `yaml:"api_key"`
	Timeout     string `yaml:"timeout"`
	MaxTokens   int    `yaml:"max_tokens"`
	TemplateDir string `yaml:"template_dir"`
}

// Analysis configures the adapters.
type Analysis struct {
	Resolver          string          `yaml:"resolver"`
	MinComplexityRank string          `yaml:"min_complexity_rank"`
	IgnoreLockfiles   bool            `yaml:"ignore_lockfiles"`
	ExtraIgnoreDirs   []string        `yaml:"extra_ignore_dirs"`
	Tools             map[string]Tool `yaml:"tools"`
}

// Tool overrides one built-in analysis tool.
type Tool struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Timeout string   `yaml:"timeout"`
	Enabled *bool    `yaml:"enabled"`
}

// Clone configures checkout and the reachability probe.
type Clone struct {
	Timeout       string `yaml:"timeout"`
	ProbeAttempts uint   `yaml:"probe_attempts"`
	ProbeDelay    string `yaml:"probe_delay"`
	ProbeTimeout  string `yaml:"probe_timeout"`
	AllowFile     bool   `yaml:"allow_file"`
}

// Log configures the process logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}
