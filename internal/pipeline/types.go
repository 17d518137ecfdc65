package pipeline

import "time"

// Status is the lifecycle state of a review run.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the run will not change status again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// RunState is the persisted state for a single review run.
type RunState struct {
	ID         string        `json:"id"`
	RepoURL    string        `json:"repo_url"`
	Ref        string        `json:"ref,omitempty"`
	ScanID     string        `json:"scan_id,omitempty"`
	Status     Status        `json:"status"`
	Reason     string        `json:"reason,omitempty"`
	Stages     []StageRecord `json:"stages"`
	Summary    *Summary      `json:"summary,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
	StartedAt  *time.Time    `json:"started_at,omitempty"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
}

// StageRecord records how one workflow stage ended.
type StageRecord struct {
	Stage      string `json:"stage"`
	Outcome    string `json:"outcome"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Summary is the headline of a completed run.
type Summary struct {
	Total       int            `json:"total"`
	ByCategory  map[string]int `json:"by_category"`
	BySeverity  map[string]int `json:"by_severity"`
	Diagnostics []string       `json:"diagnostics,omitempty"`
	// SkippedAdapters found nothing to analyze.
	SkippedAdapters []string `json:"skipped_adapters,omitempty"`
	GeneratorError  string   `json:"generator_error,omitempty"`
}
