// Package finding holds the normalized record every analysis tool is
// reduced to, plus the per-adapter collection the workflow passes around.
package finding

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Category names the adapter family a finding came from.
type Category string

const (
	CategoryStyle       Category = "style"
	CategorySecurity    Category = "security"
	CategoryPerformance Category = "performance"
)

// Severity is the normalized severity shared across tools.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Weight orders severities; higher is worse.
func (s Severity) Weight() int {
	switch s {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	case SeverityInfo:
		return 1
	}
	return 0
}

// ParseSeverity maps the many spellings tools use onto Severity.
// Unknown values become SeverityInfo.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical", "crit":
		return SeverityCritical
	case "high", "error", "err":
		return SeverityHigh
	case "medium", "moderate", "warning", "warn":
		return SeverityMedium
	case "low", "note":
		return SeverityLow
	}
	return SeverityInfo
}

// Location is where a finding points. Line and Column are 1-based; zero means unknown.
type Location struct {
	File   string `json:"file,omitempty"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`
}

func (l Location) String() string {
	switch {
	case l.File == "":
		return ""
	case l.Line == 0:
		return l.File
	case l.Column == 0:
		return fmt.Sprintf("%s:%d", l.File, l.Line)
	}
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
}

// Finding is one normalized result. It is treated as immutable after the
// parser that produced it returns.
type Finding struct {
	Tool     string          `json:"tool"`
	Category Category        `json:"category"`
	Rule     string          `json:"rule,omitempty"`
	Severity Severity        `json:"severity"`
	Rank     string          `json:"rank,omitempty"`
	Location Location        `json:"location"`
	Message  string          `json:"message"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Key identifies the location and rule class for deduplication.
func (f Finding) Key() string {
	return fmt.Sprintf("%s|%d|%s", f.Location.File, f.Location.Line, strings.ToLower(f.Rule))
}

// ComplexityRank maps cyclomatic complexity to the A–F band:
// A≤5, B≤10, C≤20, D≤30, E≤40, F above.
func ComplexityRank(cc int) string {
	switch {
	case cc <= 5:
		return "A"
	case cc <= 10:
		return "B"
	case cc <= 20:
		return "C"
	case cc <= 30:
		return "D"
	case cc <= 40:
		return "E"
	}
	return "F"
}

// RankSeverity maps a complexity rank to a severity.
func RankSeverity(rank string) Severity {
	switch rank {
	case "F":
		return SeverityCritical
	case "E":
		return SeverityHigh
	case "D":
		return SeverityMedium
	case "C":
		return SeverityLow
	}
	return SeverityInfo
}

// Collection is what one adapter contributes to a run.
type Collection struct {
	Adapter     string    `json:"adapter"`
	Findings    []Finding `json:"findings"`
	Diagnostics []string  `json:"diagnostics,omitempty"`
	Notes       []string  `json:"notes,omitempty"`
	Skipped     bool      `json:"skipped,omitempty"`
}

// Failed reports whether any tool behind the collection failed.
func (c Collection) Failed() bool {
	return len(c.Diagnostics) > 0
}
