package checks

import (
	"encoding/json"
	"fmt"

	"github.com/lucasnoah/reviewfactory/internal/finding"
)

// SemgrepParser parses `semgrep --json`.
type SemgrepParser struct{}

type semgrepOutput struct {
	Results []json.RawMessage `json:"results"`
	Errors  []struct {
		Message string `json:"message"`
		Level   string `json:"level"`
		Path    string `json:"path"`
	} `json:"errors"`
}

type semgrepResult struct {
	CheckID string `json:"check_id"`
	Path    string `json:"path"`
	Start   struct {
		Line int `json:"line"`
		Col  int `json:"col"`
	} `json:"start"`
	Extra struct {
		Message  string `json:"message"`
		Severity string `json:"severity"`
	} `json:"extra"`
}

func (p *SemgrepParser) Parse(stdout string, stderr string) (ParseResult, error) {
	if emptyOutput(stdout) {
		return ParseResult{}, nil
	}
	var doc semgrepOutput
	if err := json.Unmarshal([]byte(stdout), &doc); err != nil {
		return ParseResult{}, fmt.Errorf("semgrep json: %w", err)
	}

	var out ParseResult
	out.Skipped = decodeEach(doc.Results, func(r semgrepResult, raw json.RawMessage) {
		out.Findings = append(out.Findings, finding.Finding{
			Rule:     r.CheckID,
			Severity: semgrepSeverity(r.Extra.Severity),
			Location: finding.Location{File: r.Path, Line: r.Start.Line, Column: r.Start.Col},
			Message:  r.Extra.Message,
			Payload:  raw,
		})
	})
	for _, e := range doc.Errors {
		msg := e.Message
		if e.Path != "" {
			msg = e.Path + ": " + msg
		}
		out.Notes = append(out.Notes, "semgrep "+e.Level+": "+msg)
	}
	return out, nil
}

func semgrepSeverity(s string) finding.Severity {
	switch s {
	case "ERROR":
		return finding.SeverityHigh
	case "WARNING":
		return finding.SeverityMedium
	case "INFO":
		return finding.SeverityLow
	}
	return finding.ParseSeverity(s)
}
