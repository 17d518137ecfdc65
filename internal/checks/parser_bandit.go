package checks

import (
	"encoding/json"
	"fmt"

	"github.com/lucasnoah/reviewfactory/internal/finding"
)

// BanditParser parses `bandit -f json`.
type BanditParser struct{}

type banditOutput struct {
	Results []json.RawMessage `json:"results"`
	Errors  []struct {
		Filename string `json:"filename"`
		Reason   string `json:"reason"`
	} `json:"errors"`
}

type banditIssue struct {
	TestID     string `json:"test_id"`
	TestName   string `json:"test_name"`
	Severity   string `json:"issue_severity"`
	Confidence string `json:"issue_confidence"`
	Text       string `json:"issue_text"`
	Filename   string `json:"filename"`
	Line       int    `json:"line_number"`
	ColOffset  int    `json:"col_offset"`
	MoreInfo   string `json:"more_info"`
}

func (p *BanditParser) Parse(stdout string, stderr string) (ParseResult, error) {
	if emptyOutput(stdout) {
		return ParseResult{}, nil
	}
	var doc banditOutput
	if err := json.Unmarshal([]byte(stdout), &doc); err != nil {
		return ParseResult{}, fmt.Errorf("bandit json: %w", err)
	}

	var out ParseResult
	out.Skipped = decodeEach(doc.Results, func(r banditIssue, raw json.RawMessage) {
		rule := r.TestID
		if r.TestName != "" {
			rule = r.TestID + ":" + r.TestName
		}
		out.Findings = append(out.Findings, finding.Finding{
			Rule:     rule,
			Severity: finding.ParseSeverity(r.Severity),
			Location: finding.Location{File: r.Filename, Line: r.Line, Column: r.ColOffset + 1},
			Message:  r.Text,
			Payload:  raw,
		})
	})
	for _, e := range doc.Errors {
		out.Notes = append(out.Notes, fmt.Sprintf("bandit could not scan %s: %s", e.Filename, e.Reason))
	}
	return out, nil
}
