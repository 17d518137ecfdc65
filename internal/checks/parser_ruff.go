package checks

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lucasnoah/reviewfactory/internal/finding"
)

// RuffParser parses `ruff check --output-format json`.
type RuffParser struct{}

type ruffDiagnostic struct {
	Code     *string `json:"code"`
	Message  string  `json:"message"`
	Filename string  `json:"filename"`
	Location struct {
		Row    int `json:"row"`
		Column int `json:"column"`
	} `json:"location"`
	Fix *json.RawMessage `json:"fix"`
}

func (p *RuffParser) Parse(stdout string, stderr string) (ParseResult, error) {
	if emptyOutput(stdout) {
		return ParseResult{}, nil
	}
	records, err := decodeRecords([]byte(stdout))
	if err != nil {
		return ParseResult{}, fmt.Errorf("ruff json: %w", err)
	}

	var out ParseResult
	out.Skipped = decodeEach(records, func(d ruffDiagnostic, raw json.RawMessage) {
		rule := "syntax-error"
		if d.Code != nil && *d.Code != "" {
			rule = *d.Code
		}
		out.Findings = append(out.Findings, finding.Finding{
			Rule:     rule,
			Severity: ruffSeverity(rule),
			Location: finding.Location{File: d.Filename, Line: d.Location.Row, Column: d.Location.Column},
			Message:  d.Message,
			Payload:  raw,
		})
	})
	return out, nil
}

// ruffSeverity grades by rule family: syntax problems and pyflakes errors
// outrank pycodestyle warnings.
func ruffSeverity(code string) finding.Severity {
	switch {
	case code == "syntax-error", strings.HasPrefix(code, "E9"):
		return finding.SeverityHigh
	case strings.HasPrefix(code, "F"):
		return finding.SeverityMedium
	case strings.HasPrefix(code, "E"), strings.HasPrefix(code, "W"):
		return finding.SeverityLow
	}
	return finding.SeverityInfo
}
