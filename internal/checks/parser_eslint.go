package checks

import (
	"encoding/json"
	"fmt"

	"github.com/lucasnoah/reviewfactory/internal/finding"
)

// ESLintParser parses ESLint JSON output.
type ESLintParser struct{}

type eslintFile struct {
	FilePath string            `json:"filePath"`
	Messages []json.RawMessage `json:"messages"`
}

type eslintMessage struct {
	RuleID   *string `json:"ruleId"`
	Severity int     `json:"severity"` // 1=warning, 2=error
	Message  string  `json:"message"`
	Line     int     `json:"line"`
	Column   int     `json:"column"`
	Fatal    bool    `json:"fatal"`
}

func (p *ESLintParser) Parse(stdout string, stderr string) (ParseResult, error) {
	if emptyOutput(stdout) {
		return ParseResult{}, nil
	}
	records, err := decodeRecords([]byte(stdout))
	if err != nil {
		return ParseResult{}, fmt.Errorf("eslint json: %w", err)
	}

	var out ParseResult
	fileErrs := decodeEach(records, func(f eslintFile, _ json.RawMessage) {
		out.Skipped = append(out.Skipped, decodeEach(f.Messages, func(m eslintMessage, raw json.RawMessage) {
			rule := "parse-error"
			if m.RuleID != nil {
				rule = *m.RuleID
			}
			sev := finding.SeverityMedium
			if m.Severity == 2 || m.Fatal {
				sev = finding.SeverityHigh
			}
			out.Findings = append(out.Findings, finding.Finding{
				Rule:     rule,
				Severity: sev,
				Location: finding.Location{File: f.FilePath, Line: m.Line, Column: m.Column},
				Message:  m.Message,
				Payload:  raw,
			})
		})...)
	})
	out.Skipped = append(out.Skipped, fileErrs...)
	return out, nil
}
