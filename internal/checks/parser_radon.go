package checks

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/lucasnoah/reviewfactory/internal/finding"
)

// RadonParser parses `radon cc -j`: an object keyed by file whose values
// are block lists, or {"error": "..."} when radon could not read the file.
type RadonParser struct{}

type radonBlock struct {
	Type       string `json:"type"`
	Name       string `json:"name"`
	Classname  string `json:"classname"`
	Line       int    `json:"lineno"`
	Col        int    `json:"col_offset"`
	Complexity int    `json:"complexity"`
	Rank       string `json:"rank"`
}

func (p *RadonParser) Parse(stdout string, stderr string) (ParseResult, error) {
	if emptyOutput(stdout) {
		return ParseResult{}, nil
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(stdout), &doc); err != nil {
		return ParseResult{}, fmt.Errorf("radon json: %w", err)
	}

	files := make([]string, 0, len(doc))
	for f := range doc {
		files = append(files, f)
	}
	sort.Strings(files)

	var out ParseResult
	for _, file := range files {
		raw := doc[file]
		var fileErr struct {
			Error string `json:"error"`
		}
		if strings.HasPrefix(strings.TrimSpace(string(raw)), "{") {
			if err := json.Unmarshal(raw, &fileErr); err == nil && fileErr.Error != "" {
				out.Skipped = append(out.Skipped, fmt.Errorf("%s: %s", file, fileErr.Error))
				continue
			}
		}
		blocks, err := decodeRecords(raw)
		if err != nil {
			out.Skipped = append(out.Skipped, fmt.Errorf("%s: %w", file, err))
			continue
		}
		errs := decodeEach(blocks, func(b radonBlock, rawBlock json.RawMessage) {
			// Class blocks aggregate their methods, which are reported on their own.
			if b.Type == "class" {
				return
			}
			rank := b.Rank
			if rank == "" {
				rank = finding.ComplexityRank(b.Complexity)
			}
			name := b.Name
			if b.Classname != "" {
				name = b.Classname + "." + b.Name
			}
			out.Findings = append(out.Findings, finding.Finding{
				Rule:     "cyclomatic-complexity",
				Severity: finding.RankSeverity(rank),
				Rank:     rank,
				Location: finding.Location{File: file, Line: b.Line, Column: b.Col + 1},
				Message:  fmt.Sprintf("%s %s has cyclomatic complexity %d (rank %s)", b.Type, name, b.Complexity, rank),
				Payload:  rawBlock,
			})
		})
		for _, e := range errs {
			out.Skipped = append(out.Skipped, fmt.Errorf("%s: %w", file, e))
		}
	}
	return out, nil
}
