package checks

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/lucasnoah/reviewfactory/internal/finding"
)

// NPMAuditParser parses npm audit --json output (npm 7+ report format).
type NPMAuditParser struct{}

type npmAuditOutput struct {
	Error *struct {
		Code    string `json:"code"`
		Summary string `json:"summary"`
	} `json:"error"`
	Vulnerabilities map[string]json.RawMessage `json:"vulnerabilities"`
}

type npmVulnerability struct {
	Name     string            `json:"name"`
	Severity string            `json:"severity"`
	Range    string            `json:"range"`
	Via      []json.RawMessage `json:"via"`
}

type npmAdvisory struct {
	Source interface{} `json:"source"`
	Title  string      `json:"title"`
	URL    string      `json:"url"`
}

func (p *NPMAuditParser) Parse(stdout string, stderr string) (ParseResult, error) {
	if emptyOutput(stdout) {
		return ParseResult{}, nil
	}
	var raw npmAuditOutput
	if err := json.Unmarshal([]byte(stdout), &raw); err != nil {
		return ParseResult{}, fmt.Errorf("npm audit json: %w", err)
	}
	if raw.Error != nil {
		return ParseResult{}, fmt.Errorf("npm audit %s: %s", raw.Error.Code, raw.Error.Summary)
	}

	names := make([]string, 0, len(raw.Vulnerabilities))
	for name := range raw.Vulnerabilities {
		names = append(names, name)
	}
	sort.Strings(names)

	var out ParseResult
	for _, name := range names {
		rawVuln := raw.Vulnerabilities[name]
		var v npmVulnerability
		if err := json.Unmarshal(rawVuln, &v); err != nil {
			out.Skipped = append(out.Skipped, fmt.Errorf("%s: %w", name, err))
			continue
		}
		out.Findings = append(out.Findings, finding.Finding{
			Rule:     "npm-advisory:" + name,
			Severity: finding.ParseSeverity(v.Severity),
			Location: finding.Location{File: "package.json"},
			Message:  fmt.Sprintf("%s %s: %s", name, v.Range, describeVia(v.Via)),
			Payload:  rawVuln,
		})
	}
	return out, nil
}

// describeVia summarizes the advisory chain. Entries are either advisory
// objects or names of other vulnerable packages.
func describeVia(via []json.RawMessage) string {
	var parts []string
	for _, raw := range via {
		var dep string
		if err := json.Unmarshal(raw, &dep); err == nil {
			parts = append(parts, "via "+dep)
			continue
		}
		var adv npmAdvisory
		if err := json.Unmarshal(raw, &adv); err == nil && adv.Title != "" {
			s := adv.Title
			if adv.URL != "" {
				s += " (" + adv.URL + ")"
			}
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return "vulnerable dependency"
	}
	return strings.Join(parts, "; ")
}
