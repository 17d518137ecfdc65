package checks

import (
	"strings"
	"testing"

	"github.com/lucasnoah/reviewfactory/internal/finding"
)

func TestRuffParser_Findings(t *testing.T) {
	input := `[
		{"code":"F401","message":"os imported but unused","filename":"app/main.py","location":{"row":1,"column":8}},
		{"code":"E501","message":"Line too long","filename":"app/main.py","location":{"row":12,"column":89}},
		{"code":null,"message":"SyntaxError: invalid syntax","filename":"app/bad.py","location":{"row":3,"column":1}}
	]`
	p := &RuffParser{}
	r, err := p.Parse(input, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r.Findings) != 3 {
		t.Fatalf("expected 3 findings, got %d", len(r.Findings))
	}
	if r.Findings[0].Rule != "F401" || r.Findings[0].Severity != finding.SeverityMedium {
		t.Errorf("unexpected first finding: %+v", r.Findings[0])
	}
	if r.Findings[1].Severity != finding.SeverityLow {
		t.Errorf("expected E501 to be low, got %q", r.Findings[1].Severity)
	}
	if r.Findings[2].Rule != "syntax-error" || r.Findings[2].Severity != finding.SeverityHigh {
		t.Errorf("unexpected syntax finding: %+v", r.Findings[2])
	}
	if r.Findings[0].Location.Line != 1 || r.Findings[0].Location.Column != 8 {
		t.Errorf("unexpected location: %+v", r.Findings[0].Location)
	}
	if len(r.Findings[0].Payload) == 0 {
		t.Error("expected raw payload to be kept")
	}
}

func TestRuffParser_EmptyAndInvalid(t *testing.T) {
	p := &RuffParser{}
	r, err := p.Parse("[]", "")
	if err != nil || len(r.Findings) != 0 {
		t.Errorf("expected no findings and no error, got %d / %v", len(r.Findings), err)
	}
	if _, err := p.Parse("", ""); err != nil {
		t.Errorf("empty output should parse, got %v", err)
	}
	if _, err := p.Parse("Traceback (most recent call last):", ""); err == nil {
		t.Error("expected error for non-JSON output")
	}
}

func TestRuffParser_SkipsMalformedRecord(t *testing.T) {
	input := `[
		{"code":"F401","message":"unused","filename":"a.py","location":{"row":1,"column":1}},
		{"code":"E1","message":"bad","filename":"b.py","location":"not-an-object"}
	]`
	p := &RuffParser{}
	r, err := p.Parse(input, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r.Findings) != 1 {
		t.Errorf("expected 1 finding, got %d", len(r.Findings))
	}
	if len(r.Skipped) != 1 {
		t.Errorf("expected 1 skipped record, got %d", len(r.Skipped))
	}
}

func TestESLintParser_Errors(t *testing.T) {
	input := `[{
		"filePath": "/repo/src/auth.ts",
		"messages": [
			{"ruleId": "no-unused-vars", "severity": 2, "message": "x is unused", "line": 42, "column": 5},
			{"ruleId": "semi", "severity": 1, "message": "Missing semicolon", "line": 10, "column": 20},
			{"ruleId": null, "fatal": true, "severity": 2, "message": "Parsing error", "line": 1, "column": 1}
		]
	}, {"filePath": "/repo/src/ok.ts", "messages": []}]`
	p := &ESLintParser{}
	r, err := p.Parse(input, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r.Findings) != 3 {
		t.Fatalf("expected 3 findings, got %d", len(r.Findings))
	}
	if r.Findings[0].Rule != "no-unused-vars" {
		t.Errorf("expected rule=no-unused-vars, got %q", r.Findings[0].Rule)
	}
	if r.Findings[0].Severity != finding.SeverityHigh {
		t.Errorf("expected severity=high, got %q", r.Findings[0].Severity)
	}
	if r.Findings[1].Severity != finding.SeverityMedium {
		t.Errorf("expected warning to map to medium, got %q", r.Findings[1].Severity)
	}
	if r.Findings[2].Rule != "parse-error" {
		t.Errorf("expected parse-error rule, got %q", r.Findings[2].Rule)
	}
	if r.Findings[0].Location.File != "/repo/src/auth.ts" {
		t.Errorf("unexpected file %q", r.Findings[0].Location.File)
	}
}

func TestESLintParser_InvalidJSON(t *testing.T) {
	p := &ESLintParser{}
	if _, err := p.Parse("Oops! Something went wrong!", ""); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestBanditParser(t *testing.T) {
	input := `{
		"errors": [{"filename": "app/broken.py", "reason": "syntax error while parsing AST from file"}],
		"results": [
			{"test_id": "B602", "test_name": "subprocess_popen_with_shell_equals_true", "issue_severity": "HIGH",
			 "issue_confidence": "HIGH", "issue_text": "subprocess call with shell=True", "filename": "app/run.py",
			 "line_number": 7, "col_offset": 4},
			{"test_id": "B101", "test_name": "assert_used", "issue_severity": "LOW", "issue_text": "assert used",
			 "filename": "tests/t.py", "line_number": "seven"}
		]
	}`
	p := &BanditParser{}
	r, err := p.Parse(input, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r.Findings) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(r.Findings))
	}
	f := r.Findings[0]
	if f.Severity != finding.SeverityHigh {
		t.Errorf("expected high, got %q", f.Severity)
	}
	if f.Location.Column != 5 {
		t.Errorf("expected 1-based column 5, got %d", f.Location.Column)
	}
	if !strings.HasPrefix(f.Rule, "B602") {
		t.Errorf("unexpected rule %q", f.Rule)
	}
	if len(r.Skipped) != 1 {
		t.Errorf("expected 1 skipped record, got %d", len(r.Skipped))
	}
	if len(r.Notes) != 1 || !strings.Contains(r.Notes[0], "app/broken.py") {
		t.Errorf("expected scan error note, got %v", r.Notes)
	}
}

func TestSemgrepParser(t *testing.T) {
	input := `{"results": [
		{"check_id": "javascript.lang.security.audit.eval", "path": "web/app.js",
		 "start": {"line": 3, "col": 1}, "extra": {"message": "eval detected", "severity": "ERROR"}},
		{"check_id": "python.flask.debug", "path": "app/main.py",
		 "start": {"line": 9, "col": 5}, "extra": {"message": "debug on", "severity": "WARNING"}}
	], "errors": []}`
	p := &SemgrepParser{}
	r, err := p.Parse(input, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r.Findings) != 2 {
		t.Fatalf("expected 2 findings, got %d", len(r.Findings))
	}
	if r.Findings[0].Severity != finding.SeverityHigh || r.Findings[1].Severity != finding.SeverityMedium {
		t.Errorf("unexpected severities: %q, %q", r.Findings[0].Severity, r.Findings[1].Severity)
	}
	if r.Findings[1].Location.String() != "app/main.py:9:5" {
		t.Errorf("unexpected location %q", r.Findings[1].Location.String())
	}
}

func TestRadonParser(t *testing.T) {
	input := `{
		"b.py": [
			{"type": "function", "name": "tangled", "lineno": 4, "col_offset": 0, "complexity": 25, "rank": "D"},
			{"type": "class", "name": "Thing", "lineno": 20, "col_offset": 0, "complexity": 12, "rank": "C"},
			{"type": "method", "name": "run", "classname": "Thing", "lineno": 21, "col_offset": 4, "complexity": 3}
		],
		"a.py": {"error": "invalid syntax (<unknown>, line 2)"}
	}`
	p := &RadonParser{}
	r, err := p.Parse(input, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r.Findings) != 2 {
		t.Fatalf("expected 2 findings (class skipped), got %d", len(r.Findings))
	}
	f := r.Findings[0]
	if f.Rank != "D" || f.Severity != finding.SeverityMedium {
		t.Errorf("expected rank D / medium, got %q / %q", f.Rank, f.Severity)
	}
	if !strings.Contains(f.Message, "complexity 25") {
		t.Errorf("unexpected message %q", f.Message)
	}
	if r.Findings[1].Rank != "A" {
		t.Errorf("expected rank derived from complexity, got %q", r.Findings[1].Rank)
	}
	if !strings.Contains(r.Findings[1].Message, "Thing.run") {
		t.Errorf("expected qualified method name, got %q", r.Findings[1].Message)
	}
	if len(r.Skipped) != 1 || !strings.Contains(r.Skipped[0].Error(), "a.py") {
		t.Errorf("expected a.py to be skipped, got %v", r.Skipped)
	}
}

func TestNPMAuditParser(t *testing.T) {
	input := `{
		"auditReportVersion": 2,
		"vulnerabilities": {
			"minimist": {"name": "minimist", "severity": "critical", "range": "<1.2.6",
				"via": [{"source": 1179, "title": "Prototype Pollution in minimist", "url": "https://github.com/advisories/GHSA-xvch-5gv4-984h"}]},
			"mkdirp": {"name": "mkdirp", "severity": "moderate", "range": "0.4.1 - 0.5.1", "via": ["minimist"]}
		},
		"metadata": {"vulnerabilities": {"critical": 1, "moderate": 1, "total": 2}}
	}`
	p := &NPMAuditParser{}
	r, err := p.Parse(input, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r.Findings) != 2 {
		t.Fatalf("expected 2 findings, got %d", len(r.Findings))
	}
	if r.Findings[0].Severity != finding.SeverityCritical {
		t.Errorf("expected critical, got %q", r.Findings[0].Severity)
	}
	if !strings.Contains(r.Findings[0].Message, "Prototype Pollution") {
		t.Errorf("unexpected message %q", r.Findings[0].Message)
	}
	if r.Findings[1].Severity != finding.SeverityMedium || !strings.Contains(r.Findings[1].Message, "via minimist") {
		t.Errorf("unexpected second finding: %+v", r.Findings[1])
	}
	if r.Findings[0].Rule != "npm-advisory:minimist" || r.Findings[1].Rule != "npm-advisory:mkdirp" {
		t.Errorf("expected per-package rules, got %q and %q", r.Findings[0].Rule, r.Findings[1].Rule)
	}
}

func TestNPMAuditParser_ErrorDocument(t *testing.T) {
	input := `{"error": {"code": "ENOLOCK", "summary": "This command requires an existing lockfile."}}`
	p := &NPMAuditParser{}
	if _, err := p.Parse(input, ""); err == nil || !strings.Contains(err.Error(), "ENOLOCK") {
		t.Errorf("expected ENOLOCK error, got %v", err)
	}
}
