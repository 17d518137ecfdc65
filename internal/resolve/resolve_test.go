package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/reviewfactory/internal/finding"
)

func f(tool, file string, line int, rule string, sev finding.Severity) finding.Finding {
	return finding.Finding{Tool: tool, Rule: rule, Severity: sev, Location: finding.Location{File: file, Line: line}}
}

func sample() []finding.Collection {
	return []finding.Collection{
		{Adapter: "performance", Findings: []finding.Finding{f("radon", "b.py", 4, "cyclomatic-complexity", finding.SeverityMedium)}},
		{Adapter: "style", Findings: []finding.Finding{
			f("ruff", "a.py", 1, "F401", finding.SeverityMedium),
			f("ruff", "a.py", 9, "E501", finding.SeverityLow),
		}},
		{Adapter: "security", Findings: []finding.Finding{f("bandit", "a.py", 9, "e501", finding.SeverityHigh)}},
	}
}

func TestConcat_GroupsByAdapter(t *testing.T) {
	out := Concat{}.Resolve(sample())
	require.Len(t, out, 4)
	assert.Equal(t, []string{"ruff", "ruff", "bandit", "radon"}, tools(out))
	assert.Equal(t, "F401", out[0].Rule)
	assert.Equal(t, "E501", out[1].Rule)
}

func TestConcat_IsOrderIndependent(t *testing.T) {
	in := sample()
	perms := [][3]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}
	want := Concat{}.Resolve(in)
	for _, p := range perms {
		got := Concat{}.Resolve([]finding.Collection{in[p[0]], in[p[1]], in[p[2]]})
		assert.Equal(t, want, got, "perm %v", p)
	}
}

func TestConcat_MissingAndSkipped(t *testing.T) {
	out := Concat{}.Resolve([]finding.Collection{
		{Adapter: "style", Skipped: true},
		{Adapter: "security", Diagnostics: []string{"bandit: timeout after 5m0s"}},
	})
	assert.Empty(t, out)
	assert.Empty(t, Concat{}.Resolve(nil))
}

func TestConcat_UnknownAdaptersLast(t *testing.T) {
	out := Concat{}.Resolve([]finding.Collection{
		{Adapter: "zeta", Findings: []finding.Finding{f("z", "", 0, "", finding.SeverityInfo)}},
		{Adapter: "alpha", Findings: []finding.Finding{f("a", "", 0, "", finding.SeverityInfo)}},
		{Adapter: "style", Findings: []finding.Finding{f("ruff", "", 0, "", finding.SeverityInfo)}},
	})
	assert.Equal(t, []string{"ruff", "a", "z"}, tools(out))
}

func TestDedupe_KeepsMostSevere(t *testing.T) {
	out := Dedupe{}.Resolve(sample())
	require.Len(t, out, 3)
	assert.Equal(t, "bandit", out[0].Tool, "high severity first")
	assert.Equal(t, finding.SeverityHigh, out[0].Severity)
	assert.Equal(t, []string{"bandit", "ruff", "radon"}, tools(out))
}

func TestDedupe_KeepsFindingsWithoutLine(t *testing.T) {
	advisories := []finding.Finding{
		f("npm-audit", "package.json", 0, "npm-advisory:lodash", finding.SeverityHigh),
		f("npm-audit", "package.json", 0, "npm-advisory:minimist", finding.SeverityCritical),
		f("npm-audit", "package.json", 0, "npm-advisory:axios", finding.SeverityMedium),
		f("semgrep", "app.js", 0, "", finding.SeverityLow),
		f("eslint", "app.js", 0, "", finding.SeverityLow),
	}
	out := Dedupe{}.Resolve([]finding.Collection{{Adapter: "security", Findings: advisories}})
	require.Len(t, out, 5)
	assert.Equal(t, finding.SeverityCritical, out[0].Severity)
	assert.Equal(t, "npm-advisory:minimist", out[0].Rule)
}

func TestDedupe_DoesNotMutateInput(t *testing.T) {
	in := sample()
	_ = Dedupe{}.Resolve(in)
	assert.Equal(t, "performance", in[0].Adapter)
	assert.Len(t, in[1].Findings, 2)
}

func TestNew(t *testing.T) {
	r, err := New("")
	require.NoError(t, err)
	assert.IsType(t, Concat{}, r)
	r, err = New(StrategyDedupe)
	require.NoError(t, err)
	assert.IsType(t, Dedupe{}, r)
	_, err = New("magic")
	require.Error(t, err)
}

func tools(fs []finding.Finding) []string {
	var out []string
	for _, x := range fs {
		out = append(out, x.Tool)
	}
	return out
}
