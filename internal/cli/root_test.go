package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/lucasnoah/reviewfactory/internal/checks"
	"github.com/lucasnoah/reviewfactory/internal/pipeline"
	"github.com/spf13/cobra"
)

func executeCommand(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	resetHelpFlags(rootCmd)
	err := rootCmd.Execute()
	return buf.String(), err
}

// resetHelpFlags clears --help left set on the shared command tree by a
// previous executeCommand call.
func resetHelpFlags(cmd *cobra.Command) {
	if f := cmd.Flags().Lookup("help"); f != nil {
		_ = f.Value.Set("false")
		f.Changed = false
	}
	for _, c := range cmd.Commands() {
		resetHelpFlags(c)
	}
}

// fakeRunner stands in for the analysis tools.
type fakeRunner struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeRunner) Run(_ context.Context, _ string, name string, _ ...string) (string, string, int, error) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
	switch name {
	case "ruff":
		return `[{"code":"F401","message":"'os' imported but unused","filename":"app/util.py","location":{"row":1,"column":8}}]`, "", 0, nil
	case "bandit":
		return `{"results":[],"errors":[]}`, "", 0, nil
	case "semgrep":
		return `{"results":[],"errors":[]}`, "", 0, nil
	case "radon":
		return `{}`, "", 0, nil
	}
	return "", "", 0, nil
}

func writeConfig(t *testing.T) (cfgPath, storeDir string) {
	t.Helper()
	dir := t.TempDir()
	storeDir = filepath.Join(dir, "runs")
	cfg := "store:\n  dir: " + storeDir + "\n" +
		"workspace:\n  base_dir: " + filepath.Join(dir, "scratch") + "\n" +
		"llm:\n  provider: none\n" +
		"log:\n  level: error\n"
	cfgPath = filepath.Join(dir, "reviewfactory.yaml")
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return cfgPath, storeDir
}

func TestVersionCommand(t *testing.T) {
	SetVersion("test-version")
	out, err := executeCommand("version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "test-version") {
		t.Errorf("expected version output to contain 'test-version', got: %s", out)
	}
}

func TestRootHelp(t *testing.T) {
	out, err := executeCommand("--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, sub := range []string{"serve", "analyze", "runs", "config", "db", "version"} {
		if !strings.Contains(out, sub) {
			t.Errorf("help output missing subcommand %q", sub)
		}
	}
}

func TestSubcommandHelp(t *testing.T) {
	cases := [][]string{
		{"runs", "list"}, {"runs", "status"}, {"runs", "report"},
		{"config", "validate"}, {"config", "show"},
		{"db", "migrate"}, {"db", "reset"},
	}
	for _, c := range cases {
		out, err := executeCommand(append(c, "--help")...)
		if err != nil {
			t.Errorf("%v --help failed: %v", c, err)
		}
		if out == "" {
			t.Errorf("%v --help produced no output", c)
		}
	}
}

func TestConfigValidateAndShow(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	out, err := executeCommand("config", "validate", "-c", cfgPath)
	if err != nil {
		t.Fatalf("validate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Configuration is valid.") {
		t.Errorf("unexpected validate output: %s", out)
	}

	out, err = executeCommand("config", "show", "-c", cfgPath)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	for _, want := range []string{"provider: none", "resolver: concat", "run_timeout: 30m"} {
		if !strings.Contains(out, want) {
			t.Errorf("show output missing %q:\n%s", want, out)
		}
	}
}

func TestConfigValidateReportsErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("analysis:\n  resolver: vote\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := executeCommand("config", "validate", "-c", path)
	if err == nil {
		t.Fatal("expected validation failure")
	}
	if !strings.Contains(out, "resolver") {
		t.Errorf("expected resolver error, got: %s", out)
	}
}

func TestRunsListEmpty(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	out, err := executeCommand("runs", "list", "-c", cfgPath, "--status", "", "--format", "text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "No runs found.") {
		t.Errorf("unexpected output: %s", out)
	}

	if _, err := executeCommand("runs", "list", "-c", cfgPath, "--status", "paused", "--format", "text"); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestRunsStatusAndReportNotReady(t *testing.T) {
	cfgPath, storeDir := writeConfig(t)
	store := pipeline.NewStore(storeDir)
	rs, err := store.Create(pipeline.CreateOpts{ID: "run-1", RepoURL: "https://example.com/r.git"})
	if err != nil {
		t.Fatal(err)
	}

	out, err := executeCommand("runs", "status", rs.ID, "-c", cfgPath, "--format", "text")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "queued") || !strings.Contains(out, "https://example.com/r.git") {
		t.Errorf("unexpected status output: %s", out)
	}

	if _, err := executeCommand("runs", "report", rs.ID, "-c", cfgPath, "--format", "markdown"); err == nil || !strings.Contains(err.Error(), "not ready") {
		t.Errorf("expected not ready error, got %v", err)
	}

	if _, err := executeCommand("runs", "status", "missing", "-c", cfgPath, "--format", "text"); err == nil {
		t.Error("expected error for unknown run")
	}
}

func TestAnalyzeLocalDirectory(t *testing.T) {
	fake := &fakeRunner{}
	orig := newCommandRunner
	newCommandRunner = func() checks.CommandRunner { return fake }
	t.Cleanup(func() { newCommandRunner = orig })

	cfgPath, storeDir := writeConfig(t)
	repo := t.TempDir()
	for rel, content := range map[string]string{
		"app/main.py": "def main():\n    return 1\n",
		"app/util.py": "import os\n",
	} {
		p := filepath.Join(repo, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	out, err := executeCommand("analyze", repo, "-c", cfgPath, "--ref", "", "--format", "markdown")
	if err != nil {
		t.Fatalf("analyze: %v\n%s", err, out)
	}
	if !strings.Contains(out, "F401") {
		t.Errorf("report missing ruff finding:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(repo, "app", "util.py")); err != nil {
		t.Errorf("source tree was modified: %v", err)
	}

	runs, err := pipeline.NewStore(storeDir).List(pipeline.StatusCompleted)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected one completed run, got %d", len(runs))
	}
	if runs[0].Summary == nil || runs[0].Summary.Total != 1 {
		t.Errorf("unexpected summary: %+v", runs[0].Summary)
	}

	out, err = executeCommand("runs", "report", runs[0].ID, "-c", cfgPath, "--format", "json")
	if err != nil {
		t.Fatalf("runs report: %v", err)
	}
	var rr struct {
		Markdown string `json:"markdown"`
		Findings struct {
			RunID string `json:"run_id"`
		} `json:"findings"`
	}
	if err := json.Unmarshal([]byte(out), &rr); err != nil {
		t.Fatalf("decode report json: %v\n%s", err, out)
	}
	if rr.Findings.RunID != runs[0].ID || !strings.Contains(rr.Markdown, "F401") {
		t.Errorf("unexpected report json: %+v", rr)
	}

	entries, _ := os.ReadDir(filepath.Join(filepath.Dir(cfgPath), "scratch"))
	if len(entries) != 0 {
		t.Errorf("workspace not cleaned up: %d entries left", len(entries))
	}
}

func TestAnalyzeRejectsUnknownFormat(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	_, err := executeCommand("analyze", t.TempDir(), "-c", cfgPath, "--format", "xml")
	if err == nil || !strings.Contains(err.Error(), "unknown format") {
		t.Errorf("expected format error, got %v", err)
	}
}

func TestRunsStatsFromStore(t *testing.T) {
	cfgPath, storeDir := writeConfig(t)
	store := pipeline.NewStore(storeDir)
	if _, err := store.Create(pipeline.CreateOpts{ID: "run-s", RepoURL: "https://example.com/r.git"}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Update("run-s", func(rs *pipeline.RunState) {
		rs.Stages = append(rs.Stages, pipeline.StageRecord{Stage: "audit", Outcome: "succeeded", DurationMs: 1500})
	}); err != nil {
		t.Fatal(err)
	}

	out, err := executeCommand("runs", "stats", "-c", cfgPath, "--format", "json", "--since", "1h")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	var rep struct {
		Stages []struct {
			Stage string  `json:"stage"`
			Count int     `json:"count"`
			Avg   float64 `json:"avg_seconds"`
		} `json:"stages"`
	}
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(rep.Stages) != 1 || rep.Stages[0].Stage != "audit" || rep.Stages[0].Avg != 1.5 {
		t.Errorf("unexpected stages: %+v", rep.Stages)
	}
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reviewfactory.yaml")
	out, err := executeCommand("config", "init", path, "--force=false")
	if err != nil {
		t.Fatalf("init: %v\n%s", err, out)
	}
	if _, err := executeCommand("config", "validate", "-c", path); err != nil {
		t.Errorf("generated config does not validate: %v", err)
	}
	if _, err := executeCommand("config", "init", path, "--force=false"); err == nil {
		t.Error("expected refusal to overwrite")
	}
}
