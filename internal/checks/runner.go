package checks

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/reviewfactory/internal/finding"
)

// DefaultTimeout applies when a Tool does not set one.
const DefaultTimeout = 2 * time.Minute

// maxDiagnosticLen caps how much stderr is kept in a diagnostic.
const maxDiagnosticLen = 2000

// Tool describes one external analyzer invocation. Args are passed to the
// binary as-is; nothing is ever interpreted by a shell.
type Tool struct {
	Name     string
	Binary   string
	Args     []string
	Parser   string
	Category finding.Category
	Timeout  time.Duration
	// OKExitCodes are the exit statuses that mean the tool ran to completion,
	// including "issues found". Anything else is a crash. Defaults to {0}.
	OKExitCodes []int
}

func (t Tool) exitOK(code int) bool {
	if len(t.OKExitCodes) == 0 {
		return code == 0
	}
	for _, c := range t.OKExitCodes {
		if c == code {
			return true
		}
	}
	return false
}

// Result holds the normalized outcome of one tool run. A failed run still
// yields a Result: Failed is set and Diagnostics says why.
type Result struct {
	Tool        string            `json:"tool"`
	ExitCode    int               `json:"exit_code"`
	DurationMs  int               `json:"duration_ms"`
	Failed      bool              `json:"failed"`
	TimedOut    bool              `json:"timed_out,omitempty"`
	Summary     string            `json:"summary"`
	Findings    []finding.Finding `json:"findings"`
	Diagnostics []string          `json:"diagnostics,omitempty"`
	Notes       []string          `json:"notes,omitempty"`
}

func (r *Result) fail(format string, args ...interface{}) *Result {
	r.Failed = true
	r.Findings = nil
	r.Diagnostics = append(r.Diagnostics, r.Tool+": "+fmt.Sprintf(format, args...))
	r.Summary = "failed"
	return r
}

// CommandRunner abstracts command execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, dir string, name string, args ...string) (stdout string, stderr string, exitCode int, err error)
}

// ExecRunner implements CommandRunner with os/exec. The child gets its own
// process group so a deadline kills everything it spawned.
type ExecRunner struct {
	// WaitDelay bounds how long Wait blocks for output pipes after the
	// process is killed. Zero means 5s.
	WaitDelay time.Duration
}

func (e *ExecRunner) Run(ctx context.Context, dir string, name string, args ...string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	configureProcessGroup(cmd)
	cmd.WaitDelay = e.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 5 * time.Second
	}

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			exitCode = exitErr.ExitCode()
		} else {
			return stdoutBuf.String(), stderrBuf.String(), -1, fmt.Errorf("exec %s: %w", name, err)
		}
	}
	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// Runner executes tools and parses their output.
type Runner struct {
	cmd     CommandRunner
	parsers map[string]Parser
	logger  *zap.SugaredLogger
}

// NewRunner creates a Runner with the built-in parsers registered.
func NewRunner(cmd CommandRunner, logger *zap.SugaredLogger) *Runner {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	r := &Runner{
		cmd:     cmd,
		parsers: make(map[string]Parser),
		logger:  logger,
	}
	r.parsers["ruff"] = &RuffParser{}
	r.parsers["eslint"] = &ESLintParser{}
	r.parsers["bandit"] = &BanditParser{}
	r.parsers["semgrep"] = &SemgrepParser{}
	r.parsers["radon"] = &RadonParser{}
	r.parsers["npm-audit"] = &NPMAuditParser{}
	return r
}

// HasParser reports whether a parser is registered under name.
func (r *Runner) HasParser(name string) bool {
	_, ok := r.parsers[name]
	return ok
}

// Run executes a single tool in dir. It never returns an error: timeouts,
// crashes and unparsable output are reported through Result.Failed.
func (r *Runner) Run(ctx context.Context, dir string, tool Tool) *Result {
	timeout := tool.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	res := &Result{Tool: tool.Name}
	log := r.logger.With("tool", tool.Name)

	parser, ok := r.parsers[tool.Parser]
	if !ok {
		return res.fail("no parser registered for %q", tool.Parser)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	stdout, stderr, exitCode, err := r.cmd.Run(runCtx, dir, tool.Binary, tool.Args...)
	res.DurationMs = int(time.Since(start).Milliseconds())
	res.ExitCode = exitCode

	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			res.TimedOut = true
			log.Warnw("tool timed out", "timeout", timeout)
			return res.fail("timeout after %s", timeout)
		}
		if ctx.Err() != nil {
			return res.fail("canceled: %v", ctx.Err())
		}
		log.Errorw("tool could not be started", "error", err)
		return res.fail("%v", err)
	}
	if !tool.exitOK(exitCode) {
		log.Warnw("tool crashed", "exit_code", exitCode)
		return res.fail("exit code %d: %s", exitCode, tail(stderr))
	}

	parsed, err := parser.Parse(stdout, stderr)
	if err != nil {
		log.Warnw("unparsable tool output", "error", err)
		return res.fail("unparsable output: %v", err)
	}
	for _, skipped := range parsed.Skipped {
		log.Warnw("skipping malformed record", "error", skipped)
	}

	for i := range parsed.Findings {
		f := &parsed.Findings[i]
		f.Tool = tool.Name
		f.Category = tool.Category
		f.Location.File = relPath(dir, f.Location.File)
	}
	res.Findings = parsed.Findings
	res.Notes = parsed.Notes
	res.Summary = fmt.Sprintf("%d findings", len(parsed.Findings))
	if n := len(parsed.Skipped); n > 0 {
		res.Summary += fmt.Sprintf(", %d malformed records skipped", n)
	}
	log.Infow("tool finished", "exit_code", exitCode, "findings", len(res.Findings), "duration_ms", res.DurationMs)
	return res
}

// tail keeps the end of s; error summaries usually live there.
func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxDiagnosticLen {
		return "…" + s[len(s)-maxDiagnosticLen:]
	}
	return s
}

// relPath reports file relative to the repository root with forward slashes.
func relPath(dir, file string) string {
	if file == "" {
		return ""
	}
	if filepath.IsAbs(file) && dir != "" {
		if rel, err := filepath.Rel(dir, file); err == nil && !strings.HasPrefix(rel, "..") {
			file = rel
		}
	}
	return strings.TrimPrefix(filepath.ToSlash(file), "./")
}
