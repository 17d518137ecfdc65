// Package clone validates repository locations and makes shallow
// single-ref checkouts.
package clone

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"
)

var (
	// ErrInvalid marks a malformed URL or ref.
	ErrInvalid = errors.New("invalid repository reference")
	// ErrUnreachable means the repository could not be contacted.
	ErrUnreachable = errors.New("repository not reachable")
	// ErrRefNotFound means the repository exists but the ref does not.
	ErrRefNotFound = errors.New("ref not found")
)

var (
	commitRe = regexp.MustCompile(`^([0-9a-f]{40}|[0-9a-f]{64})$`)
	scpRe    = regexp.MustCompile(`^[A-Za-z0-9._-]+@[A-Za-z0-9.-]+:[A-Za-z0-9._~/-]+$`)
)

// GitRunner provides git commands. Interface for testing.
type GitRunner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// ExecGit implements GitRunner with the git binary. Prompts for
// credentials are disabled so an auth wall fails instead of hanging, and
// cancellation kills git's whole process group.
type ExecGit struct {
	// WaitDelay bounds how long Run waits for output after git is killed.
	// Zero means 5s.
	WaitDelay time.Duration
}

func (g *ExecGit) Run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	killGroupOnCancel(cmd)
	cmd.WaitDelay = g.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 5 * time.Second
	}
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "GIT_ASKPASS=", "GCM_INTERACTIVE=never")
	out, err := cmd.CombinedOutput()
	trimmed := strings.TrimSpace(string(out))
	if err != nil {
		return trimmed, fmt.Errorf("git %s: %s: %w", args[0], trimmed, err)
	}
	return trimmed, nil
}

// Options tunes a Cloner.
type Options struct {
	// Timeout bounds a single clone. Zero means 5 minutes.
	Timeout time.Duration
	// ProbeAttempts is how many times reachability is tried. Zero means 3.
	ProbeAttempts uint
	// ProbeDelay is the first backoff between probe attempts. Zero means 1s.
	ProbeDelay time.Duration
	// ProbeTimeout bounds each probe attempt. Zero means 20s.
	ProbeTimeout time.Duration
	// AllowFile accepts file:// URLs; used for local runs and tests.
	AllowFile bool
}

// Cloner checks out repositories.
type Cloner struct {
	git    GitRunner
	opts   Options
	logger *zap.SugaredLogger
}

// New creates a Cloner.
func New(git GitRunner, opts Options, logger *zap.SugaredLogger) *Cloner {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	if opts.ProbeAttempts == 0 {
		opts.ProbeAttempts = 3
	}
	if opts.ProbeDelay <= 0 {
		opts.ProbeDelay = time.Second
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 20 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Cloner{git: git, opts: opts, logger: logger}
}

// Validate checks repoURL and ref without touching the network.
func (c *Cloner) Validate(repoURL, ref string) error {
	if err := c.validateURL(repoURL); err != nil {
		return err
	}
	return ValidateRef(ref)
}

func (c *Cloner) validateURL(repoURL string) error {
	if repoURL == "" {
		return fmt.Errorf("%w: repository url is required", ErrInvalid)
	}
	if strings.HasPrefix(repoURL, "-") || strings.ContainsAny(repoURL, " \t\r\n") {
		return fmt.Errorf("%w: malformed repository url %q", ErrInvalid, repoURL)
	}
	if scpRe.MatchString(repoURL) {
		return nil
	}
	u, err := url.Parse(repoURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	switch u.Scheme {
	case "https", "http", "ssh", "git":
		if u.Host == "" || strings.Trim(u.Path, "/") == "" {
			return fmt.Errorf("%w: repository url %q needs a host and a path", ErrInvalid, repoURL)
		}
		return nil
	case "file":
		if c.opts.AllowFile && u.Path != "" {
			return nil
		}
	}
	return fmt.Errorf("%w: unsupported repository url %q", ErrInvalid, repoURL)
}

// ValidateRef accepts the empty ref (default branch) and anything git
// would accept as a branch, tag or full commit id.
func ValidateRef(ref string) error {
	if ref == "" {
		return nil
	}
	switch {
	case strings.HasPrefix(ref, "-"),
		strings.Contains(ref, ".."),
		strings.Contains(ref, "@{"),
		strings.HasSuffix(ref, ".lock"),
		strings.HasSuffix(ref, "/"),
		strings.HasSuffix(ref, "."):
		return fmt.Errorf("%w: malformed ref %q", ErrInvalid, ref)
	}
	for _, r := range ref {
		if r <= ' ' || r == 0x7f || strings.ContainsRune("~^:?*[\\", r) {
			return fmt.Errorf("%w: malformed ref %q", ErrInvalid, ref)
		}
	}
	return nil
}

// IsCommit reports whether ref is a full commit id.
func IsCommit(ref string) bool {
	return commitRe.MatchString(ref)
}

// Probe checks that repoURL answers, retrying transient failures.
func (c *Cloner) Probe(ctx context.Context, repoURL string) error {
	err := retry.Do(
		func() error {
			pctx, cancel := context.WithTimeout(ctx, c.opts.ProbeTimeout)
			defer cancel()
			_, err := c.git.Run(pctx, "", "ls-remote", "--quiet", "--", repoURL, "HEAD")
			return err
		},
		retry.Context(ctx),
		retry.Attempts(c.opts.ProbeAttempts),
		retry.Delay(c.opts.ProbeDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Debugw("repository probe failed, retrying", "url", repoURL, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s: %v", ErrUnreachable, repoURL, err)
	}
	return nil
}

// Clone makes a shallow checkout of ref into dir, which must not exist.
// An empty ref checks out the default branch.
func (c *Cloner) Clone(ctx context.Context, repoURL, ref, dir string) error {
	if err := c.Validate(repoURL, ref); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	start := time.Now()
	var err error
	if IsCommit(ref) {
		err = c.fetchCommit(ctx, repoURL, ref, dir)
	} else {
		args := []string{"clone", "--depth", "1", "--single-branch", "--no-tags"}
		if ref != "" {
			args = append(args, "--branch", ref)
		}
		args = append(args, "--", repoURL, dir)
		_, err = c.git.Run(ctx, "", args...)
	}
	if err != nil {
		os.RemoveAll(dir)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("clone %s: timed out after %s", repoURL, c.opts.Timeout)
		}
		return classify(repoURL, ref, err)
	}
	c.logger.Infow("repository cloned", "url", repoURL, "ref", ref, "duration", time.Since(start).Round(time.Millisecond))
	return nil
}

func (c *Cloner) fetchCommit(ctx context.Context, repoURL, sha, dir string) error {
	if _, err := c.git.Run(ctx, "", "init", "--quiet", "--", dir); err != nil {
		return err
	}
	steps := [][]string{
		{"remote", "add", "origin", "--", repoURL},
		{"fetch", "--depth", "1", "--no-tags", "origin", sha},
		{"checkout", "--quiet", "--detach", "FETCH_HEAD"},
	}
	for _, args := range steps {
		if _, err := c.git.Run(ctx, dir, args...); err != nil {
			return err
		}
	}
	return nil
}

// classify maps git's error text onto the package sentinels.
func classify(repoURL, ref string, err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "remote branch") && strings.Contains(msg, "not found"),
		strings.Contains(msg, "couldn't find remote ref"),
		strings.Contains(msg, "not our ref"),
		strings.Contains(msg, "unadvertised object"):
		return fmt.Errorf("%w: %s in %s", ErrRefNotFound, ref, repoURL)
	case strings.Contains(msg, "could not read from remote"),
		strings.Contains(msg, "repository not found"),
		strings.Contains(msg, "unable to access"),
		strings.Contains(msg, "could not resolve host"),
		strings.Contains(msg, "does not appear to be a git repository"),
		strings.Contains(msg, "authentication failed"):
		return fmt.Errorf("%w: %s: %v", ErrUnreachable, repoURL, err)
	}
	return fmt.Errorf("clone %s: %w", repoURL, err)
}
