// Package workspace owns the scratch directories runs clone into.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultPrefix names workspace directories so Sweep can recognize them.
const DefaultPrefix = "reviewfactory-"

// Manager creates and sweeps workspaces under a base directory.
type Manager struct {
	baseDir string
	prefix  string
	logger  *zap.SugaredLogger
}

// NewManager creates a workspace manager. An empty baseDir means os.TempDir().
func NewManager(baseDir, prefix string, logger *zap.SugaredLogger) *Manager {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Manager{baseDir: baseDir, prefix: prefix, logger: logger}
}

// Workspace is one run's scratch area:
//
//	<Root>/repo     the checkout analyzed by every stage
//	<Root>/scratch  transient files tools need but the repo must not see
type Workspace struct {
	Root    string
	RepoDir string

	scratch string
	logger  *zap.SugaredLogger

	mu      sync.Mutex
	removed bool
}

// Create makes a fresh workspace. RepoDir does not exist yet; the cloner
// creates it.
func (m *Manager) Create() (*Workspace, error) {
	if err := os.MkdirAll(m.baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace base: %w", err)
	}
	root, err := os.MkdirTemp(m.baseDir, m.prefix)
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	ws := &Workspace{
		Root:    root,
		RepoDir: filepath.Join(root, "repo"),
		scratch: filepath.Join(root, "scratch"),
		logger:  m.logger,
	}
	if err := os.Mkdir(ws.scratch, 0o700); err != nil {
		os.RemoveAll(root)
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	m.logger.Debugw("workspace created", "root", root)
	return ws, nil
}

// Remove deletes the workspace. Safe to call repeatedly and concurrently;
// only the first call does any work.
func (w *Workspace) Remove() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.removed {
		return nil
	}
	if err := os.RemoveAll(w.Root); err != nil {
		return fmt.Errorf("remove workspace %s: %w", w.Root, err)
	}
	w.removed = true
	w.logger.Debugw("workspace removed", "root", w.Root)
	return nil
}

// Removed reports whether Remove has completed.
func (w *Workspace) Removed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.removed
}

// TempFile writes content to a new file in the scratch area and returns its
// path with a cleanup func. The file lives outside RepoDir, so sibling tools
// scanning the checkout never see it.
func (w *Workspace) TempFile(pattern string, content []byte) (string, func(), error) {
	f, err := os.CreateTemp(w.scratch, pattern)
	if err != nil {
		return "", func() {}, fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()
	cleanup := func() { os.Remove(path) }
	if _, err := f.Write(content); err != nil {
		f.Close()
		cleanup()
		return "", func() {}, fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("close temp file: %w", err)
	}
	return path, cleanup, nil
}

// Sweep removes workspaces older than olderThan, left behind by a crashed
// process. It returns how many were removed.
func (m *Manager) Sweep(olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(m.baseDir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read workspace base: %w", err)
	}
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), m.prefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(m.baseDir, e.Name())
		if err := os.RemoveAll(path); err != nil {
			m.logger.Warnw("could not sweep workspace", "path", path, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		m.logger.Infow("swept stale workspaces", "count", removed)
	}
	return removed, nil
}
