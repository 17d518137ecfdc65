// Package pipeline persists review runs as JSON documents on disk.
package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned for unknown run ids.
var ErrNotFound = errors.New("run not found")

var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

const (
	runFile      = "run.json"
	reportFile   = "report.md"
	findingsFile = "findings.json"
)

// Store manages run state on disk, one directory per run:
//
//	<base>/<id>/run.json
//	<base>/<id>/report.md
//	<base>/<id>/findings.json
type Store struct {
	baseDir string
	mu      sync.Mutex
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// BaseDir returns the store's root directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

func (s *Store) runDir(id string) (string, error) {
	if !validID.MatchString(id) {
		return "", fmt.Errorf("%w: invalid run id %q", ErrNotFound, id)
	}
	return filepath.Join(s.baseDir, id), nil
}

// CreateOpts describes a new run.
type CreateOpts struct {
	ID      string
	RepoURL string
	Ref     string
	ScanID  string
}

// Create writes a new queued run.
func (s *Store) Create(opts CreateOpts) (*RunState, error) {
	dir, err := s.runDir(opts.ID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("run %s already exists", opts.ID)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir run dir: %w", err)
	}

	now := time.Now().UTC()
	rs := &RunState{
		ID:        opts.ID,
		RepoURL:   opts.RepoURL,
		Ref:       opts.Ref,
		ScanID:    opts.ScanID,
		Status:    StatusQueued,
		Stages:    []StageRecord{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := WriteJSON(filepath.Join(dir, runFile), rs); err != nil {
		return nil, fmt.Errorf("write run.json: %w", err)
	}
	return rs, nil
}

// Get reads the state of a run.
func (s *Store) Get(id string) (*RunState, error) {
	dir, err := s.runDir(id)
	if err != nil {
		return nil, err
	}
	var rs RunState
	if err := ReadJSON(filepath.Join(dir, runFile), &rs); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	return &rs, nil
}

// Update performs a serialized read-modify-write of a run.
func (s *Store) Update(id string, fn func(*RunState)) (*RunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	fn(rs)
	rs.UpdatedAt = time.Now().UTC()
	dir, _ := s.runDir(id)
	if err := WriteJSON(filepath.Join(dir, runFile), rs); err != nil {
		return nil, err
	}
	return rs, nil
}

// List returns all runs, newest first, optionally filtered by status.
// Pass "" to return every run.
func (s *Store) List(status Status) ([]RunState, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", s.baseDir, err)
	}

	var runs []RunState
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		rs, err := s.Get(entry.Name())
		if err != nil {
			continue // skip broken entries
		}
		if status == "" || rs.Status == status {
			runs = append(runs, *rs)
		}
	}

	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.After(runs[j].CreatedAt)
		}
		return runs[i].ID < runs[j].ID
	})
	return runs, nil
}

// Delete removes all data for a run.
func (s *Store) Delete(id string) error {
	dir, err := s.runDir(id)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return os.RemoveAll(dir)
}

// SaveReport writes the rendered markdown report.
func (s *Store) SaveReport(id, markdown string) error {
	dir, err := s.existingRunDir(id)
	if err != nil {
		return err
	}
	return WriteAtomic(filepath.Join(dir, reportFile), []byte(markdown))
}

// LoadReport reads the rendered markdown report.
func (s *Store) LoadReport(id string) (string, error) {
	dir, err := s.runDir(id)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(dir, reportFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: no report for %s", ErrNotFound, id)
		}
		return "", err
	}
	return string(data), nil
}

// SaveFindings writes v as findings.json.
func (s *Store) SaveFindings(id string, v interface{}) error {
	dir, err := s.existingRunDir(id)
	if err != nil {
		return err
	}
	return WriteJSON(filepath.Join(dir, findingsFile), v)
}

// LoadFindings reads findings.json into v.
func (s *Store) LoadFindings(id string, v interface{}) error {
	dir, err := s.runDir(id)
	if err != nil {
		return err
	}
	if err := ReadJSON(filepath.Join(dir, findingsFile), v); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: no findings for %s", ErrNotFound, id)
		}
		return err
	}
	return nil
}

func (s *Store) existingRunDir(id string) (string, error) {
	dir, err := s.runDir(id)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(filepath.Join(dir, runFile)); err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return dir, nil
}
