// Package orchestrator accepts review requests, runs them in the background
// under a concurrency bound and tracks their lifecycle in the run store.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/lucasnoah/reviewfactory/internal/checks"
	"github.com/lucasnoah/reviewfactory/internal/clone"
	"github.com/lucasnoah/reviewfactory/internal/db"
	"github.com/lucasnoah/reviewfactory/internal/graph"
	"github.com/lucasnoah/reviewfactory/internal/metrics"
	"github.com/lucasnoah/reviewfactory/internal/pipeline"
	"github.com/lucasnoah/reviewfactory/internal/report"
	"github.com/lucasnoah/reviewfactory/internal/workflow"
	"github.com/lucasnoah/reviewfactory/internal/workspace"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrUnreachable    = clone.ErrUnreachable
	ErrNotFound       = pipeline.ErrNotFound
	ErrNotReady       = errors.New("report not ready")
	ErrRunFailed      = errors.New("run failed")
	ErrShuttingDown   = errors.New("orchestrator is shutting down")
)

// Request asks for one repository to be reviewed.
type Request struct {
	RepoURL string `json:"repo_url"`
	Ref     string `json:"ref,omitempty"`
	ScanID  string `json:"scan_id,omitempty"`
}

// Cloner is the checkout collaborator.
type Cloner interface {
	Validate(repoURL, ref string) error
	Probe(ctx context.Context, repoURL string) error
	Clone(ctx context.Context, repoURL, ref, dir string) error
}

// Workspaces hands out per-run scratch areas.
type Workspaces interface {
	Create() (*workspace.Workspace, error)
}

// Reviewer runs the review workflow over a checkout.
type Reviewer interface {
	Run(ctx context.Context, in workflow.Input) (*workflow.Output, error)
}

// EventSink receives the run event log. *db.DB satisfies it.
type EventSink interface {
	LogRunEvent(ctx context.Context, runID, event, stage, detail string) error
	LogToolRun(ctx context.Context, tr db.ToolRun) error
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) LogRunEvent(context.Context, string, string, string, string) error { return nil }
func (NopSink) LogToolRun(context.Context, db.ToolRun) error { return nil }

// Options tunes the orchestrator.
type Options struct {
	// MaxConcurrent bounds runs executing at once. Zero means 4.
	MaxConcurrent int
	// RunTimeout bounds one run from checkout to report. Zero means 30 minutes.
	RunTimeout time.Duration
	Metrics    *metrics.Metrics
	Logger     *zap.SugaredLogger
}

// Orchestrator composes clone, workspace and workflow into runs.
type Orchestrator struct {
	store      *pipeline.Store
	cloner     Cloner
	workspaces Workspaces
	reviewer   Reviewer
	events     EventSink
	metrics    *metrics.Metrics
	logger     *zap.SugaredLogger
	runTimeout time.Duration
	sem        *semaphore.Weighted

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
	done   map[string]chan struct{} // run id -> closed when the run settles
	byScan map[string]string        // active scan id -> run id
	newID  func() string
}

// NewOrchestrator creates an Orchestrator. events may be nil.
func NewOrchestrator(store *pipeline.Store, cloner Cloner, workspaces Workspaces, reviewer Reviewer, events EventSink, opts Options) *Orchestrator {
	if events == nil {
		events = NopSink{}
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 30 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:      store,
		cloner:     cloner,
		workspaces: workspaces,
		reviewer:   reviewer,
		events:     events,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		runTimeout: opts.RunTimeout,
		sem:        semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		baseCtx:    ctx,
		cancel:     cancel,
		done:       make(map[string]chan struct{}),
		byScan:     make(map[string]string),
		newID:      uuid.NewString,
	}
}

// Submit validates and probes the repository, records a queued run and
// starts it in the background. Invalid input and unreachable repositories
// are rejected before anything is created. A request whose scan id matches
// a run still in flight returns that run.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (*pipeline.RunState, error) {
	if err := o.cloner.Validate(req.RepoURL, req.Ref); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	if existing := o.activeScan(req.ScanID); existing != "" {
		if rs, err := o.store.Get(existing); err == nil {
			o.logger.Infow("scan already in flight", "scan_id", req.ScanID, "run_id", existing)
			return rs, nil
		}
	}

	if err := o.cloner.Probe(ctx, req.RepoURL); err != nil {
		return nil, err
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrShuttingDown
	}
	if id, ok := o.byScan[req.ScanID]; ok && req.ScanID != "" {
		o.mu.Unlock()
		return o.store.Get(id)
	}
	rs, err := o.store.Create(pipeline.CreateOpts{
		ID:      o.newID(),
		RepoURL: req.RepoURL,
		Ref:     req.Ref,
		ScanID:  req.ScanID,
	})
	if err != nil {
		o.mu.Unlock()
		return nil, fmt.Errorf("create run: %w", err)
	}
	done := make(chan struct{})
	o.done[rs.ID] = done
	if req.ScanID != "" {
		o.byScan[req.ScanID] = rs.ID
	}
	o.wg.Add(1)
	o.mu.Unlock()

	o.metrics.RunTransition("", string(pipeline.StatusQueued), false)
	_ = o.events.LogRunEvent(ctx, rs.ID, "queued", "", req.RepoURL)
	o.logger.Infow("run queued", "run_id", rs.ID, "repo_url", req.RepoURL, "ref", req.Ref, "scan_id", req.ScanID)

	go o.execute(rs.ID, req, done)
	return rs, nil
}

func (o *Orchestrator) activeScan(scanID string) string {
	if scanID == "" {
		return ""
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.byScan[scanID]
}

// execute runs on its own goroutine and always leaves the run terminal.
func (o *Orchestrator) execute(runID string, req Request, done chan struct{}) {
	logger := o.logger.With("run_id", runID)
	status := pipeline.StatusQueued

	defer func() {
		if r := recover(); r != nil {
			logger.Errorw("run panicked", "panic", r, "stack", string(debug.Stack()))
			o.finish(runID, status, nil, fmt.Errorf("internal error: %v", r))
		}
		o.mu.Lock()
		delete(o.done, runID)
		if req.ScanID != "" && o.byScan[req.ScanID] == runID {
			delete(o.byScan, req.ScanID)
		}
		o.mu.Unlock()
		close(done)
		o.wg.Done()
	}()

	if err := o.sem.Acquire(o.baseCtx, 1); err != nil {
		o.finish(runID, status, nil, ErrShuttingDown)
		return
	}
	defer o.sem.Release(1)

	now := time.Now().UTC()
	if _, err := o.store.Update(runID, func(rs *pipeline.RunState) {
		rs.Status = pipeline.StatusRunning
		rs.StartedAt = &now
	}); err != nil {
		logger.Errorw("mark running failed", "error", err)
	}
	o.metrics.RunTransition(string(status), string(pipeline.StatusRunning), false)
	status = pipeline.StatusRunning
	_ = o.events.LogRunEvent(o.baseCtx, runID, "running", "", "")

	ctx, cancel := context.WithTimeout(o.baseCtx, o.runTimeout)
	defer cancel()

	out, err := o.run(ctx, runID, req)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("run exceeded %s: %w", o.runTimeout, err)
	}
	o.finish(runID, status, out, err)
}

func (o *Orchestrator) run(ctx context.Context, runID string, req Request) (*workflow.Output, error) {
	ws, err := o.workspaces.Create()
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	// The workflow removes the workspace itself; this covers clone failures.
	defer ws.Remove()

	_ = o.events.LogRunEvent(ctx, runID, "clone_started", "", ws.Root)
	if err := o.cloner.Clone(ctx, req.RepoURL, req.Ref, ws.RepoDir); err != nil {
		return nil, fmt.Errorf("clone: %w", err)
	}

	return o.reviewer.Run(ctx, workflow.Input{
		RunID:     runID,
		RepoURL:   req.RepoURL,
		Ref:       req.Ref,
		RepoPath:  ws.RepoDir,
		Workspace: ws,
		OnStageDone: func(sr graph.StageReport) {
			o.recordStage(runID, sr)
		},
		OnToolDone: func(adapter string, res *checks.Result) {
			_ = o.events.LogToolRun(o.baseCtx, db.ToolRun{
				RunID:      runID,
				Adapter:    adapter,
				Tool:       res.Tool,
				Failed:     res.Failed,
				TimedOut:   res.TimedOut,
				ExitCode:   res.ExitCode,
				DurationMs: res.DurationMs,
				Findings:   len(res.Findings),
				Summary:    res.Summary,
			})
		},
	})
}

func (o *Orchestrator) recordStage(runID string, sr graph.StageReport) {
	rec := pipeline.StageRecord{
		Stage:      sr.Stage,
		Outcome:    string(sr.Outcome),
		DurationMs: sr.Duration.Milliseconds(),
	}
	if sr.Err != nil {
		rec.Error = sr.Err.Error()
	}
	if _, err := o.store.Update(runID, func(rs *pipeline.RunState) {
		rs.Stages = append(rs.Stages, rec)
	}); err != nil {
		o.logger.Warnw("record stage failed", "run_id", runID, "stage", sr.Stage, "error", err)
	}
	_ = o.events.LogRunEvent(o.baseCtx, runID, "stage_"+string(sr.Outcome), sr.Stage, rec.Error)
}

// finish writes the terminal status. A run is completed only when a report
// was produced.
func (o *Orchestrator) finish(runID string, from pipeline.Status, out *workflow.Output, runErr error) {
	final := pipeline.StatusCompleted
	reason := ""
	if runErr != nil || out == nil || out.Report == nil {
		final = pipeline.StatusFailed
		if runErr != nil {
			reason = runErr.Error()
		} else {
			reason = "no report produced"
		}
	}

	now := time.Now().UTC()
	if _, err := o.store.Update(runID, func(rs *pipeline.RunState) {
		rs.Status = final
		rs.Reason = reason
		rs.FinishedAt = &now
		if out != nil && out.Report != nil {
			summary := out.Report.Summary
			rs.Summary = &summary
		}
	}); err != nil {
		o.logger.Errorw("mark terminal failed", "run_id", runID, "error", err)
	}
	o.metrics.RunTransition(string(from), string(final), true)
	_ = o.events.LogRunEvent(context.Background(), runID, string(final), "", reason)

	if final == pipeline.StatusFailed {
		o.logger.Warnw("run failed", "run_id", runID, "reason", reason)
		return
	}
	o.logger.Infow("run completed", "run_id", runID, "findings", out.Report.Summary.Total)
}

// Status returns the current state of a run.
func (o *Orchestrator) Status(id string) (*pipeline.RunState, error) {
	return o.store.Get(id)
}

// List returns runs newest first, optionally filtered by status.
func (o *Orchestrator) List(status pipeline.Status) ([]pipeline.RunState, error) {
	return o.store.List(status)
}

// RunReport is a completed run with its report.
type RunReport struct {
	Run      *pipeline.RunState `json:"run"`
	Markdown string             `json:"markdown"`
	Document *report.Document   `json:"findings"`
}

// Report returns the report of a completed run. It fails with ErrNotReady
// while the run is queued or running and ErrRunFailed when it failed.
func (o *Orchestrator) Report(id string) (*RunReport, error) {
	rs, err := o.store.Get(id)
	if err != nil {
		return nil, err
	}
	switch rs.Status {
	case pipeline.StatusCompleted:
	case pipeline.StatusFailed:
		return &RunReport{Run: rs}, fmt.Errorf("%w: %s", ErrRunFailed, rs.Reason)
	default:
		return &RunReport{Run: rs}, ErrNotReady
	}

	md, err := o.store.LoadReport(id)
	if err != nil {
		return nil, fmt.Errorf("load report: %w", err)
	}
	var doc report.Document
	if err := o.store.LoadFindings(id, &doc); err != nil {
		return nil, fmt.Errorf("load findings: %w", err)
	}
	return &RunReport{Run: rs, Markdown: md, Document: &doc}, nil
}

// Wait blocks until the run settles or ctx ends, then returns its state.
func (o *Orchestrator) Wait(ctx context.Context, id string) (*pipeline.RunState, error) {
	o.mu.Lock()
	done, ok := o.done[id]
	o.mu.Unlock()
	if ok {
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return o.store.Get(id)
}

// Shutdown stops accepting runs, cancels those in flight and waits for them
// to record a terminal status or for ctx to end.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.cancel()

	finished := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
