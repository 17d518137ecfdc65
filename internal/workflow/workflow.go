// Package workflow declares the review graph: audit, then the three
// analysis adapters in parallel, then resolve, then report.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lucasnoah/reviewfactory/internal/analyzer"
	"github.com/lucasnoah/reviewfactory/internal/audit"
	"github.com/lucasnoah/reviewfactory/internal/checks"
	"github.com/lucasnoah/reviewfactory/internal/finding"
	"github.com/lucasnoah/reviewfactory/internal/graph"
	"github.com/lucasnoah/reviewfactory/internal/metrics"
	"github.com/lucasnoah/reviewfactory/internal/report"
	"github.com/lucasnoah/reviewfactory/internal/resolve"
)

// State fields.
const (
	FieldRepoPath    = "repo_path"
	FieldInventory   = "inventory"
	FieldCollections = "collections"
	FieldMerged      = "merged"
	FieldReport      = "report"
)

// Stage names. The adapter stages use the adapter names.
const (
	StageAudit   = "audit"
	StageResolve = "resolve"
	StageReport  = "report"
)

// ErrIncomplete is returned when the report stage did not succeed.
var ErrIncomplete = errors.New("review did not produce a report")

// Workspace is the run's scratch area as the workflow sees it.
type Workspace interface {
	analyzer.Scratch
	Remove() error
}

// AdapterFactory builds the adapters for one run. scratch is nil when the
// run has no workspace; onTool must be installed as the adapters' tool hook.
type AdapterFactory func(scratch analyzer.Scratch, onTool func(adapter string, res *checks.Result)) *analyzer.Registry

// Input describes one run.
type Input struct {
	RunID    string
	RepoURL  string
	Ref      string
	RepoPath string
	// Workspace, when set, is removed as the report stage's last action and
	// again when Run returns.
	Workspace Workspace
	// OnStageDone is called as each stage settles.
	OnStageDone func(graph.StageReport)
	// OnToolDone is called after every external tool run.
	OnToolDone func(adapter string, res *checks.Result)
}

// Output is the final state of a run.
type Output struct {
	Inventory   *audit.Inventory
	Collections []finding.Collection
	Merged      []finding.Finding
	Report      *report.Report
	Stages      []graph.StageReport
}

// Workflow runs reviews.
type Workflow struct {
	auditor     *audit.Auditor
	adapters    AdapterFactory
	resolver    resolve.Resolver
	reporter    *report.Reporter
	metrics     *metrics.Metrics
	logger      *zap.SugaredLogger
	tracer      trace.Tracer
	maxParallel int
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithMetrics records stage and finding metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Workflow) { w.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(w *Workflow) { w.logger = l }
}

// WithTracer sets the tracer for stage spans.
func WithTracer(t trace.Tracer) Option {
	return func(w *Workflow) { w.tracer = t }
}

// WithMaxParallel bounds concurrently running stages.
func WithMaxParallel(n int) Option {
	return func(w *Workflow) { w.maxParallel = n }
}

// New creates a Workflow. A nil resolver means concatenation.
func New(auditor *audit.Auditor, adapters AdapterFactory, resolver resolve.Resolver, reporter *report.Reporter, opts ...Option) *Workflow {
	if resolver == nil {
		resolver = resolve.Concat{}
	}
	w := &Workflow{
		auditor:  auditor,
		adapters: adapters,
		resolver: resolver,
		reporter: reporter,
		logger:   zap.NewNop().Sugar(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// failureLog collects adapter stages that failed outright so the report
// can say why their findings are missing.
type failureLog struct {
	mu    sync.Mutex
	notes []string
}

func (l *failureLog) record(sr graph.StageReport) {
	if sr.Outcome != graph.OutcomeFailed {
		return
	}
	switch sr.Stage {
	case StageAudit, StageResolve, StageReport:
		return
	}
	l.mu.Lock()
	l.notes = append(l.notes, fmt.Sprintf("%s: adapter failed: %v", sr.Stage, sr.Err))
	l.mu.Unlock()
}

func (l *failureLog) list() []string {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := append([]string(nil), l.notes...)
	sort.Strings(out)
	return out
}

// Build wires the review graph for one run.
func (w *Workflow) Build(in Input) (*graph.Graph, error) {
	return w.build(in, nil)
}

func (w *Workflow) build(in Input, failures *failureLog) (*graph.Graph, error) {
	var scratch analyzer.Scratch
	if in.Workspace != nil {
		scratch = in.Workspace
	}
	registry := w.adapters(scratch, func(adapter string, res *checks.Result) {
		w.metrics.ObserveTool(res.Tool, res.Failed, res.TimedOut, time.Duration(res.DurationMs)*time.Millisecond)
		if in.OnToolDone != nil {
			in.OnToolDone(adapter, res)
		}
	})

	b := graph.NewBuilder().
		AddField(graph.Replace(FieldRepoPath)).
		AddField(graph.Replace(FieldInventory)).
		AddField(graph.Append[finding.Collection](FieldCollections)).
		AddField(graph.Replace(FieldMerged)).
		AddField(graph.Replace(FieldReport)).
		AddStage(graph.Stage{
			Name:     StageAudit,
			Writes:   []string{FieldInventory},
			Critical: true,
			Run:      w.auditStage,
		})

	names := registry.Names()
	for _, name := range names {
		adapter, _ := registry.Get(name)
		b.AddStage(graph.Stage{
			Name:   name,
			After:  []string{StageAudit},
			Writes: []string{FieldCollections},
			Run:    w.adapterStage(adapter),
		})
	}

	return b.
		AddStage(graph.Stage{
			Name:   StageResolve,
			After:  names,
			Writes: []string{FieldMerged},
			Run:    w.resolveStage,
		}).
		AddStage(graph.Stage{
			Name:   StageReport,
			After:  []string{StageResolve},
			Writes: []string{FieldReport},
			Run:    w.reportStage(in, failures),
		}).
		SetEntry(StageAudit).
		SetTerminal(StageReport).
		Build()
}

// Run executes the review. The workspace is removed before Run returns
// whatever happens to the stages.
func (w *Workflow) Run(ctx context.Context, in Input) (*Output, error) {
	logger := w.logger.With("run_id", in.RunID)
	if in.Workspace != nil {
		defer func() {
			if err := in.Workspace.Remove(); err != nil {
				logger.Errorw("workspace cleanup failed", "error", err)
			}
		}()
	}

	failures := &failureLog{}
	g, err := w.build(in, failures)
	if err != nil {
		return nil, fmt.Errorf("build review graph: %w", err)
	}

	opts := []graph.Option{
		graph.WithLogger(logger),
		graph.WithMaxParallel(w.maxParallel),
		graph.WithObserver(func(sr graph.StageReport) {
			failures.record(sr)
			w.metrics.ObserveStage(sr.Stage, string(sr.Outcome), sr.Duration)
			if in.OnStageDone != nil {
				in.OnStageDone(sr)
			}
		}),
	}
	if w.tracer != nil {
		opts = append(opts, graph.WithTracer(w.tracer))
	}

	res, err := graph.NewExecutor(g, opts...).Run(ctx, graph.NewState(graph.Update{FieldRepoPath: in.RepoPath}))
	out := collect(res)
	if err != nil {
		return out, err
	}
	if sr, ok := res.Report(StageReport); !ok || sr.Outcome != graph.OutcomeSucceeded {
		if stageErr := res.Err(); stageErr != nil {
			return out, fmt.Errorf("%w: %w", ErrIncomplete, stageErr)
		}
		return out, ErrIncomplete
	}
	return out, nil
}

func collect(res *graph.Result) *Output {
	out := &Output{}
	if res == nil {
		return out
	}
	out.Stages = res.Stages
	out.Inventory, _ = graph.Lookup[*audit.Inventory](res.State, FieldInventory)
	out.Collections, _ = graph.Lookup[[]finding.Collection](res.State, FieldCollections)
	out.Merged, _ = graph.Lookup[[]finding.Finding](res.State, FieldMerged)
	out.Report, _ = graph.Lookup[*report.Report](res.State, FieldReport)
	return out
}

func (w *Workflow) auditStage(ctx context.Context, s *graph.State) (graph.Update, error) {
	root, ok := graph.Lookup[string](s, FieldRepoPath)
	if !ok || root == "" {
		return nil, errors.New("no repository path")
	}
	inv, err := w.auditor.Audit(ctx, root)
	if err != nil {
		return nil, err
	}
	return graph.Update{FieldInventory: inv}, nil
}

func (w *Workflow) adapterStage(a analyzer.Adapter) graph.StageFunc {
	return func(ctx context.Context, s *graph.State) (graph.Update, error) {
		root, _ := graph.Lookup[string](s, FieldRepoPath)
		inv, _ := graph.Lookup[*audit.Inventory](s, FieldInventory)

		coll, err := a.Run(ctx, root, inv)
		if err != nil {
			return nil, err
		}
		w.metrics.AddFindings(a.Name(), len(coll.Findings))
		return graph.Update{FieldCollections: []finding.Collection{coll}}, nil
	}
}

func (w *Workflow) resolveStage(_ context.Context, s *graph.State) (graph.Update, error) {
	colls, _ := graph.Lookup[[]finding.Collection](s, FieldCollections)
	merged := w.resolver.Resolve(colls)
	if merged == nil {
		merged = []finding.Finding{}
	}
	return graph.Update{FieldMerged: merged}, nil
}

// reportStage renders the report and, as its last action, removes the
// workspace whether or not rendering succeeded. Failed adapter stages are
// listed among the diagnostics.
func (w *Workflow) reportStage(in Input, failures *failureLog) graph.StageFunc {
	return func(ctx context.Context, s *graph.State) (upd graph.Update, err error) {
		if in.Workspace != nil {
			defer func() {
				if rmErr := in.Workspace.Remove(); rmErr != nil && err == nil {
					err = rmErr
				}
			}()
		}
		merged, _ := graph.Lookup[[]finding.Finding](s, FieldMerged)
		colls, _ := graph.Lookup[[]finding.Collection](s, FieldCollections)

		rep, err := w.reporter.Render(ctx, report.Input{
			RunID:       in.RunID,
			RepoURL:     in.RepoURL,
			Ref:         in.Ref,
			Findings:    merged,
			Collections: resolve.Ordered(colls),
			Diagnostics: failures.list(),
		})
		if err != nil {
			return nil, err
		}
		return graph.Update{FieldReport: rep}, nil
	}
}
