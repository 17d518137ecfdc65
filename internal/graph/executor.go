package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/lucasnoah/reviewfactory/internal/graph"

// Outcome is the terminal status of one stage in a run.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// StageReport records what happened to one stage.
type StageReport struct {
	Stage    string        `json:"stage"`
	Outcome  Outcome       `json:"outcome"`
	Err      error         `json:"-"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
}

// Result is returned by Executor.Run.
type Result struct {
	State  *State
	Stages []StageReport // completion order
}

// Report returns the report for one stage.
func (r *Result) Report(stage string) (StageReport, bool) {
	for _, sr := range r.Stages {
		if sr.Stage == stage {
			return sr, true
		}
	}
	return StageReport{}, false
}

// Failures returns the reports of failed stages.
func (r *Result) Failures() []StageReport {
	var out []StageReport
	for _, sr := range r.Stages {
		if sr.Outcome == OutcomeFailed {
			out = append(out, sr)
		}
	}
	return out
}

// Err joins the errors of every failed stage.
func (r *Result) Err() error {
	var errs []error
	for _, sr := range r.Failures() {
		errs = append(errs, fmt.Errorf("stage %q: %w", sr.Stage, sr.Err))
	}
	return errors.Join(errs...)
}

// Executor runs a Graph.
type Executor struct {
	graph        *Graph
	maxParallel  int
	abandonAfter time.Duration
	logger       *zap.SugaredLogger
	tracer       trace.Tracer
	observers    []func(StageReport)
}

// Option configures an Executor.
type Option func(*Executor)

// WithMaxParallel bounds how many stages run at once. n <= 0 means unbounded.
func WithMaxParallel(n int) Option {
	return func(e *Executor) { e.maxParallel = n }
}

// WithAbandonAfter bounds how long Run waits for running stages once ctx
// ends. Stages still running after d are reported as failed with
// ErrStageAbandoned. Defaults to 5s.
func WithAbandonAfter(d time.Duration) Option {
	return func(e *Executor) { e.abandonAfter = d }
}

// WithLogger sets the executor's logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithTracer overrides the tracer used for stage spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Executor) { e.tracer = t }
}

// WithObserver registers a callback invoked after each stage settles.
// Callbacks run on the scheduling goroutine and must not block.
func WithObserver(fn func(StageReport)) Option {
	return func(e *Executor) { e.observers = append(e.observers, fn) }
}

// NewExecutor creates an executor for g.
func NewExecutor(g *Graph, opts ...Option) *Executor {
	e := &Executor{
		graph:        g,
		abandonAfter: 5 * time.Second,
		logger:       zap.NewNop().Sugar(),
		tracer:       otel.Tracer(tracerName),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

type completion struct {
	stage  string
	update Update
	err    error
	start  time.Time
}

// Run executes every stage exactly once, starting at the entry stage and
// launching each stage as soon as all of its predecessors have settled.
// Stage failures are recorded in the Result; they do not stop the run
// unless the failed stage is Critical, in which case its descendants are
// skipped. Run only returns an error when ctx ends before the graph does;
// stages that ignore the cancellation are abandoned after the grace period
// set by WithAbandonAfter.
func (e *Executor) Run(ctx context.Context, st *State) (*Result, error) {
	g := e.graph
	res := &Result{State: st}

	pending := make(map[string]int, len(g.stages))
	for name, s := range g.stages {
		pending[name] = len(s.After)
	}
	blocked := make(map[string]bool)
	settled := make(map[string]bool, len(g.stages))

	done := make(chan completion, len(g.stages))
	ready := []string{g.entry}
	inflight := make(map[string]bool)
	running := 0
	ctxDone := ctx.Done()
	var grace <-chan time.Time

	settle := func(sr StageReport) {
		settled[sr.Stage] = true
		res.Stages = append(res.Stages, sr)
		for _, fn := range e.observers {
			fn(sr)
		}
		for _, n := range g.succs[sr.Stage] {
			pending[n]--
			if pending[n] == 0 {
				ready = append(ready, n)
			}
		}
	}

	for {
		for len(ready) > 0 && ctx.Err() == nil && (e.maxParallel <= 0 || running < e.maxParallel) {
			name := ready[0]
			ready = ready[1:]
			if blocked[name] {
				e.logger.Warnw("skipping stage", "stage", name, "reason", "critical predecessor failed")
				settle(StageReport{Stage: name, Outcome: OutcomeSkipped, Started: time.Now()})
				continue
			}
			running++
			inflight[name] = true
			go e.launch(ctx, g.stages[name], st, done)
		}
		if running == 0 {
			break
		}

		var c completion
		select {
		case c = <-done:
		case <-ctxDone:
			ctxDone = nil
			timer := time.NewTimer(e.abandonAfter)
			defer timer.Stop()
			grace = timer.C
			continue
		case <-grace:
			e.abandon(inflight, ctx.Err(), settle)
			running = 0
			continue
		}
		running--
		delete(inflight, c.stage)
		s := g.stages[c.stage]
		err := c.err
		if err == nil {
			err = e.merge(s, c.update, st)
		}

		sr := StageReport{Stage: c.stage, Outcome: OutcomeSucceeded, Started: c.start, Duration: time.Since(c.start)}
		if err != nil {
			sr.Outcome = OutcomeFailed
			sr.Err = err
			e.logger.Errorw("stage failed", "stage", c.stage, "error", err, "critical", s.Critical)
			if s.Critical {
				for n := range g.descendants(c.stage) {
					blocked[n] = true
				}
			}
		} else {
			e.logger.Debugw("stage finished", "stage", c.stage, "duration", sr.Duration)
		}
		settle(sr)
	}

	if err := ctx.Err(); err != nil {
		for _, name := range g.order {
			if !settled[name] {
				settle(StageReport{Stage: name, Outcome: OutcomeSkipped, Err: err, Started: time.Now()})
			}
		}
		return res, err
	}
	return res, nil
}

// abandon settles every in-flight stage as failed. Their late completions
// land in the buffered done channel and are never merged.
func (e *Executor) abandon(inflight map[string]bool, cause error, settle func(StageReport)) {
	for _, name := range e.graph.order {
		if !inflight[name] {
			continue
		}
		delete(inflight, name)
		e.logger.Errorw("abandoning stage", "stage", name, "error", cause)
		settle(StageReport{
			Stage:   name,
			Outcome: OutcomeFailed,
			Err:     fmt.Errorf("%w: %w", ErrStageAbandoned, cause),
			Started: time.Now(),
		})
	}
}

func (e *Executor) launch(ctx context.Context, s Stage, st *State, done chan<- completion) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "stage."+s.Name, trace.WithAttributes(
		attribute.String("stage.name", s.Name),
		attribute.Bool("stage.critical", s.Critical),
	))
	defer span.End()

	e.logger.Debugw("stage started", "stage", s.Name)
	upd, err := invoke(ctx, s, st)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	done <- completion{stage: s.Name, update: upd, err: err, start: start}
}

// invoke runs the stage, converting a panic into an error.
func invoke(ctx context.Context, s Stage, st *State) (upd Update, err error) {
	defer func() {
		if r := recover(); r != nil {
			upd = nil
			err = fmt.Errorf("%w: %v", ErrStagePanic, r)
		}
	}()
	return s.Run(ctx, st)
}

func (e *Executor) merge(s Stage, u Update, st *State) error {
	if len(u) == 0 {
		return nil
	}
	allowed := make(map[string]bool, len(s.Writes))
	for _, w := range s.Writes {
		allowed[w] = true
	}
	for k := range u {
		if !allowed[k] {
			return fmt.Errorf("%w: stage %q returned %q", ErrUndeclaredWrite, s.Name, k)
		}
	}
	return st.apply(e.graph.fields, u)
}
