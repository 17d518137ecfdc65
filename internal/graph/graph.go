// Package graph is a small DAG workflow engine: stages declare their
// predecessors and the state fields they write, the Builder validates the
// wiring once, and the Executor runs ready stages concurrently while merging
// their updates into a shared State.
package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrCycle              = errors.New("dependency cycle")
	ErrUnknownStage       = errors.New("unknown stage")
	ErrUnknownField       = errors.New("unknown field")
	ErrDuplicate          = errors.New("duplicate declaration")
	ErrConflictingWriters = errors.New("conflicting writers")
	ErrUndeclaredWrite    = errors.New("write to undeclared field")
	ErrUnreachable        = errors.New("stage not reachable")
	ErrStagePanic         = errors.New("stage panicked")
	ErrStageAbandoned     = errors.New("stage abandoned after cancellation")
)

// StageFunc computes a stage's partial update from the current state.
type StageFunc func(ctx context.Context, s *State) (Update, error)

// Stage is one node of the graph.
type Stage struct {
	Name   string
	After  []string // predecessors; empty only for the entry stage
	Writes []string // fields the stage may return in its Update
	// Critical stages gate their descendants: when one fails, everything
	// downstream is skipped instead of run against missing inputs.
	Critical bool
	Run      StageFunc
}

// Graph is a validated, immutable stage graph.
type Graph struct {
	stages   map[string]Stage
	fields   map[string]Field
	succs    map[string][]string
	order    []string // topological, ties broken by registration order
	entry    string
	terminal string
}

// Entry returns the entry stage name.
func (g *Graph) Entry() string { return g.entry }

// Terminal returns the terminal stage name.
func (g *Graph) Terminal() string { return g.terminal }

// Order returns one valid topological order of the stages.
func (g *Graph) Order() []string {
	return append([]string(nil), g.order...)
}

// Successors returns the stages that list name as a predecessor.
func (g *Graph) Successors(name string) []string {
	return append([]string(nil), g.succs[name]...)
}

// Field returns the declaration of a field.
func (g *Graph) Field(name string) (Field, bool) {
	f, ok := g.fields[name]
	return f, ok
}

// Builder accumulates fields and stages. Errors are collected and
// reported together by Build.
type Builder struct {
	fields   map[string]Field
	stages   []Stage
	index    map[string]int
	entry    string
	terminal string
	errs     []error
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		fields: make(map[string]Field),
		index:  make(map[string]int),
	}
}

// AddField declares a state field.
func (b *Builder) AddField(f Field) *Builder {
	switch {
	case f.Name == "":
		b.errs = append(b.errs, errors.New("field name is required"))
	case b.fields[f.Name].Name != "":
		b.errs = append(b.errs, fmt.Errorf("%w: field %q", ErrDuplicate, f.Name))
	case f.Policy == PolicyAppend && f.Combine == nil:
		b.errs = append(b.errs, fmt.Errorf("field %q: append policy requires a combine func", f.Name))
	default:
		b.fields[f.Name] = f
	}
	return b
}

// AddStage registers a stage.
func (b *Builder) AddStage(s Stage) *Builder {
	switch {
	case s.Name == "":
		b.errs = append(b.errs, errors.New("stage name is required"))
		return b
	case s.Run == nil:
		b.errs = append(b.errs, fmt.Errorf("stage %q: run func is required", s.Name))
		return b
	}
	if _, ok := b.index[s.Name]; ok {
		b.errs = append(b.errs, fmt.Errorf("%w: stage %q", ErrDuplicate, s.Name))
		return b
	}
	s.After = append([]string(nil), s.After...)
	s.Writes = append([]string(nil), s.Writes...)
	b.index[s.Name] = len(b.stages)
	b.stages = append(b.stages, s)
	return b
}

// SetEntry names the entry stage.
func (b *Builder) SetEntry(name string) *Builder {
	b.entry = name
	return b
}

// SetTerminal names the terminal stage.
func (b *Builder) SetTerminal(name string) *Builder {
	b.terminal = name
	return b
}

// Build validates the wiring and returns the graph.
func (b *Builder) Build() (*Graph, error) {
	errs := append([]error(nil), b.errs...)

	if b.entry == "" {
		errs = append(errs, errors.New("entry stage is not set"))
	} else if _, ok := b.index[b.entry]; !ok {
		errs = append(errs, fmt.Errorf("%w: entry %q", ErrUnknownStage, b.entry))
	}
	if b.terminal == "" {
		errs = append(errs, errors.New("terminal stage is not set"))
	} else if _, ok := b.index[b.terminal]; !ok {
		errs = append(errs, fmt.Errorf("%w: terminal %q", ErrUnknownStage, b.terminal))
	}

	stages := make(map[string]Stage, len(b.stages))
	succs := make(map[string][]string, len(b.stages))
	for _, s := range b.stages {
		stages[s.Name] = s
		for _, p := range s.After {
			if p == s.Name {
				errs = append(errs, fmt.Errorf("%w: stage %q depends on itself", ErrCycle, s.Name))
				continue
			}
			if _, ok := b.index[p]; !ok {
				errs = append(errs, fmt.Errorf("%w: %q listed as predecessor of %q", ErrUnknownStage, p, s.Name))
				continue
			}
			succs[p] = append(succs[p], s.Name)
		}
		for _, w := range s.Writes {
			if _, ok := b.fields[w]; !ok {
				errs = append(errs, fmt.Errorf("%w: stage %q writes %q", ErrUnknownField, s.Name, w))
			}
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	order, err := b.topoSort(succs)
	if err != nil {
		return nil, err
	}

	g := &Graph{
		stages:   stages,
		fields:   b.fields,
		succs:    succs,
		order:    order,
		entry:    b.entry,
		terminal: b.terminal,
	}
	if err := g.validateShape(); err != nil {
		return nil, err
	}
	if err := g.validateWriters(); err != nil {
		return nil, err
	}
	return g, nil
}

// topoSort runs Kahn's algorithm. Stages left over are on a cycle.
func (b *Builder) topoSort(succs map[string][]string) ([]string, error) {
	indeg := make(map[string]int, len(b.stages))
	for _, s := range b.stages {
		indeg[s.Name] = 0
	}
	for _, s := range b.stages {
		for _, n := range succs[s.Name] {
			indeg[n]++
		}
	}

	var ready []string
	for _, s := range b.stages {
		if indeg[s.Name] == 0 {
			ready = append(ready, s.Name)
		}
	}

	order := make([]string, 0, len(b.stages))
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)
		for _, m := range succs[n] {
			indeg[m]--
			if indeg[m] == 0 {
				ready = append(ready, m)
			}
		}
		sort.SliceStable(ready, func(i, j int) bool { return b.index[ready[i]] < b.index[ready[j]] })
	}

	if len(order) != len(b.stages) {
		var stuck []string
		for _, s := range b.stages {
			if indeg[s.Name] > 0 {
				stuck = append(stuck, s.Name)
			}
		}
		return nil, fmt.Errorf("%w among stages %s", ErrCycle, strings.Join(stuck, ", "))
	}
	return order, nil
}

// validateShape checks single entry, single terminal, and that every stage
// lies on a path from entry to terminal.
func (g *Graph) validateShape() error {
	var errs []error
	for _, name := range g.order {
		s := g.stages[name]
		if name == g.entry && len(s.After) > 0 {
			errs = append(errs, fmt.Errorf("entry stage %q must not have predecessors", name))
		}
		if name != g.entry && len(s.After) == 0 {
			errs = append(errs, fmt.Errorf("%w: %q has no predecessors and is not the entry", ErrUnreachable, name))
		}
		if name == g.terminal && len(g.succs[name]) > 0 {
			errs = append(errs, fmt.Errorf("terminal stage %q must not have successors", name))
		}
	}

	fromEntry := g.descendants(g.entry)
	for _, name := range g.order {
		if name == g.entry {
			continue
		}
		if !fromEntry[name] {
			errs = append(errs, fmt.Errorf("%w: %q from entry %q", ErrUnreachable, name, g.entry))
		}
		if name != g.terminal && !g.descendants(name)[g.terminal] {
			errs = append(errs, fmt.Errorf("%w: terminal %q from %q", ErrUnreachable, g.terminal, name))
		}
	}
	return errors.Join(errs...)
}

// validateWriters rejects replace fields written by two stages that could
// run concurrently.
func (g *Graph) validateWriters() error {
	writers := make(map[string][]string)
	for _, name := range g.order {
		for _, w := range g.stages[name].Writes {
			writers[w] = append(writers[w], name)
		}
	}

	var errs []error
	for field, ws := range writers {
		if g.fields[field].Policy != PolicyReplace || len(ws) < 2 {
			continue
		}
		for i := 0; i < len(ws); i++ {
			for j := i + 1; j < len(ws); j++ {
				if !g.ordered(ws[i], ws[j]) {
					errs = append(errs, fmt.Errorf("%w: replace field %q written by unordered stages %q and %q",
						ErrConflictingWriters, field, ws[i], ws[j]))
				}
			}
		}
	}
	return errors.Join(errs...)
}

func (g *Graph) ordered(a, b string) bool {
	return g.descendants(a)[b] || g.descendants(b)[a]
}

// descendants returns every stage reachable from name, excluding name.
func (g *Graph) descendants(name string) map[string]bool {
	seen := make(map[string]bool)
	stack := append([]string(nil), g.succs[name]...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n] {
			continue
		}
		seen[n] = true
		stack = append(stack, g.succs[n]...)
	}
	return seen
}
