// Package analyzer wraps external analysis tools behind one capability
// interface. An adapter never fails its siblings: tool trouble comes back as
// diagnostics on the collection.
package analyzer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lucasnoah/reviewfactory/internal/audit"
	"github.com/lucasnoah/reviewfactory/internal/checks"
	"github.com/lucasnoah/reviewfactory/internal/finding"
)

// Adapter runs one family of tools over a checked-out repository.
type Adapter interface {
	Name() string
	Run(ctx context.Context, repoPath string, inv *audit.Inventory) (finding.Collection, error)
}

// Scratch hands out transient files that live outside the checkout.
type Scratch interface {
	TempFile(pattern string, content []byte) (string, func(), error)
}

// maxArgFiles bounds how many paths are passed on the command line before
// falling back to scanning ".".
const maxArgFiles = 2000

// ToolSpec is one tool inside an adapter.
type ToolSpec struct {
	Tool checks.Tool
	// Languages gate the tool: it runs only when the inventory has sources
	// in at least one of them. Empty means always eligible.
	Languages []audit.Language
	// Prepare finalizes the invocation for a repository. Returning ok=false
	// skips the tool without a diagnostic.
	Prepare func(repoPath string, inv *audit.Inventory, t checks.Tool) (tool checks.Tool, cleanup func(), ok bool, err error)
	// Keep filters parsed findings; nil keeps everything.
	Keep func(finding.Finding) bool
}

func (s ToolSpec) eligible(inv *audit.Inventory) bool {
	if len(s.Languages) == 0 {
		return true
	}
	for _, l := range s.Languages {
		if inv.HasLanguage(l) {
			return true
		}
	}
	return false
}

// ToolAdapter runs its eligible tools concurrently and concatenates their
// findings in spec order.
type ToolAdapter struct {
	name   string
	specs  []ToolSpec
	runner *checks.Runner
	logger *zap.SugaredLogger
	onTool func(*checks.Result)
}

// NewToolAdapter creates an adapter from tool specs.
func NewToolAdapter(name string, runner *checks.Runner, logger *zap.SugaredLogger, specs ...ToolSpec) *ToolAdapter {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &ToolAdapter{name: name, specs: specs, runner: runner, logger: logger.With("adapter", name)}
}

func (a *ToolAdapter) Name() string { return a.name }

// OnToolDone registers a hook called after each tool finishes.
func (a *ToolAdapter) OnToolDone(fn func(*checks.Result)) *ToolAdapter {
	a.onTool = fn
	return a
}

func (a *ToolAdapter) Run(ctx context.Context, repoPath string, inv *audit.Inventory) (finding.Collection, error) {
	coll := finding.Collection{Adapter: a.name}

	var eligible []ToolSpec
	for _, s := range a.specs {
		if s.eligible(inv) {
			eligible = append(eligible, s)
		}
	}
	if len(eligible) == 0 {
		a.logger.Infow("no relevant sources, skipping")
		coll.Skipped = true
		return coll, nil
	}

	results := make([]*checks.Result, len(eligible))
	g, gctx := errgroup.WithContext(ctx)
	for i, spec := range eligible {
		g.Go(func() error {
			results[i] = a.runTool(gctx, repoPath, inv, spec)
			return nil
		})
	}
	g.Wait()

	ran := 0
	for i, res := range results {
		if res == nil {
			continue
		}
		ran++
		if a.onTool != nil {
			a.onTool(res)
		}
		coll.Diagnostics = append(coll.Diagnostics, res.Diagnostics...)
		coll.Notes = append(coll.Notes, res.Notes...)
		keep := eligible[i].Keep
		for _, f := range res.Findings {
			if keep == nil || keep(f) {
				coll.Findings = append(coll.Findings, f)
			}
		}
	}
	coll.Skipped = ran == 0
	return coll, ctx.Err()
}

// runTool returns nil when Prepare opts out.
func (a *ToolAdapter) runTool(ctx context.Context, repoPath string, inv *audit.Inventory, spec ToolSpec) *checks.Result {
	tool := spec.Tool
	if spec.Prepare != nil {
		prepared, cleanup, ok, err := spec.Prepare(repoPath, inv, tool)
		if cleanup != nil {
			defer cleanup()
		}
		if err != nil {
			return &checks.Result{
				Tool:        tool.Name,
				Failed:      true,
				Summary:     "failed",
				Diagnostics: []string{fmt.Sprintf("%s: prepare: %v", tool.Name, err)},
			}
		}
		if !ok {
			a.logger.Infow("tool not applicable", "tool", tool.Name)
			return nil
		}
		tool = prepared
	}
	return a.runner.Run(ctx, repoPath, tool)
}

// Registry holds adapters by name.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry registers adapters under their own names.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces an adapter.
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Name()] = a
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

// Names returns registered adapter names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// withFiles appends the language's source files, or "." when there are too
// many to pass as arguments.
func withFiles(t checks.Tool, inv *audit.Inventory, langs ...audit.Language) checks.Tool {
	var files []string
	for _, l := range langs {
		for _, f := range inv.Files(l) {
			// never let a file name read as a flag
			if strings.HasPrefix(f, "-") {
				f = "./" + f
			}
			files = append(files, f)
		}
	}
	args := append([]string(nil), t.Args...)
	if len(files) == 0 || len(files) > maxArgFiles {
		args = append(args, ".")
	} else {
		args = append(args, files...)
	}
	t.Args = args
	return t
}
