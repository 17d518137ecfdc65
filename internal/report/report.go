// Package report turns resolved findings into the persisted review report.
package report

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/reviewfactory/internal/finding"
	"github.com/lucasnoah/reviewfactory/internal/llm"
	"github.com/lucasnoah/reviewfactory/internal/pipeline"
	"github.com/lucasnoah/reviewfactory/internal/prompt"
)

// Store persists report artifacts.
type Store interface {
	SaveReport(id, markdown string) error
	SaveFindings(id string, v interface{}) error
}

// Input is everything a report is built from.
type Input struct {
	RunID       string
	RepoURL     string
	Ref         string
	Findings    []finding.Finding
	Collections []finding.Collection
	// Diagnostics are run-level notes appended after the adapters' own.
	Diagnostics []string
}

// Report is the rendered result.
type Report struct {
	RunID       string            `json:"run_id"`
	Markdown    string            `json:"markdown"`
	Explanation string            `json:"explanation,omitempty"`
	Summary     pipeline.Summary  `json:"summary"`
	Findings    []finding.Finding `json:"findings"`
	// GeneratorError is set when the written assessment could not be produced.
	GeneratorError string    `json:"generator_error,omitempty"`
	GeneratedAt    time.Time `json:"generated_at"`
}

// Document is the findings.json layout.
type Document struct {
	RunID       string               `json:"run_id"`
	RepoURL     string               `json:"repo_url"`
	Ref         string               `json:"ref,omitempty"`
	Summary     pipeline.Summary     `json:"summary"`
	Findings    []finding.Finding    `json:"findings"`
	Collections []finding.Collection `json:"collections"`
}

// Reporter renders and persists reports.
type Reporter struct {
	gen         llm.TextGenerator
	store       Store
	templateDir string
	logger      *zap.SugaredLogger
	now         func() time.Time
}

// New creates a Reporter. store may be nil to skip persistence.
func New(gen llm.TextGenerator, store Store, templateDir string, logger *zap.SugaredLogger) *Reporter {
	if gen == nil {
		gen = llm.Disabled{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Reporter{gen: gen, store: store, templateDir: templateDir, logger: logger, now: time.Now}
}

// Render asks the generator for an assessment, renders the markdown and
// persists both artifacts. A generator failure is recorded on the report,
// not returned.
func (r *Reporter) Render(ctx context.Context, in Input) (*Report, error) {
	summary := Summarize(in.Findings, in.Collections)
	summary.Diagnostics = append(summary.Diagnostics, in.Diagnostics...)
	rep := &Report{
		RunID:       in.RunID,
		Summary:     summary,
		Findings:    in.Findings,
		GeneratedAt: r.now().UTC(),
	}
	if rep.Findings == nil {
		rep.Findings = []finding.Finding{}
	}

	listing := formatFindings(in.Findings)
	diagnostics := bulletList(summary.Diagnostics)

	explainTmpl, err := prompt.Load(prompt.ExplainTemplate, r.templateDir)
	if err != nil {
		return nil, fmt.Errorf("load explain template: %w", err)
	}
	explainPrompt, err := prompt.Render(explainTmpl, prompt.Vars{
		"repo_url":      in.RepoURL,
		"ref":           in.Ref,
		"finding_count": strconv.Itoa(summary.Total),
		"findings":      listing,
		"diagnostics":   diagnostics,
	})
	if err != nil {
		return nil, fmt.Errorf("render explain prompt: %w", err)
	}

	explanation, err := r.gen.Generate(ctx, explainPrompt)
	if err != nil {
		r.logger.Warnw("text generation failed, continuing without assessment", "run_id", in.RunID, "error", err)
		rep.GeneratorError = err.Error()
		rep.Summary.GeneratorError = err.Error()
	} else {
		rep.Explanation = strings.TrimSpace(explanation)
	}

	reportTmpl, err := prompt.Load(prompt.ReportTemplate, r.templateDir)
	if err != nil {
		return nil, fmt.Errorf("load report template: %w", err)
	}
	rep.Markdown, err = prompt.Render(reportTmpl, prompt.Vars{
		"repo_url":          in.RepoURL,
		"ref":               in.Ref,
		"run_id":            in.RunID,
		"generated_at":      rep.GeneratedAt.Format(time.RFC3339),
		"finding_count":     strconv.Itoa(summary.Total),
		"style_count":       strconv.Itoa(summary.ByCategory[string(finding.CategoryStyle)]),
		"security_count":    strconv.Itoa(summary.ByCategory[string(finding.CategorySecurity)]),
		"performance_count": strconv.Itoa(summary.ByCategory[string(finding.CategoryPerformance)]),
		"explanation":       rep.Explanation,
		"generator_error":   rep.GeneratorError,
		"diagnostics":       diagnostics,
		"findings":          listing,
	})
	if err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}

	if r.store != nil {
		if err := r.store.SaveReport(in.RunID, rep.Markdown); err != nil {
			return nil, fmt.Errorf("save report: %w", err)
		}
		doc := Document{
			RunID:       in.RunID,
			RepoURL:     in.RepoURL,
			Ref:         in.Ref,
			Summary:     rep.Summary,
			Findings:    rep.Findings,
			Collections: in.Collections,
		}
		if err := r.store.SaveFindings(in.RunID, doc); err != nil {
			return nil, fmt.Errorf("save findings: %w", err)
		}
	}
	r.logger.Infow("report rendered", "run_id", in.RunID, "findings", summary.Total, "assessment", rep.GeneratorError == "")
	return rep, nil
}

// Summarize counts findings and gathers adapter diagnostics.
func Summarize(findings []finding.Finding, colls []finding.Collection) pipeline.Summary {
	s := pipeline.Summary{
		Total:      len(findings),
		ByCategory: map[string]int{},
		BySeverity: map[string]int{},
	}
	for _, f := range findings {
		s.ByCategory[string(f.Category)]++
		s.BySeverity[string(f.Severity)]++
	}
	for _, c := range colls {
		s.Diagnostics = append(s.Diagnostics, c.Diagnostics...)
		if c.Skipped {
			s.SkippedAdapters = append(s.SkippedAdapters, c.Adapter)
		}
	}
	sort.Strings(s.SkippedAdapters)
	return s
}

func formatFindings(findings []finding.Finding) string {
	if len(findings) == 0 {
		return "No findings."
	}
	var b strings.Builder
	for _, f := range findings {
		fmt.Fprintf(&b, "- **%s** [%s/%s]", f.Severity, f.Category, f.Tool)
		if f.Rule != "" {
			fmt.Fprintf(&b, " `%s`", f.Rule)
		}
		if loc := f.Location.String(); loc != "" {
			fmt.Fprintf(&b, " %s", loc)
		}
		fmt.Fprintf(&b, ": %s\n", oneLine(f.Message))
	}
	return strings.TrimRight(b.String(), "\n")
}

func bulletList(items []string) string {
	if len(items) == 0 {
		return ""
	}
	return "- " + strings.Join(items, "\n- ")
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
