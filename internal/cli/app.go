package cli

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/lucasnoah/reviewfactory/internal/analyzer"
	"github.com/lucasnoah/reviewfactory/internal/audit"
	"github.com/lucasnoah/reviewfactory/internal/checks"
	"github.com/lucasnoah/reviewfactory/internal/clone"
	"github.com/lucasnoah/reviewfactory/internal/config"
	"github.com/lucasnoah/reviewfactory/internal/db"
	"github.com/lucasnoah/reviewfactory/internal/llm"
	"github.com/lucasnoah/reviewfactory/internal/logging"
	"github.com/lucasnoah/reviewfactory/internal/metrics"
	"github.com/lucasnoah/reviewfactory/internal/orchestrator"
	"github.com/lucasnoah/reviewfactory/internal/pipeline"
	"github.com/lucasnoah/reviewfactory/internal/report"
	"github.com/lucasnoah/reviewfactory/internal/resolve"
	"github.com/lucasnoah/reviewfactory/internal/workflow"
	"github.com/lucasnoah/reviewfactory/internal/workspace"
)

// newCommandRunner builds the tool process runner; tests replace it.
var newCommandRunner = func() checks.CommandRunner { return &checks.ExecRunner{} }

// newTextGenerator builds the report generator; tests replace it.
var newTextGenerator = func(cfg llm.Config, logger *zap.SugaredLogger) llm.TextGenerator {
	return llm.New(cfg, logger)
}

// app holds the wired components for serve and analyze.
type app struct {
	cfg        *config.Config
	logger     *zap.SugaredLogger
	store      *pipeline.Store
	metrics    *metrics.Metrics
	registry   *prometheus.Registry
	database   *db.DB
	workspaces *workspace.Manager
	workflow   *workflow.Workflow
}

// newApp wires everything from cfg. The returned cleanup closes the
// database and flushes the logger.
func newApp(ctx context.Context, cfg *config.Config) (*app, func(), error) {
	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return nil, nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		store:    pipeline.NewStore(cfg.Store.Dir),
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	if cfg.Database.URL != "" {
		database, err := db.Open(ctx, cfg.Database.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("open db: %w", err)
		}
		if err := database.Migrate(ctx); err != nil {
			database.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		a.database = database
	}

	a.workspaces = workspace.NewManager(cfg.Workspace.BaseDir, cfg.Workspace.Prefix, logger.Named("workspace"))

	resolver, err := resolve.New(cfg.Analysis.Resolver)
	if err != nil {
		a.close()
		return nil, nil, err
	}

	gen := newTextGenerator(llm.Config{
		APIKey:    cfg.LLM.APIKey,
		Model:     cfg.LLM.Model,
		BaseURL:   cfg.LLM.BaseURL,
		Timeout:   config.MustDuration(cfg.LLM.Timeout),
		MaxTokens: cfg.LLM.MaxTokens,
	}, logger.Named("llm"))
	if cfg.LLM.Provider == "none" {
		gen = llm.Disabled{}
	}

	runner := checks.NewRunner(newCommandRunner(), logger.Named("checks"))
	opts := analyzer.Options{
		MinComplexityRank: cfg.Analysis.MinComplexityRank,
		Tools:             toolOverrides(cfg.Analysis.Tools),
	}
	factory := func(scratch analyzer.Scratch, onTool func(string, *checks.Result)) *analyzer.Registry {
		o := opts
		o.OnToolDone = onTool
		return analyzer.Defaults(o, runner, scratch, logger.Named("analyzer"))
	}

	auditor := audit.New(audit.Options{
		IgnoreLockfiles: cfg.Analysis.IgnoreLockfiles,
		ExtraIgnoreDirs: cfg.Analysis.ExtraIgnoreDirs,
	}, logger.Named("audit"))

	a.workflow = workflow.New(auditor, factory, resolver,
		report.New(gen, a.store, cfg.LLM.TemplateDir, logger.Named("report")),
		workflow.WithMetrics(a.metrics),
		workflow.WithLogger(logger.Named("workflow")),
	)
	return a, a.close, nil
}

func (a *app) close() {
	if a.database != nil {
		a.database.Close()
	}
	_ = a.logger.Sync()
}

// events returns the database as the run event sink, or nil without one.
func (a *app) events() orchestrator.EventSink {
	if a.database == nil {
		return nil
	}
	return a.database
}

// orchestrator builds an orchestrator that checks out with cloner.
func (a *app) orchestrator(cloner orchestrator.Cloner) *orchestrator.Orchestrator {
	return orchestrator.NewOrchestrator(a.store, cloner, a.workspaces, a.workflow, a.events(), orchestrator.Options{
		MaxConcurrent: a.cfg.Server.MaxConcurrentRuns,
		RunTimeout:    config.MustDuration(a.cfg.Server.RunTimeout),
		Metrics:       a.metrics,
		Logger:        a.logger.Named("orchestrator"),
	})
}

// gitCloner builds the git-backed cloner from config.
func (a *app) gitCloner(allowFile bool) *clone.Cloner {
	c := a.cfg.Clone
	return clone.New(&clone.ExecGit{}, clone.Options{
		Timeout:       config.MustDuration(c.Timeout),
		ProbeAttempts: c.ProbeAttempts,
		ProbeDelay:    config.MustDuration(c.ProbeDelay),
		ProbeTimeout:  config.MustDuration(c.ProbeTimeout),
		AllowFile:     c.AllowFile || allowFile,
	}, a.logger.Named("clone"))
}

func toolOverrides(tools map[string]config.Tool) map[string]analyzer.ToolOverride {
	if len(tools) == 0 {
		return nil
	}
	out := make(map[string]analyzer.ToolOverride, len(tools))
	for name, t := range tools {
		out[name] = analyzer.ToolOverride{
			Binary:    t.Command,
			ExtraArgs: t.Args,
			Timeout:   config.MustDuration(t.Timeout),
			Disabled:  !t.IsEnabled(),
		}
	}
	return out
}
