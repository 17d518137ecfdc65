package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/reviewfactory/internal/analytics"
	"github.com/lucasnoah/reviewfactory/internal/db"
	"github.com/lucasnoah/reviewfactory/internal/orchestrator"
	"github.com/lucasnoah/reviewfactory/internal/pipeline"
	"github.com/lucasnoah/reviewfactory/internal/report"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect recorded review runs",
}

// openStore returns the run store from config without wiring the workflow.
func openStore() (*pipeline.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return pipeline.NewStore(cfg.Store.Dir), nil
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		status, _ := cmd.Flags().GetString("status")
		switch pipeline.Status(status) {
		case "", pipeline.StatusQueued, pipeline.StatusRunning, pipeline.StatusCompleted, pipeline.StatusFailed:
		default:
			return fmt.Errorf("unknown status %q", status)
		}
		runs, err := store.List(pipeline.Status(status))
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			if runs == nil {
				runs = []pipeline.RunState{}
			}
			data, _ := json.MarshalIndent(runs, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}

		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No runs found.")
			return nil
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-36s %-10s %-8s %-20s %s\n", "RUN", "STATUS", "FINDINGS", "CREATED", "REPOSITORY")
		fmt.Fprintf(w, "%-36s %-10s %-8s %-20s %s\n",
			strings.Repeat("-", 36),
			strings.Repeat("-", 10),
			strings.Repeat("-", 8),
			strings.Repeat("-", 20),
			strings.Repeat("-", 10))
		for _, rs := range runs {
			findings := "-"
			if rs.Summary != nil {
				findings = fmt.Sprintf("%d", rs.Summary.Total)
			}
			repo := rs.RepoURL
			if rs.Ref != "" {
				repo += "@" + rs.Ref
			}
			if len(repo) > 60 {
				repo = "..." + repo[len(repo)-57:]
			}
			fmt.Fprintf(w, "%-36s %-10s %-8s %-20s %s\n",
				rs.ID, rs.Status, findings, rs.CreatedAt.Local().Format("2006-01-02 15:04:05"), repo)
		}
		return nil
	},
}

var runsStatusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show one run's status and stage outcomes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		rs, err := store.Get(args[0])
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			data, _ := json.MarshalIndent(rs, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Run:        %s\n", rs.ID)
		fmt.Fprintf(w, "Repository: %s\n", rs.RepoURL)
		if rs.Ref != "" {
			fmt.Fprintf(w, "Ref:        %s\n", rs.Ref)
		}
		fmt.Fprintf(w, "Status:     %s\n", rs.Status)
		if rs.Reason != "" {
			fmt.Fprintf(w, "Reason:     %s\n", rs.Reason)
		}
		if rs.StartedAt != nil && rs.FinishedAt != nil {
			fmt.Fprintf(w, "Duration:   %s\n", rs.FinishedAt.Sub(*rs.StartedAt).Round(time.Millisecond))
		}
		if rs.Summary != nil {
			fmt.Fprintf(w, "Findings:   %d\n", rs.Summary.Total)
		}
		if len(rs.Stages) > 0 {
			fmt.Fprintln(w)
			fmt.Fprintf(w, "%-14s %-10s %8s  %s\n", "STAGE", "OUTCOME", "MS", "ERROR")
			for _, st := range rs.Stages {
				fmt.Fprintf(w, "%-14s %-10s %8d  %s\n", st.Stage, st.Outcome, st.DurationMs, st.Error)
			}
		}
		return nil
	},
}

var runsReportCmd = &cobra.Command{
	Use:   "report <run-id>",
	Short: "Print the report of a completed run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		rs, err := store.Get(args[0])
		if err != nil {
			return err
		}
		switch rs.Status {
		case pipeline.StatusCompleted:
		case pipeline.StatusFailed:
			return fmt.Errorf("%w: %s", orchestrator.ErrRunFailed, rs.Reason)
		default:
			return fmt.Errorf("run %s is %s: %w", rs.ID, rs.Status, orchestrator.ErrNotReady)
		}

		md, err := store.LoadReport(rs.ID)
		if err != nil {
			return err
		}
		rr := &orchestrator.RunReport{Run: rs, Markdown: md}
		var doc report.Document
		if err := store.LoadFindings(rs.ID, &doc); err != nil && !errors.Is(err, pipeline.ErrNotFound) {
			return err
		} else if err == nil {
			rr.Document = &doc
		}
		format, _ := cmd.Flags().GetString("format")
		return printReport(cmd, rr, format)
	},
}

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Stage, tool and throughput statistics",
	Long: `Aggregate stage durations from the run store. When a database is
configured, also report per-tool failure and timeout rates and daily
throughput from the event log.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		window, _ := cmd.Flags().GetDuration("since")
		since := time.Now().Add(-window)

		runs, err := pipeline.NewStore(cfg.Store.Dir).List("")
		if err != nil {
			return err
		}
		var src analytics.Source
		if cfg.Database.URL != "" {
			database, err := db.Open(cmd.Context(), cfg.Database.URL)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer database.Close()
			src = database
		}
		rep, err := analytics.Query(cmd.Context(), src, runs, since)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			data, _ := json.MarshalIndent(rep, "", "  ")
			fmt.Fprintln(w, string(data))
			return nil
		}

		fmt.Fprintf(w, "Since %s\n\n", rep.Since.Local().Format("2006-01-02 15:04"))
		fmt.Fprintf(w, "%-14s %6s %8s %8s %8s\n", "STAGE", "COUNT", "AVG(s)", "P50(s)", "P95(s)")
		for _, s := range rep.Stages {
			fmt.Fprintf(w, "%-14s %6d %8.1f %8.1f %8.1f\n", s.Stage, s.Count, s.Avg, s.P50, s.P95)
		}
		if src == nil {
			return nil
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "%-10s %6s %7s %9s %8s %8s %8s\n", "TOOL", "COUNT", "FAIL%", "TIMEOUT%", "AVG(s)", "P95(s)", "FINDINGS")
		for _, s := range rep.Tools {
			fmt.Fprintf(w, "%-10s %6d %7.1f %9.1f %8.1f %8.1f %8d\n", s.Tool, s.Count, s.FailRate, s.TimeoutRate, s.Avg, s.P95, s.Findings)
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "%-10s %7s %9s %6s\n", "DATE", "QUEUED", "COMPLETED", "FAILED")
		for _, t := range rep.Throughput {
			fmt.Fprintf(w, "%-10s %7d %9d %6d\n", t.Date, t.Queued, t.Completed, t.Failed)
		}
		return nil
	},
}

var runsEventsCmd = &cobra.Command{
	Use:   "events <run-id>",
	Short: "Show a run's event log and tool executions (requires a database)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer database.Close()

		events, err := database.RunEvents(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		tools, err := database.ToolRuns(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(events) == 0 && len(tools) == 0 {
			return fmt.Errorf("%w: %s", pipeline.ErrNotFound, args[0])
		}

		w := cmd.OutOrStdout()
		for _, e := range events {
			line := fmt.Sprintf("%s  %-16s", e.CreatedAt.Local().Format("15:04:05.000"), e.Event)
			if e.Stage != "" {
				line += " stage=" + e.Stage
			}
			if e.Detail != "" {
				line += " " + e.Detail
			}
			fmt.Fprintln(w, strings.TrimRight(line, " "))
		}
		if len(tools) > 0 {
			fmt.Fprintln(w)
			fmt.Fprintf(w, "%-12s %-10s %-8s %5s %8s %8s  %s\n", "ADAPTER", "TOOL", "RESULT", "EXIT", "MS", "FINDINGS", "SUMMARY")
			for _, tr := range tools {
				result := "ok"
				switch {
				case tr.TimedOut:
					result = "timeout"
				case tr.Failed:
					result = "failed"
				}
				fmt.Fprintf(w, "%-12s %-10s %-8s %5d %8d %8d  %s\n",
					tr.Adapter, tr.Tool, result, tr.ExitCode, tr.DurationMs, tr.Findings, tr.Summary)
			}
		}
		return nil
	},
}

func init() {
	runsStatsCmd.Flags().Duration("since", 7*24*time.Hour, "Look-back window")
	runsStatsCmd.Flags().String("format", "text", "Output format: text or json")

	runsListCmd.Flags().String("status", "", "Filter by status: queued, running, completed, failed")
	runsListCmd.Flags().String("format", "text", "Output format: text or json")
	runsStatusCmd.Flags().String("format", "text", "Output format: text or json")
	runsReportCmd.Flags().String("format", "markdown", "Output format: markdown or json")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsStatusCmd)
	runsCmd.AddCommand(runsReportCmd)
	runsCmd.AddCommand(runsStatsCmd)
	runsCmd.AddCommand(runsEventsCmd)
}
