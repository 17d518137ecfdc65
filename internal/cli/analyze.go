package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/reviewfactory/internal/clone"
	"github.com/lucasnoah/reviewfactory/internal/orchestrator"
	"github.com/lucasnoah/reviewfactory/internal/pipeline"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <repo-url|path>",
	Short: "Review a repository in the foreground and print the report",
	Long: `Run one review without the HTTP API. A remote URL is cloned; an existing
local directory is copied into a scratch workspace so the original is never
modified. The run is recorded in the run store like any served run.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, _ := cmd.Flags().GetString("ref")
		format, _ := cmd.Flags().GetString("format")
		if format != "markdown" && format != "json" {
			return fmt.Errorf("unknown format %q (want markdown or json)", format)
		}

		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		a, cleanup, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		target := args[0]
		var cloner orchestrator.Cloner = a.gitCloner(false)
		if info, err := os.Stat(target); err == nil && info.IsDir() {
			abs, err := filepath.Abs(target)
			if err != nil {
				return err
			}
			target = abs
			cloner = clone.Local{}
		}

		orch := a.orchestrator(cloner)
		defer orch.Shutdown(ctx)

		rs, err := orch.Submit(ctx, orchestrator.Request{RepoURL: target, Ref: ref})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Run %s queued for %s\n", rs.ID, target)

		rs, err = orch.Wait(ctx, rs.ID)
		if err != nil {
			return fmt.Errorf("wait for run: %w", err)
		}
		if rs.Status != pipeline.StatusCompleted {
			return fmt.Errorf("run %s %s: %s", rs.ID, rs.Status, rs.Reason)
		}

		rr, err := orch.Report(rs.ID)
		if err != nil && !errors.Is(err, orchestrator.ErrRunFailed) {
			return err
		}
		return printReport(cmd, rr, format)
	},
}

func printReport(cmd *cobra.Command, rr *orchestrator.RunReport, format string) error {
	out := cmd.OutOrStdout()
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rr)
	}
	fmt.Fprintln(out, rr.Markdown)
	return nil
}

func init() {
	analyzeCmd.Flags().String("ref", "", "Branch, tag or commit to check out (remote URLs only)")
	analyzeCmd.Flags().String("format", "markdown", "Output format: markdown or json")
}
