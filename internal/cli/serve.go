package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/reviewfactory/internal/config"
	"github.com/lucasnoah/reviewfactory/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the review HTTP API",
	Long: `Start the HTTP API that accepts review requests, runs them in the
background and serves status and reports. Stale workspaces left by a previous
process are swept on startup. SIGINT or SIGTERM stops accepting requests and
waits for in-flight runs to record a terminal status.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Server.Addr = addr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, cleanup, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		if n, err := a.workspaces.Sweep(config.MustDuration(cfg.Workspace.SweepAfter)); err != nil {
			a.logger.Warnw("workspace sweep failed", "error", err)
		} else if n > 0 {
			a.logger.Infow("swept stale workspaces", "count", n)
		}

		orch := a.orchestrator(a.gitCloner(false))
		srv := web.NewServer(orch, cfg.Server.Addr, a.metrics.Handler(), a.logger.Named("http"))

		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()
		a.logger.Infow("listening", "addr", cfg.Server.Addr)

		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		a.logger.Infow("shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), config.MustDuration(cfg.Server.ShutdownTimeout))
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			a.logger.Warnw("http shutdown", "error", err)
		}
		if err := orch.Shutdown(shutCtx); err != nil {
			return fmt.Errorf("runs did not settle within %s: %w", cfg.Server.ShutdownTimeout, err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
}
