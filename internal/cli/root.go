package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var configFile string

var rootCmd = &cobra.Command{
	Use:   "reviewfactory",
	Short: "Static-analysis review pipeline",
	Long: `reviewfactory clones a repository, runs linters, security scanners and
complexity analysis over it in parallel, and writes one consolidated report.

Run state is stored under ~/.reviewfactory/runs (JSON per run). An optional
Postgres database receives the run event log.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to reviewfactory.yaml")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
}
