package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/reviewfactory/internal/db"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Run event database management",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer database.Close()
		if err := database.Migrate(cmd.Context()); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied.")
		return nil
	},
}

var dbResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop and recreate the event tables (destructive!)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return fmt.Errorf("refusing to reset without --yes")
		}
		database, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer database.Close()
		if err := database.Reset(cmd.Context()); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Database reset.")
		return nil
	},
}

func openDB(cmd *cobra.Command) (*db.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("no database configured: set database.url or REVIEWFACTORY_DATABASE_URL")
	}
	database, err := db.Open(cmd.Context(), cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return database, nil
}

func init() {
	dbResetCmd.Flags().Bool("yes", false, "Confirm the destructive reset")
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbResetCmd)
}
