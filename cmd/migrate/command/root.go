// Package command provides the schema migration commands for the car rental
// database. The embedded goose migrations are applied against the postgres
// database named in the configuration file.
//
//	./migrate up     [-c config/config.dev.yaml]
//	./migrate down   [-c config/config.dev.yaml]
//	./migrate status [-c config/config.dev.yaml]
package command

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"carrent-backend/internal/config"
	"carrent-backend/internal/logger"
	"carrent-backend/internal/repository/postgres"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the car rental database schema",
	Long: `Manage the car rental database schema.
The migrations are embedded in the binary, so only a configuration file
pointing at a postgres database is needed. The in-memory driver has no
schema and is rejected.`,
	SilenceUsage: true,
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply every pending migration",
	Args:  cobra.NoArgs,
	RunE:  withDB(postgres.Migrate),
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	Args:  cobra.NoArgs,
	RunE:  withDB(postgres.MigrateDown),
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the state of every migration",
	Args:  cobra.NoArgs,
	RunE:  withDB(postgres.MigrationStatus),
}

func init() {
	rootCmd.PersistentFlags().StringVarP(
		&cfgPath, "config", "c", "config/config.dev.yaml",
		"Path to configuration file",
	)
	rootCmd.AddCommand(upCmd, downCmd, statusCmd)
}

func withDB(action func(context.Context, *sql.DB) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("config.Load(%q): %w", cfgPath, err)
		}
		logger.Initialize(cfg.Log.Level, cfg.Log.Format)
		if cfg.Database.Driver != "postgres" {
			return fmt.Errorf("database driver %q has no schema to migrate", cfg.Database.Driver)
		}

		db, err := sql.Open("postgres", cfg.GetDatabaseConnectionString())
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer db.Close()

		ctx := cmd.Context()
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("pinging database: %w", err)
		}
		logger.Info("Running migration command", "command", cmd.Name(), "database", cfg.Database.Database)
		if err := action(ctx, db); err != nil {
			return fmt.Errorf("%s: %w", cmd.Name(), err)
		}
		return nil
	}
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
