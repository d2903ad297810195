package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kyleking/askmetrics/internal/errors"
	"github.com/kyleking/askmetrics/internal/storage"
)

var (
	initSeedDays int
	initNoSeed   bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the metrics database and load sample data",
	Long: `Create the app_metrics table and, unless the database already holds
data, load a deterministic sample dataset covering the recent past.

Examples:
  askmetrics init
  askmetrics init --days 30
  askmetrics init --no-seed`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().IntVar(&initSeedDays, "days", 90, "Days of sample data to generate")
	initCmd.Flags().BoolVar(&initNoSeed, "no-seed", false, "Create the schema without sample data")

	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	store, err := storage.Open(cfg.Database)
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeDatabase, "failed to open metrics database")
	}
	defer store.Close()

	if err := store.Bootstrap(ctx); err != nil {
		return errors.Wrap(err, errors.ErrTypeDatabase, "failed to create schema")
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Schema ready.")

	if initNoSeed {
		return nil
	}

	inserted, err := store.Seed(ctx, initSeedDays)
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeDatabase, "failed to seed sample data")
	}

	if inserted == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Database already holds data, seed skipped.")
		return nil
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d rows of sample data.\n", inserted)

	return nil
}
