package cmd

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kyleking/askmetrics/internal/cache"
	"github.com/kyleking/askmetrics/internal/errors"
	"github.com/kyleking/askmetrics/internal/storage"
)

var (
	clearForce     bool
	clearCacheOnly bool
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove stored metrics and cached answers",
	Long: `Delete all rows from the metrics database and drop the answer cache.
Use --cache-only to keep the metrics and clear cached answers alone.`,
	Args: cobra.NoArgs,
	RunE: runClear,
}

func init() {
	clearCmd.Flags().BoolVarP(&clearForce, "force", "f", false, "Skip the confirmation prompt")
	clearCmd.Flags().BoolVar(&clearCacheOnly, "cache-only", false, "Clear only the answer cache")

	rootCmd.AddCommand(clearCmd)
}

func runClear(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if !clearForce {
		target := "all metrics and cached answers"
		if clearCacheOnly {
			target = "all cached answers"
		}

		fmt.Fprintf(out, "This will delete %s. Continue? [y/N] ", target)

		reader := bufio.NewReader(cmd.InOrStdin())

		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return errors.Wrap(err, errors.ErrTypeValidation, "failed to read confirmation")
		}

		answer := strings.ToLower(strings.TrimSpace(line))
		if answer != "y" && answer != "yes" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	answers, err := cache.New(cfg.Cache)
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeCache, "failed to open answer cache")
	}

	if err := answers.Clear(ctx); err != nil {
		return errors.Wrap(err, errors.ErrTypeCache, "failed to clear answer cache")
	}

	fmt.Fprintln(out, "Answer cache cleared.")

	if clearCacheOnly {
		return nil
	}

	store, err := storage.Open(cfg.Database)
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeDatabase, "failed to open metrics database")
	}
	defer store.Close()

	if err := store.Clear(ctx); err != nil {
		return errors.Wrap(err, errors.ErrTypeDatabase, "failed to clear metrics")
	}

	fmt.Fprintln(out, "Metrics cleared.")

	return nil
}
