package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/kyleking/askmetrics/internal/errors"
	"github.com/kyleking/askmetrics/internal/storage"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show metrics database statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	store, err := storage.Open(cfg.Database)
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeDatabase, "failed to open metrics database")
	}
	defer store.Close()

	stats, err := store.GetStats(ctx)
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeDatabase, "failed to gather statistics")
	}

	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "Metrics Database Statistics")
	fmt.Fprintln(out, "===========================")
	fmt.Fprintf(out, "Rows:            %d\n", stats.TotalRows)
	fmt.Fprintf(out, "Apps:            %d\n", stats.Apps)
	fmt.Fprintf(out, "Countries:       %d\n", stats.Countries)

	if !stats.FirstDate.IsZero() {
		fmt.Fprintf(out, "Date range:      %s to %s\n",
			stats.FirstDate.Format("2006-01-02"), stats.LastDate.Format("2006-01-02"))
	}

	fmt.Fprintf(out, "Total installs:  %d\n", stats.TotalInstalls)
	fmt.Fprintf(out, "Total revenue:   $%.2f\n", stats.TotalRevenue)
	fmt.Fprintf(out, "Total UA cost:   $%.2f\n", stats.TotalUACost)

	if stats.DatabaseSizeMB > 0 {
		fmt.Fprintf(out, "Database size:   %.1f MB\n", stats.DatabaseSizeMB)
	}

	if len(stats.PlatformBreakdown) > 0 {
		fmt.Fprintln(out, "\nInstalls by platform:")

		platforms := make([]string, 0, len(stats.PlatformBreakdown))
		for platform := range stats.PlatformBreakdown {
			platforms = append(platforms, platform)
		}

		sort.Strings(platforms)

		for _, platform := range platforms {
			fmt.Fprintf(out, "  %-10s %d\n", platform, stats.PlatformBreakdown[platform])
		}
	}

	return nil
}
