package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/kyleking/askmetrics/internal/config"
	"github.com/kyleking/askmetrics/internal/logging"
)

var (
	flagDBPath   string
	flagDBDriver string
	flagLogLevel string
	flagVerbose  bool
	flagDebug    bool
	flagCacheDir string
	flagProvider string
	flagModel    string
	flagScope    string

	// Populated by the root pre-run, available to every subcommand
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "askmetrics",
	Short: "Ask questions about your app metrics in plain language",
	Long: `askmetrics answers natural language questions about mobile app
performance metrics. Questions are turned into SQL against the local
metrics database, validated, executed, and summarized.

Examples:
  askmetrics init
  askmetrics ask "how many installs did we get last week?"
  askmetrics ask --format csv "revenue by country in July"
  askmetrics serve`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		loaded, err := config.LoadConfigWithOverrides(flagOverrides())
		if err != nil {
			return err
		}

		loaded.ExpandAllPaths()

		if err := loaded.EnsureDirectories(); err != nil {
			return err
		}

		if err := logging.InitializeLogger(loaded.Logging); err != nil {
			return err
		}

		cfg = loaded

		return nil
	},
}

func flagOverrides() map[string]interface{} {
	return map[string]interface{}{
		"db-path":   flagDBPath,
		"db-driver": flagDBDriver,
		"log-level": flagLogLevel,
		"verbose":   flagVerbose,
		"debug":     flagDebug,
		"cache-dir": flagCacheDir,
		"provider":  flagProvider,
		"model":     flagModel,
		"scope":     flagScope,
	}
}

func Execute() error {
	ctx := context.Background()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagDBPath, "db-path", "", "Metrics database path (DuckDB)")
	pf.StringVar(&flagDBDriver, "db-driver", "", "Database driver: duckdb or postgres")
	pf.StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.BoolVar(&flagVerbose, "verbose", false, "Enable verbose output")
	pf.BoolVar(&flagDebug, "debug", false, "Enable debug mode")
	pf.StringVar(&flagCacheDir, "cache-dir", "", "Answer cache directory")
	pf.StringVar(&flagProvider, "provider", "", "Language model provider")
	pf.StringVar(&flagModel, "model", "", "Language model name")
	pf.StringVar(&flagScope, "scope", "", "Requester scope for cache isolation")
}
