package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kyleking/askmetrics/internal/config"
)

var configSave bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Display the active configuration",
	Long: `Show the current active configuration merged from the config file,
environment variables, and command-line flags. Secrets are redacted.`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

func init() {
	configCmd.Flags().BoolVar(&configSave, "save", false, "Write the active configuration to the config file")

	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "Active Configuration")
	fmt.Fprintln(out, "====================")

	fmt.Fprintln(out, "\nDatabase:")
	fmt.Fprintf(out, "  Driver: %s\n", cfg.Database.Driver)
	fmt.Fprintf(out, "  Path: %s\n", cfg.Database.Path)
	fmt.Fprintf(out, "  Max Connections: %d\n", cfg.Database.MaxConnections)
	fmt.Fprintf(out, "  Query Timeout: %s\n", cfg.Database.QueryTimeout)
	fmt.Fprintf(out, "  Max Result Rows: %d\n", cfg.Database.MaxResultRows)
	fmt.Fprintf(out, "  Scan Row Threshold: %d\n", cfg.Database.ScanRowThreshold)

	fmt.Fprintln(out, "\nSchema:")
	fmt.Fprintf(out, "  Refresh TTL: %s\n", cfg.Schema.RefreshTTL)

	fmt.Fprintln(out, "\nCache:")
	fmt.Fprintf(out, "  Backend: %s\n", cfg.Cache.Backend)
	fmt.Fprintf(out, "  Directory: %s\n", cfg.Cache.Directory)
	fmt.Fprintf(out, "  Max Size: %d MB\n", cfg.Cache.MaxSizeMB)
	fmt.Fprintf(out, "  TTL: %d hours\n", cfg.Cache.TTLHours)
	fmt.Fprintf(out, "  Cleanup Frequency: %s\n", cfg.Cache.CleanupFreq)

	fmt.Fprintln(out, "\nLLM:")
	fmt.Fprintf(out, "  Provider: %s\n", cfg.LLM.Provider)
	fmt.Fprintf(out, "  Model: %s\n", cfg.LLM.Model)
	fmt.Fprintf(out, "  API Key: %s\n", redactKey(cfg.LLM.APIKey))
	fmt.Fprintf(out, "  Temperature: %.2f\n", cfg.LLM.Temperature)
	fmt.Fprintf(out, "  Timeout: %s\n", cfg.LLM.Timeout)
	fmt.Fprintf(out, "  Retry Attempts: %d\n", cfg.LLM.RetryAttempts)
	fmt.Fprintf(out, "  Fallback Enabled: %t\n", cfg.LLM.EnableFallback)

	fmt.Fprintln(out, "\nAgent:")
	fmt.Fprintf(out, "  Max Repair Attempts: %d\n", cfg.Agent.MaxRepairAttempts)
	fmt.Fprintf(out, "  Clarify Threshold: %.2f\n", cfg.Agent.ClarifyThreshold)
	fmt.Fprintf(out, "  Summary Enabled: %t\n", cfg.Agent.EnableSummary)
	fmt.Fprintf(out, "  History Enabled: %t\n", cfg.Agent.EnableHistory)
	fmt.Fprintf(out, "  History Limit: %d\n", cfg.Agent.HistoryLimit)
	fmt.Fprintf(out, "  Scope: %s\n", cfg.Agent.Scope)

	fmt.Fprintln(out, "\nServer:")
	fmt.Fprintf(out, "  Addr: %s\n", cfg.Server.Addr)
	fmt.Fprintf(out, "  Read Timeout: %s\n", cfg.Server.ReadTimeout)
	fmt.Fprintf(out, "  Write Timeout: %s\n", cfg.Server.WriteTimeout)
	fmt.Fprintf(out, "  Shutdown Timeout: %s\n", cfg.Server.ShutdownTimeout)

	fmt.Fprintln(out, "\nLogging:")
	fmt.Fprintf(out, "  Level: %s\n", cfg.Logging.Level)
	fmt.Fprintf(out, "  Format: %s\n", cfg.Logging.Format)
	fmt.Fprintf(out, "  Output: %s\n", cfg.Logging.Output)

	if cfg.Logging.Output == "file" {
		fmt.Fprintf(out, "  File: %s\n", cfg.Logging.File)
	}

	if cfg.Debug.Enabled {
		fmt.Fprintln(out, "\nRaw Configuration (JSON):")

		data, err := json.MarshalIndent(redacted(cfg), "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}

		fmt.Fprintln(out, string(data))
	}

	if configSave {
		if err := config.SaveConfig(cfg); err != nil {
			return err
		}

		fmt.Fprintln(out, "\nConfiguration saved.")
	}

	return nil
}

func redactKey(key string) string {
	if key == "" {
		return "(not set)"
	}

	if len(key) <= 8 {
		return "********"
	}

	return key[:4] + "..." + key[len(key)-4:]
}

// redacted returns a copy safe to print
func redacted(c *config.Config) *config.Config {
	clone := *c
	clone.LLM.APIKey = redactKey(c.LLM.APIKey)
	clone.Database.DSN = redactKey(c.Database.DSN)

	return &clone
}
