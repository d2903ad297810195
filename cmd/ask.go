package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"github.com/kyleking/askmetrics/internal/agent"
	"github.com/kyleking/askmetrics/internal/errors"
	"github.com/kyleking/askmetrics/internal/format"
)

var (
	askFormat  string
	askSession string
	askShowSQL bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question about your app metrics",
	Long: `Ask a natural language question about the metrics database. The
question is translated to SQL, validated, executed, and the result is
summarized.

Examples:
  askmetrics ask "how many installs did we get last week?"
  askmetrics ask --format json "top 5 countries by revenue"
  askmetrics ask --session planning "what was UA cost for Round Trading Bot in June?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askFormat, "format", "table", "Result format: table, json, or csv")
	askCmd.Flags().StringVar(&askSession, "session", "", "Session name for follow-up questions")
	askCmd.Flags().BoolVar(&askShowSQL, "show-sql", false, "Print the generated SQL with the answer")

	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	output := format.Output(strings.ToLower(askFormat))
	switch output {
	case format.FormatTable, format.FormatJSON, format.FormatCSV:
	default:
		return errors.Newf(errors.ErrTypeValidation,
			"invalid format %q, must be table, json, or csv", askFormat)
	}

	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	question := strings.TrimSpace(strings.Join(args, " "))

	var spin *spinner.Spinner
	if stderrIsTerminal() {
		spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond,
			spinner.WithWriter(os.Stderr))
		spin.Suffix = " thinking..."
		spin.Start()
	}

	answer, err := rt.agent.Ask(ctx, agent.Request{
		SessionID: askSession,
		Scope:     cfg.Agent.Scope,
		Question:  question,
	})

	if spin != nil {
		spin.Stop()
	}

	if err != nil {
		return err
	}

	return printAnswer(cmd, answer, output)
}

// printAnswer renders one answer to the command's output stream
func printAnswer(cmd *cobra.Command, answer *agent.Answer, output format.Output) error {
	out := cmd.OutOrStdout()

	switch answer.Status {
	case agent.StatusClarify:
		fmt.Fprintln(out, answer.Clarification)
		return nil

	case agent.StatusFailed:
		fmt.Fprintln(out, answer.Reason)

		for _, violation := range answer.Violations {
			fmt.Fprintf(out, "  - %s\n", violation.Message)
		}

		return nil
	}

	if answer.Summary != "" {
		fmt.Fprintln(out, answer.Summary)
	}

	if answer.CSV != "" {
		fmt.Fprint(out, answer.CSV)
		return nil
	}

	if answer.Result != nil {
		rendered, err := format.NewFormatter().FormatResult(answer.Result, output)
		if err != nil {
			return err
		}

		fmt.Fprintln(out)
		fmt.Fprintln(out, rendered)
	}

	if askShowSQL && answer.SQL != "" {
		fmt.Fprintf(out, "\nSQL: %s\n", answer.SQL)
	}

	if answer.Cached {
		fmt.Fprintln(out, "(cached)")
	}

	return nil
}

func stderrIsTerminal() bool {
	info, err := os.Stderr.Stat()
	if err != nil {
		return false
	}

	return info.Mode()&os.ModeCharDevice != 0
}
