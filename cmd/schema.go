package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/kyleking/askmetrics/internal/errors"
	"github.com/kyleking/askmetrics/internal/schema"
	"github.com/kyleking/askmetrics/internal/storage"
	"github.com/kyleking/askmetrics/internal/types"
)

var schemaJSON bool

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Show the queryable schema",
	Long:  `Print the tables and columns the agent can query, with the current schema version.`,
	Args:  cobra.NoArgs,
	RunE:  runSchema,
}

func init() {
	schemaCmd.Flags().BoolVar(&schemaJSON, "json", false, "Print the snapshot as JSON")

	rootCmd.AddCommand(schemaCmd)
}

func runSchema(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	store, err := storage.Open(cfg.Database)
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeDatabase, "failed to open metrics database")
	}
	defer store.Close()

	catalog := schema.NewCatalog(storage.NewIntrospector(store), cfg.Schema.RefreshTTLDuration())

	snapshot, err := catalog.Snapshot(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	if schemaJSON {
		data, err := json.MarshalIndent(snapshot, "", "  ")
		if err != nil {
			return err
		}

		fmt.Fprintln(out, string(data))

		return nil
	}

	fmt.Fprintf(out, "Schema version: %s\n", snapshot.Version)

	names := make([]string, 0, len(snapshot.Tables))
	for name := range snapshot.Tables {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		table := snapshot.Tables[name]

		fmt.Fprintf(out, "\n%s", table.Name)

		if table.EstimatedRows >= 0 {
			fmt.Fprintf(out, " (~%d rows)", table.EstimatedRows)
		}

		fmt.Fprintln(out)

		for _, col := range table.Columns {
			fmt.Fprintf(out, "  %-16s %-14s %s\n", col.Name, col.Type, col.Description)
		}

		printIndexes(out, table)
	}

	return nil
}

func printIndexes(out io.Writer, table types.Table) {
	if len(table.Indexes) == 0 {
		return
	}

	fmt.Fprintf(out, "  indexes:")

	for _, idx := range table.Indexes {
		fmt.Fprintf(out, " %s", idx.Name)
	}

	fmt.Fprintln(out)
}
