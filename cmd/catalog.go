package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/climate-pipeline/internal/model"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect registered tables",
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered tables",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("catalog"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		dataset, _ := cmd.Flags().GetString("dataset")
		if dataset == "" {
			dataset = cfg.Catalog.Dataset
		}
		tables, err := st.ListTables(ctx, dataset)
		if err != nil {
			return eris.Wrap(err, "catalog list")
		}
		if len(tables) == 0 {
			fmt.Fprintln(os.Stderr, "No tables registered.")
			return nil
		}
		formatTables(os.Stdout, tables)
		return nil
	},
}

var catalogShowCmd = &cobra.Command{
	Use:   "show <table>",
	Short: "Show a registered table with its columns",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("catalog"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		dataset, _ := cmd.Flags().GetString("dataset")
		if dataset == "" {
			dataset = cfg.Catalog.Dataset
		}
		t, err := st.GetTable(ctx, dataset, args[0])
		if err != nil {
			return eris.Wrap(err, "catalog show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(t)
	},
}

func init() {
	catalogListCmd.Flags().String("dataset", "", "dataset to list (default: catalog.dataset)")
	catalogShowCmd.Flags().String("dataset", "", "dataset of the table (default: catalog.dataset)")

	catalogCmd.AddCommand(catalogListCmd)
	catalogCmd.AddCommand(catalogShowCmd)
	rootCmd.AddCommand(catalogCmd)
}

// formatTables writes a tabular list of catalog entries to w.
func formatTables(out io.Writer, tables []model.Table) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TABLE\tROWS\tCOLUMNS\tURI\tREGISTERED")
	_, _ = fmt.Fprintln(w, "-----\t----\t-------\t---\t----------")
	for _, t := range tables {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n",
			t.QualifiedName(), t.Rows, len(t.Columns), t.URI, t.RegisteredAt.Format("2006-01-02 15:04"))
	}
	_ = w.Flush()
}
