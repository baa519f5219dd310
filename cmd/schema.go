package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"tableqa/internal/schema"
)

// SchemaOutput represents the schema information for a table
type SchemaOutput struct {
	TableName   string       `json:"table_name"`
	Description string       `json:"description,omitempty"`
	ColumnCount int          `json:"column_count"`
	Columns     []ColumnInfo `json:"columns"`
}

// ColumnInfo represents information about a single column
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

var schemaMarkdown bool

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Show the schema context questions are answered against",
	Long: `Show every column of every catalog table, as seen by the engine.
With --markdown, print the exact table that is embedded in model prompts.

Examples:
  tableqa schema
  tableqa schema --markdown`,
	Run: func(cmd *cobra.Command, args []string) {
		a, cleanup := mustOpenApp(cmd.Context(), false)
		defer cleanup()

		sc := a.Orchestrator.Schema()
		if schemaMarkdown {
			fmt.Println(sc.Markdown())
			return
		}

		out := groupSchema(sc)
		for i := range out {
			if t, ok := a.Catalog.Table(out[i].TableName); ok {
				out[i].Description = t.Description
			}
		}
		printJSON(out)
	},
}

// groupSchema folds the flat column list into one entry per table, keeping
// table order.
func groupSchema(sc schema.Context) []SchemaOutput {
	var out []SchemaOutput
	index := map[string]int{}
	for _, c := range sc.Columns() {
		i, ok := index[c.Table]
		if !ok {
			i = len(out)
			index[c.Table] = i
			out = append(out, SchemaOutput{TableName: c.Table, Columns: []ColumnInfo{}})
		}
		out[i].Columns = append(out[i].Columns, ColumnInfo{Name: c.Name, Type: c.DataType})
		out[i].ColumnCount = len(out[i].Columns)
	}
	return out
}

func init() {
	schemaCmd.Flags().BoolVar(&schemaMarkdown, "markdown", false, "Print the prompt markdown table")
	rootCmd.AddCommand(schemaCmd)
}
