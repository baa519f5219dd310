package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"tableqa/internal/engine"
)

var queryString string

// QueryOutput is the JSON printed by the query command.
type QueryOutput struct {
	Result *engine.Result     `json:"result,omitempty"`
	Errors []engine.ExecError `json:"errors,omitempty"`
}

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Run SQL against the configured engine",
	Long: `Execute the requested QUERY against the configured engine and print the
result, or the engine's errors, as JSON. Rows are capped at the engine's row
limit.

Examples:
  tableqa query --sql "SELECT * FROM trips LIMIT 5"
  tableqa query --sql "SELECT COUNT(*) AS total FROM trips"`,
	Run: func(cmd *cobra.Command, args []string) {
		if queryString == "" {
			HandleError(fmt.Errorf("query is required"), "Missing query parameter")
		}

		a, cleanup := mustOpenApp(cmd.Context(), false)
		defer cleanup()

		out, err := a.Engine.Execute(cmd.Context(), queryString)
		if err != nil {
			HandleError(err, "Failed to execute query")
		}
		printJSON(QueryOutput{Result: out.Rows, Errors: out.Errors})
	},
}

func init() {
	queryCmd.Flags().StringVarP(&queryString, "sql", "q", "", "SQL query to execute (required)")
	_ = queryCmd.MarkFlagRequired("sql")
	rootCmd.AddCommand(queryCmd)
}
