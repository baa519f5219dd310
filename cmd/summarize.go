package cmd

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var (
	summarizeQuestion string
	summarizeSQL      string
)

var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Answer a question from the rows of a known-good query",
	Long: `Run a query you already trust and have the text model answer the question
from its rows. No SQL is generated and no repair is attempted; engine errors
are printed as they are.

Examples:
  tableqa summarize --question "Which station is busiest?" \
    --sql "SELECT start_station, COUNT(*) AS rides FROM trips GROUP BY 1 ORDER BY 2 DESC LIMIT 5"`,
	Run: func(cmd *cobra.Command, args []string) {
		if summarizeQuestion == "" || summarizeSQL == "" {
			HandleError(fmt.Errorf("question and sql are required"), "Missing parameter")
		}

		a, cleanup := mustOpenApp(cmd.Context(), false)
		defer cleanup()

		out, err := a.Engine.Execute(cmd.Context(), summarizeSQL)
		if err != nil {
			HandleError(err, "Failed to execute query")
		}
		if !out.Succeeded() {
			printJSON(QueryOutput{Errors: out.Errors})
			return
		}

		text, err := a.Orchestrator.Summarize(cmd.Context(), summarizeQuestion, out.Rows)
		if err != nil {
			HandleError(err, "Failed to summarize")
		}
		pterm.Println(text)
	},
}

func init() {
	summarizeCmd.Flags().StringVar(&summarizeQuestion, "question", "", "Question to answer (required)")
	summarizeCmd.Flags().StringVarP(&summarizeSQL, "sql", "q", "", "Query whose rows hold the answer (required)")
	rootCmd.AddCommand(summarizeCmd)
}
