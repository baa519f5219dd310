package cmd

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"tableqa/internal/engine"
	"tableqa/internal/orchestrator"
	"tableqa/internal/repair"
)

var (
	askJSON    bool
	askVerbose bool
	askRows    int
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a question about the catalog's tables",
	Long: `Ask a natural language question. TableQA generates SQL, runs it, repairs
it through a chat session when the engine rejects it, and summarizes the rows.

When every repair round fails, the last query and engine errors are shown
instead of an answer. Use --verbose to print the repair transcript.

Example:
  tableqa ask "Which station had the most rides by riders over 40?"
  tableqa ask --max-attempts 3 --json "How many trips were longer than an hour?"`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		question := strings.Join(args, " ")

		a, cleanup := mustOpenApp(cmd.Context(), false)
		defer cleanup()

		var spinner *pterm.SpinnerPrinter
		if !askJSON {
			spinner, _ = pterm.DefaultSpinner.Start("Thinking...")
		}
		resp, err := a.Orchestrator.Ask(cmd.Context(), question)
		if spinner != nil {
			if err != nil || resp.Kind != orchestrator.Answered {
				spinner.Fail("No answer")
			} else {
				spinner.Success(fmt.Sprintf("Answered after %d repair round(s)", resp.Attempts))
			}
		}
		if err != nil {
			HandleError(err, "Failed to answer question")
		}

		if askJSON {
			printJSON(resp.View(askVerbose))
			return
		}
		renderResponse(resp)
	},
}

func renderResponse(resp orchestrator.Response) {
	switch resp.Kind {
	case orchestrator.Answered:
		pterm.Println(resp.Text)
		pterm.Println()
		pterm.DefaultBox.WithTitle("SQL").WithPadding(1).Println(resp.Query)
		renderRows(resp.Rows, askRows)
	default:
		pterm.Warning.Printf("Gave up after %d repair round(s)\n", resp.Attempts)
		if resp.Diagnostic != "" {
			pterm.Println(resp.Diagnostic)
		}
		if resp.Query != "" {
			pterm.DefaultBox.WithTitle("Last query").WithPadding(1).Println(resp.Query)
		}
		if len(resp.Errors) > 0 {
			items := make([]pterm.BulletListItem, 0, len(resp.Errors))
			for _, e := range resp.Errors {
				items = append(items, pterm.BulletListItem{Level: 0, Text: e.Message})
			}
			_ = pterm.DefaultBulletList.WithItems(items).Render()
		}
	}
	if askVerbose && resp.Session != nil {
		renderTranscript(resp.Session.Transcript())
	}
}

func renderRows(res *engine.Result, limit int) {
	if res == nil || len(res.Columns) == 0 {
		return
	}
	data := pterm.TableData{res.Columns}
	for i, row := range res.Rows {
		if limit > 0 && i >= limit {
			break
		}
		cells := make([]string, len(row))
		for j, v := range row {
			if v == nil {
				cells[j] = "NULL"
				continue
			}
			cells[j] = fmt.Sprint(v)
		}
		data = append(data, cells)
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	if shown := len(data) - 1; shown < len(res.Rows) || res.Truncated {
		pterm.Info.Printf("Showing %d of %d rows\n", shown, len(res.Rows))
	}
}

func renderTranscript(turns []repair.Turn) {
	style := pterm.NewStyle(pterm.FgLightCyan, pterm.Bold)
	for _, t := range turns {
		pterm.Println(style.Sprint(strings.ToUpper(string(t.Role))))
		pterm.Println(t.Text)
		pterm.Println()
	}
}

func init() {
	askCmd.Flags().BoolVar(&askJSON, "json", false, "Print the response as JSON")
	askCmd.Flags().BoolVarP(&askVerbose, "verbose", "v", false, "Show the repair transcript")
	askCmd.Flags().IntVar(&askRows, "rows", 20, "Result rows to print")
	rootCmd.AddCommand(askCmd)
}
