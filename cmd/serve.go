package cmd

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var (
	addr     string
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API server.

Endpoints:
  POST /api/answer                      answer a question
  POST /api/query                       run SQL directly
  GET  /api/schema                      the schema context
  POST /api/sessions/{id}/messages      continue an exhausted repair session
  GET  /metrics                         Prometheus metrics
  GET  /healthz                         liveness`,
		Run: func(cmd *cobra.Command, args []string) {
			a, cleanup := mustOpenApp(cmd.Context(), true)
			defer cleanup()

			if addr == "" {
				addr = cfg.HTTP.Address
			}
			pterm.Info.Printf("Starting TableQA server on %s\n", addr)
			pterm.Info.Printf("Catalog: %s (%d tables)\n", cfg.CatalogPath, len(a.Catalog.Tables))

			if err := StartServer(a, addr); err != nil {
				HandleError(err, "Server failed")
			}
		},
	}
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&addr, "addr", "a", "", "Address to listen on (default TABLEQA_HTTP_ADDR or :8080)")
}
