package cmd

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"tableqa/internal/config"
)

var (
	dataDir     string
	catalogPath string
	backend     string
	engineKind  string
	maxAttempts int
	repairHints bool

	cfg config.Config

	rootCmd = &cobra.Command{
		Use:   "tableqa",
		Short: "TableQA - Ask questions about tabular data in plain language",
		Long: `TableQA turns natural-language questions into SQL, runs them against a
DuckDB or PostgreSQL engine, repairs failing queries through a conversation
with a chat model, and summarizes the rows it finds.

When run without commands, it launches an interactive TUI.
Use subcommands for CLI mode.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cfg = loaded
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			// No subcommand specified - launch TUI
			if cfg.Engine == config.EngineDuckDB && !ensureData(cmd.Context()) {
				pterm.Println("Cannot proceed without the catalog's data files.")
				return
			}
			a, cleanup := mustOpenApp(cmd.Context(), false)
			defer cleanup()
			if err := LaunchTUI(a); err != nil {
				HandleError(err, "TUI exited with an error")
			}
		},
	}
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&dataDir, "data-dir", "d", "tmpdata/", "Directory for synced data files and logs")
	flags.StringVarP(&catalogPath, "catalog", "c", "catalog.yaml", "Dataset catalog file")
	flags.StringVar(&backend, "backend", "", "Model backend: vertex or anthropic")
	flags.StringVar(&engineKind, "engine", "", "Query engine: duckdb or postgres")
	flags.IntVar(&maxAttempts, "max-attempts", 0, "Repair rounds allowed per question")
	flags.BoolVar(&repairHints, "hints", false, "Point the chat model at the failing line during repair")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads the environment and lets explicitly set flags win.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	c, err := config.LoadFromEnv("tableqa")
	if err != nil {
		return config.Config{}, err
	}
	changed := func(name string) bool {
		f := cmd.Flag(name)
		return f != nil && f.Changed
	}
	if changed("data-dir") || c.DataDir == config.Defaults().DataDir {
		c.DataDir = dataDir
	}
	if changed("catalog") || c.CatalogPath == config.Defaults().CatalogPath {
		c.CatalogPath = catalogPath
	}
	if changed("backend") {
		c.Backend = config.Backend(backend)
	}
	if changed("engine") {
		c.Engine = config.EngineKind(engineKind)
	}
	if changed("max-attempts") {
		c.Repair.MaxAttempts = maxAttempts
	}
	if changed("hints") {
		c.Repair.Hints = repairHints
	}
	return c, c.Validate()
}
