package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/pterm/pterm"

	"tableqa/internal/app"
	"tableqa/internal/config"
	"tableqa/internal/errs"
	"tableqa/internal/keychain"
)

// These variables will be set by main package
var (
	LaunchTUI   func(a *app.App) error
	StartServer func(a *app.App, addr string) error
	SetupLogger func(c config.Config, stderr bool) (*slog.Logger, func(), error)
)

// HandleError prints error and exits
func HandleError(err error, message string) {
	pterm.Error.Printf("%s: %v\n", message, err)
	switch errs.KindOf(err) {
	case errs.NotFound:
		pterm.Info.Println("Run `tableqa sync` to download the catalog's data files.")
	case errs.Config:
		pterm.Info.Println("Check your TABLEQA_* environment or run `tableqa auth status`.")
	}
	os.Exit(1)
}

// openKeychain returns nil when no secure store is available; callers fall
// back to the environment.
func openKeychain(logger *slog.Logger) *keychain.Manager {
	k, err := keychain.Open()
	if err != nil {
		logger.Debug("Keychain unavailable", "error", err)
		return nil
	}
	return k
}

// mustOpenApp builds the application or exits. Logs go to stderr when
// stderr is set, otherwise to the data dir. The returned cleanup closes the
// engine and the log file.
func mustOpenApp(ctx context.Context, stderr bool) (*app.App, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger, closeLog, err := SetupLogger(cfg, stderr)
	if err != nil {
		HandleError(err, "Failed to set up logging")
	}

	spinner, _ := pterm.DefaultSpinner.WithRemoveWhenDone(true).Start("Loading catalog and schema...")
	a, err := app.New(ctx, cfg, logger, app.WithKeychain(openKeychain(logger)))
	if spinner != nil {
		_ = spinner.Stop()
	}
	if err != nil {
		closeLog()
		HandleError(err, "Failed to initialize")
	}
	return a, func() {
		if err := a.Close(); err != nil {
			logger.Warn("Close failed", "error", err)
		}
		closeLog()
	}
}

// printJSON writes v to stdout, indented.
func printJSON(v any) {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		HandleError(err, "Failed to encode JSON")
	}
	fmt.Println(string(output))
}
