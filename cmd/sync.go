package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"tableqa/internal/catalog"
)

var (
	syncForce       bool
	syncConcurrency int
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Download the catalog's remote data files",
	Long: `Download every remote table source (http(s):// or s3://) named in the
catalog into the data directory. Files already present are skipped unless
--force is given. s3:// sources use the TABLEQA_S3_* settings; empty
credentials make anonymous requests.

Examples:
  tableqa sync
  tableqa sync --force --catalog citibike.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		logger, closeLog, err := SetupLogger(cfg, false)
		if err != nil {
			HandleError(err, "Failed to set up logging")
		}
		defer closeLog()

		cat, err := catalog.Load(cfg.CatalogPath)
		if err != nil {
			HandleError(err, "Failed to load catalog")
		}
		if err := runSync(cmd.Context(), logger, cat, syncForce); err != nil {
			HandleError(err, "Sync failed")
		}
	},
}

func newSyncer(logger *slog.Logger, opts ...catalog.SyncOption) (*catalog.Syncer, error) {
	store, err := catalog.NewObjectStore(catalog.ObjectStoreConfig{
		Endpoint:        cfg.ObjectStore.Endpoint,
		Region:          cfg.ObjectStore.Region,
		AccessKeyID:     cfg.ObjectStore.AccessKeyID,
		SecretAccessKey: cfg.ObjectStore.SecretAccessKey,
		UseSSL:          cfg.ObjectStore.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	opts = append([]catalog.SyncOption{
		catalog.WithObjectStore(store),
		catalog.WithConcurrency(syncConcurrency),
		catalog.WithSyncLogger(logger),
	}, opts...)
	return catalog.NewSyncer(cfg.DataDir, opts...), nil
}

// runSync downloads the catalog's remote tables with a progress bar and
// prints a report table.
func runSync(ctx context.Context, logger *slog.Logger, cat *catalog.Catalog, force bool) error {
	remote := 0
	for _, t := range cat.Tables {
		if t.Remote() {
			remote++
		}
	}
	if remote == 0 {
		pterm.Info.Println("Catalog has no remote sources; nothing to sync.")
		return nil
	}

	var mu sync.Mutex
	bar, _ := pterm.DefaultProgressbar.WithTotal(remote).WithTitle("Syncing tables").Start()
	syncer, err := newSyncer(logger, catalog.WithProgress(func(r catalog.Report) {
		mu.Lock()
		defer mu.Unlock()
		if bar != nil {
			bar.UpdateTitle(r.Table)
			bar.Increment()
		}
	}))
	if err != nil {
		return err
	}
	reports, err := syncer.Sync(ctx, cat, force)
	if bar != nil {
		_, _ = bar.Stop()
	}
	if err != nil {
		return err
	}

	data := pterm.TableData{{"Table", "Status", "Bytes", "Rows", "Path"}}
	for _, r := range reports {
		status := "downloaded"
		if r.Skipped {
			status = "present"
		}
		rows := "?"
		if r.Rows >= 0 {
			rows = fmt.Sprint(r.Rows)
		}
		data = append(data, []string{r.Table, status, fmt.Sprint(r.Bytes), rows, r.Path})
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	pterm.Success.Printf("Synced %d table(s) into %s\n", len(reports), cfg.DataDir)
	return nil
}

// ensureData offers to download missing remote tables before the TUI
// starts. It returns false when the user declines.
func ensureData(ctx context.Context) bool {
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		HandleError(err, "Failed to load catalog")
	}
	logger, closeLog, err := SetupLogger(cfg, false)
	if err != nil {
		HandleError(err, "Failed to set up logging")
	}
	defer closeLog()

	syncer, err := newSyncer(logger)
	if err != nil {
		HandleError(err, "Failed to configure object store")
	}
	missing := syncer.Missing(cat)
	if len(missing) == 0 {
		return true
	}

	pterm.Warning.Println("Missing data files for these tables:")
	items := make([]pterm.BulletListItem, 0, len(missing))
	for _, t := range missing {
		items = append(items, pterm.BulletListItem{Level: 0, Text: t.Name + " (" + t.Source + ")"})
	}
	_ = pterm.DefaultBulletList.WithItems(items).Render()

	ok, _ := pterm.DefaultInteractiveConfirm.WithDefaultValue(false).Show("Download them now?")
	if !ok {
		logger.Warn("User declined to download missing data files", "missing", len(missing))
		return false
	}
	if err := runSync(ctx, logger, cat, false); err != nil {
		HandleError(err, "Sync failed")
	}
	return true
}

func init() {
	syncCmd.Flags().BoolVarP(&syncForce, "force", "f", false, "Download files that are already present")
	syncCmd.Flags().IntVar(&syncConcurrency, "concurrency", 4, "Parallel downloads")
	rootCmd.AddCommand(syncCmd)
}
