package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"tableqa/internal/app"
	"tableqa/internal/config"
	"tableqa/internal/llm"
	"tableqa/internal/llm/llmtest"
)

const tripsCSV = `station,age,duration
W 21 St,45,610
Broadway,30,320
W 21 St,52,1250
Broadway,41,900
Pier 40,63,480
`

// SetupTestApp builds an App over a CSV trips table with scripted models.
// tweak, when non-nil, adjusts the config before the app is built.
func SetupTestApp(t *testing.T, models llm.Models, tweak func(*config.Config)) *app.App {
	t.Helper()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "trips.csv"), []byte(tripsCSV), 0644); err != nil {
		t.Fatalf("failed to write trips.csv: %v", err)
	}
	catalog := "name: citibike\ndialect: duckdb\ntables:\n  - name: trips\n    source: trips.csv\n    description: One row per ride\n"
	if err := os.WriteFile(filepath.Join(dir, "catalog.yaml"), []byte(catalog), 0644); err != nil {
		t.Fatalf("failed to write catalog: %v", err)
	}

	cfg := config.Defaults()
	cfg.DataDir = dir
	cfg.CatalogPath = filepath.Join(dir, "catalog.yaml")
	if tweak != nil {
		tweak(&cfg)
	}

	a, err := app.New(context.Background(), cfg, nil, app.WithModels(models))
	if err != nil {
		t.Fatalf("failed to build test app: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

// ScriptedModels returns fakes with the given replies.
func ScriptedModels(code, chat, text []string) (*llmtest.Code, *llmtest.Chat, *llmtest.Text, llm.Models) {
	c := &llmtest.Code{Replies: code}
	ch := &llmtest.Chat{Replies: chat}
	tx := &llmtest.Text{Replies: text}
	return c, ch, tx, llm.Models{Code: c, Chat: ch, Text: tx}
}

func sqlBlock(q string) string {
	return "```sql\n" + q + "\n```"
}

func maxAttempts(n int) func(*config.Config) {
	return func(c *config.Config) { c.Repair.MaxAttempts = n }
}
