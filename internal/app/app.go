// Package app assembles the object graph for one process from config and
// the dataset catalog.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"tableqa/internal/answer"
	"tableqa/internal/catalog"
	"tableqa/internal/config"
	"tableqa/internal/engine"
	"tableqa/internal/engine/duckdb"
	"tableqa/internal/engine/postgres"
	"tableqa/internal/errs"
	"tableqa/internal/keychain"
	"tableqa/internal/llm"
	"tableqa/internal/llm/anthropic"
	"tableqa/internal/llm/vertex"
	"tableqa/internal/observability"
	"tableqa/internal/orchestrator"
	"tableqa/internal/prompt"
	"tableqa/internal/repair"
	"tableqa/internal/schema"
	"tableqa/internal/synth"
)

// App owns every long-lived collaborator.
type App struct {
	Config       config.Config
	Logger       *slog.Logger
	Catalog      *catalog.Catalog
	Dialect      prompt.Dialect
	Engine       engine.Engine
	Models       llm.Models
	Orchestrator *orchestrator.Orchestrator
}

type options struct {
	models *llm.Models
	keys   *keychain.Manager
	hooks  *repair.Hooks
}

// Option customizes New.
type Option func(*options)

// WithModels skips backend construction and uses m.
func WithModels(m llm.Models) Option {
	return func(o *options) { o.models = &m }
}

// WithKeychain resolves API keys missing from the environment through k.
func WithKeychain(k *keychain.Manager) Option {
	return func(o *options) { o.keys = k }
}

// WithRepairHooks forwards loop events to h after metrics are recorded.
func WithRepairHooks(h repair.Hooks) Option {
	return func(o *options) { o.hooks = &h }
}

// New builds the engine, the models and the orchestrator, and takes the
// schema snapshot every question is answered against.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}
	dialect := DialectFor(cfg, cat)

	eng, err := OpenEngine(ctx, cfg, cat, logger)
	if err != nil {
		return nil, err
	}

	var models llm.Models
	if o.models != nil {
		models = *o.models
	} else {
		models, err = buildModels(ctx, cfg, o.keys)
		if err != nil {
			_ = eng.Close()
			return nil, err
		}
	}
	models = llm.Bound(models, cfg.Repair.CallTimeout, observability.ObserveModelCall)

	sc, err := schema.Fetch(ctx, eng, cat.TableNames())
	if err != nil {
		_ = eng.Close()
		return nil, err
	}
	logger.Info("Schema loaded", "tables", len(sc.Tables()), "columns", sc.Len(), "dialect", dialect.Language)

	loop := repair.NewLoop(
		synth.New(models.Code, dialect, logger),
		eng,
		models.Chat,
		dialect,
		repair.WithRepairHints(cfg.Repair.Hints),
		repair.WithHooks(observability.RepairHooks(o.hooks)),
		repair.WithLogger(logger),
	)
	summarizer := answer.New(models.Text, dialect,
		answer.WithMaxOutputTokens(cfg.Answer.MaxOutputTokens),
		answer.WithMaxPromptRows(cfg.Answer.PromptRowLimit),
		answer.WithLogger(logger),
	)
	orch := orchestrator.New(loop, summarizer, sc,
		orchestrator.WithMaxAttempts(cfg.Repair.MaxAttempts),
		orchestrator.WithObserver(observability.Questions{}),
		orchestrator.WithLogger(logger),
	)

	return &App{
		Config:       cfg,
		Logger:       logger,
		Catalog:      cat,
		Dialect:      dialect,
		Engine:       eng,
		Models:       models,
		Orchestrator: orch,
	}, nil
}

// Close releases the engine.
func (a *App) Close() error {
	if a == nil || a.Engine == nil {
		return nil
	}
	return a.Engine.Close()
}

// DialectFor picks the prompt dialect: the catalog's label when present,
// otherwise the engine's own.
func DialectFor(cfg config.Config, cat *catalog.Catalog) prompt.Dialect {
	if cat != nil && strings.TrimSpace(cat.Dialect) != "" {
		return prompt.DialectByName(cat.Dialect)
	}
	if cfg.Engine == config.EnginePostgres {
		return prompt.Postgres
	}
	return prompt.DuckDB
}

// OpenEngine opens the configured engine. DuckDB gets one view per catalog
// table; PostgreSQL tables must already exist in the database.
func OpenEngine(ctx context.Context, cfg config.Config, cat *catalog.Catalog, logger *slog.Logger) (engine.Engine, error) {
	var eng engine.Engine
	switch cfg.Engine {
	case config.EnginePostgres:
		pg, err := postgres.Open(ctx, postgres.Config{
			DSN:          cfg.Postgres.DSN,
			RowLimit:     cfg.RowLimit,
			MaxOpenConns: cfg.Postgres.MaxOpenConns,
		}, logger)
		if err != nil {
			return nil, err
		}
		eng = pg
	default:
		sources, err := duckdbSources(cfg, cat)
		if err != nil {
			return nil, err
		}
		db, err := duckdb.Open(ctx, duckdb.Config{
			Path:     cfg.DuckDB.Path,
			RowLimit: cfg.RowLimit,
			Sources:  sources,
		}, logger)
		if err != nil {
			return nil, err
		}
		eng = db
	}
	return engine.Bounded(eng, cfg.Repair.CallTimeout), nil
}

func duckdbSources(cfg config.Config, cat *catalog.Catalog) ([]duckdb.Source, error) {
	var missing []string
	sources := make([]duckdb.Source, 0, len(cat.Tables))
	for _, t := range cat.Tables {
		path := cat.LocalPath(t, cfg.DataDir)
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			missing = append(missing, t.Name)
			continue
		}
		sources = append(sources, duckdb.Source{Table: t.Name, Path: path, Format: t.Format})
	}
	if len(missing) > 0 {
		return nil, errs.New(errs.NotFound, "catalog",
			fmt.Sprintf("missing data for %s; run `tableqa sync`", strings.Join(missing, ", ")))
	}
	return sources, nil
}

func buildModels(ctx context.Context, cfg config.Config, keys *keychain.Manager) (llm.Models, error) {
	switch cfg.Backend {
	case config.BackendAnthropic:
		key := keys.Resolve(cfg.Anthropic.APIKey, keychain.KeyAnthropic)
		if key == "" {
			return llm.Models{}, errs.New(errs.Config, "anthropic", "no API key; set ANTHROPIC_API_KEY or run `tableqa auth set anthropic_api_key`")
		}
		opts := []anthropic.Option{
			anthropic.WithAPIKey(key),
			anthropic.WithModels(cfg.Anthropic.CodeModel, cfg.Anthropic.ChatModel, cfg.Anthropic.TextModel),
		}
		if cfg.Anthropic.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.Anthropic.BaseURL))
		}
		return anthropic.New(ctx, opts...)
	default:
		return vertex.New(ctx, vertex.Config{
			Project:   cfg.Vertex.Project,
			Location:  cfg.Vertex.Location,
			APIKey:    keys.Resolve(cfg.Vertex.APIKey, keychain.KeyGoogle),
			CodeModel: cfg.Vertex.CodeModel,
			ChatModel: cfg.Vertex.ChatModel,
			TextModel: cfg.Vertex.TextModel,
		})
	}
}
