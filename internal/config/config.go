// Package config loads process settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Backend string

const (
	BackendVertex    Backend = "vertex"
	BackendAnthropic Backend = "anthropic"
)

type EngineKind string

const (
	EngineDuckDB   EngineKind = "duckdb"
	EnginePostgres EngineKind = "postgres"
)

type Config struct {
	Service     string
	DataDir     string
	CatalogPath string
	Backend     Backend
	Engine      EngineKind
	// RowLimit caps the rows either engine returns; zero means unlimited.
	RowLimit    int

	Repair        RepairConfig
	Answer        AnswerConfig
	DuckDB        DuckDBConfig
	Postgres      PostgresConfig
	Vertex        VertexConfig
	Anthropic     AnthropicConfig
	ObjectStore   ObjectStoreConfig
	HTTP          HTTPConfig
	Observability ObservabilityConfig
}

type RepairConfig struct {
	MaxAttempts int
	Hints       bool
	// CallTimeout bounds each model or engine call; zero means unbounded.
	CallTimeout time.Duration
}

type AnswerConfig struct {
	MaxOutputTokens int
	PromptRowLimit  int
}

type DuckDBConfig struct {
	// Path is the database file; empty means in-memory.
	Path string
}

type PostgresConfig struct {
	DSN          string
	MaxOpenConns int
}

type VertexConfig struct {
	Project   string
	Location  string
	APIKey    string
	CodeModel string
	ChatModel string
	TextModel string
}

type AnthropicConfig struct {
	APIKey    string
	BaseURL   string
	CodeModel string
	ChatModel string
	TextModel string
}

type ObjectStoreConfig struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	SessionTTL   time.Duration
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	cfg := Defaults()
	if serviceName != "" {
		cfg.Service = serviceName
	}

	var backend, engine string
	err := errors.Join(
		applyString(lookup, "TABLEQA_DATA_DIR", &cfg.DataDir),
		applyString(lookup, "TABLEQA_CATALOG", &cfg.CatalogPath),
		applyString(lookup, "TABLEQA_BACKEND", &backend),
		applyString(lookup, "TABLEQA_ENGINE", &engine),
		applyInt(lookup, "TABLEQA_MAX_ATTEMPTS", &cfg.Repair.MaxAttempts),
		applyBool(lookup, "TABLEQA_REPAIR_HINTS", &cfg.Repair.Hints),
		applyDuration(lookup, "TABLEQA_CALL_TIMEOUT", &cfg.Repair.CallTimeout),
		applyInt(lookup, "TABLEQA_ANSWER_MAX_TOKENS", &cfg.Answer.MaxOutputTokens),
		applyInt(lookup, "TABLEQA_PROMPT_ROW_LIMIT", &cfg.Answer.PromptRowLimit),
		applyString(lookup, "TABLEQA_DUCKDB_PATH", &cfg.DuckDB.Path),
		applyInt(lookup, "TABLEQA_ROW_LIMIT", &cfg.RowLimit),
		applyString(lookup, "TABLEQA_POSTGRES_DSN", &cfg.Postgres.DSN),
		applyInt(lookup, "TABLEQA_POSTGRES_MAX_OPEN_CONNS", &cfg.Postgres.MaxOpenConns),
		applyString(lookup, "GOOGLE_CLOUD_PROJECT", &cfg.Vertex.Project),
		applyString(lookup, "GOOGLE_CLOUD_LOCATION", &cfg.Vertex.Location),
		applyString(lookup, "GOOGLE_API_KEY", &cfg.Vertex.APIKey),
		applyString(lookup, "TABLEQA_VERTEX_CODE_MODEL", &cfg.Vertex.CodeModel),
		applyString(lookup, "TABLEQA_VERTEX_CHAT_MODEL", &cfg.Vertex.ChatModel),
		applyString(lookup, "TABLEQA_VERTEX_TEXT_MODEL", &cfg.Vertex.TextModel),
		applyString(lookup, "ANTHROPIC_API_KEY", &cfg.Anthropic.APIKey),
		applyString(lookup, "ANTHROPIC_BASE_URL", &cfg.Anthropic.BaseURL),
		applyString(lookup, "TABLEQA_ANTHROPIC_CODE_MODEL", &cfg.Anthropic.CodeModel),
		applyString(lookup, "TABLEQA_ANTHROPIC_CHAT_MODEL", &cfg.Anthropic.ChatModel),
		applyString(lookup, "TABLEQA_ANTHROPIC_TEXT_MODEL", &cfg.Anthropic.TextModel),
		applyString(lookup, "TABLEQA_S3_ENDPOINT", &cfg.ObjectStore.Endpoint),
		applyString(lookup, "TABLEQA_S3_REGION", &cfg.ObjectStore.Region),
		applyString(lookup, "TABLEQA_S3_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID),
		applyString(lookup, "TABLEQA_S3_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey),
		applyBool(lookup, "TABLEQA_S3_USE_SSL", &cfg.ObjectStore.UseSSL),
		applyString(lookup, "TABLEQA_HTTP_ADDR", &cfg.HTTP.Address),
		applyDuration(lookup, "TABLEQA_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout),
		applyDuration(lookup, "TABLEQA_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout),
		applyDuration(lookup, "TABLEQA_SESSION_TTL", &cfg.HTTP.SessionTTL),
		applyBool(lookup, "TABLEQA_LOG_JSON", &cfg.Observability.LogJSON),
		applyLogLevel(lookup, "TABLEQA_LOG_LEVEL", &cfg.Observability.LogLevel),
	)
	if err != nil {
		return Config{}, err
	}
	if backend != "" {
		cfg.Backend = Backend(strings.ToLower(backend))
	}
	if engine != "" {
		cfg.Engine = EngineKind(strings.ToLower(engine))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Defaults returns the settings used when nothing is configured.
func Defaults() Config {
	return Config{
		Service:     "tableqa",
		DataDir:     "tmpdata",
		CatalogPath: "catalog.yaml",
		Backend:     BackendVertex,
		Engine:      EngineDuckDB,
		RowLimit:    1000,
		Repair: RepairConfig{
			MaxAttempts: 7,
		},
		Answer: AnswerConfig{
			MaxOutputTokens: 500,
			PromptRowLimit:  50,
		},
		Postgres: PostgresConfig{
			MaxOpenConns: 4,
		},
		Vertex: VertexConfig{
			Location: "us-central1",
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint: "s3.amazonaws.com",
			Region:   "us-east-1",
			UseSSL:   true,
		},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 5 * time.Minute,
			SessionTTL:   30 * time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelInfo,
			LogJSON:  true,
		},
	}
}

// Validate checks values that flags may have changed after Load.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendVertex, BackendAnthropic:
	default:
		return fmt.Errorf("invalid TABLEQA_BACKEND: %q", c.Backend)
	}
	switch c.Engine {
	case EngineDuckDB:
	case EnginePostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("TABLEQA_POSTGRES_DSN is required for the postgres engine")
		}
	default:
		return fmt.Errorf("invalid TABLEQA_ENGINE: %q", c.Engine)
	}
	if c.Repair.MaxAttempts < 0 {
		return fmt.Errorf("invalid TABLEQA_MAX_ATTEMPTS: %d", c.Repair.MaxAttempts)
	}
	if c.RowLimit < 0 {
		return fmt.Errorf("invalid TABLEQA_ROW_LIMIT: %d", c.RowLimit)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data dir is required")
	}
	return nil
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
