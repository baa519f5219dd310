// Package duckdb runs candidate queries on an embedded DuckDB database.
// Catalog tables backed by files are exposed as views over read_parquet,
// read_csv_auto or read_json_auto.
package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	duckdbdriver "github.com/duckdb/duckdb-go/v2"

	"tableqa/internal/engine"
	"tableqa/internal/errs"
	"tableqa/internal/schema"
)

// Source maps a table name to a data file. Format is parquet, csv or json;
// empty infers it from the file extension. A source without a path names a
// table that already exists in the database file.
type Source struct {
	Table  string
	Path   string
	Format string
}

// Config opens an Engine. An empty Path opens an in-memory database.
type Config struct {
	Path     string
	RowLimit int
	Sources  []Source
}

// Engine is an engine.Engine over DuckDB.
type Engine struct {
	db       *sql.DB
	rowLimit int
	logger   *slog.Logger
}

var _ engine.Engine = (*Engine)(nil)

// Open opens the database and registers cfg.Sources.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	db, err := sql.Open("duckdb", cfg.Path)
	if err != nil {
		logger.Error("Failed to open DuckDB database", "error", err, "db_path", cfg.Path)
		return nil, errs.Wrap(errs.Config, "duckdb", "open database", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errs.Wrap(errs.Config, "duckdb", "ping database", err)
	}

	e := &Engine{db: db, rowLimit: cfg.RowLimit, logger: logger}
	if err := e.Register(ctx, cfg.Sources); err != nil {
		_ = db.Close()
		return nil, err
	}
	return e, nil
}

// Register creates or replaces one view per file-backed source. Dotted table
// names create the schema first so "new_york.citibike_trips" resolves as a
// qualified name.
func (e *Engine) Register(ctx context.Context, sources []Source) error {
	for _, src := range sources {
		if strings.TrimSpace(src.Path) == "" {
			continue
		}
		reader, err := readerFunc(src)
		if err != nil {
			return err
		}

		schemaName, tableName := splitTable(src.Table)
		if tableName == "" {
			return errs.New(errs.Config, "duckdb", "source without table name: "+src.Path)
		}
		target := quoteIdent(tableName)
		if schemaName != "" {
			if _, err := e.db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+quoteIdent(schemaName)); err != nil {
				return errs.Wrap(errs.Config, "duckdb", "create schema "+schemaName, err)
			}
			target = quoteIdent(schemaName) + "." + target
		}

		stmt := fmt.Sprintf("CREATE OR REPLACE VIEW %s AS SELECT * FROM %s(%s)", target, reader, quoteLiteral(src.Path))
		if _, err := e.db.ExecContext(ctx, stmt); err != nil {
			e.logger.Error("Failed to register table", "error", err, "table", src.Table, "path", src.Path)
			return errs.Wrap(errs.Config, "duckdb", "register "+src.Table, err)
		}
		e.logger.Info("Registered table", "table", src.Table, "path", src.Path, "reader", reader)
	}
	return nil
}

// Execute runs query. SQL the database rejects comes back as a Failure
// outcome with the error location folded into the message as "[line:col]".
func (e *Engine) Execute(ctx context.Context, query string) (engine.Outcome, error) {
	limit := 0
	if e.rowLimit > 0 {
		limit = e.rowLimit + 1
	}
	stmt, wrapped := engine.LimitQuery(query, limit)
	lineOffset := 0
	if wrapped {
		lineOffset = engine.WrapperLines
	}

	start := time.Now()
	rows, err := e.db.QueryContext(ctx, stmt)
	if err != nil {
		return e.classify(ctx, err, lineOffset)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return e.classify(ctx, err, lineOffset)
	}

	result := &engine.Result{Columns: cols}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return e.classify(ctx, err, lineOffset)
		}
		result.Rows = append(result.Rows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return e.classify(ctx, err, lineOffset)
	}

	if e.rowLimit > 0 && len(result.Rows) > e.rowLimit {
		result.Rows = result.Rows[:e.rowLimit]
		result.Truncated = true
	}
	result.Duration = time.Since(start)
	return engine.Success(result), nil
}

func (e *Engine) classify(ctx context.Context, err error, lineOffset int) (engine.Outcome, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return engine.Outcome{}, errs.Wrap(errs.Transport, "duckdb", "query interrupted", ctxErr)
	}
	var de *duckdbdriver.Error
	if errors.As(err, &de) {
		switch de.Type {
		case duckdbdriver.ErrorTypeConnection, duckdbdriver.ErrorTypeNetwork, duckdbdriver.ErrorTypeHTTP,
			duckdbdriver.ErrorTypeInterrupt, duckdbdriver.ErrorTypeFatal, duckdbdriver.ErrorTypeOutOfMemory,
			duckdbdriver.ErrorTypeIO, duckdbdriver.ErrorTypePermission:
			return engine.Outcome{}, errs.Wrap(errs.Transport, "duckdb", "engine unavailable", err)
		}
		return engine.Failure(parseError(de.Msg, lineOffset)), nil
	}
	if errors.Is(err, sql.ErrConnDone) {
		return engine.Outcome{}, errs.Wrap(errs.Transport, "duckdb", "connection closed", err)
	}
	return engine.Failure(parseError(err.Error(), lineOffset)), nil
}

// Columns lists columns for tables in the order given, each table's columns
// in ordinal order.
func (e *Engine) Columns(ctx context.Context, tables []string) ([]schema.Column, error) {
	var out []schema.Column
	for _, table := range tables {
		schemaName, tableName := splitTable(table)
		query := `SELECT column_name, data_type FROM information_schema.columns WHERE table_name = ?`
		args := []any{tableName}
		if schemaName != "" {
			query += ` AND table_schema = ?`
			args = append(args, schemaName)
		}
		rows, err := e.db.QueryContext(ctx, query+` ORDER BY ordinal_position`, args...)
		if err != nil {
			return nil, errs.Wrap(errs.Transport, "duckdb", "describe "+table, err)
		}
		for rows.Next() {
			col := schema.Column{Table: table}
			if err := rows.Scan(&col.Name, &col.DataType); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("scan column of %s: %w", table, err)
			}
			out = append(out, col)
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, fmt.Errorf("describe %s: %w", table, err)
		}
	}
	return out, nil
}

// DB exposes the underlying handle for callers that need raw access.
func (e *Engine) DB() *sql.DB { return e.db }

func (e *Engine) Close() error {
	return e.db.Close()
}

var (
	excerptLine = regexp.MustCompile(`^LINE (\d+): ?`)
	errorPrefix = regexp.MustCompile(`^([A-Za-z ]+) Error: `)
)

// parseError turns DuckDB's multi-line error text into an ExecError. The
// "LINE n:" excerpt and caret line give the location; both are dropped from
// the message and replaced by a "[line:col]" marker. lineOffset is the number
// of wrapper lines to subtract.
func parseError(msg string, lineOffset int) engine.ExecError {
	lines := strings.Split(msg, "\n")
	var kept []string
	line, col := 0, 0
	for i := 0; i < len(lines); i++ {
		l := lines[i]
		if m := excerptLine.FindStringSubmatch(l); m != nil {
			n, _ := strconv.Atoi(m[1])
			line = n - lineOffset
			excerpt := l[len(m[0]):]
			if i+1 < len(lines) {
				if caret := strings.Index(lines[i+1], "^"); caret >= 0 {
					if !strings.HasPrefix(excerpt, "...") {
						col = caret - len(m[0]) + 1
					}
					i++
				}
			}
			continue
		}
		if s := strings.TrimSpace(l); s != "" {
			kept = append(kept, s)
		}
	}
	if line <= 0 || col <= 0 {
		line, col = max(line, 0), 0
	}

	text := strings.Join(kept, " ")
	reason := ""
	if m := errorPrefix.FindStringSubmatch(text); m != nil {
		reason = strings.ToLower(strings.ReplaceAll(m[1], " ", "_"))
	}
	return engine.ExecError{
		Message: engine.WithLocation(text, line, col),
		Reason:  reason,
		Line:    line,
		Column:  col,
	}
}

func readerFunc(src Source) (string, error) {
	format := strings.ToLower(strings.TrimSpace(src.Format))
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(src.Path)), ".")
	}
	switch format {
	case "parquet", "pq":
		return "read_parquet", nil
	case "csv", "tsv":
		return "read_csv_auto", nil
	case "json", "ndjson", "jsonl":
		return "read_json_auto", nil
	default:
		return "", errs.New(errs.Config, "duckdb", fmt.Sprintf("unsupported format %q for %s", format, src.Path))
	}
}

func splitTable(name string) (string, string) {
	name = strings.TrimSpace(name)
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		case duckdbdriver.Decimal:
			normalized[i] = typed.Float64()
		case duckdbdriver.UUID:
			normalized[i] = typed.String()
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteLiteral(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}
