// Package postgres runs candidate queries on PostgreSQL through the pgx
// database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"tableqa/internal/engine"
	"tableqa/internal/errs"
	"tableqa/internal/schema"
)

// Config opens an Engine.
type Config struct {
	DSN          string
	RowLimit     int
	MaxOpenConns int
}

// Engine is an engine.Engine over PostgreSQL.
type Engine struct {
	db       *sql.DB
	rowLimit int
	logger   *slog.Logger
}

var _ engine.Engine = (*Engine)(nil)

// Open connects and verifies the connection with a short ping.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Engine, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errs.New(errs.Config, "postgres", "DSN is required")
	}
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, errs.Wrap(errs.Config, "postgres", "open", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, errs.Wrap(errs.Transport, "postgres", "ping", err)
	}
	return NewWithDB(db, cfg.RowLimit, logger), nil
}

// NewWithDB wraps an existing handle.
func NewWithDB(db *sql.DB, rowLimit int, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{db: db, rowLimit: rowLimit, logger: logger}
}

// Execute runs query. Server-side SQL errors come back as a Failure outcome;
// anything that is not a server error response is treated as fatal.
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
		return e.classify(err, stmt, lineOffset)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return e.classify(err, stmt, lineOffset)
	}
	result := &engine.Result{Columns: cols}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return e.classify(err, stmt, lineOffset)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return e.classify(err, stmt, lineOffset)
	}

	if e.rowLimit > 0 && len(result.Rows) > e.rowLimit {
		result.Rows = result.Rows[:e.rowLimit]
		result.Truncated = true
	}
	result.Duration = time.Since(start)
	return engine.Success(result), nil
}

func (e *Engine) classify(err error, stmt string, lineOffset int) (engine.Outcome, error) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return engine.Outcome{}, errs.Wrap(errs.Transport, "postgres", "execute", err)
	}
	if fatalClass(pgErr.Code) {
		return engine.Outcome{}, errs.Wrap(errs.Transport, "postgres", "server refused", err)
	}

	line, col := engine.LineCol(stmt, int(pgErr.Position))
	line -= lineOffset
	if line <= 0 {
		line, col = 0, 0
	}
	msg := pgErr.Message
	if pgErr.Hint != "" {
		msg += " (hint: " + pgErr.Hint + ")"
	}
	e.logger.Debug("Query rejected", "code", pgErr.Code, "message", pgErr.Message, "line", line, "column", col)
	return engine.Failure(engine.ExecError{
		Message: engine.WithLocation(msg, line, col),
		Reason:  pgErr.Code,
		Line:    line,
		Column:  col,
	}), nil
}

// fatalClass reports SQLSTATE classes no query rewrite can fix: connection
// exceptions, insufficient resources, operator intervention, system and
// authorization errors.
func fatalClass(code string) bool {
	for _, prefix := range []string{"08", "28", "53", "57", "58", "XX"} {
		if strings.HasPrefix(code, prefix) {
			return true
		}
	}
	return false
}

// Columns lists columns for tables in the order given. Unqualified names
// resolve in the public schema.
func (e *Engine) Columns(ctx context.Context, tables []string) ([]schema.Column, error) {
	var out []schema.Column
	for _, table := range tables {
		schemaName, tableName := "public", strings.TrimSpace(table)
		if i := strings.LastIndex(tableName, "."); i >= 0 {
			schemaName, tableName = tableName[:i], tableName[i+1:]
		}
		rows, err := e.db.QueryContext(ctx, `SELECT column_name, data_type
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position`, schemaName, tableName)
		if err != nil {
			return nil, errs.Wrap(errs.Transport, "postgres", "describe "+table, err)
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

func (e *Engine) Close() error {
	return e.db.Close()
}
