// Package schema describes the columns of the dataset a question is asked
// against and renders them for prompts.
package schema

import (
	"context"
	"fmt"
	"strings"

	"tableqa/internal/mdtable"
)

// Column is one (table, column, type) entry.
type Column struct {
	Table    string `json:"table_name"`
	Name     string `json:"column_name"`
	DataType string `json:"data_type"`
}

// Provider returns column metadata for a set of fully qualified table names,
// ordered by table then ordinal position.
type Provider interface {
	Columns(ctx context.Context, tables []string) ([]Column, error)
}

// Context is an immutable, ordered schema snapshot. It is fetched once and
// shared read-only by every prompt builder.
type Context struct {
	columns []Column
}

// New copies columns into a Context.
func New(columns []Column) Context {
	cp := make([]Column, len(columns))
	copy(cp, columns)
	return Context{columns: cp}
}

// Fetch loads the schema for tables from p.
func Fetch(ctx context.Context, p Provider, tables []string) (Context, error) {
	if len(tables) == 0 {
		return Context{}, fmt.Errorf("schema: no tables requested")
	}
	cols, err := p.Columns(ctx, tables)
	if err != nil {
		return Context{}, fmt.Errorf("schema: fetch columns: %w", err)
	}
	if len(cols) == 0 {
		return Context{}, fmt.Errorf("schema: no columns found for %s", strings.Join(tables, ", "))
	}
	return New(cols), nil
}

// Columns returns a copy of the snapshot.
func (c Context) Columns() []Column {
	cp := make([]Column, len(c.columns))
	copy(cp, c.columns)
	return cp
}

// Len reports the number of columns.
func (c Context) Len() int { return len(c.columns) }

// Tables lists distinct table names in first-seen order.
func (c Context) Tables() []string {
	seen := make(map[string]bool)
	var out []string
	for _, col := range c.columns {
		if !seen[col.Table] {
			seen[col.Table] = true
			out = append(out, col.Table)
		}
	}
	return out
}

// Markdown renders the snapshot as a three column markdown table.
func (c Context) Markdown() string {
	rows := make([][]any, len(c.columns))
	for i, col := range c.columns {
		rows[i] = []any{col.Table, col.Name, col.DataType}
	}
	return mdtable.Render([]string{"table_name", "column_name", "data_type"}, rows, mdtable.Options{})
}
