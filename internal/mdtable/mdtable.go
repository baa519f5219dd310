// Package mdtable renders tabular data as GitHub-flavored markdown tables for
// prompts and terminal display.
package mdtable

import (
	"fmt"
	"strings"
	"time"
)

// Options controls rendering. MaxRows <= 0 renders every row.
type Options struct {
	MaxRows int
}

// Render writes headers and rows as a markdown table. Nil values render as
// NULL, floats with two decimals, and pipes or newlines inside cells are
// escaped so the table stays well formed. Rows past MaxRows are summarized in
// a trailing line.
func Render(headers []string, rows [][]any, opts Options) string {
	var b strings.Builder

	b.WriteString("|")
	for _, h := range headers {
		b.WriteString(" ")
		b.WriteString(escape(h))
		b.WriteString(" |")
	}
	b.WriteString("\n|")
	for range headers {
		b.WriteString("---|")
	}
	b.WriteString("\n")

	shown := len(rows)
	if opts.MaxRows > 0 && shown > opts.MaxRows {
		shown = opts.MaxRows
	}
	for _, row := range rows[:shown] {
		b.WriteString("|")
		for i := range headers {
			var v any
			if i < len(row) {
				v = row[i]
			}
			b.WriteString(" ")
			b.WriteString(escape(FormatValue(v)))
			b.WriteString(" |")
		}
		b.WriteString("\n")
	}

	if rest := len(rows) - shown; rest > 0 {
		fmt.Fprintf(&b, "\n(%d more rows)\n", rest)
	}
	return b.String()
}

// FormatValue renders one cell value.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case float64:
		return fmt.Sprintf("%.2f", val)
	case float32:
		return fmt.Sprintf("%.2f", val)
	case int64:
		return fmt.Sprintf("%d", val)
	case []byte:
		return string(val)
	case time.Time:
		if val.Hour() == 0 && val.Minute() == 0 && val.Second() == 0 && val.Nanosecond() == 0 {
			return val.Format("2006-01-02")
		}
		return val.Format(time.RFC3339)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

func escape(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	s = strings.ReplaceAll(s, "\r\n", " ")
	return strings.ReplaceAll(s, "\n", " ")
}
