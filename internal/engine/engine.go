// Package engine defines the query executor boundary. Engines report SQL the
// database rejected as a Failure outcome the repair loop can act on, and
// reserve the error return for problems no rewrite can fix (unreachable
// server, cancelled context, bad credentials).
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"tableqa/internal/schema"
)

// Result is a successful result set.
type Result struct {
	Columns   []string      `json:"columns"`
	Rows      [][]any       `json:"rows"`
	Duration  time.Duration `json:"duration"`
	Truncated bool          `json:"truncated,omitempty"`
}

// ExecError is one error reported by the engine. Line and Column are
// 1-indexed and zero when the engine gave no location.
type ExecError struct {
	Message string `json:"message,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

// Outcome is either a Success carrying rows or a Failure carrying errors.
type Outcome struct {
	Rows   *Result
	Errors []ExecError
}

// Success wraps a result set.
func Success(r *Result) Outcome { return Outcome{Rows: r} }

// Failure wraps engine errors. At least one error is always recorded.
func Failure(errs ...ExecError) Outcome {
	if len(errs) == 0 {
		errs = []ExecError{{Message: "query failed without an error message"}}
	}
	return Outcome{Errors: errs}
}

// Succeeded reports whether the outcome carries rows.
func (o Outcome) Succeeded() bool { return o.Rows != nil && len(o.Errors) == 0 }

// Engine executes candidate queries and serves schema metadata.
type Engine interface {
	schema.Provider
	Execute(ctx context.Context, query string) (Outcome, error)
	Close() error
}

// FormatErrors renders errors as the JSON payload embedded in repair prompts.
func FormatErrors(errs []ExecError) string {
	b, err := json.Marshal(errs)
	if err != nil {
		return fmt.Sprintf("%v", errs)
	}
	return string(b)
}

// LocationMarker formats a "[line:col]" marker.
func LocationMarker(line, col int) string {
	return fmt.Sprintf("[%d:%d]", line, col)
}

// WithLocation appends a "[line:col]" marker to msg when both parts are known.
func WithLocation(msg string, line, col int) string {
	if line <= 0 || col <= 0 {
		return msg
	}
	return msg + " " + LocationMarker(line, col)
}

// LineCol converts a 1-indexed character offset into query to a line and
// column, both 1-indexed. Offsets outside the query return zeros.
func LineCol(query string, offset int) (int, int) {
	if offset <= 0 || offset > len([]rune(query))+1 {
		return 0, 0
	}
	line, col := 1, 1
	for i, r := range []rune(query) {
		if i == offset-1 {
			break
		}
		if r == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}

var wrappable = regexp.MustCompile(`(?is)^\s*(select|with|from|values|\()`)

// StripTrailingSemicolons removes trailing semicolons and whitespace.
func StripTrailingSemicolons(query string) string {
	q := strings.TrimSpace(query)
	for strings.HasSuffix(q, ";") {
		q = strings.TrimSpace(strings.TrimSuffix(q, ";"))
	}
	return q
}

// LimitQuery wraps a read query so at most limit rows come back. The original
// text starts on the second line of the wrapper; callers mapping engine error
// positions back to the original must subtract WrapperLines. The second
// return value reports whether wrapping happened.
func LimitQuery(query string, limit int) (string, bool) {
	q := StripTrailingSemicolons(query)
	if limit <= 0 || !wrappable.MatchString(q) {
		return q, false
	}
	return fmt.Sprintf("SELECT * FROM (\n%s\n) AS tableqa_result LIMIT %d", q, limit), true
}

// WrapperLines is the number of lines LimitQuery puts before the original text.
const WrapperLines = 1
