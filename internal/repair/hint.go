package repair

import (
	"strconv"
	"strings"

	"tableqa/internal/engine"
)

// Hint returns the trimmed query line pointed at by the "[line:col]" marker
// in the first error that carries a message. It returns "" when that message
// has no usable marker or the line is outside the query.
func Hint(query string, errors []engine.ExecError) string {
	for _, e := range errors {
		if e.Message == "" {
			continue
		}
		line, ok := markerLine(e.Message)
		if !ok {
			return ""
		}
		lines := strings.Split(query, "\n")
		if line < 1 || line > len(lines) {
			return ""
		}
		return strings.TrimSpace(lines[line-1])
	}
	return ""
}

func markerLine(msg string) (int, bool) {
	begin := strings.LastIndex(msg, "[")
	end := strings.LastIndex(msg, "]")
	if begin < 0 || end <= begin+1 {
		return 0, false
	}
	lineText, colText, found := strings.Cut(msg[begin+1:end], ":")
	if !found {
		return 0, false
	}
	line, err := strconv.Atoi(strings.TrimSpace(lineText))
	if err != nil {
		return 0, false
	}
	if _, err := strconv.Atoi(strings.TrimSpace(colText)); err != nil {
		return 0, false
	}
	return line, true
}
