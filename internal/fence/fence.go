// Package fence pulls fenced code blocks out of model responses.
package fence

import (
	"strings"
	"unicode"
)

const marker = "```"

// Result is the outcome of scanning a response. Found is false when the
// response holds no usable block; Content is then empty.
type Result struct {
	Found   bool
	Lang    string
	Content string
}

// NotFound is the zero Result.
var NotFound = Result{}

// Extract returns the first fenced block in text. An info string on the
// opening fence line is reported as Lang and excluded from Content. A block
// left open runs to the end of text. Blocks that are empty after trimming
// count as not found.
func Extract(text string) Result {
	start := strings.Index(text, marker)
	if start < 0 {
		return NotFound
	}
	body := text[start+len(marker):]
	if end := strings.Index(body, marker); end >= 0 {
		body = body[:end]
	}

	lang := ""
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		if first := strings.TrimSpace(body[:nl]); isInfoString(first) {
			lang = first
			body = body[nl+1:]
		}
	} else if tag, rest, ok := strings.Cut(strings.TrimLeft(body, " \t"), " "); ok && strings.EqualFold(tag, "sql") {
		lang = tag
		body = rest
	}

	content := strings.TrimSpace(body)
	if content == "" {
		return NotFound
	}
	return Result{Found: true, Lang: strings.ToLower(lang), Content: content}
}

// ExtractQuery is Extract for SQL responses. A leading "sql" word that a model
// put on the first content line instead of the fence line is dropped too.
func ExtractQuery(text string) Result {
	res := Extract(text)
	if !res.Found || res.Lang != "" {
		return res
	}
	first, rest, ok := strings.Cut(res.Content, "\n")
	if ok && strings.EqualFold(strings.TrimSpace(first), "sql") {
		content := strings.TrimSpace(rest)
		if content == "" {
			return NotFound
		}
		return Result{Found: true, Lang: "sql", Content: content}
	}
	return res
}

func isInfoString(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' && r != '+' && r != '.' {
			return false
		}
	}
	return true
}
