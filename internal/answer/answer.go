// Package answer turns a result set into a natural-language reply.
package answer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"tableqa/internal/engine"
	"tableqa/internal/errs"
	"tableqa/internal/llm"
	"tableqa/internal/mdtable"
	"tableqa/internal/prompt"
)

const (
	DefaultMaxOutputTokens = 500
	DefaultMaxPromptRows   = 50
)

// Option configures a Summarizer.
type Option func(*Summarizer)

// WithMaxOutputTokens caps the reply length.
func WithMaxOutputTokens(n int) Option {
	return func(s *Summarizer) {
		if n > 0 {
			s.maxTokens = n
		}
	}
}

// WithMaxPromptRows caps how many result rows are embedded in the prompt.
func WithMaxPromptRows(n int) Option {
	return func(s *Summarizer) {
		if n > 0 {
			s.maxRows = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Summarizer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Summarizer asks the text model to answer a question from a result table.
type Summarizer struct {
	text      llm.TextGenerator
	dialect   prompt.Dialect
	maxTokens int
	maxRows   int
	logger    *slog.Logger
}

// New creates a Summarizer.
func New(text llm.TextGenerator, dialect prompt.Dialect, opts ...Option) *Summarizer {
	s := &Summarizer{
		text:      text,
		dialect:   dialect,
		maxTokens: DefaultMaxOutputTokens,
		maxRows:   DefaultMaxPromptRows,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Table renders rows the way they are embedded in the prompt.
func (s *Summarizer) Table(rows *engine.Result) string {
	return mdtable.Render(rows.Columns, rows.Rows, mdtable.Options{MaxRows: s.maxRows})
}

// Summarize makes a single text model call. Failures are returned as-is.
func (s *Summarizer) Summarize(ctx context.Context, question string, rows *engine.Result) (string, error) {
	if rows == nil {
		return "", errs.New(errs.Invalid, "summarize", "no result rows")
	}

	p := prompt.Answer(s.dialect, question, s.Table(rows))
	reply, err := s.text.Predict(ctx, p, llm.TextOptions{MaxOutputTokens: s.maxTokens})
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	reply = strings.TrimSpace(reply)
	s.logger.Debug("Answer generated", "rows", len(rows.Rows), "answer_length", len(reply))
	return reply, nil
}
