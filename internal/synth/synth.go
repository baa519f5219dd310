// Package synth produces the first candidate query for a question.
package synth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"tableqa/internal/errs"
	"tableqa/internal/fence"
	"tableqa/internal/llm"
	"tableqa/internal/prompt"
	"tableqa/internal/schema"
)

// Candidate is a query plus the attempt that produced it: 0 for the initial
// synthesis, 1..N for repair rounds.
type Candidate struct {
	Query   string
	Attempt int
}

// Empty reports whether the candidate carries no query.
func (c Candidate) Empty() bool { return strings.TrimSpace(c.Query) == "" }

// Synthesizer asks the code model for a query once, without retries.
type Synthesizer struct {
	code    llm.CodeGenerator
	dialect prompt.Dialect
	logger  *slog.Logger
}

// New creates a Synthesizer. A nil logger discards output.
func New(code llm.CodeGenerator, dialect prompt.Dialect, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Synthesizer{code: code, dialect: dialect, logger: logger}
}

// Synthesize returns the initial candidate. When the response holds no fenced
// block it returns an extraction error carrying the raw response; model
// failures come back as they were returned by the backend.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, sc schema.Context) (Candidate, error) {
	if strings.TrimSpace(question) == "" {
		return Candidate{}, errs.New(errs.Invalid, "synthesize", "question is empty")
	}

	resp, err := s.code.Predict(ctx, prompt.Initial(s.dialect, question, sc.Markdown()))
	if err != nil {
		return Candidate{}, fmt.Errorf("synthesize: %w", err)
	}

	res := fence.ExtractQuery(resp)
	if !res.Found {
		s.logger.Warn("No query in code model response", "response_preview", truncate(resp, 200))
		return Candidate{}, errs.ExtractionFailed("synthesize", resp)
	}

	s.logger.Debug("Initial candidate synthesized", "sql_preview", truncate(res.Content, 150))
	return Candidate{Query: res.Content, Attempt: 0}, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
