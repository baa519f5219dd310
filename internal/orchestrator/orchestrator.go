// Package orchestrator answers a question end to end: synthesize, execute,
// repair, then summarize. Exhaustion is a handoff, not an error: the caller
// gets the live repair session to keep iterating by hand.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tableqa/internal/answer"
	"tableqa/internal/engine"
	"tableqa/internal/errs"
	"tableqa/internal/repair"
	"tableqa/internal/schema"
)

// DefaultMaxAttempts is the repair budget when none is configured.
const DefaultMaxAttempts = 7

// Kind tells an answered question from an exhausted one.
type Kind int

const (
	Answered Kind = iota
	Exhausted
)

func (k Kind) String() string {
	if k == Answered {
		return "answered"
	}
	return "exhausted"
}

// Response is the outcome of Answer.
type Response struct {
	Kind Kind
	// Text is the natural-language answer when Kind is Answered.
	Text  string
	Query string
	Rows  *engine.Result
	// Attempts is the number of repair rounds spent.
	Attempts   int
	Executions int
	// Session is the live repair conversation; nil when nothing failed.
	Session    *repair.Session
	Errors     []engine.ExecError
	Diagnostic string
}

// Observer is told about every finished question.
type Observer interface {
	ObserveQuestion(outcome string, attempts int, elapsed time.Duration)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMaxAttempts sets the budget Ask uses.
func WithMaxAttempts(n int) Option {
	return func(o *Orchestrator) { o.maxAttempts = n }
}

// WithObserver installs a question observer.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Orchestrator owns the collaborators for a process lifetime. The schema is
// fetched once by the caller and reused for every question.
type Orchestrator struct {
	loop        *repair.Loop
	summarizer  *answer.Summarizer
	schema      schema.Context
	maxAttempts int
	observer    Observer
	logger      *slog.Logger
}

// New creates an Orchestrator.
func New(loop *repair.Loop, summarizer *answer.Summarizer, sc schema.Context, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		loop:        loop,
		summarizer:  summarizer,
		schema:      sc,
		maxAttempts: DefaultMaxAttempts,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Schema returns the schema snapshot questions are answered against.
func (o *Orchestrator) Schema() schema.Context { return o.schema }

// MaxAttempts returns the configured repair budget.
func (o *Orchestrator) MaxAttempts() int { return o.maxAttempts }

// Ask answers question with the configured repair budget.
func (o *Orchestrator) Ask(ctx context.Context, question string) (Response, error) {
	return o.Answer(ctx, question, o.maxAttempts)
}

// Answer answers question with at most maxAttempts repair rounds.
func (o *Orchestrator) Answer(ctx context.Context, question string, maxAttempts int) (Response, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Response{}, errs.New(errs.Invalid, "answer", "question is empty")
	}

	start := time.Now()
	o.logger.Info("Answering question", "question", question, "max_attempts", maxAttempts)

	res, err := o.loop.Run(ctx, question, o.schema, maxAttempts)
	if err != nil {
		o.observe("error", 0, start)
		o.logger.Error("Question failed", "error", err, "kind", errs.KindOf(err))
		return Response{}, err
	}

	resp := Response{
		Query:      res.Query,
		Rows:       res.Rows,
		Attempts:   res.Attempts,
		Executions: res.Executions,
		Session:    res.Session,
		Errors:     res.Errors,
		Diagnostic: res.Diagnostic,
	}
	if res.State != repair.Succeeded {
		resp.Kind = Exhausted
		o.observe(Exhausted.String(), res.Attempts, start)
		o.logger.Warn("Question exhausted", "attempts", res.Attempts, "has_session", res.Session != nil)
		return resp, nil
	}

	text, err := o.summarizer.Summarize(ctx, question, res.Rows)
	if err != nil {
		o.observe("error", res.Attempts, start)
		return Response{}, fmt.Errorf("answer: %w", err)
	}
	resp.Kind = Answered
	resp.Text = text
	o.observe(Answered.String(), res.Attempts, start)
	o.logger.Info("Question answered", "attempts", res.Attempts, "rows", len(res.Rows.Rows), "duration", time.Since(start))
	return resp, nil
}

// Summarize answers question from rows the caller already has.
func (o *Orchestrator) Summarize(ctx context.Context, question string, rows *engine.Result) (string, error) {
	return o.summarizer.Summarize(ctx, question, rows)
}

func (o *Orchestrator) observe(outcome string, attempts int, start time.Time) {
	if o.observer != nil {
		o.observer.ObserveQuestion(outcome, attempts, time.Since(start))
	}
}
