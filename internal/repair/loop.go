package repair

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tableqa/internal/engine"
	"tableqa/internal/errs"
	"tableqa/internal/llm"
	"tableqa/internal/prompt"
	"tableqa/internal/schema"
	"tableqa/internal/synth"
)

// State is a position in the execute/repair state machine.
type State int

const (
	Initial State = iota
	Executing
	Failing
	Succeeded
	Exhausted
)

func (s State) String() string {
	switch s {
	case Initial:
		return "initial"
	case Executing:
		return "executing"
	case Failing:
		return "failing"
	case Succeeded:
		return "success"
	case Exhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return s == Succeeded || s == Exhausted }

// Executor runs candidate queries.
type Executor interface {
	Execute(ctx context.Context, query string) (engine.Outcome, error)
}

// Hooks receive loop events. Nil fields are skipped.
type Hooks struct {
	Transition       func(from, to State)
	Executed         func(elapsed time.Duration, ok bool)
	RepairRound      func(attempt int)
	ExtractionFailed func(stage string)
}

// Result is the terminal state of one Run.
type Result struct {
	State State
	// Query is the last query handed to the executor.
	Query string
	// Rows is set when State is Succeeded.
	Rows *engine.Result
	// Attempts counts failed executions, which equals repair rounds requested.
	Attempts   int
	Executions int
	// Session is the live repair conversation, nil when no execution failed.
	Session *Session
	// Errors holds the errors of the last failed execution.
	Errors []engine.ExecError
	// Diagnostic is the raw model reply when a query could not be extracted.
	Diagnostic string
}

// Option configures a Loop.
type Option func(*Loop)

// WithRepairHints enables the offending-line hint in fix requests.
func WithRepairHints(enabled bool) Option {
	return func(l *Loop) { l.hints = enabled }
}

// WithLogger sets the loop logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithHooks installs event hooks.
func WithHooks(h Hooks) Option {
	return func(l *Loop) { l.hooks = h }
}

// Loop executes a synthesized query and repairs it until it runs or the
// attempt budget is spent. A Loop holds no per-question state and may be
// shared; each Run owns its own session.
type Loop struct {
	synth   *synth.Synthesizer
	exec    Executor
	chat    llm.ChatModel
	dialect prompt.Dialect
	hints   bool
	hooks   Hooks
	logger  *slog.Logger
}

// NewLoop creates a Loop.
func NewLoop(s *synth.Synthesizer, exec Executor, chat llm.ChatModel, dialect prompt.Dialect, opts ...Option) *Loop {
	l := &Loop{
		synth:   s,
		exec:    exec,
		chat:    chat,
		dialect: dialect,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type run struct {
	loop  *Loop
	state State
	res   Result
}

func (r *run) to(next State) {
	r.loop.logger.Debug("Repair loop transition", "from", r.state.String(), "to", next.String(), "attempts", r.res.Attempts)
	if r.loop.hooks.Transition != nil {
		r.loop.hooks.Transition(r.state, next)
	}
	r.state = next
	r.res.State = next
}

// Run answers question with at most maxAttempts repair rounds. Extraction
// failures and execution failures end in a Result; the error return is
// reserved for fatal model or engine errors.
func (l *Loop) Run(ctx context.Context, question string, sc schema.Context, maxAttempts int) (Result, error) {
	r := &run{loop: l, state: Initial}

	cand, err := l.synth.Synthesize(ctx, question, sc)
	if err != nil {
		var e *errs.E
		if !errs.Is(err, errs.Extraction) || !errors.As(err, &e) {
			return Result{}, err
		}
		l.extractionFailed("synthesize")
		r.res.Diagnostic = e.Raw
		r.to(Exhausted)
		l.logger.Warn("Repair loop exhausted", "reason", "no query in initial response")
		return r.res, nil
	}

	query := cand.Query
	for r.res.Attempts < maxAttempts {
		if strings.TrimSpace(query) == "" {
			break
		}

		r.to(Executing)
		r.res.Query = query
		start := time.Now()
		outcome, err := l.exec.Execute(ctx, query)
		r.res.Executions++
		if err != nil {
			return Result{}, fmt.Errorf("execute attempt %d: %w", r.res.Executions, err)
		}
		if l.hooks.Executed != nil {
			l.hooks.Executed(time.Since(start), outcome.Succeeded())
		}
		if outcome.Succeeded() {
			r.res.Rows = outcome.Rows
			r.res.Errors = nil
			r.to(Succeeded)
			return r.res, nil
		}

		if len(outcome.Errors) == 0 {
			outcome = engine.Failure()
		}
		r.to(Failing)
		r.res.Errors = outcome.Errors
		r.res.Attempts++
		l.logger.Info("Query failed", "attempt", r.res.Attempts, "errors", len(outcome.Errors), "first_error", outcome.Errors[0].Message)

		if r.res.Session == nil {
			sess, err := Start(ctx, l.chat, Seed{Dialect: l.dialect, Question: question, Query: query, Schema: sc},
				WithHints(l.hints), WithSessionLogger(l.logger))
			if err != nil {
				return Result{}, err
			}
			r.res.Session = sess
		}

		if l.hooks.RepairRound != nil {
			l.hooks.RepairRound(r.res.Attempts)
		}
		next, err := r.res.Session.RequestFix(ctx, query, outcome.Errors)
		if err != nil {
			var e *errs.E
			if !errs.Is(err, errs.Extraction) || !errors.As(err, &e) {
				return Result{}, err
			}
			l.extractionFailed("repair")
			r.res.Diagnostic = e.Raw
			query = ""
			continue
		}
		query = next.Query
	}

	r.to(Exhausted)
	l.logger.Warn("Repair loop exhausted", "attempts", r.res.Attempts, "executions", r.res.Executions)
	return r.res, nil
}

func (l *Loop) extractionFailed(stage string) {
	if l.hooks.ExtractionFailed != nil {
		l.hooks.ExtractionFailed(stage)
	}
}
