// Package repair turns failing queries into corrected ones through a
// conversational model, and drives the bounded execute/repair loop.
package repair

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"tableqa/internal/engine"
	"tableqa/internal/errs"
	"tableqa/internal/fence"
	"tableqa/internal/llm"
	"tableqa/internal/prompt"
	"tableqa/internal/schema"
	"tableqa/internal/synth"
)

// Role identifies who produced a transcript turn.
type Role string

const (
	RoleContext Role = "context"
	RoleUser    Role = "user"
	RoleModel   Role = "model"
)

// Turn is one entry of a session transcript.
type Turn struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Seed is the static context a session is opened with.
type Seed struct {
	Dialect  prompt.Dialect
	Question string
	Query    string
	Schema   schema.Context
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithHints appends the offending query line to fix requests when the error
// carries a location marker.
func WithHints(enabled bool) SessionOption {
	return func(s *Session) { s.includeHints = enabled }
}

// WithSessionLogger sets the session logger.
func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Session is a live repair conversation for one question. It is safe for
// use by one caller at a time; the mutex only guards the transcript against
// concurrent readers.
type Session struct {
	ID       string
	Question string

	chat         llm.ChatSession
	includeHints bool
	logger       *slog.Logger

	mu     sync.Mutex
	turns  []Turn
	rounds int
}

// Start opens a conversation seeded with the question, the failing query and
// the schema.
func Start(ctx context.Context, model llm.ChatModel, seed Seed, opts ...SessionOption) (*Session, error) {
	contextPrompt := prompt.RepairContext(seed.Dialect, seed.Question, seed.Query, seed.Schema.Markdown())
	chat, err := model.StartSession(ctx, contextPrompt)
	if err != nil {
		return nil, fmt.Errorf("start repair session: %w", err)
	}

	s := &Session{
		ID:       uuid.NewString(),
		Question: seed.Question,
		chat:     chat,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("session_id", s.ID)
	s.record(RoleContext, contextPrompt)
	s.logger.Debug("Repair session started")
	return s, nil
}

// RequestFix runs one repair round: a fix request carrying the query and the
// error payload, then a request for the corrected query alone. A reply
// without a fenced block yields an extraction error carrying the raw reply.
func (s *Session) RequestFix(ctx context.Context, query string, errors []engine.ExecError) (synth.Candidate, error) {
	s.mu.Lock()
	s.rounds++
	round := s.rounds
	s.mu.Unlock()

	hint := Hint(query, errors)
	fixPrompt := prompt.FixRequest(query, engine.FormatErrors(errors), hint, s.includeHints)
	if _, err := s.Send(ctx, fixPrompt); err != nil {
		return synth.Candidate{}, fmt.Errorf("repair round %d: %w", round, err)
	}

	reply, err := s.Send(ctx, prompt.ExtractionRequest)
	if err != nil {
		return synth.Candidate{}, fmt.Errorf("repair round %d: %w", round, err)
	}

	res := fence.ExtractQuery(reply)
	if !res.Found {
		s.logger.Info("No query in repair response", "round", round)
		return synth.Candidate{}, errs.ExtractionFailed("repair", reply)
	}
	s.logger.Info("Repair round produced a candidate", "round", round, "hint", hint != "")
	return synth.Candidate{Query: res.Content, Attempt: round}, nil
}

// Send passes free text through the conversation and returns the reply.
// The turn is recorded only when the model answered.
func (s *Session) Send(ctx context.Context, text string) (string, error) {
	reply, err := s.chat.SendMessage(ctx, text)
	if err != nil {
		return "", err
	}
	s.record(RoleUser, text)
	s.record(RoleModel, reply)
	return reply, nil
}

// Transcript returns a copy of the turns so far, context prompt first.
func (s *Session) Transcript() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Rounds reports how many repair rounds have been requested.
func (s *Session) Rounds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rounds
}

func (s *Session) record(role Role, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, Turn{Role: role, Text: text, At: time.Now()})
}
