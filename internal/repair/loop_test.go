package repair

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"tableqa/internal/engine"
	"tableqa/internal/errs"
	"tableqa/internal/llm/llmtest"
	"tableqa/internal/prompt"
	"tableqa/internal/synth"
)

// scriptedEngine returns outcomes in order and repeats the last one.
type scriptedEngine struct {
	mu       sync.Mutex
	outcomes []engine.Outcome
	err      error
	queries  []string
}

func (e *scriptedEngine) Execute(_ context.Context, query string) (engine.Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queries = append(e.queries, query)
	if e.err != nil {
		return engine.Outcome{}, e.err
	}
	i := len(e.queries) - 1
	if i >= len(e.outcomes) {
		i = len(e.outcomes) - 1
	}
	return e.outcomes[i], nil
}

func failing(msg string) engine.Outcome {
	return engine.Failure(engine.ExecError{Message: msg})
}

func succeeding() engine.Outcome {
	return engine.Success(&engine.Result{Columns: []string{"n"}, Rows: [][]any{{int64(1)}}})
}

func newTestLoop(code *llmtest.Code, exec Executor, chat *llmtest.Chat, opts ...Option) *Loop {
	return NewLoop(synth.New(code, prompt.DuckDB, nil), exec, chat, prompt.DuckDB, opts...)
}

func fencedSQL(q string) string { return "```sql\n" + q + "\n```" }

func TestRunSuccessNeedsNoSession(t *testing.T) {
	code := &llmtest.Code{Replies: []string{fencedSQL("SELECT 1")}}
	exec := &scriptedEngine{outcomes: []engine.Outcome{succeeding()}}
	chat := &llmtest.Chat{}

	res, err := newTestLoop(code, exec, chat).Run(context.Background(), "one?", tripsSchema, 7)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.State != Succeeded || res.Attempts != 0 || res.Executions != 1 || res.Session != nil {
		t.Fatalf("Run() = %+v", res)
	}
	if chat.SessionCount() != 0 || chat.MessageCount() != 0 {
		t.Fatalf("repair model was called: %d sessions, %d messages", chat.SessionCount(), chat.MessageCount())
	}
}

func TestRunBoundsRepairRounds(t *testing.T) {
	for maxAttempts := 0; maxAttempts <= 4; maxAttempts++ {
		t.Run(fmt.Sprintf("max=%d", maxAttempts), func(t *testing.T) {
			code := &llmtest.Code{Replies: []string{fencedSQL("SELECT nope")}}
			exec := &scriptedEngine{outcomes: []engine.Outcome{failing("Unrecognized name: nope [1:8]")}}
			queries := make([]string, maxAttempts)
			for i := range queries {
				queries[i] = fmt.Sprintf("SELECT nope%d", i+1)
			}
			chat := &llmtest.Chat{Replies: llmtest.FixReplies(queries...)}

			res, err := newTestLoop(code, exec, chat).Run(context.Background(), "q", tripsSchema, maxAttempts)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if res.State != Exhausted {
				t.Fatalf("State = %v, want exhausted", res.State)
			}
			if res.Attempts != maxAttempts || res.Executions != maxAttempts {
				t.Fatalf("attempts = %d executions = %d, want %d", res.Attempts, res.Executions, maxAttempts)
			}
			if got := chat.MessageCount(); got != 2*maxAttempts {
				t.Fatalf("repair messages = %d, want %d", got, 2*maxAttempts)
			}
			if (res.Session != nil) != (maxAttempts > 0) {
				t.Fatalf("Session = %v with maxAttempts %d", res.Session, maxAttempts)
			}
			if res.Session != nil && res.Session.Rounds() != maxAttempts {
				t.Fatalf("Rounds() = %d, want %d", res.Session.Rounds(), maxAttempts)
			}
		})
	}
}

func TestRunInitialExtractionFailure(t *testing.T) {
	code := &llmtest.Code{Replies: []string{"I cannot write that query."}}
	exec := &scriptedEngine{outcomes: []engine.Outcome{succeeding()}}
	chat := &llmtest.Chat{}

	res, err := newTestLoop(code, exec, chat).Run(context.Background(), "q", tripsSchema, 7)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.State != Exhausted || res.Attempts != 0 || res.Session != nil {
		t.Fatalf("Run() = %+v", res)
	}
	if len(exec.queries) != 0 {
		t.Fatalf("executor called %d times, want 0", len(exec.queries))
	}
	if res.Diagnostic != "I cannot write that query." {
		t.Fatalf("Diagnostic = %q", res.Diagnostic)
	}
}

func TestRunSucceedsOnKthExecution(t *testing.T) {
	for k := 1; k <= 5; k++ {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			outcomes := make([]engine.Outcome, 0, k)
			for i := 1; i < k; i++ {
				outcomes = append(outcomes, failing(fmt.Sprintf("error %d", i)))
			}
			outcomes = append(outcomes, succeeding())
			fixes := make([]string, k-1)
			for i := range fixes {
				fixes[i] = fmt.Sprintf("SELECT %d", i+2)
			}

			code := &llmtest.Code{Replies: []string{fencedSQL("SELECT 1")}}
			exec := &scriptedEngine{outcomes: outcomes}
			chat := &llmtest.Chat{Replies: llmtest.FixReplies(fixes...)}

			res, err := newTestLoop(code, exec, chat).Run(context.Background(), "q", tripsSchema, 7)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if res.State != Succeeded || res.Executions != k || res.Attempts != k-1 {
				t.Fatalf("Run() state=%v executions=%d attempts=%d, want success %d %d", res.State, res.Executions, res.Attempts, k, k-1)
			}
			if got := chat.MessageCount(); got != 2*(k-1) {
				t.Fatalf("repair messages = %d, want %d", got, 2*(k-1))
			}
			if res.Query != fmt.Sprintf("SELECT %d", k) {
				t.Fatalf("Query = %q", res.Query)
			}
		})
	}
}

func TestRunRepairExtractionFailureEndsLoop(t *testing.T) {
	code := &llmtest.Code{Replies: []string{fencedSQL("SELECT nope")}}
	exec := &scriptedEngine{outcomes: []engine.Outcome{failing("bad")}}
	chat := &llmtest.Chat{Replies: []string{"Let me see.", "Try checking the column names."}}

	res, err := newTestLoop(code, exec, chat).Run(context.Background(), "q", tripsSchema, 5)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.State != Exhausted || res.Attempts != 1 || res.Executions != 1 {
		t.Fatalf("Run() = %+v", res)
	}
	if res.Session == nil {
		t.Fatal("exhausted result dropped the session")
	}
	if res.Diagnostic != "Try checking the column names." {
		t.Fatalf("Diagnostic = %q", res.Diagnostic)
	}
}

func TestRunTreatsEmptyOutcomeAsFailure(t *testing.T) {
	for name, outcome := range map[string]engine.Outcome{
		"zero value": {},
		"nil rows":   engine.Success(nil),
	} {
		t.Run(name, func(t *testing.T) {
			code := &llmtest.Code{Replies: []string{fencedSQL("SELECT 1")}}
			exec := &scriptedEngine{outcomes: []engine.Outcome{outcome, succeeding()}}
			chat := &llmtest.Chat{Replies: llmtest.FixReplies("SELECT 2")}

			res, err := newTestLoop(code, exec, chat).Run(context.Background(), "q", tripsSchema, 3)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if res.State != Succeeded || res.Attempts != 1 || res.Executions != 2 {
				t.Fatalf("Run() = %+v", res)
			}
			if got := chat.MessageCount(); got != 2 {
				t.Fatalf("repair messages = %d, want 2", got)
			}
		})
	}

	t.Run("exhausted keeps a message", func(t *testing.T) {
		code := &llmtest.Code{Replies: []string{fencedSQL("SELECT 1")}}
		exec := &scriptedEngine{outcomes: []engine.Outcome{{}}}
		chat := &llmtest.Chat{Replies: llmtest.FixReplies("SELECT 1")}

		res, err := newTestLoop(code, exec, chat).Run(context.Background(), "q", tripsSchema, 1)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if res.State != Exhausted || len(res.Errors) != 1 || res.Errors[0].Message == "" {
			t.Fatalf("Run() = %+v", res)
		}
	})
}

func TestRunSessionAccumulatesHistory(t *testing.T) {
	code := &llmtest.Code{Replies: []string{fencedSQL("SELECT a")}}
	exec := &scriptedEngine{outcomes: []engine.Outcome{failing("a"), failing("b"), succeeding()}}
	chat := &llmtest.Chat{Replies: llmtest.FixReplies("SELECT b", "SELECT c")}

	res, err := newTestLoop(code, exec, chat).Run(context.Background(), "q", tripsSchema, 7)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if chat.SessionCount() != 1 {
		t.Fatalf("SessionCount() = %d, want 1", chat.SessionCount())
	}
	if got := len(chat.Sessions[0].Messages); got != 4 {
		t.Fatalf("session saw %d messages, want 4", got)
	}
	if diff := cmp.Diff([]string{"SELECT a", "SELECT b", "SELECT c"}, exec.queries); diff != "" {
		t.Fatalf("executed queries mismatch (-want +got):\n%s", diff)
	}
	if res.Session == nil || len(res.Session.Transcript()) != 9 {
		t.Fatalf("Transcript() should hold context plus 8 turns")
	}
}

func TestRunFatalErrorsPropagate(t *testing.T) {
	transport := errs.New(errs.Transport, "engine", "connection refused")

	t.Run("engine", func(t *testing.T) {
		code := &llmtest.Code{Replies: []string{fencedSQL("SELECT 1")}}
		_, err := newTestLoop(code, &scriptedEngine{err: transport}, &llmtest.Chat{}).
			Run(context.Background(), "q", tripsSchema, 7)
		if !errs.Is(err, errs.Transport) {
			t.Fatalf("Run() error = %v, want transport", err)
		}
	})
	t.Run("code model", func(t *testing.T) {
		code := &llmtest.Code{Err: transport}
		_, err := newTestLoop(code, &scriptedEngine{}, &llmtest.Chat{}).
			Run(context.Background(), "q", tripsSchema, 7)
		if !errs.Is(err, errs.Transport) {
			t.Fatalf("Run() error = %v, want transport", err)
		}
	})
	t.Run("chat start", func(t *testing.T) {
		code := &llmtest.Code{Replies: []string{fencedSQL("SELECT 1")}}
		exec := &scriptedEngine{outcomes: []engine.Outcome{failing("x")}}
		_, err := newTestLoop(code, exec, &llmtest.Chat{StartErr: transport}).
			Run(context.Background(), "q", tripsSchema, 7)
		if !errs.Is(err, errs.Transport) {
			t.Fatalf("Run() error = %v, want transport", err)
		}
	})
	t.Run("chat send", func(t *testing.T) {
		code := &llmtest.Code{Replies: []string{fencedSQL("SELECT 1")}}
		exec := &scriptedEngine{outcomes: []engine.Outcome{failing("x")}}
		_, err := newTestLoop(code, exec, &llmtest.Chat{SendErr: transport}).
			Run(context.Background(), "q", tripsSchema, 7)
		if !errs.Is(err, errs.Transport) {
			t.Fatalf("Run() error = %v, want transport", err)
		}
	})
}

func TestRunHooks(t *testing.T) {
	code := &llmtest.Code{Replies: []string{fencedSQL("SELECT a")}}
	exec := &scriptedEngine{outcomes: []engine.Outcome{failing("a"), succeeding()}}
	chat := &llmtest.Chat{Replies: llmtest.FixReplies("SELECT b")}

	var transitions []string
	var executed []bool
	var rounds []int
	hooks := Hooks{
		Transition:  func(from, to State) { transitions = append(transitions, from.String()+">"+to.String()) },
		Executed:    func(_ time.Duration, ok bool) { executed = append(executed, ok) },
		RepairRound: func(attempt int) { rounds = append(rounds, attempt) },
	}
	if _, err := newTestLoop(code, exec, chat, WithHooks(hooks)).Run(context.Background(), "q", tripsSchema, 7); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []string{"initial>executing", "executing>failing", "failing>executing", "executing>success"}
	if diff := cmp.Diff(want, transitions); diff != "" {
		t.Fatalf("transitions mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]bool{false, true}, executed); diff != "" {
		t.Fatalf("executed mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{1}, rounds); diff != "" {
		t.Fatalf("rounds mismatch (-want +got):\n%s", diff)
	}
}

func TestStateTerminal(t *testing.T) {
	for _, s := range []State{Initial, Executing, Failing} {
		if s.Terminal() {
			t.Errorf("%v.Terminal() = true", s)
		}
	}
	for _, s := range []State{Succeeded, Exhausted} {
		if !s.Terminal() {
			t.Errorf("%v.Terminal() = false", s)
		}
	}
}
