package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"tableqa/internal/config"
	"tableqa/internal/errs"
	"tableqa/internal/repair"
)

func TestNewLoggerAttachesServiceAttrs(t *testing.T) {
	cfg := config.Defaults()
	var buf bytes.Buffer
	NewLogger(cfg, &buf).Info("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v\n%s", err, buf.String())
	}
	if entry["service"] != "tableqa" || entry["engine"] != "duckdb" {
		t.Fatalf("entry = %v", entry)
	}
	if _, ok := entry["source"]; !ok {
		t.Fatal("expected source location in log entry")
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	t.Run("preserves incoming id", func(t *testing.T) {
		h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got := RequestIDFromContext(r.Context()); got != "req-1" {
				t.Fatalf("RequestIDFromContext() = %q", got)
			}
		}))
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set(requestIDHeader, "req-1")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if got := rr.Header().Get(requestIDHeader); got != "req-1" {
			t.Fatalf("header = %q", got)
		}
	})
	t.Run("generates id", func(t *testing.T) {
		h := RequestIDMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if rr.Header().Get(requestIDHeader) == "" {
			t.Fatal("expected X-Request-ID header")
		}
	})
}

func TestRequestIDContextHelpers(t *testing.T) {
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Fatalf("RequestIDFromContext() = %q", got)
	}
	ctx := ContextWithRequestID(context.Background(), "abc")
	if got := RequestIDFromContext(ctx); got != "abc" {
		t.Fatalf("RequestIDFromContext() = %q", got)
	}
}

func TestLoggingMiddlewareDoesNotPanic(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	h := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
}

func TestMetricsExposed(t *testing.T) {
	Questions{}.ObserveQuestion("answered", 1, 2*time.Second)
	ObserveModelCall("chat", time.Second, errs.New(errs.Transport, "chat", "down"))
	ObserveModelCall("code", time.Second, errors.New("plain"))

	var transitions int
	hooks := RepairHooks(&repair.Hooks{Transition: func(repair.State, repair.State) { transitions++ }})
	hooks.Transition(repair.Initial, repair.Executing)
	hooks.Executed(10*time.Millisecond, false)
	hooks.RepairRound(1)
	hooks.ExtractionFailed("repair")
	RepairHooks(nil).RepairRound(2)
	if transitions != 1 {
		t.Fatalf("wrapped Transition hook ran %d times", transitions)
	}

	r := chi.NewRouter()
	r.Use(MetricsMiddleware)
	r.Get("/api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {})
	r.Handle("/metrics", Handler())
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/sessions/123", nil))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rr.Body.String()
	for _, want := range []string{
		`tableqa_questions_total{outcome="answered"}`,
		`tableqa_model_call_duration_seconds_count{kind="chat",status="transport"}`,
		`tableqa_model_call_duration_seconds_count{kind="code",status="error"}`,
		`tableqa_query_duration_seconds_count{result="failure"}`,
		`tableqa_extraction_failures_total{stage="repair"}`,
		`tableqa_repair_rounds_total`,
		`path="/api/sessions/{id}"`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}
