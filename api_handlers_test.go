package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"tableqa/internal/errs"
	"tableqa/internal/llm/llmtest"
	"tableqa/internal/orchestrator"
	"tableqa/internal/repair"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestRouter(t *testing.T, code, chat, text []string, attempts int) (http.Handler, *APIHandler) {
	t.Helper()
	_, _, _, models := ScriptedModels(code, chat, text)
	a := SetupTestApp(t, models, maxAttempts(attempts))
	h := &APIHandler{
		Orchestrator: a.Orchestrator,
		Engine:       a.Engine,
		Sessions:     newSessionStore(time.Minute),
		Logger:       slog.New(slog.DiscardHandler),
	}
	return newRouter(h, h.Logger, 0), h
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not JSON: %v\n%s", err, rec.Body.String())
	}
	return out
}

func TestAnswerEndpoint(t *testing.T) {
	router, _ := newTestRouter(t,
		[]string{sqlBlock("SELECT station_name FROM trips")},
		llmtest.FixReplies("SELECT COUNT(*) AS rides FROM trips WHERE age > 40"),
		[]string{"Four rides were taken by riders over 40."},
		7,
	)

	rec := do(t, router, http.MethodPost, "/api/answer", `{"question":"How many rides by riders over 40?"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
	got := decode[orchestrator.View](t, rec)
	if got.Status != "answered" || got.Attempts != 1 || got.Executions != 2 {
		t.Fatalf("view = %+v", got)
	}
	if got.Answer != "Four rides were taken by riders over 40." {
		t.Errorf("answer = %q", got.Answer)
	}
	if got.Result == nil || len(got.Result.Rows) != 1 {
		t.Fatalf("result = %+v", got.Result)
	}
	if n, ok := got.Result.Rows[0][0].(float64); !ok || n != 4 {
		t.Errorf("rides = %v", got.Result.Rows[0][0])
	}
	if got.SessionID == "" {
		t.Error("a repaired answer should report its session id")
	}
}

func TestExhaustedSessionCanBeContinued(t *testing.T) {
	chat := append(llmtest.FixReplies("SELECT still_missing FROM trips"),
		"Use the station column:\n"+sqlBlock("SELECT station FROM trips"))
	router, h := newTestRouter(t,
		[]string{sqlBlock("SELECT missing FROM trips")},
		chat,
		nil,
		1,
	)

	rec := do(t, router, http.MethodPost, "/api/answer", `{"question":"stations?","transcript":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	view := decode[orchestrator.View](t, rec)
	if view.Status != "exhausted" || view.SessionID == "" || len(view.Errors) == 0 {
		t.Fatalf("view = %+v", view)
	}
	if len(view.Transcript) != 5 || view.Transcript[0].Role != repair.RoleContext {
		t.Fatalf("transcript = %+v", view.Transcript)
	}
	if h.Sessions.Len() != 1 {
		t.Fatalf("sessions held = %d", h.Sessions.Len())
	}

	rec = do(t, router, http.MethodPost, "/api/sessions/"+view.SessionID+"/messages", `{"text":"which column exists?"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	msg := decode[messageResponse](t, rec)
	if msg.Query != "SELECT station FROM trips" || !strings.HasPrefix(msg.Reply, "Use the station column") {
		t.Errorf("message = %+v", msg)
	}
}

func TestAnswerEndpointErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		codeErr    error
		wantStatus int
	}{
		{"malformed JSON", `{"question":`, nil, http.StatusBadRequest},
		{"unknown field", `{"q":"x"}`, nil, http.StatusBadRequest},
		{"empty question", `{"question":"  "}`, nil, http.StatusBadRequest},
		{"attempts above configured max", `{"question":"x","max_attempts":1000}`, nil, http.StatusBadRequest},
		{"negative attempts", `{"question":"x","max_attempts":-1}`, nil, http.StatusBadRequest},
		{"model unreachable", `{"question":"x"}`, errs.New(errs.Transport, "vertex", "connection refused"), http.StatusBadGateway},
		{"unexpected failure", `{"question":"x"}`, errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, _, _, models := ScriptedModels(nil, nil, nil)
			code.Err = tc.codeErr
			a := SetupTestApp(t, models, nil)
			h := &APIHandler{Orchestrator: a.Orchestrator, Engine: a.Engine, Sessions: newSessionStore(time.Minute)}
			router := newRouter(h, slog.New(slog.DiscardHandler), 0)

			rec := do(t, router, http.MethodPost, "/api/answer", tc.body)
			if rec.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d; body = %s", rec.Code, tc.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestAnswerEndpointAcceptsLowerAttempts(t *testing.T) {
	router, h := newTestRouter(t, []string{sqlBlock("SELECT missing FROM trips")}, nil, nil, 3)

	rec := do(t, router, http.MethodPost, "/api/answer", `{"question":"stations?","max_attempts":0}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	view := decode[orchestrator.View](t, rec)
	if view.Status != "exhausted" || view.Attempts != 0 || view.Executions != 0 {
		t.Fatalf("view = %+v", view)
	}
	if h.Sessions.Len() != 0 {
		t.Fatalf("sessions held = %d, want 0", h.Sessions.Len())
	}
}

func TestSessionMessageUnknownID(t *testing.T) {
	router, _ := newTestRouter(t, nil, nil, nil, 1)
	rec := do(t, router, http.MethodPost, "/api/sessions/nope/messages", `{"text":"hi"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestQueryEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, nil, nil, nil, 1)

	rec := do(t, router, http.MethodPost, "/api/query", `{"sql":"SELECT station FROM trips WHERE age > 60"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Pier 40") {
		t.Errorf("body = %s", rec.Body.String())
	}

	rec = do(t, router, http.MethodPost, "/api/query", `{"sql":"SELECT nope FROM trips"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("engine errors are data, got status %d", rec.Code)
	}
	var out struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil || len(out.Errors) == 0 {
		t.Fatalf("expected engine errors, got %s", rec.Body.String())
	}

	rec = do(t, router, http.MethodPost, "/api/query", `{"sql":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty sql status = %d", rec.Code)
	}
}

func TestSchemaHealthAndMetrics(t *testing.T) {
	router, _ := newTestRouter(t, nil, nil, nil, 1)

	rec := do(t, router, http.MethodGet, "/api/schema", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("schema status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{`"tables":["trips"]`, `"column_name":"duration"`, "| table_name |"} {
		if !strings.Contains(body, want) {
			t.Errorf("schema body lacks %s:\n%s", want, body)
		}
	}

	if rec := do(t, router, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d", rec.Code)
	}

	rec = do(t, router, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte("tableqa_http_requests_total")) {
		t.Errorf("metrics status = %d body lacks http counter", rec.Code)
	}
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errs.New(errs.Invalid, "answer", "empty question"), http.StatusBadRequest},
		{errs.New(errs.NotFound, "catalog", "missing"), http.StatusNotFound},
		{fmt.Errorf("execute attempt 1: %w", errs.New(errs.Transport, "postgres", "down")), http.StatusBadGateway},
		{fmt.Errorf("code model: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		if got := statusForError(tc.err); got != tc.want {
			t.Errorf("statusForError(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestSessionStoreExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	st := newSessionStore(time.Minute)
	st.now = func() time.Time { return now }

	st.Put(&repair.Session{ID: "a"})
	if _, ok := st.Get("a"); !ok {
		t.Fatal("fresh session should be found")
	}

	now = now.Add(50 * time.Second)
	if _, ok := st.Get("a"); !ok {
		t.Fatal("Get should extend the lifetime")
	}

	now = now.Add(61 * time.Second)
	if _, ok := st.Get("a"); ok {
		t.Fatal("idle session should expire")
	}

	st.Put(&repair.Session{ID: "b"})
	now = now.Add(2 * time.Minute)
	st.Put(&repair.Session{ID: "c"})
	if st.Len() != 1 {
		t.Errorf("Put should sweep expired sessions, have %d", st.Len())
	}
}
