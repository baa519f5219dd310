package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"tableqa/internal/engine"
	"tableqa/internal/errs"
	"tableqa/internal/fence"
	"tableqa/internal/observability"
	"tableqa/internal/orchestrator"
	"tableqa/internal/schema"
)

// APIHandler handles JSON API requests
type APIHandler struct {
	Orchestrator *orchestrator.Orchestrator
	Engine       engine.Engine
	Sessions     *sessionStore
	Logger       *slog.Logger
}

type answerRequest struct {
	Question    string `json:"question"`
	MaxAttempts *int   `json:"max_attempts,omitempty"`
	Transcript  bool   `json:"transcript,omitempty"`
}

type queryRequest struct {
	SQL string `json:"sql"`
}

type messageRequest struct {
	Text string `json:"text"`
}

type messageResponse struct {
	SessionID string `json:"session_id"`
	Reply     string `json:"reply"`
	Query     string `json:"query,omitempty"`
}

// Answer handles POST /api/answer
func (h *APIHandler) Answer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	maxAttempts := h.Orchestrator.MaxAttempts()
	if req.MaxAttempts != nil {
		if *req.MaxAttempts < 0 || *req.MaxAttempts > maxAttempts {
			respondJSON(w, http.StatusBadRequest, map[string]string{
				"error": fmt.Sprintf("max_attempts must be between 0 and %d", maxAttempts),
			})
			return
		}
		maxAttempts = *req.MaxAttempts
	}

	resp, err := h.Orchestrator.Answer(r.Context(), req.Question, maxAttempts)
	if err != nil {
		h.respondError(r.Context(), w, "answer", err)
		return
	}
	if resp.Kind == orchestrator.Exhausted && resp.Session != nil {
		h.Sessions.Put(resp.Session)
	}
	respondJSON(w, http.StatusOK, resp.View(req.Transcript))
}

// Query handles POST /api/query
func (h *APIHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.SQL) == "" {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "sql is required"})
		return
	}
	out, err := h.Engine.Execute(r.Context(), req.SQL)
	if err != nil {
		h.respondError(r.Context(), w, "query", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"result": out.Rows,
		"errors": out.Errors,
	})
}

// Schema handles GET /api/schema
func (h *APIHandler) Schema(w http.ResponseWriter, r *http.Request) {
	sc := h.Orchestrator.Schema()
	respondJSON(w, http.StatusOK, struct {
		Tables   []string        `json:"tables"`
		Columns  []schema.Column `json:"columns"`
		Markdown string          `json:"markdown"`
	}{sc.Tables(), sc.Columns(), sc.Markdown()})
}

// SessionMessage handles POST /api/sessions/{id}/messages
func (h *APIHandler) SessionMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	item, ok := h.Sessions.Get(id)
	if !ok {
		respondJSON(w, http.StatusNotFound, map[string]string{
			"error": "Session not found or expired",
		})
		return
	}

	var req messageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "text is required"})
		return
	}

	item.mu.Lock()
	reply, err := item.session.Send(r.Context(), req.Text)
	item.mu.Unlock()
	if err != nil {
		h.respondError(r.Context(), w, "session message", err)
		return
	}

	out := messageResponse{SessionID: id, Reply: reply}
	if q := fence.ExtractQuery(reply); q.Found {
		out.Query = q.Content
	}
	respondJSON(w, http.StatusOK, out)
}

// Health handles GET /healthz
func (h *APIHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *APIHandler) respondError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	status := statusForError(err)
	if h.Logger != nil {
		h.Logger.Error("Request failed",
			"op", op,
			"error", err,
			"status", status,
			"request_id", observability.RequestIDFromContext(ctx),
		)
	}
	respondJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  string(errs.KindOf(err)),
	})
}

// statusForError maps error kinds onto HTTP statuses. Upstream failures are
// reported as a bad gateway.
func statusForError(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errs.Is(err, errs.Invalid):
		return http.StatusBadRequest
	case errs.Is(err, errs.NotFound):
		return http.StatusNotFound
	case errs.Is(err, errs.Transport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON body: " + err.Error(),
		})
		return false
	}
	return true
}

// respondJSON is a helper function to send JSON responses
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("JSON encoding error", "error", err)
	}
}
