package orchestrator

import (
	"tableqa/internal/engine"
	"tableqa/internal/repair"
)

// View is the wire form of a Response.
type View struct {
	Status     string             `json:"status"`
	Answer     string             `json:"answer,omitempty"`
	Query      string             `json:"query,omitempty"`
	Result     *engine.Result     `json:"result,omitempty"`
	Attempts   int                `json:"attempts"`
	Executions int                `json:"executions"`
	SessionID  string             `json:"session_id,omitempty"`
	Errors     []engine.ExecError `json:"errors,omitempty"`
	Diagnostic string             `json:"diagnostic,omitempty"`
	Transcript []repair.Turn      `json:"transcript,omitempty"`
}

// View flattens r. The transcript is included only when withTranscript is set.
func (r Response) View(withTranscript bool) View {
	v := View{
		Status:     r.Kind.String(),
		Answer:     r.Text,
		Query:      r.Query,
		Result:     r.Rows,
		Attempts:   r.Attempts,
		Executions: r.Executions,
		Errors:     r.Errors,
		Diagnostic: r.Diagnostic,
	}
	if r.Session != nil {
		v.SessionID = r.Session.ID
		if withTranscript {
			v.Transcript = r.Session.Transcript()
		}
	}
	return v
}
