// Package errs defines kind-tagged errors so callers can tell recoverable
// failures (a model reply without a query) from fatal ones (an unreachable
// model or engine) without matching on message text.
package errs

import (
	"errors"
	"fmt"
)

// Kind is a machine-readable error category.
type Kind string

const (
	// Extraction means a model response held no fenced code block.
	Extraction Kind = "extraction"
	// Transport covers network, auth and timeout failures from a collaborator.
	Transport Kind = "transport"
	// Config means the process was started with unusable settings.
	Config Kind = "config"
	// Invalid means the caller passed bad input.
	Invalid Kind = "invalid"
	// NotFound means a named table, session or secret does not exist.
	NotFound Kind = "not_found"
)

// E wraps an error with a kind, the operation that failed and a human-friendly
// message. Raw holds diagnostic payload such as the unparsed model response.
type E struct {
	Kind    Kind
	Op      string
	Message string
	Raw     string
	Err     error
}

func (e *E) Error() string {
	prefix := string(e.Kind)
	if e.Op != "" {
		prefix = e.Op + ": " + prefix
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *E) Unwrap() error { return e.Err }

func Wrap(kind Kind, op, msg string, err error) *E {
	return &E{Kind: kind, Op: op, Message: msg, Err: err}
}

func New(kind Kind, op, msg string) *E { return &E{Kind: kind, Op: op, Message: msg} }

// ExtractionFailed reports a model response without a usable query.
func ExtractionFailed(op, raw string) *E {
	return &E{Kind: Extraction, Op: op, Message: "response contained no fenced code block", Raw: raw}
}

// KindOf returns the kind of the first *E in err's chain, or "" when there is none.
func KindOf(err error) Kind {
	var e *E
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var e *E
	for err != nil {
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}
