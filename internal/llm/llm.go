// Package llm defines the three model collaborators the question pipeline
// talks to. Backends live in subpackages; all of them are plain
// request/response services with no retry of their own.
package llm

import "context"

// CodeGenerator is a one-shot code model.
type CodeGenerator interface {
	Predict(ctx context.Context, prompt string) (string, error)
}

// ChatModel opens conversations seeded with a context prompt.
type ChatModel interface {
	StartSession(ctx context.Context, contextPrompt string) (ChatSession, error)
}

// ChatSession is a live conversation. Every SendMessage call sees the full
// history of earlier turns in the same session.
type ChatSession interface {
	SendMessage(ctx context.Context, text string) (string, error)
}

// TextOptions configures a text generation call.
type TextOptions struct {
	MaxOutputTokens int
}

// TextGenerator is a one-shot text model with a capped output length.
type TextGenerator interface {
	Predict(ctx context.Context, prompt string, opts TextOptions) (string, error)
}

// Models bundles the collaborators a backend provides.
type Models struct {
	Code CodeGenerator
	Chat ChatModel
	Text TextGenerator
}
