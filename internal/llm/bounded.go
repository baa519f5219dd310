package llm

import (
	"context"
	"errors"
	"time"

	"tableqa/internal/errs"
)

// Observer is told about every model call: which collaborator ran, how long
// it took and whether it failed.
type Observer func(kind string, elapsed time.Duration, err error)

// Bound wraps each model so every call gets its own timeout (when timeout >
// 0) and is reported to obs (when non-nil). A timeout surfaces as a transport
// error.
func Bound(m Models, timeout time.Duration, obs Observer) Models {
	b := bounds{timeout: timeout, obs: obs}
	return Models{
		Code: boundCode{inner: m.Code, bounds: b},
		Chat: boundChat{inner: m.Chat, bounds: b},
		Text: boundText{inner: m.Text, bounds: b},
	}
}

type bounds struct {
	timeout time.Duration
	obs     Observer
}

func (b bounds) call(ctx context.Context, kind string, fn func(context.Context) error) error {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	start := time.Now()
	err := fn(ctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !errs.Is(err, errs.Transport) {
		err = errs.Wrap(errs.Transport, kind, "model call timed out", err)
	}
	if b.obs != nil {
		b.obs(kind, time.Since(start), err)
	}
	return err
}

type boundCode struct {
	inner CodeGenerator
	bounds
}

func (g boundCode) Predict(ctx context.Context, prompt string) (string, error) {
	var out string
	err := g.call(ctx, "code", func(ctx context.Context) error {
		var err error
		out, err = g.inner.Predict(ctx, prompt)
		return err
	})
	return out, err
}

type boundText struct {
	inner TextGenerator
	bounds
}

func (g boundText) Predict(ctx context.Context, prompt string, opts TextOptions) (string, error) {
	var out string
	err := g.call(ctx, "text", func(ctx context.Context) error {
		var err error
		out, err = g.inner.Predict(ctx, prompt, opts)
		return err
	})
	return out, err
}

type boundChat struct {
	inner ChatModel
	bounds
}

func (m boundChat) StartSession(ctx context.Context, contextPrompt string) (ChatSession, error) {
	var s ChatSession
	err := m.call(ctx, "chat_start", func(ctx context.Context) error {
		var err error
		s, err = m.inner.StartSession(ctx, contextPrompt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return boundSession{inner: s, bounds: m.bounds}, nil
}

type boundSession struct {
	inner ChatSession
	bounds
}

func (s boundSession) SendMessage(ctx context.Context, text string) (string, error) {
	var out string
	err := s.call(ctx, "chat", func(ctx context.Context) error {
		var err error
		out, err = s.inner.SendMessage(ctx, text)
		return err
	})
	return out, err
}
