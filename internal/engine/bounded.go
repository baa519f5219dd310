package engine

import (
	"context"
	"time"

	"tableqa/internal/schema"
)

// Bounded gives every Execute and Columns call on e its own timeout. A zero
// timeout returns e unchanged. Engines report an expired context as a
// transport error.
func Bounded(e Engine, timeout time.Duration) Engine {
	if timeout <= 0 {
		return e
	}
	return bounded{Engine: e, timeout: timeout}
}

type bounded struct {
	Engine
	timeout time.Duration
}

func (b bounded) Execute(ctx context.Context, query string) (Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.Engine.Execute(ctx, query)
}

func (b bounded) Columns(ctx context.Context, tables []string) ([]schema.Column, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.Engine.Columns(ctx, tables)
}
