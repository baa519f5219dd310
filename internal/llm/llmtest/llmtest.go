// Package llmtest provides scripted model fakes that record every prompt they
// receive. Replies are consumed in order; running past the script returns an
// error so tests notice unexpected calls.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"tableqa/internal/llm"
)

// Code is a scripted llm.CodeGenerator.
type Code struct {
	mu      sync.Mutex
	Replies []string
	Err     error
	Prompts []string
}

func (c *Code) Predict(_ context.Context, prompt string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Prompts = append(c.Prompts, prompt)
	if c.Err != nil {
		return "", c.Err
	}
	if len(c.Replies) == 0 {
		return "", fmt.Errorf("llmtest: unexpected code prompt %d", len(c.Prompts))
	}
	reply := c.Replies[0]
	c.Replies = c.Replies[1:]
	return reply, nil
}

// Calls reports how many prompts were received.
func (c *Code) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Prompts)
}

// Text is a scripted llm.TextGenerator.
type Text struct {
	mu      sync.Mutex
	Replies []string
	Err     error
	Prompts []string
	Options []llm.TextOptions
}

func (t *Text) Predict(_ context.Context, prompt string, opts llm.TextOptions) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Prompts = append(t.Prompts, prompt)
	t.Options = append(t.Options, opts)
	if t.Err != nil {
		return "", t.Err
	}
	if len(t.Replies) == 0 {
		return "", fmt.Errorf("llmtest: unexpected text prompt %d", len(t.Prompts))
	}
	reply := t.Replies[0]
	t.Replies = t.Replies[1:]
	return reply, nil
}

// Calls reports how many prompts were received.
func (t *Text) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Prompts)
}

// Chat is a scripted llm.ChatModel. Replies are shared by every session it
// opens, in send order.
type Chat struct {
	mu       sync.Mutex
	Replies  []string
	StartErr error
	SendErr  error
	Sessions []*Session
}

// Session is one conversation opened by Chat.
type Session struct {
	Context  string
	Messages []string
	chat     *Chat
}

func (c *Chat) StartSession(_ context.Context, contextPrompt string) (llm.ChatSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.StartErr != nil {
		return nil, c.StartErr
	}
	s := &Session{Context: contextPrompt, chat: c}
	c.Sessions = append(c.Sessions, s)
	return s, nil
}

func (s *Session) SendMessage(_ context.Context, text string) (string, error) {
	c := s.chat
	c.mu.Lock()
	defer c.mu.Unlock()
	s.Messages = append(s.Messages, text)
	if c.SendErr != nil {
		return "", c.SendErr
	}
	if len(c.Replies) == 0 {
		return "", fmt.Errorf("llmtest: unexpected chat message %d", len(s.Messages))
	}
	reply := c.Replies[0]
	c.Replies = c.Replies[1:]
	return reply, nil
}

// SessionCount reports how many sessions were opened.
func (c *Chat) SessionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Sessions)
}

// MessageCount reports the total number of messages sent across sessions.
func (c *Chat) MessageCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.Sessions {
		n += len(s.Messages)
	}
	return n
}

// FixReplies scripts one repair round per query: an acknowledgement for the
// fix turn and a fenced block for the extraction turn.
func FixReplies(queries ...string) []string {
	out := make([]string, 0, 2*len(queries))
	for _, q := range queries {
		out = append(out, "Let me look at that error.", "```sql\n"+q+"\n```")
	}
	return out
}
