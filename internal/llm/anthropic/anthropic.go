// Package anthropic serves the code, chat and text models from Claude. Code
// generation runs through a Fantasy agent; the repair conversation and the
// answer summary use the Anthropic SDK directly so history and output caps
// stay under our control.
package anthropic

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"charm.land/fantasy"
	fantasyanthropic "charm.land/fantasy/providers/anthropic"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"tableqa/internal/errs"
	"tableqa/internal/llm"
)

const (
	DefaultCodeModel = "claude-sonnet-4-5"
	DefaultChatModel = "claude-sonnet-4-5"
	DefaultTextModel = "claude-haiku-4-5"

	defaultChatMaxTokens = 2048
	defaultTextMaxTokens = 1024

	emptyReplyPlaceholder = "(no response)"

	codeSystemPrompt = "You write SQL for analytical questions. Answer with a single SQL query inside a markdown code block."
)

// Config holds the Claude settings.
type Config struct {
	apiKey    string
	baseURL   string
	codeModel string
	chatModel string
	textModel string
}

// Option is a functional option for configuring the backend.
type Option func(*Config) error

// WithAPIKey sets the Anthropic API key.
func WithAPIKey(apiKey string) Option {
	return func(c *Config) error {
		if apiKey == "" {
			return fmt.Errorf("API key cannot be empty")
		}
		c.apiKey = apiKey
		return nil
	}
}

// WithAPIKeyFromEnv reads ANTHROPIC_API_KEY.
func WithAPIKeyFromEnv() Option {
	return func(c *Config) error {
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY environment variable not set")
		}
		c.apiKey = apiKey
		return nil
	}
}

// WithBaseURL points all three models at a different endpoint.
func WithBaseURL(url string) Option {
	return func(c *Config) error {
		c.baseURL = url
		return nil
	}
}

// WithModels overrides model names. Empty values keep the defaults.
func WithModels(code, chat, text string) Option {
	return func(c *Config) error {
		if code != "" {
			c.codeModel = code
		}
		if chat != "" {
			c.chatModel = chat
		}
		if text != "" {
			c.textModel = text
		}
		return nil
	}
}

// New builds the three Claude-backed models.
func New(ctx context.Context, opts ...Option) (llm.Models, error) {
	cfg := &Config{
		codeModel: DefaultCodeModel,
		chatModel: DefaultChatModel,
		textModel: DefaultTextModel,
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return llm.Models{}, errs.Wrap(errs.Config, "anthropic", "apply option", err)
		}
	}
	if cfg.apiKey == "" {
		return llm.Models{}, errs.New(errs.Config, "anthropic", "API key is required (use WithAPIKey or WithAPIKeyFromEnv)")
	}

	code, err := newCodeModel(ctx, cfg)
	if err != nil {
		return llm.Models{}, err
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	client := anthropic.NewClient(reqOpts...)

	return llm.Models{
		Code: code,
		Chat: &ChatModel{client: &client, model: cfg.chatModel, maxTokens: defaultChatMaxTokens},
		Text: &TextModel{client: &client, model: cfg.textModel},
	}, nil
}

// CodeModel runs one-shot generation through a Fantasy agent.
type CodeModel struct {
	generate func(ctx context.Context, prompt string) (string, error)
}

func newCodeModel(ctx context.Context, cfg *Config) (*CodeModel, error) {
	providerOpts := []fantasyanthropic.Option{fantasyanthropic.WithAPIKey(cfg.apiKey)}
	if cfg.baseURL != "" {
		providerOpts = append(providerOpts, fantasyanthropic.WithBaseURL(cfg.baseURL))
	}
	provider, err := fantasyanthropic.New(providerOpts...)
	if err != nil {
		return nil, errs.Wrap(errs.Config, "anthropic.code", "create provider", err)
	}
	model, err := provider.LanguageModel(ctx, cfg.codeModel)
	if err != nil {
		return nil, errs.Wrap(errs.Config, "anthropic.code", "initialize model "+cfg.codeModel, err)
	}
	agent := fantasy.NewAgent(model, fantasy.WithSystemPrompt(codeSystemPrompt))

	return &CodeModel{generate: func(ctx context.Context, prompt string) (string, error) {
		result, err := agent.Generate(ctx, fantasy.AgentCall{Prompt: prompt})
		if err != nil {
			return "", err
		}
		return result.Response.Content.Text(), nil
	}}, nil
}

func (m *CodeModel) Predict(ctx context.Context, prompt string) (string, error) {
	text, err := m.generate(ctx, prompt)
	if err != nil {
		return "", errs.Wrap(errs.Transport, "anthropic.code", "generate", err)
	}
	return text, nil
}

// TextModel is a one-shot text generator honoring the output cap.
type TextModel struct {
	client *anthropic.Client
	model  string
}

func (m *TextModel) Predict(ctx context.Context, prompt string, opts llm.TextOptions) (string, error) {
	maxTokens := int64(defaultTextMaxTokens)
	if opts.MaxOutputTokens > 0 {
		maxTokens = int64(opts.MaxOutputTokens)
	}
	msg, err := m.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(m.model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", errs.Wrap(errs.Transport, "anthropic.text", "create message", err)
	}
	return messageText(msg), nil
}

// ChatModel keeps conversation history client side and replays it on every
// turn; the context prompt is sent as the system prompt.
type ChatModel struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
}

func (m *ChatModel) StartSession(_ context.Context, contextPrompt string) (llm.ChatSession, error) {
	return &chatSession{model: m, system: contextPrompt}, nil
}

type chatSession struct {
	model   *ChatModel
	system  string
	mu      sync.Mutex
	history []anthropic.MessageParam
}

func (s *chatSession) SendMessage(ctx context.Context, text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	turn := append(s.history, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
	msg, err := s.model.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model.model),
		MaxTokens: s.model.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: s.system}},
		Messages:  turn,
	})
	if err != nil {
		return "", errs.Wrap(errs.Transport, "anthropic.chat", "create message", err)
	}

	reply := messageText(msg)
	stored := reply
	if strings.TrimSpace(stored) == "" {
		// Empty text blocks are rejected on replay.
		stored = emptyReplyPlaceholder
	}
	s.history = append(turn, anthropic.NewAssistantMessage(anthropic.NewTextBlock(stored)))
	return reply, nil
}

func messageText(msg *anthropic.Message) string {
	var parts []string
	for _, block := range msg.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}
