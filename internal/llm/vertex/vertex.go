// Package vertex serves the code, chat and text models from Vertex AI
// through the Google Gen AI SDK.
package vertex

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"tableqa/internal/errs"
	"tableqa/internal/llm"
)

const (
	DefaultCodeModel = "gemini-2.5-pro"
	DefaultChatModel = "gemini-2.5-pro"
	DefaultTextModel = "gemini-2.5-flash"
)

// Config selects the project, region and model names. APIKey switches the
// client to the Gemini API backend instead of Vertex AI.
type Config struct {
	Project   string
	Location  string
	APIKey    string
	BaseURL   string
	CodeModel string
	ChatModel string
	TextModel string
}

// New builds the three models over one shared client.
func New(ctx context.Context, cfg Config) (llm.Models, error) {
	cc := &genai.ClientConfig{}
	if cfg.APIKey != "" {
		cc.APIKey = cfg.APIKey
		cc.Backend = genai.BackendGeminiAPI
	} else {
		if cfg.Project == "" {
			return llm.Models{}, errs.New(errs.Config, "vertex", "GOOGLE_CLOUD_PROJECT is required for the Vertex AI backend")
		}
		cc.Backend = genai.BackendVertexAI
		cc.Project = cfg.Project
		cc.Location = cfg.Location
	}

	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return llm.Models{}, errs.Wrap(errs.Transport, "vertex", "create client", err)
	}

	return llm.Models{
		Code: &CodeModel{client: client, model: orDefault(cfg.CodeModel, DefaultCodeModel)},
		Chat: &ChatModel{client: client, model: orDefault(cfg.ChatModel, DefaultChatModel)},
		Text: &TextModel{client: client, model: orDefault(cfg.TextModel, DefaultTextModel)},
	}, nil
}

// CodeModel is a one-shot code generator.
type CodeModel struct {
	client *genai.Client
	model  string
}

func (m *CodeModel) Predict(ctx context.Context, prompt string) (string, error) {
	resp, err := m.client.Models.GenerateContent(ctx, m.model, userContent(prompt), nil)
	if err != nil {
		return "", errs.Wrap(errs.Transport, "vertex.code", "generate content", err)
	}
	return resp.Text(), nil
}

// TextModel is a one-shot text generator.
type TextModel struct {
	client *genai.Client
	model  string
}

func (m *TextModel) Predict(ctx context.Context, prompt string, opts llm.TextOptions) (string, error) {
	var cfg *genai.GenerateContentConfig
	if opts.MaxOutputTokens > 0 {
		cfg = &genai.GenerateContentConfig{MaxOutputTokens: int32(opts.MaxOutputTokens)}
	}
	resp, err := m.client.Models.GenerateContent(ctx, m.model, userContent(prompt), cfg)
	if err != nil {
		return "", errs.Wrap(errs.Transport, "vertex.text", "generate content", err)
	}
	return resp.Text(), nil
}

// ChatModel opens multi-turn chats. The context prompt becomes the system
// instruction so it frames every later turn.
type ChatModel struct {
	client *genai.Client
	model  string
}

func (m *ChatModel) StartSession(ctx context.Context, contextPrompt string) (llm.ChatSession, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(contextPrompt, genai.RoleUser),
	}
	chat, err := m.client.Chats.Create(ctx, m.model, cfg, nil)
	if err != nil {
		return nil, errs.Wrap(errs.Transport, "vertex.chat", "create chat", err)
	}
	return &chatSession{chat: chat}, nil
}

type chatSession struct {
	chat *genai.Chat
}

func (s *chatSession) SendMessage(ctx context.Context, text string) (string, error) {
	resp, err := s.chat.SendMessage(ctx, genai.Part{Text: text})
	if err != nil {
		return "", errs.Wrap(errs.Transport, "vertex.chat", "send message", err)
	}
	return resp.Text(), nil
}

func userContent(prompt string) []*genai.Content {
	return []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// String describes the configured models for startup logs.
func (c Config) String() string {
	return fmt.Sprintf("project=%s location=%s code=%s chat=%s text=%s",
		c.Project, c.Location,
		orDefault(c.CodeModel, DefaultCodeModel),
		orDefault(c.ChatModel, DefaultChatModel),
		orDefault(c.TextModel, DefaultTextModel))
}
