// Package openai implements [llm.Provider] on the official openai-go SDK.
// Any OpenAI-compatible endpoint works through [Config.BaseURL].
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

// Config configures [New]. APIKey and Model are required.
type Config struct {
	APIKey       string
	Model        string
	BaseURL      string
	Organization string

	// Timeout bounds each HTTP request. Zero uses the SDK default.
	Timeout time.Duration

	// MaxRetries overrides the SDK's retry count when positive.
	MaxRetries int
}

// Provider is an [llm.Provider] for chat completions.
type Provider struct {
	client oai.Client
	model  string
}

var _ llm.Provider = (*Provider)(nil)

// New validates cfg and builds the SDK client.
func New(cfg Config) (*Provider, error) {
	switch {
	case cfg.APIKey == "":
		return nil, errors.New("openai: api key is required")
	case cfg.Model == "":
		return nil, errors.New("openai: model is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Organization != "" {
		opts = append(opts, option.WithOrganization(cfg.Organization))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	}
	return &Provider{client: oai.NewClient(opts...), model: cfg.Model}, nil
}

// Name implements [llm.Provider].
func (p *Provider) Name() string { return "openai" }

// Complete implements [llm.Provider]. JSON requests use the native
// json_object response format; [llm.SystemPrompt] keeps the word "JSON" in
// the prompt, which that format demands.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	msgs, err := messages(req)
	if err != nil {
		return nil, err
	}
	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: msgs,
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	if req.JSON {
		params.ResponseFormat.OfJSONObject = &shared.ResponseFormatJSONObjectParam{}
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: reply %s has no choices", resp.ID)
	}
	return &llm.CompletionResponse{
		Content: resp.Choices[0].Message.Content,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

func messages(req llm.CompletionRequest) ([]oai.ChatCompletionMessageParamUnion, error) {
	out := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if sys := llm.SystemPrompt(req); sys != "" {
		out = append(out, oai.SystemMessage(sys))
	}
	for i, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			out = append(out, oai.SystemMessage(m.Content))
		case llm.RoleUser:
			out = append(out, oai.UserMessage(m.Content))
		case llm.RoleAssistant:
			out = append(out, oai.AssistantMessage(m.Content))
		default:
			return nil, fmt.Errorf("openai: messages[%d]: unknown role %q", i, m.Role)
		}
	}
	return out, nil
}
