package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIModel talks to the OpenAI chat completions API, or to any compatible
// server such as vLLM when a base URL is given.
type OpenAIModel struct {
	client   openai.Client
	model    string
	defaults Config
	// legacyMaxTokens sends max_tokens instead of max_completion_tokens,
	// which OpenAI-compatible servers still expect.
	legacyMaxTokens bool
}

func NewOpenAIModel(baseURL, apiKey, model string, defaults Config, legacyMaxTokens bool) *OpenAIModel {
	opts := []option.RequestOption{option.WithMaxRetries(2)}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"))
	}
	return &OpenAIModel{
		client:          openai.NewClient(opts...),
		model:           model,
		defaults:        defaults,
		legacyMaxTokens: legacyMaxTokens,
	}
}

func (m *OpenAIModel) Name() string { return "openai:" + m.model }

func (m *OpenAIModel) Complete(ctx context.Context, messages []Message, cfg Config) (string, error) {
	cfg = m.defaults.merge(cfg)

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(m.model),
		Messages: make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)),
	}
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			params.Messages = append(params.Messages, openai.SystemMessage(msg.Content))
		case RoleAssistant:
			params.Messages = append(params.Messages, openai.AssistantMessage(msg.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(msg.Content))
		}
	}
	if cfg.Temperature != nil {
		params.Temperature = openai.Float(*cfg.Temperature)
	}
	if cfg.MaxTokens > 0 {
		if m.legacyMaxTokens {
			params.MaxTokens = openai.Int(int64(cfg.MaxTokens))
		} else {
			params.MaxCompletionTokens = openai.Int(int64(cfg.MaxTokens))
		}
	}

	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai completion: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}
