package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiModel completes with the Gemini generateContent API.
type GeminiModel struct {
	client   *genai.Client
	model    string
	defaults Config
}

func NewGeminiModel(ctx context.Context, baseURL, apiKey, model string, defaults Config) (*GeminiModel, error) {
	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cc.HTTPOptions.BaseURL = baseURL
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiModel{client: client, model: model, defaults: defaults}, nil
}

func (m *GeminiModel) Name() string { return "gemini:" + m.model }

func (m *GeminiModel) Complete(ctx context.Context, messages []Message, cfg Config) (string, error) {
	cfg = m.defaults.merge(cfg)

	system, turns := splitSystem(messages)
	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		if t.Role == RoleAssistant {
			contents = append(contents, genai.NewContentFromText(t.Content, genai.RoleModel))
			continue
		}
		contents = append(contents, genai.NewContentFromText(t.Content, genai.RoleUser))
	}

	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, "")
	}
	if cfg.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*cfg.Temperature))
	}
	if cfg.MaxTokens > 0 {
		config.MaxOutputTokens = int32(cfg.MaxTokens)
	}

	resp, err := m.client.Models.GenerateContent(ctx, m.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini completion: %w", err)
	}
	return resp.Text(), nil
}
