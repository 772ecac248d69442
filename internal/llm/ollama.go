package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OllamaModel completes with a local Ollama server via /api/chat.
type OllamaModel struct {
	baseURL  string
	model    string
	defaults Config
	client   *http.Client
}

func NewOllamaModel(baseURL, model string, defaults Config) *OllamaModel {
	return &OllamaModel{
		baseURL:  strings.TrimRight(baseURL, "/"),
		model:    model,
		defaults: defaults,
		client: &http.Client{
			Timeout: 120 * time.Second, // LLM generation can be slow
		},
	}
}

func (m *OllamaModel) Name() string { return "ollama:" + m.model }

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaChatMessage `json:"message"`
	Done    bool              `json:"done"`
}

// HealthCheck verifies the Ollama server is reachable.
func (m *OllamaModel) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama health check: status %d", resp.StatusCode)
	}
	return nil
}

func (m *OllamaModel) Complete(ctx context.Context, messages []Message, cfg Config) (string, error) {
	cfg = m.defaults.merge(cfg)

	reqBody := ollamaChatRequest{
		Model:    m.model,
		Messages: make([]ollamaChatMessage, len(messages)),
		Stream:   false,
	}
	for i, msg := range messages {
		reqBody.Messages[i] = ollamaChatMessage{Role: string(msg.Role), Content: msg.Content}
	}
	options := map[string]any{}
	if cfg.Temperature != nil {
		options["temperature"] = *cfg.Temperature
	}
	if cfg.MaxTokens > 0 {
		options["num_predict"] = cfg.MaxTokens
	}
	if len(options) > 0 {
		reqBody.Options = options
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama returned %d: %s", resp.StatusCode, string(respBody))
	}

	var out ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode ollama response: %w", err)
	}
	if out.Message.Content == "" {
		return "", fmt.Errorf("empty response from ollama")
	}
	return strings.TrimSpace(out.Message.Content), nil
}
