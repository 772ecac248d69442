// Package llm defines the chat-completion contract used for extraction and
// summarization and its provider implementations.
package llm

import (
	"context"
	"fmt"
	"strings"
)

// Role is the author of a prompt message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one prompt turn.
type Message struct {
	Role    Role
	Content string
}

func System(content string) Message    { return Message{Role: RoleSystem, Content: content} }
func User(content string) Message      { return Message{Role: RoleUser, Content: content} }
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// Config tunes a single completion. Zero values fall back to the model defaults.
type Config struct {
	Temperature *float64
	MaxTokens   int
}

// ChatModel completes a conversation into text.
type ChatModel interface {
	Complete(ctx context.Context, messages []Message, cfg Config) (string, error)
	Name() string
}

// Provider selects a ChatModel implementation.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderVLLM      Provider = "vllm"
	ProviderOllama    Provider = "ollama"
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
)

// DefaultModels is the model used per provider when none is configured.
var DefaultModels = map[Provider]string{
	ProviderOpenAI:    "gpt-4o-mini",
	ProviderVLLM:      "meta-llama/Llama-3.1-8B-Instruct",
	ProviderOllama:    "llama3.1:8b",
	ProviderAnthropic: "claude-3-5-haiku-latest",
	ProviderGemini:    "gemini-2.0-flash",
}

func (p Provider) IsValid() bool {
	_, ok := DefaultModels[p]
	return ok
}

// Options configures the model constructed by New.
type Options struct {
	Provider    Provider
	Model       string
	BaseURL     string
	APIKey      string
	Temperature float64
	MaxTokens   int
}

// New builds the ChatModel for the configured provider.
func New(ctx context.Context, opts Options) (ChatModel, error) {
	model := opts.Model
	if model == "" {
		model = DefaultModels[opts.Provider]
	}
	defaults := Config{Temperature: &opts.Temperature, MaxTokens: opts.MaxTokens}

	switch opts.Provider {
	case ProviderOpenAI:
		return NewOpenAIModel(opts.BaseURL, opts.APIKey, model, defaults, false), nil
	case ProviderVLLM:
		if opts.BaseURL == "" {
			return nil, fmt.Errorf("vllm provider requires a base URL")
		}
		return NewOpenAIModel(opts.BaseURL, opts.APIKey, model, defaults, true), nil
	case ProviderOllama:
		baseURL := opts.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return NewOllamaModel(baseURL, model, defaults), nil
	case ProviderAnthropic:
		return NewAnthropicModel(opts.BaseURL, opts.APIKey, model, defaults), nil
	case ProviderGemini:
		return NewGeminiModel(ctx, opts.BaseURL, opts.APIKey, model, defaults)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", opts.Provider)
	}
}

// merge overlays per-call settings on the model defaults.
func (c Config) merge(override Config) Config {
	out := c
	if override.Temperature != nil {
		out.Temperature = override.Temperature
	}
	if override.MaxTokens > 0 {
		out.MaxTokens = override.MaxTokens
	}
	return out
}

// splitSystem separates system messages, which several providers take as a
// dedicated field, from the conversational turns.
func splitSystem(messages []Message) (string, []Message) {
	var system []string
	var rest []Message
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}
