package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port      int
	DBPath    string
	APIKey    string
	LogLevel  string
	LogFormat string
	// Chat model used for extraction and summaries
	LLMProvider       string
	LLMModel          string
	LLMBaseURL        string
	LLMAPIKey         string
	LLMTemperature    float64
	LLMMaxTokens      int
	LLMMaxConcurrency int
	// Embeddings
	EmbeddingProvider string
	EmbeddingModel    string
	EmbeddingBaseURL  string
	EmbeddingAPIKey   string
	EmbeddingCacheMB  int
	// Vector index
	VectorBackend    string
	QdrantURL        string
	VectorCollection string
	ChromemPath      string
	// Session lifecycle
	SessionTimeout        time.Duration
	SummaryUpdateInterval int
	MaxContextTokens      int
	ExtractionWindow      int
	AsyncPostProcess      bool
	// Maintenance
	SweepSchedule string
	SweepEnabled  bool
}

// Load reads configuration from the environment. A .env file in the working
// directory and the YAML file named by CONFIG_FILE fill in keys the
// environment leaves unset.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	src := source{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		overlay, err := readOverlay(path)
		if err != nil {
			return nil, err
		}
		src.file = overlay
	}

	cfg := &Config{
		Port:                  src.envInt("PORT", 8742),
		DBPath:                src.envStr("MEMORY_DB_PATH", "./data/rolechat.db"),
		APIKey:                src.envStr("API_KEY", ""),
		LogLevel:              src.envStr("LOG_LEVEL", "info"),
		LogFormat:             src.envStr("LOG_FORMAT", "json"),
		LLMProvider:           strings.ToLower(src.envStr("LLM_PROVIDER", "openai")),
		LLMModel:              src.envStr("LLM_MODEL", ""),
		LLMBaseURL:            src.envStr("LLM_BASE_URL", ""),
		LLMAPIKey:             src.envStr("LLM_API_KEY", ""),
		LLMTemperature:        src.envFloat("LLM_TEMPERATURE", 0.7),
		LLMMaxTokens:          src.envInt("LLM_MAX_TOKENS", 2048),
		LLMMaxConcurrency:     src.envInt("LLM_MAX_CONCURRENCY", 4),
		EmbeddingProvider:     strings.ToLower(src.envStr("EMBEDDING_PROVIDER", "ollama")),
		EmbeddingModel:        src.envStr("EMBEDDING_MODEL", "nomic-embed-text"),
		EmbeddingBaseURL:      src.envStr("EMBEDDING_BASE_URL", ""),
		EmbeddingAPIKey:       src.envStr("EMBEDDING_API_KEY", ""),
		EmbeddingCacheMB:      src.envInt("EMBEDDING_CACHE_MB", 64),
		VectorBackend:         strings.ToLower(src.envStr("VECTOR_BACKEND", "qdrant")),
		QdrantURL:             src.envStr("QDRANT_URL", "http://localhost:6333"),
		VectorCollection:      src.envStr("VECTOR_COLLECTION", "character_memories"),
		ChromemPath:           src.envStr("CHROMEM_PATH", ""),
		SessionTimeout:        src.envDuration("SESSION_TIMEOUT_HOURS", 2*time.Hour, time.Hour),
		SummaryUpdateInterval: src.envInt("SUMMARY_UPDATE_INTERVAL", 5),
		MaxContextTokens:      src.envInt("MAX_CONTEXT_TOKENS", 8000),
		ExtractionWindow:      src.envInt("EXTRACTION_WINDOW", 4),
		AsyncPostProcess:      src.envBool("ASYNC_POSTPROCESS", false),
		SweepSchedule:         src.envStr("SWEEP_SCHEDULE", "0 */15 * * * *"),
		SweepEnabled:          src.envBool("SWEEP_ENABLED", true),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.DBPath == "" {
		return fmt.Errorf("MEMORY_DB_PATH must not be empty")
	}
	switch c.LLMProvider {
	case "openai", "vllm", "ollama", "anthropic", "gemini":
	default:
		return fmt.Errorf("LLM_PROVIDER must be one of openai, vllm, ollama, anthropic, gemini, got %q", c.LLMProvider)
	}
	switch c.EmbeddingProvider {
	case "ollama", "openai", "gemini":
	default:
		return fmt.Errorf("EMBEDDING_PROVIDER must be one of ollama, openai, gemini, got %q", c.EmbeddingProvider)
	}
	switch c.VectorBackend {
	case "qdrant":
		if c.QdrantURL == "" {
			return fmt.Errorf("QDRANT_URL must not be empty when VECTOR_BACKEND=qdrant")
		}
	case "chromem":
	default:
		return fmt.Errorf("VECTOR_BACKEND must be qdrant or chromem, got %q", c.VectorBackend)
	}
	if c.LLMTemperature < 0 || c.LLMTemperature > 2 {
		return fmt.Errorf("LLM_TEMPERATURE must be between 0 and 2, got %f", c.LLMTemperature)
	}
	if c.LLMMaxConcurrency < 1 {
		return fmt.Errorf("LLM_MAX_CONCURRENCY must be positive, got %d", c.LLMMaxConcurrency)
	}
	if c.SessionTimeout <= 0 {
		return fmt.Errorf("SESSION_TIMEOUT_HOURS must be positive")
	}
	if c.SummaryUpdateInterval < 1 {
		return fmt.Errorf("SUMMARY_UPDATE_INTERVAL must be positive, got %d", c.SummaryUpdateInterval)
	}
	if c.MaxContextTokens < 1 {
		return fmt.Errorf("MAX_CONTEXT_TOKENS must be positive, got %d", c.MaxContextTokens)
	}
	if c.ExtractionWindow < 1 {
		return fmt.Errorf("EXTRACTION_WINDOW must be positive, got %d", c.ExtractionWindow)
	}
	if c.EmbeddingCacheMB < 0 {
		return fmt.Errorf("EMBEDDING_CACHE_MB must not be negative, got %d", c.EmbeddingCacheMB)
	}
	return nil
}

// readOverlay parses a flat YAML mapping of env keys to values.
func readOverlay(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var values map[string]any
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		if v == nil {
			continue
		}
		out[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return out, nil
}

// source resolves a key from the environment first, then the overlay file.
type source struct {
	file map[string]string
}

func (s source) lookup(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return s.file[key]
}

func (s source) envStr(key, fallback string) string {
	if v := s.lookup(key); v != "" {
		return v
	}
	return fallback
}

func (s source) envInt(key string, fallback int) int {
	if v := s.lookup(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func (s source) envFloat(key string, fallback float64) float64 {
	if v := s.lookup(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func (s source) envBool(key string, fallback bool) bool {
	if v := s.lookup(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

// envDuration accepts a Go duration ("90m") or a bare number in unit.
func (s source) envDuration(key string, fallback, unit time.Duration) time.Duration {
	v := s.lookup(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(unit))
	}
	return fallback
}
