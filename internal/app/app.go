// Package app constructs the dependency graph shared by the server and CLI.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/iammorganparry/rolechat-memory/internal/assembly"
	"github.com/iammorganparry/rolechat-memory/internal/attention"
	"github.com/iammorganparry/rolechat-memory/internal/config"
	"github.com/iammorganparry/rolechat-memory/internal/embedding"
	"github.com/iammorganparry/rolechat-memory/internal/extraction"
	"github.com/iammorganparry/rolechat-memory/internal/llm"
	"github.com/iammorganparry/rolechat-memory/internal/memory"
	"github.com/iammorganparry/rolechat-memory/internal/sessions"
	"github.com/iammorganparry/rolechat-memory/internal/store"
	"github.com/iammorganparry/rolechat-memory/internal/vectorstore"
)

// App holds every long-lived component.
type App struct {
	DB       *store.DB
	Index    vectorstore.Index
	Model    llm.ChatModel
	Embedder *embedding.CachedEmbedder
	Service  *memory.Service
	Sweeper  *memory.Sweeper
	// LLMHealth is set when the chat provider supports a cheap health check.
	LLMHealth interface {
		HealthCheck(ctx context.Context) error
	}
}

// Build opens storage and constructs the service from cfg.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	a := &App{DB: db}
	if err := a.build(ctx, cfg, logger); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	index, err := newIndex(cfg)
	if err != nil {
		return err
	}
	a.Index = index
	collMgr := vectorstore.NewCollectionManager(index, cfg.VectorCollection)

	model, err := llm.New(ctx, llm.Options{
		Provider:    llm.Provider(cfg.LLMProvider),
		Model:       cfg.LLMModel,
		BaseURL:     cfg.LLMBaseURL,
		APIKey:      cfg.LLMAPIKey,
		Temperature: cfg.LLMTemperature,
		MaxTokens:   cfg.LLMMaxTokens,
	})
	if err != nil {
		return fmt.Errorf("create chat model: %w", err)
	}
	if hc, ok := model.(*llm.OllamaModel); ok {
		a.LLMHealth = hc
	}
	a.Model = llm.WithLimit(model, cfg.LLMMaxConcurrency)

	inner, err := newEmbedder(ctx, cfg)
	if err != nil {
		return err
	}
	embedder, err := embedding.NewCachedEmbedder(inner, store.NewEmbeddingCacheStore(a.DB),
		int64(cfg.EmbeddingCacheMB)<<20, logger)
	if err != nil {
		return err
	}
	a.Embedder = embedder

	budget := assembly.DefaultBudget()
	budget.MaxContextTokens = cfg.MaxContextTokens
	estimator := assembly.CharRatioEstimator{CharsPerToken: 4}
	compressor := assembly.NewCompressor(budget, estimator)

	repo := memory.NewRepository(a.DB, index, collMgr, logger)
	assembler := assembly.NewAssembler(repo, embedder, attention.NewScorer(attention.DefaultWeights()), compressor, logger)
	a.Service = memory.NewService(
		repo,
		extraction.NewExtractor(a.Model, cfg.ExtractionWindow, logger),
		sessions.NewSummarizer(a.Model, logger),
		assembler,
		embedder,
		estimator,
		memory.Options{
			SessionTimeout:   cfg.SessionTimeout,
			UpdateInterval:   cfg.SummaryUpdateInterval,
			AsyncPostProcess: cfg.AsyncPostProcess,
		},
		logger,
	)
	a.Sweeper = memory.NewSweeper(a.Service, logger)
	return nil
}

func newIndex(cfg *config.Config) (vectorstore.Index, error) {
	switch cfg.VectorBackend {
	case "chromem":
		idx, err := vectorstore.NewChromemIndex(cfg.ChromemPath)
		if err != nil {
			return nil, fmt.Errorf("open chromem index: %w", err)
		}
		return idx, nil
	default:
		return vectorstore.NewQdrantClient(cfg.QdrantURL), nil
	}
}

func newEmbedder(ctx context.Context, cfg *config.Config) (embedding.Embedder, error) {
	switch cfg.EmbeddingProvider {
	case "openai":
		return embedding.NewOpenAIEmbedder(cfg.EmbeddingBaseURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModel), nil
	case "gemini":
		e, err := embedding.NewGeminiEmbedder(ctx, cfg.EmbeddingAPIKey, cfg.EmbeddingModel)
		if err != nil {
			return nil, fmt.Errorf("create gemini embedder: %w", err)
		}
		return e, nil
	default:
		baseURL := cfg.EmbeddingBaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return embedding.NewOllamaClient(baseURL, cfg.EmbeddingModel), nil
	}
}

// Close waits for background work and releases storage.
func (a *App) Close() error {
	if a.Service != nil {
		a.Service.Close()
	}
	if a.Embedder != nil {
		a.Embedder.Close()
	}
	return a.DB.Close()
}
