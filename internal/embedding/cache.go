package embedding

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/ristretto"

	"github.com/iammorganparry/rolechat-memory/internal/models"
	"github.com/iammorganparry/rolechat-memory/internal/store"
)

// CachedEmbedder wraps an Embedder with two cache levels: an in-process
// ristretto cache and the SQLite embedding_cache table. Keys include the
// model name so switching models never serves stale vectors.
type CachedEmbedder struct {
	inner  Embedder
	hot    *ristretto.Cache
	cache  *store.EmbeddingCacheStore
	logger *slog.Logger
}

// NewCachedEmbedder builds the cache. maxCostBytes bounds the in-process level;
// zero disables it.
func NewCachedEmbedder(inner Embedder, cache *store.EmbeddingCacheStore, maxCostBytes int64, logger *slog.Logger) (*CachedEmbedder, error) {
	e := &CachedEmbedder{inner: inner, cache: cache, logger: logger}
	if maxCostBytes > 0 {
		hot, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: 1e5,
			MaxCost:     maxCostBytes,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("create embedding hot cache: %w", err)
		}
		e.hot = hot
	}
	return e, nil
}

func (e *CachedEmbedder) Model() string { return e.inner.Model() }

// Embed returns the embedding for text, using cache when available.
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := ContentHash(e.inner.Model() + "\x00" + text)

	if e.hot != nil {
		if v, ok := e.hot.Get(key); ok {
			if vec, ok := v.([]float32); ok {
				return vec, nil
			}
		}
	}

	if e.cache != nil {
		entry, err := e.cache.Get(ctx, key, e.inner.Model())
		if err != nil {
			e.logger.Warn("embedding cache lookup failed", "error", err)
		} else if entry != nil {
			vec := BytesToFloat32(entry.Embedding)
			e.remember(key, vec)
			return vec, nil
		}
	}

	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.remember(key, vec)

	if e.cache != nil {
		if err := e.cache.Put(ctx, &models.EmbeddingCacheEntry{
			ContentHash: key,
			Embedding:   Float32ToBytes(vec),
			Dimension:   len(vec),
			Model:       e.inner.Model(),
		}); err != nil {
			e.logger.Warn("embedding cache write failed", "error", err)
		}
	}

	return vec, nil
}

func (e *CachedEmbedder) remember(key string, vec []float32) {
	if e.hot == nil {
		return
	}
	e.hot.Set(key, vec, int64(len(vec)*4))
}

// PruneStale removes persisted vectors written by any model other than the
// current one.
func (e *CachedEmbedder) PruneStale(ctx context.Context) (int, error) {
	if e.cache == nil {
		return 0, nil
	}
	return e.cache.PruneOtherModels(ctx, e.inner.Model())
}

// Close releases the in-process cache.
func (e *CachedEmbedder) Close() {
	if e.hot != nil {
		e.hot.Close()
	}
}
