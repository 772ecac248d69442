package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iammorganparry/rolechat-memory/internal/models"
)

// EmbeddingCacheStore persists embeddings so restarts and repeated memories
// skip the embedding call. Rows remember the model that produced them.
type EmbeddingCacheStore struct {
	db *DB
}

func NewEmbeddingCacheStore(db *DB) *EmbeddingCacheStore {
	return &EmbeddingCacheStore{db: db}
}

// Get returns the entry for key, or nil when absent or written by a
// different model.
func (s *EmbeddingCacheStore) Get(ctx context.Context, key, model string) (*models.EmbeddingCacheEntry, error) {
	var e models.EmbeddingCacheEntry
	err := s.db.QueryRowContext(ctx,
		`SELECT content_hash, embedding, dimension, model, updated_at
		 FROM embedding_cache WHERE content_hash = ? AND model = ?`,
		key, model).Scan(&e.ContentHash, &e.Embedding, &e.Dimension, &e.Model, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get embedding cache: %w", err)
	}
	return &e, nil
}

// Put stores entry, replacing any previous vector under the same key.
func (s *EmbeddingCacheStore) Put(ctx context.Context, entry *models.EmbeddingCacheEntry) error {
	if entry.UpdatedAt == 0 {
		entry.UpdatedAt = time.Now().Unix()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO embedding_cache (content_hash, embedding, dimension, model, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		entry.ContentHash, entry.Embedding, entry.Dimension, entry.Model, entry.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put embedding cache: %w", err)
	}
	return nil
}

// PruneOtherModels drops every entry not produced by model. Vectors from a
// retired model are never read again once the model changes.
func (s *EmbeddingCacheStore) PruneOtherModels(ctx context.Context, model string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM embedding_cache WHERE model != ?`, model)
	if err != nil {
		return 0, fmt.Errorf("prune embedding cache: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune embedding cache: %w", err)
	}
	return int(n), nil
}

// CountByModel reports how many cached vectors each model owns.
func (s *EmbeddingCacheStore) CountByModel(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT model, COUNT(*) FROM embedding_cache GROUP BY model`)
	if err != nil {
		return nil, fmt.Errorf("count embedding cache: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var model string
		var n int
		if err := rows.Scan(&model, &n); err != nil {
			return nil, fmt.Errorf("scan embedding cache count: %w", err)
		}
		out[model] = n
	}
	return out, rows.Err()
}
