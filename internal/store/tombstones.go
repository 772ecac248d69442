package store

import (
	"context"
	"fmt"

	"github.com/iammorganparry/rolechat-memory/internal/models"
)

// TombstoneStore queues vector deletes that failed so they can be retried.
type TombstoneStore struct {
	db *DB
}

func NewTombstoneStore(db *DB) *TombstoneStore {
	return &TombstoneStore{db: db}
}

// Add records a vector that still needs deleting. Re-adding is a no-op.
func (s *TombstoneStore) Add(ctx context.Context, embeddingID, collection string, now int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO vector_tombstones (embedding_id, collection, created_at)
		VALUES (?, ?, ?)
	`, embeddingID, collection, now)
	if err != nil {
		return fmt.Errorf("add tombstone: %w", err)
	}
	return nil
}

// List returns the oldest pending tombstones.
func (s *TombstoneStore) List(ctx context.Context, limit int) ([]models.VectorTombstone, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT embedding_id, collection, created_at FROM vector_tombstones
		ORDER BY created_at ASC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list tombstones: %w", err)
	}
	defer rows.Close()

	var result []models.VectorTombstone
	for rows.Next() {
		var t models.VectorTombstone
		if err := rows.Scan(&t.EmbeddingID, &t.Collection, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tombstone: %w", err)
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// Remove clears a tombstone once its vector is gone.
func (s *TombstoneStore) Remove(ctx context.Context, embeddingID, collection string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM vector_tombstones WHERE embedding_id = ? AND collection = ?`,
		embeddingID, collection)
	if err != nil {
		return fmt.Errorf("remove tombstone: %w", err)
	}
	return nil
}
