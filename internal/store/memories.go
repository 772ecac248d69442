package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/iammorganparry/rolechat-memory/internal/models"
)

// memoryColumns is the canonical column list for all SELECT queries.
// Order must match scanMemory.
const memoryColumns = `id, user_id, character_name, memory_type, content, content_hash,
	importance, access_count, last_accessed, source_session_id,
	embedding_id, embedding_collection, created_at, updated_at`

// MemoryStore handles Memory CRUD operations on SQLite.
type MemoryStore struct {
	db *DB
}

func NewMemoryStore(db *DB) *MemoryStore {
	return &MemoryStore{db: db}
}

// Insert stores a new memory. The caller must set ID, ContentHash and timestamps.
func (s *MemoryStore) Insert(ctx context.Context, m *models.Memory) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (
			id, user_id, character_name, memory_type, content, content_hash,
			importance, access_count, last_accessed, source_session_id,
			embedding_id, embedding_collection, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		m.ID, m.UserID, m.CharacterName, string(m.MemoryType), m.Content, m.ContentHash,
		m.Importance, m.AccessCount, m.LastAccessed, nullIfEmpty(m.SourceSessionID),
		nullIfEmpty(m.EmbeddingID), nullIfEmpty(m.EmbeddingCollection), m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

// GetByID fetches a single memory by ID.
func (s *MemoryStore) GetByID(ctx context.Context, id string) (*models.Memory, error) {
	m, err := scanMemory(s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM memories WHERE id = ?`, memoryColumns), id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return m, nil
}

// GetByIDs fetches memories by ID, preserving no particular order.
func (s *MemoryStore) GetByIDs(ctx context.Context, ids []string) ([]*models.Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM memories WHERE id IN (%s)`, memoryColumns, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("get memories by ids: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// SetEmbedding records which vector (and collection) indexes the memory.
func (s *MemoryStore) SetEmbedding(ctx context.Context, id, embeddingID, collection string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET embedding_id = ?, embedding_collection = ?, updated_at = ? WHERE id = ?`,
		embeddingID, collection, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("set embedding: %w", err)
	}
	return nil
}

// RecordAccess bumps access_count and last_accessed for every id.
func (s *MemoryStore) RecordAccess(ctx context.Context, ids []string, at int64) error {
	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE memories SET access_count = access_count + 1, last_accessed = ? WHERE id = ?`,
			at, id); err != nil {
			return fmt.Errorf("record access %s: %w", id, err)
		}
	}
	return nil
}

// RaiseImportance sets importance to max(current, importance).
func (s *MemoryStore) RaiseImportance(ctx context.Context, id string, importance float64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET importance = MAX(importance, ?), updated_at = ? WHERE id = ?`,
		importance, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("raise importance: %w", err)
	}
	return nil
}

// ListImportant returns memories at or above minImportance, most important first.
func (s *MemoryStore) ListImportant(ctx context.Context, userID, characterName string, minImportance float64, limit int) ([]*models.Memory, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM memories
		WHERE user_id = ? AND character_name = ? AND importance >= ?
		ORDER BY importance DESC, created_at DESC
		LIMIT ?`, memoryColumns),
		userID, characterName, minImportance, limit)
	if err != nil {
		return nil, fmt.Errorf("list important memories: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// ListByScope returns every memory for (user, character), most important first.
// A non-positive limit returns all rows.
func (s *MemoryStore) ListByScope(ctx context.Context, userID, characterName string, limit int) ([]*models.Memory, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM memories
		WHERE user_id = ? AND character_name = ?
		ORDER BY importance DESC, created_at DESC
		LIMIT ?`, memoryColumns),
		userID, characterName, limit)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// ListUnindexed returns memories whose vector write never landed. Rows never
// retried come first, then the least recently retried.
func (s *MemoryStore) ListUnindexed(ctx context.Context, limit int) ([]*models.Memory, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM memories
		WHERE embedding_id IS NULL OR embedding_id = ''
		ORDER BY COALESCE(index_attempted_at, 0) ASC, created_at ASC
		LIMIT ?`, memoryColumns), limit)
	if err != nil {
		return nil, fmt.Errorf("list unindexed memories: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// MarkIndexAttempt records a failed reindex of id at the given time.
func (s *MemoryStore) MarkIndexAttempt(ctx context.Context, id string, at int64) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE memories SET index_attempted_at = ? WHERE id = ?`, at, id); err != nil {
		return fmt.Errorf("mark index attempt: %w", err)
	}
	return nil
}

// ListPage returns up to limit memories with an id greater than afterID, in
// id order. Pass the last id of a page to get the next one.
func (s *MemoryStore) ListPage(ctx context.Context, afterID string, limit int) ([]*models.Memory, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM memories
		WHERE id > ?
		ORDER BY id ASC
		LIMIT ?`, memoryColumns), afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list memory page: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// FindByContentHash finds memories with the given content hash in a scope.
func (s *MemoryStore) FindByContentHash(ctx context.Context, userID, characterName, hash string) ([]*models.Memory, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM memories
		WHERE user_id = ? AND character_name = ? AND content_hash = ?`, memoryColumns),
		userID, characterName, hash)
	if err != nil {
		return nil, fmt.Errorf("find by content hash: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// Delete removes a memory by ID.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("memory not found: %s", id)
	}
	return nil
}

// CountByScope returns the number of memories for (user, character).
func (s *MemoryStore) CountByScope(ctx context.Context, userID, characterName string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories WHERE user_id = ? AND character_name = ?`,
		userID, characterName).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count memories: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*models.Memory, error) {
	var m models.Memory
	var lastAccessed sql.NullInt64
	var sourceSession, embeddingID, collection sql.NullString

	err := row.Scan(
		&m.ID, &m.UserID, &m.CharacterName, &m.MemoryType, &m.Content, &m.ContentHash,
		&m.Importance, &m.AccessCount, &lastAccessed, &sourceSession,
		&embeddingID, &collection, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lastAccessed.Valid {
		m.LastAccessed = &lastAccessed.Int64
	}
	m.SourceSessionID = sourceSession.String
	m.EmbeddingID = embeddingID.String
	m.EmbeddingCollection = collection.String
	return &m, nil
}

func scanMemories(rows *sql.Rows) ([]*models.Memory, error) {
	var result []*models.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// nullIfEmpty stores empty strings as NULL for optional TEXT columns.
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
