package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/iammorganparry/rolechat-memory/internal/models"
)

const entityColumns = `id, user_id, character_key, entity_type, name, relationship, details,
	first_mentioned, last_mentioned, mention_count`

// EntityStore persists entities. Global entities are stored with an empty
// character_key, which keeps (user_id, character_key, name) enforceable as a
// unique index.
type EntityStore struct {
	db *DB
}

func NewEntityStore(db *DB) *EntityStore {
	return &EntityStore{db: db}
}

// Upsert inserts the entity or, when (user, character, name) already exists,
// increments mention_count and refreshes last_mentioned. first_mentioned is
// never overwritten. Empty relationship/details keep the stored values.
func (s *EntityStore) Upsert(ctx context.Context, e *models.Entity, now int64) (*models.Entity, error) {
	id := e.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entities (
			id, user_id, character_key, entity_type, name, relationship, details,
			first_mentioned, last_mentioned, mention_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(user_id, character_key, name) DO UPDATE SET
			mention_count = mention_count + 1,
			last_mentioned = excluded.last_mentioned,
			entity_type = excluded.entity_type,
			relationship = COALESCE(excluded.relationship, entities.relationship),
			details = COALESCE(excluded.details, entities.details)
	`,
		id, e.UserID, e.CharacterName, string(e.EntityType), e.Name,
		nullIfEmpty(e.Relationship), nullIfEmpty(e.Details), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert entity: %w", err)
	}

	out, err := scanEntity(s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM entities WHERE user_id = ? AND character_key = ? AND name = ?`, entityColumns),
		e.UserID, e.CharacterName, e.Name))
	if err != nil {
		return nil, fmt.Errorf("reload entity: %w", err)
	}
	return out, nil
}

// ListForUser returns entities scoped to the character plus global ones,
// most mentioned first.
func (s *EntityStore) ListForUser(ctx context.Context, userID, characterName string, limit int) ([]*models.Entity, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM entities
		WHERE user_id = ? AND character_key IN (?, '')
		ORDER BY mention_count DESC, last_mentioned DESC
		LIMIT ?`, entityColumns),
		userID, characterName, limit)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	var result []*models.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// CountForUser counts entities visible to (user, character), including global ones.
func (s *EntityStore) CountForUser(ctx context.Context, userID, characterName string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entities WHERE user_id = ? AND character_key IN (?, '')`,
		userID, characterName).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count entities: %w", err)
	}
	return n, nil
}

func scanEntity(row rowScanner) (*models.Entity, error) {
	var e models.Entity
	var relationship, details sql.NullString
	err := row.Scan(
		&e.ID, &e.UserID, &e.CharacterName, &e.EntityType, &e.Name, &relationship, &details,
		&e.FirstMentioned, &e.LastMentioned, &e.MentionCount,
	)
	if err != nil {
		return nil, err
	}
	e.Relationship = relationship.String
	e.Details = details.String
	return &e, nil
}
