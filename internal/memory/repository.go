package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iammorganparry/rolechat-memory/internal/extraction"
	"github.com/iammorganparry/rolechat-memory/internal/models"
	"github.com/iammorganparry/rolechat-memory/internal/sessions"
	"github.com/iammorganparry/rolechat-memory/internal/store"
	"github.com/iammorganparry/rolechat-memory/internal/vectorstore"
)

// ErrEmptyContent is returned when a memory without content is created.
var ErrEmptyContent = errors.New("memory content is empty")

// Repository persists memories, entities and sessions. Memory documents
// live in SQLite and their vectors in the vector index; the two writes are
// independent and a failed vector write leaves the document unindexed for
// the sweep to repair.
type Repository struct {
	memories   *store.MemoryStore
	entities   *store.EntityStore
	sessions   *sessions.SessionStore
	tombstones *store.TombstoneStore
	index      vectorstore.Index
	collMgr    *vectorstore.CollectionManager
	dedup      *Deduplicator
	logger     *slog.Logger
	now        func() time.Time
}

func NewRepository(
	db *store.DB,
	index vectorstore.Index,
	collMgr *vectorstore.CollectionManager,
	logger *slog.Logger,
) *Repository {
	memories := store.NewMemoryStore(db)
	return &Repository{
		memories:   memories,
		entities:   store.NewEntityStore(db),
		sessions:   sessions.NewSessionStore(db),
		tombstones: store.NewTombstoneStore(db),
		index:      index,
		collMgr:    collMgr,
		dedup:      NewDeduplicator(memories),
		logger:     logger,
		now:        time.Now,
	}
}

// CreateMemory stores m and indexes its embedding. An identical memory
// already stored for the scope is reinforced instead: its importance is
// raised to the larger of the two and the existing record is returned.
func (r *Repository) CreateMemory(ctx context.Context, m *models.Memory, vec []float32) (*models.Memory, error) {
	m.Content = strings.TrimSpace(m.Content)
	if m.Content == "" {
		return nil, ErrEmptyContent
	}
	m.Importance = extraction.ClampImportance(m.Importance)
	if !m.MemoryType.IsValid() {
		m.MemoryType = models.MemoryTypeFact
	}

	dup, err := r.dedup.CheckDuplicate(ctx, m.UserID, m.CharacterName, m.Content)
	if err != nil {
		return nil, fmt.Errorf("dedup check: %w", err)
	}
	if dup.Existing != nil {
		existing := dup.Existing
		if m.Importance > existing.Importance {
			if err := r.memories.RaiseImportance(ctx, existing.ID, m.Importance); err != nil {
				return nil, fmt.Errorf("reinforce memory: %w", err)
			}
			existing.Importance = m.Importance
		}
		return existing, nil
	}

	now := r.now().Unix()
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	m.ContentHash = dup.Hash
	m.CreatedAt = now
	m.UpdatedAt = now
	m.EmbeddingID = ""
	m.EmbeddingCollection = ""

	if err := r.memories.Insert(ctx, m); err != nil {
		return nil, err
	}

	if len(vec) > 0 {
		if err := r.indexMemory(ctx, m, vec); err != nil {
			r.logger.Warn("vector write failed, memory stored unindexed",
				"memory_id", m.ID, "user_id", m.UserID, "character", m.CharacterName, "error", err)
		}
	}
	return m, nil
}

// indexMemory upserts the vector for m and records the reference back on
// the document.
func (r *Repository) indexMemory(ctx context.Context, m *models.Memory, vec []float32) error {
	coll, err := r.collMgr.EnsureForDimension(ctx, len(vec))
	if err != nil {
		return err
	}
	pointID := uuid.New().String()
	point := vectorstore.Point{
		ID:     pointID,
		Vector: vec,
		Payload: vectorstore.Payload{
			MemoryID:      m.ID,
			UserID:        m.UserID,
			CharacterName: m.CharacterName,
			MemoryType:    string(m.MemoryType),
			Importance:    m.Importance,
			Content:       m.Content,
		},
	}
	if err := r.index.Upsert(ctx, coll, []vectorstore.Point{point}); err != nil {
		return fmt.Errorf("upsert vector: %w", err)
	}
	if err := r.memories.SetEmbedding(ctx, m.ID, pointID, coll); err != nil {
		return err
	}
	m.EmbeddingID = pointID
	m.EmbeddingCollection = coll
	return nil
}

// SearchMemories runs a nearest-neighbour query in the collection matching
// the query dimension, post-filters by importance and type, and records an
// access on every returned memory. The returned memories keep the access
// metadata they had before this retrieval so they can be scored on it.
func (r *Repository) SearchMemories(ctx context.Context, userID, characterName string, query []float32, limit int, minImportance float64, types []models.MemoryType) ([]models.ScoredMemory, error) {
	if len(query) == 0 || limit <= 0 {
		return nil, nil
	}
	coll, err := r.collMgr.EnsureForDimension(ctx, len(query))
	if err != nil {
		return nil, err
	}

	hits, err := r.index.Search(ctx, coll, query, limit*2, vectorstore.Filter{
		UserID:        userID,
		CharacterName: characterName,
	})
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		if h.MemoryID != "" {
			ids = append(ids, h.MemoryID)
		}
	}
	docs, err := r.memories.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*models.Memory, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}

	allowed := make(map[models.MemoryType]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}

	var results []models.ScoredMemory
	seen := make(map[string]bool, len(hits))
	for _, h := range hits {
		m, ok := byID[h.MemoryID]
		if !ok || seen[m.ID] {
			// orphaned vector
			continue
		}
		if m.UserID != userID || m.CharacterName != characterName {
			continue
		}
		if m.Importance < minImportance {
			continue
		}
		if len(allowed) > 0 && !allowed[m.MemoryType] {
			continue
		}
		seen[m.ID] = true
		results = append(results, models.ScoredMemory{Memory: m, Score: h.Score})
		if len(results) == limit {
			break
		}
	}
	if len(results) == 0 {
		return nil, nil
	}

	now := r.now().Unix()
	accessed := make([]string, len(results))
	for i, sm := range results {
		accessed[i] = sm.Memory.ID
	}
	if err := r.memories.RecordAccess(ctx, accessed, now); err != nil {
		return nil, err
	}
	return results, nil
}

// GetImportantMemories returns the always-include set, importance descending.
func (r *Repository) GetImportantMemories(ctx context.Context, userID, characterName string, minImportance float64, limit int) ([]*models.Memory, error) {
	return r.memories.ListImportant(ctx, userID, characterName, minImportance, limit)
}

// ListMemories returns every memory for the scope, importance descending.
func (r *Repository) ListMemories(ctx context.Context, userID, characterName string, limit int) ([]*models.Memory, error) {
	return r.memories.ListByScope(ctx, userID, characterName, limit)
}

// UpsertEntity matches on (user, character, name) and increments the mention count.
func (r *Repository) UpsertEntity(ctx context.Context, e *models.Entity) (*models.Entity, error) {
	e.Name = strings.TrimSpace(e.Name)
	if e.Name == "" {
		return nil, fmt.Errorf("entity name is empty")
	}
	if !e.EntityType.IsValid() {
		e.EntityType = models.EntityTypeThing
	}
	return r.entities.Upsert(ctx, e, r.now().Unix())
}

// ListEntities returns entities for the character plus the user's global ones.
func (r *Repository) ListEntities(ctx context.Context, userID, characterName string, limit int) ([]*models.Entity, error) {
	return r.entities.ListForUser(ctx, userID, characterName, limit)
}

// GetOrCreateSession returns the active session, creating one when none
// exists. More than one active session is logged and the newest wins.
func (r *Repository) GetOrCreateSession(ctx context.Context, userID, characterName string) (*models.Session, bool, error) {
	sess, n, err := r.sessions.GetActive(ctx, userID, characterName)
	if err != nil {
		return nil, false, err
	}
	if n > 1 {
		r.logger.Warn("multiple active sessions, using most recent",
			"user_id", userID, "character", characterName, "session_id", sess.ID, "active", n)
	}
	if sess != nil {
		return sess, false, nil
	}
	sess, err = r.sessions.Create(ctx, userID, characterName, r.now().Unix())
	if err != nil {
		return nil, false, err
	}
	return sess, true, nil
}

// EndSession closes the session with its final summary.
func (r *Repository) EndSession(ctx context.Context, sessionID, finalSummary string) error {
	return r.sessions.End(ctx, sessionID, finalSummary, r.now().Unix())
}

// GetLastSessionSummary returns the newest ended session's summary, or "".
func (r *Repository) GetLastSessionSummary(ctx context.Context, userID, characterName string) (string, error) {
	return r.sessions.LastSummary(ctx, userID, characterName)
}

// DeleteMemory removes the document and its vector. A failed vector delete
// is queued as a tombstone for the sweep.
func (r *Repository) DeleteMemory(ctx context.Context, id string) (bool, error) {
	m, err := r.memories.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if m == nil {
		return false, nil
	}
	if err := r.memories.Delete(ctx, id); err != nil {
		return false, err
	}
	if m.EmbeddingID != "" && m.EmbeddingCollection != "" {
		if err := r.index.DeletePoints(ctx, m.EmbeddingCollection, []string{m.EmbeddingID}); err != nil {
			r.logger.Warn("vector delete failed, tombstoned",
				"memory_id", id, "embedding_id", m.EmbeddingID, "error", err)
			if terr := r.tombstones.Add(ctx, m.EmbeddingID, m.EmbeddingCollection, r.now().Unix()); terr != nil {
				return true, fmt.Errorf("tombstone vector: %w", terr)
			}
		}
	}
	return true, nil
}
