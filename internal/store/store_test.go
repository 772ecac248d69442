package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/iammorganparry/rolechat-memory/internal/models"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newMemory(user, character, content string, importance float64) *models.Memory {
	now := time.Now().Unix()
	return &models.Memory{
		ID:            uuid.New().String(),
		UserID:        user,
		CharacterName: character,
		MemoryType:    models.MemoryTypeFact,
		Content:       content,
		ContentHash:   content,
		Importance:    importance,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	for i := 0; i < 2; i++ {
		db, err := Open(path)
		if err != nil {
			t.Fatalf("open #%d: %v", i+1, err)
		}
		ok, err := columnExists(db.DB, "memories", "embedding_collection")
		if err != nil || !ok {
			t.Fatalf("expected embedding_collection column after open #%d (err=%v)", i+1, err)
		}
		db.Close()
	}
}

func TestMemoryStore(t *testing.T) {
	db := setupTestDB(t)
	ms := NewMemoryStore(db)
	ctx := context.Background()

	low := newMemory("u1", "Sherlock", "User likes tea", 0.4)
	high := newMemory("u1", "Sherlock", "User's name is Sarah", 0.95)
	other := newMemory("u1", "Watson", "User plays violin", 0.9)
	for _, m := range []*models.Memory{low, high, other} {
		if err := ms.Insert(ctx, m); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	t.Run("GetByID returns nil for unknown id", func(t *testing.T) {
		m, err := ms.GetByID(ctx, "missing")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if m != nil {
			t.Fatalf("expected nil, got %+v", m)
		}
	})

	t.Run("ListImportant filters and sorts by importance", func(t *testing.T) {
		list, err := ms.ListImportant(ctx, "u1", "Sherlock", 0.8, 3)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(list) != 1 || list[0].ID != high.ID {
			t.Fatalf("expected only the 0.95 memory, got %d results", len(list))
		}
	})

	t.Run("ListByScope is scoped to character", func(t *testing.T) {
		list, err := ms.ListByScope(ctx, "u1", "Sherlock", 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(list) != 2 {
			t.Fatalf("expected 2 memories, got %d", len(list))
		}
		if list[0].ID != high.ID {
			t.Fatalf("expected most important first")
		}
	})

	t.Run("RecordAccess bumps count and timestamp", func(t *testing.T) {
		at := time.Now().Unix()
		if err := ms.RecordAccess(ctx, []string{low.ID}, at); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		m, _ := ms.GetByID(ctx, low.ID)
		if m.AccessCount != 1 {
			t.Fatalf("expected access_count 1, got %d", m.AccessCount)
		}
		if m.LastAccessed == nil || *m.LastAccessed != at {
			t.Fatalf("expected last_accessed %d, got %v", at, m.LastAccessed)
		}
	})

	t.Run("RaiseImportance never lowers", func(t *testing.T) {
		if err := ms.RaiseImportance(ctx, high.ID, 0.5); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		m, _ := ms.GetByID(ctx, high.ID)
		if m.Importance != 0.95 {
			t.Fatalf("expected 0.95, got %f", m.Importance)
		}
		if err := ms.RaiseImportance(ctx, low.ID, 0.7); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		m, _ = ms.GetByID(ctx, low.ID)
		if m.Importance != 0.7 {
			t.Fatalf("expected 0.7, got %f", m.Importance)
		}
	})

	t.Run("importance outside [0,1] is rejected", func(t *testing.T) {
		bad := newMemory("u1", "Sherlock", "bad", 1.5)
		if err := ms.Insert(ctx, bad); err == nil {
			t.Fatal("expected check constraint error")
		}
	})

	t.Run("SetEmbedding and ListUnindexed", func(t *testing.T) {
		unindexed, err := ms.ListUnindexed(ctx, 10)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(unindexed) != 3 {
			t.Fatalf("expected 3 unindexed, got %d", len(unindexed))
		}
		if err := ms.SetEmbedding(ctx, high.ID, "point-1", "character_memories_d32"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		m, _ := ms.GetByID(ctx, high.ID)
		if m.EmbeddingID != "point-1" || m.EmbeddingCollection != "character_memories_d32" {
			t.Fatalf("embedding reference not stored: %+v", m)
		}
		unindexed, _ = ms.ListUnindexed(ctx, 10)
		if len(unindexed) != 2 {
			t.Fatalf("expected 2 unindexed, got %d", len(unindexed))
		}
	})

	t.Run("FindByContentHash is scoped", func(t *testing.T) {
		found, err := ms.FindByContentHash(ctx, "u1", "Watson", high.ContentHash)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(found) != 0 {
			t.Fatalf("expected no match in another character's scope")
		}
		found, _ = ms.FindByContentHash(ctx, "u1", "Sherlock", high.ContentHash)
		if len(found) != 1 {
			t.Fatalf("expected 1 match, got %d", len(found))
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := ms.Delete(ctx, other.ID); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := ms.Delete(ctx, other.ID); err == nil {
			t.Fatal("expected error deleting twice")
		}
		n, _ := ms.CountByScope(ctx, "u1", "Watson")
		if n != 0 {
			t.Fatalf("expected 0 memories for Watson, got %d", n)
		}
	})
}

func TestEntityUpsertIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	es := NewEntityStore(db)
	ctx := context.Background()

	first, err := es.Upsert(ctx, &models.Entity{
		UserID: "u1", CharacterName: "Sherlock", EntityType: models.EntityTypePerson,
		Name: "Mom", Relationship: "mother", Details: "lives in Ohio",
	}, 100)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	second, err := es.Upsert(ctx, &models.Entity{
		UserID: "u1", CharacterName: "Sherlock", EntityType: models.EntityTypePerson,
		Name: "Mom",
	}, 200)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	if first.ID != second.ID {
		t.Fatalf("expected same entity, got %s and %s", first.ID, second.ID)
	}
	if second.MentionCount != 2 {
		t.Fatalf("expected mention_count 2, got %d", second.MentionCount)
	}
	if second.FirstMentioned != 100 || second.LastMentioned != 200 {
		t.Fatalf("expected first=100 last=200, got first=%d last=%d", second.FirstMentioned, second.LastMentioned)
	}
	if second.Relationship != "mother" || second.Details != "lives in Ohio" {
		t.Fatalf("empty fields overwrote stored ones: %+v", second)
	}

	list, err := es.ListForUser(ctx, "u1", "Sherlock", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected one entity, got %d", len(list))
	}
}

func TestEntitiesIncludeGlobal(t *testing.T) {
	db := setupTestDB(t)
	es := NewEntityStore(db)
	ctx := context.Background()

	es.Upsert(ctx, &models.Entity{UserID: "u1", EntityType: models.EntityTypePlace, Name: "Boston"}, 1)
	es.Upsert(ctx, &models.Entity{UserID: "u1", CharacterName: "Sherlock", EntityType: models.EntityTypePerson, Name: "Tom"}, 1)
	es.Upsert(ctx, &models.Entity{UserID: "u1", CharacterName: "Watson", EntityType: models.EntityTypePerson, Name: "Ann"}, 1)

	list, err := es.ListForUser(ctx, "u1", "Sherlock", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	names := map[string]bool{}
	for _, e := range list {
		names[e.Name] = true
	}
	if !names["Boston"] || !names["Tom"] || names["Ann"] {
		t.Fatalf("expected Boston and Tom only, got %v", names)
	}

	n, _ := es.CountForUser(ctx, "u1", "Sherlock")
	if n != 2 {
		t.Fatalf("expected count 2, got %d", n)
	}
}

func TestTombstoneStore(t *testing.T) {
	db := setupTestDB(t)
	ts := NewTombstoneStore(db)
	ctx := context.Background()

	if err := ts.Add(ctx, "p1", "c", 1); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := ts.Add(ctx, "p1", "c", 2); err != nil {
		t.Fatalf("re-add: %v", err)
	}
	list, _ := ts.List(ctx, 10)
	if len(list) != 1 {
		t.Fatalf("expected 1 tombstone, got %d", len(list))
	}
	if err := ts.Remove(ctx, "p1", "c"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	list, _ = ts.List(ctx, 10)
	if len(list) != 0 {
		t.Fatalf("expected none, got %d", len(list))
	}
}

func TestEmbeddingCacheStore(t *testing.T) {
	db := setupTestDB(t)
	cache := NewEmbeddingCacheStore(db)
	ctx := context.Background()

	for _, e := range []*models.EmbeddingCacheEntry{
		{ContentHash: "k1", Embedding: []byte{1, 2, 3, 4}, Dimension: 1, Model: "old"},
		{ContentHash: "k2", Embedding: []byte{1, 2, 3, 4}, Dimension: 1, Model: "new"},
		{ContentHash: "k3", Embedding: []byte{1, 2, 3, 4}, Dimension: 1, Model: "new"},
	} {
		if err := cache.Put(ctx, e); err != nil {
			t.Fatalf("put %s: %v", e.ContentHash, err)
		}
	}

	got, err := cache.Get(ctx, "k1", "old")
	if err != nil || got == nil || got.Dimension != 1 {
		t.Fatalf("get = %+v, %v", got, err)
	}
	if got, _ := cache.Get(ctx, "k1", "new"); got != nil {
		t.Fatal("expected a miss when the model differs")
	}

	counts, err := cache.CountByModel(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts["old"] != 1 || counts["new"] != 2 {
		t.Fatalf("counts = %v", counts)
	}

	n, err := cache.PruneOtherModels(ctx, "new")
	if err != nil || n != 1 {
		t.Fatalf("prune = %d, %v", n, err)
	}
	if got, _ := cache.Get(ctx, "k1", "old"); got != nil {
		t.Fatal("old-model entry survived prune")
	}
	if got, _ := cache.Get(ctx, "k2", "new"); got == nil {
		t.Fatal("current-model entry was pruned")
	}
}

func TestUnindexedRotatesFailedAttempts(t *testing.T) {
	db := setupTestDB(t)
	ms := NewMemoryStore(db)
	ctx := context.Background()

	first := newMemory("u1", "Sherlock", "first", 0.5)
	first.CreatedAt = 100
	second := newMemory("u1", "Sherlock", "second", 0.5)
	second.CreatedAt = 200
	for _, m := range []*models.Memory{first, second} {
		if err := ms.Insert(ctx, m); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	list, _ := ms.ListUnindexed(ctx, 1)
	if len(list) != 1 || list[0].ID != first.ID {
		t.Fatalf("expected the oldest first, got %+v", list)
	}

	if err := ms.MarkIndexAttempt(ctx, first.ID, 1000); err != nil {
		t.Fatalf("mark attempt: %v", err)
	}
	list, _ = ms.ListUnindexed(ctx, 1)
	if len(list) != 1 || list[0].ID != second.ID {
		t.Fatalf("expected the failed row to rotate back, got %+v", list)
	}

	if err := ms.MarkIndexAttempt(ctx, second.ID, 2000); err != nil {
		t.Fatalf("mark attempt: %v", err)
	}
	list, _ = ms.ListUnindexed(ctx, 2)
	if len(list) != 2 || list[0].ID != first.ID {
		t.Fatalf("expected the least recently retried first, got %+v", list)
	}
}

func TestListPage(t *testing.T) {
	db := setupTestDB(t)
	ms := NewMemoryStore(db)
	ctx := context.Background()

	for _, c := range []string{"a", "b", "c", "d", "e"} {
		if err := ms.Insert(ctx, newMemory("u1", "Sherlock", c, 0.5)); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	seen := make(map[string]bool)
	after := ""
	pages := 0
	for {
		page, err := ms.ListPage(ctx, after, 2)
		if err != nil {
			t.Fatalf("list page: %v", err)
		}
		pages++
		for _, m := range page {
			if seen[m.ID] {
				t.Fatalf("memory %s returned twice", m.ID)
			}
			seen[m.ID] = true
		}
		if len(page) < 2 {
			break
		}
		after = page[len(page)-1].ID
	}
	if len(seen) != 5 || pages != 3 {
		t.Fatalf("expected 5 memories over 3 pages, got %d over %d", len(seen), pages)
	}
}
