package memory

import (
	"context"

	"github.com/iammorganparry/rolechat-memory/internal/embedding"
	"github.com/iammorganparry/rolechat-memory/internal/models"
	"github.com/iammorganparry/rolechat-memory/internal/store"
)

// DedupResult captures the outcome of a duplicate check.
type DedupResult struct {
	// Existing is set when a memory with identical content already exists
	// for the same (user, character).
	Existing *models.Memory
	// Hash is the content hash of the candidate, reused by the insert.
	Hash string
}

// Deduplicator detects repeated extractions of the same memory.
type Deduplicator struct {
	memoryStore *store.MemoryStore
}

func NewDeduplicator(memoryStore *store.MemoryStore) *Deduplicator {
	return &Deduplicator{memoryStore: memoryStore}
}

// CheckDuplicate looks for an exact content hash match within the scope.
func (d *Deduplicator) CheckDuplicate(ctx context.Context, userID, characterName, content string) (*DedupResult, error) {
	result := &DedupResult{Hash: embedding.ContentHash(content)}

	existing, err := d.memoryStore.FindByContentHash(ctx, userID, characterName, result.Hash)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		result.Existing = existing[0]
	}
	return result, nil
}
