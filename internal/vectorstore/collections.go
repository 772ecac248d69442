package vectorstore

import (
	"context"
	"fmt"
	"sync"
)

// DefaultCollectionBase is the collection prefix when none is configured.
const DefaultCollectionBase = "character_memories"

// CollectionManager maps embedding dimensions to collections and ensures
// they are created on first use.
type CollectionManager struct {
	index Index
	base  string
	known map[string]bool
	mu    sync.RWMutex
}

func NewCollectionManager(index Index, base string) *CollectionManager {
	if base == "" {
		base = DefaultCollectionBase
	}
	return &CollectionManager{
		index: index,
		base:  base,
		known: make(map[string]bool),
	}
}

// CollectionName returns the collection name for vectors of the given size.
func CollectionName(base string, dim int) string {
	return fmt.Sprintf("%s_d%d", base, dim)
}

// Name returns the collection this manager uses for dim without creating it.
func (m *CollectionManager) Name(dim int) string {
	return CollectionName(m.base, dim)
}

// EnsureForDimension creates the collection for dim if it doesn't already
// exist. Results are cached in-memory.
func (m *CollectionManager) EnsureForDimension(ctx context.Context, dim int) (string, error) {
	if dim < 1 {
		return "", fmt.Errorf("invalid vector dimension %d", dim)
	}
	name := m.Name(dim)

	m.mu.RLock()
	if m.known[name] {
		m.mu.RUnlock()
		return name, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if m.known[name] {
		return name, nil
	}

	if err := m.index.EnsureCollection(ctx, name, dim); err != nil {
		return "", fmt.Errorf("ensure collection %s: %w", name, err)
	}

	m.known[name] = true
	return name, nil
}
