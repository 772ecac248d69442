// Package vectorstore indexes memory embeddings in dimension-specific
// collections so that changing the embedding model never mixes vector sizes.
package vectorstore

import "context"

// Payload is the metadata stored alongside each vector.
type Payload struct {
	MemoryID      string  `json:"memory_id"`
	UserID        string  `json:"user_id"`
	CharacterName string  `json:"character_name"`
	MemoryType    string  `json:"memory_type"`
	Importance    float64 `json:"importance"`
	Content       string  `json:"content"`
}

// Point represents one vector to index.
type Point struct {
	ID      string    `json:"id"`
	Vector  []float32 `json:"vector"`
	Payload Payload   `json:"payload"`
}

// Filter scopes a nearest-neighbour query to one (user, character) pair.
type Filter struct {
	UserID        string
	CharacterName string
}

// SearchResult is a single scored hit.
type SearchResult struct {
	ID       string
	Score    float64
	MemoryID string
}

// Index is the vector index contract used by the memory repository.
type Index interface {
	EnsureCollection(ctx context.Context, name string, dim int) error
	Upsert(ctx context.Context, collection string, points []Point) error
	Search(ctx context.Context, collection string, vector []float32, limit int, filter Filter) ([]SearchResult, error)
	DeletePoints(ctx context.Context, collection string, ids []string) error
	HealthCheck(ctx context.Context) error
}
