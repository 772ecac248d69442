package models

// Memory is a durable fact about a user, scoped to one (user, character) pair.
type Memory struct {
	ID                  string     `json:"id"`
	UserID              string     `json:"user_id"`
	CharacterName       string     `json:"character_name"`
	MemoryType          MemoryType `json:"memory_type"`
	Content             string     `json:"content"`
	ContentHash         string     `json:"-"`
	Importance          float64    `json:"importance"`
	AccessCount         int        `json:"access_count"`
	LastAccessed        *int64     `json:"last_accessed,omitempty"`
	SourceSessionID     string     `json:"source_session_id,omitempty"`
	CreatedAt           int64      `json:"created_at"`
	UpdatedAt           int64      `json:"updated_at"`
	EmbeddingID         string     `json:"embedding_id,omitempty"`
	EmbeddingCollection string     `json:"-"`
}

// ScoredMemory pairs a memory with its similarity to a query.
type ScoredMemory struct {
	Memory *Memory `json:"memory"`
	Score  float64 `json:"score"`
}

// Entity is a person, place or thing the user has talked about.
// An empty CharacterName means the entity is global to the user.
type Entity struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	CharacterName  string     `json:"character_name,omitempty"`
	EntityType     EntityType `json:"entity_type"`
	Name           string     `json:"name"`
	Relationship   string     `json:"relationship,omitempty"`
	Details        string     `json:"details,omitempty"`
	FirstMentioned int64      `json:"first_mentioned"`
	LastMentioned  int64      `json:"last_mentioned"`
	MentionCount   int        `json:"mention_count"`
}

// EmbeddingCacheEntry stores a cached embedding keyed by content hash.
type EmbeddingCacheEntry struct {
	ContentHash string `json:"contentHash"`
	Embedding   []byte `json:"embedding"`
	Dimension   int    `json:"dimension"`
	Model       string `json:"model"`
	UpdatedAt   int64  `json:"updatedAt"`
}

// VectorTombstone records a vector whose delete failed and must be retried.
type VectorTombstone struct {
	EmbeddingID string
	Collection  string
	CreatedAt   int64
}
