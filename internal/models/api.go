package models

// SessionRequest is the payload for POST /sessions.
type SessionRequest struct {
	UserID        string `json:"user_id"`
	CharacterName string `json:"character_name"`
}

// SessionResponse wraps a session with whether it was just created.
type SessionResponse struct {
	Session *Session `json:"session"`
	IsNew   bool     `json:"is_new"`
}

// ContextRequest is the payload for POST /context.
type ContextRequest struct {
	UserID           string `json:"user_id"`
	CharacterName    string `json:"character_name"`
	CharacterProfile string `json:"character_profile"`
	CurrentMessage   string `json:"current_message"`
}

// ContextResponse is returned from POST /context.
type ContextResponse struct {
	SessionID  string            `json:"session_id"`
	Context    *AssembledContext `json:"context"`
	FullPrompt string            `json:"full_prompt"`
}

// ExchangeRequest is the payload for POST /exchanges.
type ExchangeRequest struct {
	UserID            string `json:"user_id"`
	CharacterName     string `json:"character_name"`
	UserMessage       string `json:"user_message"`
	AssistantResponse string `json:"assistant_response"`
	UserTokens        int    `json:"user_tokens,omitempty"`
	AssistantTokens   int    `json:"assistant_tokens,omitempty"`
}

// ClearResponse is returned when memories are bulk-deleted.
type ClearResponse struct {
	Deleted int `json:"deleted"`
}

// ListMemoriesResponse is returned from GET .../memories.
type ListMemoriesResponse struct {
	Memories []*Memory `json:"memories"`
	Total    int       `json:"total"`
}

// ListEntitiesResponse is returned from GET .../entities.
type ListEntitiesResponse struct {
	Entities []*Entity `json:"entities"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is returned from GET /health.
type HealthResponse struct {
	Status      string       `json:"status"`
	DB          ServiceCheck `json:"db"`
	VectorIndex ServiceCheck `json:"vectorIndex"`
	LLM         ServiceCheck `json:"llm"`
	MemoryCount int          `json:"memoryCount"`
}

// ServiceCheck is the status of a single dependency.
type ServiceCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// SweepReport summarises one consistency sweep.
type SweepReport struct {
	Reindexed       int `json:"reindexed"`
	ReindexFailed   int `json:"reindex_failed"`
	TombstonesFixed int `json:"tombstones_fixed"`
	SessionsClosed  int `json:"sessions_closed"`
	LowRetention    int `json:"low_retention"`
	CachePruned     int `json:"cache_pruned"`
}
