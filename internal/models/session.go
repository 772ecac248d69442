package models

import (
	"strings"
	"unicode/utf8"
)

// Message is one turn inside a session.
type Message struct {
	Role       Role   `json:"role"`
	Content    string `json:"content"`
	Timestamp  int64  `json:"timestamp"`
	TokenCount int    `json:"token_count"`
}

// WorkingMemory is the rolling compressed view of the current session.
type WorkingMemory struct {
	SessionID            string   `json:"session_id"`
	Summary              string   `json:"summary"`
	KeyTopics            []string `json:"key_topics"`
	UserEmotionalState   string   `json:"user_emotional_state,omitempty"`
	UnresolvedQuestions  []string `json:"unresolved_questions"`
	LastUpdatedAtMessage int      `json:"last_updated_at_message"`
	UpdatedAt            int64    `json:"updated_at"`
}

// Session is one continuous conversation between a user and a character.
type Session struct {
	ID            string         `json:"id"`
	UserID        string         `json:"user_id"`
	CharacterName string         `json:"character_name"`
	StartedAt     int64          `json:"started_at"`
	EndedAt       *int64         `json:"ended_at,omitempty"`
	IsActive      bool           `json:"is_active"`
	Messages      []Message      `json:"messages"`
	MessageCount  int            `json:"message_count"`
	TotalTokens   int            `json:"total_tokens"`
	WorkingMemory *WorkingMemory `json:"working_memory,omitempty"`
	FinalSummary  string         `json:"final_summary,omitempty"`
}

// LastMessageAt returns the timestamp of the newest message, or the start
// time when the session is still empty.
func (s *Session) LastMessageAt() int64 {
	if n := len(s.Messages); n > 0 {
		return s.Messages[n-1].Timestamp
	}
	return s.StartedAt
}

// ActiveSessionInfo is the short view of the active session in a summary.
type ActiveSessionInfo struct {
	ID           string `json:"id"`
	MessageCount int    `json:"message_count"`
	StartedAt    int64  `json:"started_at"`
}

// ConversationSummary aggregates history between a user and a character.
type ConversationSummary struct {
	TotalSessions      int                `json:"total_sessions"`
	TotalMessages      int                `json:"total_messages"`
	TotalMemories      int                `json:"total_memories"`
	TotalEntities      int                `json:"total_entities"`
	LastSessionSummary string             `json:"last_session_summary,omitempty"`
	ActiveSession      *ActiveSessionInfo `json:"active_session,omitempty"`
}

// FormatMessages renders messages as "User: ..." and "Character: ..." lines.
// maxChars truncates each message when positive.
func FormatMessages(messages []Message, maxChars int) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		content := m.Content
		if maxChars > 0 && len(content) > maxChars {
			content = truncate(content, maxChars)
		}
		role := "Character"
		if m.Role == RoleUser {
			role = "User"
		}
		lines = append(lines, role+": "+content)
	}
	return strings.Join(lines, "\n")
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
