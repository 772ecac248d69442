package models

import "strings"

// AssembledContext is the token-budgeted prompt material for one chat turn.
type AssembledContext struct {
	SystemPrompt        string `json:"system_prompt"`
	CharacterContext    string `json:"character_context"`
	UserContext         string `json:"user_context"`
	MemoryContext       string `json:"memory_context"`
	ConversationContext string `json:"conversation_context"`

	TotalTokens      int `json:"total_tokens"`
	MemoriesIncluded int `json:"memories_included"`
	MessagesIncluded int `json:"messages_included"`
}

// PromptParts returns the non-empty sections in prompt order with their headers.
func (c *AssembledContext) PromptParts() []string {
	var parts []string
	if c.SystemPrompt != "" {
		parts = append(parts, c.SystemPrompt)
	}
	if c.CharacterContext != "" {
		parts = append(parts, "CHARACTER PROFILE:\n"+c.CharacterContext)
	}
	if c.UserContext != "" {
		parts = append(parts, "ABOUT THE USER:\n"+c.UserContext)
	}
	if c.MemoryContext != "" {
		parts = append(parts, "RELEVANT MEMORIES:\n"+c.MemoryContext)
	}
	if c.ConversationContext != "" {
		parts = append(parts, "CONVERSATION:\n"+c.ConversationContext)
	}
	return parts
}

// FullPrompt joins all parts into a single prompt string.
func (c *AssembledContext) FullPrompt() string {
	return strings.Join(c.PromptParts(), "\n\n")
}
