package assembly

import (
	"fmt"
	"strings"

	"github.com/iammorganparry/rolechat-memory/internal/models"
)

// NoUserInfo is the user context when nothing is known yet.
const NoUserInfo = "No prior information about the user."

const (
	maxPeople = 5
	maxPlaces = 3
	maxOther  = 3
)

const systemPromptTemplate = `You are %s. You are talking with a user who wants to interact with you as this character.

IMPORTANT GUIDELINES:
- Stay in character at all times
- Use the memories and context provided to personalize your responses
- Reference past conversations when relevant ("Last time you mentioned...")
- Remember and use the user's name and personal details
- Be emotionally intelligent and responsive to the user's mood
- Keep responses engaging and conversational

You have access to:
- Your character profile and personality
- Information about the user from past conversations
- Relevant memories from your conversations together
- The current conversation history`

// BuildSystemPrompt renders the fixed system prompt for a character.
func BuildSystemPrompt(characterName string) string {
	return fmt.Sprintf(systemPromptTemplate, characterName)
}

// FormatEntities groups entities into people, places and other, capped per group.
func FormatEntities(entities []*models.Entity) string {
	if len(entities) == 0 {
		return NoUserInfo
	}

	var people, places, other []*models.Entity
	for _, e := range entities {
		switch e.EntityType {
		case models.EntityTypePerson:
			people = append(people, e)
		case models.EntityTypePlace:
			places = append(places, e)
		default:
			other = append(other, e)
		}
	}

	lines := []string{"What I know about the user:"}
	if len(people) > 0 {
		lines = append(lines, "\nPeople in their life:")
		for _, p := range capEntities(people, maxPeople) {
			detail := ""
			if p.Details != "" {
				detail = " - " + p.Details
			}
			lines = append(lines, fmt.Sprintf("  • %s: %s%s", p.Name, relationshipOf(p), detail))
		}
	}
	if len(places) > 0 {
		lines = append(lines, "\nPlaces:")
		for _, p := range capEntities(places, maxPlaces) {
			lines = append(lines, fmt.Sprintf("  • %s: %s", p.Name, relationshipOf(p)))
		}
	}
	if len(other) > 0 {
		lines = append(lines, "\nOther:")
		for _, o := range capEntities(other, maxOther) {
			lines = append(lines, fmt.Sprintf("  • %s: %s", o.Name, relationshipOf(o)))
		}
	}
	return strings.Join(lines, "\n")
}

func relationshipOf(e *models.Entity) string {
	if e.Relationship == "" {
		return "mentioned"
	}
	return e.Relationship
}

func capEntities(list []*models.Entity, n int) []*models.Entity {
	if len(list) > n {
		return list[:n]
	}
	return list
}
