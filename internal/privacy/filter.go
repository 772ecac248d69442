// Package privacy removes content users marked as off the record before it
// reaches extraction or summarization prompts.
package privacy

import (
	"regexp"
	"strings"

	"github.com/iammorganparry/rolechat-memory/internal/models"
)

// privateTagRegex matches <private>...</private> blocks (non-greedy, dotall).
var privateTagRegex = regexp.MustCompile(`(?s)<private>.*?</private>`)

// StripPrivateTags removes all <private>...</private> blocks from content.
func StripPrivateTags(content string) string {
	return strings.TrimSpace(privateTagRegex.ReplaceAllString(content, ""))
}

// HasOnlyPrivateContent reports whether nothing remains after stripping.
func HasOnlyPrivateContent(content string) bool {
	return StripPrivateTags(content) == ""
}

// RedactMessages returns copies of messages with private blocks removed,
// dropping messages that were entirely private.
func RedactMessages(messages []models.Message) []models.Message {
	out := make([]models.Message, 0, len(messages))
	for _, m := range messages {
		if HasOnlyPrivateContent(m.Content) {
			continue
		}
		m.Content = StripPrivateTags(m.Content)
		out = append(out, m)
	}
	return out
}
