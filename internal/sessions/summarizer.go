package sessions

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/iammorganparry/rolechat-memory/internal/llm"
	"github.com/iammorganparry/rolechat-memory/internal/models"
	"github.com/iammorganparry/rolechat-memory/internal/privacy"
)

// FallbackSessionSummary is stored when the summary call fails.
const FallbackSessionSummary = "We had a conversation about various topics."

const (
	// fullTranscriptLimit is the largest session summarized from its full transcript.
	fullTranscriptLimit = 10
	recentForSummary    = 5
	maxMessageChars     = 500

	// compressedHistoryTokens sizes the stand-in for missing working memory.
	compressedHistoryTokens = 300
)

var summaryTemperature = 0.3

// Summarizer compresses session content into working memory and episodic summaries.
type Summarizer struct {
	model  llm.ChatModel
	logger *slog.Logger
}

// NewSummarizer creates a new session summarizer.
func NewSummarizer(model llm.ChatModel, logger *slog.Logger) *Summarizer {
	return &Summarizer{model: model, logger: logger}
}

const workingMemoryPrompt = `You maintain the working memory for a conversation between a user and %s.

Previous summary:
%s

New messages:
%s

Update the working memory. Capture the main topics so far, the user's current emotional state in a word or short phrase, questions the user still has open, and a brief 2-3 sentence narrative.

Reply with JSON only:
{
  "summary": "what has been discussed so far",
  "key_topics": ["topic"],
  "emotional_state": "curious",
  "unresolved_questions": ["question"]
}`

const sessionSummaryPrompt = `Summarize this conversation between a user and %s so it can be recalled later.

%s

Write 2-3 sentences covering what the user wanted to talk about, any emotional moments or revelations, and plans, promises or topics left unfinished.

%s will read it in a future conversation as "Last time we spoke, ...". Write it from %s's point of view and reply with the summary text only.`

const compressPrompt = `Compress this conversation into a summary of about %d words. Keep the key information, the topics discussed and any important details.

Conversation:
%s

Compressed version:`

// WorkingMemoryUpdate is the structured result of a working-memory refresh.
type WorkingMemoryUpdate struct {
	Summary             string   `json:"summary"`
	KeyTopics           []string `json:"key_topics"`
	EmotionalState      string   `json:"emotional_state"`
	UnresolvedQuestions []string `json:"unresolved_questions"`
}

// UpdateWorkingMemory folds new messages into the previous summary. On any
// failure it returns the previous summary unchanged with empty lists.
func (s *Summarizer) UpdateWorkingMemory(ctx context.Context, previousSummary string, newMessages []models.Message, characterName string) WorkingMemoryUpdate {
	fallback := WorkingMemoryUpdate{
		Summary:             previousSummary,
		KeyTopics:           []string{},
		UnresolvedQuestions: []string{},
	}

	prev := previousSummary
	if prev == "" {
		prev = "This is the start of the conversation."
	}
	transcript := models.FormatMessages(privacy.RedactMessages(newMessages), maxMessageChars)
	prompt := fmt.Sprintf(workingMemoryPrompt, characterName, prev, transcript)

	reply, err := s.model.Complete(ctx, []llm.Message{llm.User(prompt)}, llm.Config{Temperature: &summaryTemperature})
	if err != nil {
		s.logger.Warn("working memory update failed", "character", characterName, "error", err)
		return fallback
	}

	var out WorkingMemoryUpdate
	if err := llm.DecodeJSON(reply, &out); err != nil {
		s.logger.Warn("working memory reply malformed", "character", characterName, "error", err)
		return fallback
	}
	out.Summary = strings.TrimSpace(out.Summary)
	if out.Summary == "" {
		out.Summary = previousSummary
	}
	out.KeyTopics = cleanList(out.KeyTopics)
	out.UnresolvedQuestions = cleanList(out.UnresolvedQuestions)
	out.EmotionalState = strings.TrimSpace(out.EmotionalState)
	return out
}

// CreateSessionSummary writes the episodic summary stored when a session
// ends. Long sessions are summarized from working memory plus the last few
// messages to bound prompt size. Never fails; falls back to a generic line.
func (s *Summarizer) CreateSessionSummary(ctx context.Context, messages []models.Message, workingMemorySummary, characterName string) string {
	messages = privacy.RedactMessages(messages)
	if len(messages) == 0 {
		return FallbackSessionSummary
	}

	var content string
	if len(messages) <= fullTranscriptLimit {
		content = models.FormatMessages(messages, maxMessageChars)
	} else {
		split := len(messages) - recentForSummary
		if strings.TrimSpace(workingMemorySummary) == "" {
			workingMemorySummary = s.CompressMessages(ctx, messages[:split], compressedHistoryTokens)
		}
		recent := messages[split:]
		content = fmt.Sprintf("Working Memory: %s\n\nRecent Messages:\n%s",
			workingMemorySummary, models.FormatMessages(recent, maxMessageChars))
	}

	prompt := fmt.Sprintf(sessionSummaryPrompt, characterName, content, characterName, characterName)
	reply, err := s.model.Complete(ctx, []llm.Message{llm.User(prompt)}, llm.Config{Temperature: &summaryTemperature})
	if err != nil {
		s.logger.Warn("session summary failed", "character", characterName, "error", err)
		return FallbackSessionSummary
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return FallbackSessionSummary
	}
	return reply
}

// CompressMessages shrinks messages to roughly targetTokens. On failure it
// falls back to the last three messages rendered as lines.
func (s *Summarizer) CompressMessages(ctx context.Context, messages []models.Message, targetTokens int) string {
	messages = privacy.RedactMessages(messages)
	if len(messages) == 0 {
		return ""
	}
	if targetTokens <= 0 {
		targetTokens = 500
	}

	prompt := fmt.Sprintf(compressPrompt, targetTokens/4, models.FormatMessages(messages, maxMessageChars))
	reply, err := s.model.Complete(ctx, []llm.Message{llm.User(prompt)}, llm.Config{})
	if err == nil {
		if reply = strings.TrimSpace(reply); reply != "" {
			return reply
		}
		err = fmt.Errorf("empty reply")
	}

	s.logger.Warn("message compression failed", "error", err)
	recent := messages
	if len(recent) > 3 {
		recent = recent[len(recent)-3:]
	}
	return models.FormatMessages(recent, maxMessageChars)
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
