// Package extraction turns recent conversation turns into candidate memories
// and entities using an LLM.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/iammorganparry/rolechat-memory/internal/llm"
	"github.com/iammorganparry/rolechat-memory/internal/models"
	"github.com/iammorganparry/rolechat-memory/internal/privacy"
)

// DefaultWindow is the number of trailing messages analysed per exchange.
const DefaultWindow = 4

const defaultImportance = 0.5

var extractionTemperature = 0.1

// Extractor runs the memory and entity prompts over a message window.
type Extractor struct {
	model  llm.ChatModel
	window int
	logger *slog.Logger
}

func NewExtractor(model llm.ChatModel, window int, logger *slog.Logger) *Extractor {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Extractor{model: model, window: window, logger: logger}
}

type memoryItem struct {
	Type       string   `json:"type"`
	Content    string   `json:"content"`
	Importance *float64 `json:"importance"`
}

type entityItem struct {
	Type         string `json:"type"`
	Name         string `json:"name"`
	Relationship string `json:"relationship"`
	Details      string `json:"details"`
}

// ExtractFromMessages analyses the trailing window of messages. Each prompt
// fails independently: a failed or malformed reply yields an empty list for
// that prompt and is logged, never returned.
func (e *Extractor) ExtractFromMessages(ctx context.Context, userID, characterName string, messages []models.Message, sessionID string) ([]*models.Memory, []*models.Entity) {
	if len(messages) > e.window {
		messages = messages[len(messages)-e.window:]
	}
	conversation := models.FormatMessages(privacy.RedactMessages(messages), 0)
	if conversation == "" {
		return nil, nil
	}

	var memories []*models.Memory
	var entities []*models.Entity

	var g errgroup.Group
	g.Go(func() error {
		var err error
		memories, err = e.extractMemories(ctx, conversation, userID, characterName, sessionID)
		if err != nil {
			e.logger.Warn("memory extraction failed",
				"user_id", userID, "character", characterName, "error", err)
			memories = nil
		}
		return nil
	})
	g.Go(func() error {
		var err error
		entities, err = e.extractEntities(ctx, conversation, userID, characterName)
		if err != nil {
			e.logger.Warn("entity extraction failed",
				"user_id", userID, "character", characterName, "error", err)
			entities = nil
		}
		return nil
	})
	_ = g.Wait()

	return memories, entities
}

func (e *Extractor) complete(ctx context.Context, prompt string) (string, error) {
	return e.model.Complete(ctx, []llm.Message{
		llm.System(systemPrompt),
		llm.User(prompt),
	}, llm.Config{Temperature: &extractionTemperature})
}

func (e *Extractor) extractMemories(ctx context.Context, conversation, userID, characterName, sessionID string) ([]*models.Memory, error) {
	reply, err := e.complete(ctx, fmt.Sprintf(memoryPrompt, conversation))
	if err != nil {
		return nil, err
	}

	raw, err := decodeArray(reply)
	if err != nil {
		return nil, err
	}

	var out []*models.Memory
	for _, item := range raw {
		var m memoryItem
		if err := json.Unmarshal(item, &m); err != nil {
			continue
		}
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		importance := defaultImportance
		if m.Importance != nil {
			importance = *m.Importance
		}
		out = append(out, &models.Memory{
			UserID:          userID,
			CharacterName:   characterName,
			MemoryType:      models.ParseMemoryType(m.Type),
			Content:         content,
			Importance:      ClampImportance(importance),
			SourceSessionID: sessionID,
		})
	}
	return out, nil
}

func (e *Extractor) extractEntities(ctx context.Context, conversation, userID, characterName string) ([]*models.Entity, error) {
	reply, err := e.complete(ctx, fmt.Sprintf(entityPrompt, conversation))
	if err != nil {
		return nil, err
	}

	raw, err := decodeArray(reply)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []*models.Entity
	for _, item := range raw {
		var en entityItem
		if err := json.Unmarshal(item, &en); err != nil {
			continue
		}
		name := strings.TrimSpace(en.Name)
		if name == "" || seen[strings.ToLower(name)] {
			continue
		}
		seen[strings.ToLower(name)] = true
		out = append(out, &models.Entity{
			UserID:        userID,
			CharacterName: characterName,
			EntityType:    models.ParseEntityType(en.Type),
			Name:          name,
			Relationship:  strings.TrimSpace(en.Relationship),
			Details:       strings.TrimSpace(en.Details),
		})
	}
	return out, nil
}

// decodeArray parses the reply as a JSON array, keeping each element raw so
// that one malformed item does not discard the rest.
func decodeArray(reply string) ([]json.RawMessage, error) {
	var raw []json.RawMessage
	if err := llm.DecodeJSON(reply, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// ClampImportance bounds importance to [0, 1]. NaN maps to the default.
func ClampImportance(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return defaultImportance
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
