package extraction

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/iammorganparry/rolechat-memory/internal/models"
	"github.com/iammorganparry/rolechat-memory/internal/testutil"
)

const (
	memoryMatch = "pull out what it tells you about the USER"
	entityMatch = "list the people, places, organizations and things"
)

func exchange(user, assistant string) []models.Message {
	return []models.Message{
		{Role: models.RoleUser, Content: user},
		{Role: models.RoleAssistant, Content: assistant},
	}
}

func TestExtractFromMessages(t *testing.T) {
	model := testutil.NewScriptedModel(
		testutil.Rule{Match: memoryMatch, Reply: "```json\n" + `[
			{"type": "fact", "content": "User's name is Sarah", "importance": 0.95},
			{"type": "fact", "content": "User lives in Boston", "importance": 0.8}
		]` + "\n```"},
		testutil.Rule{Match: entityMatch, Reply: `[
			{"type": "place", "name": "Boston", "relationship": "where the user lives"},
			{"type": "place", "name": "boston"}
		]`},
	)
	e := NewExtractor(model, 0, testutil.Logger())

	memories, entities := e.ExtractFromMessages(context.Background(), "u1", "Sherlock",
		exchange("Hi, I'm Sarah and I live in Boston", "Lovely to meet you, Sarah."), "s1")

	if len(memories) != 2 {
		t.Fatalf("expected 2 memories, got %d", len(memories))
	}
	if memories[0].Content != "User's name is Sarah" || memories[0].Importance != 0.95 {
		t.Fatalf("unexpected first memory %+v", memories[0])
	}
	for _, m := range memories {
		if m.UserID != "u1" || m.CharacterName != "Sherlock" || m.SourceSessionID != "s1" {
			t.Fatalf("scope not stamped on %+v", m)
		}
	}
	if len(entities) != 1 {
		t.Fatalf("expected duplicate entity names collapsed, got %d", len(entities))
	}
	if entities[0].EntityType != models.EntityTypePlace || entities[0].Name != "Boston" {
		t.Fatalf("unexpected entity %+v", entities[0])
	}
}

func TestExtractNormalizesItems(t *testing.T) {
	model := testutil.NewScriptedModel(
		testutil.Rule{Match: memoryMatch, Reply: `[
			{"type": "hobby", "content": "User paints", "importance": 3},
			{"type": "emotion", "content": "User feels anxious", "importance": -1},
			{"type": "fact", "content": "User has a cat"},
			{"type": "fact", "content": "   "},
			{"type": "fact", "content": 42}
		]`},
	)
	e := NewExtractor(model, 0, testutil.Logger())

	memories, _ := e.ExtractFromMessages(context.Background(), "u1", "Sherlock", exchange("stuff", "ok"), "s1")
	if len(memories) != 3 {
		t.Fatalf("expected 3 usable memories, got %d", len(memories))
	}
	tests := []struct {
		typ        models.MemoryType
		importance float64
	}{
		{models.MemoryTypeFact, 1},
		{models.MemoryTypeEmotion, 0},
		{models.MemoryTypeFact, 0.5},
	}
	for i, tt := range tests {
		if memories[i].MemoryType != tt.typ || memories[i].Importance != tt.importance {
			t.Errorf("memory %d: expected %s/%v, got %s/%v", i, tt.typ, tt.importance,
				memories[i].MemoryType, memories[i].Importance)
		}
	}
}

func TestExtractDegradesPerPrompt(t *testing.T) {
	t.Run("memory prompt fails", func(t *testing.T) {
		model := testutil.NewScriptedModel(
			testutil.Rule{Match: memoryMatch, Err: errors.New("timeout")},
			testutil.Rule{Match: entityMatch, Reply: `[{"type": "person", "name": "Tom"}]`},
		)
		memories, entities := NewExtractor(model, 0, testutil.Logger()).
			ExtractFromMessages(context.Background(), "u1", "Sherlock", exchange("my brother Tom", "oh?"), "s1")
		if len(memories) != 0 || len(entities) != 1 {
			t.Fatalf("expected 0 memories and 1 entity, got %d and %d", len(memories), len(entities))
		}
	})

	t.Run("malformed reply", func(t *testing.T) {
		model := testutil.NewScriptedModel(
			testutil.Rule{Match: memoryMatch, Reply: "Sure! Here is what I found: nothing useful"},
		)
		memories, entities := NewExtractor(model, 0, testutil.Logger()).
			ExtractFromMessages(context.Background(), "u1", "Sherlock", exchange("hello", "hi"), "s1")
		if len(memories) != 0 || len(entities) != 0 {
			t.Fatalf("expected nothing, got %d and %d", len(memories), len(entities))
		}
	})
}

func TestExtractWindowAndPrivacy(t *testing.T) {
	model := testutil.NewScriptedModel()
	e := NewExtractor(model, 2, testutil.Logger())

	messages := append(exchange("old message", "old reply"),
		exchange("my PIN is <private>1234</private> not that you need it", "noted")...)
	e.ExtractFromMessages(context.Background(), "u1", "Sherlock", messages, "s1")

	calls := model.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected both prompts to run, got %d", len(calls))
	}
	for _, prompt := range calls {
		if strings.Contains(prompt, "old message") {
			t.Fatal("messages outside the window reached the prompt")
		}
		if strings.Contains(prompt, "1234") {
			t.Fatal("private content reached the prompt")
		}
	}

	model = testutil.NewScriptedModel()
	NewExtractor(model, 2, testutil.Logger()).ExtractFromMessages(context.Background(), "u1", "Sherlock",
		[]models.Message{{Role: models.RoleUser, Content: "<private>all of it</private>"}}, "s1")
	if n := len(model.Calls()); n != 0 {
		t.Fatalf("expected no prompts for an all-private window, got %d", n)
	}
}

func TestClampImportance(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{-0.5, 0},
		{0, 0},
		{0.42, 0.42},
		{1, 1},
		{7, 1},
		{math.NaN(), 0.5},
	}
	for _, tt := range tests {
		if got := ClampImportance(tt.in); got != tt.want {
			t.Errorf("ClampImportance(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
