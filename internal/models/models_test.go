package models

import (
	"strings"
	"testing"
)

func TestFormatMessages(t *testing.T) {
	messages := []Message{
		{Role: RoleUser, Content: "Hello there"},
		{Role: RoleAssistant, Content: "Good evening"},
	}
	if got := FormatMessages(messages, 0); got != "User: Hello there\nCharacter: Good evening" {
		t.Fatalf("unexpected format %q", got)
	}
	if got := FormatMessages(messages, 5); got != "User: Hello\nCharacter: Good " {
		t.Fatalf("unexpected truncation %q", got)
	}
	if got := FormatMessages([]Message{{Role: RoleUser, Content: "héllo"}}, 2); got != "User: h" {
		t.Fatalf("expected truncation on a rune boundary, got %q", got)
	}
	if FormatMessages(nil, 0) != "" {
		t.Fatal("expected empty output for no messages")
	}
}

func TestFullPrompt(t *testing.T) {
	c := &AssembledContext{
		SystemPrompt:        "You are Sherlock.",
		UserContext:         "No prior information about the user.",
		ConversationContext: "User: hi",
	}
	want := "You are Sherlock.\n\nABOUT THE USER:\nNo prior information about the user.\n\nCONVERSATION:\nUser: hi"
	if got := c.FullPrompt(); got != want {
		t.Fatalf("unexpected prompt:\n%s", got)
	}
	if strings.Contains(c.FullPrompt(), "CHARACTER PROFILE") {
		t.Fatal("empty sections must be omitted")
	}
}

func TestParseTypes(t *testing.T) {
	if ParseMemoryType(" Preference ") != MemoryTypePreference {
		t.Fatal("expected case-insensitive memory type")
	}
	if ParseMemoryType("hobby") != MemoryTypeFact {
		t.Fatal("expected unknown memory types to default to fact")
	}
	if ParseEntityType("ORGANIZATION") != EntityTypeOrganization {
		t.Fatal("expected case-insensitive entity type")
	}
	if ParseEntityType("animal") != EntityTypeThing {
		t.Fatal("expected unknown entity types to default to thing")
	}

	s := &Session{StartedAt: 100}
	if s.LastMessageAt() != 100 {
		t.Fatal("expected start time for a session without messages")
	}
	s.Messages = []Message{{Timestamp: 150}, {Timestamp: 200}}
	if s.LastMessageAt() != 200 {
		t.Fatal("expected the newest message timestamp")
	}
}
