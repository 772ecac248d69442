package sessions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/iammorganparry/rolechat-memory/internal/models"
	"github.com/iammorganparry/rolechat-memory/internal/testutil"
)

func conversation(n int) []models.Message {
	msgs := make([]models.Message, n)
	for i := range msgs {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		msgs[i] = models.Message{Role: role, Content: fmt.Sprintf("message %d", i)}
	}
	return msgs
}

func TestUpdateWorkingMemory(t *testing.T) {
	ctx := context.Background()

	t.Run("parses the structured reply", func(t *testing.T) {
		model := testutil.NewScriptedModel(testutil.Rule{
			Match: "working memory",
			Reply: "```json\n{\"summary\": \"Talked about cases.\", \"key_topics\": [\"cases\", \" \"], \"emotional_state\": \"curious\", \"unresolved_questions\": [\"Who did it?\"]}\n```",
		})
		s := NewSummarizer(model, testutil.Logger())
		got := s.UpdateWorkingMemory(ctx, "", conversation(4), "Sherlock")
		if got.Summary != "Talked about cases." || got.EmotionalState != "curious" {
			t.Fatalf("unexpected update: %+v", got)
		}
		if len(got.KeyTopics) != 1 || len(got.UnresolvedQuestions) != 1 {
			t.Fatalf("expected blank topics dropped, got %+v", got)
		}
	})

	t.Run("failure keeps the previous summary", func(t *testing.T) {
		model := testutil.NewScriptedModel(testutil.Rule{Match: "working memory", Err: errors.New("boom")})
		s := NewSummarizer(model, testutil.Logger())
		got := s.UpdateWorkingMemory(ctx, "previous", conversation(4), "Sherlock")
		if got.Summary != "previous" || len(got.KeyTopics) != 0 || len(got.UnresolvedQuestions) != 0 {
			t.Fatalf("expected unchanged fallback, got %+v", got)
		}
	})

	t.Run("malformed reply keeps the previous summary", func(t *testing.T) {
		model := testutil.NewScriptedModel(testutil.Rule{Match: "working memory", Reply: "sure thing!"})
		s := NewSummarizer(model, testutil.Logger())
		got := s.UpdateWorkingMemory(ctx, "previous", conversation(4), "Sherlock")
		if got.Summary != "previous" {
			t.Fatalf("expected fallback, got %+v", got)
		}
	})
}

func TestCreateSessionSummary(t *testing.T) {
	ctx := context.Background()

	t.Run("short session uses the full transcript", func(t *testing.T) {
		model := testutil.NewScriptedModel(testutil.Rule{Match: "Summarize this conversation", Reply: " We discussed a case. "})
		s := NewSummarizer(model, testutil.Logger())
		got := s.CreateSessionSummary(ctx, conversation(6), "", "Sherlock")
		if got != "We discussed a case." {
			t.Fatalf("unexpected summary %q", got)
		}
		prompt := model.Calls()[0]
		if !strings.Contains(prompt, "message 0") || strings.Contains(prompt, "Working Memory:") {
			t.Fatalf("expected the full transcript in the prompt")
		}
	})

	t.Run("long session uses working memory and the last five", func(t *testing.T) {
		model := testutil.NewScriptedModel(testutil.Rule{Match: "Summarize this conversation", Reply: "ok"})
		s := NewSummarizer(model, testutil.Logger())
		s.CreateSessionSummary(ctx, conversation(12), "earlier stuff", "Sherlock")
		prompt := model.Calls()[0]
		if !strings.Contains(prompt, "Working Memory: earlier stuff") {
			t.Fatalf("expected working memory in prompt")
		}
		if strings.Contains(prompt, "message 6") || !strings.Contains(prompt, "message 7") {
			t.Fatalf("expected only the last five messages")
		}
	})

	t.Run("long session without working memory compresses history", func(t *testing.T) {
		model := testutil.NewScriptedModel(
			testutil.Rule{Match: "Compress this conversation", Reply: "they chatted"},
			testutil.Rule{Match: "Summarize this conversation", Reply: "ok"},
		)
		s := NewSummarizer(model, testutil.Logger())
		s.CreateSessionSummary(ctx, conversation(12), "", "Sherlock")
		calls := model.Calls()
		if len(calls) != 2 || !strings.Contains(calls[1], "Working Memory: they chatted") {
			t.Fatalf("expected compressed history in the summary prompt, got %d calls", len(calls))
		}
	})

	t.Run("failure returns the fallback", func(t *testing.T) {
		model := testutil.NewScriptedModel(testutil.Rule{Match: "Summarize", Err: errors.New("down")})
		s := NewSummarizer(model, testutil.Logger())
		if got := s.CreateSessionSummary(ctx, conversation(2), "", "Sherlock"); got != FallbackSessionSummary {
			t.Fatalf("expected fallback, got %q", got)
		}
	})
}

func TestCompressMessagesFallback(t *testing.T) {
	model := testutil.NewScriptedModel(testutil.Rule{Match: "Compress", Err: errors.New("down")})
	s := NewSummarizer(model, testutil.Logger())
	got := s.CompressMessages(context.Background(), conversation(6), 200)
	if strings.Contains(got, "message 2") || !strings.Contains(got, "message 3") || !strings.Contains(got, "message 5") {
		t.Fatalf("expected the last three messages, got %q", got)
	}
}
