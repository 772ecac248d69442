package sessions

import (
	"context"
	"errors"
	"testing"

	"github.com/iammorganparry/rolechat-memory/internal/models"
	"github.com/iammorganparry/rolechat-memory/internal/store"
	"github.com/iammorganparry/rolechat-memory/internal/testutil"
)

func TestSessionStore(t *testing.T) {
	db := testutil.OpenDB(t)
	ss := NewSessionStore(db)
	ctx := context.Background()

	sess, err := ss.Create(ctx, "u1", "Sherlock", 1000)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	t.Run("GetActive returns the created session", func(t *testing.T) {
		got, n, err := ss.GetActive(ctx, "u1", "Sherlock")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got == nil || got.ID != sess.ID || n != 1 {
			t.Fatalf("expected session %s, got %+v (n=%d)", sess.ID, got, n)
		}
		if got.MessageCount != 0 || len(got.Messages) != 0 {
			t.Fatalf("expected empty session")
		}
	})

	t.Run("AppendMessages keeps order and counters", func(t *testing.T) {
		err := ss.AppendMessages(ctx, sess.ID, []models.Message{
			{Role: models.RoleUser, Content: "hello", Timestamp: 1010, TokenCount: 1},
			{Role: models.RoleAssistant, Content: "good evening", Timestamp: 1011, TokenCount: 3},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got, err := ss.GetByID(ctx, sess.ID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.MessageCount != 2 || got.TotalTokens != 4 {
			t.Fatalf("expected 2 messages / 4 tokens, got %d / %d", got.MessageCount, got.TotalTokens)
		}
		if got.Messages[0].Role != models.RoleUser || got.Messages[1].Content != "good evening" {
			t.Fatalf("messages out of order: %+v", got.Messages)
		}
		if got.LastMessageAt() != 1011 {
			t.Fatalf("expected last message at 1011, got %d", got.LastMessageAt())
		}
	})

	t.Run("UpdateWorkingMemory round-trips", func(t *testing.T) {
		err := ss.UpdateWorkingMemory(ctx, sess.ID, &models.WorkingMemory{
			Summary:              "They greeted each other.",
			KeyTopics:            []string{"greetings"},
			UserEmotionalState:   "cheerful",
			LastUpdatedAtMessage: 2,
			UpdatedAt:            1012,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got, _ := ss.GetByID(ctx, sess.ID)
		wm := got.WorkingMemory
		if wm == nil || wm.Summary != "They greeted each other." || wm.LastUpdatedAtMessage != 2 {
			t.Fatalf("working memory not stored: %+v", wm)
		}
		if len(wm.KeyTopics) != 1 || wm.KeyTopics[0] != "greetings" {
			t.Fatalf("expected topics [greetings], got %v", wm.KeyTopics)
		}
		if wm.UnresolvedQuestions == nil {
			t.Fatal("expected empty, non-nil unresolved questions")
		}
	})

	t.Run("End makes the session immutable", func(t *testing.T) {
		if err := ss.End(ctx, sess.ID, "We said hello.", 2000); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got, _ := ss.GetByID(ctx, sess.ID)
		if got.IsActive || got.EndedAt == nil || *got.EndedAt != 2000 {
			t.Fatalf("session not ended: %+v", got)
		}
		if got.FinalSummary != "We said hello." {
			t.Fatalf("expected final summary, got %q", got.FinalSummary)
		}

		err := ss.End(ctx, sess.ID, "again", 2001)
		if !errors.Is(err, store.ErrSessionEnded) {
			t.Fatalf("expected ErrSessionEnded, got %v", err)
		}
		err = ss.AppendMessages(ctx, sess.ID, []models.Message{{Role: models.RoleUser, Content: "x"}})
		if !errors.Is(err, store.ErrSessionEnded) {
			t.Fatalf("expected ErrSessionEnded on append, got %v", err)
		}
	})

	t.Run("unknown session", func(t *testing.T) {
		err := ss.End(ctx, "missing", "", 1)
		if !errors.Is(err, store.ErrSessionNotFound) {
			t.Fatalf("expected ErrSessionNotFound, got %v", err)
		}
		got, err := ss.GetByID(ctx, "missing")
		if err != nil || got != nil {
			t.Fatalf("expected nil, nil; got %+v, %v", got, err)
		}
	})

	t.Run("history queries", func(t *testing.T) {
		summary, err := ss.LastSummary(ctx, "u1", "Sherlock")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if summary != "We said hello." {
			t.Fatalf("expected last summary, got %q", summary)
		}
		n, _ := ss.CountEnded(ctx, "u1", "Sherlock")
		if n != 1 {
			t.Fatalf("expected 1 ended session, got %d", n)
		}
		active, _, _ := ss.GetActive(ctx, "u1", "Sherlock")
		if active != nil {
			t.Fatalf("expected no active session")
		}
	})
}

func TestGetActivePrefersMostRecent(t *testing.T) {
	db := testutil.OpenDB(t)
	ss := NewSessionStore(db)
	ctx := context.Background()

	ss.Create(ctx, "u1", "Sherlock", 100)
	newer, _ := ss.Create(ctx, "u1", "Sherlock", 200)

	got, n, err := ss.GetActive(ctx, "u1", "Sherlock")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 active sessions reported, got %d", n)
	}
	if got.ID != newer.ID {
		t.Fatalf("expected most recent session")
	}
}

func TestListIdle(t *testing.T) {
	db := testutil.OpenDB(t)
	ss := NewSessionStore(db)
	ctx := context.Background()

	old, _ := ss.Create(ctx, "u1", "Sherlock", 100)
	ss.AppendMessages(ctx, old.ID, []models.Message{{Role: models.RoleUser, Content: "hi", Timestamp: 150}})
	ss.Create(ctx, "u2", "Sherlock", 900)

	idle, err := ss.ListIdle(ctx, 500, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(idle) != 1 || idle[0].ID != old.ID {
		t.Fatalf("expected only the old session, got %d", len(idle))
	}
	if len(idle[0].Messages) != 1 {
		t.Fatalf("expected messages loaded")
	}
}
