package sessions

import (
	"testing"
	"time"

	"github.com/iammorganparry/rolechat-memory/internal/models"
)

func TestNeedsSummaryUpdate(t *testing.T) {
	tests := []struct {
		name string
		sess models.Session
		want bool
	}{
		{"fresh session below interval", models.Session{MessageCount: 4}, false},
		{"fresh session at interval", models.Session{MessageCount: 5}, true},
		{"recently refreshed", models.Session{MessageCount: 8, WorkingMemory: &models.WorkingMemory{LastUpdatedAtMessage: 6}}, false},
		{"due after refresh", models.Session{MessageCount: 12, WorkingMemory: &models.WorkingMemory{LastUpdatedAtMessage: 6}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NeedsSummaryUpdate(&tt.sess, 5); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestIsTimedOut(t *testing.T) {
	now := time.Unix(100_000, 0)
	sess := &models.Session{
		StartedAt: now.Add(-5 * time.Hour).Unix(),
		Messages:  []models.Message{{Timestamp: now.Add(-3 * time.Hour).Unix()}},
	}
	if !IsTimedOut(sess, now, 2*time.Hour) {
		t.Fatal("expected timeout after 3h idle with 2h limit")
	}
	sess.Messages = append(sess.Messages, models.Message{Timestamp: now.Add(-time.Hour).Unix()})
	if IsTimedOut(sess, now, 2*time.Hour) {
		t.Fatal("expected active session after 1h idle")
	}
}
