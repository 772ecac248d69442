package attention

import (
	"math"
	"testing"
	"time"

	"github.com/iammorganparry/rolechat-memory/internal/models"
)

func accessedAgo(now time.Time, d time.Duration) *int64 {
	at := now.Add(-d).Unix()
	return &at
}

func TestScoreFormula(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := NewScorer(DefaultWeights())

	m := &models.Memory{
		Importance:   0.8,
		AccessCount:  5,
		LastAccessed: accessedAgo(now, 7*24*time.Hour),
	}
	// 0.9*0.4 + 0.5*0.2 + 0.8*0.3 + 0.5*0.1
	want := 0.36 + 0.1 + 0.24 + 0.05
	if got := s.Score(m, 0.9, now); math.Abs(got-want) > 1e-9 {
		t.Fatalf("expected %f, got %f", want, got)
	}
}

func TestScoreRecencyIsMonotonic(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := NewScorer(DefaultWeights())

	prev := math.Inf(1)
	for _, days := range []float64{0, 0.5, 1, 3, 7, 14, 60, 365} {
		m := &models.Memory{
			Importance:   0.5,
			AccessCount:  2,
			LastAccessed: accessedAgo(now, time.Duration(days*24)*time.Hour),
		}
		score := s.Score(m, 0.6, now)
		if score > prev {
			t.Fatalf("score rose from %f to %f at %v days", prev, score, days)
		}
		prev = score
	}
}

func TestScoreBounds(t *testing.T) {
	now := time.Now()
	s := NewScorer(DefaultWeights())

	t.Run("never accessed uses the neutral recency", func(t *testing.T) {
		m := &models.Memory{Importance: 0}
		if got := s.Score(m, 0, now); math.Abs(got-0.1) > 1e-9 {
			t.Fatalf("expected 0.1, got %f", got)
		}
	})

	t.Run("negative similarity does not subtract", func(t *testing.T) {
		m := &models.Memory{Importance: 0.5}
		if s.Score(m, -1, now) != s.Score(m, 0, now) {
			t.Fatal("expected negative similarity clamped to 0")
		}
	})

	t.Run("frequency saturates", func(t *testing.T) {
		a := &models.Memory{AccessCount: 10, LastAccessed: accessedAgo(now, 0)}
		b := &models.Memory{AccessCount: 500, LastAccessed: accessedAgo(now, 0)}
		if s.Score(a, 1, now) != s.Score(b, 1, now) {
			t.Fatal("expected capped frequency bonus")
		}
		if got := s.Score(b, 1, now); got > 1 {
			t.Fatalf("score above 1: %f", got)
		}
	})
}

func TestShouldInclude(t *testing.T) {
	if !ShouldInclude(0.3, DefaultThreshold) {
		t.Fatal("threshold is inclusive")
	}
	if ShouldInclude(0.29, DefaultThreshold) {
		t.Fatal("expected 0.29 excluded")
	}
}

func TestRetentionScore(t *testing.T) {
	now := time.Now()
	fact := &models.Memory{MemoryType: models.MemoryTypeFact, Importance: 0.9}
	opinion := &models.Memory{MemoryType: models.MemoryTypeOpinion, Importance: 0.1}

	if got := RetentionScore(fact, now); math.Abs(got-(0.36+0.15)) > 1e-9 {
		t.Fatalf("unexpected fact retention %f", got)
	}
	if RetentionScore(opinion, now) >= RetentionThreshold {
		t.Fatal("expected a trivial opinion below the retention threshold")
	}
}
