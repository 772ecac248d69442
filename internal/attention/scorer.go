// Package attention scores memories for inclusion in a prompt.
//
// The score is a fixed-weight heuristic:
//
//	semantic*0.4 + 0.5^(days/7)*0.2 + importance*0.3 + min(access/10, 1)*0.1
//
// The four weights and the two constants (recency half-life and frequency
// cap) are tunable through Weights without changing the shape of the function.
package attention

import (
	"math"
	"time"

	"github.com/iammorganparry/rolechat-memory/internal/models"
)

// DefaultThreshold is the minimum score for a memory to be included.
const DefaultThreshold = 0.3

// Weights configures the scorer.
type Weights struct {
	Semantic     float64
	Recency      float64
	Importance   float64
	Frequency    float64
	HalfLifeDays float64
	FrequencyCap float64
	// NeverAccessed is the recency term for a memory with no last_accessed.
	NeverAccessed float64
}

// DefaultWeights returns the standard coefficients.
func DefaultWeights() Weights {
	return Weights{
		Semantic:      0.4,
		Recency:       0.2,
		Importance:    0.3,
		Frequency:     0.1,
		HalfLifeDays:  7,
		FrequencyCap:  10,
		NeverAccessed: 0.5,
	}
}

// Scorer computes attention scores. The zero value is not usable; use NewScorer.
type Scorer struct {
	w Weights
}

func NewScorer(w Weights) *Scorer {
	return &Scorer{w: w}
}

// Score returns the blended relevance of m in [0, 1]. Similarity is clamped
// into [0, 1] first so a negative cosine never lowers the other terms.
func (s *Scorer) Score(m *models.Memory, similarity float64, now time.Time) float64 {
	score := s.w.Semantic*clamp01(similarity) +
		s.w.Recency*s.recency(m, now) +
		s.w.Importance*clamp01(m.Importance) +
		s.w.Frequency*s.frequency(m.AccessCount)
	return clamp01(score)
}

// ShouldInclude reports whether score clears threshold.
func ShouldInclude(score, threshold float64) bool {
	return score >= threshold
}

func (s *Scorer) recency(m *models.Memory, now time.Time) float64 {
	if m.LastAccessed == nil {
		return s.w.NeverAccessed
	}
	return halfLife(daysSince(*m.LastAccessed, now), s.w.HalfLifeDays)
}

func (s *Scorer) frequency(accessCount int) float64 {
	if s.w.FrequencyCap <= 0 {
		return 0
	}
	return math.Min(float64(accessCount)/s.w.FrequencyCap, 1)
}

// daysSince returns fractional days between a unix timestamp and now,
// never negative.
func daysSince(unix int64, now time.Time) float64 {
	d := now.Sub(time.Unix(unix, 0)).Hours() / 24
	if d < 0 {
		return 0
	}
	return d
}

func halfLife(days, halfLifeDays float64) float64 {
	if halfLifeDays <= 0 {
		return 0
	}
	return math.Pow(0.5, days/halfLifeDays)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
