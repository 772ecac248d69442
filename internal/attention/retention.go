package attention

import (
	"math"
	"time"

	"github.com/iammorganparry/rolechat-memory/internal/models"
)

// RetentionThreshold marks memories the sweep reports as fading.
const RetentionThreshold = 0.2

var typeBonus = map[models.MemoryType]float64{
	models.MemoryTypeFact:       0.15,
	models.MemoryTypeEmotion:    0.1,
	models.MemoryTypePreference: 0.05,
	models.MemoryTypeEvent:      0.05,
	models.MemoryTypeOpinion:    0.05,
}

// RetentionScore estimates how worth keeping a memory is, independent of
// any query. 30-day half-life on recency, access saturates at 20.
func RetentionScore(m *models.Memory, now time.Time) float64 {
	score := clamp01(m.Importance) * 0.4
	if m.LastAccessed != nil {
		score += halfLife(daysSince(*m.LastAccessed, now), 30) * 0.2
	}
	score += math.Min(float64(m.AccessCount)/20, 1) * 0.2
	score += typeBonus[m.MemoryType]
	return math.Min(score, 1)
}
