package assembly

import (
	"unicode/utf8"

	"github.com/iammorganparry/rolechat-memory/internal/models"
)

// TokenEstimator approximates how many tokens a piece of text costs.
type TokenEstimator interface {
	Estimate(text string) int
}

// CharRatioEstimator counts one token per CharsPerToken characters.
// It is not a tokenizer; callers that need exact budgets supply their own
// TokenEstimator.
type CharRatioEstimator struct {
	CharsPerToken int
}

func (e CharRatioEstimator) Estimate(text string) int {
	ratio := e.CharsPerToken
	if ratio <= 0 {
		ratio = 4
	}
	return utf8.RuneCountInString(text) / ratio
}

// Budget is the fixed top-down token allocation for one prompt.
type Budget struct {
	MaxContextTokens  int
	SystemPrompt      int
	CharacterProfile  int
	UserProfile       int
	ImportantMemories int
	RetrievedMemories int
	WorkingMemory     int
	EpisodicMemory    int
	ResponseReserve   int
}

// DefaultBudget returns the standard 8000-token allocation.
func DefaultBudget() Budget {
	return Budget{
		MaxContextTokens:  8000,
		SystemPrompt:      300,
		CharacterProfile:  500,
		UserProfile:       200,
		ImportantMemories: 300,
		RetrievedMemories: 400,
		WorkingMemory:     200,
		EpisodicMemory:    150,
		ResponseReserve:   1000,
	}
}

// Reserved is the sum of every fixed allocation.
func (b Budget) Reserved() int {
	return b.SystemPrompt + b.CharacterProfile + b.UserProfile +
		b.ImportantMemories + b.RetrievedMemories + b.WorkingMemory +
		b.EpisodicMemory + b.ResponseReserve
}

// Compressor allocates the remaining budget to raw message history.
type Compressor struct {
	budget    Budget
	estimator TokenEstimator
}

func NewCompressor(budget Budget, estimator TokenEstimator) *Compressor {
	if estimator == nil {
		estimator = CharRatioEstimator{CharsPerToken: 4}
	}
	return &Compressor{budget: budget, estimator: estimator}
}

func (c *Compressor) Budget() Budget { return c.budget }

func (c *Compressor) EstimateTokens(text string) int {
	return c.estimator.Estimate(text)
}

// CalculateMessageBudget returns the tokens left for conversation history
// after all fixed allocations. Never negative.
func (c *Compressor) CalculateMessageBudget() int {
	remaining := c.budget.MaxContextTokens - c.budget.Reserved()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// FitMessagesToBudget keeps the longest suffix of messages whose estimated
// tokens fit in budget. It walks newest to oldest and stops at the first
// message that would overflow, so the result never has gaps. The result is
// in chronological order.
func (c *Compressor) FitMessagesToBudget(messages []models.Message, budget int) []models.Message {
	used := 0
	start := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		cost := c.estimator.Estimate(messages[i].Content)
		if used+cost > budget {
			break
		}
		used += cost
		start = i
	}
	out := make([]models.Message, len(messages)-start)
	copy(out, messages[start:])
	return out
}

// truncateToTokens trims text so its estimate fits in tokens.
func (c *Compressor) truncateToTokens(text string, tokens int) string {
	if tokens <= 0 || c.estimator.Estimate(text) <= tokens {
		return text
	}
	runes := []rune(text)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if c.estimator.Estimate(string(runes[:mid])+"...") <= tokens {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return string(runes[:lo]) + "..."
}
