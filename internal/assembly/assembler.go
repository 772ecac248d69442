// Package assembly builds the token-budgeted prompt context for a chat turn.
package assembly

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/iammorganparry/rolechat-memory/internal/attention"
	"github.com/iammorganparry/rolechat-memory/internal/embedding"
	"github.com/iammorganparry/rolechat-memory/internal/models"
)

// ErrNoSession is returned when context is requested without a created session.
var ErrNoSession = errors.New("session is required: call GetOrCreateSession first")

const (
	entityLimit         = 10
	importantMinScore   = 0.8
	importantLimit      = 3
	relevantLimit       = 4
	relevantMinScore    = 0.3
	workingMemoryMinLen = 10
)

// MemorySource is the read side of the memory repository used during assembly.
type MemorySource interface {
	GetImportantMemories(ctx context.Context, userID, characterName string, minImportance float64, limit int) ([]*models.Memory, error)
	SearchMemories(ctx context.Context, userID, characterName string, query []float32, limit int, minImportance float64, types []models.MemoryType) ([]models.ScoredMemory, error)
	ListEntities(ctx context.Context, userID, characterName string, limit int) ([]*models.Entity, error)
	GetLastSessionSummary(ctx context.Context, userID, characterName string) (string, error)
}

// Assembler produces AssembledContext values. Each section degrades on its
// own: a failing dependency empties that section and is logged.
type Assembler struct {
	source     MemorySource
	embedder   embedding.Embedder
	scorer     *attention.Scorer
	threshold  float64
	compressor *Compressor
	logger     *slog.Logger
	now        func() time.Time
}

func NewAssembler(
	source MemorySource,
	embedder embedding.Embedder,
	scorer *attention.Scorer,
	compressor *Compressor,
	logger *slog.Logger,
) *Assembler {
	return &Assembler{
		source:     source,
		embedder:   embedder,
		scorer:     scorer,
		threshold:  attention.DefaultThreshold,
		compressor: compressor,
		logger:     logger,
		now:        time.Now,
	}
}

// SetClock overrides the time source used for scoring.
func (a *Assembler) SetClock(now func() time.Time) { a.now = now }

// Assemble builds the context for one turn, in fixed priority order:
// system prompt, character profile, entities, memories, conversation.
func (a *Assembler) Assemble(ctx context.Context, userID, characterName, characterProfile, currentMessage string, sess *models.Session) (*models.AssembledContext, error) {
	if sess == nil || sess.ID == "" {
		return nil, ErrNoSession
	}

	b := a.compressor.Budget()
	out := &models.AssembledContext{
		SystemPrompt:     BuildSystemPrompt(characterName),
		CharacterContext: characterProfile,
	}

	entities, err := a.source.ListEntities(ctx, userID, characterName, entityLimit)
	if err != nil {
		a.logger.Warn("entity lookup failed, continuing without user context",
			"user_id", userID, "character", characterName, "error", err)
		entities = nil
	}
	out.UserContext = a.compressor.truncateToTokens(FormatEntities(entities), b.UserProfile)

	out.MemoryContext, out.MemoriesIncluded = a.memoryContext(ctx, userID, characterName, currentMessage, sess)

	fitted := a.compressor.FitMessagesToBudget(sess.Messages, a.compressor.CalculateMessageBudget())
	out.ConversationContext = models.FormatMessages(fitted, 0)
	out.MessagesIncluded = len(fitted)

	out.TotalTokens = a.compressor.EstimateTokens(out.SystemPrompt) +
		a.compressor.EstimateTokens(out.CharacterContext) +
		a.compressor.EstimateTokens(out.UserContext) +
		a.compressor.EstimateTokens(out.MemoryContext) +
		a.compressor.EstimateTokens(out.ConversationContext)

	return out, nil
}

func (a *Assembler) memoryContext(ctx context.Context, userID, characterName, currentMessage string, sess *models.Session) (string, int) {
	b := a.compressor.Budget()
	var parts []string
	count := 0

	important, err := a.source.GetImportantMemories(ctx, userID, characterName, importantMinScore, importantLimit)
	if err != nil {
		a.logger.Warn("important memory lookup failed",
			"user_id", userID, "character", characterName, "error", err)
		important = nil
	}
	if lines := a.bulletLines(contents(important), b.ImportantMemories); len(lines) > 0 {
		parts = append(parts, "Key facts about this user:")
		parts = append(parts, lines...)
		count += len(lines)
	}

	if currentMessage != "" {
		relevant := a.relevant(ctx, userID, characterName, currentMessage, important)
		if lines := a.bulletLines(relevant, b.RetrievedMemories); len(lines) > 0 {
			parts = append(parts, "\nRelevant to current conversation:")
			parts = append(parts, lines...)
			count += len(lines)
		}
	}

	last, err := a.source.GetLastSessionSummary(ctx, userID, characterName)
	if err != nil {
		a.logger.Warn("last session summary lookup failed",
			"user_id", userID, "character", characterName, "error", err)
		last = ""
	}
	if last != "" {
		parts = append(parts, "\nFrom our last conversation: "+a.compressor.truncateToTokens(last, b.EpisodicMemory))
		count++
	}

	if sess.MessageCount > workingMemoryMinLen && sess.WorkingMemory != nil && sess.WorkingMemory.Summary != "" {
		parts = append(parts, "\nEarlier in this conversation: "+
			a.compressor.truncateToTokens(sess.WorkingMemory.Summary, b.WorkingMemory))
	}

	return strings.Join(parts, "\n"), count
}

// relevant runs the semantic query, reranks hits with the attention scorer
// and drops anything already in the important set. Any failure yields nil
// so assembly falls back to importance-only memories.
func (a *Assembler) relevant(ctx context.Context, userID, characterName, currentMessage string, important []*models.Memory) []string {
	query, err := a.embedder.Embed(ctx, currentMessage)
	if err != nil {
		a.logger.Warn("query embedding failed, using importance-only memories",
			"user_id", userID, "character", characterName, "error", err)
		return nil
	}

	hits, err := a.source.SearchMemories(ctx, userID, characterName, query, relevantLimit, relevantMinScore, nil)
	if err != nil {
		a.logger.Warn("semantic search failed, using importance-only memories",
			"user_id", userID, "character", characterName, "error", err)
		return nil
	}

	seen := make(map[string]bool, len(important)+len(hits))
	for _, m := range important {
		seen[m.Content] = true
	}

	now := a.now()
	type ranked struct {
		content string
		score   float64
	}
	var kept []ranked
	for _, h := range hits {
		if seen[h.Memory.Content] {
			continue
		}
		seen[h.Memory.Content] = true
		score := a.scorer.Score(h.Memory, h.Score, now)
		if !attention.ShouldInclude(score, a.threshold) {
			continue
		}
		kept = append(kept, ranked{content: h.Memory.Content, score: score})
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].score > kept[j].score })

	out := make([]string, len(kept))
	for i, k := range kept {
		out[i] = k.content
	}
	return out
}

// bulletLines renders contents as bullets until the section allocation is
// spent. The first line is always kept.
func (a *Assembler) bulletLines(contents []string, tokens int) []string {
	var lines []string
	used := 0
	for _, c := range contents {
		line := "  • " + c
		cost := a.compressor.EstimateTokens(line)
		if len(lines) > 0 && tokens > 0 && used+cost > tokens {
			break
		}
		used += cost
		lines = append(lines, line)
	}
	return lines
}

func contents(list []*models.Memory) []string {
	out := make([]string, len(list))
	for i, m := range list {
		out[i] = m.Content
	}
	return out
}
