// Package memory is the facade the chat layer talks to: session lifecycle,
// pre-chat context assembly and post-chat recording and extraction.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/iammorganparry/rolechat-memory/internal/assembly"
	"github.com/iammorganparry/rolechat-memory/internal/embedding"
	"github.com/iammorganparry/rolechat-memory/internal/extraction"
	"github.com/iammorganparry/rolechat-memory/internal/models"
	"github.com/iammorganparry/rolechat-memory/internal/sessions"
	"github.com/iammorganparry/rolechat-memory/internal/store"
)

// ErrNoSession is returned when a turn is processed without a session.
var ErrNoSession = assembly.ErrNoSession

// recentSessionsForSummary bounds the message total in GetConversationSummary.
const recentSessionsForSummary = 5

// Options tunes session lifecycle and post-processing.
type Options struct {
	SessionTimeout time.Duration
	UpdateInterval int
	// AsyncPostProcess runs extraction and the working-memory refresh
	// detached from the caller. The turn lock stays held until they finish.
	AsyncPostProcess bool
}

// Service is the main facade for all memory operations.
type Service struct {
	repo       *Repository
	extractor  *extraction.Extractor
	summarizer *sessions.Summarizer
	assembler  *assembly.Assembler
	embedder   embedding.Embedder
	estimator  assembly.TokenEstimator
	opts       Options
	locks      *keyedLock
	pending    *pendingWorkingMemory
	inflight   sync.WaitGroup
	logger     *slog.Logger
	now        func() time.Time
}

// NewService creates a new memory service with all dependencies.
func NewService(
	repo *Repository,
	extractor *extraction.Extractor,
	summarizer *sessions.Summarizer,
	assembler *assembly.Assembler,
	embedder embedding.Embedder,
	estimator assembly.TokenEstimator,
	opts Options,
	logger *slog.Logger,
) *Service {
	if opts.SessionTimeout <= 0 {
		opts.SessionTimeout = sessions.DefaultTimeout
	}
	if opts.UpdateInterval <= 0 {
		opts.UpdateInterval = sessions.DefaultUpdateInterval
	}
	if estimator == nil {
		estimator = assembly.CharRatioEstimator{CharsPerToken: 4}
	}
	return &Service{
		repo:       repo,
		extractor:  extractor,
		summarizer: summarizer,
		assembler:  assembler,
		embedder:   embedder,
		estimator:  estimator,
		opts:       opts,
		locks:      newKeyedLock(),
		pending:    newPendingWorkingMemory(),
		logger:     logger,
		now:        time.Now,
	}
}

// SetClock overrides the time source. Used by tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
	s.repo.now = now
	s.assembler.SetClock(now)
}

// Repository exposes the underlying store for maintenance jobs.
func (s *Service) Repository() *Repository { return s.repo }

// GetOrCreateSession returns the active session for the pair. A session
// idle past the timeout is closed with a generated summary and replaced.
func (s *Service) GetOrCreateSession(ctx context.Context, userID, characterName string) (*models.Session, bool, error) {
	unlock := s.locks.Lock(turnKey(userID, characterName))
	defer unlock()
	return s.resolveSession(ctx, userID, characterName)
}

// resolveSession is GetOrCreateSession with the turn lock already held.
func (s *Service) resolveSession(ctx context.Context, userID, characterName string) (*models.Session, bool, error) {
	sess, isNew, err := s.repo.GetOrCreateSession(ctx, userID, characterName)
	if err != nil {
		return nil, false, fmt.Errorf("get or create session: %w", err)
	}
	// the stored row already carries any working memory written in the background
	s.pending.take(sess.ID)
	if isNew || len(sess.Messages) == 0 || !sessions.IsTimedOut(sess, s.now(), s.opts.SessionTimeout) {
		return sess, isNew, nil
	}

	s.logger.Info("session timed out, starting a new one",
		"session_id", sess.ID, "user_id", userID, "character", characterName)
	if err := s.closeSession(ctx, sess); err != nil {
		return nil, false, err
	}
	sess, isNew, err = s.repo.GetOrCreateSession(ctx, userID, characterName)
	if err != nil {
		return nil, false, fmt.Errorf("create session after timeout: %w", err)
	}
	return sess, isNew, nil
}

// AssembleContext builds the prompt context for the next turn.
func (s *Service) AssembleContext(ctx context.Context, userID, characterName, characterProfile, currentMessage string, sess *models.Session) (*models.AssembledContext, error) {
	if sess == nil || sess.ID == "" {
		return nil, ErrNoSession
	}
	unlock := s.locks.Lock(turnKey(userID, characterName))
	defer unlock()

	s.pending.apply(sess)
	return s.assembler.Assemble(ctx, userID, characterName, characterProfile, currentMessage, sess)
}

// ProcessMessageExchange records one user/assistant exchange, then extracts
// memories and refreshes working memory. Only the message write can fail
// the call; everything after it degrades and logs.
func (s *Service) ProcessMessageExchange(ctx context.Context, sess *models.Session, userMessage, assistantResponse string, userTokens, assistantTokens int) (*models.Session, error) {
	if sess == nil || sess.ID == "" {
		return nil, ErrNoSession
	}
	unlock := s.locks.Lock(turnKey(sess.UserID, sess.CharacterName))
	s.pending.apply(sess)
	return s.recordExchange(ctx, sess, userMessage, assistantResponse, userTokens, assistantTokens, unlock)
}

// RecordTurn resolves the active session for the pair and records the
// exchange in it without releasing the turn lock in between, so concurrent
// turns never work from the same stale session.
func (s *Service) RecordTurn(ctx context.Context, userID, characterName, userMessage, assistantResponse string, userTokens, assistantTokens int) (*models.Session, error) {
	unlock := s.locks.Lock(turnKey(userID, characterName))
	sess, _, err := s.resolveSession(ctx, userID, characterName)
	if err != nil {
		unlock()
		return nil, err
	}
	return s.recordExchange(ctx, sess, userMessage, assistantResponse, userTokens, assistantTokens, unlock)
}

// recordExchange owns unlock: it releases the turn lock on failure, after
// synchronous post-processing, or when the detached post-processing ends.
func (s *Service) recordExchange(ctx context.Context, sess *models.Session, userMessage, assistantResponse string, userTokens, assistantTokens int, unlock func()) (*models.Session, error) {
	if userTokens <= 0 {
		userTokens = s.estimator.Estimate(userMessage)
	}
	if assistantTokens <= 0 {
		assistantTokens = s.estimator.Estimate(assistantResponse)
	}
	now := s.now().Unix()
	msgs := []models.Message{
		{Role: models.RoleUser, Content: userMessage, Timestamp: now, TokenCount: userTokens},
		{Role: models.RoleAssistant, Content: assistantResponse, Timestamp: now, TokenCount: assistantTokens},
	}
	if err := s.repo.sessions.AppendMessages(ctx, sess.ID, msgs); err != nil {
		unlock()
		return nil, fmt.Errorf("record exchange: %w", err)
	}

	sess.Messages = append(sess.Messages, msgs...)
	sess.MessageCount += len(msgs)
	sess.TotalTokens += userTokens + assistantTokens

	if s.opts.AsyncPostProcess {
		// the caller keeps sess, so the detached work runs on a copy and
		// hands any new working memory back through s.pending
		snapshot := cloneSession(sess)
		before := snapshot.WorkingMemory
		bg := context.WithoutCancel(ctx)
		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			defer unlock()
			s.postProcess(bg, snapshot)
			if snapshot.WorkingMemory != before {
				s.pending.put(snapshot.WorkingMemory)
			}
		}()
		return sess, nil
	}

	defer unlock()
	s.postProcess(ctx, sess)
	return sess, nil
}

// postProcess runs extraction and, when due, the working-memory refresh.
func (s *Service) postProcess(ctx context.Context, sess *models.Session) {
	s.extractAndStore(ctx, sess)
	if sessions.NeedsSummaryUpdate(sess, s.opts.UpdateInterval) {
		s.refreshWorkingMemory(ctx, sess)
	}
}

func (s *Service) extractAndStore(ctx context.Context, sess *models.Session) {
	memories, entities := s.extractor.ExtractFromMessages(ctx, sess.UserID, sess.CharacterName, sess.Messages, sess.ID)

	for _, m := range memories {
		vec, err := s.embedder.Embed(ctx, m.Content)
		if err != nil {
			s.logger.Warn("memory embedding failed, storing unindexed",
				"session_id", sess.ID, "user_id", sess.UserID, "error", err)
			vec = nil
		}
		if _, err := s.repo.CreateMemory(ctx, m, vec); err != nil {
			s.logger.Warn("failed to store memory",
				"session_id", sess.ID, "user_id", sess.UserID, "error", err)
		}
	}

	for _, e := range entities {
		if _, err := s.repo.UpsertEntity(ctx, e); err != nil {
			s.logger.Warn("failed to store entity",
				"session_id", sess.ID, "user_id", sess.UserID, "entity", e.Name, "error", err)
		}
	}
}

func (s *Service) refreshWorkingMemory(ctx context.Context, sess *models.Session) {
	from := 0
	previous := ""
	if sess.WorkingMemory != nil {
		from = sess.WorkingMemory.LastUpdatedAtMessage
		previous = sess.WorkingMemory.Summary
	}
	if from > len(sess.Messages) {
		from = len(sess.Messages)
	}
	fresh := sess.Messages[from:]
	if len(fresh) == 0 {
		return
	}

	update := s.summarizer.UpdateWorkingMemory(ctx, previous, fresh, sess.CharacterName)
	wm := &models.WorkingMemory{
		SessionID:            sess.ID,
		Summary:              update.Summary,
		KeyTopics:            update.KeyTopics,
		UserEmotionalState:   update.EmotionalState,
		UnresolvedQuestions:  update.UnresolvedQuestions,
		LastUpdatedAtMessage: sess.MessageCount,
		UpdatedAt:            s.now().Unix(),
	}
	if err := s.repo.sessions.UpdateWorkingMemory(ctx, sess.ID, wm); err != nil {
		s.logger.Warn("failed to persist working memory",
			"session_id", sess.ID, "user_id", sess.UserID, "error", err)
		return
	}
	sess.WorkingMemory = wm
}

// EndSession closes an active session with a generated summary.
func (s *Service) EndSession(ctx context.Context, sessionID string) (*models.Session, error) {
	sess, err := s.repo.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("end session %s: %w", sessionID, store.ErrSessionNotFound)
	}
	if !sess.IsActive {
		return nil, fmt.Errorf("end session %s: %w", sessionID, store.ErrSessionEnded)
	}

	unlock := s.locks.Lock(turnKey(sess.UserID, sess.CharacterName))
	defer unlock()

	if err := s.closeSession(ctx, sess); err != nil {
		return nil, err
	}
	return s.repo.sessions.GetByID(ctx, sessionID)
}

// closeSession summarizes and ends sess. An empty session ends without a
// summary so it never surfaces as episodic memory.
func (s *Service) closeSession(ctx context.Context, sess *models.Session) error {
	s.pending.apply(sess)
	summary := ""
	if len(sess.Messages) > 0 {
		wmSummary := ""
		if sess.WorkingMemory != nil {
			wmSummary = sess.WorkingMemory.Summary
		}
		summary = s.summarizer.CreateSessionSummary(ctx, sess.Messages, wmSummary, sess.CharacterName)
	}
	if err := s.repo.EndSession(ctx, sess.ID, summary); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// GetConversationSummary aggregates history between a user and a character.
func (s *Service) GetConversationSummary(ctx context.Context, userID, characterName string) (*models.ConversationSummary, error) {
	ended, err := s.repo.sessions.CountEnded(ctx, userID, characterName)
	if err != nil {
		return nil, err
	}
	recent, err := s.repo.sessions.ListEnded(ctx, userID, characterName, recentSessionsForSummary)
	if err != nil {
		return nil, err
	}
	active, _, err := s.repo.sessions.GetActive(ctx, userID, characterName)
	if err != nil {
		return nil, err
	}
	memories, err := s.repo.memories.CountByScope(ctx, userID, characterName)
	if err != nil {
		return nil, err
	}
	entities, err := s.repo.entities.CountForUser(ctx, userID, characterName)
	if err != nil {
		return nil, err
	}

	out := &models.ConversationSummary{
		TotalSessions: ended,
		TotalMemories: memories,
		TotalEntities: entities,
	}
	for _, sess := range recent {
		out.TotalMessages += sess.MessageCount
	}
	if len(recent) > 0 {
		out.LastSessionSummary = recent[0].FinalSummary
	}
	if active != nil {
		out.TotalSessions++
		out.TotalMessages += active.MessageCount
		out.ActiveSession = &models.ActiveSessionInfo{
			ID:           active.ID,
			MessageCount: active.MessageCount,
			StartedAt:    active.StartedAt,
		}
	}
	return out, nil
}

// ListMemories returns the pair's memories, most important first.
func (s *Service) ListMemories(ctx context.Context, userID, characterName string, limit int) ([]*models.Memory, error) {
	return s.repo.ListMemories(ctx, userID, characterName, limit)
}

// ListEntities returns what is known about the user for this character.
func (s *Service) ListEntities(ctx context.Context, userID, characterName string, limit int) ([]*models.Entity, error) {
	return s.repo.ListEntities(ctx, userID, characterName, limit)
}

// DeleteMemory forgets one memory. It reports false when id is unknown.
func (s *Service) DeleteMemory(ctx context.Context, id string) (bool, error) {
	return s.repo.DeleteMemory(ctx, id)
}

// ClearUserMemories deletes every memory for the pair and returns the count.
// Entities and sessions are kept.
func (s *Service) ClearUserMemories(ctx context.Context, userID, characterName string) (int, error) {
	unlock := s.locks.Lock(turnKey(userID, characterName))
	defer unlock()

	list, err := s.repo.ListMemories(ctx, userID, characterName, 0)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, m := range list {
		ok, err := s.repo.DeleteMemory(ctx, m.ID)
		if err != nil {
			s.logger.Warn("failed to delete memory", "memory_id", m.ID, "error", err)
			continue
		}
		if ok {
			deleted++
		}
	}
	return deleted, nil
}

// Close waits for detached post-processing to finish.
func (s *Service) Close() {
	s.inflight.Wait()
}

func cloneSession(sess *models.Session) *models.Session {
	c := *sess
	c.Messages = append([]models.Message(nil), sess.Messages...)
	if sess.WorkingMemory != nil {
		wm := *sess.WorkingMemory
		c.WorkingMemory = &wm
	}
	return &c
}
