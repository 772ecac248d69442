package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/iammorganparry/rolechat-memory/internal/models"
	"github.com/iammorganparry/rolechat-memory/internal/store"
)

const sessionColumns = `id, user_id, character_name, started_at, ended_at, is_active,
	message_count, total_tokens, final_summary,
	wm_summary, wm_key_topics, wm_emotional_state, wm_unresolved_questions,
	wm_last_updated_at_message, wm_updated_at`

// SessionStore handles Session CRUD on SQLite.
type SessionStore struct {
	db *store.DB
}

// NewSessionStore creates a new session store.
func NewSessionStore(db *store.DB) *SessionStore {
	return &SessionStore{db: db}
}

// Create inserts a fresh active session for (user, character).
func (s *SessionStore) Create(ctx context.Context, userID, characterName string, now int64) (*models.Session, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, character_name, started_at, is_active, last_message_at)
		VALUES (?, ?, ?, ?, 1, ?)
	`, id, userID, characterName, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return &models.Session{
		ID:            id,
		UserID:        userID,
		CharacterName: characterName,
		StartedAt:     now,
		IsActive:      true,
		Messages:      []models.Message{},
	}, nil
}

// GetActive returns the most recently started active session and the total
// number of active sessions found. More than one indicates a data-integrity
// problem the caller should log.
func (s *SessionStore) GetActive(ctx context.Context, userID, characterName string) (*models.Session, int, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM sessions
		WHERE user_id = ? AND character_name = ? AND is_active = 1
		ORDER BY started_at DESC, rowid DESC`, sessionColumns),
		userID, characterName)
	if err != nil {
		return nil, 0, fmt.Errorf("get active session: %w", err)
	}
	list, err := scanSessions(rows)
	rows.Close()
	if err != nil {
		return nil, 0, err
	}
	if len(list) == 0 {
		return nil, 0, nil
	}

	sess := list[0]
	if err := s.loadMessages(ctx, sess); err != nil {
		return nil, 0, err
	}
	return sess, len(list), nil
}

// GetByID fetches a session with its messages.
func (s *SessionStore) GetByID(ctx context.Context, id string) (*models.Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM sessions WHERE id = ?`, sessionColumns), id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if err := s.loadMessages(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// AppendMessages adds messages to an active session in order and updates
// the session counters in one transaction.
func (s *SessionStore) AppendMessages(ctx context.Context, sessionID string, msgs []models.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	var count int
	var active bool
	err = tx.QueryRowContext(ctx,
		`SELECT message_count, is_active FROM sessions WHERE id = ?`, sessionID).Scan(&count, &active)
	if err == sql.ErrNoRows {
		return fmt.Errorf("append to %s: %w", sessionID, store.ErrSessionNotFound)
	}
	if err != nil {
		return fmt.Errorf("load session counters: %w", err)
	}
	if !active {
		return fmt.Errorf("append to %s: %w", sessionID, store.ErrSessionEnded)
	}

	tokens := 0
	var last int64
	for i, m := range msgs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (session_id, seq, role, content, token_count, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, sessionID, count+i, string(m.Role), m.Content, m.TokenCount, m.Timestamp); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		tokens += m.TokenCount
		last = m.Timestamp
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions SET
			message_count = message_count + ?,
			total_tokens = total_tokens + ?,
			last_message_at = MAX(last_message_at, ?)
		WHERE id = ?
	`, len(msgs), tokens, last, sessionID); err != nil {
		return fmt.Errorf("update session counters: %w", err)
	}

	return tx.Commit()
}

// UpdateWorkingMemory replaces the working memory of an active session.
func (s *SessionStore) UpdateWorkingMemory(ctx context.Context, sessionID string, wm *models.WorkingMemory) error {
	topics, _ := json.Marshal(nonNil(wm.KeyTopics))
	questions, _ := json.Marshal(nonNil(wm.UnresolvedQuestions))
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET
			wm_summary = ?,
			wm_key_topics = ?,
			wm_emotional_state = ?,
			wm_unresolved_questions = ?,
			wm_last_updated_at_message = ?,
			wm_updated_at = ?
		WHERE id = ? AND is_active = 1
	`, wm.Summary, string(topics), wm.UserEmotionalState, string(questions),
		wm.LastUpdatedAtMessage, wm.UpdatedAt, sessionID)
	if err != nil {
		return fmt.Errorf("update working memory: %w", err)
	}
	return s.checkMutated(ctx, res, sessionID)
}

// End flips the session inactive, stamps ended_at and stores the summary.
// The working memory columns are cleared since the final summary supersedes them.
func (s *SessionStore) End(ctx context.Context, sessionID, finalSummary string, now int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET
			is_active = 0,
			ended_at = ?,
			final_summary = ?,
			wm_summary = NULL,
			wm_key_topics = NULL,
			wm_emotional_state = NULL,
			wm_unresolved_questions = NULL,
			wm_last_updated_at_message = NULL,
			wm_updated_at = NULL
		WHERE id = ? AND is_active = 1
	`, now, finalSummary, sessionID)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return s.checkMutated(ctx, res, sessionID)
}

// LastSummary returns the final summary of the most recently ended session.
func (s *SessionStore) LastSummary(ctx context.Context, userID, characterName string) (string, error) {
	var summary string
	err := s.db.QueryRowContext(ctx, `
		SELECT final_summary FROM sessions
		WHERE user_id = ? AND character_name = ? AND is_active = 0
			AND final_summary IS NOT NULL AND final_summary <> ''
		ORDER BY ended_at DESC
		LIMIT 1
	`, userID, characterName).Scan(&summary)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("last session summary: %w", err)
	}
	return summary, nil
}

// ListEnded returns recently ended sessions without their messages.
func (s *SessionStore) ListEnded(ctx context.Context, userID, characterName string, limit int) ([]*models.Session, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM sessions
		WHERE user_id = ? AND character_name = ? AND is_active = 0
		ORDER BY ended_at DESC
		LIMIT ?`, sessionColumns),
		userID, characterName, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

// CountEnded returns how many sessions have ended for (user, character).
func (s *SessionStore) CountEnded(ctx context.Context, userID, characterName string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sessions
		WHERE user_id = ? AND character_name = ? AND is_active = 0
	`, userID, characterName).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

// ListIdle returns active sessions whose last activity is before cutoff.
func (s *SessionStore) ListIdle(ctx context.Context, cutoff int64, limit int) ([]*models.Session, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM sessions
		WHERE is_active = 1 AND last_message_at < ?
		ORDER BY last_message_at ASC
		LIMIT ?`, sessionColumns), cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list idle sessions: %w", err)
	}
	list, err := scanSessions(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	for _, sess := range list {
		if err := s.loadMessages(ctx, sess); err != nil {
			return nil, err
		}
	}
	return list, nil
}

func (s *SessionStore) loadMessages(ctx context.Context, sess *models.Session) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, token_count, created_at FROM messages
		WHERE session_id = ? ORDER BY seq ASC
	`, sess.ID)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	sess.Messages = []models.Message{}
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.Role, &m.Content, &m.TokenCount, &m.Timestamp); err != nil {
			return fmt.Errorf("scan message: %w", err)
		}
		sess.Messages = append(sess.Messages, m)
	}
	return rows.Err()
}

// checkMutated distinguishes a missing session from an ended one when an
// UPDATE guarded by is_active touched no rows.
func (s *SessionStore) checkMutated(ctx context.Context, res sql.Result, sessionID string) error {
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var active bool
	err := s.db.QueryRowContext(ctx, `SELECT is_active FROM sessions WHERE id = ?`, sessionID).Scan(&active)
	if err == sql.ErrNoRows {
		return fmt.Errorf("session %s: %w", sessionID, store.ErrSessionNotFound)
	}
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	return fmt.Errorf("session %s: %w", sessionID, store.ErrSessionEnded)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var sess models.Session
	var endedAt, wmUpdatedAt sql.NullInt64
	var wmLastAt sql.NullInt64
	var finalSummary, wmSummary, wmTopics, wmEmotion, wmQuestions sql.NullString

	err := row.Scan(
		&sess.ID, &sess.UserID, &sess.CharacterName, &sess.StartedAt, &endedAt, &sess.IsActive,
		&sess.MessageCount, &sess.TotalTokens, &finalSummary,
		&wmSummary, &wmTopics, &wmEmotion, &wmQuestions,
		&wmLastAt, &wmUpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if endedAt.Valid {
		sess.EndedAt = &endedAt.Int64
	}
	sess.FinalSummary = finalSummary.String
	if wmLastAt.Valid {
		wm := &models.WorkingMemory{
			SessionID:            sess.ID,
			Summary:              wmSummary.String,
			UserEmotionalState:   wmEmotion.String,
			LastUpdatedAtMessage: int(wmLastAt.Int64),
			UpdatedAt:            wmUpdatedAt.Int64,
		}
		if wmTopics.Valid {
			json.Unmarshal([]byte(wmTopics.String), &wm.KeyTopics)
		}
		if wmQuestions.Valid {
			json.Unmarshal([]byte(wmQuestions.String), &wm.UnresolvedQuestions)
		}
		sess.WorkingMemory = wm
	}
	return &sess, nil
}

func scanSessions(rows *sql.Rows) ([]*models.Session, error) {
	var result []*models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		result = append(result, sess)
	}
	return result, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
