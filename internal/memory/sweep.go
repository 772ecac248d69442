package memory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/iammorganparry/rolechat-memory/internal/attention"
	"github.com/iammorganparry/rolechat-memory/internal/models"
	"github.com/iammorganparry/rolechat-memory/internal/sessions"
)

const sweepBatch = 100

// stalePruner is implemented by embedders that keep a persistent cache.
type stalePruner interface {
	PruneStale(ctx context.Context) (int, error)
}

// Sweeper reconciles documents with the vector index and closes idle
// sessions. Each pass is bounded and safe to run concurrently with turns.
type Sweeper struct {
	svc    *Service
	logger *slog.Logger
}

func NewSweeper(svc *Service, logger *slog.Logger) *Sweeper {
	return &Sweeper{svc: svc, logger: logger}
}

// Sweep runs one pass: reindex unindexed memories, retry tombstoned vector
// deletes, close idle sessions, count low-retention memories and drop cached
// embeddings from retired models.
func (w *Sweeper) Sweep(ctx context.Context) (*models.SweepReport, error) {
	report := &models.SweepReport{}

	if err := w.reindex(ctx, report); err != nil {
		return report, err
	}
	if err := w.purgeTombstones(ctx, report); err != nil {
		return report, err
	}
	if err := w.closeIdle(ctx, report); err != nil {
		return report, err
	}
	if err := w.countLowRetention(ctx, report); err != nil {
		return report, err
	}
	if p, ok := w.svc.embedder.(stalePruner); ok {
		n, err := p.PruneStale(ctx)
		if err != nil {
			w.logger.Warn("embedding cache prune failed", "error", err)
		}
		report.CachePruned = n
	}

	if report.Reindexed+report.ReindexFailed+report.TombstonesFixed+report.SessionsClosed+report.CachePruned > 0 {
		w.logger.Info("sweep complete",
			"reindexed", report.Reindexed,
			"reindex_failed", report.ReindexFailed,
			"tombstones_fixed", report.TombstonesFixed,
			"sessions_closed", report.SessionsClosed,
			"low_retention", report.LowRetention,
			"cache_pruned", report.CachePruned,
		)
	}
	return report, nil
}

func (w *Sweeper) reindex(ctx context.Context, report *models.SweepReport) error {
	repo := w.svc.repo
	list, err := repo.memories.ListUnindexed(ctx, sweepBatch)
	if err != nil {
		return fmt.Errorf("list unindexed: %w", err)
	}
	for _, m := range list {
		vec, err := w.svc.embedder.Embed(ctx, m.Content)
		if err == nil {
			err = repo.indexMemory(ctx, m, vec)
		}
		if err != nil {
			w.logger.Warn("reindex failed", "memory_id", m.ID, "error", err)
			report.ReindexFailed++
			if err := repo.memories.MarkIndexAttempt(ctx, m.ID, w.svc.now().Unix()); err != nil {
				return err
			}
			continue
		}
		report.Reindexed++
	}
	return nil
}

func (w *Sweeper) purgeTombstones(ctx context.Context, report *models.SweepReport) error {
	repo := w.svc.repo
	list, err := repo.tombstones.List(ctx, sweepBatch)
	if err != nil {
		return fmt.Errorf("list tombstones: %w", err)
	}
	for _, t := range list {
		if err := repo.index.DeletePoints(ctx, t.Collection, []string{t.EmbeddingID}); err != nil {
			w.logger.Warn("tombstoned vector delete failed", "embedding_id", t.EmbeddingID, "error", err)
			continue
		}
		if err := repo.tombstones.Remove(ctx, t.EmbeddingID, t.Collection); err != nil {
			return fmt.Errorf("remove tombstone: %w", err)
		}
		report.TombstonesFixed++
	}
	return nil
}

func (w *Sweeper) closeIdle(ctx context.Context, report *models.SweepReport) error {
	s := w.svc
	cutoff := s.now().Add(-s.opts.SessionTimeout).Unix()
	idle, err := s.repo.sessions.ListIdle(ctx, cutoff, sweepBatch)
	if err != nil {
		return fmt.Errorf("list idle sessions: %w", err)
	}
	for _, candidate := range idle {
		closed, err := w.closeIfIdle(ctx, candidate)
		if err != nil {
			w.logger.Warn("failed to close idle session", "session_id", candidate.ID, "error", err)
			continue
		}
		if closed {
			report.SessionsClosed++
		}
	}
	return nil
}

// closeIfIdle re-reads the session under the turn lock so a turn that
// landed after the listing keeps its session open.
func (w *Sweeper) closeIfIdle(ctx context.Context, candidate *models.Session) (bool, error) {
	s := w.svc
	unlock := s.locks.Lock(turnKey(candidate.UserID, candidate.CharacterName))
	defer unlock()

	sess, err := s.repo.sessions.GetByID(ctx, candidate.ID)
	if err != nil || sess == nil || !sess.IsActive {
		return false, err
	}
	if !sessions.IsTimedOut(sess, s.now(), s.opts.SessionTimeout) {
		return false, nil
	}
	if err := s.closeSession(ctx, sess); err != nil {
		return false, err
	}
	return true, nil
}

func (w *Sweeper) countLowRetention(ctx context.Context, report *models.SweepReport) error {
	now := w.svc.now()
	after := ""
	for {
		page, err := w.svc.repo.memories.ListPage(ctx, after, sweepBatch)
		if err != nil {
			return fmt.Errorf("list memories: %w", err)
		}
		for _, m := range page {
			if attention.RetentionScore(m, now) < attention.RetentionThreshold {
				report.LowRetention++
			}
		}
		if len(page) < sweepBatch {
			return nil
		}
		after = page[len(page)-1].ID
	}
}
