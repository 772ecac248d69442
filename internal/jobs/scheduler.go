// Package jobs runs periodic maintenance on a cron schedule.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"

	"github.com/iammorganparry/rolechat-memory/internal/models"
)

// Sweeper is the maintenance pass the scheduler drives.
type Sweeper interface {
	Sweep(ctx context.Context) (*models.SweepReport, error)
}

// Scheduler runs the sweep on a seconds-resolution cron expression. A run
// that is still in progress when the next tick fires causes that tick to
// be skipped.
type Scheduler struct {
	cron    *rcron.Cron
	sweeper Sweeper
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler registers the sweep under schedule. timeout bounds each run.
func NewScheduler(schedule string, sweeper Sweeper, timeout time.Duration, logger *slog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		sweeper: sweeper,
		timeout: timeout,
		logger:  logger,
	}
	s.cron = rcron.New(
		rcron.WithSeconds(),
		rcron.WithChain(rcron.SkipIfStillRunning(rcron.DiscardLogger)),
	)
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins scheduling. Runs are cancelled when ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	s.cron.Start()
	s.logger.Info("sweep scheduler started")
}

// Stop halts scheduling and waits for a running sweep to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	<-s.cron.Stop().Done()
}

func (s *Scheduler) run() {
	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}

	ctx := parent
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, s.timeout)
		defer cancel()
	}

	start := time.Now()
	report, err := s.sweeper.Sweep(ctx)
	if err != nil {
		s.logger.Error("sweep failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return
	}
	s.logger.Debug("sweep finished",
		"duration_ms", time.Since(start).Milliseconds(),
		"reindexed", report.Reindexed,
		"sessions_closed", report.SessionsClosed,
	)
}
