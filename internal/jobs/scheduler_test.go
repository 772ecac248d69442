package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iammorganparry/rolechat-memory/internal/models"
)

type fakeSweeper struct {
	runs atomic.Int32
	done chan struct{}
	err  error
}

func (f *fakeSweeper) Sweep(ctx context.Context) (*models.SweepReport, error) {
	if f.runs.Add(1) == 1 {
		close(f.done)
	}
	return &models.SweepReport{}, f.err
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSchedulerRunsSweep(t *testing.T) {
	for name, sweepErr := range map[string]error{"success": nil, "failure": errors.New("db locked")} {
		t.Run(name, func(t *testing.T) {
			sweeper := &fakeSweeper{done: make(chan struct{}), err: sweepErr}
			s, err := NewScheduler("* * * * * *", sweeper, time.Second, discard())
			if err != nil {
				t.Fatalf("new scheduler: %v", err)
			}
			s.Start(context.Background())
			defer s.Stop()

			select {
			case <-sweeper.done:
			case <-time.After(3 * time.Second):
				t.Fatal("sweep never ran")
			}
		})
	}
}

func TestSchedulerRejectsBadSchedule(t *testing.T) {
	if _, err := NewScheduler("every tuesday", &fakeSweeper{}, 0, discard()); err == nil {
		t.Fatal("expected an invalid schedule error")
	}
	// five-field expressions lack the seconds column
	if _, err := NewScheduler("*/15 * * * *", &fakeSweeper{}, 0, discard()); err == nil {
		t.Fatal("expected a five-field schedule to be rejected")
	}
}

func TestSchedulerStopBeforeStart(t *testing.T) {
	s, err := NewScheduler("0 */15 * * * *", &fakeSweeper{}, 0, discard())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	s.Stop()
}
