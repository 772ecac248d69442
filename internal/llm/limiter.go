package llm

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Limiter caps concurrent outbound completions across the process.
type Limiter struct {
	inner ChatModel
	sem   *semaphore.Weighted
}

// WithLimit wraps model so that at most n completions run at once. A
// non-positive n returns model unchanged.
func WithLimit(model ChatModel, n int) ChatModel {
	if n <= 0 {
		return model
	}
	return &Limiter{inner: model, sem: semaphore.NewWeighted(int64(n))}
}

func (l *Limiter) Name() string { return l.inner.Name() }

func (l *Limiter) Complete(ctx context.Context, messages []Message, cfg Config) (string, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("acquire llm slot: %w", err)
	}
	defer l.sem.Release(1)
	return l.inner.Complete(ctx, messages, cfg)
}
