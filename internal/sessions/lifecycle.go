package sessions

import (
	"time"

	"github.com/iammorganparry/rolechat-memory/internal/models"
)

// DefaultUpdateInterval is how many new messages trigger a working-memory refresh.
const DefaultUpdateInterval = 5

// DefaultTimeout is the idle gap after which a session is closed.
const DefaultTimeout = 2 * time.Hour

// NeedsSummaryUpdate reports whether enough messages arrived since the last
// working-memory refresh. A session without working memory counts from zero.
func NeedsSummaryUpdate(sess *models.Session, interval int) bool {
	if interval <= 0 {
		interval = DefaultUpdateInterval
	}
	last := 0
	if sess.WorkingMemory != nil {
		last = sess.WorkingMemory.LastUpdatedAtMessage
	}
	return sess.MessageCount-last >= interval
}

// IsTimedOut reports whether the gap since the last message exceeds timeout.
func IsTimedOut(sess *models.Session, now time.Time, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	last := time.Unix(sess.LastMessageAt(), 0)
	return now.Sub(last) > timeout
}
