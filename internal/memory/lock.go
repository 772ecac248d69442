package memory

import (
	"sync"

	"github.com/iammorganparry/rolechat-memory/internal/models"
)

// keyedLock serializes turns for one (user, character) pair within the
// process. Entries are reference counted and dropped when unused.
type keyedLock struct {
	mu    sync.Mutex
	locks map[string]*keyEntry
}

type keyEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedLock() *keyedLock {
	return &keyedLock{locks: make(map[string]*keyEntry)}
}

func turnKey(userID, characterName string) string {
	return userID + "\x00" + characterName
}

// Lock blocks until key is free and returns the matching unlock func.
func (k *keyedLock) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// pendingWorkingMemory holds working memory produced by detached
// post-processing until the next locked call for the session picks it up.
type pendingWorkingMemory struct {
	mu sync.Mutex
	wm map[string]*models.WorkingMemory
}

func newPendingWorkingMemory() *pendingWorkingMemory {
	return &pendingWorkingMemory{wm: make(map[string]*models.WorkingMemory)}
}

func (p *pendingWorkingMemory) put(wm *models.WorkingMemory) {
	if wm == nil {
		return
	}
	p.mu.Lock()
	p.wm[wm.SessionID] = wm
	p.mu.Unlock()
}

func (p *pendingWorkingMemory) take(sessionID string) *models.WorkingMemory {
	p.mu.Lock()
	defer p.mu.Unlock()
	wm := p.wm[sessionID]
	delete(p.wm, sessionID)
	return wm
}

// apply moves pending working memory onto sess unless sess already holds a
// newer one. The caller holds the session's turn lock.
func (p *pendingWorkingMemory) apply(sess *models.Session) {
	wm := p.take(sess.ID)
	if wm == nil {
		return
	}
	if sess.WorkingMemory != nil && sess.WorkingMemory.LastUpdatedAtMessage >= wm.LastUpdatedAtMessage {
		return
	}
	sess.WorkingMemory = wm
}
