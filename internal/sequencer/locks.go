package sequencer

import (
	"sync"

	"github.com/google/uuid"
)

// leadLocks hands out one mutex per lead id. Entries are dropped when the
// last holder unlocks.
type leadLocks struct {
	mu sync.Mutex
	m  map[uuid.UUID]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newLeadLocks() *leadLocks {
	return &leadLocks{m: make(map[uuid.UUID]*lockEntry)}
}

// lock blocks until the lead's mutex is held and returns its release func.
func (l *leadLocks) lock(id uuid.UUID) func() {
	l.mu.Lock()
	e, ok := l.m[id]
	if !ok {
		e = &lockEntry{}
		l.m[id] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.m, id)
		}
		l.mu.Unlock()
	}
}

func (l *leadLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
