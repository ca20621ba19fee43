package bridge

import (
	"sync"

	"github.com/rexliu/vlldb/pkg/engine"
)

// processTable is the state shared by the dispatcher, which sets the active
// process on launch, and the relay, which attributes events to sessions and
// retires processes that reach a terminal state.
type processTable struct {
	mu       sync.RWMutex
	active   engine.Process
	sessions map[int]string
}

func newProcessTable() *processTable {
	return &processTable{sessions: make(map[int]string)}
}

func (t *processTable) setActive(p engine.Process, sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = p
	t.sessions[p.ID()] = sessionID
}

func (t *processTable) getActive() engine.Process {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.active
}

// session returns the session of p, or of the active process when p is nil.
func (t *processTable) session(p engine.Process) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if p == nil {
		if t.active == nil {
			return ""
		}
		p = t.active
	}
	return t.sessions[p.ID()]
}

// retire forgets p and clears it as the active process if it still is.
// It returns the session p belonged to.
func (t *processTable) retire(p engine.Process) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.sessions[p.ID()]
	delete(t.sessions, p.ID())
	if t.active != nil && t.active.ID() == p.ID() {
		t.active = nil
	}
	return id, ok
}
