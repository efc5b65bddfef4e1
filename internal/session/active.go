package session

import (
	"os"
	"sync"
)

// handle bundles one session's three open descriptors, closed together
// when the session ends normally or is force-closed by SIGUSR1 (spec.md
// §4.7 ActiveSessions state).
type handle struct {
	req   *os.File
	resp  *os.File
	notif *os.File
}

func (h *handle) closeAll() {
	h.req.Close()
	h.resp.Close()
	h.notif.Close()
}

// ActiveSessions tracks every currently-open session so SIGUSR1 can force
// them all closed (spec.md §4.7-4.8): a set guarded by one mutex.
type ActiveSessions struct {
	mu       sync.Mutex
	sessions map[*handle]struct{}
}

// NewActiveSessions creates an empty session set.
func NewActiveSessions() *ActiveSessions {
	return &ActiveSessions{sessions: make(map[*handle]struct{})}
}

func (a *ActiveSessions) add(h *handle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions[h] = struct{}{}
}

func (a *ActiveSessions) remove(h *handle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sessions, h)
}

// ForceCloseAll closes every active session's descriptors and empties the
// set. Each session worker's next read observes the resulting EOF/error
// and cleans itself up on its own (spec.md §4.7 step 5, §4.8).
func (a *ActiveSessions) ForceCloseAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for h := range a.sessions {
		h.closeAll()
	}
	a.sessions = make(map[*handle]struct{})
}

// Count returns the number of currently active sessions, for metrics and
// admission bookkeeping.
func (a *ActiveSessions) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}
