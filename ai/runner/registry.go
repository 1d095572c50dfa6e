package runner

import (
	"sync"

	"golang.org/x/sync/semaphore"
)

// Registry holds the single active session slot.
type Registry struct {
	slot *semaphore.Weighted

	mu      sync.RWMutex
	current *Session
	last    *Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{slot: semaphore.NewWeighted(1)}
}

// Acquire claims the slot for sess. It fails with ErrSessionActive when a
// session already holds it; it never waits.
func (r *Registry) Acquire(sess *Session) error {
	if !r.slot.TryAcquire(1) {
		return ErrSessionActive
	}
	r.mu.Lock()
	r.current = sess
	r.last = sess
	r.mu.Unlock()
	return nil
}

// Release frees the slot if sess holds it. Releasing twice is a no-op.
func (r *Registry) Release(sess *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess == nil || r.current != sess {
		return false
	}
	r.current = nil
	r.slot.Release(1)
	return true
}

// Current returns the session holding the slot, or nil.
func (r *Registry) Current() *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Last returns the most recently started session, finished or not.
func (r *Registry) Last() *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}
