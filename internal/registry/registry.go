// Package registry holds the server's shared table of live sessions. It is the
// only state mutated by multiple goroutines; a single mutex serializes every
// mutation and snapshot, and no network I/O ever happens while it is held.
package registry

import (
	"net"
	"sync"
)

// Registry is an ordered mapping from session id to Session. Insertion order
// is acceptance order and determines the roster listing order shown to
// clients. A session is visible to broadcast iff it is present here.
type Registry struct {
	mu     sync.RWMutex
	nextID uint32
	order  []*Session
	byID   map[uint32]*Session
}

// NewRegistry returns an empty registry. Session ids start at 1; 0 is never
// assigned.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[uint32]*Session)}
}

// Register wraps the connection in a new Session, assigns it the next
// monotonic id, and appends it to the roster order. It never fails. Ids are
// never reused within the process lifetime, even after removal.
func (r *Registry) Register(conn net.Conn) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	s := newSession(r.nextID, conn)
	r.order = append(r.order, s)
	r.byID[s.id] = s
	return s
}

// Remove deletes the session with the given id. Removing an absent id is a
// no-op, so concurrent disconnect paths can race on removal safely.
func (r *Registry) Remove(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[id]; !ok {
		return
	}

	delete(r.byID, id)
	for i, s := range r.order {
		if s.id == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Snapshot returns a point-in-time copy of current membership in acceptance
// order. The returned slice is the caller's own; a concurrent register or
// remove cannot corrupt an iteration over it.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, len(r.order))
	copy(out, r.order)
	return out
}

// Names returns the display names of sessions that have completed the
// handshake, in acceptance order. Half-admitted sessions are not listed.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.order))
	for _, s := range r.order {
		if name := s.Name(); name != "" {
			names = append(names, name)
		}
	}

	return names
}

// Len returns the number of registered sessions, named or not.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
