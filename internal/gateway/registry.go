package gateway

import "sync"

// Registry is the process-wide table of live sessions, and the only shared
// mutable structure in the gateway; everything else is session-local.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Insert adds a session under its id.
func (r *Registry) Insert(s *Session) {
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
}

// Get returns the session for id, or (nil, false).
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	return s, ok
}

// Remove takes the session out of the table and releases everything it owns.
// Calling it again for the same id is a no-op; the teardown itself is also
// idempotent, so racing removers are safe.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		s.teardown()
	}
}

// RemoveClient tears down every session bound to c. Called when the client
// channel closes.
func (r *Registry) RemoveClient(c *Client) {
	for _, s := range r.All() {
		if s.client == c {
			r.Remove(s.ID)
		}
	}
}

// All returns a snapshot of the live sessions; the caller may iterate it
// without holding any lock.
func (r *Registry) All() []*Session {
	r.mu.Lock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.Unlock()
	return out
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	n := len(r.sessions)
	r.mu.Unlock()
	return n
}
