package session

import (
	"sync"

	"github.com/swe-agent/swe-rex/internal/logging"
	"github.com/swe-agent/swe-rex/pkg/types"
)

// Registry is a keyed collection of live sessions. Its own mutex guards
// only the map and is never held across a session operation, so a slow
// command in one session cannot convoy the others.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]Session),
	}
}

// Add stores a session under a unique name.
func (r *Registry) Add(name string, s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[name]; ok {
		return types.NewSessionExistsError(name)
	}
	r.sessions[name] = s
	return nil
}

// Get looks up a session by name.
func (r *Registry) Get(name string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[name]
	if !ok {
		return nil, types.NewSessionDoesNotExistError(name)
	}
	return s, nil
}

// Remove unregisters the session and closes it. The name becomes free
// immediately; the close itself waits for any in-flight command. A
// close failure is logged, not fatal — the child is force-terminated
// either way.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	s, ok := r.sessions[name]
	if ok {
		delete(r.sessions, name)
	}
	r.mu.Unlock()

	if !ok {
		return types.NewSessionDoesNotExistError(name)
	}
	if err := s.Close(); err != nil {
		logging.Warn("failed to close session cleanly",
			logging.String("session", name),
			logging.Err(err),
		)
	}
	return nil
}

// CloseAll closes every session, collecting errors. Idempotent.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make(map[string]Session, len(r.sessions))
	for name, s := range r.sessions {
		sessions[name] = s
	}
	r.sessions = make(map[string]Session)
	r.mu.Unlock()

	for name, s := range sessions {
		if err := s.Close(); err != nil {
			logging.Warn("failed to close session cleanly",
				logging.String("session", name),
				logging.Err(err),
			)
		}
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
