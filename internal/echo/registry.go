package echo

import (
	"log/slog"
	"sync"
)

// Registry tracks active echo sessions by ID. It feeds the status API's
// session listing and the shutdown accounting.
type Registry struct {
	log      *slog.Logger
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates a session registry. If log is nil, slog.Default() is used.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:      log.With("component", "session-registry"),
		sessions: make(map[string]*Session),
	}
}

// Add registers a session under its ID, replacing any stale entry.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	r.sessions[s.ID()] = s
	r.mu.Unlock()

	r.log.Debug("session registered", "session", s.ID())
}

// Remove removes a session from the registry.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	_, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if ok {
		r.log.Debug("session removed", "session", id)
	}
}

// Count returns the number of active sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// StatsAll returns counter snapshots for all active sessions.
func (r *Registry) StatsAll() []SessionStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make([]SessionStats, 0, len(r.sessions))
	for _, s := range r.sessions {
		stats = append(stats, s.Stats())
	}
	return stats
}
