package playback

import (
	"context"
	"sort"
	"sync"

	"github.com/friendsincode/guildplay/internal/telemetry"
)

// Registry maps tenant IDs to sessions, creating them on first use.
type Registry struct {
	cfg  Config
	deps *Deps

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config, deps *Deps) *Registry {
	return &Registry{cfg: cfg, deps: deps, sessions: make(map[string]*Session)}
}

// Get returns the session for tenantID, creating it if needed.
func (r *Registry) Get(tenantID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[tenantID]; ok {
		return s
	}
	s := newSession(tenantID, r.cfg, r.deps)
	r.sessions[tenantID] = s
	telemetry.ActiveSessions.Set(float64(len(r.sessions)))
	return s
}

// Lookup returns an existing session without creating one.
func (r *Registry) Lookup(tenantID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[tenantID]
	return s, ok
}

// Remove closes and forgets the session for tenantID.
func (r *Registry) Remove(ctx context.Context, tenantID string) {
	r.mu.Lock()
	s, ok := r.sessions[tenantID]
	delete(r.sessions, tenantID)
	telemetry.ActiveSessions.Set(float64(len(r.sessions)))
	r.mu.Unlock()
	if ok {
		s.close(ctx)
	}
}

// List returns the sessions ordered by tenant ID.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].tenantID < out[j].tenantID })
	return out
}

// Len is the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll closes every session.
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.close(ctx)
		}()
	}
	wg.Wait()
	telemetry.ActiveSessions.Set(0)
}
