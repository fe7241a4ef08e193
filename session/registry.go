package session

import (
	"sync"
	"time"

	"github.com/pml-run/pml/core"
)

// PackageSession is one external long-lived client tracked by the registry,
// scoped to the identity that registered it.
type PackageSession struct {
	ID            string
	Identity      string
	RegisteredAt  time.Time
	LastHeartbeat time.Time
}

// Registry is the package session registry: external long-lived clients
// register, heartbeat, and unregister, with ownership verified on every
// heartbeat and unregister call.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]PackageSession
	ttl      time.Duration
	clock    core.Clock
	newID    func() string
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

func WithSessionTTL(d time.Duration) RegistryOption { return func(r *Registry) { r.ttl = d } }
func WithRegistryClock(c core.Clock) RegistryOption { return func(r *Registry) { r.clock = c } }
func WithIDGenerator(f func() string) RegistryOption {
	return func(r *Registry) { r.newID = f }
}

// NewRegistry builds a Registry. ttl defaults to 300s, matching the pool's
// idle timeout, if not overridden.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		sessions: make(map[string]PackageSession),
		ttl:      defaultIdleTimeout,
		clock:    core.RealClock{},
		newID:    core.NewID,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register creates a new session scoped to identity and returns it.
func (r *Registry) Register(identity string) PackageSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	s := PackageSession{ID: r.newID(), Identity: identity, RegisteredAt: now, LastHeartbeat: now}
	r.sessions[s.ID] = s
	return s
}

// Heartbeat refreshes sessionID's last-seen time, failing if sessionID is
// unknown, expired, or not owned by identity.
func (r *Registry) Heartbeat(sessionID, identity string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.gcLocked()
	s, ok := r.sessions[sessionID]
	if !ok {
		return core.NewErrorWithID("session.heartbeat", core.KindNotFound, sessionID, errSessionNotFound)
	}
	if s.Identity != identity {
		return core.NewErrorWithID("session.heartbeat", core.KindInvalidParams, sessionID, errIdentityMismatch)
	}
	s.LastHeartbeat = r.clock.Now()
	r.sessions[sessionID] = s
	return nil
}

// Unregister removes sessionID, failing if it is unknown or not owned by
// identity.
func (r *Registry) Unregister(sessionID, identity string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return core.NewErrorWithID("session.unregister", core.KindNotFound, sessionID, errSessionNotFound)
	}
	if s.Identity != identity {
		return core.NewErrorWithID("session.unregister", core.KindInvalidParams, sessionID, errIdentityMismatch)
	}
	delete(r.sessions, sessionID)
	return nil
}

// Active returns every non-expired session, garbage-collecting expired ones
// first.
func (r *Registry) Active() []PackageSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.gcLocked()
	out := make([]PackageSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// gcLocked drops sessions whose last heartbeat is older than ttl. Callers
// must hold r.mu.
func (r *Registry) gcLocked() {
	if r.ttl <= 0 {
		return
	}
	cutoff := r.clock.Now().Add(-r.ttl)
	for id, s := range r.sessions {
		if s.LastHeartbeat.Before(cutoff) {
			delete(r.sessions, id)
		}
	}
}
