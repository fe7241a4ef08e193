// Package session implements the Session & Connection Pool: a fixed-capacity
// pool of backend tool-server clients, and an independent package session
// registry for external long-lived clients.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"

	"github.com/pml-run/pml/core"
)

const (
	defaultMaxConnections   = 50
	defaultIdleTimeout      = 300 * time.Second
	defaultConnectionTimeout = 30 * time.Second
)

// Client is anything the pool can hand out and later disconnect.
type Client interface {
	Close() error
}

// Factory creates a new Client for serverID.
type Factory func(ctx context.Context, serverID string) (Client, error)

type pooledClient struct {
	client    Client
	serverID  string
	idleTimer *time.Timer
}

// Pool is the fixed-capacity backend tool-server client pool.
type Pool struct {
	mu sync.Mutex

	maxConnections   int
	idleTimeout      time.Duration
	connectionTimeout time.Duration

	clients  map[string]*pooledClient
	breakers map[string]*gobreaker.CircuitBreaker[Client]

	logger core.Logger
	clock  core.Clock
	closed bool
}

// Option configures a Pool.
type Option func(*Pool)

func WithMaxConnections(n int) Option          { return func(p *Pool) { p.maxConnections = n } }
func WithIdleTimeout(d time.Duration) Option   { return func(p *Pool) { p.idleTimeout = d } }
func WithConnectionTimeout(d time.Duration) Option {
	return func(p *Pool) { p.connectionTimeout = d }
}
func WithLogger(l core.Logger) Option { return func(p *Pool) { p.logger = l } }
func WithClock(c core.Clock) Option   { return func(p *Pool) { p.clock = c } }

// NewPool builds a Pool with the documented defaults (max_connections=50,
// idle_timeout=300s, connection_timeout=30s).
func NewPool(opts ...Option) *Pool {
	p := &Pool{
		maxConnections:    defaultMaxConnections,
		idleTimeout:       defaultIdleTimeout,
		connectionTimeout: defaultConnectionTimeout,
		clients:           make(map[string]*pooledClient),
		breakers:          make(map[string]*gobreaker.CircuitBreaker[Client]),
		logger:            core.NoOpLogger{},
		clock:             core.RealClock{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pool) breakerFor(serverID string) *gobreaker.CircuitBreaker[Client] {
	if cb, ok := p.breakers[serverID]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker[Client](gobreaker.Settings{
		Name:        "session-pool:" + serverID,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.Warn("session: circuit breaker state change", map[string]interface{}{
				"server_id": serverID, "from": from.String(), "to": to.String(),
			})
		},
	})
	p.breakers[serverID] = cb
	return cb
}

// Acquire reuses an existing client for serverID or creates one via factory,
// tripping that backend's circuit breaker on repeated dial failures and
// failing with KindPoolExhausted when the pool is at capacity and serverID
// has no existing client to reuse.
func (p *Pool) Acquire(ctx context.Context, serverID string, factory Factory) (Client, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, core.NewErrorWithID("session.acquire", core.KindInternal, serverID, errPoolClosed)
	}
	if pc, ok := p.clients[serverID]; ok {
		if pc.idleTimer != nil {
			pc.idleTimer.Stop()
			pc.idleTimer = nil
		}
		p.mu.Unlock()
		return pc.client, nil
	}
	if len(p.clients) >= p.maxConnections {
		p.mu.Unlock()
		return nil, core.NewErrorWithID("session.acquire", core.KindPoolExhausted, serverID, errPoolExhausted)
	}
	cb := p.breakerFor(serverID)
	p.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, p.connectionTimeout)
	defer cancel()

	client, err := cb.Execute(func() (Client, error) {
		return factory(dialCtx, serverID)
	})
	if err != nil {
		return nil, core.NewErrorWithID("session.acquire", core.KindBackendTool, serverID, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		_ = client.Close()
		return nil, core.NewErrorWithID("session.acquire", core.KindInternal, serverID, errPoolClosed)
	}
	p.clients[serverID] = &pooledClient{client: client, serverID: serverID}
	return client, nil
}

// AcquireWithBackoff retries Acquire with exponential backoff, up to
// maxTries attempts, when the failure is a backend dial error rather than a
// permanent pool_exhausted rejection. This absorbs the race between a
// pooled client's idle-timeout disconnect and a concurrent new acquire for
// the same server id.
func (p *Pool) AcquireWithBackoff(ctx context.Context, serverID string, factory Factory, maxTries uint) (Client, error) {
	return backoff.Retry(ctx, func() (Client, error) {
		client, err := p.Acquire(ctx, serverID, factory)
		if err == nil {
			return client, nil
		}
		if core.IsKind(err, core.KindBackendTool) {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(maxTries))
}

// Release marks serverID's client idle again, starting the idle-timeout
// countdown that disconnects and removes it if nothing re-acquires it first.
func (p *Pool) Release(serverID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pc, ok := p.clients[serverID]
	if !ok || p.closed {
		return
	}
	if pc.idleTimer != nil {
		pc.idleTimer.Stop()
	}
	pc.idleTimer = time.AfterFunc(p.idleTimeout, func() {
		p.evict(serverID)
	})
}

func (p *Pool) evict(serverID string) {
	p.mu.Lock()
	pc, ok := p.clients[serverID]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.clients, serverID)
	p.mu.Unlock()

	if err := pc.client.Close(); err != nil {
		p.logger.Warn("session: idle client close failed", map[string]interface{}{
			"server_id": serverID, "error": err.Error(),
		})
	}
}

// Size reports the number of clients currently held by the pool.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

// Close stops every idle timer and disconnects every pooled client. A closed
// Pool rejects further Acquire calls.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	clients := p.clients
	p.clients = make(map[string]*pooledClient)
	p.mu.Unlock()

	var firstErr error
	for _, pc := range clients {
		if pc.idleTimer != nil {
			pc.idleTimer.Stop()
		}
		if err := pc.client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
