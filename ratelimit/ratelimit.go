// Package ratelimit implements the gateway's rate limiter: token buckets
// keyed by identity, with a predicate exempting public routes.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pml-run/pml/core"
)

// Stats tracks one bucket's lifetime allow/deny counts.
type Stats struct {
	Allowed   int64
	Throttled int64
}

type bucket struct {
	limiter    *rate.Limiter
	stats      Stats
	lastAccess time.Time
}

// PublicRoutePredicate reports whether route should bypass rate limiting
// entirely (e.g. /health).
type PublicRoutePredicate func(route string) bool

// DefaultPublicRoutes exempts the health check endpoint.
func DefaultPublicRoutes(route string) bool {
	return route == "/health"
}

// Limiter is a keyed set of token buckets, one per identity.
type Limiter struct {
	mu               sync.Mutex
	buckets          map[string]*bucket
	ratePerSecond    float64
	burst            int
	isPublicRoute    PublicRoutePredicate
	clock            core.Clock
	bucketIdleExpiry time.Duration
}

// Option configures a Limiter.
type Option func(*Limiter)

func WithRate(requestsPerSecond float64, burst int) Option {
	return func(l *Limiter) { l.ratePerSecond = requestsPerSecond; l.burst = burst }
}
func WithPublicRoutePredicate(p PublicRoutePredicate) Option {
	return func(l *Limiter) { l.isPublicRoute = p }
}
func WithClock(c core.Clock) Option { return func(l *Limiter) { l.clock = c } }
func WithBucketIdleExpiry(d time.Duration) Option {
	return func(l *Limiter) { l.bucketIdleExpiry = d }
}

// NewLimiter builds a Limiter. Defaults to 10 req/s with a burst of 20 per
// identity, and DefaultPublicRoutes for the exemption predicate.
func NewLimiter(opts ...Option) *Limiter {
	l := &Limiter{
		buckets:          make(map[string]*bucket),
		ratePerSecond:    10,
		burst:            20,
		isPublicRoute:    DefaultPublicRoutes,
		clock:            core.RealClock{},
		bucketIdleExpiry: 10 * time.Minute,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// IdentityKey builds the identity key spec.md §5 describes: a cloud
// deployment keys by authenticated user id, a local/unauthenticated
// deployment falls back to the caller's address or a single shared bucket.
func IdentityKey(userID, remoteAddr string, localSharedFallback bool) string {
	if userID != "" {
		return "user:" + userID
	}
	if localSharedFallback {
		return "local:shared"
	}
	return "ip:" + remoteAddr
}

func (l *Limiter) bucketFor(identity string) *bucket {
	b, ok := l.buckets[identity]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(l.ratePerSecond), l.burst)}
		l.buckets[identity] = b
	}
	b.lastAccess = l.clock.Now()
	return b
}

// Allow reports whether a request from identity against route is permitted.
// Public routes always return true without consuming a token.
func (l *Limiter) Allow(identity, route string) bool {
	if l.isPublicRoute != nil && l.isPublicRoute(route) {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.bucketFor(identity)
	if b.limiter.Allow() {
		b.stats.Allowed++
		return true
	}
	b.stats.Throttled++
	return false
}

// StatsFor returns the current counters for identity's bucket.
func (l *Limiter) StatsFor(identity string) Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[identity]
	if !ok {
		return Stats{}
	}
	return b.stats
}

// Sweep drops buckets idle longer than bucketIdleExpiry, bounding the
// limiter's memory use across a long-running gateway process.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.bucketIdleExpiry <= 0 {
		return 0
	}
	cutoff := l.clock.Now().Add(-l.bucketIdleExpiry)
	removed := 0
	for id, b := range l.buckets {
		if b.lastAccess.Before(cutoff) {
			delete(l.buckets, id)
			removed++
		}
	}
	return removed
}
