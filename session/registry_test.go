package session

import (
	"testing"
	"time"

	"github.com/pml-run/pml/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterCreatesSessionScopedToIdentity(t *testing.T) {
	r := NewRegistry()
	s := r.Register("user:alice")
	assert.Equal(t, "user:alice", s.Identity)
	assert.NotEmpty(t, s.ID)
}

func TestHeartbeatSucceedsForOwningIdentity(t *testing.T) {
	r := NewRegistry()
	s := r.Register("user:alice")
	require.NoError(t, r.Heartbeat(s.ID, "user:alice"))
}

func TestHeartbeatFailsForWrongIdentity(t *testing.T) {
	r := NewRegistry()
	s := r.Register("user:alice")
	err := r.Heartbeat(s.ID, "user:bob")
	require.Error(t, err)
	assert.Equal(t, core.KindInvalidParams, core.KindOf(err))
}

func TestHeartbeatFailsForUnknownSession(t *testing.T) {
	r := NewRegistry()
	err := r.Heartbeat("nonexistent", "user:alice")
	require.Error(t, err)
	assert.Equal(t, core.KindNotFound, core.KindOf(err))
}

func TestUnregisterFailsForWrongIdentity(t *testing.T) {
	r := NewRegistry()
	s := r.Register("user:alice")
	err := r.Unregister(s.ID, "user:bob")
	require.Error(t, err)
	assert.Equal(t, core.KindInvalidParams, core.KindOf(err))
}

func TestUnregisterRemovesSessionForOwningIdentity(t *testing.T) {
	r := NewRegistry()
	s := r.Register("user:alice")
	require.NoError(t, r.Unregister(s.ID, "user:alice"))
	assert.Empty(t, r.Active())
}

func TestActiveGarbageCollectsExpiredSessions(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := &mutableClock{t: base}
	r := NewRegistry(WithRegistryClock(clock), WithSessionTTL(10*time.Second))

	s := r.Register("user:alice")
	clock.t = base.Add(20 * time.Second)

	active := r.Active()
	assert.Empty(t, active)

	err := r.Heartbeat(s.ID, "user:alice")
	require.Error(t, err)
	assert.Equal(t, core.KindNotFound, core.KindOf(err))
}

func TestHeartbeatExtendsSessionLifetime(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := &mutableClock{t: base}
	r := NewRegistry(WithRegistryClock(clock), WithSessionTTL(10*time.Second))

	s := r.Register("user:alice")
	clock.t = base.Add(5 * time.Second)
	require.NoError(t, r.Heartbeat(s.ID, "user:alice"))

	clock.t = base.Add(12 * time.Second)
	active := r.Active()
	require.Len(t, active, 1)
	assert.Equal(t, s.ID, active[0].ID)
}

type mutableClock struct{ t time.Time }

func (c *mutableClock) Now() time.Time { return c.t }
