package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pml-run/pml/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	id     string
	closed bool
	mu     *sync.Mutex
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func newFactory() (Factory, *sync.Mutex, *int) {
	mu := &sync.Mutex{}
	calls := 0
	f := func(ctx context.Context, serverID string) (Client, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return &fakeClient{id: serverID, mu: mu}, nil
	}
	return f, mu, &calls
}

func TestAcquireCreatesClientViaFactory(t *testing.T) {
	p := NewPool()
	factory, _, calls := newFactory()

	client, err := p.Acquire(context.Background(), "srv1", factory)
	require.NoError(t, err)
	assert.NotNil(t, client)
	assert.Equal(t, 1, *calls)
}

func TestAcquireReusesExistingClient(t *testing.T) {
	p := NewPool()
	factory, _, calls := newFactory()

	_, err := p.Acquire(context.Background(), "srv1", factory)
	require.NoError(t, err)
	_, err = p.Acquire(context.Background(), "srv1", factory)
	require.NoError(t, err)

	assert.Equal(t, 1, *calls)
}

func TestAcquireFailsWithPoolExhaustedWhenFull(t *testing.T) {
	p := NewPool(WithMaxConnections(1))
	factory, _, _ := newFactory()

	_, err := p.Acquire(context.Background(), "srv1", factory)
	require.NoError(t, err)

	_, err = p.Acquire(context.Background(), "srv2", factory)
	require.Error(t, err)
	assert.Equal(t, core.KindPoolExhausted, core.KindOf(err))
}

func TestReleaseThenIdleTimeoutEvictsClient(t *testing.T) {
	p := NewPool(WithIdleTimeout(5 * time.Millisecond))
	factory, _, _ := newFactory()

	_, err := p.Acquire(context.Background(), "srv1", factory)
	require.NoError(t, err)
	p.Release("srv1")

	require.Eventually(t, func() bool { return p.Size() == 0 }, time.Second, time.Millisecond)
}

func TestReleaseThenReacquireBeforeIdleTimeoutReusesClient(t *testing.T) {
	p := NewPool(WithIdleTimeout(50 * time.Millisecond))
	factory, _, calls := newFactory()

	_, err := p.Acquire(context.Background(), "srv1", factory)
	require.NoError(t, err)
	p.Release("srv1")

	_, err = p.Acquire(context.Background(), "srv1", factory)
	require.NoError(t, err)
	assert.Equal(t, 1, *calls)
}

func TestCloseDisconnectsAllClientsAndRejectsFurtherAcquire(t *testing.T) {
	p := NewPool()
	factory, mu, _ := newFactory()

	client, err := p.Acquire(context.Background(), "srv1", factory)
	require.NoError(t, err)

	require.NoError(t, p.Close())

	mu.Lock()
	assert.True(t, client.(*fakeClient).closed)
	mu.Unlock()

	_, err = p.Acquire(context.Background(), "srv2", factory)
	require.Error(t, err)
}

func TestAcquireWrapsFactoryErrorAsBackendTool(t *testing.T) {
	p := NewPool()
	failing := func(ctx context.Context, serverID string) (Client, error) {
		return nil, errors.New("dial refused")
	}

	_, err := p.Acquire(context.Background(), "srv1", failing)
	require.Error(t, err)
	assert.Equal(t, core.KindBackendTool, core.KindOf(err))
}

func TestAcquireWithBackoffRetriesOnTransientFailure(t *testing.T) {
	p := NewPool()
	attempts := 0
	var mu sync.Mutex
	flaky := func(ctx context.Context, serverID string) (Client, error) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 3 {
			return nil, errors.New("transient")
		}
		return &fakeClient{id: serverID, mu: &sync.Mutex{}}, nil
	}

	client, err := p.AcquireWithBackoff(context.Background(), "srv1", flaky, 5)
	require.NoError(t, err)
	assert.NotNil(t, client)
	assert.Equal(t, 3, attempts)
}
