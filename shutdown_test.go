package wspool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownManagerClosesPools(t *testing.T) {
	dialer := newFakeDialer()
	pool := newTestPool(t, newTestPoolConfig(dialer))
	ctx := context.Background()

	conn, err := pool.Acquire(ctx)
	require.NoError(t, err)
	pool.Release(conn, false)

	sm := NewShutdownManager(time.Second)
	pool.SetShutdownManager(sm)

	require.NoError(t, sm.Shutdown())

	assert.True(t, pool.IsClosed())
	assert.True(t, conn.IsClosed())
	assert.Equal(t, 0, pool.TotalConnections())
}

func TestShutdownManagerWaitsForStandaloneConns(t *testing.T) {
	dialer := newFakeDialer()
	conn := newTestConn(t, dialer)
	require.NoError(t, conn.Connect(context.Background()))

	sm := NewShutdownManager(2 * time.Second)
	conn.SetShutdownManager(sm)

	// Simulate a caller finishing up shortly after shutdown begins.
	go func() {
		time.Sleep(200 * time.Millisecond)
		conn.Close()
	}()

	start := time.Now()
	require.NoError(t, sm.Shutdown())
	elapsed := time.Since(start)

	assert.True(t, conn.IsClosed())
	assert.Less(t, elapsed, 2*time.Second,
		"shutdown should finish as soon as the connection releases")
}

func TestShutdownManagerForcesLingeringConns(t *testing.T) {
	dialer := newFakeDialer()
	conn := newTestConn(t, dialer)
	require.NoError(t, conn.Connect(context.Background()))

	sm := NewShutdownManager(300 * time.Millisecond)
	conn.SetShutdownManager(sm)

	// Nobody closes the connection; the timeout must force it.
	require.NoError(t, sm.Shutdown())
	assert.True(t, conn.IsClosed())
}

func TestShutdownManagerContext(t *testing.T) {
	sm := NewShutdownManager(time.Second)

	select {
	case <-sm.Context().Done():
		t.Fatal("context cancelled before shutdown")
	default:
	}

	require.NoError(t, sm.Shutdown())

	select {
	case <-sm.Context().Done():
	default:
		t.Fatal("context not cancelled after shutdown")
	}
}

func TestShutdownManagerIdempotentAndWaitable(t *testing.T) {
	sm := NewShutdownManager(time.Second)

	done := make(chan struct{})
	go func() {
		sm.Wait()
		close(done)
	}()

	require.NoError(t, sm.Shutdown())
	require.NoError(t, sm.Shutdown())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after shutdown")
	}
}

func TestShutdownManagerUnregister(t *testing.T) {
	dialer := newFakeDialer()
	conn := newTestConn(t, dialer)
	require.NoError(t, conn.Connect(context.Background()))

	sm := NewShutdownManager(100 * time.Millisecond)
	conn.SetShutdownManager(sm)

	// A connection that closes normally unregisters itself; shutdown
	// then has nothing to wait for.
	require.NoError(t, conn.Close())

	start := time.Now()
	require.NoError(t, sm.Shutdown())
	assert.Less(t, time.Since(start), 2*time.Second)
}
