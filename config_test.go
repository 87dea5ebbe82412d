package wspool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnConfigDefaults(t *testing.T) {
	config := NewConnConfig("ws://example.com/stream")

	assert.Equal(t, "ws://example.com/stream", config.URI)
	assert.Equal(t, 30*time.Second, config.IdleTimeout)
	assert.Equal(t, 5*time.Second, config.DrainTimeout)
	assert.NotNil(t, config.Dialer)
	assert.NoError(t, config.Validate())
}

func TestConnConfigBuilder(t *testing.T) {
	config := NewConnConfig("ws://example.com/stream").
		WithIdleTimeout(2 * time.Minute).
		WithDrainTimeout(time.Second).
		WithHeader("Authorization", "Bearer token").
		WithHeader("X-Trace", "abc").
		WithDrainPredicate(DrainAnyMessage).
		WithDialer(newFakeDialer())

	assert.Equal(t, 2*time.Minute, config.IdleTimeout)
	assert.Equal(t, time.Second, config.DrainTimeout)
	assert.Equal(t, "Bearer token", config.Headers["Authorization"])
	assert.Equal(t, "abc", config.Headers["X-Trace"])
	assert.NotNil(t, config.DrainPredicate)
	assert.NoError(t, config.Validate())
}

func TestConnConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ConnConfig)
		wantErr bool
	}{
		{
			name:    "valid defaults",
			mutate:  func(c *ConnConfig) {},
			wantErr: false,
		},
		{
			name:    "empty URI",
			mutate:  func(c *ConnConfig) { c.URI = "" },
			wantErr: true,
		},
		{
			name:    "zero idle timeout",
			mutate:  func(c *ConnConfig) { c.IdleTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "negative drain timeout",
			mutate:  func(c *ConnConfig) { c.DrainTimeout = -time.Second },
			wantErr: true,
		},
		{
			name:    "missing dialer",
			mutate:  func(c *ConnConfig) { c.Dialer = nil },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := NewConnConfig("ws://example.com/stream")
			tt.mutate(config)
			err := config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPoolConfigDefaults(t *testing.T) {
	config := NewPoolConfig("ws://example.com/stream")

	assert.Equal(t, 60*time.Second, config.IdleTimeout)
	assert.Equal(t, 50, config.MaxConnections)
	assert.Equal(t, 3, config.MaxRetries)
	assert.Equal(t, time.Second, config.RetryBackoff)
	assert.Equal(t, 5*time.Second, config.CleanupInterval)
	assert.Equal(t, 10*time.Second, config.ConnectTimeout)
	assert.Equal(t, 0, config.WarmupConnections)
	assert.False(t, config.DrainOnRelease)
	assert.Equal(t, 10*time.Second, config.DrainTimeout)
	assert.Equal(t, 2*time.Second, config.DrainQuietPeriod)
	assert.NoError(t, config.Validate())
}

func TestPoolConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*PoolConfig)
		wantErr bool
	}{
		{
			name:    "valid defaults",
			mutate:  func(c *PoolConfig) {},
			wantErr: false,
		},
		{
			name:    "empty URI",
			mutate:  func(c *PoolConfig) { c.URI = "" },
			wantErr: true,
		},
		{
			name:    "zero capacity",
			mutate:  func(c *PoolConfig) { c.MaxConnections = 0 },
			wantErr: true,
		},
		{
			name:    "zero retries",
			mutate:  func(c *PoolConfig) { c.MaxRetries = 0 },
			wantErr: true,
		},
		{
			name:    "negative backoff",
			mutate:  func(c *PoolConfig) { c.RetryBackoff = -time.Second },
			wantErr: true,
		},
		{
			name:    "zero backoff is allowed",
			mutate:  func(c *PoolConfig) { c.RetryBackoff = 0 },
			wantErr: false,
		},
		{
			name:    "negative warmup",
			mutate:  func(c *PoolConfig) { c.WarmupConnections = -1 },
			wantErr: true,
		},
		{
			name:    "zero cleanup interval",
			mutate:  func(c *PoolConfig) { c.CleanupInterval = 0 },
			wantErr: true,
		},
		{
			name:    "zero connect timeout",
			mutate:  func(c *PoolConfig) { c.ConnectTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "zero drain quiet period",
			mutate:  func(c *PoolConfig) { c.DrainQuietPeriod = 0 },
			wantErr: true,
		},
		{
			name: "drain enabled without predicate",
			mutate: func(c *PoolConfig) {
				c.DrainOnRelease = true
				c.DrainPredicate = nil
			},
			wantErr: true,
		},
		{
			name: "drain enabled with predicate",
			mutate: func(c *PoolConfig) {
				c.DrainOnRelease = true
				c.DrainPredicate = DrainAnyMessage
			},
			wantErr: false,
		},
		{
			name:    "missing dialer",
			mutate:  func(c *PoolConfig) { c.Dialer = nil },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := NewPoolConfig("ws://example.com/stream")
			tt.mutate(config)
			err := config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPoolConfigConnConfig(t *testing.T) {
	dialer := newFakeDialer()
	config := NewPoolConfig("ws://example.com/stream").
		WithDialer(dialer).
		WithHeaders(map[string]string{"Authorization": "Bearer token"}).
		WithIdleTimeout(45 * time.Second).
		WithDrainOnRelease(DrainAnyMessage).
		WithDrainTimeout(7 * time.Second)

	derived := config.connConfig()
	require.NotNil(t, derived)
	assert.Equal(t, config.URI, derived.URI)
	assert.Equal(t, "Bearer token", derived.Headers["Authorization"])
	assert.Equal(t, 45*time.Second, derived.IdleTimeout)
	assert.Equal(t, 7*time.Second, derived.DrainTimeout)
	assert.NotNil(t, derived.DrainPredicate)
	assert.NoError(t, derived.Validate())
}

func TestWithDrainOnReleaseSetsBoth(t *testing.T) {
	config := NewPoolConfig("ws://example.com/stream").
		WithDrainOnRelease(DrainAnyMessage)

	assert.True(t, config.DrainOnRelease)
	assert.NotNil(t, config.DrainPredicate)
}
