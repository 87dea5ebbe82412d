package wspool

import (
	"time"

	"github.com/samber/oops"
)

// ConnConfig contains configuration for creating a Conn.
// It follows the builder pattern for optional configuration and validation.
type ConnConfig struct {
	// URI is the remote endpoint to connect to
	URI string

	// Headers are sent with every connection attempt
	Headers map[string]string

	// IdleTimeout is the maximum idle time before the connection closes
	// itself. Default: 30 seconds
	IdleTimeout time.Duration

	// DrainTimeout is the maximum time to spend draining residual server
	// data. Default: 5 seconds
	DrainTimeout time.Duration

	// DrainPredicate classifies inbound messages seen while draining.
	// Optional at the connection level; required on a drain-enabled pool.
	DrainPredicate DrainPredicate

	// Dialer establishes the underlying transport.
	// Default: NewWebSocketDialer()
	Dialer Dialer
}

// NewConnConfig creates a new ConnConfig with sensible defaults.
func NewConnConfig(uri string) *ConnConfig {
	return &ConnConfig{
		URI:          uri,
		IdleTimeout:  30 * time.Second,
		DrainTimeout: 5 * time.Second,
		Dialer:       NewWebSocketDialer(),
	}
}

// WithHeaders replaces the header set sent with connection attempts.
func (c *ConnConfig) WithHeaders(headers map[string]string) *ConnConfig {
	c.Headers = make(map[string]string, len(headers))
	for k, v := range headers {
		c.Headers[k] = v
	}
	return c
}

// WithHeader sets a single header.
func (c *ConnConfig) WithHeader(key, value string) *ConnConfig {
	if c.Headers == nil {
		c.Headers = make(map[string]string)
	}
	c.Headers[key] = value
	return c
}

// WithIdleTimeout sets the idle timeout.
func (c *ConnConfig) WithIdleTimeout(timeout time.Duration) *ConnConfig {
	c.IdleTimeout = timeout
	return c
}

// WithDrainTimeout sets the drain timeout.
func (c *ConnConfig) WithDrainTimeout(timeout time.Duration) *ConnConfig {
	c.DrainTimeout = timeout
	return c
}

// WithDrainPredicate sets the drain predicate.
func (c *ConnConfig) WithDrainPredicate(predicate DrainPredicate) *ConnConfig {
	c.DrainPredicate = predicate
	return c
}

// WithDialer sets the transport dialer.
func (c *ConnConfig) WithDialer(dialer Dialer) *ConnConfig {
	c.Dialer = dialer
	return c
}

// Validate checks if the configuration is valid and complete.
// Returns an error with context if validation fails.
func (c *ConnConfig) Validate() error {
	if err := c.validateURI(); err != nil {
		return err
	}

	if err := c.validateTimeouts(); err != nil {
		return err
	}

	return c.validateDialer()
}

// validateURI checks if the endpoint URI is set and non-empty.
func (c *ConnConfig) validateURI() error {
	if c.URI == "" {
		return oops.
			Code("INVALID_URI").
			In("wspool").
			Errorf("endpoint URI is required")
	}
	return nil
}

// validateTimeouts checks if the timeout settings are positive.
func (c *ConnConfig) validateTimeouts() error {
	if c.IdleTimeout <= 0 {
		return oops.
			Code("INVALID_TIMEOUT").
			In("wspool").
			With("idle_timeout", c.IdleTimeout).
			With("uri", c.URI).
			Errorf("idle timeout must be positive")
	}

	if c.DrainTimeout <= 0 {
		return oops.
			Code("INVALID_TIMEOUT").
			In("wspool").
			With("drain_timeout", c.DrainTimeout).
			With("uri", c.URI).
			Errorf("drain timeout must be positive")
	}

	return nil
}

// validateDialer checks if a transport dialer is configured.
func (c *ConnConfig) validateDialer() error {
	if c.Dialer == nil {
		return oops.
			Code("INVALID_DIALER").
			In("wspool").
			With("uri", c.URI).
			Errorf("transport dialer is required")
	}
	return nil
}

// PoolConfig contains configuration for creating a Pool.
// It follows the builder pattern for optional configuration and validation.
type PoolConfig struct {
	// URI is the remote endpoint every pooled connection targets
	URI string

	// Headers are sent with every connection attempt
	Headers map[string]string

	// IdleTimeout is the maximum time an available connection may sit
	// unused before being reaped. Default: 60 seconds
	IdleTimeout time.Duration

	// MaxConnections is the pool capacity across available, busy and
	// pending connections. Default: 50
	MaxConnections int

	// MaxRetries is the total number of acquisition attempts before the
	// last transient error surfaces. Default: 3 attempts
	MaxRetries int

	// RetryBackoff is the base delay between acquisition attempts.
	// Actual delay uses exponential backoff: delay = RetryBackoff * (2^attempt)
	// Default: 1 second
	RetryBackoff time.Duration

	// CleanupInterval is the period of the background cleanup sweep.
	// Default: 5 seconds
	CleanupInterval time.Duration

	// ConnectTimeout bounds transport establishment for a single
	// connection. Default: 10 seconds
	ConnectTimeout time.Duration

	// WarmupConnections is the number of connections established eagerly
	// at pool start. Clamped to MaxConnections. Default: 0
	WarmupConnections int

	// DrainOnRelease enables background draining of released connections
	// before they become available again. Default: false
	DrainOnRelease bool

	// DrainTimeout is the maximum time to spend draining one released
	// connection. Default: 10 seconds
	DrainTimeout time.Duration

	// DrainQuietPeriod is the span of silence required before a draining
	// connection is declared clean. Default: 2 seconds
	DrainQuietPeriod time.Duration

	// DrainPredicate classifies inbound messages seen while draining.
	// Required when DrainOnRelease is set.
	DrainPredicate DrainPredicate

	// Dialer establishes underlying transports.
	// Default: NewWebSocketDialer()
	Dialer Dialer
}

// NewPoolConfig creates a new PoolConfig with sensible defaults.
func NewPoolConfig(uri string) *PoolConfig {
	return &PoolConfig{
		URI:              uri,
		IdleTimeout:      60 * time.Second,
		MaxConnections:   50,
		MaxRetries:       3,
		RetryBackoff:     1 * time.Second,
		CleanupInterval:  5 * time.Second,
		ConnectTimeout:   10 * time.Second,
		DrainTimeout:     10 * time.Second,
		DrainQuietPeriod: 2 * time.Second,
		Dialer:           NewWebSocketDialer(),
	}
}

// WithHeaders replaces the header set sent with connection attempts.
func (c *PoolConfig) WithHeaders(headers map[string]string) *PoolConfig {
	c.Headers = make(map[string]string, len(headers))
	for k, v := range headers {
		c.Headers[k] = v
	}
	return c
}

// WithIdleTimeout sets the idle timeout for available connections.
func (c *PoolConfig) WithIdleTimeout(timeout time.Duration) *PoolConfig {
	c.IdleTimeout = timeout
	return c
}

// WithMaxConnections sets the pool capacity.
func (c *PoolConfig) WithMaxConnections(max int) *PoolConfig {
	c.MaxConnections = max
	return c
}

// WithMaxRetries sets the total number of acquisition attempts.
func (c *PoolConfig) WithMaxRetries(retries int) *PoolConfig {
	c.MaxRetries = retries
	return c
}

// WithRetryBackoff sets the base delay between acquisition attempts.
// Actual delay uses exponential backoff: delay = backoff * (2^attempt).
func (c *PoolConfig) WithRetryBackoff(backoff time.Duration) *PoolConfig {
	c.RetryBackoff = backoff
	return c
}

// WithCleanupInterval sets the background cleanup period.
func (c *PoolConfig) WithCleanupInterval(interval time.Duration) *PoolConfig {
	c.CleanupInterval = interval
	return c
}

// WithConnectTimeout sets the transport establishment timeout.
func (c *PoolConfig) WithConnectTimeout(timeout time.Duration) *PoolConfig {
	c.ConnectTimeout = timeout
	return c
}

// WithWarmupConnections sets the number of eagerly created connections.
func (c *PoolConfig) WithWarmupConnections(count int) *PoolConfig {
	c.WarmupConnections = count
	return c
}

// WithDrainOnRelease enables post-release draining with the given
// predicate. The predicate is required: a permissive default would also
// swallow the first message of a new session.
func (c *PoolConfig) WithDrainOnRelease(predicate DrainPredicate) *PoolConfig {
	c.DrainOnRelease = true
	c.DrainPredicate = predicate
	return c
}

// WithDrainTimeout sets the per-connection drain timeout.
func (c *PoolConfig) WithDrainTimeout(timeout time.Duration) *PoolConfig {
	c.DrainTimeout = timeout
	return c
}

// WithDrainQuietPeriod sets the silence span required for a clean drain.
func (c *PoolConfig) WithDrainQuietPeriod(period time.Duration) *PoolConfig {
	c.DrainQuietPeriod = period
	return c
}

// WithDialer sets the transport dialer.
func (c *PoolConfig) WithDialer(dialer Dialer) *PoolConfig {
	c.Dialer = dialer
	return c
}

// Validate checks if the configuration is valid and complete.
// Returns an error with context if validation fails.
func (c *PoolConfig) Validate() error {
	if err := c.validateURI(); err != nil {
		return err
	}

	if err := c.validateLimits(); err != nil {
		return err
	}

	if err := c.validateIntervals(); err != nil {
		return err
	}

	if err := c.validateDrain(); err != nil {
		return err
	}

	return c.validateDialer()
}

// validateURI checks if the endpoint URI is set and non-empty.
func (c *PoolConfig) validateURI() error {
	if c.URI == "" {
		return oops.
			Code("INVALID_URI").
			In("wspool").
			Errorf("endpoint URI is required")
	}
	return nil
}

// validateLimits checks the capacity and retry settings.
func (c *PoolConfig) validateLimits() error {
	if c.MaxConnections < 1 {
		return oops.
			Code("INVALID_CAPACITY").
			In("wspool").
			With("max_connections", c.MaxConnections).
			With("uri", c.URI).
			Errorf("pool capacity must be at least 1")
	}

	if c.MaxRetries < 1 {
		return oops.
			Code("INVALID_RETRY_COUNT").
			In("wspool").
			With("max_retries", c.MaxRetries).
			With("uri", c.URI).
			Errorf("max retries must be at least 1 (1 = single attempt)")
	}

	if c.RetryBackoff < 0 {
		return oops.
			Code("INVALID_RETRY_BACKOFF").
			In("wspool").
			With("backoff", c.RetryBackoff).
			With("uri", c.URI).
			Errorf("retry backoff must be non-negative")
	}

	if c.WarmupConnections < 0 {
		return oops.
			Code("INVALID_WARMUP").
			In("wspool").
			With("warmup", c.WarmupConnections).
			With("uri", c.URI).
			Errorf("warmup count must be non-negative")
	}

	return nil
}

// validateIntervals checks timeout and interval settings.
func (c *PoolConfig) validateIntervals() error {
	if c.IdleTimeout <= 0 {
		return oops.
			Code("INVALID_TIMEOUT").
			In("wspool").
			With("idle_timeout", c.IdleTimeout).
			With("uri", c.URI).
			Errorf("idle timeout must be positive")
	}

	if c.CleanupInterval <= 0 {
		return oops.
			Code("INVALID_INTERVAL").
			In("wspool").
			With("cleanup_interval", c.CleanupInterval).
			With("uri", c.URI).
			Errorf("cleanup interval must be positive")
	}

	if c.ConnectTimeout <= 0 {
		return oops.
			Code("INVALID_TIMEOUT").
			In("wspool").
			With("connect_timeout", c.ConnectTimeout).
			With("uri", c.URI).
			Errorf("connect timeout must be positive")
	}

	return nil
}

// validateDrain checks the drain settings.
func (c *PoolConfig) validateDrain() error {
	if c.DrainTimeout <= 0 {
		return oops.
			Code("INVALID_TIMEOUT").
			In("wspool").
			With("drain_timeout", c.DrainTimeout).
			With("uri", c.URI).
			Errorf("drain timeout must be positive")
	}

	if c.DrainQuietPeriod <= 0 {
		return oops.
			Code("INVALID_TIMEOUT").
			In("wspool").
			With("drain_quiet_period", c.DrainQuietPeriod).
			With("uri", c.URI).
			Errorf("drain quiet period must be positive")
	}

	if c.DrainOnRelease && c.DrainPredicate == nil {
		return oops.
			Code("INVALID_DRAIN_PREDICATE").
			In("wspool").
			With("uri", c.URI).
			Errorf("drain-enabled pool requires an explicit drain predicate")
	}

	return nil
}

// validateDialer checks if a transport dialer is configured.
func (c *PoolConfig) validateDialer() error {
	if c.Dialer == nil {
		return oops.
			Code("INVALID_DIALER").
			In("wspool").
			With("uri", c.URI).
			Errorf("transport dialer is required")
	}
	return nil
}

// connConfig derives the per-connection configuration from the pool
// settings.
func (c *PoolConfig) connConfig() *ConnConfig {
	return &ConnConfig{
		URI:            c.URI,
		Headers:        c.Headers,
		IdleTimeout:    c.IdleTimeout,
		DrainTimeout:   c.DrainTimeout,
		DrainPredicate: c.DrainPredicate,
		Dialer:         c.Dialer,
	}
}
