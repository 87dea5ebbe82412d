package wspool

import (
	"context"
	"sync"
	"time"

	"github.com/go-i2p/go-wspool/internal"
	"github.com/go-i2p/logger"
	"github.com/google/uuid"
	"github.com/samber/oops"
	"github.com/sirupsen/logrus"
)

// idleMonitorInterval is the poll period of the per-connection idle
// monitor. The monitor only reads timestamps, so a short fixed interval
// is cheap and keeps reap latency bounded.
const idleMonitorInterval = 1 * time.Second

// Conn manages a single duplex connection with lifecycle management.
// It wraps a MessageConn transport and provides exclusive acquisition,
// idle timeout monitoring and health checks. A Conn is created
// disconnected, becomes usable after Connect, and is terminal once
// closed; a fresh Conn must be constructed to reconnect.
type Conn struct {
	// config contains the connection configuration
	config *ConnConfig

	// id is the opaque identity, stable for the object's lifetime.
	// Used for equality and log correlation, never for addressing.
	id string

	// addr describes the remote endpoint for logging
	addr *ConnAddr

	// transport is the live duplex channel; nil while disconnected
	transport MessageConn

	// busy marks exclusive ownership by a caller
	busy bool

	// draining marks background consumption of residual server data.
	// At most one of busy and draining is set at any time.
	draining bool

	// closed is terminal and exclusive of all other state
	closed bool

	// lastActivity is stamped on connect, acquire, release and every
	// successful transport operation
	lastActivity time.Time

	// monitorStop signals the idle monitor to exit
	monitorStop chan struct{}

	// monitorDone is closed when the idle monitor has exited
	monitorDone chan struct{}

	// mu protects all state above; transport I/O happens outside it
	mu sync.Mutex

	// closeMu serializes close operations
	closeMu sync.Mutex

	// metrics tracks per-connection traffic counters
	metrics *internal.ConnMetrics

	// logger for connection events
	logger *logger.Logger

	// shutdownManager for coordinated shutdown (optional)
	shutdownManager *ShutdownManager
}

// NewConn creates a disconnected Conn from the given configuration.
func NewConn(config *ConnConfig) (*Conn, error) {
	if config == nil {
		return nil, oops.
			Code("INVALID_CONFIG").
			In("wspool").
			Errorf("config cannot be nil")
	}

	if err := config.Validate(); err != nil {
		return nil, oops.
			Code("INVALID_CONFIG").
			In("wspool").
			Wrapf(err, "config validation failed")
	}

	id := uuid.NewString()
	c := &Conn{
		config:       config,
		id:           id,
		addr:         NewConnAddr(config.URI, id),
		lastActivity: time.Now(),
		metrics:      internal.NewConnMetrics(),
		logger:       log,
	}

	c.logger.WithFields(logrus.Fields{
		"conn": c.addr.String(),
	}).Debug("Conn created")
	return c, nil
}

// ID returns the opaque connection identity.
func (c *Conn) ID() string {
	return c.id
}

// RemoteAddr returns the address describing this connection's endpoint.
func (c *Conn) RemoteAddr() *ConnAddr {
	return c.addr
}

// Metrics returns the per-connection traffic counters.
func (c *Conn) Metrics() *internal.ConnMetrics {
	return c.metrics
}

// IsConnected reports whether the transport is live.
func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectedLocked()
}

// IsBusy reports whether the connection is exclusively held.
func (c *Conn) IsBusy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// IsDraining reports whether residual server data is being consumed.
func (c *Conn) IsDraining() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draining
}

// IsClosed reports whether the connection has been closed.
func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// LastActivity returns the timestamp of the last connection activity.
func (c *Conn) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// State returns the externally observable connection state.
func (c *Conn) State() internal.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.closed:
		return internal.StateClosed
	case c.busy:
		return internal.StateBusy
	case c.draining:
		return internal.StateDraining
	case c.connectedLocked():
		return internal.StateIdle
	default:
		return internal.StateDisconnected
	}
}

// connectedLocked reports transport liveness. Callers must hold mu.
func (c *Conn) connectedLocked() bool {
	return !c.closed && c.transport != nil && c.transport.IsOpen()
}

// touchLocked stamps the activity timestamp. Callers must hold mu.
func (c *Conn) touchLocked() {
	c.lastActivity = time.Now()
}

// Connect establishes the transport. It is idempotent while connected
// and fails with CodeConnUnavailable once the connection has been
// closed or when the dial fails. On success the idle monitor is started
// (or restarted if a previous one finished).
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return oops.
			Code(CodeConnUnavailable).
			In("wspool").
			With("conn", c.addr.String()).
			Errorf("connection has been closed")
	}
	if c.connectedLocked() {
		c.mu.Unlock()
		return nil
	}
	dialer := c.config.Dialer
	uri := c.config.URI
	headers := c.config.Headers
	c.mu.Unlock()

	// Dial outside the lock; the handshake may be slow.
	transport, err := dialer.Dial(ctx, uri, headers)
	if err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"conn": c.addr.String(),
		}).Error("failed to connect")
		return oops.
			Code(CodeConnUnavailable).
			In("wspool").
			With("conn", c.addr.String()).
			Wrapf(err, "failed to connect")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		transport.Close()
		return oops.
			Code(CodeConnUnavailable).
			In("wspool").
			With("conn", c.addr.String()).
			Errorf("connection closed during connect")
	}
	if c.connectedLocked() {
		// A concurrent Connect won the race; keep its transport.
		c.mu.Unlock()
		transport.Close()
		return nil
	}
	c.transport = transport
	c.touchLocked()
	c.startMonitorLocked()
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"conn": c.addr.String(),
	}).Debug("connected")
	return nil
}

// startMonitorLocked launches the idle monitor unless one is already
// running. Callers must hold mu.
func (c *Conn) startMonitorLocked() {
	if c.monitorDone != nil {
		select {
		case <-c.monitorDone:
			// Previous monitor finished; start a fresh one.
		default:
			return
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	c.monitorStop = stop
	c.monitorDone = done
	go c.monitorIdle(stop, done)
}

// monitorIdle polls the activity timestamp and closes the connection
// once it has sat idle, unclaimed and undrained for longer than the
// configured idle timeout. This is how forgotten connections
// self-terminate instead of holding resources forever.
func (c *Conn) monitorIdle(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(idleMonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			expired := c.connectedLocked() &&
				!c.busy &&
				!c.draining &&
				time.Since(c.lastActivity) > c.config.IdleTimeout
			c.mu.Unlock()

			if expired {
				c.logger.WithFields(logrus.Fields{
					"conn":         c.addr.String(),
					"idle_timeout": c.config.IdleTimeout.String(),
				}).Debug("closing idle connection")
				c.close(false)
				return
			}
		}
	}
}

// Acquire claims the connection for exclusive use, establishing the
// transport first if necessary. It fails with CodeConnUnavailable if
// the connection is closed and CodeConnBusy if it is already claimed or
// draining. Not reentrant.
func (c *Conn) Acquire(ctx context.Context) error {
	if err := c.checkAcquirable(); err != nil {
		return err
	}

	if err := c.Connect(ctx); err != nil {
		return oops.
			Code(CodeConnUnavailable).
			In("wspool").
			With("conn", c.addr.String()).
			Wrapf(err, "failed to acquire connection")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return oops.
			Code(CodeConnUnavailable).
			In("wspool").
			With("conn", c.addr.String()).
			Errorf("connection closed during acquire")
	}
	if c.busy || c.draining {
		return oops.
			Code(CodeConnBusy).
			In("wspool").
			With("conn", c.addr.String()).
			Errorf("connection claimed concurrently")
	}
	c.busy = true
	c.touchLocked()
	return nil
}

// checkAcquirable validates the connection state before acquisition.
func (c *Conn) checkAcquirable() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return oops.
			Code(CodeConnUnavailable).
			In("wspool").
			With("conn", c.addr.String()).
			Errorf("connection has been closed")
	}
	if c.busy {
		return oops.
			Code(CodeConnBusy).
			In("wspool").
			With("conn", c.addr.String()).
			Errorf("connection is already busy")
	}
	if c.draining {
		return oops.
			Code(CodeConnBusy).
			In("wspool").
			With("conn", c.addr.String()).
			Errorf("connection is currently draining")
	}
	return nil
}

// Release gives up exclusive ownership. It is a no-op when the
// connection is not busy and never closes the transport.
func (c *Conn) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.busy {
		return
	}
	c.busy = false
	c.touchLocked()
}

// setDraining flips the draining flag. Used by the pool while a
// released connection is consuming residual server data.
func (c *Conn) setDraining(draining bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.draining = draining
}

// Send writes one message. The connection must be acquired and the
// transport live. If the transport closes during the call, the
// connection closes itself and the error carries CodeConnClosed.
func (c *Conn) Send(ctx context.Context, msg Message) error {
	transport, err := c.claimTransport("sending")
	if err != nil {
		return err
	}

	// Perform the write outside all locks.
	if err := transport.Send(ctx, msg); err != nil {
		return c.transportFailure(err, "send")
	}

	c.mu.Lock()
	c.touchLocked()
	c.mu.Unlock()
	c.metrics.AddSent(1)
	return nil
}

// Receive reads one message. The connection must be acquired and the
// transport live. If the transport closes during the call, the
// connection closes itself and the error carries CodeConnClosed.
func (c *Conn) Receive(ctx context.Context) (Message, error) {
	transport, err := c.claimTransport("receiving")
	if err != nil {
		return Message{}, err
	}

	msg, err := transport.Receive(ctx)
	if err != nil {
		return Message{}, c.transportFailure(err, "receive")
	}

	c.mu.Lock()
	c.touchLocked()
	c.mu.Unlock()
	c.metrics.AddReceived(1)
	return msg, nil
}

// claimTransport validates busy state and transport liveness, returning
// the transport handle for use outside the lock.
func (c *Conn) claimTransport(op string) (MessageConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.busy {
		return nil, oops.
			Code(CodeConnBusy).
			In("wspool").
			With("conn", c.addr.String()).
			Errorf("connection must be acquired before %s messages", op)
	}
	if !c.connectedLocked() {
		return nil, oops.
			Code(CodeConnUnavailable).
			In("wspool").
			With("conn", c.addr.String()).
			Errorf("transport is not connected")
	}
	return c.transport, nil
}

// Ping probes transport liveness. On failure the connection closes
// itself and the error carries CodeConnClosed.
func (c *Conn) Ping(ctx context.Context) error {
	c.mu.Lock()
	if !c.connectedLocked() {
		c.mu.Unlock()
		return oops.
			Code(CodeConnUnavailable).
			In("wspool").
			With("conn", c.addr.String()).
			Errorf("transport is not connected")
	}
	transport := c.transport
	c.mu.Unlock()

	if err := transport.Ping(ctx); err != nil {
		return c.transportFailure(err, "ping")
	}

	c.mu.Lock()
	c.touchLocked()
	c.mu.Unlock()
	return nil
}

// receiveForDrain reads one message with a bounded wait, bypassing the
// busy check. Only the pool's drain task uses this; the connection is
// in draining state and owned by the pool at that point.
func (c *Conn) receiveForDrain(timeout time.Duration) (Message, error) {
	c.mu.Lock()
	if !c.connectedLocked() {
		c.mu.Unlock()
		return Message{}, oops.
			Code(CodeConnUnavailable).
			In("wspool").
			With("conn", c.addr.String()).
			Errorf("transport is not connected")
	}
	transport := c.transport
	c.mu.Unlock()

	msg, err := transport.ReceiveTimeout(context.Background(), timeout)
	if err != nil {
		if IsReceiveTimeout(err) {
			return Message{}, err
		}
		return Message{}, c.transportFailure(err, "drain receive")
	}

	c.metrics.AddDrained(1)
	return msg, nil
}

// transportFailure closes the connection after a transport-level
// failure and returns a CodeConnClosed error.
func (c *Conn) transportFailure(err error, op string) error {
	c.logger.WithError(err).WithFields(logrus.Fields{
		"conn": c.addr.String(),
		"op":   op,
	}).Error("transport failed, closing connection")

	c.close(true)

	return oops.
		Code(CodeConnClosed).
		In("wspool").
		With("conn", c.addr.String()).
		With("op", op).
		Wrapf(err, "connection closed during %s", op)
}

// Session claims the connection, runs fn and always releases. It is
// the scoped alternative to explicit Acquire/Release pairs.
func (c *Conn) Session(ctx context.Context, fn func(*Conn) error) error {
	if err := c.Acquire(ctx); err != nil {
		return err
	}
	defer c.Release()
	return fn(c)
}

// SetShutdownManager sets the shutdown manager for this connection.
// If a shutdown manager is set, the connection registers itself for
// graceful shutdown coordination and unregisters on close.
func (c *Conn) SetShutdownManager(sm *ShutdownManager) {
	c.shutdownManager = sm
	if sm != nil {
		sm.RegisterConn(c)
	}
}

// Close shuts the connection down: it stops the idle monitor, waits
// for it, closes the transport and clears all flags. Idempotent and
// safe from any state.
func (c *Conn) Close() error {
	return c.close(true)
}

// close implements Close. waitMonitor is false only when the idle
// monitor closes its own connection; waiting there would deadlock.
func (c *Conn) close(waitMonitor bool) error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	c.mu.Lock()
	if c.closed {
		done := c.monitorDone
		c.mu.Unlock()
		if waitMonitor && done != nil {
			<-done
		}
		return nil
	}
	c.closed = true
	c.busy = false
	c.draining = false
	stop := c.monitorStop
	done := c.monitorDone
	transport := c.transport
	c.transport = nil
	c.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if waitMonitor && done != nil {
		<-done
	}

	if c.shutdownManager != nil {
		c.shutdownManager.UnregisterConn(c)
	}

	if transport != nil {
		if err := transport.Close(); err != nil {
			c.logger.WithError(err).WithFields(logrus.Fields{
				"conn": c.addr.String(),
			}).Warn("error closing transport")
		}
	}

	c.logger.WithFields(logrus.Fields{
		"conn": c.addr.String(),
	}).Debug("connection closed")
	return nil
}

// String returns a short description for logs.
func (c *Conn) String() string {
	return "Conn(" + internal.ShortID(c.id) + ")"
}
