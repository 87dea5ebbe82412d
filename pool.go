package wspool

import (
	"context"
	"sync"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"github.com/sirupsen/logrus"
)

// Pool manages a bounded set of long-lived duplex connections to a
// single remote endpoint, reusing them across many short-lived logical
// sessions. Connections are partitioned into three sets: available
// (idle, awaiting a claim), busy (exclusively held by a caller) and
// pending (draining residual server data after release). The total
// counter spans all three and never exceeds the configured capacity.
//
// All bookkeeping happens under one mutex; transport I/O always happens
// outside it so a slow remote never serializes unrelated acquire and
// release operations.
type Pool struct {
	// config contains the pool configuration
	config *PoolConfig

	// available holds idle connections in FIFO order
	available []*Conn

	// busy holds connections exclusively claimed by callers
	busy map[*Conn]struct{}

	// pending holds draining connections keyed by pending id
	pending map[string]*PendingConn

	// total counts connections across all three sets, including slots
	// reserved for connections still being established
	total int

	// started indicates Start has run
	started bool

	// closed is terminal; a closed pool rejects every operation
	closed bool

	// cleanupStop signals the cleanup loop to exit
	cleanupStop chan struct{}

	// cleanupDone is closed when the cleanup loop has exited
	cleanupDone chan struct{}

	// mu protects all fields above
	mu sync.Mutex

	// logger for pool events
	logger *logger.Logger

	// shutdownManager for coordinated shutdown (optional)
	shutdownManager *ShutdownManager
}

// NewPool creates a Pool from the given configuration. The pool is
// idle until Start or the first Acquire.
func NewPool(config *PoolConfig) (*Pool, error) {
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

	return &Pool{
		config:  config,
		busy:    make(map[*Conn]struct{}),
		pending: make(map[string]*PendingConn),
		logger:  log,
	}, nil
}

// Start launches the cleanup loop and performs the optional warm-up.
// Idempotent; a closed pool stays closed.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started || p.closed {
		p.mu.Unlock()
		return nil
	}
	p.started = true
	stop := make(chan struct{})
	done := make(chan struct{})
	p.cleanupStop = stop
	p.cleanupDone = done
	p.mu.Unlock()

	go p.cleanupLoop(stop, done)

	if p.config.WarmupConnections > 0 {
		p.warmup(ctx)
	}

	p.logger.WithFields(logrus.Fields{
		"uri":      p.config.URI,
		"capacity": p.config.MaxConnections,
	}).Info("connection pool started")
	return nil
}

// warmup eagerly establishes up to min(WarmupConnections, capacity)
// connections. Individual failures are tolerated and skipped.
func (p *Pool) warmup(ctx context.Context) {
	count := p.config.WarmupConnections
	if count > p.config.MaxConnections {
		count = p.config.MaxConnections
	}

	warmed := 0
	for i := 0; i < count; i++ {
		conn, err := NewConn(p.config.connConfig())
		if err != nil {
			p.logger.WithError(err).Warn("failed to create warmup connection")
			continue
		}

		connectCtx, cancel := context.WithTimeout(ctx, p.config.ConnectTimeout)
		err = conn.Connect(connectCtx)
		cancel()
		if err != nil {
			p.logger.WithError(err).WithFields(logrus.Fields{
				"uri": p.config.URI,
			}).Warn("failed to warm up connection")
			conn.Close()
			continue
		}

		p.mu.Lock()
		if p.closed || p.total >= p.config.MaxConnections {
			p.mu.Unlock()
			conn.Close()
			return
		}
		p.available = append(p.available, conn)
		p.total++
		p.mu.Unlock()

		warmed++
		p.logger.WithFields(logrus.Fields{
			"conn": conn.String(),
		}).Debug("warmed up connection")
	}

	p.logger.WithFields(logrus.Fields{
		"warmed":    warmed,
		"requested": count,
	}).Info("pool warm-up finished")
}

// ensureStarted starts the pool when an operation arrives before Start.
func (p *Pool) ensureStarted(ctx context.Context) {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		p.Start(ctx)
	}
}

// Acquire returns an exclusively held connection, reusing a healthy
// available one or creating a new one under capacity. Transient
// failures (CodeConnUnavailable, CodeConnClosed, transport timeouts)
// are retried with exponential backoff up to MaxRetries attempts.
// Capacity exhaustion is not retried; it surfaces immediately as
// backpressure with CodePoolExhausted.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	p.ensureStarted(ctx)
	return p.acquireWithRetry(ctx, p.acquire)
}

// AcquireNew returns an exclusively held, freshly created connection,
// never reusing an available one. Same capacity and retry semantics as
// Acquire.
func (p *Pool) AcquireNew(ctx context.Context) (*Conn, error) {
	p.ensureStarted(ctx)
	return p.acquireWithRetry(ctx, p.acquireNew)
}

// acquire is one acquisition attempt: reuse from available if healthy,
// otherwise create under capacity.
func (p *Pool) acquire(ctx context.Context) (*Conn, error) {
	for {
		var candidate *Conn

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, p.unavailableError()
		}
		if len(p.available) > 0 {
			candidate = p.available[0]
			p.available = p.available[1:]
		}
		p.mu.Unlock()

		if candidate == nil {
			return p.acquireNew(ctx)
		}

		// Health-check the candidate outside the lock. The candidate is
		// tracked in no set while under test; discard reconciles total.
		if !candidate.IsConnected() {
			p.discard(candidate)
			continue
		}
		if err := candidate.Acquire(ctx); err != nil {
			p.logger.WithError(err).WithFields(logrus.Fields{
				"conn": candidate.String(),
			}).Debug("discarding unacquirable pooled connection")
			p.discard(candidate)
			continue
		}
		if err := candidate.Ping(ctx); err != nil {
			p.logger.WithError(err).WithFields(logrus.Fields{
				"conn": candidate.String(),
			}).Debug("discarding unhealthy pooled connection")
			candidate.Release()
			p.discard(candidate)
			continue
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			candidate.Release()
			candidate.Close()
			return nil, p.unavailableError()
		}
		p.busy[candidate] = struct{}{}
		p.mu.Unlock()

		p.logger.WithFields(logrus.Fields{
			"conn": candidate.String(),
		}).Debug("reused connection from pool")
		return candidate, nil
	}
}

// acquireNew is one forced-creation attempt: reserve a capacity slot,
// build and connect outside the lock, reconcile the slot on failure.
func (p *Pool) acquireNew(ctx context.Context) (*Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, p.unavailableError()
	}
	if p.total >= p.config.MaxConnections {
		err := p.exhaustedErrorLocked()
		p.mu.Unlock()
		return nil, err
	}
	p.total++
	p.mu.Unlock()

	conn, err := p.createAndAcquire(ctx)
	if err != nil {
		// Free the reserved slot. If the pool closed meanwhile the
		// counters were already zeroed; leave them alone.
		p.mu.Lock()
		if !p.closed {
			p.total--
		}
		p.mu.Unlock()
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		conn.Release()
		conn.Close()
		return nil, p.unavailableError()
	}
	p.busy[conn] = struct{}{}
	p.mu.Unlock()

	p.logger.WithFields(logrus.Fields{
		"conn": conn.String(),
	}).Debug("created new connection")
	return conn, nil
}

// createAndAcquire builds, connects and claims a fresh connection.
func (p *Pool) createAndAcquire(ctx context.Context) (*Conn, error) {
	conn, err := NewConn(p.config.connConfig())
	if err != nil {
		return nil, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, p.config.ConnectTimeout)
	defer cancel()

	if err := conn.Connect(connectCtx); err != nil {
		conn.Close()
		return nil, oops.
			Code(CodeConnUnavailable).
			In("wspool").
			With("uri", p.config.URI).
			Wrapf(err, "failed to create connection")
	}
	if err := conn.Acquire(ctx); err != nil {
		conn.Close()
		return nil, oops.
			Code(CodeConnUnavailable).
			In("wspool").
			With("uri", p.config.URI).
			Wrapf(err, "failed to claim new connection")
	}
	return conn, nil
}

// Release hands a connection back to the pool. Depending on health and
// configuration the connection either returns to the available set
// immediately, enters the pending set for background draining, or is
// closed and removed. forceRemove closes it unconditionally.
func (p *Pool) Release(conn *Conn, forceRemove bool) {
	p.mu.Lock()
	if _, ok := p.busy[conn]; !ok {
		p.mu.Unlock()
		p.logger.WithFields(logrus.Fields{
			"conn": conn.String(),
		}).Warn("releasing connection not tracked as busy")
		return
	}
	delete(p.busy, conn)
	p.mu.Unlock()

	// Clear exclusive ownership outside the pool lock.
	conn.Release()

	p.mu.Lock()
	if forceRemove || p.closed || !conn.IsConnected() {
		if !p.closed {
			p.total--
		}
		p.mu.Unlock()
		conn.Close()
		p.logger.WithFields(logrus.Fields{
			"conn":   conn.String(),
			"forced": forceRemove,
		}).Debug("removed connection on release")
		return
	}

	if !p.config.DrainOnRelease {
		p.available = append(p.available, conn)
		p.mu.Unlock()
		p.logger.WithFields(logrus.Fields{
			"conn": conn.String(),
		}).Debug("released connection to available")
		return
	}

	pc := newPendingConn(conn, p.config.DrainTimeout, p.config.DrainPredicate)
	p.pending[pc.id] = pc
	p.mu.Unlock()

	conn.setDraining(true)
	go p.drainConn(pc)

	p.logger.WithFields(logrus.Fields{
		"conn": conn.String(),
	}).Debug("released connection to pending for draining")
}

// WithConn acquires a connection, runs fn and always releases it back
// to the pool.
func (p *Pool) WithConn(ctx context.Context, fn func(*Conn) error) error {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(conn, false)
	return fn(conn)
}

// WithNewConn acquires a freshly created connection, runs fn and always
// releases it back to the pool.
func (p *Pool) WithNewConn(ctx context.Context, fn func(*Conn) error) error {
	conn, err := p.AcquireNew(ctx)
	if err != nil {
		return err
	}
	defer p.Release(conn, false)
	return fn(conn)
}

// discard closes a connection that was popped out of every tracking
// set (a reuse candidate under health check) and frees its capacity
// slot.
func (p *Pool) discard(conn *Conn) {
	p.mu.Lock()
	if !p.closed {
		p.total--
	}
	p.mu.Unlock()

	conn.Close()
}

// SetShutdownManager sets the shutdown manager for this pool.
// If a shutdown manager is set, the pool registers itself for graceful
// shutdown coordination and unregisters on CloseAll.
func (p *Pool) SetShutdownManager(sm *ShutdownManager) {
	p.shutdownManager = sm
	if sm != nil {
		sm.RegisterPool(p)
	}
}

// CloseAll shuts the pool down: it stops the cleanup loop and every
// drain task, waits for them, closes every tracked connection and
// zeroes all bookkeeping. The pool is permanently unusable afterwards.
// Idempotent.
func (p *Pool) CloseAll() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true

	cleanupStop := p.cleanupStop
	cleanupDone := p.cleanupDone

	conns := make([]*Conn, 0, len(p.available)+len(p.busy)+len(p.pending))
	conns = append(conns, p.available...)
	for conn := range p.busy {
		conns = append(conns, conn)
	}
	pendings := make([]*PendingConn, 0, len(p.pending))
	for _, pc := range p.pending {
		pendings = append(pendings, pc)
		conns = append(conns, pc.conn)
	}

	p.available = nil
	p.busy = make(map[*Conn]struct{})
	p.pending = make(map[string]*PendingConn)
	p.total = 0
	p.mu.Unlock()

	if cleanupStop != nil {
		close(cleanupStop)
		<-cleanupDone
	}

	for _, pc := range pendings {
		pc.cancel()
	}
	for _, pc := range pendings {
		pc.wait()
	}

	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			p.logger.WithError(err).WithFields(logrus.Fields{
				"conn": conn.String(),
			}).Warn("error closing connection during pool shutdown")
		}
	}

	if p.shutdownManager != nil {
		p.shutdownManager.UnregisterPool(p)
	}

	p.logger.WithFields(logrus.Fields{
		"uri": p.config.URI,
	}).Info("connection pool closed")
	return nil
}

// unavailableError builds the closed-pool error.
func (p *Pool) unavailableError() error {
	return oops.
		Code(CodePoolUnavailable).
		In("wspool").
		With("uri", p.config.URI).
		Errorf("connection pool is closed")
}

// exhaustedErrorLocked builds the capacity error. Callers must hold mu.
func (p *Pool) exhaustedErrorLocked() error {
	return oops.
		Code(CodePoolExhausted).
		In("wspool").
		With("uri", p.config.URI).
		With("capacity", p.config.MaxConnections).
		With("available", len(p.available)).
		With("busy", len(p.busy)).
		With("pending", len(p.pending)).
		Errorf("maximum connections %d reached", p.config.MaxConnections)
}
