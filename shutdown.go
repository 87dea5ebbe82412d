package wspool

import (
	"context"
	"sync"
	"time"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"github.com/sirupsen/logrus"
)

// ShutdownManager coordinates graceful shutdown of pools and standalone
// connections. It provides context-based cancellation and ensures
// resources are released, with a configurable timeout before remaining
// connections are closed forcefully.
type ShutdownManager struct {
	// ctx is the context for shutdown signaling
	ctx context.Context

	// cancel cancels the shutdown context
	cancel context.CancelFunc

	// pools tracks active pools for coordinated shutdown
	pools map[*Pool]struct{}

	// conns tracks standalone connections not owned by any pool
	conns map[*Conn]struct{}

	// mu protects the pool and connection maps
	mu sync.RWMutex

	// shutdownTimeout is the maximum time to wait for connections to
	// release before forcing closure
	shutdownTimeout time.Duration

	// logger for shutdown events
	logger *logger.Logger

	// done signals when shutdown is complete
	done chan struct{}

	// once ensures shutdown only happens once
	once sync.Once
}

// NewShutdownManager creates a new shutdown manager with the given
// timeout. If timeout is 0, a default of 30 seconds is used.
func NewShutdownManager(timeout time.Duration) *ShutdownManager {
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &ShutdownManager{
		ctx:             ctx,
		cancel:          cancel,
		pools:           make(map[*Pool]struct{}),
		conns:           make(map[*Conn]struct{}),
		shutdownTimeout: timeout,
		logger:          logger.GetGoI2PLogger(),
		done:            make(chan struct{}),
	}
}

// RegisterPool adds a pool to be closed during shutdown.
func (sm *ShutdownManager) RegisterPool(pool *Pool) {
	if pool == nil {
		return
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.pools[pool] = struct{}{}
	sm.logger.WithFields(logrus.Fields{
		"total_pools": len(sm.pools),
	}).Debug("registered pool for shutdown management")
}

// UnregisterPool removes a pool from shutdown management. Called when a
// pool closes normally.
func (sm *ShutdownManager) UnregisterPool(pool *Pool) {
	if pool == nil {
		return
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	delete(sm.pools, pool)
	sm.logger.WithFields(logrus.Fields{
		"total_pools": len(sm.pools),
	}).Debug("unregistered pool from shutdown management")
}

// RegisterConn adds a standalone connection to be managed during
// shutdown.
func (sm *ShutdownManager) RegisterConn(conn *Conn) {
	if conn == nil {
		return
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.conns[conn] = struct{}{}
	sm.logger.WithFields(logrus.Fields{
		"conn":        conn.String(),
		"total_conns": len(sm.conns),
	}).Debug("registered connection for shutdown management")
}

// UnregisterConn removes a connection from shutdown management. Called
// when a connection closes normally.
func (sm *ShutdownManager) UnregisterConn(conn *Conn) {
	if conn == nil {
		return
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	delete(sm.conns, conn)
	sm.logger.WithFields(logrus.Fields{
		"conn":        conn.String(),
		"total_conns": len(sm.conns),
	}).Debug("unregistered connection from shutdown management")
}

// Context returns the shutdown context for monitoring shutdown signals.
// Components can use this context to detect when shutdown has begun.
func (sm *ShutdownManager) Context() context.Context {
	return sm.ctx
}

// Shutdown initiates graceful shutdown of all managed components. It
// closes pools first, waits for standalone connections to release, then
// forcefully closes whatever remains after the timeout period.
func (sm *ShutdownManager) Shutdown() error {
	var shutdownErr error

	sm.once.Do(func() {
		defer close(sm.done)

		sm.logger.WithFields(logrus.Fields{
			"timeout": sm.shutdownTimeout.String(),
			"pools":   len(sm.pools),
			"conns":   len(sm.conns),
		}).Info("initiating graceful shutdown")
		sm.cancel()

		shutdownErr = sm.executeShutdownSequence()
		sm.logger.Info("graceful shutdown complete")
	})

	return shutdownErr
}

// executeShutdownSequence performs the main shutdown operations in order.
func (sm *ShutdownManager) executeShutdownSequence() error {
	shutdownErr := sm.closePools()
	if shutdownErr != nil {
		sm.logger.WithError(shutdownErr).Error("error closing pools during shutdown")
	}

	if err := sm.waitForConnsRelease(); err != nil {
		sm.logger.WithError(err).Warn("timeout waiting for connections to release, forcing close")
		if forceErr := sm.forceCloseConns(); forceErr != nil {
			sm.logger.WithError(forceErr).Error("error force closing connections")
			if shutdownErr == nil {
				shutdownErr = forceErr
			}
		}
	}

	return shutdownErr
}

// Wait blocks until shutdown is complete.
func (sm *ShutdownManager) Wait() {
	<-sm.done
}

// closePools closes all registered pools.
func (sm *ShutdownManager) closePools() error {
	sm.mu.RLock()
	pools := make([]*Pool, 0, len(sm.pools))
	for pool := range sm.pools {
		pools = append(pools, pool)
	}
	sm.mu.RUnlock()

	var firstError error
	for _, pool := range pools {
		if err := pool.CloseAll(); err != nil {
			sm.logger.WithError(err).Error("error closing pool during shutdown")
			if firstError == nil {
				firstError = err
			}
		}
	}

	return firstError
}

// waitForConnsRelease waits for all standalone connections to close
// gracefully within the timeout.
func (sm *ShutdownManager) waitForConnsRelease() error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	timeout := time.NewTimer(sm.shutdownTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-timeout.C:
			sm.mu.RLock()
			remaining := len(sm.conns)
			sm.mu.RUnlock()

			if remaining == 0 {
				return nil
			}
			return oops.
				Code("SHUTDOWN_TIMEOUT").
				In("wspool").
				With("remaining_conns", remaining).
				With("timeout", sm.shutdownTimeout.String()).
				Errorf("timeout waiting for connections to release")

		case <-ticker.C:
			sm.mu.RLock()
			remaining := len(sm.conns)
			sm.mu.RUnlock()

			if remaining == 0 {
				return nil
			}

			sm.logger.WithField("remaining_conns", remaining).
				Debug("waiting for connections to release")
		}
	}
}

// forceCloseConns forcefully closes all remaining connections.
func (sm *ShutdownManager) forceCloseConns() error {
	sm.mu.RLock()
	conns := make([]*Conn, 0, len(sm.conns))
	for conn := range sm.conns {
		conns = append(conns, conn)
	}
	sm.mu.RUnlock()

	var firstError error
	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			sm.logger.WithError(err).WithFields(logrus.Fields{
				"conn": conn.String(),
			}).Error("error force closing connection during shutdown")
			if firstError == nil {
				firstError = err
			}
		}
	}

	return firstError
}
