package wspool

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// PendingConn wraps a connection that is being drained before it
// returns to the available set. Its completed flag is the exactly-once
// gate between the drain task's natural completion and a concurrent
// cleanup sweep: whichever observer flips it first owns the removal
// bookkeeping, and the other must no-op.
type PendingConn struct {
	// conn is the connection being drained
	conn *Conn

	// drainTimeout bounds the whole drain attempt
	drainTimeout time.Duration

	// predicate classifies drained messages
	predicate DrainPredicate

	// createdAt is when draining began
	createdAt time.Time

	// id keys this entry in the pool's pending map
	id string

	// mu guards completed
	mu        sync.Mutex
	completed bool

	// stop cancels the drain goroutine
	stop     chan struct{}
	stopOnce sync.Once

	// done is closed when the drain goroutine has exited
	done chan struct{}
}

// newPendingConn creates a PendingConn for the given connection.
func newPendingConn(conn *Conn, drainTimeout time.Duration, predicate DrainPredicate) *PendingConn {
	return &PendingConn{
		conn:         conn,
		drainTimeout: drainTimeout,
		predicate:    predicate,
		createdAt:    time.Now(),
		id:           uuid.NewString(),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// markCompleted atomically claims completion. It returns true for
// exactly one caller; every later caller gets false and must leave the
// pool bookkeeping alone.
func (p *PendingConn) markCompleted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.completed {
		return false
	}
	p.completed = true
	return true
}

// cancel signals the drain goroutine to exit. Idempotent.
func (p *PendingConn) cancel() {
	p.stopOnce.Do(func() {
		close(p.stop)
	})
}

// wait blocks until the drain goroutine has exited.
func (p *PendingConn) wait() {
	<-p.done
}
