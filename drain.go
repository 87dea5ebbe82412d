package wspool

import (
	"time"

	"github.com/sirupsen/logrus"
)

// maxDrainRecvTimeout caps the per-attempt receive wait during a drain
// so the loop re-checks its deadlines at least twice per quiet period.
const maxDrainRecvTimeout = 500 * time.Millisecond

// drainConn consumes residual server data from a released connection
// until one of three outcomes: silence for the quiet period (clean, the
// connection returns to available), a message failing the drain
// predicate or the overall drain timeout elapsing (dirty, the
// connection is removed), or a transport failure (dirty). Every
// terminal transition is gated by the PendingConn's exactly-once flag
// so a concurrent cleanup sweep cannot double-account the removal.
func (p *Pool) drainConn(pc *PendingConn) {
	defer close(pc.done)

	conn := pc.conn
	start := time.Now()
	lastMessage := start
	drained := 0

	recvTimeout := p.config.DrainQuietPeriod / 2
	if recvTimeout > maxDrainRecvTimeout {
		recvTimeout = maxDrainRecvTimeout
	}

	p.logger.WithFields(logrus.Fields{
		"conn": conn.String(),
	}).Debug("starting drain task")

	for {
		select {
		case <-pc.stop:
			// Cancelled by cleanup or pool shutdown; the canceller owns
			// the bookkeeping.
			return
		default:
		}

		if time.Since(start) > pc.drainTimeout {
			p.logger.WithFields(logrus.Fields{
				"conn":    conn.String(),
				"drained": drained,
			}).Debug("drain timeout reached")
			break
		}

		if time.Since(lastMessage) > p.config.DrainQuietPeriod {
			p.finishDrainClean(pc, drained)
			return
		}

		msg, err := conn.receiveForDrain(recvTimeout)
		if err != nil {
			if IsReceiveTimeout(err) {
				continue
			}
			p.logger.WithError(err).WithFields(logrus.Fields{
				"conn": conn.String(),
			}).Debug("drain receive failed")
			break
		}

		lastMessage = time.Now()
		drained++

		if pc.predicate(msg) {
			continue
		}

		// The message looks session-relevant, not server noise. The
		// connection cannot be trusted for reuse.
		p.logger.WithFields(logrus.Fields{
			"conn": conn.String(),
			"kind": int(msg.Kind),
			"len":  len(msg.Data),
		}).Debug("unexpected message during drain")
		break
	}

	p.finishDrainDirty(pc, drained)
}

// finishDrainClean moves a quiet connection from pending back to
// available, unless the cleanup sweep already claimed it or the
// connection died in the meantime.
func (p *Pool) finishDrainClean(pc *PendingConn, drained int) {
	conn := pc.conn

	if !pc.markCompleted() {
		return
	}

	closeAfter := false
	p.mu.Lock()
	if _, ok := p.pending[pc.id]; ok {
		delete(p.pending, pc.id)
		if conn.IsConnected() {
			conn.setDraining(false)
			p.available = append(p.available, conn)
		} else {
			p.total--
			closeAfter = true
		}
	}
	p.mu.Unlock()

	if closeAfter {
		conn.Close()
		p.logger.WithFields(logrus.Fields{
			"conn": conn.String(),
		}).Debug("connection died during drain")
		return
	}

	p.logger.WithFields(logrus.Fields{
		"conn":    conn.String(),
		"drained": drained,
	}).Debug("drained connection returned to available")
}

// finishDrainDirty removes a connection whose drain failed or timed
// out, unless the cleanup sweep already claimed it.
func (p *Pool) finishDrainDirty(pc *PendingConn, drained int) {
	conn := pc.conn

	if !pc.markCompleted() {
		return
	}

	p.mu.Lock()
	if _, ok := p.pending[pc.id]; ok {
		delete(p.pending, pc.id)
		p.total--
	}
	p.mu.Unlock()

	conn.Close()

	p.logger.WithFields(logrus.Fields{
		"conn":    conn.String(),
		"drained": drained,
	}).Debug("removed connection after drain")
}
