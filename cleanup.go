package wspool

import (
	"time"

	"github.com/sirupsen/logrus"
)

// cleanupLoop periodically sweeps the pool for dead weight until the
// pool closes.
func (p *Pool) cleanupLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.cleanupSweep()
		}
	}
}

// cleanupSweep removes available connections that are disconnected or
// idle past the idle timeout, busy connections that dropped out-of-band
// and pending connections whose drain died or overstayed its grace
// window. Bookkeeping happens under the pool lock; the actual closes
// happen outside it so a slow transport close never blocks acquire or
// release.
func (p *Pool) cleanupSweep() {
	now := time.Now()

	var availRemove, busyRemove []*Conn
	var pendingRemove []*PendingConn

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}

	kept := p.available[:0]
	for _, conn := range p.available {
		if !conn.IsConnected() || now.Sub(conn.LastActivity()) > p.config.IdleTimeout {
			availRemove = append(availRemove, conn)
			p.total--
			continue
		}
		kept = append(kept, conn)
	}
	p.available = kept

	for conn := range p.busy {
		if !conn.IsConnected() {
			delete(p.busy, conn)
			busyRemove = append(busyRemove, conn)
			p.total--
		}
	}

	grace := p.config.DrainTimeout + p.config.CleanupInterval
	for id, pc := range p.pending {
		stale := !pc.conn.IsConnected() || now.Sub(pc.createdAt) > grace
		if !stale {
			continue
		}
		// The drain task may be finishing concurrently; only the winner
		// of the completion flag removes and decrements.
		if pc.markCompleted() {
			delete(p.pending, id)
			p.total--
			pendingRemove = append(pendingRemove, pc)
		}
	}
	p.mu.Unlock()

	for _, conn := range availRemove {
		conn.Close()
		p.logger.WithFields(logrus.Fields{
			"conn": conn.String(),
		}).Debug("cleaned up idle connection")
	}

	for _, conn := range busyRemove {
		conn.Close()
		p.logger.WithFields(logrus.Fields{
			"conn": conn.String(),
		}).Warn("cleaned up disconnected busy connection")
	}

	for _, pc := range pendingRemove {
		pc.cancel()
		pc.conn.Close()
		p.logger.WithFields(logrus.Fields{
			"conn": pc.conn.String(),
		}).Debug("cleaned up stale pending connection")
	}
}
