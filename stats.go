package wspool

// PoolStats is a point-in-time snapshot of the pool's bookkeeping.
// Total always equals Available + Busy + Pending plus any slots
// reserved for connections still being established.
type PoolStats struct {
	Total     int
	Available int
	Busy      int
	Pending   int
	Started   bool
	Closed    bool
}

// Stats returns a consistent snapshot of the pool's counters.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return PoolStats{
		Total:     p.total,
		Available: len(p.available),
		Busy:      len(p.busy),
		Pending:   len(p.pending),
		Started:   p.started,
		Closed:    p.closed,
	}
}

// TotalConnections returns the number of connections across all sets.
func (p *Pool) TotalConnections() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

// AvailableConnections returns the number of idle connections awaiting
// a claim.
func (p *Pool) AvailableConnections() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.available)
}

// BusyConnections returns the number of connections currently held by
// callers.
func (p *Pool) BusyConnections() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.busy)
}

// PendingConnections returns the number of connections being drained.
func (p *Pool) PendingConnections() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// IsStarted reports whether the pool has been started.
func (p *Pool) IsStarted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

// IsClosed reports whether the pool has been closed.
func (p *Pool) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
