package internal

import (
	"sync"
	"time"
)

// ConnState represents the externally observable state of a pooled connection
type ConnState int

const (
	// StateDisconnected represents a connection with no live transport
	StateDisconnected ConnState = iota
	// StateIdle represents a connected connection awaiting a claim
	StateIdle
	// StateBusy represents a connection exclusively held by a caller
	StateBusy
	// StateDraining represents a connection consuming residual server data
	StateDraining
	// StateClosed represents a closed connection; terminal
	StateClosed
)

// String returns the string representation of the connection state
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ConnMetrics holds per-connection traffic counters
type ConnMetrics struct {
	mu               sync.RWMutex
	MessagesSent     int64
	MessagesReceived int64
	MessagesDrained  int64
	Created          time.Time
}

// NewConnMetrics creates a new ConnMetrics instance
func NewConnMetrics() *ConnMetrics {
	return &ConnMetrics{
		Created: time.Now(),
	}
}

// AddSent increments the sent message counter
func (m *ConnMetrics) AddSent(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesSent += n
}

// AddReceived increments the received message counter
func (m *ConnMetrics) AddReceived(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesReceived += n
}

// AddDrained increments the drained message counter
func (m *ConnMetrics) AddDrained(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesDrained += n
}

// Age returns the time elapsed since the connection was created
func (m *ConnMetrics) Age() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Since(m.Created)
}

// GetStats returns current traffic counters
func (m *ConnMetrics) GetStats() (sent, received, drained int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.MessagesSent, m.MessagesReceived, m.MessagesDrained
}
