package wspool

import (
	"github.com/samber/oops"
)

// Error codes used by the pool. Every error returned from this package
// carries one of these codes, which callers can inspect with the Is*
// helpers below instead of matching on sentinel values.
const (
	// CodeConnBusy indicates an attempt to use a connection that is
	// already claimed by another caller or is being drained.
	CodeConnBusy = "CONN_BUSY"

	// CodeConnUnavailable indicates the transport is not open or could
	// not be established.
	CodeConnUnavailable = "CONN_UNAVAILABLE"

	// CodeConnClosed indicates the transport closed during an operation.
	// The connection closes itself when this happens.
	CodeConnClosed = "CONN_CLOSED"

	// CodePoolExhausted indicates the pool is at capacity with no healthy
	// available connection. Never retried; callers must apply their own
	// backpressure policy.
	CodePoolExhausted = "POOL_EXHAUSTED"

	// CodePoolUnavailable indicates an operation on a closed pool.
	CodePoolUnavailable = "POOL_UNAVAILABLE"

	// CodeReceiveTimeout indicates a timed receive expired before a
	// message arrived. Transport implementations must return errors with
	// this code from ReceiveTimeout so the drain loop can tell silence
	// apart from failure.
	CodeReceiveTimeout = "RECV_TIMEOUT"
)

// errCode extracts the oops error code from err, or "" when err carries none.
func errCode(err error) string {
	if err == nil {
		return ""
	}
	if o, ok := oops.AsOops(err); ok {
		return o.Code()
	}
	return ""
}

// IsConnBusy reports whether err indicates a busy or draining connection.
func IsConnBusy(err error) bool {
	return errCode(err) == CodeConnBusy
}

// IsConnUnavailable reports whether err indicates an unopened or
// unestablishable transport.
func IsConnUnavailable(err error) bool {
	return errCode(err) == CodeConnUnavailable
}

// IsConnClosed reports whether err indicates the transport closed
// mid-operation.
func IsConnClosed(err error) bool {
	return errCode(err) == CodeConnClosed
}

// IsPoolExhausted reports whether err indicates the pool reached capacity.
func IsPoolExhausted(err error) bool {
	return errCode(err) == CodePoolExhausted
}

// IsPoolUnavailable reports whether err indicates a closed pool.
func IsPoolUnavailable(err error) bool {
	return errCode(err) == CodePoolUnavailable
}

// IsReceiveTimeout reports whether err indicates a timed receive expired
// without a message.
func IsReceiveTimeout(err error) bool {
	return errCode(err) == CodeReceiveTimeout
}
