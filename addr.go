package wspool

import (
	"github.com/go-i2p/go-wspool/internal"
)

// ConnAddr identifies a pooled connection endpoint. It implements
// net.Addr so pooled connections can be logged and reported with the
// same vocabulary as plain network connections.
type ConnAddr struct {
	// uri is the remote endpoint
	uri string

	// connID is the owning connection's identity
	connID string
}

// NewConnAddr creates a ConnAddr for the given endpoint and connection id.
func NewConnAddr(uri, connID string) *ConnAddr {
	return &ConnAddr{
		uri:    uri,
		connID: connID,
	}
}

// Network returns the network type for this address.
func (a *ConnAddr) Network() string {
	return "wspool"
}

// String returns the string representation: "uri#shortid".
func (a *ConnAddr) String() string {
	return a.uri + "#" + internal.ShortID(a.connID)
}

// URI returns the remote endpoint.
func (a *ConnAddr) URI() string {
	return a.uri
}

// ConnID returns the full connection id.
func (a *ConnAddr) ConnID() string {
	return a.connID
}
