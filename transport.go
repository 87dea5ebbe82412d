package wspool

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/oops"
)

// MessageConn is the capability the pool requires from a transport
// implementation: a duplex, message-oriented channel. The pool never
// defines a wire format of its own; everything protocol-specific lives
// behind this interface.
//
// Implementations must return errors carrying CodeConnClosed when the
// transport closes during an operation, and CodeReceiveTimeout from
// ReceiveTimeout when the window expires without a message. The drain
// machinery depends on this classification.
type MessageConn interface {
	// Send writes one message. Cancellation is honored via the context
	// deadline where the underlying transport supports it.
	Send(ctx context.Context, msg Message) error

	// Receive blocks until a message arrives or the transport fails.
	Receive(ctx context.Context) (Message, error)

	// ReceiveTimeout waits at most d for a message.
	ReceiveTimeout(ctx context.Context, d time.Duration) (Message, error)

	// Ping probes transport liveness.
	Ping(ctx context.Context) error

	// Close releases the transport. Must be idempotent.
	Close() error

	// IsOpen reports whether the transport is still usable.
	IsOpen() bool
}

// Dialer establishes MessageConns to a remote endpoint.
type Dialer interface {
	Dial(ctx context.Context, uri string, headers map[string]string) (MessageConn, error)
}

// WebSocketDialer is the default Dialer, backed by gorilla/websocket.
type WebSocketDialer struct {
	// Dialer is the underlying websocket dialer. Callers needing TLS
	// configuration, subprotocols or proxy settings adjust it directly.
	Dialer *websocket.Dialer
}

// NewWebSocketDialer creates a WebSocketDialer with a 10 second
// handshake timeout.
func NewWebSocketDialer() *WebSocketDialer {
	return &WebSocketDialer{
		Dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Dial connects to uri and wraps the websocket in a MessageConn.
func (d *WebSocketDialer) Dial(ctx context.Context, uri string, headers map[string]string) (MessageConn, error) {
	header := make(http.Header, len(headers))
	for k, v := range headers {
		header.Set(k, v)
	}

	conn, resp, err := d.Dialer.DialContext(ctx, uri, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, oops.
			Code(CodeConnUnavailable).
			In("wspool").
			With("uri", uri).
			With("status", status).
			Wrapf(err, "websocket dial failed")
	}

	return newWSConn(conn), nil
}

// wsConn adapts *websocket.Conn to MessageConn. Inbound frames flow
// through a reader pump goroutine into a channel: gorilla poisons the
// read side permanently after a deadline expiry, so timed receives must
// wait on the channel instead of setting read deadlines.
type wsConn struct {
	conn *websocket.Conn

	// writeMu serializes writers; gorilla allows one concurrent writer
	writeMu sync.Mutex

	// inbox carries frames from the reader pump to Receive callers
	inbox chan Message

	// pumpDone is closed when the reader pump exits
	pumpDone chan struct{}

	// stop unblocks a pump stuck delivering to a full inbox
	stop chan struct{}

	closeOnce sync.Once

	mu      sync.Mutex
	closed  bool
	readErr error
}

func newWSConn(conn *websocket.Conn) *wsConn {
	c := &wsConn{
		conn:     conn,
		inbox:    make(chan Message, 16),
		pumpDone: make(chan struct{}),
		stop:     make(chan struct{}),
	}
	go c.readPump()
	return c
}

// readPump moves frames from the websocket into the inbox until the
// connection fails or closes.
func (c *wsConn) readPump() {
	defer close(c.pumpDone)

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.readErr = err
			c.closed = true
			c.mu.Unlock()
			return
		}

		select {
		case c.inbox <- Message{Kind: MessageKind(kind), Data: data}:
		case <-c.stop:
			return
		}
	}
}

func (c *wsConn) Send(ctx context.Context, msg Message) error {
	if !c.IsOpen() {
		return c.closedError()
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Time{}
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return c.condemn(err, "failed to set write deadline")
	}

	if err := c.conn.WriteMessage(int(msg.Kind), msg.Data); err != nil {
		return c.condemn(err, "websocket write failed")
	}
	return nil
}

func (c *wsConn) Receive(ctx context.Context) (Message, error) {
	// Drain buffered frames before reporting a dead pump.
	select {
	case msg := <-c.inbox:
		return msg, nil
	default:
	}

	select {
	case msg := <-c.inbox:
		return msg, nil
	case <-c.pumpDone:
		return Message{}, c.closedError()
	case <-ctx.Done():
		return Message{}, c.contextError(ctx.Err())
	}
}

func (c *wsConn) ReceiveTimeout(ctx context.Context, d time.Duration) (Message, error) {
	select {
	case msg := <-c.inbox:
		return msg, nil
	default:
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case msg := <-c.inbox:
		return msg, nil
	case <-c.pumpDone:
		return Message{}, c.closedError()
	case <-ctx.Done():
		return Message{}, c.contextError(ctx.Err())
	case <-timer.C:
		return Message{}, oops.
			Code(CodeReceiveTimeout).
			In("wspool").
			With("timeout", d.String()).
			Errorf("no message within %s", d)
	}
}

func (c *wsConn) Ping(ctx context.Context) error {
	if !c.IsOpen() {
		return c.closedError()
	}

	deadline := time.Now().Add(5 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
		return c.condemn(err, "websocket ping failed")
	}
	return nil
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.stop)
		c.conn.Close()
	})
	return nil
}

func (c *wsConn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// condemn marks the websocket dead after a write-side failure and wraps
// err with the closed code. Any write error leaves a websocket session
// unusable, so the transport is never reused after one.
func (c *wsConn) condemn(err error, msg string) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	return oops.
		Code(CodeConnClosed).
		In("wspool").
		Wrapf(err, "%s", msg)
}

// closedError wraps the pump's terminal error, if any, with the closed
// code.
func (c *wsConn) closedError() error {
	c.mu.Lock()
	readErr := c.readErr
	c.mu.Unlock()

	if readErr != nil {
		return oops.
			Code(CodeConnClosed).
			In("wspool").
			Wrapf(readErr, "websocket is closed")
	}
	return oops.
		Code(CodeConnClosed).
		In("wspool").
		Errorf("websocket is closed")
}

// contextError classifies a context failure: deadline expiry maps to
// the receive-timeout code so drain loops can keep waiting.
func (c *wsConn) contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return oops.
			Code(CodeReceiveTimeout).
			In("wspool").
			Wrapf(err, "receive deadline exceeded")
	}
	return oops.
		In("wspool").
		Wrapf(err, "receive cancelled")
}
