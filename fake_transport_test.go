package wspool

import (
	"context"
	"sync"
	"time"

	"github.com/samber/oops"
)

// fakeConn is an in-memory MessageConn for tests. Messages queued with
// queue become receivable; closing it makes every operation fail with
// the closed code, mirroring the contract real transports follow.
type fakeConn struct {
	inbox     chan Message
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	sent    []Message
	sendErr error
	pingErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbox:  make(chan Message, 64),
		closed: make(chan struct{}),
	}
}

// queue makes msg available to the next receive. Non-blocking; drops
// the message if the inbox is full.
func (f *fakeConn) queue(msg Message) {
	select {
	case f.inbox <- msg:
	default:
	}
}

// failNextSend makes the next Send return err while the transport still
// reports open, simulating a mid-operation transport failure.
func (f *fakeConn) failNextSend(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

// failPings makes Ping return err, simulating a half-dead transport.
func (f *fakeConn) failPings(err error) {
	f.mu.Lock()
	f.pingErr = err
	f.mu.Unlock()
}

func (f *fakeConn) sentMessages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Message, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeConn) Send(ctx context.Context, msg Message) error {
	if !f.IsOpen() {
		return fakeClosedError()
	}

	f.mu.Lock()
	if f.sendErr != nil {
		err := f.sendErr
		f.sendErr = nil
		f.mu.Unlock()
		return err
	}
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) Receive(ctx context.Context) (Message, error) {
	select {
	case msg := <-f.inbox:
		return msg, nil
	default:
	}

	select {
	case msg := <-f.inbox:
		return msg, nil
	case <-f.closed:
		return Message{}, fakeClosedError()
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (f *fakeConn) ReceiveTimeout(ctx context.Context, d time.Duration) (Message, error) {
	select {
	case msg := <-f.inbox:
		return msg, nil
	default:
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case msg := <-f.inbox:
		return msg, nil
	case <-f.closed:
		return Message{}, fakeClosedError()
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-timer.C:
		return Message{}, oops.
			Code(CodeReceiveTimeout).
			In("wspool").
			Errorf("no message within %s", d)
	}
}

func (f *fakeConn) Ping(ctx context.Context) error {
	if !f.IsOpen() {
		return fakeClosedError()
	}

	f.mu.Lock()
	pingErr := f.pingErr
	f.mu.Unlock()
	return pingErr
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
	})
	return nil
}

func (f *fakeConn) IsOpen() bool {
	select {
	case <-f.closed:
		return false
	default:
		return true
	}
}

func fakeClosedError() error {
	return oops.
		Code(CodeConnClosed).
		In("wspool").
		Errorf("fake transport is closed")
}

// fakeDialer hands out fakeConns and records every dial. failNext
// makes the next n dials fail with a transient error so retry behavior
// can be exercised deterministically.
type fakeDialer struct {
	mu       sync.Mutex
	conns    []*fakeConn
	dials    int
	failNext int

	// onDial, when set, runs against each freshly dialed conn before it
	// is returned
	onDial func(*fakeConn)
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{}
}

func (d *fakeDialer) Dial(ctx context.Context, uri string, headers map[string]string) (MessageConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	if d.failNext > 0 {
		d.failNext--
		return nil, oops.
			Code(CodeConnUnavailable).
			In("wspool").
			With("uri", uri).
			Errorf("fake dial refused")
	}

	conn := newFakeConn()
	if d.onDial != nil {
		d.onDial(conn)
	}
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) failNextDials(n int) {
	d.mu.Lock()
	d.failNext = n
	d.mu.Unlock()
}

func (d *fakeDialer) lastConn() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func (d *fakeDialer) connAt(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i < 0 || i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}
