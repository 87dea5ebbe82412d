package wspool

import (
	"github.com/gorilla/websocket"
)

// MessageKind distinguishes text frames from binary frames. The values
// match the gorilla/websocket message type constants so the default
// transport can pass them through unchanged.
type MessageKind int

const (
	// TextMessage denotes a UTF-8 text frame.
	TextMessage MessageKind = websocket.TextMessage

	// BinaryMessage denotes a binary frame.
	BinaryMessage MessageKind = websocket.BinaryMessage
)

// Message is a single inbound or outbound frame on a duplex connection.
// The pool never interprets payloads; they pass through opaque except for
// the drain predicate.
type Message struct {
	Kind MessageKind
	Data []byte
}

// Text builds a text message from s.
func Text(s string) Message {
	return Message{Kind: TextMessage, Data: []byte(s)}
}

// Binary builds a binary message from b.
func Binary(b []byte) Message {
	return Message{Kind: BinaryMessage, Data: b}
}

// String returns the payload as a string.
func (m Message) String() string {
	return string(m.Data)
}

// DrainPredicate classifies an inbound message seen while draining a
// released connection. Returning true means the message is benign server
// noise and draining continues; returning false means the message may
// belong to a session, so the connection is treated as dirty and removed
// from the pool.
//
// A drain-enabled pool requires an explicit predicate. Matching "any
// non-empty message is noise" would also swallow the first message of a
// new session, so that behavior is opt-in via DrainAnyMessage.
type DrainPredicate func(msg Message) bool

// DrainAnyMessage treats every non-empty message as server noise.
func DrainAnyMessage(msg Message) bool {
	return len(msg.Data) > 0
}
