package transport

import "errors"

var (
	// ErrBackpressure is returned by Write while a previous write has not
	// drained yet. Callers wait for Handler.Drained before writing again.
	ErrBackpressure = errors.New("transport: write already in flight")
	// ErrClosed is returned by Write after Close, or before the connection
	// is established.
	ErrClosed = errors.New("transport: connection closed")
)

// Handler receives the events of one connection. Events are delivered one at
// a time, Connected before any Readable, and none after Close.
type Handler interface {
	Connected()
	Readable(p []byte)
	// Drained reports that the last Write has been handed to the network and
	// its buffer may be reused.
	Drained()
	Failed(err error)
	// Closed reports an orderly shutdown by the peer.
	Closed()
}

// Conn is a connected (or connecting) byte stream owned by a single transfer.
type Conn interface {
	// Connect starts connecting and begins delivering events to h. It returns
	// immediately; the outcome arrives as Connected or Failed.
	Connect(h Handler)
	// Write hands p to the network without blocking. p must not be modified
	// until Drained.
	Write(p []byte) error
	// Close tears the connection down. It never waits for the event
	// goroutine, so it may be called from inside a Handler method.
	Close() error
	RemoteAddr() string
}

// Transport handles the network layer
type Transport interface {
	ListenAndAccept() error
	// Dial returns an unconnected Conn; the dial happens on Connect.
	Dial(addr string) Conn
	// SetOnPeer registers the callback that receives every accepted Conn.
	SetOnPeer(func(Conn))
	Close() error
	Addr() string
}
