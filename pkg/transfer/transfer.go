// Package transfer implements the lifecycle of a single bundle transfer
// between two peers.
//
// A Transfer owns one transport.Conn. It sends (or expects) a framed JSON
// manifest first, then the raw bytes of every file item in manifest order,
// and ends in exactly one of two terminal states:
//
//	t := transfer.NewReceiver(conn, sink, transfer.Options{})
//	t.Subscribe(func(c transfer.Change) {
//	    fmt.Println(c.Field, c.Value)
//	})
//	t.Start()
//	<-t.Done()
package transfer

import (
	"io"
	"sync"

	"tarun-kavipurapu/nitroshare/pkg/logger"
	"tarun-kavipurapu/nitroshare/pkg/protocol"
	"tarun-kavipurapu/nitroshare/pkg/transport"
)

// DefaultChunkSize is the largest piece of a file written to the transport
// at once. Only one chunk is in flight per transfer.
const DefaultChunkSize = 64 * 1024

// Direction is fixed when a Transfer is created.
type Direction uint8

const (
	Send Direction = iota
	Receive
)

func (d Direction) String() string {
	if d == Send {
		return "send"
	}
	return "receive"
}

// State of a transfer. Transitions only move forward:
// Connecting -> Transferring -> Succeeded|Failed, or Connecting -> Failed.
type State uint8

const (
	StateConnecting State = iota
	StateTransferring
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateTransferring:
		return "transferring"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Options configures a Transfer. Zero values select defaults.
type Options struct {
	// DeviceName is the remote peer's display name. Senders supply it;
	// receivers learn it from the manifest.
	DeviceName string
	// LocalName is the name a sender announces in its manifest.
	LocalName string
	// ChunkSize bounds each write of file data.
	ChunkSize int
	// MaxManifestSize bounds the manifest frame a receiver accepts.
	MaxManifestSize uint64
}

// Status is a consistent snapshot of the observable fields.
type Status struct {
	Direction  Direction
	State      State
	DeviceName string
	Progress   int
	Error      string
	BytesDone  uint64
	BytesTotal uint64
}

// Transfer drives one bundle across one connection. Transport events are
// handled one at a time; Cancel and the accessors may be called from any
// goroutine.
type Transfer struct {
	direction Direction
	conn      transport.Conn
	source    Source
	sink      Sink
	localName string
	chunkSize int

	mu         sync.Mutex
	started    bool
	state      State
	deviceName string
	progress   int
	err        *Error
	bytesTotal uint64
	bytesDone  uint64
	connClosed bool

	items     []protocol.Item
	index     int
	remaining uint64
	// manifestDone is set once the manifest frame has drained (send) or
	// has been decoded (receive).
	manifestDone bool
	decoder      *protocol.Decoder
	reader       io.ReadCloser
	writer       io.WriteCloser
	buf          []byte

	observers []observer
	nextID    int
	pending   []Change
	flushMu   sync.Mutex
	done      chan struct{}
}

// NewSender returns a transfer that streams the items of src over conn.
func NewSender(conn transport.Conn, src Source, opts Options) *Transfer {
	t := newTransfer(Send, conn, opts)
	t.source = src
	t.deviceName = opts.DeviceName
	t.localName = opts.LocalName
	return t
}

// NewReceiver returns a transfer that reads a bundle from conn into sink.
func NewReceiver(conn transport.Conn, sink Sink, opts Options) *Transfer {
	t := newTransfer(Receive, conn, opts)
	t.sink = sink
	t.decoder = protocol.NewDecoder(opts.MaxManifestSize)
	return t
}

func newTransfer(direction Direction, conn transport.Conn, opts Options) *Transfer {
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Transfer{
		direction: direction,
		conn:      conn,
		chunkSize: chunkSize,
		state:     StateConnecting,
		done:      make(chan struct{}),
	}
}

// Start connects the transport. It may be called once.
func (t *Transfer) Start() error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return ErrAlreadyStarted
	}
	if t.state.Terminal() {
		t.mu.Unlock()
		return ErrFinished
	}
	t.started = true
	t.mu.Unlock()

	logger.Sugar.Infof("[Transfer] starting %s transfer: remote=%s", t.direction, t.conn.RemoteAddr())
	t.conn.Connect(handler{t})
	return nil
}

// Cancel fails the transfer with "cancelled" and closes the transport.
// It does nothing once the transfer has finished.
func (t *Transfer) Cancel() {
	t.do(func() {
		if t.state.Terminal() {
			return
		}
		logger.Sugar.Infof("[Transfer] cancelling %s transfer: remote=%s", t.direction, t.conn.RemoteAddr())
		t.finish(&Error{Kind: KindCancelled})
	})
}

// Done is closed once observers have been told about the terminal state.
func (t *Transfer) Done() <-chan struct{} {
	return t.done
}

func (t *Transfer) Direction() Direction {
	return t.direction
}

func (t *Transfer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transfer) DeviceName() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deviceName
}

func (t *Transfer) Progress() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress
}

// Err returns the failure cause, or nil unless the state is StateFailed.
func (t *Transfer) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err == nil {
		return nil
	}
	return t.err
}

func (t *Transfer) Snapshot() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := Status{
		Direction:  t.direction,
		State:      t.state,
		DeviceName: t.deviceName,
		Progress:   t.progress,
		BytesDone:  t.bytesDone,
		BytesTotal: t.bytesTotal,
	}
	if t.err != nil {
		s.Error = t.err.Error()
	}
	return s
}

// do runs fn under the state lock and then delivers the changes it queued.
func (t *Transfer) do(fn func()) {
	t.mu.Lock()
	fn()
	t.mu.Unlock()
	t.flush()
}
