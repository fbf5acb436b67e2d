package transport

import (
	"context"
	"errors"
	"io"
	"sync"

	"tarun-kavipurapu/nitroshare/pkg/logger"
)

// DefaultReadSize is the largest Readable event a StreamConn delivers.
const DefaultReadSize = 64 * 1024

// eventQueue bounds how many reads may wait for the handler. Once full, the
// reader stops pulling from the socket and the peer feels back-pressure.
const eventQueue = 8

// DialFunc opens the underlying stream. It must honour ctx cancellation.
type DialFunc func(ctx context.Context) (io.ReadWriteCloser, error)

// StreamConn turns a blocking io.ReadWriteCloser into the event-driven Conn.
// A reader and a writer goroutine feed a single event goroutine, which is
// the only caller of the Handler.
type StreamConn struct {
	tag      string
	remote   string
	dial     DialFunc
	readSize int

	mu      sync.Mutex
	stream  io.ReadWriteCloser
	started bool
	closed  bool
	writing bool

	events    chan func(Handler)
	writes    chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewStreamConn returns a Conn that calls dial on Connect. tag prefixes log
// lines, e.g. "TCPTransport".
func NewStreamConn(tag, remote string, dial DialFunc) *StreamConn {
	return &StreamConn{
		tag:      tag,
		remote:   remote,
		dial:     dial,
		readSize: DefaultReadSize,
		events:   make(chan func(Handler), eventQueue),
		writes:   make(chan []byte, 1),
		done:     make(chan struct{}),
	}
}

// NewAcceptedConn wraps a stream that is already established, such as one
// returned by a listener.
func NewAcceptedConn(tag, remote string, stream io.ReadWriteCloser) *StreamConn {
	return NewStreamConn(tag, remote, func(context.Context) (io.ReadWriteCloser, error) {
		return stream, nil
	})
}

func (c *StreamConn) Connect(h Handler) {
	c.mu.Lock()
	if c.started || c.closed {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	go c.eventLoop(h)
	go c.connect()
}

func (c *StreamConn) connect() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-c.done
		cancel()
	}()

	stream, err := c.dial(ctx)
	if err != nil {
		logger.Sugar.Debugf("[%s] dial failed: remote=%s err=%v", c.tag, c.remote, err)
		c.post(func(h Handler) { h.Failed(err) })
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		stream.Close()
		return
	}
	c.stream = stream
	c.mu.Unlock()

	c.post(func(h Handler) { h.Connected() })
	go c.readLoop(stream)
	go c.writeLoop(stream)
}

func (c *StreamConn) eventLoop(h Handler) {
	for {
		select {
		case ev := <-c.events:
			if c.isClosed() {
				continue
			}
			ev(h)
		case <-c.done:
			return
		}
	}
}

func (c *StreamConn) readLoop(stream io.Reader) {
	for {
		buf := make([]byte, c.readSize)
		n, err := stream.Read(buf)
		if n > 0 {
			data := buf[:n]
			c.post(func(h Handler) { h.Readable(data) })
		}
		if err == nil {
			continue
		}
		if c.isClosed() {
			return
		}
		if errors.Is(err, io.EOF) {
			c.post(func(h Handler) { h.Closed() })
		} else {
			logger.Sugar.Debugf("[%s] read error: remote=%s err=%v", c.tag, c.remote, err)
			c.post(func(h Handler) { h.Failed(err) })
		}
		return
	}
}

func (c *StreamConn) writeLoop(stream io.Writer) {
	for {
		select {
		case p := <-c.writes:
			_, err := stream.Write(p)

			c.mu.Lock()
			c.writing = false
			closed := c.closed
			c.mu.Unlock()
			if closed {
				return
			}
			if err != nil {
				logger.Sugar.Debugf("[%s] write error: remote=%s err=%v", c.tag, c.remote, err)
				c.post(func(h Handler) { h.Failed(err) })
				return
			}
			c.post(func(h Handler) { h.Drained() })
		case <-c.done:
			return
		}
	}
}

// post queues ev unless the connection is closed first.
func (c *StreamConn) post(ev func(Handler)) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *StreamConn) Write(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.stream == nil {
		return ErrClosed
	}
	if c.writing {
		return ErrBackpressure
	}
	c.writing = true
	// Never blocks: at most one write is outstanding and the writer has
	// already taken the previous one off the channel.
	c.writes <- p
	return nil
}

func (c *StreamConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		stream := c.stream
		c.mu.Unlock()

		close(c.done)
		if stream != nil {
			err = stream.Close()
		}
		logger.Sugar.Debugf("[%s] connection closed: remote=%s", c.tag, c.remote)
	})
	return err
}

func (c *StreamConn) RemoteAddr() string {
	return c.remote
}

func (c *StreamConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
