package tcp

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"tarun-kavipurapu/nitroshare/pkg/logger"
	"tarun-kavipurapu/nitroshare/pkg/transport"
)

const tag = "TCPTransport"

// DefaultDialTimeout bounds how long Connect waits for the TCP handshake.
const DefaultDialTimeout = 10 * time.Second

// TCPTransport implements transport.Transport
type TCPTransport struct {
	listenAddr  string
	dialTimeout time.Duration

	mu       sync.Mutex
	listener net.Listener
	onPeer   func(transport.Conn)
}

func NewTCPTransport(addr string, dialTimeout time.Duration) *TCPTransport {
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	return &TCPTransport{
		listenAddr:  addr,
		dialTimeout: dialTimeout,
	}
}

func (t *TCPTransport) SetOnPeer(f func(transport.Conn)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onPeer = f
}

func (t *TCPTransport) ListenAndAccept() error {
	listener, err := net.Listen("tcp", t.listenAddr)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.listener = listener
	t.mu.Unlock()

	logger.Sugar.Infof("[%s] listening on %s", tag, listener.Addr())
	go t.acceptLoop(listener)
	return nil
}

func (t *TCPTransport) acceptLoop(listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Sugar.Errorf("[%s] accept error: listen=%s err=%v", tag, t.listenAddr, err)
			continue
		}

		t.mu.Lock()
		onPeer := t.onPeer
		t.mu.Unlock()

		if onPeer == nil {
			logger.Sugar.Warnf("[%s] no peer handler, dropping connection from %s", tag, conn.RemoteAddr())
			conn.Close()
			continue
		}
		logger.Sugar.Infof("[%s] accepted connection: remote=%s", tag, conn.RemoteAddr())
		onPeer(transport.NewAcceptedConn(tag, conn.RemoteAddr().String(), conn))
	}
}

func (t *TCPTransport) Dial(addr string) transport.Conn {
	timeout := t.dialTimeout
	return transport.NewStreamConn(tag, addr, func(ctx context.Context) (io.ReadWriteCloser, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		logger.Sugar.Debugf("[%s] dialed %s", tag, addr)
		return conn, nil
	})
}

func (t *TCPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return nil
	}
	err := t.listener.Close()
	t.listener = nil
	return err
}

// Addr returns the bound address once listening, so a ":0" listen address
// reports the port actually chosen.
func (t *TCPTransport) Addr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener != nil {
		return t.listener.Addr().String()
	}
	return t.listenAddr
}
