// Package quictransport carries transfers over QUIC streams. Every transfer gets its
// own QUIC connection with a single bidirectional stream, so the byte stream
// the transfer sees is the same as over TCP, with TLS underneath.
package quictransport

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"tarun-kavipurapu/nitroshare/pkg/logger"
	"tarun-kavipurapu/nitroshare/pkg/transport"
)

const (
	tag = "QUICTransport"
	// ALPN is the application protocol negotiated during the TLS handshake.
	ALPN = "nitroshare-transfer"

	DefaultDialTimeout = 10 * time.Second
	// closeGrace is how long a sender keeps the connection open after its
	// last write so buffered stream data can still be delivered.
	closeGrace = 10 * time.Second
)

var quicConfig = &quic.Config{
	KeepAlivePeriod: 10 * time.Second,
	MaxIdleTimeout:  30 * time.Second,
}

// QUICTransport implements transport.Transport
type QUICTransport struct {
	listenAddr  string
	dialTimeout time.Duration

	mu       sync.Mutex
	listener *quic.Listener
	closed   bool
	onPeer   func(transport.Conn)
}

func NewQUICTransport(addr string, dialTimeout time.Duration) *QUICTransport {
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	return &QUICTransport{
		listenAddr:  addr,
		dialTimeout: dialTimeout,
	}
}

func (t *QUICTransport) SetOnPeer(f func(transport.Conn)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onPeer = f
}

func (t *QUICTransport) ListenAndAccept() error {
	tlsConfig, err := generateTLSConfig()
	if err != nil {
		return fmt.Errorf("failed to generate TLS config: %w", err)
	}
	listener, err := quic.ListenAddr(t.listenAddr, tlsConfig, quicConfig)
	if err != nil {
		return fmt.Errorf("error while attempting to listen on QUIC: %w", err)
	}

	t.mu.Lock()
	t.listener = listener
	t.mu.Unlock()

	logger.Sugar.Infof("[%s] listening on %s", tag, listener.Addr())
	go t.acceptLoop(listener)
	return nil
}

func (t *QUICTransport) acceptLoop(listener *quic.Listener) {
	for {
		conn, err := listener.Accept(context.Background())
		if err != nil {
			if t.isClosed() {
				return
			}
			logger.Sugar.Errorf("[%s] accept error: listen=%s err=%v", tag, t.listenAddr, err)
			continue
		}

		t.mu.Lock()
		onPeer := t.onPeer
		t.mu.Unlock()

		if onPeer == nil {
			conn.CloseWithError(0, "not accepting transfers")
			continue
		}
		logger.Sugar.Infof("[%s] accepted connection: remote=%s", tag, conn.RemoteAddr())

		// The stream only becomes visible once the sender writes to it, so
		// waiting for it belongs to Connect rather than to this loop.
		onPeer(transport.NewStreamConn(tag, conn.RemoteAddr().String(), func(ctx context.Context) (io.ReadWriteCloser, error) {
			stream, err := conn.AcceptStream(ctx)
			if err != nil {
				conn.CloseWithError(0, "no stream")
				return nil, err
			}
			return &streamCloser{Stream: stream, conn: conn}, nil
		}))
	}
}

func (t *QUICTransport) Dial(addr string) transport.Conn {
	timeout := t.dialTimeout
	return transport.NewStreamConn(tag, addr, func(ctx context.Context) (io.ReadWriteCloser, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		tlsConfig := &tls.Config{
			// Peers present throwaway certificates; QUIC is used here for
			// its transport, not for identity.
			InsecureSkipVerify: true,
			NextProtos:         []string{ALPN},
		}
		conn, err := quic.DialAddr(ctx, addr, tlsConfig, quicConfig)
		if err != nil {
			return nil, err
		}
		stream, err := conn.OpenStreamSync(ctx)
		if err != nil {
			conn.CloseWithError(0, "failed to open stream")
			return nil, err
		}
		logger.Sugar.Debugf("[%s] dialed %s", tag, addr)
		return &streamCloser{Stream: stream, conn: conn, graceful: true}, nil
	})
}

func (t *QUICTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	if t.listener == nil {
		return nil
	}
	err := t.listener.Close()
	t.listener = nil
	return err
}

func (t *QUICTransport) Addr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener != nil {
		return t.listener.Addr().String()
	}
	return t.listenAddr
}

func (t *QUICTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// streamCloser ties the lifetime of the QUIC connection to its only stream.
type streamCloser struct {
	quic.Stream
	conn quic.Connection
	// graceful delays the connection close until the peer hangs up or
	// closeGrace passes. Closing at once would drop unsent stream data.
	graceful bool
}

func (s *streamCloser) Close() error {
	err := s.Stream.Close()
	if !s.graceful {
		s.conn.CloseWithError(0, "transfer finished")
		return err
	}
	go func() {
		select {
		case <-s.conn.Context().Done():
		case <-time.After(closeGrace):
		}
		s.conn.CloseWithError(0, "transfer finished")
	}()
	return err
}

func generateTLSConfig() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"nitroshare"},
		},
		NotBefore: time.Now(),
		NotAfter:  time.Now().Add(time.Hour * 24 * 180),
		KeyUsage:  x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{
			x509.ExtKeyUsageServerAuth,
		},
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{tlsCert},
		NextProtos:   []string{ALPN},
	}, nil
}
