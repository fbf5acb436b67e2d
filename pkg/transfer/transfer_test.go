package transfer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	zapobserver "go.uber.org/zap/zaptest/observer"

	"tarun-kavipurapu/nitroshare/pkg/logger"
	"tarun-kavipurapu/nitroshare/pkg/protocol"
	"tarun-kavipurapu/nitroshare/pkg/transport"
)

// fakeConn lets a test play the transport: it captures the handler on
// Connect and records what the transfer writes.
type fakeConn struct {
	mu       sync.Mutex
	h        transport.Handler
	writes   [][]byte
	closes   int
	writeErr error
}

func (c *fakeConn) Connect(h transport.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.h = h
}

func (c *fakeConn) Write(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writes = append(c.writes, append([]byte(nil), p...))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

func (c *fakeConn) RemoteAddr() string { return "fake:0" }

func (c *fakeConn) handler(t *testing.T) transport.Handler {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotNil(t, c.h, "transfer did not connect")
	return c.h
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

func (c *fakeConn) written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

// memSource serves items from memory. failAt makes the reader of the named
// item fail after that many bytes.
type memSource struct {
	items   []protocol.Item
	data    map[string][]byte
	pos     int
	failAt  map[string]int
	nextErr error
	opened  []string
}

func (s *memSource) Next() (protocol.Item, error) {
	if s.nextErr != nil {
		return protocol.Item{}, s.nextErr
	}
	if s.pos == len(s.items) {
		return protocol.Item{}, io.EOF
	}
	s.pos++
	return s.items[s.pos-1], nil
}

func (s *memSource) Open(item protocol.Item) (io.ReadCloser, error) {
	s.opened = append(s.opened, item.RelativePath)
	data := s.data[item.RelativePath]
	if n, ok := s.failAt[item.RelativePath]; ok {
		return io.NopCloser(io.MultiReader(bytes.NewReader(data[:n]), errReader{errors.New("disk on fire")})), nil
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

type memFile struct {
	bytes.Buffer
	closed bool
}

func (f *memFile) Close() error {
	f.closed = true
	return nil
}

// memSink stores received items in memory.
type memSink struct {
	created   []string
	files     map[string]*memFile
	createErr error
}

func newMemSink() *memSink {
	return &memSink{files: make(map[string]*memFile)}
}

func (s *memSink) Create(item protocol.Item) (io.WriteCloser, error) {
	s.created = append(s.created, item.RelativePath)
	if s.createErr != nil {
		return nil, s.createErr
	}
	if item.IsDirectory {
		return nil, nil
	}
	f := &memFile{}
	s.files[item.RelativePath] = f
	return f, nil
}

// changeLog records observer notifications.
type changeLog struct {
	mu      sync.Mutex
	changes []Change
}

func watch(tr *Transfer) *changeLog {
	l := &changeLog{}
	tr.Subscribe(func(c Change) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.changes = append(l.changes, c)
	})
	return l
}

func (l *changeLog) all() []Change {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Change(nil), l.changes...)
}

func (l *changeLog) progress() []int {
	var out []int
	for _, c := range l.all() {
		if c.Field == FieldProgress {
			out = append(out, c.Value.(int))
		}
	}
	return out
}

func manifestFrame(t *testing.T, m protocol.Manifest) []byte {
	t.Helper()
	payload, err := protocol.EncodeManifest(m)
	require.NoError(t, err)
	return protocol.EncodeFrame(payload)
}

func startReceiver(t *testing.T, sink Sink, opts Options) (*Transfer, *fakeConn, transport.Handler) {
	t.Helper()
	conn := &fakeConn{}
	tr := NewReceiver(conn, sink, opts)
	require.NoError(t, tr.Start())
	h := conn.handler(t)
	h.Connected()
	require.Equal(t, StateTransferring, tr.State())
	return tr, conn, h
}

func assertDone(t *testing.T, tr *Transfer) {
	t.Helper()
	select {
	case <-tr.Done():
	default:
		t.Fatal("Done is not closed after the terminal transition")
	}
}

var helloManifest = protocol.Manifest{
	DeviceName: "peer1",
	Items:      []protocol.Item{{RelativePath: "a.txt", Size: 5}},
}

func TestReceiveSingleFile(t *testing.T) {
	sink := newMemSink()
	conn := &fakeConn{}
	tr := NewReceiver(conn, sink, Options{})
	log := watch(tr)

	require.NoError(t, tr.Start())
	h := conn.handler(t)
	h.Connected()
	h.Readable(append(manifestFrame(t, helloManifest), "hello"...))

	assert.Equal(t, StateSucceeded, tr.State())
	assert.Equal(t, 100, tr.Progress())
	assert.Equal(t, "peer1", tr.DeviceName())
	assert.NoError(t, tr.Err())
	assert.Equal(t, "hello", sink.files["a.txt"].String())
	assert.True(t, sink.files["a.txt"].closed)
	assert.Equal(t, 1, conn.closeCount())
	assertDone(t, tr)

	assert.Equal(t, []Change{
		{Field: FieldState, Value: StateTransferring},
		{Field: FieldDeviceName, Value: "peer1"},
		{Field: FieldProgress, Value: 100},
		{Field: FieldState, Value: StateSucceeded},
	}, log.all())
}

func TestReceiveByteAtATime(t *testing.T) {
	m := protocol.Manifest{
		DeviceName: "laptop",
		Items: []protocol.Item{
			{RelativePath: "docs", IsDirectory: true},
			{RelativePath: "docs/one.txt", Size: 3},
			{RelativePath: "docs/empty", Size: 0},
			{RelativePath: "docs/two.txt", Size: 4},
		},
	}
	sink := newMemSink()
	tr, conn, h := startReceiver(t, sink, Options{})
	log := watch(tr)

	stream := append(manifestFrame(t, m), "abcwxyz"...)
	for _, b := range stream {
		h.Readable([]byte{b})
	}

	assert.Equal(t, StateSucceeded, tr.State())
	assert.Equal(t, []string{"docs", "docs/one.txt", "docs/empty", "docs/two.txt"}, sink.created)
	assert.Equal(t, "abc", sink.files["docs/one.txt"].String())
	assert.Equal(t, "", sink.files["docs/empty"].String())
	assert.Equal(t, "wxyz", sink.files["docs/two.txt"].String())
	assert.Equal(t, []int{14, 28, 42, 57, 71, 85, 100}, log.progress())

	s := tr.Snapshot()
	assert.Equal(t, uint64(7), s.BytesDone)
	assert.Equal(t, uint64(7), s.BytesTotal)
	assert.Equal(t, 1, conn.closeCount())
}

func TestReceiveTruncated(t *testing.T) {
	sink := newMemSink()
	tr, conn, h := startReceiver(t, sink, Options{})

	h.Readable(append(manifestFrame(t, helloManifest), "hel"...))
	assert.Equal(t, StateTransferring, tr.State())
	assert.Equal(t, 60, tr.Progress())

	h.Closed()

	assert.Equal(t, StateFailed, tr.State())
	assert.Equal(t, KindProtocol, KindOf(tr.Err()))
	assert.Contains(t, tr.Err().Error(), "incomplete")
	assert.Contains(t, tr.Err().Error(), "3 of 5 bytes")
	assert.Equal(t, 60, tr.Progress())
	assert.True(t, sink.files["a.txt"].closed)
	assert.Equal(t, 1, conn.closeCount())
	assertDone(t, tr)
}

func TestReceiveClosedBeforeManifest(t *testing.T) {
	tr, _, h := startReceiver(t, newMemSink(), Options{})

	h.Readable([]byte{0, 0, 0})
	h.Closed()

	assert.Equal(t, StateFailed, tr.State())
	assert.Equal(t, KindProtocol, KindOf(tr.Err()))
	assert.Contains(t, tr.Err().Error(), "before the manifest")
}

func TestReceiveMalformedManifest(t *testing.T) {
	sink := newMemSink()
	tr, conn, h := startReceiver(t, sink, Options{})

	h.Readable(protocol.EncodeFrame([]byte("this is not json")))

	assert.Equal(t, StateFailed, tr.State())
	assert.Equal(t, KindProtocol, KindOf(tr.Err()))
	assert.Contains(t, tr.Err().Error(), "protocol error")
	assert.Empty(t, sink.created)
	assert.Equal(t, "", tr.DeviceName())
	assert.Equal(t, 1, conn.closeCount())
}

func TestReceiveRejectsHostileManifest(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"traversal", `{"deviceName":"x","items":[{"relativePath":"../etc/passwd","isDirectory":false,"size":1}]}`},
		{"negative size", `{"deviceName":"x","items":[{"relativePath":"a","isDirectory":false,"size":-1}]}`},
		{"missing items", `{"deviceName":"x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := newMemSink()
			tr, _, h := startReceiver(t, sink, Options{})
			h.Readable(protocol.EncodeFrame([]byte(tt.payload)))

			assert.Equal(t, StateFailed, tr.State())
			assert.Equal(t, KindProtocol, KindOf(tr.Err()))
			assert.Empty(t, sink.created)
		})
	}
}

func TestReceiveOversizedManifestHeader(t *testing.T) {
	sink := newMemSink()
	tr, _, h := startReceiver(t, sink, Options{MaxManifestSize: 16})

	h.Readable([]byte{0, 0, 0, 0, 0, 0, 1, 0})

	assert.Equal(t, StateFailed, tr.State())
	assert.Equal(t, KindProtocol, KindOf(tr.Err()))
	assert.True(t, errors.Is(tr.Err(), protocol.ErrFrameTooLarge))
}

func TestReceiveHugeHeaderWithUnboundedLimit(t *testing.T) {
	sink := newMemSink()
	tr, _, h := startReceiver(t, sink, Options{MaxManifestSize: math.MaxUint64})

	require.NotPanics(t, func() {
		h.Readable([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 'x'})
	})

	assert.Equal(t, StateFailed, tr.State())
	assert.ErrorIs(t, tr.Err(), protocol.ErrFrameTooLarge)
	assert.Empty(t, sink.created)
}

func TestReceiveEmptyManifest(t *testing.T) {
	sink := newMemSink()
	tr, conn, h := startReceiver(t, sink, Options{})
	log := watch(tr)

	h.Readable(manifestFrame(t, protocol.Manifest{DeviceName: "phone"}))

	assert.Equal(t, StateSucceeded, tr.State())
	assert.Equal(t, 100, tr.Progress())
	assert.Equal(t, "phone", tr.DeviceName())
	assert.Empty(t, sink.created)
	assert.Equal(t, 1, conn.closeCount())
	assert.Equal(t, []int{100}, log.progress())
}

func TestReceiveDiscardsTrailingBytes(t *testing.T) {
	core, logs := zapobserver.New(zapcore.WarnLevel)
	prev := logger.Log
	logger.Use(zap.New(core))
	defer logger.Use(prev)

	sink := newMemSink()
	tr, _, h := startReceiver(t, sink, Options{})

	h.Readable(append(manifestFrame(t, helloManifest), "helloEXTRA"...))
	h.Readable([]byte("more"))

	assert.Equal(t, StateSucceeded, tr.State())
	assert.Equal(t, "hello", sink.files["a.txt"].String())
	warnings := logs.FilterMessageSnippet("discarding 5 bytes").All()
	assert.Len(t, warnings, 1)
}

func TestReceiveSinkFailure(t *testing.T) {
	sink := newMemSink()
	sink.createErr = errors.New("read-only file system")
	tr, conn, h := startReceiver(t, sink, Options{})

	h.Readable(append(manifestFrame(t, helloManifest), "hello"...))

	assert.Equal(t, StateFailed, tr.State())
	assert.Equal(t, KindIO, KindOf(tr.Err()))
	assert.Contains(t, tr.Err().Error(), "a.txt")
	assert.Contains(t, tr.Err().Error(), "read-only file system")
	assert.Equal(t, 1, conn.closeCount())
}

func TestReceiveIgnoresEventsAfterTerminal(t *testing.T) {
	sink := newMemSink()
	tr, conn, h := startReceiver(t, sink, Options{})
	h.Readable(append(manifestFrame(t, helloManifest), "hello"...))
	require.Equal(t, StateSucceeded, tr.State())

	log := watch(tr)
	before := tr.Snapshot()

	h.Readable([]byte("late"))
	h.Failed(errors.New("reset by peer"))
	h.Closed()
	h.Connected()
	tr.Cancel()

	assert.Equal(t, before, tr.Snapshot())
	assert.Empty(t, log.all())
	assert.Equal(t, 1, conn.closeCount())
}

func newHelloSource() *memSource {
	return &memSource{
		items: []protocol.Item{{RelativePath: "a.txt", Size: 5}},
		data:  map[string][]byte{"a.txt": []byte("hello")},
	}
}

func TestSendStreamsManifestThenChunks(t *testing.T) {
	src := &memSource{
		items: []protocol.Item{
			{RelativePath: "dir", IsDirectory: true},
			{RelativePath: "dir/a.txt", Size: 5},
			{RelativePath: "dir/empty", Size: 0},
			{RelativePath: "b.bin", Size: 4},
		},
		data: map[string][]byte{
			"dir/a.txt": []byte("hello"),
			"b.bin":     {1, 2, 3, 4},
		},
	}
	conn := &fakeConn{}
	tr := NewSender(conn, src, Options{DeviceName: "receiver", LocalName: "sender", ChunkSize: 2})
	log := watch(tr)

	assert.Equal(t, "receiver", tr.DeviceName())
	require.NoError(t, tr.Start())
	h := conn.handler(t)
	h.Connected()
	require.Len(t, conn.written(), 1, "only the manifest is written before the first drain")

	for i := 0; i < 20 && !tr.State().Terminal(); i++ {
		h.Drained()
	}

	require.Equal(t, StateSucceeded, tr.State())
	writes := conn.written()
	// manifest, he, ll, o, 12, 34
	require.Len(t, writes, 6)
	for _, w := range writes[1:] {
		assert.LessOrEqual(t, len(w), 2)
	}
	assert.Equal(t, []string{"dir/a.txt", "b.bin"}, src.opened)

	d := protocol.NewDecoder(0)
	_, _ = d.Write(bytes.Join(writes, nil))
	payload, ok, err := d.Next()
	require.NoError(t, err)
	require.True(t, ok)
	m, err := protocol.DecodeManifest(payload)
	require.NoError(t, err)
	assert.Equal(t, "sender", m.DeviceName)
	assert.Equal(t, src.items, m.Items)
	assert.Equal(t, append([]byte("hello"), 1, 2, 3, 4), d.Rest())

	assert.Equal(t, []int{22, 44, 55, 77, 100}, log.progress())
	assert.Equal(t, 1, conn.closeCount())
	assertDone(t, tr)
}

func TestSendEmptyBundle(t *testing.T) {
	conn := &fakeConn{}
	tr := NewSender(conn, &memSource{}, Options{LocalName: "me"})
	require.NoError(t, tr.Start())
	h := conn.handler(t)
	h.Connected()
	h.Drained()

	assert.Equal(t, StateSucceeded, tr.State())
	assert.Equal(t, 100, tr.Progress())
	assert.Len(t, conn.written(), 1)
	assert.Equal(t, 1, conn.closeCount())
}

func TestSendReadFailureMidItem(t *testing.T) {
	src := &memSource{
		items:  []protocol.Item{{RelativePath: "a.bin", Size: 10}},
		data:   map[string][]byte{"a.bin": []byte("0123456789")},
		failAt: map[string]int{"a.bin": 4},
	}
	conn := &fakeConn{}
	tr := NewSender(conn, src, Options{ChunkSize: 4})
	require.NoError(t, tr.Start())
	h := conn.handler(t)
	h.Connected()
	h.Drained()
	require.Len(t, conn.written(), 2)

	h.Drained()

	assert.Equal(t, StateFailed, tr.State())
	assert.Equal(t, KindIO, KindOf(tr.Err()))
	assert.Contains(t, tr.Err().Error(), "disk on fire")
	assert.Equal(t, 1, conn.closeCount())

	h.Drained()
	assert.Len(t, conn.written(), 2, "no chunk may be written after failure")
	assert.Equal(t, 40, tr.Progress())
}

func TestSendShortFile(t *testing.T) {
	src := &memSource{
		items: []protocol.Item{{RelativePath: "a.bin", Size: 10}},
		data:  map[string][]byte{"a.bin": []byte("0123")},
	}
	conn := &fakeConn{}
	tr := NewSender(conn, src, Options{})
	require.NoError(t, tr.Start())
	h := conn.handler(t)
	h.Connected()
	h.Drained()

	assert.Equal(t, KindIO, KindOf(tr.Err()))
	assert.Contains(t, tr.Err().Error(), "shorter than the declared 10 bytes")
}

func TestSendEnumerationFailure(t *testing.T) {
	conn := &fakeConn{}
	tr := NewSender(conn, &memSource{nextErr: errors.New("permission denied")}, Options{})
	require.NoError(t, tr.Start())
	conn.handler(t).Connected()

	assert.Equal(t, StateFailed, tr.State())
	assert.Equal(t, KindIO, KindOf(tr.Err()))
	assert.Empty(t, conn.written())
}

func TestSendInvalidItem(t *testing.T) {
	src := &memSource{items: []protocol.Item{{RelativePath: "/etc/passwd", Size: 1}}}
	conn := &fakeConn{}
	tr := NewSender(conn, src, Options{})
	require.NoError(t, tr.Start())
	conn.handler(t).Connected()

	assert.Equal(t, KindProtocol, KindOf(tr.Err()))
	assert.Empty(t, conn.written())
}

func TestSendWriteFailure(t *testing.T) {
	conn := &fakeConn{writeErr: transport.ErrClosed}
	tr := NewSender(conn, newHelloSource(), Options{})
	require.NoError(t, tr.Start())
	conn.handler(t).Connected()

	assert.Equal(t, StateFailed, tr.State())
	assert.Equal(t, KindConnection, KindOf(tr.Err()))
	assert.True(t, errors.Is(tr.Err(), transport.ErrClosed))
}

func TestSendPeerClosed(t *testing.T) {
	conn := &fakeConn{}
	tr := NewSender(conn, newHelloSource(), Options{ChunkSize: 1})
	require.NoError(t, tr.Start())
	h := conn.handler(t)
	h.Connected()
	h.Drained()
	h.Readable([]byte("unexpected"))
	require.Equal(t, StateTransferring, tr.State())

	h.Closed()

	assert.Equal(t, StateFailed, tr.State())
	assert.Equal(t, KindConnection, KindOf(tr.Err()))
	assert.Equal(t, "connection error: connection closed by peer", tr.Err().Error())
}

func TestSendPeerClosedAfterLastChunk(t *testing.T) {
	conn := &fakeConn{}
	tr := NewSender(conn, newHelloSource(), Options{ChunkSize: 1})
	require.NoError(t, tr.Start())
	h := conn.handler(t)
	h.Connected()
	for i := 0; i < 5; i++ {
		h.Drained()
	}
	require.Equal(t, StateTransferring, tr.State(), "the last chunk has not drained yet")
	require.Len(t, conn.written(), 6)

	h.Closed()

	assert.Equal(t, StateSucceeded, tr.State())
	assert.NoError(t, tr.Err())
	assert.Equal(t, 100, tr.Progress())
	assert.Equal(t, 1, conn.closeCount())
}

func TestConnectFailure(t *testing.T) {
	conn := &fakeConn{}
	tr := NewSender(conn, newHelloSource(), Options{})
	log := watch(tr)
	require.NoError(t, tr.Start())
	conn.handler(t).Failed(errors.New("connection refused"))

	assert.Equal(t, StateFailed, tr.State())
	assert.Equal(t, "connection error: connection refused", tr.Err().Error())
	assert.Equal(t, []Change{
		{Field: FieldError, Value: "connection error: connection refused"},
		{Field: FieldState, Value: StateFailed},
	}, log.all())
	assert.Equal(t, 1, conn.closeCount())
}

func TestCancelInEveryState(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, tr *Transfer, conn *fakeConn)
	}{
		{"before start", func(*testing.T, *Transfer, *fakeConn) {}},
		{"connecting", func(t *testing.T, tr *Transfer, _ *fakeConn) {
			require.NoError(t, tr.Start())
		}},
		{"transferring", func(t *testing.T, tr *Transfer, conn *fakeConn) {
			require.NoError(t, tr.Start())
			conn.handler(t).Connected()
			conn.handler(t).Readable(append(manifestFrame(t, helloManifest), "he"...))
			require.Equal(t, StateTransferring, tr.State())
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &fakeConn{}
			sink := newMemSink()
			tr := NewReceiver(conn, sink, Options{})
			tt.setup(t, tr, conn)
			progress := tr.Progress()

			tr.Cancel()
			tr.Cancel()

			assert.Equal(t, StateFailed, tr.State())
			assert.Equal(t, "cancelled", tr.Err().Error())
			assert.Equal(t, KindCancelled, KindOf(tr.Err()))
			assert.Equal(t, 1, conn.closeCount())
			assert.Equal(t, progress, tr.Progress())
			assertDone(t, tr)
			if f, ok := sink.files["a.txt"]; ok {
				assert.True(t, f.closed)
			}
		})
	}
}

func TestStartAfterCancel(t *testing.T) {
	conn := &fakeConn{}
	tr := NewReceiver(conn, newMemSink(), Options{})
	tr.Cancel()

	assert.ErrorIs(t, tr.Start(), ErrFinished)
	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.Nil(t, conn.h)
}

func TestStartTwice(t *testing.T) {
	conn := &fakeConn{}
	tr := NewReceiver(conn, newMemSink(), Options{})
	require.NoError(t, tr.Start())
	assert.ErrorIs(t, tr.Start(), ErrAlreadyStarted)
}

func TestCancelFromObserver(t *testing.T) {
	sink := newMemSink()
	tr, conn, h := startReceiver(t, sink, Options{})
	log := watch(tr)
	tr.Subscribe(func(c Change) {
		if c.Field == FieldProgress && c.Value.(int) >= 40 {
			tr.Cancel()
		}
	})

	h.Readable(append(manifestFrame(t, helloManifest), "he"...))
	h.Readable([]byte("llo"))

	assert.Equal(t, StateFailed, tr.State())
	assert.Equal(t, "cancelled", tr.Err().Error())
	assert.Equal(t, 1, conn.closeCount())
	assertDone(t, tr)
	assert.Equal(t, []Change{
		{Field: FieldDeviceName, Value: "peer1"},
		{Field: FieldProgress, Value: 40},
		{Field: FieldError, Value: "cancelled"},
		{Field: FieldState, Value: StateFailed},
	}, log.all())
}

func TestCancelConcurrentWithEvents(t *testing.T) {
	const size = 64 * 1024
	m := protocol.Manifest{DeviceName: "peer", Items: []protocol.Item{{RelativePath: "big", Size: size}}}
	tr, conn, h := startReceiver(t, newMemSink(), Options{})
	h.Readable(manifestFrame(t, m))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		chunk := make([]byte, 512)
		for i := 0; i < size/len(chunk); i++ {
			h.Readable(chunk)
		}
	}()
	tr.Cancel()
	wg.Wait()

	<-tr.Done()
	assert.True(t, tr.State().Terminal())
	assert.Equal(t, 1, conn.closeCount())
}

func TestUnsubscribe(t *testing.T) {
	tr, _, h := startReceiver(t, newMemSink(), Options{})
	log := watch(tr)
	calls := 0
	unsubscribe := tr.Subscribe(func(Change) { calls++ })
	unsubscribe()

	h.Readable(append(manifestFrame(t, helloManifest), "hello"...))

	assert.Zero(t, calls)
	assert.NotEmpty(t, log.all())
}

func TestPercent(t *testing.T) {
	tests := []struct {
		done, total uint64
		want        int
	}{
		{0, 0, 100},
		{0, 10, 0},
		{1, 3, 33},
		{2, 3, 66},
		{3, 3, 100},
		{math.MaxUint64 - 1, math.MaxUint64, 99},
		{math.MaxUint64 / 2, math.MaxUint64, 49},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%d", tt.done, tt.total), func(t *testing.T) {
			assert.Equal(t, tt.want, percent(tt.done, tt.total))
		})
	}
}

func TestErrorText(t *testing.T) {
	assert.Equal(t, "cancelled", (&Error{Kind: KindCancelled}).Error())
	assert.Equal(t, "i/o error: boom", (&Error{Kind: KindIO, Err: errors.New("boom")}).Error())
	assert.Equal(t, Kind(0), KindOf(errors.New("plain")))
	assert.Equal(t, KindProtocol, KindOf(fmt.Errorf("wrapped: %w", &Error{Kind: KindProtocol})))
}
