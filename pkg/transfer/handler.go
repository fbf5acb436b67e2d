package transfer

import (
	"errors"
	"fmt"
	"io"
	"math/bits"

	"go.uber.org/multierr"

	"tarun-kavipurapu/nitroshare/pkg/logger"
	"tarun-kavipurapu/nitroshare/pkg/protocol"
	"tarun-kavipurapu/nitroshare/pkg/transport"
)

// handler adapts transport events onto the transfer without exposing the
// event methods on Transfer itself.
type handler struct {
	t *Transfer
}

var _ transport.Handler = handler{}

func (h handler) Connected()        { h.t.do(h.t.onConnected) }
func (h handler) Readable(p []byte) { h.t.do(func() { h.t.onReadable(p) }) }
func (h handler) Drained()          { h.t.do(h.t.onDrained) }
func (h handler) Failed(err error)  { h.t.do(func() { h.t.onError(err) }) }
func (h handler) Closed()           { h.t.do(h.t.onClosed) }

// The on* methods run with t.mu held.

func (t *Transfer) onConnected() {
	if t.state != StateConnecting {
		return
	}
	logger.Sugar.Infof("[Transfer] connected: direction=%s remote=%s", t.direction, t.conn.RemoteAddr())
	t.setState(StateTransferring)

	if t.direction == Send {
		t.sendManifest()
	}
}

func (t *Transfer) onReadable(p []byte) {
	if t.state != StateTransferring {
		return
	}
	if t.direction == Send {
		logger.Sugar.Debugf("[Transfer] ignoring %d unexpected bytes from receiver %s", len(p), t.conn.RemoteAddr())
		return
	}

	if !t.manifestDone {
		_, _ = t.decoder.Write(p)
		payload, ok, err := t.decoder.Next()
		if err != nil {
			t.fail(KindProtocol, err)
			return
		}
		if !ok {
			return
		}
		if !t.acceptManifest(payload) {
			return
		}
		p = t.decoder.Rest()
		t.decoder = nil
		if !t.openNextItem() {
			return
		}
	}
	t.consume(p)
}

func (t *Transfer) onDrained() {
	if t.state != StateTransferring || t.direction != Send {
		return
	}
	if !t.manifestDone {
		t.manifestDone = true
		if t.bytesTotal == 0 {
			t.setProgress(100)
		}
	}
	t.sendNextChunk()
}

func (t *Transfer) onError(err error) {
	if t.state.Terminal() {
		return
	}
	t.fail(KindConnection, err)
}

func (t *Transfer) onClosed() {
	if t.state.Terminal() {
		return
	}
	switch {
	case t.direction == Send && t.manifestDone && t.reader == nil && t.bytesDone == t.bytesTotal:
		// Every byte was handed to the transport; the receiver closed
		// before the last drain was reported.
		t.succeed()
	case t.direction == Send:
		t.fail(KindConnection, errors.New("connection closed by peer"))
	case !t.manifestDone:
		t.fail(KindProtocol, errors.New("connection closed before the manifest was received"))
	default:
		t.fail(KindProtocol, fmt.Errorf("transfer incomplete: connection closed after %d of %d bytes", t.bytesDone, t.bytesTotal))
	}
}

// sendManifest enumerates the source and writes the manifest frame.
func (t *Transfer) sendManifest() {
	var items []protocol.Item
	for {
		item, err := t.source.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.fail(KindIO, fmt.Errorf("enumerate bundle: %w", err))
			return
		}
		items = append(items, item)
	}

	m := protocol.Manifest{DeviceName: t.localName, Items: items}
	payload, err := protocol.EncodeManifest(m)
	if err != nil {
		t.fail(KindProtocol, err)
		return
	}
	total, _ := m.TotalSize()
	t.items = items
	t.bytesTotal = total

	logger.Sugar.Infof("[Transfer] sending manifest: items=%d bytes=%d remote=%s", len(items), total, t.conn.RemoteAddr())
	if err := t.conn.Write(protocol.EncodeFrame(payload)); err != nil {
		t.fail(KindConnection, err)
	}
}

// sendNextChunk writes at most one chunk and then waits for Drained.
func (t *Transfer) sendNextChunk() {
	if t.reader == nil {
		for t.index < len(t.items) && t.items[t.index].Size == 0 {
			t.index++
		}
		if t.index == len(t.items) {
			t.succeed()
			return
		}
		item := t.items[t.index]
		r, err := t.source.Open(item)
		if err != nil {
			t.fail(KindIO, fmt.Errorf("open %s: %w", item.RelativePath, err))
			return
		}
		t.reader = r
		t.remaining = item.Size
	}

	if t.buf == nil {
		t.buf = make([]byte, t.chunkSize)
	}
	item := t.items[t.index]
	n := uint64(len(t.buf))
	if t.remaining < n {
		n = t.remaining
	}
	chunk := t.buf[:n]
	if _, err := io.ReadFull(t.reader, chunk); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			err = fmt.Errorf("file is shorter than the declared %d bytes", item.Size)
		}
		t.fail(KindIO, fmt.Errorf("read %s: %w", item.RelativePath, err))
		return
	}
	if err := t.conn.Write(chunk); err != nil {
		t.fail(KindConnection, err)
		return
	}

	t.remaining -= n
	t.advance(n)
	if t.remaining == 0 {
		err := t.reader.Close()
		t.reader = nil
		if err != nil {
			t.fail(KindIO, fmt.Errorf("close %s: %w", item.RelativePath, err))
			return
		}
		t.index++
	}
}

// acceptManifest validates the first frame and records what to expect.
func (t *Transfer) acceptManifest(payload []byte) bool {
	m, err := protocol.DecodeManifest(payload)
	if err != nil {
		t.fail(KindProtocol, err)
		return false
	}
	total, _ := m.TotalSize()
	t.items = m.Items
	t.bytesTotal = total
	t.manifestDone = true

	logger.Sugar.Infof("[Transfer] received manifest: device=%q items=%d bytes=%d", m.DeviceName, len(m.Items), total)
	t.setDeviceName(m.DeviceName)
	if total == 0 {
		t.setProgress(100)
	}
	return true
}

// openNextItem creates items until one expects bytes. It returns false once
// the transfer has ended, either because everything is in place or because
// the sink failed.
func (t *Transfer) openNextItem() bool {
	for t.index < len(t.items) {
		item := t.items[t.index]
		w, err := t.sink.Create(item)
		if err != nil {
			t.fail(KindIO, fmt.Errorf("create %s: %w", item.RelativePath, err))
			return false
		}
		if item.Size > 0 {
			t.writer = w
			t.remaining = item.Size
			return true
		}
		if w != nil {
			if err := w.Close(); err != nil {
				t.fail(KindIO, fmt.Errorf("close %s: %w", item.RelativePath, err))
				return false
			}
		}
		t.index++
	}
	t.succeed()
	return false
}

// consume routes raw bytes to the open items in manifest order.
func (t *Transfer) consume(p []byte) {
	for len(p) > 0 {
		if t.writer == nil {
			logger.Sugar.Warnf("[Transfer] discarding %d bytes past the end of the bundle from %s", len(p), t.conn.RemoteAddr())
			return
		}
		item := t.items[t.index]
		n := uint64(len(p))
		if t.remaining < n {
			n = t.remaining
		}
		if _, err := t.writer.Write(p[:n]); err != nil {
			t.fail(KindIO, fmt.Errorf("write %s: %w", item.RelativePath, err))
			return
		}
		p = p[n:]
		t.remaining -= n
		t.advance(n)

		if t.remaining == 0 {
			err := t.writer.Close()
			t.writer = nil
			if err != nil {
				t.fail(KindIO, fmt.Errorf("close %s: %w", item.RelativePath, err))
				return
			}
			t.index++
			if !t.openNextItem() {
				if len(p) > 0 && t.state == StateSucceeded {
					logger.Sugar.Warnf("[Transfer] discarding %d bytes past the end of the bundle from %s", len(p), t.conn.RemoteAddr())
				}
				return
			}
		}
	}
}

func (t *Transfer) advance(n uint64) {
	t.bytesDone += n
	if t.bytesDone > t.bytesTotal {
		t.bytesDone = t.bytesTotal
	}
	t.setProgress(percent(t.bytesDone, t.bytesTotal))
}

// percent computes floor(100*done/total) without overflowing.
func percent(done, total uint64) int {
	if total == 0 || done >= total {
		return 100
	}
	hi, lo := bits.Mul64(done, 100)
	q, _ := bits.Div64(hi, lo, total)
	return int(q)
}

func (t *Transfer) fail(kind Kind, err error) {
	t.finish(&Error{Kind: kind, Err: err})
}

func (t *Transfer) succeed() {
	t.finish(nil)
}

// finish performs the single terminal transition: it releases every
// resource, then records the outcome.
func (t *Transfer) finish(e *Error) {
	if t.state.Terminal() {
		return
	}
	if err := t.release(); err != nil {
		logger.Sugar.Warnf("[Transfer] error releasing resources: remote=%s err=%v", t.conn.RemoteAddr(), err)
	}

	if e != nil {
		t.setError(e)
		t.setState(StateFailed)
		logger.Sugar.Errorf("[Transfer] %s transfer failed: remote=%s done=%d total=%d err=%v",
			t.direction, t.conn.RemoteAddr(), t.bytesDone, t.bytesTotal, e)
		return
	}
	t.setProgress(100)
	t.setState(StateSucceeded)
	logger.Sugar.Infof("[Transfer] %s transfer succeeded: remote=%s device=%q bytes=%d",
		t.direction, t.conn.RemoteAddr(), t.deviceName, t.bytesTotal)
}

func (t *Transfer) release() error {
	var err error
	if t.reader != nil {
		err = multierr.Append(err, t.reader.Close())
		t.reader = nil
	}
	if t.writer != nil {
		err = multierr.Append(err, t.writer.Close())
		t.writer = nil
	}
	if !t.connClosed {
		t.connClosed = true
		err = multierr.Append(err, t.conn.Close())
	}
	return err
}
