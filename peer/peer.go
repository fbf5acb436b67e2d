package peer

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"tarun-kavipurapu/nitroshare/pkg/bundle"
	"tarun-kavipurapu/nitroshare/pkg/config"
	"tarun-kavipurapu/nitroshare/pkg/discovery"
	"tarun-kavipurapu/nitroshare/pkg/logger"
	"tarun-kavipurapu/nitroshare/pkg/monitor"
	"tarun-kavipurapu/nitroshare/pkg/transfer"
	"tarun-kavipurapu/nitroshare/pkg/transport"
	"tarun-kavipurapu/nitroshare/pkg/transport/quictransport"
	"tarun-kavipurapu/nitroshare/pkg/transport/tcp"
)

// Session is one transfer hosted by a PeerServer.
type Session struct {
	ID       string
	Remote   string
	Transfer *transfer.Transfer
	Tracker  *Tracker
}

// PeerServer accepts incoming bundles into the download directory and sends
// bundles to other peers. Every transfer it runs is kept in a registry keyed
// by a generated ID.
type PeerServer struct {
	cfg        config.Config
	Transport  transport.Transport
	advertiser *discovery.Advertiser
	metrics    *monitor.Metrics
	sink       *bundle.Dir

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	sessions   map[string]*Session
	onTransfer func(*Session)
	listening  bool
}

func NewPeerServer(cfg config.Config) (*PeerServer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &PeerServer{
		cfg:       cfg,
		Transport: newTransport(cfg),
		metrics:   monitor.New(),
		sink:      bundle.NewDir(cfg.DownloadDir),
		ctx:       ctx,
		cancel:    cancel,
		sessions:  make(map[string]*Session),
	}
	p.Transport.SetOnPeer(p.OnPeer)

	logger.Sugar.Infof("[PeerServer] Initialized: name=%q transport=%s addr=%s", cfg.DeviceName, cfg.Transport, cfg.ListenAddr)
	return p, nil
}

func newTransport(cfg config.Config) transport.Transport {
	if cfg.Transport == config.TransportQUIC {
		return quictransport.NewQUICTransport(cfg.ListenAddr, cfg.ConnectTimeout)
	}
	return tcp.NewTCPTransport(cfg.ListenAddr, cfg.ConnectTimeout)
}

// SetOnTransfer registers a callback invoked for every new session before
// its transfer starts, so observers miss no change.
func (p *PeerServer) SetOnTransfer(f func(*Session)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTransfer = f
}

func (p *PeerServer) Metrics() *monitor.Metrics {
	return p.metrics
}

// Start listens for incoming transfers and, when configured, advertises the
// receiver over mDNS and logs metrics periodically.
func (p *PeerServer) Start() error {
	if err := p.Transport.ListenAndAccept(); err != nil {
		return fmt.Errorf("failed to start listening: %w", err)
	}
	p.mu.Lock()
	p.listening = true
	p.mu.Unlock()
	logger.Sugar.Infof("[PeerServer] Receiving into %s on %s", p.sink.Root(), p.Transport.Addr())

	if p.cfg.Advertise {
		if err := p.advertise(); err != nil {
			logger.Sugar.Warnf("[PeerServer] Warning: Failed to advertise over mDNS: %v", err)
		}
	}

	if p.cfg.MetricsInterval > 0 {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.metrics.LogPeriodic(p.ctx, p.cfg.MetricsInterval)
		}()
	}
	return nil
}

func (p *PeerServer) advertise() error {
	_, portStr, err := net.SplitHostPort(p.Transport.Addr())
	if err != nil {
		return err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return err
	}

	a := discovery.NewAdvertiser()
	meta := map[string]string{
		discovery.MetaName:      p.cfg.DeviceName,
		discovery.MetaTransport: p.cfg.Transport,
	}
	if err := a.Start(p.cfg.DeviceName, port, meta); err != nil {
		return err
	}
	p.mu.Lock()
	p.advertiser = a
	p.mu.Unlock()
	return nil
}

// OnPeer receives a bundle over an accepted connection.
func (p *PeerServer) OnPeer(conn transport.Conn) {
	opts := p.cfg.TransferOptions("")
	t := transfer.NewReceiver(conn, p.sink, opts)
	logger.Sugar.Infof("[PeerServer] New incoming transfer from %s", conn.RemoteAddr())
	p.run(p.ctx, conn.RemoteAddr(), t)
}

// Send scans paths and streams them to the receiver at addr. deviceName is
// the receiver's display name. The transfer runs in the background; ctx
// cancels it.
func (p *PeerServer) Send(ctx context.Context, addr, deviceName string, paths ...string) (*Session, error) {
	b, err := bundle.Scan(paths...)
	if err != nil {
		return nil, fmt.Errorf("failed to scan bundle: %w", err)
	}
	if deviceName == "" {
		deviceName = addr
	}

	conn := p.Transport.Dial(addr)
	t := transfer.NewSender(conn, b, p.cfg.TransferOptions(deviceName))
	logger.Sugar.Infof("[PeerServer] Sending %d item(s), %d bytes to %s (%s)", b.Len(), b.TotalSize(), deviceName, addr)
	return p.run(ctx, addr, t), nil
}

func (p *PeerServer) run(ctx context.Context, remote string, t *transfer.Transfer) *Session {
	s := &Session{
		ID:       uuid.NewString(),
		Remote:   remote,
		Transfer: t,
		Tracker:  NewTracker(t),
	}

	p.mu.Lock()
	p.sessions[s.ID] = s
	onTransfer := p.onTransfer
	p.mu.Unlock()

	if onTransfer != nil {
		onTransfer(s)
	}
	p.metrics.StartTransfer()

	var cancel context.CancelFunc
	if p.cfg.TransferTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, p.cfg.TransferTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	stopOnShutdown := context.AfterFunc(p.ctx, cancel)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()
		defer stopOnShutdown()

		if WatchDeadline(ctx, t) {
			logger.Sugar.Warnf("[PeerServer] Transfer %s stopped: %v", s.ID, context.Cause(ctx))
		}
		<-t.Done()
		p.finished(s)
	}()

	if err := t.Start(); err != nil {
		logger.Sugar.Errorf("[PeerServer] Transfer %s did not start: %v", s.ID, err)
	}
	return s
}

func (p *PeerServer) finished(s *Session) {
	st := s.Transfer.Snapshot()
	if st.State == transfer.StateSucceeded {
		p.metrics.RecordTransfer(st.BytesTotal, s.Tracker.GetElapsedTime())
		logger.Sugar.Infof("[PeerServer] Transfer %s with %q completed", s.ID, st.DeviceName)
		return
	}
	p.metrics.RecordFailure()
	logger.Sugar.Errorf("[PeerServer] Transfer %s with %q failed: %s", s.ID, st.DeviceName, st.Error)
}

// Cancel stops the transfer with the given ID.
func (p *PeerServer) Cancel(id string) error {
	s, ok := p.Get(id)
	if !ok {
		return fmt.Errorf("no transfer with id %q", id)
	}
	s.Transfer.Cancel()
	return nil
}

func (p *PeerServer) Get(id string) (*Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[id]
	if !ok && len(id) >= 4 {
		// Allow unambiguous ID prefixes, which is what the shell shows.
		for full, candidate := range p.sessions {
			if strings.HasPrefix(full, id) {
				if s != nil {
					return nil, false
				}
				s = candidate
			}
		}
		ok = s != nil
	}
	return s, ok
}

// Transfers returns every session, oldest first.
func (p *PeerServer) Transfers() []*Session {
	p.mu.Lock()
	out := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		out = append(out, s)
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Tracker.StartTime.Before(out[j].Tracker.StartTime)
	})
	return out
}

func (p *PeerServer) GetStatus() string {
	p.mu.Lock()
	listening := p.listening
	p.mu.Unlock()

	var b strings.Builder
	m := p.metrics.Snapshot()
	if listening {
		fmt.Fprintf(&b, "Device %q receiving on %s (%s) into %s\n", p.cfg.DeviceName, p.Transport.Addr(), p.cfg.Transport, p.sink.Root())
	} else {
		fmt.Fprintf(&b, "Device %q (%s, not receiving)\n", p.cfg.DeviceName, p.cfg.Transport)
	}
	fmt.Fprintf(&b, "Active: %d | Succeeded: %d | Failed: %d | Bytes: %s | Uptime: %s\n",
		m.Active, m.Succeeded, m.Failed, formatBytes(float64(m.Bytes)), formatDuration(m.Uptime))

	for _, s := range p.Transfers() {
		st := s.Transfer.Snapshot()
		line := fmt.Sprintf("  %s  %-7s %-12s %3d%%  %s", s.ID[:8], st.Direction, st.State, st.Progress, displayName(st.DeviceName, s.Remote))
		if st.Error != "" {
			line += "  (" + st.Error + ")"
		}
		b.WriteString(line + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func displayName(deviceName, remote string) string {
	if deviceName == "" {
		return remote
	}
	return fmt.Sprintf("%s [%s]", deviceName, remote)
}

// Stop cancels every running transfer, stops listening and advertising, and
// waits for the background goroutines.
func (p *PeerServer) Stop() error {
	logger.Sugar.Infof("[PeerServer] Stopping")
	p.cancel()

	p.mu.Lock()
	a := p.advertiser
	p.advertiser = nil
	p.listening = false
	p.mu.Unlock()
	if a != nil {
		a.Stop()
	}

	err := p.Transport.Close()
	for _, s := range p.Transfers() {
		s.Transfer.Cancel()
	}
	p.wg.Wait()

	if err != nil {
		return fmt.Errorf("failed to close transport: %w", err)
	}
	return nil
}
