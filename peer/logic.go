package peer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tarun-kavipurapu/nitroshare/pkg/discovery"
	"tarun-kavipurapu/nitroshare/pkg/logger"
	"tarun-kavipurapu/nitroshare/pkg/transfer"
)

// ErrPeerNotFound is returned by ResolvePeer when browsing ends without a
// matching receiver.
var ErrPeerNotFound = errors.New("peer not found")

// WatchDeadline cancels t if ctx ends before t does. It blocks until one of
// the two happens and reports whether it cancelled.
func WatchDeadline(ctx context.Context, t *transfer.Transfer) bool {
	select {
	case <-t.Done():
		return false
	case <-ctx.Done():
		if t.State().Terminal() {
			return false
		}
		logger.Sugar.Infof("[PeerServer] Deadline reached, cancelling %s transfer: %v", t.Direction(), context.Cause(ctx))
		t.Cancel()
		return true
	}
}

// Wait blocks until s ends or ctx is done, and returns the transfer's error.
func Wait(ctx context.Context, s *Session) error {
	select {
	case <-s.Transfer.Done():
		return s.Transfer.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ResolvePeer browses the LAN until a receiver whose device or instance
// name matches name (case-insensitively) shows up, or ctx ends.
func ResolvePeer(ctx context.Context, name string) (*discovery.ServiceInfo, error) {
	resolver, err := discovery.NewResolver()
	if err != nil {
		return nil, err
	}
	return resolveFrom(ctx, resolver, name)
}

type browser interface {
	Browse(ctx context.Context) (<-chan *discovery.ServiceInfo, error)
}

func resolveFrom(ctx context.Context, b browser, name string) (*discovery.ServiceInfo, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results, err := b.Browse(ctx)
	if err != nil {
		return nil, err
	}
	for info := range results {
		if strings.EqualFold(info.DeviceName(), name) || strings.EqualFold(info.InstanceName, name) {
			logger.Sugar.Infof("[PeerServer] Resolved %q to %s (%s)", name, info.Addr(), info.Transport())
			return info, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrPeerNotFound, name)
}
