package peer

import (
	"sync"
	"time"

	"tarun-kavipurapu/nitroshare/pkg/transfer"
)

// Tracker follows one transfer for display: it keeps the latest snapshot,
// timing and a throughput estimate.
type Tracker struct {
	mu        sync.RWMutex
	t         *transfer.Transfer
	status    transfer.Status
	StartTime time.Time
	endTime   time.Time

	// Speed calculation
	lastBytes    uint64
	lastTime     time.Time
	currentSpeed float64 // bytes/sec

	unsubscribe func()
}

// NewTracker subscribes to t. Create it before t starts to see every change.
func NewTracker(t *transfer.Transfer) *Tracker {
	now := time.Now()
	tr := &Tracker{
		t:         t,
		status:    t.Snapshot(),
		StartTime: now,
		lastTime:  now,
	}
	tr.unsubscribe = t.Subscribe(tr.observe)
	return tr
}

func (tr *Tracker) observe(c transfer.Change) {
	s := tr.t.Snapshot()

	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.status = s
	if c.Field == transfer.FieldState && c.Value.(transfer.State).Terminal() && tr.endTime.IsZero() {
		tr.endTime = time.Now()
	}
}

// Status returns the snapshot taken at the last change or refresh.
func (tr *Tracker) Status() transfer.Status {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return tr.status
}

// UpdateSpeed refreshes the snapshot and recalculates the current speed
func (tr *Tracker) UpdateSpeed() float64 {
	s := tr.t.Snapshot()

	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.status = s

	now := time.Now()
	elapsed := now.Sub(tr.lastTime).Seconds()
	if elapsed >= 0.5 { // Update every 0.5 seconds
		if s.BytesDone >= tr.lastBytes {
			tr.currentSpeed = float64(s.BytesDone-tr.lastBytes) / elapsed
		}
		tr.lastBytes = s.BytesDone
		tr.lastTime = now
	}
	return tr.currentSpeed
}

func (tr *Tracker) Speed() float64 {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return tr.currentSpeed
}

// GetETA returns the estimated time remaining
func (tr *Tracker) GetETA() time.Duration {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	if tr.currentSpeed <= 0 || tr.status.BytesDone >= tr.status.BytesTotal {
		return 0
	}
	remaining := float64(tr.status.BytesTotal - tr.status.BytesDone)
	return time.Duration(remaining/tr.currentSpeed) * time.Second
}

// GetElapsedTime returns the time since the transfer was tracked, frozen
// once it ended.
func (tr *Tracker) GetElapsedTime() time.Duration {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	if !tr.endTime.IsZero() {
		return tr.endTime.Sub(tr.StartTime)
	}
	return time.Since(tr.StartTime)
}

func (tr *Tracker) IsDone() bool {
	return tr.Status().State.Terminal()
}

// Close stops following the transfer.
func (tr *Tracker) Close() {
	tr.unsubscribe()
}
