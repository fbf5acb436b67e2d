package monitor

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"tarun-kavipurapu/nitroshare/pkg/logger"
)

// Metrics holds performance metrics for the peer server
type Metrics struct {
	// Total bytes moved by successful transfers
	TransferBytes atomic.Uint64
	// Number of successful transfers
	TransferCount atomic.Int64
	// Number of failed or cancelled transfers
	FailureCount atomic.Int64
	// Transfers currently running
	Active atomic.Int64
	// Server start time
	ServerStart time.Time
}


func New() *Metrics {
	return &Metrics{ServerStart: time.Now()}
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Bytes     uint64
	Succeeded int64
	Failed    int64
	Active    int64
	Uptime    time.Duration
}

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Bytes:     m.TransferBytes.Load(),
		Succeeded: m.TransferCount.Load(),
		Failed:    m.FailureCount.Load(),
		Active:    m.Active.Load(),
		Uptime:    time.Since(m.ServerStart),
	}
}

// StartTransfer records that a transfer began.
func (m *Metrics) StartTransfer() {
	m.Active.Add(1)
}

// RecordTransfer records a completed transfer
func (m *Metrics) RecordTransfer(bytes uint64, duration time.Duration) {
	m.Active.Add(-1)
	m.TransferBytes.Add(bytes)
	m.TransferCount.Add(1)

	var speed float64
	if secs := duration.Seconds(); secs > 0 {
		speed = float64(bytes) / secs / 1024 / 1024
	}
	logger.Sugar.Infof("[Metrics] Size=%dMB | Duration=%.2fs | Speed=%.2fMB/s",
		bytes/1024/1024, duration.Seconds(), speed)
}

// RecordFailure records a transfer that ended without success.
func (m *Metrics) RecordFailure() {
	m.Active.Add(-1)
	m.FailureCount.Add(1)
}

// LogPeriodic logs runtime metrics at the specified interval until ctx ends.
func (m *Metrics) LogPeriodic(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.logOnce()
		}
	}
}

func (m *Metrics) logOnce() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	s := m.Snapshot()
	var throughput float64
	if secs := s.Uptime.Seconds(); secs > 0 {
		throughput = float64(s.Bytes) / secs / 1024 / 1024
	}

	logger.Sugar.Infof("[Metrics] Goroutines=%d | HeapAlloc=%dMB | HeapSys=%dMB | Throughput=%.2fMB/s | Transfers=%d | Failed=%d | Active=%d",
		runtime.NumGoroutine(),
		mem.HeapAlloc/1024/1024,
		mem.HeapSys/1024/1024,
		throughput,
		s.Succeeded,
		s.Failed,
		s.Active,
	)
}
