package transcoder

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessStats is a point-in-time snapshot of encoder resource usage,
// exposed through the monitoring API.
type ProcessStats struct {
	PID            int32         `json:"pid"`
	CPUPercent     float64       `json:"cpu_percent"`
	CPUUser        time.Duration `json:"cpu_user"`
	CPUSystem      time.Duration `json:"cpu_system"`
	MemoryRSSBytes uint64        `json:"memory_rss_bytes"`
	MemoryVMSBytes uint64        `json:"memory_vms_bytes"`
	MemoryPercent  float64       `json:"memory_percent"`
	BytesOut       uint64        `json:"bytes_out"`
	WriteRateBps   float64       `json:"write_rate_bps"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
	LastUpdated    time.Time     `json:"last_updated"`
}

// processMonitor samples encoder resource usage on a fixed cadence. Byte
// throughput comes from the supervisor's pump counter; everything else is
// read from the OS.
type processMonitor struct {
	proc      *process.Process
	pid       int32
	startedAt time.Time
	interval  time.Duration

	bytesOut *atomic.Uint64

	mu    sync.RWMutex
	stats ProcessStats

	lastBytes     uint64
	lastByteCheck time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newProcessMonitor(pid int32, bytesOut *atomic.Uint64) *processMonitor {
	pm := &processMonitor{
		pid:       pid,
		startedAt: time.Now(),
		interval:  time.Second,
		bytesOut:  bytesOut,
	}
	if proc, err := process.NewProcess(pid); err == nil {
		pm.proc = proc
	}
	return pm
}

func (pm *processMonitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	pm.cancel = cancel
	pm.lastByteCheck = time.Now()

	pm.wg.Add(1)
	go pm.loop(ctx)
}

func (pm *processMonitor) Stop() {
	if pm.cancel != nil {
		pm.cancel()
	}
	pm.wg.Wait()
}

// Stats returns the most recent sample with the byte counter read live.
func (pm *processMonitor) Stats() ProcessStats {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	stats := pm.stats
	stats.BytesOut = pm.bytesOut.Load()
	return stats
}

func (pm *processMonitor) loop(ctx context.Context) {
	defer pm.wg.Done()

	ticker := time.NewTicker(pm.interval)
	defer ticker.Stop()

	pm.sample(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pm.sample(ctx)
		}
	}
}

func (pm *processMonitor) sample(ctx context.Context) {
	now := time.Now()

	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.stats.PID = pm.pid
	pm.stats.StartedAt = pm.startedAt
	pm.stats.Duration = now.Sub(pm.startedAt)
	pm.stats.LastUpdated = now

	// Failed reads keep the previous values; the process may already be
	// gone while the last snapshot is still being served.
	if pm.proc != nil {
		if pct, err := pm.proc.CPUPercentWithContext(ctx); err == nil {
			pm.stats.CPUPercent = pct
		}
		if times, err := pm.proc.TimesWithContext(ctx); err == nil && times != nil {
			pm.stats.CPUUser = time.Duration(times.User * float64(time.Second))
			pm.stats.CPUSystem = time.Duration(times.System * float64(time.Second))
		}
		if mi, err := pm.proc.MemoryInfoWithContext(ctx); err == nil && mi != nil {
			pm.stats.MemoryRSSBytes = mi.RSS
			pm.stats.MemoryVMSBytes = mi.VMS
		}
		if pct, err := pm.proc.MemoryPercentWithContext(ctx); err == nil {
			pm.stats.MemoryPercent = float64(pct)
		}
	}

	current := pm.bytesOut.Load()
	if elapsed := now.Sub(pm.lastByteCheck); elapsed > 0 {
		pm.stats.WriteRateBps = float64(current-pm.lastBytes) / elapsed.Seconds()
	}
	pm.stats.BytesOut = current
	pm.lastBytes = current
	pm.lastByteCheck = now
}
