package session

import (
	"sync"
	"time"
)

// defaultBandwidthSpan is how much transfer history a session keeps for
// rate calculation.
const defaultBandwidthSpan = 30 * time.Second

type bandwidthSample struct {
	bytes uint64
	at    time.Time
}

// BandwidthWindow tracks transferred bytes and derives current, average,
// and peak throughput from a sliding window of timestamped samples. One
// sample is appended per recorded chunk and samples older than the span
// are pruned on every write.
type BandwidthWindow struct {
	mu      sync.Mutex
	span    time.Duration
	start   time.Time
	samples []bandwidthSample
	total   uint64
	peakBps uint64
}

// NewBandwidthWindow returns a window covering span (zero means 30s).
func NewBandwidthWindow(span time.Duration) *BandwidthWindow {
	if span <= 0 {
		span = defaultBandwidthSpan
	}
	return &BandwidthWindow{
		span:  span,
		start: time.Now(),
	}
}

// Record adds a transferred chunk to the window.
func (w *BandwidthWindow) Record(n int) {
	if n <= 0 {
		return
	}
	w.recordAt(uint64(n), time.Now())
}

func (w *BandwidthWindow) recordAt(n uint64, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.total += n
	w.samples = append(w.samples, bandwidthSample{bytes: n, at: now})
	w.pruneLocked(now)

	if cur := w.currentLocked(now); cur > w.peakBps {
		w.peakBps = cur
	}
}

func (w *BandwidthWindow) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.span)
	i := 0
	for i < len(w.samples) && w.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.samples = w.samples[i:]
	}
}

// currentLocked averages the in-window bytes over the window's real span.
// The elapsed floor keeps a single early burst from reading as an absurd
// rate.
func (w *BandwidthWindow) currentLocked(now time.Time) uint64 {
	if len(w.samples) == 0 {
		return 0
	}
	var sum uint64
	for _, s := range w.samples {
		sum += s.bytes
	}
	elapsed := now.Sub(w.samples[0].at)
	if elapsed < time.Second {
		elapsed = time.Second
	}
	return uint64(float64(sum) / elapsed.Seconds())
}

// CurrentBps returns the rolling throughput in bytes per second.
func (w *BandwidthWindow) CurrentBps() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	w.pruneLocked(now)
	return w.currentLocked(now)
}

// AverageBps returns lifetime throughput in bytes per second.
func (w *BandwidthWindow) AverageBps() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	elapsed := time.Since(w.start)
	if elapsed < time.Second {
		elapsed = time.Second
	}
	return uint64(float64(w.total) / elapsed.Seconds())
}

// PeakBps returns the highest rolling throughput observed.
func (w *BandwidthWindow) PeakBps() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.peakBps
}

// TotalBytes returns the cumulative bytes recorded.
func (w *BandwidthWindow) TotalBytes() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.total
}

// SampleCount returns how many samples are currently in the window.
func (w *BandwidthWindow) SampleCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(time.Now())
	return len(w.samples)
}
