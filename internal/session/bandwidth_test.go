package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBandwidthWindow_IgnoresNonPositiveChunks(t *testing.T) {
	w := NewBandwidthWindow(0)
	w.Record(0)
	w.Record(-10)

	assert.Zero(t, w.TotalBytes())
	assert.Zero(t, w.SampleCount())
	assert.Zero(t, w.CurrentBps())
}

func TestBandwidthWindow_PrunesSamplesOlderThanSpan(t *testing.T) {
	w := NewBandwidthWindow(10 * time.Second)
	base := time.Now()

	w.recordAt(1000, base)
	w.recordAt(2000, base.Add(5*time.Second))
	w.recordAt(3000, base.Add(12*time.Second))

	// The first sample fell out of the window; the total never shrinks.
	assert.Equal(t, 2, w.SampleCount())
	assert.Equal(t, uint64(6000), w.TotalBytes())
}

func TestBandwidthWindow_CurrentAndPeak(t *testing.T) {
	w := NewBandwidthWindow(30 * time.Second)
	base := time.Now()

	w.recordAt(1000, base)
	w.recordAt(9000, base.Add(1*time.Second))

	// 10000 bytes over one elapsed second.
	assert.Equal(t, uint64(10000), w.rateAt(base.Add(1*time.Second)))
	assert.Equal(t, uint64(10000), w.PeakBps())

	// A lull lowers the current rate but the peak stays.
	w.recordAt(100, base.Add(20*time.Second))
	assert.Equal(t, uint64(505), w.rateAt(base.Add(20*time.Second)))
	assert.Equal(t, uint64(10000), w.PeakBps())
}

func TestBandwidthWindow_ElapsedFloorTamesEarlyBurst(t *testing.T) {
	w := NewBandwidthWindow(30 * time.Second)
	base := time.Now()

	// Two samples a millisecond apart must not read as a 1000x rate.
	w.recordAt(500, base)
	w.recordAt(500, base.Add(time.Millisecond))

	assert.Equal(t, uint64(1000), w.rateAt(base.Add(time.Millisecond)))
}

// rateAt reads the rolling rate at a synthetic instant.
func (w *BandwidthWindow) rateAt(now time.Time) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentLocked(now)
}

func TestBandwidthWindow_AverageUsesLifetime(t *testing.T) {
	w := NewBandwidthWindow(time.Second)
	base := time.Now()

	w.recordAt(4000, base)
	w.recordAt(4000, base.Add(2*time.Second))

	// Pruning drops the first sample from the window but the lifetime
	// average still sees all 8000 bytes.
	assert.Equal(t, uint64(8000), w.TotalBytes())
	assert.Positive(t, w.AverageBps())
	assert.LessOrEqual(t, w.AverageBps(), uint64(8000))
}
