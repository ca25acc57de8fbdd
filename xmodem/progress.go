package xmodem

import (
	"time"

	"github.com/drunlade/go-xmodem/internal/syncutil"
)

// ProgressTracker rate-limits progress callbacks for one file.
type ProgressTracker struct {
	mu syncutil.Mutex

	filename    string
	transferred int64
	total       int64
	startTime   time.Time
	lastUpdate  time.Time
	lastBytes   int64

	callback func(string, int64, int64, float64)
	interval time.Duration
}

// NewProgressTracker creates a new progress tracker.
func NewProgressTracker(callback func(string, int64, int64, float64), interval time.Duration) *ProgressTracker {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &ProgressTracker{
		callback: callback,
		interval: interval,
	}
}

// Start begins tracking a new file transfer.
func (pt *ProgressTracker) Start(filename string, total int64) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	pt.filename = filename
	pt.total = total
	pt.transferred = 0
	pt.startTime = time.Now()
	pt.lastUpdate = pt.startTime
	pt.lastBytes = 0
}

// Update records the transferred byte count and invokes the callback when
// the update interval has elapsed since the last call.
func (pt *ProgressTracker) Update(transferred int64) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	pt.transferred = transferred

	now := time.Now()
	elapsed := now.Sub(pt.lastUpdate)
	if elapsed < pt.interval {
		return
	}

	rate := float64(transferred-pt.lastBytes) / elapsed.Seconds()
	if pt.callback != nil {
		pt.callback(pt.filename, transferred, pt.total, rate)
	}
	pt.lastUpdate = now
	pt.lastBytes = transferred
}

// Complete issues a final callback and returns the transfer duration.
func (pt *ProgressTracker) Complete() time.Duration {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	duration := time.Since(pt.startTime)
	if pt.callback != nil {
		pt.callback(pt.filename, pt.transferred, pt.total, pt.averageRate(duration))
	}
	return duration
}

// Stats returns current progress statistics.
func (pt *ProgressTracker) Stats() (filename string, transferred, total int64, rate float64, duration time.Duration) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	duration = time.Since(pt.startTime)
	return pt.filename, pt.transferred, pt.total, pt.averageRate(duration), duration
}

func (pt *ProgressTracker) averageRate(duration time.Duration) float64 {
	if duration <= 0 {
		return 0
	}
	return float64(pt.transferred) / duration.Seconds()
}
