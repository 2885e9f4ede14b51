package monitoring

import (
	"fmt"
	"sync"
	"time"

	"github.com/hailo-ai/tappas-tracker/internal/timeutil"
)

// FrameStats tracks per-stream frame statistics with thread-safe operations.
type FrameStats struct {
	mu          sync.Mutex
	clock       timeutil.Clock
	frameCount  int64
	trackCount  int64
	errorCount  int64
	busy        time.Duration
	slowest     time.Duration
	lastReset   time.Time
	totalFrames int64
}

// FrameSummary is one reporting interval of FrameStats.
type FrameSummary struct {
	Frames   int64
	Tracks   int64 // reported tracks summed over frames
	Errors   int64
	Busy     time.Duration
	Slowest  time.Duration
	Interval time.Duration
}

// NewFrameStats creates a new FrameStats instance.
func NewFrameStats() *FrameStats {
	return NewFrameStatsWithClock(timeutil.RealClock{})
}

// NewFrameStatsWithClock creates a FrameStats that measures intervals on clock.
func NewFrameStatsWithClock(clock timeutil.Clock) *FrameStats {
	return &FrameStats{clock: clock, lastReset: clock.Now()}
}

// AddFrame records one processed frame.
func (fs *FrameStats) AddFrame(tracks int, took time.Duration) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.frameCount++
	fs.totalFrames++
	fs.trackCount += int64(tracks)
	fs.busy += took
	if took > fs.slowest {
		fs.slowest = took
	}
}

// AddError records a frame the tracker rejected.
func (fs *FrameStats) AddError() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.errorCount++
}

// TotalFrames returns the frames recorded since creation.
func (fs *FrameStats) TotalFrames() int64 {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.totalFrames
}

// GetAndReset returns the current interval and starts a new one.
func (fs *FrameStats) GetAndReset() FrameSummary {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	now := fs.clock.Now()
	s := FrameSummary{
		Frames:   fs.frameCount,
		Tracks:   fs.trackCount,
		Errors:   fs.errorCount,
		Busy:     fs.busy,
		Slowest:  fs.slowest,
		Interval: now.Sub(fs.lastReset),
	}
	fs.frameCount, fs.trackCount, fs.errorCount = 0, 0, 0
	fs.busy, fs.slowest = 0, 0
	fs.lastReset = now
	return s
}

// String formats the summary as a single log line.
func (s FrameSummary) String() string {
	if s.Frames == 0 {
		return fmt.Sprintf("no frames, %d errors", s.Errors)
	}
	rate := "n/a"
	if s.Interval > 0 {
		rate = fmt.Sprintf("%.1f/sec", float64(s.Frames)/s.Interval.Seconds())
	}
	msg := fmt.Sprintf("%d frames (%s), %.1f tracks/frame, mean %s, slowest %s",
		s.Frames, rate, float64(s.Tracks)/float64(s.Frames),
		(s.Busy / time.Duration(s.Frames)).Round(time.Microsecond), s.Slowest.Round(time.Microsecond))
	if s.Errors > 0 {
		msg += fmt.Sprintf(", %d errors", s.Errors)
	}
	return msg
}

// LogStats logs and resets the interval through logf.
func (fs *FrameStats) LogStats(logf func(format string, v ...interface{})) {
	s := fs.GetAndReset()
	if s.Frames > 0 || s.Errors > 0 {
		logf("tracker stats: %s", s)
	}
}
