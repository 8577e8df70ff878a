// timing.go - chunk timing instrumentation for the upload loop.
//
// Enable timing output by setting DRIFTBOX_TIMING=1.
// Output format: [TIMING] phase_name: duration (optional_details)
//
// Example output:
//
//	[TIMING] movie.mp4 create: 45ms
//	[TIMING] movie.mp4 chunk 3: 850ms size=5.0MiB
//	[TIMING] movie.mp4 summary: 12 chunks, 58.2MiB total, avg=6.8MiB/s
package cloud

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// TimingEnabled returns true if DRIFTBOX_TIMING=1 is set.
func TimingEnabled() bool {
	return os.Getenv("DRIFTBOX_TIMING") == "1"
}

// Timer tracks elapsed time for a named phase.
// Stop is idempotent; only the first call logs.
type Timer struct {
	name    string
	start   time.Time
	w       io.Writer
	stopped int32
}

// StartTimer creates a new timer. The timer uses os.Stderr if w is nil.
func StartTimer(w io.Writer, name string) *Timer {
	if w == nil {
		w = os.Stderr
	}
	return &Timer{name: name, start: time.Now(), w: w}
}

// Stop logs the elapsed time and returns the duration.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if atomic.CompareAndSwapInt32(&t.stopped, 0, 1) && TimingEnabled() {
		fmt.Fprintf(t.w, "[TIMING] %s: %v\n", t.name, elapsed)
	}
	return elapsed
}

// Elapsed returns the current elapsed time without stopping the timer.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// ChunkTimer aggregates per-chunk timings for one upload session.
type ChunkTimer struct {
	name string
	w    io.Writer
	mu   sync.Mutex

	chunks        int
	totalBytes    int64
	totalDuration time.Duration
}

// NewChunkTimer creates a chunk timer. It uses os.Stderr if w is nil.
func NewChunkTimer(w io.Writer, name string) *ChunkTimer {
	if w == nil {
		w = os.Stderr
	}
	return &ChunkTimer{name: name, w: w}
}

// RecordChunk adds one acknowledged chunk.
func (ct *ChunkTimer) RecordChunk(index int, d time.Duration, size int64) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	ct.chunks++
	ct.totalBytes += size
	ct.totalDuration += d

	if TimingEnabled() {
		fmt.Fprintf(ct.w, "[TIMING] %s chunk %d: %v size=%s\n", ct.name, index, d, sizeString(size))
	}
}

// Stats returns the chunk count, byte total and average speed so far.
func (ct *ChunkTimer) Stats() (chunks int, totalBytes int64, avgSpeed float64) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	if ct.totalDuration > 0 {
		avgSpeed = float64(ct.totalBytes) / ct.totalDuration.Seconds()
	}
	return ct.chunks, ct.totalBytes, avgSpeed
}

// Summary logs aggregate statistics.
func (ct *ChunkTimer) Summary() {
	chunks, total, avg := ct.Stats()
	if !TimingEnabled() || chunks == 0 {
		return
	}
	fmt.Fprintf(ct.w, "[TIMING] %s summary: %d chunks, %s total, avg=%s\n",
		ct.name, chunks, sizeString(total), sizeString(int64(avg))+"/s")
}

// sizeString is the raw byte count the timing lines print, e.g. "5.0MiB".
func sizeString(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%dB", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
