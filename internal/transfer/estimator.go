package transfer

import (
	"time"

	"github.com/driftbox/driftbox/internal/constants"
)

// Estimator derives throughput and ETA from progress observations. It keeps
// one baseline sample and only re-derives once MinInterval has passed since
// it, so bursts of chunk acknowledgements do not produce jittery speeds.
//
// The zero value uses constants.MinSampleInterval.
type Estimator struct {
	MinInterval time.Duration

	hasBaseline bool
	baseBytes   int64
	baseTime    time.Time

	throughput float64
	eta        float64
}

// Observe records that bytes of total were transferred at t and returns the
// current throughput (bytes/sec) and ETA (seconds). The first observation
// after construction or Reset yields 0, 0.
func (e *Estimator) Observe(bytes, total int64, t time.Time) (throughput, eta float64) {
	if !e.hasBaseline {
		e.hasBaseline = true
		e.baseBytes = bytes
		e.baseTime = t
		e.throughput, e.eta = 0, 0
		return 0, 0
	}

	interval := e.MinInterval
	if interval <= 0 {
		interval = constants.MinSampleInterval
	}
	elapsed := t.Sub(e.baseTime)
	if elapsed < interval {
		return e.throughput, e.eta
	}

	delta := bytes - e.baseBytes
	if delta < 0 {
		delta = 0
	}
	e.throughput = float64(delta) / elapsed.Seconds()
	if e.throughput > 0 && total > bytes {
		e.eta = float64(total-bytes) / e.throughput
	} else {
		e.eta = 0
	}
	e.baseBytes = bytes
	e.baseTime = t
	return e.throughput, e.eta
}

// Reset discards the baseline and the derived values.
func (e *Estimator) Reset() {
	e.hasBaseline = false
	e.baseBytes = 0
	e.baseTime = time.Time{}
	e.throughput = 0
	e.eta = 0
}
