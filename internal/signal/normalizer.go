// Package signal converts raw per-frame facial ratio samples into
// smoothed, bounded signals suitable for classification.
package signal

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// RatioSample is one frame's worth of geometric ratios from the external
// landmark processor. Immutable once created; the pipeline owns it for
// the duration of one processing tick.
type RatioSample struct {
	Timestamp time.Time
	EAR       float64 // eye aspect ratio, nominally [0,1]
	MAR       float64 // mouth aspect ratio, >= 0
}

// Normalized is a smoothed sample with first-derivative estimates.
type Normalized struct {
	Timestamp time.Time
	EAR       float64 // window mean of clamped EAR
	MAR       float64 // window mean of clamped MAR
	DEAR      float64 // rate of change of smoothed EAR, per second
	DMAR      float64 // rate of change of smoothed MAR, per second
	Fill      float64 // window fill fraction (0,1]; below 1 during warm-up
	Clamped   bool    // raw input was malformed and clamped to bounds
}

// Normalizer maintains a short rolling window of EAR and MAR values to
// suppress single-frame sensor noise. During the first window-1 samples
// the partial window is used rather than blocking.
type Normalizer struct {
	window  int
	marMax  float64
	ears    []float64
	mars    []float64
	next    int
	count   int
	havePrv bool
	prvTime time.Time
	prvEAR  float64
	prvMAR  float64
}

// NewNormalizer creates a Normalizer with the given rolling window size
// (in samples) and MAR clamp bound.
func NewNormalizer(window int, marMax float64) *Normalizer {
	if window < 1 {
		window = 1
	}
	return &Normalizer{
		window: window,
		marMax: marMax,
		ears:   make([]float64, window),
		mars:   make([]float64, window),
	}
}

// Push adds a raw sample and returns the normalised output. Malformed
// input (NaN, out-of-range) is clamped to valid bounds and flagged, never
// rejected: signal-quality problems are absorbed here, not surfaced.
func (n *Normalizer) Push(s RatioSample) Normalized {
	ear, clampedEAR := clamp(s.EAR, 0, 1)
	mar, clampedMAR := clamp(s.MAR, 0, n.marMax)

	n.ears[n.next] = ear
	n.mars[n.next] = mar
	n.next = (n.next + 1) % n.window
	if n.count < n.window {
		n.count++
	}

	out := Normalized{
		Timestamp: s.Timestamp,
		EAR:       stat.Mean(n.ears[:n.count], nil),
		MAR:       stat.Mean(n.mars[:n.count], nil),
		Fill:      float64(n.count) / float64(n.window),
		Clamped:   clampedEAR || clampedMAR,
	}

	if n.havePrv {
		if dt := s.Timestamp.Sub(n.prvTime).Seconds(); dt > 0 {
			out.DEAR = (out.EAR - n.prvEAR) / dt
			out.DMAR = (out.MAR - n.prvMAR) / dt
		}
	}
	n.havePrv = true
	n.prvTime = s.Timestamp
	n.prvEAR = out.EAR
	n.prvMAR = out.MAR

	return out
}

// Reset discards all window state, e.g. at session start.
func (n *Normalizer) Reset() {
	n.next = 0
	n.count = 0
	n.havePrv = false
}

// clamp bounds v to [lo,hi] and reports whether clamping (or NaN
// replacement) was required. NaN maps to lo: a ratio the landmark stage
// could not compute is treated as the most conservative reading for EAR
// and the least severe for MAR.
func clamp(v, lo, hi float64) (float64, bool) {
	if math.IsNaN(v) {
		return lo, true
	}
	if v < lo {
		return lo, true
	}
	if v > hi {
		return hi, true
	}
	return v, false
}
