// Package fusion combines normalised eye and mouth signals into a single
// instantaneous fatigue classification.
package fusion

import (
	"time"

	"github.com/astromind-data/vigil.report/internal/signal"
)

// Score is the classifier output for one tick. Fatigue and Yawn are kept
// separate: yawning is a precursor signal and the escalation machine
// evaluates both independently. Confidence reflects how many raw samples
// contributed to the smoothing window.
type Score struct {
	Timestamp  time.Time
	Fatigue    float64 // weighted eye/mouth fusion, [0,1]
	Yawn       float64 // mouth sub-score alone, [0,1]
	Confidence float64 // (0,1]; < 1 while the normaliser window is filling
	NoFace     bool    // synthesised from a no-face condition past grace

	// Durations the respective condition has currently held. Used by the
	// session layer to count discrete microsleep and yawn events.
	EyeClosedFor time.Duration
	MouthOpenFor time.Duration
}

// Config holds classifier tuning. Thresholds and saturations come from
// the tuning config; none are hardcoded here.
type Config struct {
	EyeClosedThreshold float64       // smoothed EAR below this counts as closure
	MouthYawnThreshold float64       // smoothed MAR above this counts as a yawn
	EyeSaturation      time.Duration // closure duration at which the eye score saturates
	MouthSaturation    time.Duration // open duration at which the mouth score saturates
	WeightEAR          float64
	WeightMAR          float64
}

// Classifier derives duration-scaled sub-scores from normalised samples.
// A brief blink scores near zero regardless of how closed the eye is;
// only closure sustained toward EyeSaturation approaches full severity.
type Classifier struct {
	cfg Config

	eyeBelowSince   time.Time
	mouthAboveSince time.Time
	haveEye         bool
	haveMouth       bool
}

// NewClassifier creates a Classifier with the given tuning.
func NewClassifier(cfg Config) *Classifier {
	return &Classifier{cfg: cfg}
}

// Score classifies one normalised sample.
func (c *Classifier) Score(n signal.Normalized) Score {
	s := Score{
		Timestamp:  n.Timestamp,
		Confidence: n.Fill,
	}

	// Eye closure: severity scales with both how far below threshold the
	// smoothed EAR sits and how long it has been there.
	if n.EAR < c.cfg.EyeClosedThreshold {
		if !c.haveEye {
			c.haveEye = true
			c.eyeBelowSince = n.Timestamp
		}
		s.EyeClosedFor = n.Timestamp.Sub(c.eyeBelowSince)
		deficit := clamp01((c.cfg.EyeClosedThreshold - n.EAR) / c.cfg.EyeClosedThreshold)
		eye := (0.5 + 0.5*deficit) * durationFactor(s.EyeClosedFor, c.cfg.EyeSaturation)
		s.Fatigue += c.cfg.WeightEAR * eye
	} else {
		c.haveEye = false
	}

	// Yawn: symmetric, above threshold.
	if n.MAR > c.cfg.MouthYawnThreshold {
		if !c.haveMouth {
			c.haveMouth = true
			c.mouthAboveSince = n.Timestamp
		}
		s.MouthOpenFor = n.Timestamp.Sub(c.mouthAboveSince)
		excess := clamp01((n.MAR - c.cfg.MouthYawnThreshold) / c.cfg.MouthYawnThreshold)
		mouth := (0.5 + 0.5*excess) * durationFactor(s.MouthOpenFor, c.cfg.MouthSaturation)
		s.Yawn = mouth
		s.Fatigue += c.cfg.WeightMAR * mouth
	} else {
		c.haveMouth = false
	}

	s.Fatigue = clamp01(s.Fatigue)
	return s
}

// ScoreNoFace synthesises a full-severity score for an operator whose
// face has been absent beyond the grace period. Confidence is full:
// absence of the operator from the sensor is itself a certain signal.
func (c *Classifier) ScoreNoFace(ts time.Time) Score {
	return Score{
		Timestamp:  ts,
		Fatigue:    1.0,
		Confidence: 1.0,
		NoFace:     true,
	}
}

// Reset discards duration tracking, e.g. at session start.
func (c *Classifier) Reset() {
	c.haveEye = false
	c.haveMouth = false
}

// durationFactor maps a held duration onto [0,1], saturating at sat. The
// first instant of a condition scores zero so single-frame spikes and
// ordinary blinks contribute nothing.
func durationFactor(held, sat time.Duration) float64 {
	if sat <= 0 {
		return 1
	}
	return clamp01(float64(held) / float64(sat))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
