package fusion

import (
	"math"
	"testing"
	"time"

	"github.com/astromind-data/vigil.report/internal/signal"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		EyeClosedThreshold: 0.20,
		MouthYawnThreshold: 0.40,
		EyeSaturation:      2 * time.Second,
		MouthSaturation:    4 * time.Second,
		WeightEAR:          0.7,
		WeightMAR:          0.3,
	}
}

func normalized(sec, ear, mar float64) signal.Normalized {
	return signal.Normalized{
		Timestamp: t0.Add(time.Duration(sec * float64(time.Second))),
		EAR:       ear,
		MAR:       mar,
		Fill:      1.0,
	}
}

func TestOpenEyesScoreZero(t *testing.T) {
	c := NewClassifier(testConfig())
	s := c.Score(normalized(0, 0.35, 0.1))
	if s.Fatigue != 0 || s.Yawn != 0 {
		t.Errorf("open eyes scored fatigue=%v yawn=%v, want 0/0", s.Fatigue, s.Yawn)
	}
	if s.EyeClosedFor != 0 {
		t.Errorf("EyeClosedFor = %v, want 0", s.EyeClosedFor)
	}
}

func TestBlinkScoresNearZero(t *testing.T) {
	c := NewClassifier(testConfig())

	// First closed frame: duration factor is zero.
	s := c.Score(normalized(0, 0.05, 0.1))
	if s.Fatigue != 0 {
		t.Errorf("instantaneous closure scored %v, want 0", s.Fatigue)
	}

	// Eyes reopen; duration tracking resets.
	c.Score(normalized(0.1, 0.3, 0.1))
	s = c.Score(normalized(0.2, 0.05, 0.1))
	if s.Fatigue != 0 {
		t.Errorf("closure after reopen scored %v, want 0 (duration reset)", s.Fatigue)
	}
}

func TestSustainedClosureScalesWithDuration(t *testing.T) {
	c := NewClassifier(testConfig())

	c.Score(normalized(0, 0.0, 0.1))
	mid := c.Score(normalized(1, 0.0, 0.1))  // 1s of 2s saturation
	full := c.Score(normalized(2, 0.0, 0.1)) // saturated
	later := c.Score(normalized(5, 0.0, 0.1))

	// Fully closed (deficit 1) at half saturation: 0.7 * 1.0 * 0.5.
	if math.Abs(mid.Fatigue-0.35) > 1e-9 {
		t.Errorf("mid fatigue = %v, want 0.35", mid.Fatigue)
	}
	if math.Abs(full.Fatigue-0.7) > 1e-9 {
		t.Errorf("saturated fatigue = %v, want 0.7", full.Fatigue)
	}
	if later.Fatigue != full.Fatigue {
		t.Errorf("fatigue grew past saturation: %v", later.Fatigue)
	}
	if full.EyeClosedFor != 2*time.Second {
		t.Errorf("EyeClosedFor = %v, want 2s", full.EyeClosedFor)
	}
}

func TestYawnKeptSeparateFromFatigue(t *testing.T) {
	c := NewClassifier(testConfig())

	c.Score(normalized(0, 0.3, 0.9))
	s := c.Score(normalized(4, 0.3, 0.9))

	if s.Yawn <= 0 {
		t.Fatalf("sustained yawn scored %v, want > 0", s.Yawn)
	}
	// Fatigue only carries the MAR-weighted share.
	if math.Abs(s.Fatigue-0.3*s.Yawn) > 1e-9 {
		t.Errorf("fatigue = %v, want weighted yawn %v", s.Fatigue, 0.3*s.Yawn)
	}
}

func TestCombinedClosureAndYawn(t *testing.T) {
	c := NewClassifier(testConfig())

	c.Score(normalized(0, 0.0, 1.0))
	s := c.Score(normalized(4, 0.0, 1.0))

	// Both sub-scores saturated: 0.7*1 + 0.3*1.
	if math.Abs(s.Fatigue-1.0) > 1e-9 {
		t.Errorf("combined fatigue = %v, want 1.0", s.Fatigue)
	}
}

func TestConfidenceTracksWindowFill(t *testing.T) {
	c := NewClassifier(testConfig())
	n := normalized(0, 0.3, 0.1)
	n.Fill = 0.4
	if s := c.Score(n); s.Confidence != 0.4 {
		t.Errorf("confidence = %v, want 0.4", s.Confidence)
	}
}

func TestScoreNoFace(t *testing.T) {
	c := NewClassifier(testConfig())
	s := c.ScoreNoFace(t0)
	if s.Fatigue != 1.0 || s.Confidence != 1.0 || !s.NoFace {
		t.Errorf("no-face score = %+v, want full-severity full-confidence", s)
	}
	if s.Yawn != 0 {
		t.Errorf("no-face yawn = %v, want 0", s.Yawn)
	}
}

func TestReset(t *testing.T) {
	c := NewClassifier(testConfig())
	c.Score(normalized(0, 0.0, 0.1))
	c.Score(normalized(1, 0.0, 0.1))
	c.Reset()

	s := c.Score(normalized(2, 0.0, 0.1))
	if s.Fatigue != 0 {
		t.Errorf("fatigue after reset = %v, want 0 (duration restarted)", s.Fatigue)
	}
}
