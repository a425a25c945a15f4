// Package escalate implements the alert escalation state machine:
// NOMINAL -> WARNING -> ALARM -> AUTOPILOT_TRIGGER with per-stage dwell
// debounce and asymmetric recovery hysteresis.
package escalate

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/astromind-data/vigil.report/internal/config"
	"github.com/astromind-data/vigil.report/internal/fusion"
)

// ErrOutOfOrder is returned when a tick's timestamp is not strictly after
// the previous one. The tick is rejected and machine state is retained;
// dwell arithmetic depends on monotonic sample time.
var ErrOutOfOrder = errors.New("sample timestamp not after previous tick")

// Transition records one stage change. Immutable once emitted.
type Transition struct {
	From       Stage
	To         Stage
	At         time.Time
	Cause      Cause
	Fatigue    float64
	Yawn       float64
	Confidence float64
}

// Config holds the escalation policy. All values come from the tuning
// config; thresholds and windows are never hardcoded by the machine.
type Config struct {
	WarningThreshold  float64
	AlarmThreshold    float64
	CriticalThreshold float64

	WarningDwell time.Duration // time above warning threshold before NOMINAL -> WARNING
	AlarmDwell   time.Duration // time above alarm threshold before WARNING -> ALARM
	TriggerDwell time.Duration // time above critical threshold before ALARM -> AUTOPILOT_TRIGGER

	// De-escalation is slower than escalation: the score must stay below
	// the warning threshold for the full recovery window.
	RecoveryWindow time.Duration

	// Fail-safes: absence of recovery is itself escalatory.
	MaxWarningDuration time.Duration
	MaxAlarmDuration   time.Duration

	// MinConfidence gates escalation past WARNING while the classifier is
	// still warming up.
	MinConfidence float64
}

// ConfigFromTuning builds an escalation Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		WarningThreshold:   cfg.GetWarningThreshold(),
		AlarmThreshold:     cfg.GetAlarmThreshold(),
		CriticalThreshold:  cfg.GetCriticalThreshold(),
		WarningDwell:       cfg.GetWarningDwell(),
		AlarmDwell:         cfg.GetAlarmDwell(),
		TriggerDwell:       cfg.GetTriggerDwell(),
		RecoveryWindow:     cfg.GetRecoveryWindow(),
		MaxWarningDuration: cfg.GetMaxWarningDuration(),
		MaxAlarmDuration:   cfg.GetMaxAlarmDuration(),
		MinConfidence:      cfg.GetMinConfidence(),
	}
}

// holdTimer tracks how long a boolean condition has held continuously,
// measured in sample time.
type holdTimer struct {
	since time.Time
	held  bool
}

func (h *holdTimer) observe(cond bool, ts time.Time) {
	if !cond {
		h.held = false
		return
	}
	if !h.held {
		h.held = true
		h.since = ts
	}
}

// atLeast reports whether the condition has held for at least d as of ts.
func (h *holdTimer) atLeast(ts time.Time, d time.Duration) bool {
	return h.held && ts.Sub(h.since) >= d
}

func (h *holdTimer) reset() { h.held = false }

// Machine is the escalation state machine for one session. It is not
// safe for concurrent use; the session pipeline ticks it from a single
// goroutine in sample-timestamp order.
type Machine struct {
	cfg Config

	stage          Stage
	enteredStageAt time.Time
	lastTick       time.Time
	haveTick       bool

	aboveWarning  holdTimer
	aboveAlarm    holdTimer
	aboveCritical holdTimer
	belowWarning  holdTimer
}

// NewMachine creates a Machine in StageNominal.
func NewMachine(cfg Config) *Machine {
	return &Machine{cfg: cfg}
}

// Stage returns the current stage.
func (m *Machine) Stage() Stage { return m.stage }

// Tick processes one fusion score and returns the (possibly unchanged)
// stage plus any emitted transitions. At most one transition is emitted
// per tick, so escalation can never skip a stage. Out-of-order or
// duplicate timestamps are rejected with ErrOutOfOrder and leave all
// state untouched.
func (m *Machine) Tick(s fusion.Score) (Stage, []Transition, error) {
	if m.haveTick && !s.Timestamp.After(m.lastTick) {
		return m.stage, nil, fmt.Errorf("%w: %s <= %s",
			ErrOutOfOrder, s.Timestamp.Format(time.RFC3339Nano), m.lastTick.Format(time.RFC3339Nano))
	}
	if !m.haveTick {
		m.enteredStageAt = s.Timestamp
	}
	m.haveTick = true
	m.lastTick = s.Timestamp

	// AUTOPILOT_TRIGGER is terminal for the session: it cannot re-fire
	// and only an external reset (a new session) clears it.
	if m.stage == StageAutopilotTrigger {
		return m.stage, nil, nil
	}

	ts := s.Timestamp
	severity := math.Max(s.Fatigue, s.Yawn)
	m.aboveWarning.observe(severity >= m.cfg.WarningThreshold, ts)
	m.aboveAlarm.observe(severity >= m.cfg.AlarmThreshold, ts)
	m.aboveCritical.observe(severity >= m.cfg.CriticalThreshold, ts)
	m.belowWarning.observe(severity < m.cfg.WarningThreshold, ts)

	// Low classifier confidence (normaliser still warming up) must not
	// escalate past WARNING regardless of score.
	confident := s.Confidence >= m.cfg.MinConfidence

	var out []Transition
	switch m.stage {
	case StageNominal:
		if m.aboveWarning.atLeast(ts, m.cfg.WarningDwell) {
			out = m.transition(StageWarning, escalationCause(s), s)
		}

	case StageWarning:
		switch {
		case confident && m.aboveAlarm.atLeast(ts, m.cfg.AlarmDwell):
			out = m.transition(StageAlarm, escalationCause(s), s)
		case confident && ts.Sub(m.enteredStageAt) >= m.cfg.MaxWarningDuration:
			out = m.transition(StageAlarm, CauseFailSafe, s)
		case m.belowWarning.atLeast(ts, m.cfg.RecoveryWindow):
			out = m.transition(StageNominal, CauseRecovery, s)
		}

	case StageAlarm:
		switch {
		case confident && m.aboveCritical.atLeast(ts, m.cfg.TriggerDwell):
			out = m.transition(StageAutopilotTrigger, escalationCause(s), s)
		case confident && ts.Sub(m.enteredStageAt) >= m.cfg.MaxAlarmDuration:
			out = m.transition(StageAutopilotTrigger, CauseFailSafe, s)
		case m.belowWarning.atLeast(ts, m.cfg.RecoveryWindow):
			out = m.transition(StageWarning, CauseRecovery, s)
		}
	}

	return m.stage, out, nil
}

// Reset returns the machine to StageNominal and discards all dwell
// state. Only the session lifecycle calls this; stages are never set
// directly.
func (m *Machine) Reset() {
	m.stage = StageNominal
	m.haveTick = false
	m.aboveWarning.reset()
	m.aboveAlarm.reset()
	m.aboveCritical.reset()
	m.belowWarning.reset()
}

func (m *Machine) transition(to Stage, cause Cause, s fusion.Score) []Transition {
	t := Transition{
		From:       m.stage,
		To:         to,
		At:         s.Timestamp,
		Cause:      cause,
		Fatigue:    s.Fatigue,
		Yawn:       s.Yawn,
		Confidence: s.Confidence,
	}
	m.stage = to
	m.enteredStageAt = s.Timestamp
	// A fresh recovery window is required after every transition.
	m.belowWarning.reset()
	return []Transition{t}
}

// escalationCause picks the recorded trigger cause: the higher-severity
// of the two independent signals, or no-face when synthesised.
func escalationCause(s fusion.Score) Cause {
	if s.NoFace {
		return CauseNoFace
	}
	if s.Yawn > s.Fatigue {
		return CauseYawn
	}
	return CauseEyeClosure
}
