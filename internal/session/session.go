// Package session runs the per-session detection pipeline: normaliser,
// fusion classifier and escalation machine wired to the forensic writer,
// plus the manager that enforces the single-active-session lifecycle.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/astromind-data/vigil.report/internal/config"
	"github.com/astromind-data/vigil.report/internal/escalate"
	"github.com/astromind-data/vigil.report/internal/fusion"
	"github.com/astromind-data/vigil.report/internal/monitoring"
	"github.com/astromind-data/vigil.report/internal/signal"
	"github.com/astromind-data/vigil.report/internal/store"
)

// TriggerHandler is invoked exactly once per session when the machine
// reaches AUTOPILOT_TRIGGER. It runs on the pipeline goroutine; keep it
// short.
type TriggerHandler func(sessionID string, t escalate.Transition)

// Session is one monitored operator session. Samples must be fed in
// timestamp order from a single goroutine; lifecycle calls (Stage,
// Counters, seal) may come from others.
type Session struct {
	ID        string
	StartedAt time.Time

	mu         sync.Mutex
	normalizer *signal.Normalizer
	classifier *fusion.Classifier
	machine    *escalate.Machine
	writer     *Writer

	noFaceGrace  time.Duration
	noFaceSince  time.Time
	noFaceActive bool

	snapshotEvery int
	frameCount    int64

	eyeSaturation   time.Duration
	mouthSaturation time.Duration
	eyeLatched      bool
	mouthLatched    bool
	microsleeps     int
	yawns           int
	earSum          float64
	earCount        int64

	onTrigger TriggerHandler
	fired     bool
	sealed    bool
}

func newSession(id string, startedAt time.Time, cfg *config.TuningConfig, w *Writer, onTrigger TriggerHandler) *Session {
	return &Session{
		ID:         id,
		StartedAt:  startedAt,
		normalizer: signal.NewNormalizer(cfg.GetSmoothingWindow(), cfg.GetMARClampMax()),
		classifier: fusion.NewClassifier(fusion.Config{
			EyeClosedThreshold: cfg.GetEARClosedThreshold(),
			MouthYawnThreshold: cfg.GetMARYawnThreshold(),
			EyeSaturation:      cfg.GetEyeSaturation(),
			MouthSaturation:    cfg.GetMouthSaturation(),
			WeightEAR:          cfg.GetFusionWeightEAR(),
			WeightMAR:          cfg.GetFusionWeightMAR(),
		}),
		machine:         escalate.NewMachine(escalate.ConfigFromTuning(cfg)),
		writer:          w,
		noFaceGrace:     cfg.GetNoFaceGracePeriod(),
		snapshotEvery:   cfg.GetSnapshotEvery(),
		eyeSaturation:   cfg.GetEyeSaturation(),
		mouthSaturation: cfg.GetMouthSaturation(),
		onTrigger:       onTrigger,
	}
}

// ProcessFrame feeds one raw ratio sample through the pipeline and
// returns the resulting stage. Out-of-order samples are dropped with an
// error; pipeline state is unaffected.
func (s *Session) ProcessFrame(ts time.Time, ear, mar float64) (escalate.Stage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return s.machine.Stage(), store.ErrSessionSealed
	}

	// A visible face ends any no-face episode.
	s.noFaceActive = false

	n := s.normalizer.Push(signal.RatioSample{Timestamp: ts, EAR: ear, MAR: mar})
	score := s.classifier.Score(n)

	s.frameCount++
	s.earSum += n.EAR
	s.earCount++
	if s.snapshotEvery > 0 && s.frameCount%int64(s.snapshotEvery) == 0 {
		s.writer.AppendSnapshot(store.Snapshot{
			SessionID:   s.ID,
			At:          ts,
			EAR:         ear,
			MAR:         mar,
			SmoothedEAR: n.EAR,
			SmoothedMAR: n.MAR,
			Clamped:     n.Clamped,
		})
	}

	s.countEpisodes(score)
	return s.tick(score)
}

// ProcessNoFace reports one frame where no face was detected. Within the
// grace period this is a no-op (ordinary head turns are not incapacity);
// past it, a full-severity synthetic score drives escalation.
func (s *Session) ProcessNoFace(ts time.Time) (escalate.Stage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return s.machine.Stage(), store.ErrSessionSealed
	}

	if !s.noFaceActive {
		s.noFaceActive = true
		s.noFaceSince = ts
	}
	if ts.Sub(s.noFaceSince) < s.noFaceGrace {
		return s.machine.Stage(), nil
	}
	return s.tick(s.classifier.ScoreNoFace(ts))
}

// tick runs the machine, records transitions and fires the trigger
// handler. Caller holds s.mu.
func (s *Session) tick(score fusion.Score) (escalate.Stage, error) {
	stage, transitions, err := s.machine.Tick(score)
	if err != nil {
		return stage, err
	}
	for _, t := range transitions {
		monitoring.Logf("session %s: %s -> %s (%s) fatigue=%.2f yawn=%.2f conf=%.2f",
			s.ID, t.From, t.To, t.Cause, t.Fatigue, t.Yawn, t.Confidence)
		s.writer.AppendStageEvent(store.StageEvent{
			SessionID:  s.ID,
			FromStage:  t.From.String(),
			ToStage:    t.To.String(),
			Cause:      t.Cause.String(),
			At:         t.At,
			Fatigue:    t.Fatigue,
			Yawn:       t.Yawn,
			Confidence: t.Confidence,
		})
		if t.To == escalate.StageAutopilotTrigger && !s.fired {
			s.fired = true
			if s.onTrigger != nil {
				s.onTrigger(s.ID, t)
			}
		}
	}
	return stage, nil
}

// countEpisodes tallies discrete microsleep and yawn events: one count
// per episode, latched when the held duration first reaches saturation.
func (s *Session) countEpisodes(score fusion.Score) {
	if score.EyeClosedFor == 0 {
		s.eyeLatched = false
	} else if !s.eyeLatched && score.EyeClosedFor >= s.eyeSaturation {
		s.eyeLatched = true
		s.microsleeps++
	}
	if score.MouthOpenFor == 0 {
		s.mouthLatched = false
	} else if !s.mouthLatched && score.MouthOpenFor >= s.mouthSaturation {
		s.mouthLatched = true
		s.yawns++
	}
}

// Stage returns the current escalation stage.
func (s *Session) Stage() escalate.Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.Stage()
}

// Counters returns the running microsleep count, yawn count and mean
// smoothed EAR.
func (s *Session) Counters() (microsleeps, yawns int, meanEAR float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.earCount > 0 {
		meanEAR = s.earSum / float64(s.earCount)
	}
	return s.microsleeps, s.yawns, meanEAR
}

// Triggered reports whether the session has reached AUTOPILOT_TRIGGER.
func (s *Session) Triggered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fired
}

// seal stops the pipeline and marks the forensic log read-only. The
// writer is flushed first so every queued event lands before the seal.
func (s *Session) seal(ctx context.Context, st *store.Store, endedAt time.Time) error {
	s.mu.Lock()
	if s.sealed {
		s.mu.Unlock()
		return nil
	}
	s.sealed = true
	micro, yawns := s.microsleeps, s.yawns
	var mean float64
	if s.earCount > 0 {
		mean = s.earSum / float64(s.earCount)
	}
	s.mu.Unlock()

	s.writer.Close()
	return st.SealSession(ctx, s.ID, endedAt, micro, yawns, mean)
}
