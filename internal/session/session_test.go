package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/astromind-data/vigil.report/internal/config"
	"github.com/astromind-data/vigil.report/internal/escalate"
	"github.com/astromind-data/vigil.report/internal/store"
	"github.com/astromind-data/vigil.report/internal/testutil"
	"github.com/astromind-data/vigil.report/internal/timeutil"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

// testTuning is sized for 1 Hz test feeds: no smoothing, 1s eye
// saturation, full weights, short dwells.
func testTuning() *config.TuningConfig {
	return &config.TuningConfig{
		SmoothingWindow:    ptr(1),
		MARClampMax:        ptr(3.0),
		EARClosedThreshold: ptr(0.20),
		MARYawnThreshold:   ptr(0.40),
		EyeSaturation:      ptr("1s"),
		MouthSaturation:    ptr("2s"),
		FusionWeightEAR:    ptr(1.0),
		FusionWeightMAR:    ptr(1.0),
		WarningThreshold:   ptr(0.35),
		AlarmThreshold:     ptr(0.60),
		CriticalThreshold:  ptr(0.85),
		WarningDwell:       ptr("2s"),
		AlarmDwell:         ptr("1s"),
		TriggerDwell:       ptr("1s"),
		RecoveryWindow:     ptr("3s"),
		MaxWarningDuration: ptr("30s"),
		MaxAlarmDuration:   ptr("15s"),
		MinConfidence:      ptr(0.5),
		NoFaceGracePeriod:  ptr("2s"),
		SnapshotEvery:      ptr(2),
		WriteBuffer:        ptr(64),
	}
}

func newTestManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	st := testutil.OpenTestStore(t)
	clock := timeutil.NewMockClock(t0)
	return NewManager(testTuning(), st, clock), st
}

// at returns the timestamp sec seconds into the session.
func at(sec float64) time.Time {
	return t0.Add(time.Duration(sec * float64(time.Second)))
}

func TestWarningThenRecovery(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	s, err := m.Start(ctx)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Eyes fully closed: fatigue saturates after 1s, warning dwell at 2s.
	for sec := 0; sec <= 3; sec++ {
		if _, err := s.ProcessFrame(at(float64(sec)), 0.0, 0.1); err != nil {
			t.Fatalf("ProcessFrame t=%d: %v", sec, err)
		}
	}
	if s.Stage() != escalate.StageWarning {
		t.Fatalf("stage = %v, want warning", s.Stage())
	}

	// Eyes open again: recovery window (3s) elapses at t=7.
	for sec := 4; sec <= 7; sec++ {
		if _, err := s.ProcessFrame(at(float64(sec)), 0.3, 0.1); err != nil {
			t.Fatalf("ProcessFrame t=%d: %v", sec, err)
		}
	}
	if s.Stage() != escalate.StageNominal {
		t.Fatalf("stage = %v, want nominal after recovery", s.Stage())
	}

	micro, yawns, _ := s.Counters()
	if micro != 1 {
		t.Errorf("microsleeps = %d, want 1", micro)
	}
	if yawns != 0 {
		t.Errorf("yawns = %d, want 0", yawns)
	}

	if err := m.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	events, err := st.StageEvents(ctx, s.ID)
	if err != nil {
		t.Fatalf("StageEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(events), events)
	}
	if events[0].ToStage != "warning" || events[0].Cause != "eye_closure" {
		t.Errorf("event 0 = %s/%s", events[0].ToStage, events[0].Cause)
	}
	if events[1].ToStage != "nominal" || events[1].Cause != "recovery" {
		t.Errorf("event 1 = %s/%s", events[1].ToStage, events[1].Cause)
	}

	sess, err := st.GetSession(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if !sess.Sealed || sess.MicrosleepCount != 1 {
		t.Errorf("sealed session = %+v", sess)
	}
}

func TestSustainedClosureReachesTrigger(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	var fired []string
	m.SetTriggerHandler(func(id string, tr escalate.Transition) {
		fired = append(fired, id)
		if tr.To != escalate.StageAutopilotTrigger {
			t.Errorf("handler got transition to %v", tr.To)
		}
	})

	s, err := m.Start(ctx)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Fatigue hits 1.0 at t=1 and stays: warning t=3, alarm t=4,
	// trigger t=5.
	for sec := 0; sec <= 8; sec++ {
		if _, err := s.ProcessFrame(at(float64(sec)), 0.0, 0.1); err != nil {
			t.Fatalf("ProcessFrame t=%d: %v", sec, err)
		}
	}

	if s.Stage() != escalate.StageAutopilotTrigger {
		t.Fatalf("stage = %v, want autopilot_trigger", s.Stage())
	}
	if len(fired) != 1 || fired[0] != s.ID {
		t.Errorf("trigger handler fired %v times, want once for %s", fired, s.ID)
	}
	if !s.Triggered() {
		t.Error("Triggered() = false after trigger")
	}

	if err := m.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	events, err := st.StageEvents(ctx, s.ID)
	if err != nil {
		t.Fatalf("StageEvents failed: %v", err)
	}
	want := []string{"warning", "alarm", "autopilot_trigger"}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(events), len(want), events)
	}
	for i, w := range want {
		if events[i].ToStage != w {
			t.Errorf("event %d to %s, want %s", i, events[i].ToStage, w)
		}
	}
}

func TestNoFaceEscalatesAfterGrace(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	s, err := m.Start(ctx)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Grace is 2s: t=0 starts the episode, t=1 is ignored, t=2 is the
	// first synthetic tick. Warning dwell completes at t=4, alarm at
	// t=5, trigger at t=6.
	for sec := 0; sec <= 6; sec++ {
		if _, err := s.ProcessNoFace(at(float64(sec))); err != nil {
			t.Fatalf("ProcessNoFace t=%d: %v", sec, err)
		}
	}
	if s.Stage() != escalate.StageAutopilotTrigger {
		t.Fatalf("stage = %v, want autopilot_trigger", s.Stage())
	}

	if err := m.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	events, err := st.StageEvents(ctx, s.ID)
	if err != nil {
		t.Fatalf("StageEvents failed: %v", err)
	}
	for _, e := range events {
		if e.Cause != "no_face" {
			t.Errorf("event to %s cause %s, want no_face", e.ToStage, e.Cause)
		}
	}
}

func TestNoFaceWithinGraceIsIgnored(t *testing.T) {
	m, _ := newTestManager(t)
	s, err := m.Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Two brief glances away, each shorter than the 2s grace.
	s.ProcessFrame(at(0), 0.3, 0.1)
	s.ProcessNoFace(at(1))
	s.ProcessFrame(at(2), 0.3, 0.1) // face back: episode resets
	s.ProcessNoFace(at(3))
	s.ProcessFrame(at(4), 0.3, 0.1)

	if s.Stage() != escalate.StageNominal {
		t.Errorf("stage = %v, want nominal", s.Stage())
	}
}

func TestOutOfOrderFrameDropped(t *testing.T) {
	m, _ := newTestManager(t)
	s, err := m.Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	s.ProcessFrame(at(1), 0.3, 0.1)
	if _, err := s.ProcessFrame(at(0.5), 0.3, 0.1); !errors.Is(err, escalate.ErrOutOfOrder) {
		t.Errorf("err = %v, want ErrOutOfOrder", err)
	}
	// Pipeline still accepts in-order samples afterwards.
	if _, err := s.ProcessFrame(at(2), 0.3, 0.1); err != nil {
		t.Errorf("in-order frame after drop failed: %v", err)
	}
}

func TestSnapshotCadence(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()
	s, err := m.Start(ctx)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// snapshot_every = 2: 8 frames produce 4 snapshots.
	for sec := 0; sec < 8; sec++ {
		if _, err := s.ProcessFrame(at(float64(sec)), 0.3, 0.1); err != nil {
			t.Fatalf("ProcessFrame t=%d: %v", sec, err)
		}
	}
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	snaps, err := st.Snapshots(ctx, s.ID)
	if err != nil {
		t.Fatalf("Snapshots failed: %v", err)
	}
	if len(snaps) != 4 {
		t.Errorf("got %d snapshots, want 4", len(snaps))
	}
}

func TestYawnCounting(t *testing.T) {
	m, _ := newTestManager(t)
	s, err := m.Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Mouth open past the 2s saturation: one yawn event, not one per
	// frame.
	for sec := 0; sec <= 4; sec++ {
		s.ProcessFrame(at(float64(sec)), 0.3, 0.9)
	}
	// Mouth closes, then a second yawn.
	s.ProcessFrame(at(5), 0.3, 0.1)
	for sec := 6; sec <= 9; sec++ {
		s.ProcessFrame(at(float64(sec)), 0.3, 0.9)
	}

	_, yawns, _ := s.Counters()
	if yawns != 2 {
		t.Errorf("yawns = %d, want 2", yawns)
	}
}

func TestStartSealsPreviousSession(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	first, err := m.Start(ctx)
	if err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	first.ProcessFrame(at(0), 0.3, 0.1)

	second, err := m.Start(ctx)
	if err != nil {
		t.Fatalf("second Start failed: %v", err)
	}
	if second.ID == first.ID {
		t.Fatal("second session reused the first session ID")
	}

	prev, err := st.GetSession(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if !prev.Sealed {
		t.Error("previous session not sealed by new Start")
	}

	active, err := m.Active()
	if err != nil || active.ID != second.ID {
		t.Errorf("Active() = %v, %v; want second session", active, err)
	}
}

func TestStopWithoutSession(t *testing.T) {
	m, _ := newTestManager(t)
	if err := m.Stop(context.Background()); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("err = %v, want ErrNoActiveSession", err)
	}
}

func TestProcessAfterStopRejected(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.Start(ctx)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// Feeding a sealed session is rejected.
	if _, err := s.ProcessFrame(at(0), 0.3, 0.1); !errors.Is(err, store.ErrSessionSealed) {
		t.Errorf("err = %v, want ErrSessionSealed", err)
	}
}
