// Package grade scores sealed sessions from their forensic logs. The
// grade is a pure function of the stage-event history, so re-grading a
// session always yields the same result.
package grade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/astromind-data/vigil.report/internal/config"
	"github.com/astromind-data/vigil.report/internal/escalate"
	"github.com/astromind-data/vigil.report/internal/store"
)

// ErrSessionNotSealed is returned when grading is requested for a
// session whose log is still open. Only sealed logs are graded.
var ErrSessionNotSealed = errors.New("session log not sealed")

// Grade is the session vigilance grade.
type Grade string

const (
	// GradeS: spotless. No escalation activity at all.
	GradeS Grade = "S"
	// GradeA: acceptable. Escalations occurred but every episode
	// recovered, and mean recovery stayed within the configured bound.
	GradeA Grade = "A"
	// GradeF: failed. The autopilot trigger fired, an episode never
	// recovered, or recovery was too slow.
	GradeF Grade = "F"
)

// Summary is the grading result for one session.
type Summary struct {
	SessionID string        `json:"session_id"`
	Grade     Grade         `json:"grade"`
	Duration  time.Duration `json:"duration"`

	WarningCount int `json:"warning_count"`
	AlarmCount   int `json:"alarm_count"`
	TriggerCount int `json:"trigger_count"`

	TotalWarningTime time.Duration `json:"total_warning_time"` // time at WARNING or above
	TotalAlarmTime   time.Duration `json:"total_alarm_time"`   // time at ALARM or above

	// Episode recovery: an episode opens on NOMINAL -> WARNING and
	// closes on the return to NOMINAL.
	RecoveredEpisodes   int           `json:"recovered_episodes"`
	UnrecoveredEpisodes int           `json:"unrecovered_episodes"`
	MeanRecovery        time.Duration `json:"mean_recovery"`
	MaxRecovery         time.Duration `json:"max_recovery"`

	MicrosleepCount int     `json:"microsleep_count"`
	YawnCount       int     `json:"yawn_count"`
	MeanEAR         float64 `json:"mean_ear"`
}

// Bounds holds the grading policy.
type Bounds struct {
	// MaxRecoveryForA is the mean-recovery bound separating A from F
	// for sessions with activity.
	MaxRecoveryForA time.Duration
}

// BoundsFromTuning builds grading Bounds from the tuning config.
func BoundsFromTuning(cfg *config.TuningConfig) Bounds {
	return Bounds{MaxRecoveryForA: cfg.GetMaxRecoveryForA()}
}

// Compute grades a finished session from its ordered stage events.
// start and end bound the session; events outside them are not expected.
func Compute(sessionID string, events []store.StageEvent, start, end time.Time, bounds Bounds) (Summary, error) {
	sum := Summary{
		SessionID: sessionID,
		Duration:  end.Sub(start),
	}

	stage := escalate.StageNominal
	stageSince := start
	var episodeStart time.Time
	inEpisode := false
	var recoveries []float64

	accumulate := func(until time.Time) {
		d := until.Sub(stageSince)
		if stage >= escalate.StageWarning {
			sum.TotalWarningTime += d
		}
		if stage >= escalate.StageAlarm {
			sum.TotalAlarmTime += d
		}
	}

	for _, e := range events {
		to, err := escalate.ParseStage(e.ToStage)
		if err != nil {
			return Summary{}, fmt.Errorf("malformed event %d: %w", e.ID, err)
		}
		from, err := escalate.ParseStage(e.FromStage)
		if err != nil {
			return Summary{}, fmt.Errorf("malformed event %d: %w", e.ID, err)
		}
		if from != stage {
			return Summary{}, fmt.Errorf("event %d breaks the stage chain: from %s while at %s", e.ID, from, stage)
		}

		accumulate(e.At)

		switch to {
		case escalate.StageWarning:
			if stage == escalate.StageNominal {
				sum.WarningCount++
				inEpisode = true
				episodeStart = e.At
			}
		case escalate.StageAlarm:
			sum.AlarmCount++
		case escalate.StageAutopilotTrigger:
			sum.TriggerCount++
		case escalate.StageNominal:
			if inEpisode {
				recoveries = append(recoveries, e.At.Sub(episodeStart).Seconds())
				sum.RecoveredEpisodes++
				inEpisode = false
			}
		}

		stage = to
		stageSince = e.At
	}
	accumulate(end)

	if inEpisode {
		sum.UnrecoveredEpisodes++
	}

	if len(recoveries) > 0 {
		sum.MeanRecovery = time.Duration(stat.Mean(recoveries, nil) * float64(time.Second))
		var max float64
		for _, r := range recoveries {
			if r > max {
				max = r
			}
		}
		sum.MaxRecovery = time.Duration(max * float64(time.Second))
	}

	switch {
	case sum.TriggerCount > 0:
		sum.Grade = GradeF
	case sum.WarningCount == 0 && sum.AlarmCount == 0:
		sum.Grade = GradeS
	case sum.UnrecoveredEpisodes > 0:
		sum.Grade = GradeF
	case sum.MeanRecovery > bounds.MaxRecoveryForA:
		sum.Grade = GradeF
	default:
		sum.Grade = GradeA
	}

	return sum, nil
}

// Grader grades sealed sessions out of the forensic store.
type Grader struct {
	store  *store.Store
	bounds Bounds
}

// NewGrader creates a Grader with the given policy.
func NewGrader(st *store.Store, bounds Bounds) *Grader {
	return &Grader{store: st, bounds: bounds}
}

// GradeSession grades one sealed session. Open sessions fail with
// ErrSessionNotSealed.
func (g *Grader) GradeSession(ctx context.Context, sessionID string) (Summary, error) {
	sess, err := g.store.GetSession(ctx, sessionID)
	if err != nil {
		return Summary{}, err
	}
	if !sess.Sealed {
		return Summary{}, fmt.Errorf("%w: %s", ErrSessionNotSealed, sessionID)
	}

	events, err := g.store.StageEvents(ctx, sessionID)
	if err != nil {
		return Summary{}, err
	}

	sum, err := Compute(sessionID, events, sess.StartedAt, sess.EndedAt, g.bounds)
	if err != nil {
		return Summary{}, err
	}
	sum.MicrosleepCount = sess.MicrosleepCount
	sum.YawnCount = sess.YawnCount
	sum.MeanEAR = sess.MeanEAR
	return sum, nil
}
