package escalate

import "fmt"

// Stage represents the alert escalation stage of a session.
type Stage int

const (
	StageNominal          Stage = iota // operator attentive
	StageWarning                       // sustained fatigue signal above warning threshold
	StageAlarm                         // sustained signal above alarm threshold
	StageAutopilotTrigger              // terminal: control handed to autopilot
)

// String returns the stable wire/storage name of the stage.
func (s Stage) String() string {
	switch s {
	case StageNominal:
		return "nominal"
	case StageWarning:
		return "warning"
	case StageAlarm:
		return "alarm"
	case StageAutopilotTrigger:
		return "autopilot_trigger"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// ParseStage converts a stored stage name back to a Stage.
func ParseStage(name string) (Stage, error) {
	switch name {
	case "nominal":
		return StageNominal, nil
	case "warning":
		return StageWarning, nil
	case "alarm":
		return StageAlarm, nil
	case "autopilot_trigger":
		return StageAutopilotTrigger, nil
	}
	return StageNominal, fmt.Errorf("unknown stage %q", name)
}

// Cause identifies the signal that drove a stage transition.
type Cause int

const (
	CauseNone Cause = iota
	CauseEyeClosure
	CauseYawn
	CauseNoFace
	CauseFailSafe // dwell exhaustion without recovery or acknowledgment
	CauseRecovery
)

// String returns the stable wire/storage name of the cause.
func (c Cause) String() string {
	switch c {
	case CauseNone:
		return "none"
	case CauseEyeClosure:
		return "eye_closure"
	case CauseYawn:
		return "yawn"
	case CauseNoFace:
		return "no_face"
	case CauseFailSafe:
		return "fail_safe"
	case CauseRecovery:
		return "recovery"
	}
	return fmt.Sprintf("cause(%d)", int(c))
}

// ParseCause converts a stored cause name back to a Cause.
func ParseCause(name string) (Cause, error) {
	switch name {
	case "none":
		return CauseNone, nil
	case "eye_closure":
		return CauseEyeClosure, nil
	case "yawn":
		return CauseYawn, nil
	case "no_face":
		return CauseNoFace, nil
	case "fail_safe":
		return CauseFailSafe, nil
	case "recovery":
		return CauseRecovery, nil
	}
	return CauseNone, fmt.Errorf("unknown cause %q", name)
}
