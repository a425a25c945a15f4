package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for tuning parameters.
// All thresholds, dwell windows and fusion weights are externally
// supplied; the core never hardcodes a detection policy. Fields omitted
// from the JSON file fall back to the Get* defaults, so partial configs
// are safe.
type TuningConfig struct {
	// Normaliser params
	SmoothingWindow *int     `json:"smoothing_window,omitempty"` // rolling window size in samples
	MARClampMax     *float64 `json:"mar_clamp_max,omitempty"`    // upper clamp bound for MAR

	// Classifier params
	EARClosedThreshold *float64 `json:"ear_closed_threshold,omitempty"` // smoothed EAR below this counts as closure
	MARYawnThreshold   *float64 `json:"mar_yawn_threshold,omitempty"`   // smoothed MAR above this counts as a yawn
	EyeSaturation      *string  `json:"eye_saturation,omitempty"`       // duration string like "1500ms"
	MouthSaturation    *string  `json:"mouth_saturation,omitempty"`     // duration string like "3s"
	FusionWeightEAR    *float64 `json:"fusion_weight_ear,omitempty"`
	FusionWeightMAR    *float64 `json:"fusion_weight_mar,omitempty"`

	// Escalation params
	WarningThreshold   *float64 `json:"warning_threshold,omitempty"`
	AlarmThreshold     *float64 `json:"alarm_threshold,omitempty"`
	CriticalThreshold  *float64 `json:"critical_threshold,omitempty"`
	WarningDwell       *string  `json:"warning_dwell,omitempty"`
	AlarmDwell         *string  `json:"alarm_dwell,omitempty"`
	TriggerDwell       *string  `json:"trigger_dwell,omitempty"`
	RecoveryWindow     *string  `json:"recovery_window,omitempty"`
	MaxWarningDuration *string  `json:"max_warning_duration,omitempty"`
	MaxAlarmDuration   *string  `json:"max_alarm_duration,omitempty"`
	MinConfidence      *float64 `json:"min_confidence,omitempty"`
	NoFaceGracePeriod  *string  `json:"no_face_grace_period,omitempty"`

	// Recorder params
	SnapshotEvery *int `json:"snapshot_every,omitempty"` // persist every Nth ratio sample
	WriteBuffer   *int `json:"write_buffer,omitempty"`   // forensic write queue depth

	// Grading params
	MaxRecoveryForA *string `json:"max_recovery_for_a,omitempty"` // mean recovery bound for grade A
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under
// the max file size.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from
// DefaultConfigPath. It searches for the file in the current directory
// and common parent directories. Panics if the file cannot be loaded,
// intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from deeper packages
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	for name, v := range map[string]*float64{
		"warning_threshold":  c.WarningThreshold,
		"alarm_threshold":    c.AlarmThreshold,
		"critical_threshold": c.CriticalThreshold,
		"min_confidence":     c.MinConfidence,
	} {
		if v != nil && (*v < 0 || *v > 1) {
			return fmt.Errorf("%s must be between 0 and 1, got %f", name, *v)
		}
	}

	// Threshold ordering is what makes the escalation ladder meaningful.
	w, a, cr := c.GetWarningThreshold(), c.GetAlarmThreshold(), c.GetCriticalThreshold()
	if !(w < a && a < cr) {
		return fmt.Errorf("thresholds must satisfy warning < alarm < critical, got %f/%f/%f", w, a, cr)
	}

	for name, v := range map[string]*string{
		"eye_saturation":       c.EyeSaturation,
		"mouth_saturation":     c.MouthSaturation,
		"warning_dwell":        c.WarningDwell,
		"alarm_dwell":          c.AlarmDwell,
		"trigger_dwell":        c.TriggerDwell,
		"recovery_window":      c.RecoveryWindow,
		"max_warning_duration": c.MaxWarningDuration,
		"max_alarm_duration":   c.MaxAlarmDuration,
		"no_face_grace_period": c.NoFaceGracePeriod,
		"max_recovery_for_a":   c.MaxRecoveryForA,
	} {
		if v != nil && *v != "" {
			if _, err := time.ParseDuration(*v); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
			}
		}
	}

	if c.SmoothingWindow != nil && *c.SmoothingWindow < 1 {
		return fmt.Errorf("smoothing_window must be at least 1, got %d", *c.SmoothingWindow)
	}
	if c.SnapshotEvery != nil && *c.SnapshotEvery < 1 {
		return fmt.Errorf("snapshot_every must be at least 1, got %d", *c.SnapshotEvery)
	}
	if c.WriteBuffer != nil && *c.WriteBuffer < 1 {
		return fmt.Errorf("write_buffer must be at least 1, got %d", *c.WriteBuffer)
	}
	if c.FusionWeightEAR != nil && *c.FusionWeightEAR < 0 {
		return fmt.Errorf("fusion_weight_ear must be non-negative, got %f", *c.FusionWeightEAR)
	}
	if c.FusionWeightMAR != nil && *c.FusionWeightMAR < 0 {
		return fmt.Errorf("fusion_weight_mar must be non-negative, got %f", *c.FusionWeightMAR)
	}

	return nil
}

func (c *TuningConfig) duration(v *string, fallback time.Duration) time.Duration {
	if v == nil || *v == "" {
		return fallback
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fallback
	}
	return d
}

// GetSmoothingWindow returns the smoothing_window value or the default.
func (c *TuningConfig) GetSmoothingWindow() int {
	if c.SmoothingWindow == nil {
		return 5
	}
	return *c.SmoothingWindow
}

// GetMARClampMax returns the mar_clamp_max value or the default.
func (c *TuningConfig) GetMARClampMax() float64 {
	if c.MARClampMax == nil {
		return 3.0
	}
	return *c.MARClampMax
}

// GetEARClosedThreshold returns the ear_closed_threshold value or the default.
func (c *TuningConfig) GetEARClosedThreshold() float64 {
	if c.EARClosedThreshold == nil {
		return 0.20
	}
	return *c.EARClosedThreshold
}

// GetMARYawnThreshold returns the mar_yawn_threshold value or the default.
func (c *TuningConfig) GetMARYawnThreshold() float64 {
	if c.MARYawnThreshold == nil {
		return 0.40
	}
	return *c.MARYawnThreshold
}

// GetEyeSaturation returns the eye_saturation duration or the default.
func (c *TuningConfig) GetEyeSaturation() time.Duration {
	return c.duration(c.EyeSaturation, 1500*time.Millisecond)
}

// GetMouthSaturation returns the mouth_saturation duration or the default.
func (c *TuningConfig) GetMouthSaturation() time.Duration {
	return c.duration(c.MouthSaturation, 3*time.Second)
}

// GetFusionWeightEAR returns the fusion_weight_ear value or the default.
func (c *TuningConfig) GetFusionWeightEAR() float64 {
	if c.FusionWeightEAR == nil {
		return 0.7
	}
	return *c.FusionWeightEAR
}

// GetFusionWeightMAR returns the fusion_weight_mar value or the default.
func (c *TuningConfig) GetFusionWeightMAR() float64 {
	if c.FusionWeightMAR == nil {
		return 0.3
	}
	return *c.FusionWeightMAR
}

// GetWarningThreshold returns the warning_threshold value or the default.
func (c *TuningConfig) GetWarningThreshold() float64 {
	if c.WarningThreshold == nil {
		return 0.35
	}
	return *c.WarningThreshold
}

// GetAlarmThreshold returns the alarm_threshold value or the default.
func (c *TuningConfig) GetAlarmThreshold() float64 {
	if c.AlarmThreshold == nil {
		return 0.60
	}
	return *c.AlarmThreshold
}

// GetCriticalThreshold returns the critical_threshold value or the default.
func (c *TuningConfig) GetCriticalThreshold() float64 {
	if c.CriticalThreshold == nil {
		return 0.85
	}
	return *c.CriticalThreshold
}

// GetWarningDwell returns the warning_dwell duration or the default.
func (c *TuningConfig) GetWarningDwell() time.Duration {
	return c.duration(c.WarningDwell, 2*time.Second)
}

// GetAlarmDwell returns the alarm_dwell duration or the default.
func (c *TuningConfig) GetAlarmDwell() time.Duration {
	return c.duration(c.AlarmDwell, 1*time.Second)
}

// GetTriggerDwell returns the trigger_dwell duration or the default.
func (c *TuningConfig) GetTriggerDwell() time.Duration {
	return c.duration(c.TriggerDwell, 1500*time.Millisecond)
}

// GetRecoveryWindow returns the recovery_window duration or the default.
func (c *TuningConfig) GetRecoveryWindow() time.Duration {
	return c.duration(c.RecoveryWindow, 5*time.Second)
}

// GetMaxWarningDuration returns the max_warning_duration or the default.
func (c *TuningConfig) GetMaxWarningDuration() time.Duration {
	return c.duration(c.MaxWarningDuration, 30*time.Second)
}

// GetMaxAlarmDuration returns the max_alarm_duration or the default.
func (c *TuningConfig) GetMaxAlarmDuration() time.Duration {
	return c.duration(c.MaxAlarmDuration, 15*time.Second)
}

// GetMinConfidence returns the min_confidence value or the default.
func (c *TuningConfig) GetMinConfidence() float64 {
	if c.MinConfidence == nil {
		return 0.8
	}
	return *c.MinConfidence
}

// GetNoFaceGracePeriod returns the no_face_grace_period or the default.
func (c *TuningConfig) GetNoFaceGracePeriod() time.Duration {
	return c.duration(c.NoFaceGracePeriod, 2*time.Second)
}

// GetSnapshotEvery returns the snapshot_every value or the default.
func (c *TuningConfig) GetSnapshotEvery() int {
	if c.SnapshotEvery == nil {
		return 10
	}
	return *c.SnapshotEvery
}

// GetWriteBuffer returns the write_buffer value or the default.
func (c *TuningConfig) GetWriteBuffer() int {
	if c.WriteBuffer == nil {
		return 256
	}
	return *c.WriteBuffer
}

// GetMaxRecoveryForA returns the max_recovery_for_a or the default.
func (c *TuningConfig) GetMaxRecoveryForA() time.Duration {
	return c.duration(c.MaxRecoveryForA, 10*time.Second)
}
