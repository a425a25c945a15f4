package facelink

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	EventTypeFrame   = "frame"
	EventTypeStatus  = "status"
	EventTypeUnknown = "unknown"
)

// Frame is one decoded ratio frame from the camera pod. FaceDetected
// false means the landmark stage found no face; EAR and MAR are
// meaningless in that case.
type Frame struct {
	At           time.Time
	EAR          float64
	MAR          float64
	FaceDetected bool
}

// frameWire is the on-the-wire JSON shape.
type frameWire struct {
	TS   float64  `json:"ts"` // unix seconds
	EAR  *float64 `json:"ear,omitempty"`
	MAR  *float64 `json:"mar,omitempty"`
	Face *bool    `json:"face,omitempty"`
}

// ClassifyPayload inspects a payload line and returns a simple event
// type token. Classification is intentionally conservative.
func ClassifyPayload(payload string) string {
	if strings.Contains(payload, `"ear"`) || strings.Contains(payload, `"face"`) {
		return EventTypeFrame
	}
	if strings.Contains(payload, `"status"`) {
		return EventTypeStatus
	}
	return EventTypeUnknown
}

// ParseFrame decodes one frame line. Missing "face" defaults to true so
// plain {"ts","ear","mar"} lines parse as a detected face.
func ParseFrame(payload string) (Frame, error) {
	var w frameWire
	if err := json.Unmarshal([]byte(payload), &w); err != nil {
		return Frame{}, fmt.Errorf("malformed frame line: %w", err)
	}
	if w.TS == 0 {
		return Frame{}, fmt.Errorf("frame line missing ts: %q", payload)
	}

	f := Frame{
		At:           time.Unix(0, int64(w.TS*1e9)).UTC(),
		FaceDetected: true,
	}
	if w.Face != nil {
		f.FaceDetected = *w.Face
	}
	if f.FaceDetected {
		if w.EAR == nil || w.MAR == nil {
			return Frame{}, fmt.Errorf("frame line missing ear/mar: %q", payload)
		}
		f.EAR = *w.EAR
		f.MAR = *w.MAR
	}
	return f, nil
}
