// Package report renders sealed-session forensic logs for humans: a
// JSON document, a flight-recorder style text transcript and a PNG
// chart of the ratio trace.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/astromind-data/vigil.report/internal/config"
	"github.com/astromind-data/vigil.report/internal/grade"
	"github.com/astromind-data/vigil.report/internal/store"
)

// Document is the full report for one sealed session.
type Document struct {
	GeneratedAt time.Time          `json:"generated_at"`
	Session     store.Session      `json:"session"`
	Summary     grade.Summary      `json:"summary"`
	Events      []store.StageEvent `json:"events"`
}

// Builder assembles reports out of the forensic store.
type Builder struct {
	store  *store.Store
	grader *grade.Grader
	cfg    *config.TuningConfig
}

// NewBuilder creates a report Builder.
func NewBuilder(st *store.Store, cfg *config.TuningConfig) *Builder {
	return &Builder{
		store:  st,
		grader: grade.NewGrader(st, grade.BoundsFromTuning(cfg)),
		cfg:    cfg,
	}
}

// Build assembles the report document for one sealed session.
func (b *Builder) Build(ctx context.Context, sessionID string) (*Document, error) {
	sess, err := b.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	summary, err := b.grader.GradeSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	events, err := b.store.StageEvents(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &Document{
		GeneratedAt: time.Now().UTC(),
		Session:     *sess,
		Summary:     summary,
		Events:      events,
	}, nil
}

// SaveFiles writes the text transcript and the JSON document into dir.
// File names carry the session end timestamp so repeated exports of
// different sessions never collide.
func (d *Document) SaveFiles(dir string) (txtPath, jsonPath string, err error) {
	stamp := d.Session.EndedAt.UTC().Format("20060102-150405")
	base := fmt.Sprintf("vigil-session-%s", stamp)

	txtPath = filepath.Join(dir, base+".txt")
	f, err := os.Create(txtPath)
	if err != nil {
		return "", "", err
	}
	if err := d.WriteText(f); err != nil {
		f.Close()
		return "", "", err
	}
	if err := f.Close(); err != nil {
		return "", "", err
	}

	jsonPath = filepath.Join(dir, base+".json")
	jf, err := os.Create(jsonPath)
	if err != nil {
		return "", "", err
	}
	enc := json.NewEncoder(jf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(d); err != nil {
		jf.Close()
		return "", "", err
	}
	return txtPath, jsonPath, jf.Close()
}

// WriteText renders the document as a flight-recorder style transcript.
func (d *Document) WriteText(w io.Writer) error {
	p := func(format string, args ...interface{}) {
		fmt.Fprintf(w, format+"\n", args...)
	}

	p("VIGILANCE SESSION REPORT")
	p("========================")
	p("Session:       %s", d.Session.ID)
	p("Started:       %s", d.Session.StartedAt.Format(time.RFC3339))
	p("Ended:         %s", d.Session.EndedAt.Format(time.RFC3339))
	p("Duration:      %s", d.Summary.Duration.Round(time.Second))
	p("Grade:         %s", d.Summary.Grade)
	p("")
	p("Microsleeps:   %d", d.Summary.MicrosleepCount)
	p("Yawns:         %d", d.Summary.YawnCount)
	p("Mean EAR:      %.3f", d.Summary.MeanEAR)
	p("Warning time:  %s", d.Summary.TotalWarningTime.Round(time.Millisecond))
	p("Alarm time:    %s", d.Summary.TotalAlarmTime.Round(time.Millisecond))
	if d.Summary.RecoveredEpisodes > 0 {
		p("Mean recovery: %s over %d episode(s)",
			d.Summary.MeanRecovery.Round(time.Millisecond), d.Summary.RecoveredEpisodes)
	}
	if d.Summary.UnrecoveredEpisodes > 0 {
		p("Unrecovered:   %d episode(s)", d.Summary.UnrecoveredEpisodes)
	}
	if d.Summary.TriggerCount > 0 {
		p("AUTOPILOT TRIGGER FIRED")
	}
	p("")

	if len(d.Events) == 0 {
		p("No escalation events recorded.")
		return nil
	}
	p("Timeline:")
	for _, e := range d.Events {
		offset := e.At.Sub(d.Session.StartedAt).Round(100 * time.Millisecond)
		p("  %8s  %-8s -> %-17s %-12s fatigue=%.2f yawn=%.2f conf=%.2f",
			offset, e.FromStage, e.ToStage, e.Cause, e.Fatigue, e.Yawn, e.Confidence)
	}
	return nil
}
