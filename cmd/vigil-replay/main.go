// Command vigil-replay feeds a recorded frame capture through the
// detection pipeline at full speed, seals the resulting session and
// prints its grade. Useful for tuning thresholds against real captures.
package main

import (
	"bufio"
	"context"
	"flag"
	"log"
	"os"

	"github.com/astromind-data/vigil.report/internal/config"
	"github.com/astromind-data/vigil.report/internal/escalate"
	"github.com/astromind-data/vigil.report/internal/facelink"
	"github.com/astromind-data/vigil.report/internal/monitoring"
	"github.com/astromind-data/vigil.report/internal/report"
	"github.com/astromind-data/vigil.report/internal/session"
	"github.com/astromind-data/vigil.report/internal/store"
	"github.com/astromind-data/vigil.report/internal/timeutil"
)

var (
	dbFile        = flag.String("db", "vigil.db", "Forensic database file")
	configPath    = flag.String("config", "", "Tuning config JSON (defaults apply when omitted)")
	migrationsDir = flag.String("migrations", "migrations", "Schema migrations directory")
	capturePath   = flag.String("in", "", "Frame capture file (JSON lines, as streamed by the camera pod)")
)

func main() {
	flag.Parse()

	if *capturePath == "" {
		log.Fatal("capture file is required (-in)")
	}

	cfg := config.EmptyTuningConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load tuning config: %v", err)
		}
	}

	st, err := store.NewStore(*dbFile)
	if err != nil {
		log.Fatalf("failed to open forensic database: %v", err)
	}
	defer st.Close()
	if err := st.MigrateUp(*migrationsDir); err != nil {
		log.Fatalf("failed to migrate forensic database: %v", err)
	}

	f, err := os.Open(*capturePath)
	if err != nil {
		log.Fatalf("failed to open capture: %v", err)
	}
	defer f.Close()

	ctx := context.Background()
	manager := session.NewManager(cfg, st, timeutil.RealClock{})
	manager.SetTriggerHandler(func(sessionID string, t escalate.Transition) {
		monitoring.Logf("AUTOPILOT TRIGGER during replay: cause=%s fatigue=%.2f", t.Cause, t.Fatigue)
	})

	active, err := manager.Start(ctx)
	if err != nil {
		log.Fatalf("failed to start replay session: %v", err)
	}

	var frames, dropped int
	scan := bufio.NewScanner(f)
	for scan.Scan() {
		payload := scan.Text()
		if facelink.ClassifyPayload(payload) != facelink.EventTypeFrame {
			continue
		}
		frame, err := facelink.ParseFrame(payload)
		if err != nil {
			monitoring.Logf("skipping malformed frame: %v", err)
			dropped++
			continue
		}
		frames++
		if frame.FaceDetected {
			_, err = active.ProcessFrame(frame.At, frame.EAR, frame.MAR)
		} else {
			_, err = active.ProcessNoFace(frame.At)
		}
		if err != nil {
			monitoring.Logf("frame rejected: %v", err)
			dropped++
		}
	}
	if err := scan.Err(); err != nil {
		log.Fatalf("failed to read capture: %v", err)
	}

	if err := manager.Stop(ctx); err != nil {
		log.Fatalf("failed to seal replay session: %v", err)
	}
	monitoring.Logf("replayed %d frames (%d dropped) into session %s", frames, dropped, active.ID)

	doc, err := report.NewBuilder(st, cfg).Build(ctx, active.ID)
	if err != nil {
		log.Fatalf("failed to build report: %v", err)
	}
	if err := doc.WriteText(os.Stdout); err != nil {
		log.Fatalf("failed to write report: %v", err)
	}
}
