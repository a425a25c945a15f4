// Command vigil is the vigilance monitoring daemon: it reads ratio
// frames from the camera pod, runs the detection pipeline and serves
// the session API.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/astromind-data/vigil.report/internal/api"
	"github.com/astromind-data/vigil.report/internal/config"
	"github.com/astromind-data/vigil.report/internal/escalate"
	"github.com/astromind-data/vigil.report/internal/facelink"
	"github.com/astromind-data/vigil.report/internal/monitoring"
	"github.com/astromind-data/vigil.report/internal/session"
	"github.com/astromind-data/vigil.report/internal/store"
	"github.com/astromind-data/vigil.report/internal/timeutil"
	"github.com/astromind-data/vigil.report/internal/version"
)

var (
	devMode       = flag.Bool("dev", false, "Run in dev mode with a mock camera pod replaying fixtures.txt")
	disableLink   = flag.Bool("disable-link", false, "Run without a camera pod (API and admin surface only)")
	listen        = flag.String("listen", ":8080", "Listen address")
	port          = flag.String("port", "/dev/ttyUSB0", "Serial port for the camera pod (ignored in dev mode)")
	dbFile        = flag.String("db", "vigil.db", "Forensic database file")
	configPath    = flag.String("config", "", "Tuning config JSON (defaults apply when omitted)")
	migrationsDir = flag.String("migrations", "migrations", "Schema migrations directory")
	autoStart     = flag.Bool("autostart", true, "Start a monitoring session at boot")
)

// handleLine routes one payload line from the camera pod into the
// active session's pipeline.
func handleLine(manager *session.Manager, payload string) error {
	switch facelink.ClassifyPayload(payload) {
	case facelink.EventTypeFrame:
		frame, err := facelink.ParseFrame(payload)
		if err != nil {
			return err
		}
		active, err := manager.Active()
		if err != nil {
			// No session running; frames are discarded by design.
			return nil
		}
		if frame.FaceDetected {
			_, err = active.ProcessFrame(frame.At, frame.EAR, frame.MAR)
		} else {
			_, err = active.ProcessNoFace(frame.At)
		}
		if err != nil {
			return err
		}
	case facelink.EventTypeStatus:
		monitoring.Logf("camera pod status: %s", payload)
	default:
		monitoring.Debugf("unclassified line: %s", payload)
	}
	return nil
}

func main() {
	flag.Parse()

	monitoring.Logf("vigil %s", version.String())

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg := config.EmptyTuningConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load tuning config: %v", err)
		}
	}

	var link facelink.Linker
	switch {
	case *disableLink:
		link = facelink.NewDisabledLink()
	case *devMode:
		data, err := os.ReadFile("fixtures.txt")
		if err != nil {
			log.Fatalf("failed to open fixtures file: %v", err)
		}
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		link = facelink.NewMockLink(lines, 100*time.Millisecond)
	default:
		var err error
		link, err = facelink.NewRealLink(*port, facelink.PortOptions{})
		if err != nil {
			log.Fatalf("failed to open face link: %v", err)
		}
	}
	defer link.Close()

	if err := link.Initialize(); err != nil {
		log.Fatalf("failed to initialize camera pod: %v", err)
	}

	st, err := store.NewStore(*dbFile)
	if err != nil {
		log.Fatalf("failed to open forensic database: %v", err)
	}
	defer st.Close()
	if err := st.MigrateUp(*migrationsDir); err != nil {
		log.Fatalf("failed to migrate forensic database: %v", err)
	}

	manager := session.NewManager(cfg, st, timeutil.RealClock{})
	manager.SetTriggerHandler(func(sessionID string, t escalate.Transition) {
		monitoring.Logf("AUTOPILOT TRIGGER: session %s cause=%s fatigue=%.2f", sessionID, t.Cause, t.Fatigue)
	})

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *autoStart {
		if _, err := manager.Start(ctx); err != nil {
			log.Fatalf("failed to start monitoring session: %v", err)
		}
	}

	// run the monitor routine to manage IO on the face link
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := link.Monitor(ctx); err != nil && err != context.Canceled {
			monitoring.Logf("failed to monitor face link: %v", err)
		}
		monitoring.Logf("monitor routine terminated")
	}()

	// subscribe to frame lines and feed the detection pipeline
	wg.Add(1)
	go func() {
		defer wg.Done()
		id, c := link.Subscribe()
		defer link.Unsubscribe(id)
		for {
			select {
			case payload, ok := <-c:
				if !ok {
					return
				}
				if err := handleLine(manager, payload); err != nil {
					monitoring.Logf("error handling frame: %v", err)
				}
			case <-ctx.Done():
				monitoring.Logf("subscribe routine terminated")
				return
			}
		}
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(link, st, manager, cfg).ServeMux()
		link.AttachAdminRoutes(mux)
		if err := st.AttachAdminRoutes(mux); err != nil {
			log.Fatalf("failed to attach store admin routes: %v", err)
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			monitoring.Logf("server shutdown: %v", err)
		}
	}()

	monitoring.Logf("vigil listening on %s", *listen)
	<-ctx.Done()
	wg.Wait()

	// Seal the active session so the forensic log is complete.
	sealCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := manager.Stop(sealCtx); err != nil && err != session.ErrNoActiveSession {
		monitoring.Logf("failed to seal session on shutdown: %v", err)
	}
}
