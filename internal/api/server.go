// Package api exposes the session lifecycle, forensic queries and
// grading over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/astromind-data/vigil.report/internal/config"
	"github.com/astromind-data/vigil.report/internal/facelink"
	"github.com/astromind-data/vigil.report/internal/grade"
	"github.com/astromind-data/vigil.report/internal/monitoring"
	"github.com/astromind-data/vigil.report/internal/report"
	"github.com/astromind-data/vigil.report/internal/session"
	"github.com/astromind-data/vigil.report/internal/store"
	"github.com/astromind-data/vigil.report/internal/version"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	link    facelink.Linker
	store   *store.Store
	manager *session.Manager
	grader  *grade.Grader
	builder *report.Builder
	cfg     *config.TuningConfig
}

func NewServer(link facelink.Linker, st *store.Store, manager *session.Manager, cfg *config.TuningConfig) *Server {
	return &Server{
		link:    link,
		store:   st,
		manager: manager,
		grader:  grade.NewGrader(st, grade.BoundsFromTuning(cfg)),
		builder: report.NewBuilder(st, cfg),
		cfg:     cfg,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/session", s.showSession)
	mux.HandleFunc("/api/session/start", s.startSession)
	mux.HandleFunc("/api/session/stop", s.stopSession)
	mux.HandleFunc("/api/sessions", s.listSessions)
	mux.HandleFunc("/api/events", s.listEvents)
	mux.HandleFunc("/api/grade", s.showGrade)
	mux.HandleFunc("/api/report", s.showReport)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/command", s.sendCommandHandler)
	mux.HandleFunc("/monitor", s.showMonitorChart)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// sessionStatus is the wire shape of the active-session view.
type sessionStatus struct {
	SessionID   string  `json:"session_id"`
	StartedAt   string  `json:"started_at"`
	Stage       string  `json:"stage"`
	Triggered   bool    `json:"triggered"`
	Microsleeps int     `json:"microsleeps"`
	Yawns       int     `json:"yawns"`
	MeanEAR     float64 `json:"mean_ear"`
}

func (s *Server) showSession(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	active, err := s.manager.Active()
	if err != nil {
		s.writeJSONError(w, http.StatusNotFound, "no active session")
		return
	}

	micro, yawns, meanEAR := active.Counters()
	status := sessionStatus{
		SessionID:   active.ID,
		StartedAt:   active.StartedAt.Format(time.RFC3339),
		Stage:       active.Stage().String(),
		Triggered:   active.Triggered(),
		Microsleeps: micro,
		Yawns:       yawns,
		MeanEAR:     meanEAR,
	}
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write session status")
	}
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	sess, err := s.manager.Start(r.Context())
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to start session: %v", err))
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"session_id": sess.ID})
}

func (s *Server) stopSession(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := s.manager.Stop(r.Context()); err != nil {
		if errors.Is(err, session.ErrNoActiveSession) {
			s.writeJSONError(w, http.StatusNotFound, "no active session")
			return
		}
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to stop session: %v", err))
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "sealed"})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	sessions, err := s.store.ListSessions(r.Context(), limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve sessions: %v", err))
		return
	}
	if sessions == nil {
		sessions = []store.Session{}
	}
	if err := json.NewEncoder(w).Encode(sessions); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write sessions")
	}
}

// resolveSessionID returns the session query parameter, or the latest
// sealed session when absent.
func (s *Server) resolveSessionID(r *http.Request) (string, error) {
	if id := r.URL.Query().Get("session"); id != "" {
		return id, nil
	}
	latest, err := s.store.LatestSealedSession(r.Context())
	if err != nil {
		return "", err
	}
	return latest.ID, nil
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	id, err := s.resolveSessionID(r)
	if err != nil {
		s.writeJSONError(w, http.StatusNotFound, "no sealed session available")
		return
	}

	events, err := s.store.StageEvents(r.Context(), id)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve events: %v", err))
		return
	}
	if events == nil {
		events = []store.StageEvent{}
	}
	if err := json.NewEncoder(w).Encode(events); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write events")
	}
}

func (s *Server) showGrade(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	id, err := s.resolveSessionID(r)
	if err != nil {
		s.writeJSONError(w, http.StatusNotFound, "no sealed session available")
		return
	}

	summary, err := s.grader.GradeSession(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, grade.ErrSessionNotSealed):
			s.writeJSONError(w, http.StatusConflict, "session log not sealed")
		case errors.Is(err, store.ErrSessionNotFound):
			s.writeJSONError(w, http.StatusNotFound, "session not found")
		default:
			s.writeJSONError(w, http.StatusInternalServerError,
				fmt.Sprintf("Failed to grade session: %v", err))
		}
		return
	}
	if err := json.NewEncoder(w).Encode(summary); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write grade")
	}
}

func (s *Server) showReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Content-Type", "application/json")
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	id, err := s.resolveSessionID(r)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		s.writeJSONError(w, http.StatusNotFound, "no sealed session available")
		return
	}

	doc, err := s.builder.Build(r.Context(), id)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		if errors.Is(err, store.ErrSessionNotFound) {
			s.writeJSONError(w, http.StatusNotFound, "session not found")
			return
		}
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to build report: %v", err))
		return
	}

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		doc.WriteText(w)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(doc); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write report")
	}
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	cfg := map[string]interface{}{
		"version":            version.String(),
		"warning_threshold":  s.cfg.GetWarningThreshold(),
		"alarm_threshold":    s.cfg.GetAlarmThreshold(),
		"critical_threshold": s.cfg.GetCriticalThreshold(),
		"warning_dwell":      s.cfg.GetWarningDwell().String(),
		"alarm_dwell":        s.cfg.GetAlarmDwell().String(),
		"trigger_dwell":      s.cfg.GetTriggerDwell().String(),
		"recovery_window":    s.cfg.GetRecoveryWindow().String(),
		"min_confidence":     s.cfg.GetMinConfidence(),
		"smoothing_window":   s.cfg.GetSmoothingWindow(),
	}
	if err := json.NewEncoder(w).Encode(cfg); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write config")
	}
}

func (s *Server) sendCommandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	command := r.FormValue("command")
	if err := s.link.SendCommand(command); err != nil {
		http.Error(w, "Failed to send command", http.StatusInternalServerError)
		return
	}
	io.WriteString(w, "Command sent successfully")
}
