package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/astromind-data/vigil.report/internal/config"
	"github.com/astromind-data/vigil.report/internal/facelink"
	"github.com/astromind-data/vigil.report/internal/session"
	"github.com/astromind-data/vigil.report/internal/store"
	"github.com/astromind-data/vigil.report/internal/testutil"
	"github.com/astromind-data/vigil.report/internal/timeutil"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st := testutil.OpenTestStore(t)
	cfg := config.EmptyTuningConfig()
	manager := session.NewManager(cfg, st, timeutil.NewMockClock(t0))
	return NewServer(facelink.NewDisabledLink(), st, manager, cfg), st
}

func seedSealedSession(t *testing.T, st *store.Store, id string) {
	t.Helper()
	ctx := context.Background()
	if err := st.CreateSession(ctx, store.Session{ID: id, StartedAt: t0}); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	events := []store.StageEvent{
		{SessionID: id, FromStage: "nominal", ToStage: "warning", Cause: "eye_closure",
			At: t0.Add(10 * time.Second), Fatigue: 0.5, Confidence: 1},
		{SessionID: id, FromStage: "warning", ToStage: "nominal", Cause: "recovery",
			At: t0.Add(18 * time.Second), Fatigue: 0.1, Confidence: 1},
	}
	for _, e := range events {
		if err := st.AppendStageEvent(ctx, e); err != nil {
			t.Fatalf("AppendStageEvent failed: %v", err)
		}
	}
	for sec := 0; sec < 20; sec += 2 {
		err := st.AppendSnapshot(ctx, store.Snapshot{
			SessionID: id, At: t0.Add(time.Duration(sec) * time.Second),
			EAR: 0.3, MAR: 0.2, SmoothedEAR: 0.28, SmoothedMAR: 0.21,
		})
		if err != nil {
			t.Fatalf("AppendSnapshot failed: %v", err)
		}
	}
	if err := st.SealSession(ctx, id, t0.Add(time.Minute), 1, 0, 0.28); err != nil {
		t.Fatalf("SealSession failed: %v", err)
	}
}

func doRequest(t *testing.T, s *Server, method, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	s.ServeMux().ServeHTTP(w, req)
	return w
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	s, st := newTestServer(t)

	// No session yet.
	if w := doRequest(t, s, http.MethodGet, "/api/session", nil); w.Code != http.StatusNotFound {
		t.Errorf("GET /api/session = %d, want 404", w.Code)
	}
	if w := doRequest(t, s, http.MethodPost, "/api/session/stop", nil); w.Code != http.StatusNotFound {
		t.Errorf("POST /api/session/stop = %d, want 404", w.Code)
	}

	// Start.
	w := doRequest(t, s, http.MethodPost, "/api/session/start", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("POST /api/session/start = %d: %s", w.Code, w.Body.String())
	}
	var started map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &started); err != nil {
		t.Fatalf("bad start response: %v", err)
	}
	id := started["session_id"]
	if id == "" {
		t.Fatal("start response missing session_id")
	}

	// Status.
	w = doRequest(t, s, http.MethodGet, "/api/session", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /api/session = %d", w.Code)
	}
	var status sessionStatus
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("bad status response: %v", err)
	}
	if status.SessionID != id || status.Stage != "nominal" {
		t.Errorf("status = %+v", status)
	}

	// Stop seals.
	if w := doRequest(t, s, http.MethodPost, "/api/session/stop", nil); w.Code != http.StatusOK {
		t.Fatalf("POST /api/session/stop = %d", w.Code)
	}
	sess, err := st.GetSession(context.Background(), id)
	if err != nil || !sess.Sealed {
		t.Errorf("session after stop = %+v, %v; want sealed", sess, err)
	}
}

func TestGradeEndpoint(t *testing.T) {
	s, st := newTestServer(t)
	seedSealedSession(t, st, "sess-1")

	w := doRequest(t, s, http.MethodGet, "/api/grade?session=sess-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /api/grade = %d: %s", w.Code, w.Body.String())
	}
	var summary struct {
		Grade string `json:"grade"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &summary); err != nil {
		t.Fatalf("bad grade response: %v", err)
	}
	if summary.Grade != "A" {
		t.Errorf("grade = %s, want A", summary.Grade)
	}

	// Default session resolution picks the latest sealed session.
	if w := doRequest(t, s, http.MethodGet, "/api/grade", nil); w.Code != http.StatusOK {
		t.Errorf("GET /api/grade without session = %d", w.Code)
	}

	if w := doRequest(t, s, http.MethodGet, "/api/grade?session=nope", nil); w.Code != http.StatusNotFound {
		t.Errorf("GET /api/grade?session=nope = %d, want 404", w.Code)
	}
}

func TestGradeRejectsOpenSession(t *testing.T) {
	s, st := newTestServer(t)
	if err := st.CreateSession(context.Background(), store.Session{ID: "open", StartedAt: t0}); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if w := doRequest(t, s, http.MethodGet, "/api/grade?session=open", nil); w.Code != http.StatusConflict {
		t.Errorf("GET /api/grade?session=open = %d, want 409", w.Code)
	}
}

func TestEventsEndpoint(t *testing.T) {
	s, st := newTestServer(t)
	seedSealedSession(t, st, "sess-1")

	w := doRequest(t, s, http.MethodGet, "/api/events?session=sess-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /api/events = %d", w.Code)
	}
	var events []store.StageEvent
	if err := json.Unmarshal(w.Body.Bytes(), &events); err != nil {
		t.Fatalf("bad events response: %v", err)
	}
	if len(events) != 2 || events[0].ToStage != "warning" {
		t.Errorf("events = %+v", events)
	}
}

func TestSessionsEndpoint(t *testing.T) {
	s, st := newTestServer(t)
	seedSealedSession(t, st, "sess-1")
	seedSealedSession(t, st, "sess-2")

	w := doRequest(t, s, http.MethodGet, "/api/sessions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /api/sessions = %d", w.Code)
	}
	var sessions []store.Session
	if err := json.Unmarshal(w.Body.Bytes(), &sessions); err != nil {
		t.Fatalf("bad sessions response: %v", err)
	}
	if len(sessions) != 2 {
		t.Errorf("got %d sessions, want 2", len(sessions))
	}

	if w := doRequest(t, s, http.MethodGet, "/api/sessions?limit=bogus", nil); w.Code != http.StatusBadRequest {
		t.Errorf("GET /api/sessions?limit=bogus = %d, want 400", w.Code)
	}
}

func TestReportEndpoint(t *testing.T) {
	s, st := newTestServer(t)
	seedSealedSession(t, st, "sess-1")

	w := doRequest(t, s, http.MethodGet, "/api/report?session=sess-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /api/report = %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %s", ct)
	}

	w = doRequest(t, s, http.MethodGet, "/api/report?session=sess-1&format=text", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /api/report format=text = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "VIGILANCE SESSION REPORT") {
		t.Errorf("text report missing header:\n%s", w.Body.String())
	}
}

func TestConfigEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	w := doRequest(t, s, http.MethodGet, "/api/config", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /api/config = %d", w.Code)
	}
	var cfg map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &cfg); err != nil {
		t.Fatalf("bad config response: %v", err)
	}
	if cfg["warning_threshold"] != 0.35 {
		t.Errorf("warning_threshold = %v, want 0.35", cfg["warning_threshold"])
	}
}

func TestCommandEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(t, s, http.MethodPost, "/command", url.Values{"command": {"OJ"}})
	if w.Code != http.StatusOK {
		t.Errorf("POST /command = %d", w.Code)
	}
	if w := doRequest(t, s, http.MethodGet, "/command", nil); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /command = %d, want 405", w.Code)
	}
}

func TestMonitorChart(t *testing.T) {
	s, st := newTestServer(t)
	seedSealedSession(t, st, "sess-1")

	w := doRequest(t, s, http.MethodGet, "/monitor?session=sess-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /monitor = %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Header().Get("Content-Type"), "text/html") {
		t.Errorf("Content-Type = %s", w.Header().Get("Content-Type"))
	}
	if !strings.Contains(w.Body.String(), "echarts") {
		t.Error("monitor page missing echarts payload")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t)
	for _, path := range []string{"/api/session/start", "/api/session/stop"} {
		if w := doRequest(t, s, http.MethodGet, path, nil); w.Code != http.StatusMethodNotAllowed {
			t.Errorf("GET %s = %d, want 405", path, w.Code)
		}
	}
	for _, path := range []string{"/api/session", "/api/sessions", "/api/grade", "/api/config"} {
		if w := doRequest(t, s, http.MethodPost, path, nil); w.Code != http.StatusMethodNotAllowed {
			t.Errorf("POST %s = %d, want 405", path, w.Code)
		}
	}
}
