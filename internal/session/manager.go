package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/astromind-data/vigil.report/internal/config"
	"github.com/astromind-data/vigil.report/internal/monitoring"
	"github.com/astromind-data/vigil.report/internal/store"
	"github.com/astromind-data/vigil.report/internal/timeutil"
)

// ErrNoActiveSession is returned by Stop and Active when no session is
// running.
var ErrNoActiveSession = errors.New("no active session")

// Manager enforces the session lifecycle: at most one active session,
// and starting a new one seals the previous log first.
type Manager struct {
	cfg   *config.TuningConfig
	store *store.Store
	clock timeutil.Clock

	mu        sync.Mutex
	current   *Session
	onTrigger TriggerHandler
}

// NewManager creates a Manager. clock may be a MockClock in tests.
func NewManager(cfg *config.TuningConfig, st *store.Store, clock timeutil.Clock) *Manager {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Manager{cfg: cfg, store: st, clock: clock}
}

// SetTriggerHandler installs the handler fired when a session reaches
// AUTOPILOT_TRIGGER. Must be called before Start.
func (m *Manager) SetTriggerHandler(h TriggerHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTrigger = h
}

// Start begins a new session, sealing any session still active. Returns
// the new session.
func (m *Manager) Start(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if m.current != nil {
		monitoring.Logf("sealing session %s before starting a new one", m.current.ID)
		if err := m.current.seal(ctx, m.store, now); err != nil {
			return nil, fmt.Errorf("failed to seal previous session: %w", err)
		}
		m.current = nil
	}

	id := uuid.NewString()
	if err := m.store.CreateSession(ctx, store.Session{ID: id, StartedAt: now}); err != nil {
		return nil, err
	}

	w := NewWriter(m.store, m.cfg.GetWriteBuffer())
	s := newSession(id, now, m.cfg, w, m.onTrigger)
	m.current = s
	monitoring.Logf("session %s started", id)
	return s, nil
}

// Stop seals the active session. The forensic write queue is flushed
// before the seal lands, so no queued event is lost.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return ErrNoActiveSession
	}
	if err := m.current.seal(ctx, m.store, m.clock.Now()); err != nil {
		return err
	}
	monitoring.Logf("session %s sealed", m.current.ID)
	m.current = nil
	return nil
}

// Active returns the active session, or ErrNoActiveSession.
func (m *Manager) Active() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, ErrNoActiveSession
	}
	return m.current, nil
}
