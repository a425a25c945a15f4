// Package store is the forensic persistence layer: an append-only,
// causally ordered record of stage transitions and periodic ratio
// snapshots per session, in SQLite. It stores numeric vectors and
// timestamps only — never imagery.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrSessionSealed is returned on any append to a sealed session log.
var ErrSessionSealed = errors.New("session log is sealed")

// ErrSessionNotFound is returned when a session ID does not exist.
var ErrSessionNotFound = errors.New("session not found")

// Store wraps the forensic SQLite database.
type Store struct {
	*sql.DB
	path string
}

// NewStore opens (creating if necessary) the forensic database at path.
// Schema management is handled separately via MigrateUp.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open forensic db: %w", err)
	}

	// Single-writer embedded deployment: WAL keeps readers (reports,
	// admin surface) from blocking the forensic write path.
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return &Store{DB: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Session is one monitored operator session.
type Session struct {
	ID              string
	StartedAt       time.Time
	EndedAt         time.Time // zero while the session is open
	Sealed          bool
	MicrosleepCount int
	YawnCount       int
	MeanEAR         float64 // 0 until sealed
}

// StageEvent is one persisted stage transition.
type StageEvent struct {
	ID         int64
	SessionID  string
	FromStage  string
	ToStage    string
	Cause      string
	At         time.Time
	Fatigue    float64
	Yawn       float64
	Confidence float64
}

// Snapshot is one persisted ratio sample, kept for forensic replay.
type Snapshot struct {
	SessionID   string
	At          time.Time
	EAR         float64
	MAR         float64
	SmoothedEAR float64
	SmoothedMAR float64
	Clamped     bool
}

// unix seconds as double, matching the schema's DOUBLE columns.
func toUnix(t time.Time) float64 { return float64(t.UnixNano()) / 1e9 }

func fromUnix(sec float64) time.Time { return time.Unix(0, int64(sec*1e9)).UTC() }

// CreateSession inserts a new open session row.
func (s *Store) CreateSession(ctx context.Context, sess Session) error {
	_, err := s.ExecContext(ctx,
		`INSERT INTO sessions (session_id, started_unix, sealed) VALUES (?, ?, 0)`,
		sess.ID, toUnix(sess.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// SealSession marks the session read-only and records the end-of-session
// summary counters. Sealing an already sealed session is a no-op so the
// manager's stop path is idempotent.
func (s *Store) SealSession(ctx context.Context, id string, endedAt time.Time, microsleeps, yawns int, meanEAR float64) error {
	res, err := s.ExecContext(ctx,
		`UPDATE sessions
		 SET ended_unix = ?, sealed = 1, microsleep_count = ?, yawn_count = ?, mean_ear = ?
		 WHERE session_id = ?`,
		toUnix(endedAt), microsleeps, yawns, meanEAR, id,
	)
	if err != nil {
		return fmt.Errorf("failed to seal session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *Store) scanSession(row *sql.Row) (*Session, error) {
	var sess Session
	var ended sql.NullFloat64
	var started float64
	var mean sql.NullFloat64
	var sealed int
	err := row.Scan(&sess.ID, &started, &ended, &sealed, &sess.MicrosleepCount, &sess.YawnCount, &mean)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	sess.StartedAt = fromUnix(started)
	if ended.Valid {
		sess.EndedAt = fromUnix(ended.Float64)
	}
	sess.Sealed = sealed != 0
	if mean.Valid {
		sess.MeanEAR = mean.Float64
	}
	return &sess, nil
}

const sessionColumns = `session_id, started_unix, ended_unix, sealed, microsleep_count, yawn_count, mean_ear`

// GetSession retrieves a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, id)
	return s.scanSession(row)
}

// LatestSealedSession returns the most recently ended sealed session.
func (s *Store) LatestSealedSession(ctx context.Context) (*Session, error) {
	row := s.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE sealed = 1 ORDER BY ended_unix DESC LIMIT 1`)
	return s.scanSession(row)
}

// ListSessions returns the most recent sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	rows, err := s.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY started_unix DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		var started float64
		var ended, mean sql.NullFloat64
		var sealed int
		if err := rows.Scan(&sess.ID, &started, &ended, &sealed, &sess.MicrosleepCount, &sess.YawnCount, &mean); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sess.StartedAt = fromUnix(started)
		if ended.Valid {
			sess.EndedAt = fromUnix(ended.Float64)
		}
		sess.Sealed = sealed != 0
		if mean.Valid {
			sess.MeanEAR = mean.Float64
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

// sealedState reports whether the session exists and is sealed.
func (s *Store) sealedState(ctx context.Context, id string) (bool, error) {
	var sealed int
	err := s.QueryRowContext(ctx, `SELECT sealed FROM sessions WHERE session_id = ?`, id).Scan(&sealed)
	if err == sql.ErrNoRows {
		return false, ErrSessionNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to check session seal: %w", err)
	}
	return sealed != 0, nil
}

// AppendStageEvent appends one transition to an open session log.
// Appending to a sealed log fails with ErrSessionSealed.
func (s *Store) AppendStageEvent(ctx context.Context, e StageEvent) error {
	sealed, err := s.sealedState(ctx, e.SessionID)
	if err != nil {
		return err
	}
	if sealed {
		return ErrSessionSealed
	}
	_, err = s.ExecContext(ctx,
		`INSERT INTO stage_events (
			session_id, from_stage, to_stage, cause, event_unix,
			fatigue_score, yawn_score, confidence
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.FromStage, e.ToStage, e.Cause, toUnix(e.At),
		e.Fatigue, e.Yawn, e.Confidence,
	)
	if err != nil {
		return fmt.Errorf("failed to append stage event: %w", err)
	}
	return nil
}

// AppendSnapshot appends one ratio snapshot to an open session log.
func (s *Store) AppendSnapshot(ctx context.Context, sn Snapshot) error {
	sealed, err := s.sealedState(ctx, sn.SessionID)
	if err != nil {
		return err
	}
	if sealed {
		return ErrSessionSealed
	}
	clamped := 0
	if sn.Clamped {
		clamped = 1
	}
	_, err = s.ExecContext(ctx,
		`INSERT INTO ratio_snapshots (
			session_id, sample_unix, ear, mar, smoothed_ear, smoothed_mar, clamped
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sn.SessionID, toUnix(sn.At), sn.EAR, sn.MAR, sn.SmoothedEAR, sn.SmoothedMAR, clamped,
	)
	if err != nil {
		return fmt.Errorf("failed to append snapshot: %w", err)
	}
	return nil
}

// StageEvents returns all transitions for a session in occurrence order.
func (s *Store) StageEvents(ctx context.Context, sessionID string) ([]StageEvent, error) {
	rows, err := s.QueryContext(ctx,
		`SELECT event_id, session_id, from_stage, to_stage, cause, event_unix,
		        fatigue_score, yawn_score, confidence
		 FROM stage_events
		 WHERE session_id = ?
		 ORDER BY event_unix, event_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stage events: %w", err)
	}
	defer rows.Close()

	var events []StageEvent
	for rows.Next() {
		var e StageEvent
		var at float64
		if err := rows.Scan(&e.ID, &e.SessionID, &e.FromStage, &e.ToStage, &e.Cause, &at,
			&e.Fatigue, &e.Yawn, &e.Confidence); err != nil {
			return nil, fmt.Errorf("failed to scan stage event: %w", err)
		}
		e.At = fromUnix(at)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// Snapshots returns all ratio snapshots for a session in sample order.
func (s *Store) Snapshots(ctx context.Context, sessionID string) ([]Snapshot, error) {
	rows, err := s.QueryContext(ctx,
		`SELECT session_id, sample_unix, ear, mar, smoothed_ear, smoothed_mar, clamped
		 FROM ratio_snapshots
		 WHERE session_id = ?
		 ORDER BY sample_unix, snapshot_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []Snapshot
	for rows.Next() {
		var sn Snapshot
		var at float64
		var clamped int
		if err := rows.Scan(&sn.SessionID, &at, &sn.EAR, &sn.MAR, &sn.SmoothedEAR, &sn.SmoothedMAR, &clamped); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		sn.At = fromUnix(at)
		sn.Clamped = clamped != 0
		snaps = append(snaps, sn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return snaps, nil
}
