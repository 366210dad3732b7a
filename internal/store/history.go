package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/stravu/crystal-sub000/internal/model"
)

// History persists raw session events in sqlite so a transcript can be
// rebuilt later without the original log.
type History struct {
	db  *sql.DB
	now func() time.Time
}

// HistorySession describes one imported session.
type HistorySession struct {
	ID         string
	Agent      model.AgentType
	SourcePath string
	EventCount int
	ImportedAt time.Time
}

// OpenHistory opens or creates the history database at path.
func OpenHistory(path string) (*History, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	h := &History{db: db, now: time.Now}
	if err := h.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return h, nil
}

// Close releases the database.
func (h *History) Close() error {
	return h.db.Close()
}

func (h *History) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			agent TEXT NOT NULL,
			source_path TEXT,
			imported_at INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			ts INTEGER NOT NULL,
			type TEXT,
			record TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_session_ts ON events(session_id, ts, seq);`,
	}

	for _, stmt := range stmts {
		if _, err := h.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Import stores the events of one session, replacing any earlier import of
// the same id.
func (h *History) Import(ctx context.Context, session HistorySession, events []model.RawEvent) error {
	if session.ID == "" {
		return errors.New("session id is required")
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin import tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE session_id = ?`, session.ID); err != nil {
		return fmt.Errorf("clear events for %s: %w", session.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions(id, agent, source_path, imported_at)
		VALUES(?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			agent=excluded.agent,
			source_path=excluded.source_path,
			imported_at=excluded.imported_at
	`, session.ID, string(session.Agent), session.SourcePath, h.now().UnixMilli()); err != nil {
		return fmt.Errorf("upsert session %s: %w", session.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events(session_id, seq, ts, type, record)
		VALUES(?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare event insert: %w", err)
	}
	defer stmt.Close()

	// Events without a timestamp sort with the last timestamped event before
	// them so that reloading keeps log order.
	var last int64
	for seq, ev := range events {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		record, err := encodeRecord(ev)
		if err != nil {
			return fmt.Errorf("encode event %d: %w", seq, err)
		}
		if ts, ok := eventTime(ev); ok {
			last = ts.UnixMilli()
		}
		if _, err := stmt.ExecContext(ctx, session.ID, seq, last, ev.Type, record); err != nil {
			return fmt.Errorf("insert event %d: %w", seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit import %s: %w", session.ID, err)
	}
	return nil
}

// Load returns the stored session and its events ordered by timestamp and
// original position.
func (h *History) Load(ctx context.Context, id string) (HistorySession, []model.RawEvent, error) {
	session, err := h.session(ctx, id)
	if err != nil {
		return HistorySession{}, nil, err
	}

	rows, err := h.db.QueryContext(ctx, `
		SELECT record FROM events
		WHERE session_id = ?
		ORDER BY ts, seq
	`, id)
	if err != nil {
		return HistorySession{}, nil, fmt.Errorf("query events for %s: %w", id, err)
	}
	defer rows.Close()

	var events []model.RawEvent
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return HistorySession{}, nil, fmt.Errorf("scan event row: %w", err)
		}
		ev, err := model.NewRecord([]byte(record))
		if err != nil {
			return HistorySession{}, nil, fmt.Errorf("decode stored event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return HistorySession{}, nil, fmt.Errorf("iterate events for %s: %w", id, err)
	}
	session.EventCount = len(events)
	return session, events, nil
}

// Sessions lists imported sessions, most recently imported first.
func (h *History) Sessions(ctx context.Context) ([]HistorySession, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT s.id, s.agent, s.source_path, s.imported_at, COUNT(e.id)
		FROM sessions s
		LEFT JOIN events e ON e.session_id = s.id
		GROUP BY s.id
		ORDER BY s.imported_at DESC, s.id
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []HistorySession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

// Delete removes a session and its events.
func (h *History) Delete(ctx context.Context, id string) error {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("delete events for %s: %w", id, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete %s: %w", id, err)
	}
	return nil
}

func (h *History) session(ctx context.Context, id string) (HistorySession, error) {
	row := h.db.QueryRowContext(ctx, `
		SELECT s.id, s.agent, s.source_path, s.imported_at, COUNT(e.id)
		FROM sessions s
		LEFT JOIN events e ON e.session_id = s.id
		WHERE s.id = ?
		GROUP BY s.id
	`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return HistorySession{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (HistorySession, error) {
	var (
		s          HistorySession
		agent      string
		sourcePath sql.NullString
		importedAt int64
	)
	if err := row.Scan(&s.ID, &agent, &sourcePath, &importedAt, &s.EventCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return HistorySession{}, err
		}
		return HistorySession{}, fmt.Errorf("scan session row: %w", err)
	}
	s.Agent = model.AgentType(agent)
	s.SourcePath = sourcePath.String
	s.ImportedAt = time.UnixMilli(importedAt).UTC()
	return s, nil
}

func encodeRecord(ev model.RawEvent) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(ev); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

type timestampProbe struct {
	Timestamp json.RawMessage `json:"timestamp"`
}

func eventTime(ev model.RawEvent) (time.Time, bool) {
	if ts, ok := model.ParseTimestamp(ev.Timestamp); ok {
		return ts, true
	}
	payload, err := ev.Payload()
	if err != nil {
		return time.Time{}, false
	}
	var p timestampProbe
	if err := json.Unmarshal(payload, &p); err != nil {
		return time.Time{}, false
	}
	return model.ParseTimestamp(p.Timestamp)
}
