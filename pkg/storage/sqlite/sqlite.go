package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/rexliu/vlldb/pkg/core"
)

// ErrUnknownSession indicates a session id with no row.
var ErrUnknownSession = errors.New("unknown session")

// Store owns the SQLite journal of debug sessions and relayed events.
type Store struct {
	db   *sql.DB
	path string
}

// Path returns the underlying SQLite file path.
func (s *Store) Path() string {
	return s.path
}

// Open initializes a SQLite database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// The dispatcher and relay both write; one connection keeps sqlite from
	// returning SQLITE_BUSY between them.
	db.SetMaxOpenConns(1)
	return &Store{db: db, path: path}, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Init ensures pragmas and schema are configured.
func (s *Store) Init(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("nil store")
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, stmt := range pragmas {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply pragma %q: %w", stmt, err)
		}
	}
	return s.applySchema(ctx)
}

func (s *Store) applySchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`INSERT OR IGNORE INTO meta(key,value) VALUES ('schemaVersion','1');`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			executable TEXT NOT NULL,
			working_dir TEXT NOT NULL,
			arguments TEXT NOT NULL,
			revision TEXT,
			pid INTEGER NOT NULL,
			started_at INTEGER NOT NULL,
			ended_at INTEGER,
			final_state TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			session_id TEXT REFERENCES sessions(id) ON DELETE CASCADE,
			kind TEXT NOT NULL,
			state TEXT,
			text TEXT,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at);`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// StartSession inserts a new session row.
func (s *Store) StartSession(ctx context.Context, rec core.SessionRecord) error {
	args, err := json.Marshal(rec.Arguments)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions(id, executable, working_dir, arguments, revision, pid, started_at)
		VALUES(?,?,?,?,?,?,?)`,
		rec.ID, rec.Executable, rec.WorkingDir, string(args), nullString(rec.Revision), rec.PID, rec.StartedAt)
	return err
}

// EndSession stamps the end time and final state of a session.
func (s *Store) EndSession(ctx context.Context, id, state string, endedAt int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET ended_at = ?, final_state = ? WHERE id = ? AND ended_at IS NULL`,
		endedAt, state, id)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	return nil
}

// RecordEvent appends an event row. An empty SessionID records an event that
// arrived while no session was active.
func (s *Store) RecordEvent(ctx context.Context, rec core.EventRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events(id, session_id, kind, state, text, created_at)
		VALUES(?,?,?,?,?,?)`,
		rec.ID, nullString(rec.SessionID), rec.Kind, nullString(rec.State), nullString(rec.Text), rec.CreatedAt)
	return err
}

// ListSessions returns the most recent sessions first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]core.SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, executable, working_dir, arguments, revision, pid, started_at, ended_at, final_state
		FROM sessions
		ORDER BY started_at DESC, id DESC
		LIMIT ?;
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.SessionRecord
	for rows.Next() {
		var (
			rec      core.SessionRecord
			args     string
			revision *string
			state    *string
		)
		if err := rows.Scan(&rec.ID, &rec.Executable, &rec.WorkingDir, &args, &revision, &rec.PID,
			&rec.StartedAt, &rec.EndedAt, &state); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(args), &rec.Arguments); err != nil {
			return nil, fmt.Errorf("decode arguments of %s: %w", rec.ID, err)
		}
		if revision != nil {
			rec.Revision = *revision
		}
		if state != nil {
			rec.FinalState = *state
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SessionEvents returns the events of one session in arrival order.
func (s *Store) SessionEvents(ctx context.Context, sessionID string) ([]core.EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, kind, state, text, created_at
		FROM events
		WHERE session_id = ?
		ORDER BY created_at, id;
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.EventRecord
	for rows.Next() {
		var (
			rec   core.EventRecord
			sid   *string
			state *string
			text  *string
		)
		if err := rows.Scan(&rec.ID, &sid, &rec.Kind, &state, &text, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if sid != nil {
			rec.SessionID = *sid
		}
		if state != nil {
			rec.State = *state
		}
		if text != nil {
			rec.Text = *text
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
