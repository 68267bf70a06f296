// Package journal keeps a local history of logging sessions and uploaded
// files in a SQLite database. The store is optional: every method on a nil
// *Store is a no-op, so the driver runs fine without one.
package journal

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SessionRecord describes one logging session.
type SessionRecord struct {
	SessionID  string
	Tag        string
	FileType   string
	Medium     string // "i" internal, "e" SD
	Channels   int
	Filename   string // base filename without extension
	Timestep   float64
	Duration   float64
	StartedAt  int64
	StoppedAt  int64 // zero while the session is live
	FinalState string
	Error      string
}

// UploadRecord describes one log file retrieved from the device.
type UploadRecord struct {
	UploadID   string
	SessionID  string // empty for bulk retrievals not tied to a session
	Mount      string
	RemoteName string
	LocalPath  string
	Bytes      int64
	UploadedAt int64
}

// Store persists session and upload history.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the journal database at path and
// brings its schema up to date.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

// BeginSession inserts a new session row and returns its id. If SessionID is
// empty, a UUID is generated.
func (s *Store) BeginSession(rec SessionRecord) (string, error) {
	if s == nil {
		return "", nil
	}
	if rec.SessionID == "" {
		rec.SessionID = uuid.New().String()
	}
	if rec.StartedAt == 0 {
		rec.StartedAt = time.Now().UnixNano()
	}

	err := retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO log_sessions (
				session_id, tag, filetype, medium, channels,
				filename, timestep, duration, started_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.SessionID, rec.Tag, rec.FileType, rec.Medium, rec.Channels,
			rec.Filename, rec.Timestep, rec.Duration, rec.StartedAt,
		)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}
	return rec.SessionID, nil
}

// EndSession records the final state of a session. An empty sessionID is a
// no-op so callers need not track whether a journal row was created.
func (s *Store) EndSession(sessionID, finalState, errMsg string) error {
	if s == nil || sessionID == "" {
		return nil
	}
	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			UPDATE log_sessions
			SET stopped_at = ?, final_state = ?, error = ?
			WHERE session_id = ?`,
			time.Now().UnixNano(), finalState, errMsg, sessionID,
		)
		return err
	})
}

// RecordUpload inserts an upload row and returns its id. If UploadID is
// empty, a UUID is generated.
func (s *Store) RecordUpload(rec UploadRecord) (string, error) {
	if s == nil {
		return "", nil
	}
	if rec.UploadID == "" {
		rec.UploadID = uuid.New().String()
	}
	if rec.UploadedAt == 0 {
		rec.UploadedAt = time.Now().UnixNano()
	}

	err := retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO log_uploads (
				upload_id, session_id, mount, remote_name,
				local_path, bytes, uploaded_at
			) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.UploadID, nullableString(rec.SessionID), rec.Mount, rec.RemoteName,
			rec.LocalPath, rec.Bytes, rec.UploadedAt,
		)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("insert upload: %w", err)
	}
	return rec.UploadID, nil
}

// Sessions returns the most recent sessions, newest first.
func (s *Store) Sessions(limit int) ([]SessionRecord, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(`
		SELECT session_id, tag, filetype, medium, channels,
		       filename, timestep, duration, started_at,
		       stopped_at, final_state, error
		FROM log_sessions
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var recs []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var stoppedAt sql.NullInt64
		var finalState, errMsg sql.NullString
		err := rows.Scan(
			&rec.SessionID, &rec.Tag, &rec.FileType, &rec.Medium, &rec.Channels,
			&rec.Filename, &rec.Timestep, &rec.Duration, &rec.StartedAt,
			&stoppedAt, &finalState, &errMsg,
		)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		rec.StoppedAt = stoppedAt.Int64
		rec.FinalState = finalState.String
		rec.Error = errMsg.String
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Uploads returns all uploads for the given session, newest first.
func (s *Store) Uploads(sessionID string) ([]UploadRecord, error) {
	if s == nil {
		return nil, nil
	}

	rows, err := s.db.Query(`
		SELECT upload_id, session_id, mount, remote_name,
		       local_path, bytes, uploaded_at
		FROM log_uploads
		WHERE session_id = ?
		ORDER BY uploaded_at DESC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query uploads: %w", err)
	}
	defer rows.Close()

	var recs []UploadRecord
	for rows.Next() {
		var rec UploadRecord
		var sessID sql.NullString
		err := rows.Scan(
			&rec.UploadID, &sessID, &rec.Mount, &rec.RemoteName,
			&rec.LocalPath, &rec.Bytes, &rec.UploadedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan upload row: %w", err)
		}
		rec.SessionID = sessID.String
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func nullableString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}

// retryOnBusy retries fn when SQLite reports the database locked, giving
// other writers a chance to commit. Non-busy errors fail immediately.
func retryOnBusy(fn func() error) error {
	const maxRetries = 5
	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !isBusy(err) {
			return err
		}
		time.Sleep(time.Duration(i+1) * 10 * time.Millisecond)
	}
	return fmt.Errorf("retries exhausted: %w", err)
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
