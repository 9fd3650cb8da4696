package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store represents the SQLite presenter store.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at the given path and runs migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	// owner read/write only
	if err := os.Chmod(path, 0600); err != nil && !os.IsNotExist(err) {
		db.Close()
		return nil, fmt.Errorf("set database permissions: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB exposes the underlying handle for migration tooling.
func (s *Store) DB() *sql.DB {
	return s.db
}

// GetPosition returns the saved cursor for a lesson. ok is false when
// nothing was saved.
func (s *Store) GetPosition(lessonID string) (index int, ok bool, err error) {
	err = s.db.QueryRow(`SELECT step_index FROM positions WHERE lesson_id = ?`, lessonID).Scan(&index)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get position: %w", err)
	}
	return index, true, nil
}

// SetPosition saves the cursor for a lesson.
func (s *Store) SetPosition(lessonID string, index, total int) error {
	_, err := s.db.Exec(`
		INSERT INTO positions (lesson_id, step_index, total_steps, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(lesson_id) DO UPDATE SET
			step_index = excluded.step_index,
			total_steps = excluded.total_steps,
			updated_at = excluded.updated_at`,
		lessonID, index, total, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("set position: %w", err)
	}
	return nil
}

// DeletePosition forgets the cursor of a lesson.
func (s *Store) DeletePosition(lessonID string) error {
	if _, err := s.db.Exec(`DELETE FROM positions WHERE lesson_id = ?`, lessonID); err != nil {
		return fmt.Errorf("delete position: %w", err)
	}
	return nil
}

// Positions lists every saved cursor, most recent first.
func (s *Store) Positions() ([]Position, error) {
	rows, err := s.db.Query(`
		SELECT lesson_id, step_index, total_steps, updated_at
		FROM positions
		ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var out []Position
	for rows.Next() {
		var p Position
		var updated int64
		if err := rows.Scan(&p.LessonID, &p.Index, &p.Total, &updated); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		p.UpdatedAt = time.Unix(0, updated)
		out = append(out, p)
	}
	return out, rows.Err()
}

// StartSession records the start of a presentation run.
func (s *Store) StartSession(sess *Session) error {
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, lesson_id, started_at, log_path)
		VALUES (?, ?, ?, ?)`,
		sess.ID, sess.LessonID, sess.StartedAt.UnixNano(), sess.LogPath,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// EndSession closes a session with its final key press count.
func (s *Store) EndSession(id string, keyPresses int) error {
	res, err := s.db.Exec(`
		UPDATE sessions SET ended_at = ?, key_presses = ?
		WHERE id = ? AND ended_at IS NULL`,
		time.Now().UnixNano(), keyPresses, id,
	)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSession loads one session.
func (s *Store) GetSession(id string) (*Session, error) {
	var sess Session
	var started int64
	var ended sql.NullInt64
	var logPath sql.NullString
	err := s.db.QueryRow(`
		SELECT id, lesson_id, started_at, ended_at, key_presses, log_path
		FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.LessonID, &started, &ended, &sess.KeyPresses, &logPath)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	sess.StartedAt = time.Unix(0, started)
	if ended.Valid {
		t := time.Unix(0, ended.Int64)
		sess.EndedAt = &t
	}
	sess.LogPath = logPath.String
	return &sess, nil
}

// RecentSessions returns the latest sessions of a lesson.
func (s *Store) RecentSessions(lessonID string, limit int) ([]Session, error) {
	rows, err := s.db.Query(`
		SELECT id, lesson_id, started_at, ended_at, key_presses, log_path
		FROM sessions
		WHERE lesson_id = ?
		ORDER BY started_at DESC
		LIMIT ?`, lessonID, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		var started int64
		var ended sql.NullInt64
		var logPath sql.NullString
		if err := rows.Scan(&sess.ID, &sess.LessonID, &started, &ended, &sess.KeyPresses, &logPath); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.StartedAt = time.Unix(0, started)
		if ended.Valid {
			t := time.Unix(0, ended.Int64)
			sess.EndedAt = &t
		}
		sess.LogPath = logPath.String
		out = append(out, sess)
	}
	return out, rows.Err()
}

// InsertInteraction records an interaction and returns its ID.
func (s *Store) InsertInteraction(i *Interaction) (int64, error) {
	if i.Timestamp.IsZero() {
		i.Timestamp = time.Now()
	}
	result, err := s.db.Exec(`
		INSERT INTO interactions (session_id, kind, info, step_index, timestamp_ns)
		VALUES (?, ?, ?, ?, ?)`,
		i.SessionID, i.Kind, i.Info, i.StepIndex, i.Timestamp.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert interaction: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	i.ID = id
	return id, nil
}

// Interactions lists the interactions of a session in order.
func (s *Store) Interactions(sessionID string) ([]Interaction, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, kind, info, step_index, timestamp_ns
		FROM interactions
		WHERE session_id = ?
		ORDER BY timestamp_ns ASC, id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query interactions: %w", err)
	}
	defer rows.Close()

	var out []Interaction
	for rows.Next() {
		var i Interaction
		var ts int64
		var info sql.NullString
		if err := rows.Scan(&i.ID, &i.SessionID, &i.Kind, &info, &i.StepIndex, &ts); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		i.Info = info.String
		i.Timestamp = time.Unix(0, ts)
		out = append(out, i)
	}
	return out, rows.Err()
}
