package store

import (
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"
)

// Migration is one schema step. Tables lists what Up creates so the schema
// can be checked without parsing SQL.
type Migration struct {
	Version     int
	Description string
	Tables      []string
	Up          string
	Down        string
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "last cursor position per lesson",
		Tables:      []string{"positions"},
		Up: `
CREATE TABLE IF NOT EXISTS positions (
    lesson_id   TEXT PRIMARY KEY,
    step_index  INTEGER NOT NULL,
    total_steps INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);`,
		Down: `DROP TABLE IF EXISTS positions;`,
	},
	{
		Version:     2,
		Description: "presentation runs",
		Tables:      []string{"sessions"},
		Up: `
CREATE TABLE IF NOT EXISTS sessions (
    id          TEXT PRIMARY KEY,
    lesson_id   TEXT NOT NULL,
    started_at  INTEGER NOT NULL,
    ended_at    INTEGER,
    key_presses INTEGER NOT NULL DEFAULT 0,
    log_path    TEXT
);
CREATE INDEX IF NOT EXISTS idx_sessions_lesson ON sessions(lesson_id, started_at);`,
		Down: `
DROP INDEX IF EXISTS idx_sessions_lesson;
DROP TABLE IF EXISTS sessions;`,
	},
	{
		Version:     3,
		Description: "questions and notes raised during a run",
		Tables:      []string{"interactions"},
		Up: `
CREATE TABLE IF NOT EXISTS interactions (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id   TEXT NOT NULL REFERENCES sessions(id),
    kind         TEXT NOT NULL,
    info         TEXT,
    step_index   INTEGER NOT NULL,
    timestamp_ns INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_interactions_session ON interactions(session_id, timestamp_ns);`,
		Down: `
DROP INDEX IF EXISTS idx_interactions_session;
DROP TABLE IF EXISTS interactions;`,
	},
}

const versionTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version     INTEGER PRIMARY KEY,
    applied_at  INTEGER NOT NULL,
    description TEXT
)`

// ErrNothingToRollback is returned when no migration has been applied.
var ErrNothingToRollback = errors.New("no migrations to roll back")

func inTx(db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func schemaVersion(db *sql.DB) (int, error) {
	var v int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v)
	return v, err
}

// MigrateDB brings the schema up to the latest version. Each migration runs
// in its own transaction.
func MigrateDB(db *sql.DB) error {
	if _, err := db.Exec(versionTable); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}
	current, err := schemaVersion(db)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		err := inTx(db, func(tx *sql.Tx) error {
			if _, err := tx.Exec(m.Up); err != nil {
				return err
			}
			_, err := tx.Exec(
				"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
				m.Version, time.Now().UnixNano(), m.Description)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
	}
	return nil
}

// RollbackMigration undoes the newest applied migration.
func RollbackMigration(db *sql.DB) error {
	current, err := schemaVersion(db)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current == 0 {
		return ErrNothingToRollback
	}
	i := slices.IndexFunc(migrations, func(m Migration) bool { return m.Version == current })
	if i < 0 {
		return fmt.Errorf("schema version %d is newer than this binary", current)
	}

	err = inTx(db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(migrations[i].Down); err != nil {
			return err
		}
		_, err := tx.Exec("DELETE FROM schema_migrations WHERE version = ?", current)
		return err
	})
	if err != nil {
		return fmt.Errorf("roll back migration %d: %w", current, err)
	}
	return nil
}

// MigrationStatus is the applied and pending migration set.
type MigrationStatus struct {
	CurrentVersion int
	LatestVersion  int
	Pending        []Migration
	Applied        map[int]time.Time
}

// GetMigrationStatus reports which migrations have run. A database that
// was never migrated has everything pending.
func GetMigrationStatus(db *sql.DB) (*MigrationStatus, error) {
	status := &MigrationStatus{
		LatestVersion: migrations[len(migrations)-1].Version,
		Applied:       make(map[int]time.Time),
	}

	rows, err := db.Query("SELECT version, applied_at FROM schema_migrations")
	if err != nil {
		status.Pending = migrations
		return status, nil
	}
	defer rows.Close()

	for rows.Next() {
		var version int
		var at int64
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("scan migration: %w", err)
		}
		status.Applied[version] = time.Unix(0, at)
		status.CurrentVersion = max(status.CurrentVersion, version)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, m := range migrations {
		if _, ok := status.Applied[m.Version]; !ok {
			status.Pending = append(status.Pending, m)
		}
	}
	return status, nil
}

// ValidateSchema checks that every table the migrations create exists.
func ValidateSchema(db *sql.DB) error {
	tables := []string{"schema_migrations"}
	for _, m := range migrations {
		tables = append(tables, m.Tables...)
	}
	for _, table := range tables {
		var n int
		err := db.QueryRow(
			"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table,
		).Scan(&n)
		if err != nil {
			return fmt.Errorf("check table %s: %w", table, err)
		}
		if n == 0 {
			return fmt.Errorf("missing table %s", table)
		}
	}
	return nil
}
