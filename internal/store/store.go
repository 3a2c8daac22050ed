package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/do-ops885/ai-orchestrator-hub/internal/config"
)

type Store struct {
	db *sql.DB
}

func New(cfg config.StoreConfig) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// WAL lets the API read while the journal writes; the busy timeout
	// makes writers wait instead of failing with SQLITE_BUSY.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("exec %s: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping checks the database connection.
func (s *Store) Ping() error {
	return s.db.Ping()
}

// Backup writes a consistent copy of the database to path.
func (s *Store) Backup(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("backup target %s already exists", path)
	}
	if _, err := s.db.Exec(`VACUUM INTO ?`, path); err != nil {
		return fmt.Errorf("vacuum into: %w", err)
	}
	return nil
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS agents (
			id                TEXT PRIMARY KEY,
			name              TEXT NOT NULL,
			kind              TEXT NOT NULL,
			specialization    TEXT,
			state             TEXT NOT NULL,
			capabilities      TEXT NOT NULL,
			energy            REAL NOT NULL,
			performance_score REAL NOT NULL,
			tasks_completed   INTEGER DEFAULT 0,
			tasks_failed      INTEGER DEFAULT 0,
			current_task      TEXT,
			created_at        DATETIME NOT NULL,
			last_active       DATETIME NOT NULL,
			updated_at        DATETIME NOT NULL,
			version           INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agents_state ON agents(state)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id                    TEXT PRIMARY KEY,
			description           TEXT NOT NULL,
			kind                  TEXT,
			priority              INTEGER NOT NULL,
			status                TEXT NOT NULL,
			required_capabilities TEXT NOT NULL,
			assigned_agent        TEXT,
			attempts              TEXT NOT NULL,
			timeout_ms            INTEGER NOT NULL,
			max_retries           INTEGER NOT NULL,
			result                TEXT,
			error                 TEXT,
			cancel_reason         TEXT,
			schedule_id           TEXT,
			created_at            DATETIME NOT NULL,
			updated_at            DATETIME NOT NULL,
			not_before            DATETIME,
			version               INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status, priority)`,
		`CREATE TABLE IF NOT EXISTS schedules (
			id           TEXT PRIMARY KEY,
			name         TEXT NOT NULL,
			schedule     TEXT NOT NULL,
			template     TEXT NOT NULL,
			status       TEXT DEFAULT 'active',
			next_run_at  DATETIME,
			last_run_at  DATETIME,
			last_task_id TEXT,
			last_error   TEXT,
			created_at   DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_schedules_next_run ON schedules(status, next_run_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}

	return nil
}

// nullString maps "" to NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func fromNull(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
