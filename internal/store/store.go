// Package store provides persistent storage for depsdash using SQLite.
// It owns the registry tables (services, dependencies, aliases) and the
// append-only history tables the polling core writes to.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// dbtx is the subset of database/sql shared by *sql.DB and *sql.Tx.
// Accessors that must run inside a poll transaction accept it so the
// same query code serves both paths.
type dbtx interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Store manages the depsdash SQLite database.
// Store handles database migrations automatically on initialization.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore creates a new Store instance with a SQLite database at the given path.
// It creates the data directory if it does not exist and runs database migrations.
// Foreign keys are enabled so service deletion cascades to dependency rows.
func NewStore(dataPath string) (*Store, error) {
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataPath, "depsdash.db")
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{
		db:   db,
		path: dataPath,
	}

	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate creates necessary tables
func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS services (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			team_id TEXT,
			health_endpoint TEXT NOT NULL DEFAULT '',
			metrics_endpoint TEXT,
			poll_interval_ms INTEGER NOT NULL DEFAULT 30000,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			is_external BOOLEAN NOT NULL DEFAULT FALSE,
			schema_config TEXT,
			last_poll_success BOOLEAN,
			last_poll_error TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS dependencies (
			id TEXT PRIMARY KEY,
			service_id TEXT NOT NULL,
			name TEXT NOT NULL,
			canonical_name TEXT,
			description TEXT,
			impact TEXT,
			type TEXT NOT NULL DEFAULT 'other',
			healthy BOOLEAN,
			health_state INTEGER NOT NULL DEFAULT 0,
			health_code INTEGER NOT NULL DEFAULT 0,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			check_details TEXT,
			error TEXT,
			error_message TEXT,
			contact_override TEXT,
			impact_override TEXT,
			last_checked DATETIME,
			last_status_change DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (service_id) REFERENCES services(id) ON DELETE CASCADE,
			UNIQUE(service_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS dependency_aliases (
			id TEXT PRIMARY KEY,
			alias TEXT NOT NULL UNIQUE,
			canonical_name TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS dependency_latency_history (
			id TEXT PRIMARY KEY,
			dependency_id TEXT NOT NULL,
			latency_ms INTEGER NOT NULL,
			recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (dependency_id) REFERENCES dependencies(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS dependency_error_history (
			id TEXT PRIMARY KEY,
			dependency_id TEXT NOT NULL,
			error TEXT,
			error_message TEXT,
			recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (dependency_id) REFERENCES dependencies(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS service_poll_history (
			id TEXT PRIMARY KEY,
			service_id TEXT NOT NULL,
			error TEXT,
			recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (service_id) REFERENCES services(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_services_active ON services(is_active, is_external)`,
		`CREATE INDEX IF NOT EXISTS idx_dependencies_service ON dependencies(service_id)`,
		`CREATE INDEX IF NOT EXISTS idx_dependencies_canonical ON dependencies(canonical_name)`,
		`CREATE INDEX IF NOT EXISTS idx_latency_history_dep ON dependency_latency_history(dependency_id, recorded_at)`,
		`CREATE INDEX IF NOT EXISTS idx_error_history_dep ON dependency_error_history(dependency_id, recorded_at)`,
		`CREATE INDEX IF NOT EXISTS idx_poll_history_service ON service_poll_history(service_id, recorded_at)`,
	}

	for _, migration := range migrations {
		_, err := s.db.Exec(migration)
		if err != nil {
			// Ignore "duplicate column" errors from ALTER TABLE migrations
			// SQLite returns "duplicate column name" when column already exists
			errStr := err.Error()
			if strings.Contains(errStr, "duplicate column") {
				continue
			}
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// WithTx runs fn inside a transaction. The transaction is rolled back if fn
// returns an error or panics, committed otherwise.
func (s *Store) WithTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the database connection and releases resources.
func (s *Store) Close() error {
	return s.db.Close()
}
