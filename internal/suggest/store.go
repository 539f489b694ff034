// Package suggest generates canonical-name suggestions for freshly observed
// dependencies. Suggestions live in their own SQLite database so admin
// tooling can truncate or rebuild them without touching the registry.
package suggest

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Suggestion is one proposed alias mapping awaiting review.
type Suggestion struct {
	ID                 string
	DependencyID       string
	Name               string
	SuggestedCanonical string
	Score              float64
	CreatedAt          time.Time
}

// Store persists alias suggestions. It uses the pure-Go sqlite driver so the
// suggestion database stays portable.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if needed) the suggestions database under
// dataPath.
func NewStore(dataPath string) (*Store, error) {
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataPath, "suggestions.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open suggestions database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate suggestions database: %w", err)
	}
	return store, nil
}

// migrate creates necessary tables
func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS alias_suggestions (
			id TEXT PRIMARY KEY,
			dependency_id TEXT NOT NULL,
			name TEXT NOT NULL,
			suggested_canonical TEXT NOT NULL,
			score REAL NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(dependency_id, suggested_canonical)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alias_suggestions_name ON alias_suggestions(name)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			if strings.Contains(err.Error(), "duplicate column") {
				continue
			}
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Save inserts a suggestion. Duplicate (dependency, canonical) pairs are
// ignored.
func (s *Store) Save(sg *Suggestion) error {
	if sg.ID == "" {
		sg.ID = uuid.NewString()
	}
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO alias_suggestions (id, dependency_id, name, suggested_canonical, score)
		VALUES (?, ?, ?, ?, ?)
	`, sg.ID, sg.DependencyID, sg.Name, sg.SuggestedCanonical, sg.Score)
	return err
}

// List returns all suggestions, best score first.
func (s *Store) List() ([]*Suggestion, error) {
	rows, err := s.db.Query(`
		SELECT id, dependency_id, name, suggested_canonical, score, created_at
		FROM alias_suggestions
		ORDER BY score DESC, created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Suggestion
	for rows.Next() {
		var sg Suggestion
		if err := rows.Scan(&sg.ID, &sg.DependencyID, &sg.Name, &sg.SuggestedCanonical, &sg.Score, &sg.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &sg)
	}
	return out, rows.Err()
}

// DeleteForDependency removes all suggestions for a dependency, typically
// after an alias was accepted.
func (s *Store) DeleteForDependency(dependencyID string) error {
	_, err := s.db.Exec(`DELETE FROM alias_suggestions WHERE dependency_id = ?`, dependencyID)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
