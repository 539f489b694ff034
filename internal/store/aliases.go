package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// DependencyAlias maps a reported dependency name to a canonical name used
// for cross-service grouping. Managed by admin tooling, consulted on every
// upsert.
type DependencyAlias struct {
	ID            string
	Alias         string
	CanonicalName string
	CreatedAt     time.Time
}

// CreateAlias inserts an alias mapping. Alias names are unique.
func (s *Store) CreateAlias(alias, canonicalName string) (*DependencyAlias, error) {
	a := &DependencyAlias{
		ID:            uuid.NewString(),
		Alias:         alias,
		CanonicalName: canonicalName,
	}
	_, err := s.db.Exec(`
		INSERT INTO dependency_aliases (id, alias, canonical_name) VALUES (?, ?, ?)
	`, a.ID, a.Alias, a.CanonicalName)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ResolveAliasTx looks up the canonical name for a dependency name inside q.
// Returns nil (not an error) when no alias exists.
func (s *Store) ResolveAliasTx(q dbtx, name string) (*string, error) {
	var canonical string
	err := q.QueryRow(`SELECT canonical_name FROM dependency_aliases WHERE alias = ?`, name).Scan(&canonical)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &canonical, nil
}

// ResolveAlias looks up the canonical name for a dependency name.
func (s *Store) ResolveAlias(name string) (*string, error) {
	return s.ResolveAliasTx(s.db, name)
}

// ListAliases returns all alias mappings ordered by alias.
func (s *Store) ListAliases() ([]*DependencyAlias, error) {
	rows, err := s.db.Query(`SELECT id, alias, canonical_name, created_at FROM dependency_aliases ORDER BY alias`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var aliases []*DependencyAlias
	for rows.Next() {
		var a DependencyAlias
		if err := rows.Scan(&a.ID, &a.Alias, &a.CanonicalName, &a.CreatedAt); err != nil {
			return nil, err
		}
		aliases = append(aliases, &a)
	}
	return aliases, rows.Err()
}

// ListCanonicalNames returns the distinct canonical names known to the alias
// table. Used by the suggestion matcher.
func (s *Store) ListCanonicalNames() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT canonical_name FROM dependency_aliases ORDER BY canonical_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// DeleteAlias removes an alias mapping.
func (s *Store) DeleteAlias(alias string) error {
	res, err := s.db.Exec(`DELETE FROM dependency_aliases WHERE alias = ?`, alias)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
