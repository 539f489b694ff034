package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Dependency health states.
const (
	HealthStateOK       = 0
	HealthStateWarn     = 1
	HealthStateCritical = 2
)

// Dependency is one reported capability of a service, keyed by
// (service_id, name). The polled fields are rewritten on every upsert;
// contact_override and impact_override are user-edited and never touched
// by the polling path.
type Dependency struct {
	ID               string
	ServiceID        string
	Name             string
	CanonicalName    *string
	Description      string
	Impact           string
	Type             string
	Healthy          *bool // nil until first observation
	HealthState      int
	HealthCode       int
	LatencyMS        int64
	CheckDetails     string // opaque JSON
	Error            string // opaque JSON
	ErrorMessage     string
	ContactOverride  string
	ImpactOverride   string
	LastChecked      time.Time
	LastStatusChange time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

const dependencyColumns = `id, service_id, name, canonical_name, COALESCE(description, ''), COALESCE(impact, ''),
	type, healthy, health_state, health_code, latency_ms,
	COALESCE(check_details, ''), COALESCE(error, ''), COALESCE(error_message, ''),
	COALESCE(contact_override, ''), COALESCE(impact_override, ''),
	last_checked, last_status_change, created_at, updated_at`

func scanDependency(row interface{ Scan(...any) error }) (*Dependency, error) {
	var dep Dependency
	var canonical sql.NullString
	var healthy sql.NullBool
	var lastChecked, lastStatusChange sql.NullTime
	err := row.Scan(&dep.ID, &dep.ServiceID, &dep.Name, &canonical, &dep.Description, &dep.Impact,
		&dep.Type, &healthy, &dep.HealthState, &dep.HealthCode, &dep.LatencyMS,
		&dep.CheckDetails, &dep.Error, &dep.ErrorMessage,
		&dep.ContactOverride, &dep.ImpactOverride,
		&lastChecked, &lastStatusChange, &dep.CreatedAt, &dep.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if canonical.Valid {
		dep.CanonicalName = &canonical.String
	}
	if healthy.Valid {
		dep.Healthy = &healthy.Bool
	}
	if lastChecked.Valid {
		dep.LastChecked = lastChecked.Time
	}
	if lastStatusChange.Valid {
		dep.LastStatusChange = lastStatusChange.Time
	}
	return &dep, nil
}

// GetDependencyTx retrieves a dependency by (service_id, name) inside q.
// Returns ErrNotFound if absent.
func (s *Store) GetDependencyTx(q dbtx, serviceID, name string) (*Dependency, error) {
	row := q.QueryRow(`SELECT `+dependencyColumns+` FROM dependencies WHERE service_id = ? AND name = ?`, serviceID, name)
	dep, err := scanDependency(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return dep, err
}

// GetDependency retrieves a dependency by (service_id, name).
func (s *Store) GetDependency(serviceID, name string) (*Dependency, error) {
	return s.GetDependencyTx(s.db, serviceID, name)
}

// GetDependencyByID retrieves a dependency row by its primary key.
func (s *Store) GetDependencyByID(id string) (*Dependency, error) {
	row := s.db.QueryRow(`SELECT `+dependencyColumns+` FROM dependencies WHERE id = ?`, id)
	dep, err := scanDependency(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return dep, err
}

// ListDependencies returns all dependencies for a service, ordered by name.
func (s *Store) ListDependencies(serviceID string) ([]*Dependency, error) {
	rows, err := s.db.Query(`SELECT `+dependencyColumns+` FROM dependencies WHERE service_id = ? ORDER BY name`, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deps []*Dependency
	for rows.Next() {
		dep, err := scanDependency(rows)
		if err != nil {
			return nil, err
		}
		deps = append(deps, dep)
	}
	return deps, rows.Err()
}

// InsertDependencyTx inserts a freshly observed dependency inside q.
// A missing ID is generated. last_status_change is set to now: the first
// observation counts as a status transition.
func (s *Store) InsertDependencyTx(q dbtx, dep *Dependency) error {
	if dep.ID == "" {
		dep.ID = uuid.NewString()
	}
	var canonical any
	if dep.CanonicalName != nil {
		canonical = *dep.CanonicalName
	}
	var healthy any
	if dep.Healthy != nil {
		healthy = *dep.Healthy
	}

	_, err := q.Exec(`
		INSERT INTO dependencies (id, service_id, name, canonical_name, description, impact, type,
			healthy, health_state, health_code, latency_ms, check_details, error, error_message,
			last_checked, last_status_change)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, dep.ID, dep.ServiceID, dep.Name, canonical, dep.Description, dep.Impact, dep.Type,
		healthy, dep.HealthState, dep.HealthCode, dep.LatencyMS, dep.CheckDetails, dep.Error, dep.ErrorMessage,
		dep.LastChecked, dep.LastStatusChange)
	return err
}

// UpdateDependencyPolledTx rewrites the polled fields of an existing row
// inside q. The column list is explicit: contact_override and impact_override
// are user-owned and must never appear here. last_status_change is passed by
// the caller, which advances it only when healthy actually flipped.
func (s *Store) UpdateDependencyPolledTx(q dbtx, dep *Dependency) error {
	var canonical any
	if dep.CanonicalName != nil {
		canonical = *dep.CanonicalName
	}
	var healthy any
	if dep.Healthy != nil {
		healthy = *dep.Healthy
	}

	_, err := q.Exec(`
		UPDATE dependencies
		SET canonical_name = ?, description = ?, impact = ?, type = ?,
			healthy = ?, health_state = ?, health_code = ?, latency_ms = ?,
			check_details = ?, error = ?, error_message = ?,
			last_checked = ?, last_status_change = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, canonical, dep.Description, dep.Impact, dep.Type,
		healthy, dep.HealthState, dep.HealthCode, dep.LatencyMS,
		dep.CheckDetails, dep.Error, dep.ErrorMessage,
		dep.LastChecked, dep.LastStatusChange, dep.ID)
	return err
}
