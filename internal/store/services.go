package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Poll interval bounds in milliseconds. Intervals outside this range are
// rejected at write time.
const (
	MinPollIntervalMS = 5_000
	MaxPollIntervalMS = 3_600_000
)

// Service is a registered service in the health registry.
// The polling core reads every field but only writes last_poll_success and
// last_poll_error; everything else belongs to the CRUD surface.
type Service struct {
	ID              string
	Name            string
	TeamID          string
	HealthEndpoint  string
	MetricsEndpoint string
	PollIntervalMS  int64
	IsActive        bool
	IsExternal      bool
	SchemaConfig    string // opaque JSON parser hint
	LastPollSuccess *bool
	LastPollError   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

const serviceColumns = `id, name, COALESCE(team_id, ''), health_endpoint, COALESCE(metrics_endpoint, ''),
	poll_interval_ms, is_active, is_external, COALESCE(schema_config, ''),
	last_poll_success, COALESCE(last_poll_error, ''), created_at, updated_at`

func scanService(row interface{ Scan(...any) error }) (*Service, error) {
	var svc Service
	var lastPollSuccess sql.NullBool
	err := row.Scan(&svc.ID, &svc.Name, &svc.TeamID, &svc.HealthEndpoint, &svc.MetricsEndpoint,
		&svc.PollIntervalMS, &svc.IsActive, &svc.IsExternal, &svc.SchemaConfig,
		&lastPollSuccess, &svc.LastPollError, &svc.CreatedAt, &svc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastPollSuccess.Valid {
		svc.LastPollSuccess = &lastPollSuccess.Bool
	}
	return &svc, nil
}

// CreateService inserts a new service. A missing ID is generated.
func (s *Store) CreateService(svc *Service) error {
	if svc.ID == "" {
		svc.ID = uuid.NewString()
	}
	if svc.PollIntervalMS == 0 {
		svc.PollIntervalMS = 30_000
	}
	if err := ValidatePollInterval(svc.PollIntervalMS); err != nil {
		return err
	}

	_, err := s.db.Exec(`
		INSERT INTO services (id, name, team_id, health_endpoint, metrics_endpoint, poll_interval_ms, is_active, is_external, schema_config)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, svc.ID, svc.Name, svc.TeamID, svc.HealthEndpoint, svc.MetricsEndpoint, svc.PollIntervalMS, svc.IsActive, svc.IsExternal, svc.SchemaConfig)
	return err
}

// GetService retrieves a service by ID. Returns ErrNotFound if absent.
func (s *Store) GetService(id string) (*Service, error) {
	row := s.db.QueryRow(`SELECT `+serviceColumns+` FROM services WHERE id = ?`, id)
	svc, err := scanService(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return svc, err
}

// ListActivePollable returns active, non-external services with a non-empty
// health endpoint, the set the scheduler tracks each cycle.
func (s *Store) ListActivePollable() ([]*Service, error) {
	rows, err := s.db.Query(`
		SELECT ` + serviceColumns + `
		FROM services
		WHERE is_active = 1 AND is_external = 0 AND health_endpoint != ''
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var services []*Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	return services, rows.Err()
}

// ListServices returns every registered service.
func (s *Store) ListServices() ([]*Service, error) {
	rows, err := s.db.Query(`SELECT ` + serviceColumns + ` FROM services ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var services []*Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	return services, rows.Err()
}

// UpdateService updates the registry-owned fields of a service.
func (s *Store) UpdateService(svc *Service) error {
	if err := ValidatePollInterval(svc.PollIntervalMS); err != nil {
		return err
	}

	res, err := s.db.Exec(`
		UPDATE services
		SET name = ?, team_id = ?, health_endpoint = ?, metrics_endpoint = ?,
			poll_interval_ms = ?, is_active = ?, is_external = ?, schema_config = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, svc.Name, svc.TeamID, svc.HealthEndpoint, svc.MetricsEndpoint,
		svc.PollIntervalMS, svc.IsActive, svc.IsExternal, svc.SchemaConfig, svc.ID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdatePollResult persists the service-level outcome of a poll. The error
// message must already be sanitized by the caller.
func (s *Store) UpdatePollResult(id string, success bool, errMsg string) error {
	var errVal any
	if errMsg != "" {
		errVal = errMsg
	}
	_, err := s.db.Exec(`
		UPDATE services
		SET last_poll_success = ?, last_poll_error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, success, errVal, id)
	return err
}

// DeleteService removes a service. Dependency rows and history cascade.
func (s *Store) DeleteService(id string) error {
	res, err := s.db.Exec(`DELETE FROM services WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ValidatePollInterval rejects intervals outside [5s, 1h].
func ValidatePollInterval(ms int64) error {
	if ms < MinPollIntervalMS || ms > MaxPollIntervalMS {
		return fmt.Errorf("poll_interval_ms must be between %d and %d, got %d", MinPollIntervalMS, MaxPollIntervalMS, ms)
	}
	return nil
}
