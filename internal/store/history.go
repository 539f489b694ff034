package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// LatencySample is one append-only latency observation for a dependency.
type LatencySample struct {
	ID           string
	DependencyID string
	LatencyMS    int64
	RecordedAt   time.Time
}

// ErrorEvent is one row of a dependency's transition-only error log.
// A row with HasError=false is a recovery marker.
type ErrorEvent struct {
	ID           string
	DependencyID string
	Error        string // JSON; empty on recovery rows
	ErrorMessage string
	HasError     bool
	RecordedAt   time.Time
}

// PollEvent is one row of a service's transition-only poll log.
type PollEvent struct {
	ID         string
	ServiceID  string
	Error      string // empty on recovery rows
	HasError   bool
	RecordedAt time.Time
}

// AppendLatencyTx appends a latency sample inside q. Samples with
// latency_ms <= 0 are rejected by the recorder before reaching here.
func (s *Store) AppendLatencyTx(q dbtx, dependencyID string, latencyMS int64, at time.Time) error {
	_, err := q.Exec(`
		INSERT INTO dependency_latency_history (id, dependency_id, latency_ms, recorded_at)
		VALUES (?, ?, ?, ?)
	`, uuid.NewString(), dependencyID, latencyMS, at)
	return err
}

// LatencySince returns latency samples for a dependency recorded at or after
// since, oldest first.
func (s *Store) LatencySince(dependencyID string, since time.Time) ([]*LatencySample, error) {
	rows, err := s.db.Query(`
		SELECT id, dependency_id, latency_ms, recorded_at
		FROM dependency_latency_history
		WHERE dependency_id = ? AND recorded_at >= ?
		ORDER BY recorded_at
	`, dependencyID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []*LatencySample
	for rows.Next() {
		var sample LatencySample
		if err := rows.Scan(&sample.ID, &sample.DependencyID, &sample.LatencyMS, &sample.RecordedAt); err != nil {
			return nil, err
		}
		samples = append(samples, &sample)
	}
	return samples, rows.Err()
}

// CountLatencySamples returns the number of samples recorded for a dependency.
func (s *Store) CountLatencySamples(dependencyID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM dependency_latency_history WHERE dependency_id = ?`, dependencyID).Scan(&n)
	return n, err
}

// LastErrorEventTx returns the most recent error-history row for a dependency
// inside q, or nil if none exists.
func (s *Store) LastErrorEventTx(q dbtx, dependencyID string) (*ErrorEvent, error) {
	row := q.QueryRow(`
		SELECT id, dependency_id, error, error_message, recorded_at
		FROM dependency_error_history
		WHERE dependency_id = ?
		ORDER BY recorded_at DESC, rowid DESC
		LIMIT 1
	`, dependencyID)

	ev, err := scanErrorEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return ev, err
}

func scanErrorEvent(row interface{ Scan(...any) error }) (*ErrorEvent, error) {
	var ev ErrorEvent
	var errJSON, errMsg sql.NullString
	if err := row.Scan(&ev.ID, &ev.DependencyID, &errJSON, &errMsg, &ev.RecordedAt); err != nil {
		return nil, err
	}
	ev.Error = errJSON.String
	ev.ErrorMessage = errMsg.String
	ev.HasError = errJSON.Valid || errMsg.Valid
	return &ev, nil
}

// AppendErrorEventTx appends an error-history row inside q. Pass empty
// strings for both error fields to record a recovery.
func (s *Store) AppendErrorEventTx(q dbtx, dependencyID, errJSON, errMsg string, at time.Time) error {
	var errVal, msgVal any
	if errJSON != "" {
		errVal = errJSON
	}
	if errMsg != "" {
		msgVal = errMsg
	}
	_, err := q.Exec(`
		INSERT INTO dependency_error_history (id, dependency_id, error, error_message, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`, uuid.NewString(), dependencyID, errVal, msgVal, at)
	return err
}

// ListErrorEvents returns a dependency's error history, oldest first.
func (s *Store) ListErrorEvents(dependencyID string) ([]*ErrorEvent, error) {
	rows, err := s.db.Query(`
		SELECT id, dependency_id, error, error_message, recorded_at
		FROM dependency_error_history
		WHERE dependency_id = ?
		ORDER BY recorded_at, rowid
	`, dependencyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*ErrorEvent
	for rows.Next() {
		ev, err := scanErrorEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// LastPollEvent returns the most recent poll-history row for a service, or
// nil if none exists.
func (s *Store) LastPollEvent(serviceID string) (*PollEvent, error) {
	row := s.db.QueryRow(`
		SELECT id, service_id, error, recorded_at
		FROM service_poll_history
		WHERE service_id = ?
		ORDER BY recorded_at DESC, rowid DESC
		LIMIT 1
	`, serviceID)

	ev, err := scanPollEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return ev, err
}

func scanPollEvent(row interface{ Scan(...any) error }) (*PollEvent, error) {
	var ev PollEvent
	var errMsg sql.NullString
	if err := row.Scan(&ev.ID, &ev.ServiceID, &errMsg, &ev.RecordedAt); err != nil {
		return nil, err
	}
	ev.Error = errMsg.String
	ev.HasError = errMsg.Valid
	return &ev, nil
}

// AppendPollEvent appends a service-level poll-history row. Pass an empty
// error to record a recovery.
func (s *Store) AppendPollEvent(serviceID, errMsg string, at time.Time) error {
	var errVal any
	if errMsg != "" {
		errVal = errMsg
	}
	_, err := s.db.Exec(`
		INSERT INTO service_poll_history (id, service_id, error, recorded_at)
		VALUES (?, ?, ?, ?)
	`, uuid.NewString(), serviceID, errVal, at)
	return err
}

// ListPollEvents returns a service's poll history, oldest first.
func (s *Store) ListPollEvents(serviceID string) ([]*PollEvent, error) {
	rows, err := s.db.Query(`
		SELECT id, service_id, error, recorded_at
		FROM service_poll_history
		WHERE service_id = ?
		ORDER BY recorded_at, rowid
	`, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*PollEvent
	for rows.Next() {
		ev, err := scanPollEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// PruneHistoryBefore deletes latency samples and error/poll history rows
// recorded before cutoff. Returns the total number of rows removed.
func (s *Store) PruneHistoryBefore(cutoff time.Time) (int64, error) {
	var total int64
	for _, table := range []string{"dependency_latency_history", "dependency_error_history", "service_poll_history"} {
		res, err := s.db.Exec(`DELETE FROM `+table+` WHERE recorded_at < ?`, cutoff)
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}
