package poller

import (
	"database/sql"
	"time"

	"github.com/depsdash/depsdash/internal/store"
)

// UnknownPollError is substituted when a service-level poll fails without a
// message, so the transition log still dedupes normally.
const UnknownPollError = "Unknown poll error"

// ErrorHistoryRecorder appends transition-only rows to a dependency's error
// history: a row is written only when the observation differs from the last
// recorded row. Identity is the JSON serialization of the error field; the
// error message accompanies it but does not by itself trigger records.
type ErrorHistoryRecorder struct {
	store *store.Store
}

// NewErrorHistoryRecorder creates a recorder over the given store.
func NewErrorHistoryRecorder(s *store.Store) *ErrorHistoryRecorder {
	return &ErrorHistoryRecorder{store: s}
}

// RecordTx applies the transition rules for one observation inside tx.
// Returns true if a row was written.
//
// First-ever success is silent. An unhealthy observation records unless the
// last row carries identical error JSON. A healthy observation records a
// recovery row only when the last row was an error.
func (r *ErrorHistoryRecorder) RecordTx(tx *sql.Tx, dependencyID string, healthy bool, errJSON, errMsg string, at time.Time) (bool, error) {
	last, err := r.store.LastErrorEventTx(tx, dependencyID)
	if err != nil {
		return false, err
	}

	if healthy {
		// Recovery rows only follow an error row.
		if last == nil || !last.HasError {
			return false, nil
		}
		if err := r.store.AppendErrorEventTx(tx, dependencyID, "", "", at); err != nil {
			return false, err
		}
		return true, nil
	}

	if last != nil && last.HasError && last.Error == errJSON {
		return false, nil // duplicate
	}
	if err := r.store.AppendErrorEventTx(tx, dependencyID, errJSON, errMsg, at); err != nil {
		return false, err
	}
	return true, nil
}

// PollHistoryRecorder appends transition-only rows to a service's poll
// history. Identity is the sanitized error-message string.
type PollHistoryRecorder struct {
	store *store.Store
}

// NewPollHistoryRecorder creates a recorder over the given store.
func NewPollHistoryRecorder(s *store.Store) *PollHistoryRecorder {
	return &PollHistoryRecorder{store: s}
}

// Record applies the transition rules for one poll outcome. The error
// message must already be sanitized. Returns true if a row was written.
func (r *PollHistoryRecorder) Record(serviceID string, success bool, errMsg string, at time.Time) (bool, error) {
	last, err := r.store.LastPollEvent(serviceID)
	if err != nil {
		return false, err
	}

	if success {
		if last == nil || !last.HasError {
			return false, nil
		}
		if err := r.store.AppendPollEvent(serviceID, "", at); err != nil {
			return false, err
		}
		return true, nil
	}

	if errMsg == "" {
		errMsg = UnknownPollError
	}
	if last != nil && last.HasError && last.Error == errMsg {
		return false, nil
	}
	if err := r.store.AppendPollEvent(serviceID, errMsg, at); err != nil {
		return false, err
	}
	return true, nil
}
