package poller

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/depsdash/depsdash/internal/logging"
	"github.com/depsdash/depsdash/internal/store"
)

// StatusChange is emitted when a dependency's healthy flag flips between
// polls.
type StatusChange struct {
	ServiceID       string    `json:"service_id"`
	ServiceName     string    `json:"service_name"`
	DependencyName  string    `json:"dependency_name"`
	PreviousHealthy bool      `json:"previous_healthy"`
	CurrentHealthy  bool      `json:"current_healthy"`
	Timestamp       time.Time `json:"timestamp"`
}

// Suggester receives the IDs of freshly inserted dependencies for background
// canonical-name suggestion. Implementations must be best-effort; the upsert
// engine logs and ignores their failures.
type Suggester interface {
	SuggestAsync(dependencyIDs []string)
}

// UpsertEngine commits parsed dependency statuses for one poll: alias
// resolution, insert-or-update, transition detection, error-history append,
// and latency samples, all inside a single transaction.
type UpsertEngine struct {
	store     *store.Store
	recorder  *ErrorHistoryRecorder
	suggester Suggester
	logger    *slog.Logger
}

// NewUpsertEngine creates an engine. The suggester may be nil.
func NewUpsertEngine(s *store.Store, suggester Suggester) *UpsertEngine {
	return &UpsertEngine{
		store:     s,
		recorder:  NewErrorHistoryRecorder(s),
		suggester: suggester,
		logger:    logging.WithComponent("upsert"),
	}
}

// Upsert commits statuses for svc and returns the accumulated status
// changes. The whole batch runs in one transaction; on error everything
// rolls back and no events should be emitted by the caller.
func (e *UpsertEngine) Upsert(svc *store.Service, statuses []DependencyStatus, now time.Time) ([]StatusChange, error) {
	var changes []StatusChange
	var insertedIDs []string

	err := e.store.WithTx(func(tx *sql.Tx) error {
		for _, status := range statuses {
			change, insertedID, err := e.upsertOne(tx, svc, status, now)
			if err != nil {
				return fmt.Errorf("failed to upsert dependency %q: %w", status.Name, err)
			}
			if change != nil {
				changes = append(changes, *change)
			}
			if insertedID != "" {
				insertedIDs = append(insertedIDs, insertedID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// New-arrival hook is best-effort and runs outside the transaction.
	if e.suggester != nil && len(insertedIDs) > 0 {
		e.suggester.SuggestAsync(insertedIDs)
	}

	return changes, nil
}

// upsertOne commits a single dependency status. Returns a status change if
// healthy flipped, and the row ID if the row was freshly inserted.
func (e *UpsertEngine) upsertOne(tx *sql.Tx, svc *store.Service, status DependencyStatus, now time.Time) (*StatusChange, string, error) {
	canonical, err := e.store.ResolveAliasTx(tx, status.Name)
	if err != nil {
		return nil, "", err
	}

	healthy := status.Healthy
	existing, err := e.store.GetDependencyTx(tx, svc.ID, status.Name)
	if err != nil && err != store.ErrNotFound {
		return nil, "", err
	}

	var change *StatusChange
	var insertedID string

	if existing == nil {
		dep := &store.Dependency{
			ServiceID:        svc.ID,
			Name:             status.Name,
			CanonicalName:    canonical,
			Description:      status.Description,
			Impact:           status.Impact,
			Type:             status.Type,
			Healthy:          &healthy,
			HealthState:      status.HealthState,
			HealthCode:       status.HealthCode,
			LatencyMS:        status.LatencyMS,
			CheckDetails:     status.CheckDetails,
			Error:            status.Error,
			ErrorMessage:     status.ErrorMessage,
			LastChecked:      status.LastChecked,
			LastStatusChange: now,
		}
		if err := e.store.InsertDependencyTx(tx, dep); err != nil {
			return nil, "", err
		}
		existing = dep
		insertedID = dep.ID
	} else {
		lastStatusChange := existing.LastStatusChange
		flipped := existing.Healthy != nil && *existing.Healthy != healthy
		if flipped {
			lastStatusChange = now
			change = &StatusChange{
				ServiceID:       svc.ID,
				ServiceName:     svc.Name,
				DependencyName:  status.Name,
				PreviousHealthy: *existing.Healthy,
				CurrentHealthy:  healthy,
				Timestamp:       now,
			}
		} else if existing.Healthy == nil {
			// First real observation of a row that predates health data.
			lastStatusChange = now
		}

		existing.CanonicalName = canonical
		existing.Description = status.Description
		existing.Impact = status.Impact
		existing.Type = status.Type
		existing.Healthy = &healthy
		existing.HealthState = status.HealthState
		existing.HealthCode = status.HealthCode
		existing.LatencyMS = status.LatencyMS
		existing.CheckDetails = status.CheckDetails
		existing.Error = status.Error
		existing.ErrorMessage = status.ErrorMessage
		existing.LastChecked = status.LastChecked
		existing.LastStatusChange = lastStatusChange

		if err := e.store.UpdateDependencyPolledTx(tx, existing); err != nil {
			return nil, "", err
		}
	}

	if _, err := e.recorder.RecordTx(tx, existing.ID, healthy, status.Error, status.ErrorMessage, now); err != nil {
		return nil, "", err
	}

	if status.LatencyMS > 0 {
		if err := e.store.AppendLatencyTx(tx, existing.ID, status.LatencyMS, now); err != nil {
			return nil, "", err
		}
	}

	return change, insertedID, nil
}
