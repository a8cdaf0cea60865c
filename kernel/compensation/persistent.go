package compensation

import (
	"context"
	"time"
)

// Store is the persistence contract a PersistentIncidentManager depends on,
// concretely implemented by adapters/postgres against the
// autonomy_incidents table, a schema symmetrical to approval's
// autonomy_approvals (SPEC_FULL.md §6.2's expansion: not specified by the
// original spec, added so incidents survive a restart the same way
// approvals do).
type Store interface {
	// InsertIncident upserts incident on conflict do nothing by id.
	InsertIncident(ctx context.Context, inc Incident) error
	// UpdateStatus persists a status advance.
	UpdateStatus(ctx context.Context, id string, status IncidentStatus, updatedAt time.Time) error
	// LoadOpen returns every incident whose status is not yet resolved.
	LoadOpen(ctx context.Context) ([]Incident, error)
}

// PersistentIncidentManager mirrors IncidentManager's in-process behavior
// while persisting every open/advance to Store. Persistence failures never
// block incident tracking: they are logged by the caller via the returned
// error from Open/Advance's underlying store call, but the in-memory state
// always proceeds.
type PersistentIncidentManager struct {
	*IncidentManager
	store Store
}

// NewPersistentIncidentManager constructs a PersistentIncidentManager and
// hydrates its in-memory state from every still-open incident in store.
func NewPersistentIncidentManager(ctx context.Context, store Store) (*PersistentIncidentManager, error) {
	mgr := &PersistentIncidentManager{IncidentManager: NewIncidentManager(), store: store}
	open, err := store.LoadOpen(ctx)
	if err != nil {
		return mgr, err
	}
	mgr.mu.Lock()
	for _, inc := range open {
		mgr.incidents[inc.ID] = inc
	}
	mgr.mu.Unlock()
	return mgr, nil
}

// Open records the incident in-memory and persists it, returning the
// in-memory result regardless of a persistence error (the caller may log
// it as a PersistenceWarning).
func (m *PersistentIncidentManager) Open(requestID, tool, riskClass, reason string, compensationOutcome *Outcome) (Incident, error) {
	inc := m.IncidentManager.Open(requestID, tool, riskClass, reason, compensationOutcome)
	err := m.store.InsertIncident(context.Background(), inc)
	return inc, err
}

// Advance mirrors IncidentManager.Advance, additionally persisting the new
// status.
func (m *PersistentIncidentManager) Advance(id string, to IncidentStatus) (Incident, error) {
	inc, err := m.IncidentManager.Advance(id, to)
	if err != nil {
		return inc, err
	}
	if perr := m.store.UpdateStatus(context.Background(), id, to, inc.UpdatedAt); perr != nil {
		return inc, perr
	}
	return inc, nil
}
