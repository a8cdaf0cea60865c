package compensation

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// IncidentStatus progresses monotonically open -> acknowledged -> resolved,
// per SPEC_FULL.md §4.7.
type IncidentStatus string

const (
	IncidentOpen         IncidentStatus = "open"
	IncidentAcknowledged IncidentStatus = "acknowledged"
	IncidentResolved     IncidentStatus = "resolved"
)

var statusRank = map[IncidentStatus]int{
	IncidentOpen:         0,
	IncidentAcknowledged: 1,
	IncidentResolved:     2,
}

// Incident is the CompensationIncident of SPEC_FULL.md §3.
type Incident struct {
	ID                string
	RequestID         string
	Tool              string
	RiskClass         string
	Reason            string // e.g. "critical_verification_failure", "critical_invariant_violation"
	CompensationOutcome *Outcome
	Status            IncidentStatus
	OpenedAt          time.Time
	UpdatedAt         time.Time
}

func (inc Incident) clone() Incident {
	out := inc
	if inc.CompensationOutcome != nil {
		o := *inc.CompensationOutcome
		out.CompensationOutcome = &o
	}
	return out
}

// IncidentManager tracks incidents opened when a reversible tool fails a
// critical verification or invariant and compensation was either not
// attempted or not successful.
type IncidentManager struct {
	mu        sync.Mutex
	incidents map[string]Incident
	now       func() time.Time
}

// NewIncidentManager constructs an empty IncidentManager.
func NewIncidentManager() *IncidentManager {
	return &IncidentManager{incidents: make(map[string]Incident), now: time.Now}
}

// Open records a new incident and returns a cloned copy.
func (m *IncidentManager) Open(requestID, tool, riskClass, reason string, compensationOutcome *Outcome) Incident {
	ts := m.now()
	inc := Incident{
		ID:                  uuid.NewString(),
		RequestID:           requestID,
		Tool:                tool,
		RiskClass:           riskClass,
		Reason:              reason,
		CompensationOutcome: compensationOutcome,
		Status:              IncidentOpen,
		OpenedAt:            ts,
		UpdatedAt:           ts,
	}
	m.mu.Lock()
	m.incidents[inc.ID] = inc
	m.mu.Unlock()
	return inc.clone()
}

// Advance moves incident id to the next status, rejecting any non-monotonic
// transition.
func (m *IncidentManager) Advance(id string, to IncidentStatus) (Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inc, ok := m.incidents[id]
	if !ok {
		return Incident{}, fmt.Errorf("compensation: unknown incident %q", id)
	}
	if statusRank[to] < statusRank[inc.Status] {
		return Incident{}, fmt.Errorf("compensation: incident %q cannot regress from %q to %q", id, inc.Status, to)
	}
	inc.Status = to
	inc.UpdatedAt = m.now()
	m.incidents[id] = inc
	return inc.clone(), nil
}

// Get returns a cloned copy of incident id.
func (m *IncidentManager) Get(id string) (Incident, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inc, ok := m.incidents[id]
	if !ok {
		return Incident{}, false
	}
	return inc.clone(), true
}

// List returns cloned copies of every tracked incident.
func (m *IncidentManager) List() []Incident {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Incident, 0, len(m.incidents))
	for _, inc := range m.incidents {
		out = append(out, inc.clone())
	}
	return out
}
