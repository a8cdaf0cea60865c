// Package kernelstate implements the KernelStateMachine (component C11) of
// SPEC_FULL.md §4.9: a closed transition table with history retained for
// audit, per the "transitions are data, not a switch" design addition.
package kernelstate

import (
	"sync"
	"time"
)

// State is one of the kernel's closed set of states.
type State string

const (
	StateIdle              State = "idle"
	StateAwaitingApproval  State = "awaiting_approval"
	StateExecuting         State = "executing"
	StateVerifying         State = "verifying"
	StateWritingMemory     State = "writing_memory"
	StateAuditing          State = "auditing"
	StateError             State = "error"
	StateSafeMode          State = "safe_mode"
)

// Trigger is one of the closed set of transition triggers.
type Trigger string

const (
	TriggerToolValidated      Trigger = "tool_validated"
	TriggerApprovalRequired   Trigger = "approval_required"
	TriggerApprovalGranted    Trigger = "approval_granted"
	TriggerApprovalDenied     Trigger = "approval_denied"
	TriggerApprovalExpired    Trigger = "approval_expired"
	TriggerExecutionComplete  Trigger = "execution_complete"
	TriggerVerificationPassed Trigger = "verification_passed"
	TriggerVerificationFailed Trigger = "verification_failed"
	TriggerMemoryWritten      Trigger = "memory_written"
	TriggerAuditComplete      Trigger = "audit_complete"
	TriggerRecover            Trigger = "recover"
	TriggerEnterSafeMode      Trigger = "enter_safe_mode"
	TriggerExitSafeMode       Trigger = "exit_safe_mode"
	TriggerFatalError         Trigger = "fatal_error"
)

// anyState is a wildcard From value matching every current state, used by
// enter_safe_mode and fatal_error edges.
const anyState State = "*"

// Edge is one row of the transition table. Table is exported for
// introspection; the InvariantChecker built-ins do not read it.
type Edge struct {
	From    State
	Trigger Trigger
	To      State
}

// Table is the closed transition set of SPEC_FULL.md §4.9.
var Table = []Edge{
	{StateIdle, TriggerToolValidated, StateExecuting},
	{StateIdle, TriggerApprovalRequired, StateAwaitingApproval},
	{StateAwaitingApproval, TriggerApprovalGranted, StateExecuting},
	{StateAwaitingApproval, TriggerApprovalDenied, StateIdle},
	{StateAwaitingApproval, TriggerApprovalExpired, StateIdle},
	{StateExecuting, TriggerExecutionComplete, StateVerifying},
	{StateVerifying, TriggerVerificationPassed, StateWritingMemory},
	{StateVerifying, TriggerVerificationFailed, StateError},
	{StateWritingMemory, TriggerMemoryWritten, StateAuditing},
	{StateAuditing, TriggerAuditComplete, StateIdle},
	{StateError, TriggerRecover, StateIdle},
	{anyState, TriggerEnterSafeMode, StateSafeMode},
	{StateSafeMode, TriggerExitSafeMode, StateIdle},
	{anyState, TriggerFatalError, StateError},
}

// Transition is a single recorded transition attempt, retained in History
// for audit regardless of acceptance.
type Transition struct {
	Accepted bool
	From     State
	To       State
	Trigger  Trigger
	Reason   string
	At       time.Time
}

// Machine is the KernelStateMachine (C11).
type Machine struct {
	mu      sync.Mutex
	current State
	history []Transition
}

// New constructs a Machine starting in StateIdle.
func New() *Machine {
	return &Machine{current: StateIdle}
}

// Current returns the machine's current state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// History returns every transition attempt recorded so far, accepted or
// not, in chronological order.
func (m *Machine) History() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}

// Transition applies trigger from the machine's current state. A rejected
// trigger never changes state but is still recorded in History.
func (m *Machine) Transition(trigger Trigger) Transition {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.current
	edge, ok := findEdge(from, trigger)
	if !ok {
		t := Transition{Accepted: false, From: from, To: from, Trigger: trigger, Reason: "no matching edge", At: now()}
		m.history = append(m.history, t)
		return t
	}

	m.current = edge.To
	t := Transition{Accepted: true, From: from, To: edge.To, Trigger: trigger, At: now()}
	m.history = append(m.history, t)
	return t
}

func findEdge(from State, trigger Trigger) (Edge, bool) {
	for _, e := range Table {
		if e.Trigger != trigger {
			continue
		}
		if e.From == from || e.From == anyState {
			return e, true
		}
	}
	return Edge{}, false
}

var now = time.Now
