// Package kernelerr implements the error taxonomy of SPEC_FULL.md §7.
// Every pipeline failure is classified into one of a fixed set of kinds so
// callers can branch with errors.Is, while the original cause is preserved
// through an error chain for diagnostics — adapted from the teacher's
// toolerrors.ToolError chain (runtime/agent/toolerrors).
package kernelerr

import (
	"errors"
	"fmt"
)

// Kind classifies a kernel failure per SPEC_FULL.md §7.
type Kind string

// The fixed set of error kinds. Each is also exposed as a sentinel error
// value below so callers can use errors.Is(err, kernelerr.ErrValidation).
const (
	KindValidation                 Kind = "validation_error"
	KindSafeModeRestriction        Kind = "safe_mode_restriction"
	KindApprovalDenied              Kind = "approval_denied"
	KindApprovalExpired              Kind = "approval_expired"
	KindExecutionError              Kind = "execution_error"
	KindCriticalVerificationFailure Kind = "critical_verification_failure"
	KindCriticalInvariantViolation  Kind = "critical_invariant_violation"
	KindCompensationFailure         Kind = "compensation_failure"
	KindStateMachineRejection       Kind = "state_machine_rejection"
	KindPersistenceWarning          Kind = "persistence_warning"
)

// Sentinel errors, one per Kind, usable with errors.Is.
var (
	ErrValidation                 = &KernelError{Kind: KindValidation, Message: "validation failed"}
	ErrSafeModeRestriction        = &KernelError{Kind: KindSafeModeRestriction, Message: "call blocked by safe mode"}
	ErrApprovalDenied              = &KernelError{Kind: KindApprovalDenied, Message: "approval denied"}
	ErrApprovalExpired              = &KernelError{Kind: KindApprovalExpired, Message: "approval expired"}
	ErrExecutionError              = &KernelError{Kind: KindExecutionError, Message: "tool execution failed"}
	ErrCriticalVerificationFailure = &KernelError{Kind: KindCriticalVerificationFailure, Message: "critical post-condition failure"}
	ErrCriticalInvariantViolation  = &KernelError{Kind: KindCriticalInvariantViolation, Message: "critical invariant violation"}
	ErrCompensationFailure         = &KernelError{Kind: KindCompensationFailure, Message: "compensation failed"}
	ErrStateMachineRejection       = &KernelError{Kind: KindStateMachineRejection, Message: "illegal state transition"}
	ErrPersistenceWarning          = &KernelError{Kind: KindPersistenceWarning, Message: "persistence I/O failed"}
)

// KernelError is a structured, chainable kernel failure. Cause links to an
// underlying KernelError or any other error passed to Wrap, so errors.Is/As
// walk the full chain.
type KernelError struct {
	Kind    Kind
	Message string
	Cause   error
}

// New constructs a KernelError of the given kind with no cause.
func New(kind Kind, message string) *KernelError {
	if message == "" {
		message = string(kind)
	}
	return &KernelError{Kind: kind, Message: message}
}

// Newf formats a message and constructs a KernelError of the given kind.
func Newf(kind Kind, format string, args ...any) *KernelError {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap constructs a KernelError of the given kind wrapping cause. If cause
// is nil, Wrap returns nil.
func Wrap(kind Kind, message string, cause error) *KernelError {
	if cause == nil {
		return nil
	}
	if message == "" {
		message = cause.Error()
	}
	return &KernelError{Kind: kind, Message: message, Cause: cause}
}

// Error implements the error interface.
func (e *KernelError) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause to support errors.Is/As.
func (e *KernelError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target is a *KernelError with the same Kind. This lets
// errors.Is(err, kernelerr.ErrValidation) match any KernelError of that kind
// regardless of Message/Cause.
func (e *KernelError) Is(target error) bool {
	t, ok := target.(*KernelError)
	if !ok || e == nil {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf extracts the Kind of err if it is (or wraps) a *KernelError.
// Returns "" if err does not carry a kernel error kind.
func KindOf(err error) Kind {
	var ke *KernelError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return ""
}
