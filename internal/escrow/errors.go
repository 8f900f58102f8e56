package escrow

import (
	"errors"
	"fmt"

	"escrowhub/internal/model"
)

// Store sentinels. Backends wrap these with fmt.Errorf("...: %w").
var (
	ErrNotFound  = errors.New("document not found")
	ErrConflict  = errors.New("concurrent modification detected")
	ErrDuplicate = errors.New("unique constraint violated")
)

// NotFoundError reports a missing payment, contract, milestone or notification.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// InvalidTransitionError reports a move the state graph does not allow.
type InvalidTransitionError struct {
	Entity string
	ID     string
	From   string
	Action string
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("%s %s: cannot %s from %q", e.Entity, e.ID, e.Action, e.From)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// InconsistentStateError reports a provider callback that contradicts what
// is recorded. It needs manual reconciliation and is never retried.
type InconsistentStateError struct {
	PaymentID             string
	Kind                  model.AnomalyKind
	Status                model.PaymentStatus
	StoredTransactionID   string
	ReceivedTransactionID string
	Detail                string
}

func (e *InconsistentStateError) Error() string {
	return fmt.Sprintf("payment %s inconsistent (%s): %s", e.PaymentID, e.Kind, e.Detail)
}

// ForbiddenError reports an actor without authority for the action.
type ForbiddenError struct {
	ActorID string
	Action  string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("actor %q may not %s", e.ActorID, e.Action)
}

// TransientError reports store contention or a timeout that outlived the
// internal retries. Callers may retry; operations are idempotent.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// ContractLockedError reports a client action on a contract under dispute.
type ContractLockedError struct {
	ContractID string
}

func (e *ContractLockedError) Error() string {
	return fmt.Sprintf("contract %s is locked by an open dispute", e.ContractID)
}

// ValidationError reports malformed input, rejected before any state is read.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

func IsInvalidTransition(err error) bool {
	var e *InvalidTransitionError
	return errors.As(err, &e)
}

func IsInconsistentState(err error) bool {
	var e *InconsistentStateError
	return errors.As(err, &e)
}

func IsForbidden(err error) bool {
	var e *ForbiddenError
	return errors.As(err, &e)
}

func IsTransient(err error) bool {
	var e *TransientError
	return errors.As(err, &e)
}

func IsContractLocked(err error) bool {
	var e *ContractLockedError
	return errors.As(err, &e)
}

func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// isDomainError reports errors that carry a decision and must not be retried.
func isDomainError(err error) bool {
	return IsNotFound(err) || IsInvalidTransition(err) || IsInconsistentState(err) ||
		IsForbidden(err) || IsContractLocked(err) || IsValidation(err)
}

// Code returns the stable error code exposed to API callers.
func Code(err error) string {
	switch {
	case IsValidation(err):
		return "validation_failed"
	case IsNotFound(err):
		return "not_found"
	case IsForbidden(err):
		return "forbidden"
	case IsContractLocked(err):
		return "contract_locked"
	case IsInvalidTransition(err):
		return "invalid_transition"
	case IsInconsistentState(err):
		return "inconsistent_state"
	case IsTransient(err):
		return "temporarily_unavailable"
	default:
		return "internal_error"
	}
}
