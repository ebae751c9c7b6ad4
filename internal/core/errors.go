package core

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned when the principal lacks canChangeState.
	ErrUnauthorized = errors.New("not allowed to change the state of this task")
	// ErrInvalidPrecondition is returned when BLOCKED is requested from a
	// state other than IN_ANALYSIS or IN_DEVELOPMENT.
	ErrInvalidPrecondition = errors.New("a task can only be blocked while in analysis or in development")
	// ErrEditForbidden is returned when the principal lacks canEditTask.
	ErrEditForbidden = errors.New("not allowed to edit this task")
	// ErrEmptyReason is returned when a captured reason is empty after trimming.
	ErrEmptyReason = errors.New("a reason is required for this transition")
	// ErrNoPendingTransition is returned when a reason is submitted with no
	// matching pending target.
	ErrNoPendingTransition = errors.New("no pending transition for this task")
	// ErrInvalidState is returned for targets outside the fixed state set.
	ErrInvalidState = errors.New("invalid task state")
	// ErrNoTask is returned when the engine has not loaded a task yet.
	ErrNoTask = errors.New("no task loaded")
	// ErrSessionExpired is returned when the authority answers 401.
	ErrSessionExpired = errors.New("session expired, log in again")
)

// RejectedError is a 4xx answer from the authority to an otherwise locally
// valid request. Message is the server's text, verbatim when available.
type RejectedError struct {
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("rejected by server (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("rejected by server (status %d): %s", e.StatusCode, e.Message)
}

// TransportError wraps network failures, timeouts and unexpected statuses.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Operation names the sync call an error came from.
type Operation string

const (
	OpLoad       Operation = "load"
	OpTransition Operation = "transition"
	OpEdit       Operation = "edit"
)

// OperationError records which sync call failed. Msg describes the call in
// the error text; Err is the failure returned by the API.
type OperationError struct {
	Op  Operation
	Msg string
	Err error
}

func (e *OperationError) Error() string {
	return e.Msg + ": " + e.Err.Error()
}

func (e *OperationError) Unwrap() error { return e.Err }

// transportMessage is the generic text for a transport failure during op.
func transportMessage(op Operation) string {
	switch op {
	case OpLoad:
		return "loading the task failed"
	case OpTransition:
		return "state transition failed"
	case OpEdit:
		return "saving the task failed"
	default:
		return "the server could not be reached"
	}
}

// ErrorKind names the error taxonomy bucket, used for event logging.
func ErrorKind(err error) string {
	var rejected *RejectedError
	var transport *TransportError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrEditForbidden):
		return "unauthorized"
	case errors.Is(err, ErrInvalidPrecondition):
		return "invalid_precondition"
	case errors.Is(err, ErrEmptyReason):
		return "empty_reason"
	case errors.Is(err, ErrSessionExpired):
		return "session_expired"
	case errors.As(err, &rejected):
		return "validation_rejected"
	case errors.As(err, &transport):
		return "transport_failure"
	default:
		return "error"
	}
}

// UserMessage turns any engine error into the text shown to the user.
// Server rejections are shown verbatim; transport failures stay generic and
// name the operation that failed when it is known.
func UserMessage(err error) string {
	var rejected *RejectedError
	var transport *TransportError
	var opErr *OperationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &rejected):
		if rejected.Message != "" {
			return rejected.Message
		}
		return "the server rejected the change"
	case errors.Is(err, ErrSessionExpired):
		return ErrSessionExpired.Error()
	case errors.As(err, &transport):
		if errors.As(err, &opErr) {
			return transportMessage(opErr.Op)
		}
		return transportMessage("")
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrEditForbidden),
		errors.Is(err, ErrInvalidPrecondition),
		errors.Is(err, ErrEmptyReason),
		errors.Is(err, ErrNoPendingTransition),
		errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrNoTask):
		return unwrapSentinel(err)
	default:
		return err.Error()
	}
}

// unwrapSentinel returns the message of the innermost error in the chain.
func unwrapSentinel(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}
