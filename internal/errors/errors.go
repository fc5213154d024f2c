package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a Nous error code.
type ErrorCode string

const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST" // 400
	ErrNotFound       ErrorCode = "NOT_FOUND"       // 404
	ErrClaimConflict  ErrorCode = "CLAIM_CONFLICT"  // 409
	ErrStoreCorrupt   ErrorCode = "STORE_CORRUPT"   // 422
	ErrWorkerFailed   ErrorCode = "WORKER_FAILED"   // 502
	ErrWorkerTimeout  ErrorCode = "WORKER_TIMEOUT"  // 504
	ErrInternal       ErrorCode = "INTERNAL"        // 500
)

// NousError represents a structured error with code, status, and details.
type NousError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *NousError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *NousError {
	return &NousError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for a missing entry or store.
func NewNotFound(identifier string) *NousError {
	return &NousError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewClaimConflict creates a 409 error for when project state is claimed
// by a different, still-active session.
func NewClaimConflict(project, holder string) *NousError {
	return &NousError{
		Code:    ErrClaimConflict,
		Status:  409,
		Message: fmt.Sprintf("project state for %q is claimed by session %s", project, holder),
		Details: map[string]any{"project": project, "holder": holder},
	}
}

// NewStoreCorrupt creates a 422 error for unreadable persisted state.
func NewStoreCorrupt(path string, err error) *NousError {
	msg := "store corrupt"
	if err != nil {
		msg = err.Error()
	}
	return &NousError{
		Code:    ErrStoreCorrupt,
		Status:  422,
		Message: fmt.Sprintf("%s: %s", path, msg),
		Details: map[string]any{"path": path},
	}
}

// NewWorkerFailed creates a 502 error for an extraction worker that exited
// abnormally or produced unusable output.
func NewWorkerFailed(lens string, err error) *NousError {
	msg := "worker failed"
	if err != nil {
		msg = err.Error()
	}
	return &NousError{
		Code:    ErrWorkerFailed,
		Status:  502,
		Message: fmt.Sprintf("lens %q: %s", lens, msg),
		Details: map[string]any{"lens": lens},
	}
}

// NewWorkerTimeout creates a 504 error for an extraction worker that exceeded
// its wall-clock budget.
func NewWorkerTimeout(lens string, seconds int) *NousError {
	return &NousError{
		Code:    ErrWorkerTimeout,
		Status:  504,
		Message: fmt.Sprintf("lens %q: worker exceeded %ds timeout", lens, seconds),
		Details: map[string]any{"lens": lens, "timeout_seconds": seconds},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
// The message is generic; the original error is kept in Details for logging.
func NewInternal(err error) *NousError {
	details := map[string]any{}
	if err != nil {
		details["internal_error"] = err.Error()
	}
	return &NousError{
		Code:    ErrInternal,
		Status:  500,
		Message: "an internal error occurred",
		Details: details,
	}
}

// Is checks if an error is (or wraps) a NousError with the given code.
func Is(err error, code ErrorCode) bool {
	var nErr *NousError
	if stderrors.As(err, &nErr) {
		return nErr.Code == code
	}
	return false
}
