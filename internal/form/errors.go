package form

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrBusy           = errors.New("a submission is already in progress")
	ErrLoadInProgress = errors.New("catalog load already in progress")
	ErrNotLoaded      = errors.New("catalog not loaded")
	ErrSubmitted      = errors.New("form already submitted")
)

// ValidationError blocks an action and leaves the form unchanged.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(field string, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ConflictError reports an unpaid draft for the selected customer. Clients
// clear the message after ClearAfter.
type ConflictError struct {
	Message       string
	TransactionID string
	ClearAfter    time.Duration
}

func (e *ConflictError) Error() string {
	return e.Message
}

// CollaboratorError wraps a failed call to the catalog, loyalty or
// transaction backend.
type CollaboratorError struct {
	Op  string
	Err error
}

func (e *CollaboratorError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}
