package hvd

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrNotImplemented = errors.New("not implemented")
	ErrRunning        = errors.New("machine is running")
)

// ValidationError means that a command or a property value was rejected
// before any side effect took place.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if len(e.Field) == 0 {
		return e.Reason
	}

	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func IsValidationError(err error) bool {
	var e *ValidationError

	return errors.As(err, &e)
}

type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s '%s' not found", e.Kind, e.Name)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// BackendError is returned when the storage backend or the netd peer
// failed to perform an operation.
type BackendError struct {
	Backend string
	Op      string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: %s failed: %s", e.Backend, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

func IsBackendError(err error) bool {
	var e *BackendError

	return errors.As(err, &e)
}

// ProcessControlError is returned when a device open, an ioctl-like call
// or a signal delivery failed.
type ProcessControlError struct {
	Op  string
	PID int
	Err error
}

func (e *ProcessControlError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("%s (pid %d): %s", e.Op, e.PID, e.Err)
	}

	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *ProcessControlError) Unwrap() error {
	return e.Err
}

func IsProcessControlError(err error) bool {
	var e *ProcessControlError

	return errors.As(err, &e)
}
