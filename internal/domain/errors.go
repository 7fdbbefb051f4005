package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no task has the requested id.
	ErrNotFound = errors.New("task not found")

	// ErrDuplicateID is returned when a task with the same id already exists.
	ErrDuplicateID = errors.New("task id already exists")

	// ErrUnknownTaskType is returned by submit when no handler is registered
	// for the requested task type. No record is created.
	ErrUnknownTaskType = errors.New("unknown task type")

	// ErrInvalidState is returned when an operation is not allowed in the
	// task's current status, e.g. updating a terminal record or retrying a
	// task that did not fail.
	ErrInvalidState = errors.New("invalid task state")
)

// HandlerError is a failure raised while a handler was running. It is
// recorded on the task and never returned to the submitter.
type HandlerError struct {
	TaskType string
	Message  string
	Err      error
}

func (e *HandlerError) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *HandlerError) Unwrap() error { return e.Err }
