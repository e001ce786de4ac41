package model

import (
	"fmt"
	"time"
)

// CollaboratorError reports a failed or timed-out call to an external service.
type CollaboratorError struct {
	Service string
	Op      string
	Err     error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Service, e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// NewCollaboratorError wraps err as a failure of service.op.
func NewCollaboratorError(service, op string, err error) *CollaboratorError {
	return &CollaboratorError{Service: service, Op: op, Err: err}
}

// MalformedBlockError reports an unknown or corrupt block encoding.
type MalformedBlockError struct {
	Tag    string
	Reason string
}

func (e *MalformedBlockError) Error() string {
	if e.Tag == "" {
		return "malformed block: " + e.Reason
	}
	return fmt.Sprintf("malformed block %q: %s", e.Tag, e.Reason)
}

// RunTimeoutError reports that a run exceeded its overall deadline.
type RunTimeoutError struct {
	TriggerID string
	Deadline  time.Duration
}

func (e *RunTimeoutError) Error() string {
	return fmt.Sprintf("trigger %s: run exceeded deadline of %s", e.TriggerID, e.Deadline)
}

// ConfigurationError reports an invalid trigger configuration.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "invalid trigger configuration: " + e.Reason
	}
	return fmt.Sprintf("invalid trigger configuration: %s: %s", e.Field, e.Reason)
}
