package model

import (
	"time"
)

// RunStatus represents the lifecycle state of a trigger run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusUploading RunStatus = "UPLOADING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
)

// Valid reports whether s is one of the defined states.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusRunning, RunStatusUploading, RunStatusCompleted, RunStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed from s.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// CanTransition reports whether a run may move from s to next.
// RUNNING is the only initial state; COMPLETED and FAILED are terminal.
func (s RunStatus) CanTransition(next RunStatus) bool {
	switch s {
	case RunStatusRunning:
		return next == RunStatusUploading || next == RunStatusCompleted || next == RunStatusFailed
	case RunStatusUploading:
		return next == RunStatusRunning || next == RunStatusCompleted || next == RunStatusFailed
	default:
		return false
	}
}

// Trigger is a named, schedulable pipeline configuration.
type Trigger struct {
	ID          string        `json:"id"`
	TenantID    string        `json:"tenant_id" validate:"required"`
	Emoji       string        `json:"emoji,omitempty"`
	Name        string        `json:"name" validate:"required,max=200"`
	Description string        `json:"description,omitempty"`
	Interval    time.Duration `json:"interval" validate:"required,min=1m"`
	LastRun     *time.Time    `json:"last_run,omitempty"`
	NextRun     *time.Time    `json:"next_run,omitempty"`
	Active      bool          `json:"active"`
	Blocks      []Block       `json:"blocks" validate:"required,min=1,dive"`
	Blacklist   Blacklist     `json:"blacklist,omitempty"`
	Version     int64         `json:"version"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Due reports whether the trigger should be dispatched at now. Inactive
// triggers are never due; a trigger that has never run is always due.
func (t *Trigger) Due(now time.Time) bool {
	if !t.Active {
		return false
	}
	if t.NextRun == nil {
		return true
	}
	return !now.Before(*t.NextRun)
}

// Reschedule records a successful run finishing at now.
func (t *Trigger) Reschedule(now time.Time) {
	last := now
	next := now.Add(t.Interval)
	t.LastRun = &last
	t.NextRun = &next
}

// TriggerRun is one execution of a Trigger.
type TriggerRun struct {
	ID             string         `json:"id"`
	TriggerID      string         `json:"trigger_id"`
	RunAt          time.Time      `json:"run_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	Status         RunStatus      `json:"status"`
	StatusMessage  string         `json:"status_message,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CandidateCount int            `json:"candidate_count"`
}

// Duration returns the wall time of a finished run, or zero while in flight.
func (r *TriggerRun) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.RunAt)
}

// TriggerCandidate is the audit snapshot of a person accepted by an upload
// action during a run.
type TriggerCandidate struct {
	ID         string         `json:"id"`
	RunID      string         `json:"run_id"`
	TriggerID  string         `json:"trigger_id"`
	FirstName  string         `json:"first_name"`
	LastName   string         `json:"last_name"`
	Title      string         `json:"title,omitempty"`
	Company    string         `json:"company,omitempty"`
	ProfileURL string         `json:"profile_url"`
	CustomData map[string]any `json:"custom_data,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// FullName joins first and last name.
func (c TriggerCandidate) FullName() string {
	return joinName(c.FirstName, c.LastName)
}
