// Package domain holds the records the orchestrator produces.
package domain

import (
	"time"

	"github.com/aescanero/reactor/pkg/events"
)

// GenerationStatus is the aggregate state of one orchestrator invocation.
type GenerationStatus string

const (
	GenerationRunning   GenerationStatus = "running"
	GenerationCompleted GenerationStatus = "completed"
	GenerationFailed    GenerationStatus = "failed"
)

// ActionStatus is the state of one action within a generation.
type ActionStatus string

const (
	ActionStarted   ActionStatus = "started"
	ActionCompleted ActionStatus = "completed"
	ActionFailed    ActionStatus = "failed"
)

// ActionProgress is the latest known state of one action.
type ActionProgress struct {
	ActionName string       `json:"action_name"`
	Status     ActionStatus `json:"status"`
	Timestamp  time.Time    `json:"timestamp"`
	Error      string       `json:"error,omitempty"`
}

// Settled reports whether the action has finished.
func (p ActionProgress) Settled() bool {
	return p.Status == ActionCompleted || p.Status == ActionFailed
}

// GenerationRecord tracks the actions started for a single change event.
type GenerationRecord struct {
	ID               string                    `json:"id"`
	ChangeType       events.ChangeType         `json:"change_type"`
	EventID          string                    `json:"event_id"`
	Status           GenerationStatus          `json:"status"`
	StartTime        time.Time                 `json:"start_time"`
	EndTime          *time.Time                `json:"end_time,omitempty"`
	TotalActions     int                       `json:"total_actions"`
	CompletedActions int                       `json:"completed_actions"`
	CurrentAction    string                    `json:"current_action,omitempty"`
	Error            string                    `json:"error,omitempty"`
	ActionProgress   map[string]ActionProgress `json:"action_progress"`
}

// Running reports whether the record still has unsettled actions.
func (r *GenerationRecord) Running() bool {
	return r.Status == GenerationRunning
}

// Clone returns a deep copy safe to hand out of the orchestrator.
func (r *GenerationRecord) Clone() *GenerationRecord {
	out := *r
	if r.EndTime != nil {
		end := *r.EndTime
		out.EndTime = &end
	}
	out.ActionProgress = make(map[string]ActionProgress, len(r.ActionProgress))
	for name, p := range r.ActionProgress {
		out.ActionProgress[name] = p
	}
	return &out
}
