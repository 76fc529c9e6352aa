// Package streaming fans enrollment lifecycle events out to in-process
// subscribers such as the MCP notification bridge.
package streaming

import (
	"context"
	"time"

	"github.com/omnivurse/crm-eco-sub011/pkg/schema"
)

// EventType names a lifecycle change.
type EventType string

const (
	EventEnrolled     EventType = "enrollment.enrolled"
	EventStepExecuted EventType = "enrollment.step_executed"
	EventPaused       EventType = "enrollment.paused"
	EventResumed      EventType = "enrollment.resumed"
	EventExited       EventType = "enrollment.exited"
	EventCompleted    EventType = "enrollment.completed"
)

// Event describes one change to one enrollment.
type Event struct {
	Type         EventType               `json:"type"`
	EnrollmentID string                  `json:"enrollment_id"`
	SequenceID   string                  `json:"sequence_id"`
	StepID       string                  `json:"step_id,omitempty"`
	StepOrder    int                     `json:"step_order,omitempty"`
	Status       schema.EnrollmentStatus `json:"status"`
	Reason       string                  `json:"reason,omitempty"`
	At           time.Time               `json:"at"`
}

// Map flattens the event for transports that take loose parameters.
func (e Event) Map() map[string]any {
	m := map[string]any{
		"type":          string(e.Type),
		"enrollment_id": e.EnrollmentID,
		"sequence_id":   e.SequenceID,
		"status":        string(e.Status),
		"at":            e.At.UTC().Format(time.RFC3339),
	}
	if e.StepID != "" {
		m["step_id"] = e.StepID
		m["step_order"] = e.StepOrder
	}
	if e.Reason != "" {
		m["reason"] = e.Reason
	}
	return m
}

// Filter selects the events a subscriber receives. Zero fields match all.
type Filter struct {
	SequenceID   string      `json:"sequence_id,omitempty"`
	EnrollmentID string      `json:"enrollment_id,omitempty"`
	Types        []EventType `json:"types,omitempty"`
}

// Hub is pub/sub for enrollment events. The cancel func returned by
// Subscribe closes the channel.
type Hub interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(ctx context.Context, filter Filter) (<-chan Event, func(), error)
}
