package engine

import (
	"slices"

	"github.com/omnivurse/crm-eco-sub011/pkg/schema"
)

// ValidEnrollmentTransitions lists the statuses reachable from each enrollment status.
// completed and exited are terminal. Advancing within active is not a transition.
var ValidEnrollmentTransitions = map[schema.EnrollmentStatus][]schema.EnrollmentStatus{
	schema.EnrollmentActive: {schema.EnrollmentPaused, schema.EnrollmentCompleted, schema.EnrollmentExited},
	schema.EnrollmentPaused: {schema.EnrollmentActive, schema.EnrollmentExited},
}

// ValidSequenceTransitions lists the statuses reachable from each sequence status.
var ValidSequenceTransitions = map[schema.SequenceStatus][]schema.SequenceStatus{
	schema.SequenceStatusDraft:  {schema.SequenceStatusActive, schema.SequenceStatusArchived},
	schema.SequenceStatusActive: {schema.SequenceStatusPaused, schema.SequenceStatusArchived},
	schema.SequenceStatusPaused: {schema.SequenceStatusActive, schema.SequenceStatusArchived},
}

// CheckEnrollmentTransition returns INVALID_TRANSITION unless from -> to is allowed.
func CheckEnrollmentTransition(enrollmentID string, from, to schema.EnrollmentStatus) error {
	if slices.Contains(ValidEnrollmentTransitions[from], to) {
		return nil
	}
	return schema.NewErrorf(schema.ErrCodeInvalidTransition,
		"invalid enrollment transition: %s -> %s", from, to).
		WithDetails(map[string]any{"enrollment_id": enrollmentID, "from": string(from), "to": string(to)})
}

// CheckSequenceTransition returns INVALID_TRANSITION unless from -> to is allowed.
func CheckSequenceTransition(sequenceID string, from, to schema.SequenceStatus) error {
	if slices.Contains(ValidSequenceTransitions[from], to) {
		return nil
	}
	return schema.NewErrorf(schema.ErrCodeInvalidTransition,
		"invalid sequence transition: %s -> %s", from, to).
		WithDetails(map[string]any{"sequence_id": sequenceID, "from": string(from), "to": string(to)})
}
