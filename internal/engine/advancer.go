package engine

import (
	"time"

	"github.com/omnivurse/crm-eco-sub011/internal/store"
	"github.com/omnivurse/crm-eco-sub011/internal/timing"
	"github.com/omnivurse/crm-eco-sub011/pkg/schema"
)

// Advance is the cursor move computed after a successful step.
type Advance struct {
	Completed  bool
	Step       *store.Step // next step; nil when Completed
	NextStepAt *time.Time  // nil when Completed
}

// Advancer moves an enrollment to the next step in order.
type Advancer struct{}

// Advance finds the step after the enrollment's current order. Without one
// the enrollment is complete; otherwise the next due time is computed from now.
func (Advancer) Advance(enr *store.Enrollment, seq *store.Sequence, now time.Time) (Advance, error) {
	next := seq.StepAfter(enr.CurrentStepOrder)
	if next == nil {
		return Advance{Completed: true}, nil
	}
	due, err := NextDue(next, seq, now, now)
	if err != nil {
		return Advance{}, err
	}
	return Advance{Step: next, NextStepAt: &due}, nil
}

// NextDue computes when step becomes due, measured from reference.
func NextDue(step *store.Step, seq *store.Sequence, reference, now time.Time) (time.Time, error) {
	c, err := StepConstraints(step, seq.Settings)
	if err != nil {
		return time.Time{}, err
	}
	due, err := timing.NextTime(reference, now, step.Delay, c)
	if err != nil {
		return time.Time{}, schema.NewErrorf(schema.ErrCodeExecution, "compute due time: %s", err.Error()).
			WithCause(err).WithStep(step.ID)
	}
	return due, nil
}

// StepConstraints resolves the send window for step. Email steps use their
// own send time and weekdays, falling back to the sequence settings for
// whichever they leave unset. Other step types are not windowed.
func StepConstraints(step *store.Step, settings schema.SequenceSettings) (timing.Constraints, error) {
	if step.Type != schema.StepTypeEmail {
		return timing.Constraints{}, nil
	}

	sendTime := settings.SendTime
	days := settings.SendDays
	if step.Email != nil {
		if step.Email.SendTime != "" {
			sendTime = step.Email.SendTime
		}
		if len(step.Email.SendDays) > 0 {
			days = step.Email.SendDays
		}
	}

	weekdays, err := timing.ParseWeekdays(days)
	if err != nil {
		return timing.Constraints{}, withStep(err, step.ID)
	}
	loc, err := settings.Location()
	if err != nil {
		return timing.Constraints{}, withStep(err, step.ID)
	}
	return timing.Constraints{SendTime: sendTime, Weekdays: weekdays, Location: loc}, nil
}
