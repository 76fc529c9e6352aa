package engine

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/omnivurse/crm-eco-sub011/internal/store"
	"github.com/omnivurse/crm-eco-sub011/pkg/schema"
)

// SignalRequest records a side-channel event against an enrollment.
type SignalRequest struct {
	EnrollmentID string            `json:"enrollment_id" validate:"required"`
	Type         schema.SignalType `json:"event_type" validate:"required,oneof=open click reply bounce unsubscribe"`
	Payload      json.RawMessage   `json:"payload,omitempty"`
}

// EnrollmentStatus is the read view of one enrollment.
type EnrollmentStatus struct {
	Enrollment *store.Enrollment      `json:"enrollment"`
	Executions []*store.StepExecution `json:"executions"`
	Signals    []*store.Signal        `json:"signals"`
}

// Pause stops an active enrollment without moving its cursor. The due time
// is kept so Resume picks up where it left off.
func (e *Engine) Pause(ctx context.Context, enrollmentID, reason string) (*store.Enrollment, error) {
	enr, err := e.getEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	if err := CheckEnrollmentTransition(enr.ID, enr.Status, schema.EnrollmentPaused); err != nil {
		return nil, err
	}
	return e.transition(ctx, enr, store.Transition{
		Status:     schema.EnrollmentPaused,
		NextStepAt: enr.NextStepAt,
		ExitReason: reason,
	})
}

// Resume reactivates a paused enrollment. A missing due time resumes it
// immediately.
func (e *Engine) Resume(ctx context.Context, enrollmentID string) (*store.Enrollment, error) {
	enr, err := e.getEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	if err := CheckEnrollmentTransition(enr.ID, enr.Status, schema.EnrollmentActive); err != nil {
		return nil, err
	}
	next := enr.NextStepAt
	if next == nil {
		now := e.clock.Now()
		next = &now
	}
	return e.transition(ctx, enr, store.Transition{
		Status:     schema.EnrollmentActive,
		NextStepAt: next,
	})
}

// Exit removes an enrollment from its sequence. An empty reason records a
// manual exit.
func (e *Engine) Exit(ctx context.Context, enrollmentID, reason string) (*store.Enrollment, error) {
	enr, err := e.getEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	if err := CheckEnrollmentTransition(enr.ID, enr.Status, schema.EnrollmentExited); err != nil {
		return nil, err
	}
	if strings.TrimSpace(reason) == "" {
		reason = schema.ReasonManualExit
	}
	now := e.clock.Now()
	return e.transition(ctx, enr, store.Transition{
		Status:     schema.EnrollmentExited,
		ExitedAt:   &now,
		ExitReason: reason,
	})
}

// transition commits tr guarded by the enrollment's current status. It does
// not hold a claim, so a concurrent tick that commits first wins with CONFLICT
// returned here.
func (e *Engine) transition(ctx context.Context, enr *store.Enrollment, tr store.Transition) (*store.Enrollment, error) {
	tr.From = enr.Status
	tr.CurrentStepID = enr.CurrentStepID
	tr.CurrentStepOrder = enr.CurrentStepOrder
	if err := e.store.CommitTransition(ctx, enr.ID, tr); err != nil {
		return nil, storeErr("commit transition", err)
	}
	e.logger.InfoContext(ctx, "enrollment transitioned",
		"enrollment_id", enr.ID,
		"from", string(enr.Status),
		"to", string(tr.Status),
		"reason", tr.ExitReason,
	)
	if e.events != nil {
		ev := transitionEvent(enr, tr)
		ev.At = e.clock.Now()
		publish(ctx, e.events, e.logger, ev)
	}
	return e.getEnrollment(ctx, enr.ID)
}

// RecordSignal appends a signal. An unsubscribe also adds the enrollment's
// address to the global unsubscribe list.
func (e *Engine) RecordSignal(ctx context.Context, req SignalRequest) (*store.Signal, error) {
	if err := e.validateRequest(req); err != nil {
		return nil, err
	}
	enr, err := e.getEnrollment(ctx, req.EnrollmentID)
	if err != nil {
		return nil, err
	}

	sig := &store.Signal{
		EnrollmentID: enr.ID,
		RecordID:     enr.RecordID,
		Email:        enr.Email,
		Type:         req.Type,
		Payload:      req.Payload,
		OccurredAt:   e.clock.Now(),
	}
	if err := e.store.AppendSignal(ctx, sig); err != nil {
		return nil, storeErr("append signal", err)
	}
	if req.Type == schema.SignalUnsubscribe {
		if err := e.store.AddUnsubscribe(ctx, enr.Email, "signal"); err != nil {
			return nil, storeErr("add unsubscribe", err)
		}
	}
	e.logger.InfoContext(ctx, "signal recorded", "enrollment_id", enr.ID, "event_type", string(req.Type))
	return sig, nil
}

// Status returns an enrollment with its execution log and signals.
func (e *Engine) Status(ctx context.Context, enrollmentID string) (*EnrollmentStatus, error) {
	enr, err := e.getEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	execs, err := e.store.ListExecutions(ctx, enr.ID)
	if err != nil {
		return nil, storeErr("list executions", err)
	}
	signals, err := e.store.ListSignals(ctx, enr.ID)
	if err != nil {
		return nil, storeErr("list signals", err)
	}
	if execs == nil {
		execs = []*store.StepExecution{}
	}
	if signals == nil {
		signals = []*store.Signal{}
	}
	return &EnrollmentStatus{Enrollment: enr, Executions: execs, Signals: signals}, nil
}

// DefineSequence validates def and stores it as a draft sequence.
func (e *Engine) DefineSequence(ctx context.Context, def *schema.SequenceDefinition) (*store.Sequence, error) {
	if def == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "sequence definition is nil")
	}
	if e.validator != nil {
		if err := e.validator.ValidateDefinition(def); err != nil {
			return nil, err
		}
	}

	seq := store.SequenceFromDefinition(def)
	if err := e.store.CreateSequence(ctx, seq); err != nil {
		return nil, storeErr("create sequence", err)
	}
	e.logger.InfoContext(ctx, "sequence defined", "sequence_id", seq.ID, "name", seq.Name, "steps", len(seq.Steps))
	return seq, nil
}

// SetSequenceStatus moves a sequence through draft, active, paused and
// archived. Enrollments of a sequence that is no longer active are paused
// by the next tick that reaches them.
func (e *Engine) SetSequenceStatus(ctx context.Context, sequenceID string, to schema.SequenceStatus) (*store.Sequence, error) {
	seq, err := e.store.GetSequence(ctx, sequenceID)
	if err != nil {
		return nil, storeErr("load sequence", err)
	}
	if err := CheckSequenceTransition(seq.ID, seq.Status, to); err != nil {
		return nil, err
	}
	if to == schema.SequenceStatusActive && len(seq.Steps) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "sequence %q has no steps", seq.ID)
	}
	if err := e.store.UpdateSequenceStatus(ctx, seq.ID, to); err != nil {
		return nil, storeErr("update sequence status", err)
	}
	e.logger.InfoContext(ctx, "sequence status changed",
		"sequence_id", seq.ID, "from", string(seq.Status), "to", string(to))
	seq.Status = to
	return seq, nil
}

func (e *Engine) getEnrollment(ctx context.Context, id string) (*store.Enrollment, error) {
	enr, err := e.store.GetEnrollment(ctx, id)
	if err != nil {
		return nil, storeErr("load enrollment", err)
	}
	return enr, nil
}
