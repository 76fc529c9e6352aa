package engine

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/omnivurse/crm-eco-sub011/internal/store"
	"github.com/omnivurse/crm-eco-sub011/internal/streaming"
	"github.com/omnivurse/crm-eco-sub011/internal/validation"
	"github.com/omnivurse/crm-eco-sub011/pkg/schema"
)

// EnrollRequest places a record into a sequence.
type EnrollRequest struct {
	SequenceID string `json:"sequence_id" validate:"required"`
	RecordID   string `json:"record_id" validate:"required"`
	ModuleKey  string `json:"module_key" validate:"required"`
	Email      string `json:"email" validate:"required,email"`
	EnrolledBy string `json:"enrolled_by,omitempty"`
}

// Engine is the entry point for enrollment and sequence operations. Ticks
// are delegated to its Processor.
type Engine struct {
	store     store.Store
	processor *Processor
	validator validation.Validator
	clock     Clock
	logger    *slog.Logger
	requests  *validator.Validate
	events    streaming.Hub
}

// NewEngine creates an Engine. v may be nil, in which case DefineSequence
// only checks that a definition is present.
func NewEngine(s store.Store, processor *Processor, v validation.Validator, clock Clock, logger *slog.Logger) *Engine {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:     s,
		processor: processor,
		validator: v,
		clock:     clock,
		logger:    logger,
		requests:  newRequestValidator(),
	}
}

// newRequestValidator reports fields by their JSON names.
func newRequestValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Store exposes the underlying store.
func (e *Engine) Store() store.Store { return e.store }

// Tick runs one processor tick.
func (e *Engine) Tick(ctx context.Context) (TickResult, error) {
	if e.processor == nil {
		return TickResult{}, schema.NewError(schema.ErrCodeExecution, "engine has no processor")
	}
	return e.processor.Tick(ctx)
}

// Enroll validates req and inserts an active enrollment positioned at the
// sequence's first step. The first step's delay and send window are measured
// from now.
func (e *Engine) Enroll(ctx context.Context, req EnrollRequest) (*store.Enrollment, error) {
	req.Email = strings.TrimSpace(req.Email)
	if err := e.validateRequest(req); err != nil {
		return nil, err
	}

	seq, err := e.store.GetSequence(ctx, req.SequenceID)
	if err != nil {
		return nil, storeErr("load sequence", err)
	}
	if seq.Status == schema.SequenceStatusArchived {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "sequence %q is archived", seq.ID).
			WithDetails(map[string]any{"sequence_id": seq.ID})
	}
	first := seq.FirstStep()
	if first == nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "sequence %q has no steps", seq.ID).
			WithDetails(map[string]any{"sequence_id": seq.ID})
	}

	now := e.clock.Now()
	due, err := NextDue(first, seq, now, now)
	if err != nil {
		return nil, err
	}

	enr := &store.Enrollment{
		SequenceID:       seq.ID,
		RecordID:         req.RecordID,
		ModuleKey:        req.ModuleKey,
		Email:            req.Email,
		EnrolledBy:       req.EnrolledBy,
		CurrentStepID:    first.ID,
		CurrentStepOrder: first.Order,
		Status:           schema.EnrollmentActive,
		NextStepAt:       &due,
		EnrolledAt:       now,
	}
	if err := e.store.CreateEnrollment(ctx, enr); err != nil {
		return nil, storeErr("create enrollment", err)
	}

	e.logger.InfoContext(ctx, "record enrolled",
		"enrollment_id", enr.ID,
		"sequence_id", seq.ID,
		"record_id", enr.RecordID,
		"next_step_at", due,
	)
	publish(ctx, e.events, e.logger, streaming.Event{
		Type:         streaming.EventEnrolled,
		EnrollmentID: enr.ID,
		SequenceID:   seq.ID,
		StepID:       first.ID,
		StepOrder:    first.Order,
		Status:       enr.Status,
		At:           now,
	})
	return enr, nil
}

// validateRequest maps validator field errors onto a VALIDATION_ERROR.
func (e *Engine) validateRequest(req any) error {
	err := e.requests.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return schema.NewError(schema.ErrCodeValidation, err.Error()).WithCause(err)
	}
	fields := make(map[string]any, len(fieldErrs))
	names := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields[fe.Field()] = fe.Tag()
		names = append(names, fe.Field())
	}
	return schema.NewErrorf(schema.ErrCodeValidation, "invalid request: %s", strings.Join(names, ", ")).
		WithCause(err).
		WithDetails(map[string]any{"fields": fields})
}
