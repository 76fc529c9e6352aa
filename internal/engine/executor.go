package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/omnivurse/crm-eco-sub011/internal/expressions"
	"github.com/omnivurse/crm-eco-sub011/internal/queue"
	"github.com/omnivurse/crm-eco-sub011/internal/store"
	"github.com/omnivurse/crm-eco-sub011/pkg/schema"
)

// Outcome is the result of one step execution, recorded as a StepExecution.
type Outcome struct {
	Status schema.ExecutionStatus `json:"status"`
	Result json.RawMessage        `json:"result,omitempty"`
}

// StepExecutor performs the side effect of a single step.
type StepExecutor struct {
	store   store.Store
	queue   queue.Outbound
	engines *expressions.Registry
	logger  *slog.Logger
}

// NewStepExecutor creates a StepExecutor. engines may be nil, in which case
// expression conditions fail.
func NewStepExecutor(s store.Store, q queue.Outbound, engines *expressions.Registry, logger *slog.Logger) *StepExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &StepExecutor{store: s, queue: q, engines: engines, logger: logger}
}

// Execute dispatches on the step type. A returned error leaves the enrollment
// on the same step.
func (x *StepExecutor) Execute(ctx context.Context, enr *store.Enrollment, seq *store.Sequence, step *store.Step) (*Outcome, error) {
	switch step.Type {
	case schema.StepTypeWait:
		return &Outcome{Status: schema.ExecutionSuccess}, nil
	case schema.StepTypeEmail:
		return x.sendEmail(ctx, enr, seq, step)
	case schema.StepTypeCondition:
		return x.evaluateCondition(ctx, enr, seq, step)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "unknown step type %q", step.Type).WithStep(step.ID)
	}
}

func (x *StepExecutor) sendEmail(ctx context.Context, enr *store.Enrollment, seq *store.Sequence, step *store.Step) (*Outcome, error) {
	if step.Email == nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "email step has no email config").WithStep(step.ID)
	}
	rec, err := x.store.GetRecord(ctx, enr.RecordID)
	if err != nil {
		return nil, storeErr("load record", err)
	}
	data := mergeData(enr, seq, rec)

	subject, err := expressions.Render(step.Email.Subject, data)
	if err != nil {
		return nil, withStep(err, step.ID)
	}
	html, err := expressions.Render(step.Email.HTMLBody, data)
	if err != nil {
		return nil, withStep(err, step.ID)
	}
	text, err := expressions.Render(step.Email.TextBody, data)
	if err != nil {
		return nil, withStep(err, step.ID)
	}

	msg := &store.OutboundEmail{
		To:           enr.Email,
		Subject:      subject,
		HTMLBody:     html,
		TextBody:     text,
		FromOverride: step.Email.FromOverride,
		SequenceID:   seq.ID,
		EnrollmentID: enr.ID,
		StepID:       step.ID,
		RecordID:     enr.RecordID,
		Status:       schema.OutboundQueued,
	}
	if err := x.queue.Enqueue(ctx, msg); err != nil {
		return nil, withStep(err, step.ID)
	}
	x.logger.DebugContext(ctx, "email queued", "outbound_id", msg.ID, "to", msg.To)

	return successWith(map[string]any{"outbound_id": msg.ID, "to": msg.To})
}

func (x *StepExecutor) evaluateCondition(ctx context.Context, enr *store.Enrollment, seq *store.Sequence, step *store.Step) (*Outcome, error) {
	cfg := step.Condition
	if cfg == nil {
		return nil, schema.NewError(schema.ErrCodeCondition, "condition step has no condition config").WithStep(step.ID)
	}

	var (
		result bool
		err    error
	)
	switch cfg.Type {
	case schema.ConditionEmailOpened:
		result, err = x.store.HasSignal(ctx, enr.ID, schema.SignalOpen)
		if err != nil {
			return nil, storeErr("check open signal", err)
		}
	case schema.ConditionLinkClicked:
		result, err = x.store.HasSignal(ctx, enr.ID, schema.SignalClick)
		if err != nil {
			return nil, storeErr("check click signal", err)
		}
	case schema.ConditionFieldValue:
		rec, err := x.store.GetRecord(ctx, enr.RecordID)
		if err != nil {
			return nil, storeErr("load record", err)
		}
		result, err = compareField(rec, cfg)
		if err != nil {
			return nil, withStep(err, step.ID)
		}
	case schema.ConditionExpression:
		if x.engines == nil {
			return nil, schema.NewError(schema.ErrCodeCondition, "no expression engines configured").WithStep(step.ID)
		}
		rec, err := x.store.GetRecord(ctx, enr.RecordID)
		if err != nil {
			return nil, storeErr("load record", err)
		}
		result, err = x.engines.EvaluateBool(ctx, cfg.Engine, cfg.Expression, mergeData(enr, seq, rec))
		if err != nil {
			return nil, withStep(err, step.ID)
		}
	default:
		return nil, schema.NewErrorf(schema.ErrCodeCondition, "unknown condition type %q", cfg.Type).WithStep(step.ID)
	}

	// Branch targets are recorded by the definition but the sequence advances linearly.
	x.logger.DebugContext(ctx, "condition evaluated", "condition", string(cfg.Type), "result", result)
	return successWith(map[string]any{"result": result, "condition": string(cfg.Type)})
}

// compareField applies a field_value operator. Comparisons are case-insensitive
// on the field's rendered string form; a missing field compares as empty.
func compareField(rec *store.Record, cfg *schema.ConditionConfig) (bool, error) {
	var raw any
	if cfg.Field == "email" && rec.Fields["email"] == nil {
		raw = rec.Email
	} else if v, ok := expressions.Resolve(rec.Fields, cfg.Field); ok {
		raw = v
	}
	actual, err := expressions.Stringify(raw)
	if err != nil {
		return false, schema.NewErrorf(schema.ErrCodeCondition, "field %q: %s", cfg.Field, err.Error()).WithCause(err)
	}

	switch cfg.Operator {
	case schema.OperatorEquals:
		return strings.EqualFold(actual, cfg.Value), nil
	case schema.OperatorNotEquals:
		return !strings.EqualFold(actual, cfg.Value), nil
	case schema.OperatorContains:
		return strings.Contains(strings.ToLower(actual), strings.ToLower(cfg.Value)), nil
	case schema.OperatorIsEmpty:
		return strings.TrimSpace(actual) == "", nil
	case schema.OperatorIsNotEmpty:
		return strings.TrimSpace(actual) != "", nil
	default:
		return false, schema.NewErrorf(schema.ErrCodeCondition, "unknown operator %q", cfg.Operator)
	}
}

// mergeData builds the data context shared by merge fields and expressions.
func mergeData(enr *store.Enrollment, seq *store.Sequence, rec *store.Record) map[string]any {
	contact := make(map[string]any, len(rec.Fields)+1)
	maps.Copy(contact, rec.Fields)
	// The enrollment address is where the message goes; it wins over the record.
	contact["email"] = enr.Email
	if _, ok := contact["tags"]; !ok {
		tags := make([]any, 0, len(rec.Tags))
		for _, t := range rec.Tags {
			tags = append(tags, t)
		}
		contact["tags"] = tags
	}
	return map[string]any{
		"contact": contact,
		"enrollment": map[string]any{
			"id":                 enr.ID,
			"record_id":          enr.RecordID,
			"module_key":         enr.ModuleKey,
			"email":              enr.Email,
			"current_step_order": enr.CurrentStepOrder,
			"enrolled_at":        enr.EnrolledAt.Format(time.RFC3339),
		},
		"sequence": map[string]any{
			"id":   seq.ID,
			"name": seq.Name,
		},
	}
}

func successWith(result map[string]any) (*Outcome, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "encode step result").WithCause(err)
	}
	return &Outcome{Status: schema.ExecutionSuccess, Result: raw}, nil
}

// withStep tags a structured error with the step id, wrapping plain errors.
func withStep(err error, stepID string) error {
	if serr, ok := err.(*schema.SequencerError); ok {
		if serr.StepID == "" {
			serr.StepID = stepID
		}
		return serr
	}
	return schema.NewError(schema.ErrCodeExecution, err.Error()).WithCause(err).WithStep(stepID)
}
