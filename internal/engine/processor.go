package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/omnivurse/crm-eco-sub011/internal/logging"
	"github.com/omnivurse/crm-eco-sub011/internal/reporting"
	"github.com/omnivurse/crm-eco-sub011/internal/store"
	"github.com/omnivurse/crm-eco-sub011/internal/streaming"
	"github.com/omnivurse/crm-eco-sub011/pkg/schema"
)

// Config controls tick batching and leases.
type Config struct {
	BatchSize       int           // enrollments claimed per tick
	LeaseDuration   time.Duration // claim lease; an expired lease is reclaimable
	MaxStepsPerTick int           // chain limit per enrollment within one tick
	Workers         int           // 1 runs the batch sequentially
	TickTimeout     time.Duration // 0 disables the bound
	InstanceID      string        // claim owner
}

// DefaultConfig returns the default processor settings.
func DefaultConfig() Config {
	return Config{
		BatchSize:       100,
		LeaseDuration:   5 * time.Minute,
		MaxStepsPerTick: 25,
		Workers:         1,
		InstanceID:      "sequencer",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = d.LeaseDuration
	}
	if c.MaxStepsPerTick <= 0 {
		c.MaxStepsPerTick = d.MaxStepsPerTick
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.InstanceID == "" {
		c.InstanceID = d.InstanceID
	}
	return c
}

// TickResult summarizes one tick. Processed counts enrollments handled
// without error; Paused, Exited and Completed break it down by outcome.
type TickResult struct {
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
	Paused    int `json:"paused"`
	Exited    int `json:"exited"`
	Completed int `json:"completed"`
	Steps     int `json:"steps"`
	Skipped   int `json:"skipped"`
}

// outcome is what happened to one enrollment during a tick.
type outcome int

const (
	outcomeAdvanced outcome = iota
	outcomePaused
	outcomeExited
	outcomeCompleted
)

// Processor runs due enrollments: exit check, step execution, advance.
type Processor struct {
	store    store.Store
	exits    *ExitEvaluator
	executor *StepExecutor
	advancer Advancer
	clock    Clock
	reporter reporting.Reporter
	logger   *slog.Logger
	cfg      Config
	events   streaming.Hub
}

// NewProcessor wires a Processor. clock, reporter and logger may be nil.
func NewProcessor(s store.Store, executor *StepExecutor, clock Clock, reporter reporting.Reporter, logger *slog.Logger, cfg Config) *Processor {
	if clock == nil {
		clock = SystemClock{}
	}
	if reporter == nil {
		reporter = reporting.NopReporter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		store:    s,
		exits:    NewExitEvaluator(s),
		executor: executor,
		clock:    clock,
		reporter: reporter,
		logger:   logger,
		cfg:      cfg.withDefaults(),
	}
}

// Config returns the effective settings.
func (p *Processor) Config() Config { return p.cfg }

// Tick claims a batch of due enrollments and processes each one. Only a
// failure to claim is returned as an error; per-enrollment failures are
// counted in the result and leave the enrollment due.
func (p *Processor) Tick(ctx context.Context) (TickResult, error) {
	var result TickResult

	if p.cfg.TickTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.TickTimeout)
		defer cancel()
	}

	batch, err := p.store.ClaimDue(ctx, p.cfg.InstanceID, p.clock.Now(), p.cfg.LeaseDuration, p.cfg.BatchSize)
	if err != nil {
		return result, storeErr("claim due enrollments", err)
	}
	if len(batch) == 0 {
		return result, nil
	}
	p.logger.DebugContext(ctx, "tick claimed batch", "count", len(batch), "owner", p.cfg.InstanceID)

	var mu sync.Mutex
	handle := func(ctx context.Context, i int) error {
		enr := batch[i]
		if ctx.Err() != nil {
			p.release(ctx, enr)
			mu.Lock()
			result.Skipped++
			mu.Unlock()
			return ctx.Err()
		}

		out, steps, err := p.processSafely(ctx, enr)

		mu.Lock()
		defer mu.Unlock()
		result.Steps += steps
		if err != nil {
			result.Errors++
			return err
		}
		result.Processed++
		switch out {
		case outcomePaused:
			result.Paused++
		case outcomeExited:
			result.Exited++
		case outcomeCompleted:
			result.Completed++
		}
		return nil
	}

	if p.cfg.Workers <= 1 || len(batch) == 1 {
		for i := range batch {
			_ = handle(ctx, i)
		}
	} else {
		pool := NewWorkerPool(p.cfg.Workers, p.poolPanicHook(ctx))
		defer pool.Shutdown()
		if err := pool.Each(ctx, len(batch), handle); err != nil {
			// Enrollments never submitted still hold this instance's claim.
			mu.Lock()
			seen := result.Processed + result.Errors + result.Skipped
			mu.Unlock()
			p.releaseRest(ctx, batch, seen, &mu, &result)
		}
		m := pool.Metrics()
		p.logger.DebugContext(ctx, "worker pool drained",
			"workers", p.cfg.Workers,
			"completed", m.Completed,
			"failed", m.Failed,
			"panics", m.Panics,
		)
	}

	p.logger.InfoContext(ctx, "tick finished",
		"processed", result.Processed,
		"errors", result.Errors,
		"paused", result.Paused,
		"exited", result.Exited,
		"completed", result.Completed,
		"steps", result.Steps,
		"skipped", result.Skipped,
	)
	return result, nil
}

// poolPanicHook logs and reports a panic that escaped a pool unit. Panics
// inside an enrollment are already recovered by processSafely.
func (p *Processor) poolPanicHook(ctx context.Context) func(recovered any) {
	return func(recovered any) {
		err := schema.NewErrorf(schema.ErrCodeExecution, "tick worker panicked: %v", recovered)
		p.logger.ErrorContext(ctx, "tick worker panicked", "error", err)
		p.reporter.CaptureError(ctx, err, map[string]any{"workers": p.cfg.Workers})
	}
}

// releaseRest releases claims on enrollments the pool never started. The
// pool submits in order, so the unstarted ones are a suffix of the batch.
func (p *Processor) releaseRest(ctx context.Context, batch []*store.Enrollment, started int, mu *sync.Mutex, result *TickResult) {
	for _, enr := range batch[started:] {
		p.release(ctx, enr)
		mu.Lock()
		result.Skipped++
		mu.Unlock()
	}
}

// release drops the claim so the enrollment stays due for the next tick.
func (p *Processor) release(ctx context.Context, enr *store.Enrollment) {
	ctx = context.WithoutCancel(ctx)
	if err := p.store.ReleaseClaim(ctx, enr.ID, p.cfg.InstanceID); err != nil {
		p.logger.WarnContext(ctx, "release claim failed", "enrollment_id", enr.ID, "error", err)
	}
}

// processSafely turns a panic inside one enrollment into a counted error.
func (p *Processor) processSafely(ctx context.Context, enr *store.Enrollment) (out outcome, steps int, err error) {
	ctx = logging.WithIDs(ctx, enr.ID, enr.SequenceID)
	defer func() {
		if r := recover(); r != nil {
			err = schema.NewErrorf(schema.ErrCodeExecution, "panic processing enrollment: %v", r)
		}
		if err != nil {
			p.fail(ctx, enr, err)
		}
	}()
	return p.process(ctx, enr)
}

// fail logs and reports a per-enrollment error and releases the claim.
// A lost claim is left alone: another instance owns the enrollment now.
func (p *Processor) fail(ctx context.Context, enr *store.Enrollment, err error) {
	level := slog.LevelError
	if IsTransient(err) {
		level = slog.LevelWarn
	}
	p.logger.Log(ctx, level, "enrollment processing failed",
		"error", err, "code", schema.CodeOf(err), "step_order", enr.CurrentStepOrder)

	if !IsTransient(err) {
		p.reporter.CaptureError(ctx, err, map[string]any{
			"record_id":  enr.RecordID,
			"step_order": enr.CurrentStepOrder,
		})
	}
	if !schema.IsCode(err, schema.ErrCodeClaimLost) {
		p.release(ctx, enr)
	}
}

// process runs one enrollment until it stops being due, leaves active, or
// hits the chain limit. Each step is committed before the next one runs.
func (p *Processor) process(ctx context.Context, enr *store.Enrollment) (outcome, int, error) {
	seq, err := p.store.GetSequence(ctx, enr.SequenceID)
	if err != nil {
		return 0, 0, storeErr("load sequence", err)
	}

	if seq.Status != schema.SequenceStatusActive {
		if err := p.commit(ctx, enr, store.Transition{
			Status:     schema.EnrollmentPaused,
			NextStepAt: enr.NextStepAt,
			ExitReason: schema.ReasonSequencePaused,
		}); err != nil {
			return 0, 0, err
		}
		p.logger.InfoContext(ctx, "enrollment paused with its sequence", "sequence_status", string(seq.Status))
		p.publish(ctx, enr, streaming.EventPaused, nil, schema.ReasonSequencePaused)
		return outcomePaused, 0, nil
	}

	steps := 0
	for {
		now := p.clock.Now()

		reason, exited, err := p.exits.Evaluate(ctx, enr, seq)
		if err != nil {
			return 0, steps, err
		}
		if exited {
			if err := p.commit(ctx, enr, store.Transition{
				Status:     schema.EnrollmentExited,
				ExitedAt:   &now,
				ExitReason: reason,
			}); err != nil {
				return 0, steps, err
			}
			p.logger.InfoContext(ctx, "enrollment exited", "reason", reason)
			p.reporter.Breadcrumb("enrollment", "exited", map[string]any{"enrollment_id": enr.ID, "reason": reason})
			p.publish(ctx, enr, streaming.EventExited, nil, reason)
			return outcomeExited, steps, nil
		}

		step := p.currentStep(enr, seq)
		if step == nil {
			return 0, steps, schema.NewErrorf(schema.ErrCodeExecution,
				"enrollment %q points at missing step %q (order %d)", enr.ID, enr.CurrentStepID, enr.CurrentStepOrder)
		}
		stepCtx := logging.WithStepID(ctx, step.ID)

		out, err := p.executor.Execute(stepCtx, enr, seq, step)
		if err != nil {
			p.recordFailure(stepCtx, enr, step, err)
			return 0, steps, err
		}
		steps++

		enr.CurrentStepOrder = step.Order
		adv, err := p.advancer.Advance(enr, seq, now)
		if err != nil {
			return 0, steps, err
		}

		exec := &store.StepExecution{
			SequenceID: seq.ID,
			StepID:     step.ID,
			StepOrder:  step.Order,
			StepType:   step.Type,
			Status:     out.Status,
			Result:     out.Result,
			ExecutedAt: now,
		}

		if adv.Completed {
			if err := p.commit(stepCtx, enr, store.Transition{
				Status:             schema.EnrollmentCompleted,
				CurrentStepID:      step.ID,
				CurrentStepOrder:   step.Order,
				CompletedAt:        &now,
				IncrementCompleted: true,
				Execution:          exec,
			}); err != nil {
				return 0, steps, err
			}
			p.logger.InfoContext(stepCtx, "enrollment completed", "steps", steps)
			p.publish(stepCtx, enr, streaming.EventStepExecuted, step, "")
			p.publish(stepCtx, enr, streaming.EventCompleted, nil, "")
			return outcomeCompleted, steps, nil
		}

		chain := !adv.NextStepAt.After(now) && steps < p.cfg.MaxStepsPerTick && ctx.Err() == nil
		if err := p.commit(stepCtx, enr, store.Transition{
			Status:           schema.EnrollmentActive,
			CurrentStepID:    adv.Step.ID,
			CurrentStepOrder: adv.Step.Order,
			NextStepAt:       adv.NextStepAt,
			RetainClaim:      chain,
			Execution:        exec,
		}); err != nil {
			return 0, steps, err
		}
		p.logger.DebugContext(stepCtx, "enrollment advanced",
			"next_step_order", adv.Step.Order, "next_step_at", adv.NextStepAt)
		p.publish(stepCtx, enr, streaming.EventStepExecuted, step, "")

		enr.CurrentStepID = adv.Step.ID
		enr.CurrentStepOrder = adv.Step.Order
		enr.NextStepAt = adv.NextStepAt
		if !chain {
			return outcomeAdvanced, steps, nil
		}
	}
}

// commit writes tr guarded by the claim and the enrollment still being
// active. The cursor defaults to the enrollment's current step.
func (p *Processor) commit(ctx context.Context, enr *store.Enrollment, tr store.Transition) error {
	tr.From = schema.EnrollmentActive
	tr.ClaimOwner = p.cfg.InstanceID
	if tr.CurrentStepID == "" {
		tr.CurrentStepID = enr.CurrentStepID
		tr.CurrentStepOrder = enr.CurrentStepOrder
	}
	if tr.Status != schema.EnrollmentActive {
		if err := CheckEnrollmentTransition(enr.ID, schema.EnrollmentActive, tr.Status); err != nil {
			return err
		}
	}
	if err := p.store.CommitTransition(ctx, enr.ID, tr); err != nil {
		return storeErr("commit transition", err)
	}
	enr.Status = tr.Status
	return nil
}

// publish emits a lifecycle event for enr after a committed change.
func (p *Processor) publish(ctx context.Context, enr *store.Enrollment, typ streaming.EventType, step *store.Step, reason string) {
	if p.events == nil {
		return
	}
	ev := streaming.Event{
		Type:         typ,
		EnrollmentID: enr.ID,
		SequenceID:   enr.SequenceID,
		Status:       enr.Status,
		Reason:       reason,
		At:           p.clock.Now(),
	}
	if step != nil {
		ev.StepID = step.ID
		ev.StepOrder = step.Order
	}
	publish(ctx, p.events, p.logger, ev)
}

// currentStep resolves the enrollment's cursor by id, falling back to order.
func (p *Processor) currentStep(enr *store.Enrollment, seq *store.Sequence) *store.Step {
	if enr.CurrentStepID != "" {
		if st := seq.StepByID(enr.CurrentStepID); st != nil {
			return st
		}
	}
	for _, st := range seq.Steps {
		if st.Order == enr.CurrentStepOrder {
			return st
		}
	}
	return nil
}

// recordFailure appends a failed execution row for auditing. The enrollment
// itself is not touched.
func (p *Processor) recordFailure(ctx context.Context, enr *store.Enrollment, step *store.Step, cause error) {
	exec := &store.StepExecution{
		EnrollmentID: enr.ID,
		SequenceID:   enr.SequenceID,
		StepID:       step.ID,
		StepOrder:    step.Order,
		StepType:     step.Type,
		Status:       schema.ExecutionFailed,
		Error:        cause.Error(),
		ExecutedAt:   p.clock.Now(),
	}
	if err := p.store.AppendExecution(context.WithoutCancel(ctx), exec); err != nil {
		p.logger.WarnContext(ctx, "append failed execution", "error", err)
	}
}

// String renders a result for CLI output.
func (r TickResult) String() string {
	return fmt.Sprintf("processed=%d errors=%d paused=%d exited=%d completed=%d steps=%d skipped=%d",
		r.Processed, r.Errors, r.Paused, r.Exited, r.Completed, r.Steps, r.Skipped)
}
