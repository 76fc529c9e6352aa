package engine

import (
	"context"
	"log/slog"

	"github.com/omnivurse/crm-eco-sub011/internal/store"
	"github.com/omnivurse/crm-eco-sub011/internal/streaming"
	"github.com/omnivurse/crm-eco-sub011/pkg/schema"
)

// SetEventHub makes the processor publish lifecycle events. Call before the
// first Tick.
func (p *Processor) SetEventHub(hub streaming.Hub) { p.events = hub }

// SetEventHub makes the engine and its processor publish lifecycle events.
func (e *Engine) SetEventHub(hub streaming.Hub) {
	e.events = hub
	if e.processor != nil {
		e.processor.SetEventHub(hub)
	}
}

// publish is best-effort: a failed delivery never fails the operation.
func publish(ctx context.Context, hub streaming.Hub, logger *slog.Logger, ev streaming.Event) {
	if hub == nil {
		return
	}
	if err := hub.Publish(context.WithoutCancel(ctx), ev); err != nil {
		logger.DebugContext(ctx, "event not published", "type", string(ev.Type), slog.String("error", err.Error()))
	}
}

// transitionEvent maps the target status of a transition to its event.
func transitionEvent(enr *store.Enrollment, tr store.Transition) streaming.Event {
	ev := streaming.Event{
		EnrollmentID: enr.ID,
		SequenceID:   enr.SequenceID,
		Status:       tr.Status,
		Reason:       tr.ExitReason,
	}
	switch tr.Status {
	case schema.EnrollmentPaused:
		ev.Type = streaming.EventPaused
	case schema.EnrollmentExited:
		ev.Type = streaming.EventExited
	case schema.EnrollmentCompleted:
		ev.Type = streaming.EventCompleted
	default:
		ev.Type = streaming.EventResumed
	}
	return ev
}
