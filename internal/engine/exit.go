package engine

import (
	"context"
	"fmt"

	"github.com/omnivurse/crm-eco-sub011/internal/store"
	"github.com/omnivurse/crm-eco-sub011/pkg/schema"
)

// ExitEvaluator decides whether an enrollment leaves its sequence before the
// current step runs.
type ExitEvaluator struct {
	store store.Store
}

// NewExitEvaluator creates an ExitEvaluator reading signals, unsubscribes and tags from s.
func NewExitEvaluator(s store.Store) *ExitEvaluator {
	return &ExitEvaluator{store: s}
}

// Evaluate returns the exit reason of the first matching rule. Rules are
// checked in order: stop_on_reply, stop_on_bounce, then the sequence's exit
// conditions as declared.
func (e *ExitEvaluator) Evaluate(ctx context.Context, enr *store.Enrollment, seq *store.Sequence) (string, bool, error) {
	if seq.Settings.StopOnReply {
		replied, err := e.store.HasSignal(ctx, enr.ID, schema.SignalReply)
		if err != nil {
			return "", false, storeErr("check reply signal", err)
		}
		if replied {
			return schema.ReasonReplied, true, nil
		}
	}

	if seq.Settings.StopOnBounce {
		bounced, err := e.store.HasSignal(ctx, enr.ID, schema.SignalBounce)
		if err != nil {
			return "", false, storeErr("check bounce signal", err)
		}
		if bounced {
			return schema.ReasonBounced, true, nil
		}
	}

	for i, cond := range seq.ExitConditions {
		switch cond.Type {
		case schema.ExitUnsubscribed:
			unsub, err := e.store.IsUnsubscribed(ctx, enr.Email)
			if err != nil {
				return "", false, storeErr("check unsubscribe list", err)
			}
			if unsub {
				return schema.ReasonUnsubscribed, true, nil
			}
		case schema.ExitTagAdded:
			tagged, err := e.store.HasRecordTag(ctx, enr.RecordID, cond.Tag)
			if err != nil {
				return "", false, storeErr("check record tag", err)
			}
			if tagged {
				return TagAddedReason(cond.Tag), true, nil
			}
		default:
			return "", false, schema.NewErrorf(schema.ErrCodeExecution,
				"unknown exit condition type %q", cond.Type).
				WithDetails(map[string]any{"index": i})
		}
	}

	return "", false, nil
}

// TagAddedReason is the exit reason written when a tag_added condition matches.
func TagAddedReason(tag string) string {
	return fmt.Sprintf("Tag %q added", tag)
}

// storeErr wraps a store failure unless it already carries a code.
func storeErr(op string, err error) error {
	if schema.CodeOf(err) != "" {
		return err
	}
	return schema.NewErrorf(schema.ErrCodeStore, "%s: %s", op, err.Error()).WithCause(err)
}
