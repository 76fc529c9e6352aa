// Package queue hands rendered sequence emails to the outbound transport.
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/omnivurse/crm-eco-sub011/internal/store"
	"github.com/omnivurse/crm-eco-sub011/pkg/schema"
)

// Outbound accepts rendered emails for delivery. Delivery is at-least-once:
// a step whose enqueue succeeded but whose commit failed is enqueued again.
type Outbound interface {
	Enqueue(ctx context.Context, msg *store.OutboundEmail) error
}

// StoreQueue writes emails to the store's outbound table.
type StoreQueue struct {
	store store.Store
}

// NewStoreQueue creates a StoreQueue over s.
func NewStoreQueue(s store.Store) *StoreQueue {
	return &StoreQueue{store: s}
}

// Enqueue inserts msg with status queued.
func (q *StoreQueue) Enqueue(ctx context.Context, msg *store.OutboundEmail) error {
	prepare(msg)
	if err := q.store.EnqueueOutbound(ctx, msg); err != nil {
		return schema.NewError(schema.ErrCodeQueue, "enqueue outbound email").WithCause(err)
	}
	return nil
}

// prepare fills the id, status and creation time when unset.
func prepare(msg *store.OutboundEmail) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Status == "" {
		msg.Status = schema.OutboundQueued
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
}

var (
	_ Outbound = (*StoreQueue)(nil)
	_ Outbound = (*RedisQueue)(nil)
)
