package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnivurse/crm-eco-sub011/internal/store"
	"github.com/omnivurse/crm-eco-sub011/pkg/schema"
)

type scriptedQueue struct {
	mu    sync.Mutex
	fail  bool
	calls int
}

func (q *scriptedQueue) Enqueue(context.Context, *store.OutboundEmail) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	if q.fail {
		return schema.NewError(schema.ErrCodeQueue, "transport down")
	}
	return nil
}

type manualClock struct{ t time.Time }

func (c *manualClock) now() time.Time { return c.t }

func newTestBreaker(next Outbound, threshold int) (*BreakerQueue, *manualClock) {
	clock := &manualClock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	b := NewBreakerQueue(next, BreakerConfig{FailureThreshold: threshold, Cooldown: time.Minute})
	b.now = clock.now
	return b, clock
}

func TestBreakerQueue_StartsClosed(t *testing.T) {
	next := &scriptedQueue{}
	b, _ := newTestBreaker(next, 3)

	require.NoError(t, b.Enqueue(context.Background(), sampleEmail()))
	assert.Equal(t, CircuitClosed, b.State())
	assert.Equal(t, 1, next.calls)
}

func TestBreakerQueue_OpensAfterThreshold(t *testing.T) {
	next := &scriptedQueue{fail: true}
	b, _ := newTestBreaker(next, 2)
	ctx := context.Background()

	require.Error(t, b.Enqueue(ctx, sampleEmail()))
	assert.Equal(t, CircuitClosed, b.State())
	require.Error(t, b.Enqueue(ctx, sampleEmail()))
	assert.Equal(t, CircuitOpen, b.State())

	err := b.Enqueue(ctx, sampleEmail())
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeQueue))
	assert.Contains(t, err.Error(), "circuit open")
	assert.Equal(t, 2, next.calls, "open circuit must not reach the transport")
}

func TestBreakerQueue_SuccessResetsFailures(t *testing.T) {
	next := &scriptedQueue{fail: true}
	b, _ := newTestBreaker(next, 2)
	ctx := context.Background()

	require.Error(t, b.Enqueue(ctx, sampleEmail()))
	next.fail = false
	require.NoError(t, b.Enqueue(ctx, sampleEmail()))
	next.fail = true
	require.Error(t, b.Enqueue(ctx, sampleEmail()))
	assert.Equal(t, CircuitClosed, b.State())
}

func TestBreakerQueue_HalfOpenProbe(t *testing.T) {
	next := &scriptedQueue{fail: true}
	b, clock := newTestBreaker(next, 1)
	ctx := context.Background()

	require.Error(t, b.Enqueue(ctx, sampleEmail()))
	assert.Equal(t, CircuitOpen, b.State())

	clock.t = clock.t.Add(time.Minute)
	assert.Equal(t, CircuitHalfOpen, b.State())

	// Failed probe reopens.
	require.Error(t, b.Enqueue(ctx, sampleEmail()))
	assert.Equal(t, 2, next.calls)
	assert.Equal(t, CircuitOpen, b.State())

	clock.t = clock.t.Add(time.Minute)
	next.fail = false
	require.NoError(t, b.Enqueue(ctx, sampleEmail()))
	assert.Equal(t, CircuitClosed, b.State())
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half_open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(9).String())
}
