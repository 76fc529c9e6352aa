package streaming

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnivurse/crm-eco-sub011/pkg/schema"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case got := <-ch:
		return got
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func assertEmpty(t *testing.T, ch <-chan Event) {
	t.Helper()
	select {
	case evt := <-ch:
		t.Fatalf("unexpected event: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishSubscribe(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	defer cancel()

	event := Event{
		Type:         EventStepExecuted,
		EnrollmentID: "enr-1",
		SequenceID:   "seq-1",
		StepID:       "st-1",
		StepOrder:    1,
		Status:       schema.EnrollmentActive,
	}
	require.NoError(t, hub.Publish(ctx, event))

	assert.Equal(t, event, receive(t, ch))
}

func TestFilterBySequence(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, Filter{SequenceID: "seq-1"})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, Event{Type: EventEnrolled, SequenceID: "seq-1", EnrollmentID: "a"}))
	require.NoError(t, hub.Publish(ctx, Event{Type: EventEnrolled, SequenceID: "seq-2", EnrollmentID: "b"}))

	assert.Equal(t, "a", receive(t, ch).EnrollmentID)
	assertEmpty(t, ch)
}

func TestFilterMatch(t *testing.T) {
	ev := Event{Type: EventExited, SequenceID: "seq-1", EnrollmentID: "enr-1"}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty", Filter{}, true},
		{"enrollment match", Filter{EnrollmentID: "enr-1"}, true},
		{"enrollment mismatch", Filter{EnrollmentID: "enr-2"}, false},
		{"type match", Filter{Types: []EventType{EventCompleted, EventExited}}, true},
		{"type mismatch", Filter{Types: []EventType{EventCompleted}}, false},
		{"all fields", Filter{SequenceID: "seq-1", EnrollmentID: "enr-1", Types: []EventType{EventExited}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Match(ev))
		})
	}
}

func TestMultipleSubscribers(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch1, cancel1, err := hub.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	defer cancel1()
	ch2, cancel2, err := hub.Subscribe(ctx, Filter{Types: []EventType{EventCompleted}})
	require.NoError(t, err)
	defer cancel2()

	require.NoError(t, hub.Publish(ctx, Event{Type: EventCompleted, EnrollmentID: "enr-1"}))

	assert.Equal(t, EventCompleted, receive(t, ch1).Type)
	assert.Equal(t, EventCompleted, receive(t, ch2).Type)
}

func TestCancelClosesChannel(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, Filter{})
	require.NoError(t, err)

	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)

	require.NoError(t, hub.Publish(ctx, Event{Type: EventEnrolled}))

	hub.mu.RLock()
	assert.Empty(t, hub.subs)
	hub.mu.RUnlock()
}

func TestBackpressure(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	defer cancel()

	for i := 0; i < defaultChannelBuffer+10; i++ {
		require.NoError(t, hub.Publish(ctx, Event{Type: EventStepExecuted, EnrollmentID: "enr-1"}))
	}

	assert.Len(t, ch, defaultChannelBuffer)
	assert.Equal(t, uint64(10), hub.Dropped())
}

func TestConcurrentAccess(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()
	const goroutines = 20
	const eventsPerGoroutine = 50

	var wg sync.WaitGroup

	for i := 0; i < goroutines; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < eventsPerGoroutine; j++ {
				_ = hub.Publish(ctx, Event{Type: EventStepExecuted, EnrollmentID: "enr-concurrent"})
			}
		}()
		go func() {
			defer wg.Done()
			ch, cancel, err := hub.Subscribe(ctx, Filter{})
			if err != nil {
				return
			}
			for range 5 {
				select {
				case <-ch:
				case <-time.After(10 * time.Millisecond):
				}
			}
			cancel()
		}()
	}

	wg.Wait()

	hub.mu.RLock()
	assert.Empty(t, hub.subs)
	hub.mu.RUnlock()
}

func TestCancelledContext(t *testing.T) {
	hub := NewMemoryHub()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, hub.Publish(ctx, Event{Type: EventEnrolled}), context.Canceled)

	_, _, err := hub.Subscribe(ctx, Filter{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEventMap(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	m := Event{Type: EventExited, EnrollmentID: "enr-1", SequenceID: "seq-1", Status: schema.EnrollmentExited, Reason: "Converted", At: at}.Map()
	assert.Equal(t, map[string]any{
		"type":          "enrollment.exited",
		"enrollment_id": "enr-1",
		"sequence_id":   "seq-1",
		"status":        "exited",
		"reason":        "Converted",
		"at":            "2026-03-02T09:00:00Z",
	}, m)

	m = Event{Type: EventStepExecuted, StepID: "st-2", StepOrder: 2, At: at}.Map()
	assert.Equal(t, "st-2", m["step_id"])
	assert.Equal(t, 2, m["step_order"])
	assert.NotContains(t, m, "reason")
}
