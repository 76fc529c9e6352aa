package queue

import (
	"context"
	"sync"
	"time"

	"github.com/omnivurse/crm-eco-sub011/internal/store"
	"github.com/omnivurse/crm-eco-sub011/pkg/schema"
)

// CircuitState is the state of a BreakerQueue.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Failing, rejecting enqueues
	CircuitHalfOpen                     // Testing recovery
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a BreakerQueue.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before a test enqueue is let through.
	Cooldown time.Duration
}

// DefaultBreakerConfig returns the defaults used by the CLI.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, Cooldown: 30 * time.Second}
}

// BreakerQueue fails fast once the wrapped queue keeps failing, so a broken
// transport costs one error per enrollment instead of one timeout each.
type BreakerQueue struct {
	next Outbound
	cfg  BreakerConfig
	now  func() time.Time

	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	lastFailure         time.Time
	probing             bool
}

// NewBreakerQueue wraps next.
func NewBreakerQueue(next Outbound, cfg BreakerConfig) *BreakerQueue {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultBreakerConfig().Cooldown
	}
	return &BreakerQueue{next: next, cfg: cfg, now: time.Now}
}

// Enqueue forwards to the wrapped queue unless the circuit is open.
func (b *BreakerQueue) Enqueue(ctx context.Context, msg *store.OutboundEmail) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := b.next.Enqueue(ctx, msg)
	if err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

// State returns the current circuit state.
func (b *BreakerQueue) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CircuitOpen && b.now().Sub(b.lastFailure) >= b.cfg.Cooldown {
		return CircuitHalfOpen
	}
	return b.state
}

func (b *BreakerQueue) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitOpen:
		if b.now().Sub(b.lastFailure) < b.cfg.Cooldown {
			return schema.NewErrorf(schema.ErrCodeQueue,
				"outbound queue circuit open after %d consecutive failures", b.consecutiveFailures).
				WithDetails(map[string]any{
					"state":              b.state.String(),
					"cooldown_remaining": (b.cfg.Cooldown - b.now().Sub(b.lastFailure)).String(),
				})
		}
		b.state = CircuitHalfOpen
		b.probing = true
		return nil
	case CircuitHalfOpen:
		if b.probing {
			return schema.NewError(schema.ErrCodeQueue, "outbound queue circuit half-open: probe in flight")
		}
		b.probing = true
	}
	return nil
}

func (b *BreakerQueue) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	b.probing = false
	b.state = CircuitClosed
}

func (b *BreakerQueue) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures++
	b.lastFailure = b.now()
	b.probing = false
	if b.state == CircuitHalfOpen || b.consecutiveFailures >= b.cfg.FailureThreshold {
		b.state = CircuitOpen
	}
}

var _ Outbound = (*BreakerQueue)(nil)
