package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/omnivurse/crm-eco-sub011/internal/engine"
)

// DefaultInterval is the polling period when neither an interval nor a cron
// expression is configured.
const DefaultInterval = 60 * time.Second

// ErrTickInFlight is returned by TriggerNow while another tick is running.
var ErrTickInFlight = errors.New("tick already in flight")

// Trigger runs one processing tick. Satisfied by *engine.Processor and *engine.Engine.
type Trigger interface {
	Tick(ctx context.Context) (engine.TickResult, error)
}

// Config selects the schedule. Cron, when set, takes precedence over Interval.
type Config struct {
	Interval time.Duration
	Cron     string // standard 5-field expression or a descriptor such as "@every 30s"
}

// Stats summarizes the ticks run by a Scheduler.
type Stats struct {
	Runs       int                `json:"runs"`
	Failures   int                `json:"failures"`
	Overlaps   int                `json:"overlaps"`
	LastRunAt  *time.Time         `json:"last_run_at,omitempty"`
	LastResult *engine.TickResult `json:"last_result,omitempty"`
	LastError  string             `json:"last_error,omitempty"`
}

// Scheduler triggers processing ticks on an interval or a cron schedule.
// Ticks never overlap: a tick due while another runs is skipped.
type Scheduler struct {
	trigger  Trigger
	schedule cron.Schedule
	interval time.Duration
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex

	inflightMu sync.Mutex
	inflight   bool

	statsMu sync.Mutex
	stats   Stats
}

// New creates a Scheduler. It fails on an unparseable cron expression.
func New(trigger Trigger, cfg Config, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		trigger:  trigger,
		interval: cfg.Interval,
		logger:   logger,
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if cfg.Cron != "" {
		schedule, err := ParseCron(cfg.Cron)
		if err != nil {
			return nil, err
		}
		s.schedule = schedule
	}
	return s, nil
}

// ParseCron parses a 5-field cron expression or a descriptor.
func ParseCron(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	return schedule, nil
}

// NextRun returns the next tick time after from.
func (s *Scheduler) NextRun(from time.Time) time.Time {
	if s.schedule != nil {
		return s.schedule.Next(from)
	}
	return from.Add(s.interval)
}

// Start launches the background loop. The first tick runs immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go s.loop(schedCtx, done)
	s.logger.Info("scheduler started", "interval", s.interval, "cron", s.schedule != nil)
	return nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	s.tick(ctx)

	for {
		wait := time.Until(s.NextRun(time.Now()))
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.tick(ctx)
		}
	}
}

// tick runs the trigger unless a tick is already in flight.
func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.run(ctx); err != nil && !errors.Is(err, ErrTickInFlight) && ctx.Err() == nil {
		s.logger.Error("scheduled tick failed", slog.String("error", err.Error()))
	}
}

// TriggerNow runs one tick synchronously. It returns ErrTickInFlight when a
// scheduled tick is running.
func (s *Scheduler) TriggerNow(ctx context.Context) (engine.TickResult, error) {
	return s.run(ctx)
}

func (s *Scheduler) run(ctx context.Context) (engine.TickResult, error) {
	if !s.tryAcquire() {
		s.statsMu.Lock()
		s.stats.Overlaps++
		s.statsMu.Unlock()
		s.logger.Debug("tick skipped, previous tick still running")
		return engine.TickResult{}, ErrTickInFlight
	}
	defer s.release()

	started := time.Now().UTC()
	result, err := s.trigger.Tick(ctx)
	s.record(started, result, err)
	if err != nil {
		return result, err
	}
	if result != (engine.TickResult{}) {
		s.logger.Info("tick complete",
			slog.Int("processed", result.Processed),
			slog.Int("errors", result.Errors),
			slog.Duration("took", time.Since(started)),
		)
	}
	return result, nil
}

func (s *Scheduler) record(at time.Time, result engine.TickResult, err error) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.stats.Runs++
	s.stats.LastRunAt = &at
	if err != nil {
		s.stats.Failures++
		s.stats.LastError = err.Error()
		return
	}
	s.stats.LastResult = &result
	s.stats.LastError = ""
}

// Stats returns a snapshot of the tick counters.
func (s *Scheduler) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	out := s.stats
	if out.LastResult != nil {
		r := *out.LastResult
		out.LastResult = &r
	}
	return out
}

func (s *Scheduler) tryAcquire() bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if s.inflight {
		return false
	}
	s.inflight = true
	return true
}

func (s *Scheduler) release() {
	s.inflightMu.Lock()
	s.inflight = false
	s.inflightMu.Unlock()
}

// Stop cancels the loop and waits for a running tick to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}
