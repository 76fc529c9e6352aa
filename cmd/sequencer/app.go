package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/omnivurse/crm-eco-sub011/internal/engine"
	"github.com/omnivurse/crm-eco-sub011/internal/expressions"
	"github.com/omnivurse/crm-eco-sub011/internal/logging"
	"github.com/omnivurse/crm-eco-sub011/internal/queue"
	"github.com/omnivurse/crm-eco-sub011/internal/reporting"
	"github.com/omnivurse/crm-eco-sub011/internal/store"
	"github.com/omnivurse/crm-eco-sub011/internal/streaming"
	"github.com/omnivurse/crm-eco-sub011/internal/validation"
)

// app is the wired object graph shared by every command.
type app struct {
	cfg       Config
	logger    *slog.Logger
	store     *store.LibSQLStore
	queue     queue.Outbound
	reporter  reporting.Reporter
	processor *engine.Processor
	engine    *engine.Engine
	events    *streaming.MemoryHub

	closers []func() error
}

// newApp opens the store, runs migrations and wires the engine.
func newApp(ctx context.Context, cfg Config, logOut io.Writer) (*app, error) {
	logger := logging.New(logOut, cfg.LogLevel, cfg.LogFormat)

	if dir := filepath.Dir(cfg.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	s, err := store.NewLibSQLStore(cfg.dsn())
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, store: s}
	a.closers = append(a.closers, s.Close)

	if err := s.Migrate(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	reporter, err := reporting.New(reporting.SentryConfig{
		DSN:         cfg.SentryDSN,
		Environment: cfg.Environment,
		Release:     version,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.reporter = reporter
	a.closers = append(a.closers, func() error {
		reporter.Flush(2 * time.Second)
		return nil
	})

	a.queue, err = a.openQueue(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	engines, err := expressions.NewRegistry()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("expression engines: %w", err)
	}
	defs, err := validation.NewDefinitionValidator(engines)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("definition validator: %w", err)
	}

	clock := engine.SystemClock{}
	executor := engine.NewStepExecutor(s, a.queue, engines, logger)
	a.processor = engine.NewProcessor(s, executor, clock, reporter, logger, cfg.processorConfig())
	a.engine = engine.NewEngine(s, a.processor, defs, clock, logger)
	a.events = streaming.NewMemoryHub()
	a.engine.SetEventHub(a.events)
	return a, nil
}

// openQueue selects the outbound transport and wraps it in a circuit breaker.
func (a *app) openQueue(ctx context.Context) (queue.Outbound, error) {
	var next queue.Outbound
	switch a.cfg.QueueBackend {
	case "redis":
		rq := queue.NewRedisQueue(a.cfg.redisConfig())
		a.closers = append(a.closers, rq.Close)
		if err := rq.Ping(ctx); err != nil {
			// Enqueue failures are retried per enrollment, so startup continues.
			a.logger.Warn("redis queue unreachable", "addr", a.cfg.RedisAddr, slog.String("error", err.Error()))
		}
		next = rq
	default:
		next = queue.NewStoreQueue(a.store)
	}
	return queue.NewBreakerQueue(next, queue.DefaultBreakerConfig()), nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
