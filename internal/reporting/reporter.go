// Package reporting forwards per-enrollment failures to an error tracker.
package reporting

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/omnivurse/crm-eco-sub011/internal/logging"
	"github.com/omnivurse/crm-eco-sub011/pkg/schema"
)

// Reporter records errors and breadcrumbs outside the process log.
type Reporter interface {
	CaptureError(ctx context.Context, err error, extra map[string]any)
	Breadcrumb(category, message string, data map[string]any)
	Flush(timeout time.Duration) bool
}

// NopReporter discards everything.
type NopReporter struct{}

func (NopReporter) CaptureError(context.Context, error, map[string]any) {}
func (NopReporter) Breadcrumb(string, string, map[string]any)          {}
func (NopReporter) Flush(time.Duration) bool                           { return true }

// SentryConfig configures the Sentry client.
type SentryConfig struct {
	DSN         string
	Environment string
	Release     string
	// BeforeSend, when set, sees every event before transport.
	BeforeSend func(*sentry.Event, *sentry.EventHint) *sentry.Event
}

// SentryReporter reports through its own Sentry hub.
type SentryReporter struct {
	hub *sentry.Hub
}

// New returns a SentryReporter when a DSN is configured and a NopReporter otherwise.
func New(cfg SentryConfig) (Reporter, error) {
	if cfg.DSN == "" {
		return NopReporter{}, nil
	}
	return NewSentryReporter(cfg)
}

// NewSentryReporter creates a reporter with a dedicated client and hub.
func NewSentryReporter(cfg SentryConfig) (*SentryReporter, error) {
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
		BeforeSend:  cfg.BeforeSend,
	})
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "invalid sentry configuration").WithCause(err)
	}
	return &SentryReporter{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

// CaptureError sends err tagged with its error code and the correlation ids in ctx.
func (r *SentryReporter) CaptureError(ctx context.Context, err error, extra map[string]any) {
	if err == nil {
		return
	}
	r.hub.WithScope(func(scope *sentry.Scope) {
		if code := schema.CodeOf(err); code != "" {
			scope.SetTag("error_code", code)
		}
		if id := logging.EnrollmentID(ctx); id != "" {
			scope.SetTag("enrollment_id", id)
		}
		if id := logging.SequenceID(ctx); id != "" {
			scope.SetTag("sequence_id", id)
		}
		if id := logging.StepID(ctx); id != "" {
			scope.SetTag("step_id", id)
		}
		for k, v := range extra {
			scope.SetExtra(k, v)
		}
		r.hub.CaptureException(err)
	})
}

// Breadcrumb records a lightweight event attached to later captures.
func (r *SentryReporter) Breadcrumb(category, message string, data map[string]any) {
	r.hub.AddBreadcrumb(&sentry.Breadcrumb{
		Type:      "info",
		Category:  category,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
	}, nil)
}

// Flush waits for buffered events.
func (r *SentryReporter) Flush(timeout time.Duration) bool {
	return r.hub.Flush(timeout)
}

var (
	_ Reporter = NopReporter{}
	_ Reporter = (*SentryReporter)(nil)
)
