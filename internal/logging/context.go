// Package logging carries enrollment correlation IDs through contexts into slog records.
package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"
)

type ctxKey int

const (
	enrollmentIDKey ctxKey = iota
	sequenceIDKey
	stepIDKey
)

// WithEnrollmentID returns a context with the enrollment ID set.
func WithEnrollmentID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, enrollmentIDKey, id)
}

// WithSequenceID returns a context with the sequence ID set.
func WithSequenceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sequenceIDKey, id)
}

// WithStepID returns a context with the step ID set.
func WithStepID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, stepIDKey, id)
}

// EnrollmentID extracts the enrollment ID from the context, or "" if absent.
func EnrollmentID(ctx context.Context) string {
	v, _ := ctx.Value(enrollmentIDKey).(string)
	return v
}

// SequenceID extracts the sequence ID from the context, or "" if absent.
func SequenceID(ctx context.Context) string {
	v, _ := ctx.Value(sequenceIDKey).(string)
	return v
}

// StepID extracts the step ID from the context, or "" if absent.
func StepID(ctx context.Context) string {
	v, _ := ctx.Value(stepIDKey).(string)
	return v
}

// WithIDs sets the enrollment and sequence IDs at once.
func WithIDs(ctx context.Context, enrollmentID, sequenceID string) context.Context {
	ctx = WithEnrollmentID(ctx, enrollmentID)
	ctx = WithSequenceID(ctx, sequenceID)
	return ctx
}

// Attrs returns the correlation IDs present in ctx as slog attributes.
func Attrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	if v := EnrollmentID(ctx); v != "" {
		attrs = append(attrs, slog.String("enrollment_id", v))
	}
	if v := SequenceID(ctx); v != "" {
		attrs = append(attrs, slog.String("sequence_id", v))
	}
	if v := StepID(ctx); v != "" {
		attrs = append(attrs, slog.String("step_id", v))
	}
	return attrs
}

// CorrelationHandler wraps an slog.Handler and adds the correlation IDs
// found in the record's context, so callers can use logger.InfoContext(ctx, ...).
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with correlation ID injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(Attrs(ctx)...)
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}

// ParseLevel maps debug, info, warn, and error to slog levels. Unknown values yield info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a correlation-aware logger writing text or json to w.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var inner slog.Handler
	if strings.EqualFold(format, "json") {
		inner = slog.NewJSONHandler(w, opts)
	} else {
		inner = slog.NewTextHandler(w, opts)
	}
	return slog.New(NewCorrelationHandler(inner))
}
