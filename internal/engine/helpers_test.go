package engine

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnivurse/crm-eco-sub011/internal/expressions"
	"github.com/omnivurse/crm-eco-sub011/internal/queue"
	"github.com/omnivurse/crm-eco-sub011/internal/store"
	"github.com/omnivurse/crm-eco-sub011/internal/validation"
	"github.com/omnivurse/crm-eco-sub011/pkg/schema"
)

// t0 is a Tuesday.
var t0 = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingReporter keeps captured errors in memory.
type recordingReporter struct {
	mu     sync.Mutex
	errors []error
	crumbs []string
}

func (r *recordingReporter) CaptureError(_ context.Context, err error, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, err)
}

func (r *recordingReporter) Breadcrumb(category, message string, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.crumbs = append(r.crumbs, category+":"+message)
}

func (r *recordingReporter) Flush(time.Duration) bool { return true }

func (r *recordingReporter) captured() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errors...)
}

// harness wires a real libsql store, a fixed clock and the store-backed queue.
type harness struct {
	store     *store.LibSQLStore
	clock     *FixedClock
	reporter  *recordingReporter
	executor  *StepExecutor
	processor *Processor
	engine    *Engine
}

func newTestStore(t *testing.T) *store.LibSQLStore {
	t.Helper()
	s, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	s := newTestStore(t)
	engines, err := expressions.NewRegistry()
	require.NoError(t, err)
	v, err := validation.NewDefinitionValidator(engines)
	require.NoError(t, err)

	h := &harness{store: s, clock: NewFixedClock(t0), reporter: &recordingReporter{}}
	h.executor = NewStepExecutor(s, queue.NewStoreQueue(s), engines, discardLogger())
	h.processor = NewProcessor(s, h.executor, h.clock, h.reporter, discardLogger(), cfg)
	h.engine = NewEngine(s, h.processor, v, h.clock, discardLogger())
	return h
}

// sequence stores an active sequence with the given steps.
func (h *harness) sequence(t *testing.T, settings schema.SequenceSettings, exits []schema.ExitCondition, steps ...*store.Step) *store.Sequence {
	t.Helper()
	seq := &store.Sequence{
		OrganizationID: "org-1",
		Name:           "Trial nurture",
		Status:         schema.SequenceStatusActive,
		Settings:       settings,
		ExitConditions: exits,
		Steps:          steps,
	}
	require.NoError(t, h.store.CreateSequence(context.Background(), seq))
	loaded, err := h.store.GetSequence(context.Background(), seq.ID)
	require.NoError(t, err)
	return loaded
}

func (h *harness) record(t *testing.T, id string, fields map[string]any, tags ...string) {
	t.Helper()
	require.NoError(t, h.store.UpsertRecord(context.Background(), &store.Record{
		ID:        id,
		ModuleKey: "leads",
		Email:     id + "@example.com",
		Fields:    fields,
		Tags:      tags,
	}))
}

func (h *harness) enroll(t *testing.T, seq *store.Sequence, recordID string) *store.Enrollment {
	t.Helper()
	enr, err := h.engine.Enroll(context.Background(), EnrollRequest{
		SequenceID: seq.ID,
		RecordID:   recordID,
		ModuleKey:  "leads",
		Email:      recordID + "@example.com",
		EnrolledBy: "user-1",
	})
	require.NoError(t, err)
	return enr
}

func (h *harness) tick(t *testing.T) TickResult {
	t.Helper()
	res, err := h.processor.Tick(context.Background())
	require.NoError(t, err)
	return res
}

func (h *harness) reload(t *testing.T, id string) *store.Enrollment {
	t.Helper()
	enr, err := h.store.GetEnrollment(context.Background(), id)
	require.NoError(t, err)
	return enr
}

func (h *harness) executions(t *testing.T, id string) []*store.StepExecution {
	t.Helper()
	execs, err := h.store.ListExecutions(context.Background(), id)
	require.NoError(t, err)
	return execs
}

func (h *harness) outbound(t *testing.T, enrollmentID string) []*store.OutboundEmail {
	t.Helper()
	msgs, err := h.store.ListOutbound(context.Background(), store.OutboundFilter{EnrollmentID: enrollmentID})
	require.NoError(t, err)
	return msgs
}

func emailStep(order int, subject string) *store.Step {
	return &store.Step{Order: order, Type: schema.StepTypeEmail, Email: &schema.EmailConfig{Subject: subject, TextBody: "Hello {{contact.first_name}}"}}
}

func waitStep(order int, delay schema.Delay) *store.Step {
	return &store.Step{Order: order, Type: schema.StepTypeWait, Delay: delay}
}

func conditionStep(order int, cfg schema.ConditionConfig) *store.Step {
	return &store.Step{Order: order, Type: schema.StepTypeCondition, Condition: &cfg}
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, schema.CodeOf(err), "error: %v", err)
}

func assertTimeEqual(t *testing.T, want time.Time, got *time.Time) {
	t.Helper()
	require.NotNil(t, got)
	assert.True(t, want.Equal(*got), "want %s, got %s", want, *got)
}
