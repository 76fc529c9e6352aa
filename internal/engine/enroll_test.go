package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnivurse/crm-eco-sub011/internal/store"
	"github.com/omnivurse/crm-eco-sub011/pkg/schema"
)

func TestEnroll_PositionsAtFirstStep(t *testing.T) {
	h := newHarness(t, Config{})
	first := waitStep(3, schema.Delay{Hours: 4})
	seq := h.sequence(t, schema.SequenceSettings{}, nil, first, emailStep(7, "Hi"))

	enr := h.enroll(t, seq, "r1")
	assert.NotEmpty(t, enr.ID)
	assert.Equal(t, schema.EnrollmentActive, enr.Status)
	assert.Equal(t, seq.Steps[0].ID, enr.CurrentStepID)
	assert.Equal(t, 3, enr.CurrentStepOrder)
	assert.Equal(t, "user-1", enr.EnrolledBy)
	assertTimeEqual(t, t0.Add(4*time.Hour), enr.NextStepAt)

	stored := h.reload(t, enr.ID)
	assert.Equal(t, enr.CurrentStepID, stored.CurrentStepID)
	assertTimeEqual(t, t0.Add(4*time.Hour), stored.NextStepAt)
	assert.True(t, t0.Equal(stored.EnrolledAt))

	loaded, err := h.store.GetSequence(context.Background(), seq.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.EnrolledCount)
}

func TestEnroll_FirstEmailHonorsWindow(t *testing.T) {
	h := newHarness(t, Config{})
	seq := h.sequence(t, schema.SequenceSettings{SendTime: "09:00", SendDays: []int{1, 3, 5}}, nil, emailStep(1, "Hi"))

	enr := h.enroll(t, seq, "r1")
	assertTimeEqual(t, time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC), enr.NextStepAt)
}

func TestEnroll_RequestValidation(t *testing.T) {
	h := newHarness(t, Config{})
	seq := h.sequence(t, schema.SequenceSettings{}, nil, waitStep(1, schema.Delay{}))

	valid := EnrollRequest{SequenceID: seq.ID, RecordID: "r1", ModuleKey: "leads", Email: "lead@example.com"}
	tests := []struct {
		name   string
		mutate func(*EnrollRequest)
		field  string
	}{
		{"missing sequence", func(r *EnrollRequest) { r.SequenceID = "" }, "sequence_id"},
		{"missing record", func(r *EnrollRequest) { r.RecordID = "" }, "record_id"},
		{"missing module", func(r *EnrollRequest) { r.ModuleKey = "" }, "module_key"},
		{"missing email", func(r *EnrollRequest) { r.Email = "  " }, "email"},
		{"malformed email", func(r *EnrollRequest) { r.Email = "not-an-address" }, "email"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			_, err := h.engine.Enroll(context.Background(), req)
			requireCode(t, err, schema.ErrCodeValidation)

			serr := err.(*schema.SequencerError)
			fields := serr.Details["fields"].(map[string]any)
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestEnroll_UnknownSequence(t *testing.T) {
	h := newHarness(t, Config{})
	_, err := h.engine.Enroll(context.Background(), EnrollRequest{
		SequenceID: "missing", RecordID: "r1", ModuleKey: "leads", Email: "lead@example.com",
	})
	requireCode(t, err, schema.ErrCodeNotFound)
}

func TestEnroll_RejectsEmptyAndArchivedSequences(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	empty := h.sequence(t, schema.SequenceSettings{}, nil)
	_, err := h.engine.Enroll(ctx, EnrollRequest{SequenceID: empty.ID, RecordID: "r1", ModuleKey: "leads", Email: "a@example.com"})
	requireCode(t, err, schema.ErrCodeValidation)
	assert.Contains(t, err.Error(), "no steps")

	archived := h.sequence(t, schema.SequenceSettings{}, nil, waitStep(1, schema.Delay{}))
	require.NoError(t, h.store.UpdateSequenceStatus(ctx, archived.ID, schema.SequenceStatusArchived))
	_, err = h.engine.Enroll(ctx, EnrollRequest{SequenceID: archived.ID, RecordID: "r1", ModuleKey: "leads", Email: "a@example.com"})
	requireCode(t, err, schema.ErrCodeValidation)
	assert.Contains(t, err.Error(), "archived")
}

func TestEnroll_DraftSequenceAccepted(t *testing.T) {
	h := newHarness(t, Config{})
	seq := h.sequence(t, schema.SequenceSettings{}, nil, waitStep(1, schema.Delay{}))
	require.NoError(t, h.store.UpdateSequenceStatus(context.Background(), seq.ID, schema.SequenceStatusDraft))

	enr := h.enroll(t, seq, "r1")
	assert.Equal(t, schema.EnrollmentActive, enr.Status)

	// Processing waits for the sequence to run.
	assert.Equal(t, 1, h.tick(t).Paused)
}

func TestEnroll_DuplicateOpenEnrollment(t *testing.T) {
	h := newHarness(t, Config{})
	seq := h.sequence(t, schema.SequenceSettings{}, nil, waitStep(1, schema.Delay{Days: 1}))
	first := h.enroll(t, seq, "r1")

	_, err := h.engine.Enroll(context.Background(), EnrollRequest{
		SequenceID: seq.ID, RecordID: "r1", ModuleKey: "leads", Email: "r1@example.com",
	})
	requireCode(t, err, schema.ErrCodeConflict)

	// A terminal enrollment frees the record to enroll again.
	_, err = h.engine.Exit(context.Background(), first.ID, "")
	require.NoError(t, err)
	again := h.enroll(t, seq, "r1")
	assert.NotEqual(t, first.ID, again.ID)

	enrs, err := h.store.ListEnrollments(context.Background(), store.EnrollmentFilter{SequenceID: seq.ID, RecordID: "r1"})
	require.NoError(t, err)
	assert.Len(t, enrs, 2)
}
