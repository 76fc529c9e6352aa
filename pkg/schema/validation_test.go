package schema

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationResult_EmptyIsValid(t *testing.T) {
	r := &ValidationResult{}
	assert.True(t, r.Valid())
	assert.Nil(t, r.ToError())
}

func TestValidationResult_WarningsDoNotBlock(t *testing.T) {
	r := &ValidationResult{}
	r.Warnf("settings.throttle_daily", "throttle_daily is stored but not enforced")

	assert.True(t, r.Valid())
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, SeverityWarning, r.Warnings[0].Severity)
	assert.Nil(t, r.ToError())
}

func TestValidationResult_Merge(t *testing.T) {
	r1 := &ValidationResult{}
	r1.Errorf("steps[0].step_order", "must be positive")
	r2 := &ValidationResult{}
	r2.Errorf("steps[1].email.send_time", "invalid send time %q", "25:00")
	r2.Warnf("settings", "w")

	r1.Merge(r2)
	r1.Merge(nil)

	assert.Len(t, r1.Errors, 2)
	assert.Len(t, r1.Warnings, 1)
}

func TestValidationResult_ToError_SingleError(t *testing.T) {
	r := &ValidationResult{}
	r.Errorf("steps[2].step_order", "must be greater than %d", 2)

	err := r.ToError()
	require.Error(t, err)

	var serr *SequencerError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, ErrCodeValidation, serr.Code)
	assert.Equal(t, "steps[2].step_order: must be greater than 2", serr.Message)
	assert.Equal(t, 1, serr.Details["error_count"])
}

func TestValidationResult_ToError_MultipleErrors(t *testing.T) {
	r := &ValidationResult{}
	r.Errorf("/", "err1")
	r.Errorf("/", "err2")

	err := r.ToError()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 errors")
}

func TestSequencerError_Format(t *testing.T) {
	err := NewErrorf(ErrCodeRender, "path too deep: %d", 9).WithStep("step-1")
	assert.Equal(t, "[RENDER_ERROR] step step-1: path too deep: 9", err.Error())

	plain := NewError(ErrCodeNotFound, "enrollment missing")
	assert.Equal(t, "[NOT_FOUND] enrollment missing", plain.Error())
}

func TestCodeOf_WrappedChain(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("persist: %w", NewError(ErrCodeStore, "write failed").WithCause(cause))

	assert.Equal(t, ErrCodeStore, CodeOf(err))
	assert.True(t, IsCode(err, ErrCodeStore))
	assert.False(t, IsCode(err, ErrCodeNotFound))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "", CodeOf(cause))
}

func TestEnrollmentStatus_IsTerminal(t *testing.T) {
	assert.False(t, EnrollmentActive.IsTerminal())
	assert.False(t, EnrollmentPaused.IsTerminal())
	assert.True(t, EnrollmentCompleted.IsTerminal())
	assert.True(t, EnrollmentExited.IsTerminal())
}

func TestSignalType_Valid(t *testing.T) {
	for _, st := range []SignalType{SignalOpen, SignalClick, SignalReply, SignalBounce, SignalUnsubscribe} {
		assert.True(t, st.Valid(), st)
	}
	assert.False(t, SignalType("delivered").Valid())
}

func TestSequenceSettings_Location(t *testing.T) {
	loc, err := SequenceSettings{}.Location()
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())

	_, err = SequenceSettings{Timezone: "Mars/Olympus"}.Location()
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeValidation))
}
