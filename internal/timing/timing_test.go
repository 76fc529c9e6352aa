package timing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnivurse/crm-eco-sub011/pkg/schema"
)

// 2026-03-10 is a Tuesday.
var tuesday = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

func TestNextTime_ZeroDelayNoConstraints(t *testing.T) {
	for _, ref := range []time.Time{
		tuesday,
		time.Date(2026, 12, 31, 23, 59, 59, 0, time.UTC),
		time.Date(2024, 2, 29, 0, 0, 0, 0, time.FixedZone("X", 3*3600)),
	} {
		got, err := NextTime(ref, ref, schema.Delay{}, Constraints{})
		require.NoError(t, err)
		assert.True(t, got.Equal(ref), "want %s, got %s", ref, got)
	}
}

func TestNextTime_DelayComponents(t *testing.T) {
	got, err := NextTime(tuesday, tuesday, schema.Delay{Days: 1, Hours: 2, Minutes: 30}, Constraints{})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 11, 17, 30, 0, 0, time.UTC), got)
}

func TestNextTime_PastSendTimeRollsExactlyOneDay(t *testing.T) {
	got, err := NextTime(tuesday, tuesday, schema.Delay{}, Constraints{SendTime: "09:00"})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC), got)
}

func TestNextTime_PastSendTimeAcrossDay(t *testing.T) {
	for hour := 0; hour < 24; hour++ {
		now := time.Date(2026, 3, 10, hour, 30, 0, 0, time.UTC)
		got, err := NextTime(now, now, schema.Delay{}, Constraints{SendTime: "06:15"})
		require.NoError(t, err)

		assert.True(t, got.After(now), "hour %d: %s not after %s", hour, got, now)
		assert.LessOrEqual(t, got.Sub(now), 24*time.Hour, "hour %d", hour)
		assert.Equal(t, 6, got.Hour())
		assert.Equal(t, 15, got.Minute())
	}
}

func TestNextTime_FutureSendTimeSameDay(t *testing.T) {
	now := time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)
	got, err := NextTime(now, now, schema.Delay{}, Constraints{SendTime: "09:00"})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC), got)
}

func TestNextTime_PinnedEqualToNowRolls(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	got, err := NextTime(now, now, schema.Delay{}, Constraints{SendTime: "09:00"})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC), got)
}

func TestNextTime_WeekdaysTuesdayToWednesday(t *testing.T) {
	allowed := []time.Weekday{time.Monday, time.Wednesday, time.Friday}
	got, err := NextTime(tuesday, tuesday, schema.Delay{}, Constraints{Weekdays: allowed})
	require.NoError(t, err)
	assert.Equal(t, time.Wednesday, got.Weekday())
	assert.Equal(t, time.Date(2026, 3, 11, 15, 0, 0, 0, time.UTC), got)
}

func TestNextTime_WeekdaysAfterSendTimeRoll(t *testing.T) {
	// 09:00 already passed on Tuesday, so the candidate is Wednesday, which
	// is not allowed here; Friday is.
	got, err := NextTime(tuesday, tuesday, schema.Delay{}, Constraints{
		SendTime: "09:00",
		Weekdays: []time.Weekday{time.Monday, time.Friday},
	})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 13, 9, 0, 0, 0, time.UTC), got)
}

func TestNextTime_WeekdayAlreadyAllowed(t *testing.T) {
	got, err := NextTime(tuesday, tuesday, schema.Delay{}, Constraints{Weekdays: []time.Weekday{time.Tuesday}})
	require.NoError(t, err)
	assert.Equal(t, tuesday, got)
}

func TestNextTime_LocationPinsLocalClock(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	ref := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) // 07:00 EST

	got, err := NextTime(ref, ref, schema.Delay{}, Constraints{SendTime: "09:00", Location: est})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC), got)
	assert.Equal(t, time.UTC, got.Location())
}

func TestNextTime_InvalidSendTime(t *testing.T) {
	_, err := NextTime(tuesday, tuesday, schema.Delay{}, Constraints{SendTime: "9am"})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestParseSendTime(t *testing.T) {
	tests := []struct {
		in      string
		hour    int
		minute  int
		wantErr bool
	}{
		{"09:00", 9, 0, false},
		{"9:05", 9, 5, false},
		{"23:59", 23, 59, false},
		{"00:00", 0, 0, false},
		{"24:00", 0, 0, true},
		{"12:60", 0, 0, true},
		{"12", 0, 0, true},
		{"12:5", 0, 0, true},
		{"ab:cd", 0, 0, true},
		{"", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			h, m, err := ParseSendTime(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.hour, h)
			assert.Equal(t, tt.minute, m)
		})
	}
}

func TestParseWeekdays(t *testing.T) {
	days, err := ParseWeekdays([]int{1, 3, 5, 3})
	require.NoError(t, err)
	assert.Equal(t, []time.Weekday{time.Monday, time.Wednesday, time.Friday}, days)

	days, err = ParseWeekdays(nil)
	require.NoError(t, err)
	assert.Nil(t, days)

	_, err = ParseWeekdays([]int{7})
	require.Error(t, err)
}
