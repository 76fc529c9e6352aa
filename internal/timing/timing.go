// Package timing computes when a sequence step becomes due.
package timing

import (
	"strconv"
	"strings"
	"time"

	"github.com/omnivurse/crm-eco-sub011/pkg/schema"
)

// Constraints restrict the instant a step may run at.
type Constraints struct {
	SendTime string         // "HH:MM", empty for any time of day
	Weekdays []time.Weekday // empty for any day
	Location *time.Location // zone SendTime and Weekdays are read in; nil keeps the reference zone
}

// IsZero reports whether no constraint is set.
func (c Constraints) IsZero() bool {
	return c.SendTime == "" && len(c.Weekdays) == 0
}

// NextTime returns the instant a step with the given delay and constraints is due.
//
// The delay is added to reference (days as calendar days in the constraint zone).
// A send time pins hour and minute on the resulting date; if the pinned instant is
// not after now it moves forward exactly one day. Allowed weekdays then advance the
// result day by day, at most seven times.
func NextTime(reference, now time.Time, delay schema.Delay, c Constraints) (time.Time, error) {
	loc := c.Location
	if loc == nil {
		loc = reference.Location()
	}

	t := reference.In(loc).AddDate(0, 0, delay.Days).
		Add(time.Duration(delay.Hours)*time.Hour + time.Duration(delay.Minutes)*time.Minute)

	if c.SendTime != "" {
		hour, minute, err := ParseSendTime(c.SendTime)
		if err != nil {
			return time.Time{}, err
		}
		t = time.Date(t.Year(), t.Month(), t.Day(), hour, minute, 0, 0, loc)
		if !t.After(now) {
			t = t.AddDate(0, 0, 1)
		}
	}

	if len(c.Weekdays) > 0 {
		for i := 0; i < 7 && !weekdayAllowed(t.Weekday(), c.Weekdays); i++ {
			t = t.AddDate(0, 0, 1)
		}
	}

	return t.In(reference.Location()), nil
}

func weekdayAllowed(day time.Weekday, allowed []time.Weekday) bool {
	for _, d := range allowed {
		if d == day {
			return true
		}
	}
	return false
}

// ParseSendTime parses "HH:MM" in 24-hour form.
func ParseSendTime(s string) (hour, minute int, err error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(h) == 0 || len(h) > 2 || len(m) != 2 {
		return 0, 0, invalidSendTime(s)
	}
	hour, err = strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, invalidSendTime(s)
	}
	minute, err = strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, invalidSendTime(s)
	}
	return hour, minute, nil
}

func invalidSendTime(s string) error {
	return schema.NewErrorf(schema.ErrCodeValidation, "invalid send time %q: want HH:MM", s)
}

// ParseWeekdays converts 0=Sunday..6=Saturday integers to weekdays, dropping duplicates.
func ParseWeekdays(days []int) ([]time.Weekday, error) {
	if len(days) == 0 {
		return nil, nil
	}
	seen := make(map[int]struct{}, len(days))
	out := make([]time.Weekday, 0, len(days))
	for _, d := range days {
		if d < 0 || d > 6 {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid weekday %d: want 0..6", d)
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, time.Weekday(d))
	}
	return out, nil
}
