// Package recurrence computes when an alarm or reminder has to fire next.
package recurrence

import (
	"fmt"
	"time"

	"github.com/linesmerrill/alarm-trigger-api/models"
)

const dateLayout = "2006-01-02"

// searchDays is how far ahead a repeat item is searched. Offset 0 is the reference day
// itself and offset 7 is the same weekday one week later, so every weekday is covered.
const searchDays = 7

// Calculator computes next trigger instants with wall-clock times interpreted in Location.
// The zero value uses UTC.
type Calculator struct {
	Location *time.Location
}

// New returns a Calculator for the given canonical zone
func New(loc *time.Location) Calculator {
	return Calculator{Location: loc}
}

// NextTrigger is a shorthand for a UTC Calculator
func NextTrigger(item models.ScheduleItem, now time.Time) *time.Time {
	return Calculator{}.Next(item, now)
}

func (c Calculator) location() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

// Next returns the next instant item has to fire, or nil when there is no further
// occurrence. Malformed schedules yield nil rather than an error.
func (c Calculator) Next(item models.ScheduleItem, now time.Time) *time.Time {
	hour, minute, err := ParseTimeOfDay(item.TimeOfDay)
	if err != nil {
		return nil
	}

	switch item.Kind {
	case models.KindOnce:
		return c.nextOnce(item, now, hour, minute)
	case models.KindRepeat:
		return c.nextRepeat(item, now, hour, minute)
	default:
		return nil
	}
}

func (c Calculator) nextOnce(item models.ScheduleItem, now time.Time, hour, minute int) *time.Time {
	if item.LastTriggeredAt != nil {
		return nil
	}
	day, err := time.ParseInLocation(dateLayout, item.Date, c.location())
	if err != nil {
		return nil
	}
	at := c.wallClock(day, hour, minute)
	if !at.After(now) {
		return nil
	}
	return &at
}

// nextRepeat returns the first slot after the reference. An item that never fired may also
// fire at a slot equal to its reference, as long as that slot is not behind now.
func (c Calculator) nextRepeat(item models.ScheduleItem, now time.Time, hour, minute int) *time.Time {
	days, ok := weekdaySet(item.RepeatDays)
	if !ok {
		return nil
	}

	reference := item.CreatedAt
	if item.LastTriggeredAt != nil {
		reference = *item.LastTriggeredAt
	}
	ref := reference.In(c.location())

	for offset := 0; offset <= searchDays; offset++ {
		day := ref.AddDate(0, 0, offset)
		candidate := c.wallClock(day, hour, minute)
		if !days[candidate.Weekday()] {
			continue
		}
		if candidate.After(reference) {
			return &candidate
		}
		if item.LastTriggeredAt == nil && candidate.Equal(reference) && !candidate.Before(now) {
			return &candidate
		}
	}
	return nil
}

// wallClock returns hour:minute on the calendar day of day. A wall time skipped by a
// daylight saving jump is moved forward by the length of the jump.
func (c Calculator) wallClock(day time.Time, hour, minute int) time.Time {
	loc := c.location()
	t := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc)
	if t.Hour() == hour && t.Minute() == minute {
		return t
	}
	_, before := t.Zone()
	_, after := t.Add(24 * time.Hour).Zone()
	return t.Add(time.Duration(after-before) * time.Second)
}

func weekdaySet(repeatDays []int) (map[time.Weekday]bool, bool) {
	if len(repeatDays) == 0 {
		return nil, false
	}
	set := make(map[time.Weekday]bool, len(repeatDays))
	for _, d := range repeatDays {
		if d < 0 || d > 6 {
			return nil, false
		}
		set[time.Weekday(d)] = true
	}
	return set, true
}

// ParseTimeOfDay parses "HH:MM" (24h clock)
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}
