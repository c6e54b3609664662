package triggers

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"
)

// NextOccurrence evaluates an RFC 5545 RRULE in the given timezone and
// returns the first occurrence strictly after the given instant, in UTC.
// ok is false when the rule has no further occurrences.
func NextOccurrence(rule, tzName string, start, after time.Time) (time.Time, bool, error) {
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("trigger timezone %q: %w", tzName, err)
	}
	opt, err := rrule.StrToROption(rule)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("recurrence rule %q: %w", rule, err)
	}
	if opt.Dtstart.IsZero() {
		opt.Dtstart = start.In(loc)
	}
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("recurrence rule %q: %w", rule, err)
	}
	next := r.After(after.In(loc), false)
	if next.IsZero() {
		return time.Time{}, false, nil
	}
	return next.UTC(), true, nil
}

// InitialNextFire computes a new trigger's first fire time: the start time
// when it is still ahead, otherwise the next rule occurrence after now.
// One-shots whose start already passed fire on the next poll.
func InitialNextFire(rec Record, now time.Time) (*time.Time, error) {
	start := rec.StartTime.UTC()
	if start.After(now) {
		return &start, nil
	}
	if rec.RecurrenceRule == "" {
		return &start, nil
	}
	next, ok, err := NextOccurrence(rec.RecurrenceRule, rec.Timezone, start, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &next, nil
}
