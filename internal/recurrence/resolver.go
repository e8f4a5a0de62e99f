// Package recurrence computes the next occurrence of a repeating task.
//
// The resolver is a pure function of (pattern, anchor). It never errors:
// malformed patterns degrade to the closest sane rule (weekly with an empty
// weekday set becomes plain anchor+7d, a non-positive interval counts as 1,
// an unknown unit counts as days).
package recurrence

import "time"

// Next returns the next occurrence strictly after anchor, or ok=false when
// the series has ended (EndDate exceeded) or the pattern does not repeat.
//
// Every produced date is normalized to end-of-day (23:59:59.999) in the
// anchor's location, matching the due-date convention used across the system
// so "due today" checks are whole-day comparisons.
func Next(p Pattern, anchor time.Time) (time.Time, bool) {
	if !p.Active() {
		return time.Time{}, false
	}

	n := p.interval()
	var next time.Time

	switch p.Type {
	case Daily:
		next = anchor.AddDate(0, 0, n)
	case Weekdays:
		next = anchor.AddDate(0, 0, 1)
		for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
			next = next.AddDate(0, 0, 1)
		}
	case Weekly:
		if set := weekdaySet(p.DaysOfWeek); set != 0 {
			// Smallest date strictly after anchor whose weekday is in the set;
			// a full scan of 7 days always wraps into the following week.
			next = anchor.AddDate(0, 0, 1)
			for i := 0; i < 6 && set&(1<<uint(next.Weekday())) == 0; i++ {
				next = next.AddDate(0, 0, 1)
			}
		} else {
			next = anchor.AddDate(0, 0, 7*n)
		}
	case Biweekly:
		next = anchor.AddDate(0, 0, 14*n)
	case Monthly:
		next = addMonthsClamped(anchor, n)
	case Yearly:
		// Feb 29 anchors clamp to Feb 28 in non-leap years.
		next = addMonthsClamped(anchor, 12*n)
	case Custom:
		switch p.Unit {
		case UnitWeeks:
			next = anchor.AddDate(0, 0, 7*n)
		case UnitMonths:
			next = addMonthsClamped(anchor, n)
		default:
			next = anchor.AddDate(0, 0, n)
		}
	default:
		return time.Time{}, false
	}

	next = EndOfDay(next)
	if p.EndDate != nil && next.After(EndOfDay(*p.EndDate)) {
		return time.Time{}, false
	}
	return next, true
}

// EndOfDay returns t's date at 23:59:59.999 in t's location.
func EndOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, 999*int(time.Millisecond), t.Location())
}

// addMonthsClamped advances by whole months, clamping the day-of-month to the
// target month's last day. Plain AddDate would normalize Jan 31 + 1 month into
// early March, which is not what "same day next month" means here.
func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()

	first := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	if last := daysIn(first.Year(), first.Month()); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, hh, mm, ss, t.Nanosecond(), t.Location())
}

// daysIn returns the number of days in the given month.
func daysIn(year int, month time.Month) int {
	// Day 0 of the following month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// weekdaySet folds weekday indices (0=Sunday..6=Saturday) into a bitmask,
// discarding out-of-range values. Returns 0 when nothing valid remains.
func weekdaySet(days []int) uint8 {
	var set uint8
	for _, d := range days {
		if d >= 0 && d <= 6 {
			set |= 1 << uint(d)
		}
	}
	return set
}
