package recurrence

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

func wantDay(t *testing.T, got time.Time, y int, m time.Month, d int) {
	t.Helper()
	gy, gm, gd := got.Date()
	if gy != y || gm != m || gd != d {
		t.Fatalf("date = %04d-%02d-%02d, want %04d-%02d-%02d", gy, gm, gd, y, m, d)
	}
}

func TestNextTable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		pattern Pattern
		anchor  time.Time
		wantY   int
		wantM   time.Month
		wantD   int
	}{
		{name: "daily", pattern: Pattern{Type: Daily}, anchor: date(2024, time.March, 1), wantY: 2024, wantM: time.March, wantD: 2},
		{name: "daily across month end", pattern: Pattern{Type: Daily}, anchor: date(2024, time.January, 31), wantY: 2024, wantM: time.February, wantD: 1},
		{name: "weekdays from friday", pattern: Pattern{Type: Weekdays}, anchor: date(2024, time.March, 1), wantY: 2024, wantM: time.March, wantD: 4}, // Fri -> Mon
		{name: "weekdays from saturday", pattern: Pattern{Type: Weekdays}, anchor: date(2024, time.March, 2), wantY: 2024, wantM: time.March, wantD: 4},
		{name: "weekdays midweek", pattern: Pattern{Type: Weekdays}, anchor: date(2024, time.March, 5), wantY: 2024, wantM: time.March, wantD: 6},
		{name: "weekly plain", pattern: Pattern{Type: Weekly}, anchor: date(2024, time.March, 6), wantY: 2024, wantM: time.March, wantD: 13},
		{name: "weekly mon-wed-fri from wednesday", pattern: Pattern{Type: Weekly, DaysOfWeek: []int{1, 3, 5}}, anchor: date(2024, time.March, 6), wantY: 2024, wantM: time.March, wantD: 8}, // Wed -> Fri
		{name: "weekly wraps to next week", pattern: Pattern{Type: Weekly, DaysOfWeek: []int{1}}, anchor: date(2024, time.March, 6), wantY: 2024, wantM: time.March, wantD: 11},             // Wed -> next Mon
		{name: "weekly same weekday wraps a full week", pattern: Pattern{Type: Weekly, DaysOfWeek: []int{3}}, anchor: date(2024, time.March, 6), wantY: 2024, wantM: time.March, wantD: 13},
		{name: "weekly empty day set falls back to plain", pattern: Pattern{Type: Weekly, DaysOfWeek: []int{}}, anchor: date(2024, time.March, 6), wantY: 2024, wantM: time.March, wantD: 13},
		{name: "weekly invalid day values fall back to plain", pattern: Pattern{Type: Weekly, DaysOfWeek: []int{9, -1}}, anchor: date(2024, time.March, 6), wantY: 2024, wantM: time.March, wantD: 13},
		{name: "biweekly", pattern: Pattern{Type: Biweekly}, anchor: date(2024, time.March, 1), wantY: 2024, wantM: time.March, wantD: 15},
		{name: "monthly", pattern: Pattern{Type: Monthly}, anchor: date(2024, time.March, 15), wantY: 2024, wantM: time.April, wantD: 15},
		{name: "monthly clamps jan 31 to leap feb 29", pattern: Pattern{Type: Monthly}, anchor: date(2024, time.January, 31), wantY: 2024, wantM: time.February, wantD: 29},
		{name: "monthly clamps jan 31 to feb 28", pattern: Pattern{Type: Monthly}, anchor: date(2023, time.January, 31), wantY: 2023, wantM: time.February, wantD: 28},
		{name: "monthly clamps may 31 to jun 30", pattern: Pattern{Type: Monthly}, anchor: date(2024, time.May, 31), wantY: 2024, wantM: time.June, wantD: 30},
		{name: "yearly", pattern: Pattern{Type: Yearly}, anchor: date(2024, time.July, 4), wantY: 2025, wantM: time.July, wantD: 4},
		{name: "yearly clamps feb 29 to feb 28", pattern: Pattern{Type: Yearly}, anchor: date(2024, time.February, 29), wantY: 2025, wantM: time.February, wantD: 28},
		{name: "custom days", pattern: Pattern{Type: Custom, Interval: 3, Unit: UnitDays}, anchor: date(2024, time.March, 1), wantY: 2024, wantM: time.March, wantD: 4},
		{name: "custom weeks", pattern: Pattern{Type: Custom, Interval: 2, Unit: UnitWeeks}, anchor: date(2024, time.March, 1), wantY: 2024, wantM: time.March, wantD: 15},
		{name: "custom months", pattern: Pattern{Type: Custom, Interval: 2, Unit: UnitMonths}, anchor: date(2024, time.December, 31), wantY: 2025, wantM: time.February, wantD: 28},
		{name: "custom unknown unit counts days", pattern: Pattern{Type: Custom, Interval: 5, Unit: "hours"}, anchor: date(2024, time.March, 1), wantY: 2024, wantM: time.March, wantD: 6},
		{name: "custom zero interval counts as one", pattern: Pattern{Type: Custom, Unit: UnitDays}, anchor: date(2024, time.March, 1), wantY: 2024, wantM: time.March, wantD: 2},
		{name: "daily with interval multiplier", pattern: Pattern{Type: Daily, Interval: 3}, anchor: date(2024, time.March, 1), wantY: 2024, wantM: time.March, wantD: 4},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := Next(tt.pattern, tt.anchor)
			if !ok {
				t.Fatalf("Next() ended series, want a date")
			}
			wantDay(t, got, tt.wantY, tt.wantM, tt.wantD)
		})
	}
}

func TestNextEndOfDayNormalization(t *testing.T) {
	t.Parallel()
	got, ok := Next(Pattern{Type: Daily}, date(2024, time.March, 1))
	if !ok {
		t.Fatal("expected a date")
	}
	hh, mm, ss := got.Clock()
	if hh != 23 || mm != 59 || ss != 59 {
		t.Fatalf("clock = %02d:%02d:%02d, want 23:59:59", hh, mm, ss)
	}
	if got.Nanosecond() != 999*int(time.Millisecond) {
		t.Fatalf("nanosecond = %d, want %d", got.Nanosecond(), 999*int(time.Millisecond))
	}
	if got.Location() != time.UTC {
		t.Fatalf("location = %v, want anchor's location", got.Location())
	}
}

func TestNextSeriesEnd(t *testing.T) {
	t.Parallel()

	end := date(2024, time.March, 5)
	p := Pattern{Type: Daily, EndDate: &end}

	// Occurrence exactly on the end date is still produced (inclusive bound).
	got, ok := Next(p, date(2024, time.March, 4))
	if !ok {
		t.Fatal("occurrence on end date should be produced")
	}
	wantDay(t, got, 2024, time.March, 5)

	// Anything after it ends the series.
	if _, ok := Next(p, date(2024, time.March, 5)); ok {
		t.Fatal("series should have ended")
	}
}

func TestNextNonRepeating(t *testing.T) {
	t.Parallel()
	anchors := date(2024, time.March, 1)

	if _, ok := Next(Pattern{Type: Once}, anchors); ok {
		t.Fatal("once must never recur")
	}
	if _, ok := Next(Pattern{}, anchors); ok {
		t.Fatal("zero pattern must never recur")
	}
	// Once carrying stray interval/day data is still inert.
	if _, ok := Next(Pattern{Type: Once, Interval: 5, DaysOfWeek: []int{1, 2}}, anchors); ok {
		t.Fatal("once with stray data must never recur")
	}
}
