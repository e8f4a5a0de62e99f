package recurrence

import "time"

// Type enumerates the supported repeat rules.
type Type string

const (
	Once     Type = "once"
	Daily    Type = "daily"
	Weekdays Type = "weekdays"
	Weekly   Type = "weekly"
	Biweekly Type = "biweekly"
	Monthly  Type = "monthly"
	Yearly   Type = "yearly"
	Custom   Type = "custom"
)

// Unit is the arithmetic unit for Custom patterns.
type Unit string

const (
	UnitDays   Unit = "days"
	UnitWeeks  Unit = "weeks"
	UnitMonths Unit = "months"
)

// Pattern describes how a task repeats.
//
// Interval is a positive multiplier. It is primarily meaningful for Custom
// but is honored as a generic multiplier on any repeating type; callers that
// gate multi-interval repeats collapse it to 1 before resolving.
//
// DaysOfWeek uses 0=Sunday..6=Saturday and applies to Weekly only.
//
// EndDate bounds the series inclusively: an occurrence landing exactly on
// EndDate is still produced, anything later ends the series. StartDate only
// constrains the first appearance and is enforced by the caller, not here.
type Pattern struct {
	Type       Type       `json:"type"`
	Interval   int        `json:"interval,omitempty"`
	Unit       Unit       `json:"unit,omitempty"`
	DaysOfWeek []int      `json:"days_of_week,omitempty"`
	StartDate  *time.Time `json:"start_date,omitempty"`
	EndDate    *time.Time `json:"end_date,omitempty"`
}

// Active reports whether the pattern actually repeats.
// A zero pattern and Type=once both mean "no recurrence".
func (p Pattern) Active() bool {
	return p.Type != "" && p.Type != Once
}

func (p Pattern) interval() int {
	if p.Interval < 1 {
		return 1
	}
	return p.Interval
}
