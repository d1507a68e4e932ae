package reporting

import (
	"fmt"
	"time"
)

// Calendar computes period boundaries in one configured location.
// Every KPI boundary in the system goes through the same Calendar.
type Calendar struct {
	Location  *time.Location
	WeekStart time.Weekday
}

func NewCalendar(loc *time.Location, weekStart time.Weekday) Calendar {
	if loc == nil {
		loc = time.UTC
	}
	return Calendar{Location: loc, WeekStart: weekStart}
}

// Window returns the [start, end) period of type p containing at.
// Boundaries are local midnights, so DST days are 23 or 25 hours long.
func (c Calendar) Window(p PeriodType, at time.Time) (TimeRange, error) {
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	local := at.In(loc)
	y, m, d := local.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, loc)

	switch p {
	case PeriodDaily:
		return TimeRange{From: day, To: time.Date(y, m, d+1, 0, 0, 0, 0, loc)}, nil
	case PeriodWeekly:
		back := (int(local.Weekday()) - int(c.WeekStart) + 7) % 7
		start := time.Date(y, m, d-back, 0, 0, 0, 0, loc)
		end := time.Date(y, m, d-back+7, 0, 0, 0, 0, loc)
		return TimeRange{From: start, To: end}, nil
	case PeriodMonthly:
		start := time.Date(y, m, 1, 0, 0, 0, 0, loc)
		return TimeRange{From: start, To: start.AddDate(0, 1, 0)}, nil
	default:
		return TimeRange{}, fmt.Errorf("%w: unknown period type %q", ErrInvalidRequest, p)
	}
}

// Windows enumerates consecutive periods of type p covering [r.From, r.To).
func (c Calendar) Windows(p PeriodType, r TimeRange) ([]TimeRange, error) {
	if !r.To.After(r.From) {
		return nil, ErrInvalidRequest
	}
	var out []TimeRange
	w, err := c.Window(p, r.From)
	if err != nil {
		return nil, err
	}
	for w.From.Before(r.To) {
		out = append(out, w)
		next, err := c.Window(p, w.To)
		if err != nil {
			return nil, err
		}
		w = next
	}
	return out, nil
}
