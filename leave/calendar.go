/*
calendar.go - Calendar service and working-day calculator

PURPOSE:
  Answers "is this a working day" and "how many chargeable days does this
  range cost". A day is chargeable when it is not a Saturday or Sunday, not
  a holiday and not inside a blocked period of its year's calendar.

MISSING CALENDARS:
  A year without a calendar is treated as unrestricted (weekends still
  excluded). This is a data-quality condition: it emits
  EventCalendarMissing and never fails the calculation.

SEE ALSO:
  - validation.go: Checks YearCalendars.BlockedIn for the blocked-period rule
  - request.go: Loads YearCalendars once per request and recomputes its
    duration from them
*/
package leave

import (
	"context"
	"errors"
	"fmt"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// CALENDAR SERVICE
// =============================================================================

type CalendarService struct {
	store  CalendarStore
	events EventSink
}

func NewCalendarService(store CalendarStore, events EventSink) *CalendarService {
	return &CalendarService{store: store, events: sinkOrNop(events)}
}

// CalendarFor returns the calendar of year. found is false when the year has
// no calendar; that is not an error.
func (c *CalendarService) CalendarFor(ctx context.Context, year int) (cal *Calendar, found bool, err error) {
	cal, err = c.store.GetCalendar(ctx, year)
	if errors.Is(err, ErrNotFound) {
		c.events.Emit(ctx, Event{Name: EventCalendarMissing, Fields: map[string]any{"year": year}})
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load calendar %d: %w", year, err)
	}
	return cal, true, nil
}

// YearCalendars holds one calendar per year of a period. A year with no
// calendar maps to nil and is unrestricted.
type YearCalendars map[int]*Calendar

// CalendarsFor loads one calendar per distinct year of p.
func (c *CalendarService) CalendarsFor(ctx context.Context, p generic.Period) (YearCalendars, error) {
	out := make(YearCalendars)
	for _, year := range p.Years() {
		cal, _, err := c.CalendarFor(ctx, year)
		if err != nil {
			return nil, err
		}
		out[year] = cal
	}
	return out, nil
}

// BlockedIn returns the blocked periods that intersect p.
func (yc YearCalendars) BlockedIn(p generic.Period) []BlockedPeriod {
	var hits []BlockedPeriod
	for _, year := range p.Years() {
		cal := yc[year]
		if cal == nil {
			continue
		}
		for _, b := range cal.Blocked {
			if b.Period.Overlaps(p) {
				hits = append(hits, b)
			}
		}
	}
	return hits
}

// ChargeableDays counts the days of p that are not weekends, holidays or
// blocked.
func (yc YearCalendars) ChargeableDays(p generic.Period) int {
	days := 0
	for _, day := range p.Days() {
		if day.IsWeekend() {
			continue
		}
		if cal := yc[day.Year()]; cal != nil && (cal.IsHoliday(day) || cal.IsBlocked(day)) {
			continue
		}
		days++
	}
	return days
}

// IsWorkingDay reports whether day is chargeable.
func (c *CalendarService) IsWorkingDay(ctx context.Context, day generic.TimePoint) (bool, error) {
	if day.IsWeekend() {
		return false, nil
	}
	cal, found, err := c.CalendarFor(ctx, day.Year())
	if err != nil || !found {
		return err == nil, err
	}
	return !cal.IsHoliday(day) && !cal.IsBlocked(day), nil
}

// BlockedPeriodsIn returns the blocked periods that intersect p.
func (c *CalendarService) BlockedPeriodsIn(ctx context.Context, p generic.Period) ([]BlockedPeriod, error) {
	cals, err := c.CalendarsFor(ctx, p)
	if err != nil {
		return nil, err
	}
	return cals.BlockedIn(p), nil
}

// =============================================================================
// WORKING-DAY CALCULATOR
// =============================================================================

type WorkingDayCalculator struct {
	calendars *CalendarService
}

func NewWorkingDayCalculator(calendars *CalendarService) *WorkingDayCalculator {
	return &WorkingDayCalculator{calendars: calendars}
}

// ChargeableDays counts the working days of the inclusive range p. The
// employee is part of the signature so per-employee calendars can be added
// without changing callers; all employees currently share one calendar.
func (w *WorkingDayCalculator) ChargeableDays(ctx context.Context, employeeID EmployeeID, p generic.Period) (int, error) {
	cals, err := w.Calendars(ctx, employeeID, p)
	if err != nil {
		return 0, err
	}
	return cals.ChargeableDays(p), nil
}

// Calendars validates p and loads the calendars the employee's days in p
// are counted against. Callers that also need the blocked periods of p
// reuse the result instead of loading each year twice.
func (w *WorkingDayCalculator) Calendars(ctx context.Context, employeeID EmployeeID, p generic.Period) (YearCalendars, error) {
	if err := p.Validate(); err != nil {
		return nil, newValidation(KindInvalidPeriod, "%s: %v", p, err)
	}
	cals, err := w.calendars.CalendarsFor(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("chargeable days for %s: %w", employeeID, err)
	}
	return cals, nil
}
