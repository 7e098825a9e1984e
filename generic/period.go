package generic

// =============================================================================
// PERIOD - Inclusive date range
// =============================================================================

// Period is an inclusive range of calendar days [Start, End].
//
// Examples:
//   - A leave request: 2025-06-01 .. 2025-06-05 (five calendar days)
//   - A blocked period: 2025-12-20 .. 2025-12-31
//   - An entitlement cycle: hire anniversary .. day before next anniversary
type Period struct {
	Start TimePoint `json:"start"`
	End   TimePoint `json:"end"`
}

// Validate reports ErrInvalidPeriod for unset bounds or End before Start.
func (p Period) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() || p.End.Before(p.Start) {
		return ErrInvalidPeriod
	}
	return nil
}

// Contains returns true if the time point is within the period [Start, End]
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// Overlaps reports whether two inclusive ranges share at least one day.
func (p Period) Overlaps(other Period) bool {
	return p.Start.BeforeOrEqual(other.End) && other.Start.BeforeOrEqual(p.End)
}

// Days returns all days in the period as a slice of TimePoints.
func (p Period) Days() []TimePoint {
	var days []TimePoint
	current := p.Start
	for current.BeforeOrEqual(p.End) {
		days = append(days, current)
		current = current.AddDays(1)
	}
	return days
}

// Len is the number of calendar days in the period.
func (p Period) Len() int {
	if p.End.Before(p.Start) {
		return 0
	}
	return DaysBetween(p.Start, p.End) + 1
}

// Years lists each calendar year the period touches, ascending.
func (p Period) Years() []int {
	var years []int
	for y := p.Start.Year(); y <= p.End.Year(); y++ {
		years = append(years, y)
	}
	return years
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// =============================================================================
// ANNIVERSARIES - Entitlement cycles anchored on an employee date
// =============================================================================

// CalendarYear returns Jan 1 - Dec 31 of the given year.
func CalendarYear(year int) Period {
	return Period{Start: StartOfYear(year), End: EndOfYear(year)}
}

// AnniversaryPeriod returns the anniversary year of anchor that contains date.
// Dates before the anchor fall in the first anniversary year.
func AnniversaryPeriod(anchor, date TimePoint) Period {
	if date.Before(anchor) {
		return Period{Start: anchor, End: anchor.AddYears(1).AddDays(-1)}
	}
	yearsElapsed := date.Year() - anchor.Year()
	start := anchor.AddYears(yearsElapsed)
	if date.Before(start) {
		start = anchor.AddYears(yearsElapsed - 1)
	}
	return Period{Start: start, End: start.AddYears(1).AddDays(-1)}
}

// NextAnniversary advances anchor one year at a time until it is strictly
// after asOf.
func NextAnniversary(anchor, asOf TimePoint) TimePoint {
	next := anchor
	for years := 1; !next.After(asOf); years++ {
		next = anchor.AddYears(years)
	}
	return next
}

// RollingYears returns the window of n years ending on end (inclusive).
func RollingYears(end TimePoint, n int) Period {
	return Period{Start: end.AddYears(-n).AddDays(1), End: end}
}
