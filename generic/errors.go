/*
errors.go - Errors for the date primitives

PURPOSE:
  The generic package only knows about calendar days and ranges. Its
  errors are sentinels the leave package wraps into validation failures.

SEE ALSO:
  - period.go: Period.Validate
  - leave/errors.go: Domain error taxonomy
*/
package generic

import "errors"

var (
	// ErrInvalidPeriod is returned when a period is malformed (unset bound or end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")
)
