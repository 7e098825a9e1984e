/*
validation.go - Validation engine

PURPOSE:
  Runs the business rules a request must satisfy, in a fixed order, and
  reports the first failure as a *ValidationError.

ORDER:
  1. Leave type active; employee tenure
  2. Attachment required / resolvable
  3. Blocked periods (hard reject)
  4. Grace period for past dates; minimum notice for future dates
  5. Overlap with PENDING_* or APPROVED requests of the employee
  6. Duration limits and available balance
  7. Cumulative caps (HR finalize only, see CheckCumulativeCaps)

  Rules 1-4 (Validate) read calendars and collaborators and run before the
  unit of work opens. Rules 5-6 (ValidateBooking) read requests and the
  ledger through the unit-of-work store, so the overlap and balance checks
  and the reservation see the same state.

  Past-dated requests inside the grace window pass with Findings.Retroactive.

SEE ALSO:
  - errors.go: ValidationKind values
  - request.go: Calls Validate on create and update
*/
package leave

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/generic"
)

// DefaultGraceDays is how far in the past a request may end.
const DefaultGraceDays = 7

type Validator struct {
	employees   EmployeeDirectory
	calendars   *CalendarService
	attachments AttachmentChecker
	graceDays   int
	now         func() time.Time
}

func NewValidator(employees EmployeeDirectory, calendars *CalendarService, attachments AttachmentChecker, graceDays int) *Validator {
	if graceDays < 0 {
		graceDays = DefaultGraceDays
	}
	return &Validator{
		employees:   employees,
		calendars:   calendars,
		attachments: attachments,
		graceDays:   graceDays,
		now:         time.Now,
	}
}

// ValidationInput is a candidate request.
type ValidationInput struct {
	EmployeeID   EmployeeID
	LeaveType    *LeaveType
	Policy       *LeavePolicy
	Period       generic.Period
	Days         int
	AttachmentID string
	// ExcludeID is the request being updated; it never overlaps itself.
	ExcludeID RequestID
	// Reserved is what the request being updated already holds on this
	// leave type; it counts towards the available balance.
	Reserved decimal.Decimal
	// Calendars already loaded for Period. Nil loads them.
	Calendars YearCalendars
}

// Findings are non-fatal conditions discovered during validation.
type Findings struct {
	Retroactive bool
	DaysPast    int
}

// Validate runs rules 1-4. They read calendars and collaborators only and
// run before the unit of work opens.
func (v *Validator) Validate(ctx context.Context, in ValidationInput) (*Findings, error) {
	findings := &Findings{}
	if err := in.Period.Validate(); err != nil {
		return nil, newValidation(KindInvalidPeriod, "%s", in.Period)
	}

	// 1. Leave type and eligibility
	if err := v.checkLeaveType(ctx, in); err != nil {
		return nil, err
	}

	// 2. Attachment
	if err := v.checkAttachment(ctx, in.LeaveType, in.Days, in.AttachmentID); err != nil {
		return nil, err
	}

	// 3. Blocked periods
	cals := in.Calendars
	if cals == nil {
		var err error
		if cals, err = v.calendars.CalendarsFor(ctx, in.Period); err != nil {
			return nil, err
		}
	}
	blocked := cals.BlockedIn(in.Period)
	if len(blocked) > 0 {
		b := blocked[0]
		return nil, newValidation(KindBlockedPeriod, "%s intersects blocked period %s %s", in.Period, b.Period, b.Reason)
	}

	// 4. Grace period and notice
	today := generic.FromTime(v.now())
	if in.Period.End.Before(today) {
		past := generic.DaysBetween(in.Period.End, today)
		if past > v.graceDays {
			return nil, newValidation(KindGracePeriodExpired, "request ended %d days ago, grace period is %d days", past, v.graceDays)
		}
		findings.Retroactive = true
		findings.DaysPast = past
	}
	if in.Policy != nil && in.Policy.MinNoticeDays > 0 && in.Period.Start.After(today) {
		if notice := generic.DaysBetween(today, in.Period.Start); notice < in.Policy.MinNoticeDays {
			return nil, newValidation(KindNoticeTooShort, "%d days notice given, %d required", notice, in.Policy.MinNoticeDays)
		}
	}
	return findings, nil
}

// ValidateBooking runs rules 5-6 against s, the unit-of-work store the
// reservation will be written through.
func (v *Validator) ValidateBooking(ctx context.Context, s Store, in ValidationInput) error {
	// 5. Overlap
	if err := v.checkOverlap(ctx, s, in); err != nil {
		return err
	}

	// 6. Duration and balance
	if err := v.checkDuration(in); err != nil {
		return err
	}
	return v.checkBalance(ctx, s, in)
}

func (v *Validator) checkLeaveType(ctx context.Context, in ValidationInput) error {
	lt := in.LeaveType
	if lt == nil {
		return notFound("leave type", "")
	}
	if !lt.Active {
		return newValidation(KindLeaveTypeInactive, "leave type %s is disabled", lt.ID)
	}
	if lt.MinTenureMonths == nil || v.employees == nil {
		return nil
	}
	emp, err := v.employees.GetEmployee(ctx, in.EmployeeID)
	if err != nil {
		return fmt.Errorf("load employee: %w", err)
	}
	if months := generic.WholeMonthsBetween(emp.HireDate, in.Period.Start); months < *lt.MinTenureMonths {
		return newValidation(KindTenureNotMet, "%d months of tenure, %s requires %d", months, lt.ID, *lt.MinTenureMonths)
	}
	return nil
}

// attachmentRequired applies the type flag and the explicit duration rule.
func attachmentRequired(lt *LeaveType, days int) bool {
	if lt.RequiresAttachment {
		return true
	}
	return lt.AttachmentAfterDays > 0 && days > lt.AttachmentAfterDays
}

func (v *Validator) checkAttachment(ctx context.Context, lt *LeaveType, days int, attachmentID string) error {
	if attachmentID == "" {
		if attachmentRequired(lt, days) {
			return newValidation(KindAttachmentRequired, "leave type %s requires an attachment for %d days", lt.ID, days)
		}
		return nil
	}
	if v.attachments == nil {
		return nil
	}
	ok, err := v.attachments.AttachmentExists(ctx, attachmentID)
	if err != nil {
		return fmt.Errorf("resolve attachment %s: %w", attachmentID, err)
	}
	if !ok {
		return newValidation(KindAttachmentMissing, "attachment %s does not exist", attachmentID)
	}
	return nil
}

func (v *Validator) checkOverlap(ctx context.Context, s Store, in ValidationInput) error {
	period := in.Period
	existing, err := s.ListRequests(ctx, RequestFilter{
		EmployeeID: in.EmployeeID,
		Statuses:   ActiveStatuses,
		Overlaps:   &period,
	})
	if err != nil {
		return fmt.Errorf("list requests: %w", err)
	}
	for _, r := range existing {
		if r.ID == in.ExcludeID || !r.Period.Overlaps(in.Period) {
			continue
		}
		return newValidation(KindOverlap, "%s overlaps request %s %s (%s)", in.Period, r.ID, r.Period, r.Status)
	}
	return nil
}

func (v *Validator) checkDuration(in ValidationInput) error {
	if in.Days <= 0 {
		return newValidation(KindNoChargeableDays, "%s contains no working days", in.Period)
	}
	if limit := in.LeaveType.MaxDurationDays; limit != nil && in.Days > *limit {
		return newValidation(KindMaxDurationExceeded, "%d days exceeds the %d day limit of %s", in.Days, *limit, in.LeaveType.ID)
	}
	if in.Policy != nil && in.Policy.MaxConsecutiveDays > 0 && in.Days > in.Policy.MaxConsecutiveDays {
		return newValidation(KindMaxDurationExceeded, "%d consecutive days exceeds the policy limit of %d", in.Days, in.Policy.MaxConsecutiveDays)
	}
	return nil
}

func (v *Validator) checkBalance(ctx context.Context, s Store, in ValidationInput) error {
	days := decimal.NewFromInt(int64(in.Days))
	available := decimal.Zero
	e, err := s.GetEntitlement(ctx, EntitlementKey{EmployeeID: in.EmployeeID, LeaveTypeID: in.LeaveType.ID})
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return fmt.Errorf("load entitlement: %w", err)
	default:
		available = e.Available()
	}
	available = available.Add(in.Reserved)
	if available.LessThan(days) {
		return InsufficientBalance(available, days)
	}
	return nil
}

// =============================================================================
// FINALIZE-TIME CHECKS
// =============================================================================

// CheckAttachmentStillExists re-resolves the attachment of req before HR
// finalizes it.
func (v *Validator) CheckAttachmentStillExists(ctx context.Context, req *Request, lt *LeaveType) error {
	return v.checkAttachment(ctx, lt, req.DurationDays, req.AttachmentID)
}

// CheckCumulativeCaps sums approved days of every leave type sharing lt's
// category inside each cap window and rejects when req would exceed it.
func (v *Validator) CheckCumulativeCaps(ctx context.Context, s Store, req *Request, lt *LeaveType, policy *LeavePolicy) error {
	if policy == nil || len(policy.Caps) == 0 {
		return nil
	}
	types, err := s.ListLeaveTypes(ctx)
	if err != nil {
		return fmt.Errorf("list leave types: %w", err)
	}
	var sameCategory []LeaveTypeID
	for _, t := range types {
		if t.Category == lt.Category {
			sameCategory = append(sameCategory, t.ID)
		}
	}
	approved, err := s.ListRequests(ctx, RequestFilter{
		EmployeeID:   req.EmployeeID,
		LeaveTypeIDs: sameCategory,
		Statuses:     []RequestStatus{StatusApproved},
	})
	if err != nil {
		return fmt.Errorf("list approved requests: %w", err)
	}

	for _, c := range policy.Caps {
		window := c.Window(req.Period.Start, req.Period.End)
		used := decimal.Zero
		for _, r := range approved {
			if r.ID != req.ID && window.Contains(r.Period.Start) {
				used = used.Add(r.Days())
			}
		}
		if total := used.Add(req.Days()); total.GreaterThan(c.MaxDays) {
			return newValidation(KindCumulativeCapExceeded,
				"%s days used in %s, %d more exceeds the cap of %s", used, window, req.DurationDays, c.MaxDays)
		}
	}
	return nil
}
