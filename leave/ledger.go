/*
ledger.go - Entitlement ledger

PURPOSE:
  The ledger is the single writer of balance rows. Every mutation runs as
  an atomic critical section on one (employee, leave type) row through
  EntitlementStore.UpdateEntitlement, so two concurrent reservations can
  never both pass the balance check against the same remaining days.

OPERATIONS:
  ReservePending  available >= days, then pending += days
  ReleasePending  pending -= days, floored at zero (clamp is an event)
  CommitTaken     pending -= days, taken += days, remaining -= days
  Accrue          accrued += amount, remaining += rounded amount
  Adjust          manual correction, always writes an Adjustment row
  ResetCycle      carry-forward into a new entitlement cycle

INVARIANTS:
  remaining >= 0 and pending >= 0 after every operation.
  available = remaining - pending is the only balance a request may consume.

SEE ALSO:
  - store.go: UpdateEntitlement contract
  - accrual.go: Calls Accrue and ResetCycle
  - request.go: Calls Reserve/Release/Commit inside a unit of work
*/
package leave

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/generic"
)

type Ledger struct {
	store  Store
	events EventSink
	now    func() time.Time
	newID  func() string
}

func NewLedger(store Store, events EventSink) *Ledger {
	return &Ledger{
		store:  store,
		events: sinkOrNop(events),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// bind returns a ledger writing through s (a unit-of-work store).
func (l *Ledger) bind(s Store) *Ledger {
	cp := *l
	cp.store = s
	return &cp
}

func (l *Ledger) emit(ctx context.Context, name EventName, key EntitlementKey, fields map[string]any) {
	l.events.Emit(ctx, Event{Name: name, EmployeeID: key.EmployeeID, LeaveTypeID: key.LeaveTypeID, Fields: fields})
}

func requirePositive(days decimal.Decimal) error {
	if !days.IsPositive() {
		return newValidation(KindInvalidInput, "amount must be positive, got %s", days)
	}
	return nil
}

// =============================================================================
// READS
// =============================================================================

// Balance returns one ledger row.
func (l *Ledger) Balance(ctx context.Context, key EntitlementKey) (*Entitlement, error) {
	return l.store.GetEntitlement(ctx, key)
}

// Balances returns the rows of an employee, optionally restricted to one leave type.
func (l *Ledger) Balances(ctx context.Context, employeeID EmployeeID, leaveTypeID LeaveTypeID) ([]Entitlement, error) {
	return l.store.ListEntitlements(ctx, EntitlementFilter{EmployeeID: employeeID, LeaveTypeID: leaveTypeID})
}

// EnsureEntitlement creates an empty row if none exists (lazy creation on
// first eligibility) and returns the stored row.
func (l *Ledger) EnsureEntitlement(ctx context.Context, key EntitlementKey) (*Entitlement, error) {
	e := NewEntitlement(key)
	e.UpdatedAt = l.now()
	return l.store.CreateEntitlement(ctx, e)
}

// =============================================================================
// RESERVATIONS
// =============================================================================

// ReservePending holds days against the available balance.
func (l *Ledger) ReservePending(ctx context.Context, key EntitlementKey, days decimal.Decimal) (*Entitlement, error) {
	if err := requirePositive(days); err != nil {
		return nil, err
	}
	e, err := l.store.UpdateEntitlement(ctx, key, func(e *Entitlement) error {
		if e.Available().LessThan(days) {
			return InsufficientBalance(e.Available(), days)
		}
		e.Pending = e.Pending.Add(days)
		e.UpdatedAt = l.now()
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil, InsufficientBalance(decimal.Zero, days)
	}
	if err != nil {
		return nil, err
	}
	l.emit(ctx, EventReserved, key, map[string]any{"days": days.String(), "pending": e.Pending.String()})
	return e, nil
}

// ReleasePending returns held days. Releasing more than is pending floors
// pending at zero and emits EventPendingClamped; it is never an error.
func (l *Ledger) ReleasePending(ctx context.Context, key EntitlementKey, days decimal.Decimal) (*Entitlement, error) {
	if err := requirePositive(days); err != nil {
		return nil, err
	}
	var clamped decimal.Decimal
	e, err := l.store.UpdateEntitlement(ctx, key, func(e *Entitlement) error {
		clamped = decimal.Zero
		next := e.Pending.Sub(days)
		if next.IsNegative() {
			clamped = next.Neg()
			next = decimal.Zero
		}
		e.Pending = next
		e.UpdatedAt = l.now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if clamped.IsPositive() {
		l.emit(ctx, EventPendingClamped, key, map[string]any{"days": days.String(), "excess": clamped.String()})
	}
	l.emit(ctx, EventReleased, key, map[string]any{"days": days.String(), "pending": e.Pending.String()})
	return e, nil
}

// CommitTaken converts a reservation into taken days.
func (l *Ledger) CommitTaken(ctx context.Context, key EntitlementKey, days decimal.Decimal) (*Entitlement, error) {
	if err := requirePositive(days); err != nil {
		return nil, err
	}
	var clamped decimal.Decimal
	e, err := l.store.UpdateEntitlement(ctx, key, func(e *Entitlement) error {
		if e.Remaining.LessThan(days) {
			return InsufficientBalance(e.Remaining, days)
		}
		clamped = decimal.Zero
		pending := e.Pending.Sub(days)
		if pending.IsNegative() {
			clamped = pending.Neg()
			pending = decimal.Zero
		}
		e.Pending = pending
		e.Taken = e.Taken.Add(days)
		e.Remaining = e.Remaining.Sub(days)
		e.UpdatedAt = l.now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if clamped.IsPositive() {
		l.emit(ctx, EventPendingClamped, key, map[string]any{"days": days.String(), "excess": clamped.String(), "op": "commit"})
	}
	l.emit(ctx, EventCommitted, key, map[string]any{"days": days.String(), "remaining": e.Remaining.String()})
	return e, nil
}

// =============================================================================
// ACCRUAL
// =============================================================================

// Accrue credits amount. AccruedActual keeps the exact value, the rounded
// value is added to AccruedRounded and Remaining.
func (l *Ledger) Accrue(ctx context.Context, key EntitlementKey, amount decimal.Decimal, rule RoundingRule, at generic.TimePoint) (*Entitlement, error) {
	if amount.IsNegative() {
		return nil, newValidation(KindInvalidInput, "accrual amount must not be negative, got %s", amount)
	}
	e, _, _, err := l.AccrueDue(ctx, key, func(*Entitlement) (decimal.Decimal, string) { return amount, "" }, rule, at)
	return e, err
}

// DueFunc reports what a row is owed, or a zero amount and the reason
// nothing is owed.
type DueFunc func(e *Entitlement) (decimal.Decimal, string)

var errNothingDue = errors.New("nothing due")

// AccrueDue credits whatever due reports against the locked row, so two
// overlapping runs cannot both credit the same cycle. When nothing is owed
// the row is left untouched and returned with the reason.
func (l *Ledger) AccrueDue(ctx context.Context, key EntitlementKey, due DueFunc, rule RoundingRule, at generic.TimePoint) (*Entitlement, decimal.Decimal, string, error) {
	if _, err := l.EnsureEntitlement(ctx, key); err != nil {
		return nil, decimal.Zero, "", fmt.Errorf("ensure entitlement: %w", err)
	}
	var (
		amount, rounded decimal.Decimal
		reason          string
		unchanged       Entitlement
	)
	e, err := l.store.UpdateEntitlement(ctx, key, func(e *Entitlement) error {
		amount, reason = due(e)
		if reason != "" {
			unchanged = *e
			return errNothingDue
		}
		if amount.IsNegative() {
			return newValidation(KindInvalidInput, "accrual amount must not be negative, got %s", amount)
		}
		rounded = rule.Apply(amount)
		e.AccruedActual = e.AccruedActual.Add(amount)
		e.AccruedRounded = e.AccruedRounded.Add(rounded)
		e.Remaining = e.Remaining.Add(rounded)
		e.LastAccrualDate = at.Ptr()
		e.UpdatedAt = l.now()
		return nil
	})
	if errors.Is(err, errNothingDue) {
		return &unchanged, decimal.Zero, reason, nil
	}
	if err != nil {
		return nil, decimal.Zero, "", err
	}
	l.emit(ctx, EventAccrued, key, map[string]any{
		"amount": amount.String(), "rounded": rounded.String(), "remaining": e.Remaining.String(),
	})
	return e, amount, "", nil
}

// SetYearlyEntitlement records the yearly figure used when a yearly policy
// has no rate of its own.
func (l *Ledger) SetYearlyEntitlement(ctx context.Context, key EntitlementKey, days decimal.Decimal) (*Entitlement, error) {
	if days.IsNegative() {
		return nil, newValidation(KindInvalidInput, "yearly entitlement must not be negative")
	}
	if _, err := l.EnsureEntitlement(ctx, key); err != nil {
		return nil, fmt.Errorf("ensure entitlement: %w", err)
	}
	return l.store.UpdateEntitlement(ctx, key, func(e *Entitlement) error {
		e.YearlyEntitlement = days
		e.UpdatedAt = l.now()
		return nil
	})
}

// ScheduleReset sets the next reset date without carrying anything forward.
func (l *Ledger) ScheduleReset(ctx context.Context, key EntitlementKey, next generic.TimePoint) (*Entitlement, error) {
	return l.store.UpdateEntitlement(ctx, key, func(e *Entitlement) error {
		e.NextResetDate = next.Ptr()
		e.UpdatedAt = l.now()
		return nil
	})
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

type AdjustInput struct {
	Key    EntitlementKey
	Type   AdjustmentType
	Amount decimal.Decimal
	Reason string
	Actor  string
}

// Adjust applies a manual correction and records it. Suspension and
// reduction subtract (remaining floored at zero), adjustment and
// restoration add. The ledger row and the audit row are written in one
// unit of work.
func (l *Ledger) Adjust(ctx context.Context, in AdjustInput) (*Adjustment, *Entitlement, error) {
	if !in.Type.Valid() {
		return nil, nil, newValidation(KindInvalidInput, "unknown adjustment type %q", in.Type)
	}
	if err := requirePositive(in.Amount); err != nil {
		return nil, nil, err
	}
	if in.Reason == "" {
		return nil, nil, newValidation(KindReasonRequired, "adjustment requires a reason")
	}

	var (
		adj     Adjustment
		updated *Entitlement
		clamped bool
	)
	err := l.store.WithTx(ctx, func(tx Store) error {
		bound := l.bind(tx)
		if _, err := bound.EnsureEntitlement(ctx, in.Key); err != nil {
			return fmt.Errorf("ensure entitlement: %w", err)
		}
		var applied decimal.Decimal
		e, err := tx.UpdateEntitlement(ctx, in.Key, func(e *Entitlement) error {
			clamped = false
			before := e.Remaining
			if in.Type.Decreases() {
				e.Remaining = e.Remaining.Sub(in.Amount)
				if e.Remaining.IsNegative() {
					e.Remaining = decimal.Zero
					clamped = true
				}
			} else {
				e.Remaining = e.Remaining.Add(in.Amount)
			}
			applied = e.Remaining.Sub(before)
			e.UpdatedAt = l.now()
			return nil
		})
		if err != nil {
			return err
		}
		adj = Adjustment{
			ID:          l.newID(),
			EmployeeID:  in.Key.EmployeeID,
			LeaveTypeID: in.Key.LeaveTypeID,
			Type:        in.Type,
			Amount:      in.Amount,
			Applied:     applied,
			Reason:      in.Reason,
			Actor:       in.Actor,
			CreatedAt:   l.now(),
		}
		updated = e
		return tx.AppendAdjustment(ctx, adj)
	})
	if err != nil {
		return nil, nil, err
	}
	if clamped {
		l.emit(ctx, EventRemainingClamped, in.Key, map[string]any{"type": string(in.Type), "amount": in.Amount.String()})
	}
	l.emit(ctx, EventAdjusted, in.Key, map[string]any{
		"type": string(in.Type), "applied": adj.Applied.String(), "actor": in.Actor,
	})
	return &adj, updated, nil
}

// Adjustments lists the audit rows of one ledger row.
func (l *Ledger) Adjustments(ctx context.Context, key EntitlementKey) ([]Adjustment, error) {
	return l.store.ListAdjustments(ctx, key)
}

// =============================================================================
// CYCLE RESET
// =============================================================================

// CarryRule is the carry-forward part of a policy.
type CarryRule struct {
	Allowed bool
	Cap     decimal.Decimal
}

// CarryOutcome reports what a reset did.
type CarryOutcome struct {
	Unused  decimal.Decimal `json:"unused"`
	Carried decimal.Decimal `json:"carried"`
	Expired decimal.Decimal `json:"expired"`
}

// ResetCycle starts a new entitlement cycle. Unused days (remaining minus
// pending) are carried up to the cap; the rest expire. Pending reservations
// stay covered by the new remaining balance.
func (l *Ledger) ResetCycle(ctx context.Context, key EntitlementKey, rule CarryRule, next generic.TimePoint) (*Entitlement, CarryOutcome, error) {
	var out CarryOutcome
	e, err := l.store.UpdateEntitlement(ctx, key, func(e *Entitlement) error {
		unused := e.Available()
		if unused.IsNegative() {
			unused = decimal.Zero
		}
		carried := decimal.Zero
		if rule.Allowed {
			carried = decimal.Min(unused, rule.Cap)
			if carried.IsNegative() {
				carried = decimal.Zero
			}
		}
		out = CarryOutcome{Unused: unused, Carried: carried, Expired: unused.Sub(carried)}

		e.CarryForward = carried
		e.Remaining = e.Pending.Add(carried)
		e.AccruedActual = decimal.Zero
		e.AccruedRounded = decimal.Zero
		e.Taken = decimal.Zero
		e.NextResetDate = next.Ptr()
		e.UpdatedAt = l.now()
		return nil
	})
	if err != nil {
		return nil, CarryOutcome{}, err
	}
	l.emit(ctx, EventCarriedForward, key, map[string]any{
		"carried": out.Carried.String(), "expired": out.Expired.String(), "next_reset": next.String(),
	})
	return e, out, nil
}
