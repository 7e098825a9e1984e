/*
accrual.go - Accrual and carry-forward engine

PURPOSE:
  Credits entitlements according to each leave type's active policy and
  rolls balances into a new cycle on the reset date.

ACCRUAL METHODS:
  monthly   whole months employed in the current cycle x monthly rate.
            The ledger is credited the difference to what the cycle has
            already accrued, so repeated runs are idempotent.
  yearly    policy yearly rate, or the row's YearlyEntitlement when the
            policy has none. Credited once per cycle.
  per_term  yearly rate / 4. Credited once per calendar quarter.

  An explicit amount (admin-triggered accrual) is credited as given.

RESET DATES:
  The policy's reset criterion picks the anchor date (hire, first
  vacation, contract start or work receiving). The anchor's anniversary is
  advanced one year at a time until it is in the future.

BULK RUNS:
  AccrueAll and RunCarryForward report one result per employee. A failure
  is recorded against that employee and never aborts the batch.

SEE ALSO:
  - ledger.go: Accrue and ResetCycle
  - api/scheduler.go: Periodic runs
*/
package leave

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/warp/leave-engine/generic"
)

// DefaultAccrualWorkers bounds the concurrency of bulk runs.
const DefaultAccrualWorkers = 4

type AccrualEngine struct {
	store     Store
	employees EmployeeDirectory
	ledger    *Ledger
	events    EventSink
	now       func() time.Time
	workers   int
}

func NewAccrualEngine(store Store, employees EmployeeDirectory, ledger *Ledger, events EventSink, workers int) *AccrualEngine {
	if workers <= 0 {
		workers = DefaultAccrualWorkers
	}
	return &AccrualEngine{
		store:     store,
		employees: employees,
		ledger:    ledger,
		events:    sinkOrNop(events),
		now:       time.Now,
		workers:   workers,
	}
}

// =============================================================================
// RESULTS
// =============================================================================

type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// EmployeeResult is the outcome of one employee in a run.
type EmployeeResult struct {
	EmployeeID  EmployeeID      `json:"employee_id"`
	Outcome     Outcome         `json:"outcome"`
	Amount      decimal.Decimal `json:"amount"`
	Carry       *CarryOutcome   `json:"carry,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	Kind        ValidationKind  `json:"kind,omitempty"`
	Error       string          `json:"error,omitempty"`
	Entitlement *Entitlement    `json:"entitlement,omitempty"`
}

// BatchResult collects the per-employee outcomes of a bulk run.
type BatchResult struct {
	LeaveTypeID LeaveTypeID      `json:"leave_type_id"`
	AsOf        string           `json:"as_of"`
	Results     []EmployeeResult `json:"results"`
	Applied     int              `json:"applied"`
	Skipped     int              `json:"skipped"`
	Failed      int              `json:"failed"`
}

func (b *BatchResult) tally() {
	b.Applied, b.Skipped, b.Failed = 0, 0, 0
	for _, r := range b.Results {
		switch r.Outcome {
		case OutcomeApplied:
			b.Applied++
		case OutcomeSkipped:
			b.Skipped++
		case OutcomeFailed:
			b.Failed++
		}
	}
}

func skipped(id EmployeeID, reason string) EmployeeResult {
	return EmployeeResult{EmployeeID: id, Outcome: OutcomeSkipped, Reason: reason}
}

func failed(id EmployeeID, err error) EmployeeResult {
	return EmployeeResult{EmployeeID: id, Outcome: OutcomeFailed, Kind: KindOf(err), Error: err.Error()}
}

// =============================================================================
// COMPUTATION
// =============================================================================

// CycleStart is the first day of the entitlement cycle containing asOf.
func CycleStart(policy *LeavePolicy, emp *Employee, ent *Entitlement, asOf generic.TimePoint) generic.TimePoint {
	if ent != nil && ent.NextResetDate != nil {
		return ent.NextResetDate.AddYears(-1)
	}
	anchor, _ := emp.Anchor(policy.ResetCriterion)
	return generic.AnniversaryPeriod(anchor, asOf).Start
}

// AccrualAmount computes what method owes ent as of asOf. A zero amount
// comes with the reason nothing is owed.
func AccrualAmount(policy *LeavePolicy, method AccrualMethod, emp *Employee, ent *Entitlement, asOf generic.TimePoint) (decimal.Decimal, string) {
	cycleStart := CycleStart(policy, emp, ent, asOf)
	last := ent.LastAccrualDate

	switch method {
	case AccrualMonthly:
		from := emp.HireDate
		if cycleStart.After(from) {
			from = cycleStart
		}
		months := generic.WholeMonthsBetween(from, asOf)
		owed := policy.MonthlyRate.Mul(decimal.NewFromInt(int64(months))).Sub(ent.AccruedActual)
		if !owed.IsPositive() {
			return decimal.Zero, "monthly accrual up to date"
		}
		return owed, ""

	case AccrualYearly:
		if last != nil && !last.Before(cycleStart) {
			return decimal.Zero, "already accrued this cycle"
		}
		return yearlyRate(policy, ent), ""

	case AccrualPerTerm:
		if last != nil && last.Year() == asOf.Year() && last.Quarter() == asOf.Quarter() {
			return decimal.Zero, "already accrued this term"
		}
		return yearlyRate(policy, ent).Div(decimal.NewFromInt(4)), ""
	}
	return decimal.Zero, fmt.Sprintf("unknown accrual method %q", method)
}

func yearlyRate(policy *LeavePolicy, ent *Entitlement) decimal.Decimal {
	if policy.YearlyRate.IsPositive() {
		return policy.YearlyRate
	}
	return ent.YearlyEntitlement
}

// NextResetDate returns the next anniversary of the employee's anchor date
// after asOf.
func (a *AccrualEngine) NextResetDate(ctx context.Context, policy *LeavePolicy, emp *Employee, asOf generic.TimePoint) generic.TimePoint {
	anchor, ok := emp.Anchor(policy.ResetCriterion)
	if !ok {
		a.events.Emit(ctx, Event{
			Name:        EventAnchorMissing,
			EmployeeID:  emp.ID,
			LeaveTypeID: policy.LeaveTypeID,
			Fields:      map[string]any{"criterion": string(policy.ResetCriterion), "fallback": "hire_date"},
		})
	}
	return generic.NextAnniversary(anchor, asOf)
}

// =============================================================================
// ACCRUAL
// =============================================================================

// AccrualRequest selects what to accrue. Zero Method uses the policy's
// method; a nil Amount computes the amount from the policy.
type AccrualRequest struct {
	EmployeeID   EmployeeID
	LeaveTypeID  LeaveTypeID
	Amount       *decimal.Decimal
	Method       AccrualMethod
	DepartmentID string
	AsOf         generic.TimePoint
}

func (a *AccrualEngine) asOf(tp generic.TimePoint) generic.TimePoint {
	if tp.IsZero() {
		return generic.FromTime(a.now())
	}
	return tp
}

func (a *AccrualEngine) activePolicy(ctx context.Context, id LeaveTypeID) (*LeaveType, *LeavePolicy, error) {
	lt, err := a.store.GetLeaveType(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	policy, err := a.store.GetActivePolicy(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil, &PolicyMissingError{LeaveTypeID: id}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load policy of %s: %w", id, err)
	}
	return lt, policy, nil
}

// AccrueOne accrues a single employee.
func (a *AccrualEngine) AccrueOne(ctx context.Context, in AccrualRequest) (*EmployeeResult, error) {
	lt, policy, err := a.activePolicy(ctx, in.LeaveTypeID)
	if err != nil {
		return nil, err
	}
	if in.Method != "" && !in.Method.Valid() {
		return nil, newValidation(KindInvalidInput, "unknown accrual method %q", in.Method)
	}
	emp, err := a.employees.GetEmployee(ctx, in.EmployeeID)
	if err != nil {
		return nil, err
	}
	res, err := a.accrueEmployee(ctx, lt, policy, emp, in, a.asOf(in.AsOf))
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// AccrueAll accrues every employee, optionally restricted to a department.
func (a *AccrualEngine) AccrueAll(ctx context.Context, in AccrualRequest) (*BatchResult, error) {
	lt, policy, err := a.activePolicy(ctx, in.LeaveTypeID)
	if err != nil {
		return nil, err
	}
	if in.Method != "" && !in.Method.Valid() {
		return nil, newValidation(KindInvalidInput, "unknown accrual method %q", in.Method)
	}
	emps, err := a.employees.ListEmployees(ctx, EmployeeFilter{DepartmentID: in.DepartmentID})
	if err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}
	asOf := a.asOf(in.AsOf)

	batch := a.fanOut(ctx, emps, func(ctx context.Context, emp *Employee) EmployeeResult {
		res, err := a.accrueEmployee(ctx, lt, policy, emp, in, asOf)
		if err != nil {
			a.events.Emit(ctx, Event{Name: EventAccrualFailed, EmployeeID: emp.ID, LeaveTypeID: lt.ID, Err: err})
			return failed(emp.ID, err)
		}
		return res
	})
	batch.LeaveTypeID = lt.ID
	batch.AsOf = asOf.String()
	return batch, nil
}

func (a *AccrualEngine) accrueEmployee(ctx context.Context, lt *LeaveType, policy *LeavePolicy, emp *Employee, in AccrualRequest, asOf generic.TimePoint) (EmployeeResult, error) {
	if reason := eligibility(lt, emp, asOf); reason != "" {
		a.events.Emit(ctx, Event{Name: EventAccrualSkipped, EmployeeID: emp.ID, LeaveTypeID: lt.ID, Fields: map[string]any{"reason": reason}})
		return skipped(emp.ID, reason), nil
	}
	key := EntitlementKey{EmployeeID: emp.ID, LeaveTypeID: lt.ID}
	ent, err := a.ledger.EnsureEntitlement(ctx, key)
	if err != nil {
		return EmployeeResult{}, err
	}
	if ent.NextResetDate == nil {
		if _, err := a.ledger.ScheduleReset(ctx, key, a.NextResetDate(ctx, policy, emp, asOf)); err != nil {
			return EmployeeResult{}, err
		}
	}

	method := in.Method
	if method == "" {
		method = policy.AccrualMethod
	}
	due := func(e *Entitlement) (decimal.Decimal, string) {
		if in.Amount != nil {
			return *in.Amount, ""
		}
		return AccrualAmount(policy, method, emp, e, asOf)
	}
	updated, amount, reason, err := a.ledger.AccrueDue(ctx, key, due, policy.Rounding, asOf)
	if err != nil {
		return EmployeeResult{}, err
	}
	if reason != "" {
		a.events.Emit(ctx, Event{Name: EventAccrualSkipped, EmployeeID: emp.ID, LeaveTypeID: lt.ID, Fields: map[string]any{"reason": reason}})
		res := skipped(emp.ID, reason)
		res.Entitlement = updated
		return res, nil
	}
	return EmployeeResult{EmployeeID: emp.ID, Outcome: OutcomeApplied, Amount: amount, Entitlement: updated}, nil
}

// eligibility returns why emp cannot accrue lt, or "".
func eligibility(lt *LeaveType, emp *Employee, asOf generic.TimePoint) string {
	if !emp.Active {
		return "employee inactive"
	}
	if !lt.Active {
		return "leave type disabled"
	}
	if lt.MinTenureMonths != nil && generic.WholeMonthsBetween(emp.HireDate, asOf) < *lt.MinTenureMonths {
		return fmt.Sprintf("tenure below %d months", *lt.MinTenureMonths)
	}
	return ""
}

// =============================================================================
// CARRY-FORWARD
// =============================================================================

// CarryForwardRequest selects the rows to roll over. A zero EmployeeID runs
// every employee.
type CarryForwardRequest struct {
	LeaveTypeID LeaveTypeID
	EmployeeID  EmployeeID
	AsOf        generic.TimePoint
}

// RunCarryForward resets every row whose reset date has been reached.
func (a *AccrualEngine) RunCarryForward(ctx context.Context, in CarryForwardRequest) (*BatchResult, error) {
	lt, policy, err := a.activePolicy(ctx, in.LeaveTypeID)
	if err != nil {
		return nil, err
	}
	var emps []Employee
	if in.EmployeeID != "" {
		emp, err := a.employees.GetEmployee(ctx, in.EmployeeID)
		if err != nil {
			return nil, err
		}
		emps = []Employee{*emp}
	} else if emps, err = a.employees.ListEmployees(ctx, EmployeeFilter{}); err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}
	asOf := a.asOf(in.AsOf)
	rule := CarryRule{Allowed: policy.CarryForwardAllowed, Cap: policy.CarryForwardCap}

	batch := a.fanOut(ctx, emps, func(ctx context.Context, emp *Employee) EmployeeResult {
		res, err := a.carryEmployee(ctx, lt, policy, emp, rule, asOf)
		if err != nil {
			a.events.Emit(ctx, Event{Name: EventCarryFailed, EmployeeID: emp.ID, LeaveTypeID: lt.ID, Err: err})
			return failed(emp.ID, err)
		}
		return res
	})
	batch.LeaveTypeID = lt.ID
	batch.AsOf = asOf.String()
	return batch, nil
}

func (a *AccrualEngine) carryEmployee(ctx context.Context, lt *LeaveType, policy *LeavePolicy, emp *Employee, rule CarryRule, asOf generic.TimePoint) (EmployeeResult, error) {
	key := EntitlementKey{EmployeeID: emp.ID, LeaveTypeID: lt.ID}
	ent, err := a.ledger.Balance(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return skipped(emp.ID, "no entitlement"), nil
	}
	if err != nil {
		return EmployeeResult{}, err
	}
	if ent.NextResetDate == nil {
		updated, err := a.ledger.ScheduleReset(ctx, key, a.NextResetDate(ctx, policy, emp, asOf))
		if err != nil {
			return EmployeeResult{}, err
		}
		res := skipped(emp.ID, "reset date scheduled")
		res.Entitlement = updated
		return res, nil
	}
	if ent.NextResetDate.After(asOf) {
		res := skipped(emp.ID, "reset not due until "+ent.NextResetDate.String())
		res.Entitlement = ent
		return res, nil
	}

	next := generic.NextAnniversary(*ent.NextResetDate, asOf)
	updated, carry, err := a.ledger.ResetCycle(ctx, key, rule, next)
	if err != nil {
		return EmployeeResult{}, err
	}
	return EmployeeResult{
		EmployeeID:  emp.ID,
		Outcome:     OutcomeApplied,
		Amount:      carry.Carried,
		Carry:       &carry,
		Entitlement: updated,
	}, nil
}

// =============================================================================
// WORKER POOL
// =============================================================================

// fanOut runs fn for every employee on at most a.workers goroutines. fn
// never fails the group; a cancelled context marks the remaining employees
// as failed.
func (a *AccrualEngine) fanOut(ctx context.Context, emps []Employee, fn func(context.Context, *Employee) EmployeeResult) *BatchResult {
	results := make([]EmployeeResult, len(emps))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i := range emps {
		emp := &emps[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = failed(emp.ID, err)
				return nil
			}
			results[i] = fn(gctx, emp)
			return nil
		})
	}
	_ = g.Wait()

	batch := &BatchResult{Results: results}
	batch.tally()
	return batch
}
