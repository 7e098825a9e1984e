package leave_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/store/memory"
)

// =============================================================================
// TEST DOUBLES
// =============================================================================

type mockDirectory struct {
	mock.Mock
}

func (m *mockDirectory) GetEmployee(ctx context.Context, id leave.EmployeeID) (*leave.Employee, error) {
	args := m.Called(ctx, id)
	emp, _ := args.Get(0).(*leave.Employee)
	return emp, args.Error(1)
}

func (m *mockDirectory) ListEmployees(ctx context.Context, f leave.EmployeeFilter) ([]leave.Employee, error) {
	args := m.Called(ctx, f)
	emps, _ := args.Get(0).([]leave.Employee)
	return emps, args.Error(1)
}

// failingStore fails every ledger write of one employee.
type failingStore struct {
	*memory.Memory
	victim leave.EmployeeID
}

func (s *failingStore) UpdateEntitlement(ctx context.Context, key leave.EntitlementKey, mutate func(*leave.Entitlement) error) (*leave.Entitlement, error) {
	if key.EmployeeID == s.victim {
		return nil, errors.New("disk full")
	}
	return s.Memory.UpdateEntitlement(ctx, key, mutate)
}

// slowStore widens the gap between creating a row and crediting it.
type slowStore struct {
	*memory.Memory
	delay time.Duration
}

func (s *slowStore) CreateEntitlement(ctx context.Context, e leave.Entitlement) (*leave.Entitlement, error) {
	created, err := s.Memory.CreateEntitlement(ctx, e)
	time.Sleep(s.delay)
	return created, err
}

// =============================================================================
// SINGLE EMPLOYEE
// =============================================================================

func TestAccrual_Yearly_OncePerCycle(t *testing.T) {
	f := newFixture(t)

	res, err := f.engine.Accruals.AccrueOne(f.ctx, leave.AccrualRequest{EmployeeID: empID, LeaveTypeID: annual})
	require.NoError(t, err)
	assert.Equal(t, leave.OutcomeApplied, res.Outcome)
	assertDecimal(t, 20, res.Entitlement.Remaining)
	require.NotNil(t, res.Entitlement.NextResetDate)
	assert.Equal(t, "2026-01-15", res.Entitlement.NextResetDate.String())

	res, err = f.engine.Accruals.AccrueOne(f.ctx, leave.AccrualRequest{EmployeeID: empID, LeaveTypeID: annual})
	require.NoError(t, err)
	assert.Equal(t, leave.OutcomeSkipped, res.Outcome)
	assertDecimal(t, 20, f.balance(t, empID, annual).Remaining)
	assert.NotEmpty(t, f.events.Named(leave.EventAccrualSkipped))
}

func TestAccrual_Yearly_OverlappingRunsCreditOnce(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewMemory()
	store := &slowStore{Memory: mem, delay: 5 * time.Millisecond}
	require.NoError(t, mem.SaveLeaveType(ctx, leave.LeaveType{ID: annual, Category: leave.CategoryAnnual, Active: true}))
	require.NoError(t, mem.SavePolicy(ctx, leave.LeavePolicy{
		ID: "p", LeaveTypeID: annual, AccrualMethod: leave.AccrualYearly, YearlyRate: days(20),
		Rounding: leave.RoundNone, ResetCriterion: leave.ResetHireDate, Active: true,
	}))
	dir := &mockDirectory{}
	dir.On("GetEmployee", mock.Anything, leave.EmployeeID("emp-a")).
		Return(&leave.Employee{ID: "emp-a", HireDate: generic.MustParse("2022-03-01"), Active: true}, nil)
	engine := leave.NewEngine(store, dir, mem, &leave.RecordingSink{}, leave.Options{Now: func() time.Time { return today }})

	// GIVEN: a scheduled run and a manual trigger overlapping
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes []leave.Outcome
	)
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := engine.Accruals.AccrueOne(ctx, leave.AccrualRequest{EmployeeID: "emp-a", LeaveTypeID: annual})
			if assert.NoError(t, err) {
				mu.Lock()
				outcomes = append(outcomes, res.Outcome)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// THEN: the cycle is credited exactly once
	assert.ElementsMatch(t, []leave.Outcome{leave.OutcomeApplied, leave.OutcomeSkipped}, outcomes)
	ent, err := mem.GetEntitlement(ctx, leave.EntitlementKey{EmployeeID: "emp-a", LeaveTypeID: annual})
	require.NoError(t, err)
	assertDecimal(t, 20, ent.Remaining)
	assertDecimal(t, 20, ent.AccruedActual)
}

func TestAccrual_Monthly_OverlappingRunsCreditOnce(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Accruals.AccrueOne(f.ctx, leave.AccrualRequest{
				EmployeeID: otherID, LeaveTypeID: annual, Method: leave.AccrualMonthly,
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, "10.02", f.balance(t, otherID, annual).AccruedActual.String())
}

func TestAccrual_Yearly_FallsBackToRowEntitlement(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.SavePolicy(f.ctx, leave.LeavePolicy{
		ID: "annual-v2", LeaveTypeID: annual, AccrualMethod: leave.AccrualYearly, Rounding: leave.RoundNone,
		ResetCriterion: leave.ResetHireDate, Active: true,
	}))
	_, err := f.engine.Ledger.SetYearlyEntitlement(f.ctx, key(empID, annual), days(25))
	require.NoError(t, err)

	res, err := f.engine.Accruals.AccrueOne(f.ctx, leave.AccrualRequest{EmployeeID: empID, LeaveTypeID: annual})

	require.NoError(t, err)
	assertDecimal(t, 25, res.Amount)
}

func TestAccrual_Monthly_WholeMonthsIdempotent(t *testing.T) {
	f := newFixture(t)

	// Hired 2024-11-01; six whole months by 2025-05-20
	res, err := f.engine.Accruals.AccrueOne(f.ctx, leave.AccrualRequest{
		EmployeeID: otherID, LeaveTypeID: annual, Method: leave.AccrualMonthly,
	})
	require.NoError(t, err)
	assert.Equal(t, "10.02", res.Amount.String())
	assert.Equal(t, "10.02", res.Entitlement.Remaining.String())

	res, err = f.engine.Accruals.AccrueOne(f.ctx, leave.AccrualRequest{
		EmployeeID: otherID, LeaveTypeID: annual, Method: leave.AccrualMonthly,
	})
	require.NoError(t, err)
	assert.Equal(t, leave.OutcomeSkipped, res.Outcome)

	// A month later only the new month is credited.
	res, err = f.engine.Accruals.AccrueOne(f.ctx, leave.AccrualRequest{
		EmployeeID: otherID, LeaveTypeID: annual, Method: leave.AccrualMonthly, AsOf: generic.MustParse("2025-06-01"),
	})
	require.NoError(t, err)
	assert.Equal(t, "1.67", res.Amount.String())
}

func TestAccrual_PerTerm_QuarterOfYearly(t *testing.T) {
	f := newFixture(t)

	res, err := f.engine.Accruals.AccrueOne(f.ctx, leave.AccrualRequest{EmployeeID: empID, LeaveTypeID: annual, Method: leave.AccrualPerTerm})
	require.NoError(t, err)
	assertDecimal(t, 5, res.Amount)

	res, err = f.engine.Accruals.AccrueOne(f.ctx, leave.AccrualRequest{EmployeeID: empID, LeaveTypeID: annual, Method: leave.AccrualPerTerm})
	require.NoError(t, err)
	assert.Equal(t, leave.OutcomeSkipped, res.Outcome)

	res, err = f.engine.Accruals.AccrueOne(f.ctx, leave.AccrualRequest{
		EmployeeID: empID, LeaveTypeID: annual, Method: leave.AccrualPerTerm, AsOf: generic.MustParse("2025-07-01"),
	})
	require.NoError(t, err)
	assertDecimal(t, 5, res.Amount)
	assertDecimal(t, 10, res.Entitlement.Remaining)
}

func TestAccrual_ExplicitAmount_Credited(t *testing.T) {
	f := newFixture(t)
	amount := decimal.RequireFromString("2.5")

	res, err := f.engine.Accruals.AccrueOne(f.ctx, leave.AccrualRequest{EmployeeID: empID, LeaveTypeID: annual, Amount: &amount})

	require.NoError(t, err)
	assert.Equal(t, "2.5", res.Entitlement.AccruedActual.String())
}

func TestAccrual_PolicyMissing(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Accruals.AccrueOne(f.ctx, leave.AccrualRequest{EmployeeID: empID, LeaveTypeID: unpaid})

	require.ErrorIs(t, err, leave.ErrPolicyMissing)
	var pm *leave.PolicyMissingError
	require.ErrorAs(t, err, &pm)
	assert.Equal(t, unpaid, pm.LeaveTypeID)
}

func TestAccrual_UnknownMethod_Rejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Accruals.AccrueOne(f.ctx, leave.AccrualRequest{EmployeeID: empID, LeaveTypeID: annual, Method: "weekly"})

	assert.Equal(t, leave.KindInvalidInput, leave.KindOf(err))
}

// =============================================================================
// BULK
// =============================================================================

func TestAccrueAll_DepartmentFilter(t *testing.T) {
	f := newFixture(t)

	batch, err := f.engine.Accruals.AccrueAll(f.ctx, leave.AccrualRequest{LeaveTypeID: annual, DepartmentID: "eng"})

	require.NoError(t, err)
	require.Len(t, batch.Results, 1)
	assert.Equal(t, empID, batch.Results[0].EmployeeID)
	assert.Equal(t, 1, batch.Applied)
}

func TestAccrueAll_FailureDoesNotAbortBatch(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewMemory()
	store := &failingStore{Memory: mem, victim: "emp-b"}
	require.NoError(t, mem.SaveLeaveType(ctx, leave.LeaveType{ID: annual, Category: leave.CategoryAnnual, Active: true}))
	require.NoError(t, mem.SavePolicy(ctx, leave.LeavePolicy{
		ID: "p", LeaveTypeID: annual, AccrualMethod: leave.AccrualYearly, YearlyRate: days(20),
		Rounding: leave.RoundNone, ResetCriterion: leave.ResetHireDate, Active: true,
	}))

	dir := &mockDirectory{}
	hire := generic.MustParse("2022-03-01")
	dir.On("ListEmployees", mock.Anything, leave.EmployeeFilter{}).Return([]leave.Employee{
		{ID: "emp-a", HireDate: hire, Active: true},
		{ID: "emp-b", HireDate: hire, Active: true},
		{ID: "emp-c", HireDate: hire, Active: true},
		{ID: "emp-d", HireDate: hire, Active: false},
	}, nil)

	events := &leave.RecordingSink{}
	engine := leave.NewEngine(store, dir, mem, events, leave.Options{Now: func() time.Time { return today }, AccrualWorkers: 2})

	batch, err := engine.Accruals.AccrueAll(ctx, leave.AccrualRequest{LeaveTypeID: annual})

	require.NoError(t, err)
	assert.Equal(t, 2, batch.Applied)
	assert.Equal(t, 1, batch.Failed)
	assert.Equal(t, 1, batch.Skipped)
	assert.Equal(t, leave.EmployeeID("emp-b"), batch.Results[1].EmployeeID)
	assert.Equal(t, leave.OutcomeFailed, batch.Results[1].Outcome)
	assert.Contains(t, batch.Results[1].Error, "disk full")
	assert.Equal(t, "employee inactive", batch.Results[3].Reason)
	assert.Len(t, events.Named(leave.EventAccrualFailed), 1)
	dir.AssertExpectations(t)
}

// =============================================================================
// CARRY-FORWARD
// =============================================================================

func TestCarryForward_ResetDue_CarriesCappedAmount(t *testing.T) {
	f := newFixture(t)
	e := leave.NewEntitlement(key(empID, annual))
	e.Remaining = days(12)
	e.Taken = days(8)
	e.NextResetDate = generic.MustParse("2025-01-15").Ptr()
	_, err := f.store.CreateEntitlement(f.ctx, e)
	require.NoError(t, err)

	batch, err := f.engine.Accruals.RunCarryForward(f.ctx, leave.CarryForwardRequest{LeaveTypeID: annual})

	require.NoError(t, err)
	require.Len(t, batch.Results, 2)
	applied := batch.Results[0]
	assert.Equal(t, leave.OutcomeApplied, applied.Outcome)
	require.NotNil(t, applied.Carry)
	assertDecimal(t, 5, applied.Carry.Carried)
	assertDecimal(t, 7, applied.Carry.Expired)

	bal := f.balance(t, empID, annual)
	assertDecimal(t, 5, bal.CarryForward)
	assertDecimal(t, 5, bal.Remaining)
	assertDecimal(t, 0, bal.Taken)
	assert.Equal(t, "2026-01-15", bal.NextResetDate.String())

	assert.Equal(t, leave.OutcomeSkipped, batch.Results[1].Outcome, "emp-2 has no row")
}

func TestCarryForward_NotDue_Skipped(t *testing.T) {
	f := newFixture(t)
	e := leave.NewEntitlement(key(empID, annual))
	e.Remaining = days(12)
	e.NextResetDate = generic.MustParse("2026-01-15").Ptr()
	_, err := f.store.CreateEntitlement(f.ctx, e)
	require.NoError(t, err)

	batch, err := f.engine.Accruals.RunCarryForward(f.ctx, leave.CarryForwardRequest{LeaveTypeID: annual, EmployeeID: empID})

	require.NoError(t, err)
	require.Len(t, batch.Results, 1)
	assert.Equal(t, leave.OutcomeSkipped, batch.Results[0].Outcome)
	assertDecimal(t, 12, f.balance(t, empID, annual).Remaining)
}

func TestCarryForward_UnscheduledRow_GetsResetDate(t *testing.T) {
	f := newFixture(t)
	f.seedBalance(t, empID, annual, 12)

	batch, err := f.engine.Accruals.RunCarryForward(f.ctx, leave.CarryForwardRequest{LeaveTypeID: annual, EmployeeID: empID})

	require.NoError(t, err)
	assert.Equal(t, "reset date scheduled", batch.Results[0].Reason)
	assert.Equal(t, "2026-01-15", f.balance(t, empID, annual).NextResetDate.String())
}

func TestNextResetDate_MissingAnchorFallsBackToHireDate(t *testing.T) {
	f := newFixture(t)
	emp := &leave.Employee{ID: empID, HireDate: generic.MustParse("2020-01-15")}
	policy := &leave.LeavePolicy{LeaveTypeID: annual, ResetCriterion: leave.ResetFirstVacation}

	next := f.engine.Accruals.NextResetDate(f.ctx, policy, emp, generic.MustParse("2025-05-20"))

	assert.Equal(t, "2026-01-15", next.String())
	assert.Len(t, f.events.Named(leave.EventAnchorMissing), 1)

	vacation := generic.MustParse("2021-07-01")
	emp.FirstVacationDate = &vacation
	assert.Equal(t, "2025-07-01", f.engine.Accruals.NextResetDate(f.ctx, policy, emp, generic.MustParse("2025-05-20")).String())
}
