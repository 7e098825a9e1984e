package leave_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/store/memory"
)

// Tuesday. Every test runs against this day.
var today = time.Date(2025, time.May, 20, 9, 30, 0, 0, time.UTC)

const (
	empID   leave.EmployeeID = "emp-1"
	otherID leave.EmployeeID = "emp-2"

	annual  leave.LeaveTypeID = "annual"
	sick    leave.LeaveTypeID = "sick"
	illness leave.LeaveTypeID = "extended_illness"
	unpaid  leave.LeaveTypeID = "unpaid"
)

type fixture struct {
	ctx    context.Context
	engine *leave.Engine
	store  *memory.Memory
	events *leave.RecordingSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewMemory()
	events := &leave.RecordingSink{}

	require.NoError(t, store.SaveEmployee(ctx, leave.Employee{
		ID: empID, Name: "Ada", DepartmentID: "eng", HireDate: generic.MustParse("2020-01-15"), Active: true,
	}))
	require.NoError(t, store.SaveEmployee(ctx, leave.Employee{
		ID: otherID, Name: "Grace", DepartmentID: "ops", HireDate: generic.MustParse("2024-11-01"), Active: true,
	}))

	types := []leave.LeaveType{
		{ID: annual, Code: "AL", Name: "Annual leave", Category: leave.CategoryAnnual, Paid: true, Active: true},
		{ID: sick, Code: "SL", Name: "Sick leave", Category: leave.CategorySick, Paid: true, AttachmentAfterDays: 1, Active: true},
		{ID: illness, Code: "EI", Name: "Extended illness", Category: leave.CategoryExtendedIllness, Paid: true, RequiresAttachment: true, Active: true},
		{ID: unpaid, Code: "UL", Name: "Unpaid leave", Category: leave.CategoryUnpaid, Active: false},
	}
	for _, lt := range types {
		require.NoError(t, store.SaveLeaveType(ctx, lt))
	}

	policies := []leave.LeavePolicy{
		{
			ID: "annual-v1", LeaveTypeID: annual, AccrualMethod: leave.AccrualYearly,
			YearlyRate: decimal.NewFromInt(20), MonthlyRate: decimal.NewFromFloat(1.67), Rounding: leave.RoundNone,
			CarryForwardAllowed: true, CarryForwardCap: decimal.NewFromInt(5), ResetCriterion: leave.ResetHireDate, Active: true,
		},
		{
			ID: "sick-v1", LeaveTypeID: sick, AccrualMethod: leave.AccrualYearly,
			YearlyRate: decimal.NewFromInt(10), Rounding: leave.RoundNone, ResetCriterion: leave.ResetHireDate, Active: true,
		},
		{
			ID: "illness-v1", LeaveTypeID: illness, AccrualMethod: leave.AccrualYearly,
			YearlyRate: decimal.NewFromInt(120), Rounding: leave.RoundNone, ResetCriterion: leave.ResetHireDate, Active: true,
			Caps: []leave.CumulativeCap{
				{Scope: leave.CapRollingYears, Years: 3, MaxDays: decimal.NewFromInt(360)},
				{Scope: leave.CapCalendarYear, MaxDays: decimal.NewFromInt(30)},
			},
		},
	}
	for _, p := range policies {
		require.NoError(t, store.SavePolicy(ctx, p))
	}

	require.NoError(t, store.SaveCalendar(ctx, leave.Calendar{
		Year:     2025,
		Holidays: []leave.Holiday{{Date: generic.MustParse("2025-06-19"), Name: "Juneteenth"}},
		Blocked: []leave.BlockedPeriod{{
			Period: period("2025-12-22", "2025-12-31"), Reason: "Year-end close",
		}},
	}))

	engine := leave.NewEngine(store, store, store, events, leave.Options{
		Now: func() time.Time { return today },
	})
	return &fixture{ctx: ctx, engine: engine, store: store, events: events}
}

func period(start, end string) generic.Period {
	return generic.Period{Start: generic.MustParse(start), End: generic.MustParse(end)}
}

func key(emp leave.EmployeeID, lt leave.LeaveTypeID) leave.EntitlementKey {
	return leave.EntitlementKey{EmployeeID: emp, LeaveTypeID: lt}
}

func days(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

// seedBalance creates a ledger row with the given remaining days.
func (f *fixture) seedBalance(t *testing.T, emp leave.EmployeeID, lt leave.LeaveTypeID, remaining int64) {
	t.Helper()
	e := leave.NewEntitlement(key(emp, lt))
	e.Remaining = days(remaining)
	_, err := f.store.CreateEntitlement(f.ctx, e)
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, emp leave.EmployeeID, lt leave.LeaveTypeID) *leave.Entitlement {
	t.Helper()
	e, err := f.engine.Ledger.Balance(f.ctx, key(emp, lt))
	require.NoError(t, err)
	return e
}

func (f *fixture) create(t *testing.T, lt leave.LeaveTypeID, start, end string) *leave.Request {
	t.Helper()
	req, err := f.engine.Requests.Create(f.ctx, leave.CreateInput{
		EmployeeID: empID, LeaveTypeID: lt, Period: period(start, end),
	})
	require.NoError(t, err)
	return req
}

// approve drives a request through manager approval and HR finalization.
func (f *fixture) approve(t *testing.T, id leave.RequestID) *leave.Request {
	t.Helper()
	_, err := f.engine.Requests.ApproveAtManagerLevel(f.ctx, id, "mgr-1")
	require.NoError(t, err)
	req, err := f.engine.Requests.FinalizeAtHR(f.ctx, id, "hr-1")
	require.NoError(t, err)
	return req
}

// assertDecimal compares decimals by value.
func assertDecimal(t *testing.T, want int64, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	require.Truef(t, got.Equal(decimal.NewFromInt(want)), "want %d, got %s %v", want, got, msgAndArgs)
}
