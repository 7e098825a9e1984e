// Package storetest holds behaviour tests shared by every leave.Store
// implementation.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) leave.Store

// Run exercises the full leave.Store contract against newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("Catalog", func(t *testing.T) { testCatalog(t, newStore(t)) })
	t.Run("PolicyActivation", func(t *testing.T) { testPolicyActivation(t, newStore(t)) })
	t.Run("Calendar", func(t *testing.T) { testCalendar(t, newStore(t)) })
	t.Run("EntitlementCreateIsInsertIfAbsent", func(t *testing.T) { testCreateEntitlement(t, newStore(t)) })
	t.Run("EntitlementUpdate", func(t *testing.T) { testUpdateEntitlement(t, newStore(t)) })
	t.Run("RequestCompareAndSwap", func(t *testing.T) { testRequestCAS(t, newStore(t)) })
	t.Run("RequestFilters", func(t *testing.T) { testRequestFilters(t, newStore(t)) })
	t.Run("WithTxRollsBack", func(t *testing.T) { testWithTxRollback(t, newStore(t)) })
	t.Run("WithTxCommits", func(t *testing.T) { testWithTxCommit(t, newStore(t)) })
	t.Run("Adjustments", func(t *testing.T) { testAdjustments(t, newStore(t)) })
}

var (
	ctx = context.Background()
	key = leave.EntitlementKey{EmployeeID: "emp-1", LeaveTypeID: "annual"}
)

func day(s string) generic.TimePoint { return generic.MustParse(s) }

func seedRow(t *testing.T, s leave.Store, remaining int64) {
	t.Helper()
	e := leave.NewEntitlement(key)
	e.Remaining = decimal.NewFromInt(remaining)
	_, err := s.CreateEntitlement(ctx, e)
	require.NoError(t, err)
}

func newRequest(id leave.RequestID, start, end string) leave.Request {
	now := time.Date(2025, 5, 20, 9, 0, 0, 0, time.UTC)
	return leave.Request{
		ID:           id,
		EmployeeID:   "emp-1",
		LeaveTypeID:  "annual",
		Period:       generic.Period{Start: day(start), End: day(end)},
		DurationDays: 2,
		Status:       leave.StatusPendingManager,
		ApprovalFlow: []leave.ApprovalStep{{Role: leave.RoleManager, Status: leave.StepPending}},
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// =============================================================================
// CATALOG
// =============================================================================

func testCatalog(t *testing.T, s leave.Store) {
	tenure := 6
	require.NoError(t, s.SaveLeaveType(ctx, leave.LeaveType{
		ID: "annual", Code: "AL", Name: "Annual", Category: leave.CategoryAnnual, Paid: true, Active: true, MinTenureMonths: &tenure,
	}))
	require.NoError(t, s.SaveLeaveType(ctx, leave.LeaveType{
		ID: "sick", Code: "SL", Name: "Sick", Category: leave.CategorySick, AttachmentAfterDays: 2, Active: true,
	}))

	lt, err := s.GetLeaveType(ctx, "annual")
	require.NoError(t, err)
	assert.Equal(t, "AL", lt.Code)
	require.NotNil(t, lt.MinTenureMonths)
	assert.Equal(t, 6, *lt.MinTenureMonths)
	assert.Nil(t, lt.MaxDurationDays)

	// Disabling is an upsert
	lt.Active = false
	require.NoError(t, s.SaveLeaveType(ctx, *lt))
	all, err := s.ListLeaveTypes(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.False(t, all[0].Active)
	assert.Equal(t, 2, all[1].AttachmentAfterDays)

	_, err = s.GetLeaveType(ctx, "nope")
	assert.True(t, leave.IsNotFound(err))
}

func testPolicyActivation(t *testing.T, s leave.Store) {
	require.NoError(t, s.SaveLeaveType(ctx, leave.LeaveType{ID: "annual", Code: "AL", Name: "Annual", Active: true}))

	v1 := leave.LeavePolicy{
		ID: "v1", LeaveTypeID: "annual", AccrualMethod: leave.AccrualYearly,
		YearlyRate: decimal.NewFromInt(20), MonthlyRate: decimal.Zero, CarryForwardCap: decimal.NewFromInt(5),
		Rounding: leave.RoundNone, ResetCriterion: leave.ResetHireDate, Active: true,
	}
	v2 := v1
	v2.ID = "v2"
	v2.YearlyRate = decimal.NewFromInt(25)
	v2.Caps = []leave.CumulativeCap{{Scope: leave.CapRollingYears, Years: 3, MaxDays: decimal.NewFromInt(360)}}

	require.NoError(t, s.SavePolicy(ctx, v1))
	require.NoError(t, s.SavePolicy(ctx, v2))

	active, err := s.GetActivePolicy(ctx, "annual")
	require.NoError(t, err)
	assert.Equal(t, leave.PolicyID("v2"), active.ID)
	assert.Equal(t, "25", active.YearlyRate.String())
	require.Len(t, active.Caps, 1)
	assert.Equal(t, 3, active.Caps[0].Years)

	all, err := s.ListPolicies(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.False(t, all[0].Active, "v1 was deactivated")

	_, err = s.GetActivePolicy(ctx, "sick")
	assert.True(t, leave.IsNotFound(err))
}

func testCalendar(t *testing.T, s leave.Store) {
	_, err := s.GetCalendar(ctx, 2025)
	assert.True(t, leave.IsNotFound(err))

	require.NoError(t, s.SaveCalendar(ctx, leave.Calendar{
		Year:     2025,
		Holidays: []leave.Holiday{{Date: day("2025-06-19"), Name: "Juneteenth"}},
		Blocked:  []leave.BlockedPeriod{{Period: generic.Period{Start: day("2025-12-22"), End: day("2025-12-31")}, Reason: "close"}},
	}))

	c, err := s.GetCalendar(ctx, 2025)
	require.NoError(t, err)
	assert.True(t, c.IsHoliday(day("2025-06-19")))
	assert.True(t, c.IsBlocked(day("2025-12-24")))
	assert.False(t, c.IsBlocked(day("2025-12-21")))
}

// =============================================================================
// ENTITLEMENTS
// =============================================================================

func testCreateEntitlement(t *testing.T, s leave.Store) {
	seedRow(t, s, 10)

	again := leave.NewEntitlement(key)
	again.Remaining = decimal.NewFromInt(99)
	got, err := s.CreateEntitlement(ctx, again)

	require.NoError(t, err)
	assert.Equal(t, "10", got.Remaining.String(), "existing row wins")
	assert.Equal(t, int64(1), got.Version)
}

func testUpdateEntitlement(t *testing.T, s leave.Store) {
	seedRow(t, s, 10)

	e, err := s.UpdateEntitlement(ctx, key, func(e *leave.Entitlement) error {
		e.Pending = e.Pending.Add(decimal.NewFromInt(3))
		e.NextResetDate = day("2026-01-15").Ptr()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), e.Version)

	stored, err := s.GetEntitlement(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "3", stored.Pending.String())
	assert.Equal(t, "2026-01-15", stored.NextResetDate.String())
	assert.Nil(t, stored.LastAccrualDate)

	boom := errors.New("boom")
	_, err = s.UpdateEntitlement(ctx, key, func(e *leave.Entitlement) error {
		e.Pending = decimal.NewFromInt(100)
		return boom
	})
	require.ErrorIs(t, err, boom)
	stored, err = s.GetEntitlement(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "3", stored.Pending.String(), "a failed mutate leaves the row untouched")
	assert.Equal(t, int64(2), stored.Version)

	_, err = s.UpdateEntitlement(ctx, leave.EntitlementKey{EmployeeID: "ghost", LeaveTypeID: "annual"},
		func(*leave.Entitlement) error { return nil })
	assert.True(t, leave.IsNotFound(err))

	rows, err := s.ListEntitlements(ctx, leave.EntitlementFilter{EmployeeID: "emp-1"})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	rows, err = s.ListEntitlements(ctx, leave.EntitlementFilter{LeaveTypeID: "sick"})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

// =============================================================================
// REQUESTS
// =============================================================================

func testRequestCAS(t *testing.T, s leave.Store) {
	r := newRequest("r-1", "2025-06-02", "2025-06-03")
	require.NoError(t, s.CreateRequest(ctx, r))

	approved := r
	approved.Status = leave.StatusPendingHR
	approved.ApprovalFlow = append(approved.ApprovalFlow, leave.ApprovalStep{Role: leave.RoleHR, Status: leave.StepPending})
	require.NoError(t, s.UpdateRequest(ctx, approved, leave.StatusPendingManager))

	stored, err := s.GetRequest(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusPendingHR, stored.Status)
	assert.Equal(t, int64(2), stored.Version)
	assert.Len(t, stored.ApprovalFlow, 2)

	// A writer that read version 1 loses.
	stale := r
	stale.Status = leave.StatusRejected
	err = s.UpdateRequest(ctx, stale, leave.StatusPendingManager)
	var conflict *leave.StateConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, leave.StatusPendingHR, conflict.Actual)
	assert.ErrorIs(t, err, leave.ErrStateConflict)

	err = s.UpdateRequest(ctx, leave.Request{ID: "missing", Version: 1}, leave.StatusPendingManager)
	assert.True(t, leave.IsNotFound(err))
}

func testRequestFilters(t *testing.T, s leave.Store) {
	a := newRequest("r-a", "2025-06-02", "2025-06-04")
	b := newRequest("r-b", "2025-06-10", "2025-06-12")
	b.CreatedAt = a.CreatedAt.Add(time.Minute)
	b.Status = leave.StatusCancelled
	c := newRequest("r-c", "2025-06-03", "2025-06-03")
	c.EmployeeID = "emp-2"
	c.LeaveTypeID = "sick"
	c.Notices = []leave.Notice{{Code: leave.NoticeRetroactive, Message: "late"}}
	for _, r := range []leave.Request{a, b, c} {
		require.NoError(t, s.CreateRequest(ctx, r))
	}

	overlap := generic.Period{Start: day("2025-06-04"), End: day("2025-06-10")}
	got, err := s.ListRequests(ctx, leave.RequestFilter{EmployeeID: "emp-1", Overlaps: &overlap})
	require.NoError(t, err)
	require.Len(t, got, 2, "boundaries are inclusive")
	assert.Equal(t, leave.RequestID("r-a"), got[0].ID)

	got, err = s.ListRequests(ctx, leave.RequestFilter{Statuses: leave.ActiveStatuses})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.ListRequests(ctx, leave.RequestFilter{LeaveTypeIDs: []leave.LeaveTypeID{"sick"}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Len(t, got[0].Notices, 1)
	assert.Equal(t, leave.NoticeRetroactive, got[0].Notices[0].Code)
}

// =============================================================================
// UNIT OF WORK
// =============================================================================

func testWithTxRollback(t *testing.T, s leave.Store) {
	seedRow(t, s, 10)
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx leave.Store) error {
		if _, err := tx.UpdateEntitlement(ctx, key, func(e *leave.Entitlement) error {
			e.Pending = decimal.NewFromInt(4)
			return nil
		}); err != nil {
			return err
		}
		if err := tx.CreateRequest(ctx, newRequest("r-1", "2025-06-02", "2025-06-03")); err != nil {
			return err
		}
		return boom
	})

	require.ErrorIs(t, err, boom)
	e, err := s.GetEntitlement(ctx, key)
	require.NoError(t, err)
	assert.True(t, e.Pending.IsZero())
	assert.Equal(t, int64(1), e.Version)
	_, err = s.GetRequest(ctx, "r-1")
	assert.True(t, leave.IsNotFound(err))
}

func testWithTxCommit(t *testing.T, s leave.Store) {
	seedRow(t, s, 10)

	err := s.WithTx(ctx, func(tx leave.Store) error {
		if _, err := tx.UpdateEntitlement(ctx, key, func(e *leave.Entitlement) error {
			e.Pending = decimal.NewFromInt(4)
			return nil
		}); err != nil {
			return err
		}
		// Nested units of work join the outer one.
		return tx.WithTx(ctx, func(inner leave.Store) error {
			return inner.CreateRequest(ctx, newRequest("r-1", "2025-06-02", "2025-06-03"))
		})
	})

	require.NoError(t, err)
	e, err := s.GetEntitlement(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "4", e.Pending.String())
	_, err = s.GetRequest(ctx, "r-1")
	assert.NoError(t, err)
}

func testAdjustments(t *testing.T, s leave.Store) {
	at := time.Date(2025, 5, 20, 9, 0, 0, 0, time.UTC)
	rows := []leave.Adjustment{
		{ID: "a-1", EmployeeID: "emp-1", LeaveTypeID: "annual", Type: leave.AdjustReduction,
			Amount: decimal.NewFromInt(2), Applied: decimal.NewFromInt(-2), Reason: "r", Actor: "hr-1", CreatedAt: at},
		{ID: "a-2", EmployeeID: "emp-1", LeaveTypeID: "sick", Type: leave.AdjustRestoration,
			Amount: decimal.NewFromInt(1), Applied: decimal.NewFromInt(1), Reason: "r", Actor: "hr-1", CreatedAt: at.Add(time.Second)},
		{ID: "a-3", EmployeeID: "emp-2", LeaveTypeID: "annual", Type: leave.AdjustAdjustment,
			Amount: decimal.NewFromInt(1), Applied: decimal.NewFromInt(1), Reason: "r", CreatedAt: at},
	}
	for _, a := range rows {
		require.NoError(t, s.AppendAdjustment(ctx, a))
	}

	got, err := s.ListAdjustments(ctx, key)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "-2", got[0].Applied.String())

	got, err = s.ListAdjustments(ctx, leave.EntitlementKey{EmployeeID: "emp-1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a-1", got[0].ID)
}
