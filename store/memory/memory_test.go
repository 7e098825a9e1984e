package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/store/storetest"
)

func TestMemory_StoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) leave.Store { return NewMemory() })
}

func TestMemory_ConcurrentUpdatesSerialize(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	key := leave.EntitlementKey{EmployeeID: "emp-1", LeaveTypeID: "annual"}
	_, err := m.CreateEntitlement(ctx, leave.NewEntitlement(key))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.UpdateEntitlement(ctx, key, func(e *leave.Entitlement) error {
				e.Remaining = e.Remaining.Add(decimal.NewFromInt(1))
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	e, err := m.GetEntitlement(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "50", e.Remaining.String())
	assert.Equal(t, int64(51), e.Version)
}

func TestMemory_ReturnedRequestsAreCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.CreateRequest(ctx, leave.Request{
		ID:           "r-1",
		Status:       leave.StatusPendingManager,
		ApprovalFlow: []leave.ApprovalStep{{Role: leave.RoleManager, Status: leave.StepPending}},
	}))

	r, err := m.GetRequest(ctx, "r-1")
	require.NoError(t, err)
	r.ApprovalFlow[0].Status = leave.StepApproved

	again, err := m.GetRequest(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, leave.StepPending, again.ApprovalFlow[0].Status)
}

func TestMemory_Employees(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	hire := generic.MustParse("2021-02-01")
	require.NoError(t, m.SaveEmployee(ctx, leave.Employee{ID: "b", DepartmentID: "eng", HireDate: hire, Active: true}))
	require.NoError(t, m.SaveEmployee(ctx, leave.Employee{ID: "a", DepartmentID: "eng", HireDate: hire, Active: false}))
	require.NoError(t, m.SaveEmployee(ctx, leave.Employee{ID: "c", DepartmentID: "ops", HireDate: hire, Active: true}))

	eng, err := m.ListEmployees(ctx, leave.EmployeeFilter{DepartmentID: "eng"})
	require.NoError(t, err)
	require.Len(t, eng, 2)
	assert.Equal(t, leave.EmployeeID("a"), eng[0].ID)

	active, err := m.ListEmployees(ctx, leave.EmployeeFilter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Len(t, active, 2)

	_, err = m.GetEmployee(ctx, "zzz")
	assert.True(t, leave.IsNotFound(err))

	m.AddAttachment("doc-1")
	ok, err := m.AttachmentExists(ctx, "doc-1")
	require.NoError(t, err)
	assert.True(t, ok)
	m.RemoveAttachment("doc-1")
	ok, _ = m.AttachmentExists(ctx, "doc-1")
	assert.False(t, ok)
}
