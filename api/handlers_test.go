/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Request lifecycle over HTTP (create, manager approve, HR finalize)
- Error mapping (400 body, 404, 409, 422 kinds, 403)
- Ledger endpoints (balances, adjustments, accruals)
- Catalog endpoints (leave types via factory, policies, calendars)
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/warp/leave-engine/factory"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/store/memory"
)

// Tuesday. Every test runs against this day.
var testToday = time.Date(2025, time.May, 20, 9, 0, 0, 0, time.UTC)

// =============================================================================
// TEST ENVIRONMENT
// =============================================================================

type testEnv struct {
	t      *testing.T
	store  *memory.Memory
	h      *Handler
	auth   *Authenticator
	router http.Handler
}

// newTestEnv builds the API over a memory store seeded with annual and sick
// leave, two employees and the 2025 calendar. An empty secret runs in dev mode.
func newTestEnv(t *testing.T, secret string) *testEnv {
	t.Helper()
	ctx := context.Background()
	store := memory.NewMemory()
	clock := func() time.Time { return testToday }

	pf := factory.NewPolicyFactory()
	for _, def := range []string{
		factory.AnnualLeaveJSON("annual", "Annual leave", 20, 5),
		factory.SickLeaveJSON("sick", "Sick leave", 10, 1),
	} {
		_, _, err := pf.Install(ctx, store, def)
		require.NoError(t, err)
	}
	require.NoError(t, store.SaveEmployee(ctx, leave.Employee{
		ID: "emp-1", Name: "Ada", DepartmentID: "eng", HireDate: generic.MustParse("2020-01-15"), Active: true,
	}))
	require.NoError(t, store.SaveEmployee(ctx, leave.Employee{
		ID: "emp-2", Name: "Grace", DepartmentID: "ops", HireDate: generic.MustParse("2024-11-01"), Active: true,
	}))
	require.NoError(t, store.SaveCalendar(ctx, leave.Calendar{
		Year:     2025,
		Holidays: []leave.Holiday{{Date: generic.MustParse("2025-06-19"), Name: "Juneteenth"}},
		Blocked: []leave.BlockedPeriod{{
			Period: generic.Period{Start: generic.MustParse("2025-12-22"), End: generic.MustParse("2025-12-31")},
			Reason: "Year-end close",
		}},
	}))

	engine := leave.NewEngine(store, store, store, nil, leave.Options{Now: clock})
	h := NewHandler(engine, store, zaptest.NewLogger(t))
	h.now = clock
	auth := NewAuthenticator(secret, "leave-engine-test")

	return &testEnv{
		t:      t,
		store:  store,
		h:      h,
		auth:   auth,
		router: NewRouter(h, RouterOptions{Auth: auth, AllowedOrigins: []string{"http://localhost:3000"}}),
	}
}

// do sends body as JSON. headers are name/value pairs.
func (e *testEnv) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func as(employee string) []string { return []string{"X-Employee-ID", employee} }

func decodeAs[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (e *testEnv) accrueAnnual() {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/api/accruals", map[string]any{"leave_type_id": "annual"})
	require.Equal(e.t, http.StatusOK, rec.Code, rec.Body.String())
}

func (e *testEnv) fileRequest(employee, start, end string) leave.Request {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/api/requests", map[string]any{
		"leave_type_id": "annual", "start_date": start, "end_date": end,
	}, as(employee)...)
	require.Equal(e.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeAs[leave.Request](e.t, rec)
}

func (e *testEnv) annualBalance(employee string) BalanceDTO {
	e.t.Helper()
	rec := e.do(http.MethodGet, "/api/employees/"+employee+"/balances?leave_type_id=annual", nil)
	require.Equal(e.t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeAs[BalancesResponse](e.t, rec)
	require.Len(e.t, resp.Balances, 1)
	return resp.Balances[0]
}

// =============================================================================
// REQUEST LIFECYCLE
// =============================================================================

func TestHandlers_RequestLifecycle(t *testing.T) {
	// GIVEN: Both employees credited their yearly annual leave
	env := newTestEnv(t, "")
	rec := env.do(http.MethodPost, "/api/accruals", map[string]any{"leave_type_id": "annual"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	batch := decodeAs[leave.BatchResult](t, rec)
	assert.Equal(t, 2, batch.Applied)

	// WHEN: emp-1 files Monday to Friday
	req := env.fileRequest("emp-1", "2025-06-02", "2025-06-06")

	// THEN: Five days are reserved
	assert.Equal(t, 5, req.DurationDays)
	assert.Equal(t, leave.StatusPendingManager, req.Status)
	bal := env.annualBalance("emp-1")
	assert.Equal(t, "5", bal.Pending.String())
	assert.Equal(t, "15", bal.Available.String())

	// WHEN: Manager approves, HR finalizes
	rec = env.do(http.MethodPost, "/api/requests/"+string(req.ID)+"/manager/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, leave.StatusPendingHR, decodeAs[leave.Request](t, rec).Status)

	rec = env.do(http.MethodPost, "/api/requests/"+string(req.ID)+"/hr/finalize", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	final := decodeAs[leave.Request](t, rec)
	assert.Equal(t, leave.StatusApproved, final.Status)
	require.Len(t, final.ApprovalFlow, 2)
	assert.Equal(t, "dev", final.ApprovalFlow[1].DecidedBy)

	// THEN: The days moved from pending to taken
	bal = env.annualBalance("emp-1")
	assert.Equal(t, "0", bal.Pending.String())
	assert.Equal(t, "5", bal.Taken.String())
	assert.Equal(t, "15", bal.Remaining.String())

	// AND: A second finalize conflicts instead of committing twice
	rec = env.do(http.MethodPost, "/api/requests/"+string(req.ID)+"/hr/finalize", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	errResp := decodeAs[ErrorResponse](t, rec)
	assert.Equal(t, CodeStateConflict, errResp.Code)
	assert.Equal(t, map[string]any{"actual": "APPROVED"}, errResp.Details)
}

func TestHandlers_CreateRequest_HolidayAndDurationNotice(t *testing.T) {
	env := newTestEnv(t, "")
	env.accrueAnnual()

	// Mon 16 to Fri 20 June with Juneteenth on Thursday; caller claims 5 days
	rec := env.do(http.MethodPost, "/api/requests", map[string]any{
		"leave_type_id": "annual", "start_date": "2025-06-16", "end_date": "2025-06-20", "duration_days": 5,
	}, as("emp-1")...)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	req := decodeAs[leave.Request](t, rec)
	assert.Equal(t, 4, req.DurationDays)
	require.Len(t, req.Notices, 1)
	assert.Equal(t, leave.NoticeDurationMismatch, req.Notices[0].Code)
}

func TestHandlers_CreateRequest_ValidationKinds(t *testing.T) {
	env := newTestEnv(t, "")
	env.accrueAnnual()
	env.fileRequest("emp-1", "2025-06-02", "2025-06-06")

	tests := []struct {
		name     string
		employee string
		start    string
		end      string
		kind     leave.ValidationKind
	}{
		{"overlap", "emp-1", "2025-06-05", "2025-06-10", leave.KindOverlap},
		{"blocked period", "emp-1", "2025-12-18", "2025-12-23", leave.KindBlockedPeriod},
		{"grace period expired", "emp-1", "2025-05-12", "2025-05-12", leave.KindGracePeriodExpired},
		{"weekend only", "emp-1", "2025-06-07", "2025-06-08", leave.KindNoChargeableDays},
		{"insufficient balance", "emp-2", "2025-07-01", "2025-08-29", leave.KindInsufficientBalance},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, "/api/requests", map[string]any{
				"leave_type_id": "annual", "start_date": tt.start, "end_date": tt.end,
			}, as(tt.employee)...)

			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
			resp := decodeAs[ErrorResponse](t, rec)
			assert.Equal(t, CodeValidation, resp.Code)
			assert.Equal(t, string(tt.kind), resp.Kind)
		})
	}
}

func TestHandlers_CreateRequest_BadBody(t *testing.T) {
	env := newTestEnv(t, "")

	t.Run("missing fields", func(t *testing.T) {
		rec := env.do(http.MethodPost, "/api/requests", map[string]any{"start_date": "2025-06-02"}, as("emp-1")...)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		resp := decodeAs[ErrorResponse](t, rec)
		assert.Equal(t, CodeBadRequest, resp.Code)
		assert.Equal(t, map[string]any{"LeaveTypeID": "required", "EndDate": "required"}, resp.Details)
	})

	t.Run("malformed date", func(t *testing.T) {
		rec := env.do(http.MethodPost, "/api/requests", map[string]any{
			"leave_type_id": "annual", "start_date": "02/06/2025", "end_date": "2025-06-06",
		}, as("emp-1")...)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, map[string]any{"StartDate": "datetime"}, decodeAs[ErrorResponse](t, rec).Details)
	})

	t.Run("unknown field", func(t *testing.T) {
		rec := env.do(http.MethodPost, "/api/requests", `{"leave_type_id":"annual","days":[1]}`, as("emp-1")...)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("no employee", func(t *testing.T) {
		rec := env.do(http.MethodPost, "/api/requests", map[string]any{
			"leave_type_id": "annual", "start_date": "2025-06-02", "end_date": "2025-06-06",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandlers_UnknownLeaveTypeAndRequest(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(http.MethodPost, "/api/requests", map[string]any{
		"leave_type_id": "sabbatical", "start_date": "2025-06-02", "end_date": "2025-06-06",
	}, as("emp-1")...)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodGet, "/api/requests/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeNotFound, decodeAs[ErrorResponse](t, rec).Code)
}

func TestHandlers_UpdateRequest(t *testing.T) {
	env := newTestEnv(t, "")
	env.accrueAnnual()
	req := env.fileRequest("emp-1", "2025-06-02", "2025-06-06")

	// Shrinking to three days releases two
	rec := env.do(http.MethodPatch, "/api/requests/"+string(req.ID), map[string]any{
		"start_date": "2025-06-02", "end_date": "2025-06-04",
	}, as("emp-1")...)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 3, decodeAs[leave.Request](t, rec).DurationDays)
	assert.Equal(t, "3", env.annualBalance("emp-1").Pending.String())

	// Half a period is rejected before reaching the engine
	rec = env.do(http.MethodPatch, "/api/requests/"+string(req.ID), map[string]any{"start_date": "2025-06-03"}, as("emp-1")...)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlers_CancelIsOwnerOnly(t *testing.T) {
	env := newTestEnv(t, "")
	env.accrueAnnual()
	req := env.fileRequest("emp-1", "2025-06-02", "2025-06-06")

	rec := env.do(http.MethodPost, "/api/requests/"+string(req.ID)+"/cancel", nil, as("emp-2")...)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, leave.StatusPendingManager, env.mustGet(req.ID).Status)

	rec = env.do(http.MethodPost, "/api/requests/"+string(req.ID)+"/cancel", nil, as("emp-1")...)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, leave.StatusCancelled, decodeAs[leave.Request](t, rec).Status)
	assert.Equal(t, "0", env.annualBalance("emp-1").Pending.String())
}

func TestHandlers_RejectAndOverride(t *testing.T) {
	env := newTestEnv(t, "")
	env.accrueAnnual()
	first := env.fileRequest("emp-1", "2025-06-02", "2025-06-03")
	second := env.fileRequest("emp-1", "2025-06-09", "2025-06-10")

	rec := env.do(http.MethodPost, "/api/requests/"+string(first.ID)+"/manager/reject", map[string]any{"reason": "release week"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, leave.StatusRejected, decodeAs[leave.Request](t, rec).Status)

	// Override needs a reason
	rec = env.do(http.MethodPost, "/api/requests/"+string(second.ID)+"/hr/override", map[string]any{"approve": true})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, string(leave.KindReasonRequired), decodeAs[ErrorResponse](t, rec).Kind)

	rec = env.do(http.MethodPost, "/api/requests/"+string(second.ID)+"/hr/override", map[string]any{"approve": true, "reason": "manager on leave"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	overridden := decodeAs[leave.Request](t, rec)
	assert.Equal(t, leave.StatusApproved, overridden.Status)
	assert.True(t, overridden.CurrentStep().Override)

	bal := env.annualBalance("emp-1")
	assert.Equal(t, "2", bal.Taken.String())
	assert.Equal(t, "0", bal.Pending.String())
}

func TestHandlers_ListRequests_Filters(t *testing.T) {
	env := newTestEnv(t, "")
	env.accrueAnnual()
	june := env.fileRequest("emp-1", "2025-06-02", "2025-06-03")
	env.fileRequest("emp-1", "2025-07-07", "2025-07-08")
	env.fileRequest("emp-2", "2025-06-02", "2025-06-03")

	rec := env.do(http.MethodGet, "/api/requests?employee_id=emp-1&from=2025-06-01&to=2025-06-30", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	reqs := decodeAs[[]leave.Request](t, rec)
	require.Len(t, reqs, 1)
	assert.Equal(t, june.ID, reqs[0].ID)

	rec = env.do(http.MethodGet, "/api/requests?status=pending_manager", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeAs[[]leave.Request](t, rec), 3)

	rec = env.do(http.MethodGet, "/api/requests?status=LOST", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodGet, "/api/requests?from=2025-06-01", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func (e *testEnv) mustGet(id leave.RequestID) *leave.Request {
	e.t.Helper()
	req, err := e.store.GetRequest(context.Background(), id)
	require.NoError(e.t, err)
	return req
}

// =============================================================================
// LEDGER ENDPOINTS
// =============================================================================

func TestHandlers_Adjustments(t *testing.T) {
	env := newTestEnv(t, "")
	env.accrueAnnual()

	rec := env.do(http.MethodPost, "/api/adjustments", map[string]any{
		"employee_id": "emp-1", "leave_type_id": "annual", "type": "reduction", "amount": "3", "reason": "payroll correction",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decodeAs[AdjustmentResponse](t, rec)
	assert.Equal(t, "17", resp.Entitlement.Remaining.String())
	assert.Equal(t, "dev", resp.Adjustment.Actor)

	rec = env.do(http.MethodGet, "/api/employees/emp-1/adjustments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	adjs := decodeAs[[]leave.Adjustment](t, rec)
	require.Len(t, adjs, 1)
	assert.Equal(t, leave.AdjustReduction, adjs[0].Type)

	// Enum membership is checked by struct tags
	rec = env.do(http.MethodPost, "/api/adjustments", map[string]any{
		"employee_id": "emp-1", "leave_type_id": "annual", "type": "bonus", "amount": "3", "reason": "x",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Non-positive amounts are a business rule
	rec = env.do(http.MethodPost, "/api/adjustments", map[string]any{
		"employee_id": "emp-1", "leave_type_id": "annual", "type": "restoration", "amount": "0", "reason": "x",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandlers_AccrueOne_PolicyMissing(t *testing.T) {
	env := newTestEnv(t, "")
	_, _, err := env.h.Factory.Install(context.Background(), env.store, factory.UnpaidLeaveJSON("unpaid", "Unpaid leave", 0))
	require.NoError(t, err)

	rec := env.do(http.MethodPost, "/api/accruals", map[string]any{"leave_type_id": "unpaid", "employee_id": "emp-1"})

	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.Equal(t, CodePolicyMissing, decodeAs[ErrorResponse](t, rec).Code)
}

func TestHandlers_CarryForward_NothingDue(t *testing.T) {
	env := newTestEnv(t, "")
	env.accrueAnnual()

	rec := env.do(http.MethodPost, "/api/carry-forward", map[string]any{"leave_type_id": "annual"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	batch := decodeAs[leave.BatchResult](t, rec)
	assert.Equal(t, 0, batch.Applied)
	assert.Equal(t, 2, batch.Skipped)
}

func TestHandlers_Balances_UnknownEmployee(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(http.MethodGet, "/api/employees/ghost/balances", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// CATALOG ENDPOINTS
// =============================================================================

func TestHandlers_LeaveTypes(t *testing.T) {
	env := newTestEnv(t, "")
	env.accrueAnnual()

	rec := env.do(http.MethodPost, "/api/leave-types", factory.MonthlyAnnualLeaveJSON("annual_monthly", "Monthly annual", 1.67, 0))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(http.MethodGet, "/api/leave-types", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	defs := decodeAs[[]factory.DefinitionJSON](t, rec)
	byID := map[string]factory.DefinitionJSON{}
	for _, d := range defs {
		byID[d.LeaveType.ID] = d
	}
	require.Contains(t, byID, "annual_monthly")
	require.NotNil(t, byID["annual_monthly"].Policy)
	assert.Equal(t, "monthly", byID["annual_monthly"].Policy.Accrual.Method)

	// Disabled types refuse new requests
	rec = env.do(http.MethodPost, "/api/leave-types/annual/disable", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(http.MethodPost, "/api/requests", map[string]any{
		"leave_type_id": "annual", "start_date": "2025-06-02", "end_date": "2025-06-03",
	}, as("emp-1")...)
	assert.Equal(t, string(leave.KindLeaveTypeInactive), decodeAs[ErrorResponse](t, rec).Kind)

	// Invalid definitions are business rule failures
	rec = env.do(http.MethodPost, "/api/leave-types", `{"leave_type": {"name": "No id"}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = env.do(http.MethodPost, "/api/leave-types", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlers_CreatePolicy_ReplacesActive(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(http.MethodPost, "/api/policies", map[string]any{
		"leave_type_id": "annual",
		"policy": map[string]any{
			"id":      "annual-2026",
			"accrual": map[string]any{"method": "yearly", "yearly_rate": 25},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	active, err := env.store.GetActivePolicy(context.Background(), "annual")
	require.NoError(t, err)
	assert.Equal(t, leave.PolicyID("annual-2026"), active.ID)
	assert.Equal(t, "25", active.YearlyRate.String())

	rec = env.do(http.MethodPost, "/api/policies", map[string]any{"leave_type_id": "ghost", "policy": map[string]any{"id": "p"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlers_Calendars(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(http.MethodPut, "/api/calendars/2026", map[string]any{
		"holidays": []map[string]any{{"date": "2026-01-01", "name": "New Year"}},
		"blocked":  []map[string]any{{"period": map[string]any{"start": "2026-12-21", "end": "2026-12-31"}, "reason": "Close"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(http.MethodGet, "/api/calendars/2026", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cal := decodeAs[leave.Calendar](t, rec)
	assert.Equal(t, 2026, cal.Year)
	assert.Len(t, cal.Holidays, 1)
	assert.Len(t, cal.Blocked, 1)

	rec = env.do(http.MethodGet, "/api/calendars/2030", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodPut, "/api/calendars/2026", map[string]any{
		"holidays": []map[string]any{{"date": "2027-01-01", "name": "Wrong year"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodGet, "/api/calendars/next", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlers_Employees(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(http.MethodPost, "/api/employees", map[string]any{
		"id": "emp-3", "name": "Linus", "department_id": "eng", "hire_date": "2023-02-01", "first_vacation_date": "2023-08-01",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(http.MethodGet, "/api/employees?department_id=eng", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	emps := decodeAs[[]leave.Employee](t, rec)
	require.Len(t, emps, 2)
	assert.Equal(t, leave.EmployeeID("emp-3"), emps[1].ID)
	require.NotNil(t, emps[1].FirstVacationDate)
	assert.Equal(t, "2023-08-01", emps[1].FirstVacationDate.String())
}

// =============================================================================
// SCENARIOS & HEALTH
// =============================================================================

func TestHandlers_LoadScenario(t *testing.T) {
	env := newTestEnv(t, "")

	for range 2 {
		rec := env.do(http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": "pending-approvals"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := env.do(http.MethodGet, "/api/scenarios/current", nil)
	assert.Equal(t, "pending-approvals", decodeAs[ScenarioDTO](t, rec).ID)

	rec = env.do(http.MethodGet, "/api/requests?status=PENDING_MANAGER,PENDING_HR", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeAs[[]leave.Request](t, rec), 2)

	rec = env.do(http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlers_Health(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2025-05-20", decodeAs[map[string]string](t, rec)["date"])
}

func TestHandlers_UnknownRoute(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(http.MethodGet, "/api/nowhere", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeNotFound, decodeAs[ErrorResponse](t, rec).Code)
}
