package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/leave"
)

const testSecret = "test-secret"

func (e *testEnv) bearer(id Identity) []string {
	e.t.Helper()
	token, err := e.auth.Issue(id, time.Hour)
	require.NoError(e.t, err)
	return []string{"Authorization", "Bearer " + token}
}

func TestAuthenticator_IssueAndParse(t *testing.T) {
	auth := NewAuthenticator(testSecret, "leave-engine")
	want := Identity{UserID: "u-7", EmployeeID: "emp-1", Role: leave.RoleManager}

	token, err := auth.Issue(want, time.Minute)
	require.NoError(t, err)

	got, err := auth.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	t.Run("wrong secret", func(t *testing.T) {
		_, err := NewAuthenticator("other", "leave-engine").Parse(token)
		assert.Error(t, err)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		_, err := NewAuthenticator(testSecret, "someone-else").Parse(token)
		assert.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		old, err := auth.Issue(want, -time.Minute)
		require.NoError(t, err)
		_, err = auth.Parse(old)
		assert.Error(t, err)
	})

	t.Run("unknown role", func(t *testing.T) {
		bad, err := auth.Issue(Identity{UserID: "u-8", Role: "admin"}, time.Minute)
		require.NoError(t, err)
		_, err = auth.Parse(bad)
		assert.Error(t, err)
	})
}

func TestMiddleware_RequiresToken(t *testing.T) {
	env := newTestEnv(t, testSecret)

	rec := env.do(http.MethodGet, "/api/requests", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, CodeUnauthorized, decodeAs[ErrorResponse](t, rec).Code)

	rec = env.do(http.MethodGet, "/api/requests", nil, "Authorization", "Bearer garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Health stays outside the auth group
	rec = env.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddleware_RoleChecks(t *testing.T) {
	env := newTestEnv(t, testSecret)
	hr := env.bearer(Identity{UserID: "hr-1", Role: leave.RoleHR})
	manager := env.bearer(Identity{UserID: "mgr-1", EmployeeID: "emp-9", Role: leave.RoleManager})
	employee := env.bearer(Identity{UserID: "u-1", EmployeeID: "emp-1", Role: leave.RoleEmployee})

	rec := env.do(http.MethodPost, "/api/accruals", map[string]any{"leave_type_id": "annual"}, employee...)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.do(http.MethodPost, "/api/accruals", map[string]any{"leave_type_id": "annual"}, hr...)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Employees file for themselves only
	rec = env.do(http.MethodPost, "/api/requests", map[string]any{
		"employee_id": "emp-2", "leave_type_id": "annual", "start_date": "2025-06-02", "end_date": "2025-06-03",
	}, employee...)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(http.MethodPost, "/api/requests", map[string]any{
		"leave_type_id": "annual", "start_date": "2025-06-02", "end_date": "2025-06-03",
	}, employee...)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	req := decodeAs[leave.Request](t, rec)
	assert.Equal(t, leave.EmployeeID("emp-1"), req.EmployeeID)

	// The owner cannot approve their own request
	rec = env.do(http.MethodPost, "/api/requests/"+string(req.ID)+"/manager/approve", nil, employee...)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(http.MethodPost, "/api/requests/"+string(req.ID)+"/manager/approve", nil, manager...)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "mgr-1", decodeAs[leave.Request](t, rec).ApprovalFlow[0].DecidedBy)

	// Managers stop at their step
	rec = env.do(http.MethodPost, "/api/requests/"+string(req.ID)+"/hr/finalize", nil, manager...)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.do(http.MethodPost, "/api/requests/"+string(req.ID)+"/hr/finalize", nil, hr...)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Employees see only their own balances and requests
	rec = env.do(http.MethodGet, "/api/employees/emp-2/balances", nil, employee...)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.do(http.MethodGet, "/api/requests?employee_id=emp-2", nil, employee...)
	require.Equal(t, http.StatusOK, rec.Code)
	reqs := decodeAs[[]leave.Request](t, rec)
	require.Len(t, reqs, 1)
	assert.Equal(t, leave.EmployeeID("emp-1"), reqs[0].EmployeeID)
}
