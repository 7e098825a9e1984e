package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/warp/leave-engine/leave"
)

func newTestScheduler(t *testing.T, env *testEnv) *Scheduler {
	t.Helper()
	s := NewScheduler(env.h.Engine, env.store, zaptest.NewLogger(t))
	s.now = func() time.Time { return testToday }
	return s
}

func applied(summary RunSummary, lt leave.LeaveTypeID, job string) int {
	for _, step := range summary.Steps {
		if step.LeaveTypeID == lt && step.Job == job {
			return step.Applied
		}
	}
	return -1
}

func TestScheduler_RunNow_IsIdempotentPerCycle(t *testing.T) {
	env := newTestEnv(t, "")
	s := newTestScheduler(t, env)

	first := s.RunNow(context.Background())

	require.Len(t, first.Steps, 4)
	assert.Equal(t, "2025-05-20", first.AsOf.String())
	assert.Equal(t, 0, applied(first, "annual", "carry_forward"))
	assert.Equal(t, 2, applied(first, "annual", "accrual"))
	assert.Equal(t, 2, applied(first, "sick", "accrual"))
	assert.Equal(t, "20", env.annualBalance("emp-1").Remaining.String())

	second := s.RunNow(context.Background())

	for _, step := range second.Steps {
		assert.Zero(t, step.Applied, "%s %s", step.LeaveTypeID, step.Job)
		assert.Zero(t, step.Failed, "%s %s", step.LeaveTypeID, step.Job)
		assert.Empty(t, step.Error)
	}
	assert.Equal(t, "20", env.annualBalance("emp-1").Remaining.String())
	assert.Len(t, s.Runs(), 2)
}

func TestScheduler_SkipsDisabledAndPolicylessTypes(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(http.MethodPost, "/api/leave-types/sick/disable", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(http.MethodPost, "/api/leave-types", `{"leave_type": {"id": "unpaid", "name": "Unpaid"}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	summary := newTestScheduler(t, env).RunNow(context.Background())

	require.Len(t, summary.Steps, 2)
	for _, step := range summary.Steps {
		assert.Equal(t, leave.LeaveTypeID("annual"), step.LeaveTypeID)
	}
}

func TestScheduler_StartStop(t *testing.T) {
	env := newTestEnv(t, "")

	t.Run("disabled does not run", func(t *testing.T) {
		s := newTestScheduler(t, env)
		s.Enabled = false
		s.Start()
		s.Stop()
		assert.Empty(t, s.Runs())
	})

	t.Run("runs once on start", func(t *testing.T) {
		s := newTestScheduler(t, env)
		s.Interval = time.Hour
		s.Start()
		s.Start()
		assert.Eventually(t, func() bool { return len(s.Runs()) == 1 }, time.Second, 10*time.Millisecond)
		s.Stop()
		s.Stop()
		assert.Len(t, s.Runs(), 1)
	})
}

func TestScheduler_HTTP(t *testing.T) {
	env := newTestEnv(t, "")
	s := newTestScheduler(t, env)
	router := NewRouter(env.h, RouterOptions{Auth: env.auth, Scheduler: s})
	env.router = router

	rec := env.do(http.MethodPost, "/api/scheduler/run", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decodeAs[RunSummary](t, rec).Steps, 4)

	rec = env.do(http.MethodGet, "/api/scheduler/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeAs[map[string]any](t, rec)
	assert.Equal(t, true, body["enabled"])
	assert.Len(t, body["runs"], 1)
}
