/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	data for demos. Each scenario installs leave types from the factory
	presets, a calendar, employees, and runs accruals through the engine
	so balances come from the same code paths as production.

AVAILABLE SCENARIOS:

	standard-office:    Annual, sick, extended illness and unpaid leave,
	                    yearly accrual for three employees
	monthly-accrual:    Annual leave accrued monthly with round-up
	pending-approvals:  standard-office plus requests waiting on a
	                    manager and on HR

HOW SCENARIOS WORK:
 1. Install leave types and policies via factory presets
 2. Save the calendar of the current year
 3. Save employees
 4. Run accruals for every employee
 5. Optionally file requests and move them through the flow

Loaders only upsert, so loading a scenario twice is harmless: accruals
already credited this cycle are skipped and requests are not refiled.

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "standard-office"}

SEE ALSO:
  - handlers.go: Handler
  - factory/policy.go: Preset JSON definitions
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/warp/leave-engine/factory"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "standard-office",
		Name:        "Standard Office",
		Description: "Annual, sick, extended illness and unpaid leave with yearly accrual",
	},
	{
		ID:          "monthly-accrual",
		Name:        "Monthly Accrual",
		Description: "Annual leave credited monthly (1.67 days, rounded up)",
	},
	{
		ID:          "pending-approvals",
		Name:        "Pending Approvals",
		Description: "Standard office with requests waiting on a manager and on HR",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the last loaded scenario, or null.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var body LoadScenarioBody
	if !h.decode(w, r, &body) {
		return
	}

	ctx := r.Context()
	var err error
	switch body.ScenarioID {
	case "standard-office":
		err = h.loadStandardOffice(ctx)
	case "monthly-accrual":
		err = h.loadMonthlyAccrual(ctx)
	case "pending-approvals":
		err = h.loadPendingApprovals(ctx)
	default:
		writeBadRequest(w, "Unknown scenario "+body.ScenarioID, nil)
		return
	}
	if err != nil {
		h.writeError(w, r, fmt.Errorf("load scenario %s: %w", body.ScenarioID, err))
		return
	}

	h.currentScenario = body.ScenarioID
	h.log.Info("scenario loaded", zap.String("scenario", body.ScenarioID))
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": body.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadStandardOffice(ctx context.Context) error {
	defs := []string{
		factory.AnnualLeaveJSON("annual", "Annual leave", 20, 5),
		factory.SickLeaveJSON("sick", "Sick leave", 10, 2),
		factory.ExtendedIllnessJSON("extended_illness", "Extended illness", 30, 3, 90),
		factory.UnpaidLeaveJSON("unpaid", "Unpaid leave", 6),
	}
	if err := h.installAll(ctx, defs); err != nil {
		return err
	}
	if err := h.saveDemoCalendar(ctx); err != nil {
		return err
	}

	year := h.today().Year()
	employees := []leave.Employee{
		demoEmployee("emp-001", "Alice Johnson", "eng", generic.NewTimePoint(year-3, time.March, 1)),
		demoEmployee("emp-002", "Bob Smith", "eng", generic.NewTimePoint(year-1, time.September, 15)),
		demoEmployee("emp-003", "Carol Davis", "ops", generic.NewTimePoint(year-5, time.January, 10)),
	}
	if err := h.saveEmployees(ctx, employees); err != nil {
		return err
	}
	return h.accrueAll(ctx, "annual", "sick", "extended_illness")
}

func (h *Handler) loadMonthlyAccrual(ctx context.Context) error {
	if err := h.installAll(ctx, []string{
		factory.MonthlyAnnualLeaveJSON("annual_monthly", "Annual leave (monthly)", 1.67, 5),
	}); err != nil {
		return err
	}
	if err := h.saveDemoCalendar(ctx); err != nil {
		return err
	}

	today := h.today()
	employees := []leave.Employee{
		demoEmployee("emp-101", "Dana Lee", "eng", today.AddMonths(-7)),
		demoEmployee("emp-102", "Evan Park", "ops", today.AddMonths(-2)),
	}
	if err := h.saveEmployees(ctx, employees); err != nil {
		return err
	}
	return h.accrueAll(ctx, "annual_monthly")
}

func (h *Handler) loadPendingApprovals(ctx context.Context) error {
	if err := h.loadStandardOffice(ctx); err != nil {
		return err
	}

	existing, err := h.Engine.Requests.List(ctx, leave.RequestFilter{
		EmployeeID: "emp-001", Statuses: leave.ActiveStatuses,
	})
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	start := demoRequestStart(h.today())
	waitingOnManager, err := h.Engine.Requests.Create(ctx, leave.CreateInput{
		EmployeeID: "emp-001", LeaveTypeID: "annual",
		Period:        generic.Period{Start: start, End: start.AddDays(2)},
		Justification: "Family trip",
	})
	if err != nil {
		return err
	}

	next := start.AddDays(7)
	waitingOnHR, err := h.Engine.Requests.Create(ctx, leave.CreateInput{
		EmployeeID: "emp-003", LeaveTypeID: "annual",
		Period:        generic.Period{Start: next, End: next.AddDays(4)},
		Justification: "Moving house",
	})
	if err != nil {
		return err
	}
	if _, err := h.Engine.Requests.ApproveAtManagerLevel(ctx, waitingOnHR.ID, "manager-demo"); err != nil {
		return err
	}

	h.log.Debug("demo requests filed",
		zap.String("pending_manager", string(waitingOnManager.ID)),
		zap.String("pending_hr", string(waitingOnHR.ID)),
	)
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) today() generic.TimePoint {
	return generic.FromTime(h.now())
}

func (h *Handler) installAll(ctx context.Context, defs []string) error {
	for _, def := range defs {
		if _, _, err := h.Factory.Install(ctx, h.Store, def); err != nil {
			return err
		}
	}
	return nil
}

// saveDemoCalendar stores fixed holidays and a year-end freeze for the
// current year.
func (h *Handler) saveDemoCalendar(ctx context.Context) error {
	year := h.today().Year()
	return h.Store.SaveCalendar(ctx, leave.Calendar{
		Year: year,
		Holidays: []leave.Holiday{
			{Date: generic.NewTimePoint(year, time.January, 1), Name: "New Year's Day"},
			{Date: generic.NewTimePoint(year, time.May, 1), Name: "Labour Day"},
			{Date: generic.NewTimePoint(year, time.December, 25), Name: "Christmas Day"},
		},
		Blocked: []leave.BlockedPeriod{{
			Period: generic.Period{
				Start: generic.NewTimePoint(year, time.December, 22),
				End:   generic.NewTimePoint(year, time.December, 31),
			},
			Reason: "Year-end close",
		}},
	})
}

func (h *Handler) saveEmployees(ctx context.Context, emps []leave.Employee) error {
	for _, e := range emps {
		if err := h.Store.SaveEmployee(ctx, e); err != nil {
			return fmt.Errorf("save employee %s: %w", e.ID, err)
		}
	}
	return nil
}

// accrueAll runs each leave type's policy for every active employee. A
// failed employee is reported as an error; skipped ones are not.
func (h *Handler) accrueAll(ctx context.Context, types ...leave.LeaveTypeID) error {
	for _, lt := range types {
		res, err := h.Engine.Accruals.AccrueAll(ctx, leave.AccrualRequest{LeaveTypeID: lt})
		if err != nil {
			return err
		}
		if res.Failed > 0 {
			return fmt.Errorf("accrue %s: %d employees failed", lt, res.Failed)
		}
	}
	return nil
}

func demoEmployee(id, name, dept string, hired generic.TimePoint) leave.Employee {
	return leave.Employee{
		ID:           leave.EmployeeID(id),
		Name:         name,
		DepartmentID: dept,
		HireDate:     hired,
		Active:       true,
	}
}

// demoRequestStart is the first Monday at least three weeks out, moved to
// February when that would touch the year-end freeze.
func demoRequestStart(today generic.TimePoint) generic.TimePoint {
	start := nextMonday(today.AddDays(21))
	if start.Month() == time.December || start.AddDays(14).Month() == time.December {
		start = nextMonday(generic.NewTimePoint(start.Year()+1, time.February, 1))
	}
	return start
}

func nextMonday(tp generic.TimePoint) generic.TimePoint {
	for tp.Weekday() != time.Monday {
		tp = tp.AddDays(1)
	}
	return tp
}
