/*
handlers.go - HTTP API handlers for the leave engine

PURPOSE:
  Exposes the leave engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the engine components.

ENDPOINTS:
  Requests:
    POST   /api/requests                        File a leave request
    GET    /api/requests                        List requests (filters in query)
    GET    /api/requests/{id}                   Get one request
    PATCH  /api/requests/{id}                   Edit before the manager decides
    POST   /api/requests/{id}/cancel            Owner withdraws a pending request
    POST   /api/requests/{id}/manager/approve   Manager approval, moves to HR
    POST   /api/requests/{id}/manager/reject    Manager rejection
    POST   /api/requests/{id}/hr/finalize       HR approval, commits the days
    POST   /api/requests/{id}/hr/override       HR forced decision

  Ledger:
    GET    /api/employees/{id}/balances         Ledger rows with available days
    GET    /api/employees/{id}/adjustments      Adjustment audit trail
    POST   /api/accruals                        Accrue one employee or all
    POST   /api/carry-forward                   Run reset and carry-forward
    POST   /api/adjustments                     Manual correction

  Admin:
    GET/POST /api/employees                     Employee reference data
    GET/POST /api/leave-types                   Leave types with their policy
    POST     /api/leave-types/{id}/disable      Soft-disable a leave type
    GET/POST /api/policies                      Policy versions
    GET/PUT  /api/calendars/{year}              Holidays and blocked periods

ARCHITECTURE:
  Handler holds all dependencies:
  - Engine: request lifecycle, ledger, accrual
  - Store: catalog, calendar and employee reads/writes
  - Factory: JSON to leave type conversion

REQUEST FLOW:
  1. Resolve the caller (auth middleware)
  2. Decode and tag-validate the body
  3. Call the engine
  4. Serialize the result or map the error (errors.go)

SEE ALSO:
  - dto.go: Request body types
  - auth.go: Identity and role checks
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/factory"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Backend is the persistence the API needs beyond the engine: the store
// plus the employee and attachment registries.
type Backend interface {
	leave.Store
	leave.EmployeeDirectory
	leave.AttachmentChecker
	SaveEmployee(ctx context.Context, e leave.Employee) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine  *leave.Engine
	Store   Backend
	Factory *factory.PolicyFactory

	log      *zap.Logger
	validate *validator.Validate
	now      func() time.Time

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler creates a handler over an engine built on store.
func NewHandler(engine *leave.Engine, store Backend, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Engine:   engine,
		Store:    store,
		Factory:  factory.NewPolicyFactory(),
		log:      log.Named("api"),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decode(r, h.validate, dst); err != nil {
		writeBadRequest(w, "Invalid request body", err)
		return false
	}
	return true
}

func caller(r *http.Request) Identity {
	id, _ := IdentityFrom(r.Context())
	return id
}

// canActFor reports whether the caller may read or act on employee's data.
func canActFor(id Identity, employee leave.EmployeeID) bool {
	return id.Role == leave.RoleHR || id.Role == leave.RoleManager || id.EmployeeID == employee
}

func forbidden(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusForbidden, ErrorResponse{Error: message, Code: CodeForbidden})
}

// =============================================================================
// REQUEST HANDLERS
// =============================================================================

// CreateRequest files a request for the caller, or for any employee when
// the caller is HR.
func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var body CreateRequestBody
	if !h.decode(w, r, &body) {
		return
	}
	id := caller(r)
	employee := leave.EmployeeID(body.EmployeeID)
	if employee == "" {
		employee = id.EmployeeID
	}
	if employee == "" {
		writeBadRequest(w, "employee_id is required", nil)
		return
	}
	if employee != id.EmployeeID && id.Role != leave.RoleHR {
		forbidden(w, "only HR may file requests for another employee")
		return
	}
	p, err := body.period()
	if err != nil {
		writeBadRequest(w, "Invalid period", err)
		return
	}

	req, err := h.Engine.Requests.Create(r.Context(), leave.CreateInput{
		EmployeeID:    employee,
		LeaveTypeID:   leave.LeaveTypeID(body.LeaveTypeID),
		Period:        p,
		DurationDays:  body.DurationDays,
		Justification: body.Justification,
		AttachmentID:  body.AttachmentID,
		Irregular:     body.Irregular,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// UpdateRequest edits a request still waiting for its manager. Only the
// owner or HR may edit.
func (h *Handler) UpdateRequest(w http.ResponseWriter, r *http.Request) {
	reqID := leave.RequestID(chi.URLParam(r, "id"))
	var body UpdateRequestBody
	if !h.decode(w, r, &body) {
		return
	}
	in, err := body.input()
	if err != nil {
		writeBadRequest(w, "Invalid period", err)
		return
	}

	current, err := h.Engine.Requests.Get(r.Context(), reqID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if id := caller(r); id.Role != leave.RoleHR && id.EmployeeID != current.EmployeeID {
		forbidden(w, "only the owner may edit a request")
		return
	}

	req, err := h.Engine.Requests.Update(r.Context(), reqID, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// CancelRequest withdraws a pending request on behalf of the caller.
func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	reqID := leave.RequestID(chi.URLParam(r, "id"))
	req, err := h.Engine.Requests.Cancel(r.Context(), reqID, caller(r).EmployeeID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.Engine.Requests.Get(r.Context(), leave.RequestID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !canActFor(caller(r), req.EmployeeID) {
		forbidden(w, "request belongs to another employee")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// ListRequests filters by employee_id, status, leave_type_id and an
// overlapping from/to range. Employees only see their own requests.
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := leave.RequestFilter{EmployeeID: leave.EmployeeID(q.Get("employee_id"))}

	id := caller(r)
	if id.Role == leave.RoleEmployee {
		filter.EmployeeID = id.EmployeeID
	}
	for _, s := range splitList(q.Get("status")) {
		status := leave.RequestStatus(strings.ToUpper(s))
		if !status.Valid() {
			writeBadRequest(w, "Unknown status "+s, nil)
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	for _, lt := range splitList(q.Get("leave_type_id")) {
		filter.LeaveTypeIDs = append(filter.LeaveTypeIDs, leave.LeaveTypeID(lt))
	}
	if from, to := q.Get("from"), q.Get("to"); from != "" || to != "" {
		if from == "" || to == "" {
			writeBadRequest(w, "from and to must be given together", nil)
			return
		}
		p, err := parsePeriod(from, to)
		if err != nil {
			writeBadRequest(w, "Invalid range", err)
			return
		}
		filter.Overlaps = &p
	}

	reqs, err := h.Engine.Requests.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if reqs == nil {
		reqs = []leave.Request{}
	}
	writeJSON(w, http.StatusOK, reqs)
}

func (h *Handler) ManagerApprove(w http.ResponseWriter, r *http.Request) {
	req, err := h.Engine.Requests.ApproveAtManagerLevel(r.Context(), leave.RequestID(chi.URLParam(r, "id")), caller(r).UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *Handler) ManagerReject(w http.ResponseWriter, r *http.Request) {
	var body DecisionBody
	if !h.decode(w, r, &body) {
		return
	}
	req, err := h.Engine.Requests.RejectAtManagerLevel(r.Context(), leave.RequestID(chi.URLParam(r, "id")), caller(r).UserID, body.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *Handler) HRFinalize(w http.ResponseWriter, r *http.Request) {
	req, err := h.Engine.Requests.FinalizeAtHR(r.Context(), leave.RequestID(chi.URLParam(r, "id")), caller(r).UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *Handler) HROverride(w http.ResponseWriter, r *http.Request) {
	var body OverrideBody
	if !h.decode(w, r, &body) {
		return
	}
	req, err := h.Engine.Requests.HROverride(r.Context(), leave.RequestID(chi.URLParam(r, "id")), caller(r).UserID, body.Approve, body.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// GetBalances returns every ledger row of the employee, or only the row of
// ?leave_type_id=.
func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	employee := leave.EmployeeID(chi.URLParam(r, "id"))
	if !canActFor(caller(r), employee) {
		forbidden(w, "balances belong to another employee")
		return
	}
	ctx := r.Context()
	if _, err := h.Store.GetEmployee(ctx, employee); err != nil {
		h.writeError(w, r, err)
		return
	}

	rows, err := h.Engine.Ledger.Balances(ctx, employee, leave.LeaveTypeID(r.URL.Query().Get("leave_type_id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := BalancesResponse{EmployeeID: employee, Balances: make([]BalanceDTO, len(rows))}
	for i, e := range rows {
		resp.Balances[i] = BalanceDTO{Entitlement: e, Available: e.Available()}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetAdjustments(w http.ResponseWriter, r *http.Request) {
	employee := leave.EmployeeID(chi.URLParam(r, "id"))
	if !canActFor(caller(r), employee) {
		forbidden(w, "adjustments belong to another employee")
		return
	}
	adjs, err := h.Engine.Ledger.Adjustments(r.Context(), leave.EntitlementKey{
		EmployeeID:  employee,
		LeaveTypeID: leave.LeaveTypeID(r.URL.Query().Get("leave_type_id")),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if adjs == nil {
		adjs = []leave.Adjustment{}
	}
	writeJSON(w, http.StatusOK, adjs)
}

// RunAccrual credits one employee (employee_id set) or every eligible one.
func (h *Handler) RunAccrual(w http.ResponseWriter, r *http.Request) {
	var body AccrualBody
	if !h.decode(w, r, &body) {
		return
	}
	asOf, err := parseOptionalDate(body.AsOf)
	if err != nil {
		writeBadRequest(w, "Invalid as_of", err)
		return
	}
	in := leave.AccrualRequest{
		EmployeeID:   leave.EmployeeID(body.EmployeeID),
		LeaveTypeID:  leave.LeaveTypeID(body.LeaveTypeID),
		Amount:       body.Amount,
		Method:       leave.AccrualMethod(body.Method),
		DepartmentID: body.DepartmentID,
		AsOf:         asOf,
	}

	if in.EmployeeID != "" {
		res, err := h.Engine.Accruals.AccrueOne(r.Context(), in)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}
	batch, err := h.Engine.Accruals.AccrueAll(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (h *Handler) RunCarryForward(w http.ResponseWriter, r *http.Request) {
	var body CarryForwardBody
	if !h.decode(w, r, &body) {
		return
	}
	asOf, err := parseOptionalDate(body.AsOf)
	if err != nil {
		writeBadRequest(w, "Invalid as_of", err)
		return
	}
	batch, err := h.Engine.Accruals.RunCarryForward(r.Context(), leave.CarryForwardRequest{
		LeaveTypeID: leave.LeaveTypeID(body.LeaveTypeID),
		EmployeeID:  leave.EmployeeID(body.EmployeeID),
		AsOf:        asOf,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

// CreateAdjustment applies a manual correction recorded under the caller.
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var body AdjustmentBody
	if !h.decode(w, r, &body) {
		return
	}
	adj, ent, err := h.Engine.Ledger.Adjust(r.Context(), leave.AdjustInput{
		Key: leave.EntitlementKey{
			EmployeeID:  leave.EmployeeID(body.EmployeeID),
			LeaveTypeID: leave.LeaveTypeID(body.LeaveTypeID),
		},
		Type:   leave.AdjustmentType(body.Type),
		Amount: body.Amount,
		Reason: body.Reason,
		Actor:  caller(r).UserID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, AdjustmentResponse{Adjustment: adj, Entitlement: ent})
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// ListEmployees returns employees, optionally ?department_id= and ?active=true.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := leave.EmployeeFilter{DepartmentID: q.Get("department_id")}
	if v := q.Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			writeBadRequest(w, "Invalid active flag", err)
			return
		}
		filter.ActiveOnly = active
	}
	emps, err := h.Store.ListEmployees(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if emps == nil {
		emps = []leave.Employee{}
	}
	writeJSON(w, http.StatusOK, emps)
}

// SaveEmployee creates or replaces an employee record.
func (h *Handler) SaveEmployee(w http.ResponseWriter, r *http.Request) {
	var body EmployeeBody
	if !h.decode(w, r, &body) {
		return
	}
	emp, err := body.employee()
	if err != nil {
		writeBadRequest(w, "Invalid date", err)
		return
	}
	if err := h.Store.SaveEmployee(r.Context(), emp); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, emp)
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

// ListLeaveTypes returns every leave type in its JSON definition form with
// the active policy, if any.
func (h *Handler) ListLeaveTypes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	types, err := h.Store.ListLeaveTypes(ctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defs := make([]factory.DefinitionJSON, 0, len(types))
	for _, lt := range types {
		policy, err := h.Store.GetActivePolicy(ctx, lt.ID)
		if err != nil && !leave.IsNotFound(err) {
			h.writeError(w, r, err)
			return
		}
		defs = append(defs, h.Factory.ToJSON(lt, policy))
	}
	writeJSON(w, http.StatusOK, defs)
}

// CreateLeaveType installs a leave type from its JSON definition.
func (h *Handler) CreateLeaveType(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "Invalid request body", err)
		return
	}
	var dj factory.DefinitionJSON
	if err := json.Unmarshal(raw, &dj); err != nil {
		writeBadRequest(w, "Invalid leave type JSON", err)
		return
	}

	lt, policy, err := h.Factory.Install(r.Context(), h.Store, string(raw))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.log.Info("leave type installed", zap.String("leave_type_id", string(lt.ID)), zap.Bool("with_policy", policy != nil))
	writeJSON(w, http.StatusCreated, h.Factory.ToJSON(*lt, policy))
}

// DisableLeaveType soft-disables a leave type. Existing requests and
// balances are kept; new requests are rejected.
func (h *Handler) DisableLeaveType(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lt, err := h.Store.GetLeaveType(ctx, leave.LeaveTypeID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	lt.Active = false
	if err := h.Store.SaveLeaveType(ctx, *lt); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lt)
}

func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.Store.ListPolicies(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if policies == nil {
		policies = []leave.LeavePolicy{}
	}
	writeJSON(w, http.StatusOK, policies)
}

// CreatePolicy adds a policy version to an existing leave type.
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	var body PolicyBody
	if !h.decode(w, r, &body) {
		return
	}
	ctx := r.Context()
	lt, err := h.Store.GetLeaveType(ctx, leave.LeaveTypeID(body.LeaveTypeID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	def := h.Factory.ToJSON(*lt, nil)
	def.Policy = &body.Policy
	_, policy, err := h.Factory.FromJSON(def)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.Store.SavePolicy(ctx, *policy); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, policy)
}

// =============================================================================
// CALENDAR HANDLERS
// =============================================================================

func (h *Handler) GetCalendar(w http.ResponseWriter, r *http.Request) {
	year, ok := yearParam(w, r)
	if !ok {
		return
	}
	cal, err := h.Store.GetCalendar(r.Context(), year)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cal)
}

// PutCalendar replaces the holidays and blocked periods of a year. Every
// date must fall inside that year.
func (h *Handler) PutCalendar(w http.ResponseWriter, r *http.Request) {
	year, ok := yearParam(w, r)
	if !ok {
		return
	}
	var cal leave.Calendar
	if !h.decode(w, r, &cal) {
		return
	}
	cal.Year = year
	for _, hol := range cal.Holidays {
		if hol.Date.Year() != year {
			writeBadRequest(w, "Holiday "+hol.Date.String()+" is outside "+strconv.Itoa(year), nil)
			return
		}
	}
	for _, b := range cal.Blocked {
		if err := b.Period.Validate(); err != nil {
			writeBadRequest(w, "Invalid blocked period", err)
			return
		}
	}
	if cal.Holidays == nil {
		cal.Holidays = []leave.Holiday{}
	}
	if cal.Blocked == nil {
		cal.Blocked = []leave.BlockedPeriod{}
	}
	if err := h.Store.SaveCalendar(r.Context(), cal); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cal)
}

// =============================================================================
// HEALTH
// =============================================================================

type pinger interface {
	Ping(ctx context.Context) error
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "date": generic.FromTime(h.now()).String()})
}

// =============================================================================
// HELPERS
// =============================================================================

func yearParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil || year < 1900 || year > 9999 {
		writeBadRequest(w, "Invalid year", err)
		return 0, false
	}
	return year, true
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
