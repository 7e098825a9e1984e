// Package leave implements the leave entitlement ledger and the request
// approval engine: calendars and working days, the per-employee balance
// ledger, accrual and carry-forward, validation and the manager -> HR
// request lifecycle.
package leave

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type LeaveTypeID string
type PolicyID string
type RequestID string

// =============================================================================
// CLOSED ENUMERATIONS
// =============================================================================

// Role is the acting party on an approval step.
type Role string

const (
	RoleEmployee Role = "employee"
	RoleManager  Role = "manager"
	RoleHR       Role = "hr"
)

func (r Role) Valid() bool {
	switch r {
	case RoleEmployee, RoleManager, RoleHR:
		return true
	}
	return false
}

// RequestStatus is the lifecycle state of a leave request.
type RequestStatus string

const (
	StatusPendingManager RequestStatus = "PENDING_MANAGER"
	StatusPendingHR      RequestStatus = "PENDING_HR"
	StatusApproved       RequestStatus = "APPROVED"
	StatusRejected       RequestStatus = "REJECTED"
	StatusCancelled      RequestStatus = "CANCELLED"
)

func (s RequestStatus) Valid() bool {
	switch s {
	case StatusPendingManager, StatusPendingHR, StatusApproved, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// IsPending is true while the request still holds a reservation.
func (s RequestStatus) IsPending() bool {
	return s == StatusPendingManager || s == StatusPendingHR
}

func (s RequestStatus) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusCancelled
}

// ActiveStatuses are the states that block overlapping requests.
var ActiveStatuses = []RequestStatus{StatusPendingManager, StatusPendingHR, StatusApproved}

// StepStatus is the decision recorded on one approval step.
type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepApproved StepStatus = "approved"
	StepRejected StepStatus = "rejected"
)

func (s StepStatus) Valid() bool {
	switch s {
	case StepPending, StepApproved, StepRejected:
		return true
	}
	return false
}

// AdjustmentType classifies a manual ledger correction.
type AdjustmentType string

const (
	AdjustSuspension  AdjustmentType = "suspension"
	AdjustReduction   AdjustmentType = "reduction"
	AdjustAdjustment  AdjustmentType = "adjustment"
	AdjustRestoration AdjustmentType = "restoration"
)

func (a AdjustmentType) Valid() bool {
	switch a {
	case AdjustSuspension, AdjustReduction, AdjustAdjustment, AdjustRestoration:
		return true
	}
	return false
}

// Decreases is true for suspension and reduction.
func (a AdjustmentType) Decreases() bool {
	return a == AdjustSuspension || a == AdjustReduction
}

// AccrualMethod is how a policy credits days.
type AccrualMethod string

const (
	AccrualMonthly AccrualMethod = "monthly"
	AccrualYearly  AccrualMethod = "yearly"
	AccrualPerTerm AccrualMethod = "per_term"
)

func (m AccrualMethod) Valid() bool {
	switch m {
	case AccrualMonthly, AccrualYearly, AccrualPerTerm:
		return true
	}
	return false
}

// RoundingRule is applied to an accrued amount before it becomes spendable.
type RoundingRule string

const (
	RoundNone RoundingRule = "none"
	RoundHalf RoundingRule = "round"
	RoundUp   RoundingRule = "round_up"
	RoundDown RoundingRule = "round_down"
)

func (r RoundingRule) Valid() bool {
	switch r {
	case RoundNone, RoundHalf, RoundUp, RoundDown:
		return true
	}
	return false
}

// Apply rounds d to whole days according to the rule.
func (r RoundingRule) Apply(d decimal.Decimal) decimal.Decimal {
	switch r {
	case RoundHalf:
		return d.Round(0)
	case RoundUp:
		return d.Ceil()
	case RoundDown:
		return d.Floor()
	default:
		return d
	}
}

// ResetCriterion picks the employee date that anchors the entitlement cycle.
type ResetCriterion string

const (
	ResetHireDate      ResetCriterion = "hire_date"
	ResetFirstVacation ResetCriterion = "first_vacation"
	ResetContractStart ResetCriterion = "contract_start"
	ResetWorkReceiving ResetCriterion = "work_receiving"
)

func (c ResetCriterion) Valid() bool {
	switch c {
	case ResetHireDate, ResetFirstVacation, ResetContractStart, ResetWorkReceiving:
		return true
	}
	return false
}

// CapScope is the window a cumulative cap is measured over.
type CapScope string

const (
	CapCalendarYear CapScope = "calendar_year"
	CapRollingYears CapScope = "rolling_years"
)

func (s CapScope) Valid() bool {
	return s == CapCalendarYear || s == CapRollingYears
}

// Category groups leave types for cumulative caps (e.g. all extended
// illness codes share one cap).
type Category string

const (
	CategoryAnnual          Category = "annual"
	CategorySick            Category = "sick"
	CategoryExtendedIllness Category = "extended_illness"
	CategoryUnpaid          Category = "unpaid"
	CategoryOther           Category = "other"
)

// =============================================================================
// CATALOG
// =============================================================================

// LeaveType is a category of leave. Leave types are disabled, never deleted.
type LeaveType struct {
	ID                 LeaveTypeID `json:"id"`
	Code               string      `json:"code"`
	Name               string      `json:"name"`
	Category           Category    `json:"category"`
	Paid               bool        `json:"paid"`
	RequiresAttachment bool        `json:"requires_attachment"`
	// AttachmentAfterDays requires an attachment once the chargeable
	// duration exceeds this many days. Zero disables the rule.
	AttachmentAfterDays int  `json:"attachment_after_days,omitempty"`
	MinTenureMonths     *int `json:"min_tenure_months,omitempty"`
	MaxDurationDays     *int `json:"max_duration_days,omitempty"`
	Active              bool `json:"active"`
}

// CumulativeCap limits approved days of one category over a window.
type CumulativeCap struct {
	Scope   CapScope        `json:"scope"`
	Years   int             `json:"years,omitempty"`
	MaxDays decimal.Decimal `json:"max_days"`
}

// Window returns the period the cap is measured over for a request ending on end.
func (c CumulativeCap) Window(start, end generic.TimePoint) generic.Period {
	if c.Scope == CapRollingYears {
		years := c.Years
		if years <= 0 {
			years = 1
		}
		return generic.RollingYears(end, years)
	}
	return generic.CalendarYear(start.Year())
}

// LeavePolicy holds the accrual and carry-forward rules of a leave type.
// At most one policy per leave type is active.
type LeavePolicy struct {
	ID                  PolicyID        `json:"id"`
	LeaveTypeID         LeaveTypeID     `json:"leave_type_id"`
	AccrualMethod       AccrualMethod   `json:"accrual_method"`
	MonthlyRate         decimal.Decimal `json:"monthly_rate"`
	YearlyRate          decimal.Decimal `json:"yearly_rate"`
	Rounding            RoundingRule    `json:"rounding"`
	CarryForwardAllowed bool            `json:"carry_forward_allowed"`
	CarryForwardCap     decimal.Decimal `json:"carry_forward_cap"`
	ResetCriterion      ResetCriterion  `json:"reset_criterion"`
	MinNoticeDays       int             `json:"min_notice_days,omitempty"`
	MaxConsecutiveDays  int             `json:"max_consecutive_days,omitempty"`
	Caps                []CumulativeCap `json:"caps,omitempty"`
	Active              bool            `json:"active"`
}

// =============================================================================
// LEDGER
// =============================================================================

// EntitlementKey identifies one ledger row.
type EntitlementKey struct {
	EmployeeID  EmployeeID  `json:"employee_id"`
	LeaveTypeID LeaveTypeID `json:"leave_type_id"`
}

// Entitlement is one employee's balance for one leave type.
//
// Invariants: Remaining >= 0, Pending >= 0. Available() is the only
// balance a new request may consume.
type Entitlement struct {
	EmployeeID        EmployeeID         `json:"employee_id"`
	LeaveTypeID       LeaveTypeID        `json:"leave_type_id"`
	YearlyEntitlement decimal.Decimal    `json:"yearly_entitlement"`
	AccruedActual     decimal.Decimal    `json:"accrued_actual"`
	AccruedRounded    decimal.Decimal    `json:"accrued_rounded"`
	CarryForward      decimal.Decimal    `json:"carry_forward"`
	Taken             decimal.Decimal    `json:"taken"`
	Pending           decimal.Decimal    `json:"pending"`
	Remaining         decimal.Decimal    `json:"remaining"`
	LastAccrualDate   *generic.TimePoint `json:"last_accrual_date,omitempty"`
	NextResetDate     *generic.TimePoint `json:"next_reset_date,omitempty"`
	Version           int64              `json:"version"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

func (e Entitlement) Key() EntitlementKey {
	return EntitlementKey{EmployeeID: e.EmployeeID, LeaveTypeID: e.LeaveTypeID}
}

// Available is Remaining - Pending.
func (e Entitlement) Available() decimal.Decimal {
	return e.Remaining.Sub(e.Pending)
}

// NewEntitlement returns an empty ledger row.
func NewEntitlement(key EntitlementKey) Entitlement {
	return Entitlement{
		EmployeeID:        key.EmployeeID,
		LeaveTypeID:       key.LeaveTypeID,
		YearlyEntitlement: decimal.Zero,
		AccruedActual:     decimal.Zero,
		AccruedRounded:    decimal.Zero,
		CarryForward:      decimal.Zero,
		Taken:             decimal.Zero,
		Pending:           decimal.Zero,
		Remaining:         decimal.Zero,
	}
}

// Adjustment is the append-only audit row of a manual correction.
type Adjustment struct {
	ID          string          `json:"id"`
	EmployeeID  EmployeeID      `json:"employee_id"`
	LeaveTypeID LeaveTypeID     `json:"leave_type_id"`
	Type        AdjustmentType  `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Applied     decimal.Decimal `json:"applied"`
	Reason      string          `json:"reason"`
	Actor       string          `json:"actor"`
	CreatedAt   time.Time       `json:"created_at"`
}

// =============================================================================
// REQUESTS
// =============================================================================

// ApprovalStep is one entry of a request's ordered approval flow.
type ApprovalStep struct {
	Role      Role       `json:"role"`
	Status    StepStatus `json:"status"`
	DecidedBy string     `json:"decided_by,omitempty"`
	DecidedAt *time.Time `json:"decided_at,omitempty"`
	Override  bool       `json:"override,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

// Notice is an informational condition surfaced to the caller.
type Notice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	NoticeRetroactive      = "retroactive"
	NoticeDurationMismatch = "duration_mismatch"
)

// Request is an employee's leave request.
type Request struct {
	ID            RequestID      `json:"id"`
	EmployeeID    EmployeeID     `json:"employee_id"`
	LeaveTypeID   LeaveTypeID    `json:"leave_type_id"`
	Period        generic.Period `json:"period"`
	DurationDays  int            `json:"duration_days"`
	Justification string         `json:"justification,omitempty"`
	AttachmentID  string         `json:"attachment_id,omitempty"`
	Status        RequestStatus  `json:"status"`
	ApprovalFlow  []ApprovalStep `json:"approval_flow"`
	Irregular     bool           `json:"irregular,omitempty"`
	Notices       []Notice       `json:"notices,omitempty"`
	Version       int64          `json:"version"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Days returns DurationDays as a decimal for ledger arithmetic.
func (r Request) Days() decimal.Decimal {
	return decimal.NewFromInt(int64(r.DurationDays))
}

// CurrentStep returns the last step of the flow, nil when empty.
func (r *Request) CurrentStep() *ApprovalStep {
	if len(r.ApprovalFlow) == 0 {
		return nil
	}
	return &r.ApprovalFlow[len(r.ApprovalFlow)-1]
}

func (r *Request) addNotice(code, message string) {
	r.Notices = append(r.Notices, Notice{Code: code, Message: message})
}

// =============================================================================
// CALENDARS
// =============================================================================

type Holiday struct {
	Date generic.TimePoint `json:"date"`
	Name string            `json:"name"`
}

type BlockedPeriod struct {
	Period generic.Period `json:"period"`
	Reason string         `json:"reason,omitempty"`
}

// Calendar holds the holidays and blocked periods of one year.
type Calendar struct {
	Year     int             `json:"year"`
	Holidays []Holiday       `json:"holidays"`
	Blocked  []BlockedPeriod `json:"blocked"`
}

func (c *Calendar) IsHoliday(day generic.TimePoint) bool {
	for _, h := range c.Holidays {
		if h.Date.Equal(day) {
			return true
		}
	}
	return false
}

func (c *Calendar) IsBlocked(day generic.TimePoint) bool {
	for _, b := range c.Blocked {
		if b.Period.Contains(day) {
			return true
		}
	}
	return false
}

// =============================================================================
// EMPLOYEES (collaborator view)
// =============================================================================

// Employee is the slice of employee master data the engine reads.
type Employee struct {
	ID                EmployeeID         `json:"id"`
	Name              string             `json:"name"`
	DepartmentID      string             `json:"department_id,omitempty"`
	HireDate          generic.TimePoint  `json:"hire_date"`
	FirstVacationDate *generic.TimePoint `json:"first_vacation_date,omitempty"`
	ContractStartDate *generic.TimePoint `json:"contract_start_date,omitempty"`
	WorkReceivingDate *generic.TimePoint `json:"work_receiving_date,omitempty"`
	Active            bool               `json:"active"`
}

// Anchor returns the date the given reset criterion refers to and whether
// it was present. A missing date falls back to the hire date.
func (e Employee) Anchor(c ResetCriterion) (generic.TimePoint, bool) {
	var d *generic.TimePoint
	switch c {
	case ResetFirstVacation:
		d = e.FirstVacationDate
	case ResetContractStart:
		d = e.ContractStartDate
	case ResetWorkReceiving:
		d = e.WorkReceivingDate
	default:
		return e.HireDate, true
	}
	if d == nil || d.IsZero() {
		return e.HireDate, false
	}
	return *d, true
}
