/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON bodies the API accepts. Responses reuse the leave
  package types, which already carry JSON tags; only bodies that differ
  from the domain shape get their own type here.

NAMING CONVENTION:
  - *Body: Request body types from clients
  - *Response: Response wrappers

VALIDATION:
  Shape rules (required fields, date format, enum membership) are struct
  tags checked by go-playground/validator in decode(). Business rules stay
  in the engine and come back as 422.

SEE ALSO:
  - handlers.go: Uses these types
  - errors.go: 400 body for tag failures
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/factory"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// REQUESTS
// =============================================================================

// CreateRequestBody files a leave request. EmployeeID defaults to the caller.
type CreateRequestBody struct {
	EmployeeID    string `json:"employee_id"`
	LeaveTypeID   string `json:"leave_type_id" validate:"required"`
	StartDate     string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate       string `json:"end_date" validate:"required,datetime=2006-01-02"`
	DurationDays  *int   `json:"duration_days" validate:"omitempty,min=0"`
	Justification string `json:"justification" validate:"max=2000"`
	AttachmentID  string `json:"attachment_id"`
	Irregular     bool   `json:"irregular"`
}

func (b CreateRequestBody) period() (generic.Period, error) {
	return parsePeriod(b.StartDate, b.EndDate)
}

// UpdateRequestBody edits a pending request. Absent fields are kept;
// start_date and end_date travel together.
type UpdateRequestBody struct {
	LeaveTypeID   *string `json:"leave_type_id" validate:"omitempty,min=1"`
	StartDate     *string `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate       *string `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
	DurationDays  *int    `json:"duration_days" validate:"omitempty,min=0"`
	Justification *string `json:"justification" validate:"omitempty,max=2000"`
	AttachmentID  *string `json:"attachment_id"`
	Irregular     *bool   `json:"irregular"`
}

func (b UpdateRequestBody) input() (leave.UpdateInput, error) {
	in := leave.UpdateInput{
		DurationDays:  b.DurationDays,
		Justification: b.Justification,
		AttachmentID:  b.AttachmentID,
		Irregular:     b.Irregular,
	}
	if b.LeaveTypeID != nil {
		lt := leave.LeaveTypeID(*b.LeaveTypeID)
		in.LeaveTypeID = &lt
	}
	if (b.StartDate == nil) != (b.EndDate == nil) {
		return leave.UpdateInput{}, errors.New("start_date and end_date must be given together")
	}
	if b.StartDate != nil {
		p, err := parsePeriod(*b.StartDate, *b.EndDate)
		if err != nil {
			return leave.UpdateInput{}, err
		}
		in.Period = &p
	}
	return in, nil
}

// DecisionBody carries an optional reason for a manager decision.
type DecisionBody struct {
	Reason string `json:"reason" validate:"max=1000"`
}

// OverrideBody forces a terminal decision. The engine rejects an empty reason.
type OverrideBody struct {
	Approve bool   `json:"approve"`
	Reason  string `json:"reason" validate:"max=1000"`
}

// =============================================================================
// LEDGER & ACCRUAL
// =============================================================================

// BalancesResponse lists an employee's ledger rows with their available days.
type BalancesResponse struct {
	EmployeeID leave.EmployeeID `json:"employee_id"`
	Balances   []BalanceDTO     `json:"balances"`
}

type BalanceDTO struct {
	leave.Entitlement
	Available decimal.Decimal `json:"available"`
}

// AccrualBody runs an accrual. With employee_id set only that employee is
// credited; otherwise every active employee (optionally one department).
type AccrualBody struct {
	LeaveTypeID  string           `json:"leave_type_id" validate:"required"`
	EmployeeID   string           `json:"employee_id"`
	DepartmentID string           `json:"department_id"`
	Method       string           `json:"method" validate:"omitempty,oneof=monthly yearly per_term"`
	Amount       *decimal.Decimal `json:"amount"`
	AsOf         string           `json:"as_of" validate:"omitempty,datetime=2006-01-02"`
}

type CarryForwardBody struct {
	LeaveTypeID string `json:"leave_type_id" validate:"required"`
	EmployeeID  string `json:"employee_id"`
	AsOf        string `json:"as_of" validate:"omitempty,datetime=2006-01-02"`
}

type AdjustmentBody struct {
	EmployeeID  string          `json:"employee_id" validate:"required"`
	LeaveTypeID string          `json:"leave_type_id" validate:"required"`
	Type        string          `json:"type" validate:"required,oneof=suspension reduction adjustment restoration"`
	Amount      decimal.Decimal `json:"amount"`
	Reason      string          `json:"reason" validate:"required,max=1000"`
}

// AdjustmentResponse returns the audit row and the row it changed.
type AdjustmentResponse struct {
	Adjustment  *leave.Adjustment  `json:"adjustment"`
	Entitlement *leave.Entitlement `json:"entitlement"`
}

// =============================================================================
// ADMIN
// =============================================================================

type EmployeeBody struct {
	ID                string `json:"id" validate:"required"`
	Name              string `json:"name" validate:"required"`
	DepartmentID      string `json:"department_id"`
	HireDate          string `json:"hire_date" validate:"required,datetime=2006-01-02"`
	FirstVacationDate string `json:"first_vacation_date" validate:"omitempty,datetime=2006-01-02"`
	ContractStartDate string `json:"contract_start_date" validate:"omitempty,datetime=2006-01-02"`
	WorkReceivingDate string `json:"work_receiving_date" validate:"omitempty,datetime=2006-01-02"`
	Active            *bool  `json:"active"`
}

func (b EmployeeBody) employee() (leave.Employee, error) {
	hire, err := generic.ParseTimePoint(b.HireDate)
	if err != nil {
		return leave.Employee{}, err
	}
	e := leave.Employee{
		ID:           leave.EmployeeID(b.ID),
		Name:         b.Name,
		DepartmentID: b.DepartmentID,
		HireDate:     hire,
		Active:       b.Active == nil || *b.Active,
	}
	for _, f := range []struct {
		raw string
		dst **generic.TimePoint
	}{
		{b.FirstVacationDate, &e.FirstVacationDate},
		{b.ContractStartDate, &e.ContractStartDate},
		{b.WorkReceivingDate, &e.WorkReceivingDate},
	} {
		if f.raw == "" {
			continue
		}
		tp, err := generic.ParseTimePoint(f.raw)
		if err != nil {
			return leave.Employee{}, err
		}
		*f.dst = tp.Ptr()
	}
	return e, nil
}

// PolicyBody installs a new policy version for an existing leave type.
// An active policy replaces the type's current one.
type PolicyBody struct {
	LeaveTypeID string             `json:"leave_type_id" validate:"required"`
	Policy      factory.PolicyJSON `json:"policy"`
}

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioBody struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// DECODING
// =============================================================================

// decode reads a JSON body into dst and checks its struct tags.
func decode(r *http.Request, v *validator.Validate, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return v.Struct(dst)
}

func parsePeriod(start, end string) (generic.Period, error) {
	s, err := generic.ParseTimePoint(start)
	if err != nil {
		return generic.Period{}, err
	}
	e, err := generic.ParseTimePoint(end)
	if err != nil {
		return generic.Period{}, err
	}
	return generic.Period{Start: s, End: e}, nil
}

func parseOptionalDate(s string) (generic.TimePoint, error) {
	if s == "" {
		return generic.TimePoint{}, nil
	}
	return generic.ParseTimePoint(s)
}
