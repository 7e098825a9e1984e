/*
Package factory provides JSON to Go leave type conversion.

PURPOSE:
  Converts JSON leave type definitions into leave.LeaveType and
  leave.LeavePolicy values. HR defines leave types and their accrual rules
  in JSON, and the factory creates the validated Go structs.

JSON SCHEMA:
  {
    "leave_type": {
      "id": "annual",
      "code": "AL",
      "name": "Annual leave",
      "category": "annual",
      "paid": true
    },
    "policy": {
      "id": "annual-2025",
      "accrual": {"method": "monthly", "monthly_rate": "1.67", "rounding": "round_up"},
      "carry_forward": {"allowed": true, "cap": 5},
      "reset_criterion": "hire_date",
      "caps": [{"scope": "calendar_year", "max_days": 30}]
    }
  }

DEFAULTS:
  accrual.method yearly, accrual.rounding none, reset_criterion hire_date,
  leave type and policy active. Rates may be JSON numbers or strings.

USAGE:
  factory := NewPolicyFactory()

  // From JSON string
  lt, policy, err := factory.ParseDefinition(jsonString)

  // From a preset
  lt, policy, err := factory.ParseDefinition(AnnualLeaveJSON("annual", "Annual leave", 20, 5))

  // Persist both
  lt, policy, err = factory.Install(ctx, store, jsonString)

SEE ALSO:
  - leave/types.go: LeaveType and LeavePolicy
  - api/scenarios.go: Demo data built from presets
*/
package factory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// DefinitionJSON is a leave type with its optional policy.
type DefinitionJSON struct {
	LeaveType LeaveTypeJSON `json:"leave_type"`
	Policy    *PolicyJSON   `json:"policy,omitempty"`
}

type LeaveTypeJSON struct {
	ID                  string `json:"id"`
	Code                string `json:"code"`
	Name                string `json:"name"`
	Category            string `json:"category,omitempty"`
	Paid                bool   `json:"paid,omitempty"`
	RequiresAttachment  bool   `json:"requires_attachment,omitempty"`
	AttachmentAfterDays int    `json:"attachment_after_days,omitempty"`
	MinTenureMonths     *int   `json:"min_tenure_months,omitempty"`
	MaxDurationDays     *int   `json:"max_duration_days,omitempty"`
	Active              *bool  `json:"active,omitempty"` // Default true
}

type PolicyJSON struct {
	ID                 string            `json:"id"`
	Accrual            AccrualJSON       `json:"accrual"`
	CarryForward       *CarryForwardJSON `json:"carry_forward,omitempty"`
	ResetCriterion     string            `json:"reset_criterion,omitempty"`
	MinNoticeDays      int               `json:"min_notice_days,omitempty"`
	MaxConsecutiveDays int               `json:"max_consecutive_days,omitempty"`
	Caps               []CapJSON         `json:"caps,omitempty"`
	Active             *bool             `json:"active,omitempty"` // Default true
}

type AccrualJSON struct {
	Method      string          `json:"method,omitempty"` // monthly, yearly, per_term
	MonthlyRate decimal.Decimal `json:"monthly_rate,omitempty"`
	YearlyRate  decimal.Decimal `json:"yearly_rate,omitempty"`
	Rounding    string          `json:"rounding,omitempty"` // none, round, round_up, round_down
}

type CarryForwardJSON struct {
	Allowed bool            `json:"allowed"`
	Cap     decimal.Decimal `json:"cap"`
}

// CapJSON limits approved days of the leave type's category over a window.
type CapJSON struct {
	Scope   string          `json:"scope"` // calendar_year, rolling_years
	Years   int             `json:"years,omitempty"`
	MaxDays decimal.Decimal `json:"max_days"`
}

// =============================================================================
// POLICY FACTORY
// =============================================================================

// PolicyFactory converts JSON definitions to Go structs.
type PolicyFactory struct{}

func NewPolicyFactory() *PolicyFactory {
	return &PolicyFactory{}
}

// ParseDefinition parses a JSON string. The policy is nil when the
// definition has none.
func (f *PolicyFactory) ParseDefinition(jsonStr string) (*leave.LeaveType, *leave.LeavePolicy, error) {
	var dj DefinitionJSON
	if err := json.Unmarshal([]byte(jsonStr), &dj); err != nil {
		return nil, nil, fmt.Errorf("failed to parse leave type JSON: %w", err)
	}
	return f.FromJSON(dj)
}

// FromJSON validates dj and applies defaults.
func (f *PolicyFactory) FromJSON(dj DefinitionJSON) (*leave.LeaveType, *leave.LeavePolicy, error) {
	lt, err := parseLeaveType(dj.LeaveType)
	if err != nil {
		return nil, nil, err
	}
	if dj.Policy == nil {
		return lt, nil, nil
	}
	policy, err := parsePolicy(*dj.Policy, lt.ID)
	if err != nil {
		return nil, nil, err
	}
	return lt, policy, nil
}

// Install parses jsonStr and saves the leave type and its policy.
func (f *PolicyFactory) Install(ctx context.Context, store leave.CatalogStore, jsonStr string) (*leave.LeaveType, *leave.LeavePolicy, error) {
	lt, policy, err := f.ParseDefinition(jsonStr)
	if err != nil {
		return nil, nil, err
	}
	if err := store.SaveLeaveType(ctx, *lt); err != nil {
		return nil, nil, fmt.Errorf("save leave type %s: %w", lt.ID, err)
	}
	if policy != nil {
		if err := store.SavePolicy(ctx, *policy); err != nil {
			return nil, nil, fmt.Errorf("save policy %s: %w", policy.ID, err)
		}
	}
	return lt, policy, nil
}

// ToJSON converts a leave type and optional policy back to their JSON form.
func (f *PolicyFactory) ToJSON(lt leave.LeaveType, policy *leave.LeavePolicy) DefinitionJSON {
	active := lt.Active
	dj := DefinitionJSON{LeaveType: LeaveTypeJSON{
		ID:                  string(lt.ID),
		Code:                lt.Code,
		Name:                lt.Name,
		Category:            string(lt.Category),
		Paid:                lt.Paid,
		RequiresAttachment:  lt.RequiresAttachment,
		AttachmentAfterDays: lt.AttachmentAfterDays,
		MinTenureMonths:     lt.MinTenureMonths,
		MaxDurationDays:     lt.MaxDurationDays,
		Active:              &active,
	}}
	if policy == nil {
		return dj
	}

	policyActive := policy.Active
	pj := &PolicyJSON{
		ID: string(policy.ID),
		Accrual: AccrualJSON{
			Method:      string(policy.AccrualMethod),
			MonthlyRate: policy.MonthlyRate,
			YearlyRate:  policy.YearlyRate,
			Rounding:    string(policy.Rounding),
		},
		ResetCriterion:     string(policy.ResetCriterion),
		MinNoticeDays:      policy.MinNoticeDays,
		MaxConsecutiveDays: policy.MaxConsecutiveDays,
		Active:             &policyActive,
	}
	if policy.CarryForwardAllowed || policy.CarryForwardCap.IsPositive() {
		pj.CarryForward = &CarryForwardJSON{Allowed: policy.CarryForwardAllowed, Cap: policy.CarryForwardCap}
	}
	for _, c := range policy.Caps {
		pj.Caps = append(pj.Caps, CapJSON{Scope: string(c.Scope), Years: c.Years, MaxDays: c.MaxDays})
	}
	dj.Policy = pj
	return dj
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseLeaveType(j LeaveTypeJSON) (*leave.LeaveType, error) {
	var errs []error
	if j.ID == "" {
		errs = append(errs, errors.New("leave_type.id is required"))
	}
	if j.Name == "" {
		errs = append(errs, errors.New("leave_type.name is required"))
	}
	if j.AttachmentAfterDays < 0 {
		errs = append(errs, errors.New("leave_type.attachment_after_days must not be negative"))
	}
	if j.MinTenureMonths != nil && *j.MinTenureMonths < 0 {
		errs = append(errs, errors.New("leave_type.min_tenure_months must not be negative"))
	}
	if j.MaxDurationDays != nil && *j.MaxDurationDays <= 0 {
		errs = append(errs, errors.New("leave_type.max_duration_days must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, invalid(err)
	}

	category := leave.Category(j.Category)
	if category == "" {
		category = leave.CategoryOther
	}
	code := j.Code
	if code == "" {
		code = j.ID
	}
	return &leave.LeaveType{
		ID:                  leave.LeaveTypeID(j.ID),
		Code:                code,
		Name:                j.Name,
		Category:            category,
		Paid:                j.Paid,
		RequiresAttachment:  j.RequiresAttachment,
		AttachmentAfterDays: j.AttachmentAfterDays,
		MinTenureMonths:     j.MinTenureMonths,
		MaxDurationDays:     j.MaxDurationDays,
		Active:              boolOr(j.Active, true),
	}, nil
}

func parsePolicy(j PolicyJSON, leaveTypeID leave.LeaveTypeID) (*leave.LeavePolicy, error) {
	p := &leave.LeavePolicy{
		ID:                 leave.PolicyID(j.ID),
		LeaveTypeID:        leaveTypeID,
		AccrualMethod:      leave.AccrualMethod(orDefault(j.Accrual.Method, string(leave.AccrualYearly))),
		MonthlyRate:        j.Accrual.MonthlyRate,
		YearlyRate:         j.Accrual.YearlyRate,
		Rounding:           leave.RoundingRule(orDefault(j.Accrual.Rounding, string(leave.RoundNone))),
		CarryForwardCap:    decimal.Zero,
		ResetCriterion:     leave.ResetCriterion(orDefault(j.ResetCriterion, string(leave.ResetHireDate))),
		MinNoticeDays:      j.MinNoticeDays,
		MaxConsecutiveDays: j.MaxConsecutiveDays,
		Active:             boolOr(j.Active, true),
	}
	if j.CarryForward != nil {
		p.CarryForwardAllowed = j.CarryForward.Allowed
		p.CarryForwardCap = j.CarryForward.Cap
	}

	var errs []error
	if p.ID == "" {
		errs = append(errs, errors.New("policy.id is required"))
	}
	if !p.AccrualMethod.Valid() {
		errs = append(errs, fmt.Errorf("unknown accrual method %q", p.AccrualMethod))
	}
	if !p.Rounding.Valid() {
		errs = append(errs, fmt.Errorf("unknown rounding rule %q", p.Rounding))
	}
	if !p.ResetCriterion.Valid() {
		errs = append(errs, fmt.Errorf("unknown reset criterion %q", p.ResetCriterion))
	}
	if p.MonthlyRate.IsNegative() || p.YearlyRate.IsNegative() || p.CarryForwardCap.IsNegative() {
		errs = append(errs, errors.New("rates and carry-forward cap must not be negative"))
	}
	if p.AccrualMethod == leave.AccrualMonthly && !p.MonthlyRate.IsPositive() {
		errs = append(errs, errors.New("monthly accrual requires a positive monthly_rate"))
	}
	if p.MinNoticeDays < 0 || p.MaxConsecutiveDays < 0 {
		errs = append(errs, errors.New("notice and consecutive-day limits must not be negative"))
	}
	for i, c := range j.Caps {
		limit := leave.CumulativeCap{Scope: leave.CapScope(c.Scope), Years: c.Years, MaxDays: c.MaxDays}
		if !limit.Scope.Valid() {
			errs = append(errs, fmt.Errorf("caps[%d]: unknown scope %q", i, c.Scope))
		}
		if limit.Scope == leave.CapRollingYears && limit.Years <= 0 {
			errs = append(errs, fmt.Errorf("caps[%d]: rolling_years needs years > 0", i))
		}
		if !limit.MaxDays.IsPositive() {
			errs = append(errs, fmt.Errorf("caps[%d]: max_days must be positive", i))
		}
		p.Caps = append(p.Caps, limit)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, invalid(err)
	}
	return p, nil
}

func invalid(err error) error {
	return &leave.ValidationError{Kind: leave.KindInvalidInput, Message: err.Error()}
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// =============================================================================
// PRESETS
// =============================================================================

// AnnualLeaveJSON returns JSON for paid annual leave accrued yearly on the
// hire anniversary, carrying up to maxCarry days.
func AnnualLeaveJSON(id, name string, yearlyDays, maxCarry float64) string {
	return mustJSON(map[string]any{
		"leave_type": map[string]any{
			"id": id, "code": "AL", "name": name, "category": "annual", "paid": true,
		},
		"policy": map[string]any{
			"id":              id + "-policy",
			"accrual":         map[string]any{"method": "yearly", "yearly_rate": yearlyDays},
			"carry_forward":   map[string]any{"allowed": maxCarry > 0, "cap": maxCarry},
			"reset_criterion": "hire_date",
		},
	})
}

// MonthlyAnnualLeaveJSON returns JSON for annual leave accrued monthly and
// rounded up to whole days.
func MonthlyAnnualLeaveJSON(id, name string, monthlyRate, maxCarry float64) string {
	return mustJSON(map[string]any{
		"leave_type": map[string]any{
			"id": id, "code": "ML", "name": name, "category": "annual", "paid": true,
		},
		"policy": map[string]any{
			"id":              id + "-policy",
			"accrual":         map[string]any{"method": "monthly", "monthly_rate": monthlyRate, "rounding": "round_up"},
			"carry_forward":   map[string]any{"allowed": maxCarry > 0, "cap": maxCarry},
			"reset_criterion": "hire_date",
		},
	})
}

// SickLeaveJSON returns JSON for paid sick leave that needs a medical
// certificate beyond certificateAfterDays.
func SickLeaveJSON(id, name string, yearlyDays float64, certificateAfterDays int) string {
	return mustJSON(map[string]any{
		"leave_type": map[string]any{
			"id": id, "code": "SL", "name": name, "category": "sick", "paid": true,
			"attachment_after_days": certificateAfterDays,
		},
		"policy": map[string]any{
			"id":      id + "-policy",
			"accrual": map[string]any{"method": "yearly", "yearly_rate": yearlyDays},
		},
	})
}

// ExtendedIllnessJSON returns JSON for long-term illness leave. Every
// request needs an attachment; approved days are capped per calendar year
// and over a rolling window.
func ExtendedIllnessJSON(id, name string, yearlyCap float64, rollingYears int, rollingCap float64) string {
	return mustJSON(map[string]any{
		"leave_type": map[string]any{
			"id": id, "code": "EI", "name": name, "category": "extended_illness", "paid": true,
			"requires_attachment": true,
		},
		"policy": map[string]any{
			"id":      id + "-policy",
			"accrual": map[string]any{"method": "yearly", "yearly_rate": yearlyCap},
			"caps": []map[string]any{
				{"scope": "calendar_year", "max_days": yearlyCap},
				{"scope": "rolling_years", "years": rollingYears, "max_days": rollingCap},
			},
		},
	})
}

// UnpaidLeaveJSON returns JSON for unpaid leave with a tenure requirement
// and no policy.
func UnpaidLeaveJSON(id, name string, minTenureMonths int) string {
	return mustJSON(map[string]any{
		"leave_type": map[string]any{
			"id": id, "code": "UL", "name": name, "category": "unpaid",
			"min_tenure_months": minTenureMonths,
		},
	})
}

func mustJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		panic(err)
	}
	return string(b)
}
