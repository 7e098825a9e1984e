/*
errors.go - Error taxonomy of the leave engine

PURPOSE:
  All error types in one place. Callers classify with errors.Is against
  the sentinels and errors.As against the structured types; validation
  failures carry a closed ValidationKind.

ERROR CATEGORIES:
  1. NotFound         - Unknown employee, leave type, request, entitlement
  2. ValidationFailed - Business rule violations (see ValidationKind)
  3. StateConflict    - Illegal or lost-race lifecycle transition
  4. PolicyMissing    - Leave type without an active policy
  5. Forbidden        - State-machine role check (owner-only cancel)

SEE ALSO:
  - validation.go: Produces most ValidationError values
  - api/errors.go: Maps the taxonomy to HTTP status codes
*/
package leave

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned when a business rule rejects the operation.
	ErrValidation = errors.New("validation failed")

	// ErrStateConflict is returned when a request is not in the state the
	// transition expects, including when a concurrent transition won.
	ErrStateConflict = errors.New("state conflict")

	// ErrPolicyMissing is returned when a leave type has no active policy.
	ErrPolicyMissing = errors.New("policy missing")

	// ErrForbidden is returned when the acting user may not perform the transition.
	ErrForbidden = errors.New("forbidden")
)

// =============================================================================
// VALIDATION KINDS
// =============================================================================

type ValidationKind string

const (
	KindInsufficientBalance   ValidationKind = "InsufficientBalance"
	KindOverlap               ValidationKind = "Overlap"
	KindBlockedPeriod         ValidationKind = "BlockedPeriod"
	KindGracePeriodExpired    ValidationKind = "GracePeriodExpired"
	KindAttachmentRequired    ValidationKind = "AttachmentRequired"
	KindAttachmentMissing     ValidationKind = "AttachmentMissing"
	KindCumulativeCapExceeded ValidationKind = "CumulativeCapExceeded"
	KindLeaveTypeInactive     ValidationKind = "LeaveTypeInactive"
	KindTenureNotMet          ValidationKind = "TenureNotMet"
	KindNoticeTooShort        ValidationKind = "NoticeTooShort"
	KindNoChargeableDays      ValidationKind = "NoChargeableDays"
	KindMaxDurationExceeded   ValidationKind = "MaxDurationExceeded"
	KindInvalidPeriod         ValidationKind = "InvalidPeriod"
	KindReasonRequired        ValidationKind = "ReasonRequired"
	KindInvalidInput          ValidationKind = "InvalidInput"
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError is a business rule violation.
type ValidationError struct {
	Kind    ValidationKind
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Kind, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func newValidation(kind ValidationKind, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// InsufficientBalance builds the ledger's reservation failure.
func InsufficientBalance(available, requested decimal.Decimal) *ValidationError {
	return newValidation(KindInsufficientBalance,
		"available %s, requested %s", available.String(), requested.String())
}

// NotFoundError names the missing entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func notFound(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

// StateConflictError reports an illegal transition.
type StateConflictError struct {
	RequestID RequestID
	Actual    RequestStatus
	Expected  []RequestStatus
}

func (e *StateConflictError) Error() string {
	expected := make([]string, len(e.Expected))
	for i, s := range e.Expected {
		expected[i] = string(s)
	}
	return fmt.Sprintf("request %s is %s, expected %s", e.RequestID, e.Actual, strings.Join(expected, " or "))
}

func (e *StateConflictError) Unwrap() error { return ErrStateConflict }

// PolicyMissingError names the leave type without an active policy.
type PolicyMissingError struct {
	LeaveTypeID LeaveTypeID
}

func (e *PolicyMissingError) Error() string {
	return fmt.Sprintf("no active policy for leave type %s", e.LeaveTypeID)
}

func (e *PolicyMissingError) Unwrap() error { return ErrPolicyMissing }

// =============================================================================
// HELPERS
// =============================================================================

// KindOf returns the validation kind of err, or "" if err is not a validation failure.
func KindOf(err error) ValidationKind {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Kind
	}
	return ""
}

// IsKind reports whether err is a validation failure of the given kind.
func IsKind(err error, kind ValidationKind) bool {
	return KindOf(err) == kind
}

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsClientError returns true for errors caused by the caller's input or
// the request's state rather than infrastructure failures.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrStateConflict) ||
		errors.Is(err, ErrPolicyMissing) ||
		errors.Is(err, ErrForbidden)
}
