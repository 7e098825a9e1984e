/*
request.go - Leave request lifecycle

PURPOSE:
  Drives a request through the manager -> HR approval workflow and keeps
  the ledger in step with it.

STATE MACHINE:
  (create) ──► PENDING_MANAGER ──approve──► PENDING_HR ──finalize──► APPROVED
                    │  │                      │  │
                    │  └──reject──► REJECTED   │  └─────cancel─────► CANCELLED
                    └────────cancel──────────► CANCELLED
  HR override: any PENDING_* state ──► APPROVED or REJECTED

LEDGER EFFECTS:
  create             reserve pending
  update             reserve / release the signed delta
  manager reject     release pending
  cancel             release pending
  HR finalize        commit (pending -> taken)
  HR override        commit (approve) or release (reject)

ATOMICITY:
  Every transition runs in one Store.WithTx: load fresh, assert the
  expected state, mutate the ledger, write the request with a
  compare-and-swap on (status, version). A transition that lost a race
  fails with StateConflict and its ledger mutation is rolled back.

  Reads of calendars and collaborators happen before the unit of work
  opens; only the store passed to the unit of work is used inside it.

SEE ALSO:
  - validation.go: Rules applied on create/update/finalize
  - ledger.go: Reserve/Release/Commit
*/
package leave

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/warp/leave-engine/generic"
)

type RequestService struct {
	store     Store
	ledger    *Ledger
	calc      *WorkingDayCalculator
	validator *Validator
	events    EventSink
	now       func() time.Time
	newID     func() string
}

func NewRequestService(store Store, ledger *Ledger, calc *WorkingDayCalculator, validator *Validator, events EventSink) *RequestService {
	return &RequestService{
		store:     store,
		ledger:    ledger,
		calc:      calc,
		validator: validator,
		events:    sinkOrNop(events),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

func (r Request) key() EntitlementKey {
	return EntitlementKey{EmployeeID: r.EmployeeID, LeaveTypeID: r.LeaveTypeID}
}

func (s *RequestService) emit(ctx context.Context, name EventName, req *Request, fields map[string]any) {
	s.events.Emit(ctx, requestEvent(name, req, fields))
}

func requestEvent(name EventName, req *Request, fields map[string]any) Event {
	return Event{
		Name:        name,
		EmployeeID:  req.EmployeeID,
		LeaveTypeID: req.LeaveTypeID,
		RequestID:   req.ID,
		Fields:      fields,
	}
}

// catalog loads a leave type and its active policy. A type without an
// active policy can still be requested; policy-driven rules are skipped.
func (s *RequestService) catalog(ctx context.Context, id LeaveTypeID) (*LeaveType, *LeavePolicy, error) {
	lt, err := s.store.GetLeaveType(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	policy, err := s.store.GetActivePolicy(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return lt, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load policy of %s: %w", id, err)
	}
	return lt, policy, nil
}

// =============================================================================
// READS
// =============================================================================

func (s *RequestService) Get(ctx context.Context, id RequestID) (*Request, error) {
	return s.store.GetRequest(ctx, id)
}

func (s *RequestService) List(ctx context.Context, filter RequestFilter) ([]Request, error) {
	return s.store.ListRequests(ctx, filter)
}

// =============================================================================
// CREATE / UPDATE
// =============================================================================

type CreateInput struct {
	EmployeeID  EmployeeID
	LeaveTypeID LeaveTypeID
	Period      generic.Period
	// DurationDays is advisory. The engine recomputes it and flags a mismatch.
	DurationDays  *int
	Justification string
	AttachmentID  string
	Irregular     bool
}

// Create validates the request, reserves its days and persists it in
// PENDING_MANAGER with a pending manager step.
func (s *RequestService) Create(ctx context.Context, in CreateInput) (*Request, error) {
	lt, policy, err := s.catalog(ctx, in.LeaveTypeID)
	if err != nil {
		return nil, err
	}
	cals, err := s.calc.Calendars(ctx, in.EmployeeID, in.Period)
	if err != nil {
		return nil, err
	}
	days := cals.ChargeableDays(in.Period)
	vin := ValidationInput{
		EmployeeID:   in.EmployeeID,
		LeaveType:    lt,
		Policy:       policy,
		Period:       in.Period,
		Days:         days,
		AttachmentID: in.AttachmentID,
		Calendars:    cals,
	}
	findings, err := s.validator.Validate(ctx, vin)
	if err != nil {
		return nil, err
	}

	now := s.now()
	req := Request{
		ID:            RequestID(s.newID()),
		EmployeeID:    in.EmployeeID,
		LeaveTypeID:   in.LeaveTypeID,
		Period:        in.Period,
		DurationDays:  days,
		Justification: in.Justification,
		AttachmentID:  in.AttachmentID,
		Status:        StatusPendingManager,
		ApprovalFlow:  []ApprovalStep{{Role: RoleManager, Status: StepPending}},
		Irregular:     in.Irregular,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	noticed := s.applyFindings(&req, findings, in.DurationDays)

	err = s.store.WithTx(ctx, func(tx Store) error {
		if err := s.validator.ValidateBooking(ctx, tx, vin); err != nil {
			return err
		}
		if _, err := s.ledger.bind(tx).ReservePending(ctx, req.key(), req.Days()); err != nil {
			return err
		}
		return tx.CreateRequest(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	s.emitAll(ctx, noticed)
	s.emit(ctx, EventRequestCreated, &req, map[string]any{"days": req.DurationDays, "period": req.Period.String()})
	return &req, nil
}

// applyFindings turns validation findings and a duration mismatch into
// notices on req. The matching events are returned for the caller to emit
// once the request is stored.
func (s *RequestService) applyFindings(req *Request, findings *Findings, claimed *int) []Event {
	var noticed []Event
	req.Notices = nil
	if findings.Retroactive {
		req.addNotice(NoticeRetroactive, fmt.Sprintf("request ended %d days ago and was filed retroactively", findings.DaysPast))
		noticed = append(noticed, requestEvent(EventRetroactiveFiling, req, map[string]any{"days_past": findings.DaysPast}))
	}
	if claimed != nil && *claimed != req.DurationDays {
		req.addNotice(NoticeDurationMismatch, fmt.Sprintf("supplied duration %d replaced by computed %d working days", *claimed, req.DurationDays))
		noticed = append(noticed, requestEvent(EventDurationMismatch, req, map[string]any{"supplied": *claimed, "computed": req.DurationDays}))
	}
	return noticed
}

func (s *RequestService) emitAll(ctx context.Context, events []Event) {
	for _, e := range events {
		s.events.Emit(ctx, e)
	}
}

// UpdateInput carries the fields to change. Nil fields are kept.
type UpdateInput struct {
	LeaveTypeID   *LeaveTypeID
	Period        *generic.Period
	DurationDays  *int
	Justification *string
	AttachmentID  *string
	Irregular     *bool
}

// Update edits a request that no manager has decided yet. Only the
// difference in reserved days is applied to the ledger.
func (s *RequestService) Update(ctx context.Context, id RequestID, in UpdateInput) (*Request, error) {
	current, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != StatusPendingManager {
		return nil, &StateConflictError{RequestID: id, Actual: current.Status, Expected: []RequestStatus{StatusPendingManager}}
	}

	next := *current
	next.ApprovalFlow = slices.Clone(current.ApprovalFlow)
	if in.LeaveTypeID != nil {
		next.LeaveTypeID = *in.LeaveTypeID
	}
	if in.Period != nil {
		next.Period = *in.Period
	}
	if in.Justification != nil {
		next.Justification = *in.Justification
	}
	if in.AttachmentID != nil {
		next.AttachmentID = *in.AttachmentID
	}
	if in.Irregular != nil {
		next.Irregular = *in.Irregular
	}

	lt, policy, err := s.catalog(ctx, next.LeaveTypeID)
	if err != nil {
		return nil, err
	}
	cals, err := s.calc.Calendars(ctx, next.EmployeeID, next.Period)
	if err != nil {
		return nil, err
	}
	days := cals.ChargeableDays(next.Period)
	next.DurationDays = days

	vin := ValidationInput{
		EmployeeID:   next.EmployeeID,
		LeaveType:    lt,
		Policy:       policy,
		Period:       next.Period,
		Days:         days,
		AttachmentID: next.AttachmentID,
		ExcludeID:    id,
		Calendars:    cals,
	}
	if next.LeaveTypeID == current.LeaveTypeID {
		vin.Reserved = current.Days()
	}
	findings, err := s.validator.Validate(ctx, vin)
	if err != nil {
		return nil, err
	}
	noticed := s.applyFindings(&next, findings, in.DurationDays)

	updated, err := s.transition(ctx, id, []RequestStatus{StatusPendingManager}, func(tx Store, ledger *Ledger, req *Request) error {
		if req.Version != current.Version {
			return &StateConflictError{RequestID: id, Actual: req.Status, Expected: []RequestStatus{StatusPendingManager}}
		}
		if err := s.validator.ValidateBooking(ctx, tx, vin); err != nil {
			return err
		}
		if err := rebook(ctx, ledger, *req, next); err != nil {
			return err
		}
		version := req.Version
		*req = next
		req.Version = version
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emitAll(ctx, noticed)
	s.emit(ctx, EventRequestUpdated, updated, map[string]any{
		"days": updated.DurationDays, "previous_days": current.DurationDays, "period": updated.Period.String(),
	})
	return updated, nil
}

// rebook moves the reservation of old to next.
func rebook(ctx context.Context, ledger *Ledger, old, next Request) error {
	if old.LeaveTypeID != next.LeaveTypeID {
		if _, err := ledger.ReleasePending(ctx, old.key(), old.Days()); err != nil {
			return err
		}
		_, err := ledger.ReservePending(ctx, next.key(), next.Days())
		return err
	}
	delta := next.Days().Sub(old.Days())
	switch {
	case delta.IsPositive():
		_, err := ledger.ReservePending(ctx, next.key(), delta)
		return err
	case delta.IsNegative():
		_, err := ledger.ReleasePending(ctx, next.key(), delta.Neg())
		return err
	}
	return nil
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// transition runs apply on a freshly loaded request inside a unit of work
// and writes the result with a compare-and-swap on status and version.
func (s *RequestService) transition(ctx context.Context, id RequestID, allowed []RequestStatus, apply func(tx Store, ledger *Ledger, req *Request) error) (*Request, error) {
	var out Request
	err := s.store.WithTx(ctx, func(tx Store) error {
		req, err := tx.GetRequest(ctx, id)
		if err != nil {
			return err
		}
		if !slices.Contains(allowed, req.Status) {
			return &StateConflictError{RequestID: id, Actual: req.Status, Expected: allowed}
		}
		expected := req.Status
		if err := apply(tx, s.ledger.bind(tx), req); err != nil {
			return err
		}
		req.UpdatedAt = s.now()
		if err := tx.UpdateRequest(ctx, *req, expected); err != nil {
			return err
		}
		req.Version++
		out = *req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// decide closes the open step of role, appending one if none is open.
func (s *RequestService) decide(req *Request, role Role, status StepStatus, actor, reason string) {
	at := s.now()
	if step := req.CurrentStep(); step != nil && step.Role == role && step.Status == StepPending {
		step.Status = status
		step.DecidedBy = actor
		step.DecidedAt = &at
		step.Reason = reason
		return
	}
	req.ApprovalFlow = append(req.ApprovalFlow, ApprovalStep{
		Role: role, Status: status, DecidedBy: actor, DecidedAt: &at, Reason: reason,
	})
}

// ApproveAtManagerLevel moves the request to HR.
func (s *RequestService) ApproveAtManagerLevel(ctx context.Context, id RequestID, actor string) (*Request, error) {
	req, err := s.transition(ctx, id, []RequestStatus{StatusPendingManager}, func(_ Store, _ *Ledger, req *Request) error {
		s.decide(req, RoleManager, StepApproved, actor, "")
		req.Status = StatusPendingHR
		req.ApprovalFlow = append(req.ApprovalFlow, ApprovalStep{Role: RoleHR, Status: StepPending})
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, EventManagerApproved, req, map[string]any{"actor": actor})
	return req, nil
}

// RejectAtManagerLevel rejects the request and releases its reservation.
func (s *RequestService) RejectAtManagerLevel(ctx context.Context, id RequestID, actor, reason string) (*Request, error) {
	req, err := s.transition(ctx, id, []RequestStatus{StatusPendingManager}, func(_ Store, ledger *Ledger, req *Request) error {
		if _, err := ledger.ReleasePending(ctx, req.key(), req.Days()); err != nil {
			return err
		}
		s.decide(req, RoleManager, StepRejected, actor, reason)
		req.Status = StatusRejected
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, EventManagerRejected, req, map[string]any{"actor": actor, "reason": reason})
	return req, nil
}

// FinalizeAtHR re-checks the attachment and cumulative caps, then commits
// the reservation. A request is committed at most once: a second finalize
// finds it APPROVED and fails with StateConflict.
func (s *RequestService) FinalizeAtHR(ctx context.Context, id RequestID, actor string) (*Request, error) {
	current, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != StatusPendingHR {
		return nil, &StateConflictError{RequestID: id, Actual: current.Status, Expected: []RequestStatus{StatusPendingHR}}
	}
	lt, policy, err := s.catalog(ctx, current.LeaveTypeID)
	if err != nil {
		return nil, err
	}
	if err := s.validator.CheckAttachmentStillExists(ctx, current, lt); err != nil {
		return nil, err
	}

	req, err := s.transition(ctx, id, []RequestStatus{StatusPendingHR}, func(tx Store, ledger *Ledger, req *Request) error {
		if err := s.validator.CheckCumulativeCaps(ctx, tx, req, lt, policy); err != nil {
			return err
		}
		if _, err := ledger.CommitTaken(ctx, req.key(), req.Days()); err != nil {
			return err
		}
		s.decide(req, RoleHR, StepApproved, actor, "")
		req.Status = StatusApproved
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, EventHRFinalized, req, map[string]any{"actor": actor, "days": req.DurationDays})
	return req, nil
}

// HROverride forces a terminal decision from any pending state. The reason
// is mandatory and recorded on the override step.
func (s *RequestService) HROverride(ctx context.Context, id RequestID, actor string, approve bool, reason string) (*Request, error) {
	if reason == "" {
		return nil, newValidation(KindReasonRequired, "override of %s requires a reason", id)
	}
	allowed := []RequestStatus{StatusPendingManager, StatusPendingHR}
	outcome := StepRejected
	var (
		lt     *LeaveType
		policy *LeavePolicy
	)
	if approve {
		outcome = StepApproved
		current, err := s.store.GetRequest(ctx, id)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(allowed, current.Status) {
			return nil, &StateConflictError{RequestID: id, Actual: current.Status, Expected: allowed}
		}
		if lt, policy, err = s.catalog(ctx, current.LeaveTypeID); err != nil {
			return nil, err
		}
		if err := s.validator.CheckAttachmentStillExists(ctx, current, lt); err != nil {
			return nil, err
		}
	}

	req, err := s.transition(ctx, id, allowed, func(tx Store, ledger *Ledger, req *Request) error {
		if approve {
			if err := s.validator.CheckCumulativeCaps(ctx, tx, req, lt, policy); err != nil {
				return err
			}
			if _, err := ledger.CommitTaken(ctx, req.key(), req.Days()); err != nil {
				return err
			}
			req.Status = StatusApproved
		} else {
			if _, err := ledger.ReleasePending(ctx, req.key(), req.Days()); err != nil {
				return err
			}
			req.Status = StatusRejected
		}

		at := s.now()
		if step := req.CurrentStep(); step != nil && step.Status == StepPending {
			*step = ApprovalStep{Role: step.Role, Status: outcome, DecidedBy: actor, DecidedAt: &at, Override: true, Reason: reason}
			if step.Role == RoleHR {
				return nil
			}
		}
		req.ApprovalFlow = append(req.ApprovalFlow, ApprovalStep{
			Role: RoleHR, Status: outcome, DecidedBy: actor, DecidedAt: &at, Override: true, Reason: reason,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, EventHROverride, req, map[string]any{"actor": actor, "approve": approve, "reason": reason})
	return req, nil
}

// Cancel withdraws a pending request. Only its owner may cancel it.
func (s *RequestService) Cancel(ctx context.Context, id RequestID, actor EmployeeID) (*Request, error) {
	req, err := s.transition(ctx, id, []RequestStatus{StatusPendingManager, StatusPendingHR}, func(_ Store, ledger *Ledger, req *Request) error {
		if req.EmployeeID != actor {
			return fmt.Errorf("%w: only the owner may cancel request %s", ErrForbidden, id)
		}
		if _, err := ledger.ReleasePending(ctx, req.key(), req.Days()); err != nil {
			return err
		}
		req.Status = StatusCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, EventRequestCancelled, req, nil)
	return req, nil
}
