package leave

import (
	"context"
	"sync"
)

// EventName identifies something the engine observed. Handled-and-ignored
// paths (clamps, missing calendars, skipped accruals) get their own names so
// they stay distinguishable from success.
type EventName string

const (
	EventCalendarMissing   EventName = "calendar.missing"
	EventPendingClamped    EventName = "ledger.pending_clamped"
	EventRemainingClamped  EventName = "ledger.remaining_clamped"
	EventReserved          EventName = "ledger.reserved"
	EventReleased          EventName = "ledger.released"
	EventCommitted         EventName = "ledger.committed"
	EventAccrued           EventName = "ledger.accrued"
	EventAdjusted          EventName = "ledger.adjusted"
	EventCarriedForward    EventName = "ledger.carried_forward"
	EventAccrualSkipped    EventName = "accrual.skipped"
	EventAccrualFailed     EventName = "accrual.failed"
	EventCarryFailed       EventName = "carry_forward.failed"
	EventAnchorMissing     EventName = "employee.anchor_missing"
	EventDurationMismatch  EventName = "request.duration_mismatch"
	EventRetroactiveFiling EventName = "request.retroactive"
	EventRequestCreated    EventName = "request.created"
	EventRequestUpdated    EventName = "request.updated"
	EventRequestCancelled  EventName = "request.cancelled"
	EventManagerApproved   EventName = "request.manager_approved"
	EventManagerRejected   EventName = "request.manager_rejected"
	EventHRFinalized       EventName = "request.hr_finalized"
	EventHROverride        EventName = "request.hr_override"
)

// Warning reports whether the event flags a data-quality problem or a
// failure rather than a normal state change.
func (n EventName) Warning() bool {
	switch n {
	case EventCalendarMissing, EventPendingClamped, EventRemainingClamped,
		EventAccrualFailed, EventCarryFailed, EventAnchorMissing, EventDurationMismatch:
		return true
	}
	return false
}

// Event is one observation. Fields holds event-specific values.
type Event struct {
	Name        EventName
	EmployeeID  EmployeeID
	LeaveTypeID LeaveTypeID
	RequestID   RequestID
	Fields      map[string]any
	Err         error
}

// EventSink receives engine events. Implementations must be safe for
// concurrent use.
type EventSink interface {
	Emit(ctx context.Context, e Event)
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Emit(context.Context, Event) {}

// RecordingSink keeps events in memory. Used by tests and the demo scenarios.
type RecordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *RecordingSink) Emit(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *RecordingSink) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Named returns the recorded events with the given name.
func (r *RecordingSink) Named(name EventName) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

func sinkOrNop(s EventSink) EventSink {
	if s == nil {
		return NopSink{}
	}
	return s
}
