/*
store.go - Persistence and collaborator interfaces

PURPOSE:
  Defines the boundary between the engine and the database, plus the two
  external collaborators the engine consumes (employee directory and
  attachment registry).

KEY INTERFACES:
  CatalogStore:     Leave types and policies
  CalendarStore:    Per-year holidays and blocked periods
  EntitlementStore: Ledger rows with per-row atomic mutation
  RequestStore:     Requests with compare-and-swap status updates
  AdjustmentStore:  Append-only adjustment audit
  Store:            All of the above plus WithTx (unit of work)

ATOMICITY:
  UpdateEntitlement runs mutate as a critical section on one row: no other
  mutation of that row interleaves, and the row's Version is bumped. A
  mutate error leaves the row untouched.

  UpdateRequest only writes if the stored row still has the expected status
  and the caller's Version; otherwise it returns a StateConflictError.

  WithTx groups ledger and request writes so a failure leaves neither
  partially updated. Calling WithTx on the store passed to fn runs fn in the
  same unit of work.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - store/memory/memory.go: In-memory for tests

SEE ALSO:
  - ledger.go: Ledger operations built on EntitlementStore
  - request.go: Transitions built on WithTx + UpdateRequest
*/
package leave

import (
	"context"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// STORES
// =============================================================================

type CatalogStore interface {
	SaveLeaveType(ctx context.Context, lt LeaveType) error
	// GetLeaveType returns a NotFoundError when absent.
	GetLeaveType(ctx context.Context, id LeaveTypeID) (*LeaveType, error)
	ListLeaveTypes(ctx context.Context) ([]LeaveType, error)

	// SavePolicy upserts a policy. Saving an active policy deactivates any
	// other active policy of the same leave type.
	SavePolicy(ctx context.Context, p LeavePolicy) error
	// GetActivePolicy returns a NotFoundError when the type has no active policy.
	GetActivePolicy(ctx context.Context, leaveTypeID LeaveTypeID) (*LeavePolicy, error)
	ListPolicies(ctx context.Context) ([]LeavePolicy, error)
}

type CalendarStore interface {
	SaveCalendar(ctx context.Context, c Calendar) error
	// GetCalendar returns a NotFoundError when the year has no calendar.
	GetCalendar(ctx context.Context, year int) (*Calendar, error)
}

type EntitlementStore interface {
	// GetEntitlement returns a NotFoundError when the row does not exist.
	GetEntitlement(ctx context.Context, key EntitlementKey) (*Entitlement, error)
	ListEntitlements(ctx context.Context, filter EntitlementFilter) ([]Entitlement, error)
	// CreateEntitlement inserts e unless a row exists and returns the stored row.
	CreateEntitlement(ctx context.Context, e Entitlement) (*Entitlement, error)
	// UpdateEntitlement applies mutate atomically to the stored row.
	UpdateEntitlement(ctx context.Context, key EntitlementKey, mutate func(*Entitlement) error) (*Entitlement, error)
}

type EntitlementFilter struct {
	EmployeeID  EmployeeID
	LeaveTypeID LeaveTypeID
}

type RequestStore interface {
	CreateRequest(ctx context.Context, r Request) error
	// GetRequest returns a NotFoundError when absent.
	GetRequest(ctx context.Context, id RequestID) (*Request, error)
	// UpdateRequest persists r if the stored status equals expected and the
	// stored Version equals r.Version; the stored Version is then incremented.
	UpdateRequest(ctx context.Context, r Request, expected RequestStatus) error
	ListRequests(ctx context.Context, filter RequestFilter) ([]Request, error)
}

// RequestFilter selects requests. Zero fields do not filter. Overlaps keeps
// requests whose period intersects it.
type RequestFilter struct {
	EmployeeID   EmployeeID
	LeaveTypeIDs []LeaveTypeID
	Statuses     []RequestStatus
	Overlaps     *generic.Period
}

type AdjustmentStore interface {
	AppendAdjustment(ctx context.Context, a Adjustment) error
	ListAdjustments(ctx context.Context, key EntitlementKey) ([]Adjustment, error)
}

// Store is the full persistence surface of the engine.
type Store interface {
	CatalogStore
	CalendarStore
	EntitlementStore
	RequestStore
	AdjustmentStore

	// WithTx executes fn within a unit of work.
	// If fn returns error, all writes made through the passed Store are rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// COLLABORATORS
// =============================================================================

// EmployeeDirectory is the employee master data the engine reads.
type EmployeeDirectory interface {
	// GetEmployee returns a NotFoundError when absent.
	GetEmployee(ctx context.Context, id EmployeeID) (*Employee, error)
	ListEmployees(ctx context.Context, filter EmployeeFilter) ([]Employee, error)
}

type EmployeeFilter struct {
	DepartmentID string
	ActiveOnly   bool
}

// AttachmentChecker resolves attachment references.
type AttachmentChecker interface {
	AttachmentExists(ctx context.Context, id string) (bool, error)
}
