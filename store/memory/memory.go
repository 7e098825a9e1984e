// Package memory provides an in-memory leave.Store for tests and demos.
// It also implements the employee directory and attachment registry.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"sync"

	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory guards its state with one lock. WithTx holds the write lock for
// the whole unit of work and restores a snapshot when fn fails.
type Memory struct {
	mu sync.RWMutex
	d  *state
}

type state struct {
	leaveTypes   map[leave.LeaveTypeID]leave.LeaveType
	policies     map[leave.PolicyID]leave.LeavePolicy
	calendars    map[int]leave.Calendar
	entitlements map[leave.EntitlementKey]leave.Entitlement
	requests     map[leave.RequestID]leave.Request
	adjustments  []leave.Adjustment
	employees    map[leave.EmployeeID]leave.Employee
	attachments  map[string]bool
}

func NewMemory() *Memory {
	return &Memory{d: &state{
		leaveTypes:   make(map[leave.LeaveTypeID]leave.LeaveType),
		policies:     make(map[leave.PolicyID]leave.LeavePolicy),
		calendars:    make(map[int]leave.Calendar),
		entitlements: make(map[leave.EntitlementKey]leave.Entitlement),
		requests:     make(map[leave.RequestID]leave.Request),
		employees:    make(map[leave.EmployeeID]leave.Employee),
		attachments:  make(map[string]bool),
	}}
}

var (
	_ leave.Store             = (*Memory)(nil)
	_ leave.EmployeeDirectory = (*Memory)(nil)
	_ leave.AttachmentChecker = (*Memory)(nil)
)

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(leave.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.d.clone()
	if err := fn(&txView{d: m.d}); err != nil {
		m.d = snapshot
		return err
	}
	return nil
}

func (s *state) clone() *state {
	cp := &state{
		leaveTypes:   make(map[leave.LeaveTypeID]leave.LeaveType, len(s.leaveTypes)),
		policies:     make(map[leave.PolicyID]leave.LeavePolicy, len(s.policies)),
		calendars:    make(map[int]leave.Calendar, len(s.calendars)),
		entitlements: make(map[leave.EntitlementKey]leave.Entitlement, len(s.entitlements)),
		requests:     make(map[leave.RequestID]leave.Request, len(s.requests)),
		adjustments:  slices.Clone(s.adjustments),
		employees:    make(map[leave.EmployeeID]leave.Employee, len(s.employees)),
		attachments:  make(map[string]bool, len(s.attachments)),
	}
	for k, v := range s.leaveTypes {
		cp.leaveTypes[k] = v
	}
	for k, v := range s.policies {
		cp.policies[k] = v
	}
	for k, v := range s.calendars {
		cp.calendars[k] = v
	}
	for k, v := range s.entitlements {
		cp.entitlements[k] = v
	}
	for k, v := range s.requests {
		cp.requests[k] = v
	}
	for k, v := range s.employees {
		cp.employees[k] = v
	}
	for k, v := range s.attachments {
		cp.attachments[k] = v
	}
	return cp
}

// txView is the store handed to WithTx callbacks. The lock is already held.
type txView struct {
	d *state
}

func (v *txView) WithTx(_ context.Context, fn func(leave.Store) error) error { return fn(v) }

func (v *txView) SaveLeaveType(_ context.Context, lt leave.LeaveType) error {
	return v.d.saveLeaveType(lt)
}
func (v *txView) GetLeaveType(_ context.Context, id leave.LeaveTypeID) (*leave.LeaveType, error) {
	return v.d.getLeaveType(id)
}
func (v *txView) ListLeaveTypes(context.Context) ([]leave.LeaveType, error) {
	return v.d.listLeaveTypes(), nil
}
func (v *txView) SavePolicy(_ context.Context, p leave.LeavePolicy) error {
	return v.d.savePolicy(p)
}
func (v *txView) GetActivePolicy(_ context.Context, id leave.LeaveTypeID) (*leave.LeavePolicy, error) {
	return v.d.getActivePolicy(id)
}
func (v *txView) ListPolicies(context.Context) ([]leave.LeavePolicy, error) {
	return v.d.listPolicies(), nil
}
func (v *txView) SaveCalendar(_ context.Context, c leave.Calendar) error {
	v.d.saveCalendar(c)
	return nil
}
func (v *txView) GetCalendar(_ context.Context, year int) (*leave.Calendar, error) {
	return v.d.getCalendar(year)
}
func (v *txView) GetEntitlement(_ context.Context, key leave.EntitlementKey) (*leave.Entitlement, error) {
	return v.d.getEntitlement(key)
}
func (v *txView) ListEntitlements(_ context.Context, f leave.EntitlementFilter) ([]leave.Entitlement, error) {
	return v.d.listEntitlements(f), nil
}
func (v *txView) CreateEntitlement(_ context.Context, e leave.Entitlement) (*leave.Entitlement, error) {
	return v.d.createEntitlement(e), nil
}
func (v *txView) UpdateEntitlement(_ context.Context, key leave.EntitlementKey, mutate func(*leave.Entitlement) error) (*leave.Entitlement, error) {
	return v.d.updateEntitlement(key, mutate)
}
func (v *txView) CreateRequest(_ context.Context, r leave.Request) error {
	return v.d.createRequest(r)
}
func (v *txView) GetRequest(_ context.Context, id leave.RequestID) (*leave.Request, error) {
	return v.d.getRequest(id)
}
func (v *txView) UpdateRequest(_ context.Context, r leave.Request, expected leave.RequestStatus) error {
	return v.d.updateRequest(r, expected)
}
func (v *txView) ListRequests(_ context.Context, f leave.RequestFilter) ([]leave.Request, error) {
	return v.d.listRequests(f), nil
}
func (v *txView) AppendAdjustment(_ context.Context, a leave.Adjustment) error {
	v.d.adjustments = append(v.d.adjustments, a)
	return nil
}
func (v *txView) ListAdjustments(_ context.Context, key leave.EntitlementKey) ([]leave.Adjustment, error) {
	return v.d.listAdjustments(key), nil
}

// =============================================================================
// CATALOG
// =============================================================================

func (m *Memory) SaveLeaveType(_ context.Context, lt leave.LeaveType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.saveLeaveType(lt)
}

func (m *Memory) GetLeaveType(_ context.Context, id leave.LeaveTypeID) (*leave.LeaveType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.getLeaveType(id)
}

func (m *Memory) ListLeaveTypes(context.Context) ([]leave.LeaveType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.listLeaveTypes(), nil
}

func (m *Memory) SavePolicy(_ context.Context, p leave.LeavePolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.savePolicy(p)
}

func (m *Memory) GetActivePolicy(_ context.Context, id leave.LeaveTypeID) (*leave.LeavePolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.getActivePolicy(id)
}

func (m *Memory) ListPolicies(context.Context) ([]leave.LeavePolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.listPolicies(), nil
}

func (s *state) saveLeaveType(lt leave.LeaveType) error {
	if lt.ID == "" {
		return fmt.Errorf("leave type id is required")
	}
	s.leaveTypes[lt.ID] = lt
	return nil
}

func (s *state) getLeaveType(id leave.LeaveTypeID) (*leave.LeaveType, error) {
	lt, ok := s.leaveTypes[id]
	if !ok {
		return nil, &leave.NotFoundError{Entity: "leave type", ID: string(id)}
	}
	return &lt, nil
}

func (s *state) listLeaveTypes() []leave.LeaveType {
	out := make([]leave.LeaveType, 0, len(s.leaveTypes))
	for _, lt := range s.leaveTypes {
		out = append(out, lt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *state) savePolicy(p leave.LeavePolicy) error {
	if p.ID == "" {
		return fmt.Errorf("policy id is required")
	}
	if p.Active {
		for id, other := range s.policies {
			if other.LeaveTypeID == p.LeaveTypeID && id != p.ID && other.Active {
				other.Active = false
				s.policies[id] = other
			}
		}
	}
	p.Caps = slices.Clone(p.Caps)
	s.policies[p.ID] = p
	return nil
}

func (s *state) getActivePolicy(id leave.LeaveTypeID) (*leave.LeavePolicy, error) {
	for _, p := range s.policies {
		if p.LeaveTypeID == id && p.Active {
			p.Caps = slices.Clone(p.Caps)
			return &p, nil
		}
	}
	return nil, &leave.NotFoundError{Entity: "active policy", ID: string(id)}
}

func (s *state) listPolicies() []leave.LeavePolicy {
	out := make([]leave.LeavePolicy, 0, len(s.policies))
	for _, p := range s.policies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// =============================================================================
// CALENDARS
// =============================================================================

func (m *Memory) SaveCalendar(_ context.Context, c leave.Calendar) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.d.saveCalendar(c)
	return nil
}

func (m *Memory) GetCalendar(_ context.Context, year int) (*leave.Calendar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.getCalendar(year)
}

func (s *state) saveCalendar(c leave.Calendar) {
	c.Holidays = slices.Clone(c.Holidays)
	c.Blocked = slices.Clone(c.Blocked)
	s.calendars[c.Year] = c
}

func (s *state) getCalendar(year int) (*leave.Calendar, error) {
	c, ok := s.calendars[year]
	if !ok {
		return nil, &leave.NotFoundError{Entity: "calendar", ID: strconv.Itoa(year)}
	}
	c.Holidays = slices.Clone(c.Holidays)
	c.Blocked = slices.Clone(c.Blocked)
	return &c, nil
}

// =============================================================================
// ENTITLEMENTS
// =============================================================================

func (m *Memory) GetEntitlement(_ context.Context, key leave.EntitlementKey) (*leave.Entitlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.getEntitlement(key)
}

func (m *Memory) ListEntitlements(_ context.Context, f leave.EntitlementFilter) ([]leave.Entitlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.listEntitlements(f), nil
}

func (m *Memory) CreateEntitlement(_ context.Context, e leave.Entitlement) (*leave.Entitlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.createEntitlement(e), nil
}

// UpdateEntitlement holds the write lock for the duration of mutate, so
// mutations of a row never interleave.
func (m *Memory) UpdateEntitlement(_ context.Context, key leave.EntitlementKey, mutate func(*leave.Entitlement) error) (*leave.Entitlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.updateEntitlement(key, mutate)
}

func (s *state) getEntitlement(key leave.EntitlementKey) (*leave.Entitlement, error) {
	e, ok := s.entitlements[key]
	if !ok {
		return nil, &leave.NotFoundError{Entity: "entitlement", ID: string(key.EmployeeID) + "/" + string(key.LeaveTypeID)}
	}
	return &e, nil
}

func (s *state) listEntitlements(f leave.EntitlementFilter) []leave.Entitlement {
	var out []leave.Entitlement
	for k, e := range s.entitlements {
		if f.EmployeeID != "" && k.EmployeeID != f.EmployeeID {
			continue
		}
		if f.LeaveTypeID != "" && k.LeaveTypeID != f.LeaveTypeID {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EmployeeID != out[j].EmployeeID {
			return out[i].EmployeeID < out[j].EmployeeID
		}
		return out[i].LeaveTypeID < out[j].LeaveTypeID
	})
	return out
}

func (s *state) createEntitlement(e leave.Entitlement) *leave.Entitlement {
	if existing, ok := s.entitlements[e.Key()]; ok {
		return &existing
	}
	e.Version = 1
	s.entitlements[e.Key()] = e
	return &e
}

func (s *state) updateEntitlement(key leave.EntitlementKey, mutate func(*leave.Entitlement) error) (*leave.Entitlement, error) {
	current, ok := s.entitlements[key]
	if !ok {
		return nil, &leave.NotFoundError{Entity: "entitlement", ID: string(key.EmployeeID) + "/" + string(key.LeaveTypeID)}
	}
	next := current
	if err := mutate(&next); err != nil {
		return nil, err
	}
	next.EmployeeID, next.LeaveTypeID = key.EmployeeID, key.LeaveTypeID
	next.Version = current.Version + 1
	s.entitlements[key] = next
	return &next, nil
}

// =============================================================================
// REQUESTS
// =============================================================================

func (m *Memory) CreateRequest(_ context.Context, r leave.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.createRequest(r)
}

func (m *Memory) GetRequest(_ context.Context, id leave.RequestID) (*leave.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.getRequest(id)
}

func (m *Memory) UpdateRequest(_ context.Context, r leave.Request, expected leave.RequestStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.updateRequest(r, expected)
}

func (m *Memory) ListRequests(_ context.Context, f leave.RequestFilter) ([]leave.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.listRequests(f), nil
}

func copyRequest(r leave.Request) leave.Request {
	r.ApprovalFlow = slices.Clone(r.ApprovalFlow)
	r.Notices = slices.Clone(r.Notices)
	return r
}

func (s *state) createRequest(r leave.Request) error {
	if _, exists := s.requests[r.ID]; exists {
		return fmt.Errorf("request %s already exists", r.ID)
	}
	if r.Version == 0 {
		r.Version = 1
	}
	s.requests[r.ID] = copyRequest(r)
	return nil
}

func (s *state) getRequest(id leave.RequestID) (*leave.Request, error) {
	r, ok := s.requests[id]
	if !ok {
		return nil, &leave.NotFoundError{Entity: "request", ID: string(id)}
	}
	r = copyRequest(r)
	return &r, nil
}

func (s *state) updateRequest(r leave.Request, expected leave.RequestStatus) error {
	stored, ok := s.requests[r.ID]
	if !ok {
		return &leave.NotFoundError{Entity: "request", ID: string(r.ID)}
	}
	if stored.Status != expected || stored.Version != r.Version {
		return &leave.StateConflictError{RequestID: r.ID, Actual: stored.Status, Expected: []leave.RequestStatus{expected}}
	}
	r = copyRequest(r)
	r.Version = stored.Version + 1
	r.CreatedAt = stored.CreatedAt
	s.requests[r.ID] = r
	return nil
}

func (s *state) listRequests(f leave.RequestFilter) []leave.Request {
	var out []leave.Request
	for _, r := range s.requests {
		if f.EmployeeID != "" && r.EmployeeID != f.EmployeeID {
			continue
		}
		if len(f.LeaveTypeIDs) > 0 && !slices.Contains(f.LeaveTypeIDs, r.LeaveTypeID) {
			continue
		}
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, r.Status) {
			continue
		}
		if f.Overlaps != nil && !r.Period.Overlaps(*f.Overlaps) {
			continue
		}
		out = append(out, copyRequest(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

func (m *Memory) AppendAdjustment(_ context.Context, a leave.Adjustment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.d.adjustments = append(m.d.adjustments, a)
	return nil
}

func (m *Memory) ListAdjustments(_ context.Context, key leave.EntitlementKey) ([]leave.Adjustment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.listAdjustments(key), nil
}

func (s *state) listAdjustments(key leave.EntitlementKey) []leave.Adjustment {
	var out []leave.Adjustment
	for _, a := range s.adjustments {
		if a.EmployeeID == key.EmployeeID && (key.LeaveTypeID == "" || a.LeaveTypeID == key.LeaveTypeID) {
			out = append(out, a)
		}
	}
	return out
}

// =============================================================================
// COLLABORATORS
// =============================================================================

func (m *Memory) SaveEmployee(_ context.Context, e leave.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.d.employees[e.ID] = e
	return nil
}

func (m *Memory) GetEmployee(_ context.Context, id leave.EmployeeID) (*leave.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.d.employees[id]
	if !ok {
		return nil, &leave.NotFoundError{Entity: "employee", ID: string(id)}
	}
	return &e, nil
}

func (m *Memory) ListEmployees(_ context.Context, f leave.EmployeeFilter) ([]leave.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []leave.Employee
	for _, e := range m.d.employees {
		if f.DepartmentID != "" && e.DepartmentID != f.DepartmentID {
			continue
		}
		if f.ActiveOnly && !e.Active {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// AddAttachment registers an attachment reference.
func (m *Memory) AddAttachment(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.d.attachments[id] = true
}

// RemoveAttachment drops an attachment reference.
func (m *Memory) RemoveAttachment(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.d.attachments, id)
}

func (m *Memory) AttachmentExists(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.attachments[id], nil
}
