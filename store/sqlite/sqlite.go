/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements leave.Store plus the employee directory and attachment
  registry using SQLite. In production, the same patterns apply to
  PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  leave.Store:             Catalog, calendars, ledger, requests, adjustments
  leave.EmployeeDirectory: Employee master data
  leave.AttachmentChecker: Attachment references

KEY TABLES:
  leave_types:    Catalog (disabled, never deleted)
  leave_policies: Accrual and carry-forward rules, one active per type
  calendars:      Holidays and blocked periods per year (JSON)
  entitlements:   Ledger rows keyed by (employee_id, leave_type_id)
  requests:       Leave requests with approval flow (JSON)
  adjustments:    Append-only audit of manual corrections
  employees:      Employee master data
  attachments:    Known attachment references

ATOMICITY:
  UpdateEntitlement reads, mutates and writes a row inside one SQL
  transaction and only writes if the row's version is unchanged.
  UpdateRequest writes with WHERE status = ? AND version = ?; zero rows
  affected is a StateConflictError.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection, so
  ":memory:" databases are shared by every call. In production with
  PostgreSQL, database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better crash recovery.

USAGE:
  store, err := sqlite.New("./data/leave.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := leave.NewEngine(store, store, store, sink, leave.Options{})

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - leave/store.go: Interface definitions
  - store/memory: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
	q  queries
}

var (
	_ leave.Store             = (*Store)(nil)
	_ leave.Store             = (*txStore)(nil)
	_ leave.EmployeeDirectory = (*Store)(nil)
	_ leave.AttachmentChecker = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, q: queries{db: db}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection; used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS leave_types (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL,
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		paid BOOLEAN NOT NULL DEFAULT FALSE,
		requires_attachment BOOLEAN NOT NULL DEFAULT FALSE,
		attachment_after_days INTEGER NOT NULL DEFAULT 0,
		min_tenure_months INTEGER,
		max_duration_days INTEGER,
		active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS leave_policies (
		id TEXT PRIMARY KEY,
		leave_type_id TEXT NOT NULL REFERENCES leave_types(id),
		accrual_method TEXT NOT NULL,
		monthly_rate TEXT NOT NULL,
		yearly_rate TEXT NOT NULL,
		rounding TEXT NOT NULL,
		carry_forward_allowed BOOLEAN NOT NULL DEFAULT FALSE,
		carry_forward_cap TEXT NOT NULL,
		reset_criterion TEXT NOT NULL,
		min_notice_days INTEGER NOT NULL DEFAULT 0,
		max_consecutive_days INTEGER NOT NULL DEFAULT 0,
		caps_json TEXT,
		active BOOLEAN NOT NULL DEFAULT TRUE
	);

	-- At most one active policy per leave type
	CREATE UNIQUE INDEX IF NOT EXISTS idx_policies_active_type
		ON leave_policies(leave_type_id) WHERE active;

	CREATE TABLE IF NOT EXISTS calendars (
		year INTEGER PRIMARY KEY,
		holidays_json TEXT NOT NULL,
		blocked_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS entitlements (
		employee_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		yearly_entitlement TEXT NOT NULL,
		accrued_actual TEXT NOT NULL,
		accrued_rounded TEXT NOT NULL,
		carry_forward TEXT NOT NULL,
		taken TEXT NOT NULL,
		pending TEXT NOT NULL,
		remaining TEXT NOT NULL,
		last_accrual_date TEXT,
		next_reset_date TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (employee_id, leave_type_id)
	);

	CREATE TABLE IF NOT EXISTS requests (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		duration_days INTEGER NOT NULL,
		justification TEXT,
		attachment_id TEXT,
		status TEXT NOT NULL,
		approval_flow_json TEXT NOT NULL,
		irregular BOOLEAN NOT NULL DEFAULT FALSE,
		notices_json TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Overlap checks: employee + status + date range (hot path)
	CREATE INDEX IF NOT EXISTS idx_requests_employee_dates
		ON requests(employee_id, start_date, end_date);
	CREATE INDEX IF NOT EXISTS idx_requests_status
		ON requests(status);

	CREATE TABLE IF NOT EXISTS adjustments (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		adjustment_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		applied TEXT NOT NULL,
		reason TEXT NOT NULL,
		actor TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_adjustments_employee
		ON adjustments(employee_id, leave_type_id);

	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		department_id TEXT,
		hire_date TEXT NOT NULL,
		first_vacation_date TEXT,
		contract_start_date TEXT,
		work_receiving_date TEXT,
		active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE INDEX IF NOT EXISTS idx_employees_department
		ON employees(department_id);

	CREATE TABLE IF NOT EXISTS attachments (
		id TEXT PRIMARY KEY,
		created_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store leave.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(q queries) error {
		return fn(&txStore{q: q})
	})
}

// inTx runs fn on a fresh SQL transaction. The caller holds s.mu.
func (s *Store) inTx(ctx context.Context, fn func(q queries) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(queries{db: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore is the store handed to WithTx callbacks. Every statement runs on
// the open transaction.
type txStore struct {
	q queries
}

func (ts *txStore) WithTx(_ context.Context, fn func(leave.Store) error) error { return fn(ts) }

func (ts *txStore) SaveLeaveType(ctx context.Context, lt leave.LeaveType) error {
	return ts.q.saveLeaveType(ctx, lt)
}
func (ts *txStore) GetLeaveType(ctx context.Context, id leave.LeaveTypeID) (*leave.LeaveType, error) {
	return ts.q.getLeaveType(ctx, id)
}
func (ts *txStore) ListLeaveTypes(ctx context.Context) ([]leave.LeaveType, error) {
	return ts.q.listLeaveTypes(ctx)
}
func (ts *txStore) SavePolicy(ctx context.Context, p leave.LeavePolicy) error {
	return ts.q.savePolicy(ctx, p)
}
func (ts *txStore) GetActivePolicy(ctx context.Context, id leave.LeaveTypeID) (*leave.LeavePolicy, error) {
	return ts.q.getActivePolicy(ctx, id)
}
func (ts *txStore) ListPolicies(ctx context.Context) ([]leave.LeavePolicy, error) {
	return ts.q.listPolicies(ctx)
}
func (ts *txStore) SaveCalendar(ctx context.Context, c leave.Calendar) error {
	return ts.q.saveCalendar(ctx, c)
}
func (ts *txStore) GetCalendar(ctx context.Context, year int) (*leave.Calendar, error) {
	return ts.q.getCalendar(ctx, year)
}
func (ts *txStore) GetEntitlement(ctx context.Context, key leave.EntitlementKey) (*leave.Entitlement, error) {
	return ts.q.getEntitlement(ctx, key)
}
func (ts *txStore) ListEntitlements(ctx context.Context, f leave.EntitlementFilter) ([]leave.Entitlement, error) {
	return ts.q.listEntitlements(ctx, f)
}
func (ts *txStore) CreateEntitlement(ctx context.Context, e leave.Entitlement) (*leave.Entitlement, error) {
	return ts.q.createEntitlement(ctx, e)
}
func (ts *txStore) UpdateEntitlement(ctx context.Context, key leave.EntitlementKey, mutate func(*leave.Entitlement) error) (*leave.Entitlement, error) {
	return ts.q.updateEntitlement(ctx, key, mutate)
}
func (ts *txStore) CreateRequest(ctx context.Context, r leave.Request) error {
	return ts.q.createRequest(ctx, r)
}
func (ts *txStore) GetRequest(ctx context.Context, id leave.RequestID) (*leave.Request, error) {
	return ts.q.getRequest(ctx, id)
}
func (ts *txStore) UpdateRequest(ctx context.Context, r leave.Request, expected leave.RequestStatus) error {
	return ts.q.updateRequest(ctx, r, expected)
}
func (ts *txStore) ListRequests(ctx context.Context, f leave.RequestFilter) ([]leave.Request, error) {
	return ts.q.listRequests(ctx, f)
}
func (ts *txStore) AppendAdjustment(ctx context.Context, a leave.Adjustment) error {
	return ts.q.appendAdjustment(ctx, a)
}
func (ts *txStore) ListAdjustments(ctx context.Context, key leave.EntitlementKey) ([]leave.Adjustment, error) {
	return ts.q.listAdjustments(ctx, key)
}

// =============================================================================
// CATALOG
// =============================================================================

func (s *Store) SaveLeaveType(ctx context.Context, lt leave.LeaveType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.saveLeaveType(ctx, lt)
}

func (s *Store) GetLeaveType(ctx context.Context, id leave.LeaveTypeID) (*leave.LeaveType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.getLeaveType(ctx, id)
}

func (s *Store) ListLeaveTypes(ctx context.Context) ([]leave.LeaveType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.listLeaveTypes(ctx)
}

// SavePolicy deactivates the type's other active policy and upserts p in
// one transaction.
func (s *Store) SavePolicy(ctx context.Context, p leave.LeavePolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTx(ctx, func(q queries) error { return q.savePolicy(ctx, p) })
}

func (s *Store) GetActivePolicy(ctx context.Context, id leave.LeaveTypeID) (*leave.LeavePolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.getActivePolicy(ctx, id)
}

func (s *Store) ListPolicies(ctx context.Context) ([]leave.LeavePolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.listPolicies(ctx)
}

// =============================================================================
// CALENDARS
// =============================================================================

func (s *Store) SaveCalendar(ctx context.Context, c leave.Calendar) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.saveCalendar(ctx, c)
}

func (s *Store) GetCalendar(ctx context.Context, year int) (*leave.Calendar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.getCalendar(ctx, year)
}

// =============================================================================
// ENTITLEMENTS
// =============================================================================

func (s *Store) GetEntitlement(ctx context.Context, key leave.EntitlementKey) (*leave.Entitlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.getEntitlement(ctx, key)
}

func (s *Store) ListEntitlements(ctx context.Context, f leave.EntitlementFilter) ([]leave.Entitlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.listEntitlements(ctx, f)
}

func (s *Store) CreateEntitlement(ctx context.Context, e leave.Entitlement) (*leave.Entitlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.createEntitlement(ctx, e)
}

// UpdateEntitlement runs the read-mutate-write of one row in its own
// transaction.
func (s *Store) UpdateEntitlement(ctx context.Context, key leave.EntitlementKey, mutate func(*leave.Entitlement) error) (*leave.Entitlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out *leave.Entitlement
	err := s.inTx(ctx, func(q queries) error {
		e, err := q.updateEntitlement(ctx, key, mutate)
		out = e
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// REQUESTS
// =============================================================================

func (s *Store) CreateRequest(ctx context.Context, r leave.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.createRequest(ctx, r)
}

func (s *Store) GetRequest(ctx context.Context, id leave.RequestID) (*leave.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.getRequest(ctx, id)
}

func (s *Store) UpdateRequest(ctx context.Context, r leave.Request, expected leave.RequestStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.updateRequest(ctx, r, expected)
}

func (s *Store) ListRequests(ctx context.Context, f leave.RequestFilter) ([]leave.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.listRequests(ctx, f)
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

func (s *Store) AppendAdjustment(ctx context.Context, a leave.Adjustment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.appendAdjustment(ctx, a)
}

func (s *Store) ListAdjustments(ctx context.Context, key leave.EntitlementKey) ([]leave.Adjustment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.listAdjustments(ctx, key)
}

// =============================================================================
// COLLABORATORS
// =============================================================================

func (s *Store) SaveEmployee(ctx context.Context, e leave.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employees (id, name, department_id, hire_date, first_vacation_date,
		                       contract_start_date, work_receiving_date, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			department_id = excluded.department_id,
			hire_date = excluded.hire_date,
			first_vacation_date = excluded.first_vacation_date,
			contract_start_date = excluded.contract_start_date,
			work_receiving_date = excluded.work_receiving_date,
			active = excluded.active
	`,
		e.ID, e.Name, nullString(e.DepartmentID), e.HireDate.String(),
		dateValue(e.FirstVacationDate), dateValue(e.ContractStartDate), dateValue(e.WorkReceivingDate),
		e.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to save employee: %w", err)
	}
	return nil
}

const employeeColumns = `id, name, department_id, hire_date, first_vacation_date,
	contract_start_date, work_receiving_date, active`

func (s *Store) GetEmployee(ctx context.Context, id leave.EmployeeID) (*leave.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+employeeColumns+` FROM employees WHERE id = ?`, id)
	e, err := scanEmployee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &leave.NotFoundError{Entity: "employee", ID: string(id)}
	}
	return e, err
}

func (s *Store) ListEmployees(ctx context.Context, f leave.EmployeeFilter) ([]leave.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + employeeColumns + ` FROM employees WHERE 1=1`
	var args []any
	if f.DepartmentID != "" {
		query += ` AND department_id = ?`
		args = append(args, f.DepartmentID)
	}
	if f.ActiveOnly {
		query += ` AND active`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query employees: %w", err)
	}
	defer rows.Close()

	var out []leave.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func scanEmployee(row scanner) (*leave.Employee, error) {
	var (
		e                              leave.Employee
		dept                           sql.NullString
		hire                           string
		firstVacation, contract, works sql.NullString
	)
	if err := row.Scan(&e.ID, &e.Name, &dept, &hire, &firstVacation, &contract, &works, &e.Active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan employee: %w", err)
	}
	var c columns
	e.DepartmentID = dept.String
	e.HireDate = c.date("hire_date", hire)
	e.FirstVacationDate = c.nullDate("first_vacation_date", firstVacation)
	e.ContractStartDate = c.nullDate("contract_start_date", contract)
	e.WorkReceivingDate = c.nullDate("work_receiving_date", works)
	if c.err != nil {
		return nil, fmt.Errorf("failed to read employee %s: %w", e.ID, c.err)
	}
	return &e, nil
}

// AddAttachment registers an attachment reference.
func (s *Store) AddAttachment(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attachments (id, created_at) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`,
		id, time.Now().UTC().Format(time.RFC3339))
	return err
}

func (s *Store) AttachmentExists(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM attachments WHERE id = ?", id).Scan(&count)
	return count > 0, err
}

// =============================================================================
// QUERIES
// =============================================================================

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// queries holds the SQL of every store operation. It takes no locks.
type queries struct {
	db querier
}

// --- Catalog ---

func (q queries) saveLeaveType(ctx context.Context, lt leave.LeaveType) error {
	if lt.ID == "" {
		return fmt.Errorf("leave type id is required")
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO leave_types (id, code, name, category, paid, requires_attachment,
		                         attachment_after_days, min_tenure_months, max_duration_days, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			code = excluded.code,
			name = excluded.name,
			category = excluded.category,
			paid = excluded.paid,
			requires_attachment = excluded.requires_attachment,
			attachment_after_days = excluded.attachment_after_days,
			min_tenure_months = excluded.min_tenure_months,
			max_duration_days = excluded.max_duration_days,
			active = excluded.active
	`,
		lt.ID, lt.Code, lt.Name, lt.Category, lt.Paid, lt.RequiresAttachment,
		lt.AttachmentAfterDays, nullInt(lt.MinTenureMonths), nullInt(lt.MaxDurationDays), lt.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to save leave type: %w", err)
	}
	return nil
}

const leaveTypeColumns = `id, code, name, category, paid, requires_attachment,
	attachment_after_days, min_tenure_months, max_duration_days, active`

func (q queries) getLeaveType(ctx context.Context, id leave.LeaveTypeID) (*leave.LeaveType, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+leaveTypeColumns+` FROM leave_types WHERE id = ?`, id)
	lt, err := scanLeaveType(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &leave.NotFoundError{Entity: "leave type", ID: string(id)}
	}
	return lt, err
}

func (q queries) listLeaveTypes(ctx context.Context) ([]leave.LeaveType, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+leaveTypeColumns+` FROM leave_types ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query leave types: %w", err)
	}
	defer rows.Close()

	var out []leave.LeaveType
	for rows.Next() {
		lt, err := scanLeaveType(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *lt)
	}
	return out, rows.Err()
}

func scanLeaveType(row scanner) (*leave.LeaveType, error) {
	var (
		lt             leave.LeaveType
		tenure, maxDur sql.NullInt64
	)
	err := row.Scan(&lt.ID, &lt.Code, &lt.Name, &lt.Category, &lt.Paid, &lt.RequiresAttachment,
		&lt.AttachmentAfterDays, &tenure, &maxDur, &lt.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan leave type: %w", err)
	}
	lt.MinTenureMonths = intPtr(tenure)
	lt.MaxDurationDays = intPtr(maxDur)
	return &lt, nil
}

func (q queries) savePolicy(ctx context.Context, p leave.LeavePolicy) error {
	if p.ID == "" {
		return fmt.Errorf("policy id is required")
	}
	if p.Active {
		if _, err := q.db.ExecContext(ctx,
			`UPDATE leave_policies SET active = FALSE WHERE leave_type_id = ? AND id != ? AND active`,
			p.LeaveTypeID, p.ID); err != nil {
			return fmt.Errorf("failed to deactivate policies: %w", err)
		}
	}
	capsJSON, err := json.Marshal(p.Caps)
	if err != nil {
		return fmt.Errorf("failed to encode caps: %w", err)
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO leave_policies (id, leave_type_id, accrual_method, monthly_rate, yearly_rate, rounding,
		                            carry_forward_allowed, carry_forward_cap, reset_criterion,
		                            min_notice_days, max_consecutive_days, caps_json, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			leave_type_id = excluded.leave_type_id,
			accrual_method = excluded.accrual_method,
			monthly_rate = excluded.monthly_rate,
			yearly_rate = excluded.yearly_rate,
			rounding = excluded.rounding,
			carry_forward_allowed = excluded.carry_forward_allowed,
			carry_forward_cap = excluded.carry_forward_cap,
			reset_criterion = excluded.reset_criterion,
			min_notice_days = excluded.min_notice_days,
			max_consecutive_days = excluded.max_consecutive_days,
			caps_json = excluded.caps_json,
			active = excluded.active
	`,
		p.ID, p.LeaveTypeID, p.AccrualMethod, p.MonthlyRate.String(), p.YearlyRate.String(), p.Rounding,
		p.CarryForwardAllowed, p.CarryForwardCap.String(), p.ResetCriterion,
		p.MinNoticeDays, p.MaxConsecutiveDays, string(capsJSON), p.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to save policy: %w", err)
	}
	return nil
}

const policyColumns = `id, leave_type_id, accrual_method, monthly_rate, yearly_rate, rounding,
	carry_forward_allowed, carry_forward_cap, reset_criterion,
	min_notice_days, max_consecutive_days, caps_json, active`

func (q queries) getActivePolicy(ctx context.Context, id leave.LeaveTypeID) (*leave.LeavePolicy, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+policyColumns+` FROM leave_policies WHERE leave_type_id = ? AND active`, id)
	p, err := scanPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &leave.NotFoundError{Entity: "active policy", ID: string(id)}
	}
	return p, err
}

func (q queries) listPolicies(ctx context.Context) ([]leave.LeavePolicy, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+policyColumns+` FROM leave_policies ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query policies: %w", err)
	}
	defer rows.Close()

	var out []leave.LeavePolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanPolicy(row scanner) (*leave.LeavePolicy, error) {
	var (
		p                         leave.LeavePolicy
		monthly, yearly, carryCap string
		capsJSON                  sql.NullString
	)
	err := row.Scan(&p.ID, &p.LeaveTypeID, &p.AccrualMethod, &monthly, &yearly, &p.Rounding,
		&p.CarryForwardAllowed, &carryCap, &p.ResetCriterion,
		&p.MinNoticeDays, &p.MaxConsecutiveDays, &capsJSON, &p.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan policy: %w", err)
	}
	var c columns
	p.MonthlyRate = c.decimal("monthly_rate", monthly)
	p.YearlyRate = c.decimal("yearly_rate", yearly)
	p.CarryForwardCap = c.decimal("carry_forward_cap", carryCap)
	if c.err != nil {
		return nil, fmt.Errorf("failed to read policy %s: %w", p.ID, c.err)
	}
	if capsJSON.Valid && capsJSON.String != "" && capsJSON.String != "null" {
		if err := json.Unmarshal([]byte(capsJSON.String), &p.Caps); err != nil {
			return nil, fmt.Errorf("failed to decode caps of policy %s: %w", p.ID, err)
		}
	}
	return &p, nil
}

// --- Calendars ---

func (q queries) saveCalendar(ctx context.Context, c leave.Calendar) error {
	holidays, err := json.Marshal(orEmpty(c.Holidays))
	if err != nil {
		return fmt.Errorf("failed to encode holidays: %w", err)
	}
	blocked, err := json.Marshal(orEmpty(c.Blocked))
	if err != nil {
		return fmt.Errorf("failed to encode blocked periods: %w", err)
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO calendars (year, holidays_json, blocked_json) VALUES (?, ?, ?)
		ON CONFLICT(year) DO UPDATE SET
			holidays_json = excluded.holidays_json,
			blocked_json = excluded.blocked_json
	`, c.Year, string(holidays), string(blocked))
	if err != nil {
		return fmt.Errorf("failed to save calendar: %w", err)
	}
	return nil
}

func (q queries) getCalendar(ctx context.Context, year int) (*leave.Calendar, error) {
	var holidays, blocked string
	err := q.db.QueryRowContext(ctx,
		`SELECT holidays_json, blocked_json FROM calendars WHERE year = ?`, year,
	).Scan(&holidays, &blocked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &leave.NotFoundError{Entity: "calendar", ID: strconv.Itoa(year)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load calendar: %w", err)
	}

	c := leave.Calendar{Year: year}
	if err := json.Unmarshal([]byte(holidays), &c.Holidays); err != nil {
		return nil, fmt.Errorf("failed to decode holidays of %d: %w", year, err)
	}
	if err := json.Unmarshal([]byte(blocked), &c.Blocked); err != nil {
		return nil, fmt.Errorf("failed to decode blocked periods of %d: %w", year, err)
	}
	return &c, nil
}

// --- Entitlements ---

const entitlementColumns = `employee_id, leave_type_id, yearly_entitlement, accrued_actual, accrued_rounded,
	carry_forward, taken, pending, remaining, last_accrual_date, next_reset_date, version, updated_at`

func (q queries) getEntitlement(ctx context.Context, key leave.EntitlementKey) (*leave.Entitlement, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+entitlementColumns+` FROM entitlements WHERE employee_id = ? AND leave_type_id = ?`,
		key.EmployeeID, key.LeaveTypeID)
	e, err := scanEntitlement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &leave.NotFoundError{Entity: "entitlement", ID: string(key.EmployeeID) + "/" + string(key.LeaveTypeID)}
	}
	return e, err
}

func (q queries) listEntitlements(ctx context.Context, f leave.EntitlementFilter) ([]leave.Entitlement, error) {
	query := `SELECT ` + entitlementColumns + ` FROM entitlements WHERE 1=1`
	var args []any
	if f.EmployeeID != "" {
		query += ` AND employee_id = ?`
		args = append(args, f.EmployeeID)
	}
	if f.LeaveTypeID != "" {
		query += ` AND leave_type_id = ?`
		args = append(args, f.LeaveTypeID)
	}
	query += ` ORDER BY employee_id, leave_type_id`

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entitlements: %w", err)
	}
	defer rows.Close()

	var out []leave.Entitlement
	for rows.Next() {
		e, err := scanEntitlement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (q queries) createEntitlement(ctx context.Context, e leave.Entitlement) (*leave.Entitlement, error) {
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now().UTC()
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO entitlements (`+entitlementColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(employee_id, leave_type_id) DO NOTHING
	`,
		e.EmployeeID, e.LeaveTypeID, e.YearlyEntitlement.String(), e.AccruedActual.String(), e.AccruedRounded.String(),
		e.CarryForward.String(), e.Taken.String(), e.Pending.String(), e.Remaining.String(),
		dateValue(e.LastAccrualDate), dateValue(e.NextResetDate), formatTime(e.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create entitlement: %w", err)
	}
	return q.getEntitlement(ctx, e.Key())
}

// updateEntitlement must run inside a transaction.
func (q queries) updateEntitlement(ctx context.Context, key leave.EntitlementKey, mutate func(*leave.Entitlement) error) (*leave.Entitlement, error) {
	current, err := q.getEntitlement(ctx, key)
	if err != nil {
		return nil, err
	}
	next := *current
	if err := mutate(&next); err != nil {
		return nil, err
	}
	next.EmployeeID, next.LeaveTypeID = key.EmployeeID, key.LeaveTypeID
	next.Version = current.Version + 1
	if next.UpdatedAt.IsZero() {
		next.UpdatedAt = time.Now().UTC()
	}

	res, err := q.db.ExecContext(ctx, `
		UPDATE entitlements SET
			yearly_entitlement = ?, accrued_actual = ?, accrued_rounded = ?, carry_forward = ?,
			taken = ?, pending = ?, remaining = ?, last_accrual_date = ?, next_reset_date = ?,
			version = ?, updated_at = ?
		WHERE employee_id = ? AND leave_type_id = ? AND version = ?
	`,
		next.YearlyEntitlement.String(), next.AccruedActual.String(), next.AccruedRounded.String(), next.CarryForward.String(),
		next.Taken.String(), next.Pending.String(), next.Remaining.String(),
		dateValue(next.LastAccrualDate), dateValue(next.NextResetDate),
		next.Version, formatTime(next.UpdatedAt),
		key.EmployeeID, key.LeaveTypeID, current.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update entitlement: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return nil, fmt.Errorf("entitlement %s/%s changed concurrently", key.EmployeeID, key.LeaveTypeID)
	}
	return &next, nil
}

func scanEntitlement(row scanner) (*leave.Entitlement, error) {
	var (
		e                                                          leave.Entitlement
		yearly, actual, rounded, carry, taken, pending, remaining string
		lastAccrual, nextReset                                     sql.NullString
		updatedAt                                                  string
	)
	err := row.Scan(&e.EmployeeID, &e.LeaveTypeID, &yearly, &actual, &rounded,
		&carry, &taken, &pending, &remaining, &lastAccrual, &nextReset, &e.Version, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan entitlement: %w", err)
	}
	var c columns
	e.YearlyEntitlement = c.decimal("yearly_entitlement", yearly)
	e.AccruedActual = c.decimal("accrued_actual", actual)
	e.AccruedRounded = c.decimal("accrued_rounded", rounded)
	e.CarryForward = c.decimal("carry_forward", carry)
	e.Taken = c.decimal("taken", taken)
	e.Pending = c.decimal("pending", pending)
	e.Remaining = c.decimal("remaining", remaining)
	e.LastAccrualDate = c.nullDate("last_accrual_date", lastAccrual)
	e.NextResetDate = c.nullDate("next_reset_date", nextReset)
	e.UpdatedAt = c.time("updated_at", updatedAt)
	if c.err != nil {
		return nil, fmt.Errorf("failed to read entitlement %s/%s: %w", e.EmployeeID, e.LeaveTypeID, c.err)
	}
	return &e, nil
}

// --- Requests ---

const requestColumns = `id, employee_id, leave_type_id, start_date, end_date, duration_days,
	justification, attachment_id, status, approval_flow_json, irregular, notices_json,
	version, created_at, updated_at`

func (q queries) createRequest(ctx context.Context, r leave.Request) error {
	flow, notices, err := encodeRequestJSON(r)
	if err != nil {
		return err
	}
	if r.Version == 0 {
		r.Version = 1
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO requests (`+requestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.EmployeeID, r.LeaveTypeID, r.Period.Start.String(), r.Period.End.String(), r.DurationDays,
		nullString(r.Justification), nullString(r.AttachmentID), r.Status, flow, r.Irregular, notices,
		r.Version, formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("request %s already exists", r.ID)
		}
		return fmt.Errorf("failed to create request: %w", err)
	}
	return nil
}

func (q queries) getRequest(ctx context.Context, id leave.RequestID) (*leave.Request, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = ?`, id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &leave.NotFoundError{Entity: "request", ID: string(id)}
	}
	return r, err
}

// updateRequest is a compare-and-swap on (status, version).
func (q queries) updateRequest(ctx context.Context, r leave.Request, expected leave.RequestStatus) error {
	flow, notices, err := encodeRequestJSON(r)
	if err != nil {
		return err
	}
	res, err := q.db.ExecContext(ctx, `
		UPDATE requests SET
			leave_type_id = ?, start_date = ?, end_date = ?, duration_days = ?,
			justification = ?, attachment_id = ?, status = ?, approval_flow_json = ?,
			irregular = ?, notices_json = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND status = ? AND version = ?
	`,
		r.LeaveTypeID, r.Period.Start.String(), r.Period.End.String(), r.DurationDays,
		nullString(r.Justification), nullString(r.AttachmentID), r.Status, flow,
		r.Irregular, notices, formatTime(r.UpdatedAt),
		r.ID, expected, r.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	var actual leave.RequestStatus
	err = q.db.QueryRowContext(ctx, `SELECT status FROM requests WHERE id = ?`, r.ID).Scan(&actual)
	if errors.Is(err, sql.ErrNoRows) {
		return &leave.NotFoundError{Entity: "request", ID: string(r.ID)}
	}
	if err != nil {
		return fmt.Errorf("failed to load request status: %w", err)
	}
	return &leave.StateConflictError{RequestID: r.ID, Actual: actual, Expected: []leave.RequestStatus{expected}}
}

func (q queries) listRequests(ctx context.Context, f leave.RequestFilter) ([]leave.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE 1=1`
	var args []any
	if f.EmployeeID != "" {
		query += ` AND employee_id = ?`
		args = append(args, f.EmployeeID)
	}
	if len(f.LeaveTypeIDs) > 0 {
		query += ` AND leave_type_id IN (` + placeholders(len(f.LeaveTypeIDs)) + `)`
		for _, id := range f.LeaveTypeIDs {
			args = append(args, id)
		}
	}
	if len(f.Statuses) > 0 {
		query += ` AND status IN (` + placeholders(len(f.Statuses)) + `)`
		for _, s := range f.Statuses {
			args = append(args, s)
		}
	}
	if f.Overlaps != nil {
		// ISO dates compare lexically
		query += ` AND start_date <= ? AND end_date >= ?`
		args = append(args, f.Overlaps.End.String(), f.Overlaps.Start.String())
	}
	query += ` ORDER BY created_at, id`

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	var out []leave.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func encodeRequestJSON(r leave.Request) (flow string, notices sql.NullString, err error) {
	flowJSON, err := json.Marshal(orEmpty(r.ApprovalFlow))
	if err != nil {
		return "", notices, fmt.Errorf("failed to encode approval flow: %w", err)
	}
	if len(r.Notices) > 0 {
		noticesJSON, err := json.Marshal(r.Notices)
		if err != nil {
			return "", notices, fmt.Errorf("failed to encode notices: %w", err)
		}
		notices = sql.NullString{String: string(noticesJSON), Valid: true}
	}
	return string(flowJSON), notices, nil
}

func scanRequest(row scanner) (*leave.Request, error) {
	var (
		r                    leave.Request
		start, end           string
		justification, attID sql.NullString
		flowJSON             string
		noticesJSON          sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&r.ID, &r.EmployeeID, &r.LeaveTypeID, &start, &end, &r.DurationDays,
		&justification, &attID, &r.Status, &flowJSON, &r.Irregular, &noticesJSON,
		&r.Version, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan request: %w", err)
	}
	var c columns
	r.Period = generic.Period{Start: c.date("start_date", start), End: c.date("end_date", end)}
	r.Justification = justification.String
	r.AttachmentID = attID.String
	r.CreatedAt = c.time("created_at", createdAt)
	r.UpdatedAt = c.time("updated_at", updatedAt)
	if c.err != nil {
		return nil, fmt.Errorf("failed to read request %s: %w", r.ID, c.err)
	}
	if err := json.Unmarshal([]byte(flowJSON), &r.ApprovalFlow); err != nil {
		return nil, fmt.Errorf("failed to decode approval flow of %s: %w", r.ID, err)
	}
	if noticesJSON.Valid && noticesJSON.String != "" {
		if err := json.Unmarshal([]byte(noticesJSON.String), &r.Notices); err != nil {
			return nil, fmt.Errorf("failed to decode notices of %s: %w", r.ID, err)
		}
	}
	return &r, nil
}

// --- Adjustments ---

func (q queries) appendAdjustment(ctx context.Context, a leave.Adjustment) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO adjustments (id, employee_id, leave_type_id, adjustment_type, amount, applied, reason, actor, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID, a.EmployeeID, a.LeaveTypeID, a.Type, a.Amount.String(), a.Applied.String(),
		a.Reason, nullString(a.Actor), formatTime(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append adjustment: %w", err)
	}
	return nil
}

func (q queries) listAdjustments(ctx context.Context, key leave.EntitlementKey) ([]leave.Adjustment, error) {
	query := `
		SELECT id, employee_id, leave_type_id, adjustment_type, amount, applied, reason, actor, created_at
		FROM adjustments WHERE employee_id = ?`
	args := []any{key.EmployeeID}
	if key.LeaveTypeID != "" {
		query += ` AND leave_type_id = ?`
		args = append(args, key.LeaveTypeID)
	}
	query += ` ORDER BY created_at, rowid`

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query adjustments: %w", err)
	}
	defer rows.Close()

	var out []leave.Adjustment
	for rows.Next() {
		var (
			a               leave.Adjustment
			amount, applied string
			actor           sql.NullString
			createdAt       string
		)
		if err := rows.Scan(&a.ID, &a.EmployeeID, &a.LeaveTypeID, &a.Type, &amount, &applied,
			&a.Reason, &actor, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan adjustment: %w", err)
		}
		var c columns
		a.Amount = c.decimal("amount", amount)
		a.Applied = c.decimal("applied", applied)
		a.Actor = actor.String
		a.CreatedAt = c.time("created_at", createdAt)
		if c.err != nil {
			return nil, fmt.Errorf("failed to read adjustment %s: %w", a.ID, c.err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func dateValue(tp *generic.TimePoint) sql.NullString {
	if tp == nil || tp.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: tp.String(), Valid: true}
}

// columns parses the text columns of one scanned row and keeps the first
// failure, so a corrupt value surfaces as an error instead of a zero.
type columns struct {
	err error
}

func (c *columns) fail(name, value string, err error) {
	if c.err == nil {
		c.err = fmt.Errorf("column %s: invalid value %q: %w", name, value, err)
	}
}

func (c *columns) date(name, s string) generic.TimePoint {
	tp, err := generic.ParseTimePoint(s)
	if err != nil {
		c.fail(name, s, err)
	}
	return tp
}

func (c *columns) nullDate(name string, s sql.NullString) *generic.TimePoint {
	if !s.Valid || s.String == "" {
		return nil
	}
	return c.date(name, s.String).Ptr()
}

func (c *columns) decimal(name, s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		c.fail(name, s, err)
		return decimal.Zero
	}
	return d
}

func (c *columns) time(name, s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		c.fail(name, s, err)
	}
	return t
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// orEmpty keeps nil slices from encoding as JSON null.
func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
