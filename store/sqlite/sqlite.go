/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements tenancy.Store, tenancy.TxStore, and tenancy.AuditLog
  using SQLite. In production the same patterns apply to PostgreSQL -
  only minor SQL dialect differences.

KEY TABLES:
  units        Leasable spaces with occupancy status
  tenancies    Tenant-to-unit bindings with rent/deposit snapshots
  leases       Lease agreements with status and payment terms
  deposits     Security deposit records (never deleted)
  readings     Water meter readings per unit per month
  charges      Flat recurring charges, unique per (tenant, month)
  audit_log    Append-only operator trail

INVARIANT ENFORCEMENT:
  A partial unique index on leases(unit_id) WHERE status = 'ACTIVE'
  serializes concurrent activations: the second writer gets a unique
  constraint violation, surfaced as tenancy.LeaseConflictError. The
  core detects the conflict, it does not lock.

WAL MODE:
  SQLite is opened with WAL and foreign keys on. Multiple readers
  don't block; a single writer at a time.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

USAGE:
  st, err := sqlite.New("./data/tenancy.db")
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()

SEE ALSO:
  - tenancy/store.go: Interface definitions
  - tenancy/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/tenancy-engine/tenancy"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ tenancy.Store    = (*Store)(nil)
	_ tenancy.TxStore  = (*Store)(nil)
	_ tenancy.AuditLog = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
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

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS units (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		base_rent TEXT NOT NULL,
		base_deposit TEXT NOT NULL,
		deleted INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tenancies (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		unit_id TEXT NOT NULL REFERENCES units(id),
		lease_start TEXT NOT NULL,
		lease_end TEXT NOT NULL,
		rent TEXT NOT NULL,
		deposit TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tenancies_unit_created
		ON tenancies(unit_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_tenancies_tenant
		ON tenancies(tenant_id);

	CREATE TABLE IF NOT EXISTS leases (
		id TEXT PRIMARY KEY,
		tenancy_id TEXT NOT NULL,
		unit_id TEXT NOT NULL REFERENCES units(id),
		status TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		due_day INTEGER NOT NULL DEFAULT 1,
		grace_days INTEGER NOT NULL DEFAULT 0,
		late_fee TEXT NOT NULL,
		created_at TEXT NOT NULL,
		terminated_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_leases_tenancy
		ON leases(tenancy_id);

	-- CRITICAL: at most one ACTIVE lease per unit. Two concurrent
	-- activations race down to this index; the loser surfaces as
	-- a lease conflict.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_one_active_lease_per_unit
		ON leases(unit_id) WHERE status = 'ACTIVE';

	CREATE TABLE IF NOT EXISTS deposits (
		id TEXT PRIMARY KEY,
		tenancy_id TEXT NOT NULL REFERENCES tenancies(id),
		held TEXT NOT NULL,
		refunded TEXT NOT NULL,
		withheld TEXT NOT NULL,
		transferred_out INTEGER NOT NULL DEFAULT 0,
		refund_reason TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_deposits_tenancy
		ON deposits(tenancy_id);

	CREATE TABLE IF NOT EXISTS readings (
		id TEXT PRIMARY KEY,
		unit_id TEXT NOT NULL REFERENCES units(id),
		month TEXT NOT NULL,
		previous TEXT NOT NULL,
		current TEXT NOT NULL,
		rate TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_readings_unit_month
		ON readings(unit_id, month);

	CREATE TABLE IF NOT EXISTS charges (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		month TEXT NOT NULL,
		amount TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(tenant_id, month)
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		ts TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		unit_id TEXT NOT NULL DEFAULT '',
		tenancy_id TEXT NOT NULL DEFAULT '',
		detail_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_tenancy
		ON audit_log(tenancy_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// UNITS
// =============================================================================

func (s *Store) SaveUnit(ctx context.Context, u tenancy.Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveUnit(ctx, s.db, u)
}

func saveUnit(ctx context.Context, db dbtx, u tenancy.Unit) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO units (id, name, status, base_rent, base_deposit, deleted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			base_rent = excluded.base_rent,
			base_deposit = excluded.base_deposit,
			deleted = excluded.deleted
	`,
		u.ID, u.Name, u.Status, u.BaseRent.String(), u.BaseDeposit.String(),
		boolInt(u.Deleted), u.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save unit: %w", err)
	}
	return nil
}

func (s *Store) GetUnit(ctx context.Context, id tenancy.UnitID) (tenancy.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getUnit(ctx, s.db, id)
}

func getUnit(ctx context.Context, db dbtx, id tenancy.UnitID) (tenancy.Unit, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, name, status, base_rent, base_deposit, deleted, created_at
		FROM units WHERE id = ?
	`, id)
	u, err := scanUnit(row)
	if err == sql.ErrNoRows {
		return tenancy.Unit{}, tenancy.ErrUnitNotFound
	}
	return u, err
}

func (s *Store) ListUnits(ctx context.Context) ([]tenancy.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, status, base_rent, base_deposit, deleted, created_at
		FROM units ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}
	defer rows.Close()

	var units []tenancy.Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUnit(row scanner) (tenancy.Unit, error) {
	var u tenancy.Unit
	var baseRent, baseDeposit, createdAt string
	var deleted int
	if err := row.Scan(&u.ID, &u.Name, &u.Status, &baseRent, &baseDeposit, &deleted, &createdAt); err != nil {
		return tenancy.Unit{}, err
	}
	u.BaseRent = parseDecimal(baseRent)
	u.BaseDeposit = parseDecimal(baseDeposit)
	u.Deleted = deleted != 0
	u.CreatedAt = parseTime(createdAt)
	return u, nil
}

// =============================================================================
// TENANCIES
// =============================================================================

func (s *Store) SaveTenancy(ctx context.Context, t tenancy.Tenancy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveTenancy(ctx, s.db, t)
}

func saveTenancy(ctx context.Context, db dbtx, t tenancy.Tenancy) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO tenancies (id, tenant_id, unit_id, lease_start, lease_end, rent, deposit, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			lease_start = excluded.lease_start,
			lease_end = excluded.lease_end,
			rent = excluded.rent,
			deposit = excluded.deposit
	`,
		t.ID, t.TenantID, t.UnitID, t.LeaseStart.String(), t.LeaseEnd.String(),
		t.Rent.String(), t.Deposit.String(), t.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save tenancy: %w", err)
	}
	return nil
}

func (s *Store) GetTenancy(ctx context.Context, id tenancy.TenancyID) (tenancy.Tenancy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getTenancy(ctx, s.db, id)
}

func getTenancy(ctx context.Context, db dbtx, id tenancy.TenancyID) (tenancy.Tenancy, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, tenant_id, unit_id, lease_start, lease_end, rent, deposit, created_at
		FROM tenancies WHERE id = ?
	`, id)
	t, err := scanTenancy(row)
	if err == sql.ErrNoRows {
		return tenancy.Tenancy{}, tenancy.ErrTenancyNotFound
	}
	return t, err
}

func (s *Store) TenanciesByUnit(ctx context.Context, unitID tenancy.UnitID) ([]tenancy.Tenancy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return tenanciesByUnit(ctx, s.db, unitID)
}

func tenanciesByUnit(ctx context.Context, db dbtx, unitID tenancy.UnitID) ([]tenancy.Tenancy, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, tenant_id, unit_id, lease_start, lease_end, rent, deposit, created_at
		FROM tenancies WHERE unit_id = ?
		ORDER BY created_at DESC
	`, unitID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenancies: %w", err)
	}
	defer rows.Close()

	var result []tenancy.Tenancy
	for rows.Next() {
		t, err := scanTenancy(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (s *Store) DeleteTenancy(ctx context.Context, id tenancy.TenancyID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM tenancies WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete tenancy: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tenancy.ErrTenancyNotFound
	}
	return nil
}

func scanTenancy(row scanner) (tenancy.Tenancy, error) {
	var t tenancy.Tenancy
	var start, end, rent, deposit, createdAt string
	if err := row.Scan(&t.ID, &t.TenantID, &t.UnitID, &start, &end, &rent, &deposit, &createdAt); err != nil {
		return tenancy.Tenancy{}, err
	}
	t.LeaseStart, _ = tenancy.ParseDate(start)
	t.LeaseEnd, _ = tenancy.ParseDate(end)
	t.Rent = parseDecimal(rent)
	t.Deposit = parseDecimal(deposit)
	t.CreatedAt = parseTime(createdAt)
	return t, nil
}

// =============================================================================
// LEASE AGREEMENTS
// =============================================================================

func (s *Store) SaveLease(ctx context.Context, l tenancy.LeaseAgreement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveLease(ctx, s.db, l)
}

func saveLease(ctx context.Context, db dbtx, l tenancy.LeaseAgreement) error {
	var terminatedAt sql.NullString
	if l.TerminatedAt != nil {
		terminatedAt = sql.NullString{String: l.TerminatedAt.UTC().Format(time.RFC3339), Valid: true}
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO leases (id, tenancy_id, unit_id, status, start_date, end_date,
			due_day, grace_days, late_fee, created_at, terminated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			due_day = excluded.due_day,
			grace_days = excluded.grace_days,
			late_fee = excluded.late_fee,
			terminated_at = excluded.terminated_at
	`,
		l.ID, l.TenancyID, l.UnitID, l.Status, l.Start.String(), l.End.String(),
		l.DueDay, l.GraceDays, l.LateFee.String(),
		l.CreatedAt.UTC().Format(time.RFC3339Nano), terminatedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &tenancy.LeaseConflictError{UnitID: l.UnitID}
		}
		return fmt.Errorf("failed to save lease: %w", err)
	}
	return nil
}

func (s *Store) GetLease(ctx context.Context, id tenancy.LeaseID) (tenancy.LeaseAgreement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getLease(ctx, s.db, id)
}

func getLease(ctx context.Context, db dbtx, id tenancy.LeaseID) (tenancy.LeaseAgreement, error) {
	row := db.QueryRowContext(ctx, leaseSelect+" WHERE id = ?", id)
	l, err := scanLease(row)
	if err == sql.ErrNoRows {
		return tenancy.LeaseAgreement{}, tenancy.ErrLeaseNotFound
	}
	return l, err
}

func (s *Store) LeaseByTenancy(ctx context.Context, tenancyID tenancy.TenancyID) (tenancy.LeaseAgreement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return leaseByTenancy(ctx, s.db, tenancyID)
}

func leaseByTenancy(ctx context.Context, db dbtx, tenancyID tenancy.TenancyID) (tenancy.LeaseAgreement, error) {
	row := db.QueryRowContext(ctx,
		leaseSelect+" WHERE tenancy_id = ? ORDER BY created_at DESC LIMIT 1", tenancyID)
	l, err := scanLease(row)
	if err == sql.ErrNoRows {
		return tenancy.LeaseAgreement{}, tenancy.ErrLeaseNotFound
	}
	return l, err
}

func (s *Store) ActiveLeaseByUnit(ctx context.Context, unitID tenancy.UnitID) (tenancy.LeaseAgreement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return activeLeaseByUnit(ctx, s.db, unitID)
}

func activeLeaseByUnit(ctx context.Context, db dbtx, unitID tenancy.UnitID) (tenancy.LeaseAgreement, error) {
	row := db.QueryRowContext(ctx,
		leaseSelect+" WHERE unit_id = ? AND status = 'ACTIVE'", unitID)
	l, err := scanLease(row)
	if err == sql.ErrNoRows {
		return tenancy.LeaseAgreement{}, tenancy.ErrLeaseNotFound
	}
	return l, err
}

const leaseSelect = `
	SELECT id, tenancy_id, unit_id, status, start_date, end_date,
	       due_day, grace_days, late_fee, created_at, terminated_at
	FROM leases`

func scanLease(row scanner) (tenancy.LeaseAgreement, error) {
	var l tenancy.LeaseAgreement
	var start, end, lateFee, createdAt string
	var terminatedAt sql.NullString
	err := row.Scan(&l.ID, &l.TenancyID, &l.UnitID, &l.Status, &start, &end,
		&l.DueDay, &l.GraceDays, &lateFee, &createdAt, &terminatedAt)
	if err != nil {
		return tenancy.LeaseAgreement{}, err
	}
	l.Start, _ = tenancy.ParseDate(start)
	l.End, _ = tenancy.ParseDate(end)
	l.LateFee = parseDecimal(lateFee)
	l.CreatedAt = parseTime(createdAt)
	if terminatedAt.Valid {
		t := parseTime(terminatedAt.String)
		l.TerminatedAt = &t
	}
	return l, nil
}

// =============================================================================
// DEPOSIT RECORDS
// =============================================================================

func (s *Store) SaveDeposit(ctx context.Context, d tenancy.DepositRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveDeposit(ctx, s.db, d)
}

func saveDeposit(ctx context.Context, db dbtx, d tenancy.DepositRecord) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO deposits (id, tenancy_id, held, refunded, withheld,
			transferred_out, refund_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			held = excluded.held,
			refunded = excluded.refunded,
			withheld = excluded.withheld,
			transferred_out = excluded.transferred_out,
			refund_reason = excluded.refund_reason,
			updated_at = excluded.updated_at
	`,
		d.ID, d.TenancyID, d.Held.String(), d.Refunded.String(), d.Withheld.String(),
		boolInt(d.TransferredOut), d.RefundReason,
		d.CreatedAt.UTC().Format(time.RFC3339Nano), d.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save deposit: %w", err)
	}
	return nil
}

func (s *Store) GetDeposit(ctx context.Context, id tenancy.DepositID) (tenancy.DepositRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, depositSelect+" WHERE id = ?", id)
	d, err := scanDeposit(row)
	if err == sql.ErrNoRows {
		return tenancy.DepositRecord{}, tenancy.ErrDepositNotFound
	}
	return d, err
}

func (s *Store) DepositByTenancy(ctx context.Context, tenancyID tenancy.TenancyID) (tenancy.DepositRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return depositByTenancy(ctx, s.db, tenancyID)
}

func depositByTenancy(ctx context.Context, db dbtx, tenancyID tenancy.TenancyID) (tenancy.DepositRecord, error) {
	// Active record preferred over transferred-out history.
	row := db.QueryRowContext(ctx,
		depositSelect+` WHERE tenancy_id = ?
		ORDER BY transferred_out ASC, created_at DESC LIMIT 1`, tenancyID)
	d, err := scanDeposit(row)
	if err == sql.ErrNoRows {
		return tenancy.DepositRecord{}, tenancy.ErrDepositNotFound
	}
	return d, err
}

const depositSelect = `
	SELECT id, tenancy_id, held, refunded, withheld, transferred_out,
	       refund_reason, created_at, updated_at
	FROM deposits`

func scanDeposit(row scanner) (tenancy.DepositRecord, error) {
	var d tenancy.DepositRecord
	var held, refunded, withheld, createdAt, updatedAt string
	var transferredOut int
	err := row.Scan(&d.ID, &d.TenancyID, &held, &refunded, &withheld,
		&transferredOut, &d.RefundReason, &createdAt, &updatedAt)
	if err != nil {
		return tenancy.DepositRecord{}, err
	}
	d.Held = parseDecimal(held)
	d.Refunded = parseDecimal(refunded)
	d.Withheld = parseDecimal(withheld)
	d.TransferredOut = transferredOut != 0
	d.CreatedAt = parseTime(createdAt)
	d.UpdatedAt = parseTime(updatedAt)
	return d, nil
}

// =============================================================================
// UTILITY READINGS
// =============================================================================

func (s *Store) SaveReading(ctx context.Context, r tenancy.UtilityReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveReading(ctx, s.db, r)
}

func saveReading(ctx context.Context, db dbtx, r tenancy.UtilityReading) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO readings (id, unit_id, month, previous, current, rate, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.UnitID, r.Month, r.Previous.String(), r.Current.String(),
		r.Rate.String(), r.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save reading: %w", err)
	}
	return nil
}

func (s *Store) ReadingsByUnit(ctx context.Context, unitID tenancy.UnitID) ([]tenancy.UtilityReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, unit_id, month, previous, current, rate, created_at
		FROM readings WHERE unit_id = ? ORDER BY month ASC
	`, unitID)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var result []tenancy.UtilityReading
	for rows.Next() {
		var r tenancy.UtilityReading
		var previous, current, rate, createdAt string
		if err := rows.Scan(&r.ID, &r.UnitID, &r.Month, &previous, &current, &rate, &createdAt); err != nil {
			return nil, err
		}
		r.Previous = parseDecimal(previous)
		r.Current = parseDecimal(current)
		r.Rate = parseDecimal(rate)
		r.CreatedAt = parseTime(createdAt)
		result = append(result, r)
	}
	return result, rows.Err()
}

// =============================================================================
// RECURRING CHARGES
// =============================================================================

func (s *Store) SaveCharge(ctx context.Context, c tenancy.RecurringCharge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveCharge(ctx, s.db, c)
}

func saveCharge(ctx context.Context, db dbtx, c tenancy.RecurringCharge) error {
	// Upsert keyed on (tenant, month) keeps re-issue idempotent even
	// under a concurrent first issue.
	_, err := db.ExecContext(ctx, `
		INSERT INTO charges (id, tenant_id, month, amount, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, month) DO UPDATE SET
			amount = excluded.amount,
			status = excluded.status,
			updated_at = excluded.updated_at
	`,
		c.ID, c.TenantID, c.Month, c.Amount.String(), c.Status,
		c.CreatedAt.UTC().Format(time.RFC3339), c.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save charge: %w", err)
	}
	return nil
}

func (s *Store) ChargeByTenantMonth(ctx context.Context, tenantID tenancy.TenantID, month string) (tenancy.RecurringCharge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return chargeByTenantMonth(ctx, s.db, tenantID, month)
}

func chargeByTenantMonth(ctx context.Context, db dbtx, tenantID tenancy.TenantID, month string) (tenancy.RecurringCharge, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, tenant_id, month, amount, status, created_at, updated_at
		FROM charges WHERE tenant_id = ? AND month = ?
	`, tenantID, month)
	c, err := scanCharge(row)
	if err == sql.ErrNoRows {
		return tenancy.RecurringCharge{}, tenancy.ErrChargeNotFound
	}
	return c, err
}

func (s *Store) ChargesByTenant(ctx context.Context, tenantID tenancy.TenantID) ([]tenancy.RecurringCharge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, month, amount, status, created_at, updated_at
		FROM charges WHERE tenant_id = ? ORDER BY month ASC
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query charges: %w", err)
	}
	defer rows.Close()

	var result []tenancy.RecurringCharge
	for rows.Next() {
		c, err := scanCharge(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func scanCharge(row scanner) (tenancy.RecurringCharge, error) {
	var c tenancy.RecurringCharge
	var amount, createdAt, updatedAt string
	if err := row.Scan(&c.ID, &c.TenantID, &c.Month, &amount, &c.Status, &createdAt, &updatedAt); err != nil {
		return tenancy.RecurringCharge{}, err
	}
	c.Amount = parseDecimal(amount)
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return c, nil
}

// =============================================================================
// AUDIT LOG (tenancy.AuditLog interface)
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, entry tenancy.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendAudit(ctx, s.db, entry)
}

func appendAudit(ctx context.Context, db dbtx, entry tenancy.AuditEntry) error {
	detailJSON, _ := json.Marshal(entry.Detail)
	_, err := db.ExecContext(ctx, `
		INSERT INTO audit_log (id, ts, actor_id, action, unit_id, tenancy_id, detail_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID, entry.Timestamp.UTC().Format(time.RFC3339Nano),
		entry.ActorID, entry.Action, entry.UnitID, entry.TenancyID, string(detailJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (s *Store) QueryAudit(ctx context.Context, filter tenancy.AuditFilter) ([]tenancy.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryAudit(ctx, s.db, filter)
}

func queryAudit(ctx context.Context, db dbtx, filter tenancy.AuditFilter) ([]tenancy.AuditEntry, error) {
	query := `SELECT id, ts, actor_id, action, unit_id, tenancy_id, detail_json FROM audit_log WHERE 1=1`
	var args []any
	if filter.TenancyID != nil {
		query += " AND tenancy_id = ?"
		args = append(args, *filter.TenancyID)
	}
	if filter.UnitID != nil {
		query += " AND unit_id = ?"
		args = append(args, *filter.UnitID)
	}
	if filter.ActorID != nil {
		query += " AND actor_id = ?"
		args = append(args, *filter.ActorID)
	}
	if len(filter.Actions) > 0 {
		query += " AND action IN (?" + strings.Repeat(",?", len(filter.Actions)-1) + ")"
		for _, a := range filter.Actions {
			args = append(args, a)
		}
	}
	query += " ORDER BY ts ASC"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var result []tenancy.AuditEntry
	for rows.Next() {
		var e tenancy.AuditEntry
		var ts string
		var detailJSON sql.NullString
		if err := rows.Scan(&e.ID, &ts, &e.ActorID, &e.Action, &e.UnitID, &e.TenancyID, &detailJSON); err != nil {
			return nil, err
		}
		e.Timestamp = parseTime(ts)
		if detailJSON.Valid && detailJSON.String != "" {
			json.Unmarshal([]byte(detailJSON.String), &e.Detail)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (tenancy.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tenancy.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore routes Store and AuditLog calls through an open transaction.
// Audit entries written here commit and roll back with the rest of the
// transaction; appending to the outer Store from inside WithTx would
// deadlock on s.mu and write outside the transaction.
type txStore struct {
	tx *sql.Tx
}

var (
	_ tenancy.Store    = (*txStore)(nil)
	_ tenancy.AuditLog = (*txStore)(nil)
)

func (ts *txStore) AppendAudit(ctx context.Context, entry tenancy.AuditEntry) error {
	return appendAudit(ctx, ts.tx, entry)
}

func (ts *txStore) QueryAudit(ctx context.Context, filter tenancy.AuditFilter) ([]tenancy.AuditEntry, error) {
	return queryAudit(ctx, ts.tx, filter)
}

func (ts *txStore) SaveUnit(ctx context.Context, u tenancy.Unit) error {
	return saveUnit(ctx, ts.tx, u)
}

func (ts *txStore) GetUnit(ctx context.Context, id tenancy.UnitID) (tenancy.Unit, error) {
	return getUnit(ctx, ts.tx, id)
}

func (ts *txStore) ListUnits(ctx context.Context) ([]tenancy.Unit, error) {
	rows, err := ts.tx.QueryContext(ctx, `
		SELECT id, name, status, base_rent, base_deposit, deleted, created_at
		FROM units ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}
	defer rows.Close()

	var units []tenancy.Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

func (ts *txStore) SaveTenancy(ctx context.Context, t tenancy.Tenancy) error {
	return saveTenancy(ctx, ts.tx, t)
}

func (ts *txStore) GetTenancy(ctx context.Context, id tenancy.TenancyID) (tenancy.Tenancy, error) {
	return getTenancy(ctx, ts.tx, id)
}

func (ts *txStore) TenanciesByUnit(ctx context.Context, unitID tenancy.UnitID) ([]tenancy.Tenancy, error) {
	return tenanciesByUnit(ctx, ts.tx, unitID)
}

func (ts *txStore) DeleteTenancy(ctx context.Context, id tenancy.TenancyID) error {
	res, err := ts.tx.ExecContext(ctx, "DELETE FROM tenancies WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete tenancy: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tenancy.ErrTenancyNotFound
	}
	return nil
}

func (ts *txStore) SaveLease(ctx context.Context, l tenancy.LeaseAgreement) error {
	return saveLease(ctx, ts.tx, l)
}

func (ts *txStore) GetLease(ctx context.Context, id tenancy.LeaseID) (tenancy.LeaseAgreement, error) {
	return getLease(ctx, ts.tx, id)
}

func (ts *txStore) LeaseByTenancy(ctx context.Context, tenancyID tenancy.TenancyID) (tenancy.LeaseAgreement, error) {
	return leaseByTenancy(ctx, ts.tx, tenancyID)
}

func (ts *txStore) ActiveLeaseByUnit(ctx context.Context, unitID tenancy.UnitID) (tenancy.LeaseAgreement, error) {
	return activeLeaseByUnit(ctx, ts.tx, unitID)
}

func (ts *txStore) SaveDeposit(ctx context.Context, d tenancy.DepositRecord) error {
	return saveDeposit(ctx, ts.tx, d)
}

func (ts *txStore) GetDeposit(ctx context.Context, id tenancy.DepositID) (tenancy.DepositRecord, error) {
	row := ts.tx.QueryRowContext(ctx, depositSelect+" WHERE id = ?", id)
	d, err := scanDeposit(row)
	if err == sql.ErrNoRows {
		return tenancy.DepositRecord{}, tenancy.ErrDepositNotFound
	}
	return d, err
}

func (ts *txStore) DepositByTenancy(ctx context.Context, tenancyID tenancy.TenancyID) (tenancy.DepositRecord, error) {
	return depositByTenancy(ctx, ts.tx, tenancyID)
}

func (ts *txStore) SaveReading(ctx context.Context, r tenancy.UtilityReading) error {
	return saveReading(ctx, ts.tx, r)
}

func (ts *txStore) ReadingsByUnit(ctx context.Context, unitID tenancy.UnitID) ([]tenancy.UtilityReading, error) {
	rows, err := ts.tx.QueryContext(ctx, `
		SELECT id, unit_id, month, previous, current, rate, created_at
		FROM readings WHERE unit_id = ? ORDER BY month ASC
	`, unitID)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var result []tenancy.UtilityReading
	for rows.Next() {
		var r tenancy.UtilityReading
		var previous, current, rate, createdAt string
		if err := rows.Scan(&r.ID, &r.UnitID, &r.Month, &previous, &current, &rate, &createdAt); err != nil {
			return nil, err
		}
		r.Previous = parseDecimal(previous)
		r.Current = parseDecimal(current)
		r.Rate = parseDecimal(rate)
		r.CreatedAt = parseTime(createdAt)
		result = append(result, r)
	}
	return result, rows.Err()
}

func (ts *txStore) SaveCharge(ctx context.Context, c tenancy.RecurringCharge) error {
	return saveCharge(ctx, ts.tx, c)
}

func (ts *txStore) ChargeByTenantMonth(ctx context.Context, tenantID tenancy.TenantID, month string) (tenancy.RecurringCharge, error) {
	return chargeByTenantMonth(ctx, ts.tx, tenantID, month)
}

func (ts *txStore) ChargesByTenant(ctx context.Context, tenantID tenancy.TenantID) ([]tenancy.RecurringCharge, error) {
	rows, err := ts.tx.QueryContext(ctx, `
		SELECT id, tenant_id, month, amount, status, created_at, updated_at
		FROM charges WHERE tenant_id = ? ORDER BY month ASC
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query charges: %w", err)
	}
	defer rows.Close()

	var result []tenancy.RecurringCharge
	for rows.Next() {
		c, err := scanCharge(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
