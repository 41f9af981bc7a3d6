/*
store.go - Persistence interfaces for the tenancy core

PURPOSE:
  Defines the contract between the domain logic and the database.
  Different implementations can use SQLite or in-memory storage; the
  core never sees SQL.

KEY INTERFACES:
  Store:    Per-entity reads and writes
  TxStore:  Atomic multi-entity writes (orchestrators run inside one)
  AuditLog: Append-only who-did-what-when trail

UNIQUENESS:
  The store enforces "at most one ACTIVE lease per unit". Saving a
  second ACTIVE lease for a unit must fail with ErrLeaseConflict. This
  is how two concurrent assignments to the same unit are serialized -
  the core detects and surfaces the conflict, it does not lock.

ORDERING:
  TenanciesByUnit returns newest-created first. The current-tenant
  derivation rule (assign.go) depends on this ordering.

IMPLEMENTATIONS:
  - tenancy/store/memory.go: In-memory with snapshot-rollback WithTx
  - store/sqlite/sqlite.go:  SQLite with database/sql transactions

SEE ALSO:
  - switchunit.go: The one caller that needs TxStore semantics
*/
package tenancy

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Entity persistence
// =============================================================================

// Store handles persistence of all tenancy-core entities. Save methods
// upsert by id. Get methods return the matching not-found sentinel
// when the entity is missing.
type Store interface {
	// Units
	SaveUnit(ctx context.Context, u Unit) error
	GetUnit(ctx context.Context, id UnitID) (Unit, error)
	ListUnits(ctx context.Context) ([]Unit, error)

	// Tenancies
	SaveTenancy(ctx context.Context, t Tenancy) error
	GetTenancy(ctx context.Context, id TenancyID) (Tenancy, error)
	// TenanciesByUnit returns tenancies for a unit, newest-created first.
	TenanciesByUnit(ctx context.Context, unitID UnitID) ([]Tenancy, error)
	// DeleteTenancy destroys a tenancy record. Distinct from vacating:
	// vacated tenancies remain as history.
	DeleteTenancy(ctx context.Context, id TenancyID) error

	// Lease agreements
	SaveLease(ctx context.Context, l LeaseAgreement) error
	GetLease(ctx context.Context, id LeaseID) (LeaseAgreement, error)
	LeaseByTenancy(ctx context.Context, tenancyID TenancyID) (LeaseAgreement, error)
	// ActiveLeaseByUnit returns the unit's single ACTIVE lease, or
	// ErrLeaseNotFound when there is none.
	ActiveLeaseByUnit(ctx context.Context, unitID UnitID) (LeaseAgreement, error)

	// Deposit records
	SaveDeposit(ctx context.Context, d DepositRecord) error
	GetDeposit(ctx context.Context, id DepositID) (DepositRecord, error)
	DepositByTenancy(ctx context.Context, tenancyID TenancyID) (DepositRecord, error)

	// Utility readings
	SaveReading(ctx context.Context, r UtilityReading) error
	ReadingsByUnit(ctx context.Context, unitID UnitID) ([]UtilityReading, error)

	// Recurring charges
	SaveCharge(ctx context.Context, c RecurringCharge) error
	// ChargeByTenantMonth returns the charge for (tenant, month), or
	// ErrChargeNotFound. Issuing is idempotent on this key.
	ChargeByTenantMonth(ctx context.Context, tenantID TenantID, month string) (RecurringCharge, error)
	ChargesByTenant(ctx context.Context, tenantID TenantID) ([]RecurringCharge, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support. If fn returns an
// error, every write made through the passed Store is rolled back.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// AUDIT LOG - Who did what, when
// =============================================================================

type AuditAction string

const (
	AuditTenantAssigned     AuditAction = "tenant_assigned"
	AuditTenantVacated      AuditAction = "tenant_vacated"
	AuditUnitSwitched       AuditAction = "unit_switched"
	AuditLeaseRenewed       AuditAction = "lease_renewed"
	AuditDepositRecorded    AuditAction = "deposit_recorded"
	AuditDepositTransferred AuditAction = "deposit_transferred"
	AuditDepositRefunded    AuditAction = "deposit_refunded"
	AuditChargeIssued       AuditAction = "charge_issued"
	AuditReadingRecorded    AuditAction = "reading_recorded"
)

// AuditEntry records a single mutation with its operator. Deposit
// mutations in particular are required to leave a trail; nothing in
// the core destroys history.
type AuditEntry struct {
	ID        string
	Timestamp time.Time
	ActorID   string
	Action    AuditAction
	UnitID    UnitID
	TenancyID TenancyID
	Detail    map[string]string
}

// AuditLog stores audit entries. Append-only.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

type AuditFilter struct {
	TenancyID *TenancyID
	UnitID    *UnitID
	ActorID   *string
	Actions   []AuditAction
}
