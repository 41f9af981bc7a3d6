/*
Package tenancy implements the tenancy lifecycle and billing core of a
property-management back office.

PURPOSE:
  This package contains the state machines and computations that keep a
  unit's occupancy, a tenant's lease, the security deposit, and utility
  billing consistent over time. Everything else in the back office
  (rendering, auth, notifications) sits above it and only calls the
  operations exposed here.

KEY CONCEPTS IN THIS FILE (types.go):
  - Unit:            A leasable space with derived occupancy status
  - Tenancy:         A tenant bound to a unit for a date window, with
                     rent/deposit snapshotted at assignment time
  - LeaseAgreement:  The formal contract with payment terms and status
  - DepositRecord:   The security deposit and its refund trail
  - UtilityReading:  Metered water consumption for a period
  - RecurringCharge: Flat periodic fee (garbage and similar)

DESIGN PRINCIPLES:
  1. Precision: All money and meter values use decimal.Decimal
  2. Snapshots: Tenancy rent/deposit never silently track unit bases
  3. Lazy derivation: Lease expiry and deposit disposition are computed
     on read against an injectable clock, never by a background job
  4. Type Safety: Strong typing for ids prevents mixing entity kinds

SEE ALSO:
  - lease.go:   Lease state machine and renewal defaults
  - assign.go:  Tenancy assignment and current-tenant derivation
  - deposit.go: Deposit ledger operations
  - billing.go: Water and recurring-charge computation
*/
package tenancy

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UnitID string
type TenantID string
type TenancyID string
type LeaseID string
type DepositID string
type ReadingID string
type ChargeID string

// =============================================================================
// UNIT - A leasable physical space
// =============================================================================

type UnitStatus string

const (
	UnitVacant      UnitStatus = "VACANT"
	UnitOccupied    UnitStatus = "OCCUPIED"
	UnitMaintenance UnitStatus = "MAINTENANCE" // operator-set, never derived
)

// Unit is a leasable space. Status is OCCUPIED iff exactly one Tenancy
// is currently active for it; VACANT and MAINTENANCE are operator
// territory. Units are never hard-deleted while a Tenancy references
// them; Deleted marks a soft delete.
type Unit struct {
	ID          UnitID
	Name        string // display label, e.g. "U101"
	Status      UnitStatus
	BaseRent    decimal.Decimal
	BaseDeposit decimal.Decimal
	Deleted     bool
	CreatedAt   time.Time
}

// =============================================================================
// TENANCY - Tenant bound to a unit for a window
// =============================================================================

// Tenancy binds a tenant to a unit for a date window. Rent and deposit
// are snapshotted at assignment time and do not track the unit's base
// values afterwards.
type Tenancy struct {
	ID         TenancyID
	TenantID   TenantID
	UnitID     UnitID
	LeaseStart Date
	LeaseEnd   Date
	Rent       decimal.Decimal
	Deposit    decimal.Decimal
	CreatedAt  time.Time
}

// WindowCurrent reports whether the tenancy's date window is still
// current (end date has not passed). This is only half of the
// current-tenant rule; see ResolveCurrentTenancy in assign.go.
func (t Tenancy) WindowCurrent(today Date) bool {
	return t.LeaseEnd.AfterOrEqual(today)
}

// =============================================================================
// LEASE AGREEMENT - Formal contract with payment terms
// =============================================================================

type LeaseStatus string

const (
	LeaseDraft      LeaseStatus = "DRAFT"
	LeaseActive     LeaseStatus = "ACTIVE"
	LeaseExpired    LeaseStatus = "EXPIRED"
	LeaseTerminated LeaseStatus = "TERMINATED"
)

type LeaseAgreement struct {
	ID        LeaseID
	TenancyID TenancyID
	UnitID    UnitID
	Status    LeaseStatus
	Start     Date
	End       Date

	// Payment terms
	DueDay    int // day of month rent is due
	GraceDays int
	LateFee   decimal.Decimal

	CreatedAt    time.Time
	TerminatedAt *time.Time
}

// EffectiveStatus derives the lease status as of a day. An ACTIVE
// lease whose end date has passed reads as EXPIRED; the stored status
// is not rewritten (there is no scheduler to do so).
func (l LeaseAgreement) EffectiveStatus(today Date) LeaseStatus {
	if l.Status == LeaseActive && l.End.Before(today) {
		return LeaseExpired
	}
	return l.Status
}

// =============================================================================
// DEPOSIT RECORD - Security deposit and refund trail
// =============================================================================

type DepositDisposition string

const (
	DepositHeld              DepositDisposition = "HELD"
	DepositRefundDue         DepositDisposition = "REFUND_DUE"
	DepositPartiallyRefunded DepositDisposition = "PARTIALLY_REFUNDED"
	DepositFullyRefunded     DepositDisposition = "FULLY_REFUNDED"
	DepositTransferred       DepositDisposition = "TRANSFERRED"
)

// DepositRecord tracks the money held against damages for one Tenancy.
// Invariant: Refunded + Withheld <= Held. Disposition is derived on
// read (see Disposition), not stored.
type DepositRecord struct {
	ID        DepositID
	TenancyID TenancyID
	Held      decimal.Decimal
	Refunded  decimal.Decimal
	Withheld  decimal.Decimal

	// TransferredOut marks the record as superseded by a transfer to
	// another tenancy. A tenant has exactly one active deposit.
	TransferredOut bool

	RefundReason string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Settled reports whether any refund/withholding has been recorded.
func (d DepositRecord) Settled() bool {
	return d.Refunded.IsPositive() || d.Withheld.IsPositive()
}

// Disposition derives the deposit state from the record and the
// associated tenancy's lease end date.
func (d DepositRecord) Disposition(leaseEnd Date, today Date) DepositDisposition {
	if d.TransferredOut {
		return DepositTransferred
	}
	if d.Settled() {
		if d.Refunded.Add(d.Withheld).Equal(d.Held) {
			return DepositFullyRefunded
		}
		return DepositPartiallyRefunded
	}
	if leaseEnd.Before(today) {
		return DepositRefundDue
	}
	return DepositHeld
}

// =============================================================================
// UTILITY READING - Metered water consumption
// =============================================================================

// UtilityReading is a metered reading pair for a unit in a billing
// month. Current must be >= Previous; consumption cannot be negative.
type UtilityReading struct {
	ID       ReadingID
	UnitID   UnitID
	Month    string // "2006-01"
	Previous decimal.Decimal
	Current  decimal.Decimal
	Rate     decimal.Decimal // per unit of consumption
	CreatedAt time.Time
}

func (r UtilityReading) Consumption() decimal.Decimal {
	return r.Current.Sub(r.Previous)
}

func (r UtilityReading) Cost() decimal.Decimal {
	return r.Consumption().Mul(r.Rate)
}

// =============================================================================
// RECURRING CHARGE - Flat periodic fee per tenant
// =============================================================================

type ChargeStatus string

const (
	ChargePending ChargeStatus = "PENDING"
	ChargePaid    ChargeStatus = "PAID"
)

// RecurringCharge is a flat fee billed per tenant per month. Issuing
// is idempotent on (TenantID, Month); see BillingService.
type RecurringCharge struct {
	ID        ChargeID
	TenantID  TenantID
	Month     string // "2006-01"
	Amount    decimal.Decimal
	Status    ChargeStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}
