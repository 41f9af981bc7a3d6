/*
assign.go - Tenancy assignment and current-tenant derivation

PURPOSE:
  Binds a tenant to a vacant unit: creates the Tenancy, activates its
  lease (which occupies the unit), and records the deposit - one
  logical operation.

CURRENT-TENANT RULE:
  Everywhere a unit's "current tenant" is displayed, the same named
  rule applies (ResolveCurrentTenancy). The rule is asymmetric on
  purpose:

    OCCUPIED  -> the most recently created Tenancy is current,
                 regardless of its date window
    otherwise -> a Tenancy is current only while its end date has not
                 passed

  The occupied branch treats the operator-asserted status as the source
  of truth, so a manual status override never resurrects a stale tenant
  on downstream screens. The rule compensates for status/date drift in
  the data rather than expressing clean business intent; it is kept as
  one named function so the behavior stays a single contract.

SEE ALSO:
  - lease.go:      DRAFT -> ACTIVE side effects
  - switchunit.go: Reassignment between units
*/
package tenancy

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// CURRENT-TENANT DERIVATION (named strategy)
// =============================================================================

// ResolveCurrentTenancy applies the current-tenant rule to a unit and
// its tenancies. Returns false when every tenancy is historical.
func ResolveCurrentTenancy(unit Unit, tenancies []Tenancy, today Date) (Tenancy, bool) {
	if len(tenancies) == 0 {
		return Tenancy{}, false
	}

	// Newest-created first, independent of what the store returned.
	sorted := make([]Tenancy, len(tenancies))
	copy(sorted, tenancies)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})

	if unit.Status == UnitOccupied {
		return sorted[0], true
	}
	for _, t := range sorted {
		if t.WindowCurrent(today) {
			return t, true
		}
	}
	return Tenancy{}, false
}

// =============================================================================
// ASSIGNMENT SERVICE
// =============================================================================

type AssignmentService struct {
	Store    Store
	Deposits *DepositLedger
	Leases   *LeaseLifecycle
	Audit    AuditLog
	Now      Clock
}

func NewAssignmentService(store Store, deposits *DepositLedger, leases *LeaseLifecycle, audit AuditLog) *AssignmentService {
	return &AssignmentService{Store: store, Deposits: deposits, Leases: leases, Audit: audit, Now: SystemClock}
}

func (as *AssignmentService) today() Date {
	if as.Now != nil {
		return as.Now()
	}
	return Today()
}

// AssignInput describes a new tenancy. Zero Rent/Deposit default to
// the unit's base values (snapshotted onto the tenancy either way).
type AssignInput struct {
	UnitID     UnitID
	TenantID   TenantID
	LeaseStart Date
	LeaseEnd   Date
	Rent       decimal.Decimal
	Deposit    decimal.Decimal
	Terms      LeaseTerms
}

// AssignResult is the entity snapshot after a successful assignment.
type AssignResult struct {
	Unit    Unit
	Tenancy Tenancy
	Lease   LeaseAgreement
	Deposit DepositRecord
}

// Assign binds a tenant to a vacant unit. Fails with ErrUnitNotVacant
// when the unit is occupied or under maintenance. On success the unit
// is OCCUPIED, one ACTIVE lease exists, and the deposit is held.
func (as *AssignmentService) Assign(ctx context.Context, in AssignInput, actor string) (AssignResult, error) {
	unit, err := as.Store.GetUnit(ctx, in.UnitID)
	if err != nil {
		return AssignResult{}, err
	}
	if unit.Deleted {
		return AssignResult{}, fmt.Errorf("unit %s: %w", unit.ID, ErrUnitDeleted)
	}
	if unit.Status != UnitVacant {
		return AssignResult{}, &UnitStateError{UnitID: unit.ID, Status: unit.Status, Op: "assign"}
	}
	if !in.LeaseStart.Before(in.LeaseEnd) {
		return AssignResult{}, fmt.Errorf("assign to unit %s (%s..%s): %w",
			unit.ID, in.LeaseStart, in.LeaseEnd, ErrLeaseWindowInvalid)
	}
	if in.Rent.IsNegative() || in.Deposit.IsNegative() {
		return AssignResult{}, fmt.Errorf("assign to unit %s: %w", unit.ID, ErrNegativeAmount)
	}

	rent := in.Rent
	if rent.IsZero() {
		rent = unit.BaseRent
	}
	deposit := in.Deposit
	if deposit.IsZero() {
		deposit = unit.BaseDeposit
	}

	var result AssignResult
	run := func(st Store) error {
		r, err := as.assignOn(ctx, st, unit, in, rent, deposit, actor)
		if err != nil {
			return err
		}
		result = r
		return nil
	}

	if tx, ok := as.Store.(TxStore); ok {
		err = tx.WithTx(ctx, run)
	} else {
		err = run(as.Store)
	}
	if err != nil {
		return AssignResult{}, err
	}

	err = as.audit(ctx, AuditEntry{
		ActorID:   actor,
		Action:    AuditTenantAssigned,
		UnitID:    unit.ID,
		TenancyID: result.Tenancy.ID,
		Detail: map[string]string{
			"tenant":  string(in.TenantID),
			"rent":    rent.String(),
			"deposit": deposit.String(),
		},
	})
	if err != nil {
		return AssignResult{}, err
	}
	return result, nil
}

// assignOn runs the assignment writes against st. Used directly by the
// unit switch orchestrator inside its own transaction.
func (as *AssignmentService) assignOn(
	ctx context.Context,
	st Store,
	unit Unit,
	in AssignInput,
	rent, deposit decimal.Decimal,
	actor string,
) (AssignResult, error) {
	tenancy := Tenancy{
		ID:         TenancyID(uuid.NewString()),
		TenantID:   in.TenantID,
		UnitID:     unit.ID,
		LeaseStart: in.LeaseStart,
		LeaseEnd:   in.LeaseEnd,
		Rent:       rent,
		Deposit:    deposit,
		CreatedAt:  time.Now().UTC(),
	}
	if err := st.SaveTenancy(ctx, tenancy); err != nil {
		return AssignResult{}, err
	}

	lease, err := as.Leases.withStore(st).activate(ctx, st, newLease(tenancy, in.Terms))
	if err != nil {
		return AssignResult{}, err
	}

	rec, err := as.Deposits.withStore(st).RecordDeposit(ctx, tenancy.ID, deposit, actor)
	if err != nil {
		return AssignResult{}, err
	}

	occupied, err := st.GetUnit(ctx, unit.ID)
	if err != nil {
		return AssignResult{}, err
	}
	return AssignResult{Unit: occupied, Tenancy: tenancy, Lease: lease, Deposit: rec}, nil
}

// CurrentTenancy resolves the unit's current tenant per the rule at
// the top of this file.
func (as *AssignmentService) CurrentTenancy(ctx context.Context, unitID UnitID) (Tenancy, bool, error) {
	unit, err := as.Store.GetUnit(ctx, unitID)
	if err != nil {
		return Tenancy{}, false, err
	}
	tenancies, err := as.Store.TenanciesByUnit(ctx, unitID)
	if err != nil {
		return Tenancy{}, false, err
	}
	t, ok := ResolveCurrentTenancy(unit, tenancies, as.today())
	return t, ok, nil
}

func (as *AssignmentService) audit(ctx context.Context, entry AuditEntry) error {
	if as.Audit == nil {
		return nil
	}
	entry.ID = uuid.NewString()
	entry.Timestamp = time.Now().UTC()
	return as.Audit.AppendAudit(ctx, entry)
}
