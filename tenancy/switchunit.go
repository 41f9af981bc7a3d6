/*
switchunit.go - Unit switch orchestrator

PURPOSE:
  Moves a tenant from one unit to another as a single logical
  operation. Steps, in order:

    1. Validate the target unit is VACANT
    2. Terminate the old lease, old unit -> VACANT
    3. New Tenancy on the target unit (rent from the target's base;
       deposit carried forward or restarted at the target's base)
    4. New ACTIVE lease, target unit -> OCCUPIED

FAILURE SEMANTICS:
  The caller must never observe partial state. The orchestrator runs
  inside a store transaction when the store supports one, and in
  addition reverts step 2 itself (old lease back to ACTIVE, old unit
  back to OCCUPIED) when step 3 or 4 fails. The compensation is what
  the contract guarantees; the transaction narrows the window in which
  a concurrent reader could see the intermediate state.

SEE ALSO:
  - vacate.go:  The simpler end-of-tenancy path
  - deposit.go: TransferDeposit semantics
*/
package tenancy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// UNIT SWITCHER
// =============================================================================

type UnitSwitcher struct {
	Store    Store
	Deposits *DepositLedger
	Leases   *LeaseLifecycle
	Audit    AuditLog
	Now      Clock
}

func NewUnitSwitcher(store Store, deposits *DepositLedger, leases *LeaseLifecycle, audit AuditLog) *UnitSwitcher {
	return &UnitSwitcher{Store: store, Deposits: deposits, Leases: leases, Audit: audit, Now: SystemClock}
}

func (us *UnitSwitcher) today() Date {
	if us.Now != nil {
		return us.Now()
	}
	return Today()
}

// SwitchResult is the entity snapshot after a successful switch.
type SwitchResult struct {
	OldUnit Unit
	NewUnit Unit
	Tenancy Tenancy
	Lease   LeaseAgreement
	Deposit DepositRecord
}

// Switch moves the tenant of tenancyID into newUnitID. With
// keepDeposit the held amount follows the tenant; otherwise a fresh
// deposit starts at the new unit's base value.
func (us *UnitSwitcher) Switch(ctx context.Context, tenancyID TenancyID, newUnitID UnitID, keepDeposit bool, actor string) (SwitchResult, error) {
	oldTenancy, err := us.Store.GetTenancy(ctx, tenancyID)
	if err != nil {
		return SwitchResult{}, err
	}
	oldLease, err := us.Store.LeaseByTenancy(ctx, tenancyID)
	if err != nil {
		return SwitchResult{}, err
	}
	oldUnit, err := us.Store.GetUnit(ctx, oldTenancy.UnitID)
	if err != nil {
		return SwitchResult{}, err
	}

	// Step 1: target must be vacant.
	newUnit, err := us.Store.GetUnit(ctx, newUnitID)
	if err != nil {
		return SwitchResult{}, err
	}
	if newUnit.Deleted {
		return SwitchResult{}, fmt.Errorf("unit %s: %w", newUnit.ID, ErrUnitDeleted)
	}
	if newUnit.Status != UnitVacant {
		return SwitchResult{}, &UnitStateError{UnitID: newUnit.ID, Status: newUnit.Status, Op: "switch", target: true}
	}

	var result SwitchResult
	run := func(st Store) error {
		r, err := us.switchOn(ctx, st, oldTenancy, oldLease, oldUnit, newUnit, keepDeposit, actor)
		if err != nil {
			return err
		}
		result = r
		return nil
	}

	if tx, ok := us.Store.(TxStore); ok {
		err = tx.WithTx(ctx, run)
	} else {
		err = run(us.Store)
	}
	if err != nil {
		return SwitchResult{}, err
	}

	err = us.audit(ctx, AuditEntry{
		ActorID:   actor,
		Action:    AuditUnitSwitched,
		UnitID:    newUnit.ID,
		TenancyID: result.Tenancy.ID,
		Detail: map[string]string{
			"from_unit":    string(oldUnit.ID),
			"from_tenancy": string(oldTenancy.ID),
			"kept_deposit": fmt.Sprintf("%t", keepDeposit),
		},
	})
	if err != nil {
		return SwitchResult{}, err
	}
	return result, nil
}

func (us *UnitSwitcher) switchOn(
	ctx context.Context,
	st Store,
	oldTenancy Tenancy,
	oldLease LeaseAgreement,
	oldUnit Unit,
	newUnit Unit,
	keepDeposit bool,
	actor string,
) (SwitchResult, error) {
	leases := us.Leases.withStore(st)

	// Pre-images for compensation.
	priorLease := oldLease
	priorUnit := oldUnit

	// Step 2: terminate the old lease and free the old unit.
	if _, err := leases.terminate(ctx, st, oldLease.ID, true); err != nil {
		return SwitchResult{}, err
	}

	result, err := us.stepsThreeAndFour(ctx, st, oldTenancy, oldLease, newUnit, keepDeposit, actor)
	if err != nil {
		// Compensate: restore the old lease and unit exactly as they
		// were before step 2 committed.
		if cerr := us.compensate(ctx, st, priorLease, priorUnit); cerr != nil {
			return SwitchResult{}, errors.Join(err, fmt.Errorf("compensation failed: %w", cerr))
		}
		return SwitchResult{}, err
	}

	freedUnit, err := st.GetUnit(ctx, oldUnit.ID)
	if err != nil {
		return SwitchResult{}, err
	}
	result.OldUnit = freedUnit
	return result, nil
}

func (us *UnitSwitcher) stepsThreeAndFour(
	ctx context.Context,
	st Store,
	oldTenancy Tenancy,
	oldLease LeaseAgreement,
	newUnit Unit,
	keepDeposit bool,
	actor string,
) (SwitchResult, error) {
	today := us.today()

	// Deposit for the new tenancy: carried held amount, or the new
	// unit's base.
	depositAmount := newUnit.BaseDeposit
	oldDeposit, depErr := st.DepositByTenancy(ctx, oldTenancy.ID)
	hasOldDeposit := depErr == nil
	if depErr != nil && !IsNotFound(depErr) {
		return SwitchResult{}, depErr
	}
	if keepDeposit && hasOldDeposit {
		depositAmount = oldDeposit.Held
	}

	// Remaining term follows the tenant; a spent window restarts at a
	// year from today.
	end := oldTenancy.LeaseEnd
	if !end.After(today) {
		end = today.AddYears(1)
	}

	// Step 3: new tenancy on the target unit.
	tenancy := Tenancy{
		ID:         TenancyID(uuid.NewString()),
		TenantID:   oldTenancy.TenantID,
		UnitID:     newUnit.ID,
		LeaseStart: today,
		LeaseEnd:   end,
		Rent:       newUnit.BaseRent,
		Deposit:    depositAmount,
		CreatedAt:  time.Now().UTC(),
	}
	if err := st.SaveTenancy(ctx, tenancy); err != nil {
		return SwitchResult{}, err
	}

	deposits := us.Deposits.withStore(st)
	var rec DepositRecord
	var err error
	if hasOldDeposit {
		rec, err = deposits.TransferDeposit(ctx, oldTenancy.ID, tenancy.ID, keepDeposit, actor)
	} else {
		rec, err = deposits.RecordDeposit(ctx, tenancy.ID, depositAmount, actor)
	}
	if err != nil {
		return SwitchResult{}, err
	}

	// Step 4: activate the new lease; occupies the target unit.
	lease, err := us.Leases.withStore(st).activate(ctx, st, newLease(tenancy, LeaseTerms{
		DueDay:    oldLease.DueDay,
		GraceDays: oldLease.GraceDays,
		LateFee:   oldLease.LateFee,
	}))
	if err != nil {
		return SwitchResult{}, err
	}

	occupied, err := st.GetUnit(ctx, newUnit.ID)
	if err != nil {
		return SwitchResult{}, err
	}
	return SwitchResult{NewUnit: occupied, Tenancy: tenancy, Lease: lease, Deposit: rec}, nil
}

// compensate reverts step 2: the old lease returns to ACTIVE and the
// old unit to OCCUPIED, byte for byte as they were before the call.
func (us *UnitSwitcher) compensate(ctx context.Context, st Store, lease LeaseAgreement, unit Unit) error {
	if err := st.SaveLease(ctx, lease); err != nil {
		return err
	}
	return st.SaveUnit(ctx, unit)
}

func (us *UnitSwitcher) audit(ctx context.Context, entry AuditEntry) error {
	if us.Audit == nil {
		return nil
	}
	entry.ID = uuid.NewString()
	entry.Timestamp = time.Now().UTC()
	return us.Audit.AppendAudit(ctx, entry)
}
