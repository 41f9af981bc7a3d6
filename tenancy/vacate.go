/*
vacate.go - Vacate orchestrator

PURPOSE:
  Ends a tenancy and frees its unit: lease -> TERMINATED, unit ->
  VACANT. The deposit stays with the deposit ledger; once the lease
  end has passed its disposition reads REFUND_DUE and the refund is a
  separate, later operation (deposit.go).

ALREADY VACATED:
  Vacating twice fails. A tenancy whose lease was already terminated,
  or whose window has lapsed while the unit sits vacant, has nothing
  left to vacate.
*/
package tenancy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// VACATER
// =============================================================================

type Vacater struct {
	Store    Store
	Leases   *LeaseLifecycle
	Deposits *DepositLedger
	Audit    AuditLog
	Now      Clock
}

func NewVacater(store Store, leases *LeaseLifecycle, deposits *DepositLedger, audit AuditLog) *Vacater {
	return &Vacater{Store: store, Leases: leases, Deposits: deposits, Audit: audit, Now: SystemClock}
}

func (v *Vacater) today() Date {
	if v.Now != nil {
		return v.Now()
	}
	return Today()
}

// VacateResult is the entity snapshot after a successful vacate.
type VacateResult struct {
	Unit        Unit
	Tenancy     Tenancy
	Lease       LeaseAgreement
	Disposition DepositDisposition
}

// Vacate terminates the tenancy's lease and frees its unit. Fails
// with ErrAlreadyVacated when there is nothing left to vacate.
func (v *Vacater) Vacate(ctx context.Context, tenancyID TenancyID, actor string) (VacateResult, error) {
	tenancy, err := v.Store.GetTenancy(ctx, tenancyID)
	if err != nil {
		return VacateResult{}, err
	}
	lease, err := v.Store.LeaseByTenancy(ctx, tenancyID)
	if err != nil {
		return VacateResult{}, err
	}
	unit, err := v.Store.GetUnit(ctx, tenancy.UnitID)
	if err != nil {
		return VacateResult{}, err
	}

	// Terminated or superseded leases have nothing to vacate; so does
	// a lapsed window on a unit that already reads vacant.
	if lease.Status != LeaseActive {
		return VacateResult{}, fmt.Errorf("tenancy %s: %w", tenancyID, ErrAlreadyVacated)
	}
	if unit.Status != UnitOccupied && tenancy.LeaseEnd.Before(v.today()) {
		return VacateResult{}, fmt.Errorf("tenancy %s: %w", tenancyID, ErrAlreadyVacated)
	}

	var terminated LeaseAgreement
	run := func(st Store) error {
		l, err := v.Leases.withStore(st).terminate(ctx, st, lease.ID, true)
		if err != nil {
			return err
		}
		terminated = l
		return nil
	}

	if tx, ok := v.Store.(TxStore); ok {
		err = tx.WithTx(ctx, run)
	} else {
		err = run(v.Store)
	}
	if err != nil {
		return VacateResult{}, err
	}

	freed, err := v.Store.GetUnit(ctx, tenancy.UnitID)
	if err != nil {
		return VacateResult{}, err
	}

	disposition := DepositHeld
	if v.Deposits != nil {
		if d, err := v.Deposits.Disposition(ctx, tenancyID); err == nil {
			disposition = d
		} else if !IsNotFound(err) {
			return VacateResult{}, err
		}
	}

	err = v.audit(ctx, AuditEntry{
		ActorID:   actor,
		Action:    AuditTenantVacated,
		UnitID:    unit.ID,
		TenancyID: tenancyID,
		Detail:    map[string]string{"deposit_disposition": string(disposition)},
	})
	if err != nil {
		return VacateResult{}, err
	}
	return VacateResult{Unit: freed, Tenancy: tenancy, Lease: terminated, Disposition: disposition}, nil
}

func (v *Vacater) audit(ctx context.Context, entry AuditEntry) error {
	if v.Audit == nil {
		return nil
	}
	entry.ID = uuid.NewString()
	entry.Timestamp = time.Now().UTC()
	return v.Audit.AppendAudit(ctx, entry)
}
