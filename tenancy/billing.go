/*
billing.go - Water billing math and recurring flat charges

PURPOSE:
  Converts metered water consumption and flat recurring fees into
  monetary amounts for a billing period.

  Water:   consumption = current - previous
           cost        = consumption * rate
           current < previous is rejected (no negative consumption)

  Flat:    one charge per (tenant, month). Re-issuing updates the
           existing charge instead of duplicating it.

NUMERIC SEMANTICS:
  Everything runs on decimal.Decimal. Repeated additions of charge
  amounts must not drift, so floats never enter the computation.

SEE ALSO:
  - types.go: UtilityReading, RecurringCharge
*/
package tenancy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// WATER BILL - Pure computation
// =============================================================================

// WaterBill is the computed outcome of a meter reading pair.
type WaterBill struct {
	Consumption decimal.Decimal
	Cost        decimal.Decimal
}

// ComputeWaterBill converts a reading pair and a per-unit rate into
// consumption and cost. Fails when current < previous.
func ComputeWaterBill(previous, current, rate decimal.Decimal) (WaterBill, error) {
	if current.LessThan(previous) {
		return WaterBill{}, &ReadingError{Previous: previous, Current: current}
	}
	consumption := current.Sub(previous)
	return WaterBill{
		Consumption: consumption,
		Cost:        consumption.Mul(rate),
	}, nil
}

// =============================================================================
// BILLING SERVICE - Readings and recurring charges
// =============================================================================

// BillingService records water readings and issues recurring charges.
type BillingService struct {
	Store Store
	Audit AuditLog
	Now   Clock
}

func NewBillingService(store Store, audit AuditLog) *BillingService {
	return &BillingService{Store: store, Audit: audit, Now: SystemClock}
}

func (bs *BillingService) today() Date {
	if bs.Now != nil {
		return bs.Now()
	}
	return Today()
}

// RecordWaterReading validates and persists a meter reading for a unit
// and billing month, returning the stored reading with its computed
// consumption and cost available via the entity methods.
func (bs *BillingService) RecordWaterReading(
	ctx context.Context,
	unitID UnitID,
	month string,
	previous, current, rate decimal.Decimal,
	actor string,
) (UtilityReading, error) {
	unit, err := bs.Store.GetUnit(ctx, unitID)
	if err != nil {
		return UtilityReading{}, err
	}
	if month == "" {
		month = bs.today().MonthKey()
	}

	if current.LessThan(previous) {
		return UtilityReading{}, &ReadingError{UnitID: unit.ID, Previous: previous, Current: current}
	}
	if previous.IsNegative() || rate.IsNegative() {
		return UtilityReading{}, fmt.Errorf("reading for unit %s: %w", unitID, ErrNegativeAmount)
	}

	reading := UtilityReading{
		ID:        ReadingID(uuid.NewString()),
		UnitID:    unit.ID,
		Month:     month,
		Previous:  previous,
		Current:   current,
		Rate:      rate,
		CreatedAt: time.Now().UTC(),
	}
	if err := bs.Store.SaveReading(ctx, reading); err != nil {
		return UtilityReading{}, err
	}

	err = bs.audit(ctx, AuditEntry{
		ActorID: actor,
		Action:  AuditReadingRecorded,
		UnitID:  unit.ID,
		Detail: map[string]string{
			"month":       month,
			"consumption": reading.Consumption().String(),
			"cost":        reading.Cost().String(),
		},
	})
	if err != nil {
		return UtilityReading{}, err
	}
	return reading, nil
}

// IssueRecurringCharge creates the flat charge for (tenant, month), or
// updates the existing one. Idempotent: the second issue refreshes the
// amount and never duplicates. A PAID charge stays PAID.
func (bs *BillingService) IssueRecurringCharge(
	ctx context.Context,
	tenantID TenantID,
	month string,
	amount decimal.Decimal,
	actor string,
) (RecurringCharge, error) {
	if amount.IsNegative() {
		return RecurringCharge{}, fmt.Errorf("charge for tenant %s: %w", tenantID, ErrNegativeAmount)
	}
	if month == "" {
		month = bs.today().MonthKey()
	}

	now := time.Now().UTC()
	charge, err := bs.Store.ChargeByTenantMonth(ctx, tenantID, month)
	switch {
	case err == nil:
		// Re-issue: update in place, keep status.
		charge.Amount = amount
		charge.UpdatedAt = now
	case IsNotFound(err):
		charge = RecurringCharge{
			ID:        ChargeID(uuid.NewString()),
			TenantID:  tenantID,
			Month:     month,
			Amount:    amount,
			Status:    ChargePending,
			CreatedAt: now,
			UpdatedAt: now,
		}
	default:
		return RecurringCharge{}, err
	}

	if err := bs.Store.SaveCharge(ctx, charge); err != nil {
		return RecurringCharge{}, err
	}

	err = bs.audit(ctx, AuditEntry{
		ActorID: actor,
		Action:  AuditChargeIssued,
		Detail: map[string]string{
			"tenant": string(tenantID),
			"month":  month,
			"amount": amount.String(),
		},
	})
	if err != nil {
		return RecurringCharge{}, err
	}
	return charge, nil
}

// MarkChargePaid flips a pending charge to PAID.
func (bs *BillingService) MarkChargePaid(ctx context.Context, tenantID TenantID, month string) (RecurringCharge, error) {
	charge, err := bs.Store.ChargeByTenantMonth(ctx, tenantID, month)
	if err != nil {
		return RecurringCharge{}, err
	}
	charge.Status = ChargePaid
	charge.UpdatedAt = time.Now().UTC()
	if err := bs.Store.SaveCharge(ctx, charge); err != nil {
		return RecurringCharge{}, err
	}
	return charge, nil
}

func (bs *BillingService) audit(ctx context.Context, entry AuditEntry) error {
	if bs.Audit == nil {
		return nil
	}
	entry.ID = uuid.NewString()
	entry.Timestamp = time.Now().UTC()
	return bs.Audit.AppendAudit(ctx, entry)
}
