package tenancy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/tenancy-engine/tenancy"
)

// =============================================================================
// WATER BILL COMPUTATION
// =============================================================================

func TestComputeWaterBill_ConsumptionTimesRate(t *testing.T) {
	// GIVEN: Previous reading 100, current reading 135, rate 5 per unit
	// WHEN: Computing the water bill
	// THEN: Consumption is 35 and cost is 175

	bill, err := tenancy.ComputeWaterBill(dec("100"), dec("135"), dec("5"))
	require.NoError(t, err)

	assert.True(t, bill.Consumption.Equal(dec("35")), "consumption = %s", bill.Consumption)
	assert.True(t, bill.Cost.Equal(dec("175")), "cost = %s", bill.Cost)
}

func TestComputeWaterBill_EqualReadings_ZeroCost(t *testing.T) {
	bill, err := tenancy.ComputeWaterBill(dec("250.5"), dec("250.5"), dec("7.25"))
	require.NoError(t, err)

	assert.True(t, bill.Consumption.IsZero())
	assert.True(t, bill.Cost.IsZero())
}

func TestComputeWaterBill_FractionalRate_NoDrift(t *testing.T) {
	// Decimal arithmetic: 0.1-increment readings at a fractional rate
	// must come out exact, not 3.3000000000000003.
	bill, err := tenancy.ComputeWaterBill(dec("10.9"), dec("11.9"), dec("3.3"))
	require.NoError(t, err)

	assert.True(t, bill.Cost.Equal(dec("3.3")), "cost = %s", bill.Cost)
}

func TestComputeWaterBill_CurrentBelowPrevious_Rejected(t *testing.T) {
	// GIVEN: Current reading below previous (meter rollback or typo)
	// WHEN: Computing the water bill
	// THEN: Rejected as a validation error; no negative consumption

	_, err := tenancy.ComputeWaterBill(dec("135"), dec("100"), dec("5"))

	require.Error(t, err)
	var readErr *tenancy.ReadingError
	assert.ErrorAs(t, err, &readErr)
	assert.ErrorIs(t, err, tenancy.ErrInvalidReading)
	assert.True(t, tenancy.IsValidation(err))
}

// =============================================================================
// READING SERVICE
// =============================================================================

func TestBillingService_RecordWaterReading(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	unit := e.newUnit(t, "U101", "8500", "20000")

	reading, err := e.billing.RecordWaterReading(ctx, unit.ID, "2025-06", dec("100"), dec("135"), dec("5"), "meter-reader")
	require.NoError(t, err)

	assert.Equal(t, "2025-06", reading.Month)
	assert.True(t, reading.Consumption().Equal(dec("35")))
	assert.True(t, reading.Cost().Equal(dec("175")))

	stored, err := e.store.ReadingsByUnit(ctx, unit.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)

	entries, err := e.store.QueryAudit(ctx, tenancy.AuditFilter{
		UnitID:  &unit.ID,
		Actions: []tenancy.AuditAction{tenancy.AuditReadingRecorded},
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "meter-reader", entries[0].ActorID)
}

func TestBillingService_RecordWaterReading_MonthDefaultsToToday(t *testing.T) {
	e := newTestEngine(t)
	unit := e.newUnit(t, "U101", "8500", "20000")

	reading, err := e.billing.RecordWaterReading(context.Background(), unit.ID, "", dec("0"), dec("12"), dec("5"), "test")
	require.NoError(t, err)

	assert.Equal(t, "2025-06", reading.Month, "clock is pinned to 2025-06-15")
}

func TestBillingService_RecordWaterReading_RejectsRollback(t *testing.T) {
	e := newTestEngine(t)
	unit := e.newUnit(t, "U101", "8500", "20000")

	_, err := e.billing.RecordWaterReading(context.Background(), unit.ID, "2025-06", dec("135"), dec("100"), dec("5"), "test")

	require.Error(t, err)
	assert.ErrorIs(t, err, tenancy.ErrInvalidReading)

	stored, err := e.store.ReadingsByUnit(context.Background(), unit.ID)
	require.NoError(t, err)
	assert.Empty(t, stored, "rejected reading must not be persisted")
}

func TestBillingService_RecordWaterReading_RejectsNegativeRate(t *testing.T) {
	e := newTestEngine(t)
	unit := e.newUnit(t, "U101", "8500", "20000")

	_, err := e.billing.RecordWaterReading(context.Background(), unit.ID, "2025-06", dec("100"), dec("135"), dec("-5"), "test")

	assert.ErrorIs(t, err, tenancy.ErrNegativeAmount)
}

func TestBillingService_RecordWaterReading_UnknownUnit(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.billing.RecordWaterReading(context.Background(), "nope", "2025-06", dec("100"), dec("135"), dec("5"), "test")

	assert.ErrorIs(t, err, tenancy.ErrUnitNotFound)
}

// =============================================================================
// RECURRING CHARGES
// =============================================================================

func TestBillingService_IssueRecurringCharge_IdempotentPerMonth(t *testing.T) {
	// GIVEN: A garbage fee already issued for (tenant, month)
	// WHEN: Issuing again for the same month
	// THEN: The existing charge is updated in place, never duplicated

	e := newTestEngine(t)
	ctx := context.Background()

	first, err := e.billing.IssueRecurringCharge(ctx, "tenant-1", "2025-06", dec("300"), "test")
	require.NoError(t, err)
	assert.Equal(t, tenancy.ChargePending, first.Status)

	second, err := e.billing.IssueRecurringCharge(ctx, "tenant-1", "2025-06", dec("350"), "test")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "re-issue must not create a new charge")
	assert.True(t, second.Amount.Equal(dec("350")))

	charges, err := e.store.ChargesByTenant(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Len(t, charges, 1)
}

func TestBillingService_IssueRecurringCharge_ReissueKeepsPaidStatus(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.billing.IssueRecurringCharge(ctx, "tenant-1", "2025-06", dec("300"), "test")
	require.NoError(t, err)
	_, err = e.billing.MarkChargePaid(ctx, "tenant-1", "2025-06")
	require.NoError(t, err)

	charge, err := e.billing.IssueRecurringCharge(ctx, "tenant-1", "2025-06", dec("300"), "test")
	require.NoError(t, err)

	assert.Equal(t, tenancy.ChargePaid, charge.Status, "re-issue must not reopen a paid charge")
}

func TestBillingService_IssueRecurringCharge_SeparateMonths(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.billing.IssueRecurringCharge(ctx, "tenant-1", "2025-06", dec("300"), "test")
	require.NoError(t, err)
	_, err = e.billing.IssueRecurringCharge(ctx, "tenant-1", "2025-07", dec("300"), "test")
	require.NoError(t, err)

	charges, err := e.store.ChargesByTenant(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Len(t, charges, 2)
}

func TestBillingService_IssueRecurringCharge_RejectsNegative(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.billing.IssueRecurringCharge(context.Background(), "tenant-1", "2025-06", dec("-1"), "test")

	assert.ErrorIs(t, err, tenancy.ErrNegativeAmount)
	assert.True(t, tenancy.IsValidation(err))
}
