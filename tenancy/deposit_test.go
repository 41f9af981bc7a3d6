package tenancy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/tenancy-engine/tenancy"
)

// =============================================================================
// RECORD AND DISPOSITION
// =============================================================================

func TestDepositLedger_HeldWhileLeaseCurrent(t *testing.T) {
	// GIVEN: A tenant assigned with a 20000 deposit, lease still running
	// WHEN: Deriving the deposit disposition
	// THEN: HELD

	e := newTestEngine(t)
	unit := e.newUnit(t, "U101", "8500", "20000")
	result := e.assignTenant(t, unit, "tenant-1", "2025-01-01", "2025-12-31")

	assert.True(t, result.Deposit.Held.Equal(dec("20000")))

	disp, err := e.deposits.Disposition(context.Background(), result.Tenancy.ID)
	require.NoError(t, err)
	assert.Equal(t, tenancy.DepositHeld, disp)
}

func TestDepositLedger_RefundDueAfterLeaseEnd(t *testing.T) {
	e := newTestEngine(t)
	unit := e.newUnit(t, "U101", "8500", "20000")
	result := e.assignTenant(t, unit, "tenant-1", "2025-01-01", "2025-12-31")

	e.clock.today = day("2026-01-10")

	disp, err := e.deposits.Disposition(context.Background(), result.Tenancy.ID)
	require.NoError(t, err)
	assert.Equal(t, tenancy.DepositRefundDue, disp)
}

func TestDepositLedger_SecondRecordRejected(t *testing.T) {
	// One active deposit per tenancy; a second record is an invariant
	// violation, not an update.

	e := newTestEngine(t)
	unit := e.newUnit(t, "U101", "8500", "20000")
	result := e.assignTenant(t, unit, "tenant-1", "2025-01-01", "2025-12-31")

	_, err := e.deposits.RecordDeposit(context.Background(), result.Tenancy.ID, dec("5000"), "test")

	assert.ErrorIs(t, err, tenancy.ErrDepositConflict)
	assert.True(t, tenancy.IsInvariantViolation(err))
}

func TestDepositLedger_RecordRejectsNegative(t *testing.T) {
	e := newTestEngine(t)
	unit := e.newUnit(t, "U101", "8500", "20000")
	result := e.assignTenant(t, unit, "tenant-1", "2025-01-01", "2025-12-31")

	_, err := e.deposits.Refund(context.Background(), result.Tenancy.ID, dec("-1"), dec("0"), "", "test")

	assert.ErrorIs(t, err, tenancy.ErrNegativeAmount)
}

// =============================================================================
// REFUND
// =============================================================================

func TestDepositLedger_RefundBeforeLeaseEnd_Rejected(t *testing.T) {
	// GIVEN: The lease is still running, so the deposit reads HELD
	// WHEN: Recording a refund
	// THEN: Rejected; refunds are valid only while REFUND_DUE

	e := newTestEngine(t)
	unit := e.newUnit(t, "U101", "8500", "20000")
	result := e.assignTenant(t, unit, "tenant-1", "2025-01-01", "2025-12-31")

	_, err := e.deposits.Refund(context.Background(), result.Tenancy.ID, dec("20000"), dec("0"), "", "test")

	require.Error(t, err)
	var stateErr *tenancy.DepositStateError
	assert.ErrorAs(t, err, &stateErr)
	assert.Equal(t, tenancy.DepositHeld, stateErr.Disposition)
	assert.True(t, tenancy.IsStateConflict(err))
}

func TestDepositLedger_FullRefund(t *testing.T) {
	e := newTestEngine(t)
	unit := e.newUnit(t, "U101", "8500", "20000")
	result := e.assignTenant(t, unit, "tenant-1", "2025-01-01", "2025-12-31")
	e.clock.today = day("2026-01-10")

	rec, err := e.deposits.Refund(context.Background(), result.Tenancy.ID, dec("20000"), dec("0"), "", "test")
	require.NoError(t, err)

	tn, err := e.store.GetTenancy(context.Background(), result.Tenancy.ID)
	require.NoError(t, err)
	assert.Equal(t, tenancy.DepositFullyRefunded, rec.Disposition(tn.LeaseEnd, e.clock.today))
}

func TestDepositLedger_PartialRefundWithWithholding(t *testing.T) {
	// GIVEN: 20000 held, lease ended
	// WHEN: Refunding 15000 and withholding 3000 for damages
	// THEN: PARTIALLY_REFUNDED with the reason kept on the record

	e := newTestEngine(t)
	unit := e.newUnit(t, "U101", "8500", "20000")
	result := e.assignTenant(t, unit, "tenant-1", "2025-01-01", "2025-12-31")
	e.clock.today = day("2026-01-10")

	rec, err := e.deposits.Refund(context.Background(), result.Tenancy.ID, dec("15000"), dec("3000"), "broken window", "test")
	require.NoError(t, err)

	assert.True(t, rec.Refunded.Equal(dec("15000")))
	assert.True(t, rec.Withheld.Equal(dec("3000")))
	assert.Equal(t, "broken window", rec.RefundReason)

	tn, _ := e.store.GetTenancy(context.Background(), result.Tenancy.ID)
	assert.Equal(t, tenancy.DepositPartiallyRefunded, rec.Disposition(tn.LeaseEnd, e.clock.today))
}

func TestDepositLedger_RefundExceedingHeld_Rejected(t *testing.T) {
	e := newTestEngine(t)
	unit := e.newUnit(t, "U101", "8500", "20000")
	result := e.assignTenant(t, unit, "tenant-1", "2025-01-01", "2025-12-31")
	e.clock.today = day("2026-01-10")

	_, err := e.deposits.Refund(context.Background(), result.Tenancy.ID, dec("18000"), dec("3000"), "", "test")

	require.Error(t, err)
	var boundsErr *tenancy.RefundBoundsError
	assert.ErrorAs(t, err, &boundsErr)
	assert.ErrorIs(t, err, tenancy.ErrRefundExceedsHeld)
	assert.True(t, boundsErr.Held.Equal(dec("20000")))
}

func TestDepositLedger_DoubleRefund_Rejected(t *testing.T) {
	e := newTestEngine(t)
	unit := e.newUnit(t, "U101", "8500", "20000")
	result := e.assignTenant(t, unit, "tenant-1", "2025-01-01", "2025-12-31")
	e.clock.today = day("2026-01-10")

	_, err := e.deposits.Refund(context.Background(), result.Tenancy.ID, dec("20000"), dec("0"), "", "test")
	require.NoError(t, err)

	_, err = e.deposits.Refund(context.Background(), result.Tenancy.ID, dec("1"), dec("0"), "", "test")
	assert.ErrorIs(t, err, tenancy.ErrInvalidDepositState, "settled deposit is no longer REFUND_DUE")
}

// =============================================================================
// TRANSFER
// =============================================================================

func TestDepositLedger_Transfer_CarriesHeldAmount(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	unitA := e.newUnit(t, "U101", "8500", "20000")
	unitB := e.newUnit(t, "U102", "9000", "25000")
	first := e.assignTenant(t, unitA, "tenant-1", "2025-01-01", "2025-12-31")

	// Transfer to a fresh tenancy on the target unit, the way the unit
	// switch orchestrator does mid-transaction.
	bare := tenancy.Tenancy{
		ID:         "bare-tenancy",
		TenantID:   "tenant-1",
		UnitID:     unitB.ID,
		LeaseStart: day("2025-07-01"),
		LeaseEnd:   day("2026-06-30"),
	}
	require.NoError(t, e.store.SaveTenancy(ctx, bare))

	dst, err := e.deposits.TransferDeposit(ctx, first.Tenancy.ID, bare.ID, true, "test")
	require.NoError(t, err)
	assert.True(t, dst.Held.Equal(dec("20000")), "held amount follows the tenant")

	src, err := e.store.DepositByTenancy(ctx, first.Tenancy.ID)
	require.NoError(t, err)
	assert.Equal(t, tenancy.DepositTransferred, src.Disposition(day("2025-12-31"), e.clock.today))
}

func TestDepositLedger_Transfer_RestartsAtTargetBase(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	unitA := e.newUnit(t, "U101", "8500", "20000")
	unitB := e.newUnit(t, "U102", "9000", "25000")
	first := e.assignTenant(t, unitA, "tenant-1", "2025-01-01", "2025-12-31")

	bare := tenancy.Tenancy{
		ID:       "bare-tenancy",
		TenantID: "tenant-1",
		UnitID:   unitB.ID,
	}
	require.NoError(t, e.store.SaveTenancy(ctx, bare))

	dst, err := e.deposits.TransferDeposit(ctx, first.Tenancy.ID, bare.ID, false, "test")
	require.NoError(t, err)

	assert.True(t, dst.Held.Equal(dec("25000")), "keepAmount=false restarts at the target unit's base")
}

func TestDepositLedger_TransferTwice_Rejected(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	unitA := e.newUnit(t, "U101", "8500", "20000")
	unitB := e.newUnit(t, "U102", "9000", "25000")
	first := e.assignTenant(t, unitA, "tenant-1", "2025-01-01", "2025-12-31")

	bare := tenancy.Tenancy{ID: "bare-1", TenantID: "tenant-1", UnitID: unitB.ID}
	require.NoError(t, e.store.SaveTenancy(ctx, bare))
	_, err := e.deposits.TransferDeposit(ctx, first.Tenancy.ID, bare.ID, true, "test")
	require.NoError(t, err)

	bare2 := tenancy.Tenancy{ID: "bare-2", TenantID: "tenant-1", UnitID: unitB.ID}
	require.NoError(t, e.store.SaveTenancy(ctx, bare2))
	_, err = e.deposits.TransferDeposit(ctx, first.Tenancy.ID, bare2.ID, true, "test")

	assert.ErrorIs(t, err, tenancy.ErrInvalidDepositState, "transferred-out source cannot transfer again")
}

// =============================================================================
// AUDIT TRAIL
// =============================================================================

func TestDepositLedger_EveryMutationAudited(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	unit := e.newUnit(t, "U101", "8500", "20000")
	result := e.assignTenant(t, unit, "tenant-1", "2025-01-01", "2025-12-31")
	e.clock.today = day("2026-01-10")

	_, err := e.deposits.Refund(ctx, result.Tenancy.ID, dec("15000"), dec("5000"), "damages", "manager")
	require.NoError(t, err)

	entries, err := e.store.QueryAudit(ctx, tenancy.AuditFilter{
		TenancyID: &result.Tenancy.ID,
		Actions: []tenancy.AuditAction{
			tenancy.AuditDepositRecorded,
			tenancy.AuditDepositRefunded,
		},
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, tenancy.AuditDepositRecorded, entries[0].Action)
	assert.Equal(t, tenancy.AuditDepositRefunded, entries[1].Action)
	assert.Equal(t, "manager", entries[1].ActorID)
}
