package tenancy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/tenancy-engine/tenancy"
)

// =============================================================================
// ACTIVATION
// =============================================================================

func TestLeaseLifecycle_ActivateOccupiesUnit(t *testing.T) {
	// GIVEN: A draft lease on a vacant unit
	// WHEN: Activating it
	// THEN: Lease is ACTIVE and the unit reads OCCUPIED

	e := newTestEngine(t)
	ctx := context.Background()
	unit := e.newUnit(t, "U101", "8500", "20000")

	tn := tenancy.Tenancy{
		ID: "t-1", TenantID: "tenant-1", UnitID: unit.ID,
		LeaseStart: day("2025-01-01"), LeaseEnd: day("2025-12-31"),
	}
	require.NoError(t, e.store.SaveTenancy(ctx, tn))

	draft, err := e.leases.CreateDraft(ctx, tn.ID, tenancy.LeaseTerms{DueDay: 5})
	require.NoError(t, err)
	assert.Equal(t, tenancy.LeaseDraft, draft.Status)

	active, err := e.leases.Activate(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, tenancy.LeaseActive, active.Status)
	assert.Equal(t, 5, active.DueDay)

	got, err := e.store.GetUnit(ctx, unit.ID)
	require.NoError(t, err)
	assert.Equal(t, tenancy.UnitOccupied, got.Status)
}

func TestLeaseLifecycle_ActivateInvalidWindow_Rejected(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	unit := e.newUnit(t, "U101", "8500", "20000")

	tn := tenancy.Tenancy{
		ID: "t-1", TenantID: "tenant-1", UnitID: unit.ID,
		LeaseStart: day("2025-12-31"), LeaseEnd: day("2025-01-01"),
	}
	require.NoError(t, e.store.SaveTenancy(ctx, tn))
	draft, err := e.leases.CreateDraft(ctx, tn.ID, tenancy.LeaseTerms{})
	require.NoError(t, err)

	_, err = e.leases.Activate(ctx, draft.ID)

	assert.ErrorIs(t, err, tenancy.ErrLeaseWindowInvalid)
	assert.True(t, tenancy.IsValidation(err))
}

func TestLeaseLifecycle_SecondActiveLeaseOnUnit_Rejected(t *testing.T) {
	// GIVEN: A unit with an ACTIVE lease
	// WHEN: Activating a second lease for the same unit
	// THEN: Rejected with a lease conflict naming the existing lease

	e := newTestEngine(t)
	ctx := context.Background()
	unit := e.newUnit(t, "U101", "8500", "20000")
	first := e.assignTenant(t, unit, "tenant-1", "2025-01-01", "2025-12-31")

	tn := tenancy.Tenancy{
		ID: "t-2", TenantID: "tenant-2", UnitID: unit.ID,
		LeaseStart: day("2025-06-01"), LeaseEnd: day("2026-05-31"),
	}
	require.NoError(t, e.store.SaveTenancy(ctx, tn))
	draft, err := e.leases.CreateDraft(ctx, tn.ID, tenancy.LeaseTerms{})
	require.NoError(t, err)

	_, err = e.leases.Activate(ctx, draft.ID)

	require.Error(t, err)
	var conflict *tenancy.LeaseConflictError
	assert.ErrorAs(t, err, &conflict)
	assert.Equal(t, first.Lease.ID, conflict.ExistingLeaseID)
	assert.True(t, tenancy.IsInvariantViolation(err))
}

func TestLeaseLifecycle_ActivateNonDraft_Rejected(t *testing.T) {
	e := newTestEngine(t)
	unit := e.newUnit(t, "U101", "8500", "20000")
	result := e.assignTenant(t, unit, "tenant-1", "2025-01-01", "2025-12-31")

	_, err := e.leases.Activate(context.Background(), result.Lease.ID)

	assert.ErrorIs(t, err, tenancy.ErrLeaseNotDraft)
}

// =============================================================================
// LAZY EXPIRY
// =============================================================================

func TestLeaseLifecycle_ExpiryDerivedOnRead(t *testing.T) {
	// GIVEN: An ACTIVE lease whose end date has passed
	// WHEN: Reading the effective status
	// THEN: EXPIRED, while the stored row still says ACTIVE

	e := newTestEngine(t)
	unit := e.newUnit(t, "U101", "8500", "20000")
	result := e.assignTenant(t, unit, "tenant-1", "2025-01-01", "2025-12-31")

	e.clock.today = day("2026-03-01")

	status, err := e.leases.EffectiveStatus(context.Background(), result.Lease.ID)
	require.NoError(t, err)
	assert.Equal(t, tenancy.LeaseExpired, status)

	stored, err := e.store.GetLease(context.Background(), result.Lease.ID)
	require.NoError(t, err)
	assert.Equal(t, tenancy.LeaseActive, stored.Status, "expiry is derived, the row is untouched")
}

func TestLeaseLifecycle_ActivationPersistsStaleExpiry(t *testing.T) {
	// A stored-ACTIVE lease past its end date must not block a new
	// activation; it gets persisted as EXPIRED in the same operation.

	e := newTestEngine(t)
	ctx := context.Background()
	unit := e.newUnit(t, "U101", "8500", "20000")
	old := e.assignTenant(t, unit, "tenant-1", "2025-01-01", "2025-12-31")

	e.clock.today = day("2026-03-01")

	// The unit still reads OCCUPIED; the operator frees it first.
	got, _ := e.store.GetUnit(ctx, unit.ID)
	got.Status = tenancy.UnitVacant
	require.NoError(t, e.store.SaveUnit(ctx, got))

	fresh := e.assignTenant(t, got, "tenant-2", "2026-03-01", "2027-02-28")
	assert.Equal(t, tenancy.LeaseActive, fresh.Lease.Status)

	stale, err := e.store.GetLease(ctx, old.Lease.ID)
	require.NoError(t, err)
	assert.Equal(t, tenancy.LeaseExpired, stale.Status)
}

// =============================================================================
// TERMINATION
// =============================================================================

func TestLeaseLifecycle_TerminateFreesUnit(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	unit := e.newUnit(t, "U101", "8500", "20000")
	result := e.assignTenant(t, unit, "tenant-1", "2025-01-01", "2025-12-31")

	lease, err := e.leases.Terminate(ctx, result.Lease.ID, true)
	require.NoError(t, err)

	assert.Equal(t, tenancy.LeaseTerminated, lease.Status)
	require.NotNil(t, lease.TerminatedAt)

	got, err := e.store.GetUnit(ctx, unit.ID)
	require.NoError(t, err)
	assert.Equal(t, tenancy.UnitVacant, got.Status)
}

func TestLeaseLifecycle_TerminateTwice_Rejected(t *testing.T) {
	e := newTestEngine(t)
	unit := e.newUnit(t, "U101", "8500", "20000")
	result := e.assignTenant(t, unit, "tenant-1", "2025-01-01", "2025-12-31")

	_, err := e.leases.Terminate(context.Background(), result.Lease.ID, true)
	require.NoError(t, err)

	_, err = e.leases.Terminate(context.Background(), result.Lease.ID, true)
	assert.ErrorIs(t, err, tenancy.ErrLeaseNotActive)
	assert.True(t, tenancy.IsStateConflict(err))
}

// =============================================================================
// RENEWAL
// =============================================================================

func TestLeaseLifecycle_Renew_Defaults(t *testing.T) {
	// GIVEN: A tenancy ending 2025-12-31 with rent 8500, deposit 20000
	// WHEN: Renewing with no overrides
	// THEN: New window is 2026-01-01..2027-01-01, rent and deposit carried

	e := newTestEngine(t)
	ctx := context.Background()
	unit := e.newUnit(t, "U101", "8500", "20000")
	prior := e.assignTenant(t, unit, "tenant-1", "2025-01-01", "2025-12-31")

	result, err := e.leases.Renew(ctx, prior.Tenancy.ID, tenancy.RenewInput{}, "test")
	require.NoError(t, err)

	assert.Equal(t, "2026-01-01", result.Tenancy.LeaseStart.String())
	assert.Equal(t, "2027-01-01", result.Tenancy.LeaseEnd.String())
	assert.True(t, result.Tenancy.Rent.Equal(dec("8500")))
	assert.True(t, result.Tenancy.Deposit.Equal(dec("20000")))
	assert.Equal(t, tenancy.LeaseActive, result.Lease.Status)
	assert.True(t, result.Deposit.Held.Equal(dec("20000")), "held deposit follows the renewal")

	// Unit stays occupied throughout.
	got, err := e.store.GetUnit(ctx, unit.ID)
	require.NoError(t, err)
	assert.Equal(t, tenancy.UnitOccupied, got.Status)

	// Prior agreement is closed out, not left ACTIVE.
	old, err := e.store.GetLease(ctx, prior.Lease.ID)
	require.NoError(t, err)
	assert.NotEqual(t, tenancy.LeaseActive, old.Status)
}

func TestLeaseLifecycle_Renew_ZeroRentFallsBackToUnitBase(t *testing.T) {
	// Stale zero rent on the prior tenancy must not carry into the
	// renewal; the unit's current base applies instead.

	e := newTestEngine(t)
	ctx := context.Background()
	unit := e.newUnit(t, "U101", "8500", "20000")
	prior := e.assignTenant(t, unit, "tenant-1", "2025-01-01", "2025-12-31")

	tn, err := e.store.GetTenancy(ctx, prior.Tenancy.ID)
	require.NoError(t, err)
	tn.Rent = dec("0")
	require.NoError(t, e.store.SaveTenancy(ctx, tn))

	result, err := e.leases.Renew(ctx, prior.Tenancy.ID, tenancy.RenewInput{}, "test")
	require.NoError(t, err)

	assert.True(t, result.Tenancy.Rent.Equal(dec("8500")))
}

func TestLeaseLifecycle_Renew_Overrides(t *testing.T) {
	e := newTestEngine(t)
	unit := e.newUnit(t, "U101", "8500", "20000")
	prior := e.assignTenant(t, unit, "tenant-1", "2025-01-01", "2025-12-31")

	start := day("2026-02-01")
	end := day("2026-07-31")
	rent := dec("9000")
	result, err := e.leases.Renew(context.Background(), prior.Tenancy.ID, tenancy.RenewInput{
		Start: &start,
		End:   &end,
		Rent:  &rent,
	}, "test")
	require.NoError(t, err)

	assert.Equal(t, "2026-02-01", result.Tenancy.LeaseStart.String())
	assert.Equal(t, "2026-07-31", result.Tenancy.LeaseEnd.String())
	assert.True(t, result.Tenancy.Rent.Equal(dec("9000")))
	assert.True(t, result.Tenancy.Deposit.Equal(dec("20000")), "deposit still carried")
}

func TestLeaseLifecycle_Renew_Audited(t *testing.T) {
	e := newTestEngine(t)
	unit := e.newUnit(t, "U101", "8500", "20000")
	prior := e.assignTenant(t, unit, "tenant-1", "2025-01-01", "2025-12-31")

	result, err := e.leases.Renew(context.Background(), prior.Tenancy.ID, tenancy.RenewInput{}, "manager")
	require.NoError(t, err)

	entries, err := e.store.QueryAudit(context.Background(), tenancy.AuditFilter{
		TenancyID: &result.Tenancy.ID,
		Actions:   []tenancy.AuditAction{tenancy.AuditLeaseRenewed},
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "manager", entries[0].ActorID)
	assert.Equal(t, string(prior.Tenancy.ID), entries[0].Detail["prior_tenancy"])
}
