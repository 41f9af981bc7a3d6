package tenancy_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/warp/tenancy-engine/tenancy"
	"github.com/warp/tenancy-engine/tenancy/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// fakeClock lets tests move "today" without touching the wall clock.
type fakeClock struct {
	today tenancy.Date
}

func (c *fakeClock) Now() tenancy.Date { return c.today }

// engine wires every service onto one in-memory transactional store
// with a controllable clock.
type engine struct {
	store    *store.TxMemory
	clock    *fakeClock
	billing  *tenancy.BillingService
	deposits *tenancy.DepositLedger
	leases   *tenancy.LeaseLifecycle
	assign   *tenancy.AssignmentService
	switcher *tenancy.UnitSwitcher
	vacater  *tenancy.Vacater
}

func newTestEngine(t *testing.T) *engine {
	t.Helper()
	st := store.NewTxMemory()
	clock := &fakeClock{today: day("2025-06-15")}

	deposits := tenancy.NewDepositLedger(st, st)
	deposits.Now = clock.Now
	leases := tenancy.NewLeaseLifecycle(st, st, deposits)
	leases.Now = clock.Now
	billing := tenancy.NewBillingService(st, st)
	billing.Now = clock.Now
	assign := tenancy.NewAssignmentService(st, deposits, leases, st)
	assign.Now = clock.Now
	switcher := tenancy.NewUnitSwitcher(st, deposits, leases, st)
	switcher.Now = clock.Now
	vacater := tenancy.NewVacater(st, leases, deposits, st)
	vacater.Now = clock.Now

	return &engine{
		store:    st,
		clock:    clock,
		billing:  billing,
		deposits: deposits,
		leases:   leases,
		assign:   assign,
		switcher: switcher,
		vacater:  vacater,
	}
}

// newUnit saves a vacant unit and returns it.
func (e *engine) newUnit(t *testing.T, name, baseRent, baseDeposit string) tenancy.Unit {
	t.Helper()
	unit := tenancy.Unit{
		ID:          tenancy.UnitID(uuid.NewString()),
		Name:        name,
		Status:      tenancy.UnitVacant,
		BaseRent:    dec(baseRent),
		BaseDeposit: dec(baseDeposit),
	}
	require.NoError(t, e.store.SaveUnit(context.Background(), unit))
	return unit
}

// assignTenant runs a full assignment with the standard test window.
func (e *engine) assignTenant(t *testing.T, unit tenancy.Unit, tenantID, start, end string) tenancy.AssignResult {
	t.Helper()
	result, err := e.assign.Assign(context.Background(), tenancy.AssignInput{
		UnitID:     unit.ID,
		TenantID:   tenancy.TenantID(tenantID),
		LeaseStart: day(start),
		LeaseEnd:   day(end),
	}, "test")
	require.NoError(t, err)
	return result
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(s string) tenancy.Date {
	d, err := tenancy.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}
