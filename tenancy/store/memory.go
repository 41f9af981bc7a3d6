// Package store provides in-memory Store implementations for tests
// and development.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/tenancy-engine/tenancy"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Memory is an in-memory tenancy.Store plus tenancy.AuditLog. It
// enforces the one-active-lease-per-unit invariant the same way the
// SQLite store's partial unique index does.
//
// Each public method locks and delegates to an unexported *Locked
// helper; txMemoryView calls the helpers directly while TxMemory.WithTx
// holds the lock.
type Memory struct {
	mu       sync.RWMutex
	units    map[tenancy.UnitID]tenancy.Unit
	tenants  map[tenancy.TenancyID]tenancy.Tenancy
	leases   map[tenancy.LeaseID]tenancy.LeaseAgreement
	deposits map[tenancy.DepositID]tenancy.DepositRecord
	readings map[tenancy.ReadingID]tenancy.UtilityReading
	charges  map[tenancy.ChargeID]tenancy.RecurringCharge
	audits   []tenancy.AuditEntry
}

var (
	_ tenancy.Store    = (*Memory)(nil)
	_ tenancy.AuditLog = (*Memory)(nil)
	_ tenancy.TxStore  = (*TxMemory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		units:    make(map[tenancy.UnitID]tenancy.Unit),
		tenants:  make(map[tenancy.TenancyID]tenancy.Tenancy),
		leases:   make(map[tenancy.LeaseID]tenancy.LeaseAgreement),
		deposits: make(map[tenancy.DepositID]tenancy.DepositRecord),
		readings: make(map[tenancy.ReadingID]tenancy.UtilityReading),
		charges:  make(map[tenancy.ChargeID]tenancy.RecurringCharge),
	}
}

// -----------------------------------------------------------------------------
// Units
// -----------------------------------------------------------------------------

func (m *Memory) SaveUnit(_ context.Context, u tenancy.Unit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveUnitLocked(u)
}

func (m *Memory) saveUnitLocked(u tenancy.Unit) error {
	m.units[u.ID] = u
	return nil
}

func (m *Memory) GetUnit(_ context.Context, id tenancy.UnitID) (tenancy.Unit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getUnitLocked(id)
}

func (m *Memory) getUnitLocked(id tenancy.UnitID) (tenancy.Unit, error) {
	u, ok := m.units[id]
	if !ok {
		return tenancy.Unit{}, tenancy.ErrUnitNotFound
	}
	return u, nil
}

func (m *Memory) ListUnits(_ context.Context) ([]tenancy.Unit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listUnitsLocked()
}

func (m *Memory) listUnitsLocked() ([]tenancy.Unit, error) {
	units := make([]tenancy.Unit, 0, len(m.units))
	for _, u := range m.units {
		units = append(units, u)
	}
	sort.Slice(units, func(i, j int) bool { return units[i].Name < units[j].Name })
	return units, nil
}

// -----------------------------------------------------------------------------
// Tenancies
// -----------------------------------------------------------------------------

func (m *Memory) SaveTenancy(_ context.Context, t tenancy.Tenancy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveTenancyLocked(t)
}

func (m *Memory) saveTenancyLocked(t tenancy.Tenancy) error {
	m.tenants[t.ID] = t
	return nil
}

func (m *Memory) GetTenancy(_ context.Context, id tenancy.TenancyID) (tenancy.Tenancy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getTenancyLocked(id)
}

func (m *Memory) getTenancyLocked(id tenancy.TenancyID) (tenancy.Tenancy, error) {
	t, ok := m.tenants[id]
	if !ok {
		return tenancy.Tenancy{}, tenancy.ErrTenancyNotFound
	}
	return t, nil
}

func (m *Memory) TenanciesByUnit(_ context.Context, unitID tenancy.UnitID) ([]tenancy.Tenancy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tenanciesByUnitLocked(unitID)
}

func (m *Memory) tenanciesByUnitLocked(unitID tenancy.UnitID) ([]tenancy.Tenancy, error) {
	var result []tenancy.Tenancy
	for _, t := range m.tenants {
		if t.UnitID == unitID {
			result = append(result, t)
		}
	}
	// Newest-created first; the current-tenant rule depends on it.
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (m *Memory) DeleteTenancy(_ context.Context, id tenancy.TenancyID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteTenancyLocked(id)
}

func (m *Memory) deleteTenancyLocked(id tenancy.TenancyID) error {
	if _, ok := m.tenants[id]; !ok {
		return tenancy.ErrTenancyNotFound
	}
	delete(m.tenants, id)
	return nil
}

// -----------------------------------------------------------------------------
// Lease agreements
// -----------------------------------------------------------------------------

func (m *Memory) SaveLease(_ context.Context, l tenancy.LeaseAgreement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLeaseLocked(l)
}

func (m *Memory) saveLeaseLocked(l tenancy.LeaseAgreement) error {
	if l.Status == tenancy.LeaseActive {
		for _, other := range m.leases {
			if other.UnitID == l.UnitID && other.Status == tenancy.LeaseActive && other.ID != l.ID {
				return &tenancy.LeaseConflictError{UnitID: l.UnitID, ExistingLeaseID: other.ID}
			}
		}
	}
	m.leases[l.ID] = l
	return nil
}

func (m *Memory) GetLease(_ context.Context, id tenancy.LeaseID) (tenancy.LeaseAgreement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLeaseLocked(id)
}

func (m *Memory) getLeaseLocked(id tenancy.LeaseID) (tenancy.LeaseAgreement, error) {
	l, ok := m.leases[id]
	if !ok {
		return tenancy.LeaseAgreement{}, tenancy.ErrLeaseNotFound
	}
	return l, nil
}

func (m *Memory) LeaseByTenancy(_ context.Context, tenancyID tenancy.TenancyID) (tenancy.LeaseAgreement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.leaseByTenancyLocked(tenancyID)
}

func (m *Memory) leaseByTenancyLocked(tenancyID tenancy.TenancyID) (tenancy.LeaseAgreement, error) {
	var found tenancy.LeaseAgreement
	var ok bool
	for _, l := range m.leases {
		if l.TenancyID == tenancyID {
			// Latest agreement wins if a tenancy ever has several.
			if !ok || l.CreatedAt.After(found.CreatedAt) {
				found, ok = l, true
			}
		}
	}
	if !ok {
		return tenancy.LeaseAgreement{}, tenancy.ErrLeaseNotFound
	}
	return found, nil
}

func (m *Memory) ActiveLeaseByUnit(_ context.Context, unitID tenancy.UnitID) (tenancy.LeaseAgreement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeLeaseByUnitLocked(unitID)
}

func (m *Memory) activeLeaseByUnitLocked(unitID tenancy.UnitID) (tenancy.LeaseAgreement, error) {
	for _, l := range m.leases {
		if l.UnitID == unitID && l.Status == tenancy.LeaseActive {
			return l, nil
		}
	}
	return tenancy.LeaseAgreement{}, tenancy.ErrLeaseNotFound
}

// -----------------------------------------------------------------------------
// Deposit records
// -----------------------------------------------------------------------------

func (m *Memory) SaveDeposit(_ context.Context, d tenancy.DepositRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveDepositLocked(d)
}

func (m *Memory) saveDepositLocked(d tenancy.DepositRecord) error {
	m.deposits[d.ID] = d
	return nil
}

func (m *Memory) GetDeposit(_ context.Context, id tenancy.DepositID) (tenancy.DepositRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getDepositLocked(id)
}

func (m *Memory) getDepositLocked(id tenancy.DepositID) (tenancy.DepositRecord, error) {
	d, ok := m.deposits[id]
	if !ok {
		return tenancy.DepositRecord{}, tenancy.ErrDepositNotFound
	}
	return d, nil
}

func (m *Memory) DepositByTenancy(_ context.Context, tenancyID tenancy.TenancyID) (tenancy.DepositRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.depositByTenancyLocked(tenancyID)
}

func (m *Memory) depositByTenancyLocked(tenancyID tenancy.TenancyID) (tenancy.DepositRecord, error) {
	var found tenancy.DepositRecord
	var ok bool
	for _, d := range m.deposits {
		if d.TenancyID == tenancyID {
			// Prefer the active record over a transferred-out one.
			if !ok || (found.TransferredOut && !d.TransferredOut) ||
				(found.TransferredOut == d.TransferredOut && d.CreatedAt.After(found.CreatedAt)) {
				found, ok = d, true
			}
		}
	}
	if !ok {
		return tenancy.DepositRecord{}, tenancy.ErrDepositNotFound
	}
	return found, nil
}

// -----------------------------------------------------------------------------
// Utility readings
// -----------------------------------------------------------------------------

func (m *Memory) SaveReading(_ context.Context, r tenancy.UtilityReading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveReadingLocked(r)
}

func (m *Memory) saveReadingLocked(r tenancy.UtilityReading) error {
	m.readings[r.ID] = r
	return nil
}

func (m *Memory) ReadingsByUnit(_ context.Context, unitID tenancy.UnitID) ([]tenancy.UtilityReading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.readingsByUnitLocked(unitID)
}

func (m *Memory) readingsByUnitLocked(unitID tenancy.UnitID) ([]tenancy.UtilityReading, error) {
	var result []tenancy.UtilityReading
	for _, r := range m.readings {
		if r.UnitID == unitID {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Month < result[j].Month })
	return result, nil
}

// -----------------------------------------------------------------------------
// Recurring charges
// -----------------------------------------------------------------------------

func (m *Memory) SaveCharge(_ context.Context, c tenancy.RecurringCharge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveChargeLocked(c)
}

func (m *Memory) saveChargeLocked(c tenancy.RecurringCharge) error {
	m.charges[c.ID] = c
	return nil
}

func (m *Memory) ChargeByTenantMonth(_ context.Context, tenantID tenancy.TenantID, month string) (tenancy.RecurringCharge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.chargeByTenantMonthLocked(tenantID, month)
}

func (m *Memory) chargeByTenantMonthLocked(tenantID tenancy.TenantID, month string) (tenancy.RecurringCharge, error) {
	for _, c := range m.charges {
		if c.TenantID == tenantID && c.Month == month {
			return c, nil
		}
	}
	return tenancy.RecurringCharge{}, tenancy.ErrChargeNotFound
}

func (m *Memory) ChargesByTenant(_ context.Context, tenantID tenancy.TenantID) ([]tenancy.RecurringCharge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.chargesByTenantLocked(tenantID)
}

func (m *Memory) chargesByTenantLocked(tenantID tenancy.TenantID) ([]tenancy.RecurringCharge, error) {
	var result []tenancy.RecurringCharge
	for _, c := range m.charges {
		if c.TenantID == tenantID {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Month < result[j].Month })
	return result, nil
}

// -----------------------------------------------------------------------------
// Audit log
// -----------------------------------------------------------------------------

func (m *Memory) AppendAudit(_ context.Context, entry tenancy.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendAuditLocked(entry)
}

func (m *Memory) appendAuditLocked(entry tenancy.AuditEntry) error {
	m.audits = append(m.audits, entry)
	return nil
}

func (m *Memory) QueryAudit(_ context.Context, filter tenancy.AuditFilter) ([]tenancy.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queryAuditLocked(filter)
}

func (m *Memory) queryAuditLocked(filter tenancy.AuditFilter) ([]tenancy.AuditEntry, error) {
	var result []tenancy.AuditEntry
	for _, e := range m.audits {
		if filter.TenancyID != nil && e.TenancyID != *filter.TenancyID {
			continue
		}
		if filter.UnitID != nil && e.UnitID != *filter.UnitID {
			continue
		}
		if filter.ActorID != nil && e.ActorID != *filter.ActorID {
			continue
		}
		if len(filter.Actions) > 0 && !containsAction(filter.Actions, e.Action) {
			continue
		}
		result = append(result, e)
	}
	return result, nil
}

func containsAction(actions []tenancy.AuditAction, a tenancy.AuditAction) bool {
	for _, x := range actions {
		if x == a {
			return true
		}
	}
	return false
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support, simulated with a
// snapshot + restore on error.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction. The store lock is held for
// the whole transaction, so writes committed by other goroutines can
// never land between the snapshot and a restore. fn receives an
// unlocked view; it must not call the outer store.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(tenancy.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshotLocked()
	if err := fn(&txMemoryView{parent: tm.Memory}); err != nil {
		tm.restoreLocked(snapshot)
		return err
	}
	return nil
}

func (tm *TxMemory) snapshotLocked() memorySnapshot {
	return memorySnapshot{
		units:    cloneMap(tm.units),
		tenants:  cloneMap(tm.tenants),
		leases:   cloneMap(tm.leases),
		deposits: cloneMap(tm.deposits),
		readings: cloneMap(tm.readings),
		charges:  cloneMap(tm.charges),
		audits:   append([]tenancy.AuditEntry(nil), tm.audits...),
	}
}

func (tm *TxMemory) restoreLocked(s memorySnapshot) {
	tm.units = s.units
	tm.tenants = s.tenants
	tm.leases = s.leases
	tm.deposits = s.deposits
	tm.readings = s.readings
	tm.charges = s.charges
	tm.audits = s.audits
}

type memorySnapshot struct {
	units    map[tenancy.UnitID]tenancy.Unit
	tenants  map[tenancy.TenancyID]tenancy.Tenancy
	leases   map[tenancy.LeaseID]tenancy.LeaseAgreement
	deposits map[tenancy.DepositID]tenancy.DepositRecord
	readings map[tenancy.ReadingID]tenancy.UtilityReading
	charges  map[tenancy.ChargeID]tenancy.RecurringCharge
	audits   []tenancy.AuditEntry
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// txMemoryView is the Store handed to a WithTx closure. The parent's
// lock is already held, so every call goes straight to the *Locked
// helpers. Audit entries written through the view are covered by the
// transaction's snapshot and vanish with a rollback.
type txMemoryView struct {
	parent *Memory
}

var (
	_ tenancy.Store    = (*txMemoryView)(nil)
	_ tenancy.AuditLog = (*txMemoryView)(nil)
)

func (tv *txMemoryView) SaveUnit(_ context.Context, u tenancy.Unit) error {
	return tv.parent.saveUnitLocked(u)
}

func (tv *txMemoryView) GetUnit(_ context.Context, id tenancy.UnitID) (tenancy.Unit, error) {
	return tv.parent.getUnitLocked(id)
}

func (tv *txMemoryView) ListUnits(_ context.Context) ([]tenancy.Unit, error) {
	return tv.parent.listUnitsLocked()
}

func (tv *txMemoryView) SaveTenancy(_ context.Context, t tenancy.Tenancy) error {
	return tv.parent.saveTenancyLocked(t)
}

func (tv *txMemoryView) GetTenancy(_ context.Context, id tenancy.TenancyID) (tenancy.Tenancy, error) {
	return tv.parent.getTenancyLocked(id)
}

func (tv *txMemoryView) TenanciesByUnit(_ context.Context, unitID tenancy.UnitID) ([]tenancy.Tenancy, error) {
	return tv.parent.tenanciesByUnitLocked(unitID)
}

func (tv *txMemoryView) DeleteTenancy(_ context.Context, id tenancy.TenancyID) error {
	return tv.parent.deleteTenancyLocked(id)
}

func (tv *txMemoryView) SaveLease(_ context.Context, l tenancy.LeaseAgreement) error {
	return tv.parent.saveLeaseLocked(l)
}

func (tv *txMemoryView) GetLease(_ context.Context, id tenancy.LeaseID) (tenancy.LeaseAgreement, error) {
	return tv.parent.getLeaseLocked(id)
}

func (tv *txMemoryView) LeaseByTenancy(_ context.Context, tenancyID tenancy.TenancyID) (tenancy.LeaseAgreement, error) {
	return tv.parent.leaseByTenancyLocked(tenancyID)
}

func (tv *txMemoryView) ActiveLeaseByUnit(_ context.Context, unitID tenancy.UnitID) (tenancy.LeaseAgreement, error) {
	return tv.parent.activeLeaseByUnitLocked(unitID)
}

func (tv *txMemoryView) SaveDeposit(_ context.Context, d tenancy.DepositRecord) error {
	return tv.parent.saveDepositLocked(d)
}

func (tv *txMemoryView) GetDeposit(_ context.Context, id tenancy.DepositID) (tenancy.DepositRecord, error) {
	return tv.parent.getDepositLocked(id)
}

func (tv *txMemoryView) DepositByTenancy(_ context.Context, tenancyID tenancy.TenancyID) (tenancy.DepositRecord, error) {
	return tv.parent.depositByTenancyLocked(tenancyID)
}

func (tv *txMemoryView) SaveReading(_ context.Context, r tenancy.UtilityReading) error {
	return tv.parent.saveReadingLocked(r)
}

func (tv *txMemoryView) ReadingsByUnit(_ context.Context, unitID tenancy.UnitID) ([]tenancy.UtilityReading, error) {
	return tv.parent.readingsByUnitLocked(unitID)
}

func (tv *txMemoryView) SaveCharge(_ context.Context, c tenancy.RecurringCharge) error {
	return tv.parent.saveChargeLocked(c)
}

func (tv *txMemoryView) ChargeByTenantMonth(_ context.Context, tenantID tenancy.TenantID, month string) (tenancy.RecurringCharge, error) {
	return tv.parent.chargeByTenantMonthLocked(tenantID, month)
}

func (tv *txMemoryView) ChargesByTenant(_ context.Context, tenantID tenancy.TenantID) ([]tenancy.RecurringCharge, error) {
	return tv.parent.chargesByTenantLocked(tenantID)
}

func (tv *txMemoryView) AppendAudit(_ context.Context, entry tenancy.AuditEntry) error {
	return tv.parent.appendAuditLocked(entry)
}

func (tv *txMemoryView) QueryAudit(_ context.Context, filter tenancy.AuditFilter) ([]tenancy.AuditEntry, error) {
	return tv.parent.queryAuditLocked(filter)
}
