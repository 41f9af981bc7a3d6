/*
lease.go - Lease agreement state machine

PURPOSE:
  Governs a lease's validity window and status:

      DRAFT ──▶ ACTIVE ──▶ EXPIRED     (end date passes; derived on read)
                      └──▶ TERMINATED  (explicit operator action)

TRANSITION GUARDS:
  DRAFT -> ACTIVE      start < end, no other ACTIVE lease on the unit.
                       Side effect: unit becomes OCCUPIED.
  ACTIVE -> TERMINATED frees the unit, unless a new tenancy supersedes
                       it in the same operation (unit switch, renewal).

EXPIRY:
  There is no scheduler. An ACTIVE lease whose end date has passed
  reads as EXPIRED via EffectiveStatus; the stored row is untouched.

RENEWAL:
  A renewal is a new tenancy plus a new ACTIVE agreement. Defaults:
  start = day after prior end, end = one year after start, rent and
  deposit from the prior tenancy, falling back to the unit's current
  base values when the prior values are zero (guards against stale
  zero data). The held deposit is carried to the new tenancy.

SEE ALSO:
  - assign.go:     Creates the initial ACTIVE lease on assignment
  - switchunit.go: Terminates and recreates leases across units
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
// LEASE LIFECYCLE
// =============================================================================

type LeaseLifecycle struct {
	Store Store
	Audit AuditLog
	// Deposits carries the held deposit across a renewal.
	Deposits *DepositLedger
	Now      Clock
}

func NewLeaseLifecycle(store Store, audit AuditLog, deposits *DepositLedger) *LeaseLifecycle {
	return &LeaseLifecycle{Store: store, Audit: audit, Deposits: deposits, Now: SystemClock}
}

func (ll *LeaseLifecycle) withStore(s Store) *LeaseLifecycle {
	c := *ll
	c.Store = s
	if al, ok := s.(AuditLog); ok && c.Audit != nil {
		c.Audit = al
	}
	if c.Deposits != nil {
		c.Deposits = c.Deposits.withStore(s)
	}
	return &c
}

func (ll *LeaseLifecycle) today() Date {
	if ll.Now != nil {
		return ll.Now()
	}
	return Today()
}

// =============================================================================
// DRAFT AND ACTIVATE
// =============================================================================

// LeaseTerms are the payment-specific fields of an agreement.
type LeaseTerms struct {
	DueDay    int
	GraceDays int
	LateFee   decimal.Decimal
}

// CreateDraft creates a DRAFT agreement for a tenancy.
func (ll *LeaseLifecycle) CreateDraft(ctx context.Context, tenancyID TenancyID, terms LeaseTerms) (LeaseAgreement, error) {
	tenancy, err := ll.Store.GetTenancy(ctx, tenancyID)
	if err != nil {
		return LeaseAgreement{}, err
	}
	lease := newLease(tenancy, terms)
	if err := ll.Store.SaveLease(ctx, lease); err != nil {
		return LeaseAgreement{}, err
	}
	return lease, nil
}

// Activate transitions a DRAFT agreement to ACTIVE and occupies the
// unit. Fails when the window is invalid or the unit already has an
// ACTIVE lease.
func (ll *LeaseLifecycle) Activate(ctx context.Context, leaseID LeaseID) (LeaseAgreement, error) {
	lease, err := ll.Store.GetLease(ctx, leaseID)
	if err != nil {
		return LeaseAgreement{}, err
	}
	if lease.Status != LeaseDraft {
		return LeaseAgreement{}, fmt.Errorf("lease %s is %s: %w", lease.ID, lease.Status, ErrLeaseNotDraft)
	}
	return ll.activate(ctx, ll.Store, lease)
}

// activate applies the DRAFT -> ACTIVE guards and side effects against
// the given store (callers inside a transaction pass their tx view).
func (ll *LeaseLifecycle) activate(ctx context.Context, st Store, lease LeaseAgreement) (LeaseAgreement, error) {
	if !lease.Start.Before(lease.End) {
		return LeaseAgreement{}, fmt.Errorf("lease for unit %s (%s..%s): %w",
			lease.UnitID, lease.Start, lease.End, ErrLeaseWindowInvalid)
	}

	if existing, err := st.ActiveLeaseByUnit(ctx, lease.UnitID); err == nil && existing.ID != lease.ID {
		if existing.EffectiveStatus(ll.today()) == LeaseActive {
			return LeaseAgreement{}, &LeaseConflictError{UnitID: lease.UnitID, ExistingLeaseID: existing.ID}
		}
		// Stored ACTIVE but past its end date: persist the lazy expiry
		// so the one-active-lease-per-unit constraint stays true.
		existing.Status = LeaseExpired
		if err := st.SaveLease(ctx, existing); err != nil {
			return LeaseAgreement{}, err
		}
	} else if err != nil && !IsNotFound(err) {
		return LeaseAgreement{}, err
	}

	lease.Status = LeaseActive
	if err := st.SaveLease(ctx, lease); err != nil {
		return LeaseAgreement{}, err
	}

	unit, err := st.GetUnit(ctx, lease.UnitID)
	if err != nil {
		return LeaseAgreement{}, err
	}
	unit.Status = UnitOccupied
	if err := st.SaveUnit(ctx, unit); err != nil {
		return LeaseAgreement{}, err
	}
	return lease, nil
}

// =============================================================================
// TERMINATE
// =============================================================================

// Terminate ends an ACTIVE agreement. With freeUnit the unit returns
// to VACANT; orchestrators that immediately re-occupy the unit (unit
// switch, renewal) pass false.
func (ll *LeaseLifecycle) Terminate(ctx context.Context, leaseID LeaseID, freeUnit bool) (LeaseAgreement, error) {
	return ll.terminate(ctx, ll.Store, leaseID, freeUnit)
}

func (ll *LeaseLifecycle) terminate(ctx context.Context, st Store, leaseID LeaseID, freeUnit bool) (LeaseAgreement, error) {
	lease, err := st.GetLease(ctx, leaseID)
	if err != nil {
		return LeaseAgreement{}, err
	}
	if lease.Status != LeaseActive {
		return LeaseAgreement{}, fmt.Errorf("lease %s is %s: %w", lease.ID, lease.Status, ErrLeaseNotActive)
	}

	now := time.Now().UTC()
	lease.Status = LeaseTerminated
	lease.TerminatedAt = &now
	if err := st.SaveLease(ctx, lease); err != nil {
		return LeaseAgreement{}, err
	}

	if freeUnit {
		unit, err := st.GetUnit(ctx, lease.UnitID)
		if err != nil {
			return LeaseAgreement{}, err
		}
		unit.Status = UnitVacant
		if err := st.SaveUnit(ctx, unit); err != nil {
			return LeaseAgreement{}, err
		}
	}
	return lease, nil
}

// EffectiveStatus derives a lease's status as of today (lazy expiry).
func (ll *LeaseLifecycle) EffectiveStatus(ctx context.Context, leaseID LeaseID) (LeaseStatus, error) {
	lease, err := ll.Store.GetLease(ctx, leaseID)
	if err != nil {
		return "", err
	}
	return lease.EffectiveStatus(ll.today()), nil
}

// =============================================================================
// RENEWAL
// =============================================================================

// RenewInput optionally overrides the renewal defaults.
type RenewInput struct {
	Start   *Date
	End     *Date
	Rent    *decimal.Decimal
	Deposit *decimal.Decimal
}

// RenewalResult is the snapshot returned by Renew.
type RenewalResult struct {
	Tenancy Tenancy
	Lease   LeaseAgreement
	Deposit DepositRecord
}

// Renew closes out the prior agreement and opens a new tenancy and
// ACTIVE agreement on the same unit. See the file comment for the
// defaulting rules. The unit stays OCCUPIED throughout.
func (ll *LeaseLifecycle) Renew(ctx context.Context, tenancyID TenancyID, in RenewInput, actor string) (RenewalResult, error) {
	prior, err := ll.Store.GetTenancy(ctx, tenancyID)
	if err != nil {
		return RenewalResult{}, err
	}
	priorLease, err := ll.Store.LeaseByTenancy(ctx, tenancyID)
	if err != nil {
		return RenewalResult{}, err
	}
	unit, err := ll.Store.GetUnit(ctx, prior.UnitID)
	if err != nil {
		return RenewalResult{}, err
	}

	start := prior.LeaseEnd.AddDays(1)
	if in.Start != nil {
		start = *in.Start
	}
	end := start.AddYears(1)
	if in.End != nil {
		end = *in.End
	}

	// Prior tenancy's terms, falling back to unit bases on stale zeros.
	rent := prior.Rent
	if rent.IsZero() {
		rent = unit.BaseRent
	}
	if in.Rent != nil {
		rent = *in.Rent
	}
	deposit := prior.Deposit
	if deposit.IsZero() {
		deposit = unit.BaseDeposit
	}
	if in.Deposit != nil {
		deposit = *in.Deposit
	}

	var result RenewalResult
	run := func(st Store) error {
		scoped := ll.withStore(st)

		// Close out the prior agreement. Expired naturally when the
		// renewal begins after its end date, terminated otherwise.
		if priorLease.Status == LeaseActive {
			if priorLease.End.Before(scoped.today()) || priorLease.End.Before(start) {
				priorLease.Status = LeaseExpired
				if err := st.SaveLease(ctx, priorLease); err != nil {
					return err
				}
			} else {
				if _, err := scoped.terminate(ctx, st, priorLease.ID, false); err != nil {
					return err
				}
			}
		}

		tenancy := Tenancy{
			ID:         TenancyID(uuid.NewString()),
			TenantID:   prior.TenantID,
			UnitID:     prior.UnitID,
			LeaseStart: start,
			LeaseEnd:   end,
			Rent:       rent,
			Deposit:    deposit,
			CreatedAt:  time.Now().UTC(),
		}
		if err := st.SaveTenancy(ctx, tenancy); err != nil {
			return err
		}

		lease := newLease(tenancy, LeaseTerms{
			DueDay:    priorLease.DueDay,
			GraceDays: priorLease.GraceDays,
			LateFee:   priorLease.LateFee,
		})
		active, err := scoped.activate(ctx, st, lease)
		if err != nil {
			return err
		}

		var dep DepositRecord
		if scoped.Deposits != nil {
			dep, err = scoped.Deposits.TransferDeposit(ctx, prior.ID, tenancy.ID, true, actor)
			if err != nil {
				return err
			}
		}

		result = RenewalResult{Tenancy: tenancy, Lease: active, Deposit: dep}
		return nil
	}

	if tx, ok := ll.Store.(TxStore); ok {
		err = tx.WithTx(ctx, run)
	} else {
		err = run(ll.Store)
	}
	if err != nil {
		return RenewalResult{}, err
	}

	err = ll.audit(ctx, AuditEntry{
		ActorID:   actor,
		Action:    AuditLeaseRenewed,
		UnitID:    prior.UnitID,
		TenancyID: result.Tenancy.ID,
		Detail: map[string]string{
			"prior_tenancy": string(prior.ID),
			"start":         start.String(),
			"end":           end.String(),
		},
	})
	if err != nil {
		return RenewalResult{}, err
	}
	return result, nil
}

func newLease(t Tenancy, terms LeaseTerms) LeaseAgreement {
	if terms.DueDay == 0 {
		terms.DueDay = 1
	}
	return LeaseAgreement{
		ID:        LeaseID(uuid.NewString()),
		TenancyID: t.ID,
		UnitID:    t.UnitID,
		Status:    LeaseDraft,
		Start:     t.LeaseStart,
		End:       t.LeaseEnd,
		DueDay:    terms.DueDay,
		GraceDays: terms.GraceDays,
		LateFee:   terms.LateFee,
		CreatedAt: time.Now().UTC(),
	}
}

func (ll *LeaseLifecycle) audit(ctx context.Context, entry AuditEntry) error {
	if ll.Audit == nil {
		return nil
	}
	entry.ID = uuid.NewString()
	entry.Timestamp = time.Now().UTC()
	return ll.Audit.AppendAudit(ctx, entry)
}
