/*
deposit.go - Security deposit ledger

PURPOSE:
  Tracks a tenancy's security deposit from the day it is recorded until
  it is refunded, withheld for damages, or carried to another unit.

DISPOSITION:
  Derived on read, never stored:
    HELD                while the tenancy's lease is current
    REFUND_DUE          lease end has passed, nothing refunded yet
    PARTIALLY_REFUNDED  refund recorded, refunded+withheld < held
    FULLY_REFUNDED      refunded+withheld == held
    TRANSFERRED         superseded by a transfer to another tenancy

TRANSFER:
  When a tenant switches units, exactly one tenancy holds the active
  deposit. The source record is marked transferred-out, not duplicated
  and not deleted - the held-amount history survives every mutation.

AUDIT:
  Every mutation appends an audit entry with timestamp and operator.

SEE ALSO:
  - switchunit.go: Calls TransferDeposit during a unit switch
  - types.go:      DepositRecord.Disposition derivation
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
// DEPOSIT LEDGER
// =============================================================================

// DepositLedger performs all deposit mutations. No mutation is
// destructive; refunds update amounts but keep the held history.
type DepositLedger struct {
	Store Store
	Audit AuditLog
	Now   Clock
}

func NewDepositLedger(store Store, audit AuditLog) *DepositLedger {
	return &DepositLedger{Store: store, Audit: audit, Now: SystemClock}
}

// withStore returns a copy bound to a different Store. Orchestrators
// use this to run deposit mutations inside their transaction. When the
// transactional store also carries the audit log, audit entries go
// through it too, so they commit and roll back with the writes.
func (dl *DepositLedger) withStore(s Store) *DepositLedger {
	c := *dl
	c.Store = s
	if al, ok := s.(AuditLog); ok && c.Audit != nil {
		c.Audit = al
	}
	return &c
}

func (dl *DepositLedger) today() Date {
	if dl.Now != nil {
		return dl.Now()
	}
	return Today()
}

// RecordDeposit sets the held amount for a tenancy at creation time.
func (dl *DepositLedger) RecordDeposit(ctx context.Context, tenancyID TenancyID, amount decimal.Decimal, actor string) (DepositRecord, error) {
	if amount.IsNegative() {
		return DepositRecord{}, fmt.Errorf("deposit for tenancy %s: %w", tenancyID, ErrNegativeAmount)
	}
	if _, err := dl.Store.GetTenancy(ctx, tenancyID); err != nil {
		return DepositRecord{}, err
	}

	// One active deposit per tenancy.
	if existing, err := dl.Store.DepositByTenancy(ctx, tenancyID); err == nil {
		if !existing.TransferredOut {
			return DepositRecord{}, fmt.Errorf("tenancy %s: %w", tenancyID, ErrDepositConflict)
		}
	} else if !IsNotFound(err) {
		return DepositRecord{}, err
	}

	now := time.Now().UTC()
	rec := DepositRecord{
		ID:        DepositID(uuid.NewString()),
		TenancyID: tenancyID,
		Held:      amount,
		Refunded:  decimal.Zero,
		Withheld:  decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := dl.Store.SaveDeposit(ctx, rec); err != nil {
		return DepositRecord{}, err
	}

	err := dl.audit(ctx, AuditEntry{
		ActorID:   actor,
		Action:    AuditDepositRecorded,
		TenancyID: tenancyID,
		Detail:    map[string]string{"held": amount.String()},
	})
	if err != nil {
		return DepositRecord{}, err
	}
	return rec, nil
}

// TransferDeposit moves the active deposit from one tenancy to another
// when a tenant switches units. With keepAmount the held amount is
// carried forward unchanged; otherwise the new record starts at the
// new unit's base deposit. The source record is marked transferred-out.
func (dl *DepositLedger) TransferDeposit(ctx context.Context, from, to TenancyID, keepAmount bool, actor string) (DepositRecord, error) {
	src, err := dl.Store.DepositByTenancy(ctx, from)
	if err != nil {
		return DepositRecord{}, err
	}
	if src.TransferredOut || src.Settled() {
		return DepositRecord{}, &DepositStateError{TenancyID: from, Disposition: src.Disposition(Date{}, dl.today())}
	}

	held := src.Held
	if !keepAmount {
		toTenancy, err := dl.Store.GetTenancy(ctx, to)
		if err != nil {
			return DepositRecord{}, err
		}
		unit, err := dl.Store.GetUnit(ctx, toTenancy.UnitID)
		if err != nil {
			return DepositRecord{}, err
		}
		held = unit.BaseDeposit
	}

	now := time.Now().UTC()
	src.TransferredOut = true
	src.UpdatedAt = now
	if err := dl.Store.SaveDeposit(ctx, src); err != nil {
		return DepositRecord{}, err
	}

	dst := DepositRecord{
		ID:        DepositID(uuid.NewString()),
		TenancyID: to,
		Held:      held,
		Refunded:  decimal.Zero,
		Withheld:  decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := dl.Store.SaveDeposit(ctx, dst); err != nil {
		return DepositRecord{}, err
	}

	err = dl.audit(ctx, AuditEntry{
		ActorID:   actor,
		Action:    AuditDepositTransferred,
		TenancyID: to,
		Detail: map[string]string{
			"from":        string(from),
			"kept_amount": fmt.Sprintf("%t", keepAmount),
			"held":        held.String(),
		},
	})
	if err != nil {
		return DepositRecord{}, err
	}
	return dst, nil
}

// Refund records the refund/withholding split for a tenancy whose
// lease has ended. Valid only while the disposition is REFUND_DUE.
func (dl *DepositLedger) Refund(ctx context.Context, tenancyID TenancyID, refund, withheld decimal.Decimal, reason, actor string) (DepositRecord, error) {
	if refund.IsNegative() || withheld.IsNegative() {
		return DepositRecord{}, fmt.Errorf("refund for tenancy %s: %w", tenancyID, ErrNegativeAmount)
	}

	tenancy, err := dl.Store.GetTenancy(ctx, tenancyID)
	if err != nil {
		return DepositRecord{}, err
	}
	rec, err := dl.Store.DepositByTenancy(ctx, tenancyID)
	if err != nil {
		return DepositRecord{}, err
	}

	disposition := rec.Disposition(tenancy.LeaseEnd, dl.today())
	if disposition != DepositRefundDue {
		return DepositRecord{}, &DepositStateError{TenancyID: tenancyID, Disposition: disposition}
	}
	if refund.Add(withheld).GreaterThan(rec.Held) {
		return DepositRecord{}, &RefundBoundsError{
			TenancyID: tenancyID,
			Held:      rec.Held,
			Refund:    refund,
			Withheld:  withheld,
		}
	}

	rec.Refunded = refund
	rec.Withheld = withheld
	rec.RefundReason = reason
	rec.UpdatedAt = time.Now().UTC()
	if err := dl.Store.SaveDeposit(ctx, rec); err != nil {
		return DepositRecord{}, err
	}

	err = dl.audit(ctx, AuditEntry{
		ActorID:   actor,
		Action:    AuditDepositRefunded,
		TenancyID: tenancyID,
		Detail: map[string]string{
			"refunded": refund.String(),
			"withheld": withheld.String(),
			"reason":   reason,
		},
	})
	if err != nil {
		return DepositRecord{}, err
	}
	return rec, nil
}

// Disposition derives the current deposit state for a tenancy.
func (dl *DepositLedger) Disposition(ctx context.Context, tenancyID TenancyID) (DepositDisposition, error) {
	tenancy, err := dl.Store.GetTenancy(ctx, tenancyID)
	if err != nil {
		return "", err
	}
	rec, err := dl.Store.DepositByTenancy(ctx, tenancyID)
	if err != nil {
		return "", err
	}
	return rec.Disposition(tenancy.LeaseEnd, dl.today()), nil
}

func (dl *DepositLedger) audit(ctx context.Context, entry AuditEntry) error {
	if dl.Audit == nil {
		return nil
	}
	entry.ID = uuid.NewString()
	entry.Timestamp = time.Now().UTC()
	return dl.Audit.AppendAudit(ctx, entry)
}
