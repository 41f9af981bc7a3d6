/*
errors.go - Centralized error types for the tenancy core

PURPOSE:
  All error types in one place. Callers branch with errors.Is() on the
  sentinels, or use the kind helpers (IsValidation, IsStateConflict,
  IsNotFound, IsInvariantViolation) when they only care about the
  category - the HTTP layer maps these to 400/409/404/500.

ERROR CATEGORIES:
  1. Validation        - malformed input (negative amount, bad window)
  2. State conflict    - operation invalid for current entity state
  3. Not found         - referenced entity missing
  4. Invariant         - would break a cross-entity invariant

Every error is local to one operation; nothing here is fatal, and no
failed operation leaves the data model mutated (orchestrators roll
back, everything else pre-flights before writing).

SEE ALSO:
  - switchunit.go: Compensating rollback on orchestration failure
  - api/handlers.go: HTTP status mapping
*/
package tenancy

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// Not found
	ErrUnitNotFound    = errors.New("unit not found")
	ErrTenancyNotFound = errors.New("tenancy not found")
	ErrLeaseNotFound   = errors.New("lease agreement not found")
	ErrDepositNotFound = errors.New("deposit record not found")
	ErrChargeNotFound  = errors.New("recurring charge not found")

	// Validation
	ErrNegativeAmount     = errors.New("amount must not be negative")
	ErrLeaseWindowInvalid = errors.New("lease start date must be before end date")
	ErrInvalidReading     = errors.New("current reading below previous reading")
	ErrRefundExceedsHeld  = errors.New("refund plus withheld exceeds held amount")

	// State conflicts
	ErrUnitNotVacant       = errors.New("unit is not vacant")
	ErrTargetUnitNotVacant = errors.New("target unit is not vacant")
	ErrAlreadyVacated      = errors.New("tenancy already vacated")
	ErrInvalidDepositState = errors.New("deposit not in refundable state")
	ErrLeaseNotActive      = errors.New("lease agreement is not active")
	ErrLeaseNotDraft       = errors.New("lease agreement is not a draft")
	ErrUnitDeleted         = errors.New("unit has been deleted")
	ErrUnitOccupied        = errors.New("unit is occupied")

	// Invariant violations
	ErrLeaseConflict   = errors.New("unit already has an active lease")
	ErrDepositConflict = errors.New("tenant already holds an active deposit")
)

// =============================================================================
// STRUCTURED ERRORS - Carry entity ids and conflicting state
// =============================================================================

// UnitStateError reports an operation attempted against a unit in the
// wrong occupancy state.
type UnitStateError struct {
	UnitID UnitID
	Status UnitStatus
	Op     string
	target bool
}

func (e *UnitStateError) Error() string {
	return fmt.Sprintf("%s: unit %s is %s", e.Op, e.UnitID, e.Status)
}

func (e *UnitStateError) Unwrap() error {
	if e.target {
		return ErrTargetUnitNotVacant
	}
	return ErrUnitNotVacant
}

// DepositStateError reports a refund attempted while the deposit is
// not REFUND_DUE.
type DepositStateError struct {
	TenancyID   TenancyID
	Disposition DepositDisposition
}

func (e *DepositStateError) Error() string {
	return fmt.Sprintf("deposit for tenancy %s is %s, not refundable", e.TenancyID, e.Disposition)
}

func (e *DepositStateError) Unwrap() error { return ErrInvalidDepositState }

// RefundBoundsError reports refund + withheld exceeding the held amount.
type RefundBoundsError struct {
	TenancyID TenancyID
	Held      decimal.Decimal
	Refund    decimal.Decimal
	Withheld  decimal.Decimal
}

func (e *RefundBoundsError) Error() string {
	return fmt.Sprintf("refund %s + withheld %s exceeds held %s for tenancy %s",
		e.Refund, e.Withheld, e.Held, e.TenancyID)
}

func (e *RefundBoundsError) Unwrap() error { return ErrRefundExceedsHeld }

// ReadingError reports a meter reading pair that would yield negative
// consumption.
type ReadingError struct {
	UnitID   UnitID
	Previous decimal.Decimal
	Current  decimal.Decimal
}

func (e *ReadingError) Error() string {
	return fmt.Sprintf("unit %s: current reading %s below previous %s",
		e.UnitID, e.Current, e.Previous)
}

func (e *ReadingError) Unwrap() error { return ErrInvalidReading }

// LeaseConflictError reports a second ACTIVE lease on one unit.
type LeaseConflictError struct {
	UnitID          UnitID
	ExistingLeaseID LeaseID
}

func (e *LeaseConflictError) Error() string {
	return fmt.Sprintf("unit %s already has active lease %s", e.UnitID, e.ExistingLeaseID)
}

func (e *LeaseConflictError) Unwrap() error { return ErrLeaseConflict }

// =============================================================================
// KIND HELPERS
// =============================================================================

// IsValidation returns true for malformed-input errors.
func IsValidation(err error) bool {
	return errors.Is(err, ErrNegativeAmount) ||
		errors.Is(err, ErrLeaseWindowInvalid) ||
		errors.Is(err, ErrInvalidReading) ||
		errors.Is(err, ErrRefundExceedsHeld)
}

// IsStateConflict returns true when the operation is invalid for the
// entity's current state.
func IsStateConflict(err error) bool {
	return errors.Is(err, ErrUnitNotVacant) ||
		errors.Is(err, ErrTargetUnitNotVacant) ||
		errors.Is(err, ErrAlreadyVacated) ||
		errors.Is(err, ErrInvalidDepositState) ||
		errors.Is(err, ErrLeaseNotActive) ||
		errors.Is(err, ErrLeaseNotDraft) ||
		errors.Is(err, ErrUnitDeleted) ||
		errors.Is(err, ErrUnitOccupied)
}

// IsNotFound returns true when a referenced entity is missing.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUnitNotFound) ||
		errors.Is(err, ErrTenancyNotFound) ||
		errors.Is(err, ErrLeaseNotFound) ||
		errors.Is(err, ErrDepositNotFound) ||
		errors.Is(err, ErrChargeNotFound)
}

// IsInvariantViolation returns true when the operation would break a
// cross-entity invariant.
func IsInvariantViolation(err error) bool {
	return errors.Is(err, ErrLeaseConflict) ||
		errors.Is(err, ErrDepositConflict)
}
