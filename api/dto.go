/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY AND METERS:
  All monetary and meter values travel as decimal strings ("8500.00"),
  never JSON numbers. Float64 cannot represent these values exactly and
  the engine runs on decimal.Decimal end to end.

VALIDATION:
  Request types carry go-playground/validator struct tags; handlers run
  the validator before touching domain logic.

SEE ALSO:
  - handlers.go: Uses these types
  - tenancy/types.go: The domain entities these map from
*/
package api

import (
	"time"

	"github.com/warp/tenancy-engine/tenancy"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// UnitDTO represents a unit in API responses. CurrentTenancy is filled
// by the current-tenant rule when the caller asks for it.
type UnitDTO struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Status         string      `json:"status"`
	BaseRent       string      `json:"base_rent"`
	BaseDeposit    string      `json:"base_deposit"`
	CreatedAt      string      `json:"created_at,omitempty"`
	CurrentTenancy *TenancyDTO `json:"current_tenancy,omitempty"`
}

// CreateUnitRequest is the request to create a unit.
type CreateUnitRequest struct {
	Name        string `json:"name" validate:"required"`
	BaseRent    string `json:"base_rent" validate:"required"`
	BaseDeposit string `json:"base_deposit" validate:"required"`
}

// MaintenanceRequest toggles a unit's maintenance status.
type MaintenanceRequest struct {
	Maintenance bool   `json:"maintenance"`
	Actor       string `json:"actor,omitempty"`
}

// TenancyDTO represents a tenancy in API responses.
type TenancyDTO struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenant_id"`
	UnitID     string `json:"unit_id"`
	LeaseStart string `json:"lease_start"`
	LeaseEnd   string `json:"lease_end"`
	Rent       string `json:"rent"`
	Deposit    string `json:"deposit"`
	CreatedAt  string `json:"created_at,omitempty"`
}

// LeaseDTO represents a lease agreement. Status is the effective
// status as of today (lazy expiry applied), StoredStatus the raw row.
type LeaseDTO struct {
	ID           string `json:"id"`
	TenancyID    string `json:"tenancy_id"`
	UnitID       string `json:"unit_id"`
	Status       string `json:"status"`
	StoredStatus string `json:"stored_status,omitempty"`
	Start        string `json:"start"`
	End          string `json:"end"`
	DueDay       int    `json:"due_day"`
	GraceDays    int    `json:"grace_days"`
	LateFee      string `json:"late_fee"`
	TerminatedAt string `json:"terminated_at,omitempty"`
}

// DepositDTO represents a deposit record with its derived disposition.
type DepositDTO struct {
	ID           string `json:"id"`
	TenancyID    string `json:"tenancy_id"`
	Held         string `json:"held"`
	Refunded     string `json:"refunded"`
	Withheld     string `json:"withheld"`
	Disposition  string `json:"disposition"`
	RefundReason string `json:"refund_reason,omitempty"`
	UpdatedAt    string `json:"updated_at,omitempty"`
}

// DepositDetailDTO is the deposit record plus its audit trail.
type DepositDetailDTO struct {
	Deposit DepositDTO      `json:"deposit"`
	Audit   []AuditEntryDTO `json:"audit"`
}

// AssignRequest is the request to assign a tenant to a vacant unit.
// Zero rent/deposit fall back to the unit's base values.
type AssignRequest struct {
	TenantID   string `json:"tenant_id" validate:"required"`
	LeaseStart string `json:"lease_start" validate:"required"`
	LeaseEnd   string `json:"lease_end" validate:"required"`
	Rent       string `json:"rent,omitempty"`
	Deposit    string `json:"deposit,omitempty"`
	DueDay     int    `json:"due_day,omitempty" validate:"gte=0,lte=28"`
	GraceDays  int    `json:"grace_days,omitempty" validate:"gte=0"`
	LateFee    string `json:"late_fee,omitempty"`
	Actor      string `json:"actor,omitempty"`
}

// AssignResponse is the entity snapshot after an assignment.
type AssignResponse struct {
	Unit    UnitDTO    `json:"unit"`
	Tenancy TenancyDTO `json:"tenancy"`
	Lease   LeaseDTO   `json:"lease"`
	Deposit DepositDTO `json:"deposit"`
}

// SwitchRequest is the request to move a tenant to another unit.
type SwitchRequest struct {
	NewUnitID   string `json:"new_unit_id" validate:"required"`
	KeepDeposit bool   `json:"keep_deposit"`
	Actor       string `json:"actor,omitempty"`
}

// SwitchResponse is the entity snapshot after a unit switch.
type SwitchResponse struct {
	OldUnit UnitDTO    `json:"old_unit"`
	NewUnit UnitDTO    `json:"new_unit"`
	Tenancy TenancyDTO `json:"tenancy"`
	Lease   LeaseDTO   `json:"lease"`
	Deposit DepositDTO `json:"deposit"`
}

// VacateRequest is the request to end a tenancy.
type VacateRequest struct {
	Actor string `json:"actor,omitempty"`
}

// VacateResponse is the entity snapshot after a vacate.
type VacateResponse struct {
	Unit               UnitDTO    `json:"unit"`
	Tenancy            TenancyDTO `json:"tenancy"`
	Lease              LeaseDTO   `json:"lease"`
	DepositDisposition string     `json:"deposit_disposition"`
}

// RefundRequest is the request to settle a deposit.
type RefundRequest struct {
	Refund   string `json:"refund" validate:"required"`
	Withheld string `json:"withheld,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Actor    string `json:"actor,omitempty"`
}

// RenewRequest optionally overrides the renewal defaults. Absent
// fields default to: start = day after prior end, end = one year after
// start, rent/deposit carried from the prior tenancy.
type RenewRequest struct {
	Start   string `json:"start,omitempty"`
	End     string `json:"end,omitempty"`
	Rent    string `json:"rent,omitempty"`
	Deposit string `json:"deposit,omitempty"`
	Actor   string `json:"actor,omitempty"`
}

// RenewResponse is the entity snapshot after a renewal.
type RenewResponse struct {
	Tenancy TenancyDTO `json:"tenancy"`
	Lease   LeaseDTO   `json:"lease"`
	Deposit DepositDTO `json:"deposit"`
}

// ReadingRequest is the request to record a water meter reading.
type ReadingRequest struct {
	UnitID   string `json:"unit_id" validate:"required"`
	Month    string `json:"month,omitempty"`
	Previous string `json:"previous" validate:"required"`
	Current  string `json:"current" validate:"required"`
	Rate     string `json:"rate" validate:"required"`
	Actor    string `json:"actor,omitempty"`
}

// ReadingDTO represents a stored reading with its computed amounts.
type ReadingDTO struct {
	ID          string `json:"id"`
	UnitID      string `json:"unit_id"`
	Month       string `json:"month"`
	Previous    string `json:"previous"`
	Current     string `json:"current"`
	Rate        string `json:"rate"`
	Consumption string `json:"consumption"`
	Cost        string `json:"cost"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// ChargeRequest is the request to issue a recurring flat charge.
type ChargeRequest struct {
	TenantID string `json:"tenant_id" validate:"required"`
	Month    string `json:"month,omitempty"`
	Amount   string `json:"amount" validate:"required"`
	Actor    string `json:"actor,omitempty"`
}

// ChargeDTO represents a recurring charge.
type ChargeDTO struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id"`
	Month     string `json:"month"`
	Amount    string `json:"amount"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// AuditEntryDTO represents one audit trail entry.
type AuditEntryDTO struct {
	ID        string            `json:"id"`
	Timestamp string            `json:"timestamp"`
	ActorID   string            `json:"actor_id"`
	Action    string            `json:"action"`
	UnitID    string            `json:"unit_id,omitempty"`
	TenancyID string            `json:"tenancy_id,omitempty"`
	Detail    map[string]string `json:"detail,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toUnitDTO(u tenancy.Unit) UnitDTO {
	return UnitDTO{
		ID:          string(u.ID),
		Name:        u.Name,
		Status:      string(u.Status),
		BaseRent:    u.BaseRent.String(),
		BaseDeposit: u.BaseDeposit.String(),
		CreatedAt:   u.CreatedAt.Format(time.RFC3339),
	}
}

func toTenancyDTO(t tenancy.Tenancy) TenancyDTO {
	return TenancyDTO{
		ID:         string(t.ID),
		TenantID:   string(t.TenantID),
		UnitID:     string(t.UnitID),
		LeaseStart: t.LeaseStart.String(),
		LeaseEnd:   t.LeaseEnd.String(),
		Rent:       t.Rent.String(),
		Deposit:    t.Deposit.String(),
		CreatedAt:  t.CreatedAt.Format(time.RFC3339),
	}
}

func toLeaseDTO(l tenancy.LeaseAgreement, today tenancy.Date) LeaseDTO {
	dto := LeaseDTO{
		ID:           string(l.ID),
		TenancyID:    string(l.TenancyID),
		UnitID:       string(l.UnitID),
		Status:       string(l.EffectiveStatus(today)),
		StoredStatus: string(l.Status),
		Start:        l.Start.String(),
		End:          l.End.String(),
		DueDay:       l.DueDay,
		GraceDays:    l.GraceDays,
		LateFee:      l.LateFee.String(),
	}
	if l.TerminatedAt != nil {
		dto.TerminatedAt = l.TerminatedAt.Format(time.RFC3339)
	}
	return dto
}

func toDepositDTO(d tenancy.DepositRecord, leaseEnd, today tenancy.Date) DepositDTO {
	return DepositDTO{
		ID:           string(d.ID),
		TenancyID:    string(d.TenancyID),
		Held:         d.Held.String(),
		Refunded:     d.Refunded.String(),
		Withheld:     d.Withheld.String(),
		Disposition:  string(d.Disposition(leaseEnd, today)),
		RefundReason: d.RefundReason,
		UpdatedAt:    d.UpdatedAt.Format(time.RFC3339),
	}
}

func toReadingDTO(r tenancy.UtilityReading) ReadingDTO {
	return ReadingDTO{
		ID:          string(r.ID),
		UnitID:      string(r.UnitID),
		Month:       r.Month,
		Previous:    r.Previous.String(),
		Current:     r.Current.String(),
		Rate:        r.Rate.String(),
		Consumption: r.Consumption().String(),
		Cost:        r.Cost().String(),
		CreatedAt:   r.CreatedAt.Format(time.RFC3339),
	}
}

func toChargeDTO(c tenancy.RecurringCharge) ChargeDTO {
	return ChargeDTO{
		ID:        string(c.ID),
		TenantID:  string(c.TenantID),
		Month:     c.Month,
		Amount:    c.Amount.String(),
		Status:    string(c.Status),
		CreatedAt: c.CreatedAt.Format(time.RFC3339),
		UpdatedAt: c.UpdatedAt.Format(time.RFC3339),
	}
}

func toAuditEntryDTO(e tenancy.AuditEntry) AuditEntryDTO {
	return AuditEntryDTO{
		ID:        e.ID,
		Timestamp: e.Timestamp.Format(time.RFC3339),
		ActorID:   e.ActorID,
		Action:    string(e.Action),
		UnitID:    string(e.UnitID),
		TenancyID: string(e.TenancyID),
		Detail:    e.Detail,
	}
}
