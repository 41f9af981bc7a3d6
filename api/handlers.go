/*
handlers.go - HTTP API handlers for the tenancy engine

PURPOSE:
  Exposes the tenancy lifecycle and billing core via REST API. Handles
  HTTP request/response, JSON serialization, and delegates to domain
  logic.

ENDPOINTS:
  Units:
    GET    /api/units                     List units (+current tenant)
    POST   /api/units                     Create unit
    GET    /api/units/{id}                Unit detail
    POST   /api/units/{id}/maintenance    Toggle maintenance status
    POST   /api/units/{id}/assign         Assign tenant to vacant unit
    GET    /api/units/{id}/readings       Water reading history

  Tenancies:
    GET    /api/tenancies/{id}            Tenancy snapshot
    POST   /api/tenancies/{id}/switch     Move tenant to another unit
    POST   /api/tenancies/{id}/vacate     End tenancy, free unit
    POST   /api/tenancies/{id}/refund     Settle security deposit
    POST   /api/tenancies/{id}/renew      Renew lease
    GET    /api/tenancies/{id}/deposit    Deposit record + audit trail

  Billing:
    POST   /api/readings                  Record water meter reading
    POST   /api/charges                   Issue recurring flat charge
    GET    /api/tenants/{id}/charges      Charge history

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input (go-playground/validator)
  3. Call domain logic
  4. Serialize response
  5. Map domain errors to HTTP status

ERROR HANDLING:
  Domain errors map to status by kind:
  - 400: validation errors (bad amounts, inverted windows, bad readings)
  - 404: unknown entity
  - 409: state conflicts (occupied unit, already vacated, wrong state)
  - 500: storage and unexpected errors

SECURITY NOTE:
  Currently NO authentication or authorization. The actor field in
  request bodies is trusted as-is; it only feeds the audit trail.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/tenancy-engine/tenancy"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store tenancy.Store
	Audit tenancy.AuditLog

	Billing     *tenancy.BillingService
	Deposits    *tenancy.DepositLedger
	Leases      *tenancy.LeaseLifecycle
	Assignments *tenancy.AssignmentService
	Switcher    *tenancy.UnitSwitcher
	Vacater     *tenancy.Vacater

	Log      *logrus.Logger
	validate *validator.Validate
}

// NewHandler wires the domain services onto the given store.
func NewHandler(store tenancy.Store, audit tenancy.AuditLog, log *logrus.Logger) *Handler {
	if log == nil {
		log = logrus.New()
	}
	deposits := tenancy.NewDepositLedger(store, audit)
	leases := tenancy.NewLeaseLifecycle(store, audit, deposits)
	return &Handler{
		Store:       store,
		Audit:       audit,
		Billing:     tenancy.NewBillingService(store, audit),
		Deposits:    deposits,
		Leases:      leases,
		Assignments: tenancy.NewAssignmentService(store, deposits, leases, audit),
		Switcher:    tenancy.NewUnitSwitcher(store, deposits, leases, audit),
		Vacater:     tenancy.NewVacater(store, leases, deposits, audit),
		Log:         log,
		validate:    validator.New(),
	}
}

func (h *Handler) today() tenancy.Date {
	return tenancy.Today()
}

// =============================================================================
// UNIT HANDLERS
// =============================================================================

// ListUnits returns all units with their current tenant resolved.
func (h *Handler) ListUnits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	units, err := h.Store.ListUnits(ctx)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	today := h.today()
	dtos := make([]UnitDTO, 0, len(units))
	for _, u := range units {
		if u.Deleted {
			continue
		}
		dto := toUnitDTO(u)
		tenancies, err := h.Store.TenanciesByUnit(ctx, u.ID)
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		if t, ok := tenancy.ResolveCurrentTenancy(u, tenancies, today); ok {
			td := toTenancyDTO(t)
			dto.CurrentTenancy = &td
		}
		dtos = append(dtos, dto)
	}

	writeJSON(w, http.StatusOK, dtos)
}

// CreateUnit creates a new vacant unit.
func (h *Handler) CreateUnit(w http.ResponseWriter, r *http.Request) {
	var req CreateUnitRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	baseRent, err := parseAmount(req.BaseRent)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid base_rent", err)
		return
	}
	baseDeposit, err := parseAmount(req.BaseDeposit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid base_deposit", err)
		return
	}
	if baseRent.IsNegative() || baseDeposit.IsNegative() {
		writeError(w, http.StatusBadRequest, "Amounts must not be negative", nil)
		return
	}

	unit := tenancy.Unit{
		ID:          tenancy.UnitID(uuid.NewString()),
		Name:        req.Name,
		Status:      tenancy.UnitVacant,
		BaseRent:    baseRent,
		BaseDeposit: baseDeposit,
		CreatedAt:   nowUTC(),
	}
	if err := h.Store.SaveUnit(r.Context(), unit); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toUnitDTO(unit))
}

// GetUnit returns a single unit with its current tenant resolved.
func (h *Handler) GetUnit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := tenancy.UnitID(chi.URLParam(r, "id"))

	unit, err := h.Store.GetUnit(ctx, id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	dto := toUnitDTO(unit)
	tenancies, err := h.Store.TenanciesByUnit(ctx, id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if t, ok := tenancy.ResolveCurrentTenancy(unit, tenancies, h.today()); ok {
		td := toTenancyDTO(t)
		dto.CurrentTenancy = &td
	}

	writeJSON(w, http.StatusOK, dto)
}

// SetMaintenance toggles a unit between MAINTENANCE and VACANT. An
// occupied unit cannot be put under maintenance.
func (h *Handler) SetMaintenance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := tenancy.UnitID(chi.URLParam(r, "id"))

	var req MaintenanceRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	unit, err := h.Store.GetUnit(ctx, id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if unit.Status == tenancy.UnitOccupied {
		writeError(w, http.StatusConflict, "Unit is occupied", nil)
		return
	}

	if req.Maintenance {
		unit.Status = tenancy.UnitMaintenance
	} else {
		unit.Status = tenancy.UnitVacant
	}
	if err := h.Store.SaveUnit(ctx, unit); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toUnitDTO(unit))
}

// =============================================================================
// ASSIGNMENT HANDLERS
// =============================================================================

// AssignTenant binds a tenant to a vacant unit.
// POST /api/units/{id}/assign
func (h *Handler) AssignTenant(w http.ResponseWriter, r *http.Request) {
	unitID := tenancy.UnitID(chi.URLParam(r, "id"))

	var req AssignRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	start, err := tenancy.ParseDate(req.LeaseStart)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid lease_start format (use YYYY-MM-DD)", err)
		return
	}
	end, err := tenancy.ParseDate(req.LeaseEnd)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid lease_end format (use YYYY-MM-DD)", err)
		return
	}
	rent, err := parseAmount(req.Rent)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rent", err)
		return
	}
	deposit, err := parseAmount(req.Deposit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid deposit", err)
		return
	}
	lateFee, err := parseAmount(req.LateFee)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid late_fee", err)
		return
	}

	result, err := h.Assignments.Assign(r.Context(), tenancy.AssignInput{
		UnitID:     unitID,
		TenantID:   tenancy.TenantID(req.TenantID),
		LeaseStart: start,
		LeaseEnd:   end,
		Rent:       rent,
		Deposit:    deposit,
		Terms: tenancy.LeaseTerms{
			DueDay:    req.DueDay,
			GraceDays: req.GraceDays,
			LateFee:   lateFee,
		},
	}, actorOrDefault(req.Actor))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	today := h.today()
	writeJSON(w, http.StatusCreated, AssignResponse{
		Unit:    toUnitDTO(result.Unit),
		Tenancy: toTenancyDTO(result.Tenancy),
		Lease:   toLeaseDTO(result.Lease, today),
		Deposit: toDepositDTO(result.Deposit, result.Tenancy.LeaseEnd, today),
	})
}

// GetTenancy returns a tenancy with its lease and deposit.
func (h *Handler) GetTenancy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := tenancy.TenancyID(chi.URLParam(r, "id"))

	t, err := h.Store.GetTenancy(ctx, id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	resp := map[string]any{"tenancy": toTenancyDTO(t)}
	today := h.today()
	if lease, err := h.Store.LeaseByTenancy(ctx, id); err == nil {
		resp["lease"] = toLeaseDTO(lease, today)
	} else if !tenancy.IsNotFound(err) {
		h.writeDomainError(w, r, err)
		return
	}
	if dep, err := h.Store.DepositByTenancy(ctx, id); err == nil {
		resp["deposit"] = toDepositDTO(dep, t.LeaseEnd, today)
	} else if !tenancy.IsNotFound(err) {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// ORCHESTRATOR HANDLERS
// =============================================================================

// SwitchUnit moves the tenant of a tenancy into another unit.
// POST /api/tenancies/{id}/switch
func (h *Handler) SwitchUnit(w http.ResponseWriter, r *http.Request) {
	id := tenancy.TenancyID(chi.URLParam(r, "id"))

	var req SwitchRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.Switcher.Switch(r.Context(), id, tenancy.UnitID(req.NewUnitID), req.KeepDeposit, actorOrDefault(req.Actor))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	today := h.today()
	writeJSON(w, http.StatusOK, SwitchResponse{
		OldUnit: toUnitDTO(result.OldUnit),
		NewUnit: toUnitDTO(result.NewUnit),
		Tenancy: toTenancyDTO(result.Tenancy),
		Lease:   toLeaseDTO(result.Lease, today),
		Deposit: toDepositDTO(result.Deposit, result.Tenancy.LeaseEnd, today),
	})
}

// VacateTenant ends a tenancy and frees its unit.
// POST /api/tenancies/{id}/vacate
func (h *Handler) VacateTenant(w http.ResponseWriter, r *http.Request) {
	id := tenancy.TenancyID(chi.URLParam(r, "id"))

	var req VacateRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.Vacater.Vacate(r.Context(), id, actorOrDefault(req.Actor))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, VacateResponse{
		Unit:               toUnitDTO(result.Unit),
		Tenancy:            toTenancyDTO(result.Tenancy),
		Lease:              toLeaseDTO(result.Lease, h.today()),
		DepositDisposition: string(result.Disposition),
	})
}

// RefundDeposit settles a REFUND_DUE deposit.
// POST /api/tenancies/{id}/refund
func (h *Handler) RefundDeposit(w http.ResponseWriter, r *http.Request) {
	id := tenancy.TenancyID(chi.URLParam(r, "id"))

	var req RefundRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	refund, err := parseAmount(req.Refund)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid refund", err)
		return
	}
	withheld, err := parseAmount(req.Withheld)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid withheld", err)
		return
	}

	rec, err := h.Deposits.Refund(r.Context(), id, refund, withheld, req.Reason, actorOrDefault(req.Actor))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	t, err := h.Store.GetTenancy(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDepositDTO(rec, t.LeaseEnd, h.today()))
}

// RenewLease renews a tenancy's lease on the same unit.
// POST /api/tenancies/{id}/renew
func (h *Handler) RenewLease(w http.ResponseWriter, r *http.Request) {
	id := tenancy.TenancyID(chi.URLParam(r, "id"))

	var req RenewRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	var in tenancy.RenewInput
	if req.Start != "" {
		d, err := tenancy.ParseDate(req.Start)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid start format (use YYYY-MM-DD)", err)
			return
		}
		in.Start = &d
	}
	if req.End != "" {
		d, err := tenancy.ParseDate(req.End)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid end format (use YYYY-MM-DD)", err)
			return
		}
		in.End = &d
	}
	if req.Rent != "" {
		a, err := parseAmount(req.Rent)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid rent", err)
			return
		}
		in.Rent = &a
	}
	if req.Deposit != "" {
		a, err := parseAmount(req.Deposit)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid deposit", err)
			return
		}
		in.Deposit = &a
	}

	result, err := h.Leases.Renew(r.Context(), id, in, actorOrDefault(req.Actor))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	today := h.today()
	writeJSON(w, http.StatusCreated, RenewResponse{
		Tenancy: toTenancyDTO(result.Tenancy),
		Lease:   toLeaseDTO(result.Lease, today),
		Deposit: toDepositDTO(result.Deposit, result.Tenancy.LeaseEnd, today),
	})
}

// GetDeposit returns the deposit record and its audit trail.
// GET /api/tenancies/{id}/deposit
func (h *Handler) GetDeposit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := tenancy.TenancyID(chi.URLParam(r, "id"))

	t, err := h.Store.GetTenancy(ctx, id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	rec, err := h.Store.DepositByTenancy(ctx, id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	entries, err := h.Audit.QueryAudit(ctx, tenancy.AuditFilter{TenancyID: &id})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	trail := make([]AuditEntryDTO, 0, len(entries))
	for _, e := range entries {
		trail = append(trail, toAuditEntryDTO(e))
	}

	writeJSON(w, http.StatusOK, DepositDetailDTO{
		Deposit: toDepositDTO(rec, t.LeaseEnd, h.today()),
		Audit:   trail,
	})
}

// =============================================================================
// BILLING HANDLERS
// =============================================================================

// RecordReading records a water meter reading.
// POST /api/readings
func (h *Handler) RecordReading(w http.ResponseWriter, r *http.Request) {
	var req ReadingRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	previous, err := parseAmount(req.Previous)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid previous reading", err)
		return
	}
	current, err := parseAmount(req.Current)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid current reading", err)
		return
	}
	rate, err := parseAmount(req.Rate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rate", err)
		return
	}

	reading, err := h.Billing.RecordWaterReading(r.Context(),
		tenancy.UnitID(req.UnitID), req.Month, previous, current, rate, actorOrDefault(req.Actor))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toReadingDTO(reading))
}

// ListReadings returns the reading history for a unit.
// GET /api/units/{id}/readings
func (h *Handler) ListReadings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := tenancy.UnitID(chi.URLParam(r, "id"))

	if _, err := h.Store.GetUnit(ctx, id); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	readings, err := h.Store.ReadingsByUnit(ctx, id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	dtos := make([]ReadingDTO, 0, len(readings))
	for _, rd := range readings {
		dtos = append(dtos, toReadingDTO(rd))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// IssueCharge issues the flat charge for (tenant, month). Idempotent;
// re-issuing refreshes the amount.
// POST /api/charges
func (h *Handler) IssueCharge(w http.ResponseWriter, r *http.Request) {
	var req ChargeRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	charge, err := h.Billing.IssueRecurringCharge(r.Context(),
		tenancy.TenantID(req.TenantID), req.Month, amount, actorOrDefault(req.Actor))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toChargeDTO(charge))
}

// ListCharges returns a tenant's charge history.
// GET /api/tenants/{id}/charges
func (h *Handler) ListCharges(w http.ResponseWriter, r *http.Request) {
	id := tenancy.TenantID(chi.URLParam(r, "id"))

	charges, err := h.Store.ChargesByTenant(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	dtos := make([]ChargeDTO, 0, len(charges))
	for _, c := range charges {
		dtos = append(dtos, toChargeDTO(c))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

// decodeAndValidate parses the JSON body into dst and runs struct
// validation, writing a 400 itself on failure.
func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

// writeDomainError maps a domain error to an HTTP status by kind.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	code := "internal"
	switch {
	case tenancy.IsValidation(err):
		status, code = http.StatusBadRequest, "validation"
	case tenancy.IsNotFound(err):
		status, code = http.StatusNotFound, "not_found"
	case tenancy.IsStateConflict(err):
		status, code = http.StatusConflict, "state_conflict"
	case tenancy.IsInvariantViolation(err):
		status, code = http.StatusConflict, "invariant_violation"
	}

	if status == http.StatusInternalServerError {
		h.Log.WithError(err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("request failed")
	}

	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func actorOrDefault(actor string) string {
	if actor == "" {
		return "admin"
	}
	return actor
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
