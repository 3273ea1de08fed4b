package payrollhandler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"payledger/internal/domain/payroll"
	"payledger/internal/platform/authz"
	"payledger/internal/transport/http/api"
	"payledger/internal/transport/http/middleware"
	"payledger/internal/transport/http/shared"
)

type Handler struct {
	Ledger *payroll.Ledger
	Authz  *authz.Authorizer
	Log    *zap.Logger
}

func NewHandler(ledger *payroll.Ledger, authorizer *authz.Authorizer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Ledger: ledger, Authz: authorizer, Log: logger.Named("payroll_http")}
}

type createPayrollPayload struct {
	EmployeeID  string           `json:"employeeId"`
	PeriodStart string           `json:"periodStart"`
	PeriodEnd   string           `json:"periodEnd"`
	BaseSalary  *decimal.Decimal `json:"baseSalary"`
	Tax         *decimal.Decimal `json:"tax"`
	Status      string           `json:"status"`
	Notes       string           `json:"notes"`
}

type payrollPatchPayload struct {
	BaseSalary *decimal.Decimal `json:"baseSalary"`
	Tax        *decimal.Decimal `json:"tax"`
	Status     *string          `json:"status"`
	Notes      *string          `json:"notes"`
}

type createAdjustmentPayload struct {
	PayrollID   string           `json:"payrollId"`
	Type        string           `json:"type"`
	Amount      *decimal.Decimal `json:"amount"`
	Description string           `json:"description"`
	Approved    bool             `json:"approved"`
	ApprovedBy  string           `json:"approvedBy"`
}

type adjustmentPatchPayload struct {
	Type        *string          `json:"type"`
	Amount      *decimal.Decimal `json:"amount"`
	Description *string          `json:"description"`
	Approved    *bool            `json:"approved"`
	ApprovedBy  *string          `json:"approvedBy"`
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	read := middleware.RequirePermission(h.Authz, authz.PayrollRead)
	write := middleware.RequirePermission(h.Authz, authz.PayrollWrite)
	override := middleware.RequirePermission(h.Authz, authz.PayrollOverride)

	r.Route("/payrolls", func(r chi.Router) {
		r.With(read).Get("/", h.handleListPayrolls)
		r.With(write).Post("/", h.handleCreatePayroll)
		r.With(read).Get("/{payrollID}", h.handleGetPayroll)
		r.With(override).Patch("/{payrollID}", h.handleUpdatePayroll)
		r.With(write).Post("/{payrollID}/recalculate", h.handleRecalculate)
		r.With(read).Get("/{payrollID}/adjustments", h.handleListAdjustments)
		r.With(read).Get("/{payrollID}/payslip", h.handlePayslip)
	})
	r.Route("/adjustments", func(r chi.Router) {
		r.With(write).Post("/", h.handleCreateAdjustment)
		r.With(read).Get("/{adjustmentID}", h.handleGetAdjustment)
		r.With(middleware.RequireUser).Patch("/{adjustmentID}", h.handleUpdateAdjustment)
		r.With(write).Delete("/{adjustmentID}", h.handleDeleteAdjustment)
	})
}

func (h *Handler) handleListPayrolls(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())
	v := shared.NewValidator()
	page := shared.ParsePagination(r, v, shared.DefaultLimit, shared.MaxLimit)
	if v.Reject(w, reqID) {
		return
	}
	filter := payroll.ListFilter{
		EmployeeID: strings.TrimSpace(r.URL.Query().Get("employeeId")),
		Status:     payroll.Status(r.URL.Query().Get("status")),
		Limit:      page.Limit,
		Offset:     page.Offset,
	}
	records, total, err := h.Ledger.ListPayrolls(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	api.SuccessWithMeta(w, records, api.Meta{Total: total, Limit: page.Limit, Offset: page.Offset}, reqID)
}

func (h *Handler) handleCreatePayroll(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var payload createPayrollPayload
	if !h.decode(w, r, &payload) {
		return
	}

	v := shared.NewValidator()
	in := payroll.CreatePayrollInput{
		EmployeeID:  payload.EmployeeID,
		PeriodStart: v.Date("periodStart", payload.PeriodStart),
		PeriodEnd:   v.Date("periodEnd", payload.PeriodEnd),
		Status:      payroll.Status(payload.Status),
		Notes:       payload.Notes,
	}
	if payload.BaseSalary == nil {
		v.Add("baseSalary", "is required")
	} else {
		in.BaseSalary = *payload.BaseSalary
	}
	if payload.Tax != nil {
		in.Tax = *payload.Tax
	}
	if v.Reject(w, actor.RequestID) {
		return
	}

	record, err := h.Ledger.CreatePayroll(r.Context(), actor, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.Created(w, record, actor.RequestID)
}

func (h *Handler) handleGetPayroll(w http.ResponseWriter, r *http.Request) {
	record, err := h.Ledger.GetPayroll(r.Context(), chi.URLParam(r, "payrollID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.Success(w, record, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleUpdatePayroll(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var payload payrollPatchPayload
	if !h.decode(w, r, &payload) {
		return
	}
	patch := payroll.PayrollPatch{
		BaseSalary: payload.BaseSalary,
		Tax:        payload.Tax,
		Notes:      payload.Notes,
	}
	if payload.Status != nil {
		status := payroll.Status(strings.ToUpper(strings.TrimSpace(*payload.Status)))
		patch.Status = &status
	}

	record, err := h.Ledger.DirectUpdatePayroll(r.Context(), actor, chi.URLParam(r, "payrollID"), patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.Success(w, record, actor.RequestID)
}

func (h *Handler) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	record, err := h.Ledger.Recalculate(r.Context(), actor, chi.URLParam(r, "payrollID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.Success(w, record, actor.RequestID)
}

func (h *Handler) handleListAdjustments(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())
	v := shared.NewValidator()
	approved := v.OptionalBool("approved", r.URL.Query().Get("approved"))
	if v.Reject(w, reqID) {
		return
	}
	adjustments, err := h.Ledger.ListAdjustments(r.Context(), chi.URLParam(r, "payrollID"), approved)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.Success(w, adjustments, reqID)
}

func (h *Handler) handlePayslip(w http.ResponseWriter, r *http.Request) {
	payrollID := chi.URLParam(r, "payrollID")
	var buf bytes.Buffer
	if err := h.Ledger.WritePayslip(r.Context(), payrollID, &buf); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", "attachment; filename=payslip-"+payrollID+".pdf")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, &buf); err != nil {
		h.Log.Warn("payslip write failed", zap.String("payrollId", payrollID), zap.Error(err))
	}
}

func (h *Handler) handleCreateAdjustment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var payload createAdjustmentPayload
	if !h.decode(w, r, &payload) {
		return
	}
	if (payload.Approved || strings.TrimSpace(payload.ApprovedBy) != "") && !h.require(w, actor, authz.PayrollApprove) {
		return
	}

	v := shared.NewValidator()
	in := payroll.CreateAdjustmentInput{
		PayrollID:   payload.PayrollID,
		Type:        payroll.AdjustmentType(payload.Type),
		Description: payload.Description,
		Approved:    payload.Approved,
		ApprovedBy:  payload.ApprovedBy,
	}
	if payload.Amount == nil {
		v.Add("amount", "is required")
	} else {
		in.Amount = *payload.Amount
	}
	if v.Reject(w, actor.RequestID) {
		return
	}

	adj, err := h.Ledger.CreateAdjustment(r.Context(), actor, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.Created(w, adj, actor.RequestID)
}

func (h *Handler) handleGetAdjustment(w http.ResponseWriter, r *http.Request) {
	adj, err := h.Ledger.GetAdjustment(r.Context(), chi.URLParam(r, "adjustmentID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.Success(w, adj, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleUpdateAdjustment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var payload adjustmentPatchPayload
	if !h.decode(w, r, &payload) {
		return
	}
	for _, perm := range payload.permissions() {
		if !h.require(w, actor, perm) {
			return
		}
	}

	patch := payroll.AdjustmentPatch{
		Amount:      payload.Amount,
		Description: payload.Description,
		Approved:    payload.Approved,
		ApprovedBy:  payload.ApprovedBy,
	}
	if payload.Type != nil {
		t := payroll.AdjustmentType(*payload.Type)
		patch.Type = &t
	}

	adj, err := h.Ledger.UpdateAdjustment(r.Context(), actor, chi.URLParam(r, "adjustmentID"), patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.Success(w, adj, actor.RequestID)
}

func (h *Handler) handleDeleteAdjustment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if err := h.Ledger.DeleteAdjustment(r.Context(), actor, chi.URLParam(r, "adjustmentID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	api.NoContent(w)
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (payroll.Actor, bool) {
	reqID := middleware.GetRequestID(r.Context())
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", reqID)
		return payroll.Actor{}, false
	}
	return payroll.Actor{UserID: user.UserID, Role: user.Role, RequestID: reqID}, true
}

// permissions lists what a patch needs: approval fields need approve, any
// other field needs write. Approvers without write access may therefore
// approve or un-approve but not edit.
func (p adjustmentPatchPayload) permissions() []authz.Permission {
	var perms []authz.Permission
	edits := p.Type != nil || p.Amount != nil || p.Description != nil
	approves := p.Approved != nil || p.ApprovedBy != nil
	if edits || !approves {
		perms = append(perms, authz.PayrollWrite)
	}
	if approves {
		perms = append(perms, authz.PayrollApprove)
	}
	return perms
}

func (h *Handler) require(w http.ResponseWriter, actor payroll.Actor, perm authz.Permission) bool {
	allowed, err := h.Authz.Allow(actor.Role, perm)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "permission_error", "permission check failed", actor.RequestID)
		return false
	}
	if !allowed {
		api.Fail(w, http.StatusForbidden, "forbidden", "insufficient permissions: requires "+perm.String(), actor.RequestID)
		return false
	}
	return true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		reqID := middleware.GetRequestID(r.Context())
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			api.Fail(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large", reqID)
			return false
		}
		api.FailWithDetails(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON", err.Error(), reqID)
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	reqID := middleware.GetRequestID(r.Context())
	var verr *payroll.ValidationError
	switch {
	case errors.As(err, &verr):
		shared.FailValidation(w, reqID, shared.FromLedger(verr))
	case errors.Is(err, payroll.ErrAdjustmentNotFound):
		api.Fail(w, http.StatusNotFound, "not_found", "payroll adjustment not found", reqID)
	case errors.Is(err, payroll.ErrNotFound):
		api.Fail(w, http.StatusNotFound, "not_found", "payroll record not found", reqID)
	case errors.Is(err, payroll.ErrConflict):
		api.Fail(w, http.StatusConflict, "conflict", payroll.ErrConflict.Error(), reqID)
	case errors.Is(err, context.DeadlineExceeded):
		api.Fail(w, http.StatusGatewayTimeout, "timeout", "request timed out", reqID)
	case errors.Is(err, context.Canceled):
		// client went away; nobody reads the response
		h.Log.Debug("request cancelled", zap.String("requestId", reqID))
	default:
		h.Log.Error("payroll request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("requestId", reqID),
			zap.Error(err),
		)
		api.Fail(w, http.StatusInternalServerError, "internal_error", "internal server error", reqID)
	}
}
