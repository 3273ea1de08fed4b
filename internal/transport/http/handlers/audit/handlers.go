package audithandler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
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
	return &Handler{Ledger: ledger, Authz: authorizer, Log: logger.Named("audit_http")}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/audit", func(r chi.Router) {
		r.With(middleware.RequirePermission(h.Authz, authz.AuditRead)).Get("/events", h.handleListEvents)
	})
}

// handleListEvents returns the change history of one payroll record or
// adjustment, selected with ?entityId=.
func (h *Handler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())
	entityID := strings.TrimSpace(r.URL.Query().Get("entityId"))
	if entityID == "" {
		shared.FailValidation(w, reqID, []shared.ValidationIssue{{Field: "entityId", Reason: "is required"}})
		return
	}

	events, err := h.Ledger.AuditTrail(r.Context(), entityID)
	if err != nil {
		h.Log.Warn("audit trail failed", zap.String("entityId", entityID), zap.String("requestId", reqID), zap.Error(err))
		api.Fail(w, http.StatusInternalServerError, "audit_list_failed", "failed to list audit events", reqID)
		return
	}

	w.Header().Set("X-Total-Count", strconv.Itoa(len(events)))
	api.Success(w, events, reqID)
}
