package authhandler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"payledger/internal/platform/authz"
	"payledger/internal/transport/http/api"
	"payledger/internal/transport/http/middleware"
)

// Handler exposes the caller's own identity. Tokens are issued elsewhere;
// this service only verifies them.
type Handler struct {
	Authz *authz.Authorizer
}

func NewHandler(authorizer *authz.Authorizer) *Handler {
	return &Handler{Authz: authorizer}
}

type meResponse struct {
	UserID      string   `json:"userId"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	AuthzMode   string   `json:"authzMode"`
}

var knownPermissions = []authz.Permission{
	authz.PayrollRead,
	authz.PayrollWrite,
	authz.PayrollApprove,
	authz.PayrollOverride,
	authz.AuditRead,
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.With(middleware.RequireUser).Get("/auth/me", h.HandleMe)
}

func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", reqID)
		return
	}

	granted := make([]string, 0, len(knownPermissions))
	for _, perm := range knownPermissions {
		allowed, _, err := h.Authz.Authorize(authz.SubjectFromRole(user.Role), perm.Object, perm.Action)
		if err != nil {
			api.Fail(w, http.StatusInternalServerError, "permission_error", "permission check failed", reqID)
			return
		}
		if allowed {
			granted = append(granted, perm.String())
		}
	}
	api.Success(w, meResponse{
		UserID:      user.UserID,
		Role:        user.Role,
		Permissions: granted,
		AuthzMode:   string(h.Authz.Mode()),
	}, reqID)
}
