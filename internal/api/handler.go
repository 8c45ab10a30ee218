// Package api provides the HTTP handlers for the service-account control
// plane REST API. Handlers are thin: they decode the request, call one
// service operation and render its outcome; every status decision lives in
// the services.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"tvault-control/internal/domain"
	"tvault-control/internal/repository"
	"tvault-control/internal/service/credential"
	"tvault-control/internal/service/lifecycle"
	"tvault-control/internal/service/permission"
)

// Handler exposes the control-plane services over HTTP.
type Handler struct {
	lifecycle *lifecycle.Service
	keys      *credential.KeyService
	perms     *permission.Service
	accounts  *repository.AccountRepo
	audit     domain.AuditRepository
	logger    *slog.Logger
}

// NewHandler creates a Handler with all required service dependencies.
func NewHandler(
	lc *lifecycle.Service,
	keys *credential.KeyService,
	perms *permission.Service,
	accounts *repository.AccountRepo,
	audit domain.AuditRepository,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		lifecycle: lc,
		keys:      keys,
		perms:     perms,
		accounts:  accounts,
		audit:     audit,
		logger:    logger.With("component", "api"),
	}
}

// accountRef identifies one service account in request bodies.
type accountRef struct {
	AccountID string `json:"awsAccountId"`
	Name      string `json:"iamSvcAccName"`
}

func (r accountRef) valid() bool {
	return r.AccountID != "" && r.Name != ""
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeOutcome renders a saga outcome at its mapped HTTP status.
func writeOutcome(w http.ResponseWriter, out domain.SagaOutcome) {
	writeJSON(w, out.Status.HTTPStatus(), out)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, httpStatusFromDomainError(err), map[string]interface{}{
		"errors": []string{err.Error()},
	})
}

// decode parses the JSON request body into v. A malformed body yields a
// 400 outcome and false.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeOutcome(w, domain.OutcomeError(domain.StatusBadRequest, "Invalid request body"))
		return false
	}
	return true
}

// --- lifecycle ---

func (h *Handler) Onboard(w http.ResponseWriter, r *http.Request) {
	var req domain.ServiceAccount
	if !decode(w, r, &req) {
		return
	}
	writeOutcome(w, h.lifecycle.Onboard(r.Context(), req))
}

func (h *Handler) Offboard(w http.ResponseWriter, r *http.Request) {
	var req accountRef
	if !decode(w, r, &req) {
		return
	}
	if !req.valid() {
		writeOutcome(w, domain.OutcomeError(domain.StatusBadRequest, "Invalid request body"))
		return
	}
	writeOutcome(w, h.lifecycle.Offboard(r.Context(), req.AccountID, req.Name))
}

func (h *Handler) Activate(w http.ResponseWriter, r *http.Request) {
	var req accountRef
	if !decode(w, r, &req) {
		return
	}
	if !req.valid() {
		writeOutcome(w, domain.OutcomeError(domain.StatusBadRequest, "Invalid request body"))
		return
	}
	writeOutcome(w, h.lifecycle.Activate(r.Context(), req.AccountID, req.Name))
}

// List returns the identities of all onboarded service accounts.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.accounts.ListOnboarded(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if accounts == nil {
		accounts = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"keys": accounts})
}

// --- access keys ---

func (h *Handler) CreateKey(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	name := chi.URLParam(r, "name")

	key, out := h.keys.CreateAccessKey(r.Context(), accountID, name)
	if !out.Succeeded() {
		writeOutcome(w, out)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"messages":  out.Messages,
		"accessKey": key,
	})
}

func (h *Handler) RotateKey(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	name := chi.URLParam(r, "name")
	keyID := chi.URLParam(r, "keyID")

	writeOutcome(w, h.keys.RotateAccessKey(r.Context(), accountID, name, keyID))
}

func (h *Handler) DeleteKey(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	name := chi.URLParam(r, "name")
	keyID := chi.URLParam(r, "keyID")

	writeOutcome(w, h.keys.DeleteAccessKey(r.Context(), accountID, name, keyID))
}

// --- permissions ---

func (h *Handler) AddUser(w http.ResponseWriter, r *http.Request) {
	var req permission.UserRequest
	if !decode(w, r, &req) {
		return
	}
	writeOutcome(w, h.perms.AddUser(r.Context(), req))
}

func (h *Handler) RemoveUser(w http.ResponseWriter, r *http.Request) {
	var req permission.UserRequest
	if !decode(w, r, &req) {
		return
	}
	writeOutcome(w, h.perms.RemoveUser(r.Context(), req))
}

func (h *Handler) AddGroup(w http.ResponseWriter, r *http.Request) {
	var req permission.GroupRequest
	if !decode(w, r, &req) {
		return
	}
	writeOutcome(w, h.perms.AddGroup(r.Context(), req, false))
}

func (h *Handler) RemoveGroup(w http.ResponseWriter, r *http.Request) {
	var req permission.GroupRequest
	if !decode(w, r, &req) {
		return
	}
	writeOutcome(w, h.perms.RemoveGroup(r.Context(), req))
}

func (h *Handler) AddAppRole(w http.ResponseWriter, r *http.Request) {
	var req permission.AppRoleRequest
	if !decode(w, r, &req) {
		return
	}
	writeOutcome(w, h.perms.AddAppRole(r.Context(), req))
}

func (h *Handler) RemoveAppRole(w http.ResponseWriter, r *http.Request) {
	var req permission.AppRoleRequest
	if !decode(w, r, &req) {
		return
	}
	writeOutcome(w, h.perms.RemoveAppRole(r.Context(), req))
}

func (h *Handler) AddAWSRole(w http.ResponseWriter, r *http.Request) {
	var req permission.AWSRoleRequest
	if !decode(w, r, &req) {
		return
	}
	writeOutcome(w, h.perms.AddAWSRole(r.Context(), req))
}

func (h *Handler) RemoveAWSRole(w http.ResponseWriter, r *http.Request) {
	var req permission.AWSRoleRequest
	if !decode(w, r, &req) {
		return
	}
	writeOutcome(w, h.perms.RemoveAWSRole(r.Context(), req))
}

// --- audit ---

// ListAudit returns recent audit entries, admin only. Optional query
// params: account, limit.
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	principal, ok := domain.PrincipalFromContext(r.Context())
	if !ok || !principal.IsAdmin() {
		writeOutcome(w, domain.OutcomeError(domain.StatusForbidden,
			"Access denied: No permission to read the audit trail"))
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeOutcome(w, domain.OutcomeError(domain.StatusBadRequest, "Invalid value specified for limit"))
			return
		}
		limit = n
	}

	entries, err := h.audit.List(r.Context(), r.URL.Query().Get("account"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}
