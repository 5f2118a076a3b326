package api

import (
	"net/http"

	"github.com/alecgard/ratekeeper/internal/auth"
	"github.com/alecgard/ratekeeper/internal/rating"
	"github.com/alecgard/ratekeeper/internal/tenant"
	"github.com/go-chi/chi/v5"
)

// tenantsHandler groups tenant, namespace binding and local user
// administration.
type tenantsHandler struct {
	store *tenant.Store
	users *auth.LocalBackend
}

func newTenantsHandler(store *tenant.Store, users *auth.LocalBackend) *tenantsHandler {
	return &tenantsHandler{store: store, users: users}
}

type linkRequest struct {
	Tenant     string   `json:"tenant"`
	Namespaces []string `json:"namespaces"`
}

type bindRequest struct {
	Tenant string `json:"tenant"`
}

type createUserRequest struct {
	Tenant   string `json:"tenant"`
	Password string `json:"password"`
	Group    string `json:"group"`
}

// ListTenants handles GET /api/v1/admin/tenants.
func (h *tenantsHandler) ListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.store.Tenants(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeResults(w, tenants)
}

// GetTenant handles GET /api/v1/admin/tenants/{tenant}: the namespaces it owns.
func (h *tenantsHandler) GetTenant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "tenant")
	if err := rating.ValidateParam("tenant", id); err != nil {
		writeStoreError(w, err)
		return
	}
	namespaces, err := h.store.NamespacesFor(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "tenant", id)
		return
	}
	writeResults(w, namespaces)
}

// Link handles POST /api/v1/admin/tenants/link.
func (h *tenantsHandler) Link(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readLink(w, r, true)
	if !ok {
		return
	}
	n, err := h.store.Link(r.Context(), req.Tenant, req.Namespaces)
	if err != nil {
		writeStoreError(w, err, "tenant", req.Tenant)
		return
	}
	auditLog(r, "link", "tenant", req.Tenant, "namespaces", req.Namespaces, "updated", n)
	writeJSON(w, http.StatusOK, resultsEnvelope{Total: int(n), Results: req.Namespaces})
}

// Unlink handles POST /api/v1/admin/tenants/unlink. The namespaces go back
// to the default tenant.
func (h *tenantsHandler) Unlink(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readLink(w, r, false)
	if !ok {
		return
	}
	n, err := h.store.Unlink(r.Context(), req.Namespaces)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	auditLog(r, "unlink", "tenant", tenant.DefaultTenant, "namespaces", req.Namespaces, "updated", n)
	writeJSON(w, http.StatusOK, resultsEnvelope{Total: int(n), Results: req.Namespaces})
}

// DeleteTenant handles DELETE /api/v1/admin/tenants/{tenant}.
func (h *tenantsHandler) DeleteTenant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "tenant")
	if err := rating.ValidateParam("tenant", id); err != nil {
		writeStoreError(w, err)
		return
	}
	n, err := h.store.Delete(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "tenant", id)
		return
	}
	auditLog(r, "delete", "tenant", id, "namespaces", n)
	w.WriteHeader(http.StatusNoContent)
}

// BindNamespace handles PUT /api/v1/admin/namespaces/{namespace}.
func (h *tenantsHandler) BindNamespace(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")
	if err := rating.ValidateParam("namespace", namespace); err != nil {
		writeStoreError(w, err)
		return
	}
	var req bindRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if req.Tenant != "" {
		if err := rating.ValidateParam("tenant", req.Tenant); err != nil {
			writeStoreError(w, err)
			return
		}
	}
	if err := h.store.Bind(r.Context(), namespace, req.Tenant); err != nil {
		writeStoreError(w, err, "namespace", namespace)
		return
	}

	owner := req.Tenant
	if owner == "" {
		owner = tenant.DefaultTenant
	}
	auditLog(r, "bind", "namespace", namespace, "tenant", owner)
	writeResults(w, []tenant.Binding{{Namespace: namespace, TenantID: owner}})
}

// CreateUser handles POST /api/v1/admin/users.
func (h *tenantsHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if err := rating.ValidateParam("tenant", req.Tenant); err != nil {
		writeStoreError(w, err)
		return
	}
	if req.Password == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "password is required")
		return
	}
	if err := h.users.AddUser(r.Context(), req.Tenant, req.Password, req.Group); err != nil {
		writeStoreError(w, err, "tenant", req.Tenant)
		return
	}
	auditLog(r, "create", "user", req.Tenant, "group", req.Group)
	writeJSON(w, http.StatusCreated, resultsEnvelope{Total: 1, Results: []string{req.Tenant}})
}

func (h *tenantsHandler) readLink(w http.ResponseWriter, r *http.Request, needTenant bool) (*linkRequest, bool) {
	var req linkRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return nil, false
	}
	if needTenant {
		if err := rating.ValidateParam("tenant", req.Tenant); err != nil {
			writeStoreError(w, err)
			return nil, false
		}
	}
	if len(req.Namespaces) == 0 {
		writeError(w, http.StatusBadRequest, "validation_error", "namespaces is required")
		return nil, false
	}
	for _, ns := range req.Namespaces {
		if err := rating.ValidateParam("namespace", ns); err != nil {
			writeStoreError(w, err)
			return nil, false
		}
	}
	return &req, true
}
