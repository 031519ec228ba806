package handler

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	dErrors "strata/pkg/domain-errors"

	"strata/internal/provisioner"
	"strata/internal/sentinel"
	"strata/internal/tenant/models"
	"strata/pkg/platform/httputil"
	"strata/pkg/requestcontext"
)

// Provisioner defines the tenant lifecycle operations the handler exposes.
// Returns domain objects, not HTTP response DTOs.
type Provisioner interface {
	Create(ctx context.Context, name, optionalID string) (*models.TenantRecord, error)
	Get(ctx context.Context, tenantID string) (*models.TenantRecord, error)
	Describe(ctx context.Context, tenantID string) (*provisioner.Details, error)
	List(ctx context.Context) ([]*models.TenantRecord, error)
	Rename(ctx context.Context, tenantID, name string) error
	Delete(ctx context.Context, tenantID string) error
}

// Pools runs SQL against a tenant's own database.
type Pools interface {
	Query(ctx context.Context, tenantID, query string, args ...any) (*sql.Rows, error)
	Exec(ctx context.Context, tenantID, query string, args ...any) (sql.Result, error)
}

type Handler struct {
	provisioner Provisioner
	pools       Pools
	logger      *slog.Logger
}

func New(p Provisioner, pools Pools, logger *slog.Logger) *Handler {
	return &Handler{provisioner: p, pools: pools, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/admin/tenants", h.HandleCreateTenant)
	r.Get("/admin/tenants", h.HandleListTenants)
	r.Get("/admin/tenants/{id}", h.HandleGetTenant)
	r.Get("/admin/tenants/{id}/connection", h.HandleGetConnection)
	r.Patch("/admin/tenants/{id}", h.HandleRenameTenant)
	r.Delete("/admin/tenants/{id}", h.HandleDeleteTenant)
	r.Get("/admin/tenants/{id}/data", h.HandleListData)
	r.Post("/admin/tenants/{id}/data", h.HandleInsertData)
}

// HandleCreateTenant provisions a new tenant database.
func (h *Handler) HandleCreateTenant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[CreateTenantRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	rec, err := h.provisioner.Create(ctx, req.Name, req.ID)
	if err != nil {
		h.logger.ErrorContext(ctx, "create tenant failed", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, toTenantResponse(rec))
}

// HandleListTenants returns all tenants, newest first.
func (h *Handler) HandleListTenants(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	records, err := h.provisioner.List(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "list tenants failed", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}

	resp := &TenantListResponse{Tenants: make([]*TenantResponse, 0, len(records)), Count: len(records)}
	for _, rec := range records {
		resp.Tenants = append(resp.Tenants, toTenantResponse(rec))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// HandleGetTenant returns tenant metadata without credentials.
func (h *Handler) HandleGetTenant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	tenantID, ok := tenantIDParam(w, r)
	if !ok {
		return
	}

	rec, err := h.provisioner.Get(ctx, tenantID)
	if err != nil {
		h.logger.ErrorContext(ctx, "get tenant failed", "error", err, "request_id", requestID, "tenant_id", tenantID)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, toTenantResponse(rec))
}

// HandleGetConnection returns the tenant's decrypted credentials and derived
// connection string.
func (h *Handler) HandleGetConnection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	tenantID, ok := tenantIDParam(w, r)
	if !ok {
		return
	}

	details, err := h.provisioner.Describe(ctx, tenantID)
	if err != nil {
		h.logger.ErrorContext(ctx, "describe tenant failed", "error", err, "request_id", requestID, "tenant_id", tenantID)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, toConnectionResponse(details))
}

// HandleRenameTenant updates the display name. Database identifiers never change.
func (h *Handler) HandleRenameTenant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	tenantID, ok := tenantIDParam(w, r)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[RenameTenantRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	if err := h.provisioner.Rename(ctx, tenantID, req.Name); err != nil {
		h.logger.ErrorContext(ctx, "rename tenant failed", "error", err, "request_id", requestID, "tenant_id", tenantID)
		httputil.WriteError(w, err)
		return
	}

	rec, err := h.provisioner.Get(ctx, tenantID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toTenantResponse(rec))
}

// HandleDeleteTenant tears down the tenant database, role, and registry row.
func (h *Handler) HandleDeleteTenant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	tenantID, ok := tenantIDParam(w, r)
	if !ok {
		return
	}

	if err := h.provisioner.Delete(ctx, tenantID); err != nil {
		h.logger.ErrorContext(ctx, "delete tenant failed", "error", err, "request_id", requestID, "tenant_id", tenantID)
		httputil.WriteError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleListData reads the tenant's key/value rows through its pooled database.
func (h *Handler) HandleListData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	tenantID, ok := tenantIDParam(w, r)
	if !ok {
		return
	}

	rows, err := h.pools.Query(ctx, tenantID,
		`SELECT id, key, value, created_at FROM tenant_data ORDER BY id`)
	if err != nil {
		h.logger.ErrorContext(ctx, "query tenant data failed", "error", err, "request_id", requestID, "tenant_id", tenantID)
		httputil.WriteError(w, mapPoolError(err))
		return
	}
	defer rows.Close() //nolint:errcheck // read-only result set

	resp := &DataListResponse{TenantID: tenantID, Rows: []*DataRow{}}
	for rows.Next() {
		var row DataRow
		if err := rows.Scan(&row.ID, &row.Key, &row.Value, &row.CreatedAt); err != nil {
			httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "scan tenant data"))
			return
		}
		resp.Rows = append(resp.Rows, &row)
	}
	if err := rows.Err(); err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "read tenant data"))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, resp)
}

// HandleInsertData writes one key/value row into the tenant's database.
func (h *Handler) HandleInsertData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	tenantID, ok := tenantIDParam(w, r)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[InsertDataRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	if _, err := h.pools.Exec(ctx, tenantID,
		`INSERT INTO tenant_data (key, value) VALUES ($1, $2)`, req.Key, req.Value); err != nil {
		h.logger.ErrorContext(ctx, "insert tenant data failed", "error", err, "request_id", requestID, "tenant_id", tenantID)
		httputil.WriteError(w, mapPoolError(err))
		return
	}

	w.WriteHeader(http.StatusCreated)
}

// mapPoolError lifts pool-layer sentinel errors into domain errors so the
// transport returns the right status.
func mapPoolError(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrTenantNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "tenant not found")
	case errors.Is(err, sentinel.ErrPoolClosed):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "service shutting down")
	case errors.Is(err, sentinel.ErrTransientBackend):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "database temporarily unavailable")
	default:
		return err
	}
}

func tenantIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if err := models.ValidateID(id); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid tenant id"))
		return "", false
	}
	return id, true
}
