package http

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/marketplace/internal/service"
	apperrors "github.com/utafrali/marketplace/pkg/errors"
	"github.com/utafrali/marketplace/pkg/httputil"
)

// AdminHandler serves the reconciliation queue.
type AdminHandler struct {
	checkout *service.CheckoutCoordinator
	logger   *slog.Logger
}

// NewAdminHandler creates an admin HTTP handler.
func NewAdminHandler(checkout *service.CheckoutCoordinator, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{checkout: checkout, logger: logger}
}

// ResolveRequest is the JSON body for resolving a reconciliation entry.
type ResolveRequest struct {
	Note string `json:"note" validate:"required,max=1000"`
}

// ListReconciliations handles GET /api/v1/admin/reconciliations?include_resolved=true.
func (h *AdminHandler) ListReconciliations(w http.ResponseWriter, r *http.Request) {
	ctx, actor := caller(r)

	includeResolved := false
	if v := r.URL.Query().Get("include_resolved"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			httputil.WriteError(w, r, apperrors.InvalidInput("include_resolved must be a boolean"), h.logger)
			return
		}
		includeResolved = b
	}

	entries, err := h.checkout.ListReconciliations(ctx, actor, includeResolved)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, entries)
}

// ResolveReconciliation handles POST /api/v1/admin/reconciliations/{transactionID}/resolve.
func (h *AdminHandler) ResolveReconciliation(w http.ResponseWriter, r *http.Request) {
	ctx, actor := caller(r)
	limitBody(w, r)

	var req ResolveRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	entry, err := h.checkout.ResolveReconciliation(ctx, actor, chi.URLParam(r, "transactionID"), req.Note)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, entry)
}
