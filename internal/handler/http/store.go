package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/marketplace/internal/service"
	"github.com/utafrali/marketplace/pkg/httputil"
)

// StoreHandler serves store lifecycle and staff endpoints.
type StoreHandler struct {
	market *service.MarketService
	logger *slog.Logger
}

// NewStoreHandler creates a store HTTP handler.
func NewStoreHandler(market *service.MarketService, logger *slog.Logger) *StoreHandler {
	return &StoreHandler{market: market, logger: logger}
}

// OpenStore handles POST /api/v1/stores. The caller becomes the founder.
func (h *StoreHandler) OpenStore(w http.ResponseWriter, r *http.Request) {
	ctx, actor := caller(r)
	limitBody(w, r)

	var req service.OpenStoreInput
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	info, err := h.market.OpenStore(ctx, actor, req)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusCreated, info)
}

// GetStore handles GET /api/v1/stores/{storeID}.
func (h *StoreHandler) GetStore(w http.ResponseWriter, r *http.Request) {
	info, err := h.market.StoreInfo(r.Context(), chi.URLParam(r, "storeID"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, info)
}

// CloseStore handles POST /api/v1/stores/{storeID}/close.
func (h *StoreHandler) CloseStore(w http.ResponseWriter, r *http.Request) {
	ctx, actor := caller(r)
	if err := h.market.CloseStore(ctx, actor, chi.URLParam(r, "storeID")); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReopenStore handles POST /api/v1/stores/{storeID}/reopen.
func (h *StoreHandler) ReopenStore(w http.ResponseWriter, r *http.Request) {
	ctx, actor := caller(r)
	if err := h.market.ReopenStore(ctx, actor, chi.URLParam(r, "storeID")); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClosePermanently handles DELETE /api/v1/stores/{storeID}. Admin only.
func (h *StoreHandler) ClosePermanently(w http.ResponseWriter, r *http.Request) {
	ctx, actor := caller(r)
	removed, err := h.market.ClosePermanently(ctx, actor, chi.URLParam(r, "storeID"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, map[string]any{"removed_staff": removed})
}

// ListStaff handles GET /api/v1/stores/{storeID}/staff.
func (h *StoreHandler) ListStaff(w http.ResponseWriter, r *http.Request) {
	ctx, actor := caller(r)
	staff, err := h.market.StaffInfo(ctx, actor, chi.URLParam(r, "storeID"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, staff)
}

// Appoint handles POST /api/v1/stores/{storeID}/staff.
func (h *StoreHandler) Appoint(w http.ResponseWriter, r *http.Request) {
	ctx, actor := caller(r)
	limitBody(w, r)

	var req service.AppointInput
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	appt, err := h.market.Appoint(ctx, actor, chi.URLParam(r, "storeID"), req)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusCreated, appt)
}

// Revoke handles DELETE /api/v1/stores/{storeID}/staff/{userID}. The
// response lists every identity removed by the cascade.
func (h *StoreHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	ctx, actor := caller(r)
	removed, err := h.market.Revoke(ctx, actor, chi.URLParam(r, "storeID"), chi.URLParam(r, "userID"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, map[string]any{"removed": removed})
}

// SetPermissions handles PUT /api/v1/stores/{storeID}/staff/{userID}/permissions.
func (h *StoreHandler) SetPermissions(w http.ResponseWriter, r *http.Request) {
	ctx, actor := caller(r)
	limitBody(w, r)

	var req service.SetPermissionsInput
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	err := h.market.SetPermissions(ctx, actor, chi.URLParam(r, "storeID"), chi.URLParam(r, "userID"), req)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PurchaseHistory handles GET /api/v1/stores/{storeID}/purchases.
func (h *StoreHandler) PurchaseHistory(w http.ResponseWriter, r *http.Request) {
	ctx, actor := caller(r)
	records, err := h.market.StorePurchaseHistory(ctx, actor, chi.URLParam(r, "storeID"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, records)
}
