package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/marketplace/internal/domain"
	"github.com/utafrali/marketplace/internal/service"
	"github.com/utafrali/marketplace/pkg/httputil"
	"github.com/utafrali/marketplace/pkg/middleware"
)

// CartHandler serves the caller's cart, checkout and purchase history.
type CartHandler struct {
	market   *service.MarketService
	checkout *service.CheckoutCoordinator
	logger   *slog.Logger
}

// NewCartHandler creates a cart HTTP handler.
func NewCartHandler(market *service.MarketService, checkout *service.CheckoutCoordinator, logger *slog.Logger) *CartHandler {
	return &CartHandler{market: market, checkout: checkout, logger: logger}
}

// GetCart handles GET /api/v1/cart.
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, user := caller(r)
	cart, err := h.market.GetCart(ctx, user)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, cart)
}

// ClearCart handles DELETE /api/v1/cart.
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, user := caller(r)
	if err := h.market.ClearCart(ctx, user); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetItem handles PUT /api/v1/cart/items. A zero quantity removes the line.
func (h *CartHandler) SetItem(w http.ResponseWriter, r *http.Request) {
	ctx, user := caller(r)
	limitBody(w, r)

	var req service.CartItemInput
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	cart, err := h.market.SetCartItem(ctx, user, req)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, cart)
}

// RemoveItem handles DELETE /api/v1/cart/items/{storeID}/{productID}.
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, user := caller(r)
	cart, err := h.market.RemoveCartItem(ctx, user, chi.URLParam(r, "storeID"), chi.URLParam(r, "productID"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, cart)
}

// Checkout handles POST /api/v1/checkout. The buyer's age comes from the
// token. Failures carry the transaction ID in the error details.
func (h *CartHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx, user := caller(r)
	tx, err := h.checkout.Checkout(ctx, domain.Buyer{ID: user, Age: middleware.AgeFromContext(ctx)})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusCreated, tx)
}

// PurchaseHistory handles GET /api/v1/me/purchases.
func (h *CartHandler) PurchaseHistory(w http.ResponseWriter, r *http.Request) {
	ctx, user := caller(r)
	records, err := h.market.UserPurchaseHistory(ctx, user)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, records)
}
