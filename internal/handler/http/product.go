package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/marketplace/internal/domain"
	"github.com/utafrali/marketplace/internal/service"
	"github.com/utafrali/marketplace/pkg/httputil"
)

// ProductHandler serves inventory, policy and search endpoints.
type ProductHandler struct {
	market *service.MarketService
	logger *slog.Logger
}

// NewProductHandler creates a product HTTP handler.
func NewProductHandler(market *service.MarketService, logger *slog.Logger) *ProductHandler {
	return &ProductHandler{market: market, logger: logger}
}

// SetDiscountPolicyRequest is the JSON body for replacing a discount policy.
type SetDiscountPolicyRequest struct {
	Rules []domain.DiscountRule `json:"rules" validate:"dive"`
}

// AddProduct handles POST /api/v1/stores/{storeID}/products.
func (h *ProductHandler) AddProduct(w http.ResponseWriter, r *http.Request) {
	ctx, actor := caller(r)
	limitBody(w, r)

	var req service.AddProductInput
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	product, err := h.market.AddProduct(ctx, actor, chi.URLParam(r, "storeID"), req)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusCreated, product)
}

// EditProduct handles PATCH /api/v1/stores/{storeID}/products/{productID}.
func (h *ProductHandler) EditProduct(w http.ResponseWriter, r *http.Request) {
	ctx, actor := caller(r)
	limitBody(w, r)

	var req service.EditProductInput
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	product, err := h.market.EditProduct(ctx, actor, chi.URLParam(r, "storeID"), chi.URLParam(r, "productID"), req)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, product)
}

// RemoveProduct handles DELETE /api/v1/stores/{storeID}/products/{productID}.
func (h *ProductHandler) RemoveProduct(w http.ResponseWriter, r *http.Request) {
	ctx, actor := caller(r)
	if err := h.market.RemoveProduct(ctx, actor, chi.URLParam(r, "storeID"), chi.URLParam(r, "productID")); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetPurchasePolicy handles PUT /api/v1/stores/{storeID}/policies/purchase.
// An empty object clears the policy.
func (h *ProductHandler) SetPurchasePolicy(w http.ResponseWriter, r *http.Request) {
	ctx, actor := caller(r)
	limitBody(w, r)

	var rule domain.PurchaseRule
	if err := httputil.DecodeJSON(r, &rule); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	if err := h.market.SetPurchasePolicy(ctx, actor, chi.URLParam(r, "storeID"), rule); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetDiscountPolicy handles PUT /api/v1/stores/{storeID}/policies/discount.
func (h *ProductHandler) SetDiscountPolicy(w http.ResponseWriter, r *http.Request) {
	ctx, actor := caller(r)
	limitBody(w, r)

	var req SetDiscountPolicyRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	if err := h.market.SetDiscountPolicy(ctx, actor, chi.URLParam(r, "storeID"), req.Rules); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Search handles GET /api/v1/products/search?name=&category=&keyword=.
// Only open stores are searched.
func (h *ProductHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	listings := h.market.SearchProducts(r.Context(), domain.ProductQuery{
		Name:     q.Get("name"),
		Category: q.Get("category"),
		Keyword:  q.Get("keyword"),
	})
	httputil.WriteData(w, http.StatusOK, listings)
}
