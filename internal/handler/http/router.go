package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/marketplace/internal/service"
	"github.com/utafrali/marketplace/pkg/health"
	"github.com/utafrali/marketplace/pkg/middleware"
)

// RouterDeps carries everything the router mounts.
type RouterDeps struct {
	Market      *service.MarketService
	Checkout    *service.CheckoutCoordinator
	Health      *health.Handler
	Validate    middleware.TokenValidator
	RateLimiter *middleware.RateLimiter
	Logger      *slog.Logger
}

// NewRouter creates a chi router with all marketplace routes registered.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogging(deps.Logger))
	r.Use(middleware.Tracing)
	r.Use(middleware.PrometheusMetrics)
	r.Use(middleware.RequestLogger(deps.Logger))

	r.Get("/health/live", deps.Health.LivenessHandler())
	r.Get("/health/ready", deps.Health.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	stores := NewStoreHandler(deps.Market, deps.Logger)
	products := NewProductHandler(deps.Market, deps.Logger)
	carts := NewCartHandler(deps.Market, deps.Checkout, deps.Logger)
	admin := NewAdminHandler(deps.Checkout, deps.Logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(deps.Validate))
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware)
		}

		r.Route("/stores", func(r chi.Router) {
			r.Post("/", stores.OpenStore)
			r.Route("/{storeID}", func(r chi.Router) {
				r.Get("/", stores.GetStore)
				r.Delete("/", stores.ClosePermanently)
				r.Post("/close", stores.CloseStore)
				r.Post("/reopen", stores.ReopenStore)

				r.Get("/staff", stores.ListStaff)
				r.Post("/staff", stores.Appoint)
				r.Delete("/staff/{userID}", stores.Revoke)
				r.Put("/staff/{userID}/permissions", stores.SetPermissions)

				r.Post("/products", products.AddProduct)
				r.Patch("/products/{productID}", products.EditProduct)
				r.Delete("/products/{productID}", products.RemoveProduct)

				r.Put("/policies/purchase", products.SetPurchasePolicy)
				r.Put("/policies/discount", products.SetDiscountPolicy)

				r.Get("/purchases", stores.PurchaseHistory)
			})
		})

		r.Get("/products/search", products.Search)

		r.Get("/cart", carts.GetCart)
		r.Delete("/cart", carts.ClearCart)
		r.Put("/cart/items", carts.SetItem)
		r.Delete("/cart/items/{storeID}/{productID}", carts.RemoveItem)
		r.Post("/checkout", carts.Checkout)
		r.Get("/me/purchases", carts.PurchaseHistory)

		r.Get("/admin/reconciliations", admin.ListReconciliations)
		r.Post("/admin/reconciliations/{transactionID}/resolve", admin.ResolveReconciliation)
	})

	return r
}
