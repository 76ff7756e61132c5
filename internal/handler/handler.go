// Package handler serves the JSON HTTP API over the catalog, cart and order
// services.
package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xenking/campus-canteen/internal/domain/auth"
	"github.com/xenking/campus-canteen/internal/domain/cart"
	"github.com/xenking/campus-canteen/internal/domain/catalog"
	"github.com/xenking/campus-canteen/internal/domain/order"
	"github.com/xenking/campus-canteen/internal/watch"
	"github.com/xenking/campus-canteen/pkg/httpmiddleware"
)

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// StreamKeepAlive is the interval of comment lines on idle order streams.
	StreamKeepAlive time.Duration
}

// Handler implements the HTTP API.
type Handler struct {
	catalog   *catalog.Service
	orders    *order.Service
	carts     *cart.Registry
	watcher   *watch.Watcher
	authn     *auth.Authenticator
	lg        *zap.Logger
	keepAlive time.Duration
}

func New(
	cfg Config,
	catalogService *catalog.Service,
	orderService *order.Service,
	carts *cart.Registry,
	watcher *watch.Watcher,
	authn *auth.Authenticator,
	lg *zap.Logger,
) *Handler {
	if cfg.StreamKeepAlive <= 0 {
		cfg.StreamKeepAlive = 15 * time.Second
	}
	return &Handler{
		catalog:   catalogService,
		orders:    orderService,
		carts:     carts,
		watcher:   watcher,
		authn:     authn,
		lg:        lg,
		keepAlive: cfg.StreamKeepAlive,
	}
}

// RouterConfig configures the router returned by Router.
type RouterConfig struct {
	// Middlewares wrap every route. They run inside the router, so
	// httpmiddleware.ChiRoute resolves the matched pattern.
	Middlewares []httpmiddleware.Middleware
	// APIMiddlewares wrap /api routes after authentication, so they can key
	// on the principal.
	APIMiddlewares []httpmiddleware.Middleware
	Live, Ready    http.HandlerFunc
}

// Router builds the chi router of the API and the probes.
func (h *Handler) Router(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(cfg.Middlewares...)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	if cfg.Live != nil {
		r.Get("/livez", cfg.Live)
	}
	if cfg.Ready != nil {
		r.Get("/readyz", cfg.Ready)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(h.Authenticate)
		r.Use(cfg.APIMiddlewares...)

		r.Route("/canteens", func(r chi.Router) {
			r.Get("/", h.ListCanteens)
			r.Post("/", h.CreateCanteen)
			r.Route("/registrations", func(r chi.Router) {
				r.Get("/", h.ListRegistrations)
				r.Post("/", h.RegisterCanteen)
				r.Post("/{registrationID}/approve", h.ApproveCanteen)
				r.Post("/{registrationID}/reject", h.RejectCanteen)
			})
			r.Route("/{canteenID}", func(r chi.Router) {
				r.Get("/", h.GetCanteen)
				r.Patch("/", h.UpdateCanteen)
				r.Delete("/", h.DeactivateCanteen)
				r.Put("/taking-orders", h.SetTakingOrders)
				r.Get("/menu", h.ListMenu)
				r.Post("/menu", h.AddMenuItem)
				r.Put("/menu/{itemID}", h.UpdateMenuItem)
				r.Delete("/menu/{itemID}", h.RemoveMenuItem)
				r.Get("/orders", h.ListCanteenOrders)
				r.Get("/stats", h.CanteenStats)
			})
		})

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.GetCart)
			r.Delete("/", h.ClearCart)
			r.Post("/items", h.AddCartItem)
			r.Put("/items/{itemID}", h.UpdateCartItem)
			r.Delete("/items/{itemID}", h.RemoveCartItem)
		})
		r.Post("/checkout", h.Checkout)

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", h.ListOrders)
			r.Get("/stream", h.StreamOrders)
			r.Get("/{orderID}", h.GetOrder)
			r.Post("/{orderID}/status", h.UpdateOrderStatus)
		})
	})
	return r
}
