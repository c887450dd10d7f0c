// Package handler exposes the storefront checkout API over HTTP.
package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/xenking/apparel-checkout/internal/domain/auth"
	"github.com/xenking/apparel-checkout/internal/domain/order"
	"github.com/xenking/apparel-checkout/internal/domain/payment"
	"github.com/xenking/apparel-checkout/internal/domain/product"
	"github.com/xenking/apparel-checkout/internal/domain/reconcile"
	"github.com/xenking/apparel-checkout/internal/handoff"
	"github.com/xenking/apparel-checkout/internal/watch"
)

// OrderService is the order intake and lookup API.
type OrderService interface {
	PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) (*order.PlaceOrderResult, error)
	RetrySession(ctx context.Context, number string) (*order.PlaceOrderResult, error)
	Get(ctx context.Context, number string) (*order.Order, error)
	ListByTaxID(ctx context.Context, taxID string) ([]order.Order, error)
	PurgePending(ctx context.Context, age time.Duration) (int64, error)
}

// Reconciler applies gateway notifications.
type Reconciler interface {
	Handle(ctx context.Context, n payment.Notification) (reconcile.Outcome, error)
}

// Watcher streams order views.
type Watcher interface {
	Run(ctx context.Context, number string, emit func(watch.Event) error) error
}

// HandoffBuilder renders the post-approval handoff.
type HandoffBuilder interface {
	Build(ctx context.Context, o *order.Order) handoff.Handoff
}

// Authenticator checks API keys.
type Authenticator interface {
	Authenticate(ctx context.Context, key, scope string) (*auth.APIKeyInfo, error)
}

// SettingsWriter updates storefront settings.
type SettingsWriter interface {
	Put(ctx context.Context, key, value string) error
}

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// WebhookSecret verifies the x-signature header of payment callbacks.
	// Verification is skipped when empty.
	WebhookSecret string
	// MaxBodyBytes limits request bodies.
	MaxBodyBytes int64
}

// Dependencies are the collaborators of a Handler.
type Dependencies struct {
	Orders     OrderService
	Reconciler Reconciler
	Products   product.Repository
	Watcher    Watcher
	Handoff    HandoffBuilder
	Auth       Authenticator
	Settings   SettingsWriter
}

// Handler serves the HTTP API.
type Handler struct {
	orders     OrderService
	reconciler Reconciler
	products   product.Repository
	watcher    Watcher
	handoff    HandoffBuilder
	auth       Authenticator
	settings   SettingsWriter

	webhookSecret string
	maxBodyBytes  int64
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig, deps Dependencies) *Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return &Handler{
		orders:        deps.Orders,
		reconciler:    deps.Reconciler,
		products:      deps.Products,
		watcher:       deps.Watcher,
		handoff:       deps.Handoff,
		auth:          deps.Auth,
		settings:      deps.Settings,
		webhookSecret: cfg.WebhookSecret,
		maxBodyBytes:  cfg.MaxBodyBytes,
	}
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/checkout", h.checkout)
	mux.HandleFunc("POST /api/checkout/{number}/retry", h.retryCheckout)
	mux.HandleFunc("POST /api/webhooks/payment", h.paymentWebhook)

	mux.HandleFunc("GET /api/orders", h.listOrders)
	mux.HandleFunc("GET /api/orders/{number}", h.getOrder)
	mux.HandleFunc("GET /api/orders/{number}/events", h.orderEvents)

	mux.HandleFunc("GET /api/products", h.listProducts)
	mux.HandleFunc("GET /api/products/{id}", h.getProduct)

	mux.Handle("DELETE /api/admin/orders/pending",
		h.requireKey(auth.ScopeOrdersAdmin, http.HandlerFunc(h.purgePending)))
	mux.Handle("PUT /api/admin/settings/{key}",
		h.requireKey(auth.ScopeSettingsAdmin, http.HandlerFunc(h.putSetting)))
}

// requireKey authenticates the api_key header, or a bearer token, against
// scope.
func (h *Handler) requireKey(scope string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("api_key")
		if key == "" {
			key, _ = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if _, err := h.auth.Authenticate(r.Context(), key, scope); err != nil {
			writeError(w, mapError(r.Context(), err))
			return
		}
		next.ServeHTTP(w, r)
	})
}
