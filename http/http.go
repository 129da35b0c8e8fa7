package http

import (
	"net/http"

	"trust-payments/http/handlers"
	"trust-payments/http/middleware"
	"trust-payments/metrics"
)

// NewRouter configures all HTTP routes and middleware.
func NewRouter(h *handlers.Handlers, auth *middleware.Auth) http.Handler {
	mux := http.NewServeMux()

	// Checkout APIs
	mux.Handle("POST /orders", auth.Optional(http.HandlerFunc(h.CreateOrder)))
	mux.HandleFunc("POST /verify-payment", h.VerifyPayment)
	mux.HandleFunc("POST /webhook", h.Webhook)

	// Membership APIs
	mux.Handle("POST /subscriptions", auth.Require(http.HandlerFunc(h.StartSubscription)))
	mux.Handle("POST /subscriptions/{id}/cancel", auth.Require(http.HandlerFunc(h.CancelSubscription)))

	// Admin APIs
	mux.Handle("GET /admin/reports/reconciliation", auth.RequireAdmin(http.HandlerFunc(h.ReconciliationReport)))
	mux.Handle("GET /admin/dlq/messages", auth.RequireAdmin(http.HandlerFunc(h.GetDLQMessages)))
	mux.Handle("POST /admin/dlq/messages/{id}/retry", auth.RequireAdmin(http.HandlerFunc(h.RetryDLQMessage)))
	mux.Handle("POST /admin/dlq/messages/{id}/resolve", auth.RequireAdmin(http.HandlerFunc(h.ResolveDLQMessage)))
	mux.Handle("GET /admin/dlq/stats", auth.RequireAdmin(http.HandlerFunc(h.GetDLQStats)))

	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.Handle("GET /metrics", metrics.Handler())

	return middleware.Recover(middleware.LogRequests(middleware.EnableCORS(mux)))
}
