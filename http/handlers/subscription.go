package handlers

import (
	"net/http"

	"trust-payments/http/middleware"
	"trust-payments/http/response"
	"trust-payments/services"
	"trust-payments/utils"
)

// StartSubscription opens a membership for the caller (or, for admins, for
// member_id).
// POST /subscriptions
func (h *Handlers) StartSubscription(w http.ResponseWriter, r *http.Request) {
	var req services.StartSubscriptionRequest
	if err := utils.DecodeJSONRequest(r, &req); err != nil {
		response.ErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	resp, err := h.Services.Subscriptions.Start(r.Context(), middleware.CallerFrom(r.Context()), req)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.SendJSON(w, http.StatusOK, resp)
}

// CancelSubscription cancels at the end of the current billing cycle.
// POST /subscriptions/{id}/cancel
func (h *Handlers) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	resp, err := h.Services.Subscriptions.Cancel(r.Context(), middleware.CallerFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		response.Error(w, err)
		return
	}
	response.SendJSON(w, http.StatusOK, resp)
}
