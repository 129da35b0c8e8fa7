package handlers

import (
	"net/http"

	apperr "trust-payments/errors"
	"trust-payments/http/middleware"
	"trust-payments/http/response"
	"trust-payments/models"
	"trust-payments/services"
	"trust-payments/utils"
)

// CreateOrder creates a gateway order for a donation or a membership.
// POST /orders
func (h *Handlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req services.CreateOrderRequest
	if err := utils.DecodeJSONRequest(r, &req); err != nil {
		response.ErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Type == models.OrderTypeMembership {
		if req.PlanID == "" {
			response.Error(w, apperr.NewInvalidParamsError("plan_id is required for membership orders"))
			return
		}
		// The plan price is charged; any amount in the request is ignored.
		resp, err := h.Services.Subscriptions.Start(r.Context(), middleware.CallerFrom(r.Context()),
			services.StartSubscriptionRequest{PlanID: req.PlanID})
		if err != nil {
			response.Error(w, err)
			return
		}
		response.SendJSON(w, http.StatusOK, resp)
		return
	}

	resp, err := h.Services.Payments.CreateDonationOrder(r.Context(), req)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.SendJSON(w, http.StatusOK, resp)
}

// VerifyPayment checks the checkout callback signature and settles the order.
// POST /verify-payment
func (h *Handlers) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req services.VerifyPaymentRequest
	if err := utils.DecodeJSONRequest(r, &req); err != nil {
		response.ErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	resp, err := h.Services.Payments.VerifyPayment(r.Context(), req)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.SendJSON(w, http.StatusOK, resp)
}
