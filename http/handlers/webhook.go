package handlers

import (
	"io"
	"net/http"

	"trust-payments/http/response"
)

const maxWebhookBody = 1 << 20

// Webhook receives gateway events. The signature covers the raw body, so it
// is read unparsed.
// POST /webhook
func (h *Handlers) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		response.ErrorResponse(w, http.StatusBadRequest, "Could not read request body")
		return
	}

	_, err = h.Services.Webhooks.Handle(r.Context(), body,
		r.Header.Get("X-Razorpay-Signature"), r.Header.Get("X-Razorpay-Event-Id"))
	if err != nil {
		response.Error(w, err)
		return
	}
	response.SendJSON(w, http.StatusOK, map[string]bool{"received": true})
}
