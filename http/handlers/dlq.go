package handlers

import (
	"net/http"
	"strconv"

	"trust-payments/http/response"
	"trust-payments/logger"
	"trust-payments/utils"
)

func (h *Handlers) dlqAvailable(w http.ResponseWriter) bool {
	if h.DLQ == nil {
		response.ErrorResponse(w, http.StatusServiceUnavailable, "DLQ is not available")
		return false
	}
	return true
}

// GetDLQMessages retrieves unresolved DLQ messages
// GET /admin/dlq/messages?limit=50
func (h *Handlers) GetDLQMessages(w http.ResponseWriter, r *http.Request) {
	if !h.dlqAvailable(w) {
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 {
			limit = parsedLimit
		}
	}

	messages, err := h.DLQ.Messages(r.Context(), limit)
	if err != nil {
		logger.Error("Error fetching DLQ messages: %v", err)
		response.Error(w, err)
		return
	}

	response.SuccessResponse(w, http.StatusOK, "DLQ messages retrieved", map[string]interface{}{
		"count": len(messages),
		"data":  messages,
	})
}

// RetryDLQMessage retries processing of a specific DLQ message
// POST /admin/dlq/messages/{id}/retry
func (h *Handlers) RetryDLQMessage(w http.ResponseWriter, r *http.Request) {
	if !h.dlqAvailable(w) {
		return
	}
	messageID := r.PathValue("id")

	resolved, err := h.DLQ.Retry(r.Context(), messageID)
	if err != nil {
		logger.Error("Error retrying DLQ message %s: %v", messageID, err)
		response.Error(w, err)
		return
	}

	msg := "Message retry failed; it stays in the DLQ"
	if resolved {
		msg = "Message reprocessed and resolved"
	}
	response.SuccessResponse(w, http.StatusOK, msg, map[string]interface{}{
		"messageId": messageID,
		"resolved":  resolved,
	})
}

// ResolveDLQMessage marks a DLQ message as resolved
// POST /admin/dlq/messages/{id}/resolve
func (h *Handlers) ResolveDLQMessage(w http.ResponseWriter, r *http.Request) {
	if !h.dlqAvailable(w) {
		return
	}
	messageID := r.PathValue("id")

	var req struct {
		Notes string `json:"notes"`
	}
	if err := utils.DecodeJSONRequest(r, &req); err != nil || req.Notes == "" {
		req.Notes = "Manually resolved"
	}

	if err := h.DLQ.Resolve(r.Context(), messageID, req.Notes); err != nil {
		logger.Error("Error resolving DLQ message %s: %v", messageID, err)
		response.Error(w, err)
		return
	}

	response.SuccessResponse(w, http.StatusOK, "Message marked as resolved", map[string]interface{}{
		"messageId": messageID,
	})
}

// GetDLQStats retrieves statistics about DLQ messages
// GET /admin/dlq/stats
func (h *Handlers) GetDLQStats(w http.ResponseWriter, r *http.Request) {
	if !h.dlqAvailable(w) {
		return
	}

	stats, err := h.DLQ.Stats(r.Context())
	if err != nil {
		logger.Error("Error fetching DLQ statistics: %v", err)
		response.Error(w, err)
		return
	}

	response.SuccessResponse(w, http.StatusOK, "DLQ statistics", stats)
}
