package handlers

import (
	"context"
	"net/http"
	"time"

	"trust-payments/http/response"
)

// Healthz runs every health check.
// GET /healthz
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.Health))
	status := http.StatusOK
	for _, c := range h.Health {
		if err := c.Check(ctx); err != nil {
			checks[c.Name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[c.Name] = "ok"
	}

	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	response.SendJSON(w, status, map[string]interface{}{"status": state, "checks": checks})
}
