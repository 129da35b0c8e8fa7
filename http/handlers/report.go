package handlers

import (
	"fmt"
	"net/http"
	"time"

	apperr "trust-payments/errors"
	"trust-payments/http/response"
	"trust-payments/logger"
	"trust-payments/utils"
)

// ReconciliationReport streams the reconciliation workbook. from and to are
// YYYY-MM-DD; to is inclusive and defaults to today, from to seven days
// before it.
// GET /admin/reports/reconciliation
func (h *Handlers) ReconciliationReport(w http.ResponseWriter, r *http.Request) {
	if h.Reports == nil {
		response.ErrorResponse(w, http.StatusServiceUnavailable, "Reports are not available")
		return
	}

	from, to, err := ReportWindow(r.URL.Query().Get("from"), r.URL.Query().Get("to"), time.Now())
	if err != nil {
		response.Error(w, err)
		return
	}

	report, err := h.Reports.Build(r.Context(), from, to)
	if err != nil {
		response.Error(w, err)
		return
	}
	defer report.Close()

	name := fmt.Sprintf("reconciliation_%s_%s.xlsx", from.Format(time.DateOnly), to.AddDate(0, 0, -1).Format(time.DateOnly))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := report.WriteTo(w); err != nil {
		logger.Error("[REPORT] Error streaming workbook: %v", err)
	}
}

// ReportWindow parses the report's date range into [from, to). Days are
// the trust's local days, matching the dates in payment references.
func ReportWindow(fromStr, toStr string, now time.Time) (time.Time, time.Time, error) {
	local := now.In(utils.TrustLocation)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, utils.TrustLocation)
	to := today
	if toStr != "" {
		t, err := time.ParseInLocation(time.DateOnly, toStr, utils.TrustLocation)
		if err != nil {
			return time.Time{}, time.Time{}, apperr.E(apperr.Invalid, "to must be YYYY-MM-DD")
		}
		to = t
	}
	from := to.AddDate(0, 0, -7)
	if fromStr != "" {
		f, err := time.ParseInLocation(time.DateOnly, fromStr, utils.TrustLocation)
		if err != nil {
			return time.Time{}, time.Time{}, apperr.E(apperr.Invalid, "from must be YYYY-MM-DD")
		}
		from = f
	}
	to = to.AddDate(0, 0, 1)
	if !from.Before(to) {
		return time.Time{}, time.Time{}, apperr.E(apperr.Invalid, "from must not be after to")
	}
	return from, to, nil
}
