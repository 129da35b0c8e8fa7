package services

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"trust-payments/logger"
	"trust-payments/models"
	"trust-payments/utils"
)

// Sheet names of the reconciliation workbook.
const (
	SheetDonations    = "Donations"
	SheetPayments     = "Payments"
	SheetStalePending = "Stale Pending"
	SheetOrphanOrders = "Orphan Orders"
)

// ReportService builds the reconciliation workbook an admin uses to chase
// pending rows and gateway orders with no ledger row.
type ReportService struct {
	source     ReportSource
	gateway    Gateway
	staleAfter time.Duration
	now        func() time.Time
}

func NewReportService(source ReportSource, gateway Gateway, staleAfter time.Duration) *ReportService {
	if staleAfter <= 0 {
		staleAfter = time.Hour
	}
	return &ReportService{source: source, gateway: gateway, staleAfter: staleAfter, now: time.Now}
}

// Report is a rendered workbook plus the counts shown in its sheets.
type Report struct {
	From, To     time.Time
	Donations    int
	Payments     int
	StalePending int
	OrphanOrders int
	// GatewayError is set when the gateway could not be listed; the Orphan
	// Orders sheet then holds only that message.
	GatewayError string

	file *excelize.File
}

// WriteTo streams the workbook as XLSX.
func (r *Report) WriteTo(w io.Writer) (int64, error) {
	return r.file.WriteTo(w)
}

// SaveAs writes the workbook to path.
func (r *Report) SaveAs(path string) error {
	return r.file.SaveAs(path)
}

func (r *Report) Close() error {
	return r.file.Close()
}

type staleRow struct {
	table     string
	reference string
	orderID   string
	amount    string
	createdAt time.Time
}

// Build collects ledger rows created in [from, to) and gateway orders in the
// same window.
func (s *ReportService) Build(ctx context.Context, from, to time.Time) (*Report, error) {
	donations, err := s.source.ListDonations(ctx, from, to)
	if err != nil {
		return nil, err
	}
	payments, err := s.source.ListPayments(ctx, from, to)
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(donations)+len(payments))
	var stale []staleRow
	cutoff := s.now().Add(-s.staleAfter)

	for _, d := range donations {
		known[d.RazorpayOrderID] = true
		if d.PaymentStatus == models.PaymentPending && d.CreatedAt.Before(cutoff) {
			stale = append(stale, staleRow{"donations", d.PaymentReference, d.RazorpayOrderID, d.Amount.StringFixed(2), d.CreatedAt})
		}
	}
	for _, p := range payments {
		if p.RazorpayOrderID != "" {
			known[p.RazorpayOrderID] = true
		}
		if p.PaymentStatus == models.PaymentPending && p.CreatedAt.Before(cutoff) {
			stale = append(stale, staleRow{"payments", p.PaymentReference, p.RazorpayOrderID, p.Amount.StringFixed(2), p.CreatedAt})
		}
	}

	report := &Report{
		From:         from,
		To:           to,
		Donations:    len(donations),
		Payments:     len(payments),
		StalePending: len(stale),
	}

	var orphans []GatewayOrder
	orders, err := s.gateway.ListOrders(ctx, from, to)
	if err != nil {
		// The ledger sheets are still useful without the gateway.
		logger.Warn("[REPORT] Could not list gateway orders: %v", err)
		report.GatewayError = err.Error()
	}
	for _, o := range orders {
		if !known[o.ID] {
			orphans = append(orphans, o)
		}
	}
	report.OrphanOrders = len(orphans)

	f := excelize.NewFile()
	if err := s.fill(f, report, donations, payments, stale, orphans); err != nil {
		f.Close()
		return nil, fmt.Errorf("error building reconciliation workbook: %w", err)
	}
	report.file = f

	logger.Info("[REPORT] Reconciliation %s..%s: %d donations, %d payments, %d stale, %d orphan",
		from.Format(time.DateOnly), to.Format(time.DateOnly),
		report.Donations, report.Payments, report.StalePending, report.OrphanOrders)
	return report, nil
}

func (s *ReportService) fill(f *excelize.File, r *Report, donations []models.Donation, payments []models.Payment, stale []staleRow, orphans []GatewayOrder) error {
	if err := f.SetSheetName("Sheet1", SheetDonations); err != nil {
		return err
	}
	for _, name := range []string{SheetPayments, SheetStalePending, SheetOrphanOrders} {
		if _, err := f.NewSheet(name); err != nil {
			return err
		}
	}

	rows := [][]interface{}{{"Reference", "Order ID", "Payment ID", "Donor", "Email", "Amount", "Currency", "Status", "Created At"}}
	for _, d := range donations {
		rows = append(rows, []interface{}{d.PaymentReference, d.RazorpayOrderID, d.RazorpayPaymentID,
			d.DonorName, d.DonorEmail, d.Amount.InexactFloat64(), d.Currency, string(d.PaymentStatus), d.CreatedAt})
	}
	if err := writeRows(f, SheetDonations, rows); err != nil {
		return err
	}

	rows = [][]interface{}{{"Reference", "Order ID", "Payment ID", "Member", "Subscription", "Plan", "Amount", "Currency", "Type", "Status", "Created At"}}
	for _, p := range payments {
		rows = append(rows, []interface{}{p.PaymentReference, p.RazorpayOrderID, p.RazorpayPaymentID,
			p.MemberID, p.SubscriptionID, p.PlanID, p.Amount.InexactFloat64(), p.Currency, p.PaymentType, string(p.PaymentStatus), p.CreatedAt})
	}
	if err := writeRows(f, SheetPayments, rows); err != nil {
		return err
	}

	rows = [][]interface{}{{"Table", "Reference", "Order ID", "Amount", "Created At", "Age (hours)"}}
	now := s.now()
	for _, st := range stale {
		age := now.Sub(st.createdAt).Hours()
		rows = append(rows, []interface{}{st.table, st.reference, st.orderID, st.amount, st.createdAt, int(age)})
	}
	if err := writeRows(f, SheetStalePending, rows); err != nil {
		return err
	}

	rows = [][]interface{}{{"Order ID", "Receipt", "Amount", "Currency", "Status", "Created At"}}
	if r.GatewayError != "" {
		rows = append(rows, []interface{}{"gateway unavailable: " + r.GatewayError})
	}
	for _, o := range orphans {
		rows = append(rows, []interface{}{o.ID, o.Receipt, utils.FromMinorUnits(o.AmountPaise).InexactFloat64(),
			o.Currency, o.Status, o.CreatedAt})
	}
	return writeRows(f, SheetOrphanOrders, rows)
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}
