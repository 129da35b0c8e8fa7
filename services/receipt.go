package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"time"

	"github.com/jung-kurt/gofpdf"

	apperr "trust-payments/errors"
	"trust-payments/logger"
	"trust-payments/models"
)

// EmailEvent is the email.send message on the emails topic.
type EmailEvent struct {
	Event     string     `json:"event"`
	Template  string     `json:"template"`
	Recipient string     `json:"recipient"`
	Receipt   ReceiptJob `json:"receipt"`
}

const (
	EventEmailSend  = "email.send"
	TemplateReceipt = "receipt"
)

var receiptZone = time.FixedZone("IST", 5*60*60+30*60)

// RenderReceipt draws a one-page PDF receipt.
func RenderReceipt(trustName string, job ReceiptJob) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Receipt "+job.PaymentReference, false)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 18)
	pdf.CellFormat(0, 12, trustName, "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 12)
	pdf.CellFormat(0, 8, receiptTitle(job), "", 1, "C", false, 0, "")
	pdf.Ln(8)

	rows := [][2]string{
		{"Receipt No.", job.PaymentReference},
		{"Received from", job.Name},
		{"Email", job.Email},
		{"Amount", models.Currency + " " + job.Amount.StringFixed(2)},
		{"Payment ID", job.PaymentID},
		{"Order ID", job.OrderID},
		{"Date", job.PaidAt.In(receiptZone).Format("02 Jan 2006 15:04 MST")},
	}
	if job.PlanName != "" {
		rows = append(rows, [2]string{"Membership plan", job.PlanName})
	}

	for _, r := range rows {
		pdf.SetFont("Arial", "B", 11)
		pdf.CellFormat(50, 8, r[0], "1", 0, "L", false, 0, "")
		pdf.SetFont("Arial", "", 11)
		pdf.CellFormat(0, 8, r[1], "1", 1, "L", false, 0, "")
	}

	pdf.Ln(10)
	pdf.SetFont("Arial", "I", 10)
	pdf.MultiCell(0, 6, "Thank you for supporting our athletes. This is a computer generated receipt and needs no signature.", "", "L", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("error generating receipt PDF: %w", err)
	}
	return buf.Bytes(), nil
}

func receiptTitle(job ReceiptJob) string {
	if job.Kind == models.OrderTypeMembership {
		return "Membership Payment Receipt"
	}
	return "Donation Receipt"
}

var receiptBody = template.Must(template.New("receipt").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <p>Dear <strong>{{.Job.Name}}</strong>,</p>
    <p>Thank you for your {{if eq .Job.Kind "membership"}}membership payment{{else}}donation{{end}} of
       <strong>INR {{.Amount}}</strong> to {{.Trust}}.</p>
    <p>Your payment reference is <strong>{{.Job.PaymentReference}}</strong>. The receipt is attached.</p>
    <p>Best regards,<br/><strong>{{.Trust}}</strong></p>
    <p style="font-size: 12px; color: #666;">This is an automated email. Please do not reply to this address.</p>
</body>
</html>`))

// ReceiptMailer renders the receipt and mails it.
type ReceiptMailer struct {
	mailer    Mailer
	trustName string
}

func NewReceiptMailer(mailer Mailer, trustName string) *ReceiptMailer {
	return &ReceiptMailer{mailer: mailer, trustName: trustName}
}

// SendReceipt implements ReceiptSender. Unconfigured SMTP skips the email.
func (r *ReceiptMailer) SendReceipt(ctx context.Context, job ReceiptJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if job.Email == "" {
		logger.Warn("[NOTIFY] Receipt %s has no recipient, skipping", job.PaymentReference)
		return nil
	}

	pdf, err := RenderReceipt(r.trustName, job)
	if err != nil {
		return err
	}

	var body bytes.Buffer
	if err := receiptBody.Execute(&body, map[string]interface{}{
		"Job":    job,
		"Amount": job.Amount.StringFixed(2),
		"Trust":  r.trustName,
	}); err != nil {
		return fmt.Errorf("error rendering receipt email: %w", err)
	}

	err = r.mailer.Send(Email{
		To:          job.Email,
		Subject:     fmt.Sprintf("%s - %s", receiptTitle(job), job.PaymentReference),
		HTMLBody:    body.String(),
		Attachments: []Attachment{{Name: "receipt-" + job.PaymentReference + ".pdf", Content: pdf}},
	})
	if apperr.Is(err, ErrMailDisabled) {
		logger.Warn("[NOTIFY] SMTP not configured, skipping receipt %s", job.PaymentReference)
		return nil
	}
	return err
}

// HandleEmailEvent processes an email.send message from the emails topic.
func (r *ReceiptMailer) HandleEmailEvent(ctx context.Context, value []byte) error {
	var evt EmailEvent
	if err := json.Unmarshal(value, &evt); err != nil {
		return apperr.E(apperr.Invalid, "malformed email event", err)
	}
	if evt.Template != TemplateReceipt {
		return apperr.E(apperr.Invalid, fmt.Sprintf("unknown email template %q", evt.Template))
	}
	if evt.Recipient != "" {
		evt.Receipt.Email = evt.Recipient
	}
	return r.SendReceipt(ctx, evt.Receipt)
}

// QueuedReceiptSender hands receipts to the emails topic for the consumer
// to mail.
type QueuedReceiptSender struct {
	publisher EventPublisher
}

func NewQueuedReceiptSender(publisher EventPublisher) *QueuedReceiptSender {
	return &QueuedReceiptSender{publisher: publisher}
}

func (q *QueuedReceiptSender) SendReceipt(ctx context.Context, job ReceiptJob) error {
	return q.publisher.Publish(ctx, TopicEmails, job.PaymentReference, EmailEvent{
		Event:     EventEmailSend,
		Template:  TemplateReceipt,
		Recipient: job.Email,
		Receipt:   job,
	})
}
