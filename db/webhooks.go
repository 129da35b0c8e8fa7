package db

import (
	"context"
	"database/sql"

	"trust-payments/models"
)

// WebhookJournal logs every signature-valid webhook delivery in
// razorpay_webhooks, keyed by the gateway's event id.
type WebhookJournal struct {
	db *sql.DB
}

func NewWebhookJournal(conn *sql.DB) *WebhookJournal {
	return &WebhookJournal{db: conn}
}

// Record stores a delivery, or bumps retry_count for a redelivery. It returns
// the status the delivery had before this call (RECEIVED for a new one).
func (j *WebhookJournal) Record(ctx context.Context, d models.WebhookDelivery) (string, error) {
	var status string
	err := j.db.QueryRowContext(ctx, `
		INSERT INTO razorpay_webhooks (webhook_id, event_type, payload, signature_valid, processing_status)
		VALUES ($1, $2, $3::jsonb, TRUE, 'RECEIVED')
		ON CONFLICT (webhook_id) DO UPDATE
		SET retry_count = razorpay_webhooks.retry_count + 1
		RETURNING processing_status`,
		d.EventID, d.Event, d.Payload,
	).Scan(&status)
	if err != nil {
		return "", mapErr(err, "webhook delivery")
	}
	return status, nil
}

// Mark sets the processing outcome of a delivery.
func (j *WebhookJournal) Mark(ctx context.Context, eventID, status, errMsg string) error {
	_, err := j.db.ExecContext(ctx, `
		UPDATE razorpay_webhooks
		SET processing_status = $2, error_message = NULLIF($3, ''), processed_at = NOW()
		WHERE webhook_id = $1`, eventID, status, errMsg)
	return mapErr(err, "webhook delivery")
}
