package models

import (
	"encoding/json"
	"time"
)

// DLQMessage is a notification event that could not be processed.
type DLQMessage struct {
	ID           int             `json:"id"`
	MessageID    string          `json:"message_id"`
	Topic        string          `json:"topic"`
	Key          string          `json:"key"`
	Value        json.RawMessage `json:"value"`
	ErrorMessage string          `json:"error_message"`
	RetryCount   int             `json:"retry_count"`
	MaxRetries   int             `json:"max_retries"`
	Resolved     bool            `json:"resolved"`
	Notes        string          `json:"notes,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

type DLQStats struct {
	Total      int `json:"total_dlq_messages"`
	Unresolved int `json:"unresolved_messages"`
	Resolved   int `json:"resolved_messages"`
}

// Webhook processing statuses recorded in the delivery journal.
const (
	WebhookReceived  = "RECEIVED"
	WebhookProcessed = "PROCESSED"
	WebhookFailed    = "FAILED"
	WebhookIgnored   = "IGNORED"
)

// WebhookDelivery is one signature-valid webhook delivery.
type WebhookDelivery struct {
	EventID string
	Event   string
	Payload []byte
}
