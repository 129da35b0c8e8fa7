package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	apperr "trust-payments/errors"
)

// Gateway webhook event names handled by the service.
const (
	EventPaymentCaptured       = "payment.captured"
	EventPaymentFailed         = "payment.failed"
	EventSubscriptionActivated = "subscription.activated"
	EventSubscriptionCharged   = "subscription.charged"
	EventSubscriptionCancelled = "subscription.cancelled"
	EventSubscriptionExpired   = "subscription.expired"
	EventSubscriptionPaused    = "subscription.paused"
	EventSubscriptionResumed   = "subscription.resumed"
)

// WebhookEvent is one of the typed events below. Each variant carries only
// the fields its handler reads.
type WebhookEvent interface {
	EventName() string
}

type PaymentCapturedEvent struct {
	OrderID   string
	PaymentID string
	Amount    int64
	// NotesType is notes.type from the order, used to pick the ledger table.
	NotesType string
}

type PaymentFailedEvent struct {
	OrderID   string
	PaymentID string
	Reason    string
	NotesType string
}

type SubscriptionActivatedEvent struct {
	SubscriptionID string
	CurrentStart   *time.Time
	ChargeAt       *time.Time
}

type SubscriptionChargedEvent struct {
	SubscriptionID string
	PaymentID      string
	OrderID        string
	Amount         int64
	ChargeAt       *time.Time
}

type SubscriptionCancelledEvent struct{ SubscriptionID string }

type SubscriptionExpiredEvent struct{ SubscriptionID string }

type SubscriptionPausedEvent struct{ SubscriptionID string }

type SubscriptionResumedEvent struct{ SubscriptionID string }

// UnknownEvent is any event name outside the handled set.
type UnknownEvent struct{ Name string }

func (PaymentCapturedEvent) EventName() string       { return EventPaymentCaptured }
func (PaymentFailedEvent) EventName() string         { return EventPaymentFailed }
func (SubscriptionActivatedEvent) EventName() string { return EventSubscriptionActivated }
func (SubscriptionChargedEvent) EventName() string   { return EventSubscriptionCharged }
func (SubscriptionCancelledEvent) EventName() string { return EventSubscriptionCancelled }
func (SubscriptionExpiredEvent) EventName() string   { return EventSubscriptionExpired }
func (SubscriptionPausedEvent) EventName() string    { return EventSubscriptionPaused }
func (SubscriptionResumedEvent) EventName() string   { return EventSubscriptionResumed }
func (e UnknownEvent) EventName() string             { return e.Name }

type webhookEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		Payment *struct {
			Entity paymentEntity `json:"entity"`
		} `json:"payment"`
		Subscription *struct {
			Entity subscriptionEntity `json:"entity"`
		} `json:"subscription"`
	} `json:"payload"`
}

type paymentEntity struct {
	ID               string          `json:"id"`
	OrderID          string          `json:"order_id"`
	Amount           int64           `json:"amount"`
	ErrorDescription string          `json:"error_description"`
	Notes            json.RawMessage `json:"notes"`
}

type subscriptionEntity struct {
	ID           string `json:"id"`
	CurrentStart *int64 `json:"current_start"`
	ChargeAt     *int64 `json:"charge_at"`
}

// ParseWebhookEvent decodes a gateway webhook body into a typed event.
// Names outside the handled set come back as UnknownEvent.
func ParseWebhookEvent(body []byte) (WebhookEvent, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, apperr.E(apperr.Invalid, "malformed webhook payload", err)
	}
	if env.Event == "" {
		return nil, apperr.E(apperr.Invalid, "webhook payload has no event name")
	}

	switch env.Event {
	case EventPaymentCaptured, EventPaymentFailed:
		if env.Payload.Payment == nil || env.Payload.Payment.Entity.OrderID == "" {
			return nil, apperr.E(apperr.Invalid, fmt.Sprintf("%s without payment order id", env.Event))
		}
		p := env.Payload.Payment.Entity
		notesType := noteString(p.Notes, "type")
		if env.Event == EventPaymentCaptured {
			return PaymentCapturedEvent{OrderID: p.OrderID, PaymentID: p.ID, Amount: p.Amount, NotesType: notesType}, nil
		}
		return PaymentFailedEvent{OrderID: p.OrderID, PaymentID: p.ID, Reason: p.ErrorDescription, NotesType: notesType}, nil

	case EventSubscriptionActivated, EventSubscriptionCharged, EventSubscriptionCancelled,
		EventSubscriptionExpired, EventSubscriptionPaused, EventSubscriptionResumed:
		if env.Payload.Subscription == nil || env.Payload.Subscription.Entity.ID == "" {
			return nil, apperr.E(apperr.Invalid, fmt.Sprintf("%s without subscription id", env.Event))
		}
		s := env.Payload.Subscription.Entity
		switch env.Event {
		case EventSubscriptionActivated:
			return SubscriptionActivatedEvent{
				SubscriptionID: s.ID,
				CurrentStart:   epoch(s.CurrentStart),
				ChargeAt:       epoch(s.ChargeAt),
			}, nil
		case EventSubscriptionCharged:
			if env.Payload.Payment == nil || env.Payload.Payment.Entity.ID == "" {
				return nil, apperr.E(apperr.Invalid, "subscription.charged without payment id")
			}
			p := env.Payload.Payment.Entity
			return SubscriptionChargedEvent{
				SubscriptionID: s.ID,
				PaymentID:      p.ID,
				OrderID:        p.OrderID,
				Amount:         p.Amount,
				ChargeAt:       epoch(s.ChargeAt),
			}, nil
		case EventSubscriptionCancelled:
			return SubscriptionCancelledEvent{SubscriptionID: s.ID}, nil
		case EventSubscriptionExpired:
			return SubscriptionExpiredEvent{SubscriptionID: s.ID}, nil
		case EventSubscriptionPaused:
			return SubscriptionPausedEvent{SubscriptionID: s.ID}, nil
		default:
			return SubscriptionResumedEvent{SubscriptionID: s.ID}, nil
		}
	}

	return UnknownEvent{Name: env.Event}, nil
}

func epoch(v *int64) *time.Time {
	if v == nil || *v <= 0 {
		return nil
	}
	t := time.Unix(*v, 0).UTC()
	return &t
}

// noteString reads a string note. The gateway sends empty notes as [].
func noteString(raw json.RawMessage, key string) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return ""
	}
	var notes map[string]interface{}
	if err := json.Unmarshal(raw, &notes); err != nil {
		return ""
	}
	if v, ok := notes[key].(string); ok {
		return v
	}
	return ""
}
