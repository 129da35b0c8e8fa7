package services

import (
	"context"
	"time"

	"trust-payments/models"
)

// Ledger is the persisted record set the reconciliation handlers mutate.
// Lookups return a NotFound error when no row matches. Status updates are
// conditional on the current status being one of from and report whether a
// row changed.
type Ledger interface {
	InsertDonation(ctx context.Context, d *models.Donation) error
	GetDonationByOrderID(ctx context.Context, orderID string) (*models.Donation, error)
	UpdateDonationStatus(ctx context.Context, orderID string, from []models.PaymentStatus, upd models.StatusUpdate) (bool, error)

	InsertPayment(ctx context.Context, p *models.Payment) error
	GetPaymentByOrderID(ctx context.Context, orderID string) (*models.Payment, error)
	GetPaymentByGatewayPaymentID(ctx context.Context, paymentID string) (*models.Payment, error)
	UpdatePaymentStatus(ctx context.Context, orderID string, from []models.PaymentStatus, upd models.StatusUpdate) (bool, error)

	GetPlan(ctx context.Context, id string) (*models.MembershipPlan, error)
	SetPlanGatewayID(ctx context.Context, planID, gatewayPlanID string) (bool, error)

	InsertSubscription(ctx context.Context, sub *models.Subscription) error
	GetSubscription(ctx context.Context, id string) (*models.Subscription, error)
	GetSubscriptionByGatewayID(ctx context.Context, gatewayID string) (*models.Subscription, error)
	FindOpenSubscription(ctx context.Context, memberID, planID string) (*models.Subscription, error)
	UpdateSubscription(ctx context.Context, id string, from []models.SubscriptionStatus, upd models.SubscriptionUpdate) (bool, error)
	SetSubscriptionGatewayID(ctx context.Context, id, gatewayID string) error
	SetNextBillingDate(ctx context.Context, id string, next time.Time) error
}

// ReportSource lists ledger rows created in [from, to).
type ReportSource interface {
	ListDonations(ctx context.Context, from, to time.Time) ([]models.Donation, error)
	ListPayments(ctx context.Context, from, to time.Time) ([]models.Payment, error)
}

// WebhookJournal records webhook deliveries. Record returns the status the
// delivery had before, so redeliveries of processed events can be skipped.
type WebhookJournal interface {
	Record(ctx context.Context, d models.WebhookDelivery) (string, error)
	Mark(ctx context.Context, eventID, status, errMsg string) error
}

// RoleStore answers has_role(user_id, role).
type RoleStore interface {
	HasRole(ctx context.Context, userID, role string) (bool, error)
}

// EventPublisher publishes ledger events. Implementations are best-effort.
type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

// Topics used on the event bus.
const (
	TopicPayments = "payments"
	TopicEmails   = "emails"
)

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, string, string, interface{}) error { return nil }
