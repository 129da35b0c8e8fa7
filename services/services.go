package services

import (
	"time"
)

// Deps are the collaborators shared by the payment services. Gateway, Ledger
// and Journal are required; the rest have usable defaults.
type Deps struct {
	Gateway  Gateway
	Ledger   Ledger
	Journal  WebhookJournal
	Events   EventPublisher
	Notifier Notifier

	KeySecret     string
	WebhookSecret string
	// Recurring starts monthly and yearly plans as gateway subscriptions.
	Recurring bool

	Now func() time.Time
}

// Services groups the request-facing operations built from one Deps.
type Services struct {
	Payments      *PaymentService
	Subscriptions *SubscriptionService
	Webhooks      *WebhookService
}

type discardNotifier struct{}

func (discardNotifier) NotifyReceipt(ReceiptJob) {}

func New(d Deps) *Services {
	if d.Events == nil {
		d.Events = noopPublisher{}
	}
	if d.Notifier == nil {
		d.Notifier = discardNotifier{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}

	rec := &reconciler{ledger: d.Ledger, events: d.Events, notifier: d.Notifier, now: d.Now}
	return &Services{
		Payments: &PaymentService{
			gateway:   d.Gateway,
			ledger:    d.Ledger,
			keySecret: d.KeySecret,
			rec:       rec,
		},
		Subscriptions: &SubscriptionService{
			gateway:   d.Gateway,
			ledger:    d.Ledger,
			recurring: d.Recurring,
			rec:       rec,
		},
		Webhooks: &WebhookService{
			secret:  d.WebhookSecret,
			ledger:  d.Ledger,
			journal: d.Journal,
			rec:     rec,
		},
	}
}
