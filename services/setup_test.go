package services_test

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trust-payments/models"
	"trust-payments/services"
	"trust-payments/services/servicetest"
)

const (
	keySecret     = "key_secret_test"
	webhookSecret = "whsec_test"
)

var fixedNow = time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

type fixture struct {
	ledger    *servicetest.Ledger
	gateway   *servicetest.Gateway
	journal   *servicetest.Journal
	notifier  *servicetest.Notifier
	publisher *servicetest.Publisher
	svc       *services.Services
}

func newFixture(t *testing.T, recurring bool) *fixture {
	t.Helper()
	f := &fixture{
		ledger:    servicetest.NewLedger(),
		gateway:   servicetest.NewGateway(),
		journal:   servicetest.NewJournal(),
		notifier:  &servicetest.Notifier{},
		publisher: &servicetest.Publisher{},
	}
	f.ledger.AddPlan(models.MembershipPlan{ID: "plan-monthly", Name: "Monthly", Type: models.PlanMonthly,
		Price: decimal.RequireFromString("500"), IsActive: true})
	f.ledger.AddPlan(models.MembershipPlan{ID: "plan-yearly", Name: "Yearly", Type: models.PlanYearly,
		Price: decimal.RequireFromString("5000"), IsActive: true})
	f.ledger.AddPlan(models.MembershipPlan{ID: "plan-lifetime", Name: "Lifetime", Type: models.PlanLifetime,
		Price: decimal.RequireFromString("25000"), IsActive: true})
	f.ledger.AddPlan(models.MembershipPlan{ID: "plan-retired", Name: "Retired", Type: models.PlanMonthly,
		Price: decimal.RequireFromString("100"), IsActive: false})

	f.svc = services.New(services.Deps{
		Gateway:       f.gateway,
		Ledger:        f.ledger,
		Journal:       f.journal,
		Events:        f.publisher,
		Notifier:      f.notifier,
		KeySecret:     keySecret,
		WebhookSecret: webhookSecret,
		Recurring:     recurring,
		Now:           func() time.Time { return fixedNow },
	})
	return f
}

func checkoutSignature(orderID, paymentID string) string {
	return services.Sign(keySecret, []byte(orderID+"|"+paymentID))
}

func webhookBody(t *testing.T, event string, payload map[string]interface{}) ([]byte, string) {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{"event": event, "payload": payload})
	if err != nil {
		t.Fatal(err)
	}
	return body, services.Sign(webhookSecret, body)
}

func paymentEntity(orderID, paymentID, notesType string, amount int64) map[string]interface{} {
	notes := map[string]interface{}{}
	if notesType != "" {
		notes["type"] = notesType
	}
	return map[string]interface{}{"payment": map[string]interface{}{"entity": map[string]interface{}{
		"id": paymentID, "order_id": orderID, "amount": amount, "notes": notes,
	}}}
}

func subscriptionEntity(id string, extra map[string]interface{}) map[string]interface{} {
	entity := map[string]interface{}{"id": id}
	for k, v := range extra {
		entity[k] = v
	}
	return map[string]interface{}{"subscription": map[string]interface{}{"entity": entity}}
}

func eventID(n int) string {
	return fmt.Sprintf("evt_%03d", n)
}
