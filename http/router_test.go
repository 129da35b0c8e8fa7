package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	api "trust-payments/http"
	"trust-payments/http/handlers"
	"trust-payments/http/middleware"
	"trust-payments/models"
	"trust-payments/services"
	"trust-payments/services/servicetest"
	"trust-payments/utils"
)

const (
	keySecret     = "key_secret_test"
	webhookSecret = "whsec_test"
	jwtSecret     = "jwt_secret_test"
)

type testServer struct {
	ledger   *servicetest.Ledger
	gateway  *servicetest.Gateway
	journal  *servicetest.Journal
	identity *services.Identity
	dlq      *memDLQ
	handler  http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := &testServer{
		ledger:  servicetest.NewLedger(),
		gateway: servicetest.NewGateway(),
		journal: servicetest.NewJournal(),
		dlq:     &memDLQ{},
	}
	s.ledger.AddPlan(models.MembershipPlan{ID: "plan-monthly", Name: "Monthly", Type: models.PlanMonthly,
		Price: decimal.RequireFromString("500"), IsActive: true})
	s.ledger.Grant("admin-1", services.RoleAdmin)

	svc := services.New(services.Deps{
		Gateway:       s.gateway,
		Ledger:        s.ledger,
		Journal:       s.journal,
		KeySecret:     keySecret,
		WebhookSecret: webhookSecret,
	})
	s.identity = services.NewIdentity(jwtSecret, s.ledger)

	h := &handlers.Handlers{
		Services: svc,
		Reports:  services.NewReportService(s.ledger, s.gateway, time.Hour),
		DLQ:      s.dlq,
		Health: []handlers.HealthCheck{
			{Name: "database", Check: func(context.Context) error { return nil }},
		},
	}
	s.handler = api.NewRouter(h, middleware.NewAuth(s.identity))
	return s
}

func (s *testServer) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := s.identity.IssueToken(services.IdentityClaims{
		Email: userID + "@example.org",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var raw []byte
	switch b := body.(type) {
	case nil:
	case []byte:
		raw = b
	default:
		var err error
		raw, err = json.Marshal(b)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func (s *testServer) createDonation(t *testing.T) (orderID, reference string) {
	t.Helper()
	rr := s.do(t, http.MethodPost, "/orders", "", map[string]interface{}{
		"amount":      "1000",
		"type":        "donation",
		"donor_name":  "Asha Rao",
		"donor_email": "asha@example.org",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	out := decode(t, rr)
	assert.Equal(t, float64(100000), out["amount"])
	assert.Equal(t, "INR", out["currency"])
	return out["orderId"].(string), out["paymentReference"].(string)
}

func TestDonationCheckoutFlow(t *testing.T) {
	s := newTestServer(t)
	orderID, ref := s.createDonation(t)

	rr := s.do(t, http.MethodPost, "/verify-payment", "", map[string]string{
		"razorpay_order_id":   orderID,
		"razorpay_payment_id": "pay_1",
		"razorpay_signature":  services.Sign(keySecret, []byte(orderID+"|pay_1")),
		"type":                "donation",
		"payment_reference":   ref,
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, true, decode(t, rr)["success"])

	d := s.ledger.Donation(orderID)
	assert.Equal(t, models.PaymentSuccess, d.PaymentStatus)
	assert.Equal(t, "pay_1", d.RazorpayPaymentID)
}

func TestVerifyTamperedSignatureLeavesPending(t *testing.T) {
	s := newTestServer(t)
	orderID, _ := s.createDonation(t)

	rr := s.do(t, http.MethodPost, "/verify-payment", "", map[string]string{
		"razorpay_order_id":   orderID,
		"razorpay_payment_id": "pay_1",
		"razorpay_signature":  services.Sign("wrong", []byte(orderID+"|pay_1")),
		"type":                "donation",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, models.PaymentPending, s.ledger.Donation(orderID).PaymentStatus)
}

func TestWebhookOnlySettlement(t *testing.T) {
	s := newTestServer(t)
	orderID, _ := s.createDonation(t)

	body, err := json.Marshal(map[string]interface{}{
		"event": "payment.captured",
		"payload": map[string]interface{}{"payment": map[string]interface{}{"entity": map[string]interface{}{
			"id": "pay_9", "order_id": orderID, "amount": 100000,
			"notes": map[string]string{"type": "donation"},
		}}},
	})
	require.NoError(t, err)
	sig := services.Sign(webhookSecret, body)

	rr := s.do(t, http.MethodPost, "/webhook", "", body,
		"X-Razorpay-Signature", sig, "X-Razorpay-Event-Id", "evt_1")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, true, decode(t, rr)["received"])
	assert.Equal(t, models.PaymentSuccess, s.ledger.Donation(orderID).PaymentStatus)
	assert.Equal(t, models.WebhookProcessed, s.journal.Status("evt_1"))

	// Redelivery is acknowledged and changes nothing.
	writes := s.ledger.WriteCount()
	rr = s.do(t, http.MethodPost, "/webhook", "", body,
		"X-Razorpay-Signature", sig, "X-Razorpay-Event-Id", "evt_1")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, writes, s.ledger.WriteCount())
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	s := newTestServer(t)
	rr := s.do(t, http.MethodPost, "/webhook", "", []byte(`{"event":"payment.captured"}`),
		"X-Razorpay-Signature", "deadbeef")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Invalid webhook signature", decode(t, rr)["error"])
}

func TestCancelLifetimeOverHTTP(t *testing.T) {
	s := newTestServer(t)
	s.ledger.AddPlan(models.MembershipPlan{ID: "plan-lifetime", Name: "Lifetime", Type: models.PlanLifetime,
		Price: decimal.RequireFromString("25000"), IsActive: true})
	s.ledger.AddSubscription(models.Subscription{ID: "sub-life", MemberID: "member-1", PlanID: "plan-lifetime",
		Status: models.SubscriptionActive, RazorpaySubscriptionID: "sub_gw_life"})

	rr := s.do(t, http.MethodPost, "/subscriptions/sub-life/cancel", s.token(t, "member-1"), nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Lifetime memberships cannot be cancelled", decode(t, rr)["error"])
	assert.Equal(t, models.SubscriptionActive, s.ledger.Subscription("sub-life").Status)
	assert.Empty(t, s.gateway.Cancelled)
}

func TestSubscriptionAuth(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodPost, "/subscriptions", "", map[string]string{"plan_id": "plan-monthly"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = s.do(t, http.MethodPost, "/subscriptions", "not-a-jwt", map[string]string{"plan_id": "plan-monthly"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = s.do(t, http.MethodPost, "/subscriptions", s.token(t, "member-1"), map[string]string{"plan_id": "plan-monthly"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	out := decode(t, rr)
	assert.Equal(t, "order", out["type"])
	assert.Equal(t, float64(50000), out["amount"])
}

func TestMembershipOrderNeedsCaller(t *testing.T) {
	s := newTestServer(t)
	body := map[string]interface{}{"type": "membership", "plan_id": "plan-monthly", "amount": "1"}

	rr := s.do(t, http.MethodPost, "/orders", "", body)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = s.do(t, http.MethodPost, "/orders", s.token(t, "member-1"), body)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, float64(50000), decode(t, rr)["amount"])

	rr = s.do(t, http.MethodPost, "/orders", s.token(t, "member-1"), map[string]string{"type": "membership"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAdminRoutes(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodGet, "/admin/dlq/stats", s.token(t, "member-1"), nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = s.do(t, http.MethodGet, "/admin/dlq/stats", s.token(t, "admin-1"), nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = s.do(t, http.MethodPost, "/admin/dlq/messages/msg-1/retry", s.token(t, "admin-1"), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"msg-1"}, s.dlq.retried)

	rr = s.do(t, http.MethodPost, "/admin/dlq/messages/missing/resolve", s.token(t, "admin-1"), nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	s.createDonation(t)
	rr = s.do(t, http.MethodGet, "/admin/reports/reconciliation", s.token(t, "admin-1"), nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "reconciliation_")
	assert.True(t, bytes.HasPrefix(rr.Body.Bytes(), []byte("PK")))

	rr = s.do(t, http.MethodGet, "/admin/reports/reconciliation?from=2026-13-01", s.token(t, "admin-1"), nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHealthAndPreflight(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", decode(t, rr)["status"])

	rr = s.do(t, http.MethodOptions, "/orders", "", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestReportWindow(t *testing.T) {
	ist := utils.TrustLocation
	now := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

	from, to, err := handlers.ReportWindow("", "", now)
	require.NoError(t, err)
	assert.True(t, time.Date(2026, 3, 7, 0, 0, 0, 0, ist).Equal(from))
	assert.True(t, time.Date(2026, 3, 15, 0, 0, 0, 0, ist).Equal(to))

	from, to, err = handlers.ReportWindow("2026-03-01", "2026-03-01", now)
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, to.Sub(from))
	assert.True(t, time.Date(2026, 3, 1, 0, 0, 0, 0, ist).Equal(from))

	_, _, err = handlers.ReportWindow("2026-03-05", "2026-03-01", now)
	assert.Error(t, err)
}

func TestReportWindowUsesReferenceDay(t *testing.T) {
	// 19:00 UTC is already the next day in IST.
	now := time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC)
	ref := utils.NewPaymentReference(now)
	require.Equal(t, "PAY-20260315-", ref[:13])

	from, to, err := handlers.ReportWindow("", "", now)
	require.NoError(t, err)
	assert.False(t, now.Before(from))
	assert.True(t, now.Before(to))

	from, to, err = handlers.ReportWindow("2026-03-15", "2026-03-15", now)
	require.NoError(t, err)
	assert.False(t, now.Before(from))
	assert.True(t, now.Before(to))

	// An order placed just before IST midnight belongs to the earlier day.
	late := time.Date(2026, 3, 14, 18, 29, 0, 0, time.UTC)
	assert.Equal(t, "PAY-20260314-", utils.NewPaymentReference(late)[:13])
	from, to, err = handlers.ReportWindow("2026-03-14", "2026-03-14", now)
	require.NoError(t, err)
	assert.False(t, late.Before(from))
	assert.True(t, late.Before(to))
}

type memDLQ struct {
	retried []string
}

func (m *memDLQ) Messages(context.Context, int) ([]models.DLQMessage, error) {
	return nil, nil
}

func (m *memDLQ) Retry(_ context.Context, id string) (bool, error) {
	m.retried = append(m.retried, id)
	return true, nil
}

func (m *memDLQ) Resolve(_ context.Context, id, _ string) error {
	return errors.New("no such message: " + id)
}

func (m *memDLQ) Stats(context.Context) (models.DLQStats, error) {
	return models.DLQStats{Total: 1, Unresolved: 1}, nil
}
