package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "trust-payments/errors"
)

func TestPaymentStatus_CanReconcileTo(t *testing.T) {
	assert.True(t, PaymentPending.CanReconcileTo(PaymentSuccess))
	assert.True(t, PaymentPending.CanReconcileTo(PaymentFailed))

	// success is terminal for reconciliation
	assert.False(t, PaymentSuccess.CanReconcileTo(PaymentPending))
	assert.False(t, PaymentSuccess.CanReconcileTo(PaymentFailed))
	assert.False(t, PaymentSuccess.CanReconcileTo(PaymentRefunded))
	assert.False(t, PaymentRefunded.CanReconcileTo(PaymentSuccess))
	assert.Nil(t, ReconcilableFrom(PaymentPending))
}

func TestPaymentStatus_LateCaptureAfterFailure(t *testing.T) {
	// The customer retried checkout after a failed attempt and the gateway
	// captured the retry.
	assert.True(t, PaymentFailed.CanReconcileTo(PaymentSuccess))
	assert.Contains(t, ReconcilableFrom(PaymentSuccess), PaymentFailed)

	// A late failure for the earlier attempt never undoes the capture.
	assert.False(t, PaymentSuccess.CanReconcileTo(PaymentFailed))
	assert.False(t, PaymentFailed.CanReconcileTo(PaymentFailed))
}

func TestSubscriptionStatus_CanTransitionTo(t *testing.T) {
	assert.True(t, SubscriptionPending.CanTransitionTo(SubscriptionActive))
	assert.True(t, SubscriptionPaused.CanTransitionTo(SubscriptionActive))
	assert.True(t, SubscriptionActive.CanTransitionTo(SubscriptionPaused))
	assert.True(t, SubscriptionCancelled.CanTransitionTo(SubscriptionExpired))

	assert.False(t, SubscriptionCancelled.CanTransitionTo(SubscriptionActive))
	assert.False(t, SubscriptionExpired.CanTransitionTo(SubscriptionActive))
	assert.False(t, SubscriptionPending.CanTransitionTo(SubscriptionPaused))
	assert.False(t, SubscriptionActive.CanTransitionTo(SubscriptionActive))
}

func TestPlanType_PeriodEnd(t *testing.T) {
	start := time.Date(2025, 1, 31, 10, 0, 0, 0, time.UTC)

	monthly := PlanMonthly.PeriodEnd(start)
	require.NotNil(t, monthly)
	assert.Equal(t, start.AddDate(0, 1, 0), *monthly)

	yearly := PlanYearly.PeriodEnd(start)
	require.NotNil(t, yearly)
	assert.Equal(t, 2026, yearly.Year())

	assert.Nil(t, PlanLifetime.PeriodEnd(start))
	assert.False(t, PlanLifetime.IsRecurring())
}

func TestParseWebhookEvent_PaymentCaptured(t *testing.T) {
	body := []byte(`{"entity":"event","event":"payment.captured","payload":{"payment":{"entity":{
		"id":"pay_1","order_id":"order_1","amount":50000,"notes":{"type":"donation","payment_reference":"PAY-20250101-ABCDEF12"}}}}}`)

	evt, err := ParseWebhookEvent(body)
	require.NoError(t, err)
	assert.Equal(t, PaymentCapturedEvent{OrderID: "order_1", PaymentID: "pay_1", Amount: 50000, NotesType: "donation"}, evt)
}

func TestParseWebhookEvent_EmptyNotesArray(t *testing.T) {
	body := []byte(`{"event":"payment.failed","payload":{"payment":{"entity":{
		"id":"pay_2","order_id":"order_2","error_description":"card declined","notes":[]}}}}`)

	evt, err := ParseWebhookEvent(body)
	require.NoError(t, err)
	failed, ok := evt.(PaymentFailedEvent)
	require.True(t, ok)
	assert.Equal(t, "", failed.NotesType)
	assert.Equal(t, "card declined", failed.Reason)
}

func TestParseWebhookEvent_SubscriptionActivated(t *testing.T) {
	body := []byte(`{"event":"subscription.activated","payload":{"subscription":{"entity":{
		"id":"sub_1","current_start":1735689600,"charge_at":1738368000}}}}`)

	evt, err := ParseWebhookEvent(body)
	require.NoError(t, err)
	act, ok := evt.(SubscriptionActivatedEvent)
	require.True(t, ok)
	require.NotNil(t, act.CurrentStart)
	require.NotNil(t, act.ChargeAt)
	assert.Equal(t, time.Unix(1735689600, 0).UTC(), *act.CurrentStart)
	assert.Equal(t, time.Unix(1738368000, 0).UTC(), *act.ChargeAt)
}

func TestParseWebhookEvent_SubscriptionChargedNeedsPayment(t *testing.T) {
	_, err := ParseWebhookEvent([]byte(`{"event":"subscription.charged","payload":{"subscription":{"entity":{"id":"sub_1"}}}}`))
	assert.True(t, apperr.IsKind(err, apperr.Invalid))

	evt, err := ParseWebhookEvent([]byte(`{"event":"subscription.charged","payload":{
		"subscription":{"entity":{"id":"sub_1","charge_at":1738368000}},
		"payment":{"entity":{"id":"pay_9","order_id":"order_9","amount":19900}}}}`))
	require.NoError(t, err)
	charged := evt.(SubscriptionChargedEvent)
	assert.Equal(t, "pay_9", charged.PaymentID)
	assert.Equal(t, int64(19900), charged.Amount)
}

func TestParseWebhookEvent_UnknownAndMalformed(t *testing.T) {
	evt, err := ParseWebhookEvent([]byte(`{"event":"refund.created","payload":{}}`))
	require.NoError(t, err)
	assert.Equal(t, UnknownEvent{Name: "refund.created"}, evt)

	_, err = ParseWebhookEvent([]byte(`{not json`))
	assert.True(t, apperr.IsKind(err, apperr.Invalid))

	_, err = ParseWebhookEvent([]byte(`{"payload":{}}`))
	assert.True(t, apperr.IsKind(err, apperr.Invalid))
}
