package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	apperr "trust-payments/errors"
	"trust-payments/logger"
	"trust-payments/metrics"
	"trust-payments/models"
	"trust-payments/utils"
)

// WebhookResult reports how a delivery was handled.
type WebhookResult struct {
	EventID string
	Event   string
	Status  string
}

// WebhookService verifies and applies gateway webhooks.
type WebhookService struct {
	secret  string
	ledger  Ledger
	journal WebhookJournal
	rec     *reconciler
}

// Handle verifies body against signature, parses it and applies the event.
// eventID is the gateway's delivery id; when absent a digest of the body is
// used. Errors are Config, Signature, Invalid (malformed body) or an internal
// failure the gateway should retry.
func (s *WebhookService) Handle(ctx context.Context, body []byte, signature, eventID string) (*WebhookResult, error) {
	if s.secret == "" {
		return nil, apperr.E(apperr.Config, "razorpay webhook secret not configured")
	}
	if !VerifyWebhookSignature(s.secret, body, signature) {
		metrics.SignatureFailures.WithLabelValues("webhook").Inc()
		logger.Warn("[WEBHOOK] Rejected delivery with invalid signature (%d bytes)", len(body))
		return nil, apperr.E(apperr.Signature, "Invalid webhook signature")
	}

	evt, err := models.ParseWebhookEvent(body)
	if err != nil {
		logger.Warn("[WEBHOOK] Unparseable payload: %v", err)
		return nil, err
	}

	if eventID == "" {
		sum := sha256.Sum256(body)
		eventID = "body-" + hex.EncodeToString(sum[:16])
	}
	res := &WebhookResult{EventID: eventID, Event: evt.EventName()}
	logger.Info("[WEBHOOK] Received %s (%s)", res.Event, eventID)

	prev, err := s.journal.Record(ctx, models.WebhookDelivery{EventID: eventID, Event: res.Event, Payload: body})
	if err != nil {
		logger.Error("[WEBHOOK] Journal error for %s: %v", eventID, err)
	}
	if prev == models.WebhookProcessed || prev == models.WebhookIgnored {
		res.Status = prev
		metrics.WebhookEvents.WithLabelValues(res.Event, "duplicate").Inc()
		logger.Info("[WEBHOOK] %s already %s, skipping", eventID, prev)
		return res, nil
	}

	status, err := s.apply(ctx, evt)
	if err != nil {
		res.Status = models.WebhookFailed
		s.mark(ctx, eventID, models.WebhookFailed, err.Error())
		metrics.WebhookEvents.WithLabelValues(res.Event, "failed").Inc()
		logger.Error("[WEBHOOK] Processing %s failed: %v", eventID, err)
		return res, err
	}

	res.Status = status
	s.mark(ctx, eventID, status, "")
	metrics.WebhookEvents.WithLabelValues(res.Event, status).Inc()
	return res, nil
}

func (s *WebhookService) mark(ctx context.Context, eventID, status, msg string) {
	if err := s.journal.Mark(ctx, eventID, status, msg); err != nil {
		logger.Error("[WEBHOOK] Status update error for %s: %v", eventID, err)
	}
}

// apply dispatches on the event type. Missing ledger rows are acknowledged
// as IGNORED since redelivery cannot fix them.
func (s *WebhookService) apply(ctx context.Context, evt models.WebhookEvent) (string, error) {
	var err error
	switch e := evt.(type) {
	case models.PaymentCapturedEvent:
		err = s.settleOrder(ctx, e.OrderID, e.NotesType,
			models.StatusUpdate{Status: models.PaymentSuccess, PaymentID: e.PaymentID})
	case models.PaymentFailedEvent:
		logger.Info("[WEBHOOK] Payment %s for order %s failed: %s", e.PaymentID, e.OrderID, e.Reason)
		err = s.settleOrder(ctx, e.OrderID, e.NotesType,
			models.StatusUpdate{Status: models.PaymentFailed, PaymentID: e.PaymentID})
	case models.SubscriptionActivatedEvent:
		err = s.updateSubscription(ctx, e.SubscriptionID, models.SubscriptionFrom(models.SubscriptionActive),
			models.SubscriptionUpdate{Status: models.SubscriptionActive, StartDate: e.CurrentStart, NextBillingDate: e.ChargeAt})
	case models.SubscriptionChargedEvent:
		err = s.recordCharge(ctx, e)
	case models.SubscriptionCancelledEvent:
		now := s.rec.now()
		err = s.updateSubscription(ctx, e.SubscriptionID, models.SubscriptionFrom(models.SubscriptionCancelled),
			models.SubscriptionUpdate{Status: models.SubscriptionCancelled, CancelledAt: &now})
	case models.SubscriptionExpiredEvent:
		now := s.rec.now()
		err = s.updateSubscription(ctx, e.SubscriptionID, models.SubscriptionFrom(models.SubscriptionExpired),
			models.SubscriptionUpdate{Status: models.SubscriptionExpired, EndDate: &now})
	case models.SubscriptionPausedEvent:
		err = s.updateSubscription(ctx, e.SubscriptionID, models.SubscriptionFrom(models.SubscriptionPaused),
			models.SubscriptionUpdate{Status: models.SubscriptionPaused})
	case models.SubscriptionResumedEvent:
		err = s.updateSubscription(ctx, e.SubscriptionID, []models.SubscriptionStatus{models.SubscriptionPaused},
			models.SubscriptionUpdate{Status: models.SubscriptionActive})
	default:
		logger.Info("[WEBHOOK] Unhandled event type: %s - acknowledging anyway", evt.EventName())
		return models.WebhookIgnored, nil
	}

	if isNotFound(err) {
		logger.Warn("[WEBHOOK] %s refers to no ledger row: %v", evt.EventName(), err)
		return models.WebhookIgnored, nil
	}
	if err != nil {
		return "", err
	}
	return models.WebhookProcessed, nil
}

// settleOrder picks the table from notes.type, falling back to donations
// then payments when the order carries no type.
func (s *WebhookService) settleOrder(ctx context.Context, orderID, notesType string, upd models.StatusUpdate) error {
	switch notesType {
	case models.OrderTypeDonation:
		_, _, err := s.rec.settleDonation(ctx, orderID, upd)
		return err
	case models.OrderTypeMembership:
		_, _, err := s.rec.settlePayment(ctx, orderID, upd)
		return err
	}

	_, _, err := s.rec.settleDonation(ctx, orderID, upd)
	if !isNotFound(err) {
		return err
	}
	_, _, err = s.rec.settlePayment(ctx, orderID, upd)
	return err
}

func (s *WebhookService) updateSubscription(ctx context.Context, gatewayID string, from []models.SubscriptionStatus, upd models.SubscriptionUpdate) error {
	sub, err := s.ledger.GetSubscriptionByGatewayID(ctx, gatewayID)
	if err != nil {
		return err
	}
	_, err = s.rec.transitionSubscription(ctx, sub, from, upd)
	return err
}

// recordCharge stores one recurring charge. The gateway payment id is the
// dedupe key: a redelivered charge finds its row instead of inserting a
// second one, and the unique index catches concurrent deliveries. The billing
// bump and activation run on every delivery so a replay completes a delivery
// that failed after the insert.
func (s *WebhookService) recordCharge(ctx context.Context, e models.SubscriptionChargedEvent) error {
	sub, err := s.ledger.GetSubscriptionByGatewayID(ctx, e.SubscriptionID)
	if err != nil {
		return err
	}
	plan, err := s.ledger.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return err
	}
	now := s.rec.now()

	existing, err := s.ledger.GetPaymentByGatewayPaymentID(ctx, e.PaymentID)
	switch {
	case err == nil:
		logger.Info("[WEBHOOK] Charge %s already recorded as payment %s", e.PaymentID, existing.ID)
	case !isNotFound(err):
		return err
	default:
		if err := s.insertCharge(ctx, e, sub, plan, now); err != nil {
			return err
		}
	}

	next := e.ChargeAt
	if next == nil {
		next = plan.Type.PeriodEnd(now)
	}
	if next != nil {
		if err := s.ledger.SetNextBillingDate(ctx, sub.ID, *next); err != nil {
			return err
		}
	}

	if sub.Status == models.SubscriptionPending {
		if _, err := s.rec.transitionSubscription(ctx, sub, []models.SubscriptionStatus{models.SubscriptionPending},
			models.SubscriptionUpdate{Status: models.SubscriptionActive, StartDate: &now}); err != nil {
			return err
		}
	}
	return nil
}

func (s *WebhookService) insertCharge(ctx context.Context, e models.SubscriptionChargedEvent,
	sub *models.Subscription, plan *models.MembershipPlan, now time.Time) error {
	amount := plan.Price
	if e.Amount > 0 {
		amount = utils.FromMinorUnits(e.Amount)
	}

	payment := &models.Payment{
		ID:                uuid.NewString(),
		MemberID:          sub.MemberID,
		SubscriptionID:    sub.ID,
		PlanID:            sub.PlanID,
		Amount:            amount,
		Currency:          models.Currency,
		RazorpayOrderID:   e.OrderID,
		RazorpayPaymentID: e.PaymentID,
		PaymentStatus:     models.PaymentSuccess,
		PaymentType:       models.PaymentTypeSubscription,
		PaymentReference:  utils.NewPaymentReference(now),
	}
	if err := s.ledger.InsertPayment(ctx, payment); err != nil {
		if apperr.IsKind(err, apperr.Conflict) {
			logger.Info("[WEBHOOK] Charge %s recorded concurrently", e.PaymentID)
			return nil
		}
		return err
	}
	logger.Info("[WEBHOOK] Recorded charge %s for subscription %s (ref %s)", e.PaymentID, sub.ID, payment.PaymentReference)
	return nil
}
