package services

import (
	"context"
	"time"

	apperr "trust-payments/errors"
	"trust-payments/logger"
	"trust-payments/models"
)

// reconciler owns every ledger status transition. Client verification and
// webhooks both go through it, so either may arrive first and the second is
// a no-op.
type reconciler struct {
	ledger   Ledger
	events   EventPublisher
	notifier Notifier
	now      func() time.Time
}

// settleDonation moves the donation for orderID to upd.Status if allowed.
// It returns the donation as stored afterwards and whether it changed.
func (r *reconciler) settleDonation(ctx context.Context, orderID string, upd models.StatusUpdate) (*models.Donation, bool, error) {
	d, err := r.ledger.GetDonationByOrderID(ctx, orderID)
	if err != nil {
		return nil, false, err
	}
	if d.PaymentStatus == upd.Status || !d.PaymentStatus.CanReconcileTo(upd.Status) {
		logger.Info("[LEDGER] Donation %s stays %s (requested %s)", orderID, d.PaymentStatus, upd.Status)
		return d, false, nil
	}

	changed, err := r.ledger.UpdateDonationStatus(ctx, orderID, models.ReconcilableFrom(upd.Status), upd)
	if err != nil {
		return nil, false, err
	}
	if !changed {
		// Lost a race; reread to report the winner's state.
		d, err = r.ledger.GetDonationByOrderID(ctx, orderID)
		return d, false, err
	}

	prev := d.PaymentStatus
	d.PaymentStatus = upd.Status
	if upd.PaymentID != "" {
		d.RazorpayPaymentID = upd.PaymentID
	}
	if upd.Signature != "" {
		d.RazorpaySignature = upd.Signature
	}
	logger.Info("[LEDGER] Donation %s %s -> %s", orderID, prev, upd.Status)
	r.publishPayment(models.OrderTypeDonation, orderID, d.RazorpayPaymentID, d.PaymentReference, upd.Status)

	if upd.Status == models.PaymentSuccess {
		r.notifier.NotifyReceipt(ReceiptJob{
			Kind:             models.OrderTypeDonation,
			PaymentReference: d.PaymentReference,
			OrderID:          orderID,
			PaymentID:        d.RazorpayPaymentID,
			Name:             d.DonorName,
			Email:            d.DonorEmail,
			Amount:           d.Amount,
			PaidAt:           r.now(),
		})
	}
	return d, true, nil
}

// settlePayment is settleDonation for membership payments. Once the payment
// is successful the subscription it pays for is activated.
func (r *reconciler) settlePayment(ctx context.Context, orderID string, upd models.StatusUpdate) (*models.Payment, bool, error) {
	p, err := r.ledger.GetPaymentByOrderID(ctx, orderID)
	if err != nil {
		return nil, false, err
	}

	changed := false
	if p.PaymentStatus != upd.Status && p.PaymentStatus.CanReconcileTo(upd.Status) {
		changed, err = r.ledger.UpdatePaymentStatus(ctx, orderID, models.ReconcilableFrom(upd.Status), upd)
		if err != nil {
			return nil, false, err
		}
		if changed {
			logger.Info("[LEDGER] Payment %s %s -> %s", orderID, p.PaymentStatus, upd.Status)
			p.PaymentStatus = upd.Status
			if upd.PaymentID != "" {
				p.RazorpayPaymentID = upd.PaymentID
			}
			r.publishPayment(models.OrderTypeMembership, orderID, p.RazorpayPaymentID, p.PaymentReference, upd.Status)
		} else {
			p, err = r.ledger.GetPaymentByOrderID(ctx, orderID)
			if err != nil {
				return nil, false, err
			}
		}
	}

	// Runs on replays too, so a crash between the two writes heals on the
	// next delivery.
	if p.PaymentStatus == models.PaymentSuccess {
		if err := r.activateForPayment(ctx, p); err != nil {
			return nil, false, err
		}
	}
	return p, changed, nil
}

// activateForPayment activates a pending subscription paid by p and sets its
// period from the plan type.
func (r *reconciler) activateForPayment(ctx context.Context, p *models.Payment) error {
	plan, err := r.ledger.GetPlan(ctx, p.PlanID)
	if err != nil {
		return err
	}
	now := r.now()
	end := plan.Type.PeriodEnd(now)
	changed, err := r.ledger.UpdateSubscription(ctx, p.SubscriptionID,
		[]models.SubscriptionStatus{models.SubscriptionPending},
		models.SubscriptionUpdate{
			Status:          models.SubscriptionActive,
			StartDate:       &now,
			EndDate:         end,
			NextBillingDate: end,
		})
	if err != nil {
		return err
	}
	if changed {
		logger.Info("[LEDGER] Subscription %s activated by payment %s", p.SubscriptionID, p.RazorpayOrderID)
		r.publishSubscription(p.SubscriptionID, models.SubscriptionActive)
	}
	return nil
}

// transitionSubscription applies upd to sub if its status allows it.
func (r *reconciler) transitionSubscription(ctx context.Context, sub *models.Subscription, from []models.SubscriptionStatus, upd models.SubscriptionUpdate) (bool, error) {
	allowed := false
	for _, s := range from {
		if s == sub.Status {
			allowed = true
			break
		}
	}
	if !allowed {
		logger.Info("[LEDGER] Subscription %s stays %s (requested %s)", sub.ID, sub.Status, upd.Status)
		return false, nil
	}

	changed, err := r.ledger.UpdateSubscription(ctx, sub.ID, from, upd)
	if err != nil {
		return false, err
	}
	if changed {
		logger.Info("[LEDGER] Subscription %s %s -> %s", sub.ID, sub.Status, upd.Status)
		sub.Status = upd.Status
		r.publishSubscription(sub.ID, upd.Status)
	}
	return changed, nil
}

func (r *reconciler) publishPayment(kind, orderID, paymentID, reference string, status models.PaymentStatus) {
	name := "payment.verified"
	if status == models.PaymentFailed {
		name = "payment.failed"
	}
	r.publish(orderID, map[string]interface{}{
		"event":             name,
		"type":              kind,
		"order_id":          orderID,
		"payment_id":        paymentID,
		"payment_reference": reference,
		"status":            string(status),
		"ts":                r.now().UTC().Format(time.RFC3339),
	})
}

func (r *reconciler) publishSubscription(id string, status models.SubscriptionStatus) {
	r.publish(id, map[string]interface{}{
		"event":           "subscription." + string(status),
		"subscription_id": id,
		"status":          string(status),
		"ts":              r.now().UTC().Format(time.RFC3339),
	})
}

// publish is fire and forget; the event stream is not part of the ledger.
func (r *reconciler) publish(key string, evt map[string]interface{}) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := r.events.Publish(ctx, TopicPayments, key, evt); err != nil {
			logger.Warn("[EVENTS] Failed to publish %v for %s: %v", evt["event"], key, err)
		}
	}()
}

func isNotFound(err error) bool {
	return apperr.IsKind(err, apperr.NotFound)
}
