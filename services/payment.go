package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	apperr "trust-payments/errors"
	"trust-payments/logger"
	"trust-payments/metrics"
	"trust-payments/models"
	"trust-payments/utils"
)

// CreateOrderRequest is the body of POST /orders.
type CreateOrderRequest struct {
	Amount       decimal.Decimal   `json:"amount"`
	Type         string            `json:"type" validate:"required,oneof=donation membership"`
	DonorName    string            `json:"donor_name" validate:"max=200"`
	DonorEmail   string            `json:"donor_email" validate:"omitempty,email,max=200"`
	DonorPhone   string            `json:"donor_phone" validate:"max=20"`
	DonorAddress string            `json:"donor_address" validate:"max=500"`
	PlanID       string            `json:"plan_id" validate:"max=64"`
	Notes        map[string]string `json:"notes" validate:"max=10"`
}

// OrderResponse is what the browser needs to open checkout. Amount is in
// paise, as checkout expects.
type OrderResponse struct {
	OrderID          string `json:"orderId"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	KeyID            string `json:"keyId"`
	PaymentReference string `json:"paymentReference"`
}

// VerifyPaymentRequest is the body of POST /verify-payment. Recurring
// checkouts send a subscription id instead of an order id.
type VerifyPaymentRequest struct {
	OrderID          string `json:"razorpay_order_id"`
	SubscriptionID   string `json:"razorpay_subscription_id"`
	PaymentID        string `json:"razorpay_payment_id" validate:"required"`
	Signature        string `json:"razorpay_signature" validate:"required"`
	Type             string `json:"type" validate:"required"`
	PaymentReference string `json:"payment_reference"`
}

type VerifyPaymentResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// PaymentService creates donation orders and verifies checkout callbacks.
type PaymentService struct {
	gateway   Gateway
	ledger    Ledger
	keySecret string
	rec       *reconciler
}

// CreateDonationOrder creates a gateway order and a pending donation row.
func (s *PaymentService) CreateDonationOrder(ctx context.Context, req CreateOrderRequest) (*OrderResponse, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, apperr.E(apperr.Invalid, err.Error())
	}
	if req.Type != models.OrderTypeDonation {
		return nil, apperr.E(apperr.Invalid, "only donation orders are created here")
	}
	if err := utils.ValidateOrderAmount(req.Amount); err != nil {
		return nil, apperr.E(apperr.Invalid, err.Error())
	}
	if req.DonorName == "" || req.DonorEmail == "" {
		return nil, apperr.E(apperr.Invalid, "donor_name and donor_email are required for donations")
	}

	reference := utils.NewPaymentReference(s.rec.now())
	paise := utils.ToMinorUnits(req.Amount)

	notes := make(map[string]string, len(req.Notes)+3)
	for k, v := range req.Notes {
		notes[k] = v
	}
	notes["type"] = models.OrderTypeDonation
	notes["payment_reference"] = reference
	notes["donor_email"] = req.DonorEmail

	orderID, err := s.gateway.CreateOrder(ctx, OrderRequest{AmountPaise: paise, Receipt: reference, Notes: notes})
	if err != nil {
		return nil, err
	}

	var rawNotes json.RawMessage
	if len(req.Notes) > 0 {
		rawNotes, _ = json.Marshal(req.Notes)
	}
	donation := &models.Donation{
		ID:               uuid.NewString(),
		DonorName:        req.DonorName,
		DonorEmail:       req.DonorEmail,
		DonorPhone:       req.DonorPhone,
		DonorAddress:     req.DonorAddress,
		Amount:           utils.FromMinorUnits(paise),
		Currency:         models.Currency,
		RazorpayOrderID:  orderID,
		PaymentStatus:    models.PaymentPending,
		PaymentReference: reference,
		Notes:            rawNotes,
	}
	if err := s.ledger.InsertDonation(ctx, donation); err != nil {
		metrics.OrphanOrders.Inc()
		logger.Error("[PAYMENT] Orphaned gateway order %s (ref %s): ledger insert failed: %v", orderID, reference, err)
		return nil, apperr.E(apperr.Internal, "failed to record donation", err)
	}

	metrics.OrdersCreated.WithLabelValues(models.OrderTypeDonation).Inc()
	logger.Info("[PAYMENT] Donation order %s created (ref %s, %d paise)", orderID, reference, paise)

	return &OrderResponse{
		OrderID:          orderID,
		Amount:           paise,
		Currency:         models.Currency,
		KeyID:            s.gateway.KeyID(),
		PaymentReference: reference,
	}, nil
}

// VerifyPayment checks the checkout signature and marks the matching ledger
// row successful. Repeating it is harmless.
func (s *PaymentService) VerifyPayment(ctx context.Context, req VerifyPaymentRequest) (*VerifyPaymentResponse, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, apperr.E(apperr.Invalid, err.Error())
	}
	if s.keySecret == "" {
		return nil, apperr.E(apperr.Config, "razorpay credentials not configured")
	}

	if req.OrderID == "" && req.SubscriptionID != "" {
		return s.verifyRecurring(ctx, req)
	}
	if req.OrderID == "" {
		return nil, apperr.E(apperr.Invalid, "razorpay_order_id is required")
	}

	if !VerifyPaymentSignature(s.keySecret, req.OrderID, req.PaymentID, req.Signature) {
		metrics.SignatureFailures.WithLabelValues("checkout").Inc()
		metrics.Verifications.WithLabelValues("invalid_signature").Inc()
		logger.Warn("[PAYMENT] Invalid signature for order %s (payment %s)", req.OrderID, req.PaymentID)
		return nil, apperr.E(apperr.Signature, "Invalid payment signature")
	}

	upd := models.StatusUpdate{Status: models.PaymentSuccess, PaymentID: req.PaymentID, Signature: req.Signature}

	var (
		reference string
		status    models.PaymentStatus
		err       error
	)
	if req.Type == models.OrderTypeDonation {
		var d *models.Donation
		if d, err = s.ledger.GetDonationByOrderID(ctx, req.OrderID); err == nil {
			if err = checkReference(req.PaymentReference, d.PaymentReference); err == nil {
				d, _, err = s.rec.settleDonation(ctx, req.OrderID, upd)
			}
		}
		if d != nil {
			reference, status = d.PaymentReference, d.PaymentStatus
		}
	} else {
		var p *models.Payment
		if p, err = s.ledger.GetPaymentByOrderID(ctx, req.OrderID); err == nil {
			if err = checkReference(req.PaymentReference, p.PaymentReference); err == nil {
				p, _, err = s.rec.settlePayment(ctx, req.OrderID, upd)
			}
		}
		if p != nil {
			reference, status = p.PaymentReference, p.PaymentStatus
		}
	}

	if err != nil {
		metrics.Verifications.WithLabelValues("error").Inc()
		if isNotFound(err) {
			logger.Error("[PAYMENT] No ledger row for verified order %s (type %s)", req.OrderID, req.Type)
			return nil, apperr.E(apperr.Invalid, "Payment record not found", err)
		}
		return nil, err
	}

	if status != models.PaymentSuccess {
		// Only reachable for a row that reconciliation may not touch (refunded).
		metrics.Verifications.WithLabelValues("ignored").Inc()
		logger.Warn("[PAYMENT] Order %s verified but row is %s", req.OrderID, status)
		return &VerifyPaymentResponse{Success: true, Message: fmt.Sprintf("Payment already %s", status)}, nil
	}

	metrics.Verifications.WithLabelValues("success").Inc()
	return &VerifyPaymentResponse{
		Success: true,
		Message: fmt.Sprintf("Payment verified successfully (ref %s)", reference),
	}, nil
}

// verifyRecurring handles the checkout callback of a gateway subscription,
// which signs "paymentId|subscriptionId". Charges themselves are recorded
// from webhooks.
func (s *PaymentService) verifyRecurring(ctx context.Context, req VerifyPaymentRequest) (*VerifyPaymentResponse, error) {
	if !VerifySubscriptionSignature(s.keySecret, req.PaymentID, req.SubscriptionID, req.Signature) {
		metrics.SignatureFailures.WithLabelValues("checkout").Inc()
		metrics.Verifications.WithLabelValues("invalid_signature").Inc()
		logger.Warn("[PAYMENT] Invalid signature for subscription %s (payment %s)", req.SubscriptionID, req.PaymentID)
		return nil, apperr.E(apperr.Signature, "Invalid payment signature")
	}

	sub, err := s.ledger.GetSubscriptionByGatewayID(ctx, req.SubscriptionID)
	if err != nil {
		metrics.Verifications.WithLabelValues("error").Inc()
		if isNotFound(err) {
			return nil, apperr.E(apperr.Invalid, "Subscription record not found", err)
		}
		return nil, err
	}

	plan, err := s.ledger.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}
	now := s.rec.now()
	next := plan.Type.PeriodEnd(now)
	if _, err := s.rec.transitionSubscription(ctx, sub,
		[]models.SubscriptionStatus{models.SubscriptionPending},
		models.SubscriptionUpdate{Status: models.SubscriptionActive, StartDate: &now, NextBillingDate: next},
	); err != nil {
		return nil, err
	}

	metrics.Verifications.WithLabelValues("success").Inc()
	return &VerifyPaymentResponse{Success: true, Message: "Subscription payment verified successfully"}, nil
}

func checkReference(provided, stored string) error {
	if provided != "" && provided != stored {
		return apperr.E(apperr.Invalid, "payment reference does not match order")
	}
	return nil
}
