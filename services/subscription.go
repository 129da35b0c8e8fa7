package services

import (
	"context"

	"github.com/google/uuid"

	apperr "trust-payments/errors"
	"trust-payments/logger"
	"trust-payments/metrics"
	"trust-payments/models"
	"trust-payments/utils"
)

// StartSubscriptionRequest is the body of POST /subscriptions. MemberID
// defaults to the caller.
type StartSubscriptionRequest struct {
	PlanID   string `json:"plan_id" validate:"required,max=64"`
	MemberID string `json:"member_id" validate:"max=128"`
}

// StartSubscriptionResponse is either an order to pay once ("order") or a
// gateway subscription to authorize ("subscription").
type StartSubscriptionResponse struct {
	Type                  string `json:"type"`
	PaymentType           string `json:"paymentType"`
	OrderID               string `json:"orderId,omitempty"`
	Amount                int64  `json:"amount,omitempty"`
	Currency              string `json:"currency,omitempty"`
	KeyID                 string `json:"keyId"`
	SubscriptionID        string `json:"subscriptionId"`
	GatewaySubscriptionID string `json:"gatewaySubscriptionId,omitempty"`
	PaymentReference      string `json:"paymentReference,omitempty"`
}

type CancelSubscriptionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Billing cycles requested for gateway subscriptions.
const (
	monthlyCycles = 120
	yearlyCycles  = 10
)

// SubscriptionService starts and cancels memberships.
type SubscriptionService struct {
	gateway   Gateway
	ledger    Ledger
	recurring bool
	rec       *reconciler
}

// Start opens (or resumes a pending) subscription for the member and returns
// what checkout needs.
func (s *SubscriptionService) Start(ctx context.Context, caller models.Caller, req StartSubscriptionRequest) (*StartSubscriptionResponse, error) {
	if caller.UserID == "" {
		return nil, apperr.NewUnauthorizedError("authentication required")
	}
	if err := utils.ValidateStruct(req); err != nil {
		return nil, apperr.E(apperr.Invalid, err.Error())
	}
	memberID := req.MemberID
	if memberID == "" {
		memberID = caller.UserID
	}
	if memberID != caller.UserID && !caller.Admin {
		return nil, apperr.NewForbiddenError("cannot start a subscription for another member")
	}

	plan, err := s.ledger.GetPlan(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}
	if !plan.IsActive {
		return nil, apperr.E(apperr.Invalid, "Membership plan is not available")
	}

	sub, err := s.ledger.FindOpenSubscription(ctx, memberID, plan.ID)
	switch {
	case err == nil && sub.Status != models.SubscriptionPending:
		return nil, apperr.NewConflictError("An active subscription already exists for this plan")
	case err == nil:
		logger.Info("[SUBSCRIPTION] Reusing pending subscription %s", sub.ID)
	case isNotFound(err):
		sub = nil
	default:
		return nil, err
	}

	if s.recurring && plan.Type.IsRecurring() {
		return s.startRecurring(ctx, memberID, plan, sub)
	}
	return s.startWithOrder(ctx, memberID, plan, sub)
}

func (s *SubscriptionService) startWithOrder(ctx context.Context, memberID string, plan *models.MembershipPlan, sub *models.Subscription) (*StartSubscriptionResponse, error) {
	isNew := sub == nil
	if isNew {
		sub = &models.Subscription{
			ID:       uuid.NewString(),
			MemberID: memberID,
			PlanID:   plan.ID,
			Status:   models.SubscriptionPending,
		}
	}

	reference := utils.NewPaymentReference(s.rec.now())
	paise := utils.ToMinorUnits(plan.Price)

	orderID, err := s.gateway.CreateOrder(ctx, OrderRequest{
		AmountPaise: paise,
		Receipt:     reference,
		Notes: map[string]string{
			"type":              models.OrderTypeMembership,
			"payment_reference": reference,
			"subscription_id":   sub.ID,
			"plan_id":           plan.ID,
			"member_id":         memberID,
		},
	})
	if err != nil {
		return nil, err
	}

	if isNew {
		if err := s.ledger.InsertSubscription(ctx, sub); err != nil {
			s.orphaned(orderID, reference, err)
			return nil, err
		}
	}

	payment := &models.Payment{
		ID:               uuid.NewString(),
		MemberID:         memberID,
		SubscriptionID:   sub.ID,
		PlanID:           plan.ID,
		Amount:           utils.FromMinorUnits(paise),
		Currency:         models.Currency,
		RazorpayOrderID:  orderID,
		PaymentStatus:    models.PaymentPending,
		PaymentType:      string(plan.Type),
		PaymentReference: reference,
	}
	if err := s.ledger.InsertPayment(ctx, payment); err != nil {
		s.orphaned(orderID, reference, err)
		return nil, apperr.E(apperr.Internal, "failed to record payment", err)
	}

	metrics.OrdersCreated.WithLabelValues(models.OrderTypeMembership).Inc()
	logger.Info("[SUBSCRIPTION] Order %s created for subscription %s (plan %s)", orderID, sub.ID, plan.ID)

	return &StartSubscriptionResponse{
		Type:             "order",
		PaymentType:      string(plan.Type),
		OrderID:          orderID,
		Amount:           paise,
		Currency:         models.Currency,
		KeyID:            s.gateway.KeyID(),
		SubscriptionID:   sub.ID,
		PaymentReference: reference,
	}, nil
}

func (s *SubscriptionService) startRecurring(ctx context.Context, memberID string, plan *models.MembershipPlan, sub *models.Subscription) (*StartSubscriptionResponse, error) {
	resp := func(sub *models.Subscription) *StartSubscriptionResponse {
		return &StartSubscriptionResponse{
			Type:                  "subscription",
			PaymentType:           string(plan.Type),
			KeyID:                 s.gateway.KeyID(),
			SubscriptionID:        sub.ID,
			GatewaySubscriptionID: sub.RazorpaySubscriptionID,
		}
	}
	if sub != nil && sub.RazorpaySubscriptionID != "" {
		return resp(sub), nil
	}

	gatewayPlanID, err := s.ensureGatewayPlan(ctx, plan)
	if err != nil {
		return nil, err
	}

	isNew := sub == nil
	if isNew {
		sub = &models.Subscription{
			ID:       uuid.NewString(),
			MemberID: memberID,
			PlanID:   plan.ID,
			Status:   models.SubscriptionPending,
		}
	}

	cycles := monthlyCycles
	if plan.Type == models.PlanYearly {
		cycles = yearlyCycles
	}
	gatewaySubID, err := s.gateway.CreateSubscription(ctx, SubscriptionRequest{
		PlanID:     gatewayPlanID,
		TotalCount: cycles,
		Notes: map[string]string{
			"type":            models.OrderTypeMembership,
			"subscription_id": sub.ID,
			"plan_id":         plan.ID,
			"member_id":       memberID,
		},
	})
	if err != nil {
		return nil, err
	}
	sub.RazorpaySubscriptionID = gatewaySubID

	if isNew {
		err = s.ledger.InsertSubscription(ctx, sub)
	} else {
		err = s.ledger.SetSubscriptionGatewayID(ctx, sub.ID, gatewaySubID)
	}
	if err != nil {
		logger.Error("[SUBSCRIPTION] Gateway subscription %s has no ledger row: %v", gatewaySubID, err)
		return nil, err
	}

	logger.Info("[SUBSCRIPTION] Gateway subscription %s created for %s (plan %s)", gatewaySubID, sub.ID, plan.ID)
	return resp(sub), nil
}

// ensureGatewayPlan returns the plan's gateway id, creating and backfilling
// it on first use.
func (s *SubscriptionService) ensureGatewayPlan(ctx context.Context, plan *models.MembershipPlan) (string, error) {
	if plan.RazorpayPlanID != "" {
		return plan.RazorpayPlanID, nil
	}

	id, err := s.gateway.CreatePlan(ctx, PlanRequest{
		Name:        plan.Name,
		Description: plan.Description,
		Period:      plan.Type.GatewayPeriod(),
		AmountPaise: utils.ToMinorUnits(plan.Price),
		Notes:       map[string]string{"plan_id": plan.ID},
	})
	if err != nil {
		return "", err
	}

	stored, err := s.ledger.SetPlanGatewayID(ctx, plan.ID, id)
	if err != nil {
		return "", err
	}
	if !stored {
		// Another request backfilled first; use its plan.
		fresh, err := s.ledger.GetPlan(ctx, plan.ID)
		if err != nil {
			return "", err
		}
		logger.Warn("[SUBSCRIPTION] Discarding duplicate gateway plan %s for %s", id, plan.ID)
		return fresh.RazorpayPlanID, nil
	}
	plan.RazorpayPlanID = id
	logger.Info("[SUBSCRIPTION] Gateway plan %s created for plan %s", id, plan.ID)
	return id, nil
}

func (s *SubscriptionService) orphaned(orderID, reference string, err error) {
	metrics.OrphanOrders.Inc()
	logger.Error("[SUBSCRIPTION] Orphaned gateway order %s (ref %s): ledger insert failed: %v", orderID, reference, err)
}

// Cancel cancels a recurring subscription at the end of its current cycle.
// The caller must own it or be an admin.
func (s *SubscriptionService) Cancel(ctx context.Context, caller models.Caller, id string) (*CancelSubscriptionResponse, error) {
	if caller.UserID == "" {
		return nil, apperr.NewUnauthorizedError("authentication required")
	}

	sub, err := s.ledger.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.MemberID != caller.UserID && !caller.Admin {
		return nil, apperr.NewForbiddenError("not allowed to cancel this subscription")
	}

	plan, err := s.ledger.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}
	if plan.Type == models.PlanLifetime {
		return nil, apperr.E(apperr.Invalid, "Lifetime memberships cannot be cancelled")
	}

	switch sub.Status {
	case models.SubscriptionCancelled:
		return &CancelSubscriptionResponse{Success: true, Message: "Subscription already cancelled"}, nil
	case models.SubscriptionExpired:
		return nil, apperr.E(apperr.Invalid, "Subscription has already expired")
	}

	if sub.RazorpaySubscriptionID == "" {
		logger.Error("[SUBSCRIPTION] Subscription %s has no gateway subscription id", sub.ID)
		return nil, apperr.NewInternalServerError("Subscription has no gateway subscription to cancel")
	}

	if err := s.gateway.CancelSubscription(ctx, sub.RazorpaySubscriptionID, true); err != nil {
		return nil, err
	}

	now := s.rec.now()
	if _, err := s.rec.transitionSubscription(ctx, sub,
		models.SubscriptionFrom(models.SubscriptionCancelled),
		models.SubscriptionUpdate{Status: models.SubscriptionCancelled, CancelledAt: &now},
	); err != nil {
		return nil, err
	}

	logger.Info("[SUBSCRIPTION] Subscription %s cancelled by %s", sub.ID, caller.UserID)
	return &CancelSubscriptionResponse{
		Success: true,
		Message: "Subscription cancelled. Access continues until the end of the current billing period.",
	}, nil
}
