package services_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "trust-payments/errors"
	"trust-payments/models"
	"trust-payments/services"
)

func TestStartSubscriptionCreatesOrder(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	resp, err := f.svc.Subscriptions.Start(ctx, models.Caller{UserID: "member-1"},
		services.StartSubscriptionRequest{PlanID: "plan-yearly"})
	require.NoError(t, err)

	assert.Equal(t, "order", resp.Type)
	assert.Equal(t, "yearly", resp.PaymentType)
	assert.Equal(t, int64(500000), resp.Amount)
	assert.Equal(t, "INR", resp.Currency)
	assert.NotEmpty(t, resp.SubscriptionID)

	sub := f.ledger.Subscription(resp.SubscriptionID)
	require.NotNil(t, sub)
	assert.Equal(t, models.SubscriptionPending, sub.Status)
	assert.Equal(t, "member-1", sub.MemberID)

	payments := f.ledger.PaymentsFor(resp.SubscriptionID)
	require.Len(t, payments, 1)
	assert.Equal(t, models.PaymentPending, payments[0].PaymentStatus)
	assert.Equal(t, resp.OrderID, payments[0].RazorpayOrderID)
	assert.Equal(t, "membership", f.gateway.Orders[0].Notes["type"])
	assert.Equal(t, resp.SubscriptionID, f.gateway.Orders[0].Notes["subscription_id"])
}

func TestStartSubscriptionReusesPending(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	caller := models.Caller{UserID: "member-1"}
	req := services.StartSubscriptionRequest{PlanID: "plan-monthly"}

	first, err := f.svc.Subscriptions.Start(ctx, caller, req)
	require.NoError(t, err)
	second, err := f.svc.Subscriptions.Start(ctx, caller, req)
	require.NoError(t, err)

	assert.Equal(t, first.SubscriptionID, second.SubscriptionID)
	assert.NotEqual(t, first.OrderID, second.OrderID)
	assert.Len(t, f.ledger.PaymentsFor(first.SubscriptionID), 2)
}

func TestStartSubscriptionRules(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.ledger.AddSubscription(models.Subscription{ID: "sub-active", MemberID: "member-2", PlanID: "plan-monthly",
		Status: models.SubscriptionActive})

	tests := []struct {
		name   string
		caller models.Caller
		req    services.StartSubscriptionRequest
		kind   apperr.Kind
	}{
		{"anonymous", models.Caller{}, services.StartSubscriptionRequest{PlanID: "plan-monthly"}, apperr.Unauthorized},
		{"other member", models.Caller{UserID: "member-1"},
			services.StartSubscriptionRequest{PlanID: "plan-monthly", MemberID: "member-9"}, apperr.Forbidden},
		{"missing plan id", models.Caller{UserID: "member-1"}, services.StartSubscriptionRequest{}, apperr.Invalid},
		{"unknown plan", models.Caller{UserID: "member-1"}, services.StartSubscriptionRequest{PlanID: "nope"}, apperr.NotFound},
		{"inactive plan", models.Caller{UserID: "member-1"}, services.StartSubscriptionRequest{PlanID: "plan-retired"}, apperr.Invalid},
		{"already active", models.Caller{UserID: "member-2"}, services.StartSubscriptionRequest{PlanID: "plan-monthly"}, apperr.Conflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Subscriptions.Start(ctx, tt.caller, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
		})
	}
	assert.Empty(t, f.gateway.Orders)
}

func TestAdminStartsForAnotherMember(t *testing.T) {
	f := newFixture(t, false)
	resp, err := f.svc.Subscriptions.Start(context.Background(), models.Caller{UserID: "admin-1", Admin: true},
		services.StartSubscriptionRequest{PlanID: "plan-lifetime", MemberID: "member-5"})
	require.NoError(t, err)
	assert.Equal(t, "member-5", f.ledger.Subscription(resp.SubscriptionID).MemberID)
}

func TestStartRecurringBackfillsGatewayPlan(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	first, err := f.svc.Subscriptions.Start(ctx, models.Caller{UserID: "member-1"},
		services.StartSubscriptionRequest{PlanID: "plan-monthly"})
	require.NoError(t, err)
	assert.Equal(t, "subscription", first.Type)
	assert.NotEmpty(t, first.GatewaySubscriptionID)
	assert.Empty(t, first.OrderID)

	plan, err := f.ledger.GetPlan(ctx, "plan-monthly")
	require.NoError(t, err)
	assert.NotEmpty(t, plan.RazorpayPlanID)
	require.Len(t, f.gateway.Plans, 1)
	assert.Equal(t, "monthly", f.gateway.Plans[0].Period)
	assert.Equal(t, int64(50000), f.gateway.Plans[0].AmountPaise)

	// A second member reuses the stored gateway plan.
	_, err = f.svc.Subscriptions.Start(ctx, models.Caller{UserID: "member-2"},
		services.StartSubscriptionRequest{PlanID: "plan-monthly"})
	require.NoError(t, err)
	assert.Len(t, f.gateway.Plans, 1)
	require.Len(t, f.gateway.Subscriptions, 2)
	assert.Equal(t, plan.RazorpayPlanID, f.gateway.Subscriptions[1].PlanID)
	assert.Equal(t, 120, f.gateway.Subscriptions[0].TotalCount)

	// Starting again returns the pending gateway subscription.
	again, err := f.svc.Subscriptions.Start(ctx, models.Caller{UserID: "member-1"},
		services.StartSubscriptionRequest{PlanID: "plan-monthly"})
	require.NoError(t, err)
	assert.Equal(t, first.GatewaySubscriptionID, again.GatewaySubscriptionID)
	assert.Len(t, f.gateway.Subscriptions, 2)
}

func TestRecurringLifetimeUsesOrder(t *testing.T) {
	f := newFixture(t, true)
	resp, err := f.svc.Subscriptions.Start(context.Background(), models.Caller{UserID: "member-1"},
		services.StartSubscriptionRequest{PlanID: "plan-lifetime"})
	require.NoError(t, err)
	assert.Equal(t, "order", resp.Type)
	assert.Empty(t, f.gateway.Plans)
}

func TestCancelSubscription(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.ledger.AddSubscription(models.Subscription{ID: "sub-1", MemberID: "member-1", PlanID: "plan-monthly",
		Status: models.SubscriptionActive, RazorpaySubscriptionID: "sub_gw_1"})

	resp, err := f.svc.Subscriptions.Cancel(ctx, models.Caller{UserID: "member-1"}, "sub-1")
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, []string{"sub_gw_1"}, f.gateway.Cancelled)

	sub := f.ledger.Subscription("sub-1")
	assert.Equal(t, models.SubscriptionCancelled, sub.Status)
	require.NotNil(t, sub.CancelledAt)
	assert.Equal(t, fixedNow, *sub.CancelledAt)

	// Cancelling twice succeeds without another gateway call.
	resp, err = f.svc.Subscriptions.Cancel(ctx, models.Caller{UserID: "member-1"}, "sub-1")
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Len(t, f.gateway.Cancelled, 1)
}

func TestCancelLifetimeRejected(t *testing.T) {
	f := newFixture(t, false)
	f.ledger.AddSubscription(models.Subscription{ID: "sub-life", MemberID: "member-1", PlanID: "plan-lifetime",
		Status: models.SubscriptionActive, RazorpaySubscriptionID: "sub_gw_life"})

	_, err := f.svc.Subscriptions.Cancel(context.Background(), models.Caller{UserID: "member-1"}, "sub-life")
	require.Error(t, err)
	assert.Equal(t, apperr.Invalid, apperr.KindOf(err))
	assert.Equal(t, "Lifetime memberships cannot be cancelled", apperr.Message(err))
	assert.Empty(t, f.gateway.Cancelled)
	assert.Equal(t, models.SubscriptionActive, f.ledger.Subscription("sub-life").Status)
}

func TestCancelAuthorization(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.ledger.AddSubscription(models.Subscription{ID: "sub-1", MemberID: "member-1", PlanID: "plan-monthly",
		Status: models.SubscriptionActive, RazorpaySubscriptionID: "sub_gw_1"})

	_, err := f.svc.Subscriptions.Cancel(ctx, models.Caller{UserID: "member-2"}, "sub-1")
	assert.Equal(t, apperr.Forbidden, apperr.KindOf(err))

	_, err = f.svc.Subscriptions.Cancel(ctx, models.Caller{}, "sub-1")
	assert.Equal(t, apperr.Unauthorized, apperr.KindOf(err))

	_, err = f.svc.Subscriptions.Cancel(ctx, models.Caller{UserID: "admin", Admin: true}, "sub-1")
	assert.NoError(t, err)
}

func TestCancelWithoutGatewaySubscription(t *testing.T) {
	f := newFixture(t, false)
	f.ledger.AddSubscription(models.Subscription{ID: "sub-1", MemberID: "member-1", PlanID: "plan-monthly",
		Status: models.SubscriptionActive})

	_, err := f.svc.Subscriptions.Cancel(context.Background(), models.Caller{UserID: "member-1"}, "sub-1")
	require.Error(t, err)
	assert.Equal(t, apperr.Internal, apperr.KindOf(err))
	assert.Equal(t, models.SubscriptionActive, f.ledger.Subscription("sub-1").Status)
}

func TestCancelGatewayFailureLeavesStatus(t *testing.T) {
	f := newFixture(t, false)
	f.ledger.AddSubscription(models.Subscription{ID: "sub-1", MemberID: "member-1", PlanID: "plan-monthly",
		Status: models.SubscriptionActive, RazorpaySubscriptionID: "sub_gw_1"})
	f.gateway.Err = apperr.E(apperr.Upstream, "razorpay subscription cancel failed: timeout")

	_, err := f.svc.Subscriptions.Cancel(context.Background(), models.Caller{UserID: "member-1"}, "sub-1")
	assert.Equal(t, apperr.Upstream, apperr.KindOf(err))
	assert.Equal(t, models.SubscriptionActive, f.ledger.Subscription("sub-1").Status)
}
