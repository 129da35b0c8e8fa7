package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PlanType string

const (
	PlanMonthly  PlanType = "monthly"
	PlanYearly   PlanType = "yearly"
	PlanLifetime PlanType = "lifetime"
)

// IsRecurring reports whether the plan bills periodically.
func (t PlanType) IsRecurring() bool {
	return t == PlanMonthly || t == PlanYearly
}

// PeriodEnd returns the end of the paid period that starts at start.
// Lifetime plans have no end and return nil.
func (t PlanType) PeriodEnd(start time.Time) *time.Time {
	var end time.Time
	switch t {
	case PlanMonthly:
		end = start.AddDate(0, 1, 0)
	case PlanYearly:
		end = start.AddDate(1, 0, 0)
	default:
		return nil
	}
	return &end
}

// GatewayPeriod maps the plan type to the gateway's plan period.
func (t PlanType) GatewayPeriod() string {
	if t == PlanYearly {
		return "yearly"
	}
	return "monthly"
}

type MembershipPlan struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	Type           PlanType        `json:"type"`
	Price          decimal.Decimal `json:"price"`
	Features       []string        `json:"features"`
	IsActive       bool            `json:"is_active"`
	RazorpayPlanID string          `json:"razorpay_plan_id,omitempty"`
}

type SubscriptionStatus string

const (
	SubscriptionPending   SubscriptionStatus = "pending"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionExpired   SubscriptionStatus = "expired"
	SubscriptionPaused    SubscriptionStatus = "paused"
)

var subscriptionTransitions = map[SubscriptionStatus][]SubscriptionStatus{
	SubscriptionActive:    {SubscriptionPending, SubscriptionPaused},
	SubscriptionPaused:    {SubscriptionActive},
	SubscriptionCancelled: {SubscriptionPending, SubscriptionActive, SubscriptionPaused},
	SubscriptionExpired:   {SubscriptionActive, SubscriptionPaused, SubscriptionCancelled},
}

// SubscriptionFrom returns the statuses that may move to target.
func SubscriptionFrom(target SubscriptionStatus) []SubscriptionStatus {
	return subscriptionTransitions[target]
}

// CanTransitionTo reports whether s may move to target.
func (s SubscriptionStatus) CanTransitionTo(target SubscriptionStatus) bool {
	for _, from := range subscriptionTransitions[target] {
		if from == s {
			return true
		}
	}
	return false
}

// Open reports whether the subscription still holds or awaits an entitlement.
func (s SubscriptionStatus) Open() bool {
	return s == SubscriptionPending || s == SubscriptionActive || s == SubscriptionPaused
}

type Subscription struct {
	ID                     string             `json:"id"`
	MemberID               string             `json:"member_id"`
	PlanID                 string             `json:"plan_id"`
	Status                 SubscriptionStatus `json:"status"`
	StartDate              *time.Time         `json:"start_date,omitempty"`
	EndDate                *time.Time         `json:"end_date,omitempty"`
	NextBillingDate        *time.Time         `json:"next_billing_date,omitempty"`
	CancelledAt            *time.Time         `json:"cancelled_at,omitempty"`
	RazorpaySubscriptionID string             `json:"razorpay_subscription_id,omitempty"`
	CreatedAt              time.Time          `json:"created_at"`
	UpdatedAt              time.Time          `json:"updated_at"`
}

// SubscriptionUpdate is a status change plus the dates it sets. Nil dates are
// left untouched.
type SubscriptionUpdate struct {
	Status          SubscriptionStatus
	StartDate       *time.Time
	EndDate         *time.Time
	NextBillingDate *time.Time
	CancelledAt     *time.Time
}
