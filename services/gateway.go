package services

import (
	"context"
	"fmt"
	"time"

	"github.com/razorpay/razorpay-go"

	"trust-payments/config"
	apperr "trust-payments/errors"
	"trust-payments/logger"
	"trust-payments/models"
)

type OrderRequest struct {
	AmountPaise int64
	Receipt     string
	Notes       map[string]string
}

type PlanRequest struct {
	Name        string
	Description string
	Period      string
	AmountPaise int64
	Notes       map[string]string
}

type SubscriptionRequest struct {
	PlanID     string
	TotalCount int
	Notes      map[string]string
}

// GatewayOrder is an order as listed by the gateway.
type GatewayOrder struct {
	ID          string
	AmountPaise int64
	Currency    string
	Receipt     string
	Status      string
	CreatedAt   time.Time
}

// Gateway is the payment gateway's server-side API. Secrets never leave it;
// only KeyID is safe to hand to the browser.
type Gateway interface {
	KeyID() string
	CreateOrder(ctx context.Context, req OrderRequest) (string, error)
	CreatePlan(ctx context.Context, req PlanRequest) (string, error)
	CreateSubscription(ctx context.Context, req SubscriptionRequest) (string, error)
	CancelSubscription(ctx context.Context, gatewaySubscriptionID string, atCycleEnd bool) error
	ListOrders(ctx context.Context, from, to time.Time) ([]GatewayOrder, error)
}

// RazorpayGateway implements Gateway with the Razorpay Go SDK.
type RazorpayGateway struct {
	keyID  string
	client *razorpay.Client
}

// NewRazorpayGateway builds the adapter once at startup. Missing credentials
// are not fatal here; every call then fails with a configuration error.
func NewRazorpayGateway(cfg config.RazorpayConfig) *RazorpayGateway {
	g := &RazorpayGateway{keyID: cfg.KeyID}
	if cfg.KeyID != "" && cfg.KeySecret != "" {
		g.client = razorpay.NewClient(cfg.KeyID, cfg.KeySecret)
	} else {
		logger.Warn("[GATEWAY] Razorpay credentials not configured")
	}
	return g
}

func (g *RazorpayGateway) KeyID() string { return g.keyID }

func (g *RazorpayGateway) ready(ctx context.Context) error {
	if g.client == nil {
		return apperr.E(apperr.Config, "razorpay credentials not configured")
	}
	return ctx.Err()
}

func toNotes(in map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func upstream(op string, err error) error {
	logger.Error("[GATEWAY] razorpay %s failed: %v", op, err)
	return apperr.E(apperr.Upstream, fmt.Sprintf("razorpay %s failed: %s", op, err.Error()))
}

func idOf(resp map[string]interface{}, op string) (string, error) {
	id, _ := resp["id"].(string)
	if id == "" {
		return "", apperr.E(apperr.Upstream, fmt.Sprintf("razorpay %s returned no id", op))
	}
	return id, nil
}

func (g *RazorpayGateway) CreateOrder(ctx context.Context, req OrderRequest) (string, error) {
	if err := g.ready(ctx); err != nil {
		return "", err
	}
	data := map[string]interface{}{
		"amount":   req.AmountPaise,
		"currency": models.Currency,
		"receipt":  req.Receipt,
		"notes":    toNotes(req.Notes),
	}
	resp, err := g.client.Order.Create(data, nil)
	if err != nil {
		return "", upstream("order create", err)
	}
	return idOf(resp, "order create")
}

func (g *RazorpayGateway) CreatePlan(ctx context.Context, req PlanRequest) (string, error) {
	if err := g.ready(ctx); err != nil {
		return "", err
	}
	data := map[string]interface{}{
		"period":   req.Period,
		"interval": 1,
		"item": map[string]interface{}{
			"name":        req.Name,
			"description": req.Description,
			"amount":      req.AmountPaise,
			"currency":    models.Currency,
		},
		"notes": toNotes(req.Notes),
	}
	resp, err := g.client.Plan.Create(data, nil)
	if err != nil {
		return "", upstream("plan create", err)
	}
	return idOf(resp, "plan create")
}

func (g *RazorpayGateway) CreateSubscription(ctx context.Context, req SubscriptionRequest) (string, error) {
	if err := g.ready(ctx); err != nil {
		return "", err
	}
	data := map[string]interface{}{
		"plan_id":         req.PlanID,
		"total_count":     req.TotalCount,
		"customer_notify": 1,
		"notes":           toNotes(req.Notes),
	}
	resp, err := g.client.Subscription.Create(data, nil)
	if err != nil {
		return "", upstream("subscription create", err)
	}
	return idOf(resp, "subscription create")
}

func (g *RazorpayGateway) CancelSubscription(ctx context.Context, gatewaySubscriptionID string, atCycleEnd bool) error {
	if err := g.ready(ctx); err != nil {
		return err
	}
	data := map[string]interface{}{"cancel_at_cycle_end": 0}
	if atCycleEnd {
		data["cancel_at_cycle_end"] = 1
	}
	if _, err := g.client.Subscription.Cancel(gatewaySubscriptionID, data, nil); err != nil {
		return upstream("subscription cancel", err)
	}
	return nil
}

const listPageSize = 100

func (g *RazorpayGateway) ListOrders(ctx context.Context, from, to time.Time) ([]GatewayOrder, error) {
	if err := g.ready(ctx); err != nil {
		return nil, err
	}

	var out []GatewayOrder
	for skip := 0; ; skip += listPageSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, err := g.client.Order.All(map[string]interface{}{
			"from":  from.Unix(),
			"to":    to.Unix(),
			"count": listPageSize,
			"skip":  skip,
		}, nil)
		if err != nil {
			return nil, upstream("order list", err)
		}

		items, _ := resp["items"].([]interface{})
		for _, it := range items {
			m, ok := it.(map[string]interface{})
			if !ok {
				continue
			}
			out = append(out, gatewayOrderFrom(m))
		}
		if len(items) < listPageSize {
			return out, nil
		}
	}
}

func gatewayOrderFrom(m map[string]interface{}) GatewayOrder {
	o := GatewayOrder{}
	o.ID, _ = m["id"].(string)
	o.Currency, _ = m["currency"].(string)
	o.Receipt, _ = m["receipt"].(string)
	o.Status, _ = m["status"].(string)
	if v, ok := m["amount"].(float64); ok {
		o.AmountPaise = int64(v)
	}
	if v, ok := m["created_at"].(float64); ok {
		o.CreatedAt = time.Unix(int64(v), 0).UTC()
	}
	return o
}
