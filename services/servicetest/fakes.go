// Package servicetest provides in-memory implementations of the services
// interfaces for tests.
package servicetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperr "trust-payments/errors"
	"trust-payments/models"
	"trust-payments/services"
)

// Ledger is an in-memory services.Ledger with the same guarded-update and
// uniqueness semantics as the Postgres store.
type Ledger struct {
	mu            sync.Mutex
	Donations     map[string]*models.Donation // by order id
	Payments      map[string]*models.Payment  // by id
	Plans         map[string]*models.MembershipPlan
	Subscriptions map[string]*models.Subscription
	Roles         map[string][]string
	Writes        int
	clock         func() time.Time

	// BillingDateErr, when set, fails the next SetNextBillingDate once.
	BillingDateErr error
}

func NewLedger() *Ledger {
	return &Ledger{
		Donations:     map[string]*models.Donation{},
		Payments:      map[string]*models.Payment{},
		Plans:         map[string]*models.MembershipPlan{},
		Subscriptions: map[string]*models.Subscription{},
		Roles:         map[string][]string{},
		clock:         time.Now,
	}
}

func notFound(what string) error {
	return apperr.NewNotFoundError(what + " not found")
}

func (l *Ledger) AddPlan(p models.MembershipPlan) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Plans[p.ID] = &p
}

func (l *Ledger) AddSubscription(s models.Subscription) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Subscriptions[s.ID] = &s
}

func (l *Ledger) Grant(userID, role string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Roles[userID] = append(l.Roles[userID], role)
}

func (l *Ledger) InsertDonation(_ context.Context, d *models.Donation) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.Donations[d.RazorpayOrderID]; ok {
		return apperr.NewConflictError("donation already exists")
	}
	d.CreatedAt, d.UpdatedAt = l.clock(), l.clock()
	cp := *d
	l.Donations[d.RazorpayOrderID] = &cp
	l.Writes++
	return nil
}

func (l *Ledger) GetDonationByOrderID(_ context.Context, orderID string) (*models.Donation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.Donations[orderID]
	if !ok {
		return nil, notFound("donation")
	}
	cp := *d
	return &cp, nil
}

// Donation returns a copy of the stored donation or nil.
func (l *Ledger) Donation(orderID string) *models.Donation {
	d, _ := l.GetDonationByOrderID(context.Background(), orderID)
	return d
}

func statusIn[T comparable](s T, from []T) bool {
	for _, f := range from {
		if f == s {
			return true
		}
	}
	return false
}

func (l *Ledger) UpdateDonationStatus(_ context.Context, orderID string, from []models.PaymentStatus, upd models.StatusUpdate) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.Donations[orderID]
	if !ok || !statusIn(d.PaymentStatus, from) {
		return false, nil
	}
	d.PaymentStatus = upd.Status
	if upd.PaymentID != "" {
		d.RazorpayPaymentID = upd.PaymentID
	}
	if upd.Signature != "" {
		d.RazorpaySignature = upd.Signature
	}
	d.UpdatedAt = l.clock()
	l.Writes++
	return true, nil
}

func (l *Ledger) ListDonations(_ context.Context, from, to time.Time) ([]models.Donation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.Donation
	for _, d := range l.Donations {
		if !d.CreatedAt.Before(from) && d.CreatedAt.Before(to) {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (l *Ledger) InsertPayment(_ context.Context, p *models.Payment) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, existing := range l.Payments {
		if p.RazorpayPaymentID != "" && existing.RazorpayPaymentID == p.RazorpayPaymentID {
			return apperr.NewConflictError("payment already exists")
		}
	}
	p.CreatedAt, p.UpdatedAt = l.clock(), l.clock()
	cp := *p
	l.Payments[p.ID] = &cp
	l.Writes++
	return nil
}

func (l *Ledger) findPayment(match func(*models.Payment) bool) (*models.Payment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.Payments {
		if match(p) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, notFound("payment")
}

func (l *Ledger) GetPaymentByOrderID(_ context.Context, orderID string) (*models.Payment, error) {
	return l.findPayment(func(p *models.Payment) bool { return p.RazorpayOrderID == orderID })
}

func (l *Ledger) GetPaymentByGatewayPaymentID(_ context.Context, paymentID string) (*models.Payment, error) {
	return l.findPayment(func(p *models.Payment) bool { return p.RazorpayPaymentID == paymentID })
}

// PaymentsFor returns copies of every payment of a subscription.
func (l *Ledger) PaymentsFor(subscriptionID string) []models.Payment {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.Payment
	for _, p := range l.Payments {
		if p.SubscriptionID == subscriptionID {
			out = append(out, *p)
		}
	}
	return out
}

func (l *Ledger) UpdatePaymentStatus(_ context.Context, orderID string, from []models.PaymentStatus, upd models.StatusUpdate) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.Payments {
		if p.RazorpayOrderID != orderID {
			continue
		}
		if !statusIn(p.PaymentStatus, from) {
			return false, nil
		}
		p.PaymentStatus = upd.Status
		if upd.PaymentID != "" {
			p.RazorpayPaymentID = upd.PaymentID
		}
		p.UpdatedAt = l.clock()
		l.Writes++
		return true, nil
	}
	return false, nil
}

func (l *Ledger) ListPayments(_ context.Context, from, to time.Time) ([]models.Payment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.Payment
	for _, p := range l.Payments {
		if !p.CreatedAt.Before(from) && p.CreatedAt.Before(to) {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (l *Ledger) GetPlan(_ context.Context, id string) (*models.MembershipPlan, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.Plans[id]
	if !ok {
		return nil, notFound("membership plan")
	}
	cp := *p
	return &cp, nil
}

func (l *Ledger) SetPlanGatewayID(_ context.Context, planID, gatewayPlanID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.Plans[planID]
	if !ok || p.RazorpayPlanID != "" {
		return false, nil
	}
	p.RazorpayPlanID = gatewayPlanID
	l.Writes++
	return true, nil
}

func (l *Ledger) InsertSubscription(_ context.Context, sub *models.Subscription) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.Subscriptions[sub.ID]; ok {
		return apperr.NewConflictError("subscription already exists")
	}
	sub.CreatedAt, sub.UpdatedAt = l.clock(), l.clock()
	cp := *sub
	l.Subscriptions[sub.ID] = &cp
	l.Writes++
	return nil
}

func (l *Ledger) GetSubscription(_ context.Context, id string) (*models.Subscription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.Subscriptions[id]
	if !ok {
		return nil, notFound("subscription")
	}
	cp := *s
	return &cp, nil
}

// Subscription returns a copy of the stored subscription or nil.
func (l *Ledger) Subscription(id string) *models.Subscription {
	s, _ := l.GetSubscription(context.Background(), id)
	return s
}

func (l *Ledger) GetSubscriptionByGatewayID(_ context.Context, gatewayID string) (*models.Subscription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.Subscriptions {
		if s.RazorpaySubscriptionID == gatewayID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, notFound("subscription")
}

func (l *Ledger) FindOpenSubscription(_ context.Context, memberID, planID string) (*models.Subscription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.Subscriptions {
		if s.MemberID == memberID && s.PlanID == planID && s.Status.Open() {
			cp := *s
			return &cp, nil
		}
	}
	return nil, notFound("subscription")
}

func (l *Ledger) UpdateSubscription(_ context.Context, id string, from []models.SubscriptionStatus, upd models.SubscriptionUpdate) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.Subscriptions[id]
	if !ok || !statusIn(s.Status, from) {
		return false, nil
	}
	s.Status = upd.Status
	if upd.StartDate != nil {
		s.StartDate = upd.StartDate
	}
	if upd.EndDate != nil {
		s.EndDate = upd.EndDate
	}
	if upd.NextBillingDate != nil {
		s.NextBillingDate = upd.NextBillingDate
	}
	if upd.CancelledAt != nil {
		s.CancelledAt = upd.CancelledAt
	}
	s.UpdatedAt = l.clock()
	l.Writes++
	return true, nil
}

func (l *Ledger) SetSubscriptionGatewayID(_ context.Context, id, gatewayID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.Subscriptions[id]
	if !ok {
		return notFound("subscription")
	}
	s.RazorpaySubscriptionID = gatewayID
	l.Writes++
	return nil
}

func (l *Ledger) SetNextBillingDate(_ context.Context, id string, next time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.BillingDateErr; err != nil {
		l.BillingDateErr = nil
		return err
	}
	s, ok := l.Subscriptions[id]
	if !ok {
		return notFound("subscription")
	}
	s.NextBillingDate = &next
	l.Writes++
	return nil
}

func (l *Ledger) HasRole(_ context.Context, userID, role string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return statusIn(role, l.Roles[userID]), nil
}

// WriteCount returns the number of successful mutations so far.
func (l *Ledger) WriteCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Writes
}

// Gateway is a fake services.Gateway that hands out sequential ids.
type Gateway struct {
	mu            sync.Mutex
	Key           string
	Err           error
	Orders        []services.OrderRequest
	Plans         []services.PlanRequest
	Subscriptions []services.SubscriptionRequest
	Cancelled     []string
	Listed        []services.GatewayOrder
	seq           int
}

func NewGateway() *Gateway {
	return &Gateway{Key: "rzp_test_key"}
}

func (g *Gateway) KeyID() string { return g.Key }

func (g *Gateway) next(prefix string) string {
	g.seq++
	return fmt.Sprintf("%s_%d", prefix, g.seq)
}

func (g *Gateway) CreateOrder(_ context.Context, req services.OrderRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return "", g.Err
	}
	g.Orders = append(g.Orders, req)
	return g.next("order"), nil
}

func (g *Gateway) CreatePlan(_ context.Context, req services.PlanRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return "", g.Err
	}
	g.Plans = append(g.Plans, req)
	return g.next("plan"), nil
}

func (g *Gateway) CreateSubscription(_ context.Context, req services.SubscriptionRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return "", g.Err
	}
	g.Subscriptions = append(g.Subscriptions, req)
	return g.next("sub"), nil
}

func (g *Gateway) CancelSubscription(_ context.Context, id string, _ bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return g.Err
	}
	g.Cancelled = append(g.Cancelled, id)
	return nil
}

func (g *Gateway) ListOrders(_ context.Context, _, _ time.Time) ([]services.GatewayOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return nil, g.Err
	}
	return g.Listed, nil
}

// Journal is an in-memory services.WebhookJournal.
type Journal struct {
	mu       sync.Mutex
	Statuses map[string]string
	Errors   map[string]string
}

func NewJournal() *Journal {
	return &Journal{Statuses: map[string]string{}, Errors: map[string]string{}}
}

func (j *Journal) Record(_ context.Context, d models.WebhookDelivery) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	prev := j.Statuses[d.EventID]
	if prev == "" {
		j.Statuses[d.EventID] = models.WebhookReceived
	}
	return prev, nil
}

func (j *Journal) Mark(_ context.Context, eventID, status, errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Statuses[eventID] = status
	j.Errors[eventID] = errMsg
	return nil
}

func (j *Journal) Status(eventID string) string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.Statuses[eventID]
}

// Notifier records receipt jobs.
type Notifier struct {
	mu   sync.Mutex
	Jobs []services.ReceiptJob
}

func (n *Notifier) NotifyReceipt(job services.ReceiptJob) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Jobs = append(n.Jobs, job)
}

func (n *Notifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.Jobs)
}

// Published is one event seen by Publisher.
type Published struct {
	Topic string
	Key   string
	Value interface{}
}

// Publisher records published events.
type Publisher struct {
	mu     sync.Mutex
	Events []Published
	Err    error
}

func (p *Publisher) Publish(_ context.Context, topic, key string, value interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Events = append(p.Events, Published{Topic: topic, Key: key, Value: value})
	return p.Err
}

func (p *Publisher) Snapshot() []Published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Published(nil), p.Events...)
}
