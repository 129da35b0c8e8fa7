package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const Currency = "INR"

// PaymentStatus is shared by donations and membership payments.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentSuccess  PaymentStatus = "success"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// reconcilable lists, per target status, the statuses a reconciliation
// handler may move a row out of. success→refunded is manual and absent here.
var reconcilable = map[PaymentStatus][]PaymentStatus{
	// failed→success covers a late capture of a retried checkout.
	PaymentSuccess: {PaymentPending, PaymentFailed},
	PaymentFailed:  {PaymentPending},
}

// ReconcilableFrom returns the statuses that may transition to target through
// order verification or webhooks. Nil means target is never set that way.
func ReconcilableFrom(target PaymentStatus) []PaymentStatus {
	return reconcilable[target]
}

// CanReconcileTo reports whether a reconciliation handler may move s to target.
func (s PaymentStatus) CanReconcileTo(target PaymentStatus) bool {
	for _, from := range reconcilable[target] {
		if from == s {
			return true
		}
	}
	return false
}

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentSuccess, PaymentFailed, PaymentRefunded:
		return true
	}
	return false
}

// Order types accepted by the order endpoint.
const (
	OrderTypeDonation   = "donation"
	OrderTypeMembership = "membership"
)

// PaymentTypeSubscription marks a Payment row recorded from a recurring charge.
const PaymentTypeSubscription = "subscription"

// Donation is a one-time contribution.
type Donation struct {
	ID                string          `json:"id"`
	DonorName         string          `json:"donor_name"`
	DonorEmail        string          `json:"donor_email"`
	DonorPhone        string          `json:"donor_phone,omitempty"`
	DonorAddress      string          `json:"donor_address,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	RazorpayOrderID   string          `json:"razorpay_order_id"`
	RazorpayPaymentID string          `json:"razorpay_payment_id,omitempty"`
	RazorpaySignature string          `json:"razorpay_signature,omitempty"`
	PaymentStatus     PaymentStatus   `json:"payment_status"`
	PaymentReference  string          `json:"payment_reference"`
	Notes             json.RawMessage `json:"notes,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Payment is one charge against a subscription.
type Payment struct {
	ID                string          `json:"id"`
	MemberID          string          `json:"member_id"`
	SubscriptionID    string          `json:"subscription_id"`
	PlanID            string          `json:"plan_id"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	RazorpayOrderID   string          `json:"razorpay_order_id,omitempty"`
	RazorpayPaymentID string          `json:"razorpay_payment_id,omitempty"`
	RazorpaySignature string          `json:"razorpay_signature,omitempty"`
	PaymentStatus     PaymentStatus   `json:"payment_status"`
	PaymentType       string          `json:"payment_type"`
	PaymentReference  string          `json:"payment_reference"`
	ReceiptURL        string          `json:"receipt_url,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// StatusUpdate carries the fields written alongside a payment status change.
// Empty PaymentID or Signature leave the stored value untouched.
type StatusUpdate struct {
	Status    PaymentStatus
	PaymentID string
	Signature string
}

// Caller is the authenticated principal making a request.
type Caller struct {
	UserID string
	Email  string
	Admin  bool
}
