package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	apperr "trust-payments/errors"
	"trust-payments/models"
)

// LedgerStore is the Postgres ledger: donations, payments, subscriptions and
// plans. Status changes are conditional on the current status so concurrent
// writers cannot move a row backwards.
type LedgerStore struct {
	db *sql.DB
}

func NewLedgerStore(conn *sql.DB) *LedgerStore {
	return &LedgerStore{db: conn}
}

const (
	uniqueViolation           = "23505"
	invalidTextRepresentation = "22P02"
)

func mapErr(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.E(apperr.NotFound, what+" not found")
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case uniqueViolation:
			return apperr.E(apperr.Conflict, what+" already exists", err)
		case invalidTextRepresentation:
			return apperr.E(apperr.Invalid, "invalid "+what, err)
		}
	}
	return apperr.E(apperr.Internal, fmt.Sprintf("%s query failed", what), err)
}

// checkID rejects ids that cannot match a UUID primary key; no row can have
// them.
func checkID(id, what string) error {
	if _, err := uuid.Parse(id); err != nil {
		return apperr.E(apperr.NotFound, what+" not found")
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func paymentStatuses(in []models.PaymentStatus) pq.StringArray {
	out := make(pq.StringArray, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

func subscriptionStatuses(in []models.SubscriptionStatus) pq.StringArray {
	out := make(pq.StringArray, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

func affected(res sql.Result, err error, what string) (bool, error) {
	if err != nil {
		return false, mapErr(err, what)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, mapErr(err, what)
	}
	return n > 0, nil
}

// Donations

func (s *LedgerStore) InsertDonation(ctx context.Context, d *models.Donation) error {
	var notes interface{}
	if len(d.Notes) > 0 {
		notes = []byte(d.Notes)
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO donations (id, donor_name, donor_email, donor_phone, donor_address, amount, currency,
			razorpay_order_id, payment_status, payment_reference, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`,
		d.ID, d.DonorName, d.DonorEmail, nullString(d.DonorPhone), nullString(d.DonorAddress),
		d.Amount, d.Currency, d.RazorpayOrderID, string(d.PaymentStatus), d.PaymentReference, notes,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	return mapErr(err, "donation")
}

const donationColumns = `id, donor_name, donor_email, donor_phone, donor_address, amount, currency,
	razorpay_order_id, razorpay_payment_id, razorpay_signature, payment_status, payment_reference,
	notes, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDonation(row rowScanner) (*models.Donation, error) {
	var d models.Donation
	var phone, address, paymentID, signature sql.NullString
	var status string
	var notes []byte
	err := row.Scan(&d.ID, &d.DonorName, &d.DonorEmail, &phone, &address, &d.Amount, &d.Currency,
		&d.RazorpayOrderID, &paymentID, &signature, &status, &d.PaymentReference,
		&notes, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.DonorPhone = phone.String
	d.DonorAddress = address.String
	d.RazorpayPaymentID = paymentID.String
	d.RazorpaySignature = signature.String
	d.PaymentStatus = models.PaymentStatus(status)
	d.Notes = notes
	return &d, nil
}

func (s *LedgerStore) GetDonationByOrderID(ctx context.Context, orderID string) (*models.Donation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+donationColumns+` FROM donations WHERE razorpay_order_id = $1`, orderID)
	d, err := scanDonation(row)
	if err != nil {
		return nil, mapErr(err, "donation")
	}
	return d, nil
}

// UpdateDonationStatus applies upd to the donation for orderID only while its
// status is one of from. It reports whether a row changed.
func (s *LedgerStore) UpdateDonationStatus(ctx context.Context, orderID string, from []models.PaymentStatus, upd models.StatusUpdate) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE donations
		SET payment_status = $2,
			razorpay_payment_id = COALESCE(NULLIF($3, ''), razorpay_payment_id),
			razorpay_signature = COALESCE(NULLIF($4, ''), razorpay_signature),
			updated_at = NOW()
		WHERE razorpay_order_id = $1 AND payment_status = ANY($5)`,
		orderID, string(upd.Status), upd.PaymentID, upd.Signature, paymentStatuses(from))
	return affected(res, err, "donation")
}

func (s *LedgerStore) ListDonations(ctx context.Context, from, to time.Time) ([]models.Donation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+donationColumns+`
		FROM donations WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at`, from, to)
	if err != nil {
		return nil, mapErr(err, "donations")
	}
	defer rows.Close()

	var out []models.Donation
	for rows.Next() {
		d, err := scanDonation(rows)
		if err != nil {
			return nil, mapErr(err, "donations")
		}
		out = append(out, *d)
	}
	return out, mapErr(rows.Err(), "donations")
}

// Payments

func (s *LedgerStore) InsertPayment(ctx context.Context, p *models.Payment) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO payments (id, member_id, subscription_id, plan_id, amount, currency, razorpay_order_id,
			razorpay_payment_id, razorpay_signature, payment_status, payment_type, payment_reference, receipt_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at`,
		p.ID, p.MemberID, p.SubscriptionID, p.PlanID, p.Amount, p.Currency, nullString(p.RazorpayOrderID),
		nullString(p.RazorpayPaymentID), nullString(p.RazorpaySignature), string(p.PaymentStatus),
		p.PaymentType, p.PaymentReference, nullString(p.ReceiptURL),
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	return mapErr(err, "payment")
}

const paymentColumns = `id, member_id, subscription_id, plan_id, amount, currency, razorpay_order_id,
	razorpay_payment_id, razorpay_signature, payment_status, payment_type, payment_reference, receipt_url,
	created_at, updated_at`

func scanPayment(row rowScanner) (*models.Payment, error) {
	var p models.Payment
	var orderID, paymentID, signature, receiptURL sql.NullString
	var status string
	err := row.Scan(&p.ID, &p.MemberID, &p.SubscriptionID, &p.PlanID, &p.Amount, &p.Currency, &orderID,
		&paymentID, &signature, &status, &p.PaymentType, &p.PaymentReference, &receiptURL,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.RazorpayOrderID = orderID.String
	p.RazorpayPaymentID = paymentID.String
	p.RazorpaySignature = signature.String
	p.ReceiptURL = receiptURL.String
	p.PaymentStatus = models.PaymentStatus(status)
	return &p, nil
}

func (s *LedgerStore) getPayment(ctx context.Context, where string, arg string) (*models.Payment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE `+where+` ORDER BY created_at DESC LIMIT 1`, arg)
	p, err := scanPayment(row)
	if err != nil {
		return nil, mapErr(err, "payment")
	}
	return p, nil
}

func (s *LedgerStore) GetPaymentByOrderID(ctx context.Context, orderID string) (*models.Payment, error) {
	return s.getPayment(ctx, "razorpay_order_id = $1", orderID)
}

func (s *LedgerStore) GetPaymentByGatewayPaymentID(ctx context.Context, paymentID string) (*models.Payment, error) {
	return s.getPayment(ctx, "razorpay_payment_id = $1", paymentID)
}

// UpdatePaymentStatus is UpdateDonationStatus for membership payments.
func (s *LedgerStore) UpdatePaymentStatus(ctx context.Context, orderID string, from []models.PaymentStatus, upd models.StatusUpdate) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE payments
		SET payment_status = $2,
			razorpay_payment_id = COALESCE(NULLIF($3, ''), razorpay_payment_id),
			razorpay_signature = COALESCE(NULLIF($4, ''), razorpay_signature),
			updated_at = NOW()
		WHERE razorpay_order_id = $1 AND payment_status = ANY($5)`,
		orderID, string(upd.Status), upd.PaymentID, upd.Signature, paymentStatuses(from))
	return affected(res, err, "payment")
}

func (s *LedgerStore) ListPayments(ctx context.Context, from, to time.Time) ([]models.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+paymentColumns+`
		FROM payments WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at`, from, to)
	if err != nil {
		return nil, mapErr(err, "payments")
	}
	defer rows.Close()

	var out []models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, mapErr(err, "payments")
		}
		out = append(out, *p)
	}
	return out, mapErr(rows.Err(), "payments")
}

// Plans

func (s *LedgerStore) GetPlan(ctx context.Context, id string) (*models.MembershipPlan, error) {
	if err := checkID(id, "membership plan"); err != nil {
		return nil, err
	}
	var p models.MembershipPlan
	var description, gatewayID sql.NullString
	var planType string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, type, price, features, is_active, razorpay_plan_id
		FROM membership_plans WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &description, &planType, &p.Price, pq.Array(&p.Features), &p.IsActive, &gatewayID)
	if err != nil {
		return nil, mapErr(err, "membership plan")
	}
	p.Description = description.String
	p.Type = models.PlanType(planType)
	p.RazorpayPlanID = gatewayID.String
	return &p, nil
}

// SetPlanGatewayID backfills the gateway plan id if none is stored yet. It
// reports false when another writer got there first.
func (s *LedgerStore) SetPlanGatewayID(ctx context.Context, planID, gatewayPlanID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE membership_plans SET razorpay_plan_id = $2, updated_at = NOW()
		WHERE id = $1 AND razorpay_plan_id IS NULL`, planID, gatewayPlanID)
	return affected(res, err, "membership plan")
}

// Subscriptions

func (s *LedgerStore) InsertSubscription(ctx context.Context, sub *models.Subscription) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO subscriptions (id, member_id, plan_id, status, razorpay_subscription_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		sub.ID, sub.MemberID, sub.PlanID, string(sub.Status), nullString(sub.RazorpaySubscriptionID),
	).Scan(&sub.CreatedAt, &sub.UpdatedAt)
	return mapErr(err, "subscription")
}

const subscriptionColumns = `id, member_id, plan_id, status, start_date, end_date, next_billing_date,
	cancelled_at, razorpay_subscription_id, created_at, updated_at`

func scanSubscription(row rowScanner) (*models.Subscription, error) {
	var sub models.Subscription
	var status string
	var start, end, next, cancelled sql.NullTime
	var gatewayID sql.NullString
	err := row.Scan(&sub.ID, &sub.MemberID, &sub.PlanID, &status, &start, &end, &next,
		&cancelled, &gatewayID, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sub.Status = models.SubscriptionStatus(status)
	sub.StartDate = timePtr(start)
	sub.EndDate = timePtr(end)
	sub.NextBillingDate = timePtr(next)
	sub.CancelledAt = timePtr(cancelled)
	sub.RazorpaySubscriptionID = gatewayID.String
	return &sub, nil
}

func (s *LedgerStore) getSubscription(ctx context.Context, query string, args ...interface{}) (*models.Subscription, error) {
	sub, err := scanSubscription(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, mapErr(err, "subscription")
	}
	return sub, nil
}

func (s *LedgerStore) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	if err := checkID(id, "subscription"); err != nil {
		return nil, err
	}
	return s.getSubscription(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
}

func (s *LedgerStore) GetSubscriptionByGatewayID(ctx context.Context, gatewayID string) (*models.Subscription, error) {
	return s.getSubscription(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE razorpay_subscription_id = $1`, gatewayID)
}

// FindOpenSubscription returns the pending, active or paused subscription of
// member for plan.
func (s *LedgerStore) FindOpenSubscription(ctx context.Context, memberID, planID string) (*models.Subscription, error) {
	return s.getSubscription(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE member_id = $1 AND plan_id = $2 AND status IN ('pending', 'active', 'paused')
		ORDER BY created_at DESC LIMIT 1`, memberID, planID)
}

// UpdateSubscription applies upd while the subscription's status is one of
// from. Nil dates keep their stored values.
func (s *LedgerStore) UpdateSubscription(ctx context.Context, id string, from []models.SubscriptionStatus, upd models.SubscriptionUpdate) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET status = $2,
			start_date = COALESCE($3::timestamptz, start_date),
			end_date = COALESCE($4::timestamptz, end_date),
			next_billing_date = COALESCE($5::timestamptz, next_billing_date),
			cancelled_at = COALESCE($6::timestamptz, cancelled_at),
			updated_at = NOW()
		WHERE id = $1 AND status = ANY($7)`,
		id, string(upd.Status), upd.StartDate, upd.EndDate, upd.NextBillingDate, upd.CancelledAt,
		subscriptionStatuses(from))
	return affected(res, err, "subscription")
}

func (s *LedgerStore) SetSubscriptionGatewayID(ctx context.Context, id, gatewayID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions SET razorpay_subscription_id = $2, updated_at = NOW() WHERE id = $1`, id, gatewayID)
	return mapErr(err, "subscription")
}

func (s *LedgerStore) SetNextBillingDate(ctx context.Context, id string, next time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions SET next_billing_date = $2, updated_at = NOW() WHERE id = $1`, id, next)
	return mapErr(err, "subscription")
}

// Roles

// HasRole reports whether userID holds role.
func (s *LedgerStore) HasRole(ctx context.Context, userID, role string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM user_roles WHERE user_id = $1 AND role = $2)`, userID, role).Scan(&ok)
	if err != nil {
		return false, mapErr(err, "role")
	}
	return ok, nil
}

// Ping checks the connection for /healthz.
func (s *LedgerStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
