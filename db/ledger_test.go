package db

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "trust-payments/errors"
	"trust-payments/models"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, mock
}

func TestLedgerStore_InsertDonation(t *testing.T) {
	conn, mock := newMock(t)
	store := NewLedgerStore(conn)
	now := time.Now()

	mock.ExpectQuery(`INSERT INTO donations`).
		WithArgs("d-1", "Asha", "asha@example.org", sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), "INR", "order_1", "pending", "PAY-20250101-ABCDEF12", nil).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	d := &models.Donation{
		ID: "d-1", DonorName: "Asha", DonorEmail: "asha@example.org",
		Amount: decimal.NewFromInt(500), Currency: "INR", RazorpayOrderID: "order_1",
		PaymentStatus: models.PaymentPending, PaymentReference: "PAY-20250101-ABCDEF12",
	}
	require.NoError(t, store.InsertDonation(context.Background(), d))
	assert.Equal(t, now, d.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerStore_GetDonationByOrderID_NotFound(t *testing.T) {
	conn, mock := newMock(t)
	store := NewLedgerStore(conn)

	mock.ExpectQuery(`SELECT .* FROM donations WHERE razorpay_order_id = \$1`).
		WithArgs("order_missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetDonationByOrderID(context.Background(), "order_missing")
	assert.True(t, apperr.IsKind(err, apperr.NotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerStore_UpdateDonationStatus_Guarded(t *testing.T) {
	conn, mock := newMock(t)
	store := NewLedgerStore(conn)
	upd := models.StatusUpdate{Status: models.PaymentSuccess, PaymentID: "pay_1", Signature: "sig"}

	mock.ExpectExec(`UPDATE donations\s+SET payment_status = \$2`).
		WithArgs("order_1", "success", "pay_1", "sig", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE donations\s+SET payment_status = \$2`).
		WithArgs("order_1", "success", "pay_1", "sig", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	from := models.ReconcilableFrom(models.PaymentSuccess)
	changed, err := store.UpdateDonationStatus(context.Background(), "order_1", from, upd)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = store.UpdateDonationStatus(context.Background(), "order_1", from, upd)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerStore_InsertPayment_DuplicateGatewayPayment(t *testing.T) {
	conn, mock := newMock(t)
	store := NewLedgerStore(conn)

	mock.ExpectQuery(`INSERT INTO payments`).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	err := store.InsertPayment(context.Background(), &models.Payment{
		ID: "p-1", MemberID: "m-1", SubscriptionID: "s-1", PlanID: "plan-1",
		Amount: decimal.NewFromInt(199), Currency: "INR", RazorpayPaymentID: "pay_9",
		PaymentStatus: models.PaymentSuccess, PaymentType: models.PaymentTypeSubscription,
		PaymentReference: "PAY-20250101-ABCDEF12",
	})
	assert.True(t, apperr.IsKind(err, apperr.Conflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerStore_GetPlan(t *testing.T) {
	conn, mock := newMock(t)
	store := NewLedgerStore(conn)
	planID := "6f1c2b7e-3d4a-4f5b-9c8d-1e2f3a4b5c6d"

	mock.ExpectQuery(`SELECT id, name, description, type, price, features, is_active, razorpay_plan_id`).
		WithArgs(planID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "type", "price", "features", "is_active", "razorpay_plan_id"}).
			AddRow(planID, "Lifetime Patron", nil, "lifetime", "25000.00", "{recognition,\"annual report\"}", true, nil))

	plan, err := store.GetPlan(context.Background(), planID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanLifetime, plan.Type)
	assert.True(t, plan.Price.Equal(decimal.NewFromInt(25000)))
	assert.Equal(t, []string{"recognition", "annual report"}, plan.Features)
	assert.Empty(t, plan.RazorpayPlanID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerStore_LookupsRejectNonUUIDIDs(t *testing.T) {
	conn, mock := newMock(t)
	ledger := NewLedgerStore(conn)
	dlq := NewDLQStore(conn)
	ctx := context.Background()

	_, err := ledger.GetPlan(ctx, "plan-monthly")
	assert.True(t, apperr.IsKind(err, apperr.NotFound))
	_, err = ledger.GetSubscription(ctx, "../admin")
	assert.True(t, apperr.IsKind(err, apperr.NotFound))
	_, err = dlq.Get(ctx, "42")
	assert.True(t, apperr.IsKind(err, apperr.NotFound))
	err = dlq.Resolve(ctx, "not-a-uuid", "done")
	assert.True(t, apperr.IsKind(err, apperr.NotFound))

	// No query reached the database.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMapErr_InvalidTextRepresentation(t *testing.T) {
	conn, mock := newMock(t)
	store := NewLedgerStore(conn)

	mock.ExpectQuery(`FROM subscriptions WHERE razorpay_subscription_id = \$1`).
		WithArgs("sub_gw_1").
		WillReturnError(&pq.Error{Code: "22P02", Message: "invalid input syntax for type uuid"})

	_, err := store.GetSubscriptionByGatewayID(context.Background(), "sub_gw_1")
	assert.True(t, apperr.IsKind(err, apperr.Invalid))
	assert.Equal(t, "invalid subscription", apperr.Message(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerStore_UpdateSubscription(t *testing.T) {
	conn, mock := newMock(t)
	store := NewLedgerStore(conn)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE subscriptions\s+SET status = \$2`).
		WithArgs("sub-1", "cancelled", nil, nil, nil, now, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	changed, err := store.UpdateSubscription(context.Background(), "sub-1",
		models.SubscriptionFrom(models.SubscriptionCancelled),
		models.SubscriptionUpdate{Status: models.SubscriptionCancelled, CancelledAt: &now})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerStore_HasRole(t *testing.T) {
	conn, mock := newMock(t)
	store := NewLedgerStore(conn)

	mock.ExpectQuery(`SELECT EXISTS`).WithArgs("user-1", "admin").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := store.HasRole(context.Background(), "user-1", "admin")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookJournal_RecordAndMark(t *testing.T) {
	conn, mock := newMock(t)
	journal := NewWebhookJournal(conn)

	mock.ExpectQuery(`INSERT INTO razorpay_webhooks`).
		WithArgs("evt_1", "payment.captured", []byte(`{}`)).
		WillReturnRows(sqlmock.NewRows([]string{"processing_status"}).AddRow("PROCESSED"))
	mock.ExpectExec(`UPDATE razorpay_webhooks`).
		WithArgs("evt_1", "IGNORED", "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	status, err := journal.Record(context.Background(), models.WebhookDelivery{
		EventID: "evt_1", Event: "payment.captured", Payload: []byte(`{}`),
	})
	require.NoError(t, err)
	assert.Equal(t, models.WebhookProcessed, status)
	require.NoError(t, journal.Mark(context.Background(), "evt_1", models.WebhookIgnored, ""))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDLQStore_ResolveMissing(t *testing.T) {
	conn, mock := newMock(t)
	store := NewDLQStore(conn)

	missing := "0b5e6f1a-9c2d-4e3f-8a7b-6c5d4e3f2a1b"
	mock.ExpectExec(`UPDATE dlq_messages SET resolved = TRUE`).
		WithArgs(missing, "done").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Resolve(context.Background(), missing, "done")
	assert.True(t, apperr.IsKind(err, apperr.NotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDLQStore_Stats(t *testing.T) {
	conn, mock := newMock(t)
	store := NewDLQStore(conn)

	mock.ExpectQuery(`SELECT COUNT\(\*\)`).
		WillReturnRows(sqlmock.NewRows([]string{"total", "unresolved", "resolved"}).AddRow(5, 2, 3))

	st, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.DLQStats{Total: 5, Unresolved: 2, Resolved: 3}, st)
}
