package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"trust-payments/config"
	"trust-payments/logger"
)

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, cfg config.DBConfig) (*sql.DB, error) {
	conn, err := sql.Open("postgres", cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	conn.SetMaxOpenConns(20)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	return conn, nil
}

var schema = []struct {
	name string
	stmt string
}{
	{"membership_plans", `
	CREATE TABLE IF NOT EXISTS membership_plans (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		type TEXT NOT NULL CHECK (type IN ('monthly', 'yearly', 'lifetime')),
		price NUMERIC(12,2) NOT NULL CHECK (price > 0),
		features TEXT[] NOT NULL DEFAULT '{}',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		razorpay_plan_id TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`},
	{"donations", `
	CREATE TABLE IF NOT EXISTS donations (
		id UUID PRIMARY KEY,
		donor_name TEXT NOT NULL,
		donor_email TEXT NOT NULL,
		donor_phone TEXT,
		donor_address TEXT,
		amount NUMERIC(12,2) NOT NULL,
		currency TEXT NOT NULL DEFAULT 'INR',
		razorpay_order_id TEXT NOT NULL UNIQUE,
		razorpay_payment_id TEXT,
		razorpay_signature TEXT,
		payment_status TEXT NOT NULL DEFAULT 'pending'
			CHECK (payment_status IN ('pending', 'success', 'failed', 'refunded')),
		payment_reference TEXT NOT NULL,
		notes JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`},
	{"subscriptions", `
	CREATE TABLE IF NOT EXISTS subscriptions (
		id UUID PRIMARY KEY,
		member_id TEXT NOT NULL,
		plan_id UUID NOT NULL REFERENCES membership_plans(id),
		status TEXT NOT NULL DEFAULT 'pending'
			CHECK (status IN ('pending', 'active', 'cancelled', 'expired', 'paused')),
		start_date TIMESTAMPTZ,
		end_date TIMESTAMPTZ,
		next_billing_date TIMESTAMPTZ,
		cancelled_at TIMESTAMPTZ,
		razorpay_subscription_id TEXT UNIQUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`},
	{"subscriptions_open_idx", `
	CREATE UNIQUE INDEX IF NOT EXISTS subscriptions_one_open_per_plan
		ON subscriptions (member_id, plan_id)
		WHERE status IN ('pending', 'active', 'paused');`},
	{"payments", `
	CREATE TABLE IF NOT EXISTS payments (
		id UUID PRIMARY KEY,
		member_id TEXT NOT NULL,
		subscription_id UUID NOT NULL REFERENCES subscriptions(id),
		plan_id UUID NOT NULL REFERENCES membership_plans(id),
		amount NUMERIC(12,2) NOT NULL,
		currency TEXT NOT NULL DEFAULT 'INR',
		razorpay_order_id TEXT,
		razorpay_payment_id TEXT,
		razorpay_signature TEXT,
		payment_status TEXT NOT NULL DEFAULT 'pending'
			CHECK (payment_status IN ('pending', 'success', 'failed', 'refunded')),
		payment_type TEXT NOT NULL,
		payment_reference TEXT NOT NULL,
		receipt_url TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`},
	{"payments_gateway_payment_idx", `
	CREATE UNIQUE INDEX IF NOT EXISTS payments_razorpay_payment_id_key
		ON payments (razorpay_payment_id)
		WHERE razorpay_payment_id IS NOT NULL;`},
	{"payments_order_idx", `
	CREATE INDEX IF NOT EXISTS payments_razorpay_order_id_idx ON payments (razorpay_order_id);`},
	{"user_roles", `
	CREATE TABLE IF NOT EXISTS user_roles (
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (user_id, role)
	);`},
	{"razorpay_webhooks", `
	CREATE TABLE IF NOT EXISTS razorpay_webhooks (
		id SERIAL PRIMARY KEY,
		webhook_id TEXT NOT NULL UNIQUE,
		event_type TEXT NOT NULL,
		payload JSONB,
		signature_valid BOOLEAN NOT NULL DEFAULT TRUE,
		processing_status TEXT NOT NULL DEFAULT 'RECEIVED',
		error_message TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		received_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		processed_at TIMESTAMPTZ
	);`},
	{"dlq_messages", `
	CREATE TABLE IF NOT EXISTS dlq_messages (
		id SERIAL PRIMARY KEY,
		message_id UUID NOT NULL UNIQUE,
		topic TEXT NOT NULL,
		key TEXT,
		value JSONB,
		error_message TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL DEFAULT 5,
		resolved BOOLEAN NOT NULL DEFAULT FALSE,
		resolved_at TIMESTAMPTZ,
		last_retry_at TIMESTAMPTZ,
		notes TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`},
}

// Migrate creates the ledger, journal and DLQ tables if they do not exist and
// seeds the default plan catalog on an empty database.
func Migrate(ctx context.Context, conn *sql.DB) error {
	for _, s := range schema {
		if _, err := conn.ExecContext(ctx, s.stmt); err != nil {
			return fmt.Errorf("error creating %s: %w", s.name, err)
		}
	}

	if err := seedPlans(ctx, conn); err != nil {
		logger.Warn("[DB] Could not seed membership plans: %v", err)
	}
	return nil
}

func seedPlans(ctx context.Context, conn *sql.DB) error {
	var count int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM membership_plans`).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	_, err := conn.ExecContext(ctx, `
	INSERT INTO membership_plans (id, name, description, type, price, features)
	VALUES
		(gen_random_uuid(), 'Monthly Supporter', 'Support our athletes every month', 'monthly', 199.00,
			ARRAY['Monthly newsletter', 'Event updates']),
		(gen_random_uuid(), 'Annual Member', 'A year of membership benefits', 'yearly', 1999.00,
			ARRAY['Monthly newsletter', 'Event updates', 'Member meetups']),
		(gen_random_uuid(), 'Lifetime Patron', 'One-time lifetime membership', 'lifetime', 25000.00,
			ARRAY['Lifetime recognition', 'Annual report', 'Member meetups'])
	`)
	if err == nil {
		logger.Info("[DB] Seeded default membership plans")
	}
	return err
}
