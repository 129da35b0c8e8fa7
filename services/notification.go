package services

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"trust-payments/logger"
	"trust-payments/metrics"
)

// ReceiptJob describes a receipt to send after a payment succeeds.
type ReceiptJob struct {
	Kind             string          `json:"kind"`
	PaymentReference string          `json:"payment_reference"`
	OrderID          string          `json:"order_id"`
	PaymentID        string          `json:"payment_id"`
	Name             string          `json:"name"`
	Email            string          `json:"email"`
	Amount           decimal.Decimal `json:"amount"`
	PlanName         string          `json:"plan_name,omitempty"`
	PaidAt           time.Time       `json:"paid_at"`
}

// Notifier accepts receipt jobs without blocking the caller and never
// reports failures back.
type Notifier interface {
	NotifyReceipt(job ReceiptJob)
}

// ReceiptSender delivers one receipt, either by mail or by queueing it.
type ReceiptSender interface {
	SendReceipt(ctx context.Context, job ReceiptJob) error
}

// NotificationDispatcher runs receipt jobs on a background worker fed by a
// bounded queue. A full queue drops the job and logs it.
type NotificationDispatcher struct {
	sender  ReceiptSender
	timeout time.Duration
	jobs    chan ReceiptJob
	done    chan struct{}

	mu     sync.Mutex
	closed bool
}

func NewNotificationDispatcher(sender ReceiptSender, queueSize int) *NotificationDispatcher {
	if queueSize <= 0 {
		queueSize = 100
	}
	d := &NotificationDispatcher{
		sender:  sender,
		timeout: 30 * time.Second,
		jobs:    make(chan ReceiptJob, queueSize),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// NotifyReceipt implements Notifier.
func (d *NotificationDispatcher) NotifyReceipt(job ReceiptJob) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		d.fail(job, "dispatcher closed")
		return
	}
	select {
	case d.jobs <- job:
	default:
		d.fail(job, "queue full")
	}
}

func (d *NotificationDispatcher) run() {
	defer close(d.done)
	for job := range d.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := d.sender.SendReceipt(ctx, job)
		cancel()
		if err != nil {
			d.fail(job, err.Error())
			continue
		}
		metrics.Notifications.WithLabelValues("sent").Inc()
		logger.Info("[NOTIFY] Receipt %s dispatched to %s", job.PaymentReference, job.Email)
	}
}

// fail is the failure sink: it logs and counts, nothing else.
func (d *NotificationDispatcher) fail(job ReceiptJob, reason string) {
	metrics.Notifications.WithLabelValues("failed").Inc()
	logger.Error("[NOTIFY] Receipt %s for %s not sent: %s", job.PaymentReference, job.Email, reason)
}

// Close stops accepting jobs and waits for queued ones to finish or ctx to end.
func (d *NotificationDispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
