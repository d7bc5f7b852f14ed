package tasks

import (
	"context"
	"time"

	"github.com/example/venuepay/internal/metrics"
	"github.com/example/venuepay/internal/services"
)

const (
	JobExpirePayments = "expire_payments"
	JobPollPayments   = "poll_payments"
	JobReconcile      = "reconcile_payments"
	JobCommissions    = "retry_commissions"

	defaultBatchSize = 200

	// commissionGrace leaves fresh completions to the commission pool.
	commissionGrace = 5 * time.Minute
)

// PaymentTasks reconciles payments that the gateway callback has not settled.
type PaymentTasks struct {
	payments  *services.PaymentService
	metrics   *metrics.Metrics
	batchSize int
}

func NewPaymentTasks(payments *services.PaymentService, m *metrics.Metrics) *PaymentTasks {
	return &PaymentTasks{payments: payments, metrics: m, batchSize: defaultBatchSize}
}

// ExpireStale cancels PENDING payments past their expiry.
func (t *PaymentTasks) ExpireStale(ctx context.Context) (Report, error) {
	report := Report{Job: JobExpirePayments}
	stale, err := t.payments.ExpiredPending(ctx, t.batchSize)
	if err != nil {
		return report, err
	}
	for _, p := range stale {
		id := p.ID
		runItem(report.Job, t.metrics, &report, func() (bool, error) {
			return t.payments.Expire(ctx, id)
		})
	}
	return report, nil
}

// PollPending asks the gateway about unexpired open payments and applies settled statuses.
func (t *PaymentTasks) PollPending(ctx context.Context) (Report, error) {
	report := Report{Job: JobPollPayments}
	open, err := t.payments.Pollable(ctx, t.batchSize)
	if err != nil {
		return report, err
	}
	for i := range open {
		p := &open[i]
		runItem(report.Job, t.metrics, &report, func() (bool, error) {
			return t.payments.Reconcile(ctx, p)
		})
	}
	return report, nil
}

// RetryCommissions charges commissions of completed venue payments that never reached the ledger.
func (t *PaymentTasks) RetryCommissions(ctx context.Context) (Report, error) {
	report := Report{Job: JobCommissions}
	pending, err := t.payments.UnchargedCommissions(ctx, commissionGrace, t.batchSize)
	if err != nil {
		return report, err
	}
	for _, p := range pending {
		id := p.ID
		runItem(report.Job, t.metrics, &report, func() (bool, error) {
			return t.payments.RetryCommission(ctx, id)
		})
	}
	return report, nil
}

// Reconcile runs the expiry sweep, the gateway poll and the commission retry.
func (t *PaymentTasks) Reconcile(ctx context.Context) (Report, error) {
	total := Report{Job: JobReconcile}
	for _, pass := range []func(context.Context) (Report, error){t.ExpireStale, t.PollPending, t.RetryCommissions} {
		report, err := pass(ctx)
		total.Processed += report.Processed
		total.Succeeded += report.Succeeded
		total.Skipped += report.Skipped
		total.Failed += report.Failed
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
