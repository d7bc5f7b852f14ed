package tasks

import (
	"context"

	"github.com/example/venuepay/internal/metrics"
	"github.com/example/venuepay/internal/services"
)

const (
	JobSubscriptions = "subscriptions"
	JobLowBalance    = "low_balance"
)

// BillingTasks runs the owner-wide ledger sweeps.
type BillingTasks struct {
	billing *services.BillingService
	metrics *metrics.Metrics
}

func NewBillingTasks(billing *services.BillingService, m *metrics.Metrics) *BillingTasks {
	return &BillingTasks{billing: billing, metrics: m}
}

// ChargeSubscriptions charges this month's fee to every active owner that has not paid it.
// Owners who cannot cover it are notified and counted as failed.
func (t *BillingTasks) ChargeSubscriptions(ctx context.Context) (Report, error) {
	report := Report{Job: JobSubscriptions}
	owners, err := t.billing.ActiveOwnerIDs(ctx)
	if err != nil {
		return report, err
	}
	for _, ownerID := range owners {
		id := ownerID
		runItem(report.Job, t.metrics, &report, func() (bool, error) {
			return t.billing.ChargeSubscription(ctx, id)
		})
	}
	return report, nil
}

// NotifyLowBalances warns every active owner whose balance is under the threshold.
func (t *BillingTasks) NotifyLowBalances(ctx context.Context) (Report, error) {
	report := Report{Job: JobLowBalance}
	owners, err := t.billing.ActiveOwnerIDs(ctx)
	if err != nil {
		return report, err
	}
	for _, ownerID := range owners {
		id := ownerID
		runItem(report.Job, t.metrics, &report, func() (bool, error) {
			low, _, err := t.billing.CheckLowBalance(ctx, id)
			if err != nil || !low {
				return false, err
			}
			t.billing.NotifyLowBalance(ctx, id, "below threshold")
			return true, nil
		})
	}
	return report, nil
}
