package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "venuepay"

// Metrics holds the payment core's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	paymentsCreated  *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	webhookCallbacks *prometheus.CounterVec
	gatewayRequests  *prometheus.CounterVec
	gatewayLatency   *prometheus.HistogramVec
	sweepRuns        *prometheus.CounterVec
	sweepItems       *prometheus.CounterVec
	ledgerEntries    *prometheus.CounterVec
	ledgerRejections *prometheus.CounterVec
	sweepLastRunUnix *prometheus.GaugeVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		paymentsCreated: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "payments",
				Name:      "created_total",
				Help:      "Payment creation attempts partitioned by type and result.",
			},
			[]string{"type", "result"},
		),
		transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "payments",
				Name:      "transitions_total",
				Help:      "Applied payment status transitions.",
			},
			[]string{"from", "to"},
		),
		webhookCallbacks: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "webhook",
				Name:      "callbacks_total",
				Help:      "Gateway callbacks partitioned by outcome.",
			},
			[]string{"result"},
		),
		gatewayRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "requests_total",
				Help:      "QR gateway calls partitioned by operation and result.",
			},
			[]string{"op", "result"},
		),
		gatewayLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "request_duration_seconds",
				Help:      "QR gateway call latency.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
			},
			[]string{"op"},
		),
		sweepRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "runs_total",
				Help:      "Scheduler job runs partitioned by job and result.",
			},
			[]string{"job", "result"},
		),
		sweepItems: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "items_total",
				Help:      "Items processed by scheduler jobs partitioned by outcome.",
			},
			[]string{"job", "outcome"},
		),
		ledgerEntries: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "entries_total",
				Help:      "Ledger entries appended partitioned by kind.",
			},
			[]string{"kind"},
		),
		ledgerRejections: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "insufficient_total",
				Help:      "Deductions rejected for insufficient balance.",
			},
			[]string{"kind"},
		),
		sweepLastRunUnix: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "last_run_unix",
				Help:      "Unix time of the most recent run per job.",
			},
			[]string{"job"},
		),
	}
}

func (m *Metrics) ObservePaymentCreated(paymentType string, err error) {
	if m == nil {
		return
	}
	m.paymentsCreated.WithLabelValues(paymentType, result(err)).Inc()
}

func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) ObserveWebhook(outcome string) {
	if m == nil {
		return
	}
	m.webhookCallbacks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveGateway(op string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.gatewayLatency.WithLabelValues(op).Observe(time.Since(started).Seconds())
	m.gatewayRequests.WithLabelValues(op, result(err)).Inc()
}

func (m *Metrics) ObserveSweep(job string, err error) {
	if m == nil {
		return
	}
	m.sweepLastRunUnix.WithLabelValues(job).Set(float64(time.Now().UTC().Unix()))
	m.sweepRuns.WithLabelValues(job, result(err)).Inc()
}

func (m *Metrics) ObserveSweepItem(job, outcome string) {
	if m == nil {
		return
	}
	m.sweepItems.WithLabelValues(job, outcome).Inc()
}

func (m *Metrics) ObserveLedgerEntry(kind string) {
	if m == nil {
		return
	}
	m.ledgerEntries.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveInsufficientBalance(kind string) {
	if m == nil {
		return
	}
	m.ledgerRejections.WithLabelValues(kind).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
