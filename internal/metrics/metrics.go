package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "referral"

// Metrics holds the collectors of the grant-access workflow, the payment
// webhook, the expiration sweep and the event dispatcher. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	GrantTransitions *prometheus.CounterVec
	PaymentIntents   *prometheus.CounterVec
	WebhookEvents    *prometheus.CounterVec
	SweepRuns        *prometheus.CounterVec
	SweepItems       *prometheus.CounterVec
	SweepDuration    prometheus.Histogram
	EventsDispatched *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		GrantTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grant_access_transitions_total",
			Help:      "Grant-access state transitions by target state and result.",
		}, []string{"transition", "result"}),
		PaymentIntents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_intents_total",
			Help:      "Payment intent requests by outcome.",
		}, []string{"outcome"}),
		WebhookEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhook_events_total",
			Help:      "Payment webhook deliveries by event kind and outcome.",
		}, []string{"kind", "outcome"}),
		SweepRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expiration_sweep_runs_total",
			Help:      "Expiration sweep invocations by result.",
		}, []string{"result"}),
		SweepItems: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expiration_sweep_items_total",
			Help:      "Pre-market requests handled by the sweep, by outcome.",
		}, []string{"outcome"}),
		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "expiration_sweep_duration_seconds",
			Help:      "Wall time of completed sweeps.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		EventsDispatched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "domain_events_dispatched_total",
			Help:      "Domain events handled by the dispatcher, by type and outcome.",
		}, []string{"type", "outcome"}),
	}
}

func (m *Metrics) Transition(transition, result string) {
	if m == nil {
		return
	}
	m.GrantTransitions.WithLabelValues(transition, result).Inc()
}

func (m *Metrics) PaymentIntent(outcome string) {
	if m == nil {
		return
	}
	m.PaymentIntents.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Webhook(kind, outcome string) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) SweepRun(result string) {
	if m == nil {
		return
	}
	m.SweepRuns.WithLabelValues(result).Inc()
}

func (m *Metrics) SweepItem(outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.SweepItems.WithLabelValues(outcome).Add(float64(n))
}

func (m *Metrics) ObserveSweep(d time.Duration) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(d.Seconds())
}

func (m *Metrics) Dispatched(eventType, outcome string) {
	if m == nil {
		return
	}
	m.EventsDispatched.WithLabelValues(eventType, outcome).Inc()
}
