package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the payment collectors. A nil *Metrics records nothing, so
// components can run without instrumentation in tests.
type Metrics struct {
	GatewayRequests   *prometheus.CounterVec
	GatewayLatency    *prometheus.HistogramVec
	TokenRefreshes    *prometheus.CounterVec
	PaymentActions    *prometheus.CounterVec
	StatusTransitions *prometheus.CounterVec
	EventsPublished   *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		GatewayRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_requests_total",
				Help: "Outbound gateway HTTP attempts by outcome",
			},
			[]string{"gateway", "endpoint", "outcome"},
		),
		GatewayLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_request_duration_seconds",
				Help:    "Latency of a single outbound gateway attempt",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"gateway", "endpoint"},
		),
		TokenRefreshes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_token_refreshes_total",
				Help: "Access token refresh attempts",
			},
			[]string{"gateway", "outcome"},
		),
		PaymentActions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_actions_total",
				Help: "Orchestrated payment actions by result",
			},
			[]string{"gateway", "action", "result"},
		),
		StatusTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "order_payment_transitions_total",
				Help: "Order payment status transitions",
			},
			[]string{"gateway", "from", "to"},
		),
		EventsPublished: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "order_status_events_total",
				Help: "Order status events handed to the broker",
			},
			[]string{"status", "outcome"},
		),
	}
}

func (m *Metrics) ObserveRequest(gateway, endpoint, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.GatewayRequests.WithLabelValues(gateway, endpoint, outcome).Inc()
	m.GatewayLatency.WithLabelValues(gateway, endpoint).Observe(d.Seconds())
}

func (m *Metrics) TokenRefreshed(gateway, outcome string) {
	if m == nil {
		return
	}
	m.TokenRefreshes.WithLabelValues(gateway, outcome).Inc()
}

func (m *Metrics) ActionDone(gateway, action, result string) {
	if m == nil {
		return
	}
	m.PaymentActions.WithLabelValues(gateway, action, result).Inc()
}

func (m *Metrics) Transitioned(gateway, from, to string) {
	if m == nil {
		return
	}
	m.StatusTransitions.WithLabelValues(gateway, from, to).Inc()
}

func (m *Metrics) EventPublished(status, outcome string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(status, outcome).Inc()
}

type Timer struct {
	start time.Time
}

func StartTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
