package observability

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by the trigger and fan-out flows.
type Metrics struct {
	registry *prometheus.Registry

	eventsTotal          *prometheus.CounterVec
	eventsDuplicateTotal *prometheus.CounterVec
	eventsAbandonedTotal *prometheus.CounterVec
	retryAttemptsTotal   *prometheus.CounterVec
	pushSentTotal        prometheus.Counter
	pushFailedTotal      *prometheus.CounterVec
	tokensPrunedTotal    prometheus.Counter
	deliveriesInflight   prometheus.Gauge
	handlerDuration      *prometheus.HistogramVec
	multicastDuration    prometheus.Histogram
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pushledger",
				Name:      "events_total",
				Help:      "Total number of write events handled by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		eventsDuplicateTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pushledger",
				Name:      "events_duplicate_total",
				Help:      "Total number of deliveries short-circuited as already processed.",
			},
			[]string{"collection"},
		),
		eventsAbandonedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pushledger",
				Name:      "events_abandoned_total",
				Help:      "Total number of documents that reached their ledger retry ceiling.",
			},
			[]string{"collection"},
		),
		retryAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pushledger",
				Name:      "retry_attempts_total",
				Help:      "Total number of transient-failure retry attempts by operation.",
			},
			[]string{"operation"},
		),
		pushSentTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "pushledger",
				Name:      "push_sent_total",
				Help:      "Total number of push messages accepted per endpoint token.",
			},
		),
		pushFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pushledger",
				Name:      "push_failed_total",
				Help:      "Total number of per-token push failures by reason.",
			},
			[]string{"reason"},
		),
		tokensPrunedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "pushledger",
				Name:      "tokens_pruned_total",
				Help:      "Total number of permanently invalid endpoint tokens removed.",
			},
		),
		deliveriesInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "pushledger",
				Name:      "deliveries_inflight",
				Help:      "Current number of trigger deliveries being processed.",
			},
		),
		handlerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "pushledger",
				Name:      "handler_duration_seconds",
				Help:      "Business handler duration in seconds by collection.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"collection"},
		),
		multicastDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "pushledger",
				Name:      "multicast_duration_seconds",
				Help:      "Push gateway multicast duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.eventsTotal,
		m.eventsDuplicateTotal,
		m.eventsAbandonedTotal,
		m.retryAttemptsTotal,
		m.pushSentTotal,
		m.pushFailedTotal,
		m.tokensPrunedTotal,
		m.deliveriesInflight,
		m.handlerDuration,
		m.multicastDuration,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncEvent(kind string, outcome string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(normalizeLabel(kind), normalizeLabel(outcome)).Inc()
}

func (m *Metrics) IncEventDuplicate(collection string) {
	if m == nil {
		return
	}
	m.eventsDuplicateTotal.WithLabelValues(normalizeLabel(collection)).Inc()
}

func (m *Metrics) IncEventAbandoned(collection string) {
	if m == nil {
		return
	}
	m.eventsAbandonedTotal.WithLabelValues(normalizeLabel(collection)).Inc()
}

func (m *Metrics) IncRetryAttempt(operation string) {
	if m == nil {
		return
	}
	m.retryAttemptsTotal.WithLabelValues(normalizeLabel(operation)).Inc()
}

func (m *Metrics) IncPushSent() {
	if m == nil {
		return
	}
	m.pushSentTotal.Inc()
}

func (m *Metrics) IncPushFailed(reason string) {
	if m == nil {
		return
	}
	m.pushFailedTotal.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *Metrics) IncTokensPruned() {
	if m == nil {
		return
	}
	m.tokensPrunedTotal.Inc()
}

func (m *Metrics) IncDeliveriesInflight() {
	if m == nil {
		return
	}
	m.deliveriesInflight.Inc()
}

func (m *Metrics) DecDeliveriesInflight() {
	if m == nil {
		return
	}
	m.deliveriesInflight.Dec()
}

func (m *Metrics) ObserveHandlerDuration(collection string, duration time.Duration) {
	if m == nil {
		return
	}
	m.handlerDuration.WithLabelValues(normalizeLabel(collection)).Observe(clampSeconds(duration))
}

func (m *Metrics) ObserveMulticastDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.multicastDuration.Observe(clampSeconds(duration))
}

func clampSeconds(duration time.Duration) float64 {
	seconds := duration.Seconds()
	if seconds < 0 {
		return 0
	}
	return seconds
}

func normalizeLabel(value string) string {
	normalized := strings.TrimSpace(strings.ToLower(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
