package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCollectors(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()

	metrics.IncEvent("on-create", "handled")
	metrics.IncEventDuplicate("notifications")
	metrics.IncEventAbandoned("notifications")
	metrics.IncRetryAttempt("transaction")
	metrics.IncPushSent()
	metrics.IncPushFailed("unregistered")
	metrics.IncTokensPruned()
	metrics.IncDeliveriesInflight()
	metrics.DecDeliveriesInflight()
	metrics.ObserveHandlerDuration("notifications", 120*time.Millisecond)
	metrics.ObserveMulticastDuration(40 * time.Millisecond)

	if got := testutil.ToFloat64(metrics.eventsTotal.WithLabelValues("on-create", "handled")); got != 1 {
		t.Fatalf("events_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.eventsDuplicateTotal.WithLabelValues("notifications")); got != 1 {
		t.Fatalf("events_duplicate_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.eventsAbandonedTotal.WithLabelValues("notifications")); got != 1 {
		t.Fatalf("events_abandoned_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.retryAttemptsTotal.WithLabelValues("transaction")); got != 1 {
		t.Fatalf("retry_attempts_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.pushSentTotal); got != 1 {
		t.Fatalf("push_sent_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.pushFailedTotal.WithLabelValues("unregistered")); got != 1 {
		t.Fatalf("push_failed_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.tokensPrunedTotal); got != 1 {
		t.Fatalf("tokens_pruned_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.deliveriesInflight); got != 0 {
		t.Fatalf("deliveries_inflight = %v, want 0", got)
	}
}

func TestMetricsNilReceiverIsSafe(t *testing.T) {
	t.Parallel()

	var metrics *Metrics

	metrics.IncEvent("on-create", "handled")
	metrics.IncPushSent()
	metrics.ObserveMulticastDuration(time.Millisecond)

	if handler := metrics.Handler(); handler == nil {
		t.Fatal("Handler() should fall back to the default registry")
	}
}

func TestMetricsLabelNormalization(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	metrics.IncPushFailed("  Unregistered  ")
	metrics.IncPushFailed("")

	if got := testutil.ToFloat64(metrics.pushFailedTotal.WithLabelValues("unregistered")); got != 1 {
		t.Fatalf("push_failed_total{unregistered} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.pushFailedTotal.WithLabelValues("unknown")); got != 1 {
		t.Fatalf("push_failed_total{unknown} = %v, want 1", got)
	}
}
