package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestOrderMetricsCountsTransitions(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOrderMetrics(reg)
	m.ObserveTransition("delivered", "completed", "ok")
	m.ObserveTransition("delivered", "completed", "ok")
	m.IncSideEffectFailure("outbox")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "kky_order_transitions_total", "to", "completed"); err != nil || got != 2 {
		t.Fatalf("expected 2 transitions, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "kky_order_side_effect_failures_total", "effect", "outbox"); err != nil || got != 1 {
		t.Fatalf("expected 1 failure, got %f (%v)", got, err)
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var orders *OrderMetrics
	orders.ObserveTransition("a", "b", "ok")
	var rt *RealtimeMetrics
	rt.ConnectionOpened()
	rt.IncDropped()
	NewHTTPMetrics(nil).Observe("GET", "/", 200, time.Millisecond)
}

func TestRealtimeMetricsGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRealtimeMetrics(reg)
	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.IncBroadcast("order")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	mf := findMetricFamily(mfs, "kky_realtime_connections")
	if mf == nil || mf.GetMetric()[0].GetGauge().GetValue() != 1 {
		t.Fatalf("expected one open connection")
	}
}
