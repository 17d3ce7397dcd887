package metrics

import "github.com/prometheus/client_golang/prometheus"

// OrderMetrics counts lifecycle transitions and their outcomes.
type OrderMetrics struct {
	transitions *prometheus.CounterVec
	sideEffects *prometheus.CounterVec
}

func NewOrderMetrics(reg prometheus.Registerer) *OrderMetrics {
	if reg == nil {
		return &OrderMetrics{}
	}
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "order_transitions_total",
		Help:      "Order status transitions by origin, target and outcome.",
	}, []string{"from", "to", "result"})
	sideEffects := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "order_side_effect_failures_total",
		Help:      "Best-effort side effects of a committed transition that failed.",
	}, []string{"effect"})
	reg.MustRegister(transitions, sideEffects)
	return &OrderMetrics{transitions: transitions, sideEffects: sideEffects}
}

// ObserveTransition records one attempt. result is "ok", "rejected" or "conflict".
func (m *OrderMetrics) ObserveTransition(from, to, result string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(from), normalizeLabel(to), result).Inc()
}

func (m *OrderMetrics) IncSideEffectFailure(effect string) {
	if m == nil || m.sideEffects == nil {
		return
	}
	m.sideEffects.WithLabelValues(normalizeLabel(effect)).Inc()
}
