package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fulfillment"

// Metrics groups the engine's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	OrdersPlaced      prometheus.Counter
	StockRejections   *prometheus.CounterVec
	Transitions       *prometheus.CounterVec
	AcceptConflicts   prometheus.Counter
	AgentMatches      *prometheus.CounterVec
	HandlingAnomalies prometheus.Counter
	ConsistencyFaults prometheus.Counter
	Compensations     *prometheus.CounterVec
}

// New builds the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OrdersPlaced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "orders_placed_total",
			Help: "Orders committed with their stock decrement.",
		}),
		StockRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "stock_rejections_total",
			Help: "Checkouts rejected by the inventory ledger.",
		}, []string{"reason"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "status_transitions_total",
			Help: "Order status transitions applied.",
		}, []string{"to"}),
		AcceptConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "accept_conflicts_total",
			Help: "Accept attempts that lost the race for an order.",
		}),
		AgentMatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "agent_matches_total",
			Help: "Order to agent matches by matching rule.",
		}, []string{"matched_by"}),
		HandlingAnomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "handling_time_anomalies_total",
			Help: "Handling durations excluded from averages.",
		}),
		ConsistencyFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "consistency_faults_total",
			Help: "Stock commits left without an order record.",
		}),
		Compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "stock_compensations_total",
			Help: "Compensating stock re-increments by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.OrdersPlaced, m.StockRejections, m.Transitions, m.AcceptConflicts,
			m.AgentMatches, m.HandlingAnomalies, m.ConsistencyFaults, m.Compensations,
		)
	}
	return m
}

func (m *Metrics) OrderPlaced() {
	if m != nil {
		m.OrdersPlaced.Inc()
	}
}

func (m *Metrics) StockRejected(reason string) {
	if m != nil {
		m.StockRejections.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Transitioned(to string) {
	if m != nil {
		m.Transitions.WithLabelValues(to).Inc()
	}
}

func (m *Metrics) AcceptConflict() {
	if m != nil {
		m.AcceptConflicts.Inc()
	}
}

// ObserveMatch records how an order was matched to an agent.
func (m *Metrics) ObserveMatch(matchedBy string) {
	if m != nil {
		m.AgentMatches.WithLabelValues(matchedBy).Inc()
	}
}

func (m *Metrics) HandlingAnomaly() {
	if m != nil {
		m.HandlingAnomalies.Inc()
	}
}

func (m *Metrics) ConsistencyFault() {
	if m != nil {
		m.ConsistencyFaults.Inc()
	}
}

func (m *Metrics) Compensation(outcome string) {
	if m != nil {
		m.Compensations.WithLabelValues(outcome).Inc()
	}
}
