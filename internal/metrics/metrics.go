// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RiskChecks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autorebalance_risk_checks_total",
		Help: "Risk policy validations by rule and tier reached",
	}, []string{"rule", "tier"})

	OrderTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autorebalance_order_transitions_total",
		Help: "Order manager state transitions by target state",
	}, []string{"state"})

	OrderAdmissionsRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "autorebalance_order_admissions_rejected_total",
		Help: "Orders refused because the instrument already had an entry",
	})

	OrdersPlaced = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "autorebalance_orders_placed_total",
		Help: "Orders handed to the broker",
	})

	OrdersRetracted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "autorebalance_orders_retracted_total",
		Help: "Untransmitted orders cancelled before reaching the broker",
	})

	Iterations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autorebalance_iterations_total",
		Help: "Rebalance iterations by outcome (placed, idle, stale, infeasible, failed)",
	}, []string{"outcome"})

	MarginUtilization = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "autorebalance_margin_utilization",
		Help: "Margin utilization from the latest account summary",
	})

	Drawdown = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "autorebalance_effective_drawdown",
		Help: "Effective drawdown computed by the latest iteration",
	})

	WorkerHeartbeats = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autorebalance_worker_heartbeats_total",
		Help: "Completed worker iterations",
	}, []string{"worker"})
)

func init() {
	prometheus.MustRegister(
		RiskChecks, OrderTransitions, OrderAdmissionsRejected,
		OrdersPlaced, OrdersRetracted, Iterations,
		MarginUtilization, Drawdown, WorkerHeartbeats,
	)
}
