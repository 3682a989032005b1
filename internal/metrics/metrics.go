// Package metrics declares the Prometheus collectors shared by the engine,
// guardian and ledger. Collectors register with the default registry on
// import and are exposed by the HTTP server at /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	OrdersSubmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "basisbot_orders_submitted_total",
		Help: "Order submissions by leg and side, including retries",
	}, []string{"leg", "side"})
	OrderFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "basisbot_order_failures_total",
		Help: "Orders that ended as a zero fill, by reason",
	}, []string{"leg", "reason"})
	OrderRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "basisbot_order_retries_total",
		Help: "Retries after transient venue errors",
	})
	Entries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "basisbot_entries_total",
		Help: "Entry attempts by outcome (opened, netted, leg_risk, rolled_back, aborted)",
	}, []string{"outcome"})
	Exits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "basisbot_exits_total",
		Help: "Exit attempts by outcome (closed, partial)",
	}, []string{"outcome"})
	ExitTriggers = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "basisbot_exit_triggers_total",
		Help: "Guardian exit triggers by reason",
	}, []string{"reason"})
	Deleverages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "basisbot_deleverages_total",
		Help: "Partial reductions issued by the guardian",
	})
	StuckAlerts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "basisbot_stuck_alerts_total",
		Help: "Operator alerts raised for positions that keep failing to close",
	})
	GuardianCycles = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "basisbot_guardian_cycles_total",
		Help: "Completed guardian evaluation cycles",
	})
	OpenPositions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "basisbot_open_positions",
		Help: "Non-terminal positions seen in the last guardian cycle",
	})
	MarginUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "basisbot_margin_usage_ratio",
		Help: "margin_used / account_value from the last account query",
	})
	LedgerCash = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "basisbot_ledger_cash",
		Help: "Virtual ledger cash balance",
	})
	FundingSettlements = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "basisbot_ledger_funding_settlements_total",
		Help: "Hourly funding settlements applied by the virtual ledger",
	})
	AlertsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "basisbot_alerts_sent_total",
		Help: "Operator alerts by sender and result (ok, error)",
	}, []string{"sender", "result"})
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "basisbot_http_requests_total",
		Help: "Status API requests by method and status code",
	}, []string{"method", "code"})
)

func init() {
	prometheus.MustRegister(
		OrdersSubmitted, OrderFailures, OrderRetries,
		Entries, Exits, ExitTriggers, Deleverages, StuckAlerts,
		GuardianCycles, OpenPositions, MarginUsage,
		LedgerCash, FundingSettlements,
		AlertsSent, HTTPRequests,
	)
}
