package autotrade

import "github.com/prometheus/client_golang/prometheus"

// Metrics are registered with the default registry in init() and served at
// /metrics by the status API.
var (
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "autotrade_sessions_active",
			Help: "Sessions currently running",
		},
	)

	sessionsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autotrade_sessions_started_total",
			Help: "Sessions started",
		},
		[]string{"mode"},
	)

	sessionsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autotrade_sessions_finished_total",
			Help: "Sessions stopped, by mode",
		},
		[]string{"mode"},
	)

	ticksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autotrade_ticks_total",
			Help: "Session ticks by outcome",
		},
		[]string{"result"}, // ok|skipped
	)

	positionsOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autotrade_positions_opened_total",
			Help: "Simulated positions opened",
		},
		[]string{"mode"},
	)

	positionsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autotrade_positions_closed_total",
			Help: "Simulated positions closed, split by reason",
		},
		[]string{"mode", "reason"},
	)

	guaranteeTopUps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autotrade_guarantee_top_up_total",
			Help: "Profit added at stop to reach the guaranteed floor",
		},
		[]string{"mode"},
	)

	convergenceAdjustments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autotrade_convergence_adjustments_total",
			Help: "Ticks that lifted open positions towards the floor",
		},
		[]string{"mode"},
	)

	oracleFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "autotrade_oracle_failures_total",
			Help: "Quote lookups that failed inside a session",
		},
	)

	persistFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "autotrade_persist_failures_total",
			Help: "Snapshot writes that failed",
		},
	)

	notifyFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "autotrade_notify_failures_total",
			Help: "Notifications that could not be delivered",
		},
	)
)

func init() {
	prometheus.MustRegister(
		sessionsActive,
		sessionsStarted,
		sessionsFinished,
		ticksTotal,
		positionsOpened,
		positionsClosed,
		guaranteeTopUps,
		convergenceAdjustments,
		oracleFailures,
		persistFailures,
		notifyFailures,
	)
}
