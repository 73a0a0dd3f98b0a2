package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	Polls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polyanalytics_polls_total",
			Help: "Total number of trade-history poll cycles",
		},
		[]string{"status"}, // success, error
	)

	TradesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polyanalytics_trades_ingested_total",
			Help: "Trade records seen by the ingestion loop",
		},
		[]string{"status"}, // inserted, duplicate, dropped, error
	)

	PollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "polyanalytics_poll_duration_seconds",
			Help:    "Duration of one ingestion cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Alert metrics
	AlertsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polyanalytics_alerts_sent_total",
			Help: "Total number of whale alerts sent",
		},
		[]string{"status"}, // success, error
	)

	// API metrics
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polyanalytics_api_requests_total",
			Help: "Total number of upstream API requests",
		},
		[]string{"api", "endpoint", "status"}, // data/gamma, /trades, success/retry/error
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "polyanalytics_api_request_duration_seconds",
			Help:    "Duration of upstream API requests",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"api", "endpoint"},
	)

	GateWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "polyanalytics_api_gate_wait_seconds",
			Help:    "Time spent waiting for the outbound request gate",
			Buckets: []float64{0, .1, .5, 1, 2, 5, 10, 30},
		},
	)

	// Database metrics
	DatabaseQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polyanalytics_database_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "polyanalytics_database_query_duration_seconds",
			Help:    "Duration of database queries",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	// Analyzer metrics
	AnalyzerRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polyanalytics_analyzer_runs_total",
			Help: "Completed analyzer cycles",
		},
		[]string{"analyzer"}, // wallet, market
	)

	AnalyzerRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "polyanalytics_analyzer_run_duration_seconds",
			Help:    "Duration of analyzer cycles",
			Buckets: []float64{.1, 1, 5, 10, 30, 60, 120, 300, 900},
		},
		[]string{"analyzer"},
	)

	AnalyzerItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polyanalytics_analyzer_items_total",
			Help: "Wallets or markets handled by analyzers",
		},
		[]string{"analyzer", "status"}, // processed, skipped, error
	)

	OrphanedSellShares = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "polyanalytics_orphaned_sell_shares_total",
			Help: "Sold shares with no matching recorded buy",
		},
	)

	// Loop health
	LoopPanics = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polyanalytics_loop_panics_total",
			Help: "Panics recovered at a loop boundary",
		},
		[]string{"loop"},
	)

	// Realtime monitor
	WSConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "polyanalytics_ws_connected",
			Help: "1 while the market channel connection is up",
		},
	)

	WSReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "polyanalytics_ws_reconnects_total",
			Help: "Connection attempts after the first",
		},
	)

	WSMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polyanalytics_ws_messages_total",
			Help: "Market channel frames received",
		},
		[]string{"kind"}, // event, heartbeat, invalid
	)

	// System health
	HealthChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polyanalytics_health_checks_total",
			Help: "Total number of health check requests",
		},
		[]string{"status"},
	)
)

// RecordPoll records one ingestion cycle.
func RecordPoll(duration time.Duration, err error) {
	Polls.WithLabelValues(statusOf(err)).Inc()
	PollDuration.Observe(duration.Seconds())
}

// RecordAPIRequest records API request metrics
func RecordAPIRequest(api, endpoint string, duration time.Duration, status string) {
	APIRequests.WithLabelValues(api, endpoint, status).Inc()
	APIRequestDuration.WithLabelValues(api, endpoint).Observe(duration.Seconds())
}

// RecordDatabaseQuery records database query metrics
func RecordDatabaseQuery(operation string, duration time.Duration, err error) {
	DatabaseQueries.WithLabelValues(operation, statusOf(err)).Inc()
	DatabaseQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordAnalyzerRun records a finished analyzer cycle.
func RecordAnalyzerRun(analyzer string, duration time.Duration) {
	AnalyzerRuns.WithLabelValues(analyzer).Inc()
	AnalyzerRunDuration.WithLabelValues(analyzer).Observe(duration.Seconds())
}

// SetWSConnected flips the connection gauge.
func SetWSConnected(connected bool) {
	if connected {
		WSConnected.Set(1)
		return
	}
	WSConnected.Set(0)
}

// RecordHealthCheck records health check status
func RecordHealthCheck(healthy bool) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	HealthChecks.WithLabelValues(status).Inc()
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
