package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Election metrics
	ElectionsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasknode_elections_started_total",
			Help: "Total number of task elections started by this node as requestor",
		},
		[]string{"name", "pool"},
	)

	ElectionsWon = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasknode_elections_won_total",
			Help: "Total number of elections this node won as runner",
		},
		[]string{"name", "pool"},
	)

	ElectionTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasknode_election_timeouts_total",
			Help: "Total number of elections that timed out with no candidate",
		},
		[]string{"name", "pool"},
	)

	ElectionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tasknode_election_duration_seconds",
			Help:    "Time from task_start_query emission to a committed ack",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		},
		[]string{"name"},
	)

	// Task lifecycle metrics
	TasksRunning = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tasknode_tasks_running",
			Help: "Current number of tasks this node is running as runner",
		},
		[]string{"pool"},
	)

	TasksStopped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasknode_tasks_stopped_total",
			Help: "Total number of tasks observed stopped, by outcome",
		},
		[]string{"name", "outcome"}, // outcome: return, raise, no_result
	)

	TasksPruned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasknode_tasks_pruned_total",
			Help: "Total number of task records pruned by the housekeeper",
		},
		[]string{"pool"},
	)

	// Watcher / housekeeper metrics
	WatcherLoopDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tasknode_watcher_loop_duration_seconds",
			Help:    "Duration of a single watcher loop iteration",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
	)

	HousekeeperPruneBatch = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tasknode_housekeeper_prune_batch_size",
			Help:    "Number of task records pruned in a single housekeeper pass",
			Buckets: prometheus.LinearBuckets(0, 5, 10),
		},
	)

	// Bus metrics
	BusEmitErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasknode_bus_emit_errors_total",
			Help: "Total number of bus emit failures",
		},
		[]string{"topic"},
	)

	// Admin HTTP/WS metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tasknode_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasknode_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tasknode_websocket_connections",
			Help: "Current number of admin WebSocket connections",
		},
	)

	WebSocketMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasknode_websocket_messages_total",
			Help: "Total number of WebSocket messages broadcast",
		},
		[]string{"topic"},
	)
)

func RecordElectionStarted(name, pool string) {
	ElectionsStarted.WithLabelValues(name, pool).Inc()
}

func RecordElectionWon(name, pool string) {
	ElectionsWon.WithLabelValues(name, pool).Inc()
}

func RecordElectionTimeout(name, pool string) {
	ElectionTimeouts.WithLabelValues(name, pool).Inc()
}

func RecordElectionDuration(name string, seconds float64) {
	ElectionDuration.WithLabelValues(name).Observe(seconds)
}

func SetTasksRunning(pool string, count float64) {
	TasksRunning.WithLabelValues(pool).Set(count)
}

func RecordTaskStopped(name, outcome string) {
	TasksStopped.WithLabelValues(name, outcome).Inc()
}

func RecordTasksPruned(pool string, count float64) {
	TasksPruned.WithLabelValues(pool).Add(count)
}

func RecordWatcherLoop(seconds float64) {
	WatcherLoopDuration.Observe(seconds)
}

func RecordHousekeeperBatch(size float64) {
	HousekeeperPruneBatch.Observe(size)
}

func RecordBusEmitError(topic string) {
	BusEmitErrors.WithLabelValues(topic).Inc()
}

func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration)
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
}

func SetWebSocketConnections(count float64) {
	WebSocketConnections.Set(count)
}

func RecordWebSocketMessage(topic string) {
	WebSocketMessages.WithLabelValues(topic).Inc()
}
