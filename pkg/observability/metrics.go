package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics must be global for registration
var (
	// TicksTotal counts clock ticks handed to the tick dispatcher
	TicksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kpisim_ticks_total",
			Help: "Total number of simulation ticks dispatched",
		},
	)

	// TicksCoalesced counts ticks folded into a later tick because the queue was full
	TicksCoalesced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kpisim_ticks_coalesced_total",
			Help: "Total number of ticks coalesced into a later tick",
		},
	)

	// TickQueueDepth tracks ticks waiting for the dispatcher
	TickQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kpisim_tick_queue_depth",
			Help: "Number of ticks waiting to be processed",
		},
	)

	// TickDuration measures how long the work of one tick takes
	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kpisim_tick_duration_seconds",
			Help:    "Duration of the replay and aggregation work of one tick",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
	)

	// SimulatedTime is the simulated time of the last processed tick
	SimulatedTime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kpisim_simulated_time_seconds",
			Help: "Simulated time of the last processed tick (unix timestamp)",
		},
	)

	// SimulationSpeed is the current clock speed multiplier
	SimulationSpeed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kpisim_simulation_speed",
			Help: "Simulated seconds per real cadence",
		},
	)

	// ReplayRecords counts replayed records by outcome
	ReplayRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kpisim_replay_records_total",
			Help: "Total number of replayed records",
		},
		[]string{"source", "status"}, // status: written, failed
	)

	// ReplayBatchDuration measures the duration of one replay batch
	ReplayBatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kpisim_replay_batch_duration_seconds",
			Help:    "Duration of writing one replay batch",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"source"},
	)

	// KPIValue is the last computed ratio per period
	KPIValue = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kpisim_kpi_value",
			Help: "Last computed energy per production ratio (-1 when invalid)",
		},
		[]string{"period"},
	)

	// KPICalculations counts ratio calculations by result
	KPICalculations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kpisim_kpi_calculations_total",
			Help: "Total number of ratio calculations",
		},
		[]string{"period", "result"}, // result: valid, invalid, error
	)

	// Subscribers tracks connected subscribers
	Subscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kpisim_subscribers",
			Help: "Number of connected subscribers",
		},
	)

	// BroadcastMessages counts published broadcast messages
	BroadcastMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kpisim_broadcast_messages_total",
			Help: "Total number of published broadcast messages",
		},
	)

	// Commands counts received control commands
	Commands = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kpisim_commands_total",
			Help: "Total number of control commands received",
		},
		[]string{"type", "status"}, // status: ok, failed, rejected
	)

	// PoolConnections tracks storage pool connections by state
	PoolConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kpisim_storage_pool_connections",
			Help: "Storage pool connections by state",
		},
		[]string{"state"}, // state: open, in_use, idle
	)

	// PoolHeartbeats counts successful pool heartbeats
	PoolHeartbeats = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kpisim_storage_pool_heartbeats_total",
			Help: "Total number of successful storage pool heartbeats",
		},
	)

	// ErrorsTotal counts errors by component
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kpisim_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)

// RecordReplayBatch records the outcome of one replay batch
func RecordReplayBatch(source string, written, failed int, duration float64) {
	ReplayRecords.WithLabelValues(source, "written").Add(float64(written))
	ReplayRecords.WithLabelValues(source, "failed").Add(float64(failed))
	ReplayBatchDuration.WithLabelValues(source).Observe(duration)
}

// RecordKPI records a ratio calculation
func RecordKPI(period, result string, value float64) {
	KPICalculations.WithLabelValues(period, result).Inc()

	if result != "error" {
		KPIValue.WithLabelValues(period).Set(value)
	}
}

// RecordCommand records a control command
func RecordCommand(commandType, status string) {
	Commands.WithLabelValues(commandType, status).Inc()
}

// RecordPoolConnections records storage pool connection counts
func RecordPoolConnections(open, inUse, idle int) {
	PoolConnections.WithLabelValues("open").Set(float64(open))
	PoolConnections.WithLabelValues("in_use").Set(float64(inUse))
	PoolConnections.WithLabelValues("idle").Set(float64(idle))
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
