// Package metrics provides Prometheus instrumentation for the agent's
// acquisition and persistence pipeline, following the teacher's
// promauto-vector-per-concern convention.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingress Queue (C1) Metrics
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "daqagent_queue_depth",
			Help: "Current number of samples buffered in the ingress queue",
		},
	)

	QueueEnqueuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "daqagent_queue_enqueued_total",
			Help: "Total number of samples published to the ingress queue",
		},
	)

	QueueDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "daqagent_queue_dropped_total",
			Help: "Total number of samples evicted from the ingress queue because it was at capacity",
		},
	)

	// Circuit Breaker (C2) Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "daqagent_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daqagent_circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Health Monitor (C3) Metrics
	HealthStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "daqagent_health_status",
			Help: "Primary sink health classification (0=unknown, 1=healthy, 2=degraded, 3=unhealthy)",
		},
	)

	HealthProbeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "daqagent_health_probe_duration_seconds",
			Help:    "Duration of primary sink liveness probes",
			Buckets: prometheus.DefBuckets,
		},
	)

	HealthProbeFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "daqagent_health_probe_failures_total",
			Help: "Total number of failed liveness probes",
		},
	)

	// Primary Sink (C4) Metrics
	PrimaryWriteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "daqagent_primary_write_duration_seconds",
			Help:    "Duration of bulk writes to the primary store",
			Buckets: prometheus.DefBuckets,
		},
	)

	PrimaryWriteSamplesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "daqagent_primary_write_samples_total",
			Help: "Total number of samples successfully written to the primary store",
		},
	)

	PrimaryWriteErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "daqagent_primary_write_errors_total",
			Help: "Total number of primary store write attempts that failed outright",
		},
	)

	PrimaryWriteRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "daqagent_primary_write_rejected_total",
			Help: "Total number of individual documents rejected by the primary store during an otherwise successful bulk write",
		},
	)

	// Fallback Sink (C5) Metrics
	FallbackWriteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "daqagent_fallback_write_duration_seconds",
			Help:    "Duration of writes to the fallback JSONL sink",
			Buckets: prometheus.DefBuckets,
		},
	)

	FallbackWriteSamplesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "daqagent_fallback_write_samples_total",
			Help: "Total number of samples written to the fallback sink",
		},
	)

	FallbackWriteErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "daqagent_fallback_write_errors_total",
			Help: "Total number of fallback sink write failures",
		},
	)

	PermanentLossTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "daqagent_permanent_loss_total",
			Help: "Total number of samples dropped because both the primary and fallback sinks failed for the same batch",
		},
	)

	// Persistence Coordinator (C7) Metrics
	CoordinatorMode = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "daqagent_coordinator_mode",
			Help: "Current persistence mode (0=stopped, 1=dry_run, 2=fallback, 3=primary)",
		},
	)

	CoordinatorBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "daqagent_coordinator_batch_size",
			Help:    "Number of samples assembled per batch",
			Buckets: []float64{1, 10, 50, 100, 250, 500, 1000, 5000},
		},
	)

	// Recovery Worker (C6) Metrics
	RecoveryRunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "daqagent_recovery_runs_total",
			Help: "Total number of recovery passes started",
		},
	)

	RecoveryFilesArchivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "daqagent_recovery_files_archived_total",
			Help: "Total number of fallback files fully recovered and archived",
		},
	)

	RecoverySamplesReplayedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "daqagent_recovery_samples_replayed_total",
			Help: "Total number of samples replayed from the fallback sink into the primary store",
		},
	)

	RecoveryHaltsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "daqagent_recovery_halts_total",
			Help: "Total number of recovery passes halted mid-file by a health regression",
		},
	)

	// Server Session (C8) / Server Manager (C9) Metrics
	ServerConnectionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "daqagent_server_connection_state",
			Help: "Per-server OPC UA session state (0=disconnected, 1=connecting, 2=connected, 3=reconnecting, 4=error)",
		},
		[]string{"server_id"},
	)

	ServerReconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daqagent_server_reconnects_total",
			Help: "Total number of reconnect attempts per server",
		},
		[]string{"server_id"},
	)

	ServerNotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daqagent_server_notifications_total",
			Help: "Total number of monitored item notifications received per server",
		},
		[]string{"server_id"},
	)
)

// RecordPrimaryWrite records the outcome of one primary sink bulk write.
func RecordPrimaryWrite(duration time.Duration, accepted, rejected int, err error) {
	PrimaryWriteDuration.Observe(duration.Seconds())
	PrimaryWriteSamplesTotal.Add(float64(accepted))
	if rejected > 0 {
		PrimaryWriteRejectedTotal.Add(float64(rejected))
	}
	if err != nil {
		PrimaryWriteErrorsTotal.Inc()
	}
}

// RecordFallbackWrite records the outcome of one fallback sink write.
func RecordFallbackWrite(duration time.Duration, count int, err error) {
	FallbackWriteDuration.Observe(duration.Seconds())
	if err != nil {
		FallbackWriteErrorsTotal.Inc()
		return
	}
	FallbackWriteSamplesTotal.Add(float64(count))
}

// RecordPermanentLoss records count samples lost because both sinks failed
// for the same batch.
func RecordPermanentLoss(count int) {
	PermanentLossTotal.Add(float64(count))
}

// healthStatusValue maps a health classification name to its gauge value.
func healthStatusValue(status string) float64 {
	switch status {
	case "healthy":
		return 1
	case "degraded":
		return 2
	case "unhealthy":
		return 3
	default:
		return 0
	}
}

// SetHealthStatus updates the health status gauge from a classification name.
func SetHealthStatus(status string) {
	HealthStatus.Set(healthStatusValue(status))
}

// coordinatorModeValue maps a persistence mode name to its gauge value.
func coordinatorModeValue(mode string) float64 {
	switch mode {
	case "dry_run":
		return 1
	case "fallback":
		return 2
	case "primary":
		return 3
	default:
		return 0
	}
}

// SetCoordinatorMode updates the coordinator mode gauge from a mode name.
func SetCoordinatorMode(mode string) {
	CoordinatorMode.Set(coordinatorModeValue(mode))
}

// serverStateValue maps a session state name to its gauge value.
func serverStateValue(state string) float64 {
	switch state {
	case "connecting":
		return 1
	case "connected":
		return 2
	case "reconnecting":
		return 3
	case "error":
		return 4
	default:
		return 0
	}
}

// SetServerConnectionState updates the per-server connection state gauge.
func SetServerConnectionState(serverID, state string) {
	ServerConnectionState.WithLabelValues(serverID).Set(serverStateValue(state))
}

// breakerStateValue maps a circuit breaker state name to its gauge value.
func breakerStateValue(state string) float64 {
	switch state {
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}

// RecordCircuitBreakerTransition updates the breaker state gauge and
// increments the transition counter for a named breaker.
func RecordCircuitBreakerTransition(name, from, to string) {
	CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
	CircuitBreakerTransitionsTotal.WithLabelValues(name, from, to).Inc()
}
