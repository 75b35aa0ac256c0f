/*
Package metrics provides Prometheus metrics collection and export for the
agent's acquisition and persistence pipeline.

# Overview

The package provides metrics for:
  - Ingress queue depth and drop rate (C1)
  - Circuit breaker state transitions (C2)
  - Primary sink liveness classification (C3)
  - Primary sink bulk write performance (C4)
  - Fallback sink writes and permanent loss (C5)
  - Recovery pass progress (C6)
  - Persistence mode and batch size (C7)
  - Per-server OPC UA session state (C8/C9)

# Metrics Endpoint

All metrics are registered through promauto when the package is
initialised. This module starts no HTTP listener and serves no /metrics
endpoint.

# Available Metrics

Queue Metrics:
  - daqagent_queue_depth: current buffered samples (gauge)
  - daqagent_queue_enqueued_total: total samples published (counter)
  - daqagent_queue_dropped_total: total samples evicted at capacity (counter)

Circuit Breaker Metrics:
  - daqagent_circuit_breaker_state: 0=closed, 1=half-open, 2=open (gauge)
    Labels: name
  - daqagent_circuit_breaker_transitions_total (counter)
    Labels: name, from_state, to_state

Health Metrics:
  - daqagent_health_status: 0=unknown, 1=healthy, 2=degraded, 3=unhealthy (gauge)
  - daqagent_health_probe_duration_seconds (histogram)
  - daqagent_health_probe_failures_total (counter)

Primary Sink Metrics:
  - daqagent_primary_write_duration_seconds (histogram)
  - daqagent_primary_write_samples_total (counter)
  - daqagent_primary_write_errors_total (counter)
  - daqagent_primary_write_rejected_total (counter)

Fallback Sink Metrics:
  - daqagent_fallback_write_duration_seconds (histogram)
  - daqagent_fallback_write_samples_total (counter)
  - daqagent_fallback_write_errors_total (counter)
  - daqagent_permanent_loss_total (counter)

Coordinator Metrics:
  - daqagent_coordinator_mode: 0=stopped, 1=dry_run, 2=fallback, 3=primary (gauge)
  - daqagent_coordinator_batch_size (histogram)

Recovery Metrics:
  - daqagent_recovery_runs_total (counter)
  - daqagent_recovery_files_archived_total (counter)
  - daqagent_recovery_samples_replayed_total (counter)
  - daqagent_recovery_halts_total (counter)

Server Metrics:
  - daqagent_server_connection_state: per server_id, 0=disconnected..4=error (gauge)
  - daqagent_server_reconnects_total (counter)
    Labels: server_id
  - daqagent_server_notifications_total (counter)
    Labels: server_id

# Usage Example

	import (
	    "github.com/fieldpulse/daqagent/internal/metrics"
	    "github.com/prometheus/client_golang/prometheus/promhttp"
	)

	func main() {
	    http.Handle("/metrics", promhttp.Handler())

	    start := time.Now()
	    accepted, rejected, err := sink.Write(ctx, batch)
	    metrics.RecordPrimaryWrite(time.Since(start), accepted, rejected, err)
	}

# Prometheus Configuration

	scrape_configs:
	  - job_name: 'daqagent'
	    static_configs:
	      - targets: ['localhost:9090']
	    metrics_path: '/metrics'
	    scrape_interval: 15s

Example PromQL queries:

	# Queue drop rate
	rate(daqagent_queue_dropped_total[5m])

	# Primary write p95 latency
	histogram_quantile(0.95, rate(daqagent_primary_write_duration_seconds_bucket[5m]))

	# Samples currently stuck behind an open breaker
	daqagent_circuit_breaker_state{name="primary-sink"} > 0

# Thread Safety

All metric recording functions are thread-safe and designed for concurrent
use from multiple goroutines; the Prometheus client library handles
synchronization internally.

# Cardinality

Per-server labels (server_id, breaker name) are bounded by the number of
configured OPC UA servers, which is operator-controlled and small.

# See Also

  - github.com/prometheus/client_golang: underlying metrics library
*/
package metrics
