package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordPrimaryWrite(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		accepted int
		rejected int
		err      error
	}{
		{"all accepted", 10 * time.Millisecond, 500, 0, nil},
		{"partial rejection", 15 * time.Millisecond, 480, 20, nil},
		{"write failure", 2 * time.Second, 0, 0, errors.New("connection refused")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			RecordPrimaryWrite(tt.duration, tt.accepted, tt.rejected, tt.err)
		})
	}
}

func TestRecordFallbackWrite(t *testing.T) {
	RecordFallbackWrite(5*time.Millisecond, 100, nil)
	RecordFallbackWrite(5*time.Millisecond, 0, errors.New("disk full"))
}

func TestRecordPermanentLoss(t *testing.T) {
	RecordPermanentLoss(42)
}

func TestSetHealthStatus(t *testing.T) {
	for _, status := range []string{"healthy", "degraded", "unhealthy", "unknown"} {
		t.Run(status, func(t *testing.T) {
			SetHealthStatus(status)
		})
	}
}

func TestSetCoordinatorMode(t *testing.T) {
	for _, mode := range []string{"dry_run", "fallback", "primary", "stopped"} {
		t.Run(mode, func(t *testing.T) {
			SetCoordinatorMode(mode)
		})
	}
}

func TestSetServerConnectionState(t *testing.T) {
	for _, state := range []string{"disconnected", "connecting", "connected", "reconnecting", "error"} {
		t.Run(state, func(t *testing.T) {
			SetServerConnectionState("srv-1", state)
		})
	}
}

func TestRecordCircuitBreakerTransition(t *testing.T) {
	RecordCircuitBreakerTransition("primary-sink", "closed", "open")
	RecordCircuitBreakerTransition("primary-sink", "open", "half-open")
	RecordCircuitBreakerTransition("primary-sink", "half-open", "closed")
}

func TestMetricLabels(t *testing.T) {
	QueueDepth.Set(100)
	QueueEnqueuedTotal.Add(1000)
	QueueDroppedTotal.Add(5)

	HealthProbeDuration.Observe(0.05)
	HealthProbeFailuresTotal.Inc()

	CoordinatorBatchSize.Observe(500)

	RecoveryRunsTotal.Inc()
	RecoveryFilesArchivedTotal.Inc()
	RecoverySamplesReplayedTotal.Add(200)
	RecoveryHaltsTotal.Inc()

	ServerReconnectsTotal.WithLabelValues("srv-1").Inc()
	ServerNotificationsTotal.WithLabelValues("srv-1").Add(10)
}

func TestConcurrentMetricRecording(t *testing.T) {
	var wg sync.WaitGroup
	numGoroutines := 50
	opsPerGoroutine := 50

	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < opsPerGoroutine; j++ {
				RecordPrimaryWrite(time.Millisecond, 10, 0, nil)
				RecordFallbackWrite(time.Millisecond, 10, nil)
				SetServerConnectionState("srv-1", "connected")
			}
		}()
	}
	wg.Wait()
}

func TestMetricsRegistration(t *testing.T) {
	collectors := []prometheus.Collector{
		QueueDepth,
		QueueEnqueuedTotal,
		QueueDroppedTotal,
		CircuitBreakerState,
		CircuitBreakerTransitionsTotal,
		HealthStatus,
		HealthProbeDuration,
		HealthProbeFailuresTotal,
		PrimaryWriteDuration,
		PrimaryWriteSamplesTotal,
		PrimaryWriteErrorsTotal,
		PrimaryWriteRejectedTotal,
		FallbackWriteDuration,
		FallbackWriteSamplesTotal,
		FallbackWriteErrorsTotal,
		PermanentLossTotal,
		CoordinatorMode,
		CoordinatorBatchSize,
		RecoveryRunsTotal,
		RecoveryFilesArchivedTotal,
		RecoverySamplesReplayedTotal,
		RecoveryHaltsTotal,
		ServerConnectionState,
		ServerReconnectsTotal,
		ServerNotificationsTotal,
	}

	for _, m := range collectors {
		ch := make(chan *prometheus.Desc, 10)
		m.Describe(ch)
		close(ch)

		count := 0
		for range ch {
			count++
		}
		if count == 0 {
			t.Errorf("metric has no descriptors")
		}
	}
}

func TestMetricGathering(t *testing.T) {
	RecordPrimaryWrite(time.Millisecond, 10, 0, nil)
	SetHealthStatus("healthy")

	problems, err := testutil.GatherAndLint(prometheus.DefaultGatherer)
	if err != nil {
		t.Logf("lint errors (may be expected): %v", err)
	}
	for _, p := range problems {
		t.Logf("metric lint problem: %s", p.Text)
	}
}

func BenchmarkRecordPrimaryWrite(b *testing.B) {
	for i := 0; i < b.N; i++ {
		RecordPrimaryWrite(10*time.Millisecond, 500, 0, nil)
	}
}

func BenchmarkSetServerConnectionState(b *testing.B) {
	for i := 0; i < b.N; i++ {
		SetServerConnectionState("srv-1", "connected")
	}
}
