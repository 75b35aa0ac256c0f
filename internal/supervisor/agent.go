package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/fieldpulse/daqagent/internal/circuitbreaker"
	"github.com/fieldpulse/daqagent/internal/config"
	"github.com/fieldpulse/daqagent/internal/coordinator"
	"github.com/fieldpulse/daqagent/internal/fallbacksink"
	"github.com/fieldpulse/daqagent/internal/health"
	"github.com/fieldpulse/daqagent/internal/logging"
	"github.com/fieldpulse/daqagent/internal/opcua"
	"github.com/fieldpulse/daqagent/internal/primarysink"
	"github.com/fieldpulse/daqagent/internal/queue"
	"github.com/fieldpulse/daqagent/internal/recovery"
	"github.com/fieldpulse/daqagent/internal/supervisor/services"
)

// Agent wires C1-C9 into the C10 supervisor tree and exposes the control
// surface spec.md §6 names: start, stop, snapshot, forceMode.
type Agent struct {
	cfg config.Config

	tree *SupervisorTree

	queue       *queue.Queue
	breaker     *circuitbreaker.Breaker
	primary     *primarysink.Sink
	fallback    *fallbacksink.Sink
	healthMon   *health.Monitor
	coordinator *coordinator.Coordinator
	recoveryWkr *recovery.Worker
	manager     *opcua.Manager

	healthToken      suture.ServiceToken
	recoveryToken    suture.ServiceToken
	coordinatorToken suture.ServiceToken
	serverMgrToken   suture.ServiceToken

	mu        sync.Mutex
	running   bool
	startedAt time.Time
}

// NewAgent constructs an unstarted Agent. Call Start to bring the pipeline
// up.
func NewAgent() *Agent {
	return &Agent{}
}

// Start validates cfg, connects the primary store, bootstraps its indexes,
// and launches every component under a fresh supervisor tree. Start returns
// once every service has been registered; it does not block for the
// pipeline's lifetime — callers observe it via Snapshot or by waiting on
// Stop.
func (a *Agent) Start(ctx context.Context, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("agent: already running")
	}
	a.mu.Unlock()

	a.cfg = cfg
	a.queue = queue.New(cfg.Queue.Capacity)
	a.breaker = circuitbreaker.New(circuitbreaker.Config{
		Name:             "primary-sink",
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		Cooldown:         cfg.CircuitBreaker.Cooldown,
	})

	primary, err := primarysink.Connect(ctx, primarysink.Config{
		ConnectionURI: cfg.Primary.ConnectionURI,
		Database:      cfg.Primary.Database,
		Collection:    cfg.Primary.Collection,
		WriteTimeout:  cfg.Primary.WriteTimeout,
		TTLDays:       cfg.Primary.TTLDays,
	}, a.breaker)
	if err != nil {
		return fmt.Errorf("connect primary store: %w", err)
	}
	if err := primary.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("bootstrap primary store indexes: %w", err)
	}
	a.primary = primary

	fallback, err := fallbacksink.New(cfg.Fallback.Directory)
	if err != nil {
		return fmt.Errorf("open fallback sink: %w", err)
	}
	a.fallback = fallback

	// coordRef is filled in once the coordinator exists, letting the health
	// monitor's onChange closure reach it without a construction-order cycle
	// (the monitor must exist before the recovery worker, which must exist
	// before the coordinator's recovery trigger).
	var coordRef *coordinator.Coordinator
	a.healthMon = health.New(primary, health.Config{
		Interval:                 cfg.Health.Interval,
		ProbeTimeout:             cfg.Health.ProbeTimeout,
		LatencyDegradedThreshold: cfg.Health.LatencyDegradedThreshold,
		FailureThreshold:         cfg.Health.FailureThreshold,
	}, func(ev health.Event) {
		if coordRef != nil {
			coordRef.OnHealthEvent(ev)
		}
	})

	a.recoveryWkr = recovery.New(fallback, primary, a.healthMon, cfg.Coordinator.BatchSize)

	a.coordinator = coordinator.New(a.queue, primary, fallback, coordinator.Config{
		BatchSize:    cfg.Coordinator.BatchSize,
		BatchTimeout: cfg.Coordinator.BatchTimeout,
	}, func(triggerCtx context.Context) {
		if err := a.recoveryWkr.Start(triggerCtx); err != nil {
			logging.Warn().Err(err).Msg("agent: failed to start recovery pass")
		}
	})
	coordRef = a.coordinator

	if cfg.Manual.ForceFallback {
		a.coordinator.SetForceFallback(true)
	}
	if cfg.Manual.ForceDryRun {
		a.coordinator.SetForceDryRun(true)
	}

	a.manager = opcua.NewManager(a.queue, nil)

	tree, err := NewSupervisorTree(logging.NewSlogLogger(), DefaultTreeConfig())
	if err != nil {
		return fmt.Errorf("build supervisor tree: %w", err)
	}
	a.tree = tree

	a.healthToken = tree.AddPersistenceService(services.NewHealthService(a.healthMon))
	a.recoveryToken = tree.AddPersistenceService(services.NewRecoveryService(a.recoveryWkr))
	a.coordinatorToken = tree.AddPersistenceService(services.NewCoordinatorService(a.coordinator))
	a.serverMgrToken = tree.AddAcquisitionService(services.NewServerManagerService(
		func(connectCtx context.Context) error { return a.manager.ConnectAll(connectCtx, cfg.Servers) },
		a.manager.DisconnectAll,
	))

	tree.ServeBackground(ctx)

	a.mu.Lock()
	a.running = true
	a.startedAt = time.Now()
	a.mu.Unlock()

	logging.Info().Int("server_count", len(cfg.Servers)).Msg("agent: started")
	return nil
}

// Stop tears the pipeline down in the order spec.md §4.10 names: C3, C6,
// C7, C9, then closes C1. Removing C7 from the tree already blocks until
// Run returns, which is after its shutdown drain completes — that
// RemoveAndWait call is this Stop's "await C7's drain" step.
func (a *Agent) Stop(timeout time.Duration) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	if err := a.tree.RemoveAndWait(a.healthToken, timeout); err != nil {
		logging.Warn().Err(err).Msg("agent: health monitor did not stop cleanly")
	}
	if err := a.tree.RemoveAndWait(a.recoveryToken, timeout); err != nil {
		logging.Warn().Err(err).Msg("agent: recovery worker did not stop cleanly")
	}
	if err := a.tree.RemoveAndWait(a.coordinatorToken, timeout); err != nil {
		logging.Warn().Err(err).Msg("agent: coordinator did not stop cleanly")
	}
	if err := a.tree.RemoveAndWait(a.serverMgrToken, timeout); err != nil {
		logging.Warn().Err(err).Msg("agent: server manager did not stop cleanly")
	}

	a.queue.Close()

	closeCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := a.primary.Close(closeCtx); err != nil {
		logging.Warn().Err(err).Msg("agent: error closing primary store connection")
	}

	logging.Info().Msg("agent: stopped")
	return nil
}

// ForceMode implements spec.md §6's forceMode(mode) control surface.
// Recognized modes: "fallback", "dry_run", "auto" (clears any override and
// returns to health-driven selection).
func (a *Agent) ForceMode(mode string) error {
	switch mode {
	case "fallback":
		a.coordinator.SetForceDryRun(false)
		a.coordinator.SetForceFallback(true)
	case "dry_run":
		a.coordinator.SetForceFallback(false)
		a.coordinator.SetForceDryRun(true)
	case "auto":
		a.coordinator.SetForceFallback(false)
		a.coordinator.SetForceDryRun(false)
	default:
		return fmt.Errorf("agent: unrecognized mode %q", mode)
	}
	return nil
}

// ServerSnapshot reports one configured server's current runtime state.
type ServerSnapshot struct {
	ID    string
	State opcua.State
	Stats opcua.Stats
}

// Snapshot is the aggregated runtime state spec.md §6 requires: per-server
// states, queue depth, drops, active sink, health, persistence mode,
// totals, rate.
type Snapshot struct {
	Servers          []ServerSnapshot
	QueueDepth       int
	QueueEnqueued    int64
	QueueDropped     int64
	Health           health.Status
	PersistenceMode  coordinator.Mode
	CircuitState     circuitbreaker.State
	SamplesPerSecond float64
	UptimeSeconds    float64
}

// Snapshot returns a point-in-time view of the running pipeline.
func (a *Agent) Snapshot() Snapshot {
	a.mu.Lock()
	startedAt := a.startedAt
	a.mu.Unlock()

	qs := a.queue.Stats()
	uptime := time.Since(startedAt).Seconds()

	var rate float64
	if uptime > 0 {
		rate = float64(qs.Enqueued) / uptime
	}

	states := a.manager.States()
	servers := make([]ServerSnapshot, 0, len(states))
	for id, st := range states {
		sess, ok := a.manager.Session(id)
		var stats opcua.Stats
		if ok {
			stats = sess.Stats()
		}
		servers = append(servers, ServerSnapshot{ID: id, State: st, Stats: stats})
	}

	return Snapshot{
		Servers:          servers,
		QueueDepth:       qs.Depth,
		QueueEnqueued:    qs.Enqueued,
		QueueDropped:     qs.Dropped,
		Health:           a.healthMon.Status(),
		PersistenceMode:  a.coordinator.Mode(),
		CircuitState:     a.breaker.State(),
		SamplesPerSecond: rate,
		UptimeSeconds:    uptime,
	}
}
